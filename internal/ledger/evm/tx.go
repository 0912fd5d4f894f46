package evm

import (
	"context"
	"errors"
	"fmt"
	"log/slog"
	"math/big"
	"time"

	"github.com/ethereum/go-ethereum"
	"github.com/ethereum/go-ethereum/common"
	"github.com/ethereum/go-ethereum/core/types"

	"github.com/ayush101098/nexxore/internal/domain"
)

const receiptPollInterval = 2 * time.Second

// sendTx packs a vault manager call and submits it via sendContractTx.
func (c *Client) sendTx(ctx context.Context, method string, args ...any) (string, *types.Receipt, error) {
	data, err := c.vaultABI.Pack(method, args...)
	if err != nil {
		return "", nil, fmt.Errorf("evm: pack %s: %w", method, err)
	}
	return c.sendContractTx(ctx, c.vaultAddr, data, method)
}

// sendContractTx signs and submits a state-changing call against the given
// contract and waits for its receipt. A mined-but-reverted transaction is an
// error.
func (c *Client) sendContractTx(ctx context.Context, to common.Address, data []byte, method string) (string, *types.Receipt, error) {
	from := c.signer.Address()
	nonce, err := c.eth.PendingNonceAt(ctx, from)
	if err != nil {
		return "", nil, fmt.Errorf("evm: pending nonce: %w", err)
	}

	tipCap, err := c.eth.SuggestGasTipCap(ctx)
	if err != nil {
		return "", nil, fmt.Errorf("evm: suggest tip cap: %w", err)
	}
	head, err := c.eth.HeaderByNumber(ctx, nil)
	if err != nil {
		return "", nil, fmt.Errorf("evm: latest header: %w", err)
	}
	// feeCap = tip + 2*baseFee tolerates two consecutive max base-fee bumps.
	feeCap := new(big.Int).Add(tipCap, new(big.Int).Mul(head.BaseFee, big.NewInt(2)))

	gas, err := c.eth.EstimateGas(ctx, ethereum.CallMsg{
		From: from,
		To:   &to,
		Data: data,
	})
	if err != nil {
		return "", nil, fmt.Errorf("evm: estimate gas for %s: %w", method, err)
	}
	gas = gas + gas/5 // 20% headroom

	tx := types.NewTx(&types.DynamicFeeTx{
		ChainID:   c.signer.ChainID(),
		Nonce:     nonce,
		GasTipCap: tipCap,
		GasFeeCap: feeCap,
		Gas:       gas,
		To:        &to,
		Data:      data,
	})

	signed, err := c.signer.SignTx(tx)
	if err != nil {
		return "", nil, fmt.Errorf("evm: sign %s: %w", method, err)
	}
	raw, err := signed.MarshalBinary()
	if err != nil {
		return "", nil, fmt.Errorf("evm: encode %s: %w", method, err)
	}

	if c.submitter == nil {
		return "", nil, fmt.Errorf("evm: %s: no submitter wired", method)
	}
	txHash, err := c.submitter.Submit(ctx, raw)
	if err != nil {
		return "", nil, fmt.Errorf("evm: submit %s: %w", method, err)
	}

	c.logger.InfoContext(ctx, "transaction submitted",
		slog.String("method", method),
		slog.String("tx_hash", txHash),
		slog.Uint64("nonce", nonce),
	)

	receipt, err := c.waitReceipt(ctx, common.HexToHash(txHash))
	if err != nil {
		return txHash, nil, err
	}
	if receipt.Status != types.ReceiptStatusSuccessful {
		return txHash, receipt, fmt.Errorf("evm: %s reverted in tx %s", method, txHash)
	}
	return txHash, receipt, nil
}

// waitReceipt polls for the transaction receipt until it lands or the
// timeout expires.
func (c *Client) waitReceipt(ctx context.Context, txHash common.Hash) (*types.Receipt, error) {
	ctx, cancel := context.WithTimeout(ctx, c.receiptTimeout)
	defer cancel()

	ticker := time.NewTicker(receiptPollInterval)
	defer ticker.Stop()

	for {
		receipt, err := c.eth.TransactionReceipt(ctx, txHash)
		if err == nil {
			return receipt, nil
		}
		if !errors.Is(err, ethereum.NotFound) {
			return nil, fmt.Errorf("evm: receipt for %s: %w", txHash.Hex(), err)
		}

		select {
		case <-ctx.Done():
			return nil, fmt.Errorf("evm: receipt for %s: %w", txHash.Hex(), ctx.Err())
		case <-ticker.C:
		}
	}
}

// ProposeRebalance submits a rebalance proposal and extracts the assigned
// proposal ID from the RebalanceProposed event in the receipt.
func (c *Client) ProposeRebalance(ctx context.Context, fromStrategy, toStrategy string, amount float64) (int64, string, error) {
	fromAddr, err := c.strategyAddress(fromStrategy)
	if err != nil {
		return 0, "", err
	}
	toAddr, err := c.strategyAddress(toStrategy)
	if err != nil {
		return 0, "", err
	}

	txHash, receipt, err := c.sendTx(ctx, "proposeRebalance", fromAddr, toAddr, c.usdToUnits(amount))
	if err != nil {
		return 0, txHash, err
	}

	proposalID, err := c.proposalIDFromReceipt(receipt)
	if err != nil {
		return 0, txHash, err
	}
	return proposalID, txHash, nil
}

// proposalIDFromReceipt finds the RebalanceProposed log emitted by the vault
// and returns its indexed proposal ID.
func (c *Client) proposalIDFromReceipt(receipt *types.Receipt) (int64, error) {
	event := c.vaultABI.Events["RebalanceProposed"]
	for _, log := range receipt.Logs {
		if log.Address != c.vaultAddr || len(log.Topics) < 2 {
			continue
		}
		if log.Topics[0] != event.ID {
			continue
		}
		return new(big.Int).SetBytes(log.Topics[1].Bytes()).Int64(), nil
	}
	return 0, fmt.Errorf("evm: tx %s: no RebalanceProposed event in receipt", receipt.TxHash.Hex())
}

// ExecuteRebalance executes a previously proposed rebalance by its on-chain ID.
func (c *Client) ExecuteRebalance(ctx context.Context, proposalID int64) (string, error) {
	txHash, _, err := c.sendTx(ctx, "executeRebalance", big.NewInt(proposalID))
	return txHash, err
}

// UpdateRiskMetrics writes the component risk scores to the risk oracle
// contract configured with WithRiskOracle.
func (c *Client) UpdateRiskMetrics(ctx context.Context, a domain.RiskAnalysis) (string, error) {
	if c.oracleAddr == nil {
		return "", fmt.Errorf("evm: updateRiskMetrics: no risk oracle configured")
	}
	data, err := c.oracleABI.Pack("updateRiskMetrics",
		big.NewInt(a.ProtocolRisk),
		big.NewInt(a.LiquidityRisk),
		big.NewInt(a.UtilizationRisk),
		big.NewInt(a.GovernanceRisk),
		big.NewInt(a.OracleRisk),
	)
	if err != nil {
		return "", fmt.Errorf("evm: pack updateRiskMetrics: %w", err)
	}
	txHash, _, err := c.sendContractTx(ctx, *c.oracleAddr, data, "updateRiskMetrics")
	return txHash, err
}

// EmergencyUnwind withdraws everything from a single strategy. The reason is
// recorded on-chain for the audit trail.
func (c *Client) EmergencyUnwind(ctx context.Context, strategyID, reason string) (string, error) {
	addr, err := c.strategyAddress(strategyID)
	if err != nil {
		return "", err
	}
	txHash, _, err := c.sendTx(ctx, "emergencyUnwind", addr, reason)
	return txHash, err
}
