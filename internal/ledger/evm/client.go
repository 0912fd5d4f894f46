// Package evm implements the allocation ledger port against an EVM vault
// manager contract. Reads go through eth_call; writes are built as EIP-1559
// transactions, signed locally, and handed to the submission channel.
package evm

import (
	"context"
	"fmt"
	"log/slog"
	"math/big"
	"time"

	"github.com/ethereum/go-ethereum"
	"github.com/ethereum/go-ethereum/accounts/abi"
	"github.com/ethereum/go-ethereum/common"
	"github.com/ethereum/go-ethereum/core/types"
	"github.com/ethereum/go-ethereum/ethclient"

	"github.com/ayush101098/nexxore/internal/crypto"
	"github.com/ayush101098/nexxore/internal/domain"
	"github.com/ayush101098/nexxore/internal/yields"
)

// StrategyMeta carries off-chain metadata for a registered strategy: the
// display name and the yields pool identifier used for APY enrichment.
type StrategyMeta struct {
	Name      string
	YieldPool string
}

// Client reads and writes the vault manager contract. It implements
// domain.AllocationLedger.
type Client struct {
	eth        *ethclient.Client
	vaultAddr  common.Address
	vaultABI   abi.ABI
	oracleAddr *common.Address
	oracleABI  abi.ABI
	signer     *crypto.Signer
	submitter  domain.Submitter
	apySource  yields.Source
	strategies map[common.Address]StrategyMeta
	// assetScale converts between on-chain base units and USD amounts,
	// e.g. 1e6 for a 6-decimal stablecoin vault.
	assetScale     *big.Float
	receiptTimeout time.Duration
	logger         *slog.Logger
}

// NewClient dials the RPC endpoint and prepares the contract bindings.
// strategies maps strategy addresses to their off-chain metadata; strategies
// the contract reports but the map omits keep their address as the name and
// skip APY enrichment. The submission channel is wired afterwards with
// WithSubmitter because the submitter uses the client as its public fallback
// sender.
func NewClient(
	ctx context.Context,
	rpcURL string,
	vaultAddr string,
	assetDecimals int,
	signer *crypto.Signer,
	apySource yields.Source,
	strategies map[string]StrategyMeta,
	logger *slog.Logger,
) (*Client, error) {
	eth, err := ethclient.DialContext(ctx, rpcURL)
	if err != nil {
		return nil, fmt.Errorf("evm: dial %s: %w", rpcURL, err)
	}

	parsed, err := parseVaultABI()
	if err != nil {
		eth.Close()
		return nil, err
	}
	oracleParsed, err := parseRiskOracleABI()
	if err != nil {
		eth.Close()
		return nil, err
	}

	if !common.IsHexAddress(vaultAddr) {
		eth.Close()
		return nil, fmt.Errorf("evm: invalid vault address %q", vaultAddr)
	}

	byAddr := make(map[common.Address]StrategyMeta, len(strategies))
	for addr, meta := range strategies {
		if !common.IsHexAddress(addr) {
			eth.Close()
			return nil, fmt.Errorf("evm: invalid strategy address %q", addr)
		}
		byAddr[common.HexToAddress(addr)] = meta
	}

	scale := new(big.Float).SetInt(new(big.Int).Exp(big.NewInt(10), big.NewInt(int64(assetDecimals)), nil))

	return &Client{
		eth:            eth,
		vaultAddr:      common.HexToAddress(vaultAddr),
		vaultABI:       parsed,
		oracleABI:      oracleParsed,
		signer:         signer,
		apySource:      apySource,
		strategies:     byAddr,
		assetScale:     scale,
		receiptTimeout: 2 * time.Minute,
		logger:         logger.With(slog.String("component", "ledger")),
	}, nil
}

// WithSubmitter wires the transaction submission channel and returns the
// client for chaining.
func (c *Client) WithSubmitter(s domain.Submitter) *Client {
	c.submitter = s
	return c
}

// WithRiskOracle sets the risk oracle contract address, enabling
// UpdateRiskMetrics.
func (c *Client) WithRiskOracle(addr string) (*Client, error) {
	if !common.IsHexAddress(addr) {
		return nil, fmt.Errorf("evm: invalid risk oracle address %q", addr)
	}
	a := common.HexToAddress(addr)
	c.oracleAddr = &a
	return c, nil
}

// Close releases the underlying RPC connection.
func (c *Client) Close() {
	c.eth.Close()
}

// BlockNumber returns the latest block number. Used by the submission
// channel to bound private transaction validity.
func (c *Client) BlockNumber(ctx context.Context) (uint64, error) {
	return c.eth.BlockNumber(ctx)
}

// SendRawTransaction broadcasts a raw signed transaction to the public
// mempool. This is the submission channel's fallback path.
func (c *Client) SendRawTransaction(ctx context.Context, rawTx []byte) (string, error) {
	var tx types.Transaction
	if err := tx.UnmarshalBinary(rawTx); err != nil {
		return "", fmt.Errorf("evm: decode raw tx: %w", err)
	}
	if err := c.eth.SendTransaction(ctx, &tx); err != nil {
		return "", fmt.Errorf("evm: send transaction: %w", err)
	}
	return tx.Hash().Hex(), nil
}

// call performs a read-only contract call and unpacks the outputs.
func (c *Client) call(ctx context.Context, method string, args ...any) ([]any, error) {
	data, err := c.vaultABI.Pack(method, args...)
	if err != nil {
		return nil, fmt.Errorf("evm: pack %s: %w", method, err)
	}
	out, err := c.eth.CallContract(ctx, ethereum.CallMsg{To: &c.vaultAddr, Data: data}, nil)
	if err != nil {
		return nil, fmt.Errorf("evm: call %s: %w", method, err)
	}
	vals, err := c.vaultABI.Unpack(method, out)
	if err != nil {
		return nil, fmt.Errorf("evm: unpack %s: %w", method, err)
	}
	return vals, nil
}

// ReadSnapshot fetches the full allocation state and enriches it with
// off-chain APY figures. The snapshot is validated before return; a snapshot
// that fails validation aborts the cycle rather than feeding downstream
// stages bad data.
func (c *Client) ReadSnapshot(ctx context.Context) (domain.AllocationSnapshot, error) {
	tvlOut, err := c.call(ctx, "totalAssets")
	if err != nil {
		return domain.AllocationSnapshot{}, err
	}
	idleOut, err := c.call(ctx, "idleBufferBps")
	if err != nil {
		return domain.AllocationSnapshot{}, err
	}
	lastOut, err := c.call(ctx, "lastRebalanceTime")
	if err != nil {
		return domain.AllocationSnapshot{}, err
	}
	stratOut, err := c.call(ctx, "getStrategies")
	if err != nil {
		return domain.AllocationSnapshot{}, err
	}

	tvl, err := asBigInt(tvlOut, 0)
	if err != nil {
		return domain.AllocationSnapshot{}, fmt.Errorf("evm: totalAssets: %w", err)
	}
	idle, err := asBigInt(idleOut, 0)
	if err != nil {
		return domain.AllocationSnapshot{}, fmt.Errorf("evm: idleBufferBps: %w", err)
	}
	lastRebalance, err := asBigInt(lastOut, 0)
	if err != nil {
		return domain.AllocationSnapshot{}, fmt.Errorf("evm: lastRebalanceTime: %w", err)
	}

	if len(stratOut) != 6 {
		return domain.AllocationSnapshot{}, fmt.Errorf("evm: getStrategies: expected 6 outputs, got %d", len(stratOut))
	}
	addrs, ok := stratOut[0].([]common.Address)
	if !ok {
		return domain.AllocationSnapshot{}, fmt.Errorf("evm: getStrategies: unexpected addrs type %T", stratOut[0])
	}
	columns := make([][]*big.Int, 5)
	for i := 1; i < 6; i++ {
		col, ok := stratOut[i].([]*big.Int)
		if !ok {
			return domain.AllocationSnapshot{}, fmt.Errorf("evm: getStrategies: unexpected column type %T at %d", stratOut[i], i)
		}
		if len(col) != len(addrs) {
			return domain.AllocationSnapshot{}, fmt.Errorf("evm: getStrategies: column %d length %d != %d strategies", i, len(col), len(addrs))
		}
		columns[i-1] = col
	}

	allocations := make([]domain.StrategyAllocation, 0, len(addrs))
	for i, addr := range addrs {
		meta := c.strategies[addr]
		alloc := domain.StrategyAllocation{
			ID:             addr.Hex(),
			Address:        addr.Hex(),
			Name:           meta.Name,
			CurrentBps:     columns[0][i].Int64(),
			TargetBps:      columns[1][i].Int64(),
			MaxBps:         columns[2][i].Int64(),
			TotalDeposited: c.unitsToUSD(columns[3][i]),
			Utilization:    float64(columns[4][i].Int64()) / domain.BasisPoints,
		}
		if alloc.Name == "" {
			alloc.Name = addr.Hex()
		}
		if meta.YieldPool != "" {
			apy, err := c.apySource.StrategyAPY(ctx, meta.YieldPool)
			if err != nil {
				c.logger.WarnContext(ctx, "apy lookup failed, using zero",
					slog.String("strategy", alloc.Name),
					slog.String("pool", meta.YieldPool),
					slog.String("error", err.Error()),
				)
			} else {
				alloc.CurrentAPY = apy
			}
		}
		allocations = append(allocations, alloc)
	}

	snap := domain.AllocationSnapshot{
		TVL:               c.unitsToUSD(tvl),
		Allocations:       allocations,
		IdleBufferBps:     idle.Int64(),
		LastRebalanceTime: time.Unix(lastRebalance.Int64(), 0).UTC(),
		FetchedAt:         time.Now().UTC(),
	}
	if err := snap.Validate(); err != nil {
		return domain.AllocationSnapshot{}, fmt.Errorf("evm: %w", err)
	}
	return snap, nil
}

// unitsToUSD converts on-chain base units to a USD float.
func (c *Client) unitsToUSD(units *big.Int) float64 {
	f := new(big.Float).SetInt(units)
	f.Quo(f, c.assetScale)
	usd, _ := f.Float64()
	return usd
}

// usdToUnits converts a USD amount to on-chain base units, truncating any
// sub-unit remainder.
func (c *Client) usdToUnits(usd float64) *big.Int {
	f := new(big.Float).SetFloat64(usd)
	f.Mul(f, c.assetScale)
	units, _ := f.Int(nil)
	return units
}

// strategyAddress resolves a domain strategy ID back to its address.
func (c *Client) strategyAddress(strategyID string) (common.Address, error) {
	if !common.IsHexAddress(strategyID) {
		return common.Address{}, fmt.Errorf("evm: %w: %q", domain.ErrStrategyUnknown, strategyID)
	}
	return common.HexToAddress(strategyID), nil
}

// asBigInt extracts output i as a *big.Int.
func asBigInt(out []any, i int) (*big.Int, error) {
	if i >= len(out) {
		return nil, fmt.Errorf("output index %d out of range", i)
	}
	v, ok := out[i].(*big.Int)
	if !ok {
		return nil, fmt.Errorf("unexpected output type %T", out[i])
	}
	return v, nil
}

// Compile-time interface checks.
var (
	_ domain.AllocationLedger = (*Client)(nil)
	_ domain.RiskOracle       = (*Client)(nil)
)
