package evm

import (
	"context"
	"math/big"
	"testing"

	"github.com/ethereum/go-ethereum/common"
	"github.com/ethereum/go-ethereum/core/types"
	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"

	"github.com/ayush101098/nexxore/internal/domain"
)

func TestParseVaultABI(t *testing.T) {
	parsed, err := parseVaultABI()
	require.NoError(t, err)

	for _, method := range []string{"totalAssets", "getStrategies", "proposeRebalance", "executeRebalance", "emergencyUnwind"} {
		_, ok := parsed.Methods[method]
		assert.True(t, ok, "method %s missing", method)
	}
	_, ok := parsed.Events["RebalanceProposed"]
	assert.True(t, ok)
}

func TestParseRiskOracleABI(t *testing.T) {
	parsed, err := parseRiskOracleABI()
	require.NoError(t, err)

	data, err := parsed.Pack("updateRiskMetrics",
		big.NewInt(2500), big.NewInt(3000), big.NewInt(1500), big.NewInt(1000), big.NewInt(2000))
	require.NoError(t, err)
	// 4-byte selector plus five uint256 words.
	assert.Len(t, data, 4+5*32)
}

func TestUpdateRiskMetricsRequiresOracle(t *testing.T) {
	parsed, err := parseRiskOracleABI()
	require.NoError(t, err)

	c := &Client{oracleABI: parsed}
	_, err = c.UpdateRiskMetrics(context.Background(), domain.RiskAnalysis{})
	require.Error(t, err)
	assert.Contains(t, err.Error(), "no risk oracle configured")
}

func TestAmountConversionRoundTrip(t *testing.T) {
	c := &Client{assetScale: big.NewFloat(1e6)}

	units := c.usdToUnits(1_500_000.25)
	assert.Equal(t, "1500000250000", units.String())

	assert.InDelta(t, 1_500_000.25, c.unitsToUSD(units), 0.01)
}

func TestProposalIDFromReceipt(t *testing.T) {
	parsed, err := parseVaultABI()
	require.NoError(t, err)

	vault := common.HexToAddress("0x1111111111111111111111111111111111111111")
	c := &Client{vaultAddr: vault, vaultABI: parsed}

	event := parsed.Events["RebalanceProposed"]
	receipt := &types.Receipt{
		TxHash: common.HexToHash("0xdead"),
		Logs: []*types.Log{
			{
				// Log from another contract is skipped.
				Address: common.HexToAddress("0x2222222222222222222222222222222222222222"),
				Topics:  []common.Hash{event.ID, common.BigToHash(big.NewInt(99))},
			},
			{
				Address: vault,
				Topics: []common.Hash{
					event.ID,
					common.BigToHash(big.NewInt(42)),
					common.HexToHash("0x3333333333333333333333333333333333333333"),
					common.HexToHash("0x4444444444444444444444444444444444444444"),
				},
			},
		},
	}

	id, err := c.proposalIDFromReceipt(receipt)
	require.NoError(t, err)
	assert.Equal(t, int64(42), id)
}

func TestProposalIDMissingEvent(t *testing.T) {
	parsed, err := parseVaultABI()
	require.NoError(t, err)

	c := &Client{vaultAddr: common.HexToAddress("0x1111111111111111111111111111111111111111"), vaultABI: parsed}
	_, err = c.proposalIDFromReceipt(&types.Receipt{TxHash: common.HexToHash("0xbeef")})
	require.Error(t, err)
	assert.Contains(t, err.Error(), "no RebalanceProposed event")
}
