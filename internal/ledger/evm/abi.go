package evm

import (
	"fmt"
	"strings"

	"github.com/ethereum/go-ethereum/accounts/abi"
)

// vaultABI covers the subset of the vault manager contract the agent uses:
// allocation reads, rebalance proposal lifecycle, and emergency unwind.
const vaultABI = `[
  {"type":"function","name":"totalAssets","stateMutability":"view","inputs":[],"outputs":[{"name":"","type":"uint256"}]},
  {"type":"function","name":"idleBufferBps","stateMutability":"view","inputs":[],"outputs":[{"name":"","type":"uint256"}]},
  {"type":"function","name":"lastRebalanceTime","stateMutability":"view","inputs":[],"outputs":[{"name":"","type":"uint256"}]},
  {"type":"function","name":"getStrategies","stateMutability":"view","inputs":[],"outputs":[
    {"name":"addrs","type":"address[]"},
    {"name":"currentBps","type":"uint256[]"},
    {"name":"targetBps","type":"uint256[]"},
    {"name":"maxBps","type":"uint256[]"},
    {"name":"totalDeposited","type":"uint256[]"},
    {"name":"utilizationBps","type":"uint256[]"}
  ]},
  {"type":"function","name":"proposeRebalance","stateMutability":"nonpayable","inputs":[
    {"name":"fromStrategy","type":"address"},
    {"name":"toStrategy","type":"address"},
    {"name":"amount","type":"uint256"}
  ],"outputs":[{"name":"proposalId","type":"uint256"}]},
  {"type":"function","name":"executeRebalance","stateMutability":"nonpayable","inputs":[
    {"name":"proposalId","type":"uint256"}
  ],"outputs":[]},
  {"type":"function","name":"emergencyUnwind","stateMutability":"nonpayable","inputs":[
    {"name":"strategy","type":"address"},
    {"name":"reason","type":"string"}
  ],"outputs":[]},
  {"type":"event","name":"RebalanceProposed","inputs":[
    {"name":"proposalId","type":"uint256","indexed":true},
    {"name":"fromStrategy","type":"address","indexed":true},
    {"name":"toStrategy","type":"address","indexed":true},
    {"name":"amount","type":"uint256","indexed":false}
  ],"anonymous":false}
]`

// riskOracleABI is the single write method of the protocol's risk oracle
// contract. Component scores are basis points, 0..10000.
const riskOracleABI = `[
  {"type":"function","name":"updateRiskMetrics","stateMutability":"nonpayable","inputs":[
    {"name":"protocolRisk","type":"uint256"},
    {"name":"liquidityRisk","type":"uint256"},
    {"name":"utilizationRisk","type":"uint256"},
    {"name":"governanceRisk","type":"uint256"},
    {"name":"oracleRisk","type":"uint256"}
  ],"outputs":[]}
]`

// parseVaultABI parses the embedded ABI once at client construction.
func parseVaultABI() (abi.ABI, error) {
	parsed, err := abi.JSON(strings.NewReader(vaultABI))
	if err != nil {
		return abi.ABI{}, fmt.Errorf("evm: parse vault abi: %w", err)
	}
	return parsed, nil
}

func parseRiskOracleABI() (abi.ABI, error) {
	parsed, err := abi.JSON(strings.NewReader(riskOracleABI))
	if err != nil {
		return abi.ABI{}, fmt.Errorf("evm: parse risk oracle abi: %w", err)
	}
	return parsed, nil
}
