package rpc

import (
	"strings"

	"github.com/ethereum/go-ethereum/accounts/abi"
)

const vaultV2ABI = `[
  {"anonymous":false,"type":"event","name":"PoolBalanceChanged","inputs":[
    {"indexed":true,"name":"poolId","type":"bytes32"},
    {"indexed":true,"name":"liquidityProvider","type":"address"},
    {"indexed":false,"name":"tokens","type":"address[]"},
    {"indexed":false,"name":"deltas","type":"int256[]"},
    {"indexed":false,"name":"protocolFeeAmounts","type":"uint256[]"}
  ]}
]`

const vaultV3ABI = `[
  {"anonymous":false,"type":"event","name":"LiquidityAdded","inputs":[
    {"indexed":true,"name":"pool","type":"address"},
    {"indexed":true,"name":"liquidityProvider","type":"address"},
    {"indexed":true,"name":"kind","type":"uint8"},
    {"indexed":false,"name":"totalSupply","type":"uint256"},
    {"indexed":false,"name":"amountsAddedRaw","type":"uint256[]"},
    {"indexed":false,"name":"swapFeeAmountsRaw","type":"uint256[]"}
  ]},
  {"anonymous":false,"type":"event","name":"LiquidityRemoved","inputs":[
    {"indexed":true,"name":"pool","type":"address"},
    {"indexed":true,"name":"liquidityProvider","type":"address"},
    {"indexed":true,"name":"kind","type":"uint8"},
    {"indexed":false,"name":"totalSupply","type":"uint256"},
    {"indexed":false,"name":"amountsRemovedRaw","type":"uint256[]"},
    {"indexed":false,"name":"swapFeeAmountsRaw","type":"uint256[]"}
  ]},
  {"type":"function","name":"getPoolTokens","stateMutability":"view",
   "inputs":[{"name":"pool","type":"address"}],
   "outputs":[{"name":"tokens","type":"address[]"}]}
]`

var (
	VaultV2 = mustParse(vaultV2ABI)
	VaultV3 = mustParse(vaultV3ABI)
)

func mustParse(s string) abi.ABI {
	parsed, err := abi.JSON(strings.NewReader(s))
	if err != nil {
		panic(err)
	}
	return parsed
}
