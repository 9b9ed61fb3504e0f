package adapter

import "github.com/income-verifier/internal/types"

// alchemyNetworks maps chain ids to Alchemy network slugs
var alchemyNetworks = map[types.ChainID]string{
	types.ChainEthereum: "eth-mainnet",
	types.ChainOptimism: "opt-mainnet",
	types.ChainBNB:      "bnb-mainnet",
	types.ChainPolygon:  "polygon-mainnet",
	types.ChainBase:     "base-mainnet",
	types.ChainArbitrum: "arb-mainnet",
	types.ChainSepolia:  "eth-sepolia",
	84532:               "base-sepolia",
	80002:               "polygon-amoy",
}

// NetworkFor returns the Alchemy network slug for a chain
func NetworkFor(chainID types.ChainID) (string, bool) {
	network, ok := alchemyNetworks[chainID]
	return network, ok
}

// NativeSymbol returns the native asset symbol for a chain, ETH when unknown
func NativeSymbol(chainID types.ChainID) string {
	switch chainID {
	case types.ChainPolygon, 80002:
		return "MATIC"
	case types.ChainBNB:
		return "BNB"
	default:
		return "ETH"
	}
}
