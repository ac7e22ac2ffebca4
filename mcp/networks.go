package mcp

import (
	"fmt"
	"math/big"
	"strings"
)

// Network is a wallet-facing network name. The MCP tools use short names
// rather than CAIP-2 identifiers because they are typed by humans and agents.
type Network string

const (
	NetworkEthereum  Network = "ethereum"
	NetworkBase      Network = "base"
	NetworkArbitrum  Network = "arbitrum"
	NetworkOptimism  Network = "optimism"
	NetworkPolygon   Network = "polygon"
	NetworkAvalanche Network = "avalanche"
	NetworkInk       Network = "ink"
	NetworkBerachain Network = "berachain"
	NetworkUnichain  Network = "unichain"
)

// Token is a supported stablecoin symbol.
type Token string

const (
	TokenUSDC  Token = "USDC"
	TokenUSDT  Token = "USDT"
	TokenUSDT0 Token = "USDT0"
)

// TokenDecimals applies to all supported stablecoins.
const TokenDecimals = 6

// NativeDecimals applies to native tokens.
const NativeDecimals = 18

var chainIDs = map[Network]int64{
	NetworkEthereum:  1,
	NetworkBase:      8453,
	NetworkArbitrum:  42161,
	NetworkOptimism:  10,
	NetworkPolygon:   137,
	NetworkAvalanche: 43114,
	NetworkInk:       57073,
	NetworkBerachain: 80094,
	NetworkUnichain:  130,
}

var nativeSymbols = map[Network]string{
	NetworkEthereum:  "ETH",
	NetworkBase:      "ETH",
	NetworkArbitrum:  "ETH",
	NetworkOptimism:  "ETH",
	NetworkPolygon:   "MATIC",
	NetworkAvalanche: "AVAX",
	NetworkInk:       "ETH",
	NetworkBerachain: "BERA",
	NetworkUnichain:  "ETH",
}

var explorerURLs = map[Network]string{
	NetworkEthereum:  "https://etherscan.io",
	NetworkBase:      "https://basescan.org",
	NetworkArbitrum:  "https://arbiscan.io",
	NetworkOptimism:  "https://optimistic.etherscan.io",
	NetworkPolygon:   "https://polygonscan.com",
	NetworkAvalanche: "https://snowtrace.io",
	NetworkInk:       "https://explorer.ink.xyz",
	NetworkBerachain: "https://berascan.com",
	NetworkUnichain:  "https://uniscan.xyz",
}

var defaultRPCURLs = map[Network]string{
	NetworkEthereum:  "https://eth.llamarpc.com",
	NetworkBase:      "https://mainnet.base.org",
	NetworkArbitrum:  "https://arb1.arbitrum.io/rpc",
	NetworkOptimism:  "https://mainnet.optimism.io",
	NetworkPolygon:   "https://polygon-rpc.com",
	NetworkAvalanche: "https://api.avax.network/ext/bc/C/rpc",
	NetworkInk:       "https://rpc-qnd.ink.xyz",
	NetworkBerachain: "https://artio.rpc.berachain.com",
	NetworkUnichain:  "https://mainnet.unichain.org",
}

var usdcAddresses = map[Network]string{
	NetworkEthereum:  "0xA0b86991c6218b36c1d19D4a2e9Eb0cE3606eB48",
	NetworkBase:      "0x833589fCD6eDb6E08f4c7C32D4f71b54bdA02913",
	NetworkArbitrum:  "0xaf88d065e77c8cC2239327C5EDb3A432268e5831",
	NetworkOptimism:  "0x0b2C639c533813f4Aa9D7837CAf62653d097Ff85",
	NetworkPolygon:   "0x3c499c542cEF5E3811e1192ce70d8cC03d5c3359",
	NetworkAvalanche: "0xB97EF9Ef8734C71904D8002F8b6Bc66Dd9c48a6E",
	NetworkInk:       "0x0200C29006150606B650577BBE7B6248F58470c1",
	NetworkBerachain: "0x779Ded0c9e1022225f8E0630b35a9b54bE713736",
	NetworkUnichain:  "0x588ce4F028D8e7B53B687865d6A67b3A54C75518",
}

var usdtAddresses = map[Network]string{
	NetworkEthereum:  "0xdAC17F958D2ee523a2206206994597C13D831ec7",
	NetworkArbitrum:  "0xFd086bC7CD5C481DCC9C85ebE478A1C0b69FCbb9",
	NetworkOptimism:  "0x94b008aA00579c1307B0EF2c499aD98a8ce58e58",
	NetworkPolygon:   "0xc2132D05D31c914a87C6611C10748AEb04B58e8F",
	NetworkAvalanche: "0x9702230A8Ea53601f5cD2dc00fDBc13d4dF4A8c7",
}

var usdt0Addresses = map[Network]string{
	NetworkEthereum:  "0x6C96dE32CEa08842dcc4058c14d3aaAD7Fa41dee",
	NetworkArbitrum:  "0xFd086bC7CD5C481DCC9C85ebE478A1C0b69FCbb9",
	NetworkInk:       "0x0200C29006150606B650577BBE7B6248F58470c1",
	NetworkBerachain: "0x779Ded0c9e1022225f8E0630b35a9b54bE713736",
	NetworkUnichain:  "0x588ce4F028D8e7B53B687865d6A67b3A54C75518",
}

// gaslessNetworks support ERC-4337 account abstraction through the public
// bundler ecosystem.
var gaslessNetworks = []Network{
	NetworkEthereum,
	NetworkBase,
	NetworkArbitrum,
	NetworkOptimism,
	NetworkPolygon,
	NetworkAvalanche,
}

// AllNetworks returns the supported networks in display order.
func AllNetworks() []Network {
	return []Network{
		NetworkEthereum,
		NetworkBase,
		NetworkArbitrum,
		NetworkOptimism,
		NetworkPolygon,
		NetworkAvalanche,
		NetworkInk,
		NetworkBerachain,
		NetworkUnichain,
	}
}

// IsValidNetwork reports whether name is a supported network.
func IsValidNetwork(name string) bool {
	_, ok := chainIDs[Network(name)]
	return ok
}

// IsGaslessNetwork reports whether the network supports ERC-4337 payments.
func IsGaslessNetwork(name string) bool {
	for _, network := range gaslessNetworks {
		if string(network) == name {
			return true
		}
	}
	return false
}

// TokenAddress returns the contract address of a token on a network.
func TokenAddress(network Network, token Token) (string, bool) {
	switch token {
	case TokenUSDC:
		addr, ok := usdcAddresses[network]
		return addr, ok
	case TokenUSDT:
		addr, ok := usdtAddresses[network]
		return addr, ok
	case TokenUSDT0:
		addr, ok := usdt0Addresses[network]
		return addr, ok
	default:
		return "", false
	}
}

// ExplorerTxURL returns the block explorer URL for a transaction.
func ExplorerTxURL(network Network, txHash string) string {
	baseURL, ok := explorerURLs[network]
	if !ok {
		return ""
	}
	return fmt.Sprintf("%s/tx/%s", baseURL, txHash)
}

// FormatTokenAmount renders a raw amount as a decimal string, trimming
// trailing zeros.
func FormatTokenAmount(amount *big.Int, decimals int) string {
	if amount == nil || amount.Sign() == 0 {
		return "0"
	}

	divisor := new(big.Int).Exp(big.NewInt(10), big.NewInt(int64(decimals)), nil)
	whole := new(big.Int).Div(amount, divisor)
	fraction := new(big.Int).Mod(amount, divisor)

	if fraction.Sign() == 0 {
		return whole.String()
	}

	fractionStr := fraction.String()
	for len(fractionStr) < decimals {
		fractionStr = "0" + fractionStr
	}
	fractionStr = strings.TrimRight(fractionStr, "0")

	return fmt.Sprintf("%s.%s", whole.String(), fractionStr)
}

// ParseTokenAmount parses a decimal amount string into raw token units.
// Fractional digits beyond the token's precision are truncated.
func ParseTokenAmount(amount string, decimals int) (*big.Int, error) {
	whole, fractionStr, _ := strings.Cut(amount, ".")

	result := new(big.Int)
	if _, ok := result.SetString(whole, 10); !ok {
		return nil, fmt.Errorf("invalid amount: %s", amount)
	}
	if result.Sign() < 0 {
		return nil, fmt.Errorf("amount must not be negative: %s", amount)
	}

	multiplier := new(big.Int).Exp(big.NewInt(10), big.NewInt(int64(decimals)), nil)
	result.Mul(result, multiplier)

	if fractionStr != "" {
		if len(fractionStr) > decimals {
			fractionStr = fractionStr[:decimals]
		}
		for len(fractionStr) < decimals {
			fractionStr += "0"
		}
		fraction := new(big.Int)
		if _, ok := fraction.SetString(fractionStr, 10); !ok {
			return nil, fmt.Errorf("invalid fractional part: %s", amount)
		}
		result.Add(result, fraction)
	}

	return result, nil
}
