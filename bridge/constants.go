package bridge

import (
	"encoding/hex"
	"fmt"
	"sort"
	"strings"
	"time"
)

const (
	// LayerZeroScanBaseURL is the LayerZero Scan API base URL.
	LayerZeroScanBaseURL = "https://scan.layerzero-api.com/v1"

	// DefaultSlippageBps is the default slippage tolerance in basis points (0.5%).
	DefaultSlippageBps = 50

	// EstimatedBridgeTimeSeconds is the typical end-to-end delivery time.
	EstimatedBridgeTimeSeconds = 300

	// DefaultDeliveryTimeout bounds WaitForDelivery polling.
	DefaultDeliveryTimeout = 10 * time.Minute

	// DefaultPollInterval is the WaitForDelivery polling interval.
	DefaultPollInterval = 10 * time.Second
)

// OFTSentEventTopic is keccak256 of the OFTSent event signature:
// OFTSent(bytes32 indexed guid, uint32 dstEid, address indexed from,
// uint256 amountSentLD, uint256 amountReceivedLD).
const OFTSentEventTopic = "0x85496b760a4b7f8d66384b9df21b381f5d1b1e79f229a47aaf4c232edc2fe59a"

// layerZeroEndpointIDs are v2 endpoint ids per chain.
var layerZeroEndpointIDs = map[string]uint32{
	"ethereum":  30101,
	"arbitrum":  30110,
	"ink":       30291,
	"berachain": 30362,
	"unichain":  30320,
}

// usdt0OFTAddresses are the USDT0 OFT contracts (the legacy-mesh adapter on
// Ethereum and Arbitrum, native OFT elsewhere).
var usdt0OFTAddresses = map[string]string{
	"ethereum":  "0x6C96dE32CEa08842dcc4058c14d3aaAD7Fa41dee",
	"arbitrum":  "0xFd086bC7CD5C481DCC9C85ebE478A1C0b69FCbb9",
	"ink":       "0x0200C29006150606B650577BBE7B6248F58470c1",
	"berachain": "0x779Ded0c9e1022225f8E0630b35a9b54bE713736",
	"unichain":  "0x588ce4F028D8e7B53B687865d6A67b3A54C75518",
}

// NetworkToChain maps CAIP-2 network identifiers to bridge chain names.
var NetworkToChain = map[string]string{
	"eip155:1":     "ethereum",
	"eip155:42161": "arbitrum",
	"eip155:57073": "ink",
	"eip155:80094": "berachain",
	"eip155:130":   "unichain",
}

// ChainToNetwork is the inverse of NetworkToChain.
var ChainToNetwork = map[string]string{
	"ethereum":  "eip155:1",
	"arbitrum":  "eip155:42161",
	"ink":       "eip155:57073",
	"berachain": "eip155:80094",
	"unichain":  "eip155:130",
}

// OFTSendABI covers quoteSend and send on the OFT contract.
var OFTSendABI = []byte(`[
	{
		"inputs": [
			{
				"components": [
					{"name": "dstEid", "type": "uint32"},
					{"name": "to", "type": "bytes32"},
					{"name": "amountLD", "type": "uint256"},
					{"name": "minAmountLD", "type": "uint256"},
					{"name": "extraOptions", "type": "bytes"},
					{"name": "composeMsg", "type": "bytes"},
					{"name": "oftCmd", "type": "bytes"}
				],
				"name": "_sendParam",
				"type": "tuple"
			},
			{"name": "_payInLzToken", "type": "bool"}
		],
		"name": "quoteSend",
		"outputs": [
			{
				"components": [
					{"name": "nativeFee", "type": "uint256"},
					{"name": "lzTokenFee", "type": "uint256"}
				],
				"name": "",
				"type": "tuple"
			}
		],
		"stateMutability": "view",
		"type": "function"
	},
	{
		"inputs": [
			{
				"components": [
					{"name": "dstEid", "type": "uint32"},
					{"name": "to", "type": "bytes32"},
					{"name": "amountLD", "type": "uint256"},
					{"name": "minAmountLD", "type": "uint256"},
					{"name": "extraOptions", "type": "bytes"},
					{"name": "composeMsg", "type": "bytes"},
					{"name": "oftCmd", "type": "bytes"}
				],
				"name": "_sendParam",
				"type": "tuple"
			},
			{
				"components": [
					{"name": "nativeFee", "type": "uint256"},
					{"name": "lzTokenFee", "type": "uint256"}
				],
				"name": "_fee",
				"type": "tuple"
			},
			{"name": "_refundAddress", "type": "address"}
		],
		"name": "send",
		"outputs": [
			{
				"components": [
					{"name": "guid", "type": "bytes32"},
					{"name": "nonce", "type": "uint64"},
					{
						"components": [
							{"name": "nativeFee", "type": "uint256"},
							{"name": "lzTokenFee", "type": "uint256"}
						],
						"name": "fee",
						"type": "tuple"
					}
				],
				"name": "",
				"type": "tuple"
			},
			{
				"components": [
					{"name": "amountSentLD", "type": "uint256"},
					{"name": "amountReceivedLD", "type": "uint256"}
				],
				"name": "",
				"type": "tuple"
			}
		],
		"stateMutability": "payable",
		"type": "function"
	}
]`)

// ERC20AllowanceABI covers allowance and approve on the bridged token.
var ERC20AllowanceABI = []byte(`[
	{
		"inputs": [
			{"name": "owner", "type": "address"},
			{"name": "spender", "type": "address"}
		],
		"name": "allowance",
		"outputs": [{"name": "", "type": "uint256"}],
		"stateMutability": "view",
		"type": "function"
	},
	{
		"inputs": [
			{"name": "spender", "type": "address"},
			{"name": "amount", "type": "uint256"}
		],
		"name": "approve",
		"outputs": [{"name": "", "type": "bool"}],
		"stateMutability": "nonpayable",
		"type": "function"
	}
]`)

// EndpointID returns the LayerZero endpoint id for a chain name.
func EndpointID(chain string) (uint32, bool) {
	eid, ok := layerZeroEndpointIDs[strings.ToLower(chain)]
	return eid, ok
}

// OFTAddress returns the USDT0 OFT contract address for a chain.
func OFTAddress(chain string) (string, bool) {
	address, ok := usdt0OFTAddresses[strings.ToLower(chain)]
	return address, ok
}

// SupportsBridging reports whether a chain is part of the USDT0 mesh.
func SupportsBridging(chain string) bool {
	_, ok := usdt0OFTAddresses[strings.ToLower(chain)]
	return ok
}

// BridgeableChains returns all chains in the USDT0 mesh, sorted.
func BridgeableChains() []string {
	chains := make([]string, 0, len(usdt0OFTAddresses))
	for chain := range usdt0OFTAddresses {
		chains = append(chains, chain)
	}
	sort.Strings(chains)
	return chains
}

// AddressToBytes32 left-pads a 20-byte address into the bytes32 form
// LayerZero uses for recipients.
func AddressToBytes32(address string) ([32]byte, error) {
	var result [32]byte

	decoded, err := hex.DecodeString(strings.TrimPrefix(address, "0x"))
	if err != nil {
		return result, fmt.Errorf("invalid address: %w", err)
	}
	if len(decoded) != 20 {
		return result, fmt.Errorf("invalid address length: expected 20 bytes, got %d", len(decoded))
	}

	copy(result[12:], decoded)
	return result, nil
}

// Bytes32ToAddress recovers the address from its bytes32 form.
func Bytes32ToAddress(b [32]byte) string {
	return "0x" + hex.EncodeToString(b[12:])
}
