package evm

import (
	"math/big"
)

const (
	// Scheme identifiers
	SchemeExact       = "exact"
	SchemeExactLegacy = "exact-legacy"
	SchemeUpto        = "upto"

	// Default token decimals for USDC/USDT
	DefaultDecimals = 6

	// NonceLength is the byte length of an EIP-3009 authorization nonce. The
	// token contract takes a bytes32, so anything else is unrepresentable.
	NonceLength = 32

	// EIP-3009 function names
	FunctionTransferWithAuthorization = "transferWithAuthorization"
	FunctionAuthorizationState        = "authorizationState"

	// ERC-20 / EIP-2612 function names
	FunctionAllowance    = "allowance"
	FunctionApprove      = "approve"
	FunctionTransferFrom = "transferFrom"
	FunctionBalanceOf    = "balanceOf"
	FunctionNonces       = "nonces"

	// Upto router function name
	FunctionExecuteUptoTransfer = "executeUptoTransfer"

	// Transaction status
	TxStatusSuccess = 1
	TxStatusFailed  = 0

	// ERC20ApproveGasLimit is a conservative gas limit for approve().
	ERC20ApproveGasLimit = uint64(60000)

	// ValidAfter is backdated by this many seconds so the authorization is
	// usable immediately despite client/node clock skew.
	ValidAfterSkewSeconds = 600

	// DeadlineBuffer is added when checking expiry to account for block
	// propagation time.
	DeadlineBuffer = 6

	// Error codes shared across the EVM schemes
	ErrInvalidSignature      = "invalid_exact_evm_payload_signature"
	ErrMissingEIP712Domain   = "missing_eip712_domain"
	ErrRecipientMismatch     = "invalid_exact_evm_payload_recipient_mismatch"
	ErrInsufficientAmount    = "invalid_exact_evm_payload_authorization_value"
	ErrAuthorizationExpired  = "invalid_exact_evm_payload_authorization_valid_before"
	ErrAuthorizationNotYet   = "invalid_exact_evm_payload_authorization_valid_after"
	ErrInsufficientBalance   = "insufficient_funds"
	ErrNonceAlreadyUsed      = "nonce_already_used"
	ErrSpenderMismatch       = "invalid_exact_legacy_spender_mismatch"
	ErrMissingSpender        = "invalid_exact_legacy_missing_spender"
	ErrInsufficientAllowance = "insufficient_allowance"
	ErrInvalidApproval       = "invalid_exact_legacy_approval"
	ErrUptoExceedsMaxAmount  = "upto_value_exceeds_max_amount"
	ErrUptoBelowMinAmount    = "upto_value_below_min_amount"
	ErrUptoOverSettlement    = "upto_settle_amount_exceeds_authorized"
	ErrUptoDeadlineExpired   = "upto_permit_deadline_expired"
	ErrUptoMissingRouter     = "upto_missing_router_address"
	ErrUnsupportedPayload    = "unsupported_payload_type"
)

var (
	// Network chain IDs
	ChainIDEthereum    = big.NewInt(1)
	ChainIDBase        = big.NewInt(8453)
	ChainIDBaseSepolia = big.NewInt(84532)
	ChainIDArbitrum    = big.NewInt(42161)
	ChainIDOptimism    = big.NewInt(10)
	ChainIDPolygon     = big.NewInt(137)

	// Network configurations keyed by CAIP-2 identifier.
	//
	// Default asset selection: the chain's canonical USD stablecoin. Tokens
	// without EIP-3009 (USDT) are reachable through the exact-legacy and
	// upto schemes.
	NetworkConfigs = map[string]NetworkConfig{
		"eip155:1": {
			ChainID: ChainIDEthereum,
			DefaultAsset: AssetInfo{
				Address:         "0xA0b86991c6218b36c1d19D4a2e9Eb0cE3606eB48", // USDC
				Name:            "USD Coin",
				Version:         "2",
				Decimals:        DefaultDecimals,
				SupportsEIP3009: true,
			},
			Assets: map[string]AssetInfo{
				"0xa0b86991c6218b36c1d19d4a2e9eb0ce3606eb48": {
					Address:         "0xA0b86991c6218b36c1d19D4a2e9Eb0cE3606eB48",
					Name:            "USD Coin",
					Version:         "2",
					Decimals:        DefaultDecimals,
					SupportsEIP3009: true,
				},
				"0xdac17f958d2ee523a2206206994597c13d831ec7": {
					Address:         "0xdAC17F958D2ee523a2206206994597C13D831ec7",
					Name:            "Tether USD",
					Version:         "1",
					Decimals:        DefaultDecimals,
					SupportsEIP3009: false,
				},
			},
		},
		"eip155:8453": {
			ChainID: ChainIDBase,
			DefaultAsset: AssetInfo{
				Address:         "0x833589fCD6eDb6E08f4c7C32D4f71b54bdA02913", // USDC on Base
				Name:            "USD Coin",
				Version:         "2",
				Decimals:        DefaultDecimals,
				SupportsEIP3009: true,
			},
		},
		"eip155:84532": {
			ChainID: ChainIDBaseSepolia,
			DefaultAsset: AssetInfo{
				Address:         "0x036CbD53842c5426634e7929541eC2318f3dCF7e", // USDC on Base Sepolia
				Name:            "USDC",
				Version:         "2",
				Decimals:        DefaultDecimals,
				SupportsEIP3009: true,
			},
		},
		"eip155:42161": {
			ChainID: ChainIDArbitrum,
			DefaultAsset: AssetInfo{
				Address:         "0xaf88d065e77c8cC2239327C5EDb3A432268e5831", // USDC on Arbitrum
				Name:            "USD Coin",
				Version:         "2",
				Decimals:        DefaultDecimals,
				SupportsEIP3009: true,
			},
			Assets: map[string]AssetInfo{
				"0xaf88d065e77c8cc2239327c5edb3a432268e5831": {
					Address:         "0xaf88d065e77c8cC2239327C5EDb3A432268e5831",
					Name:            "USD Coin",
					Version:         "2",
					Decimals:        DefaultDecimals,
					SupportsEIP3009: true,
				},
				"0xfd086bc7cd5c481dcc9c85ebe478a1c0b69fcbb9": {
					Address:         "0xFd086bC7CD5C481DCC9C85ebE478A1C0b69FCbb9",
					Name:            "Tether USD",
					Version:         "1",
					Decimals:        DefaultDecimals,
					SupportsEIP3009: false,
				},
			},
		},
		"eip155:10": {
			ChainID: ChainIDOptimism,
			DefaultAsset: AssetInfo{
				Address:         "0x0b2C639c533813f4Aa9D7837CAf62653d097Ff85", // USDC on Optimism
				Name:            "USD Coin",
				Version:         "2",
				Decimals:        DefaultDecimals,
				SupportsEIP3009: true,
			},
		},
		"eip155:137": {
			ChainID: ChainIDPolygon,
			DefaultAsset: AssetInfo{
				Address:         "0x3c499c542cEF5E3811e1192ce70d8cC03d5c3359", // USDC on Polygon PoS
				Name:            "USD Coin",
				Version:         "2",
				Decimals:        DefaultDecimals,
				SupportsEIP3009: true,
			},
		},
	}

	// EIP-3009 ABI for transferWithAuthorization with v,r,s (EOA signatures)
	TransferWithAuthorizationABI = []byte(`[
		{
			"inputs": [
				{"name": "from", "type": "address"},
				{"name": "to", "type": "address"},
				{"name": "value", "type": "uint256"},
				{"name": "validAfter", "type": "uint256"},
				{"name": "validBefore", "type": "uint256"},
				{"name": "nonce", "type": "bytes32"},
				{"name": "v", "type": "uint8"},
				{"name": "r", "type": "bytes32"},
				{"name": "s", "type": "bytes32"}
			],
			"name": "transferWithAuthorization",
			"outputs": [],
			"stateMutability": "nonpayable",
			"type": "function"
		}
	]`)

	// ABI for authorizationState check
	AuthorizationStateABI = []byte(`[
		{
			"inputs": [
				{"name": "authorizer", "type": "address"},
				{"name": "nonce", "type": "bytes32"}
			],
			"name": "authorizationState",
			"outputs": [{"name": "", "type": "bool"}],
			"stateMutability": "view",
			"type": "function"
		}
	]`)

	// ERC20AllowanceABI for checking existing approvals
	ERC20AllowanceABI = []byte(`[
		{
			"inputs": [
				{"name": "owner", "type": "address"},
				{"name": "spender", "type": "address"}
			],
			"name": "allowance",
			"outputs": [{"name": "", "type": "uint256"}],
			"stateMutability": "view",
			"type": "function"
		}
	]`)

	// ERC20ApproveABI for granting allowances
	ERC20ApproveABI = []byte(`[
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

	// ERC20TransferFromABI for legacy settlement
	ERC20TransferFromABI = []byte(`[
		{
			"inputs": [
				{"name": "from", "type": "address"},
				{"name": "to", "type": "address"},
				{"name": "amount", "type": "uint256"}
			],
			"name": "transferFrom",
			"outputs": [{"name": "", "type": "bool"}],
			"stateMutability": "nonpayable",
			"type": "function"
		}
	]`)

	// ERC20TransferABI for direct wallet transfers
	ERC20TransferABI = []byte(`[
		{
			"inputs": [
				{"name": "to", "type": "address"},
				{"name": "amount", "type": "uint256"}
			],
			"name": "transfer",
			"outputs": [{"name": "", "type": "bool"}],
			"stateMutability": "nonpayable",
			"type": "function"
		}
	]`)

	// ERC20BalanceOfABI for checking token balance
	ERC20BalanceOfABI = []byte(`[
		{
			"inputs": [
				{"name": "account", "type": "address"}
			],
			"name": "balanceOf",
			"outputs": [{"name": "", "type": "uint256"}],
			"stateMutability": "view",
			"type": "function"
		}
	]`)

	// ERC20NoncesABI for reading the EIP-2612 permit nonce
	ERC20NoncesABI = []byte(`[
		{
			"inputs": [
				{"name": "owner", "type": "address"}
			],
			"name": "nonces",
			"outputs": [{"name": "", "type": "uint256"}],
			"stateMutability": "view",
			"type": "function"
		}
	]`)

	// UptoRouterABI for the atomic permit+transfer settlement used by the
	// upto scheme. Combining both in one transaction prevents front-running
	// between permit application and transfer.
	UptoRouterABI = []byte(`[
		{
			"inputs": [
				{"name": "token", "type": "address"},
				{"name": "from", "type": "address"},
				{"name": "to", "type": "address"},
				{"name": "maxAmount", "type": "uint256"},
				{"name": "settleAmount", "type": "uint256"},
				{"name": "deadline", "type": "uint256"},
				{"name": "v", "type": "uint8"},
				{"name": "r", "type": "bytes32"},
				{"name": "s", "type": "bytes32"}
			],
			"name": "executeUptoTransfer",
			"outputs": [],
			"stateMutability": "nonpayable",
			"type": "function"
		}
	]`)
)

// IsValidNetwork reports whether the CAIP-2 identifier is a configured EVM network.
func IsValidNetwork(network string) bool {
	_, ok := NetworkConfigs[network]
	return ok
}

// GetNetworkConfig returns the configuration for a CAIP-2 network identifier.
func GetNetworkConfig(network string) (NetworkConfig, error) {
	config, ok := NetworkConfigs[network]
	if !ok {
		return NetworkConfig{}, &UnsupportedNetworkError{Network: network}
	}
	return config, nil
}

// UnsupportedNetworkError indicates a network outside the configured set.
type UnsupportedNetworkError struct {
	Network string
}

func (e *UnsupportedNetworkError) Error() string {
	return "unsupported network: " + e.Network
}
