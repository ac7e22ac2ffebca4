// Package evm provides shared EVM support for the t402 payment protocol:
// EIP-712 hashing, the network/token registry, the signer capability
// interfaces, and the exact-scheme payload codec. Scheme implementations live
// in the exact, exactlegacy and upto subpackages.
package evm

import (
	"context"
	"fmt"
	"math/big"

	gethtypes "github.com/ethereum/go-ethereum/core/types"
)

// ExactEIP3009Authorization represents the EIP-3009 TransferWithAuthorization data.
// Nonce is a random 32-byte value unique per authorization, not an account nonce.
type ExactEIP3009Authorization struct {
	From        string `json:"from"`        // Ethereum address (hex)
	To          string `json:"to"`          // Ethereum address (hex)
	Value       string `json:"value"`       // Amount in smallest unit as decimal string
	ValidAfter  string `json:"validAfter"`  // Unix timestamp as string
	ValidBefore string `json:"validBefore"` // Unix timestamp as string
	Nonce       string `json:"nonce"`       // 32-byte nonce as hex string

	// Spender is set only by the exact-legacy scheme: the facilitator address
	// empowered to call transferFrom. Empty for plain exact payments.
	Spender string `json:"spender,omitempty"`
}

// ExactEIP3009Payload represents the exact payment payload for EVM networks
type ExactEIP3009Payload struct {
	Signature     string                    `json:"signature,omitempty"`
	Authorization ExactEIP3009Authorization `json:"authorization"`
}

// ToMap converts an ExactEIP3009Payload to a map for JSON marshaling
func (p *ExactEIP3009Payload) ToMap() map[string]interface{} {
	auth := map[string]interface{}{
		"from":        p.Authorization.From,
		"to":          p.Authorization.To,
		"value":       p.Authorization.Value,
		"validAfter":  p.Authorization.ValidAfter,
		"validBefore": p.Authorization.ValidBefore,
		"nonce":       p.Authorization.Nonce,
	}
	if p.Authorization.Spender != "" {
		auth["spender"] = p.Authorization.Spender
	}
	result := map[string]interface{}{
		"authorization": auth,
	}
	if p.Signature != "" {
		result["signature"] = p.Signature
	}
	return result
}

// PayloadFromMap creates an ExactEIP3009Payload from a map
func PayloadFromMap(data map[string]interface{}) (*ExactEIP3009Payload, error) {
	payload := &ExactEIP3009Payload{}

	if sig, ok := data["signature"].(string); ok {
		payload.Signature = sig
	}

	auth, ok := data["authorization"].(map[string]interface{})
	if !ok {
		return nil, fmt.Errorf("missing or invalid authorization field")
	}

	if from, ok := auth["from"].(string); ok {
		payload.Authorization.From = from
	} else {
		return nil, fmt.Errorf("missing or invalid authorization.from field")
	}
	if to, ok := auth["to"].(string); ok {
		payload.Authorization.To = to
	} else {
		return nil, fmt.Errorf("missing or invalid authorization.to field")
	}
	if value, ok := auth["value"].(string); ok {
		payload.Authorization.Value = value
	} else {
		return nil, fmt.Errorf("missing or invalid authorization.value field")
	}
	if validAfter, ok := auth["validAfter"].(string); ok {
		payload.Authorization.ValidAfter = validAfter
	} else {
		return nil, fmt.Errorf("missing or invalid authorization.validAfter field")
	}
	if validBefore, ok := auth["validBefore"].(string); ok {
		payload.Authorization.ValidBefore = validBefore
	} else {
		return nil, fmt.Errorf("missing or invalid authorization.validBefore field")
	}
	if nonce, ok := auth["nonce"].(string); ok {
		nonceBytes, err := HexToBytes(nonce)
		if err != nil || len(nonceBytes) != NonceLength {
			return nil, fmt.Errorf("authorization.nonce must be a %d-byte hex string", NonceLength)
		}
		payload.Authorization.Nonce = nonce
	} else {
		return nil, fmt.Errorf("missing or invalid authorization.nonce field")
	}
	if spender, ok := auth["spender"].(string); ok {
		payload.Authorization.Spender = spender
	}

	return payload, nil
}

// ClientEvmSigner defines the interface for client-side EVM signing operations
type ClientEvmSigner interface {
	// Address returns the signer's Ethereum address
	Address() string

	// SignTypedData signs EIP-712 typed data
	SignTypedData(ctx context.Context, domain TypedDataDomain, types map[string][]TypedDataField, primaryType string, message map[string]interface{}) ([]byte, error)
}

// ClientEvmTxSigner is an optional capability for signers that can sign raw
// EIP-1559 transactions. The exact-legacy client uses it to pre-sign the
// approve transaction the facilitator broadcasts during settlement. Gate
// behind a type assertion; typed-data-only signers simply skip the approval.
type ClientEvmTxSigner interface {
	Address() string

	// GetTransactionCount returns the pending account nonce.
	GetTransactionCount(ctx context.Context, address string) (uint64, error)

	// EstimateFeesPerGas returns EIP-1559 fee cap and priority fee estimates.
	EstimateFeesPerGas(ctx context.Context) (maxFeePerGas *big.Int, maxPriorityFeePerGas *big.Int, err error)

	// SignTransaction signs the transaction and returns RLP-encoded bytes.
	SignTransaction(ctx context.Context, tx *gethtypes.Transaction) ([]byte, error)
}

// FacilitatorEvmSigner defines the interface for facilitator EVM operations.
// Supports multiple addresses for load balancing and key rotation.
type FacilitatorEvmSigner interface {
	// GetAddresses returns all addresses this facilitator can use for signing
	GetAddresses() []string

	// ReadContract reads data from a smart contract
	ReadContract(ctx context.Context, address string, abi []byte, functionName string, args ...interface{}) (interface{}, error)

	// VerifyTypedData verifies an EIP-712 signature
	VerifyTypedData(ctx context.Context, address string, domain TypedDataDomain, types map[string][]TypedDataField, primaryType string, message map[string]interface{}, signature []byte) (bool, error)

	// WriteContract executes a smart contract transaction
	WriteContract(ctx context.Context, address string, abi []byte, functionName string, args ...interface{}) (string, error)

	// SendRawTransaction broadcasts a pre-signed RLP-encoded transaction
	SendRawTransaction(ctx context.Context, rlpBytes []byte) (string, error)

	// WaitForTransactionReceipt waits for a transaction to be mined
	WaitForTransactionReceipt(ctx context.Context, txHash string) (*TransactionReceipt, error)

	// GetBalance gets the balance of an address for a specific token
	GetBalance(ctx context.Context, address string, tokenAddress string) (*big.Int, error)

	// GetChainID returns the chain ID of the connected network
	GetChainID(ctx context.Context) (*big.Int, error)
}

// TypedDataDomain represents the EIP-712 domain separator
type TypedDataDomain struct {
	Name              string   `json:"name"`
	Version           string   `json:"version"`
	ChainID           *big.Int `json:"chainId"`
	VerifyingContract string   `json:"verifyingContract"`
}

// TypedDataField represents a field in EIP-712 typed data
type TypedDataField struct {
	Name string `json:"name"`
	Type string `json:"type"`
}

// TransactionReceipt represents the receipt of a mined transaction
type TransactionReceipt struct {
	Status      uint64 `json:"status"`
	BlockNumber uint64 `json:"blockNumber"`
	TxHash      string `json:"transactionHash"`
}

// AssetInfo contains information about an ERC20 token
type AssetInfo struct {
	Address  string
	Name     string // EIP-712 domain name
	Version  string // EIP-712 domain version
	Decimals int

	// SupportsEIP3009 marks tokens with native transferWithAuthorization.
	// Tokens without it settle through the exact-legacy or upto schemes.
	SupportsEIP3009 bool
}

// NetworkConfig contains network-specific configuration
type NetworkConfig struct {
	ChainID      *big.Int
	DefaultAsset AssetInfo
	Assets       map[string]AssetInfo // address (lowercase) -> info
}
