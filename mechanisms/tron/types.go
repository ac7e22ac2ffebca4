// Package tron carries the shared types for TRC-20 payments on TRON: the
// exact scheme payload, the signer capabilities and the network registry.
// Scheme implementations live in subpackages.
package tron

import (
	"context"
	"encoding/json"
	"fmt"
)

// ExactTronPayload is the exact scheme wire payload for TRON.
type ExactTronPayload struct {
	// SignedTransaction is the hex-encoded fully signed transaction.
	SignedTransaction string `json:"signedTransaction"`

	// Authorization restates the transfer so the facilitator can check the
	// parsed transaction against what the client claims to have signed.
	Authorization ExactTronAuthorization `json:"authorization"`
}

// ExactTronAuthorization is the transfer metadata inside an exact payload.
type ExactTronAuthorization struct {
	// From is the sender address in T-prefix base58check format.
	From string `json:"from"`
	To   string `json:"to"`
	// ContractAddress is the TRC-20 contract address.
	ContractAddress string `json:"contractAddress"`
	// Amount in smallest units, as a string.
	Amount string `json:"amount"`
	// Expiration is a Unix millisecond timestamp.
	Expiration int64 `json:"expiration"`
	// RefBlockBytes and RefBlockHash pin the transaction to a recent block;
	// the chain rejects the transaction once the reference falls out of range.
	RefBlockBytes string `json:"refBlockBytes"`
	RefBlockHash  string `json:"refBlockHash"`
	// Timestamp is a Unix millisecond timestamp.
	Timestamp int64 `json:"timestamp"`
}

// ToMap converts the payload to the generic wire map.
func (p *ExactTronPayload) ToMap() map[string]interface{} {
	return map[string]interface{}{
		"signedTransaction": p.SignedTransaction,
		"authorization": map[string]interface{}{
			"from":            p.Authorization.From,
			"to":              p.Authorization.To,
			"contractAddress": p.Authorization.ContractAddress,
			"amount":          p.Authorization.Amount,
			"expiration":      p.Authorization.Expiration,
			"refBlockBytes":   p.Authorization.RefBlockBytes,
			"refBlockHash":    p.Authorization.RefBlockHash,
			"timestamp":       p.Authorization.Timestamp,
		},
	}
}

// PayloadFromMap decodes the generic wire map into an ExactTronPayload.
func PayloadFromMap(data map[string]interface{}) (*ExactTronPayload, error) {
	jsonBytes, err := json.Marshal(data)
	if err != nil {
		return nil, fmt.Errorf("failed to marshal payload data: %w", err)
	}

	var payload ExactTronPayload
	if err := json.Unmarshal(jsonBytes, &payload); err != nil {
		return nil, fmt.Errorf("failed to unmarshal payload: %w", err)
	}
	if payload.SignedTransaction == "" {
		return nil, fmt.Errorf("missing signedTransaction field in payload")
	}
	if payload.Authorization.From == "" {
		return nil, fmt.Errorf("missing authorization.from field in payload")
	}
	return &payload, nil
}

// ClientTronSigner is the wallet capability an exact scheme client needs.
type ClientTronSigner interface {
	// Address returns the wallet address in T-prefix base58check format.
	Address() string

	// GetBlockInfo returns recent block data for transaction building.
	GetBlockInfo(ctx context.Context) (*BlockInfo, error)

	// SignTransaction builds and signs a TRC-20 transfer, returning the
	// hex-encoded signed transaction.
	SignTransaction(ctx context.Context, params SignTransactionParams) (string, error)
}

// BlockInfo pins a transaction to a recent block.
type BlockInfo struct {
	RefBlockBytes string `json:"refBlockBytes"`
	RefBlockHash  string `json:"refBlockHash"`
	// Expiration is a Unix millisecond timestamp.
	Expiration int64 `json:"expiration"`
	Timestamp  int64 `json:"timestamp"`
}

// SignTransactionParams describes the TRC-20 transfer to sign.
type SignTransactionParams struct {
	ContractAddress string
	To              string
	// Amount in smallest units.
	Amount string
	// FeeLimit in SUN.
	FeeLimit   int64
	Expiration int64
}

// FacilitatorTronSigner is the chain-access capability a facilitator needs.
type FacilitatorTronSigner interface {
	GetAddresses(ctx context.Context, network string) []string
	GetBalance(ctx context.Context, params GetBalanceParams) (string, error)

	// VerifyTransaction parses a signed transaction and checks the embedded
	// transfer against expectations. Parse or mismatch outcomes come back in
	// the result, not as errors.
	VerifyTransaction(ctx context.Context, params VerifyTransactionParams) (*VerifyTransactionResult, error)

	// BroadcastTransaction submits a signed transaction and returns its id.
	BroadcastTransaction(ctx context.Context, signedTransaction string, network string) (string, error)

	WaitForTransaction(ctx context.Context, params WaitForTransactionParams) (*TransactionConfirmation, error)

	// IsActivated reports whether an account exists on chain. TRC-20
	// transfers from never-activated accounts fail.
	IsActivated(ctx context.Context, address string, network string) (bool, error)
}

// GetBalanceParams identifies a TRC-20 balance to read.
type GetBalanceParams struct {
	OwnerAddress    string
	ContractAddress string
	Network         string
}

// VerifyTransactionParams describes what a signed transaction must contain.
type VerifyTransactionParams struct {
	SignedTransaction string
	ExpectedFrom      string
	ExpectedTransfer  ExpectedTransfer
	Network           string
}

// ExpectedTransfer is the transfer a verified transaction must carry.
type ExpectedTransfer struct {
	To              string
	ContractAddress string
	Amount          string
}

// VerifyTransactionResult reports transaction verification.
type VerifyTransactionResult struct {
	Valid    bool          `json:"valid"`
	Reason   string        `json:"reason,omitempty"`
	Transfer *TransferInfo `json:"transfer,omitempty"`
}

// TransferInfo is the transfer parsed out of a signed transaction.
type TransferInfo struct {
	From            string `json:"from"`
	To              string `json:"to"`
	ContractAddress string `json:"contractAddress"`
	Amount          string `json:"amount"`
	TxId            string `json:"txId"`
}

// WaitForTransactionParams describes a confirmation wait.
type WaitForTransactionParams struct {
	TxId    string
	Network string
	Timeout int64
}

// TransactionConfirmation is the outcome of a confirmation wait.
type TransactionConfirmation struct {
	Success     bool   `json:"success"`
	TxId        string `json:"txId,omitempty"`
	BlockNumber int64  `json:"blockNumber,omitempty"`
	Error       string `json:"error,omitempty"`
}

// AssetInfo describes a TRC-20 token.
type AssetInfo struct {
	ContractAddress string
	Symbol          string
	Name            string
	Decimals        int
}

// NetworkConfig is the static configuration for one TRON network.
type NetworkConfig struct {
	Name            string
	CAIP2           string
	Endpoint        string
	DefaultAsset    AssetInfo
	SupportedAssets map[string]AssetInfo
}

// IsValidNetwork reports whether the network is a supported TRON network.
func IsValidNetwork(network string) bool {
	_, ok := NetworkConfigs[network]
	return ok
}
