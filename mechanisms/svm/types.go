package svm

import (
	"context"
	"encoding/json"
	"fmt"

	solana "github.com/gagliardetto/solana-go"
	"github.com/gagliardetto/solana-go/rpc"
)

// ExactSvmPayload is the scheme payload for Solana exact payments: a single
// base64-encoded transaction, partially signed by the payer. The fee payer
// slot is left for the facilitator.
type ExactSvmPayload struct {
	Transaction string `json:"transaction"`
}

// ToMap converts the payload for embedding in a payment payload.
func (p *ExactSvmPayload) ToMap() map[string]interface{} {
	return map[string]interface{}{
		"transaction": p.Transaction,
	}
}

// PayloadFromMap parses an ExactSvmPayload from a payment payload map.
func PayloadFromMap(data map[string]interface{}) (*ExactSvmPayload, error) {
	raw, err := json.Marshal(data)
	if err != nil {
		return nil, fmt.Errorf("failed to marshal payload: %w", err)
	}
	var payload ExactSvmPayload
	if err := json.Unmarshal(raw, &payload); err != nil {
		return nil, fmt.Errorf("failed to parse SVM payload: %w", err)
	}
	if payload.Transaction == "" {
		return nil, fmt.Errorf("missing required field: transaction")
	}
	return &payload, nil
}

// ClientSvmSigner is the capability a payer wallet exposes to the exact
// client. SignTransaction adds the payer's signature in place.
type ClientSvmSigner interface {
	Address() solana.PublicKey
	SignTransaction(tx *solana.Transaction) error
}

// ChainReader is the read-only RPC surface the client needs to assemble a
// transfer. *rpc.Client satisfies it directly.
type ChainReader interface {
	GetAccountInfo(ctx context.Context, account solana.PublicKey) (*rpc.GetAccountInfoResult, error)
	GetLatestBlockhash(ctx context.Context, commitment rpc.CommitmentType) (*rpc.GetLatestBlockhashResult, error)
}

// FacilitatorSvmSigner is the capability interface a facilitator uses to
// simulate, co-sign and submit payment transactions.
type FacilitatorSvmSigner interface {
	// GetAddresses returns the fee payer addresses available on a network.
	GetAddresses(ctx context.Context, network string) []string

	// SignTransaction adds the facilitator's fee payer signature in place.
	SignTransaction(ctx context.Context, tx *solana.Transaction, network string) error

	// SimulateTransaction dry-runs the transaction against current state.
	SimulateTransaction(ctx context.Context, tx *solana.Transaction, network string) (*SimulationResult, error)

	// SendTransaction submits the fully signed transaction.
	SendTransaction(ctx context.Context, tx *solana.Transaction, network string) (solana.Signature, error)

	// WaitForConfirmation blocks until the signature confirms or the timeout
	// elapses.
	WaitForConfirmation(ctx context.Context, params WaitForConfirmationParams) (*TransactionConfirmation, error)
}

// SimulationResult reports the outcome of a transaction simulation.
type SimulationResult struct {
	Success       bool
	Error         string
	UnitsConsumed uint64
}

// WaitForConfirmationParams configures confirmation polling.
type WaitForConfirmationParams struct {
	Signature solana.Signature
	Network   string
	// Timeout in milliseconds.
	Timeout int64
}

// TransactionConfirmation is the result of waiting for a transaction.
type TransactionConfirmation struct {
	Success   bool
	Signature string
	Slot      uint64
	Error     string
}

// TokenTransfer is the SPL transfer extracted from a payment transaction.
// Owner is the paying wallet: the token account authority for a plain
// transfer, the Swig wallet account for a smart-wallet transfer.
type TokenTransfer struct {
	Source      solana.PublicKey
	Mint        solana.PublicKey
	Destination solana.PublicKey
	Owner       solana.PublicKey
	Amount      uint64
	Decimals    uint8
}

// AssetInfo describes an SPL token.
type AssetInfo struct {
	MintAddress string `json:"mintAddress"`
	Symbol      string `json:"symbol"`
	Name        string `json:"name"`
	Decimals    int    `json:"decimals"`
}

// NetworkConfig describes a Solana cluster.
type NetworkConfig struct {
	CAIP2           string
	Name            string
	RPCURL          string
	Testnet         bool
	DefaultAsset    AssetInfo
	SupportedAssets map[string]AssetInfo
}

// IsValidNetwork reports whether the network is a supported Solana cluster,
// in CAIP-2 or shorthand form.
func IsValidNetwork(network string) bool {
	_, err := NormalizeNetwork(network)
	return err == nil
}
