// Package ton carries the shared types for jetton payments on TON: the exact
// scheme payload, the client and facilitator signer capabilities, and the
// network registry. Scheme implementations live in subpackages.
package ton

import (
	"context"
	"encoding/json"
	"fmt"
)

// ExactTonPayload is the exact scheme wire payload for TON.
type ExactTonPayload struct {
	// SignedBoc is the base64-encoded signed external message.
	SignedBoc string `json:"signedBoc"`

	// Authorization restates the transfer so the facilitator can check the
	// parsed BOC against what the client claims to have signed.
	Authorization ExactTonAuthorization `json:"authorization"`
}

// ExactTonAuthorization is the transfer metadata inside an exact payload.
type ExactTonAuthorization struct {
	// From is the sender wallet in friendly format.
	From string `json:"from"`
	To   string `json:"to"`
	// JettonMaster is the jetton master contract address.
	JettonMaster string `json:"jettonMaster"`
	// JettonAmount is the amount in smallest units, as a string.
	JettonAmount string `json:"jettonAmount"`
	// TonAmount is the attached gas in nanoTON, as a string.
	TonAmount string `json:"tonAmount"`
	// ValidUntil is the Unix second after which the message is invalid.
	ValidUntil int64 `json:"validUntil"`
	// Seqno is the wallet sequence number; it doubles as replay protection.
	Seqno int64 `json:"seqno"`
	// QueryId is the unique message id, as a string.
	QueryId string `json:"queryId"`
}

// ToMap converts the payload to the generic wire map.
func (p *ExactTonPayload) ToMap() map[string]interface{} {
	return map[string]interface{}{
		"signedBoc": p.SignedBoc,
		"authorization": map[string]interface{}{
			"from":         p.Authorization.From,
			"to":           p.Authorization.To,
			"jettonMaster": p.Authorization.JettonMaster,
			"jettonAmount": p.Authorization.JettonAmount,
			"tonAmount":    p.Authorization.TonAmount,
			"validUntil":   p.Authorization.ValidUntil,
			"seqno":        p.Authorization.Seqno,
			"queryId":      p.Authorization.QueryId,
		},
	}
}

// PayloadFromMap decodes the generic wire map into an ExactTonPayload.
func PayloadFromMap(data map[string]interface{}) (*ExactTonPayload, error) {
	jsonBytes, err := json.Marshal(data)
	if err != nil {
		return nil, fmt.Errorf("failed to marshal payload data: %w", err)
	}

	var payload ExactTonPayload
	if err := json.Unmarshal(jsonBytes, &payload); err != nil {
		return nil, fmt.Errorf("failed to unmarshal payload: %w", err)
	}
	if payload.SignedBoc == "" {
		return nil, fmt.Errorf("missing signedBoc field in payload")
	}
	if payload.Authorization.From == "" {
		return nil, fmt.Errorf("missing authorization.from field in payload")
	}
	return &payload, nil
}

// ClientTonSigner is the wallet capability an exact scheme client needs.
type ClientTonSigner interface {
	// Address returns the wallet address in friendly format.
	Address() string

	// GetSeqno returns the current wallet sequence number.
	GetSeqno(ctx context.Context) (int64, error)

	// SignMessage signs a jetton transfer and returns the external message
	// as a base64 BOC.
	SignMessage(ctx context.Context, params SignMessageParams) (string, error)
}

// JettonWalletResolver resolves the jetton wallet address an owner holds
// under a jetton master. Clients typically back this with a toncenter
// get_wallet_address call.
type JettonWalletResolver func(ctx context.Context, ownerAddress, jettonMaster string) (string, error)

// TransferBodyBuilder serializes a TEP-74 jetton transfer body into a base64
// BOC. Cell encoding stays behind this function so the scheme carries no TON
// serialization dependency.
type TransferBodyBuilder func(body JettonTransferBody) (string, error)

// JettonTransferBody is the TEP-74 transfer internal message body.
type JettonTransferBody struct {
	QueryId uint64
	// Amount in jetton smallest units.
	Amount      string
	Destination string
	// ResponseDestination receives the excess TON.
	ResponseDestination string
	ForwardTonAmount    uint64
}

// SignMessageParams describes the external message to sign.
type SignMessageParams struct {
	// To is the sender's jetton wallet address.
	To string
	// Value is the attached gas in nanoTON.
	Value uint64
	// Body is the jetton transfer body as a base64 BOC.
	Body string
	// Timeout is the message validity in seconds.
	Timeout int64
}

// FacilitatorTonSigner is the chain-access capability a facilitator needs.
// Implementations wrap a TON API provider; the scheme never talks to the
// chain directly.
type FacilitatorTonSigner interface {
	GetAddresses(ctx context.Context, network string) []string
	GetJettonBalance(ctx context.Context, params GetJettonBalanceParams) (string, error)
	GetJettonWalletAddress(ctx context.Context, params GetJettonWalletParams) (string, error)

	// VerifyMessage parses a signed BOC and checks the embedded transfer
	// against expectations. Parse or mismatch outcomes come back in the
	// result, not as errors.
	VerifyMessage(ctx context.Context, params VerifyMessageParams) (*VerifyMessageResult, error)

	// SendExternalMessage broadcasts a pre-signed message and returns its hash.
	SendExternalMessage(ctx context.Context, signedBoc string, network string) (string, error)

	// WaitForTransaction waits until the wallet's seqno advances past the
	// message's seqno.
	WaitForTransaction(ctx context.Context, params WaitForTransactionParams) (*TransactionConfirmation, error)

	GetSeqno(ctx context.Context, address string, network string) (int64, error)
	IsDeployed(ctx context.Context, address string, network string) (bool, error)
}

// GetJettonBalanceParams identifies a jetton balance to read.
type GetJettonBalanceParams struct {
	OwnerAddress        string
	JettonMasterAddress string
	Network             string
}

// GetJettonWalletParams identifies a jetton wallet to resolve.
type GetJettonWalletParams struct {
	OwnerAddress        string
	JettonMasterAddress string
	Network             string
}

// VerifyMessageParams describes what a signed BOC must contain.
type VerifyMessageParams struct {
	SignedBoc        string
	ExpectedFrom     string
	ExpectedTransfer ExpectedTransfer
	Network          string
}

// ExpectedTransfer is the transfer a verified BOC must carry.
type ExpectedTransfer struct {
	JettonAmount string
	Destination  string
	JettonMaster string
}

// VerifyMessageResult reports BOC verification.
type VerifyMessageResult struct {
	Valid    bool          `json:"valid"`
	Reason   string        `json:"reason,omitempty"`
	Transfer *TransferInfo `json:"transfer,omitempty"`
}

// TransferInfo is the transfer parsed out of a BOC.
type TransferInfo struct {
	From         string `json:"from"`
	To           string `json:"to"`
	JettonAmount string `json:"jettonAmount"`
	QueryId      string `json:"queryId"`
}

// WaitForTransactionParams describes a seqno confirmation wait.
type WaitForTransactionParams struct {
	Address string
	Seqno   int64
	Timeout int64
	Network string
}

// TransactionConfirmation is the outcome of a confirmation wait.
type TransactionConfirmation struct {
	Success bool   `json:"success"`
	Lt      string `json:"lt,omitempty"`
	Hash    string `json:"hash,omitempty"`
	Error   string `json:"error,omitempty"`
}

// AssetInfo describes a jetton.
type AssetInfo struct {
	MasterAddress string
	Symbol        string
	Name          string
	Decimals      int
}

// NetworkConfig is the static configuration for one TON network.
type NetworkConfig struct {
	Name            string
	CAIP2           string
	Endpoint        string
	DefaultAsset    AssetInfo
	SupportedAssets map[string]AssetInfo
}

// IsValidNetwork reports whether the network is a supported TON network.
func IsValidNetwork(network string) bool {
	_, ok := NetworkConfigs[network]
	return ok
}
