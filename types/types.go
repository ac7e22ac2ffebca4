package types

import (
	"encoding/json"
	"fmt"
)

// Protocol version tags. Version 1 and 2 payloads carry identical scheme
// payload semantics; the tag only changes how middleware frames the envelope.
// New payloads are always emitted with T402Version.
const (
	T402VersionV1 = 1
	T402Version   = 2
)

// PaymentRequirements defines what payment is acceptable for a resource.
// Issued by a resource server and consumed once per payment attempt.
type PaymentRequirements struct {
	Scheme  string  `json:"scheme"`
	Network Network `json:"network"`
	Asset   string  `json:"asset"`

	// Amount is the exact amount in the asset's smallest denomination,
	// string-encoded. Used by the exact and exact-legacy schemes.
	Amount string `json:"amount,omitempty"`

	// MaxAmount and MinAmount bound the settlement amount for the upto
	// scheme. Settlement may land anywhere in [MinAmount, MaxAmount].
	MaxAmount string `json:"maxAmount,omitempty"`
	MinAmount string `json:"minAmount,omitempty"`

	PayTo             string                 `json:"payTo"`
	MaxTimeoutSeconds int                    `json:"maxTimeoutSeconds"`
	Extra             map[string]interface{} `json:"extra,omitempty"`
}

// PaymentPayload contains the signed payment authorization from a client.
// Payload is scheme-specific; mechanisms own its shape via ToMap/PayloadFromMap.
type PaymentPayload struct {
	T402Version int                    `json:"t402Version"`
	Payload     map[string]interface{} `json:"payload"`
	Accepted    PaymentRequirements    `json:"accepted"`
	Resource    *ResourceInfo          `json:"resource,omitempty"`
	Extensions  map[string]interface{} `json:"extensions,omitempty"`
}

// ResourceInfo describes the resource being accessed.
type ResourceInfo struct {
	URL         string `json:"url"`
	Description string `json:"description,omitempty"`
	MimeType    string `json:"mimeType,omitempty"`
}

// PaymentRequired is the 402 response body sent to clients.
type PaymentRequired struct {
	T402Version int                    `json:"t402Version"`
	Error       string                 `json:"error,omitempty"`
	Resource    *ResourceInfo          `json:"resource,omitempty"`
	Accepts     []PaymentRequirements  `json:"accepts"`
	Extensions  map[string]interface{} `json:"extensions,omitempty"`
}

// VerifyRequest contains the payment to verify.
type VerifyRequest struct {
	T402Version         int                 `json:"t402Version"`
	PaymentPayload      PaymentPayload      `json:"paymentPayload"`
	PaymentRequirements PaymentRequirements `json:"paymentRequirements"`
}

// VerifyResponse contains the verification result. Authorization failures are
// reported through IsValid/InvalidReason, never as transport errors.
type VerifyResponse struct {
	IsValid        bool   `json:"isValid"`
	InvalidReason  string `json:"invalidReason,omitempty"`
	InvalidMessage string `json:"invalidMessage,omitempty"`
	Payer          string `json:"payer,omitempty"`
}

// SettleRequest contains the payment to settle.
type SettleRequest struct {
	T402Version         int                 `json:"t402Version"`
	PaymentPayload      PaymentPayload      `json:"paymentPayload"`
	PaymentRequirements PaymentRequirements `json:"paymentRequirements"`
}

// SettleResponse contains the settlement result.
type SettleResponse struct {
	Success     bool   `json:"success"`
	ErrorReason string `json:"errorReason,omitempty"`
	Transaction string `json:"transaction,omitempty"`
	Network     string `json:"network,omitempty"`
	Payer       string `json:"payer,omitempty"`

	// Settlement carries upto usage accounting; nil for exact schemes.
	Settlement *Settlement `json:"settlement,omitempty"`
}

// Settlement records what an upto payment actually settled for.
type Settlement struct {
	SettleAmount string        `json:"settleAmount"`
	UsageDetails *UsageDetails `json:"usageDetails,omitempty"`
}

// UsageDetails itemizes usage-based billing behind an upto settlement.
type UsageDetails struct {
	Unit          string `json:"unit"`
	UnitsConsumed string `json:"unitsConsumed"`
	UnitPrice     string `json:"unitPrice,omitempty"`
}

// SupportedKind identifies one (version, scheme, network) combination a
// facilitator can serve.
type SupportedKind struct {
	T402Version int                    `json:"t402Version"`
	Scheme      string                 `json:"scheme"`
	Network     string                 `json:"network"`
	Extra       map[string]interface{} `json:"extra,omitempty"`
}

// SupportedResponse is the facilitator /supported response.
type SupportedResponse struct {
	Kinds      []SupportedKind     `json:"kinds"`
	Extensions []string            `json:"extensions,omitempty"`
	Signers    map[string][]string `json:"signers,omitempty"`
}

// DetectVersion sniffs the protocol version tag from raw JSON at the network
// boundary without committing to a full unmarshal.
func DetectVersion(data []byte) (int, error) {
	var probe struct {
		T402Version *int `json:"t402Version"`
	}
	if err := json.Unmarshal(data, &probe); err != nil {
		return 0, fmt.Errorf("failed to parse payload: %w", err)
	}
	if probe.T402Version == nil {
		return 0, fmt.Errorf("missing t402Version field")
	}
	switch *probe.T402Version {
	case T402VersionV1, T402Version:
		return *probe.T402Version, nil
	default:
		return 0, fmt.Errorf("unsupported t402 version: %d", *probe.T402Version)
	}
}

// ToPaymentPayload unmarshals bytes to a payment payload.
func ToPaymentPayload(data []byte) (*PaymentPayload, error) {
	var payload PaymentPayload
	if err := json.Unmarshal(data, &payload); err != nil {
		return nil, err
	}
	return &payload, nil
}

// ToPaymentRequirements unmarshals bytes to payment requirements.
func ToPaymentRequirements(data []byte) (*PaymentRequirements, error) {
	var requirements PaymentRequirements
	if err := json.Unmarshal(data, &requirements); err != nil {
		return nil, err
	}
	return &requirements, nil
}

// ToPaymentRequired unmarshals bytes to a 402 payment-required response.
func ToPaymentRequired(data []byte) (*PaymentRequired, error) {
	var required PaymentRequired
	if err := json.Unmarshal(data, &required); err != nil {
		return nil, err
	}
	return &required, nil
}
