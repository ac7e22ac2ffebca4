// Package http carries the protocol's HTTP boundary: the facilitator client,
// payment header codecs and request validation. Server-side middleware lives
// in pkg/gin and pkg/echo.
package http

import (
	"encoding/base64"
	"encoding/json"
	"fmt"

	"github.com/t402-io/t402/go/types"
)

// Payment protocol headers.
const (
	// PaymentHeader carries the base64-encoded payment payload from client
	// to resource server.
	PaymentHeader = "X-Payment"

	// PaymentResponseHeader carries the base64-encoded settle response back
	// to the client.
	PaymentResponseHeader = "X-Payment-Response"
)

// EncodePaymentHeader serializes a payment payload for the X-Payment header.
func EncodePaymentHeader(payload types.PaymentPayload) (string, error) {
	raw, err := json.Marshal(payload)
	if err != nil {
		return "", fmt.Errorf("failed to marshal payment payload: %w", err)
	}
	return base64.StdEncoding.EncodeToString(raw), nil
}

// DecodePaymentHeader validates and decodes an X-Payment header: base64,
// JSON, and the required envelope fields.
func DecodePaymentHeader(header string) (*types.PaymentPayload, error) {
	if header == "" {
		return nil, fmt.Errorf("payment header is empty")
	}

	decoded, err := base64.StdEncoding.DecodeString(header)
	if err != nil {
		return nil, fmt.Errorf("invalid payment header: not valid base64: %w", err)
	}

	var raw map[string]interface{}
	if err := json.Unmarshal(decoded, &raw); err != nil {
		return nil, fmt.Errorf("invalid payment header: not valid JSON: %w", err)
	}

	version, ok := raw["t402Version"].(float64)
	if !ok {
		return nil, fmt.Errorf("invalid payment header: t402Version must be a number")
	}
	if int(version) < types.T402VersionV1 {
		return nil, fmt.Errorf("invalid payment header: unsupported t402Version %d", int(version))
	}
	if _, ok := raw["payload"].(map[string]interface{}); !ok {
		return nil, fmt.Errorf("invalid payment header: payload must be an object")
	}
	if _, ok := raw["accepted"].(map[string]interface{}); !ok {
		return nil, fmt.Errorf("invalid payment header: accepted must be an object")
	}

	var payload types.PaymentPayload
	if err := json.Unmarshal(decoded, &payload); err != nil {
		return nil, fmt.Errorf("failed to parse payment payload: %w", err)
	}
	return &payload, nil
}

// EncodeSettleResponseHeader serializes a settle response for the
// X-Payment-Response header.
func EncodeSettleResponseHeader(response types.SettleResponse) (string, error) {
	raw, err := json.Marshal(response)
	if err != nil {
		return "", fmt.Errorf("failed to marshal settle response: %w", err)
	}
	return base64.StdEncoding.EncodeToString(raw), nil
}

// DecodeSettleResponseHeader decodes an X-Payment-Response header.
func DecodeSettleResponseHeader(header string) (*types.SettleResponse, error) {
	decoded, err := base64.StdEncoding.DecodeString(header)
	if err != nil {
		return nil, fmt.Errorf("invalid payment response header: %w", err)
	}
	var response types.SettleResponse
	if err := json.Unmarshal(decoded, &response); err != nil {
		return nil, fmt.Errorf("failed to parse settle response: %w", err)
	}
	return &response, nil
}
