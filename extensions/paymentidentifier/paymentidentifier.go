// Package paymentidentifier implements the paymentIdentifier protocol
// extension: a client-supplied id that lets resource servers and facilitators
// correlate a payment across retries, receipts and support tickets.
//
// Servers declare the extension (optionally required) in the 402 response;
// clients echo an id back inside the payment payload's extensions.
package paymentidentifier

import (
	"crypto/sha256"
	"encoding/hex"
	"encoding/json"
	"fmt"
	"regexp"
	"strings"

	"github.com/google/uuid"

	t402 "github.com/t402-io/t402/go"
	"github.com/t402-io/t402/go/types"
)

// ExtensionName is the key under which the extension travels in the
// extensions map of PaymentRequired and PaymentPayload.
const ExtensionName = "paymentIdentifier"

// Payment id format bounds.
const (
	IDMinLength = 16
	IDMaxLength = 128
)

var idPattern = regexp.MustCompile(`^[a-zA-Z0-9_-]+$`)

// Info is the extension body. Servers set Required; clients set ID.
type Info struct {
	Required bool   `json:"required"`
	ID       string `json:"id,omitempty"`
}

// Extension is the wire form of the paymentIdentifier extension.
type Extension struct {
	Info Info `json:"info"`
}

// ValidationResult reports extension validation problems.
type ValidationResult struct {
	Valid  bool
	Errors []string
}

// Declare returns the extension entry a server puts into
// PaymentRequired.Extensions.
func Declare(required bool) map[string]interface{} {
	return map[string]interface{}{
		ExtensionName: Extension{Info: Info{Required: required}},
	}
}

// Attach returns the extension entry a client puts into
// PaymentPayload.Extensions.
func Attach(id string) map[string]interface{} {
	return map[string]interface{}{
		ExtensionName: Extension{Info: Info{ID: id}},
	}
}

// GeneratePaymentID returns a fresh payment id: prefix followed by a UUID v4
// without hyphens. An empty prefix defaults to "pay_".
func GeneratePaymentID(prefix string) string {
	if prefix == "" {
		prefix = "pay_"
	}
	return prefix + strings.ReplaceAll(uuid.New().String(), "-", "")
}

// IsValidPaymentID reports whether id meets the format rules: 16 to 128
// characters of alphanumerics, hyphens and underscores.
func IsValidPaymentID(id string) bool {
	if len(id) < IDMinLength || len(id) > IDMaxLength {
		return false
	}
	return idPattern.MatchString(id)
}

// PayloadFingerprint hashes a payload deterministically, so two submissions
// carrying the same payment id can be told apart when their content differs.
func PayloadFingerprint(payload t402.PaymentPayload) (string, error) {
	data, err := json.Marshal(payload)
	if err != nil {
		return "", fmt.Errorf("failed to marshal payload: %w", err)
	}
	hash := sha256.Sum256(data)
	return hex.EncodeToString(hash[:]), nil
}

// ExtractPaymentID returns the payment id carried in the payload's
// extensions, or empty when absent. With validate set, a malformed id is an
// error instead of a value.
func ExtractPaymentID(payload t402.PaymentPayload, validate bool) (string, error) {
	ext, ok := extensionFrom(payload.Extensions)
	if !ok {
		return "", nil
	}
	if ext.Info.ID == "" {
		return "", nil
	}
	if validate && !IsValidPaymentID(ext.Info.ID) {
		return "", fmt.Errorf("invalid payment id format")
	}
	return ext.Info.ID, nil
}

// ExtractPaymentIDFromBytes extracts the payment id from raw payload bytes,
// for facilitators working at the network boundary.
func ExtractPaymentIDFromBytes(payloadBytes []byte, validate bool) (string, error) {
	if _, err := types.DetectVersion(payloadBytes); err != nil {
		return "", err
	}
	payload, err := types.ToPaymentPayload(payloadBytes)
	if err != nil {
		return "", err
	}
	return ExtractPaymentID(*payload, validate)
}

// HasPaymentID reports whether the payload carries the extension at all.
func HasPaymentID(payload t402.PaymentPayload) bool {
	_, ok := payload.Extensions[ExtensionName]
	return ok
}

// Validate checks an extension object's structure and, when an id is present,
// its format.
func Validate(extension interface{}) ValidationResult {
	if extension == nil {
		return ValidationResult{Valid: false, Errors: []string{"extension must be an object"}}
	}

	ext, ok := decodeExtension(extension)
	if !ok {
		return ValidationResult{Valid: false, Errors: []string{"extension must have an info object"}}
	}

	if ext.Info.ID != "" && !IsValidPaymentID(ext.Info.ID) {
		return ValidationResult{
			Valid: false,
			Errors: []string{fmt.Sprintf(
				"invalid payment id: must be %d-%d characters of alphanumerics, hyphens and underscores",
				IDMinLength, IDMaxLength)},
		}
	}
	return ValidationResult{Valid: true}
}

// IsRequired reports whether an extension object declares the id mandatory.
func IsRequired(extension interface{}) bool {
	ext, ok := decodeExtension(extension)
	return ok && ext.Info.Required
}

// RequiredByPaymentRequired reports whether a 402 response declares the
// payment id mandatory.
func RequiredByPaymentRequired(paymentRequiredBytes []byte) (bool, error) {
	var paymentRequired struct {
		Extensions map[string]interface{} `json:"extensions"`
	}
	if err := json.Unmarshal(paymentRequiredBytes, &paymentRequired); err != nil {
		return false, fmt.Errorf("failed to unmarshal payment required: %w", err)
	}
	ext, ok := paymentRequired.Extensions[ExtensionName]
	if !ok {
		return false, nil
	}
	return IsRequired(ext), nil
}

// VerifyHook returns a before-verify hook that rejects payments without a
// valid payment id. Register it on a facilitator when the deployment requires
// ids on every payment.
func VerifyHook() t402.FacilitatorBeforeVerifyHook {
	return func(hookCtx t402.FacilitatorVerifyContext) (*t402.FacilitatorBeforeHookResult, error) {
		id, err := ExtractPaymentID(hookCtx.Payload, true)
		if err != nil {
			return &t402.FacilitatorBeforeHookResult{Abort: true, Reason: "invalid_payment_identifier"}, nil
		}
		if id == "" {
			return &t402.FacilitatorBeforeHookResult{Abort: true, Reason: "missing_payment_identifier"}, nil
		}
		return nil, nil
	}
}

func extensionFrom(extensions map[string]interface{}) (Extension, bool) {
	if extensions == nil {
		return Extension{}, false
	}
	raw, ok := extensions[ExtensionName]
	if !ok {
		return Extension{}, false
	}
	return decodeExtension(raw)
}

func decodeExtension(raw interface{}) (Extension, bool) {
	if ext, ok := raw.(Extension); ok {
		return ext, true
	}

	data, err := json.Marshal(raw)
	if err != nil {
		return Extension{}, false
	}
	var probe struct {
		Info *struct {
			Required *bool  `json:"required"`
			ID       string `json:"id"`
		} `json:"info"`
	}
	if err := json.Unmarshal(data, &probe); err != nil || probe.Info == nil || probe.Info.Required == nil {
		return Extension{}, false
	}
	return Extension{Info: Info{Required: *probe.Info.Required, ID: probe.Info.ID}}, true
}
