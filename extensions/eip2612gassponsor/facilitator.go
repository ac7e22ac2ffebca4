package eip2612gassponsor

import (
	"encoding/json"
	"fmt"
	"regexp"

	"github.com/t402-io/t402/go/types"
)

var (
	addressPattern = regexp.MustCompile(`^0x[a-fA-F0-9]{40}$`)
	numericPattern = regexp.MustCompile(`^[0-9]+$`)
	hexPattern     = regexp.MustCompile(`^0x[a-fA-F0-9]+$`)
	versionPattern = regexp.MustCompile(`^[0-9]+(\.[0-9]+)*$`)
)

// ExtractEip2612GasSponsoringInfo pulls the client-populated permit out of an
// extensions map. Returns nil when the extension is absent or still carries
// only the server-side declaration.
func ExtractEip2612GasSponsoringInfo(extensions map[string]interface{}) (*Info, error) {
	raw, ok := extensions[EIP2612GasSponsoring]
	if !ok {
		return nil, nil
	}

	data, err := json.Marshal(raw)
	if err != nil {
		return nil, fmt.Errorf("failed to marshal %s extension: %w", EIP2612GasSponsoring, err)
	}

	var ext struct {
		Info Info `json:"info"`
	}
	if err := json.Unmarshal(data, &ext); err != nil {
		return nil, fmt.Errorf("failed to unmarshal %s extension: %w", EIP2612GasSponsoring, err)
	}

	if !clientPopulated(ext.Info) {
		return nil, nil
	}
	return &ext.Info, nil
}

// ExtractEip2612GasSponsoringInfoFromPayloadBytes extracts the permit from raw
// payment payload bytes at the network boundary.
func ExtractEip2612GasSponsoringInfoFromPayloadBytes(payloadBytes []byte) (*Info, error) {
	if _, err := types.DetectVersion(payloadBytes); err != nil {
		return nil, err
	}
	payload, err := types.ToPaymentPayload(payloadBytes)
	if err != nil {
		return nil, err
	}
	return ExtractEip2612GasSponsoringInfo(payload.Extensions)
}

// clientPopulated reports whether every field a client must fill is present.
// A server declaration decodes to zero values here and is skipped.
func clientPopulated(info Info) bool {
	return info.From != "" && info.Asset != "" && info.Spender != "" &&
		info.Amount != "" && info.Nonce != "" && info.Deadline != "" &&
		info.Signature != "" && info.Version != ""
}

// ValidateEip2612GasSponsoringInfo checks field formats: addresses, decimal
// amounts, hex signature and dotted version.
func ValidateEip2612GasSponsoringInfo(info *Info) bool {
	return addressPattern.MatchString(info.From) &&
		addressPattern.MatchString(info.Asset) &&
		addressPattern.MatchString(info.Spender) &&
		numericPattern.MatchString(info.Amount) &&
		numericPattern.MatchString(info.Nonce) &&
		numericPattern.MatchString(info.Deadline) &&
		hexPattern.MatchString(info.Signature) &&
		versionPattern.MatchString(info.Version)
}
