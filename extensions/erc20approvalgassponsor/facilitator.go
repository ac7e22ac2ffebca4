package erc20approvalgassponsor

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

// ExtractErc20ApprovalGasSponsoringInfo pulls the client-populated approval
// out of an extensions map. Returns nil when the extension is absent or still
// carries only the server-side declaration.
func ExtractErc20ApprovalGasSponsoringInfo(extensions map[string]interface{}) (*Info, error) {
	raw, ok := extensions[ERC20ApprovalGasSponsoring]
	if !ok {
		return nil, nil
	}

	data, err := json.Marshal(raw)
	if err != nil {
		return nil, fmt.Errorf("failed to marshal %s extension: %w", ERC20ApprovalGasSponsoring, err)
	}

	var ext struct {
		Info Info `json:"info"`
	}
	if err := json.Unmarshal(data, &ext); err != nil {
		return nil, fmt.Errorf("failed to unmarshal %s extension: %w", ERC20ApprovalGasSponsoring, err)
	}

	if !clientPopulated(ext.Info) {
		return nil, nil
	}
	return &ext.Info, nil
}

// ExtractErc20ApprovalGasSponsoringInfoFromPayloadBytes extracts the approval
// from raw payment payload bytes at the network boundary.
func ExtractErc20ApprovalGasSponsoringInfoFromPayloadBytes(payloadBytes []byte) (*Info, error) {
	if _, err := types.DetectVersion(payloadBytes); err != nil {
		return nil, err
	}
	payload, err := types.ToPaymentPayload(payloadBytes)
	if err != nil {
		return nil, err
	}
	return ExtractErc20ApprovalGasSponsoringInfo(payload.Extensions)
}

// clientPopulated reports whether every field a client must fill is present.
// A server declaration decodes to zero values here and is skipped.
func clientPopulated(info Info) bool {
	return info.From != "" && info.Asset != "" && info.Spender != "" &&
		info.Amount != "" && info.SignedTransaction != "" && info.Version != ""
}

// ValidateErc20ApprovalGasSponsoringInfo checks field formats: addresses,
// decimal amount, hex-encoded signed transaction and dotted version.
func ValidateErc20ApprovalGasSponsoringInfo(info *Info) bool {
	return addressPattern.MatchString(info.From) &&
		addressPattern.MatchString(info.Asset) &&
		addressPattern.MatchString(info.Spender) &&
		numericPattern.MatchString(info.Amount) &&
		hexPattern.MatchString(info.SignedTransaction) &&
		versionPattern.MatchString(info.Version)
}
