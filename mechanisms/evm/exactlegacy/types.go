// Package exactlegacy implements the exact-legacy payment scheme for ERC-20
// tokens without native meta-transfer support (no EIP-3009). The client signs
// an authorization binding a spender (the facilitator) plus, when the signer
// supports raw transactions, a pre-signed approve transaction. Settlement is
// two transactions: broadcast the approve when the on-chain allowance is
// insufficient, then transferFrom. Approve and transfer cannot be combined
// atomically on plain ERC-20 tokens.
package exactlegacy

import (
	"fmt"

	"github.com/t402-io/t402/go/mechanisms/evm"
)

// LegacyPayload is the exact-legacy wire payload: the spender-bound
// authorization and signature, plus an optional pre-signed approve
// transaction (RLP hex) for the facilitator to broadcast.
type LegacyPayload struct {
	Signature      string
	Authorization  evm.ExactEIP3009Authorization
	SignedApproval string
}

// ToMap converts the payload for JSON marshaling.
func (p *LegacyPayload) ToMap() map[string]interface{} {
	inner := &evm.ExactEIP3009Payload{
		Signature:     p.Signature,
		Authorization: p.Authorization,
	}
	result := inner.ToMap()
	if p.SignedApproval != "" {
		result["signedApproval"] = p.SignedApproval
	}
	return result
}

// PayloadFromMap parses an exact-legacy payload. The spender field is
// mandatory; its absence distinguishes a plain exact payload sent to the
// wrong scheme.
func PayloadFromMap(data map[string]interface{}) (*LegacyPayload, error) {
	inner, err := evm.PayloadFromMap(data)
	if err != nil {
		return nil, err
	}
	if inner.Authorization.Spender == "" {
		return nil, fmt.Errorf("missing authorization.spender field")
	}

	payload := &LegacyPayload{
		Signature:     inner.Signature,
		Authorization: inner.Authorization,
	}
	if approval, ok := data["signedApproval"].(string); ok {
		payload.SignedApproval = approval
	}
	return payload, nil
}
