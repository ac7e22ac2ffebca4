// Package upto implements the upto payment scheme for EVM networks using
// EIP-2612 Permit. The client authorizes a maximum spend; the actual
// settlement amount is decided later from usage and must never exceed the
// authorized value. Settlement goes through a router contract that applies
// the permit and transfers in one transaction.
package upto

import (
	"fmt"

	"github.com/t402-io/t402/go/mechanisms/evm"
)

// PermitSignature holds the EIP-2612 permit signature components. The wire
// format keeps v, r, s split (an object, not a 65-byte hex string) — this is
// what distinguishes an upto payload structurally from the exact schemes.
type PermitSignature struct {
	V int    `json:"v"`
	R string `json:"r"`
	S string `json:"s"`
}

// PermitAuthorization holds the EIP-2612 permit parameters. Nonce is the
// token contract's sequential permit nonce for the owner — unlike the exact
// scheme's random 32-byte nonce. Value is the MAXIMUM authorized amount.
type PermitAuthorization struct {
	Owner    string `json:"owner"`
	Spender  string `json:"spender"`
	Value    string `json:"value"`
	Deadline string `json:"deadline"`
	Nonce    int    `json:"nonce"`
}

// EIP2612Payload is the upto wire payload. PaymentNonce is a random value
// identifying the payment attempt for facilitator-side replay tracking.
type EIP2612Payload struct {
	Signature     PermitSignature     `json:"signature"`
	Authorization PermitAuthorization `json:"authorization"`
	PaymentNonce  string              `json:"paymentNonce"`
}

// ToMap converts the payload for JSON marshaling.
func (p *EIP2612Payload) ToMap() map[string]interface{} {
	return map[string]interface{}{
		"signature": map[string]interface{}{
			"v": p.Signature.V,
			"r": p.Signature.R,
			"s": p.Signature.S,
		},
		"authorization": map[string]interface{}{
			"owner":    p.Authorization.Owner,
			"spender":  p.Authorization.Spender,
			"value":    p.Authorization.Value,
			"deadline": p.Authorization.Deadline,
			"nonce":    p.Authorization.Nonce,
		},
		"paymentNonce": p.PaymentNonce,
	}
}

// PayloadFromMap parses an upto payload. All permit fields are required;
// numeric fields accept both float64 (from JSON decoding) and int.
func PayloadFromMap(data map[string]interface{}) (*EIP2612Payload, error) {
	if !IsEIP2612Payload(data) {
		return nil, fmt.Errorf("not an EIP-2612 permit payload")
	}

	payload := &EIP2612Payload{}

	sig := data["signature"].(map[string]interface{})
	v, ok := toInt(sig["v"])
	if !ok {
		return nil, fmt.Errorf("missing or invalid signature.v field")
	}
	payload.Signature.V = v
	if r, ok := sig["r"].(string); ok {
		payload.Signature.R = r
	} else {
		return nil, fmt.Errorf("missing or invalid signature.r field")
	}
	if s, ok := sig["s"].(string); ok {
		payload.Signature.S = s
	} else {
		return nil, fmt.Errorf("missing or invalid signature.s field")
	}

	auth := data["authorization"].(map[string]interface{})
	if owner, ok := auth["owner"].(string); ok {
		payload.Authorization.Owner = owner
	} else {
		return nil, fmt.Errorf("missing or invalid authorization.owner field")
	}
	if spender, ok := auth["spender"].(string); ok {
		payload.Authorization.Spender = spender
	} else {
		return nil, fmt.Errorf("missing or invalid authorization.spender field")
	}
	if value, ok := auth["value"].(string); ok {
		payload.Authorization.Value = value
	} else {
		return nil, fmt.Errorf("missing or invalid authorization.value field")
	}
	if deadline, ok := auth["deadline"].(string); ok {
		payload.Authorization.Deadline = deadline
	} else {
		return nil, fmt.Errorf("missing or invalid authorization.deadline field")
	}
	nonce, ok := toInt(auth["nonce"])
	if !ok {
		return nil, fmt.Errorf("missing or invalid authorization.nonce field")
	}
	payload.Authorization.Nonce = nonce

	if paymentNonce, ok := data["paymentNonce"].(string); ok {
		payload.PaymentNonce = paymentNonce
	}

	return payload, nil
}

// IsEIP2612Payload is the structural guard distinguishing upto payloads from
// the exact schemes. Both conditions are required: the signature must be an
// object carrying v, r and s, AND the authorization must carry the permit
// field set (owner/spender/value/deadline). An object signature paired with
// a from/to authorization is malformed, not an upto payload.
func IsEIP2612Payload(data map[string]interface{}) bool {
	sig, hasSig := data["signature"]
	auth, hasAuth := data["authorization"]
	if !hasSig || !hasAuth {
		return false
	}

	sigMap, ok := sig.(map[string]interface{})
	if !ok {
		return false
	}
	_, hasV := sigMap["v"]
	_, hasR := sigMap["r"]
	_, hasS := sigMap["s"]
	if !hasV || !hasR || !hasS {
		return false
	}

	authMap, ok := auth.(map[string]interface{})
	if !ok {
		return false
	}
	_, hasOwner := authMap["owner"]
	_, hasSpender := authMap["spender"]
	_, hasValue := authMap["value"]
	_, hasDeadline := authMap["deadline"]

	return hasOwner && hasSpender && hasValue && hasDeadline
}

// SpenderFromRequirements resolves the permit spender. The router address
// takes precedence over payTo deliberately: in usage-based billing the
// router contract, not the final recipient, executes the transfer.
func SpenderFromRequirements(extra map[string]interface{}, payTo string) string {
	if extra != nil {
		if router, ok := extra["routerAddress"].(string); ok && router != "" {
			return router
		}
	}
	return payTo
}

// CombineSignature reassembles the split permit signature into 65-byte form.
func CombineSignature(sig PermitSignature) ([]byte, error) {
	r, err := evm.HexToBytes(sig.R)
	if err != nil || len(r) != 32 {
		return nil, fmt.Errorf("invalid signature r component")
	}
	s, err := evm.HexToBytes(sig.S)
	if err != nil || len(s) != 32 {
		return nil, fmt.Errorf("invalid signature s component")
	}
	v := sig.V
	if v < 27 {
		v += 27
	}

	combined := make([]byte, 0, 65)
	combined = append(combined, r...)
	combined = append(combined, s...)
	combined = append(combined, byte(v))
	return combined, nil
}

func toInt(v interface{}) (int, bool) {
	switch n := v.(type) {
	case float64:
		return int(n), true
	case int:
		return n, true
	default:
		return 0, false
	}
}
