// Package eip2612gassponsor implements the EIP-2612 Gas Sponsoring extension.
//
// Tokens that implement EIP-2612 can grant the canonical Permit2 contract an
// allowance with an off-chain permit signature instead of an on-chain approve.
// The client signs the permit and attaches it here; the facilitator submits it
// together with settlement, so the payer never spends gas on the approval.
package eip2612gassponsor

// EIP2612GasSponsoring is the extension identifier.
const EIP2612GasSponsoring = "eip2612GasSponsoring"

// Info is the permit data a client attaches to its payment payload. The
// facilitator consumes it when settling through the Permit2 proxy.
type Info struct {
	// From is the token owner granting the allowance.
	From string `json:"from"`
	// Asset is the ERC-20 token contract.
	Asset string `json:"asset"`
	// Spender is the contract receiving the allowance (canonical Permit2).
	Spender string `json:"spender"`
	// Amount is the allowance as a uint256 decimal string, typically MaxUint256.
	Amount string `json:"amount"`
	// Nonce is the owner's current EIP-2612 nonce, decimal-encoded.
	Nonce string `json:"nonce"`
	// Deadline is the unix timestamp the permit signature expires at.
	Deadline string `json:"deadline"`
	// Signature is the 65-byte r||s||v permit signature, 0x-prefixed hex.
	Signature string `json:"signature"`
	// Version is the schema version identifier.
	Version string `json:"version"`
}

// ServerInfo is the declaration body a server includes in PaymentRequired.
// The client replaces it with a populated Info when paying.
type ServerInfo struct {
	Description string `json:"description"`
	Version     string `json:"version"`
}

// Extension is the wire form under the extension key in
// PaymentRequired.extensions and PaymentPayload.extensions.
type Extension struct {
	Info   interface{}            `json:"info"`
	Schema map[string]interface{} `json:"schema"`
}
