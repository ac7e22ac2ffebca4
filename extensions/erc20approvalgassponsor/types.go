// Package erc20approvalgassponsor provides types and helpers for the ERC-20 Approval Gas Sponsoring extension.
//
// This extension enables gasless approval of the Permit2 contract for ERC-20 tokens
// that do NOT implement EIP-2612. Instead of an off-chain signature, the client
// creates a signed (but unbroadcast) approve(Permit2, MaxUint256) transaction.
// The facilitator broadcasts it before calling settle().
package erc20approvalgassponsor

import (
	evm "github.com/t402-io/t402/go/mechanisms/evm"
)

// ERC20ApprovalGasSponsoring is the extension identifier.
const ERC20ApprovalGasSponsoring = "erc20ApprovalGasSponsoring"

// ERC20ApprovalGasSponsoringVersion is the current schema version for the extension info.
const ERC20ApprovalGasSponsoringVersion = "1"

// Info contains the signed approve transaction data populated by the client.
// The facilitator broadcasts this transaction before calling settle().
type Info struct {
	// From is the address of the sender (token owner).
	From string `json:"from"`
	// Asset is the address of the ERC-20 token contract.
	Asset string `json:"asset"`
	// Spender is the address being approved (Canonical Permit2).
	Spender string `json:"spender"`
	// Amount is the approval amount (uint256 as decimal string). Typically MaxUint256.
	Amount string `json:"amount"`
	// SignedTransaction is the RLP-encoded signed approve transaction as a hex string (0x-prefixed).
	SignedTransaction string `json:"signedTransaction"`
	// Version is the schema version identifier.
	Version string `json:"version"`
}

// ServerInfo is the server-side info included in PaymentRequired.
// Contains a description and version; the client populates the rest.
type ServerInfo struct {
	Description string `json:"description"`
	Version     string `json:"version"`
}

// Extension represents the full extension object as it appears in
// PaymentRequired.extensions and PaymentPayload.extensions.
type Extension struct {
	Info   interface{}            `json:"info"`
	Schema map[string]interface{} `json:"schema"`
}

// FacilitatorExt carries the signer a facilitator uses to broadcast the
// client's pre-signed approve transaction. The signer's SendRawTransaction
// submits the approval; the settle mechanism then proceeds as usual.
type FacilitatorExt struct {
	Signer evm.FacilitatorEvmSigner
}

// NewFacilitatorExtension wraps a facilitator signer for registration.
func NewFacilitatorExtension(signer evm.FacilitatorEvmSigner) *FacilitatorExt {
	return &FacilitatorExt{Signer: signer}
}

// Key returns the extension identifier.
func (e *FacilitatorExt) Key() string {
	return ERC20ApprovalGasSponsoring
}
