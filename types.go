// Package t402 implements the t402 payment authorization and settlement
// protocol: scheme payload construction on the client side, verification and
// on-chain settlement on the facilitator side, across EVM, TON, TRON and
// Solana networks.
package t402

import "github.com/t402-io/t402/go/types"

// Wire types live in the types package; aliases here keep the public API flat
// so callers and mechanism packages share one set of definitions.
type (
	Network             = types.Network
	PaymentRequirements = types.PaymentRequirements
	PaymentPayload      = types.PaymentPayload
	PaymentRequired     = types.PaymentRequired
	ResourceInfo        = types.ResourceInfo
	VerifyRequest       = types.VerifyRequest
	VerifyResponse      = types.VerifyResponse
	SettleRequest       = types.SettleRequest
	SettleResponse      = types.SettleResponse
	Settlement          = types.Settlement
	UsageDetails        = types.UsageDetails
	SupportedKind       = types.SupportedKind
	SupportedResponse   = types.SupportedResponse
)

// Protocol version tags re-exported from the types package.
const (
	T402VersionV1 = types.T402VersionV1
	T402Version   = types.T402Version
)

// Scheme identifiers.
const (
	SchemeExact       = "exact"
	SchemeExactLegacy = "exact-legacy"
	SchemeUpto        = "upto"
)
