package t402

import "context"

// SchemeNetworkClient is implemented by client-side payment mechanisms.
// One implementation exists per (scheme, chain family) pair.
type SchemeNetworkClient interface {
	// Scheme returns the scheme identifier this mechanism implements.
	Scheme() string

	// CreatePaymentPayload produces a partial signed payload for the given
	// requirements. The registry fills in accepted/resource/extensions.
	// Exactly one signing call is made; signer failures propagate verbatim.
	CreatePaymentPayload(ctx context.Context, version int, requirements PaymentRequirements) (PaymentPayload, error)
}

// SchemeNetworkFacilitator is implemented by facilitator-side payment
// mechanisms. Verify is side-effect free; Settle is the one state-mutating
// operation and must move funds for a given authorization at most once.
type SchemeNetworkFacilitator interface {
	Scheme() string

	// CaipFamily returns the CAIP-2 family pattern this facilitator serves,
	// e.g. "eip155:*" for EVM or "solana:*" for SVM. Used to group signers
	// in the supported response.
	CaipFamily() string

	// GetExtra returns mechanism-specific extra data advertised through the
	// supported kinds endpoint, or nil.
	GetExtra(network Network) map[string]interface{}

	// GetSigners returns the signer addresses this facilitator settles with
	// on the given network.
	GetSigners(ctx context.Context, network Network) []string

	// Verify checks a payment authorization without mutating any state.
	// Authorization failures are reported via IsValid:false, not errors.
	Verify(ctx context.Context, payload PaymentPayload, requirements PaymentRequirements) (VerifyResponse, error)

	// Settle executes the authorized transfer on-chain.
	Settle(ctx context.Context, payload PaymentPayload, requirements PaymentRequirements) (SettleResponse, error)
}

// FacilitatorClient talks to a facilitator service. Implementations operate
// on raw bytes at the network boundary so transports stay format-agnostic.
type FacilitatorClient interface {
	Verify(ctx context.Context, payloadBytes []byte, requirementsBytes []byte) (*VerifyResponse, error)
	Settle(ctx context.Context, payloadBytes []byte, requirementsBytes []byte) (*SettleResponse, error)
	GetSupported(ctx context.Context) (SupportedResponse, error)
}
