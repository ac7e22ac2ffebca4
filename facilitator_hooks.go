package t402

import "context"

// Facilitator lifecycle hooks. Before-hooks can abort an operation, failure
// hooks can recover with a synthetic result, after-hooks observe outcomes.
// Hook errors from after-hooks never change the operation result.

// FacilitatorVerifyContext contains information passed to verify hooks
type FacilitatorVerifyContext struct {
	Ctx          context.Context
	Payload      PaymentPayload
	Requirements PaymentRequirements
}

// FacilitatorVerifyResultContext contains the verify result and context
type FacilitatorVerifyResultContext struct {
	FacilitatorVerifyContext
	Result VerifyResponse
}

// FacilitatorVerifyFailureContext contains a verify failure and context
type FacilitatorVerifyFailureContext struct {
	FacilitatorVerifyContext
	Error error
}

// FacilitatorSettleContext contains information passed to settle hooks
type FacilitatorSettleContext struct {
	Ctx          context.Context
	Payload      PaymentPayload
	Requirements PaymentRequirements
}

// FacilitatorSettleResultContext contains the settle result and context
type FacilitatorSettleResultContext struct {
	FacilitatorSettleContext
	Result SettleResponse
}

// FacilitatorSettleFailureContext contains a settle failure and context
type FacilitatorSettleFailureContext struct {
	FacilitatorSettleContext
	Error error
}

// FacilitatorBeforeHookResult aborts the operation with Reason when Abort is set
type FacilitatorBeforeHookResult struct {
	Abort  bool
	Reason string
}

// FacilitatorVerifyFailureHookResult replaces a verify failure when Recovered is set
type FacilitatorVerifyFailureHookResult struct {
	Recovered bool
	Result    VerifyResponse
}

// FacilitatorSettleFailureHookResult replaces a settle failure when Recovered is set
type FacilitatorSettleFailureHookResult struct {
	Recovered bool
	Result    SettleResponse
}

type FacilitatorBeforeVerifyHook func(FacilitatorVerifyContext) (*FacilitatorBeforeHookResult, error)

type FacilitatorAfterVerifyHook func(FacilitatorVerifyResultContext) error

type FacilitatorOnVerifyFailureHook func(FacilitatorVerifyFailureContext) (*FacilitatorVerifyFailureHookResult, error)

type FacilitatorBeforeSettleHook func(FacilitatorSettleContext) (*FacilitatorBeforeHookResult, error)

type FacilitatorAfterSettleHook func(FacilitatorSettleResultContext) error

type FacilitatorOnSettleFailureHook func(FacilitatorSettleFailureContext) (*FacilitatorSettleFailureHookResult, error)
