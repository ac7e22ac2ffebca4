package t402

import (
	"context"
	"fmt"
	"sync"

	"github.com/t402-io/t402/go/types"
)

// Facilitator routes verify and settle calls to registered scheme mechanisms.
// It owns no chain logic itself; mechanisms implement the two-phase protocol.
type Facilitator struct {
	mu sync.RWMutex

	// network -> scheme -> facilitator mechanism
	schemes map[Network]map[string]SchemeNetworkFacilitator
	extras  map[Network]map[string]interface{}

	extensions []string

	beforeVerifyHooks    []FacilitatorBeforeVerifyHook
	afterVerifyHooks     []FacilitatorAfterVerifyHook
	onVerifyFailureHooks []FacilitatorOnVerifyFailureHook
	beforeSettleHooks    []FacilitatorBeforeSettleHook
	afterSettleHooks     []FacilitatorAfterSettleHook
	onSettleFailureHooks []FacilitatorOnSettleFailureHook
}

// NewFacilitator creates an empty facilitator registry.
func NewFacilitator() *Facilitator {
	return &Facilitator{
		schemes:    make(map[Network]map[string]SchemeNetworkFacilitator),
		extras:     make(map[Network]map[string]interface{}),
		extensions: []string{},
	}
}

// Register registers a facilitator mechanism for a network. The network may
// be a wildcard pattern ("eip155:*"). Optional extra data is advertised
// through GetSupported.
func (f *Facilitator) Register(network Network, facilitator SchemeNetworkFacilitator, extra ...interface{}) *Facilitator {
	f.mu.Lock()
	defer f.mu.Unlock()

	if f.schemes[network] == nil {
		f.schemes[network] = make(map[string]SchemeNetworkFacilitator)
	}
	f.schemes[network][facilitator.Scheme()] = facilitator

	if len(extra) > 0 {
		if f.extras[network] == nil {
			f.extras[network] = make(map[string]interface{})
		}
		f.extras[network][facilitator.Scheme()] = extra[0]
	}
	return f
}

// RegisterExtension registers a protocol extension identifier.
func (f *Facilitator) RegisterExtension(extension string) *Facilitator {
	f.mu.Lock()
	defer f.mu.Unlock()

	for _, ext := range f.extensions {
		if ext == extension {
			return f
		}
	}

	f.extensions = append(f.extensions, extension)
	return f
}

func (f *Facilitator) OnBeforeVerify(hook FacilitatorBeforeVerifyHook) *Facilitator {
	f.mu.Lock()
	defer f.mu.Unlock()
	f.beforeVerifyHooks = append(f.beforeVerifyHooks, hook)
	return f
}

func (f *Facilitator) OnAfterVerify(hook FacilitatorAfterVerifyHook) *Facilitator {
	f.mu.Lock()
	defer f.mu.Unlock()
	f.afterVerifyHooks = append(f.afterVerifyHooks, hook)
	return f
}

func (f *Facilitator) OnVerifyFailure(hook FacilitatorOnVerifyFailureHook) *Facilitator {
	f.mu.Lock()
	defer f.mu.Unlock()
	f.onVerifyFailureHooks = append(f.onVerifyFailureHooks, hook)
	return f
}

func (f *Facilitator) OnBeforeSettle(hook FacilitatorBeforeSettleHook) *Facilitator {
	f.mu.Lock()
	defer f.mu.Unlock()
	f.beforeSettleHooks = append(f.beforeSettleHooks, hook)
	return f
}

func (f *Facilitator) OnAfterSettle(hook FacilitatorAfterSettleHook) *Facilitator {
	f.mu.Lock()
	defer f.mu.Unlock()
	f.afterSettleHooks = append(f.afterSettleHooks, hook)
	return f
}

func (f *Facilitator) OnSettleFailure(hook FacilitatorOnSettleFailureHook) *Facilitator {
	f.mu.Lock()
	defer f.mu.Unlock()
	f.onSettleFailureHooks = append(f.onSettleFailureHooks, hook)
	return f
}

// Verify verifies a payment. Operates on raw bytes at the network boundary;
// malformed input and missing mechanisms are the only error returns —
// authorization failures come back as IsValid:false.
func (f *Facilitator) Verify(ctx context.Context, payloadBytes []byte, requirementsBytes []byte) (VerifyResponse, error) {
	if _, err := types.DetectVersion(payloadBytes); err != nil {
		return VerifyResponse{IsValid: false, InvalidReason: "invalid version"}, err
	}

	payload, err := types.ToPaymentPayload(payloadBytes)
	if err != nil {
		return VerifyResponse{IsValid: false, InvalidReason: "invalid payload"}, nil
	}
	requirements, err := types.ToPaymentRequirements(requirementsBytes)
	if err != nil {
		return VerifyResponse{IsValid: false, InvalidReason: "invalid requirements"}, nil
	}

	hookCtx := FacilitatorVerifyContext{
		Ctx:          ctx,
		Payload:      *payload,
		Requirements: *requirements,
	}
	for _, hook := range f.beforeVerifyHooks {
		result, err := hook(hookCtx)
		if err != nil {
			return VerifyResponse{IsValid: false, InvalidReason: err.Error()}, err
		}
		if result != nil && result.Abort {
			return VerifyResponse{IsValid: false, InvalidReason: result.Reason}, nil
		}
	}

	verifyResult, verifyErr := f.verify(ctx, *payload, *requirements)

	if verifyErr != nil {
		failureCtx := FacilitatorVerifyFailureContext{FacilitatorVerifyContext: hookCtx, Error: verifyErr}
		for _, hook := range f.onVerifyFailureHooks {
			result, _ := hook(failureCtx)
			if result != nil && result.Recovered {
				return result.Result, nil
			}
		}
		return verifyResult, verifyErr
	}

	resultCtx := FacilitatorVerifyResultContext{FacilitatorVerifyContext: hookCtx, Result: verifyResult}
	for _, hook := range f.afterVerifyHooks {
		_ = hook(resultCtx)
	}

	return verifyResult, nil
}

// Settle settles a payment. Same boundary contract as Verify; settlement is
// at-most-once per authorization, enforced by the mechanism and the chain's
// replay protection.
func (f *Facilitator) Settle(ctx context.Context, payloadBytes []byte, requirementsBytes []byte) (SettleResponse, error) {
	if _, err := types.DetectVersion(payloadBytes); err != nil {
		return SettleResponse{Success: false, ErrorReason: "invalid version"}, err
	}

	payload, err := types.ToPaymentPayload(payloadBytes)
	if err != nil {
		return SettleResponse{Success: false, ErrorReason: "invalid payload"}, nil
	}
	requirements, err := types.ToPaymentRequirements(requirementsBytes)
	if err != nil {
		return SettleResponse{Success: false, ErrorReason: "invalid requirements"}, nil
	}

	hookCtx := FacilitatorSettleContext{
		Ctx:          ctx,
		Payload:      *payload,
		Requirements: *requirements,
	}
	for _, hook := range f.beforeSettleHooks {
		result, err := hook(hookCtx)
		if err != nil {
			return SettleResponse{Success: false, ErrorReason: err.Error()}, err
		}
		if result != nil && result.Abort {
			return SettleResponse{Success: false, ErrorReason: result.Reason}, fmt.Errorf("%s", result.Reason)
		}
	}

	settleResult, settleErr := f.settle(ctx, *payload, *requirements)

	if settleErr != nil {
		failureCtx := FacilitatorSettleFailureContext{FacilitatorSettleContext: hookCtx, Error: settleErr}
		for _, hook := range f.onSettleFailureHooks {
			result, _ := hook(failureCtx)
			if result != nil && result.Recovered {
				return result.Result, nil
			}
		}
		return settleResult, settleErr
	}

	resultCtx := FacilitatorSettleResultContext{FacilitatorSettleContext: hookCtx, Result: settleResult}
	for _, hook := range f.afterSettleHooks {
		_ = hook(resultCtx)
	}

	return settleResult, nil
}

func (f *Facilitator) verify(ctx context.Context, payload PaymentPayload, requirements PaymentRequirements) (VerifyResponse, error) {
	facilitator, err := f.lookup(requirements)
	if err != nil {
		return VerifyResponse{IsValid: false}, err
	}
	return facilitator.Verify(ctx, payload, requirements)
}

func (f *Facilitator) settle(ctx context.Context, payload PaymentPayload, requirements PaymentRequirements) (SettleResponse, error) {
	facilitator, err := f.lookup(requirements)
	if err != nil {
		return SettleResponse{Success: false}, err
	}
	return facilitator.Settle(ctx, payload, requirements)
}

func (f *Facilitator) lookup(requirements PaymentRequirements) (SchemeNetworkFacilitator, error) {
	f.mu.RLock()
	defer f.mu.RUnlock()

	network := requirements.Network
	schemes := findSchemesByNetwork(f.schemes, network)
	if schemes == nil {
		return nil, fmt.Errorf("no facilitator for network %s", network)
	}

	facilitator := schemes[requirements.Scheme]
	if facilitator == nil {
		return nil, fmt.Errorf("no facilitator for %s on %s", requirements.Scheme, network)
	}
	return facilitator, nil
}

// GetSupported returns supported payment kinds, registered extensions and
// per-family signer addresses.
func (f *Facilitator) GetSupported(ctx context.Context) SupportedResponse {
	f.mu.RLock()
	defer f.mu.RUnlock()

	var kinds []SupportedKind
	signers := make(map[string][]string)

	for network, schemeMap := range f.schemes {
		for scheme, mechanism := range schemeMap {
			kind := SupportedKind{
				T402Version: T402Version,
				Scheme:      scheme,
				Network:     string(network),
			}
			if extra := f.extras[network][scheme]; extra != nil {
				if extraMap, ok := extra.(map[string]interface{}); ok {
					kind.Extra = extraMap
				}
			} else if extraMap := mechanism.GetExtra(network); extraMap != nil {
				kind.Extra = extraMap
			}
			kinds = append(kinds, kind)

			family := mechanism.CaipFamily()
			if _, seen := signers[family]; !seen {
				if addrs := mechanism.GetSigners(ctx, network); len(addrs) > 0 {
					signers[family] = addrs
				}
			}
		}
	}

	if len(signers) == 0 {
		signers = nil
	}

	return SupportedResponse{
		Kinds:      kinds,
		Extensions: f.extensions,
		Signers:    signers,
	}
}
