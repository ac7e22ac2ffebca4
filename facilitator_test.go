package t402

import (
	"context"
	"errors"
	"fmt"
	"testing"

	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"
)

type stubMechanism struct {
	scheme      string
	family      string
	extra       map[string]interface{}
	signers     []string
	verifyErr   error
	settleErr   error
	verifyCalls int
	settleCalls int

	lastNetwork Network
}

func (m *stubMechanism) Scheme() string {
	if m.scheme == "" {
		return SchemeExact
	}
	return m.scheme
}

func (m *stubMechanism) CaipFamily() string {
	if m.family == "" {
		return "eip155:*"
	}
	return m.family
}

func (m *stubMechanism) GetExtra(Network) map[string]interface{} { return m.extra }

func (m *stubMechanism) GetSigners(_ context.Context, network Network) []string {
	return m.signers
}

func (m *stubMechanism) Verify(_ context.Context, payload PaymentPayload, requirements PaymentRequirements) (VerifyResponse, error) {
	m.verifyCalls++
	m.lastNetwork = requirements.Network
	if m.verifyErr != nil {
		return VerifyResponse{}, m.verifyErr
	}
	return VerifyResponse{IsValid: true, Payer: "0xpayer"}, nil
}

func (m *stubMechanism) Settle(_ context.Context, payload PaymentPayload, requirements PaymentRequirements) (SettleResponse, error) {
	m.settleCalls++
	if m.settleErr != nil {
		return SettleResponse{Success: false}, m.settleErr
	}
	return SettleResponse{
		Success:     true,
		Transaction: "0xtxhash",
		Network:     string(requirements.Network),
		Payer:       "0xpayer",
	}, nil
}

func validPayloadBytes() []byte {
	return []byte(`{
		"t402Version": 2,
		"payload": {"signature": "0xsig"},
		"accepted": {
			"scheme": "exact",
			"network": "eip155:8453",
			"asset": "0x833589fCD6eDb6E08f4c7C32D4f71b54bdA02913",
			"payTo": "0x1111111111111111111111111111111111111111",
			"amount": "10000"
		}
	}`)
}

func validRequirementsBytes() []byte {
	return []byte(`{
		"scheme": "exact",
		"network": "eip155:8453",
		"asset": "0x833589fCD6eDb6E08f4c7C32D4f71b54bdA02913",
		"payTo": "0x1111111111111111111111111111111111111111",
		"amount": "10000",
		"maxTimeoutSeconds": 60
	}`)
}

func TestFacilitatorVerify(t *testing.T) {
	t.Run("dispatches to the registered mechanism", func(t *testing.T) {
		mechanism := &stubMechanism{}
		facilitator := NewFacilitator()
		facilitator.Register(Network("eip155:8453"), mechanism)

		response, err := facilitator.Verify(context.Background(), validPayloadBytes(), validRequirementsBytes())
		require.NoError(t, err)
		assert.True(t, response.IsValid)
		assert.Equal(t, "0xpayer", response.Payer)
		assert.Equal(t, 1, mechanism.verifyCalls)
	})

	t.Run("wildcard registration matches concrete networks", func(t *testing.T) {
		mechanism := &stubMechanism{}
		facilitator := NewFacilitator()
		facilitator.Register(Network("eip155:*"), mechanism)

		response, err := facilitator.Verify(context.Background(), validPayloadBytes(), validRequirementsBytes())
		require.NoError(t, err)
		assert.True(t, response.IsValid)
		assert.Equal(t, Network("eip155:8453"), mechanism.lastNetwork)
	})

	t.Run("unknown network is an error", func(t *testing.T) {
		facilitator := NewFacilitator()
		facilitator.Register(Network("solana:*"), &stubMechanism{family: "solana:*"})

		_, err := facilitator.Verify(context.Background(), validPayloadBytes(), validRequirementsBytes())
		require.Error(t, err)
		assert.Contains(t, err.Error(), "no facilitator for network")
	})

	t.Run("unknown scheme on a known network is an error", func(t *testing.T) {
		facilitator := NewFacilitator()
		facilitator.Register(Network("eip155:8453"), &stubMechanism{scheme: SchemeUpto})

		_, err := facilitator.Verify(context.Background(), validPayloadBytes(), validRequirementsBytes())
		require.Error(t, err)
		assert.Contains(t, err.Error(), "no facilitator for exact")
	})

	t.Run("missing version tag is rejected before dispatch", func(t *testing.T) {
		mechanism := &stubMechanism{}
		facilitator := NewFacilitator()
		facilitator.Register(Network("eip155:8453"), mechanism)

		response, err := facilitator.Verify(context.Background(), []byte(`{"payload": {}}`), validRequirementsBytes())
		require.Error(t, err)
		assert.False(t, response.IsValid)
		assert.Equal(t, 0, mechanism.verifyCalls)
	})

	t.Run("before hook aborts without calling the mechanism", func(t *testing.T) {
		mechanism := &stubMechanism{}
		facilitator := NewFacilitator()
		facilitator.Register(Network("eip155:8453"), mechanism)
		facilitator.OnBeforeVerify(func(FacilitatorVerifyContext) (*FacilitatorBeforeHookResult, error) {
			return &FacilitatorBeforeHookResult{Abort: true, Reason: "blocked_by_policy"}, nil
		})

		response, err := facilitator.Verify(context.Background(), validPayloadBytes(), validRequirementsBytes())
		require.NoError(t, err)
		assert.False(t, response.IsValid)
		assert.Equal(t, "blocked_by_policy", response.InvalidReason)
		assert.Equal(t, 0, mechanism.verifyCalls)
	})

	t.Run("failure hook recovers a mechanism error", func(t *testing.T) {
		mechanism := &stubMechanism{verifyErr: errors.New("rpc unavailable")}
		facilitator := NewFacilitator()
		facilitator.Register(Network("eip155:8453"), mechanism)
		facilitator.OnVerifyFailure(func(ctx FacilitatorVerifyFailureContext) (*FacilitatorVerifyFailureHookResult, error) {
			return &FacilitatorVerifyFailureHookResult{
				Recovered: true,
				Result:    VerifyResponse{IsValid: true, Payer: "0xcached"},
			}, nil
		})

		response, err := facilitator.Verify(context.Background(), validPayloadBytes(), validRequirementsBytes())
		require.NoError(t, err)
		assert.True(t, response.IsValid)
		assert.Equal(t, "0xcached", response.Payer)
	})

	t.Run("after hook observes the result and its error is swallowed", func(t *testing.T) {
		mechanism := &stubMechanism{}
		facilitator := NewFacilitator()
		facilitator.Register(Network("eip155:8453"), mechanism)

		var observed VerifyResponse
		facilitator.OnAfterVerify(func(ctx FacilitatorVerifyResultContext) error {
			observed = ctx.Result
			return errors.New("observer broke")
		})

		response, err := facilitator.Verify(context.Background(), validPayloadBytes(), validRequirementsBytes())
		require.NoError(t, err)
		assert.True(t, response.IsValid)
		assert.Equal(t, response, observed)
	})
}

func TestFacilitatorSettle(t *testing.T) {
	t.Run("dispatches and returns the mechanism result", func(t *testing.T) {
		mechanism := &stubMechanism{}
		facilitator := NewFacilitator()
		facilitator.Register(Network("eip155:8453"), mechanism)

		response, err := facilitator.Settle(context.Background(), validPayloadBytes(), validRequirementsBytes())
		require.NoError(t, err)
		assert.True(t, response.Success)
		assert.Equal(t, "0xtxhash", response.Transaction)
		assert.Equal(t, "eip155:8453", response.Network)
	})

	t.Run("before hook aborts settlement with an error", func(t *testing.T) {
		mechanism := &stubMechanism{}
		facilitator := NewFacilitator()
		facilitator.Register(Network("eip155:8453"), mechanism)
		facilitator.OnBeforeSettle(func(FacilitatorSettleContext) (*FacilitatorBeforeHookResult, error) {
			return &FacilitatorBeforeHookResult{Abort: true, Reason: "insufficient_balance"}, nil
		})

		response, err := facilitator.Settle(context.Background(), validPayloadBytes(), validRequirementsBytes())
		require.Error(t, err)
		assert.False(t, response.Success)
		assert.Equal(t, "insufficient_balance", response.ErrorReason)
		assert.Equal(t, 0, mechanism.settleCalls)
	})

	t.Run("failure hook recovers a settle error", func(t *testing.T) {
		mechanism := &stubMechanism{settleErr: errors.New("nonce too low")}
		facilitator := NewFacilitator()
		facilitator.Register(Network("eip155:8453"), mechanism)
		facilitator.OnSettleFailure(func(ctx FacilitatorSettleFailureContext) (*FacilitatorSettleFailureHookResult, error) {
			return &FacilitatorSettleFailureHookResult{
				Recovered: true,
				Result:    SettleResponse{Success: true, Transaction: "0xprior"},
			}, nil
		})

		response, err := facilitator.Settle(context.Background(), validPayloadBytes(), validRequirementsBytes())
		require.NoError(t, err)
		assert.True(t, response.Success)
		assert.Equal(t, "0xprior", response.Transaction)
	})
}

func TestFacilitatorGetSupported(t *testing.T) {
	t.Run("lists kinds with extras and signers", func(t *testing.T) {
		evmMechanism := &stubMechanism{
			signers: []string{"0xfacilitator"},
			extra:   map[string]interface{}{"feePayer": "facilitator"},
		}
		svmMechanism := &stubMechanism{
			family:  "solana:*",
			signers: []string{"FacilitatorPubkey11111111111111111111111111"},
		}

		facilitator := NewFacilitator()
		facilitator.Register(Network("eip155:8453"), evmMechanism)
		facilitator.Register(Network("solana:5eykt4UsFv8P8NJdTREpY1vzqKqZKvdp"), svmMechanism)
		facilitator.RegisterExtension("paymentIdentifier")
		facilitator.RegisterExtension("paymentIdentifier")

		supported := facilitator.GetSupported(context.Background())

		require.Len(t, supported.Kinds, 2)
		byNetwork := map[string]SupportedKind{}
		for _, kind := range supported.Kinds {
			byNetwork[kind.Network] = kind
			assert.Equal(t, T402Version, kind.T402Version)
			assert.Equal(t, SchemeExact, kind.Scheme)
		}
		assert.Equal(t, map[string]interface{}{"feePayer": "facilitator"}, byNetwork["eip155:8453"].Extra)

		assert.Equal(t, []string{"paymentIdentifier"}, supported.Extensions, "duplicate registration collapses")

		require.NotNil(t, supported.Signers)
		assert.Equal(t, []string{"0xfacilitator"}, supported.Signers["eip155:*"])
		assert.Equal(t, []string{"FacilitatorPubkey11111111111111111111111111"}, supported.Signers["solana:*"])
	})

	t.Run("register-time extra overrides the mechanism extra", func(t *testing.T) {
		mechanism := &stubMechanism{extra: map[string]interface{}{"source": "mechanism"}}
		facilitator := NewFacilitator()
		facilitator.Register(Network("eip155:8453"), mechanism, map[string]interface{}{"source": "register"})

		supported := facilitator.GetSupported(context.Background())
		require.Len(t, supported.Kinds, 1)
		assert.Equal(t, map[string]interface{}{"source": "register"}, supported.Kinds[0].Extra)
	})

	t.Run("empty facilitator reports no signers", func(t *testing.T) {
		supported := NewFacilitator().GetSupported(context.Background())
		assert.Empty(t, supported.Kinds)
		assert.Nil(t, supported.Signers)
	})
}

func TestPaymentErrorFormatting(t *testing.T) {
	err := NewPaymentError(ErrCodeUnsupportedScheme, "no mechanism", nil)
	assert.Equal(t, fmt.Sprintf("%s: no mechanism", ErrCodeUnsupportedScheme), err.Error())

	verifyErr := NewVerifyError("signature_invalid", "0xpayer", "bad signature")
	assert.Contains(t, verifyErr.Error(), "signature_invalid")
	assert.Contains(t, verifyErr.Error(), "bad signature")

	settleErr := NewSettleError("settlement_failed", "0xpayer", "eip155:8453", "0xtx", "")
	assert.Contains(t, settleErr.Error(), "settlement_failed")
	assert.Equal(t, "0xtx", settleErr.Transaction)
}
