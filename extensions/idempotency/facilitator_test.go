package idempotency

import (
	"context"
	"errors"
	"fmt"
	"sync"
	"testing"
	"time"

	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"

	t402 "github.com/t402-io/t402/go"
)

// mockMechanism counts settle calls and returns a distinct transaction hash
// per call, so tests can tell a cached response from a re-execution.
type mockMechanism struct {
	mu          sync.Mutex
	settleCalls int
	settleDelay time.Duration
	failSettle  bool
}

func (m *mockMechanism) Scheme() string                                 { return t402.SchemeExact }
func (m *mockMechanism) CaipFamily() string                             { return "eip155:*" }
func (m *mockMechanism) GetExtra(t402.Network) map[string]interface{}   { return nil }
func (m *mockMechanism) GetSigners(context.Context, t402.Network) []string { return nil }

func (m *mockMechanism) Verify(ctx context.Context, payload t402.PaymentPayload, requirements t402.PaymentRequirements) (t402.VerifyResponse, error) {
	return t402.VerifyResponse{IsValid: true, Payer: "0xpayer"}, nil
}

func (m *mockMechanism) Settle(ctx context.Context, payload t402.PaymentPayload, requirements t402.PaymentRequirements) (t402.SettleResponse, error) {
	if m.settleDelay > 0 {
		time.Sleep(m.settleDelay)
	}

	m.mu.Lock()
	defer m.mu.Unlock()
	m.settleCalls++

	if m.failSettle {
		return t402.SettleResponse{Success: false, ErrorReason: "rpc_unavailable"}, errors.New("rpc unavailable")
	}
	return t402.SettleResponse{
		Success:     true,
		Transaction: fmt.Sprintf("0xtx%d", m.settleCalls),
		Network:     string(requirements.Network),
	}, nil
}

func (m *mockMechanism) calls() int {
	m.mu.Lock()
	defer m.mu.Unlock()
	return m.settleCalls
}

func newWrapped(mechanism *mockMechanism, opts ...Option) *Facilitator {
	inner := t402.NewFacilitator()
	inner.Register(t402.Network("eip155:8453"), mechanism)
	return Wrap(inner, opts...)
}

func payloadBytes(nonce string) []byte {
	return []byte(`{
		"t402Version": 2,
		"payload": {"signature": "0xsig", "nonce": "` + nonce + `"},
		"accepted": {
			"scheme": "exact",
			"network": "eip155:8453",
			"asset": "0x833589fCD6eDb6E08f4c7C32D4f71b54bdA02913",
			"payTo": "0x1111111111111111111111111111111111111111",
			"amount": "10000"
		}
	}`)
}

var requirementsBytes = []byte(`{
	"scheme": "exact",
	"network": "eip155:8453",
	"asset": "0x833589fCD6eDb6E08f4c7C32D4f71b54bdA02913",
	"payTo": "0x1111111111111111111111111111111111111111",
	"amount": "10000",
	"maxTimeoutSeconds": 60
}`)

func TestSettleIdempotency(t *testing.T) {
	t.Run("repeat settle returns the cached response", func(t *testing.T) {
		mechanism := &mockMechanism{}
		facilitator := newWrapped(mechanism)

		first, err := facilitator.Settle(context.Background(), payloadBytes("0x01"), requirementsBytes)
		require.NoError(t, err)
		require.True(t, first.Success)

		second, err := facilitator.Settle(context.Background(), payloadBytes("0x01"), requirementsBytes)
		require.NoError(t, err)

		assert.Equal(t, first.Transaction, second.Transaction)
		assert.Equal(t, 1, mechanism.calls())
	})

	t.Run("concurrent settles collapse into one transaction", func(t *testing.T) {
		mechanism := &mockMechanism{settleDelay: 50 * time.Millisecond}
		facilitator := newWrapped(mechanism)

		const attempts = 5
		responses := make([]t402.SettleResponse, attempts)
		errs := make([]error, attempts)

		var wg sync.WaitGroup
		for i := 0; i < attempts; i++ {
			wg.Add(1)
			go func(idx int) {
				defer wg.Done()
				responses[idx], errs[idx] = facilitator.Settle(context.Background(), payloadBytes("0x02"), requirementsBytes)
			}(i)
		}
		wg.Wait()

		assert.Equal(t, 1, mechanism.calls())
		for i := 0; i < attempts; i++ {
			require.NoError(t, errs[i])
			assert.Equal(t, responses[0].Transaction, responses[i].Transaction)
		}
	})

	t.Run("failures are not cached", func(t *testing.T) {
		mechanism := &mockMechanism{failSettle: true}
		facilitator := newWrapped(mechanism)

		_, err := facilitator.Settle(context.Background(), payloadBytes("0x03"), requirementsBytes)
		require.Error(t, err)

		mechanism.mu.Lock()
		mechanism.failSettle = false
		mechanism.mu.Unlock()

		response, err := facilitator.Settle(context.Background(), payloadBytes("0x03"), requirementsBytes)
		require.NoError(t, err)
		assert.True(t, response.Success)
		assert.Equal(t, 2, mechanism.calls())
	})

	t.Run("distinct authorizations settle independently", func(t *testing.T) {
		mechanism := &mockMechanism{}
		facilitator := newWrapped(mechanism)

		first, err := facilitator.Settle(context.Background(), payloadBytes("0x04"), requirementsBytes)
		require.NoError(t, err)
		second, err := facilitator.Settle(context.Background(), payloadBytes("0x05"), requirementsBytes)
		require.NoError(t, err)

		assert.NotEqual(t, first.Transaction, second.Transaction)
		assert.Equal(t, 2, mechanism.calls())
	})

	t.Run("custom key generator controls the dedup domain", func(t *testing.T) {
		mechanism := &mockMechanism{}
		facilitator := newWrapped(mechanism, WithKeyGenerator(func([]byte) string { return "fixed" }))

		_, err := facilitator.Settle(context.Background(), payloadBytes("0x06"), requirementsBytes)
		require.NoError(t, err)
		_, err = facilitator.Settle(context.Background(), payloadBytes("0x07"), requirementsBytes)
		require.NoError(t, err)

		assert.Equal(t, 1, mechanism.calls(), "all payloads share one key")
	})
}

func TestVerifyDelegates(t *testing.T) {
	mechanism := &mockMechanism{}
	facilitator := newWrapped(mechanism)

	response, err := facilitator.Verify(context.Background(), payloadBytes("0x08"), requirementsBytes)
	require.NoError(t, err)
	assert.True(t, response.IsValid)
	assert.Equal(t, "0xpayer", response.Payer)
	assert.Equal(t, 0, mechanism.calls())
}

func TestGetSupportedDelegates(t *testing.T) {
	facilitator := newWrapped(&mockMechanism{})

	supported := facilitator.GetSupported(context.Background())
	require.Len(t, supported.Kinds, 1)
	assert.Equal(t, t402.SchemeExact, supported.Kinds[0].Scheme)
	assert.Equal(t, "eip155:8453", supported.Kinds[0].Network)
}
