package http

import (
	"context"
	"encoding/json"
	"errors"
	"net/http"
	"net/http/httptest"
	"sync/atomic"
	"testing"
	"time"

	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"

	t402 "github.com/t402-io/t402/go"
	"github.com/t402-io/t402/go/types"
)

func testPayloadBytes(t *testing.T) []byte {
	t.Helper()
	raw, err := json.Marshal(types.PaymentPayload{
		T402Version: types.T402Version,
		Payload:     map[string]interface{}{"signature": "0xabc"},
		Accepted: types.PaymentRequirements{
			Scheme:  "exact",
			Network: "eip155:8453",
			Asset:   "0x833589fCD6eDb6E08f4c7C32D4f71b54bdA02913",
			Amount:  "1000000",
			PayTo:   "0x1111111111111111111111111111111111111111",
		},
	})
	require.NoError(t, err)
	return raw
}

func testRequirementsBytes(t *testing.T) []byte {
	t.Helper()
	raw, err := json.Marshal(types.PaymentRequirements{
		Scheme:  "exact",
		Network: "eip155:8453",
		Asset:   "0x833589fCD6eDb6E08f4c7C32D4f71b54bdA02913",
		Amount:  "1000000",
		PayTo:   "0x1111111111111111111111111111111111111111",
	})
	require.NoError(t, err)
	return raw
}

func TestVerify(t *testing.T) {
	t.Run("valid payment", func(t *testing.T) {
		server := httptest.NewServer(http.HandlerFunc(func(w http.ResponseWriter, r *http.Request) {
			assert.Equal(t, "/verify", r.URL.Path)
			assert.Equal(t, http.MethodPost, r.Method)

			var body map[string]interface{}
			require.NoError(t, json.NewDecoder(r.Body).Decode(&body))
			assert.Equal(t, float64(types.T402Version), body["t402Version"])
			assert.NotNil(t, body["paymentPayload"])
			assert.NotNil(t, body["paymentRequirements"])

			json.NewEncoder(w).Encode(types.VerifyResponse{IsValid: true, Payer: "0xpayer"})
		}))
		defer server.Close()

		client := NewFacilitatorClient(&FacilitatorConfig{URL: server.URL})
		resp, err := client.Verify(context.Background(), testPayloadBytes(t), testRequirementsBytes(t))
		require.NoError(t, err)
		assert.True(t, resp.IsValid)
		assert.Equal(t, "0xpayer", resp.Payer)
	})

	t.Run("rejection with 200 is data not error", func(t *testing.T) {
		server := httptest.NewServer(http.HandlerFunc(func(w http.ResponseWriter, _ *http.Request) {
			json.NewEncoder(w).Encode(types.VerifyResponse{IsValid: false, InvalidReason: "insufficient_amount"})
		}))
		defer server.Close()

		client := NewFacilitatorClient(&FacilitatorConfig{URL: server.URL})
		resp, err := client.Verify(context.Background(), testPayloadBytes(t), testRequirementsBytes(t))
		require.NoError(t, err)
		assert.False(t, resp.IsValid)
		assert.Equal(t, "insufficient_amount", resp.InvalidReason)
	})

	t.Run("non-200 with reason becomes VerifyError", func(t *testing.T) {
		server := httptest.NewServer(http.HandlerFunc(func(w http.ResponseWriter, _ *http.Request) {
			w.WriteHeader(http.StatusBadRequest)
			json.NewEncoder(w).Encode(types.VerifyResponse{IsValid: false, InvalidReason: "invalid_payload", Payer: "0xpayer"})
		}))
		defer server.Close()

		client := NewFacilitatorClient(&FacilitatorConfig{URL: server.URL})
		_, err := client.Verify(context.Background(), testPayloadBytes(t), testRequirementsBytes(t))
		require.Error(t, err)

		var verifyErr *t402.VerifyError
		require.True(t, errors.As(err, &verifyErr))
		assert.Equal(t, "invalid_payload", verifyErr.Reason)
		assert.Equal(t, "0xpayer", verifyErr.Payer)
	})

	t.Run("missing version tag", func(t *testing.T) {
		client := NewFacilitatorClient(&FacilitatorConfig{URL: "http://127.0.0.1:1"})
		_, err := client.Verify(context.Background(), []byte(`{"payload":{}}`), testRequirementsBytes(t))
		require.Error(t, err)
		assert.Contains(t, err.Error(), "version")
	})
}

func TestSettle(t *testing.T) {
	t.Run("success", func(t *testing.T) {
		server := httptest.NewServer(http.HandlerFunc(func(w http.ResponseWriter, r *http.Request) {
			assert.Equal(t, "/settle", r.URL.Path)
			json.NewEncoder(w).Encode(types.SettleResponse{
				Success:     true,
				Transaction: "0xtxhash",
				Network:     "eip155:8453",
				Payer:       "0xpayer",
			})
		}))
		defer server.Close()

		client := NewFacilitatorClient(&FacilitatorConfig{URL: server.URL})
		resp, err := client.Settle(context.Background(), testPayloadBytes(t), testRequirementsBytes(t))
		require.NoError(t, err)
		assert.True(t, resp.Success)
		assert.Equal(t, "0xtxhash", resp.Transaction)
	})

	t.Run("non-200 with reason becomes SettleError", func(t *testing.T) {
		server := httptest.NewServer(http.HandlerFunc(func(w http.ResponseWriter, _ *http.Request) {
			w.WriteHeader(http.StatusInternalServerError)
			json.NewEncoder(w).Encode(types.SettleResponse{
				Success:     false,
				ErrorReason: "settlement_failed",
				Transaction: "0xpending",
			})
		}))
		defer server.Close()

		client := NewFacilitatorClient(&FacilitatorConfig{URL: server.URL})
		_, err := client.Settle(context.Background(), testPayloadBytes(t), testRequirementsBytes(t))
		require.Error(t, err)

		var settleErr *t402.SettleError
		require.True(t, errors.As(err, &settleErr))
		assert.Equal(t, "settlement_failed", settleErr.Reason)
		assert.Equal(t, "0xpending", settleErr.Transaction)
	})
}

func TestGetSupported(t *testing.T) {
	t.Run("retries 429 then succeeds", func(t *testing.T) {
		var calls atomic.Int32
		server := httptest.NewServer(http.HandlerFunc(func(w http.ResponseWriter, r *http.Request) {
			assert.Equal(t, "/supported", r.URL.Path)
			if calls.Add(1) == 1 {
				w.WriteHeader(http.StatusTooManyRequests)
				return
			}
			json.NewEncoder(w).Encode(types.SupportedResponse{
				Kinds: []types.SupportedKind{
					{T402Version: types.T402Version, Scheme: "exact", Network: "eip155:8453"},
				},
			})
		}))
		defer server.Close()

		client := NewFacilitatorClient(&FacilitatorConfig{URL: server.URL})
		resp, err := client.GetSupported(context.Background())
		require.NoError(t, err)
		require.Len(t, resp.Kinds, 1)
		assert.Equal(t, int32(2), calls.Load())
	})

	t.Run("non-429 error is not retried", func(t *testing.T) {
		var calls atomic.Int32
		server := httptest.NewServer(http.HandlerFunc(func(w http.ResponseWriter, _ *http.Request) {
			calls.Add(1)
			w.WriteHeader(http.StatusInternalServerError)
		}))
		defer server.Close()

		client := NewFacilitatorClient(&FacilitatorConfig{URL: server.URL})
		_, err := client.GetSupported(context.Background())
		require.Error(t, err)
		assert.Equal(t, int32(1), calls.Load())
	})
}

func TestAuthProviderHeaders(t *testing.T) {
	server := httptest.NewServer(http.HandlerFunc(func(w http.ResponseWriter, r *http.Request) {
		assert.Equal(t, "Bearer verify-token", r.Header.Get("Authorization"))
		json.NewEncoder(w).Encode(types.VerifyResponse{IsValid: true})
	}))
	defer server.Close()

	client := NewFacilitatorClient(&FacilitatorConfig{
		URL:          server.URL,
		AuthProvider: staticAuth{},
		Timeout:      5 * time.Second,
	})
	_, err := client.Verify(context.Background(), testPayloadBytes(t), testRequirementsBytes(t))
	require.NoError(t, err)
}

type staticAuth struct{}

func (staticAuth) GetAuthHeaders(context.Context) (AuthHeaders, error) {
	return AuthHeaders{
		Verify: map[string]string{"Authorization": "Bearer verify-token"},
	}, nil
}
