package paymentidentifier

import (
	"context"
	"strings"
	"testing"

	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"

	t402 "github.com/t402-io/t402/go"
)

func TestGeneratePaymentID(t *testing.T) {
	id := GeneratePaymentID("")
	assert.True(t, strings.HasPrefix(id, "pay_"))
	assert.True(t, IsValidPaymentID(id))

	custom := GeneratePaymentID("order_")
	assert.True(t, strings.HasPrefix(custom, "order_"))
	assert.True(t, IsValidPaymentID(custom))

	assert.NotEqual(t, GeneratePaymentID(""), GeneratePaymentID(""))
}

func TestIsValidPaymentID(t *testing.T) {
	assert.True(t, IsValidPaymentID("pay_7d5d747be160e280504c099d984bcfe0"))
	assert.True(t, IsValidPaymentID("abc-DEF_123456789"))

	assert.False(t, IsValidPaymentID("short"), "below minimum length")
	assert.False(t, IsValidPaymentID(strings.Repeat("a", IDMaxLength+1)))
	assert.False(t, IsValidPaymentID("pay_with spaces aaaa"))
	assert.False(t, IsValidPaymentID("pay_with!bang!aaaa"))
}

func TestExtractPaymentID(t *testing.T) {
	id := GeneratePaymentID("")

	t.Run("typed extension", func(t *testing.T) {
		payload := t402.PaymentPayload{Extensions: Attach(id)}
		got, err := ExtractPaymentID(payload, true)
		require.NoError(t, err)
		assert.Equal(t, id, got)
	})

	t.Run("decoded JSON extension", func(t *testing.T) {
		payload := t402.PaymentPayload{Extensions: map[string]interface{}{
			ExtensionName: map[string]interface{}{
				"info": map[string]interface{}{"required": false, "id": id},
			},
		}}
		got, err := ExtractPaymentID(payload, true)
		require.NoError(t, err)
		assert.Equal(t, id, got)
	})

	t.Run("absent extension yields empty", func(t *testing.T) {
		got, err := ExtractPaymentID(t402.PaymentPayload{}, true)
		require.NoError(t, err)
		assert.Empty(t, got)
	})

	t.Run("malformed id fails validation", func(t *testing.T) {
		payload := t402.PaymentPayload{Extensions: Attach("bad id")}
		_, err := ExtractPaymentID(payload, true)
		assert.Error(t, err)

		got, err := ExtractPaymentID(payload, false)
		require.NoError(t, err)
		assert.Equal(t, "bad id", got)
	})
}

func TestExtractPaymentIDFromBytes(t *testing.T) {
	payloadBytes := []byte(`{
		"t402Version": 2,
		"payload": {"signature": "0xsig"},
		"accepted": {"scheme": "exact", "network": "eip155:8453"},
		"extensions": {
			"paymentIdentifier": {"info": {"required": false, "id": "pay_7d5d747be160e280"}}
		}
	}`)

	id, err := ExtractPaymentIDFromBytes(payloadBytes, true)
	require.NoError(t, err)
	assert.Equal(t, "pay_7d5d747be160e280", id)

	_, err = ExtractPaymentIDFromBytes([]byte(`{"payload": {}}`), true)
	assert.Error(t, err, "missing version tag")
}

func TestValidate(t *testing.T) {
	assert.True(t, Validate(Extension{Info: Info{Required: true}}).Valid)
	assert.True(t, Validate(Declare(true)[ExtensionName]).Valid)

	assert.False(t, Validate(nil).Valid)
	assert.False(t, Validate(map[string]interface{}{"noinfo": true}).Valid)

	result := Validate(Extension{Info: Info{ID: "bad id"}})
	require.False(t, result.Valid)
	assert.Contains(t, result.Errors[0], "invalid payment id")
}

func TestRequiredByPaymentRequired(t *testing.T) {
	required, err := RequiredByPaymentRequired([]byte(`{
		"t402Version": 2,
		"accepts": [],
		"extensions": {"paymentIdentifier": {"info": {"required": true}}}
	}`))
	require.NoError(t, err)
	assert.True(t, required)

	required, err = RequiredByPaymentRequired([]byte(`{"t402Version": 2, "accepts": []}`))
	require.NoError(t, err)
	assert.False(t, required)
}

func TestVerifyHook(t *testing.T) {
	hook := VerifyHook()

	t.Run("aborts without an id", func(t *testing.T) {
		result, err := hook(t402.FacilitatorVerifyContext{
			Ctx:     context.Background(),
			Payload: t402.PaymentPayload{T402Version: 2},
		})
		require.NoError(t, err)
		require.NotNil(t, result)
		assert.True(t, result.Abort)
		assert.Equal(t, "missing_payment_identifier", result.Reason)
	})

	t.Run("aborts on malformed id", func(t *testing.T) {
		result, err := hook(t402.FacilitatorVerifyContext{
			Ctx:     context.Background(),
			Payload: t402.PaymentPayload{T402Version: 2, Extensions: Attach("bad id")},
		})
		require.NoError(t, err)
		require.NotNil(t, result)
		assert.Equal(t, "invalid_payment_identifier", result.Reason)
	})

	t.Run("passes a valid id through", func(t *testing.T) {
		result, err := hook(t402.FacilitatorVerifyContext{
			Ctx:     context.Background(),
			Payload: t402.PaymentPayload{T402Version: 2, Extensions: Attach(GeneratePaymentID(""))},
		})
		require.NoError(t, err)
		assert.Nil(t, result)
	})
}

func TestPayloadFingerprint(t *testing.T) {
	payload := t402.PaymentPayload{T402Version: 2, Extensions: Attach("pay_7d5d747be160e280")}

	first, err := PayloadFingerprint(payload)
	require.NoError(t, err)
	second, err := PayloadFingerprint(payload)
	require.NoError(t, err)
	assert.Equal(t, first, second)

	payload.Payload = map[string]interface{}{"signature": "0xother"}
	changed, err := PayloadFingerprint(payload)
	require.NoError(t, err)
	assert.NotEqual(t, first, changed)
}
