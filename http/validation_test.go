package http

import (
	"encoding/json"
	"testing"

	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"
)

func validRequestBody(t *testing.T) map[string]interface{} {
	t.Helper()
	var body map[string]interface{}
	raw := `{
		"t402Version": 2,
		"paymentPayload": {
			"t402Version": 2,
			"payload": {"signature": "0xabc"},
			"accepted": {"scheme": "exact"}
		},
		"paymentRequirements": {
			"scheme": "exact",
			"network": "eip155:8453",
			"asset": "0x833589fCD6eDb6E08f4c7C32D4f71b54bdA02913",
			"amount": "1000000",
			"payTo": "0x1111111111111111111111111111111111111111",
			"maxTimeoutSeconds": 60
		}
	}`
	require.NoError(t, json.Unmarshal([]byte(raw), &body))
	return body
}

func marshalBody(t *testing.T, body map[string]interface{}) []byte {
	t.Helper()
	raw, err := json.Marshal(body)
	require.NoError(t, err)
	return raw
}

func TestValidateVerifyRequest(t *testing.T) {
	t.Run("valid body", func(t *testing.T) {
		assert.NoError(t, ValidateVerifyRequest(marshalBody(t, validRequestBody(t))))
	})

	t.Run("missing top-level fields", func(t *testing.T) {
		body := validRequestBody(t)
		delete(body, "paymentRequirements")
		err := ValidateVerifyRequest(marshalBody(t, body))
		require.Error(t, err)
		assert.Contains(t, err.Error(), "paymentRequirements")
	})

	t.Run("version must be an integer", func(t *testing.T) {
		body := validRequestBody(t)
		body["t402Version"] = "2"
		assert.Error(t, ValidateVerifyRequest(marshalBody(t, body)))
	})

	t.Run("payload must be an object", func(t *testing.T) {
		body := validRequestBody(t)
		body["paymentPayload"].(map[string]interface{})["payload"] = "not-an-object"
		assert.Error(t, ValidateVerifyRequest(marshalBody(t, body)))
	})

	t.Run("network must be CAIP-2 shaped", func(t *testing.T) {
		body := validRequestBody(t)
		body["paymentRequirements"].(map[string]interface{})["network"] = "base-sepolia"
		err := ValidateVerifyRequest(marshalBody(t, body))
		require.Error(t, err)
		assert.Contains(t, err.Error(), "network")
	})

	t.Run("amount must be a decimal string", func(t *testing.T) {
		body := validRequestBody(t)
		body["paymentRequirements"].(map[string]interface{})["amount"] = "1.5"
		assert.Error(t, ValidateVerifyRequest(marshalBody(t, body)))
	})

	t.Run("not JSON", func(t *testing.T) {
		assert.Error(t, ValidateVerifyRequest([]byte("not json")))
	})
}

func TestValidateSettleRequest(t *testing.T) {
	assert.NoError(t, ValidateSettleRequest(marshalBody(t, validRequestBody(t))))

	body := validRequestBody(t)
	delete(body["paymentRequirements"].(map[string]interface{}), "payTo")
	err := ValidateSettleRequest(marshalBody(t, body))
	require.Error(t, err)
	assert.Contains(t, err.Error(), "settle")
}
