package hostedfacilitator

import (
	"context"
	"testing"

	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"
)

func TestAPIKeyAuth(t *testing.T) {
	t.Run("explicit key wins", func(t *testing.T) {
		auth := &APIKeyAuth{APIKey: "test-key"}

		headers, err := auth.GetAuthHeaders(context.Background())
		require.NoError(t, err)

		assert.Equal(t, "Bearer test-key", headers.Verify["Authorization"])
		assert.Equal(t, headers.Verify, headers.Settle)
		assert.Equal(t, headers.Verify, headers.Supported)
		assert.Contains(t, headers.Verify["Correlation-Context"], "sdk_language=go")
	})

	t.Run("falls back to the environment", func(t *testing.T) {
		t.Setenv(APIKeyEnv, "env-key")
		auth := &APIKeyAuth{}

		headers, err := auth.GetAuthHeaders(context.Background())
		require.NoError(t, err)
		assert.Equal(t, "Bearer env-key", headers.Settle["Authorization"])
	})

	t.Run("missing key is an error", func(t *testing.T) {
		t.Setenv(APIKeyEnv, "")
		auth := &APIKeyAuth{}

		_, err := auth.GetAuthHeaders(context.Background())
		require.Error(t, err)
		assert.Contains(t, err.Error(), APIKeyEnv)
	})
}

func TestNewClient(t *testing.T) {
	assert.NotNil(t, NewClient("test-key"))
}
