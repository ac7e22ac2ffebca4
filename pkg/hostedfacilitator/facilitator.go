// Package hostedfacilitator configures clients for the hosted t402
// facilitator. It wires the public endpoint and API-key authentication into
// the generic HTTP facilitator client.
package hostedfacilitator

import (
	"context"
	"fmt"
	"os"

	t402http "github.com/t402-io/t402/go/http"
)

const (
	// BaseURL is the hosted facilitator endpoint.
	BaseURL = "https://facilitator.t402.io"

	// APIKeyEnv names the environment variable consulted when no key is
	// passed explicitly.
	APIKeyEnv = "T402_FACILITATOR_API_KEY"
)

// sdkVersion is reported in the Correlation-Context header so the hosted
// facilitator can attribute traffic per SDK release.
const sdkVersion = "2.0.0"

// APIKeyAuth implements t402http.AuthProvider with a static bearer token.
// An empty APIKey falls back to the T402_FACILITATOR_API_KEY environment
// variable at request time, so rotated keys are picked up without a restart.
type APIKeyAuth struct {
	APIKey string
}

// GetAuthHeaders returns bearer-token headers for every endpoint.
func (a *APIKeyAuth) GetAuthHeaders(context.Context) (t402http.AuthHeaders, error) {
	key := a.APIKey
	if key == "" {
		key = os.Getenv(APIKeyEnv)
	}
	if key == "" {
		return t402http.AuthHeaders{}, fmt.Errorf("missing credentials: %s must be set", APIKeyEnv)
	}

	headers := map[string]string{
		"Authorization":       "Bearer " + key,
		"Correlation-Context": correlationHeader(),
	}
	return t402http.AuthHeaders{
		Verify:    headers,
		Settle:    headers,
		Supported: headers,
	}, nil
}

// NewClient returns a facilitator client bound to the hosted endpoint. An
// empty apiKey defers to the T402_FACILITATOR_API_KEY environment variable.
func NewClient(apiKey string) *t402http.FacilitatorClient {
	return t402http.NewFacilitatorClient(&t402http.FacilitatorConfig{
		URL:          BaseURL,
		AuthProvider: &APIKeyAuth{APIKey: apiKey},
	})
}

func correlationHeader() string {
	return fmt.Sprintf("sdk_version=%s,sdk_language=go", sdkVersion)
}
