package http

import (
	"bytes"
	"context"
	"encoding/json"
	"fmt"
	"io"
	"net/http"
	"time"

	t402 "github.com/t402-io/t402/go"
	"github.com/t402-io/t402/go/types"
)

// AuthProvider generates authentication headers for facilitator requests.
type AuthProvider interface {
	GetAuthHeaders(ctx context.Context) (AuthHeaders, error)
}

// AuthHeaders holds per-endpoint authentication headers.
type AuthHeaders struct {
	Verify    map[string]string
	Settle    map[string]string
	Supported map[string]string
}

// FacilitatorConfig configures the HTTP facilitator client.
type FacilitatorConfig struct {
	// URL is the base URL of the facilitator service.
	URL string

	// HTTPClient overrides the default client.
	HTTPClient *http.Client

	// AuthProvider injects authentication headers.
	AuthProvider AuthProvider

	// Timeout applies when no HTTPClient is given; defaults to 30s.
	Timeout time.Duration
}

// DefaultFacilitatorURL is the default public facilitator.
const DefaultFacilitatorURL = "https://facilitator.t402.io"

// GetSupported retry policy for 429 responses.
const (
	getSupportedRetries        = 3
	getSupportedRetryBaseDelay = 1 * time.Second
)

// FacilitatorClient talks to a remote facilitator over HTTP. It implements
// t402.FacilitatorClient: raw bytes in, decoded responses out.
type FacilitatorClient struct {
	url          string
	httpClient   *http.Client
	authProvider AuthProvider
}

// NewFacilitatorClient creates an HTTP facilitator client.
func NewFacilitatorClient(config *FacilitatorConfig) *FacilitatorClient {
	if config == nil {
		config = &FacilitatorConfig{}
	}

	url := config.URL
	if url == "" {
		url = DefaultFacilitatorURL
	}

	httpClient := config.HTTPClient
	if httpClient == nil {
		timeout := config.Timeout
		if timeout == 0 {
			timeout = 30 * time.Second
		}
		httpClient = &http.Client{Timeout: timeout}
	}

	return &FacilitatorClient{
		url:          url,
		httpClient:   httpClient,
		authProvider: config.AuthProvider,
	}
}

// Verify posts the payment to /verify. A facilitator rejection with a 200
// status comes back as VerifyResponse{IsValid: false}; a non-200 response
// surfaces as an error so callers can tell protocol rejection from transport
// failure.
func (c *FacilitatorClient) Verify(ctx context.Context, payloadBytes []byte, requirementsBytes []byte) (*types.VerifyResponse, error) {
	responseBody, status, err := c.post(ctx, "/verify", payloadBytes, requirementsBytes, func(h AuthHeaders) map[string]string {
		return h.Verify
	})
	if err != nil {
		return nil, err
	}

	var verifyResponse types.VerifyResponse
	if err := json.Unmarshal(responseBody, &verifyResponse); err != nil {
		return nil, t402.NewVerifyError(
			t402.ErrCodeInvalidResponse,
			"",
			fmt.Sprintf("failed to unmarshal verify response: %v", err),
		)
	}

	if status != http.StatusOK {
		if verifyResponse.InvalidReason != "" {
			return nil, t402.NewVerifyError(verifyResponse.InvalidReason, verifyResponse.Payer, verifyResponse.InvalidMessage)
		}
		return nil, fmt.Errorf("facilitator verify failed (%d): %s", status, string(responseBody))
	}
	return &verifyResponse, nil
}

// Settle posts the payment to /settle.
func (c *FacilitatorClient) Settle(ctx context.Context, payloadBytes []byte, requirementsBytes []byte) (*types.SettleResponse, error) {
	responseBody, status, err := c.post(ctx, "/settle", payloadBytes, requirementsBytes, func(h AuthHeaders) map[string]string {
		return h.Settle
	})
	if err != nil {
		return nil, err
	}

	var settleResponse types.SettleResponse
	if err := json.Unmarshal(responseBody, &settleResponse); err != nil {
		return nil, fmt.Errorf("facilitator settle failed (%d): %s", status, string(responseBody))
	}

	if status != http.StatusOK {
		if settleResponse.ErrorReason != "" {
			return nil, t402.NewSettleError(
				settleResponse.ErrorReason,
				settleResponse.Payer,
				settleResponse.Network,
				settleResponse.Transaction,
				fmt.Sprintf("facilitator returned %d", status),
			)
		}
		return nil, fmt.Errorf("facilitator settle failed (%d): %s", status, string(responseBody))
	}
	return &settleResponse, nil
}

// GetSupported fetches the facilitator's supported payment kinds, retrying
// 429 responses with exponential backoff.
func (c *FacilitatorClient) GetSupported(ctx context.Context) (types.SupportedResponse, error) {
	var lastErr error

	for attempt := 0; attempt < getSupportedRetries; attempt++ {
		req, err := http.NewRequestWithContext(ctx, http.MethodGet, c.url+"/supported", nil)
		if err != nil {
			return types.SupportedResponse{}, fmt.Errorf("failed to create supported request: %w", err)
		}
		req.Header.Set("Content-Type", "application/json")
		if err := c.addAuthHeaders(ctx, req, func(h AuthHeaders) map[string]string { return h.Supported }); err != nil {
			return types.SupportedResponse{}, err
		}

		resp, err := c.httpClient.Do(req)
		if err != nil {
			return types.SupportedResponse{}, fmt.Errorf("supported request failed: %w", err)
		}
		responseBody, err := io.ReadAll(resp.Body)
		resp.Body.Close()
		if err != nil {
			return types.SupportedResponse{}, fmt.Errorf("failed to read response body: %w", err)
		}

		if resp.StatusCode == http.StatusOK {
			var supported types.SupportedResponse
			if err := json.Unmarshal(responseBody, &supported); err != nil {
				return types.SupportedResponse{}, fmt.Errorf("failed to decode supported response: %w", err)
			}
			return supported, nil
		}

		lastErr = fmt.Errorf("facilitator supported failed (%d): %s", resp.StatusCode, string(responseBody))

		if resp.StatusCode == http.StatusTooManyRequests && attempt < getSupportedRetries-1 {
			delay := getSupportedRetryBaseDelay * time.Duration(1<<uint(attempt))
			select {
			case <-time.After(delay):
				continue
			case <-ctx.Done():
				return types.SupportedResponse{}, ctx.Err()
			}
		}
		return types.SupportedResponse{}, lastErr
	}
	return types.SupportedResponse{}, lastErr
}

func (c *FacilitatorClient) post(
	ctx context.Context,
	path string,
	payloadBytes []byte,
	requirementsBytes []byte,
	selectHeaders func(AuthHeaders) map[string]string,
) ([]byte, int, error) {
	version, err := types.DetectVersion(payloadBytes)
	if err != nil {
		return nil, 0, fmt.Errorf("failed to detect version: %w", err)
	}

	var payloadMap, requirementsMap map[string]interface{}
	if err := json.Unmarshal(payloadBytes, &payloadMap); err != nil {
		return nil, 0, fmt.Errorf("failed to unmarshal payload: %w", err)
	}
	if err := json.Unmarshal(requirementsBytes, &requirementsMap); err != nil {
		return nil, 0, fmt.Errorf("failed to unmarshal requirements: %w", err)
	}

	body, err := json.Marshal(map[string]interface{}{
		"t402Version":         version,
		"paymentPayload":      payloadMap,
		"paymentRequirements": requirementsMap,
	})
	if err != nil {
		return nil, 0, fmt.Errorf("failed to marshal request: %w", err)
	}

	req, err := http.NewRequestWithContext(ctx, http.MethodPost, c.url+path, bytes.NewReader(body))
	if err != nil {
		return nil, 0, fmt.Errorf("failed to create request: %w", err)
	}
	req.Header.Set("Content-Type", "application/json")
	if err := c.addAuthHeaders(ctx, req, selectHeaders); err != nil {
		return nil, 0, err
	}

	resp, err := c.httpClient.Do(req)
	if err != nil {
		return nil, 0, fmt.Errorf("request failed: %w", err)
	}
	defer resp.Body.Close()

	responseBody, err := io.ReadAll(resp.Body)
	if err != nil {
		return nil, 0, fmt.Errorf("failed to read response body: %w", err)
	}
	return responseBody, resp.StatusCode, nil
}

func (c *FacilitatorClient) addAuthHeaders(ctx context.Context, req *http.Request, selectHeaders func(AuthHeaders) map[string]string) error {
	if c.authProvider == nil {
		return nil
	}
	authHeaders, err := c.authProvider.GetAuthHeaders(ctx)
	if err != nil {
		return fmt.Errorf("failed to get auth headers: %w", err)
	}
	for k, v := range selectHeaders(authHeaders) {
		req.Header.Set(k, v)
	}
	return nil
}
