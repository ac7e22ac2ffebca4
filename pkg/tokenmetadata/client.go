// Package tokenmetadata looks up ERC-20 token capabilities from the token
// metadata API. Resource servers and clients use it to decide which gasless
// approval route a token supports: EIP-3009 transferWithAuthorization,
// EIP-2612 permit, or the pre-signed raw approval fallback.
package tokenmetadata

import (
	"context"
	"encoding/json"
	"fmt"
	"net/http"
	"strings"
	"time"

	"github.com/t402-io/t402/go/types"
)

// DefaultBaseURL is the default URL for the token metadata API.
const DefaultBaseURL = "https://tokens.t402.io"

// DefaultTimeout is the default HTTP client timeout.
const DefaultTimeout = 10 * time.Second

// TokenMetadata describes an ERC-20 token and its signature capabilities.
type TokenMetadata struct {
	ChainID         int    `json:"chainId"`
	TokenAddress    string `json:"tokenAddress"`
	Name            string `json:"name"`
	Symbol          string `json:"symbol"`
	Decimals        int    `json:"decimals"`
	LogoURL         string `json:"logoUrl"`
	SupportsEip2612 bool   `json:"supportsEip2612"`
	SupportsEip3009 bool   `json:"supportsEip3009"`
	Version         string `json:"version,omitempty"`
}

// Config configures the token metadata client.
type Config struct {
	// BaseURL overrides the metadata service endpoint.
	BaseURL string
	// Timeout applies to every request; defaults to 10 seconds.
	Timeout time.Duration
}

// Client is an HTTP client for the token metadata API.
type Client struct {
	baseURL    string
	httpClient *http.Client
}

// NewClient creates a token metadata client.
func NewClient(config Config) *Client {
	baseURL := config.BaseURL
	if baseURL == "" {
		baseURL = DefaultBaseURL
	}

	timeout := config.Timeout
	if timeout == 0 {
		timeout = DefaultTimeout
	}

	return &Client{
		baseURL: strings.TrimSuffix(baseURL, "/"),
		httpClient: &http.Client{
			Timeout: timeout,
		},
	}
}

// chainNames maps eip155 chain references to the API's chain path segments.
var chainNames = map[string]string{
	"1":     "ethereum",
	"10":    "optimism",
	"56":    "bsc",
	"137":   "polygon",
	"2741":  "abstract",
	"8333":  "b3",
	"8453":  "base",
	"84532": "base-sepolia",
	"42161": "arbitrum",
	"43114": "avalanche",
}

// chainName resolves a CAIP-2 network to the API's chain name. Only eip155
// networks have ERC-20 metadata.
func chainName(network types.Network) (string, error) {
	namespace, reference, err := network.Parse()
	if err != nil {
		return "", err
	}
	if namespace != "eip155" {
		return "", fmt.Errorf("no token metadata for namespace %s", namespace)
	}
	name, ok := chainNames[reference]
	if !ok {
		return "", fmt.Errorf("unsupported chain ID: %s", reference)
	}
	return name, nil
}

// GetMetadata fetches token metadata for a CAIP-2 network and token address.
func (c *Client) GetMetadata(ctx context.Context, network types.Network, tokenAddress string) (*TokenMetadata, error) {
	name, err := chainName(network)
	if err != nil {
		return nil, err
	}
	return c.fetchMetadata(ctx, name, tokenAddress)
}

// GetMetadataByChainID fetches token metadata by eip155 chain ID.
func (c *Client) GetMetadataByChainID(ctx context.Context, chainID int, tokenAddress string) (*TokenMetadata, error) {
	return c.GetMetadata(ctx, types.Network(fmt.Sprintf("eip155:%d", chainID)), tokenAddress)
}

// SupportsGaslessApproval reports whether the token can grant a Permit2
// allowance without the payer spending gas, either through EIP-2612 permit or
// EIP-3009 authorization.
func (m *TokenMetadata) SupportsGaslessApproval() bool {
	return m.SupportsEip2612 || m.SupportsEip3009
}

func (c *Client) fetchMetadata(ctx context.Context, chain string, tokenAddress string) (*TokenMetadata, error) {
	url := fmt.Sprintf("%s/metadata/%s/%s", c.baseURL, chain, strings.ToLower(tokenAddress))

	req, err := http.NewRequestWithContext(ctx, http.MethodGet, url, nil)
	if err != nil {
		return nil, fmt.Errorf("failed to create request: %w", err)
	}
	req.Header.Set("Accept", "application/json")

	resp, err := c.httpClient.Do(req)
	if err != nil {
		return nil, fmt.Errorf("failed to fetch token metadata: %w", err)
	}
	defer resp.Body.Close()

	if resp.StatusCode == http.StatusNotFound {
		return nil, fmt.Errorf("token not found: %s on %s", tokenAddress, chain)
	}
	if resp.StatusCode != http.StatusOK {
		return nil, fmt.Errorf("token metadata API returned status %d", resp.StatusCode)
	}

	var metadata TokenMetadata
	if err := json.NewDecoder(resp.Body).Decode(&metadata); err != nil {
		return nil, fmt.Errorf("failed to decode token metadata: %w", err)
	}

	// EIP-3009/EIP-2612 tokens default to domain version 2.
	if metadata.Version == "" {
		metadata.Version = "2"
	}

	return &metadata, nil
}
