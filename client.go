package t402

import (
	"context"
	"fmt"
	"sync"
)

// Client manages payment mechanisms and creates payment payloads.
// Used by applications that need to make payments (have wallets/signers).
type Client struct {
	mu sync.RWMutex

	// network -> scheme -> client implementation
	schemes map[Network]map[string]SchemeNetworkClient

	// Function to select payment requirements when multiple options exist
	requirementsSelector PaymentRequirementsSelector
}

// PaymentRequirementsSelector chooses which payment option to use
type PaymentRequirementsSelector func(version int, requirements []PaymentRequirements) PaymentRequirements

// ClientOption configures the client
type ClientOption func(*Client)

// WithPaymentSelector sets a custom payment requirements selector
func WithPaymentSelector(selector PaymentRequirementsSelector) ClientOption {
	return func(c *Client) {
		c.requirementsSelector = selector
	}
}

// WithScheme registers a payment mechanism at creation time
func WithScheme(network Network, client SchemeNetworkClient) ClientOption {
	return func(c *Client) {
		c.RegisterScheme(network, client)
	}
}

// NewClient creates a new t402 client
func NewClient(opts ...ClientOption) *Client {
	c := &Client{
		schemes:              make(map[Network]map[string]SchemeNetworkClient),
		requirementsSelector: defaultPaymentSelector,
	}

	for _, opt := range opts {
		opt(c)
	}

	return c
}

// defaultPaymentSelector chooses the first available payment option
func defaultPaymentSelector(version int, requirements []PaymentRequirements) PaymentRequirements {
	if len(requirements) == 0 {
		panic("no payment requirements available")
	}
	return requirements[0]
}

// RegisterScheme registers a payment mechanism for a network. The network may
// be a wildcard pattern such as "eip155:*".
func (c *Client) RegisterScheme(network Network, client SchemeNetworkClient) *Client {
	c.mu.Lock()
	defer c.mu.Unlock()

	if c.schemes[network] == nil {
		c.schemes[network] = make(map[string]SchemeNetworkClient)
	}
	c.schemes[network][client.Scheme()] = client

	return c
}

// SelectPaymentRequirements chooses which payment requirements to use.
// This filters requirements to only those the client can fulfill.
func (c *Client) SelectPaymentRequirements(version int, requirements []PaymentRequirements) (PaymentRequirements, error) {
	c.mu.RLock()
	defer c.mu.RUnlock()

	// Filter to only supported requirements
	var supported []PaymentRequirements
	for _, req := range requirements {
		schemeMap := findSchemesByNetwork(c.schemes, req.Network)
		if schemeMap != nil {
			if _, hasScheme := schemeMap[req.Scheme]; hasScheme {
				supported = append(supported, req)
			}
		}
	}

	if len(supported) == 0 {
		return PaymentRequirements{}, &PaymentError{
			Code:    ErrCodeUnsupportedScheme,
			Message: "no supported payment schemes available",
			Details: map[string]interface{}{
				"version":      version,
				"requirements": requirements,
			},
		}
	}

	// Use selector to choose from supported options
	return c.requirementsSelector(version, supported), nil
}

// CreatePaymentPayload creates a signed payment payload with accepted
// requirements. Resource and extensions come from the 402 response that
// carried the requirements.
func (c *Client) CreatePaymentPayload(ctx context.Context, version int, requirements PaymentRequirements, resource *ResourceInfo, extensions map[string]interface{}) (PaymentPayload, error) {
	c.mu.RLock()
	defer c.mu.RUnlock()

	if err := ValidatePaymentRequirements(requirements); err != nil {
		return PaymentPayload{}, fmt.Errorf("invalid payment requirements: %w", err)
	}

	client := findByNetworkAndScheme(c.schemes, requirements.Scheme, requirements.Network)
	if client == nil {
		return PaymentPayload{}, &PaymentError{
			Code:    ErrCodeUnsupportedScheme,
			Message: fmt.Sprintf("no client registered for scheme %s on network %s", requirements.Scheme, requirements.Network),
		}
	}

	// Mechanism produces the scheme-specific payload; the registry owns the
	// envelope fields.
	partialPayload, err := client.CreatePaymentPayload(ctx, version, requirements)
	if err != nil {
		return PaymentPayload{}, fmt.Errorf("failed to create payment payload: %w", err)
	}

	fullPayload := PaymentPayload{
		T402Version: partialPayload.T402Version,
		Payload:     partialPayload.Payload,
		Accepted:    requirements,
		Resource:    resource,
		Extensions:  extensions,
	}

	if err := ValidatePaymentPayload(fullPayload); err != nil {
		return PaymentPayload{}, fmt.Errorf("invalid payment payload created: %w", err)
	}

	return fullPayload, nil
}

// CreatePaymentForRequired creates a payment for a PaymentRequired response,
// selecting among the accepted requirements.
func (c *Client) CreatePaymentForRequired(ctx context.Context, required PaymentRequired) (PaymentPayload, error) {
	selected, err := c.SelectPaymentRequirements(required.T402Version, required.Accepts)
	if err != nil {
		return PaymentPayload{}, err
	}

	return c.CreatePaymentPayload(ctx, required.T402Version, selected, required.Resource, required.Extensions)
}

// CanPay checks if the client can pay with any of the given requirements
func (c *Client) CanPay(version int, requirements []PaymentRequirements) bool {
	_, err := c.SelectPaymentRequirements(version, requirements)
	return err == nil
}

// RegisteredSchemes returns the registered (network, scheme) pairs.
func (c *Client) RegisteredSchemes() []struct {
	Network Network
	Scheme  string
} {
	c.mu.RLock()
	defer c.mu.RUnlock()

	var result []struct {
		Network Network
		Scheme  string
	}

	for network, schemes := range c.schemes {
		for scheme := range schemes {
			result = append(result, struct {
				Network Network
				Scheme  string
			}{Network: network, Scheme: scheme})
		}
	}

	return result
}
