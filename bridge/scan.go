package bridge

import (
	"context"
	"encoding/json"
	"errors"
	"fmt"
	"net/http"
	"time"
)

// LayerZeroScanClient tracks cross-chain messages through the LayerZero Scan
// API.
type LayerZeroScanClient struct {
	baseURL    string
	httpClient *http.Client
}

// NewLayerZeroScanClient creates a client against the public Scan API.
func NewLayerZeroScanClient() *LayerZeroScanClient {
	return NewLayerZeroScanClientWithURL(LayerZeroScanBaseURL)
}

// NewLayerZeroScanClientWithURL creates a client against a custom base URL.
func NewLayerZeroScanClientWithURL(baseURL string) *LayerZeroScanClient {
	return &LayerZeroScanClient{
		baseURL:    baseURL,
		httpClient: &http.Client{Timeout: 30 * time.Second},
	}
}

// GetMessage fetches a message by GUID. A message not yet indexed returns
// ErrMessageNotFound.
func (c *LayerZeroScanClient) GetMessage(ctx context.Context, guid string) (*Message, error) {
	url := fmt.Sprintf("%s/messages/guid/%s", c.baseURL, guid)

	req, err := http.NewRequestWithContext(ctx, http.MethodGet, url, nil)
	if err != nil {
		return nil, err
	}
	req.Header.Set("Accept", "application/json")

	resp, err := c.httpClient.Do(req)
	if err != nil {
		return nil, fmt.Errorf("failed to fetch message: %w", err)
	}
	defer resp.Body.Close()

	if resp.StatusCode == http.StatusNotFound {
		return nil, fmt.Errorf("%w: %s", ErrMessageNotFound, guid)
	}
	if resp.StatusCode != http.StatusOK {
		return nil, fmt.Errorf("LayerZero Scan API error: %d %s", resp.StatusCode, resp.Status)
	}

	var message Message
	if err := json.NewDecoder(resp.Body).Decode(&message); err != nil {
		return nil, fmt.Errorf("failed to decode message: %w", err)
	}
	if message.Status == "" {
		message.Status = StatusInflight
	}
	return &message, nil
}

// GetMessagesByWallet fetches the most recent messages for a wallet.
func (c *LayerZeroScanClient) GetMessagesByWallet(ctx context.Context, address string, limit int) ([]*Message, error) {
	if limit <= 0 {
		limit = 20
	}
	url := fmt.Sprintf("%s/messages/wallet/%s?limit=%d", c.baseURL, address, limit)

	req, err := http.NewRequestWithContext(ctx, http.MethodGet, url, nil)
	if err != nil {
		return nil, err
	}
	req.Header.Set("Accept", "application/json")

	resp, err := c.httpClient.Do(req)
	if err != nil {
		return nil, fmt.Errorf("failed to fetch messages: %w", err)
	}
	defer resp.Body.Close()

	if resp.StatusCode != http.StatusOK {
		return nil, fmt.Errorf("LayerZero Scan API error: %d %s", resp.StatusCode, resp.Status)
	}

	var envelope struct {
		Messages []*Message `json:"messages"`
		Data     []*Message `json:"data"`
	}
	if err := json.NewDecoder(resp.Body).Decode(&envelope); err != nil {
		return nil, fmt.Errorf("failed to decode messages: %w", err)
	}
	if envelope.Messages != nil {
		return envelope.Messages, nil
	}
	return envelope.Data, nil
}

// WaitForDelivery polls the message until DELIVERED. FAILED and BLOCKED are
// terminal errors; a timeout is reported as ErrDeliveryTimeout, which is not
// evidence the transfer failed.
func (c *LayerZeroScanClient) WaitForDelivery(ctx context.Context, guid string, opts *WaitOptions) (*Message, error) {
	timeout := DefaultDeliveryTimeout
	pollInterval := DefaultPollInterval
	var onStatusChange func(MessageStatus)

	if opts != nil {
		if opts.Timeout > 0 {
			timeout = opts.Timeout
		}
		if opts.PollInterval > 0 {
			pollInterval = opts.PollInterval
		}
		onStatusChange = opts.OnStatusChange
	}

	deadline := time.Now().Add(timeout)
	var lastStatus MessageStatus

	for time.Now().Before(deadline) {
		message, err := c.GetMessage(ctx, guid)
		if err != nil {
			// Not indexed yet: keep polling.
			if !errors.Is(err, ErrMessageNotFound) {
				return nil, err
			}
		} else {
			if message.Status != lastStatus {
				lastStatus = message.Status
				if onStatusChange != nil {
					onStatusChange(message.Status)
				}
			}

			switch message.Status {
			case StatusDelivered:
				return message, nil
			case StatusFailed:
				return nil, fmt.Errorf("%w: %s", ErrDeliveryFailed, guid)
			case StatusBlocked:
				return nil, fmt.Errorf("%w: %s", ErrDeliveryBlocked, guid)
			}
		}

		select {
		case <-ctx.Done():
			return nil, ctx.Err()
		case <-time.After(pollInterval):
		}
	}

	return nil, fmt.Errorf("%w: %s", ErrDeliveryTimeout, guid)
}

// IsDelivered reports whether a message has reached its destination.
func (c *LayerZeroScanClient) IsDelivered(ctx context.Context, guid string) (bool, error) {
	message, err := c.GetMessage(ctx, guid)
	if err != nil {
		if errors.Is(err, ErrMessageNotFound) {
			return false, nil
		}
		return false, err
	}
	return message.Status == StatusDelivered, nil
}
