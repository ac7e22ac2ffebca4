package http

import (
	"bytes"
	"context"
	"encoding/json"
	"fmt"
	"io"
	"net/http"

	t402 "github.com/t402-io/t402/go"
	"github.com/t402-io/t402/go/types"
)

// Client wraps an http.Client with automatic 402 handling: a Payment
// Required response is paid through the registered mechanisms and the
// request retried once with the X-Payment header set.
type Client struct {
	payments   *t402.Client
	httpClient *http.Client
}

// NewClient creates a payment-aware HTTP client.
func NewClient(payments *t402.Client, httpClient *http.Client) *Client {
	if httpClient == nil {
		httpClient = http.DefaultClient
	}
	return &Client{payments: payments, httpClient: httpClient}
}

// DoWithPayment performs the request, paying for it when the server answers
// 402. Requests with a body must set GetBody (as http.NewRequest does) so
// the retry can replay it.
func (c *Client) DoWithPayment(ctx context.Context, req *http.Request) (*http.Response, error) {
	req = req.WithContext(ctx)

	resp, err := c.httpClient.Do(req)
	if err != nil {
		return nil, err
	}
	if resp.StatusCode != http.StatusPaymentRequired {
		return resp, nil
	}

	body, err := io.ReadAll(resp.Body)
	resp.Body.Close()
	if err != nil {
		return nil, fmt.Errorf("failed to read 402 response: %w", err)
	}

	var required types.PaymentRequired
	if err := json.Unmarshal(body, &required); err != nil {
		return nil, fmt.Errorf("failed to parse payment required response: %w", err)
	}

	payload, err := c.payments.CreatePaymentForRequired(ctx, required)
	if err != nil {
		return nil, fmt.Errorf("failed to create payment: %w", err)
	}
	header, err := EncodePaymentHeader(payload)
	if err != nil {
		return nil, err
	}

	retry, err := cloneRequest(req)
	if err != nil {
		return nil, err
	}
	retry.Header.Set(PaymentHeader, header)

	return c.httpClient.Do(retry)
}

// GetWithPayment performs a GET with automatic payment handling.
func (c *Client) GetWithPayment(ctx context.Context, url string) (*http.Response, error) {
	req, err := http.NewRequestWithContext(ctx, http.MethodGet, url, nil)
	if err != nil {
		return nil, err
	}
	return c.DoWithPayment(ctx, req)
}

// PostWithPayment performs a POST with automatic payment handling. The body
// is buffered so it can be replayed after the 402.
func (c *Client) PostWithPayment(ctx context.Context, url string, contentType string, body io.Reader) (*http.Response, error) {
	var buffered []byte
	if body != nil {
		var err error
		buffered, err = io.ReadAll(body)
		if err != nil {
			return nil, err
		}
	}

	req, err := http.NewRequestWithContext(ctx, http.MethodPost, url, bytes.NewReader(buffered))
	if err != nil {
		return nil, err
	}
	req.Header.Set("Content-Type", contentType)
	return c.DoWithPayment(ctx, req)
}

// SettleResponseFromHeaders extracts the settlement result a resource server
// attached to a paid response, or nil when absent.
func SettleResponseFromHeaders(resp *http.Response) (*types.SettleResponse, error) {
	header := resp.Header.Get(PaymentResponseHeader)
	if header == "" {
		return nil, nil
	}
	return DecodeSettleResponseHeader(header)
}

func cloneRequest(req *http.Request) (*http.Request, error) {
	retry := req.Clone(req.Context())
	if req.GetBody != nil {
		body, err := req.GetBody()
		if err != nil {
			return nil, fmt.Errorf("failed to replay request body: %w", err)
		}
		retry.Body = body
	}
	return retry, nil
}
