// Package echo provides payment-required middleware for echo resource servers.
package echo

import (
	"bytes"
	"encoding/json"
	"net/http"

	"github.com/labstack/echo/v4"

	t402 "github.com/t402-io/t402/go"
	t402http "github.com/t402-io/t402/go/http"
	"github.com/t402-io/t402/go/types"
)

// MiddlewareOptions configures PaymentMiddleware.
type MiddlewareOptions struct {
	// Facilitator verifies and settles payments. Defaults to the public
	// facilitator.
	Facilitator t402.FacilitatorClient

	// Description and MimeType annotate the protected resource.
	Description string
	MimeType    string

	// Resource overrides the resource URL; when empty it is built from
	// ResourceRootURL and the request path.
	Resource        string
	ResourceRootURL string
}

// Option configures the middleware.
type Option func(*MiddlewareOptions)

// WithFacilitator sets the facilitator client used to verify and settle.
func WithFacilitator(facilitator t402.FacilitatorClient) Option {
	return func(options *MiddlewareOptions) {
		options.Facilitator = facilitator
	}
}

// WithDescription sets the resource description.
func WithDescription(description string) Option {
	return func(options *MiddlewareOptions) {
		options.Description = description
	}
}

// WithMimeType sets the resource mime type.
func WithMimeType(mimeType string) Option {
	return func(options *MiddlewareOptions) {
		options.MimeType = mimeType
	}
}

// WithResource sets an explicit resource URL.
func WithResource(resource string) Option {
	return func(options *MiddlewareOptions) {
		options.Resource = resource
	}
}

// WithResourceRootURL sets the root URL the request path is appended to.
func WithResourceRootURL(resourceRootURL string) Option {
	return func(options *MiddlewareOptions) {
		options.ResourceRootURL = resourceRootURL
	}
}

// PaymentMiddleware guards handlers behind a payment. Requests without a valid
// X-Payment header receive a 402 with the accepted payment requirements; paid
// requests are verified before the handler runs and settled after it succeeds,
// with the settlement attached in the X-Payment-Response header.
func PaymentMiddleware(accepts []types.PaymentRequirements, opts ...Option) echo.MiddlewareFunc {
	options := &MiddlewareOptions{
		Facilitator: t402http.NewFacilitatorClient(nil),
	}
	for _, opt := range opts {
		opt(options)
	}

	return func(next echo.HandlerFunc) echo.HandlerFunc {
		return func(c echo.Context) error {
			resource := resourceInfo(options, c.Request())

			paymentRequired := func(message string) types.PaymentRequired {
				return types.PaymentRequired{
					T402Version: types.T402Version,
					Error:       message,
					Resource:    resource,
					Accepts:     accepts,
				}
			}

			header := c.Request().Header.Get(t402http.PaymentHeader)
			if header == "" {
				return c.JSON(http.StatusPaymentRequired, paymentRequired("payment required"))
			}

			payload, err := t402http.DecodePaymentHeader(header)
			if err != nil {
				return c.JSON(http.StatusPaymentRequired, paymentRequired(err.Error()))
			}

			// Verify against the server's own copy of the requirements, not
			// the copy the client echoed back.
			requirements, ok := matchRequirements(accepts, payload.Accepted)
			if !ok {
				return c.JSON(http.StatusPaymentRequired, paymentRequired("payment does not match any accepted requirements"))
			}

			payloadBytes, err := json.Marshal(payload)
			if err != nil {
				return echo.NewHTTPError(http.StatusInternalServerError, err.Error())
			}
			requirementsBytes, err := json.Marshal(requirements)
			if err != nil {
				return echo.NewHTTPError(http.StatusInternalServerError, err.Error())
			}

			ctx := c.Request().Context()
			verifyResponse, err := options.Facilitator.Verify(ctx, payloadBytes, requirementsBytes)
			if err != nil {
				return echo.NewHTTPError(http.StatusInternalServerError, err.Error())
			}
			if !verifyResponse.IsValid {
				return c.JSON(http.StatusPaymentRequired, paymentRequired(verifyResponse.InvalidReason))
			}

			// Buffer the handler's response so settlement failure can still
			// turn into a 402 instead of a half-written body.
			response := c.Response()
			original := response.Writer
			buffer := &responseBuffer{inner: original, statusCode: http.StatusOK}
			response.Writer = buffer

			err = next(c)
			response.Writer = original
			if err != nil {
				return err
			}

			settleResponse, err := options.Facilitator.Settle(ctx, payloadBytes, requirementsBytes)
			if err != nil {
				return writeJSON(original, http.StatusPaymentRequired, paymentRequired(err.Error()))
			}

			settleHeader, err := t402http.EncodeSettleResponseHeader(*settleResponse)
			if err != nil {
				return writeJSON(original, http.StatusInternalServerError, map[string]string{"error": err.Error()})
			}

			original.Header().Set(t402http.PaymentResponseHeader, settleHeader)
			original.WriteHeader(buffer.statusCode)
			_, err = original.Write(buffer.body.Bytes())
			return err
		}
	}
}

func resourceInfo(options *MiddlewareOptions, req *http.Request) *types.ResourceInfo {
	url := options.Resource
	if url == "" {
		url = options.ResourceRootURL + req.URL.Path
	}
	if url == "" {
		return nil
	}
	return &types.ResourceInfo{
		URL:         url,
		Description: options.Description,
		MimeType:    options.MimeType,
	}
}

// matchRequirements finds the server-side requirements the payment claims to
// satisfy.
func matchRequirements(accepts []types.PaymentRequirements, accepted types.PaymentRequirements) (types.PaymentRequirements, bool) {
	for _, requirements := range accepts {
		if requirements.Scheme == accepted.Scheme &&
			requirements.Network == accepted.Network &&
			requirements.Asset == accepted.Asset &&
			requirements.PayTo == accepted.PayTo {
			return requirements, true
		}
	}
	return types.PaymentRequirements{}, false
}

// responseBuffer captures status and body while letting headers pass through
// to the real writer.
type responseBuffer struct {
	inner      http.ResponseWriter
	body       bytes.Buffer
	statusCode int
	written    bool
}

func (b *responseBuffer) Header() http.Header {
	return b.inner.Header()
}

func (b *responseBuffer) WriteHeader(code int) {
	if !b.written {
		b.statusCode = code
		b.written = true
	}
}

func (b *responseBuffer) Write(p []byte) (int, error) {
	if !b.written {
		b.WriteHeader(http.StatusOK)
	}
	return b.body.Write(p)
}

func writeJSON(w http.ResponseWriter, status int, body interface{}) error {
	w.Header().Set(echo.HeaderContentType, echo.MIMEApplicationJSON)
	w.WriteHeader(status)
	return json.NewEncoder(w).Encode(body)
}
