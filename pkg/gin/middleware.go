// Package gin provides payment-required middleware for gin resource servers.
package gin

import (
	"encoding/json"
	"math/big"
	"net/http"
	"strings"

	"github.com/gin-gonic/gin"

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
func PaymentMiddleware(accepts []types.PaymentRequirements, opts ...Option) gin.HandlerFunc {
	options := &MiddlewareOptions{
		Facilitator: t402http.NewFacilitatorClient(nil),
	}
	for _, opt := range opts {
		opt(options)
	}

	return func(c *gin.Context) {
		resource := resourceInfo(options, c.Request)

		paymentRequired := func(message string) types.PaymentRequired {
			return types.PaymentRequired{
				T402Version: types.T402Version,
				Error:       message,
				Resource:    resource,
				Accepts:     accepts,
			}
		}

		header := c.GetHeader(t402http.PaymentHeader)
		if header == "" {
			c.AbortWithStatusJSON(http.StatusPaymentRequired, paymentRequired("payment required"))
			return
		}

		payload, err := t402http.DecodePaymentHeader(header)
		if err != nil {
			c.AbortWithStatusJSON(http.StatusPaymentRequired, paymentRequired(err.Error()))
			return
		}

		// Verify against the server's own copy of the requirements, not the
		// copy the client echoed back.
		requirements, ok := matchRequirements(accepts, payload.Accepted)
		if !ok {
			c.AbortWithStatusJSON(http.StatusPaymentRequired, paymentRequired("payment does not match any accepted requirements"))
			return
		}

		payloadBytes, err := json.Marshal(payload)
		if err != nil {
			c.AbortWithStatusJSON(http.StatusInternalServerError, gin.H{"error": err.Error()})
			return
		}
		requirementsBytes, err := json.Marshal(requirements)
		if err != nil {
			c.AbortWithStatusJSON(http.StatusInternalServerError, gin.H{"error": err.Error()})
			return
		}

		verifyResponse, err := options.Facilitator.Verify(c.Request.Context(), payloadBytes, requirementsBytes)
		if err != nil {
			c.AbortWithStatusJSON(http.StatusInternalServerError, gin.H{"error": err.Error()})
			return
		}
		if !verifyResponse.IsValid {
			c.AbortWithStatusJSON(http.StatusPaymentRequired, paymentRequired(verifyResponse.InvalidReason))
			return
		}

		// Buffer the handler's response so settlement failure can still turn
		// into a 402 instead of a half-written body.
		writer := &responseWriter{
			ResponseWriter: c.Writer,
			body:           &strings.Builder{},
			statusCode:     http.StatusOK,
		}
		c.Writer = writer

		c.Next()

		if c.IsAborted() {
			return
		}

		settleResponse, err := options.Facilitator.Settle(c.Request.Context(), payloadBytes, requirementsBytes)
		if err != nil {
			c.Writer = writer.ResponseWriter
			c.AbortWithStatusJSON(http.StatusPaymentRequired, paymentRequired(err.Error()))
			return
		}

		settleHeader, err := t402http.EncodeSettleResponseHeader(*settleResponse)
		if err != nil {
			c.Writer = writer.ResponseWriter
			c.AbortWithStatusJSON(http.StatusInternalServerError, gin.H{"error": err.Error()})
			return
		}

		c.Writer = writer.ResponseWriter
		c.Header(t402http.PaymentResponseHeader, settleHeader)
		c.Writer.WriteHeader(writer.statusCode)
		c.Writer.Write([]byte(writer.body.String()))
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

// responseWriter captures the handler's response until settlement completes.
type responseWriter struct {
	gin.ResponseWriter
	body       *strings.Builder
	statusCode int
	written    bool
}

func (w *responseWriter) WriteHeader(code int) {
	if !w.written {
		w.statusCode = code
		w.written = true
	}
}

func (w *responseWriter) Write(b []byte) (int, error) {
	if !w.written {
		w.WriteHeader(http.StatusOK)
	}
	w.body.Write(b)
	return len(b), nil
}

func (w *responseWriter) WriteString(s string) (int, error) {
	if !w.written {
		w.WriteHeader(http.StatusOK)
	}
	return w.body.WriteString(s)
}

// AmountToAssetUnits converts a human-readable amount into base units using
// the token's decimals, for building payment requirements.
func AmountToAssetUnits(amount *big.Float, decimals int) *big.Int {
	scale := new(big.Int).Exp(big.NewInt(10), big.NewInt(int64(decimals)), nil)
	scaleFloat := new(big.Float).SetPrec(256).SetInt(scale)
	amountFloat := new(big.Float).SetPrec(256).Set(amount)
	result, _ := new(big.Float).Mul(amountFloat, scaleFloat).Int(nil)
	return result
}
