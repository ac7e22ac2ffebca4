// Package stdlib provides payment-required middleware for net/http resource
// servers. It mirrors the gin and echo middlewares for servers that use the
// standard library mux directly.
package stdlib

import (
	"bytes"
	"encoding/json"
	"net/http"

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

// PaymentMiddleware guards an http.Handler behind a payment. Requests without
// a valid X-Payment header receive a 402 with the accepted payment
// requirements; paid requests are verified before the handler runs and settled
// after it succeeds, with the settlement attached in the X-Payment-Response
// header.
func PaymentMiddleware(accepts []types.PaymentRequirements, opts ...Option) func(http.Handler) http.Handler {
	options := &MiddlewareOptions{
		Facilitator: t402http.NewFacilitatorClient(nil),
	}
	for _, opt := range opts {
		opt(options)
	}

	return func(next http.Handler) http.Handler {
		return http.HandlerFunc(func(w http.ResponseWriter, r *http.Request) {
			resource := resourceInfo(options, r)

			paymentRequired := func(message string) types.PaymentRequired {
				return types.PaymentRequired{
					T402Version: types.T402Version,
					Error:       message,
					Resource:    resource,
					Accepts:     accepts,
				}
			}

			header := r.Header.Get(t402http.PaymentHeader)
			if header == "" {
				writeJSON(w, http.StatusPaymentRequired, paymentRequired("payment required"))
				return
			}

			payload, err := t402http.DecodePaymentHeader(header)
			if err != nil {
				writeJSON(w, http.StatusPaymentRequired, paymentRequired(err.Error()))
				return
			}

			// Verify against the server's own copy of the requirements, not
			// the copy the client echoed back.
			requirements, ok := matchRequirements(accepts, payload.Accepted)
			if !ok {
				writeJSON(w, http.StatusPaymentRequired, paymentRequired("payment does not match any accepted requirements"))
				return
			}

			payloadBytes, err := json.Marshal(payload)
			if err != nil {
				writeError(w, err)
				return
			}
			requirementsBytes, err := json.Marshal(requirements)
			if err != nil {
				writeError(w, err)
				return
			}

			verifyResponse, err := options.Facilitator.Verify(r.Context(), payloadBytes, requirementsBytes)
			if err != nil {
				writeError(w, err)
				return
			}
			if !verifyResponse.IsValid {
				writeJSON(w, http.StatusPaymentRequired, paymentRequired(verifyResponse.InvalidReason))
				return
			}

			// Buffer the handler's response so settlement failure can still
			// turn into a 402 instead of a half-written body.
			buffered := newBufferedWriter(w)
			next.ServeHTTP(buffered, r)

			settleResponse, err := options.Facilitator.Settle(r.Context(), payloadBytes, requirementsBytes)
			if err != nil {
				writeJSON(w, http.StatusPaymentRequired, paymentRequired(err.Error()))
				return
			}

			settleHeader, err := t402http.EncodeSettleResponseHeader(*settleResponse)
			if err != nil {
				writeError(w, err)
				return
			}

			w.Header().Set(t402http.PaymentResponseHeader, settleHeader)
			buffered.flush()
		})
	}
}

func resourceInfo(options *MiddlewareOptions, r *http.Request) *types.ResourceInfo {
	url := options.Resource
	if url == "" {
		url = options.ResourceRootURL + r.URL.Path
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

func writeJSON(w http.ResponseWriter, status int, body interface{}) {
	w.Header().Set("Content-Type", "application/json")
	w.WriteHeader(status)
	json.NewEncoder(w).Encode(body)
}

func writeError(w http.ResponseWriter, err error) {
	writeJSON(w, http.StatusInternalServerError, map[string]string{"error": err.Error()})
}

// bufferedWriter captures the handler's response until settlement completes.
type bufferedWriter struct {
	inner      http.ResponseWriter
	body       *bytes.Buffer
	statusCode int
	written    bool
}

func newBufferedWriter(inner http.ResponseWriter) *bufferedWriter {
	return &bufferedWriter{
		inner:      inner,
		body:       &bytes.Buffer{},
		statusCode: http.StatusOK,
	}
}

func (w *bufferedWriter) Header() http.Header {
	return w.inner.Header()
}

func (w *bufferedWriter) WriteHeader(code int) {
	if !w.written {
		w.statusCode = code
		w.written = true
	}
}

func (w *bufferedWriter) Write(b []byte) (int, error) {
	if !w.written {
		w.WriteHeader(http.StatusOK)
	}
	return w.body.Write(b)
}

func (w *bufferedWriter) flush() {
	w.inner.WriteHeader(w.statusCode)
	w.inner.Write(w.body.Bytes())
}
