package erc4337

import (
	"context"
	"errors"
	"fmt"
	"sort"
	"strings"
	"sync"
	"time"

	"github.com/google/uuid"
)

// Coordination errors, typed so callers can react precisely.
var (
	ErrInvalidThreshold    = errors.New("threshold must be between 1 and the number of owners")
	ErrRequestNotFound     = errors.New("signature request not found or expired")
	ErrOwnerNotFound       = errors.New("owner is not part of the request")
	ErrAlreadySigned       = errors.New("owner has already signed")
	ErrNotReady            = errors.New("signature request has not reached its threshold")
	ErrInsufficientSigners = errors.New("not enough signers to reach the threshold")
)

// DefaultRequestExpiration is how long a pending signature request stays
// collectable.
const DefaultRequestExpiration = time.Hour

// OwnerSigner signs a userOpHash on behalf of one wallet owner.
type OwnerSigner interface {
	Address() string
	SignHash(ctx context.Context, hash []byte) ([]byte, error)
}

// SignatureRequest tracks M-of-N signature collection for one pending
// operation.
type SignatureRequest struct {
	ID         string
	UserOp     *UserOperation
	UserOpHash string
	Owners     []string
	Threshold  int
	CreatedAt  time.Time

	mu         sync.Mutex
	signatures map[string]string // lowercase owner -> 0x signature
}

// CollectedCount returns how many owners have signed so far.
func (r *SignatureRequest) CollectedCount() int {
	r.mu.Lock()
	defer r.mu.Unlock()
	return len(r.signatures)
}

// IsReady reports whether the threshold has been met.
func (r *SignatureRequest) IsReady() bool {
	r.mu.Lock()
	defer r.mu.Unlock()
	return len(r.signatures) >= r.Threshold
}

func (r *SignatureRequest) addSignature(owner, signature string) error {
	found := false
	for _, candidate := range r.Owners {
		if strings.EqualFold(candidate, owner) {
			found = true
			break
		}
	}
	if !found {
		return ErrOwnerNotFound
	}

	r.mu.Lock()
	defer r.mu.Unlock()
	key := strings.ToLower(owner)
	if _, signed := r.signatures[key]; signed {
		return ErrAlreadySigned
	}
	r.signatures[key] = signature
	return nil
}

// combinedSignature concatenates collected signatures ordered by ascending
// owner address, case-insensitive. Wallet contracts verify against that
// order, so arrival order must not leak into the result.
func (r *SignatureRequest) combinedSignature() (string, error) {
	r.mu.Lock()
	defer r.mu.Unlock()

	if len(r.signatures) < r.Threshold {
		return "", ErrNotReady
	}

	owners := make([]string, 0, len(r.signatures))
	for owner := range r.signatures {
		owners = append(owners, owner)
	}
	sort.Strings(owners)

	var combined strings.Builder
	combined.WriteString("0x")
	for _, owner := range owners {
		combined.WriteString(strings.TrimPrefix(r.signatures[owner], "0x"))
	}
	return combined.String(), nil
}

// Coordinator collects owner signatures for smart-wallet operations and
// submits them once the threshold is met. Each coordinator owns its own
// pending-request table, so tests and multi-tenant setups can run isolated
// instances.
type Coordinator struct {
	bundler    *BundlerClient
	expiration time.Duration

	mu       sync.Mutex
	requests map[string]*SignatureRequest
}

// NewCoordinator creates a coordinator submitting through the given bundler.
func NewCoordinator(bundler *BundlerClient) *Coordinator {
	return &Coordinator{
		bundler:    bundler,
		expiration: DefaultRequestExpiration,
		requests:   make(map[string]*SignatureRequest),
	}
}

// WithExpiration overrides the pending-request expiration.
func (c *Coordinator) WithExpiration(expiration time.Duration) *Coordinator {
	c.expiration = expiration
	return c
}

// CreateRequest opens a signature request for the operation. The threshold
// must satisfy 1 <= threshold <= len(owners).
func (c *Coordinator) CreateRequest(op *UserOperation, userOpHash string, owners []string, threshold int) (*SignatureRequest, error) {
	if threshold < 1 || threshold > len(owners) {
		return nil, fmt.Errorf("%w: threshold %d with %d owners", ErrInvalidThreshold, threshold, len(owners))
	}

	request := &SignatureRequest{
		ID:         "sigreq_" + uuid.NewString(),
		UserOp:     op,
		UserOpHash: userOpHash,
		Owners:     append([]string(nil), owners...),
		Threshold:  threshold,
		CreatedAt:  time.Now(),
		signatures: make(map[string]string),
	}

	c.mu.Lock()
	c.requests[request.ID] = request
	c.mu.Unlock()
	return request, nil
}

// GetRequest returns a pending request, or ErrRequestNotFound if the id is
// unknown or the request has expired.
func (c *Coordinator) GetRequest(requestID string) (*SignatureRequest, error) {
	c.mu.Lock()
	defer c.mu.Unlock()

	request, ok := c.requests[requestID]
	if !ok {
		return nil, ErrRequestNotFound
	}
	if time.Since(request.CreatedAt) > c.expiration {
		delete(c.requests, requestID)
		return nil, ErrRequestNotFound
	}
	return request, nil
}

// AddSignature records one owner's signature. Owners cannot sign twice; a
// filled slot is never overwritten.
func (c *Coordinator) AddSignature(requestID, owner, signature string) (*SignatureRequest, error) {
	request, err := c.GetRequest(requestID)
	if err != nil {
		return nil, err
	}
	if err := request.addSignature(owner, signature); err != nil {
		return nil, err
	}
	return request, nil
}

// CombinedSignature returns the threshold signatures concatenated in
// ascending owner-address order, or ErrNotReady below the threshold.
func (c *Coordinator) CombinedSignature(requestID string) (string, error) {
	request, err := c.GetRequest(requestID)
	if err != nil {
		return "", err
	}
	return request.combinedSignature()
}

// Submit sends the operation with its combined signature through the bundler
// and removes the request from the pending table on success.
func (c *Coordinator) Submit(ctx context.Context, requestID string) (string, error) {
	request, err := c.GetRequest(requestID)
	if err != nil {
		return "", err
	}
	combined, err := request.combinedSignature()
	if err != nil {
		return "", err
	}

	signed := *request.UserOp
	signed.Signature = combined

	userOpHash, err := c.bundler.SendUserOperation(ctx, &signed)
	if err != nil {
		return "", err
	}

	c.mu.Lock()
	delete(c.requests, requestID)
	c.mu.Unlock()
	return userOpHash, nil
}

// Cleanup sweeps expired requests. Safe to call concurrently at any time.
func (c *Coordinator) Cleanup() {
	c.mu.Lock()
	defer c.mu.Unlock()
	for id, request := range c.requests {
		if time.Since(request.CreatedAt) > c.expiration {
			delete(c.requests, id)
		}
	}
}

// PendingCount returns the number of live requests.
func (c *Coordinator) PendingCount() int {
	c.mu.Lock()
	defer c.mu.Unlock()
	return len(c.requests)
}

// PayWithAllSigners creates a request and collects signatures from the local
// signers in the order given, stopping once the threshold is met. Signers
// past the threshold are never asked to sign. It fails up front with
// ErrInsufficientSigners when the signers cannot reach the threshold.
func (c *Coordinator) PayWithAllSigners(ctx context.Context, op *UserOperation, userOpHash string, owners []string, threshold int, signers []OwnerSigner) (string, error) {
	if len(signers) < threshold {
		return "", fmt.Errorf("%w: have %d, need %d", ErrInsufficientSigners, len(signers), threshold)
	}

	request, err := c.CreateRequest(op, userOpHash, owners, threshold)
	if err != nil {
		return "", err
	}

	hashBytes, err := hexDecode(userOpHash)
	if err != nil {
		return "", fmt.Errorf("invalid userOpHash: %w", err)
	}

	for _, signer := range signers {
		if request.IsReady() {
			break
		}
		signature, err := signer.SignHash(ctx, hashBytes)
		if err != nil {
			return "", fmt.Errorf("signer %s failed: %w", signer.Address(), err)
		}
		if _, err := c.AddSignature(request.ID, signer.Address(), hexEncode(signature)); err != nil {
			return "", err
		}
	}

	return c.Submit(ctx, request.ID)
}
