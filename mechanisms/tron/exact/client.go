// Package exact implements the exact payment scheme for TRON using TRC-20
// transfers. Unlike the EVM schemes there is no separate authorization
// object on chain: the client signs the complete transfer transaction and
// the facilitator broadcasts it verbatim, paying nothing itself.
package exact

import (
	"context"
	"fmt"
	"time"

	"github.com/t402-io/t402/go/mechanisms/tron"
	"github.com/t402-io/t402/go/types"
)

// Client implements SchemeNetworkClient for TRC-20 exact payments.
type Client struct {
	signer   tron.ClientTronSigner
	feeLimit int64
}

// NewClient creates a TRC-20 exact client around a signer.
func NewClient(signer tron.ClientTronSigner) *Client {
	return &Client{signer: signer, feeLimit: tron.DefaultFeeLimit}
}

// WithFeeLimit overrides the fee limit in SUN.
func (c *Client) WithFeeLimit(feeLimit int64) *Client {
	c.feeLimit = feeLimit
	return c
}

// Scheme returns the scheme identifier.
func (c *Client) Scheme() string {
	return tron.SchemeExact
}

// CreatePaymentPayload builds and signs a TRC-20 transfer for the given
// requirements. The transaction is pinned to a recent block, so the payload
// expires on chain even if the facilitator holds it past the expiration.
func (c *Client) CreatePaymentPayload(
	ctx context.Context,
	version int,
	requirements types.PaymentRequirements,
) (types.PaymentPayload, error) {
	if requirements.Scheme != tron.SchemeExact {
		return types.PaymentPayload{}, fmt.Errorf("scheme mismatch: expected %s, got %s", tron.SchemeExact, requirements.Scheme)
	}

	networkStr := string(requirements.Network)
	if !tron.IsValidNetwork(networkStr) {
		return types.PaymentPayload{}, fmt.Errorf("unsupported TRON network: %s", networkStr)
	}
	if requirements.Asset == "" {
		return types.PaymentPayload{}, fmt.Errorf("asset (TRC20 contract address) is required")
	}
	if requirements.PayTo == "" {
		return types.PaymentPayload{}, fmt.Errorf("payTo address is required")
	}
	if requirements.Amount == "" {
		return types.PaymentPayload{}, fmt.Errorf("amount is required")
	}
	if !tron.ValidateTronAddress(requirements.Asset) {
		return types.PaymentPayload{}, fmt.Errorf("invalid TRC20 contract address: %s", requirements.Asset)
	}
	if !tron.ValidateTronAddress(requirements.PayTo) {
		return types.PaymentPayload{}, fmt.Errorf("invalid payTo address: %s", requirements.PayTo)
	}
	if !tron.ValidateTronAddress(c.signer.Address()) {
		return types.PaymentPayload{}, fmt.Errorf("invalid signer address: %s", c.signer.Address())
	}

	blockInfo, err := c.signer.GetBlockInfo(ctx)
	if err != nil {
		return types.PaymentPayload{}, fmt.Errorf("failed to get block info: %w", err)
	}

	signedTransaction, err := c.signer.SignTransaction(ctx, tron.SignTransactionParams{
		ContractAddress: requirements.Asset,
		To:              requirements.PayTo,
		Amount:          requirements.Amount,
		FeeLimit:        c.feeLimit,
		Expiration:      blockInfo.Expiration,
	})
	if err != nil {
		return types.PaymentPayload{}, fmt.Errorf("failed to sign transaction: %w", err)
	}

	tronPayload := &tron.ExactTronPayload{
		SignedTransaction: signedTransaction,
		Authorization: tron.ExactTronAuthorization{
			From:            c.signer.Address(),
			To:              requirements.PayTo,
			ContractAddress: requirements.Asset,
			Amount:          requirements.Amount,
			Expiration:      blockInfo.Expiration,
			RefBlockBytes:   blockInfo.RefBlockBytes,
			RefBlockHash:    blockInfo.RefBlockHash,
			Timestamp:       time.Now().UnixMilli(),
		},
	}

	// Partial payload: the registry fills accepted, resource and extensions.
	return types.PaymentPayload{
		T402Version: version,
		Payload:     tronPayload.ToMap(),
	}, nil
}
