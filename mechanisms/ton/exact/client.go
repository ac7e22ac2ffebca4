// Package exact implements the exact payment scheme for TON using TEP-74
// jetton transfers. The client signs the full external message up front; the
// facilitator verifies the parsed transfer and broadcasts it, so settlement
// needs no further signature from the payer.
package exact

import (
	"context"
	"fmt"
	"time"

	"github.com/t402-io/t402/go/mechanisms/ton"
	"github.com/t402-io/t402/go/types"
)

// Client implements SchemeNetworkClient for jetton exact payments.
type Client struct {
	signer        ton.ClientTonSigner
	resolveWallet ton.JettonWalletResolver
	buildBody     ton.TransferBodyBuilder
	gasAmount     uint64
	forwardAmount uint64
}

// NewClient creates a jetton exact client. The resolver maps the sender to
// their jetton wallet; the builder serializes the transfer body.
func NewClient(signer ton.ClientTonSigner, resolveWallet ton.JettonWalletResolver, buildBody ton.TransferBodyBuilder) *Client {
	return &Client{
		signer:        signer,
		resolveWallet: resolveWallet,
		buildBody:     buildBody,
		gasAmount:     ton.DefaultJettonTransferTon,
		forwardAmount: ton.DefaultForwardTon,
	}
}

// WithGasAmount overrides the attached TON gas in nanoTON.
func (c *Client) WithGasAmount(nanoTon uint64) *Client {
	c.gasAmount = nanoTon
	return c
}

// Scheme returns the scheme identifier.
func (c *Client) Scheme() string {
	return ton.SchemeExact
}

// CreatePaymentPayload builds, signs and wraps a jetton transfer for the
// given requirements. The wallet seqno is captured at signing time so the
// facilitator can both replay-protect and confirm the message.
func (c *Client) CreatePaymentPayload(
	ctx context.Context,
	version int,
	requirements types.PaymentRequirements,
) (types.PaymentPayload, error) {
	if requirements.Scheme != ton.SchemeExact {
		return types.PaymentPayload{}, fmt.Errorf("scheme mismatch: expected %s, got %s", ton.SchemeExact, requirements.Scheme)
	}

	networkStr := string(requirements.Network)
	if !ton.IsValidNetwork(networkStr) {
		return types.PaymentPayload{}, fmt.Errorf("unsupported TON network: %s", networkStr)
	}
	if requirements.Asset == "" {
		return types.PaymentPayload{}, fmt.Errorf("asset (jetton master address) is required")
	}
	if requirements.PayTo == "" {
		return types.PaymentPayload{}, fmt.Errorf("payTo address is required")
	}
	if requirements.Amount == "" {
		return types.PaymentPayload{}, fmt.Errorf("amount is required")
	}
	if !ton.ValidateTonAddress(requirements.PayTo) {
		return types.PaymentPayload{}, fmt.Errorf("invalid payTo address: %s", requirements.PayTo)
	}

	// The external message targets the sender's own jetton wallet, not the
	// recipient.
	senderJettonWallet, err := c.resolveWallet(ctx, c.signer.Address(), requirements.Asset)
	if err != nil {
		return types.PaymentPayload{}, fmt.Errorf("failed to resolve jetton wallet: %w", err)
	}

	seqno, err := c.signer.GetSeqno(ctx)
	if err != nil {
		return types.PaymentPayload{}, fmt.Errorf("failed to get seqno: %w", err)
	}

	timeout := requirements.MaxTimeoutSeconds
	if timeout <= 0 {
		timeout = ton.DefaultValidityDuration
	}
	validUntil := time.Now().Unix() + int64(timeout)
	queryId := uint64(time.Now().UnixMicro())

	body, err := c.buildBody(ton.JettonTransferBody{
		QueryId:             queryId,
		Amount:              requirements.Amount,
		Destination:         requirements.PayTo,
		ResponseDestination: c.signer.Address(),
		ForwardTonAmount:    c.forwardAmount,
	})
	if err != nil {
		return types.PaymentPayload{}, fmt.Errorf("failed to build transfer body: %w", err)
	}

	signedBoc, err := c.signer.SignMessage(ctx, ton.SignMessageParams{
		To:      senderJettonWallet,
		Value:   c.gasAmount,
		Body:    body,
		Timeout: int64(timeout),
	})
	if err != nil {
		return types.PaymentPayload{}, fmt.Errorf("failed to sign message: %w", err)
	}

	tonPayload := &ton.ExactTonPayload{
		SignedBoc: signedBoc,
		Authorization: ton.ExactTonAuthorization{
			From:         c.signer.Address(),
			To:           requirements.PayTo,
			JettonMaster: requirements.Asset,
			JettonAmount: requirements.Amount,
			TonAmount:    fmt.Sprintf("%d", c.gasAmount),
			ValidUntil:   validUntil,
			Seqno:        seqno,
			QueryId:      fmt.Sprintf("%d", queryId),
		},
	}

	// Partial payload: the registry fills accepted, resource and extensions.
	return types.PaymentPayload{
		T402Version: version,
		Payload:     tonPayload.ToMap(),
	}, nil
}
