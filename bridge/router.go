package bridge

import (
	"context"
	"fmt"
	"strings"
)

// CrossChainPaymentRouter positions funds for payments that must settle on a
// different chain than where the payer holds balance. It bridges to the
// payer's own address on the destination chain; the payment itself then runs
// there through the normal scheme flow.
type CrossChainPaymentRouter struct {
	bridge      *Usdt0Bridge
	scanClient  *LayerZeroScanClient
	sourceChain string
}

// NewCrossChainPaymentRouter creates a router bound to a source chain.
func NewCrossChainPaymentRouter(signer Signer, sourceChain string) (*CrossChainPaymentRouter, error) {
	bridgeClient, err := NewUsdt0Bridge(signer, sourceChain)
	if err != nil {
		return nil, err
	}
	return &CrossChainPaymentRouter{
		bridge:      bridgeClient,
		scanClient:  NewLayerZeroScanClient(),
		sourceChain: strings.ToLower(sourceChain),
	}, nil
}

// WithScanClient overrides the tracking client.
func (r *CrossChainPaymentRouter) WithScanClient(client *LayerZeroScanClient) *CrossChainPaymentRouter {
	r.scanClient = client
	return r
}

// RoutePayment bridges the amount to the payer's destination-chain address
// and returns tracking evidence. The merchant in PayTo is carried for
// context only; funds deliberately go to the payer, who completes the
// payment after delivery.
func (r *CrossChainPaymentRouter) RoutePayment(ctx context.Context, params *RouteParams) (*RouteResult, error) {
	if err := r.validateParams(params); err != nil {
		return nil, err
	}

	result, err := r.bridge.Send(ctx, &SendParams{
		QuoteParams: QuoteParams{
			FromChain: params.SourceChain,
			ToChain:   params.DestinationChain,
			Amount:    params.Amount,
			Recipient: params.Payer,
		},
		SlippageBps: params.SlippageBps,
	})
	if err != nil {
		return nil, err
	}

	return &RouteResult{
		BridgeTxHash:           result.TxHash,
		MessageGUID:            result.MessageGUID,
		AmountBridged:          result.AmountSent,
		EstimatedReceiveAmount: result.AmountToReceive,
		SourceChain:            params.SourceChain,
		DestinationChain:       params.DestinationChain,
		EstimatedSeconds:       result.EstimatedSeconds,
	}, nil
}

// EstimateFees quotes the bridging leg of a routed payment.
func (r *CrossChainPaymentRouter) EstimateFees(ctx context.Context, params *RouteParams) (*Quote, error) {
	return r.bridge.Quote(ctx, &QuoteParams{
		FromChain: params.SourceChain,
		ToChain:   params.DestinationChain,
		Amount:    params.Amount,
		Recipient: params.Payer,
	})
}

// TrackMessage returns the current delivery status of a routed payment.
func (r *CrossChainPaymentRouter) TrackMessage(ctx context.Context, messageGUID string) (*Message, error) {
	return r.scanClient.GetMessage(ctx, messageGUID)
}

// WaitForDelivery blocks until the bridged funds arrive on the destination
// chain.
func (r *CrossChainPaymentRouter) WaitForDelivery(ctx context.Context, messageGUID string, opts *WaitOptions) (*Message, error) {
	return r.scanClient.WaitForDelivery(ctx, messageGUID, opts)
}

// CanRoute reports whether routing between two chains is supported.
func (r *CrossChainPaymentRouter) CanRoute(sourceChain, destinationChain string) bool {
	return !strings.EqualFold(sourceChain, destinationChain) &&
		SupportsBridging(sourceChain) &&
		SupportsBridging(destinationChain)
}

// SupportedDestinations lists chains reachable from the router's source.
func (r *CrossChainPaymentRouter) SupportedDestinations() []string {
	return r.bridge.SupportedDestinations()
}

func (r *CrossChainPaymentRouter) validateParams(params *RouteParams) error {
	if !strings.EqualFold(params.SourceChain, r.sourceChain) {
		return fmt.Errorf("source chain mismatch: router initialized for %q but got %q",
			r.sourceChain, params.SourceChain)
	}
	if strings.EqualFold(params.SourceChain, params.DestinationChain) {
		return ErrSameChain
	}
	if !r.CanRoute(params.SourceChain, params.DestinationChain) {
		return fmt.Errorf("%w: cannot route from %q to %q",
			ErrUnsupportedChain, params.SourceChain, params.DestinationChain)
	}
	if params.Amount == nil || params.Amount.Sign() <= 0 {
		return ErrInvalidAmount
	}
	return nil
}
