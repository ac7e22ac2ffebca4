package bridge

import (
	"context"
	"fmt"
	"math/big"
	"strings"
)

// Usdt0Bridge executes USDT0 transfers out of one source chain.
type Usdt0Bridge struct {
	signer Signer
	chain  string
}

// NewUsdt0Bridge creates a bridge client bound to a source chain.
func NewUsdt0Bridge(signer Signer, chain string) (*Usdt0Bridge, error) {
	if !SupportsBridging(chain) {
		return nil, fmt.Errorf("%w: %q (supported: %s)",
			ErrUnsupportedChain, chain, strings.Join(BridgeableChains(), ", "))
	}
	return &Usdt0Bridge{signer: signer, chain: strings.ToLower(chain)}, nil
}

// Quote estimates the native fee and minimum received amount for a transfer.
// Quotes are read-only and may be retried freely.
func (b *Usdt0Bridge) Quote(ctx context.Context, params *QuoteParams) (*Quote, error) {
	if err := b.validateParams(params); err != nil {
		return nil, err
	}

	param, err := b.buildSendParam(params.ToChain, params.Amount, params.Recipient, DefaultSlippageBps)
	if err != nil {
		return nil, err
	}

	fee, err := b.quoteSend(ctx, param)
	if err != nil {
		return nil, err
	}

	return &Quote{
		NativeFee:          fee.NativeFee,
		AmountToSend:       params.Amount,
		MinAmountToReceive: param.MinAmountLD,
		EstimatedSeconds:   EstimatedBridgeTimeSeconds,
		FromChain:          params.FromChain,
		ToChain:            params.ToChain,
	}, nil
}

// Send executes a transfer. It quotes internally so the fee is never stale,
// tops up the token allowance only when insufficient, and extracts the
// LayerZero message GUID from the OFTSent event. A mined transaction whose
// receipt lacks the event is a hard error: the transfer happened but cannot
// be tracked.
func (b *Usdt0Bridge) Send(ctx context.Context, params *SendParams) (*Result, error) {
	if err := b.validateParams(&params.QuoteParams); err != nil {
		return nil, err
	}

	slippageBps := params.SlippageBps
	if slippageBps <= 0 {
		slippageBps = DefaultSlippageBps
	}

	oftAddress, _ := OFTAddress(params.FromChain)
	param, err := b.buildSendParam(params.ToChain, params.Amount, params.Recipient, slippageBps)
	if err != nil {
		return nil, err
	}

	refundAddress := params.RefundAddress
	if refundAddress == "" {
		refundAddress = b.signer.Address()
	}

	fee, err := b.quoteSend(ctx, param)
	if err != nil {
		return nil, err
	}

	if err := b.ensureAllowance(ctx, oftAddress, params.Amount); err != nil {
		return nil, fmt.Errorf("failed to ensure allowance: %w", err)
	}

	txHash, err := b.signer.WriteContract(ctx, oftAddress, OFTSendABI, "send",
		fee.NativeFee, param, fee, refundAddress)
	if err != nil {
		return nil, fmt.Errorf("failed to execute bridge send: %w", err)
	}

	receipt, err := b.signer.WaitForTransactionReceipt(ctx, txHash)
	if err != nil {
		return nil, fmt.Errorf("failed to wait for bridge transaction: %w", err)
	}
	if receipt.Status != 1 {
		return nil, fmt.Errorf("bridge transaction reverted: %s", txHash)
	}

	messageGUID, err := extractMessageGUID(receipt)
	if err != nil {
		return nil, err
	}

	return &Result{
		TxHash:           txHash,
		MessageGUID:      messageGUID,
		AmountSent:       params.Amount,
		AmountToReceive:  param.MinAmountLD,
		FromChain:        params.FromChain,
		ToChain:          params.ToChain,
		EstimatedSeconds: EstimatedBridgeTimeSeconds,
	}, nil
}

// SupportedDestinations lists every chain reachable from the source chain.
func (b *Usdt0Bridge) SupportedDestinations() []string {
	chains := BridgeableChains()
	result := make([]string, 0, len(chains)-1)
	for _, chain := range chains {
		if chain != b.chain {
			result = append(result, chain)
		}
	}
	return result
}

// SupportsDestination reports whether a transfer to toChain is possible.
func (b *Usdt0Bridge) SupportsDestination(toChain string) bool {
	return !strings.EqualFold(toChain, b.chain) && SupportsBridging(toChain)
}

func (b *Usdt0Bridge) validateParams(params *QuoteParams) error {
	if !strings.EqualFold(params.FromChain, b.chain) {
		return fmt.Errorf("source chain mismatch: bridge initialized for %q but got %q",
			b.chain, params.FromChain)
	}
	if !SupportsBridging(params.ToChain) {
		return fmt.Errorf("%w: destination %q", ErrUnsupportedChain, params.ToChain)
	}
	if strings.EqualFold(params.FromChain, params.ToChain) {
		return ErrSameChain
	}
	if params.Amount == nil || params.Amount.Sign() <= 0 {
		return ErrInvalidAmount
	}
	return nil
}

func (b *Usdt0Bridge) buildSendParam(toChain string, amount *big.Int, recipient string, slippageBps int64) (*sendParam, error) {
	dstEid, ok := EndpointID(toChain)
	if !ok {
		return nil, fmt.Errorf("%w: %q", ErrUnsupportedChain, toChain)
	}

	to, err := AddressToBytes32(recipient)
	if err != nil {
		return nil, fmt.Errorf("invalid recipient address: %w", err)
	}

	minAmount := new(big.Int).Sub(amount,
		new(big.Int).Div(new(big.Int).Mul(amount, big.NewInt(slippageBps)), big.NewInt(10000)))

	return &sendParam{
		DstEid:       dstEid,
		To:           to,
		AmountLD:     amount,
		MinAmountLD:  minAmount,
		ExtraOptions: []byte{},
		ComposeMsg:   []byte{},
		OftCmd:       []byte{},
	}, nil
}

func (b *Usdt0Bridge) quoteSend(ctx context.Context, param *sendParam) (*MessagingFee, error) {
	oftAddress, _ := OFTAddress(b.chain)
	result, err := b.signer.ReadContract(ctx, oftAddress, OFTSendABI, "quoteSend", param, false)
	if err != nil {
		return nil, fmt.Errorf("failed to quote bridge fee: %w", err)
	}
	return parseMessagingFee(result)
}

// ensureAllowance approves the OFT contract only when the current allowance
// does not cover the amount. The OFT adapter pulls from the token at the
// same address on the legacy-mesh chains.
func (b *Usdt0Bridge) ensureAllowance(ctx context.Context, oftAddress string, amount *big.Int) error {
	result, err := b.signer.ReadContract(ctx, oftAddress, ERC20AllowanceABI, "allowance",
		b.signer.Address(), oftAddress)
	if err != nil {
		return fmt.Errorf("failed to check allowance: %w", err)
	}

	allowance, ok := result.(*big.Int)
	if !ok {
		allowance = big.NewInt(0)
	}
	if allowance.Cmp(amount) >= 0 {
		return nil
	}

	txHash, err := b.signer.WriteContract(ctx, oftAddress, ERC20AllowanceABI, "approve",
		nil, oftAddress, amount)
	if err != nil {
		return fmt.Errorf("failed to approve: %w", err)
	}
	receipt, err := b.signer.WaitForTransactionReceipt(ctx, txHash)
	if err != nil {
		return fmt.Errorf("failed to wait for approval: %w", err)
	}
	if receipt.Status != 1 {
		return fmt.Errorf("approval transaction reverted: %s", txHash)
	}
	return nil
}

func extractMessageGUID(receipt *TransactionReceipt) (string, error) {
	for _, log := range receipt.Logs {
		if len(log.Topics) >= 2 && strings.EqualFold(log.Topics[0], OFTSentEventTopic) {
			return log.Topics[1], nil
		}
	}
	return "", fmt.Errorf("%w: tx %s", ErrMessageGUIDExtraction, receipt.TransactionHash)
}

func parseMessagingFee(result interface{}) (*MessagingFee, error) {
	switch v := result.(type) {
	case *MessagingFee:
		return v, nil
	case MessagingFee:
		return &v, nil
	case []interface{}:
		// Bare tuple: [nativeFee, lzTokenFee]
		if len(v) >= 2 {
			fee := &MessagingFee{NativeFee: big.NewInt(0), LzTokenFee: big.NewInt(0)}
			if nativeFee, ok := v[0].(*big.Int); ok {
				fee.NativeFee = nativeFee
			}
			if lzTokenFee, ok := v[1].(*big.Int); ok {
				fee.LzTokenFee = lzTokenFee
			}
			return fee, nil
		}
	}
	return nil, fmt.Errorf("unexpected fee response format: %T", result)
}
