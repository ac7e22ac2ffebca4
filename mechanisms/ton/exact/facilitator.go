package exact

import (
	"context"
	"fmt"
	"math/big"
	"time"

	"github.com/t402-io/t402/go/mechanisms/ton"
	"github.com/t402-io/t402/go/types"
)

// Facilitator implements SchemeNetworkFacilitator for jetton exact payments.
// Verify parses the signed BOC without broadcasting; Settle broadcasts the
// external message and waits for the wallet seqno to advance past the signed
// one. The seqno provides replay protection: a wallet rejects any message
// whose seqno it has already consumed.
type Facilitator struct {
	signer ton.FacilitatorTonSigner
}

// NewFacilitator creates a jetton exact facilitator around a signer.
func NewFacilitator(signer ton.FacilitatorTonSigner) *Facilitator {
	return &Facilitator{signer: signer}
}

// Scheme returns the scheme identifier.
func (f *Facilitator) Scheme() string {
	return ton.SchemeExact
}

// CaipFamily returns the TON network family pattern.
func (f *Facilitator) CaipFamily() string {
	return "ton:*"
}

// GetExtra advertises the default jetton for the network.
func (f *Facilitator) GetExtra(network types.Network) map[string]interface{} {
	config, err := ton.GetNetworkConfig(string(network))
	if err != nil {
		return nil
	}
	return map[string]interface{}{
		"defaultAsset": config.DefaultAsset.MasterAddress,
		"symbol":       config.DefaultAsset.Symbol,
		"decimals":     config.DefaultAsset.Decimals,
	}
}

// GetSigners returns the facilitator's addresses on the network.
func (f *Facilitator) GetSigners(ctx context.Context, network types.Network) []string {
	return f.signer.GetAddresses(ctx, string(network))
}

// Verify validates the signed jetton transfer without broadcasting it.
// Checks run in a fixed order: envelope, payload shape, addresses, parsed
// BOC against the claimed authorization, validity window, amounts, seqno
// freshness, wallet deployment, then balance.
func (f *Facilitator) Verify(
	ctx context.Context,
	payload types.PaymentPayload,
	requirements types.PaymentRequirements,
) (types.VerifyResponse, error) {
	if requirements.Scheme != ton.SchemeExact {
		return invalid("invalid_scheme", "requirements scheme is not exact"), nil
	}
	if payload.Accepted.Scheme != "" && payload.Accepted.Scheme != ton.SchemeExact {
		return invalid("invalid_scheme", "payload scheme is not exact"), nil
	}
	if payload.Accepted.Network != "" && payload.Accepted.Network != requirements.Network {
		return invalid("network_mismatch", "payload network does not match requirements"), nil
	}

	networkStr := string(requirements.Network)
	if !ton.IsValidNetwork(networkStr) {
		return invalid("unsupported_network", fmt.Sprintf("unsupported TON network: %s", networkStr)), nil
	}

	tonPayload, err := ton.PayloadFromMap(payload.Payload)
	if err != nil {
		return invalid("invalid_payload", err.Error()), nil
	}
	authorization := tonPayload.Authorization
	payer := authorization.From

	if err := ton.ValidateBoc(tonPayload.SignedBoc); err != nil {
		return invalidPayer("invalid_boc", err.Error(), payer), nil
	}
	if !ton.ValidateTonAddress(authorization.From) {
		return invalidPayer("invalid_sender_address", "malformed from address", payer), nil
	}
	if !ton.ValidateTonAddress(authorization.To) {
		return invalidPayer("invalid_recipient_address", "malformed to address", payer), nil
	}
	if !ton.AddressesEqual(authorization.To, requirements.PayTo) {
		return invalidPayer("recipient_mismatch", "authorization recipient does not match payTo", payer), nil
	}
	if !ton.AddressesEqual(authorization.JettonMaster, requirements.Asset) {
		return invalidPayer("asset_mismatch", "authorization jetton master does not match asset", payer), nil
	}

	// The parsed BOC is the source of truth; the authorization metadata only
	// guides the checks.
	verifyResult, err := f.signer.VerifyMessage(ctx, ton.VerifyMessageParams{
		SignedBoc:    tonPayload.SignedBoc,
		ExpectedFrom: authorization.From,
		ExpectedTransfer: ton.ExpectedTransfer{
			JettonAmount: authorization.JettonAmount,
			Destination:  requirements.PayTo,
			JettonMaster: requirements.Asset,
		},
		Network: networkStr,
	})
	if err != nil {
		return types.VerifyResponse{}, fmt.Errorf("failed to verify message: %w", err)
	}
	if !verifyResult.Valid {
		return invalidPayer("message_verification_failed", verifyResult.Reason, payer), nil
	}

	if authorization.ValidUntil <= time.Now().Unix()+ton.MinValidityBuffer {
		return invalidPayer("authorization_expired", "message validity window too short", payer), nil
	}

	authAmount, ok := new(big.Int).SetString(authorization.JettonAmount, 10)
	if !ok {
		return invalidPayer("invalid_payload", "invalid jetton amount", payer), nil
	}
	requiredAmount, ok := new(big.Int).SetString(requirements.Amount, 10)
	if !ok {
		return invalidPayer("insufficient_amount", fmt.Sprintf("invalid required amount: %s", requirements.Amount), payer), nil
	}
	if authAmount.Cmp(requiredAmount) < 0 {
		return invalidPayer("insufficient_amount", "authorized amount below required amount", payer), nil
	}

	// A stale seqno means the wallet already consumed this message slot.
	currentSeqno, err := f.signer.GetSeqno(ctx, authorization.From, networkStr)
	if err != nil {
		return types.VerifyResponse{}, fmt.Errorf("failed to get seqno: %w", err)
	}
	if currentSeqno != authorization.Seqno {
		return invalidPayer("seqno_mismatch", "wallet seqno advanced past the signed message", payer), nil
	}

	deployed, err := f.signer.IsDeployed(ctx, authorization.From, networkStr)
	if err != nil {
		return types.VerifyResponse{}, fmt.Errorf("failed to check deployment: %w", err)
	}
	if !deployed {
		return invalidPayer("wallet_not_deployed", "sender wallet is not deployed", payer), nil
	}

	balance, err := f.signer.GetJettonBalance(ctx, ton.GetJettonBalanceParams{
		OwnerAddress:        authorization.From,
		JettonMasterAddress: requirements.Asset,
		Network:             networkStr,
	})
	if err != nil {
		return types.VerifyResponse{}, fmt.Errorf("failed to get jetton balance: %w", err)
	}
	balanceInt, ok := new(big.Int).SetString(balance, 10)
	if !ok {
		return types.VerifyResponse{}, fmt.Errorf("invalid balance format: %s", balance)
	}
	if balanceInt.Cmp(authAmount) < 0 {
		return invalidPayer("insufficient_balance", "payer jetton balance below authorized amount", payer), nil
	}

	return types.VerifyResponse{
		IsValid: true,
		Payer:   payer,
	}, nil
}

// Settle re-verifies, broadcasts the signed external message and waits for
// the wallet seqno to advance.
func (f *Facilitator) Settle(
	ctx context.Context,
	payload types.PaymentPayload,
	requirements types.PaymentRequirements,
) (types.SettleResponse, error) {
	verifyResp, err := f.Verify(ctx, payload, requirements)
	if err != nil {
		return types.SettleResponse{}, err
	}
	if !verifyResp.IsValid {
		return types.SettleResponse{
			Success:     false,
			ErrorReason: verifyResp.InvalidReason,
			Network:     string(requirements.Network),
			Payer:       verifyResp.Payer,
		}, nil
	}

	tonPayload, err := ton.PayloadFromMap(payload.Payload)
	if err != nil {
		return types.SettleResponse{
			Success:     false,
			ErrorReason: fmt.Sprintf("invalid payload: %v", err),
		}, nil
	}

	networkStr := string(requirements.Network)
	msgHash, err := f.signer.SendExternalMessage(ctx, tonPayload.SignedBoc, networkStr)
	if err != nil {
		return types.SettleResponse{
			Success:     false,
			ErrorReason: fmt.Sprintf("broadcast failed: %v", err),
			Network:     networkStr,
			Payer:       verifyResp.Payer,
		}, nil
	}

	confirmation, err := f.signer.WaitForTransaction(ctx, ton.WaitForTransactionParams{
		Address: tonPayload.Authorization.From,
		Seqno:   tonPayload.Authorization.Seqno,
		Timeout: int64(ton.MaxConfirmAttempts) * int64(ton.ConfirmRetryDelay/time.Second),
		Network: networkStr,
	})
	if err != nil {
		return types.SettleResponse{
			Success:     false,
			ErrorReason: fmt.Sprintf("confirmation failed: %v", err),
			Transaction: msgHash,
			Network:     networkStr,
			Payer:       verifyResp.Payer,
		}, nil
	}
	if !confirmation.Success {
		return types.SettleResponse{
			Success:     false,
			ErrorReason: confirmation.Error,
			Transaction: msgHash,
			Network:     networkStr,
			Payer:       verifyResp.Payer,
		}, nil
	}

	transaction := msgHash
	if confirmation.Hash != "" {
		transaction = confirmation.Hash
	}

	return types.SettleResponse{
		Success:     true,
		Transaction: transaction,
		Network:     networkStr,
		Payer:       verifyResp.Payer,
	}, nil
}

func invalid(reason string, message string) types.VerifyResponse {
	return types.VerifyResponse{
		IsValid:        false,
		InvalidReason:  reason,
		InvalidMessage: message,
	}
}

func invalidPayer(reason string, message string, payer string) types.VerifyResponse {
	resp := invalid(reason, message)
	resp.Payer = payer
	return resp
}
