package exact

import (
	"context"
	"fmt"
	"math/big"
	"time"

	"github.com/t402-io/t402/go/mechanisms/tron"
	"github.com/t402-io/t402/go/types"
)

// Facilitator implements SchemeNetworkFacilitator for TRC-20 exact payments.
// Verify parses the signed transaction without broadcasting; Settle
// broadcasts and polls for confirmation. The block reference inside the
// transaction provides replay protection: the chain rejects a transaction id
// it has already executed.
type Facilitator struct {
	signer        tron.FacilitatorTronSigner
	canSponsorGas bool
}

// NewFacilitator creates a TRC-20 exact facilitator around a signer.
func NewFacilitator(signer tron.FacilitatorTronSigner) *Facilitator {
	return &Facilitator{signer: signer}
}

// WithGasSponsorship advertises a gas sponsor address through GetExtra.
func (f *Facilitator) WithGasSponsorship() *Facilitator {
	f.canSponsorGas = true
	return f
}

// Scheme returns the scheme identifier.
func (f *Facilitator) Scheme() string {
	return tron.SchemeExact
}

// CaipFamily returns the TRON network family pattern.
func (f *Facilitator) CaipFamily() string {
	return "tron:*"
}

// GetExtra advertises the default asset and, when enabled, a gas sponsor.
func (f *Facilitator) GetExtra(network types.Network) map[string]interface{} {
	config, err := tron.GetNetworkConfig(string(network))
	if err != nil {
		return nil
	}

	result := map[string]interface{}{
		"defaultAsset": config.DefaultAsset.ContractAddress,
		"symbol":       config.DefaultAsset.Symbol,
		"decimals":     config.DefaultAsset.Decimals,
	}
	if f.canSponsorGas {
		if addresses := f.signer.GetAddresses(context.Background(), string(network)); len(addresses) > 0 {
			result["gasSponsor"] = addresses[0]
		}
	}
	return result
}

// GetSigners returns the facilitator's addresses on the network.
func (f *Facilitator) GetSigners(ctx context.Context, network types.Network) []string {
	return f.signer.GetAddresses(ctx, string(network))
}

// Verify validates the signed transfer without broadcasting it. Checks run
// in a fixed order: envelope, payload shape, addresses, parsed transaction
// against the claimed authorization, expiration, amounts, account
// activation, then balance.
func (f *Facilitator) Verify(
	ctx context.Context,
	payload types.PaymentPayload,
	requirements types.PaymentRequirements,
) (types.VerifyResponse, error) {
	if requirements.Scheme != tron.SchemeExact {
		return invalid("invalid_scheme", "requirements scheme is not exact"), nil
	}
	if payload.Accepted.Scheme != "" && payload.Accepted.Scheme != tron.SchemeExact {
		return invalid("invalid_scheme", "payload scheme is not exact"), nil
	}
	if payload.Accepted.Network != "" && payload.Accepted.Network != requirements.Network {
		return invalid("network_mismatch", "payload network does not match requirements"), nil
	}

	networkStr := string(requirements.Network)
	if !tron.IsValidNetwork(networkStr) {
		return invalid("unsupported_network", fmt.Sprintf("unsupported TRON network: %s", networkStr)), nil
	}

	tronPayload, err := tron.PayloadFromMap(payload.Payload)
	if err != nil {
		return invalid("invalid_payload", err.Error()), nil
	}
	authorization := tronPayload.Authorization
	payer := authorization.From

	if !tron.ValidateTronAddress(authorization.From) {
		return invalidPayer("invalid_sender_address", "malformed from address", payer), nil
	}
	if !tron.ValidateTronAddress(authorization.To) {
		return invalidPayer("invalid_recipient_address", "malformed to address", payer), nil
	}
	if !tron.ValidateTronAddress(authorization.ContractAddress) {
		return invalidPayer("invalid_contract_address", "malformed contract address", payer), nil
	}
	if !tron.AddressesEqual(authorization.To, requirements.PayTo) {
		return invalidPayer("recipient_mismatch", "authorization recipient does not match payTo", payer), nil
	}
	if !tron.AddressesEqual(authorization.ContractAddress, requirements.Asset) {
		return invalidPayer("asset_mismatch", "authorization contract does not match asset", payer), nil
	}

	// The parsed transaction is the source of truth; the authorization
	// metadata only guides the checks.
	verifyResult, err := f.signer.VerifyTransaction(ctx, tron.VerifyTransactionParams{
		SignedTransaction: tronPayload.SignedTransaction,
		ExpectedFrom:      authorization.From,
		ExpectedTransfer: tron.ExpectedTransfer{
			To:              requirements.PayTo,
			ContractAddress: requirements.Asset,
			Amount:          authorization.Amount,
		},
		Network: networkStr,
	})
	if err != nil {
		return types.VerifyResponse{}, fmt.Errorf("failed to verify transaction: %w", err)
	}
	if !verifyResult.Valid {
		return invalidPayer("transaction_verification_failed", verifyResult.Reason, payer), nil
	}

	if time.Now().UnixMilli() >= authorization.Expiration-int64(tron.MinValidityBuffer)*1000 {
		return invalidPayer("authorization_expired", "transaction expiration too close", payer), nil
	}

	authAmount, ok := new(big.Int).SetString(authorization.Amount, 10)
	if !ok {
		return invalidPayer("invalid_payload", "invalid authorization amount", payer), nil
	}
	requiredAmount, ok := new(big.Int).SetString(requirements.Amount, 10)
	if !ok {
		return invalidPayer("insufficient_amount", fmt.Sprintf("invalid required amount: %s", requirements.Amount), payer), nil
	}
	if authAmount.Cmp(requiredAmount) < 0 {
		return invalidPayer("insufficient_amount", "authorized amount below required amount", payer), nil
	}

	activated, err := f.signer.IsActivated(ctx, authorization.From, networkStr)
	if err != nil {
		return types.VerifyResponse{}, fmt.Errorf("failed to check activation: %w", err)
	}
	if !activated {
		return invalidPayer("account_not_activated", "sender account is not activated", payer), nil
	}

	balance, err := f.signer.GetBalance(ctx, tron.GetBalanceParams{
		OwnerAddress:    authorization.From,
		ContractAddress: requirements.Asset,
		Network:         networkStr,
	})
	if err != nil {
		return types.VerifyResponse{}, fmt.Errorf("failed to get balance: %w", err)
	}
	balanceInt, ok := new(big.Int).SetString(balance, 10)
	if !ok {
		return types.VerifyResponse{}, fmt.Errorf("invalid balance format: %s", balance)
	}
	if balanceInt.Cmp(authAmount) < 0 {
		return invalidPayer("insufficient_balance", "payer balance below authorized amount", payer), nil
	}

	return types.VerifyResponse{
		IsValid: true,
		Payer:   payer,
	}, nil
}

// Settle re-verifies, broadcasts the signed transaction and polls until it
// confirms.
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

	tronPayload, err := tron.PayloadFromMap(payload.Payload)
	if err != nil {
		return types.SettleResponse{
			Success:     false,
			ErrorReason: fmt.Sprintf("invalid payload: %v", err),
		}, nil
	}

	networkStr := string(requirements.Network)
	txId, err := f.signer.BroadcastTransaction(ctx, tronPayload.SignedTransaction, networkStr)
	if err != nil {
		return types.SettleResponse{
			Success:     false,
			ErrorReason: fmt.Sprintf("broadcast failed: %v", err),
			Network:     networkStr,
			Payer:       verifyResp.Payer,
		}, nil
	}

	confirmation, err := f.signer.WaitForTransaction(ctx, tron.WaitForTransactionParams{
		TxId:    txId,
		Network: networkStr,
		Timeout: int64(tron.MaxConfirmAttempts) * int64(tron.ConfirmRetryDelay/time.Millisecond),
	})
	if err != nil {
		return types.SettleResponse{
			Success:     false,
			ErrorReason: fmt.Sprintf("confirmation failed: %v", err),
			Transaction: txId,
			Network:     networkStr,
			Payer:       verifyResp.Payer,
		}, nil
	}
	if !confirmation.Success {
		return types.SettleResponse{
			Success:     false,
			ErrorReason: confirmation.Error,
			Transaction: txId,
			Network:     networkStr,
			Payer:       verifyResp.Payer,
		}, nil
	}

	transaction := txId
	if confirmation.TxId != "" {
		transaction = confirmation.TxId
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
