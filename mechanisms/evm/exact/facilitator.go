package exact

import (
	"context"
	"fmt"
	"math/big"
	"strings"
	"time"

	"github.com/t402-io/t402/go/mechanisms/evm"
	"github.com/t402-io/t402/go/types"
)

// Facilitator implements SchemeNetworkFacilitator for the exact scheme.
// Verify is read-only and safe to call repeatedly; Settle submits the
// transferWithAuthorization transaction, with replay protection provided by
// the token's authorization nonce.
type Facilitator struct {
	signer evm.FacilitatorEvmSigner
}

// NewFacilitator creates an exact scheme facilitator around a signer.
func NewFacilitator(signer evm.FacilitatorEvmSigner) *Facilitator {
	return &Facilitator{signer: signer}
}

// Scheme returns the scheme identifier.
func (f *Facilitator) Scheme() string {
	return evm.SchemeExact
}

// CaipFamily returns the EVM network family pattern.
func (f *Facilitator) CaipFamily() string {
	return "eip155:*"
}

// GetExtra returns nil; the exact scheme advertises no extra data.
func (f *Facilitator) GetExtra(network types.Network) map[string]interface{} {
	return nil
}

// GetSigners returns the facilitator's settlement addresses.
func (f *Facilitator) GetSigners(ctx context.Context, network types.Network) []string {
	return f.signer.GetAddresses()
}

// Verify validates the payment authorization without mutating state.
// Checks run in a fixed order: envelope, payload shape, recipient, time
// window, amount, nonce replay, balance, then the EIP-712 signature over a
// domain reconstructed from requirements.
func (f *Facilitator) Verify(
	ctx context.Context,
	payload types.PaymentPayload,
	requirements types.PaymentRequirements,
) (types.VerifyResponse, error) {
	if requirements.Scheme != evm.SchemeExact {
		return invalid("invalid_scheme", "requirements scheme is not exact"), nil
	}
	if payload.Accepted.Scheme != "" && payload.Accepted.Scheme != evm.SchemeExact {
		return invalid("invalid_scheme", "payload scheme is not exact"), nil
	}
	if payload.Accepted.Network != "" && payload.Accepted.Network != requirements.Network {
		return invalid("network_mismatch", "payload network does not match requirements"), nil
	}

	evmPayload, err := evm.PayloadFromMap(payload.Payload)
	if err != nil {
		return invalid("invalid_payload", err.Error()), nil
	}
	if evmPayload.Signature == "" {
		return invalid(evm.ErrInvalidSignature, "missing signature"), nil
	}
	if evmPayload.Authorization.Spender != "" {
		return invalid("invalid_payload", "exact payload must not carry a spender"), nil
	}

	networkStr := string(requirements.Network)
	config, err := evm.GetNetworkConfig(networkStr)
	if err != nil {
		return types.VerifyResponse{}, err
	}
	assetInfo, err := evm.GetAssetInfo(networkStr, requirements.Asset)
	if err != nil {
		return types.VerifyResponse{}, err
	}

	if !strings.EqualFold(evmPayload.Authorization.To, requirements.PayTo) {
		return invalid(evm.ErrRecipientMismatch, "authorization recipient does not match payTo"), nil
	}

	if resp, ok := checkValidityWindow(evmPayload.Authorization); !ok {
		return resp, nil
	}

	authValue, ok := new(big.Int).SetString(evmPayload.Authorization.Value, 10)
	if !ok {
		return invalid(evm.ErrInsufficientAmount, "invalid authorization value"), nil
	}
	requiredValue, ok := new(big.Int).SetString(requirements.Amount, 10)
	if !ok {
		return invalid(evm.ErrInsufficientAmount, fmt.Sprintf("invalid required amount: %s", requirements.Amount)), nil
	}
	if authValue.Cmp(requiredValue) < 0 {
		return invalid(evm.ErrInsufficientAmount, "authorization value below required amount"), nil
	}

	nonceUsed, err := f.checkNonceUsed(ctx, evmPayload.Authorization.From, evmPayload.Authorization.Nonce, assetInfo.Address)
	if err != nil {
		return types.VerifyResponse{}, fmt.Errorf("failed to check nonce: %w", err)
	}
	if nonceUsed {
		return invalid(evm.ErrNonceAlreadyUsed, "authorization nonce already used"), nil
	}

	balance, err := f.signer.GetBalance(ctx, evmPayload.Authorization.From, assetInfo.Address)
	if err != nil {
		return types.VerifyResponse{}, fmt.Errorf("failed to get balance: %w", err)
	}
	if balance.Cmp(authValue) < 0 {
		return invalid(evm.ErrInsufficientBalance, "payer balance below authorization value"), nil
	}

	tokenName, tokenVersion, err := evm.DomainFromRequirements(requirements)
	if err != nil {
		return invalid(evm.ErrMissingEIP712Domain, err.Error()), nil
	}

	signatureBytes, err := evm.HexToBytes(evmPayload.Signature)
	if err != nil {
		return invalid(evm.ErrInvalidSignature, "invalid signature encoding"), nil
	}

	// Domain comes from requirements and the registry, never from the client.
	domain := evm.TypedDataDomain{
		Name:              tokenName,
		Version:           tokenVersion,
		ChainID:           config.ChainID,
		VerifyingContract: assetInfo.Address,
	}
	message, err := evm.EIP3009Message(evmPayload.Authorization)
	if err != nil {
		return invalid("invalid_payload", err.Error()), nil
	}

	valid, err := f.signer.VerifyTypedData(
		ctx,
		evmPayload.Authorization.From,
		domain,
		evm.TransferWithAuthorizationTypes(),
		"TransferWithAuthorization",
		message,
		signatureBytes,
	)
	if err != nil {
		return types.VerifyResponse{}, fmt.Errorf("failed to verify signature: %w", err)
	}
	if !valid {
		return invalid(evm.ErrInvalidSignature, "signature does not recover to authorization.from"), nil
	}

	return types.VerifyResponse{
		IsValid: true,
		Payer:   evmPayload.Authorization.From,
	}, nil
}

// Settle re-verifies and then executes transferWithAuthorization. The token
// contract rejects reused nonces, so the same authorization can never move
// funds twice even across facilitator restarts.
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
		}, nil
	}

	evmPayload, err := evm.PayloadFromMap(payload.Payload)
	if err != nil {
		return types.SettleResponse{
			Success:     false,
			ErrorReason: fmt.Sprintf("invalid payload: %v", err),
		}, nil
	}

	networkStr := string(requirements.Network)
	assetInfo, err := evm.GetAssetInfo(networkStr, requirements.Asset)
	if err != nil {
		return types.SettleResponse{}, err
	}

	signatureBytes, err := evm.HexToBytes(evmPayload.Signature)
	if err != nil {
		return types.SettleResponse{
			Success:     false,
			ErrorReason: "invalid signature encoding",
		}, nil
	}
	r, s, v, err := evm.SplitSignature(signatureBytes)
	if err != nil {
		return types.SettleResponse{
			Success:     false,
			ErrorReason: err.Error(),
		}, nil
	}

	value, _ := new(big.Int).SetString(evmPayload.Authorization.Value, 10)
	validAfter, _ := new(big.Int).SetString(evmPayload.Authorization.ValidAfter, 10)
	validBefore, _ := new(big.Int).SetString(evmPayload.Authorization.ValidBefore, 10)
	nonceBytes, _ := evm.HexToBytes(evmPayload.Authorization.Nonce)

	txHash, err := f.signer.WriteContract(
		ctx,
		assetInfo.Address,
		evm.TransferWithAuthorizationABI,
		evm.FunctionTransferWithAuthorization,
		evmPayload.Authorization.From,
		evmPayload.Authorization.To,
		value,
		validAfter,
		validBefore,
		[32]byte(nonceBytes),
		v,
		r,
		s,
	)
	if err != nil {
		return types.SettleResponse{
			Success:     false,
			ErrorReason: fmt.Sprintf("failed to execute transfer: %v", err),
			Network:     networkStr,
		}, nil
	}

	receipt, err := f.signer.WaitForTransactionReceipt(ctx, txHash)
	if err != nil {
		return types.SettleResponse{
			Success:     false,
			ErrorReason: fmt.Sprintf("failed to get receipt: %v", err),
			Transaction: txHash,
			Network:     networkStr,
		}, nil
	}
	if receipt.Status != evm.TxStatusSuccess {
		return types.SettleResponse{
			Success:     false,
			ErrorReason: "transaction reverted",
			Transaction: txHash,
			Network:     networkStr,
		}, nil
	}

	return types.SettleResponse{
		Success:     true,
		Transaction: txHash,
		Network:     networkStr,
		Payer:       evmPayload.Authorization.From,
	}, nil
}

func (f *Facilitator) checkNonceUsed(ctx context.Context, from string, nonce string, tokenAddress string) (bool, error) {
	nonceBytes, err := evm.HexToBytes(nonce)
	if err != nil {
		return false, err
	}
	if len(nonceBytes) != evm.NonceLength {
		return false, fmt.Errorf("authorization nonce is %d bytes, want %d", len(nonceBytes), evm.NonceLength)
	}

	result, err := f.signer.ReadContract(
		ctx,
		tokenAddress,
		evm.AuthorizationStateABI,
		evm.FunctionAuthorizationState,
		from,
		[32]byte(nonceBytes),
	)
	if err != nil {
		return false, err
	}

	used, ok := result.(bool)
	if !ok {
		return false, fmt.Errorf("unexpected result type from authorizationState")
	}
	return used, nil
}

// checkValidityWindow enforces validAfter <= now < validBefore, with a small
// buffer on expiry so a transaction submitted now can still mine in time.
func checkValidityWindow(authorization evm.ExactEIP3009Authorization) (types.VerifyResponse, bool) {
	now := time.Now().Unix()

	validAfter, ok := new(big.Int).SetString(authorization.ValidAfter, 10)
	if !ok {
		return invalid(evm.ErrAuthorizationNotYet, "invalid validAfter"), false
	}
	validBefore, ok := new(big.Int).SetString(authorization.ValidBefore, 10)
	if !ok {
		return invalid(evm.ErrAuthorizationExpired, "invalid validBefore"), false
	}

	if validAfter.Cmp(big.NewInt(now)) > 0 {
		return invalid(evm.ErrAuthorizationNotYet, "authorization not yet valid"), false
	}
	if validBefore.Cmp(big.NewInt(now+evm.DeadlineBuffer)) <= 0 {
		return invalid(evm.ErrAuthorizationExpired, "authorization expired"), false
	}
	return types.VerifyResponse{}, true
}

func invalid(reason string, message string) types.VerifyResponse {
	return types.VerifyResponse{
		IsValid:        false,
		InvalidReason:  reason,
		InvalidMessage: message,
	}
}
