package exactlegacy

import (
	"context"
	"fmt"
	"math/big"
	"strings"
	"time"

	"github.com/t402-io/t402/go/mechanisms/evm"
	"github.com/t402-io/t402/go/types"
)

// Facilitator implements SchemeNetworkFacilitator for the exact-legacy
// scheme. Replay protection relies on allowance consumption: transferFrom
// reduces the allowance, so re-settling the same authorization fails the
// allowance check unless the payer explicitly re-approves.
type Facilitator struct {
	signer evm.FacilitatorEvmSigner
}

// NewFacilitator creates an exact-legacy facilitator around a signer.
func NewFacilitator(signer evm.FacilitatorEvmSigner) *Facilitator {
	return &Facilitator{signer: signer}
}

// Scheme returns the scheme identifier.
func (f *Facilitator) Scheme() string {
	return evm.SchemeExactLegacy
}

// CaipFamily returns the EVM network family pattern.
func (f *Facilitator) CaipFamily() string {
	return "eip155:*"
}

// GetExtra advertises the spender address clients must bind authorizations
// to. Requirements issued against this facilitator copy it into extra.
func (f *Facilitator) GetExtra(network types.Network) map[string]interface{} {
	addresses := f.signer.GetAddresses()
	if len(addresses) == 0 {
		return nil
	}
	return map[string]interface{}{"spender": addresses[0]}
}

// GetSigners returns the facilitator's settlement addresses.
func (f *Facilitator) GetSigners(ctx context.Context, network types.Network) []string {
	return f.signer.GetAddresses()
}

// Verify validates the spender-bound authorization without mutating state.
// The spender must be one of this facilitator's own addresses; an
// authorization benefiting anyone else is rejected outright.
func (f *Facilitator) Verify(
	ctx context.Context,
	payload types.PaymentPayload,
	requirements types.PaymentRequirements,
) (types.VerifyResponse, error) {
	if requirements.Scheme != evm.SchemeExactLegacy {
		return invalid("invalid_scheme", "requirements scheme is not exact-legacy"), nil
	}
	if payload.Accepted.Scheme != "" && payload.Accepted.Scheme != evm.SchemeExactLegacy {
		return invalid("invalid_scheme", "payload scheme is not exact-legacy"), nil
	}
	if payload.Accepted.Network != "" && payload.Accepted.Network != requirements.Network {
		return invalid("network_mismatch", "payload network does not match requirements"), nil
	}

	legacyPayload, err := PayloadFromMap(payload.Payload)
	if err != nil {
		return invalid(evm.ErrMissingSpender, err.Error()), nil
	}
	if legacyPayload.Signature == "" {
		return invalid(evm.ErrInvalidSignature, "missing signature"), nil
	}

	if !f.isOwnAddress(legacyPayload.Authorization.Spender) {
		return invalid(evm.ErrSpenderMismatch, "authorization spender is not a facilitator address"), nil
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

	if !strings.EqualFold(legacyPayload.Authorization.To, requirements.PayTo) {
		return invalid(evm.ErrRecipientMismatch, "authorization recipient does not match payTo"), nil
	}

	if resp, ok := checkValidityWindow(legacyPayload.Authorization); !ok {
		return resp, nil
	}

	authValue, ok := new(big.Int).SetString(legacyPayload.Authorization.Value, 10)
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

	balance, err := f.signer.GetBalance(ctx, legacyPayload.Authorization.From, assetInfo.Address)
	if err != nil {
		return types.VerifyResponse{}, fmt.Errorf("failed to get balance: %w", err)
	}
	if balance.Cmp(authValue) < 0 {
		return invalid(evm.ErrInsufficientBalance, "payer balance below authorization value"), nil
	}

	// Without a signed approval the payer must have an existing allowance,
	// otherwise settlement cannot succeed.
	if legacyPayload.SignedApproval == "" {
		allowance, err := f.readAllowance(ctx, assetInfo.Address, legacyPayload.Authorization.From, legacyPayload.Authorization.Spender)
		if err != nil {
			return types.VerifyResponse{}, fmt.Errorf("failed to read allowance: %w", err)
		}
		if allowance.Cmp(authValue) < 0 {
			return invalid(evm.ErrInsufficientAllowance, "no signed approval and on-chain allowance below authorization value"), nil
		}
	} else {
		if _, err := validateSignedApproval(
			legacyPayload.SignedApproval,
			assetInfo.Address,
			legacyPayload.Authorization.Spender,
			legacyPayload.Authorization.From,
		); err != nil {
			return invalid(evm.ErrInvalidApproval, err.Error()), nil
		}
	}

	tokenName, tokenVersion, err := evm.DomainFromRequirements(requirements)
	if err != nil {
		return invalid(evm.ErrMissingEIP712Domain, err.Error()), nil
	}

	signatureBytes, err := evm.HexToBytes(legacyPayload.Signature)
	if err != nil {
		return invalid(evm.ErrInvalidSignature, "invalid signature encoding"), nil
	}

	domain := evm.TypedDataDomain{
		Name:              tokenName,
		Version:           tokenVersion,
		ChainID:           config.ChainID,
		VerifyingContract: assetInfo.Address,
	}
	message, err := evm.EIP3009Message(legacyPayload.Authorization)
	if err != nil {
		return invalid("invalid_payload", err.Error()), nil
	}

	valid, err := f.signer.VerifyTypedData(
		ctx,
		legacyPayload.Authorization.From,
		domain,
		evm.LegacyTransferAuthorizationTypes(),
		"LegacyTransferAuthorization",
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
		Payer:   legacyPayload.Authorization.From,
	}, nil
}

// Settle re-verifies, then runs the two-transaction legacy flow: broadcast
// the pre-signed approve when the allowance is insufficient, wait for it,
// then call transferFrom. The approve is skipped entirely when the existing
// allowance already covers the value.
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

	legacyPayload, err := PayloadFromMap(payload.Payload)
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

	value, _ := new(big.Int).SetString(legacyPayload.Authorization.Value, 10)
	from := legacyPayload.Authorization.From
	spender := legacyPayload.Authorization.Spender

	allowance, err := f.readAllowance(ctx, assetInfo.Address, from, spender)
	if err != nil {
		return types.SettleResponse{}, fmt.Errorf("failed to read allowance: %w", err)
	}

	if allowance.Cmp(value) < 0 {
		if legacyPayload.SignedApproval == "" {
			return types.SettleResponse{
				Success:     false,
				ErrorReason: evm.ErrInsufficientAllowance,
				Network:     networkStr,
			}, nil
		}

		approvalBytes, err := validateSignedApproval(legacyPayload.SignedApproval, assetInfo.Address, spender, from)
		if err != nil {
			return types.SettleResponse{
				Success:     false,
				ErrorReason: evm.ErrInvalidApproval,
				Network:     networkStr,
			}, nil
		}

		approveTxHash, err := f.signer.SendRawTransaction(ctx, approvalBytes)
		if err != nil {
			return types.SettleResponse{
				Success:     false,
				ErrorReason: fmt.Sprintf("failed to broadcast approval: %v", err),
				Network:     networkStr,
			}, nil
		}
		approveReceipt, err := f.signer.WaitForTransactionReceipt(ctx, approveTxHash)
		if err != nil {
			return types.SettleResponse{
				Success:     false,
				ErrorReason: fmt.Sprintf("failed to get approval receipt: %v", err),
				Transaction: approveTxHash,
				Network:     networkStr,
			}, nil
		}
		if approveReceipt.Status != evm.TxStatusSuccess {
			return types.SettleResponse{
				Success:     false,
				ErrorReason: "approval transaction reverted",
				Transaction: approveTxHash,
				Network:     networkStr,
			}, nil
		}
	}

	txHash, err := f.signer.WriteContract(
		ctx,
		assetInfo.Address,
		evm.ERC20TransferFromABI,
		evm.FunctionTransferFrom,
		from,
		legacyPayload.Authorization.To,
		value,
	)
	if err != nil {
		return types.SettleResponse{
			Success:     false,
			ErrorReason: fmt.Sprintf("failed to execute transferFrom: %v", err),
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
		Payer:       from,
	}, nil
}

func (f *Facilitator) isOwnAddress(address string) bool {
	for _, addr := range f.signer.GetAddresses() {
		if strings.EqualFold(addr, address) {
			return true
		}
	}
	return false
}

func (f *Facilitator) readAllowance(ctx context.Context, tokenAddress string, owner string, spender string) (*big.Int, error) {
	result, err := f.signer.ReadContract(
		ctx,
		tokenAddress,
		evm.ERC20AllowanceABI,
		evm.FunctionAllowance,
		owner,
		spender,
	)
	if err != nil {
		return nil, err
	}
	allowance, ok := result.(*big.Int)
	if !ok {
		return nil, fmt.Errorf("unexpected result type from allowance")
	}
	return allowance, nil
}

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
