package upto

import (
	"context"
	"fmt"
	"math/big"
	"strings"
	"time"

	"github.com/t402-io/t402/go/mechanisms/evm"
	"github.com/t402-io/t402/go/types"
)

// Facilitator implements SchemeNetworkFacilitator for the upto scheme.
// Settlement goes through the router's executeUptoTransfer, which applies
// the permit and transfers the settle amount in one transaction so the
// permit cannot be front-run between application and transfer.
type Facilitator struct {
	signer evm.FacilitatorEvmSigner
}

// NewFacilitator creates an upto facilitator around a signer.
func NewFacilitator(signer evm.FacilitatorEvmSigner) *Facilitator {
	return &Facilitator{signer: signer}
}

// Scheme returns the scheme identifier.
func (f *Facilitator) Scheme() string {
	return evm.SchemeUpto
}

// CaipFamily returns the EVM network family pattern.
func (f *Facilitator) CaipFamily() string {
	return "eip155:*"
}

// GetExtra returns nil; upto extras (router, unit pricing) are owned by the
// resource server issuing the requirements.
func (f *Facilitator) GetExtra(network types.Network) map[string]interface{} {
	return nil
}

// GetSigners returns the facilitator's settlement addresses.
func (f *Facilitator) GetSigners(ctx context.Context, network types.Network) []string {
	return f.signer.GetAddresses()
}

// Verify validates the permit authorization without mutating state: payload
// shape, spender, deadline, amount bounds, permit nonce freshness, balance,
// then the Permit signature over a domain rebuilt from requirements.
func (f *Facilitator) Verify(
	ctx context.Context,
	payload types.PaymentPayload,
	requirements types.PaymentRequirements,
) (types.VerifyResponse, error) {
	if requirements.Scheme != evm.SchemeUpto {
		return invalid("invalid_scheme", "requirements scheme is not upto"), nil
	}
	if payload.Accepted.Scheme != "" && payload.Accepted.Scheme != evm.SchemeUpto {
		return invalid("invalid_scheme", "payload scheme is not upto"), nil
	}
	if payload.Accepted.Network != "" && payload.Accepted.Network != requirements.Network {
		return invalid("network_mismatch", "payload network does not match requirements"), nil
	}

	if !IsEIP2612Payload(payload.Payload) {
		return invalid(evm.ErrUnsupportedPayload, "payload is not an EIP-2612 permit payload"), nil
	}
	uptoPayload, err := PayloadFromMap(payload.Payload)
	if err != nil {
		return invalid(evm.ErrUnsupportedPayload, err.Error()), nil
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

	expectedSpender := SpenderFromRequirements(requirements.Extra, requirements.PayTo)
	if !strings.EqualFold(uptoPayload.Authorization.Spender, expectedSpender) {
		return invalid(evm.ErrRecipientMismatch, "permit spender does not match requirements"), nil
	}

	deadline, ok := new(big.Int).SetString(uptoPayload.Authorization.Deadline, 10)
	if !ok {
		return invalid(evm.ErrUptoDeadlineExpired, "invalid deadline"), nil
	}
	if deadline.Cmp(big.NewInt(time.Now().Unix()+evm.DeadlineBuffer)) <= 0 {
		return invalid(evm.ErrUptoDeadlineExpired, "permit deadline expired"), nil
	}

	value, ok := new(big.Int).SetString(uptoPayload.Authorization.Value, 10)
	if !ok {
		return invalid(evm.ErrUptoExceedsMaxAmount, "invalid authorization value"), nil
	}
	maxAmount, ok := new(big.Int).SetString(requirements.MaxAmount, 10)
	if !ok {
		return invalid(evm.ErrUptoExceedsMaxAmount, fmt.Sprintf("invalid maxAmount: %s", requirements.MaxAmount)), nil
	}
	if value.Cmp(maxAmount) > 0 {
		return invalid(evm.ErrUptoExceedsMaxAmount, "authorized value exceeds maxAmount"), nil
	}
	if requirements.MinAmount != "" {
		minAmount, ok := new(big.Int).SetString(requirements.MinAmount, 10)
		if !ok {
			return invalid(evm.ErrUptoBelowMinAmount, fmt.Sprintf("invalid minAmount: %s", requirements.MinAmount)), nil
		}
		if value.Cmp(minAmount) < 0 {
			return invalid(evm.ErrUptoBelowMinAmount, "authorized value below minAmount"), nil
		}
	}

	// A stale permit nonce means an earlier permit was already applied; the
	// token would reject this one at settlement.
	currentNonce, err := f.readPermitNonce(ctx, assetInfo.Address, uptoPayload.Authorization.Owner)
	if err != nil {
		return types.VerifyResponse{}, fmt.Errorf("failed to read permit nonce: %w", err)
	}
	if currentNonce != uptoPayload.Authorization.Nonce {
		return invalid(evm.ErrNonceAlreadyUsed, fmt.Sprintf("permit nonce %d is stale, current is %d", uptoPayload.Authorization.Nonce, currentNonce)), nil
	}

	balance, err := f.signer.GetBalance(ctx, uptoPayload.Authorization.Owner, assetInfo.Address)
	if err != nil {
		return types.VerifyResponse{}, fmt.Errorf("failed to get balance: %w", err)
	}
	if balance.Cmp(value) < 0 {
		return invalid(evm.ErrInsufficientBalance, "owner balance below authorized value"), nil
	}

	tokenName, tokenVersion := "", ""
	if requirements.Extra != nil {
		if n, ok := requirements.Extra["name"].(string); ok {
			tokenName = n
		}
		if v, ok := requirements.Extra["version"].(string); ok {
			tokenVersion = v
		}
	}
	if tokenName == "" || tokenVersion == "" {
		return invalid(evm.ErrMissingEIP712Domain, "requirements extra missing EIP-712 name/version"), nil
	}

	signature, err := CombineSignature(uptoPayload.Signature)
	if err != nil {
		return invalid(evm.ErrInvalidSignature, err.Error()), nil
	}

	domain := evm.TypedDataDomain{
		Name:              tokenName,
		Version:           tokenVersion,
		ChainID:           config.ChainID,
		VerifyingContract: assetInfo.Address,
	}
	valid, err := f.signer.VerifyTypedData(
		ctx,
		uptoPayload.Authorization.Owner,
		domain,
		evm.PermitTypes(),
		"Permit",
		permitMessage(uptoPayload.Authorization),
		signature,
	)
	if err != nil {
		return types.VerifyResponse{}, fmt.Errorf("failed to verify signature: %w", err)
	}
	if !valid {
		return invalid(evm.ErrInvalidSignature, "signature does not recover to authorization.owner"), nil
	}

	return types.VerifyResponse{
		IsValid: true,
		Payer:   uptoPayload.Authorization.Owner,
	}, nil
}

// Settle settles for the amount named in requirements extra (settleAmount),
// defaulting to the full authorized value when absent. Usage details in
// extra flow into the settlement record.
func (f *Facilitator) Settle(
	ctx context.Context,
	payload types.PaymentPayload,
	requirements types.PaymentRequirements,
) (types.SettleResponse, error) {
	settlement := settlementFromExtra(requirements.Extra)
	if settlement.SettleAmount == "" {
		uptoPayload, err := PayloadFromMap(payload.Payload)
		if err != nil {
			return types.SettleResponse{
				Success:     false,
				ErrorReason: evm.ErrUnsupportedPayload,
			}, nil
		}
		settlement.SettleAmount = uptoPayload.Authorization.Value
	}
	return f.SettleWithUsage(ctx, payload, requirements, settlement)
}

// SettleWithUsage re-verifies and settles for settleAmount. Over-settlement
// is rejected before any chain call: the settle amount must not exceed the
// authorized value. The router executes permit plus transfer atomically.
func (f *Facilitator) SettleWithUsage(
	ctx context.Context,
	payload types.PaymentPayload,
	requirements types.PaymentRequirements,
	settlement types.Settlement,
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

	uptoPayload, err := PayloadFromMap(payload.Payload)
	if err != nil {
		return types.SettleResponse{
			Success:     false,
			ErrorReason: evm.ErrUnsupportedPayload,
		}, nil
	}

	authorizedValue, _ := new(big.Int).SetString(uptoPayload.Authorization.Value, 10)
	settleAmount, ok := new(big.Int).SetString(settlement.SettleAmount, 10)
	if !ok {
		return types.SettleResponse{
			Success:     false,
			ErrorReason: fmt.Sprintf("invalid settle amount: %s", settlement.SettleAmount),
		}, nil
	}
	if settleAmount.Cmp(authorizedValue) > 0 {
		return types.SettleResponse{
			Success:     false,
			ErrorReason: evm.ErrUptoOverSettlement,
			Network:     string(requirements.Network),
		}, nil
	}

	routerAddress := ""
	if requirements.Extra != nil {
		if router, ok := requirements.Extra["routerAddress"].(string); ok {
			routerAddress = router
		}
	}
	if routerAddress == "" {
		return types.SettleResponse{
			Success:     false,
			ErrorReason: evm.ErrUptoMissingRouter,
			Network:     string(requirements.Network),
		}, nil
	}

	networkStr := string(requirements.Network)
	assetInfo, err := evm.GetAssetInfo(networkStr, requirements.Asset)
	if err != nil {
		return types.SettleResponse{}, err
	}

	deadline, _ := new(big.Int).SetString(uptoPayload.Authorization.Deadline, 10)
	signature, err := CombineSignature(uptoPayload.Signature)
	if err != nil {
		return types.SettleResponse{
			Success:     false,
			ErrorReason: evm.ErrInvalidSignature,
		}, nil
	}
	r, s, v, err := evm.SplitSignature(signature)
	if err != nil {
		return types.SettleResponse{
			Success:     false,
			ErrorReason: evm.ErrInvalidSignature,
		}, nil
	}

	txHash, err := f.signer.WriteContract(
		ctx,
		routerAddress,
		evm.UptoRouterABI,
		evm.FunctionExecuteUptoTransfer,
		assetInfo.Address,
		uptoPayload.Authorization.Owner,
		requirements.PayTo,
		authorizedValue,
		settleAmount,
		deadline,
		v,
		r,
		s,
	)
	if err != nil {
		return types.SettleResponse{
			Success:     false,
			ErrorReason: fmt.Sprintf("failed to execute upto transfer: %v", err),
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
		Payer:       uptoPayload.Authorization.Owner,
		Settlement: &types.Settlement{
			SettleAmount: settleAmount.String(),
			UsageDetails: settlement.UsageDetails,
		},
	}, nil
}

func (f *Facilitator) readPermitNonce(ctx context.Context, tokenAddress string, owner string) (int, error) {
	result, err := f.signer.ReadContract(ctx, tokenAddress, evm.ERC20NoncesABI, evm.FunctionNonces, owner)
	if err != nil {
		return 0, err
	}
	nonce, ok := result.(*big.Int)
	if !ok {
		return 0, fmt.Errorf("unexpected result type from nonces")
	}
	return int(nonce.Int64()), nil
}

// settlementFromExtra lifts settleAmount and usage details out of
// requirements extra, where resource servers place them at settle time.
func settlementFromExtra(extra map[string]interface{}) types.Settlement {
	var settlement types.Settlement
	if extra == nil {
		return settlement
	}

	if amount, ok := extra["settleAmount"].(string); ok {
		settlement.SettleAmount = amount
	}
	if details, ok := extra["usageDetails"].(map[string]interface{}); ok {
		usage := &types.UsageDetails{}
		if unit, ok := details["unit"].(string); ok {
			usage.Unit = unit
		}
		if consumed, ok := details["unitsConsumed"].(string); ok {
			usage.UnitsConsumed = consumed
		}
		if price, ok := details["unitPrice"].(string); ok {
			usage.UnitPrice = price
		}
		settlement.UsageDetails = usage
	}
	return settlement
}

func invalid(reason string, message string) types.VerifyResponse {
	return types.VerifyResponse{
		IsValid:        false,
		InvalidReason:  reason,
		InvalidMessage: message,
	}
}
