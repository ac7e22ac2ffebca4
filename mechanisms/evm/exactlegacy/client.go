package exactlegacy

import (
	"context"
	"fmt"
	"math/big"
	"strings"

	ethabi "github.com/ethereum/go-ethereum/accounts/abi"
	"github.com/ethereum/go-ethereum/common"
	gethtypes "github.com/ethereum/go-ethereum/core/types"

	"github.com/t402-io/t402/go/mechanisms/evm"
	"github.com/t402-io/t402/go/types"
)

// Client implements SchemeNetworkClient for the exact-legacy scheme.
type Client struct {
	signer evm.ClientEvmSigner
}

// NewClient creates an exact-legacy scheme client around a signer. When the
// signer also implements evm.ClientEvmTxSigner, payloads include a pre-signed
// approve transaction so the payer never needs gas.
func NewClient(signer evm.ClientEvmSigner) *Client {
	return &Client{signer: signer}
}

// Scheme returns the scheme identifier.
func (c *Client) Scheme() string {
	return evm.SchemeExactLegacy
}

// CreatePaymentPayload builds and signs a spender-bound authorization. The
// spender comes from requirements extra and names the facilitator address
// that will call transferFrom.
func (c *Client) CreatePaymentPayload(
	ctx context.Context,
	version int,
	requirements types.PaymentRequirements,
) (types.PaymentPayload, error) {
	if requirements.Scheme != evm.SchemeExactLegacy {
		return types.PaymentPayload{}, fmt.Errorf("scheme mismatch: expected %s, got %s", evm.SchemeExactLegacy, requirements.Scheme)
	}

	spender := ""
	if requirements.Extra != nil {
		if s, ok := requirements.Extra["spender"].(string); ok {
			spender = s
		}
	}
	if spender == "" {
		return types.PaymentPayload{}, fmt.Errorf("requirements extra missing spender address")
	}

	networkStr := string(requirements.Network)
	config, err := evm.GetNetworkConfig(networkStr)
	if err != nil {
		return types.PaymentPayload{}, err
	}
	assetInfo, err := evm.GetAssetInfo(networkStr, requirements.Asset)
	if err != nil {
		return types.PaymentPayload{}, err
	}

	value, ok := new(big.Int).SetString(requirements.Amount, 10)
	if !ok {
		return types.PaymentPayload{}, fmt.Errorf("invalid amount: %s", requirements.Amount)
	}

	nonce, err := evm.CreateNonce()
	if err != nil {
		return types.PaymentPayload{}, err
	}
	validAfter, validBefore := evm.CreateValidityWindow(requirements.MaxTimeoutSeconds)

	tokenName, tokenVersion, err := evm.DomainFromRequirements(requirements)
	if err != nil {
		return types.PaymentPayload{}, err
	}

	authorization := evm.ExactEIP3009Authorization{
		From:        c.signer.Address(),
		To:          requirements.PayTo,
		Value:       value.String(),
		ValidAfter:  validAfter,
		ValidBefore: validBefore,
		Nonce:       nonce,
		Spender:     spender,
	}

	domain := evm.TypedDataDomain{
		Name:              tokenName,
		Version:           tokenVersion,
		ChainID:           config.ChainID,
		VerifyingContract: assetInfo.Address,
	}
	message, err := evm.EIP3009Message(authorization)
	if err != nil {
		return types.PaymentPayload{}, err
	}

	signature, err := c.signer.SignTypedData(ctx, domain, evm.LegacyTransferAuthorizationTypes(), "LegacyTransferAuthorization", message)
	if err != nil {
		return types.PaymentPayload{}, fmt.Errorf("failed to sign authorization: %w", err)
	}

	payload := &LegacyPayload{
		Signature:     evm.BytesToHex(signature),
		Authorization: authorization,
	}

	if txSigner, ok := c.signer.(evm.ClientEvmTxSigner); ok {
		approval, err := signApproval(ctx, txSigner, assetInfo.Address, spender, value, config.ChainID)
		if err != nil {
			return types.PaymentPayload{}, fmt.Errorf("failed to sign approval: %w", err)
		}
		payload.SignedApproval = approval
	}

	return types.PaymentPayload{
		T402Version: version,
		Payload:     payload.ToMap(),
	}, nil
}

// signApproval signs an unbroadcast EIP-1559 approve(spender, value)
// transaction against the token contract.
func signApproval(
	ctx context.Context,
	signer evm.ClientEvmTxSigner,
	tokenAddress string,
	spender string,
	value *big.Int,
	chainID *big.Int,
) (string, error) {
	contractABI, err := ethabi.JSON(strings.NewReader(string(evm.ERC20ApproveABI)))
	if err != nil {
		return "", fmt.Errorf("failed to parse approve ABI: %w", err)
	}
	calldata, err := contractABI.Pack(evm.FunctionApprove, common.HexToAddress(spender), value)
	if err != nil {
		return "", fmt.Errorf("failed to encode approve calldata: %w", err)
	}

	nonce, err := signer.GetTransactionCount(ctx, signer.Address())
	if err != nil {
		return "", fmt.Errorf("failed to get transaction count: %w", err)
	}

	maxFeePerGas, maxPriorityFeePerGas, err := signer.EstimateFeesPerGas(ctx)
	if err != nil {
		return "", fmt.Errorf("failed to estimate fees: %w", err)
	}

	toAddr := common.HexToAddress(tokenAddress)
	tx := gethtypes.NewTx(&gethtypes.DynamicFeeTx{
		ChainID:   chainID,
		Nonce:     nonce,
		GasTipCap: maxPriorityFeePerGas,
		GasFeeCap: maxFeePerGas,
		Gas:       evm.ERC20ApproveGasLimit,
		To:        &toAddr,
		Value:     big.NewInt(0),
		Data:      calldata,
	})

	rlpBytes, err := signer.SignTransaction(ctx, tx)
	if err != nil {
		return "", fmt.Errorf("failed to sign approve transaction: %w", err)
	}
	return evm.BytesToHex(rlpBytes), nil
}
