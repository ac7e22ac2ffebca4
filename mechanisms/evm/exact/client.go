// Package exact implements the exact payment scheme for EVM networks using
// EIP-3009 transferWithAuthorization. The client signs a typed-data transfer
// authorization; the facilitator verifies it off-chain and submits it as a
// single token transaction, so the payer never spends gas.
package exact

import (
	"context"
	"fmt"
	"math/big"

	"github.com/t402-io/t402/go/mechanisms/evm"
	"github.com/t402-io/t402/go/types"
)

// Client implements SchemeNetworkClient for the exact scheme.
type Client struct {
	signer evm.ClientEvmSigner
}

// NewClient creates an exact scheme client around a signer.
func NewClient(signer evm.ClientEvmSigner) *Client {
	return &Client{signer: signer}
}

// Scheme returns the scheme identifier.
func (c *Client) Scheme() string {
	return evm.SchemeExact
}

// CreatePaymentPayload builds and signs an EIP-3009 authorization for the
// given requirements. Exactly one signing call is made; signer errors
// propagate verbatim.
func (c *Client) CreatePaymentPayload(
	ctx context.Context,
	version int,
	requirements types.PaymentRequirements,
) (types.PaymentPayload, error) {
	if requirements.Scheme != evm.SchemeExact {
		return types.PaymentPayload{}, fmt.Errorf("scheme mismatch: expected %s, got %s", evm.SchemeExact, requirements.Scheme)
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

	signature, err := c.signer.SignTypedData(ctx, domain, evm.TransferWithAuthorizationTypes(), "TransferWithAuthorization", message)
	if err != nil {
		return types.PaymentPayload{}, fmt.Errorf("failed to sign authorization: %w", err)
	}

	evmPayload := &evm.ExactEIP3009Payload{
		Signature:     evm.BytesToHex(signature),
		Authorization: authorization,
	}

	// Partial payload: the registry fills accepted, resource and extensions.
	return types.PaymentPayload{
		T402Version: version,
		Payload:     evmPayload.ToMap(),
	}, nil
}
