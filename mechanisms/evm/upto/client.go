package upto

import (
	"context"
	"fmt"
	"math/big"
	"strconv"
	"time"

	"github.com/t402-io/t402/go/mechanisms/evm"
	"github.com/t402-io/t402/go/types"
)

// ContractReader is the minimal read capability the client needs to fetch
// the token's permit nonce when requirements carry no nonce hint.
type ContractReader interface {
	ReadContract(ctx context.Context, address string, abi []byte, functionName string, args ...interface{}) (interface{}, error)
}

// Client implements SchemeNetworkClient for the upto scheme.
type Client struct {
	signer evm.ClientEvmSigner
	reader ContractReader
}

// NewClient creates an upto scheme client around a signer.
func NewClient(signer evm.ClientEvmSigner) *Client {
	return &Client{signer: signer}
}

// WithNonceReader attaches an on-chain reader used to fetch the token's
// permit nonce. Without one, requirements must carry a permitNonce hint.
func (c *Client) WithNonceReader(reader ContractReader) *Client {
	c.reader = reader
	return c
}

// Scheme returns the scheme identifier.
func (c *Client) Scheme() string {
	return evm.SchemeUpto
}

// CreatePaymentPayload builds and signs an EIP-2612 permit for the maximum
// amount in the requirements. The spender is the router address when one is
// configured, falling back to payTo. Exactly one signing call is made.
func (c *Client) CreatePaymentPayload(
	ctx context.Context,
	version int,
	requirements types.PaymentRequirements,
) (types.PaymentPayload, error) {
	if requirements.Scheme != evm.SchemeUpto {
		return types.PaymentPayload{}, fmt.Errorf("scheme mismatch: expected %s, got %s", evm.SchemeUpto, requirements.Scheme)
	}

	// The upto scheme has no registry fallback for domain parameters: permit
	// domains vary per token deployment, so requirements must be explicit.
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
		return types.PaymentPayload{}, fmt.Errorf("requirements extra missing EIP-712 name/version")
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

	maxAmount, ok := new(big.Int).SetString(requirements.MaxAmount, 10)
	if !ok {
		return types.PaymentPayload{}, fmt.Errorf("invalid maxAmount: %s", requirements.MaxAmount)
	}

	owner := c.signer.Address()
	spender := SpenderFromRequirements(requirements.Extra, requirements.PayTo)
	if spender == "" {
		return types.PaymentPayload{}, fmt.Errorf("no spender available: requirements carry neither routerAddress nor payTo")
	}

	permitNonce, err := c.resolvePermitNonce(ctx, requirements, assetInfo.Address, owner)
	if err != nil {
		return types.PaymentPayload{}, err
	}

	deadline := time.Now().Unix() + int64(requirements.MaxTimeoutSeconds)

	authorization := PermitAuthorization{
		Owner:    owner,
		Spender:  spender,
		Value:    maxAmount.String(),
		Deadline: strconv.FormatInt(deadline, 10),
		Nonce:    permitNonce,
	}

	domain := evm.TypedDataDomain{
		Name:              tokenName,
		Version:           tokenVersion,
		ChainID:           config.ChainID,
		VerifyingContract: assetInfo.Address,
	}
	message := permitMessage(authorization)

	signature, err := c.signer.SignTypedData(ctx, domain, evm.PermitTypes(), "Permit", message)
	if err != nil {
		return types.PaymentPayload{}, fmt.Errorf("failed to sign permit: %w", err)
	}
	r, s, v, err := evm.SplitSignature(signature)
	if err != nil {
		return types.PaymentPayload{}, err
	}

	paymentNonce, err := evm.CreateNonce()
	if err != nil {
		return types.PaymentPayload{}, err
	}

	payload := &EIP2612Payload{
		Signature: PermitSignature{
			V: int(v),
			R: evm.BytesToHex(r[:]),
			S: evm.BytesToHex(s[:]),
		},
		Authorization: authorization,
		PaymentNonce:  paymentNonce,
	}

	return types.PaymentPayload{
		T402Version: version,
		Payload:     payload.ToMap(),
	}, nil
}

// resolvePermitNonce prefers the permitNonce hint in requirements extra and
// falls back to reading nonces(owner) from the token contract.
func (c *Client) resolvePermitNonce(ctx context.Context, requirements types.PaymentRequirements, tokenAddress string, owner string) (int, error) {
	if requirements.Extra != nil {
		switch hint := requirements.Extra["permitNonce"].(type) {
		case float64:
			return int(hint), nil
		case int:
			return hint, nil
		case string:
			n, err := strconv.Atoi(hint)
			if err != nil {
				return 0, fmt.Errorf("invalid permitNonce hint: %s", hint)
			}
			return n, nil
		}
	}

	if c.reader == nil {
		return 0, fmt.Errorf("no permitNonce hint in requirements and no nonce reader configured")
	}

	result, err := c.reader.ReadContract(ctx, tokenAddress, evm.ERC20NoncesABI, evm.FunctionNonces, owner)
	if err != nil {
		return 0, fmt.Errorf("failed to read permit nonce: %w", err)
	}
	nonce, ok := result.(*big.Int)
	if !ok {
		return 0, fmt.Errorf("unexpected result type from nonces")
	}
	return int(nonce.Int64()), nil
}

func permitMessage(auth PermitAuthorization) map[string]interface{} {
	value, _ := new(big.Int).SetString(auth.Value, 10)
	deadline, _ := new(big.Int).SetString(auth.Deadline, 10)

	return map[string]interface{}{
		"owner":    auth.Owner,
		"spender":  auth.Spender,
		"value":    value,
		"nonce":    big.NewInt(int64(auth.Nonce)),
		"deadline": deadline,
	}
}
