package erc4337

import (
	"context"
	"encoding/json"
	"fmt"
)

// alchemyNetworks maps chain ids to Alchemy RPC subdomains.
var alchemyNetworks = map[int64]string{
	1:        "eth-mainnet",
	11155111: "eth-sepolia",
	137:      "polygon-mainnet",
	80002:    "polygon-amoy",
	42161:    "arb-mainnet",
	421614:   "arb-sepolia",
	10:       "opt-mainnet",
	11155420: "opt-sepolia",
	8453:     "base-mainnet",
	84532:    "base-sepolia",
}

// AlchemyBundler extends the base bundler with Alchemy's Gas Manager RPCs.
type AlchemyBundler struct {
	*BundlerClient
	policyID string
}

// NewAlchemyBundler creates a bundler for a chain served by Alchemy. The
// policy id is optional; when set it is attached to every sponsorship
// request.
func NewAlchemyBundler(apiKey string, chainID int64, policyID string) (*AlchemyBundler, error) {
	network, ok := alchemyNetworks[chainID]
	if !ok {
		return nil, fmt.Errorf("chain %d is not served by Alchemy", chainID)
	}
	url := fmt.Sprintf("https://%s.g.alchemy.com/v2/%s", network, apiKey)
	return &AlchemyBundler{BundlerClient: NewBundlerClient(url), policyID: policyID}, nil
}

// NewAlchemyBundlerURL creates an Alchemy bundler against a custom URL.
func NewAlchemyBundlerURL(url, policyID string) *AlchemyBundler {
	return &AlchemyBundler{BundlerClient: NewBundlerClient(url), policyID: policyID}
}

// RequestPaymasterAndData asks the Gas Manager for sponsorship and returns a
// copy of the operation with paymasterAndData filled in.
func (b *AlchemyBundler) RequestPaymasterAndData(ctx context.Context, op *UserOperation) (*UserOperation, error) {
	params, err := b.sponsorParams(op)
	if err != nil {
		return nil, err
	}

	raw, err := b.rpc.call(ctx, "alchemy_requestPaymasterAndData", params)
	if err != nil {
		return nil, err
	}

	var result struct {
		PaymasterAndData string `json:"paymasterAndData"`
	}
	if err := json.Unmarshal(raw, &result); err != nil {
		return nil, fmt.Errorf("malformed sponsorship response: %w", err)
	}

	sponsored := *op
	sponsored.PaymasterAndData = result.PaymasterAndData
	return &sponsored, nil
}

// RequestGasAndPaymasterAndData combines gas estimation and sponsorship in a
// single call, returning a copy of the operation with gas fields and
// paymasterAndData replaced.
func (b *AlchemyBundler) RequestGasAndPaymasterAndData(ctx context.Context, op *UserOperation) (*UserOperation, error) {
	params, err := b.sponsorParams(op)
	if err != nil {
		return nil, err
	}
	params["overrides"] = map[string]interface{}{
		"maxFeePerGas":         op.MaxFeePerGas,
		"maxPriorityFeePerGas": op.MaxPriorityFeePerGas,
	}

	raw, err := b.rpc.call(ctx, "alchemy_requestGasAndPaymasterAndData", params)
	if err != nil {
		return nil, err
	}

	var result struct {
		PaymasterAndData     string `json:"paymasterAndData"`
		PreVerificationGas   hexBig `json:"preVerificationGas"`
		VerificationGasLimit hexBig `json:"verificationGasLimit"`
		CallGasLimit         hexBig `json:"callGasLimit"`
		MaxFeePerGas         hexBig `json:"maxFeePerGas"`
		MaxPriorityFeePerGas hexBig `json:"maxPriorityFeePerGas"`
	}
	if err := json.Unmarshal(raw, &result); err != nil {
		return nil, fmt.Errorf("malformed sponsorship response: %w", err)
	}

	sponsored := *op
	sponsored.PaymasterAndData = result.PaymasterAndData
	sponsored.PreVerificationGas = bigToHex(result.PreVerificationGas.Int())
	sponsored.VerificationGasLimit = bigToHex(result.VerificationGasLimit.Int())
	sponsored.CallGasLimit = bigToHex(result.CallGasLimit.Int())
	sponsored.MaxFeePerGas = bigToHex(result.MaxFeePerGas.Int())
	sponsored.MaxPriorityFeePerGas = bigToHex(result.MaxPriorityFeePerGas.Int())
	return &sponsored, nil
}

func (b *AlchemyBundler) sponsorParams(op *UserOperation) (map[string]interface{}, error) {
	packed, err := op.rpcMap(false)
	if err != nil {
		return nil, err
	}
	params := map[string]interface{}{
		"userOperation": packed,
		"entryPoint":    b.entryPoint,
	}
	if b.policyID != "" {
		params["policyId"] = b.policyID
	}
	return params, nil
}
