package erc4337

import (
	"context"
	"encoding/json"
	"fmt"
	"math/big"
)

const pimlicoBaseURL = "https://api.pimlico.io/v2"

// PimlicoBundler extends the base bundler with Pimlico's paymaster and gas
// price RPCs. Pimlico serves bundler and paymaster traffic on one endpoint.
type PimlicoBundler struct {
	*BundlerClient
}

// NewPimlicoBundler creates a bundler for a chain served by Pimlico.
func NewPimlicoBundler(apiKey string, chainID int64) *PimlicoBundler {
	url := fmt.Sprintf("%s/%d/rpc?apikey=%s", pimlicoBaseURL, chainID, apiKey)
	return &PimlicoBundler{BundlerClient: NewBundlerClient(url)}
}

// NewPimlicoBundlerURL creates a Pimlico bundler against a custom URL.
func NewPimlicoBundlerURL(url string) *PimlicoBundler {
	return &PimlicoBundler{BundlerClient: NewBundlerClient(url)}
}

// SponsorUserOperation requests sponsorship via pm_sponsorUserOperation and
// returns a copy of the operation with paymasterAndData and the sponsored
// gas limits applied. The policy id is optional.
func (b *PimlicoBundler) SponsorUserOperation(ctx context.Context, op *UserOperation, sponsorshipPolicyID string) (*UserOperation, error) {
	packed, err := op.rpcMap(false)
	if err != nil {
		return nil, err
	}
	params := map[string]interface{}{
		"userOperation": packed,
		"entryPoint":    b.entryPoint,
	}
	if sponsorshipPolicyID != "" {
		params["sponsorshipPolicyId"] = sponsorshipPolicyID
	}

	raw, err := b.rpc.call(ctx, "pm_sponsorUserOperation", params)
	if err != nil {
		return nil, err
	}

	var result struct {
		paymasterResult
		PreVerificationGas   hexBig `json:"preVerificationGas"`
		VerificationGasLimit hexBig `json:"verificationGasLimit"`
		CallGasLimit         hexBig `json:"callGasLimit"`
	}
	if err := json.Unmarshal(raw, &result); err != nil {
		return nil, fmt.Errorf("malformed sponsorship response: %w", err)
	}

	paymasterAndData, err := result.grant().Encode()
	if err != nil {
		return nil, fmt.Errorf("invalid sponsorship grant: %w", err)
	}

	sponsored := *op
	sponsored.PaymasterAndData = paymasterAndData
	sponsored.PreVerificationGas = bigToHex(result.PreVerificationGas.Int())
	sponsored.VerificationGasLimit = bigToHex(result.VerificationGasLimit.Int())
	sponsored.CallGasLimit = bigToHex(result.CallGasLimit.Int())
	return &sponsored, nil
}

// ValidateSponsorshipPolicies checks which of the given policies would
// sponsor the operation.
func (b *PimlicoBundler) ValidateSponsorshipPolicies(ctx context.Context, op *UserOperation, sponsorshipPolicyIDs ...string) (map[string]bool, error) {
	packed, err := op.rpcMap(false)
	if err != nil {
		return nil, err
	}
	params := map[string]interface{}{
		"userOperation":        packed,
		"entryPoint":           b.entryPoint,
		"sponsorshipPolicyIds": sponsorshipPolicyIDs,
	}

	raw, err := b.rpc.call(ctx, "pm_validateSponsorshipPolicies", params)
	if err != nil {
		return nil, err
	}

	var result map[string]bool
	if err := json.Unmarshal(raw, &result); err != nil {
		return nil, fmt.Errorf("malformed policy validation response: %w", err)
	}
	return result, nil
}

// GasPrice pairs the two EIP-1559 fee caps.
type GasPrice struct {
	MaxFeePerGas         *big.Int
	MaxPriorityFeePerGas *big.Int
}

// GasPriceTiers is Pimlico's recommended fee schedule.
type GasPriceTiers struct {
	Slow     GasPrice
	Standard GasPrice
	Fast     GasPrice
}

// GetUserOperationGasPrice fetches Pimlico's current fee recommendations.
func (b *PimlicoBundler) GetUserOperationGasPrice(ctx context.Context) (*GasPriceTiers, error) {
	raw, err := b.rpc.call(ctx, "pimlico_getUserOperationGasPrice")
	if err != nil {
		return nil, err
	}

	type tier struct {
		MaxFeePerGas         hexBig `json:"maxFeePerGas"`
		MaxPriorityFeePerGas hexBig `json:"maxPriorityFeePerGas"`
	}
	var result struct {
		Slow     tier `json:"slow"`
		Standard tier `json:"standard"`
		Fast     tier `json:"fast"`
	}
	if err := json.Unmarshal(raw, &result); err != nil {
		return nil, fmt.Errorf("malformed gas price response: %w", err)
	}

	toPrice := func(t tier) GasPrice {
		return GasPrice{
			MaxFeePerGas:         t.MaxFeePerGas.Int(),
			MaxPriorityFeePerGas: t.MaxPriorityFeePerGas.Int(),
		}
	}
	return &GasPriceTiers{
		Slow:     toPrice(result.Slow),
		Standard: toPrice(result.Standard),
		Fast:     toPrice(result.Fast),
	}, nil
}
