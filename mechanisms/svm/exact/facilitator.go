package exact

import (
	"context"
	"fmt"
	"strconv"
	"time"

	solana "github.com/gagliardetto/solana-go"

	"github.com/t402-io/t402/go/mechanisms/svm"
	"github.com/t402-io/t402/go/types"
)

// Facilitator implements SchemeNetworkFacilitator for Solana exact payments.
// Verify decodes the transaction, checks its shape against the requirements
// and simulates it; Settle co-signs as fee payer, submits and waits for
// confirmation. The recent blockhash inside the transaction provides replay
// protection: the cluster rejects a transaction it has already processed.
type Facilitator struct {
	signer svm.FacilitatorSvmSigner
}

// NewFacilitator creates a Solana exact facilitator around a signer.
func NewFacilitator(signer svm.FacilitatorSvmSigner) *Facilitator {
	return &Facilitator{signer: signer}
}

// Scheme returns the scheme identifier.
func (f *Facilitator) Scheme() string {
	return svm.SchemeExact
}

// CaipFamily returns the Solana network family pattern.
func (f *Facilitator) CaipFamily() string {
	return "solana:*"
}

// GetExtra advertises the default asset and the fee payer clients must set.
func (f *Facilitator) GetExtra(network types.Network) map[string]interface{} {
	config, err := svm.GetNetworkConfig(string(network))
	if err != nil {
		return nil
	}

	result := map[string]interface{}{
		"defaultAsset": config.DefaultAsset.MintAddress,
		"symbol":       config.DefaultAsset.Symbol,
		"decimals":     config.DefaultAsset.Decimals,
	}
	if addresses := f.signer.GetAddresses(context.Background(), string(network)); len(addresses) > 0 {
		result["feePayer"] = addresses[0]
	}
	return result
}

// GetSigners returns the facilitator's fee payer addresses on the network.
func (f *Facilitator) GetSigners(ctx context.Context, network types.Network) []string {
	return f.signer.GetAddresses(ctx, string(network))
}

// Verify validates the partially signed transaction without submitting it.
// Checks run in a fixed order: envelope, payload shape, transaction
// structure, extracted transfer against the requirements, payer signature,
// then simulation.
func (f *Facilitator) Verify(
	ctx context.Context,
	payload types.PaymentPayload,
	requirements types.PaymentRequirements,
) (types.VerifyResponse, error) {
	if requirements.Scheme != svm.SchemeExact {
		return invalid("invalid_scheme", "requirements scheme is not exact"), nil
	}
	if payload.Accepted.Scheme != "" && payload.Accepted.Scheme != svm.SchemeExact {
		return invalid("invalid_scheme", "payload scheme is not exact"), nil
	}
	if payload.Accepted.Network != "" && payload.Accepted.Network != requirements.Network {
		return invalid("network_mismatch", "payload network does not match requirements"), nil
	}

	networkStr := string(requirements.Network)
	if !svm.IsValidNetwork(networkStr) {
		return invalid("unsupported_network", fmt.Sprintf("unsupported Solana network: %s", networkStr)), nil
	}

	svmPayload, err := svm.PayloadFromMap(payload.Payload)
	if err != nil {
		return invalid("invalid_payload", err.Error()), nil
	}
	tx, err := svm.DecodeTransaction(svmPayload.Transaction)
	if err != nil {
		return invalid("invalid_payload", err.Error()), nil
	}

	if reason, message := checkTransactionShape(tx); reason != "" {
		return invalid(reason, message), nil
	}

	transfer, err := svm.ExtractTokenTransfer(tx)
	if err != nil {
		return invalid("invalid_payload", err.Error()), nil
	}
	payer := transfer.Owner.String()

	mint, err := solana.PublicKeyFromBase58(requirements.Asset)
	if err != nil {
		return invalidPayer("invalid_payload", fmt.Sprintf("invalid required asset: %s", requirements.Asset), payer), nil
	}
	payTo, err := solana.PublicKeyFromBase58(requirements.PayTo)
	if err != nil {
		return invalidPayer("invalid_payload", fmt.Sprintf("invalid payTo address: %s", requirements.PayTo), payer), nil
	}

	if !transfer.Mint.Equals(mint) {
		return invalidPayer("asset_mismatch", "transfer mint does not match asset", payer), nil
	}
	expectedDestination, err := svm.FindTokenAccount(payTo, mint)
	if err != nil {
		return types.VerifyResponse{}, err
	}
	if !transfer.Destination.Equals(expectedDestination) {
		return invalidPayer("recipient_mismatch", "transfer destination is not the payTo token account", payer), nil
	}

	requiredAmount, err := strconv.ParseUint(requirements.Amount, 10, 64)
	if err != nil {
		return invalidPayer("insufficient_amount", fmt.Sprintf("invalid required amount: %s", requirements.Amount), payer), nil
	}
	if transfer.Amount < requiredAmount {
		return invalidPayer("insufficient_amount", "transfer amount below required amount", payer), nil
	}

	if len(tx.Message.AccountKeys) == 0 {
		return invalidPayer("invalid_payload", "transaction has no account keys", payer), nil
	}
	feePayer := tx.Message.AccountKeys[0]
	if !f.isKnownFeePayer(ctx, feePayer, networkStr) {
		return invalidPayer("fee_payer_mismatch", "transaction fee payer is not operated by this facilitator", payer), nil
	}

	// A Swig wallet authorizes through the secp256r1 precompile, so only
	// plain transfers carry an ed25519 payer signature to check.
	if !svm.IsSwigTransaction(tx) {
		if !hasSignature(tx, transfer.Owner) {
			return invalidPayer("missing_payer_signature", "transaction is not signed by the token owner", payer), nil
		}
	}

	simulation, err := f.signer.SimulateTransaction(ctx, tx, networkStr)
	if err != nil {
		return types.VerifyResponse{}, fmt.Errorf("failed to simulate transaction: %w", err)
	}
	if !simulation.Success {
		return invalidPayer("simulation_failed", simulation.Error, payer), nil
	}

	return types.VerifyResponse{
		IsValid: true,
		Payer:   payer,
	}, nil
}

// Settle re-verifies, adds the fee payer signature, submits the transaction
// and waits for confirmation.
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

	svmPayload, err := svm.PayloadFromMap(payload.Payload)
	if err != nil {
		return types.SettleResponse{
			Success:     false,
			ErrorReason: fmt.Sprintf("invalid payload: %v", err),
		}, nil
	}
	tx, err := svm.DecodeTransaction(svmPayload.Transaction)
	if err != nil {
		return types.SettleResponse{
			Success:     false,
			ErrorReason: fmt.Sprintf("invalid payload: %v", err),
		}, nil
	}

	networkStr := string(requirements.Network)
	if err := f.signer.SignTransaction(ctx, tx, networkStr); err != nil {
		return types.SettleResponse{
			Success:     false,
			ErrorReason: fmt.Sprintf("fee payer signing failed: %v", err),
			Network:     networkStr,
			Payer:       verifyResp.Payer,
		}, nil
	}

	signature, err := f.signer.SendTransaction(ctx, tx, networkStr)
	if err != nil {
		return types.SettleResponse{
			Success:     false,
			ErrorReason: fmt.Sprintf("submission failed: %v", err),
			Network:     networkStr,
			Payer:       verifyResp.Payer,
		}, nil
	}

	confirmation, err := f.signer.WaitForConfirmation(ctx, svm.WaitForConfirmationParams{
		Signature: signature,
		Network:   networkStr,
		Timeout:   int64(svm.MaxConfirmAttempts) * int64(svm.ConfirmRetryDelay/time.Millisecond),
	})
	if err != nil {
		return types.SettleResponse{
			Success:     false,
			ErrorReason: fmt.Sprintf("confirmation failed: %v", err),
			Transaction: signature.String(),
			Network:     networkStr,
			Payer:       verifyResp.Payer,
		}, nil
	}
	if !confirmation.Success {
		return types.SettleResponse{
			Success:     false,
			ErrorReason: confirmation.Error,
			Transaction: signature.String(),
			Network:     networkStr,
			Payer:       verifyResp.Payer,
		}, nil
	}

	transaction := signature.String()
	if confirmation.Signature != "" {
		transaction = confirmation.Signature
	}

	return types.SettleResponse{
		Success:     true,
		Transaction: transaction,
		Network:     networkStr,
		Payer:       verifyResp.Payer,
	}, nil
}

// checkTransactionShape enforces the accepted transaction layout: between
// MinInstructions and MaxInstructions total, every instruction before the
// transfer drawn from the compute budget, secp256r1, Memo or Lighthouse
// programs.
func checkTransactionShape(tx *solana.Transaction) (reason string, message string) {
	instructions := tx.Message.Instructions
	if len(instructions) < svm.MinInstructions || len(instructions) > svm.MaxInstructions {
		return "invalid_instruction_count", fmt.Sprintf(
			"transaction must contain between %d and %d instructions, got %d",
			svm.MinInstructions, svm.MaxInstructions, len(instructions))
	}

	memoProgram := solana.MustPublicKeyFromBase58(svm.MemoProgramAddress)
	lighthouseProgram := solana.MustPublicKeyFromBase58(svm.LighthouseProgramAddress)
	secp256r1Program := solana.MustPublicKeyFromBase58(svm.Secp256r1PrecompileAddress)

	for i := 0; i < len(instructions)-1; i++ {
		if int(instructions[i].ProgramIDIndex) >= len(tx.Message.AccountKeys) {
			return "invalid_payload", "instruction program index out of range"
		}
		program := tx.Message.AccountKeys[instructions[i].ProgramIDIndex]
		switch {
		case program.Equals(solana.ComputeBudget),
			program.Equals(secp256r1Program),
			program.Equals(memoProgram),
			program.Equals(lighthouseProgram):
		default:
			return "unexpected_instruction", fmt.Sprintf("unexpected program %s before the transfer", program)
		}
	}
	return "", ""
}

func (f *Facilitator) isKnownFeePayer(ctx context.Context, feePayer solana.PublicKey, network string) bool {
	for _, addr := range f.signer.GetAddresses(ctx, network) {
		if addr == feePayer.String() {
			return true
		}
	}
	return false
}

// hasSignature reports whether the transaction carries a non-empty
// signature for the given signer account.
func hasSignature(tx *solana.Transaction, signer solana.PublicKey) bool {
	numSigners := int(tx.Message.Header.NumRequiredSignatures)
	for i := 0; i < numSigners && i < len(tx.Message.AccountKeys); i++ {
		if !tx.Message.AccountKeys[i].Equals(signer) {
			continue
		}
		if i < len(tx.Signatures) && !tx.Signatures[i].IsZero() {
			return true
		}
	}
	return false
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
