// Package exact implements the exact payment scheme for Solana using SPL
// Token TransferChecked. The client partially signs a transaction whose fee
// payer slot belongs to the facilitator; the facilitator simulates it to
// verify and co-signs and submits it to settle.
package exact

import (
	"context"
	"fmt"
	"strconv"

	bin "github.com/gagliardetto/binary"
	solana "github.com/gagliardetto/solana-go"
	computebudget "github.com/gagliardetto/solana-go/programs/compute-budget"
	"github.com/gagliardetto/solana-go/programs/token"
	"github.com/gagliardetto/solana-go/rpc"

	"github.com/t402-io/t402/go/mechanisms/svm"
	"github.com/t402-io/t402/go/types"
)

// Client implements SchemeNetworkClient for Solana exact payments.
type Client struct {
	signer svm.ClientSvmSigner
	reader svm.ChainReader
	rpcURL string
}

// NewClient creates a Solana exact client around a signer.
func NewClient(signer svm.ClientSvmSigner) *Client {
	return &Client{signer: signer}
}

// WithRPCURL overrides the cluster RPC endpoint.
func (c *Client) WithRPCURL(url string) *Client {
	c.rpcURL = url
	return c
}

// WithChainReader replaces the RPC-backed reads entirely.
func (c *Client) WithChainReader(reader svm.ChainReader) *Client {
	c.reader = reader
	return c
}

// Scheme returns the scheme identifier.
func (c *Client) Scheme() string {
	return svm.SchemeExact
}

// CreatePaymentPayload builds and partially signs an SPL transfer for the
// given requirements. The facilitator named in extra.feePayer is set as fee
// payer, so the payer spends no SOL.
func (c *Client) CreatePaymentPayload(
	ctx context.Context,
	version int,
	requirements types.PaymentRequirements,
) (types.PaymentPayload, error) {
	if requirements.Scheme != svm.SchemeExact {
		return types.PaymentPayload{}, fmt.Errorf("scheme mismatch: expected %s, got %s", svm.SchemeExact, requirements.Scheme)
	}

	networkStr := string(requirements.Network)
	config, err := svm.GetNetworkConfig(networkStr)
	if err != nil {
		return types.PaymentPayload{}, err
	}

	mint, err := solana.PublicKeyFromBase58(requirements.Asset)
	if err != nil {
		return types.PaymentPayload{}, fmt.Errorf("invalid asset address: %w", err)
	}
	payTo, err := solana.PublicKeyFromBase58(requirements.PayTo)
	if err != nil {
		return types.PaymentPayload{}, fmt.Errorf("invalid payTo address: %w", err)
	}
	amount, err := strconv.ParseUint(requirements.Amount, 10, 64)
	if err != nil {
		return types.PaymentPayload{}, fmt.Errorf("invalid amount: %w", err)
	}

	feePayerAddr, ok := requirements.Extra["feePayer"].(string)
	if !ok || feePayerAddr == "" {
		return types.PaymentPayload{}, fmt.Errorf("feePayer is required in requirements extra for Solana payments")
	}
	feePayer, err := solana.PublicKeyFromBase58(feePayerAddr)
	if err != nil {
		return types.PaymentPayload{}, fmt.Errorf("invalid feePayer address: %w", err)
	}

	reader := c.reader
	if reader == nil {
		rpcURL := config.RPCURL
		if c.rpcURL != "" {
			rpcURL = c.rpcURL
		}
		reader = rpc.New(rpcURL)
	}

	mintAccount, err := reader.GetAccountInfo(ctx, mint)
	if err != nil {
		return types.PaymentPayload{}, fmt.Errorf("failed to get mint account: %w", err)
	}
	if !svm.IsTokenProgram(mintAccount.Value.Owner) {
		return types.PaymentPayload{}, fmt.Errorf("asset %s was not created by a known token program", requirements.Asset)
	}

	var mintData token.Mint
	if err := bin.NewBinDecoder(mintAccount.Value.Data.GetBinary()).Decode(&mintData); err != nil {
		return types.PaymentPayload{}, fmt.Errorf("failed to decode mint data: %w", err)
	}

	sourceAccount, err := svm.FindTokenAccount(c.signer.Address(), mint)
	if err != nil {
		return types.PaymentPayload{}, err
	}
	destinationAccount, err := svm.FindTokenAccount(payTo, mint)
	if err != nil {
		return types.PaymentPayload{}, err
	}

	// Both token accounts must already exist: the transfer cannot create
	// them and simulation failures at the facilitator are harder to act on.
	if info, err := reader.GetAccountInfo(ctx, sourceAccount); err != nil || info == nil || info.Value == nil {
		return types.PaymentPayload{}, fmt.Errorf("source token account does not exist for %s", c.signer.Address())
	}
	if info, err := reader.GetAccountInfo(ctx, destinationAccount); err != nil || info == nil || info.Value == nil {
		return types.PaymentPayload{}, fmt.Errorf("destination token account does not exist for %s", requirements.PayTo)
	}

	blockhash, err := reader.GetLatestBlockhash(ctx, rpc.CommitmentFinalized)
	if err != nil {
		return types.PaymentPayload{}, fmt.Errorf("failed to get latest blockhash: %w", err)
	}

	cuLimit, err := computebudget.NewSetComputeUnitLimitInstructionBuilder().
		SetUnits(svm.TransferComputeUnits).
		ValidateAndBuild()
	if err != nil {
		return types.PaymentPayload{}, fmt.Errorf("failed to build compute limit instruction: %w", err)
	}
	cuPrice, err := computebudget.NewSetComputeUnitPriceInstructionBuilder().
		SetMicroLamports(svm.DefaultComputeUnitPrice).
		ValidateAndBuild()
	if err != nil {
		return types.PaymentPayload{}, fmt.Errorf("failed to build compute price instruction: %w", err)
	}
	transferIx, err := token.NewTransferCheckedInstructionBuilder().
		SetAmount(amount).
		SetDecimals(mintData.Decimals).
		SetSourceAccount(sourceAccount).
		SetMintAccount(mint).
		SetDestinationAccount(destinationAccount).
		SetOwnerAccount(c.signer.Address()).
		ValidateAndBuild()
	if err != nil {
		return types.PaymentPayload{}, fmt.Errorf("failed to build transfer instruction: %w", err)
	}

	tx, err := solana.NewTransactionBuilder().
		AddInstruction(cuLimit).
		AddInstruction(cuPrice).
		AddInstruction(transferIx).
		SetRecentBlockHash(blockhash.Value.Blockhash).
		SetFeePayer(feePayer).
		Build()
	if err != nil {
		return types.PaymentPayload{}, fmt.Errorf("failed to build transaction: %w", err)
	}

	if err := c.signer.SignTransaction(tx); err != nil {
		return types.PaymentPayload{}, fmt.Errorf("failed to sign transaction: %w", err)
	}

	encoded, err := svm.EncodeTransaction(tx)
	if err != nil {
		return types.PaymentPayload{}, err
	}

	svmPayload := &svm.ExactSvmPayload{Transaction: encoded}

	// Partial payload: the registry fills accepted, resource and extensions.
	return types.PaymentPayload{
		T402Version: version,
		Payload:     svmPayload.ToMap(),
	}, nil
}
