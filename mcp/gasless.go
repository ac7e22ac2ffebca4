package mcp

import (
	"bytes"
	"context"
	"fmt"
	"math/big"
	"strings"

	"github.com/ethereum/go-ethereum/accounts/abi"
	"github.com/ethereum/go-ethereum/common"
	"github.com/ethereum/go-ethereum/crypto"
	"github.com/ethereum/go-ethereum/ethclient"
	mcpsdk "github.com/modelcontextprotocol/go-sdk/mcp"

	"github.com/t402-io/t402/go/erc4337"
	"github.com/t402-io/t402/go/mechanisms/evm"
)

func (s *Server) handlePayGasless(ctx context.Context, req *mcpsdk.CallToolRequest) (*mcpsdk.CallToolResult, error) {
	var input PayGaslessInput
	if err := decodeInput(req, &input); err != nil {
		return errorResult("invalid input: %v", err), nil
	}
	if !IsGaslessNetwork(input.Network) {
		return errorResult("network %s does not support gasless payments", input.Network), nil
	}
	if s.config.BundlerURL == "" && !s.config.DemoMode {
		return errorResult("bundler URL not configured: set T402_BUNDLER_URL or enable T402_DEMO_MODE"), nil
	}

	if s.config.DemoMode {
		return textResult(formatPaymentResult(PaymentResult{
			TxHash:      demoTxHash,
			From:        demoAddress,
			To:          input.To,
			Amount:      input.Amount,
			Token:       input.Token,
			Network:     input.Network,
			ExplorerURL: ExplorerTxURL(Network(input.Network), demoTxHash),
			DemoMode:    true,
		})), nil
	}

	result, err := s.executeGaslessPayment(ctx, input)
	if err != nil {
		return errorResult("gasless payment failed: %v", err), nil
	}
	return textResult(formatGaslessPaymentResult(result)), nil
}

// executeGaslessPayment signs and submits a v0.7 UserOperation carrying an
// ERC-20 transfer, sponsored by the configured paymaster when one is set.
func (s *Server) executeGaslessPayment(ctx context.Context, input PayGaslessInput) (*GaslessPaymentResult, error) {
	network := Network(input.Network)

	tokenAddr, ok := TokenAddress(network, Token(input.Token))
	if !ok {
		return nil, fmt.Errorf("token %s not supported on %s", input.Token, input.Network)
	}
	amount, err := ParseTokenAmount(input.Amount, TokenDecimals)
	if err != nil {
		return nil, fmt.Errorf("invalid amount: %w", err)
	}
	if s.config.PrivateKey == "" {
		return nil, fmt.Errorf("private key not configured")
	}

	privateKey, err := crypto.HexToECDSA(strings.TrimPrefix(s.config.PrivateKey, "0x"))
	if err != nil {
		return nil, fmt.Errorf("invalid private key: %w", err)
	}
	sender := crypto.PubkeyToAddress(privateKey.PublicKey)

	client, err := ethclient.DialContext(ctx, s.rpcURL(network))
	if err != nil {
		return nil, fmt.Errorf("failed to connect to %s: %w", input.Network, err)
	}
	defer client.Close()

	nonce, err := client.PendingNonceAt(ctx, sender)
	if err != nil {
		return nil, fmt.Errorf("failed to get nonce: %w", err)
	}
	gasPrice, err := client.SuggestGasPrice(ctx)
	if err != nil {
		return nil, fmt.Errorf("failed to get gas price: %w", err)
	}

	transferABI, err := abi.JSON(bytes.NewReader(evm.ERC20TransferABI))
	if err != nil {
		return nil, fmt.Errorf("failed to parse transfer ABI: %w", err)
	}
	callData, err := transferABI.Pack("transfer", common.HexToAddress(input.To), amount)
	if err != nil {
		return nil, fmt.Errorf("failed to pack transfer call: %w", err)
	}
	_ = tokenAddr // the smart account routes callData to the token contract

	op, err := erc4337.NewUserOperation(sender.Hex())
	if err != nil {
		return nil, err
	}
	op.Nonce = fmt.Sprintf("0x%x", nonce)
	op.CallData = fmt.Sprintf("0x%x", callData)
	op.MaxFeePerGas = fmt.Sprintf("0x%x", gasPrice)
	op.MaxPriorityFeePerGas = fmt.Sprintf("0x%x", new(big.Int).Div(gasPrice, big.NewInt(10)))

	chainID := big.NewInt(chainIDs[network])
	bundler := erc4337.NewBundlerClient(s.config.BundlerURL)

	var paymaster string
	if s.config.PaymasterURL != "" {
		pm := erc4337.NewPaymasterClient(s.config.PaymasterURL)
		var grant *erc4337.PaymasterData
		if s.config.PaymasterPolicyID != "" {
			grant, err = pm.SponsorUserOperation(ctx, op, s.config.PaymasterPolicyID)
		} else {
			grant, err = pm.GetPaymasterData(ctx, op, chainID)
		}
		if err != nil {
			return nil, fmt.Errorf("failed to get paymaster sponsorship: %w", err)
		}
		encoded, err := grant.Encode()
		if err != nil {
			return nil, fmt.Errorf("failed to encode paymaster data: %w", err)
		}
		op.PaymasterAndData = encoded
		paymaster = grant.Paymaster
	}

	if err := estimateAndApplyGas(ctx, bundler, op); err != nil {
		return nil, err
	}

	hash, err := op.Hash(erc4337.EntryPointV07, chainID)
	if err != nil {
		return nil, fmt.Errorf("failed to hash user operation: %w", err)
	}
	signature, err := crypto.Sign(hash[:], privateKey)
	if err != nil {
		return nil, fmt.Errorf("failed to sign user operation: %w", err)
	}
	if signature[64] < 27 {
		signature[64] += 27
	}
	op.Signature = fmt.Sprintf("0x%x", signature)

	userOpHash, err := bundler.SendUserOperation(ctx, op)
	if err != nil {
		return nil, fmt.Errorf("failed to submit user operation: %w", err)
	}

	receipt, err := bundler.WaitForReceipt(ctx, userOpHash)
	if err != nil {
		return nil, fmt.Errorf("user operation %s submitted but not confirmed: %w", userOpHash, err)
	}
	if !receipt.Success {
		return nil, fmt.Errorf("user operation reverted: %s", receipt.Reason)
	}

	return &GaslessPaymentResult{
		TxHash:      receipt.TransactionHash,
		UserOpHash:  userOpHash,
		Network:     input.Network,
		Amount:      input.Amount,
		Token:       input.Token,
		To:          input.To,
		ExplorerURL: ExplorerTxURL(network, receipt.TransactionHash),
		Paymaster:   paymaster,
	}, nil
}

// estimateAndApplyGas replaces the operation's placeholder gas limits with
// bundler estimates. Estimation failure aborts the payment; the construction
// defaults are never submitted.
func estimateAndApplyGas(ctx context.Context, bundler *erc4337.BundlerClient, op *erc4337.UserOperation) error {
	estimate, err := bundler.EstimateUserOperationGas(ctx, op)
	if err != nil {
		return fmt.Errorf("failed to estimate user operation gas: %w", err)
	}
	estimate.ApplyTo(op)
	return nil
}

func formatGaslessPaymentResult(result *GaslessPaymentResult) string {
	var sb strings.Builder

	sb.WriteString("## Gasless Payment Successful\n\n")
	sb.WriteString(fmt.Sprintf("- **Amount:** %s %s\n", result.Amount, result.Token))
	sb.WriteString(fmt.Sprintf("- **To:** %s\n", result.To))
	sb.WriteString(fmt.Sprintf("- **Network:** %s\n", result.Network))
	sb.WriteString(fmt.Sprintf("- **Transaction:** [%s](%s)\n", truncateHash(result.TxHash), result.ExplorerURL))
	sb.WriteString(fmt.Sprintf("- **UserOp Hash:** %s\n", truncateHash(result.UserOpHash)))

	if result.Paymaster != "" {
		sb.WriteString(fmt.Sprintf("- **Paymaster:** %s\n", result.Paymaster))
	}

	sb.WriteString("\n_Gas fees were sponsored. No native token was deducted from your wallet._\n")

	return sb.String()
}
