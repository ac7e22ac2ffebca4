package mcp

import (
	"bytes"
	"context"
	"errors"
	"fmt"
	"math/big"
	"strings"

	"github.com/ethereum/go-ethereum"
	"github.com/ethereum/go-ethereum/accounts/abi"
	"github.com/ethereum/go-ethereum/common"
	"github.com/ethereum/go-ethereum/ethclient"
	mcpsdk "github.com/modelcontextprotocol/go-sdk/mcp"

	"github.com/t402-io/t402/go/bridge"
	evmsigner "github.com/t402-io/t402/go/signers/evm"
)

// layerZeroScanTxURL is the human-facing tracking page, distinct from the
// Scan API the status tool queries.
const layerZeroScanTxURL = "https://layerzeroscan.com/tx/"

func (s *Server) scanClient() *bridge.LayerZeroScanClient {
	if s.config.ScanAPIBaseURL != "" {
		return bridge.NewLayerZeroScanClientWithURL(s.config.ScanAPIBaseURL)
	}
	return bridge.NewLayerZeroScanClient()
}

func validateBridgeChains(fromChain, toChain string) error {
	if !bridge.SupportsBridging(fromChain) {
		return fmt.Errorf("chain %s does not support USDT0 bridging", fromChain)
	}
	if !bridge.SupportsBridging(toChain) {
		return fmt.Errorf("chain %s does not support USDT0 bridging", toChain)
	}
	if fromChain == toChain {
		return errors.New("source and destination chains must be different")
	}
	return nil
}

func (s *Server) handleGetBridgeFee(ctx context.Context, req *mcpsdk.CallToolRequest) (*mcpsdk.CallToolResult, error) {
	var input GetBridgeFeeInput
	if err := decodeInput(req, &input); err != nil {
		return errorResult("invalid input: %v", err), nil
	}
	if err := validateBridgeChains(input.FromChain, input.ToChain); err != nil {
		return errorResult("%v", err), nil
	}
	amount, err := ParseTokenAmount(input.Amount, TokenDecimals)
	if err != nil {
		return errorResult("invalid amount: %v", err), nil
	}

	if s.config.DemoMode {
		return textResult(formatBridgeFeeResult(BridgeFeeResult{
			NativeFee:     "0.001",
			NativeSymbol:  nativeSymbols[Network(input.FromChain)],
			FromChain:     input.FromChain,
			ToChain:       input.ToChain,
			Amount:        FormatTokenAmount(amount, TokenDecimals),
			EstimatedTime: bridge.EstimatedBridgeTimeSeconds,
		})), nil
	}

	client, err := ethclient.DialContext(ctx, s.rpcURL(Network(input.FromChain)))
	if err != nil {
		return errorResult("failed to connect to %s: %v", input.FromChain, err), nil
	}
	defer client.Close()

	// Fee quotes only read the OFT contract, so no key is needed.
	usdt0, err := bridge.NewUsdt0Bridge(readOnlySigner{client: client}, input.FromChain)
	if err != nil {
		return errorResult("%v", err), nil
	}
	quote, err := usdt0.Quote(ctx, &bridge.QuoteParams{
		FromChain: input.FromChain,
		ToChain:   input.ToChain,
		Amount:    amount,
		Recipient: input.Recipient,
	})
	if err != nil {
		return errorResult("failed to get bridge fee: %v", err), nil
	}

	return textResult(formatBridgeFeeResult(BridgeFeeResult{
		NativeFee:     FormatTokenAmount(quote.NativeFee, NativeDecimals),
		NativeSymbol:  nativeSymbols[Network(input.FromChain)],
		FromChain:     input.FromChain,
		ToChain:       input.ToChain,
		Amount:        FormatTokenAmount(amount, TokenDecimals),
		EstimatedTime: quote.EstimatedSeconds,
	})), nil
}

func (s *Server) handleBridge(ctx context.Context, req *mcpsdk.CallToolRequest) (*mcpsdk.CallToolResult, error) {
	var input BridgeInput
	if err := decodeInput(req, &input); err != nil {
		return errorResult("invalid input: %v", err), nil
	}
	if err := validateBridgeChains(input.FromChain, input.ToChain); err != nil {
		return errorResult("%v", err), nil
	}
	amount, err := ParseTokenAmount(input.Amount, TokenDecimals)
	if err != nil {
		return errorResult("invalid amount: %v", err), nil
	}
	if s.config.PrivateKey == "" && !s.config.DemoMode {
		return errorResult("private key not configured: set T402_PRIVATE_KEY or enable T402_DEMO_MODE"), nil
	}

	if s.config.DemoMode {
		return textResult(formatBridgeResult(BridgeResult{
			TxHash:        demoTxHash,
			MessageGUID:   demoGUID,
			FromChain:     input.FromChain,
			ToChain:       input.ToChain,
			Amount:        input.Amount,
			ExplorerURL:   ExplorerTxURL(Network(input.FromChain), demoTxHash),
			TrackingURL:   layerZeroScanTxURL + demoGUID,
			EstimatedTime: bridge.EstimatedBridgeTimeSeconds,
			DemoMode:      true,
		})), nil
	}

	signer, err := evmsigner.NewBridgeSigner(s.config.PrivateKey, s.rpcURL(Network(input.FromChain)))
	if err != nil {
		return errorResult("%v", err), nil
	}
	usdt0, err := bridge.NewUsdt0Bridge(signer, input.FromChain)
	if err != nil {
		return errorResult("%v", err), nil
	}

	result, err := usdt0.Send(ctx, &bridge.SendParams{
		QuoteParams: bridge.QuoteParams{
			FromChain: input.FromChain,
			ToChain:   input.ToChain,
			Amount:    amount,
			Recipient: input.Recipient,
		},
	})
	if err != nil {
		return errorResult("bridge failed: %v", err), nil
	}

	return textResult(formatBridgeResult(BridgeResult{
		TxHash:        result.TxHash,
		MessageGUID:   result.MessageGUID,
		FromChain:     result.FromChain,
		ToChain:       result.ToChain,
		Amount:        FormatTokenAmount(result.AmountSent, TokenDecimals),
		ExplorerURL:   ExplorerTxURL(Network(input.FromChain), result.TxHash),
		TrackingURL:   layerZeroScanTxURL + result.MessageGUID,
		EstimatedTime: result.EstimatedSeconds,
	})), nil
}

func (s *Server) handleBridgeStatus(ctx context.Context, req *mcpsdk.CallToolRequest) (*mcpsdk.CallToolResult, error) {
	var input BridgeStatusInput
	if err := decodeInput(req, &input); err != nil {
		return errorResult("invalid input: %v", err), nil
	}
	if input.MessageGUID == "" {
		return errorResult("messageGuid is required"), nil
	}

	if s.config.DemoMode {
		return textResult(formatBridgeStatusResult(BridgeStatusResult{
			MessageGUID: input.MessageGUID,
			Status:      string(bridge.StatusDelivered),
			SrcTxHash:   demoTxHash,
			DstTxHash:   demoTxHash,
			TrackingURL: layerZeroScanTxURL + input.MessageGUID,
		})), nil
	}

	message, err := s.scanClient().GetMessage(ctx, input.MessageGUID)
	if err != nil {
		if errors.Is(err, bridge.ErrMessageNotFound) {
			return errorResult("message %s not indexed yet, try again shortly", input.MessageGUID), nil
		}
		return errorResult("failed to track message: %v", err), nil
	}

	return textResult(formatBridgeStatusResult(BridgeStatusResult{
		MessageGUID: message.GUID,
		Status:      string(message.Status),
		SrcTxHash:   message.SrcTxHash,
		DstTxHash:   message.DstTxHash,
		TrackingURL: layerZeroScanTxURL + message.GUID,
	})), nil
}

// readOnlySigner adapts a bare ethclient to bridge.Signer for quote calls.
// Anything that would move funds reports the missing key.
type readOnlySigner struct {
	client *ethclient.Client
}

func (r readOnlySigner) Address() string {
	return common.Address{}.Hex()
}

func (r readOnlySigner) ReadContract(
	ctx context.Context,
	contractAddress string,
	abiBytes []byte,
	functionName string,
	args ...interface{},
) (interface{}, error) {
	contractABI, err := abi.JSON(bytes.NewReader(abiBytes))
	if err != nil {
		return nil, fmt.Errorf("failed to parse ABI: %w", err)
	}
	data, err := contractABI.Pack(functionName, args...)
	if err != nil {
		return nil, fmt.Errorf("failed to pack %s call: %w", functionName, err)
	}

	addr := common.HexToAddress(contractAddress)
	raw, err := r.client.CallContract(ctx, ethereum.CallMsg{To: &addr, Data: data}, nil)
	if err != nil {
		return nil, fmt.Errorf("contract call failed: %w", err)
	}

	outputs, err := contractABI.Unpack(functionName, raw)
	if err != nil {
		return nil, fmt.Errorf("failed to unpack %s result: %w", functionName, err)
	}
	switch len(outputs) {
	case 0:
		return nil, nil
	case 1:
		return outputs[0], nil
	default:
		return outputs, nil
	}
}

func (r readOnlySigner) WriteContract(
	ctx context.Context,
	contractAddress string,
	abiBytes []byte,
	functionName string,
	value *big.Int,
	args ...interface{},
) (string, error) {
	return "", errors.New("private key required for write operations")
}

func (r readOnlySigner) WaitForTransactionReceipt(ctx context.Context, txHash string) (*bridge.TransactionReceipt, error) {
	return nil, errors.New("private key required for write operations")
}

func formatBridgeFeeResult(result BridgeFeeResult) string {
	var sb strings.Builder

	sb.WriteString("## Bridge Fee Quote\n\n")
	sb.WriteString(fmt.Sprintf("- **From:** %s\n", result.FromChain))
	sb.WriteString(fmt.Sprintf("- **To:** %s\n", result.ToChain))
	sb.WriteString(fmt.Sprintf("- **Amount:** %s USDT0\n", result.Amount))
	sb.WriteString(fmt.Sprintf("- **Fee:** %s %s\n", result.NativeFee, result.NativeSymbol))
	sb.WriteString(fmt.Sprintf("- **Estimated Time:** ~%d seconds\n", result.EstimatedTime))

	return sb.String()
}

func formatBridgeResult(result BridgeResult) string {
	var sb strings.Builder

	if result.DemoMode {
		sb.WriteString("## Bridge (Demo Mode)\n\n")
		sb.WriteString("This is a simulated bridge. No tokens were transferred.\n\n")
	} else {
		sb.WriteString("## Bridge Initiated\n\n")
	}

	sb.WriteString(fmt.Sprintf("- **Amount:** %s USDT0\n", result.Amount))
	sb.WriteString(fmt.Sprintf("- **From:** %s\n", result.FromChain))
	sb.WriteString(fmt.Sprintf("- **To:** %s\n", result.ToChain))
	sb.WriteString(fmt.Sprintf("- **Transaction:** [%s](%s)\n", truncateHash(result.TxHash), result.ExplorerURL))
	sb.WriteString(fmt.Sprintf("- **Track:** [LayerZero Scan](%s)\n", result.TrackingURL))
	sb.WriteString(fmt.Sprintf("- **Estimated Delivery:** ~%d seconds\n", result.EstimatedTime))

	return sb.String()
}

func formatBridgeStatusResult(result BridgeStatusResult) string {
	var sb strings.Builder

	sb.WriteString("## Bridge Status\n\n")
	sb.WriteString(fmt.Sprintf("- **Message:** %s\n", truncateHash(result.MessageGUID)))
	sb.WriteString(fmt.Sprintf("- **Status:** %s\n", result.Status))
	sb.WriteString(fmt.Sprintf("- **Source Tx:** %s\n", truncateHash(result.SrcTxHash)))
	if result.DstTxHash != "" {
		sb.WriteString(fmt.Sprintf("- **Destination Tx:** %s\n", truncateHash(result.DstTxHash)))
	}
	sb.WriteString(fmt.Sprintf("- **Track:** [LayerZero Scan](%s)\n", result.TrackingURL))

	return sb.String()
}
