package mcp

import (
	"bytes"
	"context"
	"encoding/json"
	"fmt"
	"math/big"
	"strings"
	"sync"
	"time"

	"github.com/ethereum/go-ethereum"
	"github.com/ethereum/go-ethereum/accounts/abi"
	"github.com/ethereum/go-ethereum/common"
	"github.com/ethereum/go-ethereum/ethclient"
	mcpsdk "github.com/modelcontextprotocol/go-sdk/mcp"

	"github.com/t402-io/t402/go/mechanisms/evm"
	evmsigner "github.com/t402-io/t402/go/signers/evm"
)

// paymentTimeout bounds the wait for a payment transaction to mine.
const paymentTimeout = 2 * time.Minute

func (s *Server) rpcURL(network Network) string {
	return s.config.RPCURL(string(network), defaultRPCURLs[network])
}

func decodeInput(req *mcpsdk.CallToolRequest, target interface{}) error {
	if req.Params.Arguments == nil {
		return fmt.Errorf("missing arguments")
	}
	return json.Unmarshal(req.Params.Arguments, target)
}

func (s *Server) handleGetBalance(ctx context.Context, req *mcpsdk.CallToolRequest) (*mcpsdk.CallToolResult, error) {
	var input GetBalanceInput
	if err := decodeInput(req, &input); err != nil {
		return errorResult("invalid input: %v", err), nil
	}
	if !IsValidNetwork(input.Network) {
		return errorResult("invalid network: %s", input.Network), nil
	}
	if !common.IsHexAddress(input.Address) {
		return errorResult("invalid address: %s", input.Address), nil
	}

	result := s.queryNetworkBalance(ctx, Network(input.Network), input.Address)
	return textResult(formatBalanceResult(result)), nil
}

func (s *Server) handleGetAllBalances(ctx context.Context, req *mcpsdk.CallToolRequest) (*mcpsdk.CallToolResult, error) {
	var input GetAllBalancesInput
	if err := decodeInput(req, &input); err != nil {
		return errorResult("invalid input: %v", err), nil
	}
	if !common.IsHexAddress(input.Address) {
		return errorResult("invalid address: %s", input.Address), nil
	}

	networks := AllNetworks()
	results := make([]NetworkBalance, len(networks))

	var wg sync.WaitGroup
	for i, network := range networks {
		wg.Add(1)
		go func(idx int, network Network) {
			defer wg.Done()
			results[idx] = s.queryNetworkBalance(ctx, network, input.Address)
		}(i, network)
	}
	wg.Wait()

	return textResult(formatAllBalancesResult(results)), nil
}

func (s *Server) queryNetworkBalance(ctx context.Context, network Network, address string) NetworkBalance {
	result := NetworkBalance{
		Network: string(network),
		Tokens:  []BalanceInfo{},
	}

	client, err := ethclient.DialContext(ctx, s.rpcURL(network))
	if err != nil {
		result.Error = fmt.Sprintf("connection failed: %v", err)
		return result
	}
	defer client.Close()

	nativeBalance, err := client.BalanceAt(ctx, common.HexToAddress(address), nil)
	if err != nil {
		result.Error = fmt.Sprintf("failed to get balance: %v", err)
		return result
	}
	result.Native = BalanceInfo{
		Token:   nativeSymbols[network],
		Balance: FormatTokenAmount(nativeBalance, NativeDecimals),
		Raw:     nativeBalance.String(),
	}

	for _, token := range []Token{TokenUSDC, TokenUSDT, TokenUSDT0} {
		tokenAddr, ok := TokenAddress(network, token)
		if !ok {
			continue
		}
		balance, err := erc20Balance(ctx, client, tokenAddr, address)
		if err != nil || balance.Sign() == 0 {
			continue
		}
		result.Tokens = append(result.Tokens, BalanceInfo{
			Token:   string(token),
			Balance: FormatTokenAmount(balance, TokenDecimals),
			Raw:     balance.String(),
		})
	}

	return result
}

func (s *Server) handlePay(ctx context.Context, req *mcpsdk.CallToolRequest) (*mcpsdk.CallToolResult, error) {
	var input PayInput
	if err := decodeInput(req, &input); err != nil {
		return errorResult("invalid input: %v", err), nil
	}
	if !IsValidNetwork(input.Network) {
		return errorResult("invalid network: %s", input.Network), nil
	}
	network := Network(input.Network)

	tokenAddr, ok := TokenAddress(network, Token(input.Token))
	if !ok {
		return errorResult("token %s not supported on %s", input.Token, input.Network), nil
	}
	amount, err := ParseTokenAmount(input.Amount, TokenDecimals)
	if err != nil {
		return errorResult("invalid amount: %v", err), nil
	}
	if s.config.PrivateKey == "" && !s.config.DemoMode {
		return errorResult("private key not configured: set T402_PRIVATE_KEY or enable T402_DEMO_MODE"), nil
	}

	if s.config.DemoMode {
		return textResult(formatPaymentResult(PaymentResult{
			TxHash:      demoTxHash,
			From:        demoAddress,
			To:          input.To,
			Amount:      input.Amount,
			Token:       input.Token,
			Network:     input.Network,
			ExplorerURL: ExplorerTxURL(network, demoTxHash),
			DemoMode:    true,
		})), nil
	}

	client, err := ethclient.DialContext(ctx, s.rpcURL(network))
	if err != nil {
		return errorResult("failed to connect to %s: %v", input.Network, err), nil
	}
	defer client.Close()

	signer, err := evmsigner.NewBridgeSignerWithClient(s.config.PrivateKey, client)
	if err != nil {
		return errorResult("invalid private key: %v", err), nil
	}

	balance, err := signer.GetBalance(ctx, tokenAddr)
	if err != nil {
		return errorResult("failed to check balance: %v", err), nil
	}
	if balance.Cmp(amount) < 0 {
		return errorResult("insufficient balance: have %s, need %s %s",
			FormatTokenAmount(balance, TokenDecimals), input.Amount, input.Token), nil
	}

	txHash, err := signer.WriteContract(ctx, tokenAddr, evm.ERC20TransferABI, "transfer",
		nil, common.HexToAddress(input.To), amount)
	if err != nil {
		return errorResult("transaction failed: %v", err), nil
	}

	waitCtx, cancel := context.WithTimeout(ctx, paymentTimeout)
	defer cancel()
	receipt, err := signer.WaitForTransactionReceipt(waitCtx, txHash)
	if err != nil {
		return errorResult("transaction %s submitted but not confirmed: %v", txHash, err), nil
	}
	if receipt.Status != 1 {
		return errorResult("transaction reverted: %s", txHash), nil
	}

	return textResult(formatPaymentResult(PaymentResult{
		TxHash:      txHash,
		From:        signer.Address(),
		To:          input.To,
		Amount:      input.Amount,
		Token:       input.Token,
		Network:     input.Network,
		ExplorerURL: ExplorerTxURL(network, txHash),
	})), nil
}

// erc20Balance reads balanceOf through a bare ethclient. Balance queries do
// not need a key, so they bypass the signer types.
func erc20Balance(ctx context.Context, client *ethclient.Client, tokenAddress, ownerAddress string) (*big.Int, error) {
	contractABI, err := abi.JSON(bytes.NewReader(evm.ERC20BalanceOfABI))
	if err != nil {
		return nil, err
	}
	data, err := contractABI.Pack("balanceOf", common.HexToAddress(ownerAddress))
	if err != nil {
		return nil, err
	}

	tokenAddr := common.HexToAddress(tokenAddress)
	raw, err := client.CallContract(ctx, ethereum.CallMsg{To: &tokenAddr, Data: data}, nil)
	if err != nil {
		return nil, err
	}
	if len(raw) == 0 {
		return big.NewInt(0), nil
	}

	outputs, err := contractABI.Unpack("balanceOf", raw)
	if err != nil {
		return nil, err
	}
	balance, ok := outputs[0].(*big.Int)
	if !ok {
		return nil, fmt.Errorf("unexpected balanceOf result type %T", outputs[0])
	}
	return balance, nil
}

// Demo-mode placeholders. They are visibly fake so an agent cannot mistake a
// simulated transfer for a real one.
const (
	demoTxHash  = "0x" + "0000000000000000000000000000000000000000000000000000000000000000"
	demoAddress = "0x0000000000000000000000000000000000000000"
	demoGUID    = "0x" + "aaaaaaaaaaaaaaaaaaaaaaaaaaaaaaaaaaaaaaaaaaaaaaaaaaaaaaaaaaaaaaaa"
)

func formatBalanceResult(result NetworkBalance) string {
	var sb strings.Builder

	sb.WriteString(fmt.Sprintf("## Balance on %s\n\n", result.Network))

	if result.Error != "" {
		sb.WriteString(fmt.Sprintf("Error: %s\n", result.Error))
		return sb.String()
	}

	sb.WriteString(fmt.Sprintf("**Native (%s):** %s\n\n", result.Native.Token, result.Native.Balance))

	if len(result.Tokens) > 0 {
		sb.WriteString("**Tokens:**\n")
		for _, token := range result.Tokens {
			sb.WriteString(fmt.Sprintf("- %s: %s\n", token.Token, token.Balance))
		}
	} else {
		sb.WriteString("No token balances found.\n")
	}

	return sb.String()
}

func formatAllBalancesResult(results []NetworkBalance) string {
	var sb strings.Builder

	sb.WriteString("## Balances Across All Networks\n\n")

	totals := map[string]*big.Int{
		string(TokenUSDC):  big.NewInt(0),
		string(TokenUSDT):  big.NewInt(0),
		string(TokenUSDT0): big.NewInt(0),
	}

	for _, result := range results {
		if result.Error != "" {
			sb.WriteString(fmt.Sprintf("### %s\nUnavailable: %s\n\n", result.Network, result.Error))
			continue
		}

		sb.WriteString(fmt.Sprintf("### %s\n", result.Network))
		sb.WriteString(fmt.Sprintf("- Native (%s): %s\n", result.Native.Token, result.Native.Balance))

		for _, token := range result.Tokens {
			sb.WriteString(fmt.Sprintf("- %s: %s\n", token.Token, token.Balance))

			if total, ok := totals[token.Token]; ok {
				raw := new(big.Int)
				if _, ok := raw.SetString(token.Raw, 10); ok {
					total.Add(total, raw)
				}
			}
		}
		sb.WriteString("\n")
	}

	sb.WriteString("### Totals\n")
	for _, token := range []Token{TokenUSDC, TokenUSDT, TokenUSDT0} {
		if total := totals[string(token)]; total.Sign() > 0 {
			sb.WriteString(fmt.Sprintf("- %s: %s\n", token, FormatTokenAmount(total, TokenDecimals)))
		}
	}

	return sb.String()
}

func formatPaymentResult(result PaymentResult) string {
	var sb strings.Builder

	if result.DemoMode {
		sb.WriteString("## Payment (Demo Mode)\n\n")
		sb.WriteString("This is a simulated transaction. No tokens were transferred.\n\n")
	} else {
		sb.WriteString("## Payment Successful\n\n")
	}

	sb.WriteString(fmt.Sprintf("- **Amount:** %s %s\n", result.Amount, result.Token))
	sb.WriteString(fmt.Sprintf("- **To:** %s\n", result.To))
	sb.WriteString(fmt.Sprintf("- **Network:** %s\n", result.Network))
	sb.WriteString(fmt.Sprintf("- **Transaction:** [%s](%s)\n", truncateHash(result.TxHash), result.ExplorerURL))

	return sb.String()
}

func truncateHash(hash string) string {
	if len(hash) <= 16 {
		return hash
	}
	return hash[:8] + "..." + hash[len(hash)-6:]
}
