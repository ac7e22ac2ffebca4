// Package mcp exposes the t402 wallet as a Model Context Protocol server so
// agents can check balances, pay merchants, run gasless ERC-4337 payments and
// bridge USDT0 across chains.
package mcp

import (
	"context"
	"fmt"

	mcpsdk "github.com/modelcontextprotocol/go-sdk/mcp"

	"github.com/t402-io/t402/go/bridge"
	"github.com/t402-io/t402/go/config"
)

// ServerName and ServerVersion identify this server in the MCP handshake.
const (
	ServerName    = "t402-wallet"
	ServerVersion = "2.0.0"
)

// Server is the t402 wallet MCP server.
type Server struct {
	config *config.Config
}

// NewServer builds a server around the given configuration. A nil config is
// treated as empty, which leaves the server in read-only mode.
func NewServer(cfg *config.Config) *Server {
	if cfg == nil {
		cfg = &config.Config{}
	}
	return &Server{config: cfg}
}

// Build assembles the underlying MCP server with all wallet tools registered.
func (s *Server) Build() *mcpsdk.Server {
	server := mcpsdk.NewServer(&mcpsdk.Implementation{
		Name:    ServerName,
		Version: ServerVersion,
	}, nil)

	networks := make([]interface{}, 0, len(AllNetworks()))
	for _, network := range AllNetworks() {
		networks = append(networks, string(network))
	}
	gasless := make([]interface{}, 0, len(gaslessNetworks))
	for _, network := range gaslessNetworks {
		gasless = append(gasless, string(network))
	}
	bridgeable := make([]interface{}, 0, len(bridge.BridgeableChains()))
	for _, chain := range bridge.BridgeableChains() {
		bridgeable = append(bridgeable, chain)
	}

	addressProperty := map[string]interface{}{
		"type":        "string",
		"description": "Ethereum address (0x...)",
		"pattern":     "^0x[a-fA-F0-9]{40}$",
	}
	amountProperty := map[string]interface{}{
		"type":        "string",
		"description": "Amount in decimal token units (e.g. '10.5')",
		"pattern":     `^\d+(\.\d+)?$`,
	}
	tokenProperty := map[string]interface{}{
		"type":        "string",
		"description": "Token to send",
		"enum":        []interface{}{"USDC", "USDT", "USDT0"},
	}

	server.AddTool(&mcpsdk.Tool{
		Name:        "t402/getBalance",
		Description: "Get native and stablecoin balances for a wallet address on one network",
		InputSchema: objectSchema(map[string]interface{}{
			"address": addressProperty,
			"network": map[string]interface{}{
				"type":        "string",
				"description": "Network to query",
				"enum":        networks,
			},
		}, "address", "network"),
	}, s.handleGetBalance)

	server.AddTool(&mcpsdk.Tool{
		Name:        "t402/getAllBalances",
		Description: "Get native and stablecoin balances across every supported network",
		InputSchema: objectSchema(map[string]interface{}{
			"address": addressProperty,
		}, "address"),
	}, s.handleGetAllBalances)

	server.AddTool(&mcpsdk.Tool{
		Name:        "t402/pay",
		Description: "Send a stablecoin payment (USDC, USDT or USDT0) from the configured wallet",
		InputSchema: objectSchema(map[string]interface{}{
			"to":     addressProperty,
			"amount": amountProperty,
			"token":  tokenProperty,
			"network": map[string]interface{}{
				"type":        "string",
				"description": "Network to use",
				"enum":        networks,
			},
		}, "to", "amount", "token", "network"),
	}, s.handlePay)

	server.AddTool(&mcpsdk.Tool{
		Name:        "t402/payGasless",
		Description: "Send a stablecoin payment through ERC-4337 account abstraction with sponsored gas",
		InputSchema: objectSchema(map[string]interface{}{
			"to":     addressProperty,
			"amount": amountProperty,
			"token":  tokenProperty,
			"network": map[string]interface{}{
				"type":        "string",
				"description": "Network to use (must support ERC-4337)",
				"enum":        gasless,
			},
		}, "to", "amount", "token", "network"),
	}, s.handlePayGasless)

	server.AddTool(&mcpsdk.Tool{
		Name:        "t402/getBridgeFee",
		Description: "Quote the LayerZero fee for bridging USDT0 between chains",
		InputSchema: objectSchema(map[string]interface{}{
			"fromChain": map[string]interface{}{
				"type":        "string",
				"description": "Source chain",
				"enum":        bridgeable,
			},
			"toChain": map[string]interface{}{
				"type":        "string",
				"description": "Destination chain",
				"enum":        bridgeable,
			},
			"amount":    amountProperty,
			"recipient": addressProperty,
		}, "fromChain", "toChain", "amount", "recipient"),
	}, s.handleGetBridgeFee)

	server.AddTool(&mcpsdk.Tool{
		Name:        "t402/bridge",
		Description: "Bridge USDT0 between chains over the LayerZero OFT mesh",
		InputSchema: objectSchema(map[string]interface{}{
			"fromChain": map[string]interface{}{
				"type":        "string",
				"description": "Source chain",
				"enum":        bridgeable,
			},
			"toChain": map[string]interface{}{
				"type":        "string",
				"description": "Destination chain",
				"enum":        bridgeable,
			},
			"amount":    amountProperty,
			"recipient": addressProperty,
		}, "fromChain", "toChain", "amount", "recipient"),
	}, s.handleBridge)

	server.AddTool(&mcpsdk.Tool{
		Name:        "t402/bridgeStatus",
		Description: "Track a bridge transfer by its LayerZero message GUID",
		InputSchema: objectSchema(map[string]interface{}{
			"messageGuid": map[string]interface{}{
				"type":        "string",
				"description": "LayerZero message GUID from a bridge result",
				"pattern":     "^0x[a-fA-F0-9]{64}$",
			},
		}, "messageGuid"),
	}, s.handleBridgeStatus)

	return server
}

// Run serves the wallet tools over stdio until ctx is cancelled.
func (s *Server) Run(ctx context.Context) error {
	return s.Build().Run(ctx, &mcpsdk.StdioTransport{})
}

func objectSchema(properties map[string]interface{}, required ...string) map[string]interface{} {
	return map[string]interface{}{
		"type":       "object",
		"properties": properties,
		"required":   required,
	}
}

func textResult(text string) *mcpsdk.CallToolResult {
	return &mcpsdk.CallToolResult{
		Content: []mcpsdk.Content{&mcpsdk.TextContent{Text: text}},
	}
}

func errorResult(format string, args ...interface{}) *mcpsdk.CallToolResult {
	return &mcpsdk.CallToolResult{
		Content: []mcpsdk.Content{&mcpsdk.TextContent{Text: "Error: " + fmt.Sprintf(format, args...)}},
		IsError: true,
	}
}
