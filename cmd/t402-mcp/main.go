// Command t402-mcp runs the t402 wallet MCP server over stdio.
//
// Environment variables:
//
//	T402_PRIVATE_KEY         - hex wallet private key (0x...)
//	T402_DEMO_MODE           - set to "true" to simulate transactions
//	T402_BUNDLER_URL         - ERC-4337 bundler endpoint for gasless payments
//	T402_PAYMASTER_URL       - ERC-4337 paymaster endpoint
//	T402_PAYMASTER_POLICY_ID - sponsorship policy, where supported
//	T402_RPC_<NETWORK>       - custom RPC URL per network (e.g. T402_RPC_BASE)
//	T402_SCAN_API_BASE_URL   - LayerZero Scan API override
//
// Example Claude Desktop configuration:
//
//	{
//	  "mcpServers": {
//	    "t402": {
//	      "command": "t402-mcp",
//	      "env": {"T402_DEMO_MODE": "true"}
//	    }
//	  }
//	}
package main

import (
	"context"
	"errors"
	"fmt"
	"os"
	"os/signal"
	"syscall"

	"github.com/t402-io/t402/go/config"
	"github.com/t402-io/t402/go/mcp"
)

func main() {
	ctx, stop := signal.NotifyContext(context.Background(), syscall.SIGINT, syscall.SIGTERM)
	defer stop()

	server := mcp.NewServer(config.FromEnv())
	if err := server.Run(ctx); err != nil && !errors.Is(err, context.Canceled) {
		fmt.Fprintf(os.Stderr, "t402-mcp: %v\n", err)
		os.Exit(1)
	}
}
