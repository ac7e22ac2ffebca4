// Package config holds the explicit configuration shared by the MCP wallet
// server and the command-line entrypoints. Every field is optional: public
// defaults apply where one exists, and features needing credentials report
// their absence at call time instead of load time.
package config

import (
	"os"
	"strings"
)

// Config is the wallet-side configuration.
type Config struct {
	// PrivateKey is the hex-encoded wallet key, with or without 0x prefix.
	// Empty means read-only operation (balances, quotes, tracking).
	PrivateKey string

	// DemoMode simulates payments and bridges without touching a chain.
	DemoMode bool

	// BundlerURL is the ERC-4337 bundler endpoint for gasless payments.
	BundlerURL string

	// PaymasterURL is the ERC-4337 paymaster endpoint; empty means the
	// bundler must accept unsponsored operations.
	PaymasterURL string

	// PaymasterPolicyID selects a sponsorship policy where the paymaster
	// supports them.
	PaymasterPolicyID string

	// RPCOverrides maps network name to a custom RPC endpoint. Networks not
	// listed use public defaults.
	RPCOverrides map[string]string

	// FacilitatorURL overrides the public facilitator.
	FacilitatorURL string

	// ScanAPIBaseURL overrides the LayerZero Scan API used for bridge
	// message tracking.
	ScanAPIBaseURL string
}

// FromEnv reads configuration from T402_* environment variables. Per-network
// RPC overrides use T402_RPC_<NETWORK>, e.g. T402_RPC_BASE.
func FromEnv() *Config {
	config := &Config{
		PrivateKey:        os.Getenv("T402_PRIVATE_KEY"),
		DemoMode:          os.Getenv("T402_DEMO_MODE") == "true",
		BundlerURL:        os.Getenv("T402_BUNDLER_URL"),
		PaymasterURL:      os.Getenv("T402_PAYMASTER_URL"),
		PaymasterPolicyID: os.Getenv("T402_PAYMASTER_POLICY_ID"),
		FacilitatorURL:    os.Getenv("T402_FACILITATOR_URL"),
		ScanAPIBaseURL:    os.Getenv("T402_SCAN_API_BASE_URL"),
		RPCOverrides:      make(map[string]string),
	}

	const rpcPrefix = "T402_RPC_"
	for _, entry := range os.Environ() {
		if !strings.HasPrefix(entry, rpcPrefix) {
			continue
		}
		key, value, ok := strings.Cut(strings.TrimPrefix(entry, rpcPrefix), "=")
		if !ok || value == "" {
			continue
		}
		config.RPCOverrides[strings.ToLower(key)] = value
	}

	return config
}

// RPCURL returns the override for a network, or the given default.
func (c *Config) RPCURL(network, defaultURL string) string {
	if c != nil && c.RPCOverrides != nil {
		if url, ok := c.RPCOverrides[strings.ToLower(network)]; ok && url != "" {
			return url
		}
	}
	return defaultURL
}
