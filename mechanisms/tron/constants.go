package tron

import "time"

const (
	// SchemeExact is the scheme identifier for exact payments.
	SchemeExact = "exact"

	// DefaultDecimals is the decimal count for USDT on TRON.
	DefaultDecimals = 6

	// CAIP-2 network identifiers.
	NetworkMainnet = "tron:mainnet"
	NetworkNile    = "tron:nile"
	NetworkShasta  = "tron:shasta"

	// TRC-20 function selectors.
	TRC20TransferSelector  = "a9059cbb"
	TRC20ApproveSelector   = "095ea7b3"
	TRC20BalanceOfSelector = "70a08231"

	// Fee limits in SUN (1 TRX = 1,000,000 SUN).
	DefaultFeeLimit = 100_000_000
	MinFeeLimit     = 10_000_000
	MaxFeeLimit     = 1_000_000_000
	SunPerTrx       = 1_000_000

	// DefaultValidityDuration bounds how long a signed transaction stays
	// valid.
	DefaultValidityDuration = 3600
	// MinValidityBuffer is the remaining validity required at verify time so
	// the transaction can still be broadcast and confirmed.
	MinValidityBuffer = 30

	// Transaction confirmation polling.
	MaxConfirmAttempts = 60
	ConfirmRetryDelay  = 1 * time.Second

	// Mainnet addresses are base58check, 34 characters, T prefix.
	TronAddressPrefix = "T"
	TronAddressLength = 34

	// USDT TRC-20 contracts.
	USDTMainnetAddress = "TR7NHqjeKQxGTCi8q8ZY4pL8otSzgjLj6t"
	USDTNileAddress    = "TXYZopYRdj2D9XRtbG411XZZ3kM5VkAeBf"
	USDTShastaAddress  = "TG3XXyExBkPp9nzdajDZsozEu4BkaSJozs"
)

// NetworkConfigs maps CAIP-2 identifiers to network configurations.
var NetworkConfigs = map[string]NetworkConfig{
	NetworkMainnet: {
		Name:     "TRON Mainnet",
		CAIP2:    NetworkMainnet,
		Endpoint: "https://api.trongrid.io",
		DefaultAsset: AssetInfo{
			ContractAddress: USDTMainnetAddress,
			Symbol:          "USDT",
			Name:            "Tether USD",
			Decimals:        DefaultDecimals,
		},
		SupportedAssets: map[string]AssetInfo{
			"USDT": {
				ContractAddress: USDTMainnetAddress,
				Symbol:          "USDT",
				Name:            "Tether USD",
				Decimals:        DefaultDecimals,
			},
		},
	},
	NetworkNile: {
		Name:     "TRON Nile Testnet",
		CAIP2:    NetworkNile,
		Endpoint: "https://api.nileex.io",
		DefaultAsset: AssetInfo{
			ContractAddress: USDTNileAddress,
			Symbol:          "USDT",
			Name:            "Tether USD (Nile)",
			Decimals:        DefaultDecimals,
		},
		SupportedAssets: map[string]AssetInfo{
			"USDT": {
				ContractAddress: USDTNileAddress,
				Symbol:          "USDT",
				Name:            "Tether USD (Nile)",
				Decimals:        DefaultDecimals,
			},
		},
	},
	NetworkShasta: {
		Name:     "TRON Shasta Testnet",
		CAIP2:    NetworkShasta,
		Endpoint: "https://api.shasta.trongrid.io",
		DefaultAsset: AssetInfo{
			ContractAddress: USDTShastaAddress,
			Symbol:          "USDT",
			Name:            "Tether USD (Shasta)",
			Decimals:        DefaultDecimals,
		},
		SupportedAssets: map[string]AssetInfo{
			"USDT": {
				ContractAddress: USDTShastaAddress,
				Symbol:          "USDT",
				Name:            "Tether USD (Shasta)",
				Decimals:        DefaultDecimals,
			},
		},
	},
}
