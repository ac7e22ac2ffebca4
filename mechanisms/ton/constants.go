package ton

import "time"

const (
	// SchemeExact is the scheme identifier for exact jetton payments.
	SchemeExact = "exact"

	// DefaultDecimals is the decimal count for USDT jettons.
	DefaultDecimals = 6

	// CAIP-2 network identifiers.
	NetworkMainnet = "ton:mainnet"
	NetworkTestnet = "ton:testnet"

	// Jetton operation codes (TEP-74).
	JettonTransferOp             = 0x0f8a7ea5
	JettonInternalTransferOp     = 0x178d4519
	JettonTransferNotificationOp = 0x7362d09c
	JettonBurnOp                 = 0x595f07bc

	// Gas attachments in nanoTON. The jetton wallet refunds the unused
	// remainder to the sender.
	DefaultJettonTransferTon = 100_000_000
	DefaultForwardTon        = 1
	MinJettonTransferTon     = 50_000_000
	MaxJettonTransferTon     = 500_000_000

	// DefaultValidityDuration bounds how long a signed message stays valid.
	DefaultValidityDuration = 3600
	// MinValidityBuffer is the remaining validity required at verify time so
	// the message can still be broadcast and confirmed.
	MinValidityBuffer = 30

	// Seqno confirmation polling.
	MaxConfirmAttempts = 60
	ConfirmRetryDelay  = 1 * time.Second

	// USDT jetton master contracts.
	USDTMainnetAddress = "EQCxE6mUtQJKFnGfaROTKOt1lZbDiiX1kCixRv7Nw2Id_sDs"
	USDTTestnetAddress = "kQBqSpvo4S87mX9tTc4FX3Sfqf4uSp3Tx-Fz4RBUfTRWBx"
)

// NetworkConfigs maps CAIP-2 identifiers to network configurations.
var NetworkConfigs = map[string]NetworkConfig{
	NetworkMainnet: {
		Name:     "TON Mainnet",
		CAIP2:    NetworkMainnet,
		Endpoint: "https://toncenter.com/api/v2/jsonRPC",
		DefaultAsset: AssetInfo{
			MasterAddress: USDTMainnetAddress,
			Symbol:        "USDT",
			Name:          "Tether USD",
			Decimals:      DefaultDecimals,
		},
		SupportedAssets: map[string]AssetInfo{
			"USDT": {
				MasterAddress: USDTMainnetAddress,
				Symbol:        "USDT",
				Name:          "Tether USD",
				Decimals:      DefaultDecimals,
			},
		},
	},
	NetworkTestnet: {
		Name:     "TON Testnet",
		CAIP2:    NetworkTestnet,
		Endpoint: "https://testnet.toncenter.com/api/v2/jsonRPC",
		DefaultAsset: AssetInfo{
			MasterAddress: USDTTestnetAddress,
			Symbol:        "USDT",
			Name:          "Tether USD (Testnet)",
			Decimals:      DefaultDecimals,
		},
		SupportedAssets: map[string]AssetInfo{
			"USDT": {
				MasterAddress: USDTTestnetAddress,
				Symbol:        "USDT",
				Name:          "Tether USD (Testnet)",
				Decimals:      DefaultDecimals,
			},
		},
	},
}
