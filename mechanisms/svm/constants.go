package svm

import "time"

// SchemeExact is the exact payment scheme identifier.
const SchemeExact = "exact"

// Solana networks in CAIP-2 form. The reference is the first 32 characters
// of the cluster's genesis hash.
const (
	NetworkMainnet = "solana:5eykt4UsFv8P8NJdTREpY1vzqKqZKvdp"
	NetworkDevnet  = "solana:EtWTRABZaYq6iMfeYKouRu166VU2xqa1"
)

// USDC mint addresses.
const (
	USDCMainnetAddress = "EPjFWdd5AufqSSqeM2qN1xzybapC8G4wEGGkZwyTDt1v"
	USDCDevnetAddress  = "4zMMC9srt5Ri5X14GAgXhaHii3GnPAEERYPJgZJDncDU"
)

// Transaction construction parameters.
const (
	// TransferComputeUnits covers the fixed three-instruction shape:
	// compute limit, compute price, TransferChecked.
	TransferComputeUnits uint32 = 6500

	// DefaultComputeUnitPrice is the priority fee in micro-lamports per
	// compute unit.
	DefaultComputeUnitPrice uint64 = 1000
)

// Structural bounds on an accepted payment transaction: the two compute
// budget instructions plus the transfer, with up to three optional guard or
// memo instructions in between.
const (
	MinInstructions = 3
	MaxInstructions = 6
)

// Programs recognized inside a payment transaction beyond the token and
// compute budget programs.
const (
	// MemoProgramAddress is the SPL Memo program.
	MemoProgramAddress = "MemoSq4gqABAXKb96qnH8TysNcWxMyWCqXgDLGmfcHr"

	// LighthouseProgramAddress is the Lighthouse assertion program, used by
	// some wallets to guard balances around the transfer.
	LighthouseProgramAddress = "L2TExMFKdjpN9kozasaurPirfHy9P8sbXoAN1qA3S95"

	// SwigProgramAddress is the Swig smart-wallet program. Swig wallets wrap
	// the token transfer in a signV2 instruction with a compact encoding.
	SwigProgramAddress = "swigypWHEksbC64pWKwah1WTeh9JXwx8H1rJHLdbQMB"

	// Secp256r1PrecompileAddress verifies passkey signatures for Swig
	// transactions.
	Secp256r1PrecompileAddress = "Secp256r1SigVerify1111111111111111111111111"
)

// SwigSignV2Discriminator tags a Swig signV2 instruction.
const SwigSignV2Discriminator uint16 = 11

// TransferCheckedInstruction is the SPL Token instruction index for
// TransferChecked.
const TransferCheckedInstruction byte = 12

// Confirmation polling.
const (
	MaxConfirmAttempts = 30
	ConfirmRetryDelay  = 2 * time.Second
)

// NetworkConfigs maps CAIP-2 identifiers to cluster configuration.
var NetworkConfigs = map[string]NetworkConfig{
	NetworkMainnet: {
		CAIP2:  NetworkMainnet,
		Name:   "Solana Mainnet",
		RPCURL: "https://api.mainnet-beta.solana.com",
		DefaultAsset: AssetInfo{
			MintAddress: USDCMainnetAddress,
			Symbol:      "USDC",
			Name:        "USD Coin",
			Decimals:    6,
		},
		SupportedAssets: map[string]AssetInfo{
			"USDC": {
				MintAddress: USDCMainnetAddress,
				Symbol:      "USDC",
				Name:        "USD Coin",
				Decimals:    6,
			},
		},
	},
	NetworkDevnet: {
		CAIP2:   NetworkDevnet,
		Name:    "Solana Devnet",
		RPCURL:  "https://api.devnet.solana.com",
		Testnet: true,
		DefaultAsset: AssetInfo{
			MintAddress: USDCDevnetAddress,
			Symbol:      "USDC",
			Name:        "USD Coin (Devnet)",
			Decimals:    6,
		},
		SupportedAssets: map[string]AssetInfo{
			"USDC": {
				MintAddress: USDCDevnetAddress,
				Symbol:      "USDC",
				Name:        "USD Coin (Devnet)",
				Decimals:    6,
			},
		},
	},
}
