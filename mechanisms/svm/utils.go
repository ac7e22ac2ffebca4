package svm

import (
	"encoding/base64"
	"fmt"
	"math"
	"strconv"
	"strings"

	bin "github.com/gagliardetto/binary"
	solana "github.com/gagliardetto/solana-go"
)

// NormalizeNetwork maps shorthand cluster names onto CAIP-2 identifiers.
func NormalizeNetwork(network string) (string, error) {
	if _, ok := NetworkConfigs[network]; ok {
		return network, nil
	}

	switch strings.ToLower(network) {
	case "solana", "solana-mainnet", "mainnet":
		return NetworkMainnet, nil
	case "solana-devnet", "devnet":
		return NetworkDevnet, nil
	}
	return "", fmt.Errorf("unsupported Solana network: %s", network)
}

// GetNetworkConfig returns the configuration for a network.
func GetNetworkConfig(network string) (*NetworkConfig, error) {
	caip2, err := NormalizeNetwork(network)
	if err != nil {
		return nil, err
	}
	config := NetworkConfigs[caip2]
	return &config, nil
}

// GetAssetInfo resolves an asset by mint address or symbol. An address
// outside the known set still resolves, with 6 decimals, so custom SPL
// tokens work without registry changes.
func GetAssetInfo(network string, assetSymbolOrAddress string) (*AssetInfo, error) {
	config, err := GetNetworkConfig(network)
	if err != nil {
		return nil, err
	}

	if ValidateSolanaAddress(assetSymbolOrAddress) {
		if assetSymbolOrAddress == config.DefaultAsset.MintAddress {
			return &config.DefaultAsset, nil
		}
		for _, asset := range config.SupportedAssets {
			if asset.MintAddress == assetSymbolOrAddress {
				return &asset, nil
			}
		}
		return &AssetInfo{
			MintAddress: assetSymbolOrAddress,
			Symbol:      "UNKNOWN",
			Name:        "Unknown SPL Token",
			Decimals:    6,
		}, nil
	}

	if asset, ok := config.SupportedAssets[strings.ToUpper(assetSymbolOrAddress)]; ok {
		return &asset, nil
	}
	return &config.DefaultAsset, nil
}

// ValidateSolanaAddress reports whether the string is a valid base58 ed25519
// public key.
func ValidateSolanaAddress(address string) bool {
	if address == "" {
		return false
	}
	_, err := solana.PublicKeyFromBase58(address)
	return err == nil
}

// EncodeTransaction serializes a transaction to base64.
func EncodeTransaction(tx *solana.Transaction) (string, error) {
	raw, err := tx.MarshalBinary()
	if err != nil {
		return "", fmt.Errorf("failed to serialize transaction: %w", err)
	}
	return base64.StdEncoding.EncodeToString(raw), nil
}

// DecodeTransaction parses a base64-encoded transaction.
func DecodeTransaction(encoded string) (*solana.Transaction, error) {
	raw, err := base64.StdEncoding.DecodeString(encoded)
	if err != nil {
		return nil, fmt.Errorf("invalid base64 transaction: %w", err)
	}
	tx, err := solana.TransactionFromDecoder(bin.NewBinDecoder(raw))
	if err != nil {
		return nil, fmt.Errorf("failed to decode transaction: %w", err)
	}
	return tx, nil
}

// FindTokenAccount derives the associated token account for an owner and
// mint.
func FindTokenAccount(owner, mint solana.PublicKey) (solana.PublicKey, error) {
	ata, _, err := solana.FindAssociatedTokenAddress(owner, mint)
	if err != nil {
		return solana.PublicKey{}, fmt.Errorf("failed to derive associated token account: %w", err)
	}
	return ata, nil
}

// ParseAmount converts a decimal string into smallest units.
func ParseAmount(amount string, decimals int) (uint64, error) {
	amount = strings.TrimSpace(amount)

	parts := strings.Split(amount, ".")
	if len(parts) > 2 {
		return 0, fmt.Errorf("invalid amount format: %s", amount)
	}

	intPart, err := strconv.ParseUint(parts[0], 10, 64)
	if err != nil {
		return 0, fmt.Errorf("invalid integer part: %s", parts[0])
	}

	decPart := uint64(0)
	if len(parts) == 2 && parts[1] != "" {
		decStr := parts[1]
		if len(decStr) > decimals {
			decStr = decStr[:decimals]
		} else {
			decStr += strings.Repeat("0", decimals-len(decStr))
		}
		decPart, err = strconv.ParseUint(decStr, 10, 64)
		if err != nil {
			return 0, fmt.Errorf("invalid decimal part: %s", parts[1])
		}
	}

	return intPart*uint64(math.Pow10(decimals)) + decPart, nil
}

// FormatAmount converts smallest units back into a decimal string, trimming
// trailing zeros.
func FormatAmount(amount uint64, decimals int) string {
	if amount == 0 {
		return "0"
	}

	divisor := uint64(math.Pow10(decimals))
	quotient := amount / divisor
	remainder := amount % divisor

	decStr := strings.TrimRight(fmt.Sprintf("%0*d", decimals, remainder), "0")
	if decStr == "" {
		return fmt.Sprintf("%d", quotient)
	}
	return fmt.Sprintf("%d.%s", quotient, decStr)
}

// IsTestnet reports whether the network is a test cluster.
func IsTestnet(network string) bool {
	config, err := GetNetworkConfig(network)
	if err != nil {
		return false
	}
	return config.Testnet
}

// GetDefaultAsset returns the default SPL token for a network.
func GetDefaultAsset(network string) (*AssetInfo, error) {
	config, err := GetNetworkConfig(network)
	if err != nil {
		return nil, err
	}
	return &config.DefaultAsset, nil
}
