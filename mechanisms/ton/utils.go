package ton

import (
	"encoding/base64"
	"fmt"
	"math"
	"regexp"
	"strconv"
	"strings"
)

var (
	// Friendly addresses are base64url: bounceable (EQ), non-bounceable (UQ)
	// and testnet (kQ) prefixes all match.
	tonFriendlyAddressRegex = regexp.MustCompile(`^[A-Za-z0-9_-]{46,48}$`)

	// Raw format is workchain:hash.
	tonRawAddressRegex = regexp.MustCompile(`^-?[0-9]:[a-fA-F0-9]{64}$`)
)

// GetNetworkConfig returns the configuration for a CAIP-2 network id.
func GetNetworkConfig(network string) (*NetworkConfig, error) {
	config, ok := NetworkConfigs[network]
	if !ok {
		return nil, fmt.Errorf("unsupported TON network: %s", network)
	}
	return &config, nil
}

// GetAssetInfo resolves an asset by jetton master address or symbol. An
// address outside the known set still resolves, with 9 decimals, so custom
// jettons work without registry changes.
func GetAssetInfo(network string, assetSymbolOrAddress string) (*AssetInfo, error) {
	config, err := GetNetworkConfig(network)
	if err != nil {
		return nil, err
	}

	if ValidateTonAddress(assetSymbolOrAddress) {
		if AddressesEqual(assetSymbolOrAddress, config.DefaultAsset.MasterAddress) {
			return &config.DefaultAsset, nil
		}
		for _, asset := range config.SupportedAssets {
			if AddressesEqual(asset.MasterAddress, assetSymbolOrAddress) {
				return &asset, nil
			}
		}
		return &AssetInfo{
			MasterAddress: assetSymbolOrAddress,
			Symbol:        "UNKNOWN",
			Name:          "Unknown Jetton",
			Decimals:      9,
		}, nil
	}

	if asset, ok := config.SupportedAssets[strings.ToUpper(assetSymbolOrAddress)]; ok {
		return &asset, nil
	}
	return &config.DefaultAsset, nil
}

// ValidateTonAddress accepts friendly and raw address formats.
func ValidateTonAddress(address string) bool {
	return tonFriendlyAddressRegex.MatchString(address) ||
		tonRawAddressRegex.MatchString(address)
}

// AddressesEqual compares two addresses case-insensitively. Addresses in
// different formats (friendly vs raw) do not compare equal.
func AddressesEqual(addr1, addr2 string) bool {
	return strings.EqualFold(addr1, addr2)
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

// ValidateBoc checks that a string is non-empty, valid base64.
func ValidateBoc(bocBase64 string) error {
	if bocBase64 == "" {
		return fmt.Errorf("empty BOC")
	}
	if _, err := base64.StdEncoding.DecodeString(bocBase64); err != nil {
		return fmt.Errorf("invalid base64 encoding: %w", err)
	}
	return nil
}

// IsTestnet reports whether the network is the TON testnet.
func IsTestnet(network string) bool {
	return network == NetworkTestnet
}

// GetDefaultAsset returns the default jetton for a network.
func GetDefaultAsset(network string) (*AssetInfo, error) {
	config, err := GetNetworkConfig(network)
	if err != nil {
		return nil, err
	}
	return &config.DefaultAsset, nil
}
