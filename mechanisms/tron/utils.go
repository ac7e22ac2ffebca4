package tron

import (
	"crypto/sha256"
	"fmt"
	"math"
	"strconv"
	"strings"

	"github.com/mr-tron/base58"
)

// tronAddressVersion is the version byte of mainnet-format addresses.
const tronAddressVersion = 0x41

// NormalizeNetwork maps shorthand names onto CAIP-2 identifiers.
func NormalizeNetwork(network string) (string, error) {
	if _, ok := NetworkConfigs[network]; ok {
		return network, nil
	}

	switch strings.ToLower(network) {
	case "mainnet", "tron":
		return NetworkMainnet, nil
	case "nile", "tron-nile":
		return NetworkNile, nil
	case "shasta", "tron-shasta":
		return NetworkShasta, nil
	}
	return "", fmt.Errorf("unsupported TRON network: %s", network)
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

// GetAssetInfo resolves an asset by contract address or symbol. An address
// outside the known set still resolves, with 6 decimals, so custom TRC-20
// tokens work without registry changes.
func GetAssetInfo(network string, assetSymbolOrAddress string) (*AssetInfo, error) {
	config, err := GetNetworkConfig(network)
	if err != nil {
		return nil, err
	}

	if ValidateTronAddress(assetSymbolOrAddress) {
		if AddressesEqual(assetSymbolOrAddress, config.DefaultAsset.ContractAddress) {
			return &config.DefaultAsset, nil
		}
		for _, asset := range config.SupportedAssets {
			if AddressesEqual(asset.ContractAddress, assetSymbolOrAddress) {
				return &asset, nil
			}
		}
		return &AssetInfo{
			ContractAddress: assetSymbolOrAddress,
			Symbol:          "UNKNOWN",
			Name:            "Unknown TRC20",
			Decimals:        6,
		}, nil
	}

	if asset, ok := config.SupportedAssets[strings.ToUpper(assetSymbolOrAddress)]; ok {
		return &asset, nil
	}
	return &config.DefaultAsset, nil
}

// ValidateTronAddress checks format, version byte and base58check checksum.
func ValidateTronAddress(address string) bool {
	if len(address) != TronAddressLength || !strings.HasPrefix(address, TronAddressPrefix) {
		return false
	}

	decoded, err := base58.Decode(address)
	if err != nil {
		return false
	}
	// version byte + 20-byte body + 4-byte checksum
	if len(decoded) != 25 || decoded[0] != tronAddressVersion {
		return false
	}

	body, checksum := decoded[:21], decoded[21:]
	first := sha256.Sum256(body)
	second := sha256.Sum256(first[:])
	return string(checksum) == string(second[:4])
}

// AddressesEqual compares two TRON addresses. Base58check is case-sensitive,
// so this is an exact comparison.
func AddressesEqual(addr1, addr2 string) bool {
	if addr1 == "" || addr2 == "" {
		return false
	}
	return addr1 == addr2
}

// FormatAddress truncates an address for display: Txxxx...xxxx.
func FormatAddress(address string, truncate int) string {
	if address == "" {
		return ""
	}
	if truncate > 0 && len(address) > truncate*2+3 {
		return fmt.Sprintf("%s...%s", address[:truncate], address[len(address)-truncate:])
	}
	return address
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

// IsValidHex accepts hex strings with or without a 0x prefix.
func IsValidHex(hex string) bool {
	cleanHex := strings.TrimPrefix(hex, "0x")
	if cleanHex == "" {
		return false
	}
	for _, c := range cleanHex {
		if !((c >= '0' && c <= '9') || (c >= 'a' && c <= 'f') || (c >= 'A' && c <= 'F')) {
			return false
		}
	}
	return true
}

// IsTestnet reports whether the network is a TRON testnet.
func IsTestnet(network string) bool {
	return network == NetworkNile || network == NetworkShasta
}

// GetDefaultAsset returns the default TRC-20 token for a network.
func GetDefaultAsset(network string) (*AssetInfo, error) {
	config, err := GetNetworkConfig(network)
	if err != nil {
		return nil, err
	}
	return &config.DefaultAsset, nil
}

// GetEndpoint returns the API endpoint for a network.
func GetEndpoint(network string) (string, error) {
	config, err := GetNetworkConfig(network)
	if err != nil {
		return "", err
	}
	return config.Endpoint, nil
}

// EstimateTransactionFee estimates the fee in SUN. A TRC-20 transfer burns
// roughly 30 TRX of energy; sending to a never-activated account adds the
// activation fee.
func EstimateTransactionFee(isActivated bool) int64 {
	baseFee := int64(30_000_000)
	if !isActivated {
		baseFee += 1_000_000
	}
	return baseFee
}
