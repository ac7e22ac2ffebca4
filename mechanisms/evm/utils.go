package evm

import (
	"crypto/rand"
	"encoding/hex"
	"fmt"
	"strconv"
	"strings"
	"time"

	"github.com/t402-io/t402/go/types"
)

// CreateNonce generates a random 32-byte nonce for EIP-3009 authorizations.
// This is a replay-prevention key, not an account nonce.
func CreateNonce() (string, error) {
	nonce := make([]byte, 32)
	if _, err := rand.Read(nonce); err != nil {
		return "", fmt.Errorf("failed to generate nonce: %w", err)
	}
	return BytesToHex(nonce), nil
}

// CreateValidityWindow computes the authorization validity bounds.
// validAfter is backdated by ValidAfterSkewSeconds so the authorization is
// usable immediately despite clock skew between client and chain; validBefore
// is now plus the requirements' timeout.
func CreateValidityWindow(maxTimeoutSeconds int) (validAfter string, validBefore string) {
	now := time.Now().Unix()
	validAfter = strconv.FormatInt(now-ValidAfterSkewSeconds, 10)
	validBefore = strconv.FormatInt(now+int64(maxTimeoutSeconds), 10)
	return validAfter, validBefore
}

// HexToBytes decodes a hex string with or without 0x prefix.
func HexToBytes(s string) ([]byte, error) {
	s = strings.TrimPrefix(s, "0x")
	return hex.DecodeString(s)
}

// BytesToHex encodes bytes as a 0x-prefixed hex string.
func BytesToHex(b []byte) string {
	return "0x" + hex.EncodeToString(b)
}

// GetAssetInfo resolves token metadata for an asset on a network. An empty
// asset selects the network's default token. Unknown asset addresses fall
// through to a minimal entry so requirements can still carry domain
// parameters in extra.
func GetAssetInfo(network string, asset string) (AssetInfo, error) {
	config, err := GetNetworkConfig(network)
	if err != nil {
		return AssetInfo{}, err
	}

	if asset == "" || strings.EqualFold(asset, config.DefaultAsset.Address) {
		return config.DefaultAsset, nil
	}

	if info, ok := config.Assets[strings.ToLower(asset)]; ok {
		return info, nil
	}

	return AssetInfo{
		Address:  asset,
		Decimals: DefaultDecimals,
	}, nil
}

// DomainFromRequirements builds the token EIP-712 domain name/version from
// requirements, preferring extra overrides over registry metadata. Returns an
// error when neither source supplies the parameters.
func DomainFromRequirements(requirements types.PaymentRequirements) (name string, version string, err error) {
	info, err := GetAssetInfo(string(requirements.Network), requirements.Asset)
	if err != nil {
		return "", "", err
	}
	name, version = info.Name, info.Version

	if requirements.Extra != nil {
		if n, ok := requirements.Extra["name"].(string); ok && n != "" {
			name = n
		}
		if v, ok := requirements.Extra["version"].(string); ok && v != "" {
			version = v
		}
	}

	if name == "" || version == "" {
		return "", "", fmt.Errorf("missing EIP-712 domain parameters for asset %s on %s", requirements.Asset, requirements.Network)
	}
	return name, version, nil
}

// SplitSignature splits a 65-byte signature into its r, s and v components.
// v is normalized to 27/28 as expected by on-chain ecrecover.
func SplitSignature(signature []byte) (r [32]byte, s [32]byte, v uint8, err error) {
	if len(signature) != 65 {
		return r, s, 0, fmt.Errorf("invalid signature length: %d", len(signature))
	}
	copy(r[:], signature[0:32])
	copy(s[:], signature[32:64])
	v = signature[64]
	if v < 27 {
		v += 27
	}
	return r, s, v, nil
}
