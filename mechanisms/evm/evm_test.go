package evm

import (
	"math/big"
	"strconv"
	"strings"
	"testing"
	"time"

	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"

	"github.com/t402-io/t402/go/types"
)

func TestGetNetworkConfig(t *testing.T) {
	config, err := GetNetworkConfig("eip155:8453")
	require.NoError(t, err)
	assert.Equal(t, ChainIDBase, config.ChainID)
	assert.True(t, config.DefaultAsset.SupportsEIP3009)

	_, err = GetNetworkConfig("eip155:999999")
	require.Error(t, err)
	assert.Contains(t, err.Error(), "unsupported network")
}

func TestGetAssetInfo(t *testing.T) {
	t.Run("empty asset selects default", func(t *testing.T) {
		info, err := GetAssetInfo("eip155:1", "")
		require.NoError(t, err)
		assert.Equal(t, "USD Coin", info.Name)
		assert.True(t, info.SupportsEIP3009)
	})

	t.Run("case-insensitive default match", func(t *testing.T) {
		info, err := GetAssetInfo("eip155:1", "0xa0b86991c6218b36c1d19d4a2e9eb0ce3606eb48")
		require.NoError(t, err)
		assert.Equal(t, "USD Coin", info.Name)
	})

	t.Run("registered secondary asset", func(t *testing.T) {
		info, err := GetAssetInfo("eip155:1", "0xdAC17F958D2ee523a2206206994597C13D831ec7")
		require.NoError(t, err)
		assert.Equal(t, "Tether USD", info.Name)
		assert.False(t, info.SupportsEIP3009)
	})

	t.Run("unknown asset falls through", func(t *testing.T) {
		info, err := GetAssetInfo("eip155:1", "0x1111111111111111111111111111111111111111")
		require.NoError(t, err)
		assert.Equal(t, "0x1111111111111111111111111111111111111111", info.Address)
		assert.Empty(t, info.Name)
	})
}

func TestCreateNonce(t *testing.T) {
	nonce1, err := CreateNonce()
	require.NoError(t, err)
	nonce2, err := CreateNonce()
	require.NoError(t, err)

	assert.Len(t, nonce1, 66) // 0x + 64 hex chars
	assert.NotEqual(t, nonce1, nonce2)

	decoded, err := HexToBytes(nonce1)
	require.NoError(t, err)
	assert.Len(t, decoded, 32)
}

func TestCreateValidityWindow(t *testing.T) {
	before := time.Now().Unix()
	validAfter, validBefore := CreateValidityWindow(300)
	after := time.Now().Unix()

	va, err := strconv.ParseInt(validAfter, 10, 64)
	require.NoError(t, err)
	vb, err := strconv.ParseInt(validBefore, 10, 64)
	require.NoError(t, err)

	assert.GreaterOrEqual(t, va, before-ValidAfterSkewSeconds)
	assert.LessOrEqual(t, va, after-ValidAfterSkewSeconds)
	assert.GreaterOrEqual(t, vb, before+300)
	assert.LessOrEqual(t, vb, after+300)
}

func TestSplitSignature(t *testing.T) {
	sig := make([]byte, 65)
	for i := range sig {
		sig[i] = byte(i)
	}
	sig[64] = 1

	r, s, v, err := SplitSignature(sig)
	require.NoError(t, err)
	assert.Equal(t, byte(0), r[0])
	assert.Equal(t, byte(32), s[0])
	assert.Equal(t, uint8(28), v) // 1 normalized to 28

	_, _, _, err = SplitSignature(sig[:64])
	assert.Error(t, err)
}

func TestPayloadRoundTrip(t *testing.T) {
	payload := &ExactEIP3009Payload{
		Signature: "0xabcdef",
		Authorization: ExactEIP3009Authorization{
			From:        "0x1111111111111111111111111111111111111111",
			To:          "0x2222222222222222222222222222222222222222",
			Value:       "1000000",
			ValidAfter:  "1700000000",
			ValidBefore: "1700003600",
			Nonce:       "0xab00000000000000000000000000000000000000000000000000000000000000",
		},
	}

	parsed, err := PayloadFromMap(payload.ToMap())
	require.NoError(t, err)
	assert.Equal(t, payload, parsed)
}

func TestPayloadRoundTripWithSpender(t *testing.T) {
	payload := &ExactEIP3009Payload{
		Signature: "0xabcdef",
		Authorization: ExactEIP3009Authorization{
			From:        "0x1111111111111111111111111111111111111111",
			To:          "0x2222222222222222222222222222222222222222",
			Value:       "1000000",
			ValidAfter:  "1700000000",
			ValidBefore: "1700003600",
			Nonce:       "0xab00000000000000000000000000000000000000000000000000000000000000",
			Spender:     "0x3333333333333333333333333333333333333333",
		},
	}

	m := payload.ToMap()
	auth := m["authorization"].(map[string]interface{})
	assert.Equal(t, payload.Authorization.Spender, auth["spender"])

	parsed, err := PayloadFromMap(m)
	require.NoError(t, err)
	assert.Equal(t, payload, parsed)
}

func TestPayloadFromMapMissingFields(t *testing.T) {
	_, err := PayloadFromMap(map[string]interface{}{})
	assert.Error(t, err)

	_, err = PayloadFromMap(map[string]interface{}{
		"authorization": map[string]interface{}{
			"from": "0x1111111111111111111111111111111111111111",
		},
	})
	assert.Error(t, err)
}

func TestPayloadFromMapNonceLength(t *testing.T) {
	auth := func(nonce string) map[string]interface{} {
		return map[string]interface{}{
			"authorization": map[string]interface{}{
				"from":        "0x1111111111111111111111111111111111111111",
				"to":          "0x2222222222222222222222222222222222222222",
				"value":       "1000000",
				"validAfter":  "1700000000",
				"validBefore": "1700003600",
				"nonce":       nonce,
			},
		}
	}

	// The token contract takes a bytes32 nonce; anything else must be
	// rejected here rather than reach the []byte -> [32]byte conversion.
	for _, nonce := range []string{"0xdead", "0x00", "", "not-hex", "0x" + strings.Repeat("01", 33)} {
		_, err := PayloadFromMap(auth(nonce))
		assert.Error(t, err, "nonce %q", nonce)
	}

	_, err := PayloadFromMap(auth("0x" + strings.Repeat("01", 32)))
	assert.NoError(t, err)
}

func TestHashEIP3009Authorization(t *testing.T) {
	authorization := ExactEIP3009Authorization{
		From:        "0x1111111111111111111111111111111111111111",
		To:          "0x2222222222222222222222222222222222222222",
		Value:       "1000000",
		ValidAfter:  "1700000000",
		ValidBefore: "1700003600",
		Nonce:       "0x0101010101010101010101010101010101010101010101010101010101010101",
	}

	hash1, err := HashEIP3009Authorization(authorization, big.NewInt(8453), "0x833589fCD6eDb6E08f4c7C32D4f71b54bdA02913", "USD Coin", "2")
	require.NoError(t, err)
	assert.Len(t, hash1, 32)

	// Deterministic
	hash2, err := HashEIP3009Authorization(authorization, big.NewInt(8453), "0x833589fCD6eDb6E08f4c7C32D4f71b54bdA02913", "USD Coin", "2")
	require.NoError(t, err)
	assert.Equal(t, hash1, hash2)

	// Any field change changes the digest
	authorization.Value = "1000001"
	hash3, err := HashEIP3009Authorization(authorization, big.NewInt(8453), "0x833589fCD6eDb6E08f4c7C32D4f71b54bdA02913", "USD Coin", "2")
	require.NoError(t, err)
	assert.NotEqual(t, hash1, hash3)
}

func TestHashLegacyTransferAuthorization(t *testing.T) {
	authorization := ExactEIP3009Authorization{
		From:        "0x1111111111111111111111111111111111111111",
		To:          "0x2222222222222222222222222222222222222222",
		Value:       "1000000",
		ValidAfter:  "1700000000",
		ValidBefore: "1700003600",
		Nonce:       "0x0101010101010101010101010101010101010101010101010101010101010101",
	}

	_, err := HashLegacyTransferAuthorization(authorization, big.NewInt(1), "0xdAC17F958D2ee523a2206206994597C13D831ec7", "Tether USD", "1")
	assert.Error(t, err, "spender is required")

	authorization.Spender = "0x3333333333333333333333333333333333333333"
	legacyHash, err := HashLegacyTransferAuthorization(authorization, big.NewInt(1), "0xdAC17F958D2ee523a2206206994597C13D831ec7", "Tether USD", "1")
	require.NoError(t, err)

	exactHash, err := HashEIP3009Authorization(authorization, big.NewInt(1), "0xdAC17F958D2ee523a2206206994597C13D831ec7", "Tether USD", "1")
	require.NoError(t, err)
	assert.NotEqual(t, exactHash, legacyHash, "spender binding must change the digest")
}

func TestHashPermitAuthorization(t *testing.T) {
	hash1, err := HashPermitAuthorization(
		"0x1111111111111111111111111111111111111111",
		"0x2222222222222222222222222222222222222222",
		"1000000", "0", "1700003600",
		big.NewInt(8453), "0x833589fCD6eDb6E08f4c7C32D4f71b54bdA02913", "USD Coin", "2",
	)
	require.NoError(t, err)
	assert.Len(t, hash1, 32)

	hash2, err := HashPermitAuthorization(
		"0x1111111111111111111111111111111111111111",
		"0x2222222222222222222222222222222222222222",
		"1000000", "1", "1700003600",
		big.NewInt(8453), "0x833589fCD6eDb6E08f4c7C32D4f71b54bdA02913", "USD Coin", "2",
	)
	require.NoError(t, err)
	assert.NotEqual(t, hash1, hash2, "nonce must be part of the digest")

	_, err = HashPermitAuthorization("0x11", "0x22", "not-a-number", "0", "1", big.NewInt(1), "0x00", "T", "1")
	assert.Error(t, err)
}

func TestDomainFromRequirements(t *testing.T) {
	requirements := types.PaymentRequirements{
		Network: "eip155:8453",
		Asset:   "",
	}

	name, version, err := DomainFromRequirements(requirements)
	require.NoError(t, err)
	assert.Equal(t, "USD Coin", name)
	assert.Equal(t, "2", version)

	requirements.Extra = map[string]interface{}{"name": "Custom Token", "version": "3"}
	name, version, err = DomainFromRequirements(requirements)
	require.NoError(t, err)
	assert.Equal(t, "Custom Token", name)
	assert.Equal(t, "3", version)

	// Unknown asset with no extra has no domain parameters
	requirements = types.PaymentRequirements{
		Network: "eip155:8453",
		Asset:   "0x1111111111111111111111111111111111111111",
	}
	_, _, err = DomainFromRequirements(requirements)
	assert.Error(t, err)
}
