package eip2612gassponsor

import (
	"encoding/json"
	"testing"

	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"

	"github.com/t402-io/t402/go/types"
)

const (
	ownerAddress   = "0x1111111111111111111111111111111111111111"
	tokenAddress   = "0x036CbD53842c5426634e7929541eC2318f3dCF7e"
	permit2Address = "0x000000000022D473030F116dDEE9F6B43aC78BA3"
)

func clientInfo() Info {
	return Info{
		From:      ownerAddress,
		Asset:     tokenAddress,
		Spender:   permit2Address,
		Amount:    "115792089237316195423570985008687907853269984665640564039457584007913129639935",
		Nonce:     "0",
		Deadline:  "1740672154",
		Signature: "0xabcdef0011223344556677889900aabbccddeeff00112233445566778899aabbcc",
		Version:   "1",
	}
}

func extensionsWith(t *testing.T, info Info) map[string]interface{} {
	t.Helper()
	return map[string]interface{}{
		EIP2612GasSponsoring: map[string]interface{}{
			"info":   info,
			"schema": map[string]interface{}{},
		},
	}
}

func TestExtractInfo(t *testing.T) {
	t.Run("client-populated info round-trips", func(t *testing.T) {
		want := clientInfo()
		got, err := ExtractEip2612GasSponsoringInfo(extensionsWith(t, want))
		require.NoError(t, err)
		require.NotNil(t, got)
		assert.Equal(t, want, *got)
	})

	t.Run("absent extension yields nil without error", func(t *testing.T) {
		for _, extensions := range []map[string]interface{}{
			nil,
			{},
			{"someOtherExtension": map[string]interface{}{}},
		} {
			got, err := ExtractEip2612GasSponsoringInfo(extensions)
			require.NoError(t, err)
			assert.Nil(t, got)
		}
	})

	t.Run("server declaration is not client info", func(t *testing.T) {
		// The server's PaymentRequired carries a ServerInfo description, not a
		// permit. Extraction must not mistake it for a populated permit.
		got, err := ExtractEip2612GasSponsoringInfo(DeclareEip2612GasSponsoringExtension())
		require.NoError(t, err)
		assert.Nil(t, got)
	})

	t.Run("partially populated info yields nil", func(t *testing.T) {
		info := clientInfo()
		info.Signature = ""
		got, err := ExtractEip2612GasSponsoringInfo(extensionsWith(t, info))
		require.NoError(t, err)
		assert.Nil(t, got)
	})
}

func TestExtractInfoFromPayloadBytes(t *testing.T) {
	want := clientInfo()
	payload := types.PaymentPayload{
		T402Version: types.T402Version,
		Accepted: types.PaymentRequirements{
			Scheme:  "exact",
			Network: "eip155:84532",
			Amount:  "10000",
			PayTo:   ownerAddress,
		},
		Payload:    map[string]interface{}{"signature": "0xsig"},
		Extensions: extensionsWith(t, want),
	}
	payloadBytes, err := json.Marshal(payload)
	require.NoError(t, err)

	got, err := ExtractEip2612GasSponsoringInfoFromPayloadBytes(payloadBytes)
	require.NoError(t, err)
	require.NotNil(t, got)
	assert.Equal(t, want, *got)

	_, err = ExtractEip2612GasSponsoringInfoFromPayloadBytes([]byte(`{"no":"version"}`))
	assert.Error(t, err)
}

func TestValidateInfo(t *testing.T) {
	valid := clientInfo()
	assert.True(t, ValidateEip2612GasSponsoringInfo(&valid))

	mutations := map[string]func(*Info){
		"from not an address":   func(i *Info) { i.From = "not-an-address" },
		"asset too short":       func(i *Info) { i.Asset = "0x1234" },
		"spender not hex":       func(i *Info) { i.Spender = "permit2" },
		"amount not decimal":    func(i *Info) { i.Amount = "1e18" },
		"nonce negative":        func(i *Info) { i.Nonce = "-1" },
		"deadline empty":        func(i *Info) { i.Deadline = "" },
		"signature missing 0x":  func(i *Info) { i.Signature = "abcdef" },
		"version with a prefix": func(i *Info) { i.Version = "v1" },
	}
	for name, mutate := range mutations {
		t.Run(name, func(t *testing.T) {
			info := clientInfo()
			mutate(&info)
			assert.False(t, ValidateEip2612GasSponsoringInfo(&info))
		})
	}
}

func TestDeclareExtension(t *testing.T) {
	declaration := DeclareEip2612GasSponsoringExtension()
	require.Contains(t, declaration, EIP2612GasSponsoring)

	ext, ok := declaration[EIP2612GasSponsoring].(Extension)
	require.True(t, ok)

	serverInfo, ok := ext.Info.(ServerInfo)
	require.True(t, ok)
	assert.NotEmpty(t, serverInfo.Description)
	assert.Equal(t, "1", serverInfo.Version)

	// Every field the extractor requires must be declared required in the
	// schema, or clients can omit fields the facilitator will reject.
	required, ok := ext.Schema["required"].([]string)
	require.True(t, ok)
	assert.ElementsMatch(t, []string{
		"from", "asset", "spender", "amount", "nonce", "deadline", "signature", "version",
	}, required)
}
