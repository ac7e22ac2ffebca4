package upto

import (
	"context"
	"math/big"
	"strconv"
	"testing"
	"time"

	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"

	"github.com/t402-io/t402/go/mechanisms/evm"
	"github.com/t402-io/t402/go/types"
)

const (
	ownerAddress     = "0x1111111111111111111111111111111111111111"
	recipientAddress = "0x2222222222222222222222222222222222222222"
	routerAddress    = "0x5555555555555555555555555555555555555555"
)

type mockClientSigner struct {
	address   string
	signCalls int
}

func (m *mockClientSigner) Address() string {
	return m.address
}

func (m *mockClientSigner) SignTypedData(
	ctx context.Context,
	domain evm.TypedDataDomain,
	dataTypes map[string][]evm.TypedDataField,
	primaryType string,
	message map[string]interface{},
) ([]byte, error) {
	m.signCalls++
	sig := make([]byte, 65)
	sig[0] = 0xaa
	sig[63] = 0xbb
	sig[64] = 27
	return sig, nil
}

type writeCall struct {
	address      string
	functionName string
	args         []interface{}
}

type mockFacilitatorSigner struct {
	addresses     []string
	balance       *big.Int
	permitNonce   *big.Int
	verifyResult  bool
	writeCalls    []writeCall
	txHash        string
	receiptStatus uint64
}

func (m *mockFacilitatorSigner) GetAddresses() []string {
	return m.addresses
}

func (m *mockFacilitatorSigner) ReadContract(ctx context.Context, address string, abi []byte, functionName string, args ...interface{}) (interface{}, error) {
	if functionName == evm.FunctionNonces {
		return m.permitNonce, nil
	}
	return nil, nil
}

func (m *mockFacilitatorSigner) VerifyTypedData(ctx context.Context, address string, domain evm.TypedDataDomain, dataTypes map[string][]evm.TypedDataField, primaryType string, message map[string]interface{}, signature []byte) (bool, error) {
	return m.verifyResult, nil
}

func (m *mockFacilitatorSigner) WriteContract(ctx context.Context, address string, abi []byte, functionName string, args ...interface{}) (string, error) {
	m.writeCalls = append(m.writeCalls, writeCall{address: address, functionName: functionName, args: args})
	return m.txHash, nil
}

func (m *mockFacilitatorSigner) SendRawTransaction(ctx context.Context, rlpBytes []byte) (string, error) {
	return m.txHash, nil
}

func (m *mockFacilitatorSigner) WaitForTransactionReceipt(ctx context.Context, txHash string) (*evm.TransactionReceipt, error) {
	return &evm.TransactionReceipt{Status: m.receiptStatus, TxHash: txHash}, nil
}

func (m *mockFacilitatorSigner) GetBalance(ctx context.Context, address string, tokenAddress string) (*big.Int, error) {
	return m.balance, nil
}

func (m *mockFacilitatorSigner) GetChainID(ctx context.Context) (*big.Int, error) {
	return evm.ChainIDBase, nil
}

func healthySigner() *mockFacilitatorSigner {
	return &mockFacilitatorSigner{
		addresses:     []string{"0x9999999999999999999999999999999999999999"},
		balance:       big.NewInt(10000000),
		permitNonce:   big.NewInt(7),
		verifyResult:  true,
		txHash:        "0xtxhash",
		receiptStatus: evm.TxStatusSuccess,
	}
}

func testRequirements() types.PaymentRequirements {
	return types.PaymentRequirements{
		Scheme:            evm.SchemeUpto,
		Network:           "eip155:8453",
		Asset:             "",
		MaxAmount:         "1000000",
		MinAmount:         "1000",
		PayTo:             recipientAddress,
		MaxTimeoutSeconds: 300,
		Extra: map[string]interface{}{
			"name":          "USD Coin",
			"version":       "2",
			"routerAddress": routerAddress,
		},
	}
}

func testPayload(t *testing.T, mutate func(*EIP2612Payload)) types.PaymentPayload {
	t.Helper()

	payload := &EIP2612Payload{
		Signature: PermitSignature{
			V: 27,
			R: "0x" + "aa" + "00000000000000000000000000000000000000000000000000000000000000"[:62],
			S: "0x" + "bb" + "00000000000000000000000000000000000000000000000000000000000000"[:62],
		},
		Authorization: PermitAuthorization{
			Owner:    ownerAddress,
			Spender:  routerAddress,
			Value:    "1000000",
			Deadline: strconv.FormatInt(time.Now().Unix()+300, 10),
			Nonce:    7,
		},
		PaymentNonce: "0x0101",
	}
	if mutate != nil {
		mutate(payload)
	}

	return types.PaymentPayload{
		T402Version: types.T402Version,
		Payload:     payload.ToMap(),
		Accepted:    testRequirements(),
	}
}

func TestIsEIP2612Payload(t *testing.T) {
	t.Run("accepts permit payload", func(t *testing.T) {
		data := testPayload(t, nil).Payload
		assert.True(t, IsEIP2612Payload(data))
	})

	t.Run("rejects string signature", func(t *testing.T) {
		data := map[string]interface{}{
			"signature": "0xabcdef",
			"authorization": map[string]interface{}{
				"owner": ownerAddress, "spender": routerAddress,
				"value": "1", "deadline": "1",
			},
		}
		assert.False(t, IsEIP2612Payload(data))
	})

	t.Run("rejects object signature with exact authorization shape", func(t *testing.T) {
		data := map[string]interface{}{
			"signature": map[string]interface{}{"v": 27, "r": "0x01", "s": "0x02"},
			"authorization": map[string]interface{}{
				"from": ownerAddress, "to": recipientAddress,
				"value": "1", "validAfter": "0", "validBefore": "1", "nonce": "0x00",
			},
		}
		assert.False(t, IsEIP2612Payload(data))
	})

	t.Run("rejects missing fields", func(t *testing.T) {
		assert.False(t, IsEIP2612Payload(map[string]interface{}{}))
	})
}

func TestPayloadRoundTrip(t *testing.T) {
	payload := &EIP2612Payload{
		Signature: PermitSignature{V: 28, R: "0x01", S: "0x02"},
		Authorization: PermitAuthorization{
			Owner: ownerAddress, Spender: routerAddress,
			Value: "123456", Deadline: "1700000000", Nonce: 9,
		},
		PaymentNonce: "0xfeed",
	}

	parsed, err := PayloadFromMap(payload.ToMap())
	require.NoError(t, err)
	assert.Equal(t, payload, parsed)
}

func TestSpenderFromRequirements(t *testing.T) {
	assert.Equal(t, routerAddress, SpenderFromRequirements(map[string]interface{}{"routerAddress": routerAddress}, recipientAddress))
	assert.Equal(t, recipientAddress, SpenderFromRequirements(map[string]interface{}{}, recipientAddress))
	assert.Equal(t, recipientAddress, SpenderFromRequirements(nil, recipientAddress))
}

func TestClientCreatePaymentPayload(t *testing.T) {
	t.Run("uses router as spender and permit nonce hint", func(t *testing.T) {
		signer := &mockClientSigner{address: ownerAddress}
		client := NewClient(signer)

		requirements := testRequirements()
		requirements.Extra["permitNonce"] = float64(7)

		payload, err := client.CreatePaymentPayload(context.Background(), types.T402Version, requirements)
		require.NoError(t, err)
		assert.Equal(t, 1, signer.signCalls)

		parsed, err := PayloadFromMap(payload.Payload)
		require.NoError(t, err)
		assert.Equal(t, ownerAddress, parsed.Authorization.Owner)
		assert.Equal(t, routerAddress, parsed.Authorization.Spender)
		assert.Equal(t, "1000000", parsed.Authorization.Value)
		assert.Equal(t, 7, parsed.Authorization.Nonce)
		assert.NotEmpty(t, parsed.PaymentNonce)
	})

	t.Run("falls back to payTo without router", func(t *testing.T) {
		client := NewClient(&mockClientSigner{address: ownerAddress})

		requirements := testRequirements()
		delete(requirements.Extra, "routerAddress")
		requirements.Extra["permitNonce"] = float64(0)

		payload, err := client.CreatePaymentPayload(context.Background(), types.T402Version, requirements)
		require.NoError(t, err)

		parsed, _ := PayloadFromMap(payload.Payload)
		assert.Equal(t, recipientAddress, parsed.Authorization.Spender)
	})

	t.Run("requires domain parameters", func(t *testing.T) {
		client := NewClient(&mockClientSigner{address: ownerAddress})

		requirements := testRequirements()
		delete(requirements.Extra, "name")
		_, err := client.CreatePaymentPayload(context.Background(), types.T402Version, requirements)
		require.Error(t, err)
		assert.Contains(t, err.Error(), "name/version")
	})

	t.Run("requires nonce hint or reader", func(t *testing.T) {
		client := NewClient(&mockClientSigner{address: ownerAddress})
		_, err := client.CreatePaymentPayload(context.Background(), types.T402Version, testRequirements())
		assert.Error(t, err)
	})

	t.Run("reads nonce on-chain when configured", func(t *testing.T) {
		reader := healthySigner()
		client := NewClient(&mockClientSigner{address: ownerAddress}).WithNonceReader(reader)

		payload, err := client.CreatePaymentPayload(context.Background(), types.T402Version, testRequirements())
		require.NoError(t, err)

		parsed, _ := PayloadFromMap(payload.Payload)
		assert.Equal(t, 7, parsed.Authorization.Nonce)
	})
}

func TestFacilitatorVerify(t *testing.T) {
	t.Run("valid permit", func(t *testing.T) {
		facilitator := NewFacilitator(healthySigner())
		resp, err := facilitator.Verify(context.Background(), testPayload(t, nil), testRequirements())
		require.NoError(t, err)
		assert.True(t, resp.IsValid)
		assert.Equal(t, ownerAddress, resp.Payer)
	})

	t.Run("exceeds maxAmount", func(t *testing.T) {
		facilitator := NewFacilitator(healthySigner())
		payload := testPayload(t, func(p *EIP2612Payload) {
			p.Authorization.Value = "1000001"
		})
		resp, err := facilitator.Verify(context.Background(), payload, testRequirements())
		require.NoError(t, err)
		assert.False(t, resp.IsValid)
		assert.Equal(t, evm.ErrUptoExceedsMaxAmount, resp.InvalidReason)
	})

	t.Run("below minAmount", func(t *testing.T) {
		facilitator := NewFacilitator(healthySigner())
		payload := testPayload(t, func(p *EIP2612Payload) {
			p.Authorization.Value = "999"
		})
		resp, err := facilitator.Verify(context.Background(), payload, testRequirements())
		require.NoError(t, err)
		assert.False(t, resp.IsValid)
		assert.Equal(t, evm.ErrUptoBelowMinAmount, resp.InvalidReason)
	})

	t.Run("expired deadline", func(t *testing.T) {
		facilitator := NewFacilitator(healthySigner())
		payload := testPayload(t, func(p *EIP2612Payload) {
			p.Authorization.Deadline = strconv.FormatInt(time.Now().Unix()-10, 10)
		})
		resp, err := facilitator.Verify(context.Background(), payload, testRequirements())
		require.NoError(t, err)
		assert.False(t, resp.IsValid)
		assert.Equal(t, evm.ErrUptoDeadlineExpired, resp.InvalidReason)
	})

	t.Run("stale permit nonce", func(t *testing.T) {
		signer := healthySigner()
		signer.permitNonce = big.NewInt(8)
		facilitator := NewFacilitator(signer)
		resp, err := facilitator.Verify(context.Background(), testPayload(t, nil), testRequirements())
		require.NoError(t, err)
		assert.False(t, resp.IsValid)
		assert.Equal(t, evm.ErrNonceAlreadyUsed, resp.InvalidReason)
	})

	t.Run("spender mismatch", func(t *testing.T) {
		facilitator := NewFacilitator(healthySigner())
		payload := testPayload(t, func(p *EIP2612Payload) {
			p.Authorization.Spender = recipientAddress
		})
		resp, err := facilitator.Verify(context.Background(), payload, testRequirements())
		require.NoError(t, err)
		assert.False(t, resp.IsValid)
	})

	t.Run("exact payload rejected", func(t *testing.T) {
		facilitator := NewFacilitator(healthySigner())
		payload := types.PaymentPayload{
			T402Version: types.T402Version,
			Payload: map[string]interface{}{
				"signature": "0xabcdef",
				"authorization": map[string]interface{}{
					"from": ownerAddress, "to": recipientAddress, "value": "1",
					"validAfter": "0", "validBefore": "1", "nonce": "0x00",
				},
			},
		}
		resp, err := facilitator.Verify(context.Background(), payload, testRequirements())
		require.NoError(t, err)
		assert.False(t, resp.IsValid)
		assert.Equal(t, evm.ErrUnsupportedPayload, resp.InvalidReason)
	})
}

func TestFacilitatorSettleWithUsage(t *testing.T) {
	t.Run("settles partial amount through router", func(t *testing.T) {
		signer := healthySigner()
		facilitator := NewFacilitator(signer)

		settlement := types.Settlement{
			SettleAmount: "250000",
			UsageDetails: &types.UsageDetails{Unit: "token", UnitsConsumed: "2500", UnitPrice: "100"},
		}
		resp, err := facilitator.SettleWithUsage(context.Background(), testPayload(t, nil), testRequirements(), settlement)
		require.NoError(t, err)
		assert.True(t, resp.Success)
		require.NotNil(t, resp.Settlement)
		assert.Equal(t, "250000", resp.Settlement.SettleAmount)
		assert.Equal(t, "token", resp.Settlement.UsageDetails.Unit)

		require.Len(t, signer.writeCalls, 1)
		call := signer.writeCalls[0]
		assert.Equal(t, routerAddress, call.address)
		assert.Equal(t, evm.FunctionExecuteUptoTransfer, call.functionName)
		assert.Equal(t, big.NewInt(250000), call.args[4])
	})

	t.Run("rejects over-settlement before any chain call", func(t *testing.T) {
		signer := healthySigner()
		facilitator := NewFacilitator(signer)

		settlement := types.Settlement{SettleAmount: "1000001"}
		resp, err := facilitator.SettleWithUsage(context.Background(), testPayload(t, nil), testRequirements(), settlement)
		require.NoError(t, err)
		assert.False(t, resp.Success)
		assert.Equal(t, evm.ErrUptoOverSettlement, resp.ErrorReason)
		assert.Empty(t, signer.writeCalls, "over-settlement must never reach the chain")
	})

	t.Run("requires router address", func(t *testing.T) {
		signer := healthySigner()
		facilitator := NewFacilitator(signer)

		requirements := testRequirements()
		delete(requirements.Extra, "routerAddress")
		payload := testPayload(t, func(p *EIP2612Payload) {
			p.Authorization.Spender = recipientAddress
		})

		resp, err := facilitator.SettleWithUsage(context.Background(), payload, requirements, types.Settlement{SettleAmount: "1000"})
		require.NoError(t, err)
		assert.False(t, resp.Success)
		assert.Equal(t, evm.ErrUptoMissingRouter, resp.ErrorReason)
		assert.Empty(t, signer.writeCalls)
	})
}

func TestFacilitatorSettleDefaultsToFullValue(t *testing.T) {
	signer := healthySigner()
	facilitator := NewFacilitator(signer)

	resp, err := facilitator.Settle(context.Background(), testPayload(t, nil), testRequirements())
	require.NoError(t, err)
	assert.True(t, resp.Success)
	require.NotNil(t, resp.Settlement)
	assert.Equal(t, "1000000", resp.Settlement.SettleAmount)
}

func TestCombineSignature(t *testing.T) {
	sig := PermitSignature{
		V: 0,
		R: "0x" + "11" + "00000000000000000000000000000000000000000000000000000000000000"[:62],
		S: "0x" + "22" + "00000000000000000000000000000000000000000000000000000000000000"[:62],
	}
	combined, err := CombineSignature(sig)
	require.NoError(t, err)
	assert.Len(t, combined, 65)
	assert.Equal(t, byte(27), combined[64], "v normalized to 27")

	_, err = CombineSignature(PermitSignature{V: 27, R: "0x11", S: "0x22"})
	assert.Error(t, err, "short components rejected")
}
