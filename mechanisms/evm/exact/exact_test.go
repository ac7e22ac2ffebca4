package exact

import (
	"context"
	"errors"
	"math/big"
	"strconv"
	"strings"
	"testing"
	"time"

	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"

	"github.com/t402-io/t402/go/mechanisms/evm"
	"github.com/t402-io/t402/go/types"
)

const (
	payerAddress     = "0x1111111111111111111111111111111111111111"
	recipientAddress = "0x2222222222222222222222222222222222222222"
)

type mockClientSigner struct {
	address   string
	signErr   error
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
	if m.signErr != nil {
		return nil, m.signErr
	}
	sig := make([]byte, 65)
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
	nonceUsed     bool
	verifyResult  bool
	verifyErr     error
	writeCalls    []writeCall
	writeErr      error
	txHash        string
	receiptStatus uint64
}

func (m *mockFacilitatorSigner) GetAddresses() []string {
	return m.addresses
}

func (m *mockFacilitatorSigner) ReadContract(ctx context.Context, address string, abi []byte, functionName string, args ...interface{}) (interface{}, error) {
	if functionName == evm.FunctionAuthorizationState {
		return m.nonceUsed, nil
	}
	return nil, nil
}

func (m *mockFacilitatorSigner) VerifyTypedData(ctx context.Context, address string, domain evm.TypedDataDomain, dataTypes map[string][]evm.TypedDataField, primaryType string, message map[string]interface{}, signature []byte) (bool, error) {
	if m.verifyErr != nil {
		return false, m.verifyErr
	}
	return m.verifyResult, nil
}

func (m *mockFacilitatorSigner) WriteContract(ctx context.Context, address string, abi []byte, functionName string, args ...interface{}) (string, error) {
	m.writeCalls = append(m.writeCalls, writeCall{address: address, functionName: functionName, args: args})
	if m.writeErr != nil {
		return "", m.writeErr
	}
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
	return evm.ChainIDBaseSepolia, nil
}

func testRequirements() types.PaymentRequirements {
	return types.PaymentRequirements{
		Scheme:            evm.SchemeExact,
		Network:           "eip155:84532",
		Asset:             "",
		Amount:            "10000",
		PayTo:             recipientAddress,
		MaxTimeoutSeconds: 600,
	}
}

func testPayload(t *testing.T, mutate func(*evm.ExactEIP3009Authorization)) types.PaymentPayload {
	t.Helper()

	now := time.Now().Unix()
	authorization := evm.ExactEIP3009Authorization{
		From:        payerAddress,
		To:          recipientAddress,
		Value:       "10000",
		ValidAfter:  strconv.FormatInt(now-600, 10),
		ValidBefore: strconv.FormatInt(now+600, 10),
		Nonce:       "0x0101010101010101010101010101010101010101010101010101010101010101",
	}
	if mutate != nil {
		mutate(&authorization)
	}

	evmPayload := &evm.ExactEIP3009Payload{
		Signature:     evm.BytesToHex(make([]byte, 65)),
		Authorization: authorization,
	}

	return types.PaymentPayload{
		T402Version: types.T402Version,
		Payload:     evmPayload.ToMap(),
		Accepted:    testRequirements(),
	}
}

func TestClientCreatePaymentPayload(t *testing.T) {
	signer := &mockClientSigner{address: payerAddress}
	client := NewClient(signer)

	payload, err := client.CreatePaymentPayload(context.Background(), types.T402Version, testRequirements())
	require.NoError(t, err)
	assert.Equal(t, types.T402Version, payload.T402Version)
	assert.Equal(t, 1, signer.signCalls)

	parsed, err := evm.PayloadFromMap(payload.Payload)
	require.NoError(t, err)
	assert.Equal(t, payerAddress, parsed.Authorization.From)
	assert.Equal(t, recipientAddress, parsed.Authorization.To)
	assert.Equal(t, "10000", parsed.Authorization.Value)
	assert.Empty(t, parsed.Authorization.Spender)
	assert.NotEmpty(t, parsed.Signature)

	nonceBytes, err := evm.HexToBytes(parsed.Authorization.Nonce)
	require.NoError(t, err)
	assert.Len(t, nonceBytes, 32)
}

func TestClientNoncesAreUnique(t *testing.T) {
	client := NewClient(&mockClientSigner{address: payerAddress})

	first, err := client.CreatePaymentPayload(context.Background(), types.T402Version, testRequirements())
	require.NoError(t, err)
	second, err := client.CreatePaymentPayload(context.Background(), types.T402Version, testRequirements())
	require.NoError(t, err)

	parsedFirst, _ := evm.PayloadFromMap(first.Payload)
	parsedSecond, _ := evm.PayloadFromMap(second.Payload)
	assert.NotEqual(t, parsedFirst.Authorization.Nonce, parsedSecond.Authorization.Nonce)
}

func TestClientSchemeMismatch(t *testing.T) {
	client := NewClient(&mockClientSigner{address: payerAddress})

	requirements := testRequirements()
	requirements.Scheme = evm.SchemeUpto
	_, err := client.CreatePaymentPayload(context.Background(), types.T402Version, requirements)
	require.Error(t, err)
	assert.Contains(t, err.Error(), "scheme mismatch")
}

func TestClientSignerErrorPropagates(t *testing.T) {
	signErr := errors.New("device locked")
	client := NewClient(&mockClientSigner{address: payerAddress, signErr: signErr})

	_, err := client.CreatePaymentPayload(context.Background(), types.T402Version, testRequirements())
	require.Error(t, err)
	assert.ErrorIs(t, err, signErr)
}

func healthySigner() *mockFacilitatorSigner {
	return &mockFacilitatorSigner{
		addresses:     []string{"0x9999999999999999999999999999999999999999"},
		balance:       big.NewInt(1000000),
		verifyResult:  true,
		txHash:        "0xtxhash",
		receiptStatus: evm.TxStatusSuccess,
	}
}

func TestFacilitatorVerify(t *testing.T) {
	t.Run("valid payment", func(t *testing.T) {
		facilitator := NewFacilitator(healthySigner())
		resp, err := facilitator.Verify(context.Background(), testPayload(t, nil), testRequirements())
		require.NoError(t, err)
		assert.True(t, resp.IsValid)
		assert.Equal(t, payerAddress, resp.Payer)
	})

	t.Run("recipient mismatch", func(t *testing.T) {
		facilitator := NewFacilitator(healthySigner())
		payload := testPayload(t, func(a *evm.ExactEIP3009Authorization) {
			a.To = "0x4444444444444444444444444444444444444444"
		})
		resp, err := facilitator.Verify(context.Background(), payload, testRequirements())
		require.NoError(t, err)
		assert.False(t, resp.IsValid)
		assert.Equal(t, evm.ErrRecipientMismatch, resp.InvalidReason)
	})

	t.Run("expired authorization", func(t *testing.T) {
		facilitator := NewFacilitator(healthySigner())
		payload := testPayload(t, func(a *evm.ExactEIP3009Authorization) {
			a.ValidBefore = strconv.FormatInt(time.Now().Unix()-10, 10)
		})
		resp, err := facilitator.Verify(context.Background(), payload, testRequirements())
		require.NoError(t, err)
		assert.False(t, resp.IsValid)
		assert.Equal(t, evm.ErrAuthorizationExpired, resp.InvalidReason)
	})

	t.Run("not yet valid", func(t *testing.T) {
		facilitator := NewFacilitator(healthySigner())
		payload := testPayload(t, func(a *evm.ExactEIP3009Authorization) {
			a.ValidAfter = strconv.FormatInt(time.Now().Unix()+600, 10)
		})
		resp, err := facilitator.Verify(context.Background(), payload, testRequirements())
		require.NoError(t, err)
		assert.False(t, resp.IsValid)
		assert.Equal(t, evm.ErrAuthorizationNotYet, resp.InvalidReason)
	})

	t.Run("insufficient amount", func(t *testing.T) {
		facilitator := NewFacilitator(healthySigner())
		payload := testPayload(t, func(a *evm.ExactEIP3009Authorization) {
			a.Value = "9999"
		})
		resp, err := facilitator.Verify(context.Background(), payload, testRequirements())
		require.NoError(t, err)
		assert.False(t, resp.IsValid)
		assert.Equal(t, evm.ErrInsufficientAmount, resp.InvalidReason)
	})

	t.Run("nonce already used", func(t *testing.T) {
		signer := healthySigner()
		signer.nonceUsed = true
		facilitator := NewFacilitator(signer)
		resp, err := facilitator.Verify(context.Background(), testPayload(t, nil), testRequirements())
		require.NoError(t, err)
		assert.False(t, resp.IsValid)
		assert.Equal(t, evm.ErrNonceAlreadyUsed, resp.InvalidReason)
	})

	t.Run("insufficient balance", func(t *testing.T) {
		signer := healthySigner()
		signer.balance = big.NewInt(1)
		facilitator := NewFacilitator(signer)
		resp, err := facilitator.Verify(context.Background(), testPayload(t, nil), testRequirements())
		require.NoError(t, err)
		assert.False(t, resp.IsValid)
		assert.Equal(t, evm.ErrInsufficientBalance, resp.InvalidReason)
	})

	t.Run("invalid signature", func(t *testing.T) {
		signer := healthySigner()
		signer.verifyResult = false
		facilitator := NewFacilitator(signer)
		resp, err := facilitator.Verify(context.Background(), testPayload(t, nil), testRequirements())
		require.NoError(t, err)
		assert.False(t, resp.IsValid)
		assert.Equal(t, evm.ErrInvalidSignature, resp.InvalidReason)
	})

	t.Run("short nonce rejected", func(t *testing.T) {
		facilitator := NewFacilitator(healthySigner())
		payload := testPayload(t, func(a *evm.ExactEIP3009Authorization) {
			a.Nonce = "0xdead"
		})
		resp, err := facilitator.Verify(context.Background(), payload, testRequirements())
		require.NoError(t, err)
		assert.False(t, resp.IsValid)
		assert.Equal(t, "invalid_payload", resp.InvalidReason)
	})

	t.Run("oversized nonce rejected", func(t *testing.T) {
		facilitator := NewFacilitator(healthySigner())
		payload := testPayload(t, func(a *evm.ExactEIP3009Authorization) {
			a.Nonce = "0x" + strings.Repeat("01", 33)
		})
		resp, err := facilitator.Verify(context.Background(), payload, testRequirements())
		require.NoError(t, err)
		assert.False(t, resp.IsValid)
		assert.Equal(t, "invalid_payload", resp.InvalidReason)
	})

	t.Run("spender rejected", func(t *testing.T) {
		facilitator := NewFacilitator(healthySigner())
		payload := testPayload(t, func(a *evm.ExactEIP3009Authorization) {
			a.Spender = "0x9999999999999999999999999999999999999999"
		})
		resp, err := facilitator.Verify(context.Background(), payload, testRequirements())
		require.NoError(t, err)
		assert.False(t, resp.IsValid)
	})
}

func TestFacilitatorVerifyIsRepeatable(t *testing.T) {
	signer := healthySigner()
	facilitator := NewFacilitator(signer)

	for i := 0; i < 3; i++ {
		resp, err := facilitator.Verify(context.Background(), testPayload(t, nil), testRequirements())
		require.NoError(t, err)
		assert.True(t, resp.IsValid)
	}
	assert.Empty(t, signer.writeCalls, "verify must not mutate state")
}

func TestFacilitatorSettle(t *testing.T) {
	t.Run("success", func(t *testing.T) {
		signer := healthySigner()
		facilitator := NewFacilitator(signer)

		resp, err := facilitator.Settle(context.Background(), testPayload(t, nil), testRequirements())
		require.NoError(t, err)
		assert.True(t, resp.Success)
		assert.Equal(t, "0xtxhash", resp.Transaction)
		assert.Equal(t, "eip155:84532", resp.Network)
		assert.Equal(t, payerAddress, resp.Payer)

		require.Len(t, signer.writeCalls, 1)
		call := signer.writeCalls[0]
		assert.Equal(t, evm.FunctionTransferWithAuthorization, call.functionName)
		assert.Equal(t, payerAddress, call.args[0])
		assert.Equal(t, recipientAddress, call.args[1])
	})

	t.Run("verify failure short-circuits", func(t *testing.T) {
		signer := healthySigner()
		signer.verifyResult = false
		facilitator := NewFacilitator(signer)

		resp, err := facilitator.Settle(context.Background(), testPayload(t, nil), testRequirements())
		require.NoError(t, err)
		assert.False(t, resp.Success)
		assert.Equal(t, evm.ErrInvalidSignature, resp.ErrorReason)
		assert.Empty(t, signer.writeCalls, "no transaction on failed verify")
	})

	t.Run("reverted transaction", func(t *testing.T) {
		signer := healthySigner()
		signer.receiptStatus = evm.TxStatusFailed
		facilitator := NewFacilitator(signer)

		resp, err := facilitator.Settle(context.Background(), testPayload(t, nil), testRequirements())
		require.NoError(t, err)
		assert.False(t, resp.Success)
		assert.Equal(t, "0xtxhash", resp.Transaction)
	})
}
