package exact

import (
	"context"
	"testing"
	"time"

	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"

	"github.com/t402-io/t402/go/mechanisms/tron"
	"github.com/t402-io/t402/go/types"
)

const (
	payerAddress    = "TJYPgMHqGBqbjmgcDxBQEL1PPxbRvnLBKY"
	merchantAddress = "TEkxiTehnzSmSe2XqrBj4w32RUN966rdz8"
	signedTx        = "0a02deadbeef"
)

type mockClientSigner struct {
	signed *tron.SignTransactionParams
}

func (m *mockClientSigner) Address() string { return payerAddress }

func (m *mockClientSigner) GetBlockInfo(context.Context) (*tron.BlockInfo, error) {
	return &tron.BlockInfo{
		RefBlockBytes: "1a2b",
		RefBlockHash:  "aabbccdd11223344",
		Expiration:    time.Now().UnixMilli() + 60_000,
		Timestamp:     time.Now().UnixMilli(),
	}, nil
}

func (m *mockClientSigner) SignTransaction(_ context.Context, params tron.SignTransactionParams) (string, error) {
	m.signed = &params
	return signedTx, nil
}

func testRequirements() types.PaymentRequirements {
	return types.PaymentRequirements{
		Scheme:            tron.SchemeExact,
		Network:           types.Network(tron.NetworkMainnet),
		Asset:             tron.USDTMainnetAddress,
		Amount:            "1000000",
		PayTo:             merchantAddress,
		MaxTimeoutSeconds: 300,
	}
}

func TestClientCreatePaymentPayload(t *testing.T) {
	signer := &mockClientSigner{}
	client := NewClient(signer)
	require.Equal(t, tron.SchemeExact, client.Scheme())

	payload, err := client.CreatePaymentPayload(context.Background(), types.T402Version, testRequirements())
	require.NoError(t, err)

	decoded, err := tron.PayloadFromMap(payload.Payload)
	require.NoError(t, err)

	assert.Equal(t, signedTx, decoded.SignedTransaction)
	assert.Equal(t, payerAddress, decoded.Authorization.From)
	assert.Equal(t, merchantAddress, decoded.Authorization.To)
	assert.Equal(t, tron.USDTMainnetAddress, decoded.Authorization.ContractAddress)
	assert.Equal(t, "1000000", decoded.Authorization.Amount)
	assert.Equal(t, "1a2b", decoded.Authorization.RefBlockBytes)

	require.NotNil(t, signer.signed)
	assert.Equal(t, int64(tron.DefaultFeeLimit), signer.signed.FeeLimit)
	assert.Equal(t, merchantAddress, signer.signed.To)
}

func TestClientFeeLimitOverride(t *testing.T) {
	signer := &mockClientSigner{}
	client := NewClient(signer).WithFeeLimit(tron.MinFeeLimit)

	_, err := client.CreatePaymentPayload(context.Background(), types.T402Version, testRequirements())
	require.NoError(t, err)
	assert.Equal(t, int64(tron.MinFeeLimit), signer.signed.FeeLimit)
}

func TestClientValidation(t *testing.T) {
	client := NewClient(&mockClientSigner{})
	ctx := context.Background()

	t.Run("wrong scheme", func(t *testing.T) {
		requirements := testRequirements()
		requirements.Scheme = "upto"
		_, err := client.CreatePaymentPayload(ctx, types.T402Version, requirements)
		require.Error(t, err)
		assert.Contains(t, err.Error(), "scheme mismatch")
	})

	t.Run("unsupported network", func(t *testing.T) {
		requirements := testRequirements()
		requirements.Network = "eip155:1"
		_, err := client.CreatePaymentPayload(ctx, types.T402Version, requirements)
		require.Error(t, err)
	})

	t.Run("invalid contract address", func(t *testing.T) {
		requirements := testRequirements()
		requirements.Asset = "0x1111111111111111111111111111111111111111"
		_, err := client.CreatePaymentPayload(ctx, types.T402Version, requirements)
		require.Error(t, err)
	})

	t.Run("invalid payTo", func(t *testing.T) {
		requirements := testRequirements()
		requirements.PayTo = "TR7NHqjeKQxGTCi8q8ZY4pL8otSzgjLj6u" // bad checksum
		_, err := client.CreatePaymentPayload(ctx, types.T402Version, requirements)
		require.Error(t, err)
	})
}

type mockFacilitatorSigner struct {
	balance      string
	activated    bool
	verifyResult *tron.VerifyTransactionResult
	confirmation *tron.TransactionConfirmation

	broadcastTx string
	broadcasts  int
}

func newMockFacilitatorSigner() *mockFacilitatorSigner {
	return &mockFacilitatorSigner{
		balance:      "5000000",
		activated:    true,
		verifyResult: &tron.VerifyTransactionResult{Valid: true},
		confirmation: &tron.TransactionConfirmation{Success: true, TxId: "confirmed-tx"},
	}
}

func (m *mockFacilitatorSigner) GetAddresses(context.Context, string) []string {
	return []string{merchantAddress}
}

func (m *mockFacilitatorSigner) GetBalance(context.Context, tron.GetBalanceParams) (string, error) {
	return m.balance, nil
}

func (m *mockFacilitatorSigner) VerifyTransaction(context.Context, tron.VerifyTransactionParams) (*tron.VerifyTransactionResult, error) {
	return m.verifyResult, nil
}

func (m *mockFacilitatorSigner) BroadcastTransaction(_ context.Context, tx string, _ string) (string, error) {
	m.broadcastTx = tx
	m.broadcasts++
	return "txid", nil
}

func (m *mockFacilitatorSigner) WaitForTransaction(context.Context, tron.WaitForTransactionParams) (*tron.TransactionConfirmation, error) {
	return m.confirmation, nil
}

func (m *mockFacilitatorSigner) IsActivated(context.Context, string, string) (bool, error) {
	return m.activated, nil
}

func testPayload(t *testing.T) types.PaymentPayload {
	t.Helper()
	tronPayload := &tron.ExactTronPayload{
		SignedTransaction: signedTx,
		Authorization: tron.ExactTronAuthorization{
			From:            payerAddress,
			To:              merchantAddress,
			ContractAddress: tron.USDTMainnetAddress,
			Amount:          "1000000",
			Expiration:      time.Now().UnixMilli() + 300_000,
			RefBlockBytes:   "1a2b",
			RefBlockHash:    "aabbccdd11223344",
			Timestamp:       time.Now().UnixMilli(),
		},
	}
	return types.PaymentPayload{
		T402Version: types.T402Version,
		Payload:     tronPayload.ToMap(),
		Accepted:    testRequirements(),
	}
}

func TestFacilitatorVerify(t *testing.T) {
	ctx := context.Background()

	t.Run("valid", func(t *testing.T) {
		resp, err := NewFacilitator(newMockFacilitatorSigner()).Verify(ctx, testPayload(t), testRequirements())
		require.NoError(t, err)
		assert.True(t, resp.IsValid)
		assert.Equal(t, payerAddress, resp.Payer)
	})

	t.Run("transaction verification failure", func(t *testing.T) {
		signer := newMockFacilitatorSigner()
		signer.verifyResult = &tron.VerifyTransactionResult{Valid: false, Reason: "signature mismatch"}
		resp, err := NewFacilitator(signer).Verify(ctx, testPayload(t), testRequirements())
		require.NoError(t, err)
		assert.False(t, resp.IsValid)
		assert.Equal(t, "transaction_verification_failed", resp.InvalidReason)
	})

	t.Run("expired", func(t *testing.T) {
		payload := testPayload(t)
		auth := payload.Payload["authorization"].(map[string]interface{})
		auth["expiration"] = time.Now().UnixMilli() - 1000
		resp, err := NewFacilitator(newMockFacilitatorSigner()).Verify(ctx, payload, testRequirements())
		require.NoError(t, err)
		assert.False(t, resp.IsValid)
		assert.Equal(t, "authorization_expired", resp.InvalidReason)
	})

	t.Run("expiring inside the buffer", func(t *testing.T) {
		payload := testPayload(t)
		auth := payload.Payload["authorization"].(map[string]interface{})
		auth["expiration"] = time.Now().UnixMilli() + 10_000 // under the 30s buffer
		resp, err := NewFacilitator(newMockFacilitatorSigner()).Verify(ctx, payload, testRequirements())
		require.NoError(t, err)
		assert.False(t, resp.IsValid)
		assert.Equal(t, "authorization_expired", resp.InvalidReason)
	})

	t.Run("account not activated", func(t *testing.T) {
		signer := newMockFacilitatorSigner()
		signer.activated = false
		resp, err := NewFacilitator(signer).Verify(ctx, testPayload(t), testRequirements())
		require.NoError(t, err)
		assert.False(t, resp.IsValid)
		assert.Equal(t, "account_not_activated", resp.InvalidReason)
	})

	t.Run("insufficient balance", func(t *testing.T) {
		signer := newMockFacilitatorSigner()
		signer.balance = "999999"
		resp, err := NewFacilitator(signer).Verify(ctx, testPayload(t), testRequirements())
		require.NoError(t, err)
		assert.False(t, resp.IsValid)
		assert.Equal(t, "insufficient_balance", resp.InvalidReason)
	})

	t.Run("amount below required", func(t *testing.T) {
		payload := testPayload(t)
		auth := payload.Payload["authorization"].(map[string]interface{})
		auth["amount"] = "999999"
		resp, err := NewFacilitator(newMockFacilitatorSigner()).Verify(ctx, payload, testRequirements())
		require.NoError(t, err)
		assert.False(t, resp.IsValid)
		assert.Equal(t, "insufficient_amount", resp.InvalidReason)
	})

	t.Run("recipient mismatch", func(t *testing.T) {
		requirements := testRequirements()
		requirements.PayTo = payerAddress
		resp, err := NewFacilitator(newMockFacilitatorSigner()).Verify(ctx, testPayload(t), requirements)
		require.NoError(t, err)
		assert.False(t, resp.IsValid)
		assert.Equal(t, "recipient_mismatch", resp.InvalidReason)
	})
}

func TestFacilitatorGetExtra(t *testing.T) {
	signer := newMockFacilitatorSigner()

	extra := NewFacilitator(signer).GetExtra(types.Network(tron.NetworkMainnet))
	require.NotNil(t, extra)
	assert.Equal(t, tron.USDTMainnetAddress, extra["defaultAsset"])
	_, hasSponsor := extra["gasSponsor"]
	assert.False(t, hasSponsor)

	extra = NewFacilitator(signer).WithGasSponsorship().GetExtra(types.Network(tron.NetworkMainnet))
	assert.Equal(t, merchantAddress, extra["gasSponsor"])

	assert.Nil(t, NewFacilitator(signer).GetExtra("eip155:1"))
}

func TestFacilitatorSettle(t *testing.T) {
	ctx := context.Background()

	t.Run("success", func(t *testing.T) {
		signer := newMockFacilitatorSigner()
		resp, err := NewFacilitator(signer).Settle(ctx, testPayload(t), testRequirements())
		require.NoError(t, err)
		assert.True(t, resp.Success)
		assert.Equal(t, "confirmed-tx", resp.Transaction)
		assert.Equal(t, payerAddress, resp.Payer)
		assert.Equal(t, signedTx, signer.broadcastTx)
	})

	t.Run("invalid payment never broadcasts", func(t *testing.T) {
		signer := newMockFacilitatorSigner()
		signer.balance = "0"
		resp, err := NewFacilitator(signer).Settle(ctx, testPayload(t), testRequirements())
		require.NoError(t, err)
		assert.False(t, resp.Success)
		assert.Equal(t, "insufficient_balance", resp.ErrorReason)
		assert.Zero(t, signer.broadcasts)
	})

	t.Run("failed confirmation", func(t *testing.T) {
		signer := newMockFacilitatorSigner()
		signer.confirmation = &tron.TransactionConfirmation{Success: false, Error: "OUT_OF_ENERGY"}
		resp, err := NewFacilitator(signer).Settle(ctx, testPayload(t), testRequirements())
		require.NoError(t, err)
		assert.False(t, resp.Success)
		assert.Equal(t, "OUT_OF_ENERGY", resp.ErrorReason)
		assert.Equal(t, "txid", resp.Transaction)
	})
}
