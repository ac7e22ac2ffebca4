package erc4337

import (
	"context"
	"encoding/json"
	"errors"
	"math/big"
	"net/http"
	"net/http/httptest"
	"sync/atomic"
	"testing"
	"time"

	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"
)

// rpcHandler builds a JSON-RPC test server dispatching on method name.
func rpcHandler(t *testing.T, handlers map[string]func(params []json.RawMessage) (interface{}, *RPCError)) *httptest.Server {
	t.Helper()
	return httptest.NewServer(http.HandlerFunc(func(w http.ResponseWriter, r *http.Request) {
		var req struct {
			Method string            `json:"method"`
			Params []json.RawMessage `json:"params"`
			ID     int64             `json:"id"`
		}
		require.NoError(t, json.NewDecoder(r.Body).Decode(&req))

		handler, ok := handlers[req.Method]
		require.True(t, ok, "unexpected method %s", req.Method)

		result, rpcErr := handler(req.Params)
		resp := map[string]interface{}{"jsonrpc": "2.0", "id": req.ID}
		if rpcErr != nil {
			resp["error"] = rpcErr
		} else {
			resp["result"] = result
		}
		w.Header().Set("Content-Type", "application/json")
		require.NoError(t, json.NewEncoder(w).Encode(resp))
	}))
}

func testOp(t *testing.T) *UserOperation {
	t.Helper()
	op, err := NewUserOperation(testSender)
	require.NoError(t, err)
	op.CallData = "0xa9059cbb"
	return op
}

func TestSendUserOperation(t *testing.T) {
	server := rpcHandler(t, map[string]func([]json.RawMessage) (interface{}, *RPCError){
		"eth_sendUserOperation": func(params []json.RawMessage) (interface{}, *RPCError) {
			require.Len(t, params, 2)

			var op map[string]interface{}
			require.NoError(t, json.Unmarshal(params[0], &op))
			assert.Contains(t, op, "accountGasLimits")
			assert.Contains(t, op, "gasFees")
			assert.NotContains(t, op, "verificationGasLimit")

			var entryPoint string
			require.NoError(t, json.Unmarshal(params[1], &entryPoint))
			assert.Equal(t, EntryPointV07, entryPoint)

			return "0xuserophash", nil
		},
	})
	defer server.Close()

	client := NewBundlerClient(server.URL)
	hash, err := client.SendUserOperation(context.Background(), testOp(t))
	require.NoError(t, err)
	assert.Equal(t, "0xuserophash", hash)
}

func TestRPCErrorIsTyped(t *testing.T) {
	server := rpcHandler(t, map[string]func([]json.RawMessage) (interface{}, *RPCError){
		"eth_sendUserOperation": func([]json.RawMessage) (interface{}, *RPCError) {
			return nil, &RPCError{Code: -32500, Message: "AA21 didn't pay prefund"}
		},
	})
	defer server.Close()

	client := NewBundlerClient(server.URL)
	_, err := client.SendUserOperation(context.Background(), testOp(t))
	require.Error(t, err)

	var rpcErr *RPCError
	require.True(t, errors.As(err, &rpcErr))
	assert.Equal(t, -32500, rpcErr.Code)
	assert.Contains(t, rpcErr.Message, "prefund")
}

func TestEstimateUserOperationGas(t *testing.T) {
	server := rpcHandler(t, map[string]func([]json.RawMessage) (interface{}, *RPCError){
		"eth_estimateUserOperationGas": func([]json.RawMessage) (interface{}, *RPCError) {
			return map[string]interface{}{
				"verificationGasLimit": "0x30d40",
				"callGasLimit":         "0x186a0",
				"preVerificationGas":   "0xc350",
			}, nil
		},
	})
	defer server.Close()

	client := NewBundlerClient(server.URL)
	estimate, err := client.EstimateUserOperationGas(context.Background(), testOp(t))
	require.NoError(t, err)
	assert.Equal(t, big.NewInt(200000), estimate.VerificationGasLimit)
	assert.Equal(t, big.NewInt(100000), estimate.CallGasLimit)
	assert.Equal(t, big.NewInt(50000), estimate.PreVerificationGas)
	assert.Nil(t, estimate.PaymasterVerificationGasLimit)

	op := testOp(t)
	op.VerificationGasLimit = "0x1"
	estimate.ApplyTo(op)
	assert.Equal(t, "0x30d40", op.VerificationGasLimit)
}

func TestWaitForReceiptPolls(t *testing.T) {
	var calls atomic.Int64
	server := rpcHandler(t, map[string]func([]json.RawMessage) (interface{}, *RPCError){
		"eth_getUserOperationReceipt": func([]json.RawMessage) (interface{}, *RPCError) {
			if calls.Add(1) < 3 {
				return nil, nil
			}
			return map[string]interface{}{
				"userOpHash":    "0xuserophash",
				"sender":        testSender,
				"nonce":         "0x0",
				"actualGasCost": "0x5208",
				"actualGasUsed": "0x5208",
				"success":       true,
				"receipt": map[string]interface{}{
					"transactionHash": "0xtxhash",
					"blockNumber":     "0x10",
					"blockHash":       "0xblockhash",
				},
			}, nil
		},
	})
	defer server.Close()

	client := NewBundlerClient(server.URL)
	receipt, err := client.WaitForReceiptWithin(context.Background(), "0xuserophash", 5*time.Second, 10*time.Millisecond)
	require.NoError(t, err)
	assert.True(t, receipt.Success)
	assert.Equal(t, "0xtxhash", receipt.TransactionHash)
	assert.Equal(t, big.NewInt(16), receipt.BlockNumber)
	assert.GreaterOrEqual(t, calls.Load(), int64(3))
}

func TestWaitForReceiptTimeout(t *testing.T) {
	server := rpcHandler(t, map[string]func([]json.RawMessage) (interface{}, *RPCError){
		"eth_getUserOperationReceipt": func([]json.RawMessage) (interface{}, *RPCError) {
			return nil, nil
		},
	})
	defer server.Close()

	client := NewBundlerClient(server.URL)
	_, err := client.WaitForReceiptWithin(context.Background(), "0xuserophash", 30*time.Millisecond, 10*time.Millisecond)
	require.Error(t, err)
	assert.Contains(t, err.Error(), "timeout")
}

func TestSupportedEntryPointsAndChainID(t *testing.T) {
	server := rpcHandler(t, map[string]func([]json.RawMessage) (interface{}, *RPCError){
		"eth_supportedEntryPoints": func([]json.RawMessage) (interface{}, *RPCError) {
			return []string{EntryPointV07}, nil
		},
		"eth_chainId": func([]json.RawMessage) (interface{}, *RPCError) {
			return "0x2105", nil
		},
	})
	defer server.Close()

	client := NewBundlerClient(server.URL)

	entryPoints, err := client.SupportedEntryPoints(context.Background())
	require.NoError(t, err)
	assert.Equal(t, []string{EntryPointV07}, entryPoints)

	chainID, err := client.ChainID(context.Background())
	require.NoError(t, err)
	assert.Equal(t, big.NewInt(8453), chainID)
}

func TestAlchemyRequestGasAndPaymasterAndData(t *testing.T) {
	server := rpcHandler(t, map[string]func([]json.RawMessage) (interface{}, *RPCError){
		"alchemy_requestGasAndPaymasterAndData": func(params []json.RawMessage) (interface{}, *RPCError) {
			var p map[string]interface{}
			if err := json.Unmarshal(params[0], &p); err != nil {
				return nil, &RPCError{Code: -32602, Message: "bad params"}
			}
			if p["policyId"] != "policy-1" {
				return nil, &RPCError{Code: -32602, Message: "missing policy"}
			}
			return map[string]interface{}{
				"paymasterAndData":     "0xpaymaster",
				"preVerificationGas":   "0x1",
				"verificationGasLimit": "0x2",
				"callGasLimit":         "0x3",
				"maxFeePerGas":         "0x4",
				"maxPriorityFeePerGas": "0x5",
			}, nil
		},
	})
	defer server.Close()

	bundler := NewAlchemyBundlerURL(server.URL, "policy-1")
	original := testOp(t)
	sponsored, err := bundler.RequestGasAndPaymasterAndData(context.Background(), original)
	require.NoError(t, err)

	assert.Equal(t, "0xpaymaster", sponsored.PaymasterAndData)
	assert.Equal(t, "0x2", sponsored.VerificationGasLimit)
	assert.Equal(t, "0x3", sponsored.CallGasLimit)
	// The input operation is left untouched
	assert.Equal(t, "0x", original.PaymasterAndData)
}

func TestNewAlchemyBundlerUnsupportedChain(t *testing.T) {
	_, err := NewAlchemyBundler("key", 999999, "")
	require.Error(t, err)
	assert.Contains(t, err.Error(), "not served")
}

func TestPimlicoSponsorUserOperation(t *testing.T) {
	server := rpcHandler(t, map[string]func([]json.RawMessage) (interface{}, *RPCError){
		"pm_sponsorUserOperation": func([]json.RawMessage) (interface{}, *RPCError) {
			return map[string]interface{}{
				"paymaster":                     "0x4Fd9098af9ddcB41DA48A1d78F91F1398965addc",
				"paymasterVerificationGasLimit": "0xea60",
				"paymasterPostOpGasLimit":       "0x4e20",
				"paymasterData":                 "0xdeadbeef",
				"preVerificationGas":            "0x1",
				"verificationGasLimit":          "0x2",
				"callGasLimit":                  "0x3",
			}, nil
		},
	})
	defer server.Close()

	bundler := NewPimlicoBundlerURL(server.URL)
	sponsored, err := bundler.SponsorUserOperation(context.Background(), testOp(t), "")
	require.NoError(t, err)

	grant, err := DecodePaymasterData(sponsored.PaymasterAndData)
	require.NoError(t, err)
	assert.Equal(t, "0x4Fd9098af9ddcB41DA48A1d78F91F1398965addc", grant.Paymaster)
	assert.Equal(t, big.NewInt(60000), grant.VerificationGasLimit)
	assert.Equal(t, big.NewInt(20000), grant.PostOpGasLimit)
	assert.Equal(t, "0xdeadbeef", grant.Data)
}
