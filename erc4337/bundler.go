package erc4337

import (
	"bytes"
	"context"
	"encoding/json"
	"fmt"
	"io"
	"math/big"
	"net/http"
	"sync/atomic"
	"time"
)

// Receipt polling defaults for WaitForReceipt.
const (
	DefaultReceiptTimeout  = 60 * time.Second
	DefaultReceiptInterval = 2 * time.Second
)

// RPCError is the JSON-RPC error member returned by a bundler or paymaster.
// It is surfaced whenever the response body carries one, regardless of the
// HTTP status code.
type RPCError struct {
	Code    int    `json:"code"`
	Message string `json:"message"`
}

func (e *RPCError) Error() string {
	return fmt.Sprintf("rpc error %d: %s", e.Code, e.Message)
}

type rpcClient struct {
	url        string
	httpClient *http.Client
	nextID     atomic.Int64
}

func newRPCClient(url string) *rpcClient {
	return &rpcClient{
		url:        url,
		httpClient: &http.Client{Timeout: 30 * time.Second},
	}
}

func (c *rpcClient) call(ctx context.Context, method string, params ...interface{}) (json.RawMessage, error) {
	if params == nil {
		params = []interface{}{}
	}
	body, err := json.Marshal(map[string]interface{}{
		"jsonrpc": "2.0",
		"id":      c.nextID.Add(1),
		"method":  method,
		"params":  params,
	})
	if err != nil {
		return nil, fmt.Errorf("failed to encode %s request: %w", method, err)
	}

	req, err := http.NewRequestWithContext(ctx, http.MethodPost, c.url, bytes.NewReader(body))
	if err != nil {
		return nil, err
	}
	req.Header.Set("Content-Type", "application/json")

	resp, err := c.httpClient.Do(req)
	if err != nil {
		return nil, fmt.Errorf("%s request failed: %w", method, err)
	}
	defer resp.Body.Close()

	respBody, err := io.ReadAll(resp.Body)
	if err != nil {
		return nil, fmt.Errorf("failed to read %s response: %w", method, err)
	}

	var envelope struct {
		Result json.RawMessage `json:"result"`
		Error  *RPCError       `json:"error"`
	}
	if err := json.Unmarshal(respBody, &envelope); err != nil {
		if resp.StatusCode != http.StatusOK {
			return nil, fmt.Errorf("%s returned HTTP %d", method, resp.StatusCode)
		}
		return nil, fmt.Errorf("malformed %s response: %w", method, err)
	}
	if envelope.Error != nil {
		return nil, envelope.Error
	}
	if resp.StatusCode != http.StatusOK {
		return nil, fmt.Errorf("%s returned HTTP %d", method, resp.StatusCode)
	}
	return envelope.Result, nil
}

// GasEstimate is a bundler gas estimation result. The paymaster limits are
// nil when the bundler omits them.
type GasEstimate struct {
	VerificationGasLimit          *big.Int
	CallGasLimit                  *big.Int
	PreVerificationGas            *big.Int
	PaymasterVerificationGasLimit *big.Int
	PaymasterPostOpGasLimit       *big.Int
}

// ApplyTo overwrites the operation's three account gas fields with the
// estimate.
func (g *GasEstimate) ApplyTo(op *UserOperation) {
	op.VerificationGasLimit = bigToHex(g.VerificationGasLimit)
	op.CallGasLimit = bigToHex(g.CallGasLimit)
	op.PreVerificationGas = bigToHex(g.PreVerificationGas)
}

// UserOperationReceipt is the bundler's record of an executed operation.
type UserOperationReceipt struct {
	UserOpHash      string
	Sender          string
	Nonce           *big.Int
	Paymaster       string
	ActualGasCost   *big.Int
	ActualGasUsed   *big.Int
	Success         bool
	Reason          string
	TransactionHash string
	BlockNumber     *big.Int
	BlockHash       string
}

// BundlerClient submits and tracks UserOperations through a bundler's
// JSON-RPC interface.
type BundlerClient struct {
	rpc        *rpcClient
	entryPoint string
}

// NewBundlerClient creates a bundler client against the v0.7 EntryPoint.
func NewBundlerClient(url string) *BundlerClient {
	return NewBundlerClientWithEntryPoint(url, EntryPointV07)
}

// NewBundlerClientWithEntryPoint creates a bundler client for a custom
// EntryPoint address.
func NewBundlerClientWithEntryPoint(url, entryPoint string) *BundlerClient {
	return &BundlerClient{rpc: newRPCClient(url), entryPoint: entryPoint}
}

// EntryPoint returns the EntryPoint address this client targets.
func (c *BundlerClient) EntryPoint() string {
	return c.entryPoint
}

// SendUserOperation submits an operation and returns its userOpHash.
func (c *BundlerClient) SendUserOperation(ctx context.Context, op *UserOperation) (string, error) {
	packed, err := op.rpcMap(true)
	if err != nil {
		return "", err
	}

	raw, err := c.rpc.call(ctx, "eth_sendUserOperation", packed, c.entryPoint)
	if err != nil {
		return "", err
	}

	var hash string
	if err := json.Unmarshal(raw, &hash); err != nil {
		return "", fmt.Errorf("malformed userOpHash: %w", err)
	}
	return hash, nil
}

// EstimateUserOperationGas asks the bundler for gas limits. Apply the result
// to the operation with GasEstimate.ApplyTo before signing.
func (c *BundlerClient) EstimateUserOperationGas(ctx context.Context, op *UserOperation) (*GasEstimate, error) {
	packed, err := op.rpcMap(true)
	if err != nil {
		return nil, err
	}

	raw, err := c.rpc.call(ctx, "eth_estimateUserOperationGas", packed, c.entryPoint)
	if err != nil {
		return nil, err
	}

	var result struct {
		VerificationGasLimit          hexBig  `json:"verificationGasLimit"`
		CallGasLimit                  hexBig  `json:"callGasLimit"`
		PreVerificationGas            hexBig  `json:"preVerificationGas"`
		PaymasterVerificationGasLimit *hexBig `json:"paymasterVerificationGasLimit"`
		PaymasterPostOpGasLimit       *hexBig `json:"paymasterPostOpGasLimit"`
	}
	if err := json.Unmarshal(raw, &result); err != nil {
		return nil, fmt.Errorf("malformed gas estimate: %w", err)
	}

	estimate := &GasEstimate{
		VerificationGasLimit: result.VerificationGasLimit.Int(),
		CallGasLimit:         result.CallGasLimit.Int(),
		PreVerificationGas:   result.PreVerificationGas.Int(),
	}
	if result.PaymasterVerificationGasLimit != nil {
		estimate.PaymasterVerificationGasLimit = result.PaymasterVerificationGasLimit.Int()
	}
	if result.PaymasterPostOpGasLimit != nil {
		estimate.PaymasterPostOpGasLimit = result.PaymasterPostOpGasLimit.Int()
	}
	return estimate, nil
}

// GetUserOperationByHash looks up a pending or mined operation. It returns
// nil when the bundler does not know the hash.
func (c *BundlerClient) GetUserOperationByHash(ctx context.Context, userOpHash string) (*UserOperation, error) {
	raw, err := c.rpc.call(ctx, "eth_getUserOperationByHash", userOpHash)
	if err != nil {
		return nil, err
	}
	if isNullResult(raw) {
		return nil, nil
	}

	var result struct {
		UserOperation *UserOperation `json:"userOperation"`
	}
	if err := json.Unmarshal(raw, &result); err != nil {
		return nil, fmt.Errorf("malformed operation lookup: %w", err)
	}
	return result.UserOperation, nil
}

// GetUserOperationReceipt fetches the receipt for a submitted operation. It
// returns nil while the operation is still pending.
func (c *BundlerClient) GetUserOperationReceipt(ctx context.Context, userOpHash string) (*UserOperationReceipt, error) {
	raw, err := c.rpc.call(ctx, "eth_getUserOperationReceipt", userOpHash)
	if err != nil {
		return nil, err
	}
	if isNullResult(raw) {
		return nil, nil
	}

	var result struct {
		UserOpHash    string `json:"userOpHash"`
		Sender        string `json:"sender"`
		Nonce         hexBig `json:"nonce"`
		Paymaster     string `json:"paymaster"`
		ActualGasCost hexBig `json:"actualGasCost"`
		ActualGasUsed hexBig `json:"actualGasUsed"`
		Success       bool   `json:"success"`
		Reason        string `json:"reason"`
		Receipt       struct {
			TransactionHash string `json:"transactionHash"`
			BlockNumber     hexBig `json:"blockNumber"`
			BlockHash       string `json:"blockHash"`
		} `json:"receipt"`
	}
	if err := json.Unmarshal(raw, &result); err != nil {
		return nil, fmt.Errorf("malformed receipt: %w", err)
	}

	return &UserOperationReceipt{
		UserOpHash:      result.UserOpHash,
		Sender:          result.Sender,
		Nonce:           result.Nonce.Int(),
		Paymaster:       result.Paymaster,
		ActualGasCost:   result.ActualGasCost.Int(),
		ActualGasUsed:   result.ActualGasUsed.Int(),
		Success:         result.Success,
		Reason:          result.Reason,
		TransactionHash: result.Receipt.TransactionHash,
		BlockNumber:     result.Receipt.BlockNumber.Int(),
		BlockHash:       result.Receipt.BlockHash,
	}, nil
}

// SupportedEntryPoints returns the EntryPoint addresses the bundler serves.
func (c *BundlerClient) SupportedEntryPoints(ctx context.Context) ([]string, error) {
	raw, err := c.rpc.call(ctx, "eth_supportedEntryPoints")
	if err != nil {
		return nil, err
	}
	var entryPoints []string
	if err := json.Unmarshal(raw, &entryPoints); err != nil {
		return nil, fmt.Errorf("malformed entry point list: %w", err)
	}
	return entryPoints, nil
}

// ChainID returns the chain id the bundler is connected to.
func (c *BundlerClient) ChainID(ctx context.Context) (*big.Int, error) {
	raw, err := c.rpc.call(ctx, "eth_chainId")
	if err != nil {
		return nil, err
	}
	var value hexBig
	if err := json.Unmarshal(raw, &value); err != nil {
		return nil, fmt.Errorf("malformed chain id: %w", err)
	}
	return value.Int(), nil
}

// WaitForReceipt polls for the operation's receipt with the default timeout.
func (c *BundlerClient) WaitForReceipt(ctx context.Context, userOpHash string) (*UserOperationReceipt, error) {
	return c.WaitForReceiptWithin(ctx, userOpHash, DefaultReceiptTimeout, DefaultReceiptInterval)
}

// WaitForReceiptWithin polls for the operation's receipt until timeout. A
// timeout does not mean the operation failed, only that inclusion was not
// observed.
func (c *BundlerClient) WaitForReceiptWithin(ctx context.Context, userOpHash string, timeout, interval time.Duration) (*UserOperationReceipt, error) {
	deadline := time.Now().Add(timeout)
	for {
		receipt, err := c.GetUserOperationReceipt(ctx, userOpHash)
		if err != nil {
			return nil, err
		}
		if receipt != nil {
			return receipt, nil
		}
		if time.Now().After(deadline) {
			return nil, fmt.Errorf("timeout waiting for user operation receipt %s", userOpHash)
		}

		select {
		case <-ctx.Done():
			return nil, ctx.Err()
		case <-time.After(interval):
		}
	}
}

func isNullResult(raw json.RawMessage) bool {
	return len(raw) == 0 || string(raw) == "null"
}
