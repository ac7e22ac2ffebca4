package evm

import (
	"bytes"
	"context"
	"crypto/ecdsa"
	"fmt"
	"math/big"
	"strings"
	"time"

	"github.com/ethereum/go-ethereum"
	"github.com/ethereum/go-ethereum/accounts/abi"
	"github.com/ethereum/go-ethereum/common"
	"github.com/ethereum/go-ethereum/core/types"
	"github.com/ethereum/go-ethereum/crypto"
	"github.com/ethereum/go-ethereum/ethclient"

	"github.com/t402-io/t402/go/mechanisms/evm"
)

// erc1271Magic is the isValidSignature return value for a valid contract
// wallet signature.
var erc1271Magic = [4]byte{0x16, 0x26, 0xba, 0x7e}

var erc1271ABI = []byte(`[
	{
		"name": "isValidSignature",
		"type": "function",
		"stateMutability": "view",
		"inputs": [
			{"name": "hash", "type": "bytes32"},
			{"name": "signature", "type": "bytes"}
		],
		"outputs": [
			{"name": "magicValue", "type": "bytes4"}
		]
	}
]`)

// receiptPollInterval is how often WaitForTransactionReceipt re-queries.
const receiptPollInterval = 2 * time.Second

// FacilitatorSigner implements evm.FacilitatorEvmSigner over an ethclient
// connection and a local settlement key.
type FacilitatorSigner struct {
	privateKey *ecdsa.PrivateKey
	address    common.Address
	ethClient  *ethclient.Client
}

// NewFacilitatorSigner dials the RPC endpoint and wraps the settlement key.
func NewFacilitatorSigner(privateKeyHex string, rpcURL string) (*FacilitatorSigner, error) {
	ethClient, err := ethclient.Dial(rpcURL)
	if err != nil {
		return nil, fmt.Errorf("failed to connect to %s: %w", rpcURL, err)
	}
	return NewFacilitatorSignerWithClient(privateKeyHex, ethClient)
}

// NewFacilitatorSignerWithClient wraps an existing ethclient connection.
func NewFacilitatorSignerWithClient(privateKeyHex string, ethClient *ethclient.Client) (*FacilitatorSigner, error) {
	privateKey, err := crypto.HexToECDSA(strings.TrimPrefix(privateKeyHex, "0x"))
	if err != nil {
		return nil, fmt.Errorf("invalid private key: %w", err)
	}
	return &FacilitatorSigner{
		privateKey: privateKey,
		address:    crypto.PubkeyToAddress(privateKey.PublicKey),
		ethClient:  ethClient,
	}, nil
}

// GetAddresses returns the settlement addresses this signer operates.
func (s *FacilitatorSigner) GetAddresses() []string {
	return []string{s.address.Hex()}
}

// ReadContract executes an eth_call and unpacks the result. A single output
// is returned bare, multiple outputs as a slice.
func (s *FacilitatorSigner) ReadContract(
	ctx context.Context,
	contractAddress string,
	abiBytes []byte,
	functionName string,
	args ...interface{},
) (interface{}, error) {
	contractABI, err := abi.JSON(bytes.NewReader(abiBytes))
	if err != nil {
		return nil, fmt.Errorf("failed to parse ABI: %w", err)
	}

	data, err := contractABI.Pack(functionName, args...)
	if err != nil {
		return nil, fmt.Errorf("failed to pack %s call: %w", functionName, err)
	}

	addr := common.HexToAddress(contractAddress)
	result, err := s.ethClient.CallContract(ctx, ethereum.CallMsg{To: &addr, Data: data}, nil)
	if err != nil {
		return nil, fmt.Errorf("contract call failed: %w", err)
	}

	outputs, err := contractABI.Unpack(functionName, result)
	if err != nil {
		return nil, fmt.Errorf("failed to unpack %s result: %w", functionName, err)
	}

	switch len(outputs) {
	case 0:
		return nil, nil
	case 1:
		return outputs[0], nil
	default:
		return outputs, nil
	}
}

// VerifyTypedData checks an EIP-712 signature against an address: ECDSA
// recovery for EOAs, with an ERC-1271 isValidSignature fallback when the
// address has code (smart wallets).
func (s *FacilitatorSigner) VerifyTypedData(
	ctx context.Context,
	address string,
	domain evm.TypedDataDomain,
	dataTypes map[string][]evm.TypedDataField,
	primaryType string,
	message map[string]interface{},
	signature []byte,
) (bool, error) {
	digest, err := evm.HashTypedData(domain, dataTypes, primaryType, message)
	if err != nil {
		return false, err
	}

	if len(signature) == 65 {
		sig := make([]byte, 65)
		copy(sig, signature)
		if sig[64] >= 27 {
			sig[64] -= 27
		}
		if pubKey, err := crypto.SigToPub(digest, sig); err == nil {
			recovered := crypto.PubkeyToAddress(*pubKey)
			if strings.EqualFold(recovered.Hex(), address) {
				return true, nil
			}
		}
	}

	// Recovery failed or mismatched; if the address is a contract, defer to
	// its ERC-1271 implementation.
	code, err := s.GetCode(ctx, address)
	if err != nil {
		return false, fmt.Errorf("failed to check for contract code: %w", err)
	}
	if len(code) == 0 {
		return false, nil
	}

	var hash [32]byte
	copy(hash[:], digest)
	result, err := s.ReadContract(ctx, address, erc1271ABI, "isValidSignature", hash, signature)
	if err != nil {
		return false, nil
	}
	magic, ok := result.([4]byte)
	return ok && magic == erc1271Magic, nil
}

// WriteContract sends an EIP-1559 transaction invoking a contract function
// and returns the transaction hash without waiting for inclusion.
func (s *FacilitatorSigner) WriteContract(
	ctx context.Context,
	contractAddress string,
	abiBytes []byte,
	functionName string,
	args ...interface{},
) (string, error) {
	contractABI, err := abi.JSON(bytes.NewReader(abiBytes))
	if err != nil {
		return "", fmt.Errorf("failed to parse ABI: %w", err)
	}
	data, err := contractABI.Pack(functionName, args...)
	if err != nil {
		return "", fmt.Errorf("failed to pack %s call: %w", functionName, err)
	}

	chainID, err := s.ethClient.ChainID(ctx)
	if err != nil {
		return "", fmt.Errorf("failed to get chain id: %w", err)
	}
	nonce, err := s.ethClient.PendingNonceAt(ctx, s.address)
	if err != nil {
		return "", fmt.Errorf("failed to get nonce: %w", err)
	}
	tip, err := s.ethClient.SuggestGasTipCap(ctx)
	if err != nil {
		return "", fmt.Errorf("failed to get tip cap: %w", err)
	}
	head, err := s.ethClient.HeaderByNumber(ctx, nil)
	if err != nil {
		return "", fmt.Errorf("failed to get chain head: %w", err)
	}
	maxFee := new(big.Int).Add(new(big.Int).Mul(head.BaseFee, big.NewInt(2)), tip)

	to := common.HexToAddress(contractAddress)
	gasLimit, err := s.ethClient.EstimateGas(ctx, ethereum.CallMsg{
		From:      s.address,
		To:        &to,
		Data:      data,
		GasFeeCap: maxFee,
		GasTipCap: tip,
	})
	if err != nil {
		return "", fmt.Errorf("failed to estimate gas: %w", err)
	}

	tx := types.NewTx(&types.DynamicFeeTx{
		ChainID:   chainID,
		Nonce:     nonce,
		GasTipCap: tip,
		GasFeeCap: maxFee,
		Gas:       gasLimit,
		To:        &to,
		Data:      data,
	})
	signed, err := types.SignTx(tx, types.LatestSignerForChainID(chainID), s.privateKey)
	if err != nil {
		return "", fmt.Errorf("failed to sign transaction: %w", err)
	}
	if err := s.ethClient.SendTransaction(ctx, signed); err != nil {
		return "", fmt.Errorf("failed to send transaction: %w", err)
	}
	return signed.Hash().Hex(), nil
}

// SendRawTransaction broadcasts a pre-signed RLP-encoded transaction.
func (s *FacilitatorSigner) SendRawTransaction(ctx context.Context, rlpBytes []byte) (string, error) {
	var tx types.Transaction
	if err := tx.UnmarshalBinary(rlpBytes); err != nil {
		return "", fmt.Errorf("invalid raw transaction: %w", err)
	}
	if err := s.ethClient.SendTransaction(ctx, &tx); err != nil {
		return "", fmt.Errorf("failed to send raw transaction: %w", err)
	}
	return tx.Hash().Hex(), nil
}

// WaitForTransactionReceipt polls until the transaction is mined or the
// context is done.
func (s *FacilitatorSigner) WaitForTransactionReceipt(ctx context.Context, txHash string) (*evm.TransactionReceipt, error) {
	hash := common.HexToHash(txHash)
	ticker := time.NewTicker(receiptPollInterval)
	defer ticker.Stop()

	for {
		receipt, err := s.ethClient.TransactionReceipt(ctx, hash)
		if err == nil && receipt != nil {
			return &evm.TransactionReceipt{
				Status:      receipt.Status,
				BlockNumber: receipt.BlockNumber.Uint64(),
				TxHash:      receipt.TxHash.Hex(),
			}, nil
		}

		select {
		case <-ctx.Done():
			return nil, fmt.Errorf("timed out waiting for receipt of %s: %w", txHash, ctx.Err())
		case <-ticker.C:
		}
	}
}

// GetBalance returns the ERC-20 balance of an address, or the native balance
// when tokenAddress is empty.
func (s *FacilitatorSigner) GetBalance(ctx context.Context, address string, tokenAddress string) (*big.Int, error) {
	if tokenAddress == "" {
		return s.ethClient.BalanceAt(ctx, common.HexToAddress(address), nil)
	}

	result, err := s.ReadContract(ctx, tokenAddress, evm.ERC20BalanceOfABI, "balanceOf", common.HexToAddress(address))
	if err != nil {
		return nil, err
	}
	balance, ok := result.(*big.Int)
	if !ok {
		return nil, fmt.Errorf("unexpected balanceOf result type %T", result)
	}
	return balance, nil
}

// GetChainID returns the chain id of the connected network.
func (s *FacilitatorSigner) GetChainID(ctx context.Context) (*big.Int, error) {
	return s.ethClient.ChainID(ctx)
}

// GetCode returns the bytecode at an address; empty for EOAs.
func (s *FacilitatorSigner) GetCode(ctx context.Context, address string) ([]byte, error) {
	return s.ethClient.CodeAt(ctx, common.HexToAddress(address), nil)
}
