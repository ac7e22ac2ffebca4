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

	"github.com/t402-io/t402/go/bridge"
	"github.com/t402-io/t402/go/mechanisms/evm"
)

// BridgeSigner implements bridge.Signer over an ethclient connection. Unlike
// FacilitatorSigner it carries native value on writes (LayerZero fees are paid
// in the native token) and surfaces receipt logs so the bridge can extract the
// OFTSent message GUID.
type BridgeSigner struct {
	privateKey *ecdsa.PrivateKey
	address    common.Address
	ethClient  *ethclient.Client
}

// NewBridgeSigner dials the source-chain RPC endpoint and wraps the key.
func NewBridgeSigner(privateKeyHex string, rpcURL string) (*BridgeSigner, error) {
	ethClient, err := ethclient.Dial(rpcURL)
	if err != nil {
		return nil, fmt.Errorf("failed to connect to %s: %w", rpcURL, err)
	}
	return NewBridgeSignerWithClient(privateKeyHex, ethClient)
}

// NewBridgeSignerWithClient wraps an existing ethclient connection.
func NewBridgeSignerWithClient(privateKeyHex string, ethClient *ethclient.Client) (*BridgeSigner, error) {
	privateKey, err := crypto.HexToECDSA(strings.TrimPrefix(privateKeyHex, "0x"))
	if err != nil {
		return nil, fmt.Errorf("invalid private key: %w", err)
	}
	return &BridgeSigner{
		privateKey: privateKey,
		address:    crypto.PubkeyToAddress(privateKey.PublicKey),
		ethClient:  ethClient,
	}, nil
}

// Address returns the sender address.
func (s *BridgeSigner) Address() string {
	return s.address.Hex()
}

// ReadContract executes an eth_call and unpacks the result.
func (s *BridgeSigner) ReadContract(
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

// WriteContract sends an EIP-1559 transaction carrying value in the native
// token and returns the transaction hash without waiting for inclusion.
func (s *BridgeSigner) WriteContract(
	ctx context.Context,
	contractAddress string,
	abiBytes []byte,
	functionName string,
	value *big.Int,
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

	if value == nil {
		value = big.NewInt(0)
	}
	to := common.HexToAddress(contractAddress)
	gasLimit, err := s.ethClient.EstimateGas(ctx, ethereum.CallMsg{
		From:      s.address,
		To:        &to,
		Value:     value,
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
		Value:     value,
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

// WaitForTransactionReceipt polls until the transaction is mined, returning
// the receipt with its event logs.
func (s *BridgeSigner) WaitForTransactionReceipt(ctx context.Context, txHash string) (*bridge.TransactionReceipt, error) {
	hash := common.HexToHash(txHash)
	ticker := time.NewTicker(receiptPollInterval)
	defer ticker.Stop()

	for {
		receipt, err := s.ethClient.TransactionReceipt(ctx, hash)
		if err == nil && receipt != nil {
			logs := make([]bridge.TransactionLog, 0, len(receipt.Logs))
			for _, entry := range receipt.Logs {
				topics := make([]string, len(entry.Topics))
				for i, topic := range entry.Topics {
					topics[i] = topic.Hex()
				}
				logs = append(logs, bridge.TransactionLog{
					Address: entry.Address.Hex(),
					Topics:  topics,
					Data:    "0x" + common.Bytes2Hex(entry.Data),
				})
			}
			return &bridge.TransactionReceipt{
				Status:          receipt.Status,
				TransactionHash: receipt.TxHash.Hex(),
				Logs:            logs,
			}, nil
		}

		select {
		case <-ctx.Done():
			return nil, fmt.Errorf("timed out waiting for receipt of %s: %w", txHash, ctx.Err())
		case <-ticker.C:
		}
	}
}

// GetBalance returns the ERC-20 balance of the signer, or its native balance
// when tokenAddress is empty.
func (s *BridgeSigner) GetBalance(ctx context.Context, tokenAddress string) (*big.Int, error) {
	if tokenAddress == "" {
		return s.ethClient.BalanceAt(ctx, s.address, nil)
	}
	result, err := s.ReadContract(ctx, tokenAddress, evm.ERC20BalanceOfABI, "balanceOf", s.address)
	if err != nil {
		return nil, err
	}
	balance, ok := result.(*big.Int)
	if !ok {
		return nil, fmt.Errorf("unexpected balanceOf result type %T", result)
	}
	return balance, nil
}
