// Package evm provides ready-made signer implementations for the EVM
// mechanism capability interfaces, backed by a local ECDSA key and an
// optional ethclient connection.
package evm

import (
	"context"
	"crypto/ecdsa"
	"fmt"
	"math/big"
	"strings"

	"github.com/ethereum/go-ethereum/common"
	"github.com/ethereum/go-ethereum/core/types"
	"github.com/ethereum/go-ethereum/crypto"
	"github.com/ethereum/go-ethereum/ethclient"

	"github.com/t402-io/t402/go/mechanisms/evm"
)

// ClientSigner signs EIP-712 typed data and, when an ethclient is attached,
// raw EIP-1559 transactions. It satisfies evm.ClientEvmSigner always and
// evm.ClientEvmTxSigner when constructed with a client.
type ClientSigner struct {
	privateKey *ecdsa.PrivateKey
	address    common.Address
	ethClient  *ethclient.Client
}

// NewClientSignerFromPrivateKey creates a client signer from a hex-encoded
// private key, with or without a 0x prefix.
func NewClientSignerFromPrivateKey(privateKeyHex string) (*ClientSigner, error) {
	return NewClientSignerFromPrivateKeyWithClient(privateKeyHex, nil)
}

// NewClientSignerFromPrivateKeyWithClient additionally attaches an ethclient
// for the transaction-signing capability used by the exact-legacy scheme.
// With a nil client the signer is typed-data only.
func NewClientSignerFromPrivateKeyWithClient(privateKeyHex string, ethClient *ethclient.Client) (*ClientSigner, error) {
	privateKeyHex = strings.TrimPrefix(privateKeyHex, "0x")

	privateKey, err := crypto.HexToECDSA(privateKeyHex)
	if err != nil {
		return nil, fmt.Errorf("invalid private key: %w", err)
	}

	return &ClientSigner{
		privateKey: privateKey,
		address:    crypto.PubkeyToAddress(privateKey.PublicKey),
		ethClient:  ethClient,
	}, nil
}

// Address returns the signer's Ethereum address.
func (s *ClientSigner) Address() string {
	return s.address.Hex()
}

// SignTypedData signs EIP-712 typed data and returns the 65-byte r,s,v
// signature with v in Ethereum form (27/28).
func (s *ClientSigner) SignTypedData(
	_ context.Context,
	domain evm.TypedDataDomain,
	types map[string][]evm.TypedDataField,
	primaryType string,
	message map[string]interface{},
) ([]byte, error) {
	digest, err := evm.HashTypedData(domain, types, primaryType, message)
	if err != nil {
		return nil, err
	}

	signature, err := crypto.Sign(digest, s.privateKey)
	if err != nil {
		return nil, fmt.Errorf("failed to sign: %w", err)
	}

	// recovery id 0/1 -> 27/28
	signature[64] += 27
	return signature, nil
}

// GetTransactionCount returns the pending nonce for an address.
func (s *ClientSigner) GetTransactionCount(ctx context.Context, address string) (uint64, error) {
	if s.ethClient == nil {
		return 0, fmt.Errorf("GetTransactionCount requires an ethclient; use NewClientSignerFromPrivateKeyWithClient")
	}
	return s.ethClient.PendingNonceAt(ctx, common.HexToAddress(address))
}

// EstimateFeesPerGas returns EIP-1559 fee estimates: twice the current base
// fee plus the suggested tip as the fee cap.
func (s *ClientSigner) EstimateFeesPerGas(ctx context.Context) (*big.Int, *big.Int, error) {
	if s.ethClient == nil {
		return nil, nil, fmt.Errorf("EstimateFeesPerGas requires an ethclient; use NewClientSignerFromPrivateKeyWithClient")
	}

	tip, err := s.ethClient.SuggestGasTipCap(ctx)
	if err != nil {
		return nil, nil, fmt.Errorf("failed to get tip cap: %w", err)
	}
	head, err := s.ethClient.HeaderByNumber(ctx, nil)
	if err != nil {
		return nil, nil, fmt.Errorf("failed to get chain head: %w", err)
	}

	maxFee := new(big.Int).Add(new(big.Int).Mul(head.BaseFee, big.NewInt(2)), tip)
	return maxFee, tip, nil
}

// SignTransaction signs an EIP-1559 transaction and returns the RLP-encoded
// bytes ready for eth_sendRawTransaction.
func (s *ClientSigner) SignTransaction(ctx context.Context, tx *types.Transaction) ([]byte, error) {
	if s.ethClient == nil {
		return nil, fmt.Errorf("SignTransaction requires an ethclient; use NewClientSignerFromPrivateKeyWithClient")
	}

	chainID, err := s.ethClient.ChainID(ctx)
	if err != nil {
		return nil, fmt.Errorf("failed to get chain id: %w", err)
	}

	signed, err := types.SignTx(tx, types.LatestSignerForChainID(chainID), s.privateKey)
	if err != nil {
		return nil, fmt.Errorf("failed to sign transaction: %w", err)
	}
	return signed.MarshalBinary()
}
