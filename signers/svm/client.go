// Package svm provides ready-made signer implementations for the Solana
// mechanism capability interfaces.
package svm

import (
	"fmt"

	solana "github.com/gagliardetto/solana-go"
)

// SignTransactionFunc signs a Solana transaction in place.
type SignTransactionFunc func(tx *solana.Transaction) error

// ClientSigner implements svm.ClientSvmSigner through a signing callback, so
// hardware wallets and remote signers plug in without exposing key material.
type ClientSigner struct {
	publicKey       solana.PublicKey
	signTransaction SignTransactionFunc
}

// NewClientSigner creates a client signer from a public key and callback.
func NewClientSigner(publicKey solana.PublicKey, signFunc SignTransactionFunc) (*ClientSigner, error) {
	if publicKey.IsZero() {
		return nil, fmt.Errorf("public key is required")
	}
	if signFunc == nil {
		return nil, fmt.Errorf("sign callback is required")
	}
	return &ClientSigner{
		publicKey:       publicKey,
		signTransaction: signFunc,
	}, nil
}

// NewClientSignerFromPrivateKey creates a client signer from a
// base58-encoded ed25519 private key.
func NewClientSignerFromPrivateKey(privateKeyBase58 string) (*ClientSigner, error) {
	privateKey, err := solana.PrivateKeyFromBase58(privateKeyBase58)
	if err != nil {
		return nil, fmt.Errorf("invalid private key: %w", err)
	}

	signFunc := func(tx *solana.Transaction) error {
		return signWithPrivateKey(privateKey, tx)
	}
	return NewClientSigner(privateKey.PublicKey(), signFunc)
}

// Address returns the signer's public key.
func (s *ClientSigner) Address() solana.PublicKey {
	return s.publicKey
}

// SignTransaction adds the signer's signature to the transaction.
func (s *ClientSigner) SignTransaction(tx *solana.Transaction) error {
	return s.signTransaction(tx)
}

// signWithPrivateKey partially signs: the signature lands at the signer's
// index and every other slot is left untouched for later co-signers.
func signWithPrivateKey(privateKey solana.PrivateKey, tx *solana.Transaction) error {
	messageBytes, err := tx.Message.MarshalBinary()
	if err != nil {
		return fmt.Errorf("failed to marshal message: %w", err)
	}

	signature, err := privateKey.Sign(messageBytes)
	if err != nil {
		return fmt.Errorf("failed to sign: %w", err)
	}

	accountIndex, err := tx.GetAccountIndex(privateKey.PublicKey())
	if err != nil {
		return fmt.Errorf("failed to get account index: %w", err)
	}

	if len(tx.Signatures) <= int(accountIndex) {
		grown := make([]solana.Signature, accountIndex+1)
		copy(grown, tx.Signatures)
		tx.Signatures = grown
	}
	tx.Signatures[accountIndex] = signature
	return nil
}
