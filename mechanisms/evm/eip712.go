package evm

import (
	"fmt"
	"math/big"

	"github.com/ethereum/go-ethereum/common"
	"github.com/ethereum/go-ethereum/common/math"
	"github.com/ethereum/go-ethereum/crypto"
	"github.com/ethereum/go-ethereum/signer/core/apitypes"
)

// HashTypedData computes the EIP-712 digest for typed data:
// keccak256("\x19\x01" || domainSeparator || structHash).
//
// The same function serves signing (client side) and verification
// (facilitator side); both must reconstruct the domain from payment
// requirements, never from client-supplied data.
func HashTypedData(
	domain TypedDataDomain,
	types map[string][]TypedDataField,
	primaryType string,
	message map[string]interface{},
) ([]byte, error) {
	typedData := apitypes.TypedData{
		Types:       make(apitypes.Types),
		PrimaryType: primaryType,
		Domain: apitypes.TypedDataDomain{
			Name:              domain.Name,
			Version:           domain.Version,
			ChainId:           (*math.HexOrDecimal256)(domain.ChainID),
			VerifyingContract: domain.VerifyingContract,
		},
		Message: message,
	}

	for typeName, fields := range types {
		typedFields := make([]apitypes.Type, len(fields))
		for i, field := range fields {
			typedFields[i] = apitypes.Type{
				Name: field.Name,
				Type: field.Type,
			}
		}
		typedData.Types[typeName] = typedFields
	}

	if _, exists := typedData.Types["EIP712Domain"]; !exists {
		typedData.Types["EIP712Domain"] = []apitypes.Type{
			{Name: "name", Type: "string"},
			{Name: "version", Type: "string"},
			{Name: "chainId", Type: "uint256"},
			{Name: "verifyingContract", Type: "address"},
		}
	}

	dataHash, err := typedData.HashStruct(typedData.PrimaryType, typedData.Message)
	if err != nil {
		return nil, fmt.Errorf("failed to hash struct: %w", err)
	}

	domainSeparator, err := typedData.HashStruct("EIP712Domain", typedData.Domain.Map())
	if err != nil {
		return nil, fmt.Errorf("failed to hash domain: %w", err)
	}

	rawData := []byte{0x19, 0x01}
	rawData = append(rawData, domainSeparator...)
	rawData = append(rawData, dataHash...)
	digest := crypto.Keccak256(rawData)

	return digest, nil
}

// TransferWithAuthorizationTypes returns the EIP-712 type set for the exact
// scheme's EIP-3009 TransferWithAuthorization message.
func TransferWithAuthorizationTypes() map[string][]TypedDataField {
	return map[string][]TypedDataField{
		"EIP712Domain": {
			{Name: "name", Type: "string"},
			{Name: "version", Type: "string"},
			{Name: "chainId", Type: "uint256"},
			{Name: "verifyingContract", Type: "address"},
		},
		"TransferWithAuthorization": {
			{Name: "from", Type: "address"},
			{Name: "to", Type: "address"},
			{Name: "value", Type: "uint256"},
			{Name: "validAfter", Type: "uint256"},
			{Name: "validBefore", Type: "uint256"},
			{Name: "nonce", Type: "bytes32"},
		},
	}
}

// LegacyTransferAuthorizationTypes returns the EIP-712 type set for the
// exact-legacy scheme. The shape matches TransferWithAuthorization plus a
// spender field binding the authorization to one facilitator address. Tokens
// never verify this signature on-chain; the facilitator verifies it off-chain
// before calling transferFrom.
func LegacyTransferAuthorizationTypes() map[string][]TypedDataField {
	return map[string][]TypedDataField{
		"EIP712Domain": {
			{Name: "name", Type: "string"},
			{Name: "version", Type: "string"},
			{Name: "chainId", Type: "uint256"},
			{Name: "verifyingContract", Type: "address"},
		},
		"LegacyTransferAuthorization": {
			{Name: "from", Type: "address"},
			{Name: "to", Type: "address"},
			{Name: "value", Type: "uint256"},
			{Name: "validAfter", Type: "uint256"},
			{Name: "validBefore", Type: "uint256"},
			{Name: "nonce", Type: "bytes32"},
			{Name: "spender", Type: "address"},
		},
	}
}

// PermitTypes returns the EIP-712 type set for the EIP-2612 Permit message
// used by the upto scheme.
func PermitTypes() map[string][]TypedDataField {
	return map[string][]TypedDataField{
		"EIP712Domain": {
			{Name: "name", Type: "string"},
			{Name: "version", Type: "string"},
			{Name: "chainId", Type: "uint256"},
			{Name: "verifyingContract", Type: "address"},
		},
		"Permit": {
			{Name: "owner", Type: "address"},
			{Name: "spender", Type: "address"},
			{Name: "value", Type: "uint256"},
			{Name: "nonce", Type: "uint256"},
			{Name: "deadline", Type: "uint256"},
		},
	}
}

// EIP3009Message converts an authorization into the EIP-712 message map for
// hashing. When Spender is set the message carries the exact-legacy field set.
// Addresses are checksummed so signing and verification agree byte-for-byte.
func EIP3009Message(authorization ExactEIP3009Authorization) (map[string]interface{}, error) {
	value, ok := new(big.Int).SetString(authorization.Value, 10)
	if !ok {
		return nil, fmt.Errorf("invalid authorization value: %s", authorization.Value)
	}
	validAfter, ok := new(big.Int).SetString(authorization.ValidAfter, 10)
	if !ok {
		return nil, fmt.Errorf("invalid validAfter: %s", authorization.ValidAfter)
	}
	validBefore, ok := new(big.Int).SetString(authorization.ValidBefore, 10)
	if !ok {
		return nil, fmt.Errorf("invalid validBefore: %s", authorization.ValidBefore)
	}
	nonceBytes, err := HexToBytes(authorization.Nonce)
	if err != nil {
		return nil, fmt.Errorf("invalid nonce: %w", err)
	}

	message := map[string]interface{}{
		"from":        common.HexToAddress(authorization.From).Hex(),
		"to":          common.HexToAddress(authorization.To).Hex(),
		"value":       value,
		"validAfter":  validAfter,
		"validBefore": validBefore,
		"nonce":       nonceBytes,
	}
	if authorization.Spender != "" {
		message["spender"] = common.HexToAddress(authorization.Spender).Hex()
	}
	return message, nil
}

// HashEIP3009Authorization hashes a TransferWithAuthorization message against
// the token's EIP-712 domain. Used by the exact scheme, where the token
// contract itself verifies the signature during transferWithAuthorization.
func HashEIP3009Authorization(
	authorization ExactEIP3009Authorization,
	chainID *big.Int,
	verifyingContract string,
	tokenName string,
	tokenVersion string,
) ([]byte, error) {
	domain := TypedDataDomain{
		Name:              tokenName,
		Version:           tokenVersion,
		ChainID:           chainID,
		VerifyingContract: verifyingContract,
	}

	message, err := EIP3009Message(authorization)
	if err != nil {
		return nil, err
	}
	delete(message, "spender")

	return HashTypedData(domain, TransferWithAuthorizationTypes(), "TransferWithAuthorization", message)
}

// HashLegacyTransferAuthorization hashes the exact-legacy authorization,
// including the spender binding. The authorization must carry a spender.
func HashLegacyTransferAuthorization(
	authorization ExactEIP3009Authorization,
	chainID *big.Int,
	verifyingContract string,
	tokenName string,
	tokenVersion string,
) ([]byte, error) {
	if authorization.Spender == "" {
		return nil, fmt.Errorf("legacy authorization missing spender")
	}

	domain := TypedDataDomain{
		Name:              tokenName,
		Version:           tokenVersion,
		ChainID:           chainID,
		VerifyingContract: verifyingContract,
	}

	message, err := EIP3009Message(authorization)
	if err != nil {
		return nil, err
	}

	return HashTypedData(domain, LegacyTransferAuthorizationTypes(), "LegacyTransferAuthorization", message)
}

// HashPermitAuthorization hashes an EIP-2612 Permit message for the upto
// scheme. All numeric fields arrive as decimal strings; nonce is the token
// contract's sequential permit nonce for the owner, not a random value.
func HashPermitAuthorization(
	owner string,
	spender string,
	value string,
	nonce string,
	deadline string,
	chainID *big.Int,
	verifyingContract string,
	tokenName string,
	tokenVersion string,
) ([]byte, error) {
	valueInt, ok := new(big.Int).SetString(value, 10)
	if !ok {
		return nil, fmt.Errorf("invalid permit value: %s", value)
	}
	nonceInt, ok := new(big.Int).SetString(nonce, 10)
	if !ok {
		return nil, fmt.Errorf("invalid permit nonce: %s", nonce)
	}
	deadlineInt, ok := new(big.Int).SetString(deadline, 10)
	if !ok {
		return nil, fmt.Errorf("invalid permit deadline: %s", deadline)
	}

	domain := TypedDataDomain{
		Name:              tokenName,
		Version:           tokenVersion,
		ChainID:           chainID,
		VerifyingContract: verifyingContract,
	}

	message := map[string]interface{}{
		"owner":    common.HexToAddress(owner).Hex(),
		"spender":  common.HexToAddress(spender).Hex(),
		"value":    valueInt,
		"nonce":    nonceInt,
		"deadline": deadlineInt,
	}

	return HashTypedData(domain, PermitTypes(), "Permit", message)
}
