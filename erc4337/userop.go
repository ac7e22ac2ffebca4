// Package erc4337 implements the account-abstraction building blocks used for
// gasless settlement: the v0.7 UserOperation model, paymaster data packing,
// bundler JSON-RPC clients and an M-of-N signature coordinator for
// smart-contract wallets.
package erc4337

import (
	"encoding/hex"
	"fmt"
	"math/big"
	"strings"

	"github.com/ethereum/go-ethereum/accounts/abi"
	"github.com/ethereum/go-ethereum/common"
	"github.com/ethereum/go-ethereum/crypto"
)

// EntryPointV07 is the canonical v0.7 EntryPoint address, identical on all
// supported chains.
const EntryPointV07 = "0x0000000071727De22E5E9d8BAf0edAc6f37da032"

// Default gas parameters for a freshly constructed operation. Callers are
// expected to replace them with bundler estimates before submission.
var (
	DefaultVerificationGasLimit = big.NewInt(200000)
	DefaultCallGasLimit         = big.NewInt(100000)
	DefaultPreVerificationGas   = big.NewInt(50000)
	DefaultMaxPriorityFeePerGas = big.NewInt(1500000000)  // 1.5 gwei
	DefaultMaxFeePerGas         = big.NewInt(30000000000) // 30 gwei
)

// UserOperation is a v0.7 operation in its unpacked wire form. Numeric fields
// are 0x-prefixed hex strings, matching what bundler RPCs exchange.
type UserOperation struct {
	Sender               string `json:"sender"`
	Nonce                string `json:"nonce"`
	InitCode             string `json:"initCode"`
	CallData             string `json:"callData"`
	VerificationGasLimit string `json:"verificationGasLimit"`
	CallGasLimit         string `json:"callGasLimit"`
	PreVerificationGas   string `json:"preVerificationGas"`
	MaxPriorityFeePerGas string `json:"maxPriorityFeePerGas"`
	MaxFeePerGas         string `json:"maxFeePerGas"`
	PaymasterAndData     string `json:"paymasterAndData"`
	Signature            string `json:"signature"`
}

// NewUserOperation returns an operation for sender with default gas values
// and empty initCode, callData, paymasterAndData and signature.
func NewUserOperation(sender string) (*UserOperation, error) {
	if sender == "" {
		return nil, fmt.Errorf("sender is required")
	}
	return &UserOperation{
		Sender:               sender,
		Nonce:                "0x0",
		InitCode:             "0x",
		CallData:             "0x",
		VerificationGasLimit: bigToHex(DefaultVerificationGasLimit),
		CallGasLimit:         bigToHex(DefaultCallGasLimit),
		PreVerificationGas:   bigToHex(DefaultPreVerificationGas),
		MaxPriorityFeePerGas: bigToHex(DefaultMaxPriorityFeePerGas),
		MaxFeePerGas:         bigToHex(DefaultMaxFeePerGas),
		PaymasterAndData:     "0x",
		Signature:            "0x",
	}, nil
}

// SplitInitCode separates a legacy initCode blob into the factory address
// (first 20 bytes) and the remaining factory calldata. An empty blob splits
// into two empty parts; JoinInitCode reverses either result byte for byte.
func SplitInitCode(initCode string) (factory string, factoryData string, err error) {
	raw, err := hexDecode(initCode)
	if err != nil {
		return "", "", fmt.Errorf("invalid initCode: %w", err)
	}
	if len(raw) == 0 {
		return "0x", "0x", nil
	}
	if len(raw) < 20 {
		return "", "", fmt.Errorf("initCode shorter than a factory address: %d bytes", len(raw))
	}
	return hexEncode(raw[:20]), hexEncode(raw[20:]), nil
}

// JoinInitCode concatenates a factory address and its calldata back into a
// full initCode blob.
func JoinInitCode(factory, factoryData string) string {
	f := strings.TrimPrefix(factory, "0x")
	d := strings.TrimPrefix(factoryData, "0x")
	if f == "" && d == "" {
		return "0x"
	}
	return "0x" + f + d
}

// PackedUserOperation is the v0.7 on-chain representation: the four account
// gas values collapse into two 32-byte words of big-endian 16-byte halves.
type PackedUserOperation struct {
	Sender             common.Address
	Nonce              *big.Int
	InitCode           []byte
	CallData           []byte
	AccountGasLimits   [32]byte
	PreVerificationGas *big.Int
	GasFees            [32]byte
	PaymasterAndData   []byte
	Signature          []byte
}

// Pack converts the wire form into the packed on-chain form.
func (op *UserOperation) Pack() (*PackedUserOperation, error) {
	nonce, err := hexToBig(op.Nonce)
	if err != nil {
		return nil, fmt.Errorf("invalid nonce: %w", err)
	}
	preVerificationGas, err := hexToBig(op.PreVerificationGas)
	if err != nil {
		return nil, fmt.Errorf("invalid preVerificationGas: %w", err)
	}
	initCode, err := hexDecode(op.InitCode)
	if err != nil {
		return nil, fmt.Errorf("invalid initCode: %w", err)
	}
	callData, err := hexDecode(op.CallData)
	if err != nil {
		return nil, fmt.Errorf("invalid callData: %w", err)
	}
	paymasterAndData, err := hexDecode(op.PaymasterAndData)
	if err != nil {
		return nil, fmt.Errorf("invalid paymasterAndData: %w", err)
	}
	signature, err := hexDecode(op.Signature)
	if err != nil {
		return nil, fmt.Errorf("invalid signature: %w", err)
	}

	accountGasLimits, err := packWordHalves(op.VerificationGasLimit, op.CallGasLimit)
	if err != nil {
		return nil, fmt.Errorf("invalid account gas limits: %w", err)
	}
	gasFees, err := packWordHalves(op.MaxPriorityFeePerGas, op.MaxFeePerGas)
	if err != nil {
		return nil, fmt.Errorf("invalid gas fees: %w", err)
	}

	return &PackedUserOperation{
		Sender:             common.HexToAddress(op.Sender),
		Nonce:              nonce,
		InitCode:           initCode,
		CallData:           callData,
		AccountGasLimits:   accountGasLimits,
		PreVerificationGas: preVerificationGas,
		GasFees:            gasFees,
		PaymasterAndData:   paymasterAndData,
		Signature:          signature,
	}, nil
}

var (
	typeAddress = mustABIType("address")
	typeUint256 = mustABIType("uint256")
	typeBytes32 = mustABIType("bytes32")

	// hashedUserOpArgs is the EntryPoint's hashed-field encoding: dynamic
	// byte fields enter as their keccak digests.
	hashedUserOpArgs = abi.Arguments{
		{Type: typeAddress}, // sender
		{Type: typeUint256}, // nonce
		{Type: typeBytes32}, // keccak(initCode)
		{Type: typeBytes32}, // keccak(callData)
		{Type: typeBytes32}, // accountGasLimits
		{Type: typeUint256}, // preVerificationGas
		{Type: typeBytes32}, // gasFees
		{Type: typeBytes32}, // keccak(paymasterAndData)
	}
	userOpEnvelopeArgs = abi.Arguments{
		{Type: typeBytes32}, // hash of the encoding above
		{Type: typeAddress}, // entryPoint
		{Type: typeUint256}, // chainId
	}
)

func mustABIType(t string) abi.Type {
	typ, err := abi.NewType(t, "", nil)
	if err != nil {
		panic(err)
	}
	return typ
}

// Hash computes the EntryPoint userOpHash: keccak over the ABI encoding of
// the packed operation's hashed fields, bound to the EntryPoint address and
// chain id.
func (op *UserOperation) Hash(entryPoint string, chainID *big.Int) ([32]byte, error) {
	var hash [32]byte

	packed, err := op.Pack()
	if err != nil {
		return hash, err
	}

	inner, err := hashedUserOpArgs.Pack(
		packed.Sender,
		packed.Nonce,
		keccakWord(packed.InitCode),
		keccakWord(packed.CallData),
		packed.AccountGasLimits,
		packed.PreVerificationGas,
		packed.GasFees,
		keccakWord(packed.PaymasterAndData),
	)
	if err != nil {
		return hash, fmt.Errorf("failed to encode user operation: %w", err)
	}

	envelope, err := userOpEnvelopeArgs.Pack(
		keccakWord(inner),
		common.HexToAddress(entryPoint),
		chainID,
	)
	if err != nil {
		return hash, fmt.Errorf("failed to encode hash envelope: %w", err)
	}

	copy(hash[:], crypto.Keccak256(envelope))
	return hash, nil
}

func keccakWord(data []byte) [32]byte {
	var word [32]byte
	copy(word[:], crypto.Keccak256(data))
	return word
}

// packWordHalves encodes two hex quantities as big-endian 16-byte halves of
// one 32-byte word.
func packWordHalves(high, low string) ([32]byte, error) {
	var word [32]byte

	h, err := hexToBig(high)
	if err != nil {
		return word, err
	}
	l, err := hexToBig(low)
	if err != nil {
		return word, err
	}
	if h.BitLen() > 128 || l.BitLen() > 128 {
		return word, fmt.Errorf("value exceeds 128 bits")
	}

	h.FillBytes(word[:16])
	l.FillBytes(word[16:])
	return word, nil
}

// rpcMap renders the operation for bundler RPC. The packed form carries the
// v0.7 accountGasLimits/gasFees words; the unpacked form lists every gas
// field individually.
func (op *UserOperation) rpcMap(packed bool) (map[string]interface{}, error) {
	m := map[string]interface{}{
		"sender":             op.Sender,
		"nonce":              op.Nonce,
		"initCode":           op.InitCode,
		"callData":           op.CallData,
		"preVerificationGas": op.PreVerificationGas,
		"paymasterAndData":   op.PaymasterAndData,
		"signature":          op.Signature,
	}
	if packed {
		accountGasLimits, err := packWordHalves(op.VerificationGasLimit, op.CallGasLimit)
		if err != nil {
			return nil, err
		}
		gasFees, err := packWordHalves(op.MaxPriorityFeePerGas, op.MaxFeePerGas)
		if err != nil {
			return nil, err
		}
		m["accountGasLimits"] = hexEncode(accountGasLimits[:])
		m["gasFees"] = hexEncode(gasFees[:])
	} else {
		m["verificationGasLimit"] = op.VerificationGasLimit
		m["callGasLimit"] = op.CallGasLimit
		m["maxPriorityFeePerGas"] = op.MaxPriorityFeePerGas
		m["maxFeePerGas"] = op.MaxFeePerGas
	}
	return m, nil
}

func hexToBig(s string) (*big.Int, error) {
	trimmed := strings.TrimPrefix(s, "0x")
	if trimmed == "" {
		return big.NewInt(0), nil
	}
	value, ok := new(big.Int).SetString(trimmed, 16)
	if !ok {
		return nil, fmt.Errorf("invalid hex quantity %q", s)
	}
	return value, nil
}

func bigToHex(value *big.Int) string {
	return "0x" + value.Text(16)
}

func hexDecode(s string) ([]byte, error) {
	return hex.DecodeString(strings.TrimPrefix(s, "0x"))
}

func hexEncode(data []byte) string {
	return "0x" + hex.EncodeToString(data)
}
