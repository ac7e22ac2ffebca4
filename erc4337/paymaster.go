package erc4337

import (
	"context"
	"encoding/json"
	"fmt"
	"math/big"
	"strings"

	"github.com/ethereum/go-ethereum/common"
)

// PaymasterData is a gas sponsorship grant attached to a UserOperation.
type PaymasterData struct {
	Paymaster            string
	VerificationGasLimit *big.Int
	PostOpGasLimit       *big.Int
	Data                 string
}

// Encode packs the grant into the paymasterAndData layout: 20-byte paymaster
// address, two big-endian 16-byte gas limits, then the opaque trailing data.
func (p *PaymasterData) Encode() (string, error) {
	if !common.IsHexAddress(p.Paymaster) {
		return "", fmt.Errorf("invalid paymaster address %q", p.Paymaster)
	}
	if p.VerificationGasLimit.BitLen() > 128 || p.PostOpGasLimit.BitLen() > 128 {
		return "", fmt.Errorf("paymaster gas limit exceeds 128 bits")
	}

	var gas [32]byte
	p.VerificationGasLimit.FillBytes(gas[:16])
	p.PostOpGasLimit.FillBytes(gas[16:])

	out := make([]byte, 0, 52)
	out = append(out, common.HexToAddress(p.Paymaster).Bytes()...)
	out = append(out, gas[:]...)

	if p.Data != "" && p.Data != "0x" {
		data, err := hexDecode(p.Data)
		if err != nil {
			return "", fmt.Errorf("invalid paymaster data: %w", err)
		}
		out = append(out, data...)
	}
	return hexEncode(out), nil
}

// DecodePaymasterData is the inverse of Encode. It requires at least the
// 52-byte fixed prefix; missing trailing data decodes to "0x".
func DecodePaymasterData(paymasterAndData string) (*PaymasterData, error) {
	raw, err := hexDecode(paymasterAndData)
	if err != nil {
		return nil, fmt.Errorf("invalid paymasterAndData: %w", err)
	}
	if len(raw) < 52 {
		return nil, fmt.Errorf("paymasterAndData too short: %d bytes, need 52", len(raw))
	}

	data := "0x"
	if len(raw) > 52 {
		data = hexEncode(raw[52:])
	}
	return &PaymasterData{
		Paymaster:            common.BytesToAddress(raw[:20]).Hex(),
		VerificationGasLimit: new(big.Int).SetBytes(raw[20:36]),
		PostOpGasLimit:       new(big.Int).SetBytes(raw[36:52]),
		Data:                 data,
	}, nil
}

// PaymasterClient talks to a standalone ERC-7677 style paymaster endpoint.
type PaymasterClient struct {
	rpc        *rpcClient
	entryPoint string
}

// NewPaymasterClient creates a client for the given paymaster RPC URL using
// the v0.7 EntryPoint.
func NewPaymasterClient(url string) *PaymasterClient {
	return &PaymasterClient{rpc: newRPCClient(url), entryPoint: EntryPointV07}
}

// WithEntryPoint overrides the EntryPoint address sent with every request.
func (c *PaymasterClient) WithEntryPoint(entryPoint string) *PaymasterClient {
	c.entryPoint = entryPoint
	return c
}

type paymasterResult struct {
	Paymaster                     string `json:"paymaster"`
	PaymasterVerificationGasLimit hexBig `json:"paymasterVerificationGasLimit"`
	PaymasterPostOpGasLimit       hexBig `json:"paymasterPostOpGasLimit"`
	PaymasterData                 string `json:"paymasterData"`
}

func (r *paymasterResult) grant() *PaymasterData {
	data := r.PaymasterData
	if data == "" {
		data = "0x"
	}
	return &PaymasterData{
		Paymaster:            r.Paymaster,
		VerificationGasLimit: r.PaymasterVerificationGasLimit.Int(),
		PostOpGasLimit:       r.PaymasterPostOpGasLimit.Int(),
		Data:                 data,
	}
}

// GetPaymasterData requests sponsorship data for an operation via
// pm_getPaymasterData.
func (c *PaymasterClient) GetPaymasterData(ctx context.Context, op *UserOperation, chainID *big.Int) (*PaymasterData, error) {
	packed, err := op.rpcMap(false)
	if err != nil {
		return nil, err
	}

	raw, err := c.rpc.call(ctx, "pm_getPaymasterData", packed, c.entryPoint, bigToHex(chainID))
	if err != nil {
		return nil, err
	}

	var result paymasterResult
	if err := json.Unmarshal(raw, &result); err != nil {
		return nil, fmt.Errorf("malformed paymaster response: %w", err)
	}
	return result.grant(), nil
}

// SponsorUserOperation requests full sponsorship via pm_sponsorUserOperation.
func (c *PaymasterClient) SponsorUserOperation(ctx context.Context, op *UserOperation, policyID string) (*PaymasterData, error) {
	packed, err := op.rpcMap(false)
	if err != nil {
		return nil, err
	}

	params := map[string]interface{}{
		"userOperation": packed,
		"entryPoint":    c.entryPoint,
	}
	if policyID != "" {
		params["sponsorshipPolicyId"] = policyID
	}

	raw, err := c.rpc.call(ctx, "pm_sponsorUserOperation", params)
	if err != nil {
		return nil, err
	}

	var result paymasterResult
	if err := json.Unmarshal(raw, &result); err != nil {
		return nil, fmt.Errorf("malformed paymaster response: %w", err)
	}
	return result.grant(), nil
}

// hexBig unmarshals a JSON-RPC quantity that may arrive as a 0x hex string
// or a bare number.
type hexBig struct {
	value *big.Int
}

func (h *hexBig) Int() *big.Int {
	if h.value == nil {
		return big.NewInt(0)
	}
	return h.value
}

func (h *hexBig) UnmarshalJSON(data []byte) error {
	var s string
	if err := json.Unmarshal(data, &s); err == nil {
		if strings.HasPrefix(s, "0x") {
			value, err := hexToBig(s)
			if err != nil {
				return err
			}
			h.value = value
			return nil
		}
		value, ok := new(big.Int).SetString(s, 10)
		if !ok {
			return fmt.Errorf("invalid quantity %q", s)
		}
		h.value = value
		return nil
	}

	var n json.Number
	if err := json.Unmarshal(data, &n); err != nil {
		return err
	}
	value, ok := new(big.Int).SetString(n.String(), 10)
	if !ok {
		return fmt.Errorf("invalid quantity %q", n.String())
	}
	h.value = value
	return nil
}
