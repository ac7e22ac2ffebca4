package exactlegacy

import (
	"fmt"
	"strings"

	"github.com/ethereum/go-ethereum/common"
	gethtypes "github.com/ethereum/go-ethereum/core/types"

	"github.com/t402-io/t402/go/mechanisms/evm"
)

// approveSelector is the 4-byte selector for approve(address,uint256):
// keccak256("approve(address,uint256)")[0:4].
var approveSelector = []byte{0x09, 0x5e, 0xa7, 0xb3}

// validateSignedApproval checks a client-supplied pre-signed approve
// transaction before the facilitator broadcasts it: it must target the
// payment token, call approve() with the facilitator as spender, and be
// signed by the payer. Returns the decoded transaction on success.
func validateSignedApproval(rlpHex string, tokenAddress string, spender string, payer string) ([]byte, error) {
	txBytes, err := evm.HexToBytes(rlpHex)
	if err != nil {
		return nil, fmt.Errorf("failed to decode signed approval hex: %w", err)
	}

	tx := new(gethtypes.Transaction)
	if err := tx.UnmarshalBinary(txBytes); err != nil {
		return nil, fmt.Errorf("failed to decode signed approval transaction: %w", err)
	}

	if tx.To() == nil || !strings.EqualFold(tx.To().Hex(), tokenAddress) {
		return nil, fmt.Errorf("approval targets wrong contract")
	}

	data := tx.Data()
	if len(data) < 36 {
		return nil, fmt.Errorf("approval calldata too short")
	}
	for i, b := range approveSelector {
		if data[i] != b {
			return nil, fmt.Errorf("approval calldata is not an approve() call")
		}
	}
	calldataSpender := common.BytesToAddress(data[4:36])
	if !strings.EqualFold(calldataSpender.Hex(), spender) {
		return nil, fmt.Errorf("approval grants allowance to %s, expected %s", calldataSpender.Hex(), spender)
	}

	signer := gethtypes.LatestSignerForChainID(tx.ChainId())
	from, err := gethtypes.Sender(signer, tx)
	if err != nil {
		return nil, fmt.Errorf("failed to recover approval signer: %w", err)
	}
	if !strings.EqualFold(from.Hex(), payer) {
		return nil, fmt.Errorf("approval signed by %s, expected payer %s", from.Hex(), payer)
	}

	return txBytes, nil
}
