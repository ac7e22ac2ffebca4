package svm

import (
	"encoding/binary"
	"fmt"

	solana "github.com/gagliardetto/solana-go"
)

// IsTokenProgram reports whether the program is SPL Token or Token-2022.
func IsTokenProgram(program solana.PublicKey) bool {
	return program.Equals(solana.TokenProgramID) || program.Equals(solana.Token2022ProgramID)
}

// SwigCompactInstruction is one instruction embedded in a Swig signV2
// payload. Indices reference the outer transaction's account key list.
type SwigCompactInstruction struct {
	ProgramIDIndex uint8
	Accounts       []uint8
	Data           []byte
}

// IsSwigTransaction reports whether the transaction has the Swig
// smart-wallet layout: every instruction before the last is compute budget
// or the secp256r1 precompile, and the last is a Swig signV2 instruction.
func IsSwigTransaction(tx *solana.Transaction) bool {
	instructions := tx.Message.Instructions
	if len(instructions) == 0 {
		return false
	}

	swigProgram := solana.MustPublicKeyFromBase58(SwigProgramAddress)
	secp256r1Program := solana.MustPublicKeyFromBase58(Secp256r1PrecompileAddress)

	for i := 0; i < len(instructions)-1; i++ {
		program, err := resolveProgram(tx, instructions[i])
		if err != nil {
			return false
		}
		if !program.Equals(solana.ComputeBudget) && !program.Equals(secp256r1Program) {
			return false
		}
	}

	last := instructions[len(instructions)-1]
	program, err := resolveProgram(tx, last)
	if err != nil || !program.Equals(swigProgram) {
		return false
	}
	return len(last.Data) >= 2 && binary.LittleEndian.Uint16(last.Data[:2]) == SwigSignV2Discriminator
}

// DecodeSwigCompactInstructions parses the compact instructions embedded in
// a Swig signV2 instruction payload.
//
// Outer layout:
//
//	[0..1]  discriminator         U16 LE
//	[2..3]  instructionPayloadLen U16 LE
//	[4..7]  roleId                U32 LE
//	[8..]   compact instructions
//
// Each compact instruction:
//
//	[0]         programIDIndex U8
//	[1]         numAccounts    U8
//	[2..N+1]    accounts       []U8
//	[N+2..N+3]  dataLen        U16 LE
//	[N+4..]     data
func DecodeSwigCompactInstructions(data []byte) ([]SwigCompactInstruction, error) {
	if len(data) < 4 {
		return nil, fmt.Errorf("swig instruction data too short: %d bytes", len(data))
	}

	payloadLen := int(binary.LittleEndian.Uint16(data[2:4]))
	const start = 8
	if len(data) < start+payloadLen {
		return nil, fmt.Errorf("swig instruction data truncated: payload needs %d bytes, %d available",
			payloadLen, len(data)-start)
	}

	var results []SwigCompactInstruction
	offset, end := start, start+payloadLen

	for offset < end {
		programIDIndex := data[offset]
		offset++

		if offset >= end {
			break
		}
		numAccounts := int(data[offset])
		offset++

		if offset+numAccounts > end {
			break
		}
		accounts := make([]uint8, numAccounts)
		copy(accounts, data[offset:offset+numAccounts])
		offset += numAccounts

		if offset+2 > end {
			break
		}
		dataLen := int(binary.LittleEndian.Uint16(data[offset : offset+2]))
		offset += 2

		if offset+dataLen > end {
			break
		}
		instrData := make([]byte, dataLen)
		copy(instrData, data[offset:offset+dataLen])
		offset += dataLen

		results = append(results, SwigCompactInstruction{
			ProgramIDIndex: programIDIndex,
			Accounts:       accounts,
			Data:           instrData,
		})
	}

	return results, nil
}

// ExtractTokenTransfer locates and decodes the SPL TransferChecked inside a
// payment transaction. For a plain transaction the transfer is the last
// instruction; for a Swig transaction it is embedded in the signV2 payload.
func ExtractTokenTransfer(tx *solana.Transaction) (*TokenTransfer, error) {
	instructions := tx.Message.Instructions
	if len(instructions) == 0 {
		return nil, fmt.Errorf("transaction has no instructions")
	}
	last := instructions[len(instructions)-1]

	if IsSwigTransaction(tx) {
		compact, err := DecodeSwigCompactInstructions(last.Data)
		if err != nil {
			return nil, err
		}
		for _, ci := range compact {
			if int(ci.ProgramIDIndex) >= len(tx.Message.AccountKeys) {
				continue
			}
			if !IsTokenProgram(tx.Message.AccountKeys[ci.ProgramIDIndex]) {
				continue
			}
			accounts := make([]solana.PublicKey, 0, len(ci.Accounts))
			for _, idx := range ci.Accounts {
				if int(idx) >= len(tx.Message.AccountKeys) {
					return nil, fmt.Errorf("swig compact instruction references account index %d out of range", idx)
				}
				accounts = append(accounts, tx.Message.AccountKeys[idx])
			}
			return parseTransferChecked(ci.Data, accounts)
		}
		return nil, fmt.Errorf("swig transaction contains no token transfer")
	}

	program, err := resolveProgram(tx, last)
	if err != nil {
		return nil, err
	}
	if !IsTokenProgram(program) {
		return nil, fmt.Errorf("final instruction is not a token program instruction")
	}

	accounts := make([]solana.PublicKey, 0, len(last.Accounts))
	for _, idx := range last.Accounts {
		if int(idx) >= len(tx.Message.AccountKeys) {
			return nil, fmt.Errorf("instruction references account index %d out of range", idx)
		}
		accounts = append(accounts, tx.Message.AccountKeys[idx])
	}
	return parseTransferChecked(last.Data, accounts)
}

// parseTransferChecked decodes a TransferChecked instruction:
// opcode U8, amount U64 LE, decimals U8; accounts source, mint,
// destination, owner.
func parseTransferChecked(data []byte, accounts []solana.PublicKey) (*TokenTransfer, error) {
	if len(data) < 10 || data[0] != TransferCheckedInstruction {
		return nil, fmt.Errorf("instruction is not TransferChecked")
	}
	if len(accounts) < 4 {
		return nil, fmt.Errorf("TransferChecked requires 4 accounts, got %d", len(accounts))
	}
	return &TokenTransfer{
		Source:      accounts[0],
		Mint:        accounts[1],
		Destination: accounts[2],
		Owner:       accounts[3],
		Amount:      binary.LittleEndian.Uint64(data[1:9]),
		Decimals:    data[9],
	}, nil
}

func resolveProgram(tx *solana.Transaction, ix solana.CompiledInstruction) (solana.PublicKey, error) {
	if int(ix.ProgramIDIndex) >= len(tx.Message.AccountKeys) {
		return solana.PublicKey{}, fmt.Errorf("program id index %d out of range", ix.ProgramIDIndex)
	}
	return tx.Message.AccountKeys[ix.ProgramIDIndex], nil
}
