package solana

import (
	"encoding/binary"
	"fmt"

	"github.com/gagliardetto/solana-go"
)

// System Program instruction types
const (
	SystemProgramTransferInstruction = uint32(2)
)

// Token Program instruction types
const (
	TokenProgramTransferInstruction        = uint8(3)
	TokenProgramTransferCheckedInstruction = uint8(12)
)

// Associated Token Account program instruction types
const (
	AssociatedTokenCreateInstruction           = uint8(0)
	AssociatedTokenCreateIdempotentInstruction = uint8(1)
)

// InstructionSummary is a human-readable decoding of one instruction. It is
// what the CLI prints for a dry run and what tests assert against.
type InstructionSummary struct {
	Program     string `json:"program"`
	Kind        string `json:"kind"`
	Source      string `json:"source,omitempty"`
	Destination string `json:"destination,omitempty"`
	Mint        string `json:"mint,omitempty"`
	Authority   string `json:"authority,omitempty"`
	Amount      uint64 `json:"amount,omitempty"`
	Decimals    *uint8 `json:"decimals,omitempty"`
}

// DescribeTransaction decodes every instruction of a compiled transaction.
// Instructions we do not recognise are reported with Kind "unknown".
func DescribeTransaction(tx *solana.Transaction) ([]InstructionSummary, error) {
	if tx == nil {
		return nil, fmt.Errorf("nil transaction")
	}
	accountKeys := tx.Message.AccountKeys
	summaries := make([]InstructionSummary, 0, len(tx.Message.Instructions))
	for i, instruction := range tx.Message.Instructions {
		if int(instruction.ProgramIDIndex) >= len(accountKeys) {
			return nil, fmt.Errorf("instruction %d: program index out of bounds", i)
		}
		programID := accountKeys[instruction.ProgramIDIndex]

		var (
			summary InstructionSummary
			err     error
		)
		switch {
		case programID.Equals(solana.SystemProgramID):
			summary, err = parseSystemTransfer(instruction, accountKeys)
		case programID.Equals(solana.TokenProgramID), programID.Equals(solana.Token2022ProgramID):
			summary, err = parseTokenTransfer(instruction, accountKeys)
			summary.Program = programName(programID)
		case programID.Equals(solana.SPLAssociatedTokenAccountProgramID):
			summary, err = parseAssociatedTokenCreate(instruction, accountKeys)
		default:
			summary = InstructionSummary{Program: programID.String(), Kind: "unknown"}
		}
		if err != nil {
			return nil, fmt.Errorf("instruction %d: %w", i, err)
		}
		summaries = append(summaries, summary)
	}
	return summaries, nil
}

func programName(programID solana.PublicKey) string {
	switch {
	case programID.Equals(solana.SystemProgramID):
		return "system"
	case programID.Equals(solana.TokenProgramID):
		return "spl-token"
	case programID.Equals(solana.Token2022ProgramID):
		return "spl-token-2022"
	case programID.Equals(solana.SPLAssociatedTokenAccountProgramID):
		return "associated-token-account"
	default:
		return programID.String()
	}
}

func accountAt(instruction solana.CompiledInstruction, accountKeys []solana.PublicKey, pos int) (solana.PublicKey, error) {
	if pos >= len(instruction.Accounts) {
		return solana.PublicKey{}, fmt.Errorf("missing account %d", pos)
	}
	idx := instruction.Accounts[pos]
	if int(idx) >= len(accountKeys) {
		return solana.PublicKey{}, fmt.Errorf("account index %d out of bounds", idx)
	}
	return accountKeys[idx], nil
}

// parseSystemTransfer decodes a System Program Transfer instruction.
func parseSystemTransfer(instruction solana.CompiledInstruction, accountKeys []solana.PublicKey) (InstructionSummary, error) {
	// System Transfer instruction format:
	// [0..4]  = instruction type (u32, should be 2 for Transfer)
	// [4..12] = lamports (u64)
	summary := InstructionSummary{Program: "system", Kind: "unknown"}
	if len(instruction.Data) < 4 {
		return summary, fmt.Errorf("instruction data too short: %d bytes", len(instruction.Data))
	}
	if binary.LittleEndian.Uint32(instruction.Data[0:4]) != SystemProgramTransferInstruction {
		return summary, nil
	}
	if len(instruction.Data) < 12 {
		return summary, fmt.Errorf("transfer instruction data too short: %d bytes", len(instruction.Data))
	}

	// System Transfer accounts: [from, to]
	from, err := accountAt(instruction, accountKeys, 0)
	if err != nil {
		return summary, err
	}
	to, err := accountAt(instruction, accountKeys, 1)
	if err != nil {
		return summary, err
	}

	summary.Kind = "transfer"
	summary.Source = from.String()
	summary.Destination = to.String()
	summary.Authority = from.String()
	summary.Amount = binary.LittleEndian.Uint64(instruction.Data[4:12])
	return summary, nil
}

// parseTokenTransfer decodes SPL Token Transfer and TransferChecked.
func parseTokenTransfer(instruction solana.CompiledInstruction, accountKeys []solana.PublicKey) (InstructionSummary, error) {
	summary := InstructionSummary{Kind: "unknown"}
	if len(instruction.Data) == 0 {
		return summary, fmt.Errorf("empty instruction data")
	}

	switch instruction.Data[0] {
	case TokenProgramTransferInstruction:
		// [0] = 3, [1..9] = amount (u64)
		// accounts: [source, destination, authority]
		if len(instruction.Data) < 9 {
			return summary, fmt.Errorf("transfer instruction data too short")
		}
		accounts := make([]solana.PublicKey, 3)
		for i := range accounts {
			acc, err := accountAt(instruction, accountKeys, i)
			if err != nil {
				return summary, err
			}
			accounts[i] = acc
		}
		summary.Kind = "transfer"
		summary.Amount = binary.LittleEndian.Uint64(instruction.Data[1:9])
		summary.Source = accounts[0].String()
		summary.Destination = accounts[1].String()
		summary.Authority = accounts[2].String()
		return summary, nil

	case TokenProgramTransferCheckedInstruction:
		// [0] = 12, [1..9] = amount (u64), [9] = decimals (u8)
		// accounts: [source, mint, destination, authority, ...]
		if len(instruction.Data) < 10 {
			return summary, fmt.Errorf("transferChecked instruction data too short")
		}
		accounts := make([]solana.PublicKey, 4)
		for i := range accounts {
			acc, err := accountAt(instruction, accountKeys, i)
			if err != nil {
				return summary, fmt.Errorf("transferChecked: %w", err)
			}
			accounts[i] = acc
		}
		decimals := instruction.Data[9]
		summary.Kind = "transfer_checked"
		summary.Amount = binary.LittleEndian.Uint64(instruction.Data[1:9])
		summary.Decimals = &decimals
		summary.Source = accounts[0].String()
		summary.Mint = accounts[1].String()
		summary.Destination = accounts[2].String()
		summary.Authority = accounts[3].String()
		return summary, nil

	default:
		return summary, nil
	}
}

// parseAssociatedTokenCreate decodes Create and CreateIdempotent.
// accounts: [payer, associated account, wallet, mint, system program, token program]
func parseAssociatedTokenCreate(instruction solana.CompiledInstruction, accountKeys []solana.PublicKey) (InstructionSummary, error) {
	summary := InstructionSummary{Program: "associated-token-account", Kind: "unknown"}

	switch {
	case len(instruction.Data) == 0 || instruction.Data[0] == AssociatedTokenCreateInstruction:
		summary.Kind = "create"
	case instruction.Data[0] == AssociatedTokenCreateIdempotentInstruction:
		summary.Kind = "create_idempotent"
	default:
		return summary, nil
	}

	accounts := make([]solana.PublicKey, 4)
	for i := range accounts {
		acc, err := accountAt(instruction, accountKeys, i)
		if err != nil {
			return summary, fmt.Errorf("%s: %w", summary.Kind, err)
		}
		accounts[i] = acc
	}
	summary.Source = accounts[0].String()
	summary.Destination = accounts[1].String()
	summary.Authority = accounts[2].String()
	summary.Mint = accounts[3].String()
	return summary, nil
}
