package ledger

import (
	"crypto/sha256"
	"encoding/binary"
	"fmt"

	"github.com/gagliardetto/solana-go"
)

// Instruction names as registered by the battle program.
const (
	ixCheckVictory = "check_victory_conditions"
	ixFinalizeDuel = "finalize_duel"
	ixWithdraw     = "withdraw_for_listing"
)

const stateSeed = "battle_state"

// Opcode returns the 8-byte selector the program dispatches on.
func Opcode(name string) [8]byte {
	sum := sha256.Sum256([]byte("global:" + name))
	var op [8]byte
	copy(op[:], sum[:8])
	return op
}

// Instruction is a program call with its fixed account list.
type Instruction struct {
	Name     string
	Accounts solana.AccountMetaSlice
	Args     []uint64
}

// Data encodes the opcode followed by any little-endian u64 arguments.
func (i Instruction) Data() []byte {
	op := Opcode(i.Name)
	buf := make([]byte, 8, 8+8*len(i.Args))
	copy(buf, op[:])
	for _, a := range i.Args {
		buf = binary.LittleEndian.AppendUint64(buf, a)
	}
	return buf
}

// Program knows the addresses every keeper instruction touches.
type Program struct {
	ID       solana.PublicKey
	Treasury solana.PublicKey
	Keeper   solana.PublicKey
}

// StateAddress derives the battle state account for mint.
func (p Program) StateAddress(mint solana.PublicKey) (solana.PublicKey, error) {
	addr, _, err := solana.FindProgramAddress([][]byte{[]byte(stateSeed), mint[:]}, p.ID)
	if err != nil {
		return solana.PublicKey{}, fmt.Errorf("ledger: derive state address: %w", err)
	}
	return addr, nil
}

// Build converts i into an instruction bound to the program.
func (p Program) Build(i Instruction) solana.Instruction {
	return solana.NewInstruction(p.ID, i.Accounts, i.Data())
}

// CheckVictory builds check_victory_conditions for mint.
func (p Program) CheckVictory(mint solana.PublicKey) (Instruction, error) {
	state, err := p.StateAddress(mint)
	if err != nil {
		return Instruction{}, err
	}
	return Instruction{
		Name: ixCheckVictory,
		Accounts: solana.AccountMetaSlice{
			solana.NewAccountMeta(state, true, false),
			solana.NewAccountMeta(mint, false, false),
			solana.NewAccountMeta(p.Keeper, true, true),
		},
	}, nil
}

// FinalizeDuel builds finalize_duel for a winner and its opponent.
func (p Program) FinalizeDuel(winner, loser solana.PublicKey) (Instruction, error) {
	winnerState, err := p.StateAddress(winner)
	if err != nil {
		return Instruction{}, err
	}
	loserState, err := p.StateAddress(loser)
	if err != nil {
		return Instruction{}, err
	}
	return Instruction{
		Name: ixFinalizeDuel,
		Accounts: solana.AccountMetaSlice{
			solana.NewAccountMeta(winnerState, true, false),
			solana.NewAccountMeta(loserState, true, false),
			solana.NewAccountMeta(winner, false, false),
			solana.NewAccountMeta(loser, false, false),
			solana.NewAccountMeta(p.Treasury, true, false),
			solana.NewAccountMeta(p.Keeper, true, true),
			solana.NewAccountMeta(solana.SystemProgramID, false, false),
		},
	}, nil
}

// WithdrawForListing builds withdraw_for_listing for mint. Pooled tokens move
// from the state account's token account to the keeper's.
func (p Program) WithdrawForListing(mint solana.PublicKey) (Instruction, error) {
	state, err := p.StateAddress(mint)
	if err != nil {
		return Instruction{}, err
	}
	stateATA, _, err := solana.FindAssociatedTokenAddress(state, mint)
	if err != nil {
		return Instruction{}, fmt.Errorf("ledger: derive state token account: %w", err)
	}
	keeperATA, _, err := solana.FindAssociatedTokenAddress(p.Keeper, mint)
	if err != nil {
		return Instruction{}, fmt.Errorf("ledger: derive keeper token account: %w", err)
	}
	return Instruction{
		Name: ixWithdraw,
		Accounts: solana.AccountMetaSlice{
			solana.NewAccountMeta(state, true, false),
			solana.NewAccountMeta(mint, false, false),
			solana.NewAccountMeta(stateATA, true, false),
			solana.NewAccountMeta(p.Keeper, true, true),
			solana.NewAccountMeta(keeperATA, true, false),
			solana.NewAccountMeta(p.Treasury, true, false),
			solana.NewAccountMeta(solana.TokenProgramID, false, false),
			solana.NewAccountMeta(solana.SPLAssociatedTokenAccountProgramID, false, false),
			solana.NewAccountMeta(solana.SystemProgramID, false, false),
		},
	}, nil
}
