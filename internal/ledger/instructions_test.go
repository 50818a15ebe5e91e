package ledger

import (
	"crypto/sha256"
	"encoding/binary"
	"testing"

	"github.com/gagliardetto/solana-go"
	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"
)

func testProgram() Program {
	return Program{
		ID:       solana.NewWallet().PublicKey(),
		Treasury: solana.NewWallet().PublicKey(),
		Keeper:   solana.NewWallet().PublicKey(),
	}
}

func TestOpcode(t *testing.T) {
	sum := sha256.Sum256([]byte("global:finalize_duel"))
	op := Opcode(ixFinalizeDuel)
	assert.Equal(t, sum[:8], op[:])
	assert.NotEqual(t, Opcode(ixCheckVictory), Opcode(ixWithdraw))
}

func TestInstructionData_Args(t *testing.T) {
	ix := Instruction{Name: ixWithdraw, Args: []uint64{7, 1 << 40}}
	data := ix.Data()
	require.Len(t, data, 24)

	op := Opcode(ixWithdraw)
	assert.Equal(t, op[:], data[:8])
	assert.Equal(t, uint64(7), binary.LittleEndian.Uint64(data[8:]))
	assert.Equal(t, uint64(1<<40), binary.LittleEndian.Uint64(data[16:]))
}

func TestCheckVictory_Accounts(t *testing.T) {
	p := testProgram()
	mint := solana.NewWallet().PublicKey()
	state, err := p.StateAddress(mint)
	require.NoError(t, err)

	ix, err := p.CheckVictory(mint)
	require.NoError(t, err)
	require.Len(t, ix.Accounts, 3)

	assert.Equal(t, state, ix.Accounts[0].PublicKey)
	assert.True(t, ix.Accounts[0].IsWritable)
	assert.Equal(t, mint, ix.Accounts[1].PublicKey)
	assert.False(t, ix.Accounts[1].IsWritable)
	assert.Equal(t, p.Keeper, ix.Accounts[2].PublicKey)
	assert.True(t, ix.Accounts[2].IsSigner)
}

func TestFinalizeDuel_Accounts(t *testing.T) {
	p := testProgram()
	winner, loser := solana.NewWallet().PublicKey(), solana.NewWallet().PublicKey()

	ix, err := p.FinalizeDuel(winner, loser)
	require.NoError(t, err)
	require.Len(t, ix.Accounts, 7)

	assert.Equal(t, winner, ix.Accounts[2].PublicKey)
	assert.Equal(t, loser, ix.Accounts[3].PublicKey)
	assert.Equal(t, p.Treasury, ix.Accounts[4].PublicKey)
	assert.True(t, ix.Accounts[5].IsSigner)
	assert.Equal(t, solana.SystemProgramID, ix.Accounts[6].PublicKey)
}

func TestWithdrawForListing_Accounts(t *testing.T) {
	p := testProgram()
	mint := solana.NewWallet().PublicKey()

	ix, err := p.WithdrawForListing(mint)
	require.NoError(t, err)
	require.Len(t, ix.Accounts, 9)

	keeperATA, _, err := solana.FindAssociatedTokenAddress(p.Keeper, mint)
	require.NoError(t, err)
	assert.Equal(t, keeperATA, ix.Accounts[4].PublicKey)
	assert.Equal(t, solana.TokenProgramID, ix.Accounts[6].PublicKey)
	assert.Equal(t, solana.SPLAssociatedTokenAccountProgramID, ix.Accounts[7].PublicKey)
}

func TestStateAddress_Deterministic(t *testing.T) {
	p := testProgram()
	mint := solana.NewWallet().PublicKey()
	a, err := p.StateAddress(mint)
	require.NoError(t, err)
	b, err := p.StateAddress(mint)
	require.NoError(t, err)
	assert.Equal(t, a, b)
}
