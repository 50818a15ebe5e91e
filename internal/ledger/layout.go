package ledger

import (
	"bytes"
	"crypto/sha256"
	"encoding/binary"
	"fmt"
	"time"

	"github.com/gagliardetto/solana-go"

	"github.com/alanyoungcy/battlekeeper/internal/domain"
)

// Battle state account layout, version 1. All integers are little-endian.
const (
	offDiscriminator = 0
	offVersion       = 8
	offMint          = 9
	offDeposited     = 41
	offVolume        = 49
	offStatus        = 57
	offOpponentTag   = 58
	offOpponent      = 59
	offCreatedAt     = 91
	offQualifiedAt   = 99
	offBattleStartAt = 107
	offVictoryAt     = 115
	offListedAt      = 123
	offBump          = 131

	stateLayoutLen     = 132
	stateLayoutVersion = 1
)

const battleStateAccountName = "TokenBattleState"

// stateDiscriminator identifies a battle state account.
var stateDiscriminator = accountDiscriminator(battleStateAccountName)

func accountDiscriminator(name string) [8]byte {
	sum := sha256.Sum256([]byte("account:" + name))
	var d [8]byte
	copy(d[:], sum[:8])
	return d
}

// DecodeBattleState decodes a raw battle state account. It rejects anything it
// does not recognise rather than guessing at offsets.
func DecodeBattleState(mint solana.PublicKey, data []byte) (domain.BattleState, error) {
	if len(data) < stateLayoutLen {
		return domain.BattleState{}, fmt.Errorf("%w: account is %d bytes, want at least %d",
			domain.ErrUnknownLayout, len(data), stateLayoutLen)
	}
	if !bytes.Equal(data[offDiscriminator:offDiscriminator+8], stateDiscriminator[:]) {
		return domain.BattleState{}, fmt.Errorf("%w: discriminator %x", domain.ErrUnknownLayout, data[:8])
	}
	if v := data[offVersion]; v != stateLayoutVersion {
		return domain.BattleState{}, fmt.Errorf("%w: version %d", domain.ErrUnknownLayout, v)
	}

	var stored solana.PublicKey
	copy(stored[:], data[offMint:offMint+32])
	if !stored.Equals(mint) {
		return domain.BattleState{}, fmt.Errorf("%w: account mint %s does not match %s",
			domain.ErrUnknownLayout, stored, mint)
	}

	status, err := domain.ParseBattleStatus(data[offStatus])
	if err != nil {
		return domain.BattleState{}, fmt.Errorf("%w: %v", domain.ErrUnknownLayout, err)
	}

	st := domain.BattleState{
		AssetID:         mint.String(),
		Status:          status,
		Deposited:       binary.LittleEndian.Uint64(data[offDeposited:]),
		Volume:          binary.LittleEndian.Uint64(data[offVolume:]),
		CreatedAt:       unixAt(data, offCreatedAt),
		QualifiedAt:     unixAt(data, offQualifiedAt),
		BattleStartedAt: unixAt(data, offBattleStartAt),
		VictoryAt:       unixAt(data, offVictoryAt),
		ListedAt:        unixAt(data, offListedAt),
	}

	switch data[offOpponentTag] {
	case 0:
	case 1:
		var opp solana.PublicKey
		copy(opp[:], data[offOpponent:offOpponent+32])
		st.OpponentID = opp.String()
	default:
		return domain.BattleState{}, fmt.Errorf("%w: opponent tag %d", domain.ErrUnknownLayout, data[offOpponentTag])
	}

	return st, nil
}

// EncodeBattleState is the inverse of DecodeBattleState. It is used by tests
// and local tooling that fabricate account data.
func EncodeBattleState(st domain.BattleState) ([]byte, error) {
	mint, err := solana.PublicKeyFromBase58(st.AssetID)
	if err != nil {
		return nil, fmt.Errorf("ledger: encode state: %w", err)
	}
	buf := make([]byte, stateLayoutLen)
	copy(buf[offDiscriminator:], stateDiscriminator[:])
	buf[offVersion] = stateLayoutVersion
	copy(buf[offMint:], mint[:])
	binary.LittleEndian.PutUint64(buf[offDeposited:], st.Deposited)
	binary.LittleEndian.PutUint64(buf[offVolume:], st.Volume)
	buf[offStatus] = uint8(st.Status)
	if st.OpponentID != "" {
		opp, err := solana.PublicKeyFromBase58(st.OpponentID)
		if err != nil {
			return nil, fmt.Errorf("ledger: encode opponent: %w", err)
		}
		buf[offOpponentTag] = 1
		copy(buf[offOpponent:], opp[:])
	}
	putUnix(buf, offCreatedAt, st.CreatedAt)
	putUnix(buf, offQualifiedAt, st.QualifiedAt)
	putUnix(buf, offBattleStartAt, st.BattleStartedAt)
	putUnix(buf, offVictoryAt, st.VictoryAt)
	putUnix(buf, offListedAt, st.ListedAt)
	return buf, nil
}

func unixAt(data []byte, off int) time.Time {
	secs := int64(binary.LittleEndian.Uint64(data[off:]))
	if secs == 0 {
		return time.Time{}
	}
	return time.Unix(secs, 0).UTC()
}

func putUnix(buf []byte, off int, t time.Time) {
	if t.IsZero() {
		return
	}
	binary.LittleEndian.PutUint64(buf[off:], uint64(t.Unix()))
}
