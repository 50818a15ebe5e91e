package domain

import (
	"fmt"
	"time"
)

// BattleStatus is the lifecycle position of one asset. The numeric values
// match the status byte stored in the on-ledger battle state account and the
// status code persisted in the index.
type BattleStatus uint8

const (
	StatusCreated        BattleStatus = 0
	StatusQualified      BattleStatus = 1
	StatusInBattle       BattleStatus = 2
	StatusVictoryPending BattleStatus = 3
	StatusListed         BattleStatus = 4
	StatusPoolCreated    BattleStatus = 5
)

var statusNames = [...]string{
	StatusCreated:        "created",
	StatusQualified:      "qualified",
	StatusInBattle:       "in_battle",
	StatusVictoryPending: "victory_pending",
	StatusListed:         "listed",
	StatusPoolCreated:    "pool_created",
}

// ParseBattleStatus validates a raw status byte.
func ParseBattleStatus(b uint8) (BattleStatus, error) {
	if int(b) >= len(statusNames) {
		return 0, fmt.Errorf("domain: unknown battle status %d", b)
	}
	return BattleStatus(b), nil
}

func (s BattleStatus) String() string {
	if int(s) < len(statusNames) {
		return statusNames[s]
	}
	return fmt.Sprintf("status(%d)", uint8(s))
}

// AtLeast reports whether s is at or beyond other in the lifecycle ordering.
func (s BattleStatus) AtLeast(other BattleStatus) bool {
	return s >= other
}

// MarshalText renders the status by name in JSON responses.
func (s BattleStatus) MarshalText() ([]byte, error) {
	return []byte(s.String()), nil
}

// UnmarshalText accepts a status name as rendered by MarshalText.
func (s *BattleStatus) UnmarshalText(text []byte) error {
	for i, name := range statusNames {
		if name == string(text) {
			*s = BattleStatus(i)
			return nil
		}
	}
	return fmt.Errorf("domain: unknown battle status %q", text)
}

// BattleState is the decoded state of one asset. The ledger holds the
// authoritative copy; the index holds a best-effort mirror.
type BattleState struct {
	AssetID         string
	OpponentID      string // empty when no opponent is assigned
	Status          BattleStatus
	Deposited       uint64 // base units
	Volume          uint64 // base units
	CreatedAt       time.Time
	QualifiedAt     time.Time
	BattleStartedAt time.Time
	VictoryAt       time.Time
	ListedAt        time.Time
}

// HasOpponent reports whether the asset is paired.
func (b BattleState) HasOpponent() bool {
	return b.OpponentID != ""
}

// IndexedAsset is the cached index row for one asset, carrying the fields the
// pipeline reads and writes.
type IndexedAsset struct {
	AssetID       string
	OpponentID    string
	Name          string
	Symbol        string
	CreatorWallet string
	Status        BattleStatus
	Deposited     uint64
	Volume        uint64
	PoolID        string
	PoolURL       string
	VictoryTx     string
	FinalizeTx    string
	WithdrawTx    string
	PoolTx        string
	Spoils        uint64
	PlatformFee   uint64
	CompletedAt   *time.Time
	UpdatedAt     time.Time
}

// WinnerRecord is persisted once per completed battle, keyed by the winner
// asset id.
type WinnerRecord struct {
	WinnerID      string
	WinnerName    string
	WinnerSymbol  string
	WinnerCreator string
	LoserID       string
	LoserName     string
	LoserSymbol   string
	LoserCreator  string
	FinalDeposit  uint64
	FinalVolume   uint64
	Spoils        uint64
	PlatformFee   uint64
	PoolID        string
	PoolURL       string
	VictoryTx     string
	FinalizeTx    string
	WithdrawTx    string
	PoolTx        string
	CompletedAt   time.Time
}

// RewardEntry is one append-only point award.
type RewardEntry struct {
	ID           int64
	Wallet       string
	BattleID     string
	Reason       string
	Points       int64
	RunningTotal int64
	CreatedAt    time.Time
}

// Notification is a user-facing message addressed to a wallet.
type Notification struct {
	ID        int64
	Wallet    string
	Kind      string
	Title     string
	Body      string
	AssetID   string
	CreatedAt time.Time
}

// ActivityEntry is a single append-only activity log row.
type ActivityEntry struct {
	ID        int64
	AssetID   string
	Action    string
	Detail    map[string]any
	CreatedAt time.Time
}
