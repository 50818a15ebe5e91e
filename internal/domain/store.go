package domain

import (
	"context"
	"time"
)

// ListOpts provides pagination and filtering for list queries.
type ListOpts struct {
	Limit  int
	Offset int
	Since  *time.Time
	Until  *time.Time
}

// AssetStore persists the cached index mirror of battle assets.
type AssetStore interface {
	Get(ctx context.Context, assetID string) (IndexedAsset, error)
	ListByStatus(ctx context.Context, statuses []BattleStatus) ([]IndexedAsset, error)
	// AdvanceStatus writes status only when it does not regress the cached
	// value. It reports whether the row changed.
	AdvanceStatus(ctx context.Context, assetID string, status BattleStatus, deposited, volume uint64) (bool, error)
	RecordStep(ctx context.Context, outcome StepOutcome) error
}

// WinnerStore persists completed battle results.
type WinnerStore interface {
	Upsert(ctx context.Context, w WinnerRecord) error
	Get(ctx context.Context, winnerID string) (WinnerRecord, error)
}

// RewardStore persists the append-only reward ledger.
type RewardStore interface {
	// Append inserts e unless an entry with the same wallet, battle and reason
	// exists. It returns the stored entry and whether it was newly created.
	Append(ctx context.Context, e RewardEntry) (RewardEntry, bool, error)
	Total(ctx context.Context, wallet string) (int64, error)
}

// NotificationStore persists user notifications. Create is idempotent per
// wallet, asset and kind.
type NotificationStore interface {
	Create(ctx context.Context, n Notification) error
}

// ActivityStore persists an append-only activity log.
type ActivityStore interface {
	Log(ctx context.Context, assetID, action string, detail map[string]any) error
	List(ctx context.Context, opts ListOpts) ([]ActivityEntry, error)
	ListBefore(ctx context.Context, before time.Time) ([]ActivityEntry, error)
	DeleteBefore(ctx context.Context, before time.Time) (int64, error)
}
