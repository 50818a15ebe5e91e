package battle

import (
	"context"

	"github.com/alanyoungcy/battlekeeper/internal/domain"
)

// Ledger reads battle state and submits keeper instructions.
type Ledger interface {
	ReadState(ctx context.Context, assetID string) (domain.BattleState, bool, error)
	CheckVictory(ctx context.Context, assetID string) domain.TxOutcome
	FinalizeDuel(ctx context.Context, winnerID, loserID string) domain.TxOutcome
	WithdrawForListing(ctx context.Context, assetID string) domain.TxOutcome
}

// KeeperFunds reports what the keeper holds.
type KeeperFunds interface {
	KeeperAddress() string
	NativeBalance(ctx context.Context) (uint64, error)
	TokenBalance(ctx context.Context, assetID string) (uint64, error)
}

// PoolService is the AMM the winner is listed on.
type PoolService interface {
	FindPool(ctx context.Context, mint string) (domain.Pool, bool, error)
	CreatePool(ctx context.Context, spec domain.PoolSpec) (domain.Pool, error)
}

// Index is the best-effort mirror of pipeline progress. Writes never fail the
// caller; implementations log and count their own errors.
type Index interface {
	Lookup(ctx context.Context, assetID string) (domain.IndexedAsset, bool)
	ListActive(ctx context.Context) ([]domain.IndexedAsset, error)
	RecordStep(ctx context.Context, outcome domain.StepOutcome)
	RecordCompletion(ctx context.Context, run *domain.ExecuteResult)
	RecordFailure(ctx context.Context, run *domain.ExecuteResult)
	CorrectStatus(ctx context.Context, observed domain.BattleState)
	RecordScan(ctx context.Context, result domain.ScanResult)
}
