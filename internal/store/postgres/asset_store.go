package postgres

import (
	"context"
	"errors"
	"fmt"
	"time"

	"github.com/jackc/pgx/v5"
	"github.com/jackc/pgx/v5/pgxpool"

	"github.com/alanyoungcy/battlekeeper/internal/domain"
)

// AssetStore implements domain.AssetStore using PostgreSQL.
type AssetStore struct {
	pool *pgxpool.Pool
}

// NewAssetStore creates a new AssetStore backed by the given connection pool.
func NewAssetStore(pool *pgxpool.Pool) *AssetStore {
	return &AssetStore{pool: pool}
}

const assetColumns = `
	asset_id, opponent_id, name, symbol, creator_wallet, status,
	deposited, volume, pool_id, pool_url,
	victory_tx, finalize_tx, withdraw_tx, pool_tx,
	spoils, platform_fee, completed_at, updated_at`

// Get returns the cached row for assetID, or domain.ErrNotFound.
func (s *AssetStore) Get(ctx context.Context, assetID string) (domain.IndexedAsset, error) {
	row := s.pool.QueryRow(ctx, `SELECT `+assetColumns+` FROM battle_assets WHERE asset_id = $1`, assetID)
	a, err := scanAsset(row)
	if err != nil {
		if errors.Is(err, pgx.ErrNoRows) {
			return domain.IndexedAsset{}, domain.ErrNotFound
		}
		return domain.IndexedAsset{}, fmt.Errorf("postgres: get asset %s: %w", assetID, err)
	}
	return a, nil
}

// ListByStatus returns every asset whose cached status is one of statuses,
// oldest update first.
func (s *AssetStore) ListByStatus(ctx context.Context, statuses []domain.BattleStatus) ([]domain.IndexedAsset, error) {
	if len(statuses) == 0 {
		return nil, nil
	}
	codes := make([]int16, len(statuses))
	for i, st := range statuses {
		codes[i] = int16(st)
	}

	rows, err := s.pool.Query(ctx,
		`SELECT `+assetColumns+` FROM battle_assets WHERE status = ANY($1) ORDER BY updated_at ASC`,
		codes,
	)
	if err != nil {
		return nil, fmt.Errorf("postgres: list assets by status: %w", err)
	}
	defer rows.Close()

	var assets []domain.IndexedAsset
	for rows.Next() {
		a, err := scanAsset(rows)
		if err != nil {
			return nil, fmt.Errorf("postgres: scan asset: %w", err)
		}
		assets = append(assets, a)
	}
	if err := rows.Err(); err != nil {
		return nil, fmt.Errorf("postgres: list assets rows: %w", err)
	}
	return assets, nil
}

// AdvanceStatus writes the observed status and counters unless the cached
// status is already further along.
func (s *AssetStore) AdvanceStatus(ctx context.Context, assetID string, status domain.BattleStatus, deposited, volume uint64) (bool, error) {
	const query = `
		UPDATE battle_assets SET
			status     = $2,
			deposited  = $3,
			volume     = $4,
			updated_at = NOW()
		WHERE asset_id = $1
		  AND status <= $2
		  AND (status <> $2 OR deposited <> $3 OR volume <> $4)`

	tag, err := s.pool.Exec(ctx, query, assetID, int16(status), int64(deposited), int64(volume))
	if err != nil {
		return false, fmt.Errorf("postgres: advance status %s: %w", assetID, err)
	}
	return tag.RowsAffected() > 0, nil
}

// RecordStep stores the fields a pipeline step produced. Empty and zero
// values leave the stored column untouched, and the status never moves
// backwards.
func (s *AssetStore) RecordStep(ctx context.Context, o domain.StepOutcome) error {
	const query = `
		INSERT INTO battle_assets (
			asset_id, status, deposited, volume,
			victory_tx, finalize_tx, withdraw_tx, pool_tx,
			pool_id, pool_url, spoils, platform_fee, completed_at, updated_at
		) VALUES (
			$1, $2, $3, $4,
			$5, $6, $7, $8,
			$9, $10, $11, $12, $13, NOW()
		)
		ON CONFLICT (asset_id) DO UPDATE SET
			status       = GREATEST(battle_assets.status, EXCLUDED.status),
			deposited    = CASE WHEN EXCLUDED.deposited > 0 THEN EXCLUDED.deposited ELSE battle_assets.deposited END,
			volume       = CASE WHEN EXCLUDED.volume > 0 THEN EXCLUDED.volume ELSE battle_assets.volume END,
			victory_tx   = COALESCE(NULLIF(EXCLUDED.victory_tx, ''), battle_assets.victory_tx),
			finalize_tx  = COALESCE(NULLIF(EXCLUDED.finalize_tx, ''), battle_assets.finalize_tx),
			withdraw_tx  = COALESCE(NULLIF(EXCLUDED.withdraw_tx, ''), battle_assets.withdraw_tx),
			pool_tx      = COALESCE(NULLIF(EXCLUDED.pool_tx, ''), battle_assets.pool_tx),
			pool_id      = COALESCE(NULLIF(EXCLUDED.pool_id, ''), battle_assets.pool_id),
			pool_url     = COALESCE(NULLIF(EXCLUDED.pool_url, ''), battle_assets.pool_url),
			spoils       = CASE WHEN EXCLUDED.spoils > 0 THEN EXCLUDED.spoils ELSE battle_assets.spoils END,
			platform_fee = CASE WHEN EXCLUDED.platform_fee > 0 THEN EXCLUDED.platform_fee ELSE battle_assets.platform_fee END,
			completed_at = COALESCE(battle_assets.completed_at, EXCLUDED.completed_at),
			updated_at   = NOW()`

	f := stepFields(o)
	_, err := s.pool.Exec(ctx, query,
		o.AssetID, int16(o.Status), int64(o.Deposited), int64(o.Volume),
		f.victoryTx, f.finalizeTx, f.withdrawTx, f.poolTx,
		o.PoolID, o.PoolURL, int64(f.spoils), int64(f.fee), f.completedAt,
	)
	if err != nil {
		return fmt.Errorf("postgres: record step %s for %s: %w", o.Step, o.AssetID, err)
	}
	return nil
}

type stepColumns struct {
	victoryTx   string
	finalizeTx  string
	withdrawTx  string
	poolTx      string
	spoils      uint64
	fee         uint64
	completedAt *time.Time
}

// stepFields maps an outcome onto the columns its step owns.
func stepFields(o domain.StepOutcome) stepColumns {
	var c stepColumns
	switch o.Step {
	case domain.StepCheckVictory:
		c.victoryTx = o.TxID
	case domain.StepFinalize:
		c.finalizeTx = o.TxID
		if o.Plunder != nil {
			c.spoils = o.Plunder.Spoils
			c.fee = o.Plunder.PlatformFee
		}
	case domain.StepWithdraw:
		c.withdrawTx = o.TxID
	case domain.StepCreatePool:
		c.poolTx = o.TxID
		at := o.At
		c.completedAt = &at
	}
	return c
}

func scanAsset(row pgx.Row) (domain.IndexedAsset, error) {
	var (
		a                 domain.IndexedAsset
		status            int16
		deposited, volume int64
		spoils, fee       int64
	)
	err := row.Scan(
		&a.AssetID, &a.OpponentID, &a.Name, &a.Symbol, &a.CreatorWallet, &status,
		&deposited, &volume, &a.PoolID, &a.PoolURL,
		&a.VictoryTx, &a.FinalizeTx, &a.WithdrawTx, &a.PoolTx,
		&spoils, &fee, &a.CompletedAt, &a.UpdatedAt,
	)
	if err != nil {
		return domain.IndexedAsset{}, err
	}
	st, err := domain.ParseBattleStatus(uint8(status))
	if err != nil {
		return domain.IndexedAsset{}, err
	}
	a.Status = st
	a.Deposited = uint64(deposited)
	a.Volume = uint64(volume)
	a.Spoils = uint64(spoils)
	a.PlatformFee = uint64(fee)
	return a, nil
}
