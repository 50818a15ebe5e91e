package postgres

import (
	"context"
	"errors"
	"fmt"

	"github.com/jackc/pgx/v5"
	"github.com/jackc/pgx/v5/pgxpool"

	"github.com/alanyoungcy/battlekeeper/internal/domain"
)

// WinnerStore implements domain.WinnerStore using PostgreSQL.
type WinnerStore struct {
	pool *pgxpool.Pool
}

// NewWinnerStore creates a new WinnerStore.
func NewWinnerStore(pool *pgxpool.Pool) *WinnerStore {
	return &WinnerStore{pool: pool}
}

// Upsert inserts or replaces the winner record keyed by winner id, so a
// re-run never produces a second row.
func (s *WinnerStore) Upsert(ctx context.Context, w domain.WinnerRecord) error {
	const query = `
		INSERT INTO battle_winners (
			winner_id, winner_name, winner_symbol, winner_creator,
			loser_id, loser_name, loser_symbol, loser_creator,
			final_deposit, final_volume, spoils, platform_fee,
			pool_id, pool_url, victory_tx, finalize_tx, withdraw_tx, pool_tx,
			completed_at, updated_at
		) VALUES (
			$1, $2, $3, $4,
			$5, $6, $7, $8,
			$9, $10, $11, $12,
			$13, $14, $15, $16, $17, $18,
			$19, NOW()
		)
		ON CONFLICT (winner_id) DO UPDATE SET
			winner_name    = EXCLUDED.winner_name,
			winner_symbol  = EXCLUDED.winner_symbol,
			winner_creator = EXCLUDED.winner_creator,
			loser_id       = COALESCE(NULLIF(EXCLUDED.loser_id, ''), battle_winners.loser_id),
			loser_name     = EXCLUDED.loser_name,
			loser_symbol   = EXCLUDED.loser_symbol,
			loser_creator  = EXCLUDED.loser_creator,
			final_deposit  = EXCLUDED.final_deposit,
			final_volume   = EXCLUDED.final_volume,
			spoils         = EXCLUDED.spoils,
			platform_fee   = EXCLUDED.platform_fee,
			pool_id        = EXCLUDED.pool_id,
			pool_url       = EXCLUDED.pool_url,
			victory_tx     = COALESCE(NULLIF(EXCLUDED.victory_tx, ''), battle_winners.victory_tx),
			finalize_tx    = COALESCE(NULLIF(EXCLUDED.finalize_tx, ''), battle_winners.finalize_tx),
			withdraw_tx    = COALESCE(NULLIF(EXCLUDED.withdraw_tx, ''), battle_winners.withdraw_tx),
			pool_tx        = COALESCE(NULLIF(EXCLUDED.pool_tx, ''), battle_winners.pool_tx),
			completed_at   = battle_winners.completed_at,
			updated_at     = NOW()`

	_, err := s.pool.Exec(ctx, query,
		w.WinnerID, w.WinnerName, w.WinnerSymbol, w.WinnerCreator,
		w.LoserID, w.LoserName, w.LoserSymbol, w.LoserCreator,
		int64(w.FinalDeposit), int64(w.FinalVolume), int64(w.Spoils), int64(w.PlatformFee),
		w.PoolID, w.PoolURL, w.VictoryTx, w.FinalizeTx, w.WithdrawTx, w.PoolTx,
		w.CompletedAt,
	)
	if err != nil {
		return fmt.Errorf("postgres: upsert winner %s: %w", w.WinnerID, err)
	}
	return nil
}

// Get returns the winner record for winnerID, or domain.ErrNotFound.
func (s *WinnerStore) Get(ctx context.Context, winnerID string) (domain.WinnerRecord, error) {
	const query = `
		SELECT winner_id, winner_name, winner_symbol, winner_creator,
			loser_id, loser_name, loser_symbol, loser_creator,
			final_deposit, final_volume, spoils, platform_fee,
			pool_id, pool_url, victory_tx, finalize_tx, withdraw_tx, pool_tx,
			completed_at
		FROM battle_winners WHERE winner_id = $1`

	var (
		w                            domain.WinnerRecord
		deposit, volume, spoils, fee int64
	)
	err := s.pool.QueryRow(ctx, query, winnerID).Scan(
		&w.WinnerID, &w.WinnerName, &w.WinnerSymbol, &w.WinnerCreator,
		&w.LoserID, &w.LoserName, &w.LoserSymbol, &w.LoserCreator,
		&deposit, &volume, &spoils, &fee,
		&w.PoolID, &w.PoolURL, &w.VictoryTx, &w.FinalizeTx, &w.WithdrawTx, &w.PoolTx,
		&w.CompletedAt,
	)
	if err != nil {
		if errors.Is(err, pgx.ErrNoRows) {
			return domain.WinnerRecord{}, domain.ErrNotFound
		}
		return domain.WinnerRecord{}, fmt.Errorf("postgres: get winner %s: %w", winnerID, err)
	}
	w.FinalDeposit = uint64(deposit)
	w.FinalVolume = uint64(volume)
	w.Spoils = uint64(spoils)
	w.PlatformFee = uint64(fee)
	return w, nil
}
