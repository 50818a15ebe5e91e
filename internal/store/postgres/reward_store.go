package postgres

import (
	"context"
	"errors"
	"fmt"

	"github.com/jackc/pgx/v5"
	"github.com/jackc/pgx/v5/pgxpool"

	"github.com/alanyoungcy/battlekeeper/internal/domain"
)

// RewardStore implements domain.RewardStore using PostgreSQL. Entries are
// append-only and wallet_points carries the per-wallet total.
type RewardStore struct {
	pool *pgxpool.Pool
}

// NewRewardStore creates a new RewardStore.
func NewRewardStore(pool *pgxpool.Pool) *RewardStore {
	return &RewardStore{pool: pool}
}

// Append records e and bumps the wallet total in one transaction. When an
// entry for the same wallet, battle and reason already exists it is returned
// unchanged with created=false.
func (s *RewardStore) Append(ctx context.Context, e domain.RewardEntry) (domain.RewardEntry, bool, error) {
	tx, err := s.pool.Begin(ctx)
	if err != nil {
		return domain.RewardEntry{}, false, fmt.Errorf("postgres: begin: %w", err)
	}
	defer func() { _ = tx.Rollback(ctx) }()

	// Serialise appends per wallet on the points row.
	if _, err := tx.Exec(ctx,
		`INSERT INTO wallet_points (wallet) VALUES ($1) ON CONFLICT (wallet) DO NOTHING`,
		e.Wallet,
	); err != nil {
		return domain.RewardEntry{}, false, fmt.Errorf("postgres: ensure wallet_points %s: %w", e.Wallet, err)
	}
	var total int64
	if err := tx.QueryRow(ctx,
		`SELECT total FROM wallet_points WHERE wallet = $1 FOR UPDATE`,
		e.Wallet,
	).Scan(&total); err != nil {
		return domain.RewardEntry{}, false, fmt.Errorf("postgres: lock wallet_points %s: %w", e.Wallet, err)
	}

	existing, err := getReward(ctx, tx, e.Wallet, e.BattleID, e.Reason)
	switch {
	case err == nil:
		return existing, false, nil
	case !errors.Is(err, pgx.ErrNoRows):
		return domain.RewardEntry{}, false, fmt.Errorf("postgres: check reward: %w", err)
	}

	e.RunningTotal = total + e.Points
	err = tx.QueryRow(ctx, `
		INSERT INTO reward_ledger (wallet, battle_id, reason, points, running_total)
		VALUES ($1, $2, $3, $4, $5)
		RETURNING id, created_at`,
		e.Wallet, e.BattleID, e.Reason, e.Points, e.RunningTotal,
	).Scan(&e.ID, &e.CreatedAt)
	if err != nil {
		return domain.RewardEntry{}, false, fmt.Errorf("postgres: insert reward: %w", err)
	}

	if _, err := tx.Exec(ctx,
		`UPDATE wallet_points SET total = $2, updated_at = NOW() WHERE wallet = $1`,
		e.Wallet, e.RunningTotal,
	); err != nil {
		return domain.RewardEntry{}, false, fmt.Errorf("postgres: update wallet_points %s: %w", e.Wallet, err)
	}

	if err := tx.Commit(ctx); err != nil {
		return domain.RewardEntry{}, false, fmt.Errorf("postgres: commit reward: %w", err)
	}
	return e, true, nil
}

// Total returns the points accumulated by wallet; zero when it has none.
func (s *RewardStore) Total(ctx context.Context, wallet string) (int64, error) {
	var total int64
	err := s.pool.QueryRow(ctx, `SELECT total FROM wallet_points WHERE wallet = $1`, wallet).Scan(&total)
	if err != nil {
		if errors.Is(err, pgx.ErrNoRows) {
			return 0, nil
		}
		return 0, fmt.Errorf("postgres: wallet total %s: %w", wallet, err)
	}
	return total, nil
}

func getReward(ctx context.Context, tx pgx.Tx, wallet, battleID, reason string) (domain.RewardEntry, error) {
	var e domain.RewardEntry
	err := tx.QueryRow(ctx, `
		SELECT id, wallet, battle_id, reason, points, running_total, created_at
		FROM reward_ledger
		WHERE wallet = $1 AND battle_id = $2 AND reason = $3`,
		wallet, battleID, reason,
	).Scan(&e.ID, &e.Wallet, &e.BattleID, &e.Reason, &e.Points, &e.RunningTotal, &e.CreatedAt)
	return e, err
}
