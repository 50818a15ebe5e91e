package postgres

import (
	"context"
	"encoding/json"
	"fmt"
	"time"

	"github.com/jackc/pgx/v5"
	"github.com/jackc/pgx/v5/pgxpool"

	"github.com/alanyoungcy/battlekeeper/internal/domain"
)

// ActivityStore implements domain.ActivityStore using PostgreSQL.
type ActivityStore struct {
	pool *pgxpool.Pool
}

// NewActivityStore creates a new ActivityStore backed by the given connection pool.
func NewActivityStore(pool *pgxpool.Pool) *ActivityStore {
	return &ActivityStore{pool: pool}
}

// Log appends a new activity entry. The detail map is stored as JSONB.
func (s *ActivityStore) Log(ctx context.Context, assetID, action string, detail map[string]any) error {
	detailJSON, err := json.Marshal(detail)
	if err != nil {
		return fmt.Errorf("postgres: marshal activity detail: %w", err)
	}

	const query = `INSERT INTO activity_log (asset_id, action, detail) VALUES ($1, $2, $3)`
	if _, err := s.pool.Exec(ctx, query, assetID, action, detailJSON); err != nil {
		return fmt.Errorf("postgres: log activity %s: %w", action, err)
	}
	return nil
}

// List returns activity entries with pagination and optional time filtering.
func (s *ActivityStore) List(ctx context.Context, opts domain.ListOpts) ([]domain.ActivityEntry, error) {
	query := `SELECT id, asset_id, action, detail, created_at FROM activity_log WHERE 1=1`
	args := []any{}
	argIdx := 1

	if opts.Since != nil {
		query += fmt.Sprintf(" AND created_at >= $%d", argIdx)
		args = append(args, *opts.Since)
		argIdx++
	}
	if opts.Until != nil {
		query += fmt.Sprintf(" AND created_at <= $%d", argIdx)
		args = append(args, *opts.Until)
		argIdx++
	}

	query += " ORDER BY created_at DESC"

	if opts.Limit > 0 {
		query += fmt.Sprintf(" LIMIT $%d", argIdx)
		args = append(args, opts.Limit)
		argIdx++
	}
	if opts.Offset > 0 {
		query += fmt.Sprintf(" OFFSET $%d", argIdx)
		args = append(args, opts.Offset)
	}

	rows, err := s.pool.Query(ctx, query, args...)
	if err != nil {
		return nil, fmt.Errorf("postgres: list activity: %w", err)
	}
	return collectActivity(rows)
}

// ListBefore returns every entry created strictly before the cutoff, oldest
// first.
func (s *ActivityStore) ListBefore(ctx context.Context, before time.Time) ([]domain.ActivityEntry, error) {
	rows, err := s.pool.Query(ctx, `
		SELECT id, asset_id, action, detail, created_at
		FROM activity_log WHERE created_at < $1 ORDER BY id ASC`,
		before,
	)
	if err != nil {
		return nil, fmt.Errorf("postgres: list activity before %s: %w", before.Format(time.RFC3339), err)
	}
	return collectActivity(rows)
}

// DeleteBefore removes entries created strictly before the cutoff.
func (s *ActivityStore) DeleteBefore(ctx context.Context, before time.Time) (int64, error) {
	tag, err := s.pool.Exec(ctx, `DELETE FROM activity_log WHERE created_at < $1`, before)
	if err != nil {
		return 0, fmt.Errorf("postgres: delete activity before %s: %w", before.Format(time.RFC3339), err)
	}
	return tag.RowsAffected(), nil
}

func collectActivity(rows pgx.Rows) ([]domain.ActivityEntry, error) {
	defer rows.Close()

	var entries []domain.ActivityEntry
	for rows.Next() {
		var e domain.ActivityEntry
		var detailJSON []byte

		if err := rows.Scan(&e.ID, &e.AssetID, &e.Action, &detailJSON, &e.CreatedAt); err != nil {
			return nil, fmt.Errorf("postgres: scan activity entry: %w", err)
		}
		if detailJSON != nil {
			if err := json.Unmarshal(detailJSON, &e.Detail); err != nil {
				return nil, fmt.Errorf("postgres: unmarshal activity detail: %w", err)
			}
		}
		entries = append(entries, e)
	}
	if err := rows.Err(); err != nil {
		return nil, fmt.Errorf("postgres: activity rows: %w", err)
	}
	return entries, nil
}
