package postgres

import (
	"context"
	"fmt"

	"github.com/jackc/pgx/v5/pgxpool"

	"github.com/alanyoungcy/battlekeeper/internal/domain"
)

// NotificationStore implements domain.NotificationStore using PostgreSQL.
type NotificationStore struct {
	pool *pgxpool.Pool
}

// NewNotificationStore creates a new NotificationStore.
func NewNotificationStore(pool *pgxpool.Pool) *NotificationStore {
	return &NotificationStore{pool: pool}
}

// Create inserts a user notification. A repeat for the same wallet, asset and
// kind is dropped.
func (s *NotificationStore) Create(ctx context.Context, n domain.Notification) error {
	const query = `
		INSERT INTO notifications (wallet, kind, title, body, asset_id, created_at)
		VALUES ($1, $2, $3, $4, $5, COALESCE($6, NOW()))
		ON CONFLICT (wallet, asset_id, kind) DO NOTHING`

	var createdAt any
	if !n.CreatedAt.IsZero() {
		createdAt = n.CreatedAt
	}
	if _, err := s.pool.Exec(ctx, query, n.Wallet, n.Kind, n.Title, n.Body, n.AssetID, createdAt); err != nil {
		return fmt.Errorf("postgres: create notification for %s: %w", n.Wallet, err)
	}
	return nil
}
