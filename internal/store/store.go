// Package store provides data persistence interfaces and implementations.
package store

import (
	"context"
	"time"

	"github.com/cashbackfinance/advisor-chat/internal/domain"
)

// Repository persists anonymous visitors and the lead-sync audit trail.
// Neither table holds contact data or conversation text.
type Repository interface {
	// GetVisitor retrieves a visitor by ID. It returns nil, nil when unknown.
	GetVisitor(ctx context.Context, visitorID string) (*domain.Visitor, error)

	// UpsertVisitor creates a visitor or refreshes its last_seen_at.
	UpsertVisitor(ctx context.Context, visitor *domain.Visitor) error

	// UpdateLastSeen updates the last_seen_at timestamp for a visitor.
	UpdateLastSeen(ctx context.Context, visitorID string, lastSeen time.Time) error

	// RecordSync stores the outcome of one lead-sync attempt.
	RecordSync(ctx context.Context, sync *domain.LeadSync) error

	// RecentSyncs returns the newest sync records first.
	RecentSyncs(ctx context.Context, limit int) ([]*domain.LeadSync, error)

	// CountSyncsByStatus aggregates all stored records by status.
	CountSyncsByStatus(ctx context.Context) (map[domain.SyncStatus]int64, error)

	// PurgeSyncsBefore deletes sync records created before t.
	PurgeSyncsBefore(ctx context.Context, t time.Time) (int64, error)

	// PurgeVisitorsBefore deletes visitors not seen since t.
	PurgeVisitorsBefore(ctx context.Context, t time.Time) (int64, error)

	// Ping verifies database connectivity and returns an error if the database is unreachable.
	Ping(ctx context.Context) error

	// Close closes the database connection.
	Close() error
}
