package connect

import (
	"context"
	"fmt"

	"github.com/stefanogebara/twin-connect/domain"
)

// StatusReader aggregates per-user connection state for the dashboard and for
// extraction jobs. Pure reads, no token material, cheap to call on every
// page load.
type StatusReader struct {
	repo domain.ConnectionRepository
}

// NewStatusReader wires the reader.
func NewStatusReader(repo domain.ConnectionRepository) *StatusReader {
	return &StatusReader{repo: repo}
}

// ListConnections returns a summary per provider the user has ever touched.
// Providers with no row at all are simply absent, which is how the UI tells
// "never connected" apart from "disconnected".
func (r *StatusReader) ListConnections(ctx context.Context, userID string) ([]domain.ConnectionSummary, error) {
	conns, err := r.repo.ListByUser(ctx, userID)
	if err != nil {
		return nil, fmt.Errorf("list connections: %w", err)
	}

	summaries := make([]domain.ConnectionSummary, 0, len(conns))
	for _, conn := range conns {
		summaries = append(summaries, conn.Summary())
	}
	return summaries, nil
}
