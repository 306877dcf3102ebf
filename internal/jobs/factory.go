package jobs

import (
	"context"
	"strings"
)

// NewStore returns a Postgres-backed store when databaseURL is set,
// otherwise an in-memory store.
func NewStore(ctx context.Context, databaseURL string) (Store, error) {
	if strings.TrimSpace(databaseURL) == "" {
		return NewMemoryStore(), nil
	}
	return NewPostgresStore(ctx, databaseURL)
}
