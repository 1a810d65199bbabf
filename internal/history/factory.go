package history

import (
	"context"
	"fmt"
	"strings"
)

// NewStore picks the turn history backend from the database URL. An empty
// URL means history lives in process memory and dies with it.
func NewStore(ctx context.Context, databaseURL string) (Store, error) {
	url := strings.TrimSpace(databaseURL)
	if url == "" {
		return NewInMemoryStore(), nil
	}
	store, err := NewPostgresStore(ctx, url)
	if err != nil {
		return nil, fmt.Errorf("postgres history store: %w", err)
	}
	return store, nil
}
