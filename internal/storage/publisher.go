package storage

import (
	"context"
	"fmt"
	"os"

	"github.com/user/modforge/internal/logger"
)

// Publisher uploads release units and removes the local copy once the store
// confirms the upload. On failure the local file is kept so an operator can
// retry by hand from the logged path.
type Publisher struct {
	store ObjectStore
}

func NewPublisher(store ObjectStore) *Publisher {
	return &Publisher{store: store}
}

func (p *Publisher) Publish(ctx context.Context, localPath, key string) error {
	if err := p.store.Upload(ctx, localPath, key); err != nil {
		logger.Error().Err(err).Str("path", localPath).Str("key", key).
			Msg("Upload failed, local copy kept for manual retry")
		return fmt.Errorf("publishing %s: %w", key, err)
	}

	if err := os.Remove(localPath); err != nil {
		logger.Warn().Err(err).Str("path", localPath).Msg("Could not remove uploaded unit")
	}
	return nil
}
