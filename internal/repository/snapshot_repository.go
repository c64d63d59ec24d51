package repository

import (
	"context"
	"errors"
	"fmt"
	"time"

	"github.com/redis/go-redis/v9"
	"go.uber.org/zap"

	"github.com/noah-isme/teaching-load-planner/internal/models"
	appErrors "github.com/noah-isme/teaching-load-planner/pkg/errors"
)

// SnapshotRepository stores wizard snapshots in Redis under "<namespace>:<owner>".
type SnapshotRepository struct {
	client redis.UniversalClient
	ttl    time.Duration
	logger *zap.Logger
}

// NewSnapshotRepository constructs the repository. A zero ttl keeps snapshots until deleted.
func NewSnapshotRepository(client redis.UniversalClient, ttl time.Duration, logger *zap.Logger) *SnapshotRepository {
	if logger == nil {
		logger = zap.NewNop()
	}
	return &SnapshotRepository{client: client, ttl: ttl, logger: logger}
}

// Load returns the stored blob or appErrors.ErrSnapshotNotFound.
func (r *SnapshotRepository) Load(ctx context.Context, key models.SnapshotKey) ([]byte, error) {
	raw, err := r.client.Get(ctx, key.String()).Bytes()
	if err != nil {
		if errors.Is(err, redis.Nil) {
			return nil, appErrors.ErrSnapshotNotFound
		}
		return nil, fmt.Errorf("redis get %s: %w", key, err)
	}
	return raw, nil
}

// Save overwrites the blob and refreshes its expiry.
func (r *SnapshotRepository) Save(ctx context.Context, key models.SnapshotKey, blob []byte) error {
	if err := r.client.Set(ctx, key.String(), blob, r.ttl).Err(); err != nil {
		return fmt.Errorf("redis set %s: %w", key, err)
	}
	return nil
}

// Delete removes the blob; deleting a missing key is not an error.
func (r *SnapshotRepository) Delete(ctx context.Context, key models.SnapshotKey) error {
	if err := r.client.Del(ctx, key.String()).Err(); err != nil {
		return fmt.Errorf("redis delete %s: %w", key, err)
	}
	r.logger.Debug("wizard snapshot deleted", zap.String("key", key.String()))
	return nil
}
