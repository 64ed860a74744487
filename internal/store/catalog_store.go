package store

import (
	"context"
	"encoding/json"
	"fmt"
	"time"

	"github.com/redis/go-redis/v9"

	"github.com/draftforge/api/internal/model"
)

// ArtifactRecord catalogs one finished artifact. Records are keyed by job
// id, so re-running finalization after a crash writes the same entry
// instead of a duplicate.
type ArtifactRecord struct {
	JobID     string             `json:"jobId"`
	OwnerID   string             `json:"ownerId"`
	Format    model.OutputFormat `json:"format"`
	Title     string             `json:"title"`
	Key       string             `json:"key"`
	URL       string             `json:"url"`
	CreatedAt time.Time          `json:"createdAt"`
}

// CatalogStore records finished artifacts per owner.
type CatalogStore interface {
	Put(ctx context.Context, rec *ArtifactRecord) error
	Get(ctx context.Context, jobID string) (*ArtifactRecord, error)
	ListOwner(ctx context.Context, ownerID string) ([]string, error)
	Remove(ctx context.Context, jobID, ownerID string) error
}

// RedisCatalogStore keeps artifact records under artifact:<jobId> plus a
// per-owner membership set.
type RedisCatalogStore struct {
	redis *redis.Client
}

func NewRedisCatalogStore(redisClient *redis.Client) *RedisCatalogStore {
	return &RedisCatalogStore{redis: redisClient}
}

func artifactKey(jobID string) string {
	return fmt.Sprintf("artifact:%s", jobID)
}

func ownerCatalogKey(ownerID string) string {
	return fmt.Sprintf("catalog:%s", ownerID)
}

func (s *RedisCatalogStore) Put(ctx context.Context, rec *ArtifactRecord) error {
	data, err := json.Marshal(rec)
	if err != nil {
		return fmt.Errorf("marshal artifact record: %w", err)
	}
	if err := s.redis.Set(ctx, artifactKey(rec.JobID), data, 0).Err(); err != nil {
		return err
	}
	return s.redis.SAdd(ctx, ownerCatalogKey(rec.OwnerID), rec.JobID).Err()
}

func (s *RedisCatalogStore) Get(ctx context.Context, jobID string) (*ArtifactRecord, error) {
	data, err := s.redis.Get(ctx, artifactKey(jobID)).Bytes()
	if err != nil {
		if err == redis.Nil {
			return nil, ErrJobNotFound
		}
		return nil, err
	}
	var rec ArtifactRecord
	if err := json.Unmarshal(data, &rec); err != nil {
		return nil, fmt.Errorf("unmarshal artifact record: %w", err)
	}
	return &rec, nil
}

func (s *RedisCatalogStore) ListOwner(ctx context.Context, ownerID string) ([]string, error) {
	return s.redis.SMembers(ctx, ownerCatalogKey(ownerID)).Result()
}

func (s *RedisCatalogStore) Remove(ctx context.Context, jobID, ownerID string) error {
	if err := s.redis.Del(ctx, artifactKey(jobID)).Err(); err != nil {
		return err
	}
	return s.redis.SRem(ctx, ownerCatalogKey(ownerID), jobID).Err()
}
