package catalog

import (
	"context"
	"encoding/json"
	"time"

	"github.com/google/uuid"
	"github.com/redis/go-redis/v9"

	"github.com/reach/reach-api/internal/pkg/logger"
)

const activeItemsKey = "tokens:shop:items:active"

// Service serves the catalog, caching the active listing in Redis when
// a client is configured.
type Service struct {
	repo  Repository
	redis *redis.Client
	ttl   time.Duration
}

func NewService(repo Repository, redisClient *redis.Client, ttl time.Duration) *Service {
	return &Service{repo: repo, redis: redisClient, ttl: ttl}
}

// ListActive returns the active items. Cache failures fall through to storage.
func (s *Service) ListActive(ctx context.Context) ([]ShopItem, error) {
	if s.redis != nil {
		raw, err := s.redis.Get(ctx, activeItemsKey).Bytes()
		if err == nil {
			var items []ShopItem
			if jsonErr := json.Unmarshal(raw, &items); jsonErr == nil {
				return items, nil
			}
		} else if err != redis.Nil {
			logger.LogWarn(ctx, "shop cache read failed", "error", err.Error())
		}
	}

	items, err := s.repo.ListActive(ctx)
	if err != nil {
		return nil, err
	}

	if s.redis != nil && s.ttl > 0 {
		if raw, err := json.Marshal(items); err == nil {
			if err := s.redis.Set(ctx, activeItemsKey, raw, s.ttl).Err(); err != nil {
				logger.LogWarn(ctx, "shop cache write failed", "error", err.Error())
			}
		}
	}
	return items, nil
}

// Get always reads storage; redemption decisions never use cached stock.
func (s *Service) Get(ctx context.Context, id uuid.UUID) (*ShopItem, error) {
	return s.repo.Get(ctx, id)
}

func (s *Service) Create(ctx context.Context, item *ShopItem) error {
	if err := s.repo.Create(ctx, item); err != nil {
		return err
	}
	s.Invalidate(ctx)
	return nil
}

// Invalidate drops the cached listing after stock or catalog changes.
func (s *Service) Invalidate(ctx context.Context) {
	if s.redis == nil {
		return
	}
	if err := s.redis.Del(ctx, activeItemsKey).Err(); err != nil {
		logger.LogWarn(ctx, "shop cache invalidate failed", "error", err.Error())
	}
}
