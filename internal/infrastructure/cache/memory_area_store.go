package cache

import (
	"context"
	"time"

	gocache "github.com/patrickmn/go-cache"
	"go.uber.org/zap"

	"github.com/sean-rowe/wip-server/internal/core/domain"
)

// MemoryAreaStore implements ports.AreaStore in-process, used as a
// fallback when Redis is unavailable or in single-process test/demo
// deployments.
type MemoryAreaStore struct {
	store  *gocache.Cache
	logger *zap.Logger
}

// NewMemoryAreaStore builds a MemoryAreaStore with the given default
// expiry and cleanup interval.
func NewMemoryAreaStore(defaultTTL, cleanupInterval time.Duration, logger *zap.Logger) *MemoryAreaStore {
	return &MemoryAreaStore{
		store:  gocache.New(defaultTTL, cleanupInterval),
		logger: logger,
	}
}

// Get implements ports.AreaStore.
func (m *MemoryAreaStore) Get(_ context.Context, areaCode uint32) (*domain.CachedArea, error) {
	v, ok := m.store.Get(areaKey(areaCode))
	if !ok {
		return nil, nil
	}

	area, ok := v.(*domain.CachedArea)
	if !ok {
		m.logger.Error("memory area store held unexpected type", zap.Uint32("area_code", areaCode))
		return nil, nil
	}

	clone := *area

	return &clone, nil
}

// Put implements ports.AreaStore.
func (m *MemoryAreaStore) Put(_ context.Context, areaCode uint32, area *domain.CachedArea) error {
	clone := *area
	m.store.SetDefault(areaKey(areaCode), &clone)

	return nil
}
