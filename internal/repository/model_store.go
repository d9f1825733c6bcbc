package repository

import (
	"context"
	"errors"
	"fmt"
	"sort"

	"github.com/vmihailenco/msgpack/v5"

	"FinLearn/internal/domain/models"
	domrepo "FinLearn/internal/domain/repository"
	"FinLearn/pkg/cache"
)

// CacheModelStore keeps msgpack-encoded model versions in the cache with a per-slot version index.
type CacheModelStore struct {
	c cache.Service
}

// NewCacheModelStore creates a model store on top of c.
func NewCacheModelStore(c cache.Service) domrepo.ModelStore {
	return &CacheModelStore{c: c}
}

func versionKey(slot models.ModelSlot, version uint64) string {
	return cache.GenerateKeyWithParams("models", string(slot), version)
}

func indexKey(slot models.ModelSlot) string {
	return cache.GenerateKeyWithParams("models", string(slot), "index")
}

func (s *CacheModelStore) Save(ctx context.Context, v models.ModelVersion) error {
	data, err := msgpack.Marshal(&v)
	if err != nil {
		return fmt.Errorf("encode model version: %w", err)
	}
	if err := s.c.Set(ctx, versionKey(v.Slot, v.Version), data, 0); err != nil {
		return fmt.Errorf("save model version: %w", err)
	}
	return withLock(ctx, s.c, indexKey(v.Slot)+":lock", func() error {
		idx, err := s.index(ctx, v.Slot)
		if err != nil {
			return err
		}
		for _, have := range idx {
			if have == v.Version {
				return nil
			}
		}
		idx = append(idx, v.Version)
		sort.Slice(idx, func(i, j int) bool { return idx[i] < idx[j] })
		return s.c.Set(ctx, indexKey(v.Slot), idx, 0)
	})
}

// Latest returns the newest stored version, or nil when the slot has none.
func (s *CacheModelStore) Latest(ctx context.Context, slot models.ModelSlot) (*models.ModelVersion, error) {
	idx, err := s.index(ctx, slot)
	if err != nil {
		return nil, err
	}
	for i := len(idx) - 1; i >= 0; i-- {
		var raw string
		err := s.c.Get(ctx, versionKey(slot, idx[i]), &raw)
		if errors.Is(err, cache.ErrCacheMiss) {
			continue
		}
		if err != nil {
			return nil, fmt.Errorf("load model version: %w", err)
		}
		var v models.ModelVersion
		if err := msgpack.Unmarshal([]byte(raw), &v); err != nil {
			return nil, fmt.Errorf("decode model version %d: %w", idx[i], err)
		}
		return &v, nil
	}
	return nil, nil
}

func (s *CacheModelStore) Versions(ctx context.Context, slot models.ModelSlot) ([]uint64, error) {
	return s.index(ctx, slot)
}

func (s *CacheModelStore) Delete(ctx context.Context, slot models.ModelSlot, versions ...uint64) error {
	if len(versions) == 0 {
		return nil
	}
	keys := make([]string, len(versions))
	drop := make(map[uint64]struct{}, len(versions))
	for i, v := range versions {
		keys[i] = versionKey(slot, v)
		drop[v] = struct{}{}
	}
	return withLock(ctx, s.c, indexKey(slot)+":lock", func() error {
		idx, err := s.index(ctx, slot)
		if err != nil {
			return err
		}
		kept := idx[:0]
		for _, v := range idx {
			if _, ok := drop[v]; !ok {
				kept = append(kept, v)
			}
		}
		if err := s.c.Set(ctx, indexKey(slot), kept, 0); err != nil {
			return err
		}
		return s.c.Delete(ctx, keys...)
	})
}

func (s *CacheModelStore) index(ctx context.Context, slot models.ModelSlot) ([]uint64, error) {
	var idx []uint64
	err := s.c.Get(ctx, indexKey(slot), &idx)
	if errors.Is(err, cache.ErrCacheMiss) {
		return []uint64{}, nil
	}
	if err != nil {
		return nil, fmt.Errorf("load model index: %w", err)
	}
	return idx, nil
}
