// Package memory 提供 database.Store 的内存实现，用于测试和不需要持久化的单次运行。
package memory

import (
	"MediaMerger/internal/models"
	"MediaMerger/pkg/database"
	"context"
	"sort"
	"sync"
	"time"

	"go.mongodb.org/mongo-driver/bson/primitive"
)

type scope struct {
	records  []models.MediaRecord
	byPath   map[string]struct{}
	byDigest map[string]struct{}
}

// Store 是线程安全的内存数据集存储，与 MongoDB 实现一样对路径和摘要做唯一约束。
type Store struct {
	mu     sync.RWMutex
	scopes map[string]*scope
}

var _ database.Store = (*Store)(nil)
var _ database.RecordStore = (*Store)(nil)

func NewStore() *Store {
	return &Store{scopes: make(map[string]*scope)}
}

func (s *Store) Records() database.RecordStore { return s }

func (s *Store) EnsureIndexes(ctx context.Context, name string) error {
	s.mu.Lock()
	defer s.mu.Unlock()
	s.scopeLocked(name)
	return nil
}

func (s *Store) Close(ctx context.Context) error { return nil }

func (s *Store) scopeLocked(name string) *scope {
	sc, ok := s.scopes[name]
	if !ok {
		sc = &scope{byPath: make(map[string]struct{}), byDigest: make(map[string]struct{})}
		s.scopes[name] = sc
	}
	return sc
}

func (s *Store) ListByScope(ctx context.Context, name string) ([]models.MediaRecord, error) {
	s.mu.RLock()
	defer s.mu.RUnlock()
	sc, ok := s.scopes[name]
	if !ok {
		return nil, nil
	}
	out := make([]models.MediaRecord, len(sc.records))
	for i, r := range sc.records {
		out[i] = cloneRecord(r)
	}
	return out, nil
}

func (s *Store) Insert(ctx context.Context, name string, rec *models.MediaRecord) error {
	if err := ctx.Err(); err != nil {
		return err
	}
	s.mu.Lock()
	defer s.mu.Unlock()
	sc := s.scopeLocked(name)
	if _, ok := sc.byPath[rec.Path]; ok {
		return database.ErrDuplicate
	}
	if rec.ContentDigest != "" {
		if _, ok := sc.byDigest[rec.ContentDigest]; ok {
			return database.ErrDuplicate
		}
		sc.byDigest[rec.ContentDigest] = struct{}{}
	}
	sc.byPath[rec.Path] = struct{}{}

	stored := cloneRecord(*rec)
	stored.ID = primitive.NewObjectID()
	now := time.Now()
	stored.CreatedAt, stored.UpdatedAt = now, now
	sc.records = append(sc.records, stored)
	rec.ID = stored.ID
	return nil
}

func (s *Store) ExistsByDigest(ctx context.Context, name, digest string) (bool, error) {
	s.mu.RLock()
	defer s.mu.RUnlock()
	sc, ok := s.scopes[name]
	if !ok {
		return false, nil
	}
	_, found := sc.byDigest[digest]
	return found, nil
}

func (s *Store) Count(ctx context.Context, name string) (int64, error) {
	s.mu.RLock()
	defer s.mu.RUnlock()
	sc, ok := s.scopes[name]
	if !ok {
		return 0, nil
	}
	return int64(len(sc.records)), nil
}

func (s *Store) DropScope(ctx context.Context, name string) error {
	s.mu.Lock()
	defer s.mu.Unlock()
	delete(s.scopes, name)
	return nil
}

func (s *Store) ListScopes(ctx context.Context) ([]string, error) {
	s.mu.RLock()
	defer s.mu.RUnlock()
	names := make([]string, 0, len(s.scopes))
	for name := range s.scopes {
		names = append(names, name)
	}
	sort.Strings(names)
	return names, nil
}

func cloneRecord(r models.MediaRecord) models.MediaRecord {
	if r.Hashes != nil {
		h := make(map[models.HashChannel]string, len(r.Hashes))
		for k, v := range r.Hashes {
			h[k] = v
		}
		r.Hashes = h
	}
	if r.Video != nil {
		v := *r.Video
		r.Video = &v
	}
	return r
}
