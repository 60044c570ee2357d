package store

import (
	"container/list"
	"context"
	"sync"
	"time"

	"github.com/procflow/orchestrator/internal/workflow"
)

// CacheConfig controls the definition cache.
type CacheConfig struct {
	MaxEntries int
	TTL        time.Duration
}

// DefaultCacheConfig returns the default cache sizing.
func DefaultCacheConfig() CacheConfig {
	return CacheConfig{
		MaxEntries: 1000,
		TTL:        5 * time.Minute,
	}
}

// CachedStore wraps a Store with an in-process LRU cache for process
// definitions and node types. Process definitions are read on every run
// and every required-parameter analysis; node types are resolved per
// node shape on every engine step. Writes invalidate the affected
// entries.
type CachedStore struct {
	Store

	config CacheConfig

	mu    sync.Mutex
	items map[string]*list.Element
	order *list.List
}

type cacheEntry struct {
	key       string
	value     any
	expiresAt time.Time
}

const (
	processKeyPrefix = "process:"
	shapeKeyPrefix   = "shape:"
)

// NewCachedStore wraps the given store with a definition cache.
func NewCachedStore(inner Store, config CacheConfig) *CachedStore {
	if config.MaxEntries < 1 {
		config = DefaultCacheConfig()
	}
	return &CachedStore{
		Store:  inner,
		config: config,
		items:  make(map[string]*list.Element),
		order:  list.New(),
	}
}

func (s *CachedStore) GetProcess(ctx context.Context, processName string) (*workflow.Process, error) {
	if v := s.cached(processKeyPrefix + processName); v != nil {
		clone := *(v.(*workflow.Process))
		return &clone, nil
	}

	p, err := s.Store.GetProcess(ctx, processName)
	if err != nil {
		return nil, err
	}
	clone := *p
	s.put(processKeyPrefix+processName, &clone)
	return p, nil
}

func (s *CachedStore) CreateProcess(ctx context.Context, p *workflow.Process) error {
	if err := s.Store.CreateProcess(ctx, p); err != nil {
		return err
	}
	s.invalidate(processKeyPrefix + p.ProcessName)
	return nil
}

func (s *CachedStore) UpdateProcess(ctx context.Context, p *workflow.Process) error {
	if err := s.Store.UpdateProcess(ctx, p); err != nil {
		return err
	}
	// A rename leaves a stale entry under the old name behind.
	s.invalidatePrefix(processKeyPrefix)
	return nil
}

func (s *CachedStore) UpdateProcessStructure(ctx context.Context, processName string, structure []byte, updatedBy string) error {
	if err := s.Store.UpdateProcessStructure(ctx, processName, structure, updatedBy); err != nil {
		return err
	}
	s.invalidate(processKeyPrefix + processName)
	return nil
}

func (s *CachedStore) SetProcessCancelled(ctx context.Context, processName string, cancelled bool, updatedBy string) error {
	if err := s.Store.SetProcessCancelled(ctx, processName, cancelled, updatedBy); err != nil {
		return err
	}
	s.invalidate(processKeyPrefix + processName)
	return nil
}

func (s *CachedStore) DeleteProcess(ctx context.Context, processID int64) error {
	if err := s.Store.DeleteProcess(ctx, processID); err != nil {
		return err
	}
	s.invalidatePrefix(processKeyPrefix)
	return nil
}

func (s *CachedStore) GetNodeTypeByShape(ctx context.Context, shapeName string) (*workflow.NodeType, error) {
	if v := s.cached(shapeKeyPrefix + shapeName); v != nil {
		clone := *(v.(*workflow.NodeType))
		return &clone, nil
	}

	nt, err := s.Store.GetNodeTypeByShape(ctx, shapeName)
	if err != nil {
		return nil, err
	}
	clone := *nt
	s.put(shapeKeyPrefix+shapeName, &clone)
	return nt, nil
}

func (s *CachedStore) CreateNodeType(ctx context.Context, nt *workflow.NodeType) error {
	if err := s.Store.CreateNodeType(ctx, nt); err != nil {
		return err
	}
	s.invalidate(shapeKeyPrefix + nt.ShapeName)
	return nil
}

func (s *CachedStore) UpdateNodeType(ctx context.Context, nt *workflow.NodeType) error {
	if err := s.Store.UpdateNodeType(ctx, nt); err != nil {
		return err
	}
	s.invalidatePrefix(shapeKeyPrefix)
	return nil
}

func (s *CachedStore) DeleteNodeType(ctx context.Context, nodeTypeID int64) error {
	if err := s.Store.DeleteNodeType(ctx, nodeTypeID); err != nil {
		return err
	}
	s.invalidatePrefix(shapeKeyPrefix)
	return nil
}

func (s *CachedStore) cached(key string) any {
	s.mu.Lock()
	defer s.mu.Unlock()

	elem, ok := s.items[key]
	if !ok {
		return nil
	}
	entry := elem.Value.(*cacheEntry)
	if time.Now().After(entry.expiresAt) {
		s.order.Remove(elem)
		delete(s.items, key)
		return nil
	}
	s.order.MoveToFront(elem)
	return entry.value
}

func (s *CachedStore) put(key string, value any) {
	s.mu.Lock()
	defer s.mu.Unlock()

	if elem, ok := s.items[key]; ok {
		s.order.Remove(elem)
		delete(s.items, key)
	}
	if s.order.Len() >= s.config.MaxEntries {
		if back := s.order.Back(); back != nil {
			entry := back.Value.(*cacheEntry)
			s.order.Remove(back)
			delete(s.items, entry.key)
		}
	}

	s.items[key] = s.order.PushFront(&cacheEntry{
		key:       key,
		value:     value,
		expiresAt: time.Now().Add(s.config.TTL),
	})
}

func (s *CachedStore) invalidate(key string) {
	s.mu.Lock()
	defer s.mu.Unlock()

	if elem, ok := s.items[key]; ok {
		s.order.Remove(elem)
		delete(s.items, key)
	}
}

func (s *CachedStore) invalidatePrefix(prefix string) {
	s.mu.Lock()
	defer s.mu.Unlock()

	for key, elem := range s.items {
		if len(key) >= len(prefix) && key[:len(prefix)] == prefix {
			s.order.Remove(elem)
			delete(s.items, key)
		}
	}
}
