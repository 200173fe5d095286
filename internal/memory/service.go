package memory

import (
	"context"
	"encoding/json"
	"errors"
	"fmt"
	"strconv"
	"strings"
	"time"

	"github.com/jellydator/ttlcache/v3"
	"github.com/rs/zerolog"
	"github.com/tOgg1/omega/internal/logging"
	"github.com/tOgg1/omega/internal/models"
)

// keyPrefix namespaces memories inside the shared key-value store.
const keyPrefix = "memory/"

// Service errors.
var (
	ErrMemoryNotFound = errors.New("memory not found")
)

// KVStore is the durable key-value collaborator.
type KVStore interface {
	Put(ctx context.Context, key string, value []byte) error
	Get(ctx context.Context, key string) ([]byte, bool, error)
}

// KeyLister is implemented by stores that can enumerate keys.
type KeyLister interface {
	Keys(ctx context.Context, prefix string) ([]string, error)
}

// Service stores memories durably and recalls them by similarity.
type Service struct {
	kv     KVStore
	index  *Index
	cache  *ttlcache.Cache[string, []*models.RecallHit]
	logger zerolog.Logger
}

// Option configures a Service.
type Option func(*Service)

// WithRecallCacheTTL caches recall results for ttl. Zero disables caching.
func WithRecallCacheTTL(ttl time.Duration) Option {
	return func(s *Service) {
		if ttl <= 0 {
			s.cache = nil
			return
		}
		s.cache = ttlcache.New(
			ttlcache.WithTTL[string, []*models.RecallHit](ttl),
		)
	}
}

// NewService creates a memory service over kv and index.
func NewService(kv KVStore, index *Index, opts ...Option) *Service {
	if index == nil {
		index = NewIndex(Dimension)
	}
	s := &Service{
		kv:     kv,
		index:  index,
		logger: logging.Component("memory"),
	}
	for _, opt := range opts {
		opt(s)
	}
	return s
}

// Start runs the cache expiry loop. It returns immediately.
func (s *Service) Start() {
	if s.cache != nil {
		go s.cache.Start()
	}
}

// Stop halts the cache expiry loop.
func (s *Service) Stop() {
	if s.cache != nil {
		s.cache.Stop()
	}
}

// Index exposes the vector index so processors can share it.
func (s *Service) Index() *Index {
	return s.index
}

// Store persists m and indexes its content.
func (s *Service) Store(ctx context.Context, m *models.Memory) error {
	if err := m.Validate(); err != nil {
		return err
	}
	if m.CreatedAt.IsZero() {
		m.CreatedAt = time.Now().UTC()
	}

	data, err := json.Marshal(m)
	if err != nil {
		return fmt.Errorf("failed to marshal memory: %w", err)
	}
	if err := s.kv.Put(ctx, keyPrefix+m.Key, data); err != nil {
		return fmt.Errorf("failed to store memory %q: %w", m.Key, err)
	}
	if err := s.index.Add(m.Key, Embed(m.Content)); err != nil {
		return fmt.Errorf("failed to index memory %q: %w", m.Key, err)
	}
	if s.cache != nil {
		s.cache.DeleteAll()
	}

	s.logger.Debug().Str("key", m.Key).Int("indexed", s.index.Len()).Msg("stored memory")
	return nil
}

// Get loads a memory by key straight from the store.
func (s *Service) Get(ctx context.Context, key string) (*models.Memory, error) {
	data, ok, err := s.kv.Get(ctx, keyPrefix+key)
	if err != nil {
		return nil, fmt.Errorf("failed to load memory %q: %w", key, err)
	}
	if !ok {
		return nil, ErrMemoryNotFound
	}
	var m models.Memory
	if err := json.Unmarshal(data, &m); err != nil {
		return nil, fmt.Errorf("failed to decode memory %q: %w", key, err)
	}
	return &m, nil
}

// Recall returns up to k memories most similar to query.
func (s *Service) Recall(ctx context.Context, query string, k int) ([]*models.RecallHit, error) {
	cacheKey := strconv.Itoa(k) + "|" + query
	if s.cache != nil {
		if item := s.cache.Get(cacheKey); item != nil {
			return item.Value(), nil
		}
	}

	scored, err := s.index.Search(ctx, Embed(query), k)
	if err != nil {
		return nil, err
	}

	hits := make([]*models.RecallHit, 0, len(scored))
	for _, sc := range scored {
		m, err := s.Get(ctx, sc.ID)
		if errors.Is(err, ErrMemoryNotFound) {
			s.index.Remove(sc.ID)
			continue
		}
		if err != nil {
			return nil, err
		}
		hits = append(hits, &models.RecallHit{Memory: m, Score: sc.Score})
	}

	if s.cache != nil {
		s.cache.Set(cacheKey, hits, ttlcache.DefaultTTL)
	}
	return hits, nil
}

// Load indexes every memory already present in the store.
func (s *Service) Load(ctx context.Context) (int, error) {
	lister, ok := s.kv.(KeyLister)
	if !ok {
		return 0, nil
	}
	keys, err := lister.Keys(ctx, keyPrefix)
	if err != nil {
		return 0, err
	}

	loaded := 0
	for _, key := range keys {
		m, err := s.Get(ctx, strings.TrimPrefix(key, keyPrefix))
		if err != nil {
			s.logger.Warn().Err(err).Str("key", key).Msg("skipping unreadable memory")
			continue
		}
		if err := s.index.Add(m.Key, Embed(m.Content)); err != nil {
			return loaded, err
		}
		loaded++
	}
	return loaded, nil
}

// Ping checks that the backing store answers.
func (s *Service) Ping(ctx context.Context) error {
	_, _, err := s.kv.Get(ctx, keyPrefix+"__ping__")
	return err
}
