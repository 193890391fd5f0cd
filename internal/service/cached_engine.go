package service

import (
	"context"
	"crypto/sha256"
	"encoding/hex"
	"encoding/json"
	"fmt"
	"sync"
	"time"

	lru "github.com/hashicorp/golang-lru/v2"
	"github.com/sirupsen/logrus"

	"github.com/lab-risk-aggregator/internal/domain"
)

var _ domain.Assessor = (*CachedEngine)(nil)

// CachedEngine memoizes assessments of identical records. The pipeline is deterministic,
// so a hit is indistinguishable from a fresh run.
type CachedEngine struct {
	engine *RiskEngine
	cache  *lru.Cache[string, *domain.AggregationResult]
	logger *logrus.Logger

	stats   CacheStats
	statsMu sync.RWMutex
}

// CacheStats represents cache performance statistics
type CacheStats struct {
	Hits      int64     `json:"hits"`
	Misses    int64     `json:"misses"`
	Entries   int       `json:"entries"`
	LastReset time.Time `json:"last_reset"`
}

// NewCachedEngine wraps engine with an LRU cache of maxItems results
func NewCachedEngine(engine *RiskEngine, maxItems int, logger *logrus.Logger) (*CachedEngine, error) {
	if maxItems <= 0 {
		maxItems = 1000
	}
	cache, err := lru.New[string, *domain.AggregationResult](maxItems)
	if err != nil {
		return nil, fmt.Errorf("failed to create result cache: %w", err)
	}

	return &CachedEngine{
		engine: engine,
		cache:  cache,
		logger: logger,
		stats:  CacheStats{LastReset: time.Now()},
	}, nil
}

// Assess returns a cached result for an identical record or runs the engine. The record
// ID is echoed back but not part of the key.
func (c *CachedEngine) Assess(record domain.PatientRecord) *domain.AggregationResult {
	key, err := cacheKey(record)
	if err != nil {
		c.logger.WithError(err).Warn("Failed to derive cache key, bypassing cache")
		return c.engine.Assess(record)
	}

	if cached, ok := c.cache.Get(key); ok {
		c.recordHit(true)
		return withRecordID(cached, record.ID)
	}
	c.recordHit(false)

	result := c.engine.Assess(record)
	c.cache.Add(key, result)
	return withRecordID(result, record.ID)
}

// AssessBatch assesses records through the cache on the engine's worker pool
func (c *CachedEngine) AssessBatch(ctx context.Context, records []domain.PatientRecord) ([]*domain.AggregationResult, error) {
	return assessBatch(ctx, c.logger, c.engine.workers, records, c.Assess)
}

// Stats returns a snapshot of cache statistics
func (c *CachedEngine) Stats() CacheStats {
	c.statsMu.RLock()
	defer c.statsMu.RUnlock()

	stats := c.stats
	stats.Entries = c.cache.Len()
	return stats
}

// Purge drops every cached result and resets the statistics
func (c *CachedEngine) Purge() {
	c.cache.Purge()

	c.statsMu.Lock()
	c.stats = CacheStats{LastReset: time.Now()}
	c.statsMu.Unlock()
}

func (c *CachedEngine) recordHit(hit bool) {
	c.statsMu.Lock()
	defer c.statsMu.Unlock()
	if hit {
		c.stats.Hits++
	} else {
		c.stats.Misses++
	}
}

// cacheKey hashes the canonical JSON of everything that influences the result.
// encoding/json sorts map keys, so equal readings always produce the same bytes.
func cacheKey(record domain.PatientRecord) (string, error) {
	keyed := record
	keyed.ID = ""
	data, err := json.Marshal(keyed)
	if err != nil {
		return "", err
	}
	sum := sha256.Sum256(data)
	return hex.EncodeToString(sum[:]), nil
}

// withRecordID returns a shallow copy carrying the caller's record ID. Cached results are
// shared and must not be mutated.
func withRecordID(result *domain.AggregationResult, id string) *domain.AggregationResult {
	out := *result
	out.RecordID = id
	return &out
}
