package orchestrator

import (
	"time"

	"go.uber.org/zap"

	"github.com/advisord/advisord/internal/store"
	"github.com/advisord/advisord/pkg/logger"
	"github.com/advisord/advisord/pkg/models"
)

// MemoryRetriever loads relevant memories for inclusion in context packs.
// Filters by ticker, tags, and recency; newest first.
type MemoryRetriever struct {
	store       *store.Store
	maxMemories int
	window      time.Duration
	log         *zap.Logger
}

// NewMemoryRetriever creates a retriever with the configured window
// (default 90 days) and cap (default 10).
func NewMemoryRetriever(st *store.Store, maxMemories int, window time.Duration) *MemoryRetriever {
	if maxMemories <= 0 {
		maxMemories = 10
	}
	if window <= 0 {
		window = 90 * 24 * time.Hour
	}
	return &MemoryRetriever{
		store:       st,
		maxMemories: maxMemories,
		window:      window,
		log:         logger.Named("memory"),
	}
}

// Retrieve returns up to limit matching memories. A zero limit uses the
// configured maximum. The as-of bound keeps simulation runs from seeing
// memories created after their clock.
func (m *MemoryRetriever) Retrieve(ticker string, tags []string, limit int, asOf time.Time) []models.Memory {
	if limit <= 0 {
		limit = m.maxMemories
	}
	since := asOf.Add(-m.window)

	ids, err := m.store.Index().SearchMemories(store.MemoryQuery{
		Ticker: ticker,
		Tags:   tags,
		Since:  &since,
		Limit:  limit,
	})
	if err != nil {
		m.log.Error("memory search failed", zap.Error(err))
		return nil
	}

	memories := make([]models.Memory, 0, len(ids))
	for _, id := range ids {
		mem, err := m.store.LoadMemory(id)
		if err != nil || mem == nil {
			m.log.Warn("indexed memory missing on disk", zap.String("memory_id", id))
			continue
		}
		if mem.CreatedAt.After(asOf) {
			continue
		}
		memories = append(memories, *mem)
	}
	return memories
}
