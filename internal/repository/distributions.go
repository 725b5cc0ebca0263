package repository

import (
	"context"
	"strings"
	"sync"

	"github.com/iago/risk-reanalysis/internal/domain"
)

// MemoryDistributionSource serves distribution records from memory. It
// satisfies analyzer.Source[domain.DistributionRecord].
type MemoryDistributionSource struct {
	mu      sync.RWMutex
	records map[string][]domain.DistributionRecord
}

func NewMemoryDistributionSource() *MemoryDistributionSource {
	return &MemoryDistributionSource{
		records: make(map[string][]domain.DistributionRecord),
	}
}

// Add appends records, keyed by their entity id.
func (s *MemoryDistributionSource) Add(records ...domain.DistributionRecord) {
	s.mu.Lock()
	defer s.mu.Unlock()

	for _, record := range records {
		key := strings.TrimSpace(record.EntityID)
		s.records[key] = append(s.records[key], record)
	}
}

func (s *MemoryDistributionSource) Records(_ context.Context, entityID string) ([]domain.DistributionRecord, error) {
	s.mu.RLock()
	defer s.mu.RUnlock()

	stored := s.records[strings.TrimSpace(entityID)]
	return append([]domain.DistributionRecord{}, stored...), nil
}
