package repository

import (
	"context"
	"slices"
	"sync"
	"time"

	"github.com/Dan-Hightower/hirebot/internal/domain/offer"
	"github.com/Dan-Hightower/hirebot/pkg/metrics"
)

const (
	backendMemory                = "memory"
	defaultMetricsUpdateInterval = 5 * time.Second
)

// MemoryLedger is an in-process Ledger for tests and single-replica
// development. Offers are lost on restart.
type MemoryLedger struct {
	mu     sync.RWMutex
	offers map[string]offer.Record

	metricsUpdateInterval time.Duration
	stopOnce              sync.Once
	stopChan              chan struct{}
}

var _ Ledger = (*MemoryLedger)(nil)

// NewMemoryLedger creates a MemoryLedger and starts its metrics updater,
// which stops on Close or when ctx is done.
func NewMemoryLedger(ctx context.Context, opts ...Option) *MemoryLedger {
	s := &MemoryLedger{
		offers:                make(map[string]offer.Record),
		metricsUpdateInterval: defaultMetricsUpdateInterval,
		stopChan:              make(chan struct{}),
	}
	for _, opt := range opts {
		opt(s)
	}
	s.startMetricsUpdater(ctx)
	return s
}

// Claim implements Ledger.
func (s *MemoryLedger) Claim(_ context.Context, rec offer.Record) (claimed bool, current offer.Record, err error) {
	start := time.Now()
	defer func() { observe(backendMemory, "claim", start, err) }()

	s.mu.Lock()
	defer s.mu.Unlock()
	if cur, ok := s.offers[rec.OfferID]; ok {
		return false, cur.Clone(), nil
	}
	s.offers[rec.OfferID] = rec.Clone()
	return true, rec, nil
}

// Get implements Ledger.
func (s *MemoryLedger) Get(_ context.Context, offerID string) (rec offer.Record, err error) {
	start := time.Now()
	defer func() { observe(backendMemory, "get", start, err) }()

	s.mu.RLock()
	defer s.mu.RUnlock()
	cur, ok := s.offers[offerID]
	if !ok {
		return offer.Record{}, notFound("get", offerID)
	}
	return cur.Clone(), nil
}

// Advance implements Ledger.
func (s *MemoryLedger) Advance(_ context.Context, rec offer.Record, from ...offer.State) (ok bool, err error) {
	start := time.Now()
	defer func() { observe(backendMemory, "advance", start, err) }()
	if err := checkAdvance(rec, from); err != nil {
		return false, err
	}

	s.mu.Lock()
	defer s.mu.Unlock()
	cur, found := s.offers[rec.OfferID]
	if !found {
		return false, notFound("advance", rec.OfferID)
	}
	if !slices.Contains(from, cur.State) {
		return false, nil
	}
	s.offers[rec.OfferID] = rec.Clone()
	return true, nil
}

// Release implements Ledger.
func (s *MemoryLedger) Release(_ context.Context, offerID string, state offer.State) (err error) {
	start := time.Now()
	defer func() { observe(backendMemory, "release", start, err) }()

	s.mu.Lock()
	defer s.mu.Unlock()
	if cur, ok := s.offers[offerID]; ok && cur.State == state {
		delete(s.offers, offerID)
	}
	return nil
}

// Stats implements Ledger.
func (s *MemoryLedger) Stats(context.Context) (map[offer.State]int, error) {
	s.mu.RLock()
	defer s.mu.RUnlock()
	out := make(map[offer.State]int)
	for _, rec := range s.offers {
		out[rec.State]++
	}
	return out, nil
}

// Close stops the metrics updater.
func (s *MemoryLedger) Close() error {
	s.stopOnce.Do(func() { close(s.stopChan) })
	return nil
}

func (s *MemoryLedger) startMetricsUpdater(ctx context.Context) {
	go func() {
		ticker := time.NewTicker(s.metricsUpdateInterval)
		defer ticker.Stop()
		for {
			select {
			case <-ctx.Done():
				return
			case <-s.stopChan:
				return
			case <-ticker.C:
				stats, _ := s.Stats(ctx)
				publishStats(stats)
			}
		}
	}()
}

// publishStats sets the per-state gauge, zeroing states with no offers.
func publishStats(stats map[offer.State]int) {
	for _, st := range offer.States() {
		metrics.UpdateLedgerRecords(string(st), stats[st])
	}
}
