package templates

import (
	"context"
	"sync"
	"time"
)

// Operation names recorded by the performance tracker.
const (
	OpCreate   = "createTemplate"
	OpGet      = "getTemplate"
	OpUpdate   = "updateTemplate"
	OpDelete   = "deleteTemplate"
	OpRollback = "rollbackTemplate"
	OpList     = "getTemplates"
	OpTest     = "testTemplate"
)

// OperationMetrics aggregates one operation's timings.
type OperationMetrics struct {
	Count           int64         `json:"count"`
	TotalDuration   time.Duration `json:"totalDuration"`
	AverageDuration time.Duration `json:"averageDuration"`
	Errors          int64         `json:"errors"`
	CacheHits       int64         `json:"cacheHits"`
	CacheMisses     int64         `json:"cacheMisses"`
}

// OperationObserver receives every recorded sample. The observability
// provider implements it to mirror the numbers into OpenTelemetry.
type OperationObserver interface {
	ObserveOperation(ctx context.Context, op string, d time.Duration, err error)
	ObserveCache(ctx context.Context, op string, hit bool)
}

type PerformanceTracker struct {
	mu       sync.Mutex
	ops      map[string]*OperationMetrics
	observer OperationObserver
}

func NewPerformanceTracker(observer OperationObserver) *PerformanceTracker {
	return &PerformanceTracker{ops: make(map[string]*OperationMetrics), observer: observer}
}

func (p *PerformanceTracker) entry(op string) *OperationMetrics {
	m, ok := p.ops[op]
	if !ok {
		m = &OperationMetrics{}
		p.ops[op] = m
	}
	return m
}

// track is deferred at the top of each service operation with a pointer to
// its named error result.
func (p *PerformanceTracker) track(ctx context.Context, op string, start time.Time, errp *error) {
	d := time.Since(start)
	var err error
	if errp != nil {
		err = *errp
	}

	p.mu.Lock()
	m := p.entry(op)
	m.Count++
	m.TotalDuration += d
	m.AverageDuration = m.TotalDuration / time.Duration(m.Count)
	if err != nil {
		m.Errors++
	}
	p.mu.Unlock()

	if p.observer != nil {
		p.observer.ObserveOperation(ctx, op, d, err)
	}
}

func (p *PerformanceTracker) cache(ctx context.Context, op string, hit bool) {
	p.mu.Lock()
	m := p.entry(op)
	if hit {
		m.CacheHits++
	} else {
		m.CacheMisses++
	}
	p.mu.Unlock()

	if p.observer != nil {
		p.observer.ObserveCache(ctx, op, hit)
	}
}

// Snapshot returns a copy of all operation metrics.
func (p *PerformanceTracker) Snapshot() map[string]OperationMetrics {
	p.mu.Lock()
	defer p.mu.Unlock()
	out := make(map[string]OperationMetrics, len(p.ops))
	for op, m := range p.ops {
		out[op] = *m
	}
	return out
}

// Operation returns the metrics of a single operation and whether it was seen.
func (p *PerformanceTracker) Operation(op string) (OperationMetrics, bool) {
	p.mu.Lock()
	defer p.mu.Unlock()
	m, ok := p.ops[op]
	if !ok {
		return OperationMetrics{}, false
	}
	return *m, true
}
