package memstore

import (
	"context"
	"sort"
	"sync"
	"time"

	wc "github.com/fluxline/workflowcore"
	"github.com/fluxline/workflowcore/internal/slidingwindow"
)

// GateStore is an in-memory wc.EventGateStore. Per-source event timestamps
// are tracked with slidingwindow.Counter via its explicit-cutoff methods
// (Append/PurgeBefore/Len), since the retention window is resolved per
// source from caller-supplied rate-limit config rather than fixed once at
// construction. Trigger failures keep their own slice, since
// ListTriggerFailureHistory needs the full TriggerFailure record (reason,
// ID), not just a count.
type GateStore struct {
	mu sync.Mutex

	locks sync.Map // key (string) -> *sync.Mutex, for WithLock

	sourceEvents    map[string]*slidingwindow.Counter
	sourcePauses    map[string]wc.SourcePause
	triggerFailures map[string][]wc.TriggerFailure
	triggerPauses   map[string]wc.TriggerPause
}

// NewGateStore builds an empty GateStore.
func NewGateStore() *GateStore {
	return &GateStore{
		sourceEvents:    make(map[string]*slidingwindow.Counter),
		sourcePauses:    make(map[string]wc.SourcePause),
		triggerFailures: make(map[string][]wc.TriggerFailure),
		triggerPauses:   make(map[string]wc.TriggerPause),
	}
}

// WithLock serializes calls sharing key, giving the gate package's
// read-modify-write sequences (PurgeSourceEventsBefore -> AppendSourceEvent
// -> CountSourceEvents -> UpsertSourcePause, and the trigger-failure
// analogue) atomicity per key.
func (g *GateStore) WithLock(ctx context.Context, key string, fn func(ctx context.Context) error) error {
	l := g.lockFor(key)
	l.Lock()
	defer l.Unlock()
	return fn(ctx)
}

func (g *GateStore) lockFor(key string) *sync.Mutex {
	if v, ok := g.locks.Load(key); ok {
		return v.(*sync.Mutex)
	}
	actual, _ := g.locks.LoadOrStore(key, &sync.Mutex{})
	return actual.(*sync.Mutex)
}

func (g *GateStore) counterFor(source string) *slidingwindow.Counter {
	g.mu.Lock()
	defer g.mu.Unlock()
	c, ok := g.sourceEvents[source]
	if !ok {
		c = slidingwindow.New(0)
		g.sourceEvents[source] = c
	}
	return c
}

func (g *GateStore) UpsertSourcePause(ctx context.Context, p wc.SourcePause) error {
	g.mu.Lock()
	defer g.mu.Unlock()
	g.sourcePauses[p.Source] = p
	return nil
}

func (g *GateStore) DeleteExpiredSourcePauses(ctx context.Context, now time.Time) error {
	g.mu.Lock()
	defer g.mu.Unlock()
	for source, p := range g.sourcePauses {
		if !p.PausedUntil.After(now) {
			delete(g.sourcePauses, source)
		}
	}
	return nil
}

func (g *GateStore) GetSourcePause(ctx context.Context, source string) (*wc.SourcePause, error) {
	g.mu.Lock()
	defer g.mu.Unlock()
	p, ok := g.sourcePauses[source]
	if !ok {
		return nil, nil
	}
	return &p, nil
}

func (g *GateStore) AppendSourceEvent(ctx context.Context, source string, at time.Time) error {
	g.counterFor(source).Append(at)
	return nil
}

func (g *GateStore) PurgeSourceEventsBefore(ctx context.Context, source string, before time.Time) error {
	g.counterFor(source).PurgeBefore(before)
	return nil
}

func (g *GateStore) CountSourceEvents(ctx context.Context, source string) (int, error) {
	return g.counterFor(source).Len(), nil
}

func (g *GateStore) AppendTriggerFailure(ctx context.Context, f wc.TriggerFailure) error {
	g.mu.Lock()
	defer g.mu.Unlock()
	g.triggerFailures[f.TriggerID] = append(g.triggerFailures[f.TriggerID], f)
	return nil
}

func (g *GateStore) PurgeTriggerFailuresBefore(ctx context.Context, triggerID string, before time.Time) error {
	g.mu.Lock()
	defer g.mu.Unlock()
	kept := g.triggerFailures[triggerID][:0]
	for _, f := range g.triggerFailures[triggerID] {
		if !f.FailureTime.Before(before) {
			kept = append(kept, f)
		}
	}
	g.triggerFailures[triggerID] = kept
	return nil
}

func (g *GateStore) CountTriggerFailures(ctx context.Context, triggerID string) (int, error) {
	g.mu.Lock()
	defer g.mu.Unlock()
	return len(g.triggerFailures[triggerID]), nil
}

func (g *GateStore) ClearTriggerFailures(ctx context.Context, triggerID string) error {
	g.mu.Lock()
	defer g.mu.Unlock()
	delete(g.triggerFailures, triggerID)
	return nil
}

func (g *GateStore) UpsertTriggerPause(ctx context.Context, p wc.TriggerPause) error {
	g.mu.Lock()
	defer g.mu.Unlock()
	g.triggerPauses[p.TriggerID] = p
	return nil
}

func (g *GateStore) DeleteTriggerPause(ctx context.Context, triggerID string) error {
	g.mu.Lock()
	defer g.mu.Unlock()
	delete(g.triggerPauses, triggerID)
	return nil
}

func (g *GateStore) GetTriggerPause(ctx context.Context, triggerID string) (*wc.TriggerPause, error) {
	g.mu.Lock()
	defer g.mu.Unlock()
	p, ok := g.triggerPauses[triggerID]
	if !ok {
		return nil, nil
	}
	return &p, nil
}

func (g *GateStore) ListActiveSourcePauses(ctx context.Context, now time.Time) ([]wc.SourcePause, error) {
	g.mu.Lock()
	defer g.mu.Unlock()
	var out []wc.SourcePause
	for _, p := range g.sourcePauses {
		if p.PausedUntil.After(now) {
			out = append(out, p)
		}
		if len(out) >= 500 {
			break
		}
	}
	return out, nil
}

func (g *GateStore) ListActiveTriggerPauses(ctx context.Context, now time.Time) ([]wc.TriggerPause, error) {
	g.mu.Lock()
	defer g.mu.Unlock()
	var out []wc.TriggerPause
	for _, p := range g.triggerPauses {
		if p.PausedUntil.After(now) {
			out = append(out, p)
		}
		if len(out) >= 500 {
			break
		}
	}
	return out, nil
}

func (g *GateStore) ListTriggerFailureHistory(ctx context.Context, triggerIDs []string, from, to time.Time, limit int) ([]wc.TriggerFailure, error) {
	g.mu.Lock()
	defer g.mu.Unlock()
	var out []wc.TriggerFailure
	for _, id := range triggerIDs {
		for _, f := range g.triggerFailures[id] {
			if f.FailureTime.Before(from) || f.FailureTime.After(to) {
				continue
			}
			out = append(out, f)
		}
	}
	sort.Slice(out, func(i, j int) bool { return out[i].FailureTime.Before(out[j].FailureTime) })
	if limit > 0 && len(out) > limit {
		out = out[:limit]
	}
	if len(out) > 500 {
		out = out[:500]
	}
	return out, nil
}

func (g *GateStore) TruncateAll(ctx context.Context) error {
	g.mu.Lock()
	defer g.mu.Unlock()
	g.sourceEvents = make(map[string]*slidingwindow.Counter)
	g.sourcePauses = make(map[string]wc.SourcePause)
	g.triggerFailures = make(map[string][]wc.TriggerFailure)
	g.triggerPauses = make(map[string]wc.TriggerPause)
	return nil
}

var _ wc.EventGateStore = (*GateStore)(nil)
