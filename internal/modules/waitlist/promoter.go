package waitlist

import (
	"context"
	"sync"
	"time"

	"github.com/rs/zerolog/log"

	"kilnstudio/internal/domain"
)

const maxFailures = 100

// Failure is one promotion run that ended in an error or was dropped.
type Failure struct {
	TenantID int64       `json:"tenant_id"`
	Slot     domain.Slot `json:"slot"`
	Error    string      `json:"error"`
	At       time.Time   `json:"at"`
}

type job struct {
	tenantID int64
	slot     domain.Slot
}

// Promoter runs waitlist promotion off the request path. Enqueue hands a
// slot to a bounded queue drained by a fixed set of workers; a slot already
// pending is not queued twice. PromoteNow runs inline for callers that just
// freed capacity.
type Promoter struct {
	proc    Processor
	workers int
	timeout time.Duration
	queue   chan job

	mu       sync.Mutex
	pending  map[string]struct{}
	failures []Failure
	closed   bool

	wg sync.WaitGroup
}

func NewPromoter(proc Processor, workers, queueSize int) *Promoter {
	if workers <= 0 {
		workers = 1
	}
	if queueSize <= 0 {
		queueSize = 1
	}
	return &Promoter{
		proc:    proc,
		workers: workers,
		timeout: 30 * time.Second,
		queue:   make(chan job, queueSize),
		pending: make(map[string]struct{}),
	}
}

// Start launches the workers. They exit when ctx is done or Stop is called.
func (p *Promoter) Start(ctx context.Context) {
	for i := 0; i < p.workers; i++ {
		p.wg.Add(1)
		go func() {
			defer p.wg.Done()
			for {
				select {
				case <-ctx.Done():
					return
				case j, ok := <-p.queue:
					if !ok {
						return
					}
					p.release(j)
					p.run(ctx, j)
				}
			}
		}()
	}
}

// Stop closes the queue and waits for the workers to drain it.
func (p *Promoter) Stop() {
	p.mu.Lock()
	if !p.closed {
		p.closed = true
		close(p.queue)
	}
	p.mu.Unlock()
	p.wg.Wait()
}

// Enqueue schedules promotion for a slot. It never blocks and reports
// whether the slot was accepted; a slot already waiting counts as accepted.
func (p *Promoter) Enqueue(tenantID int64, slot domain.Slot) bool {
	key := slot.Key(tenantID)

	p.mu.Lock()
	defer p.mu.Unlock()
	if p.closed {
		return false
	}
	if _, ok := p.pending[key]; ok {
		return true
	}

	select {
	case p.queue <- job{tenantID: tenantID, slot: slot}:
		p.pending[key] = struct{}{}
		return true
	default:
		p.recordLocked(tenantID, slot, "promotion queue full")
		log.Warn().Int64("tenant_id", tenantID).Int64("session_id", slot.SessionID).Int64("resource_id", slot.ResourceID).Msg("promotion queue full, slot dropped")
		return false
	}
}

// PromoteNow processes a slot synchronously. Failures are logged and
// recorded, never returned.
func (p *Promoter) PromoteNow(ctx context.Context, tenantID int64, slot domain.Slot) {
	p.run(context.WithoutCancel(ctx), job{tenantID: tenantID, slot: slot})
}

// Failures returns the most recent failures, oldest first.
func (p *Promoter) Failures() []Failure {
	p.mu.Lock()
	defer p.mu.Unlock()
	out := make([]Failure, len(p.failures))
	copy(out, p.failures)
	return out
}

func (p *Promoter) run(ctx context.Context, j job) {
	ctx, cancel := context.WithTimeout(ctx, p.timeout)
	defer cancel()

	res, err := p.proc.Process(ctx, j.tenantID, j.slot)
	if err != nil {
		log.Error().Err(err).
			Int64("tenant_id", j.tenantID).
			Int64("session_id", j.slot.SessionID).
			Int64("resource_id", j.slot.ResourceID).
			Time("start_time", j.slot.StartTime).
			Msg("waitlist promotion failed")
		p.mu.Lock()
		p.recordLocked(j.tenantID, j.slot, err.Error())
		p.mu.Unlock()
		return
	}
	if res != nil && res.Fulfilled != nil {
		log.Debug().Int64("tenant_id", j.tenantID).Int64("waitlist_id", res.Fulfilled.ID).Msg("promotion fulfilled entry")
	}
}

func (p *Promoter) release(j job) {
	p.mu.Lock()
	delete(p.pending, j.slot.Key(j.tenantID))
	p.mu.Unlock()
}

func (p *Promoter) recordLocked(tenantID int64, slot domain.Slot, msg string) {
	p.failures = append(p.failures, Failure{TenantID: tenantID, Slot: slot, Error: msg, At: time.Now().UTC()})
	if len(p.failures) > maxFailures {
		p.failures = p.failures[len(p.failures)-maxFailures:]
	}
}
