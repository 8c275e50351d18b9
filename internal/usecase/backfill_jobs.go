package usecase

import (
	"context"
	"sort"
	"sync"
	"time"

	"github.com/google/uuid"

	"TradePulse/internal/domain/models"
	applogger "TradePulse/pkg/logger"
)

// JobStatus is the lifecycle state of a backfill job.
type JobStatus string

const (
	JobPending JobStatus = "pending"
	JobRunning JobStatus = "running"
	JobDone    JobStatus = "done"
	JobFailed  JobStatus = "failed"
)

// BackfillJob is one supervised history load.
type BackfillJob struct {
	ID          string        `json:"id"`
	Symbol      string        `json:"symbol"`
	Market      models.Market `json:"market"`
	Granularity string        `json:"granularity"`
	UntilMs     int64         `json:"until_ms"`
	Status      JobStatus     `json:"status"`
	Bars        int           `json:"bars"`
	Error       string        `json:"error,omitempty"`
	CreatedAt   time.Time     `json:"created_at"`
	UpdatedAt   time.Time     `json:"updated_at"`
}

type jobKey struct {
	key         models.SymbolKey
	granularity string
}

// BackfillRunner executes backfill jobs one at a time. Enqueueing a
// symbol that already has a pending or running job returns the existing
// job instead of stacking a duplicate.
type BackfillRunner struct {
	engine *BackfillEngine
	logger *applogger.Logger

	mu     sync.Mutex
	jobs   map[string]*BackfillJob
	active map[jobKey]string
	queue  chan string
}

func NewBackfillRunner(engine *BackfillEngine, logger *applogger.Logger) *BackfillRunner {
	return &BackfillRunner{
		engine: engine,
		logger: logger,
		jobs:   make(map[string]*BackfillJob),
		active: make(map[jobKey]string),
		queue:  make(chan string, 256),
	}
}

// Enqueue registers a job and returns it. coalesced reports whether an
// already queued job for the same (key, granularity) was reused.
func (r *BackfillRunner) Enqueue(symbol string, market models.Market, granularity string, untilMs int64) (job *BackfillJob, coalesced bool) {
	k := jobKey{key: models.SymbolKey{Symbol: symbol, Market: market}, granularity: granularity}

	r.mu.Lock()
	defer r.mu.Unlock()
	if id, ok := r.active[k]; ok {
		return r.jobs[id].clone(), true
	}

	now := time.Now().UTC()
	j := &BackfillJob{
		ID:          uuid.NewString(),
		Symbol:      symbol,
		Market:      market,
		Granularity: granularity,
		UntilMs:     untilMs,
		Status:      JobPending,
		CreatedAt:   now,
		UpdatedAt:   now,
	}
	r.jobs[j.ID] = j
	r.active[k] = j.ID

	select {
	case r.queue <- j.ID:
	default:
		j.Status = JobFailed
		j.Error = "backfill queue full"
		delete(r.active, k)
	}
	return j.clone(), false
}

// Get returns a job snapshot by id.
func (r *BackfillRunner) Get(id string) (*BackfillJob, bool) {
	r.mu.Lock()
	defer r.mu.Unlock()
	j, ok := r.jobs[id]
	if !ok {
		return nil, false
	}
	return j.clone(), true
}

// List returns job snapshots, newest first.
func (r *BackfillRunner) List() []*BackfillJob {
	r.mu.Lock()
	out := make([]*BackfillJob, 0, len(r.jobs))
	for _, j := range r.jobs {
		out = append(out, j.clone())
	}
	r.mu.Unlock()

	sort.Slice(out, func(i, k int) bool { return out[i].CreatedAt.After(out[k].CreatedAt) })
	return out
}

// Run consumes the queue until ctx is cancelled.
func (r *BackfillRunner) Run(ctx context.Context) {
	for {
		select {
		case <-ctx.Done():
			return
		case id := <-r.queue:
			r.execute(ctx, id)
		}
	}
}

func (r *BackfillRunner) execute(ctx context.Context, id string) {
	r.mu.Lock()
	j, ok := r.jobs[id]
	if !ok {
		r.mu.Unlock()
		return
	}
	j.Status = JobRunning
	j.UpdatedAt = time.Now().UTC()
	symbol, market, granularity, untilMs := j.Symbol, j.Market, j.Granularity, j.UntilMs
	r.mu.Unlock()

	bars, err := r.engine.History(ctx, symbol, market, granularity, untilMs)

	r.mu.Lock()
	defer r.mu.Unlock()
	j.Bars = bars
	j.UpdatedAt = time.Now().UTC()
	if err != nil {
		j.Status = JobFailed
		j.Error = err.Error()
	} else {
		j.Status = JobDone
	}
	delete(r.active, jobKey{key: models.SymbolKey{Symbol: symbol, Market: market}, granularity: granularity})
}

// Close releases the underlying history engine.
func (r *BackfillRunner) Close() error {
	return r.engine.Close()
}

func (j *BackfillJob) clone() *BackfillJob {
	c := *j
	return &c
}
