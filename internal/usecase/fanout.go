package usecase

import (
	"context"
	"sync"
	"time"

	"TradePulse/internal/domain/models"
	drepo "TradePulse/internal/domain/repository"
	applogger "TradePulse/pkg/logger"
)

// Conn is one subscriber connection. Implementations serialize their
// own writes; the fan-out loop calls WriteJSON from a single goroutine.
type Conn interface {
	WriteJSON(v interface{}) error
}

// FanoutConfig tunes batching and per-kind debouncing.
type FanoutConfig struct {
	BatchInterval  time.Duration
	TradeDebounce  time.Duration
	CandleDebounce time.Duration
}

// route is one (key, message kind) delivery lane.
type route struct {
	key  models.SymbolKey
	kind string
}

// FanoutManager routes push messages to subscriber connections.
//
// Publishes are cheap: the latest message per route replaces any pending
// one, so a flood of updates inside a batch window collapses to a single
// delivery carrying the newest value. Delivery happens on the batch tick
// and is additionally rate-limited per route by its debounce window.
type FanoutManager struct {
	cfg     FanoutConfig
	logger  *applogger.Logger
	metrics drepo.Metrics

	mu       sync.Mutex
	conns    map[models.SymbolKey]map[Conn]struct{}
	pending  map[route]models.PushMessage
	lastSent map[route]time.Time

	// ensure lazily starts the collector for a key on first subscribe
	ensure func(key models.SymbolKey)

	now func() time.Time
}

func NewFanoutManager(cfg FanoutConfig, ensure func(key models.SymbolKey), logger *applogger.Logger, metrics drepo.Metrics) *FanoutManager {
	if cfg.BatchInterval <= 0 {
		cfg.BatchInterval = 50 * time.Millisecond
	}
	if cfg.TradeDebounce <= 0 {
		cfg.TradeDebounce = 25 * time.Millisecond
	}
	if cfg.CandleDebounce <= 0 {
		cfg.CandleDebounce = 100 * time.Millisecond
	}
	if ensure == nil {
		ensure = func(models.SymbolKey) {}
	}
	return &FanoutManager{
		cfg:      cfg,
		logger:   logger,
		metrics:  metrics,
		conns:    make(map[models.SymbolKey]map[Conn]struct{}),
		pending:  make(map[route]models.PushMessage),
		lastSent: make(map[route]time.Time),
		ensure:   ensure,
		now:      time.Now,
	}
}

// Connect registers a subscriber for key. The first subscriber for a
// key triggers the collector start; registering the same conn twice is
// a no-op.
func (f *FanoutManager) Connect(key models.SymbolKey, conn Conn) {
	f.mu.Lock()
	set, ok := f.conns[key]
	if !ok {
		set = make(map[Conn]struct{})
		f.conns[key] = set
	}
	set[conn] = struct{}{}
	n := len(set)
	f.mu.Unlock()

	f.metrics.RecordConnectionOpened(key.String())
	f.logger.Info("subscriber connected",
		applogger.String("key", key.String()),
		applogger.Int("subscribers", n),
	)
	f.ensure(key)
}

// Disconnect removes a subscriber. When the last subscriber for a key
// leaves, the key's pending state is released; the collector keeps
// running so a returning subscriber sees fresh data immediately.
func (f *FanoutManager) Disconnect(key models.SymbolKey, conn Conn) {
	f.mu.Lock()
	set, ok := f.conns[key]
	if ok {
		delete(set, conn)
		if len(set) == 0 {
			delete(f.conns, key)
			f.dropRoutesLocked(key)
		}
	}
	f.mu.Unlock()
	if ok {
		f.logger.Info("subscriber disconnected", applogger.String("key", key.String()))
	}
}

func (f *FanoutManager) dropRoutesLocked(key models.SymbolKey) {
	for r := range f.pending {
		if r.key == key {
			delete(f.pending, r)
		}
	}
	for r := range f.lastSent {
		if r.key == key {
			delete(f.lastSent, r)
		}
	}
}

// Subscribers reports the live subscriber count for key.
func (f *FanoutManager) Subscribers(key models.SymbolKey) int {
	f.mu.Lock()
	defer f.mu.Unlock()
	return len(f.conns[key])
}

// Connections reports the total open subscriber count across keys.
func (f *FanoutManager) Connections() int {
	f.mu.Lock()
	defer f.mu.Unlock()
	n := 0
	for _, set := range f.conns {
		n += len(set)
	}
	return n
}

// PublishTrade queues a trade frame for key.
func (f *FanoutManager) PublishTrade(key models.SymbolKey, msg models.PushMessage) {
	f.publish(route{key: key, kind: "trade"}, msg)
}

// PublishCandle queues a candle frame for key.
func (f *FanoutManager) PublishCandle(key models.SymbolKey, msg models.PushMessage) {
	f.publish(route{key: key, kind: "candle"}, msg)
}

func (f *FanoutManager) publish(r route, msg models.PushMessage) {
	f.mu.Lock()
	if _, ok := f.conns[r.key]; !ok {
		// nobody listening; publishing to an unknown key is a no-op
		f.mu.Unlock()
		return
	}
	f.pending[r] = msg
	f.mu.Unlock()
	f.metrics.RecordMessageQueued(r.key.String())
}

func (f *FanoutManager) window(kind string) time.Duration {
	if kind == "candle" {
		return f.cfg.CandleDebounce
	}
	return f.cfg.TradeDebounce
}

// Run drives batch delivery until ctx is cancelled.
func (f *FanoutManager) Run(ctx context.Context) {
	ticker := time.NewTicker(f.cfg.BatchInterval)
	defer ticker.Stop()
	for {
		select {
		case <-ctx.Done():
			return
		case <-ticker.C:
			f.Flush()
		}
	}
}

type delivery struct {
	route route
	msg   models.PushMessage
	conns []Conn
}

// Flush delivers the newest pending message of every due route. It is
// the body of one batch tick, exported so tests can drive it directly.
func (f *FanoutManager) Flush() {
	now := f.now()

	f.mu.Lock()
	var due []delivery
	for r, msg := range f.pending {
		if now.Sub(f.lastSent[r]) < f.window(r.kind) {
			continue
		}
		set := f.conns[r.key]
		if len(set) == 0 {
			delete(f.pending, r)
			continue
		}
		conns := make([]Conn, 0, len(set))
		for c := range set {
			conns = append(conns, c)
		}
		due = append(due, delivery{route: r, msg: msg, conns: conns})
		f.lastSent[r] = now
		delete(f.pending, r)
	}
	f.mu.Unlock()

	for _, d := range due {
		var failed []Conn
		for _, c := range d.conns {
			if err := c.WriteJSON(d.msg); err != nil {
				failed = append(failed, c)
				continue
			}
			f.metrics.RecordMessageSent(d.route.key.String())
		}
		for _, c := range failed {
			f.metrics.RecordError("subscriber_write")
			f.Disconnect(d.route.key, c)
		}
	}
}
