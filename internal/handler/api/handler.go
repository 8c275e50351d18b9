package api

import (
	"encoding/json"
	"fmt"
	"net/http"
	"time"

	"github.com/labstack/echo/v4"

	"TradePulse/internal/domain/models"
	drepo "TradePulse/internal/domain/repository"
	"TradePulse/internal/usecase"
	"TradePulse/pkg/cache"
	xhttp "TradePulse/pkg/http"
	applogger "TradePulse/pkg/logger"
	"TradePulse/pkg/util"
)

// Handler serves the REST API and the subscriber WebSocket endpoint.
type Handler struct {
	store    drepo.Store
	sink     *usecase.TradeSink
	fanout   *usecase.FanoutManager
	registry *usecase.CollectorRegistry
	backfill *usecase.BackfillRunner
	whale    *usecase.WhaleWatcher
	cache    cache.Cache
	logger   *applogger.Logger
	metrics  drepo.Metrics

	snapshotLimit int
	idlePing      time.Duration
	whaleTimeout  time.Duration
}

// HandlerConfig carries the handler tunables.
type HandlerConfig struct {
	SnapshotLimit int
	IdlePing      time.Duration
	WhaleTimeout  time.Duration
}

func NewHandler(
	store drepo.Store,
	sink *usecase.TradeSink,
	fanout *usecase.FanoutManager,
	registry *usecase.CollectorRegistry,
	backfill *usecase.BackfillRunner,
	whale *usecase.WhaleWatcher,
	c cache.Cache,
	cfg HandlerConfig,
	logger *applogger.Logger,
	metrics drepo.Metrics,
) *Handler {
	if cfg.SnapshotLimit <= 0 {
		cfg.SnapshotLimit = 100
	}
	if cfg.IdlePing <= 0 {
		cfg.IdlePing = 30 * time.Second
	}
	if cfg.WhaleTimeout <= 0 {
		cfg.WhaleTimeout = time.Minute
	}
	return &Handler{
		store:         store,
		sink:          sink,
		fanout:        fanout,
		registry:      registry,
		backfill:      backfill,
		whale:         whale,
		cache:         c,
		logger:        logger,
		metrics:       metrics,
		snapshotLimit: cfg.SnapshotLimit,
		idlePing:      cfg.IdlePing,
		whaleTimeout:  cfg.WhaleTimeout,
	}
}

// RegisterRoutes attaches every route to the echo instance.
func (h *Handler) RegisterRoutes(e *echo.Echo) {
	e.GET("/healthz", h.Health)

	v1 := e.Group("/api/v1")
	v1.GET("/trades", h.Trades)
	v1.GET("/ohlc", h.OHLC)
	v1.POST("/publish", h.Publish)
	v1.GET("/symbols", h.Symbols)
	v1.GET("/settings", h.Settings)
	v1.PUT("/settings", h.UpdateSettings)
	v1.POST("/backfill", h.Backfill)
	v1.GET("/backfill/jobs", h.BackfillJobs)
	v1.GET("/backfill/jobs/:id", h.BackfillJob)
	v1.GET("/whales", h.Whales)

	e.GET("/ws/:symbol/:market", h.Subscribe)
}

// Health reports store connectivity, collector states, open subscriber
// connections and, when enabled, the whale watcher heartbeat.
func (h *Handler) Health(c echo.Context) error {
	collectors := make(map[string]string)
	for _, k := range h.registry.Keys() {
		state := "up"
		if h.registry.Down(k) {
			state = "down"
		}
		collectors[k.String()] = state
	}
	status := map[string]interface{}{
		"clickhouse":  h.store.Ping(c.Request().Context()),
		"collectors":  collectors,
		"connections": h.fanout.Connections(),
	}
	if h.whale != nil {
		status["whale_watcher"] = h.whale.Alive(h.whaleTimeout)
	}
	return xhttp.SuccessResponse(c, status)
}

// Trades returns recent trades for a symbol, newest first.
func (h *Handler) Trades(c echo.Context) error {
	start := time.Now()
	defer func() { h.metrics.RecordLatency("trades", time.Since(start).Seconds()) }()

	req := new(models.TradesRequest)
	if errs := xhttp.ReadAndValidateRequest(c, req); errs != nil {
		return xhttp.BadRequestResponse(c, errs)
	}
	market := models.Market(req.Market)
	if !models.IsValidMarket(market) {
		return xhttp.BadRequestResponse(c, "unknown market")
	}
	startTs, err := parseOptionalTime(req.Start)
	if err != nil {
		return xhttp.BadRequestResponse(c, "bad start time")
	}
	endTs, err := parseOptionalTime(req.End)
	if err != nil {
		return xhttp.BadRequestResponse(c, "bad end time")
	}

	key := models.SymbolKey{Symbol: req.Symbol, Market: market}
	trades, err := h.store.FetchTrades(c.Request().Context(), key, startTs, endTs, req.Limit)
	if err != nil {
		h.metrics.RecordError("fetch_trades")
		h.logger.Error("fetch trades failed", applogger.Error(err))
		return xhttp.InternalServerErrorResponse(c)
	}
	return xhttp.ListResponse(c, trades, int64(len(trades)))
}

// OHLC returns stored candles. Only spot history is backed by the
// provider, so other markets answer 204.
func (h *Handler) OHLC(c echo.Context) error {
	start := time.Now()
	defer func() { h.metrics.RecordLatency("ohlc", time.Since(start).Seconds()) }()

	req := new(models.OHLCRequest)
	if errs := xhttp.ReadAndValidateRequest(c, req); errs != nil {
		return xhttp.BadRequestResponse(c, errs)
	}
	market := models.Market(req.Market)
	if !models.IsValidMarket(market) {
		return xhttp.BadRequestResponse(c, "unknown market")
	}
	if market != models.MarketSpot {
		return xhttp.NoContentResponse(c)
	}
	if !drepo.IsValidResolution(drepo.Resolution(req.Resolution)) {
		return xhttp.BadRequestResponse(c, "unknown resolution")
	}
	startTs, endTs, err := barRange(req.Start, req.End, req.Resolution)
	if err != nil {
		return xhttp.BadRequestResponse(c, err.Error())
	}

	key := models.SymbolKey{Symbol: req.Symbol, Market: market}
	cacheKey := fmt.Sprintf("ohlc:%s:%s:%s:%s:%d", key, req.Resolution, req.Start, req.End, req.Limit)
	if b, ok := h.cacheGet(c, cacheKey); ok {
		return c.JSONBlob(http.StatusOK, b)
	}

	bars, err := h.store.FetchBars(c.Request().Context(), key, startTs, endTs, req.Limit)
	if err != nil {
		h.metrics.RecordError("fetch_bars")
		h.logger.Error("fetch bars failed", applogger.Error(err))
		return xhttp.InternalServerErrorResponse(c)
	}
	filtered := bars[:0]
	for _, b := range bars {
		if b.Resolution == req.Resolution {
			filtered = append(filtered, b)
		}
	}
	// store hands back newest first, charting wants oldest first
	for i, j := 0, len(filtered)-1; i < j; i, j = i+1, j-1 {
		filtered[i], filtered[j] = filtered[j], filtered[i]
	}
	h.cacheSet(c, cacheKey, xhttp.APIResponse{Status: 200, Message: "OK", Data: filtered}, 5*time.Second)
	return xhttp.ListResponse(c, filtered, int64(len(filtered)))
}

// Publish accepts an out-of-band trade and routes it through the same
// sink path as live collector trades.
func (h *Handler) Publish(c echo.Context) error {
	req := new(models.PublishTradeRequest)
	if errs := xhttp.ReadAndValidateRequest(c, req); errs != nil {
		return xhttp.BadRequestResponse(c, errs)
	}
	market := models.Market(req.Market)
	if !models.IsValidMarket(market) {
		return xhttp.BadRequestResponse(c, "unknown market")
	}
	ts := util.ParseTimeDefault(req.Ts, time.Now()).UTC()
	side := req.Side
	if side == "" {
		side = "buy"
	}

	t := &models.Trade{
		Symbol: req.Symbol,
		Market: market,
		Price:  req.Price,
		Size:   req.Size,
		Side:   side,
		Ts:     ts,
	}
	h.sink.Handle(c.Request().Context(), t)
	return xhttp.CreatedResponse(c, t)
}

// Symbols lists configured symbol keys and whether a collector runs.
func (h *Handler) Symbols(c echo.Context) error {
	keys, err := h.store.FetchSymbols(c.Request().Context())
	if err != nil {
		h.metrics.RecordError("fetch_symbols")
		return xhttp.InternalServerErrorResponse(c)
	}
	running := make(map[models.SymbolKey]bool)
	for _, k := range h.registry.Keys() {
		running[k] = true
	}
	type symbolStatus struct {
		Symbol    string        `json:"symbol"`
		Market    models.Market `json:"market"`
		Collector bool          `json:"collector"`
		Down      bool          `json:"down,omitempty"`
	}
	out := make([]symbolStatus, 0, len(keys))
	seen := make(map[models.SymbolKey]bool, len(keys))
	for _, k := range keys {
		seen[k] = true
		out = append(out, symbolStatus{Symbol: k.Symbol, Market: k.Market, Collector: running[k], Down: h.registry.Down(k)})
	}
	for k := range running {
		if !seen[k] {
			out = append(out, symbolStatus{Symbol: k.Symbol, Market: k.Market, Collector: true, Down: h.registry.Down(k)})
		}
	}
	return xhttp.ListResponse(c, out, int64(len(out)))
}

// Settings lists persisted coin settings.
func (h *Handler) Settings(c echo.Context) error {
	symbol := c.QueryParam("symbol")
	market := models.Market(c.QueryParam("market"))
	settings, err := h.store.FetchCoinSettings(c.Request().Context(), symbol, market)
	if err != nil {
		h.metrics.RecordError("fetch_settings")
		return xhttp.InternalServerErrorResponse(c)
	}
	return xhttp.ListResponse(c, settings, int64(len(settings)))
}

// UpdateSettings upserts coin settings. Enabling store_live starts the
// collector; enabling load_history enqueues a backfill job.
func (h *Handler) UpdateSettings(c echo.Context) error {
	var reqs []models.CoinSettingRequest
	if err := c.Bind(&reqs); err != nil {
		return xhttp.BadRequestResponse(c, "bad body")
	}
	if len(reqs) == 0 {
		return xhttp.BadRequestResponse(c, "empty settings")
	}

	ctx := c.Request().Context()
	updated := make([]*models.CoinSetting, 0, len(reqs))
	for _, req := range reqs {
		if req.Symbol == "" {
			return xhttp.BadRequestResponse(c, "symbol required")
		}
		market := models.NormalizeMarket(req.Market)
		var until time.Time
		if req.HistoryUntil != "" {
			parsed, err := time.Parse(time.RFC3339, req.HistoryUntil)
			if err != nil {
				return xhttp.BadRequestResponse(c, "bad history_until")
			}
			until = parsed.UTC()
		}
		cs := &models.CoinSetting{
			Symbol:          req.Symbol,
			Market:          market,
			StoreLive:       req.StoreLive,
			LoadHistory:     req.LoadHistory,
			HistoryUntil:    until,
			Favorite:        req.Favorite,
			DBResolution:    req.DBResolution,
			ChartResolution: req.ChartResolution,
			UpdatedAt:       time.Now().UTC(),
		}
		if err := h.store.UpsertCoinSetting(ctx, cs); err != nil {
			h.metrics.RecordError("upsert_setting")
			h.logger.Error("settings upsert failed", applogger.Error(err))
			return xhttp.InternalServerErrorResponse(c)
		}

		key := models.SymbolKey{Symbol: cs.Symbol, Market: cs.Market}
		h.sink.SetStoreLive(key, cs.StoreLive)
		h.sink.SetChartResolution(key, cs.ChartResolution)
		if cs.StoreLive {
			h.registry.Ensure(key)
		}
		if cs.LoadHistory && cs.Market == models.MarketSpot {
			untilMs := int64(0)
			if !cs.HistoryUntil.IsZero() {
				untilMs = cs.HistoryUntil.UnixMilli()
			}
			h.backfill.Enqueue(cs.Symbol, cs.Market, cs.ChartResolution, untilMs)
		}
		updated = append(updated, cs)
	}
	return xhttp.SuccessResponse(c, updated)
}

// Backfill enqueues a history load and returns the job.
func (h *Handler) Backfill(c echo.Context) error {
	req := new(models.BackfillRequest)
	if errs := xhttp.ReadAndValidateRequest(c, req); errs != nil {
		return xhttp.BadRequestResponse(c, errs)
	}
	market := models.Market(req.Market)
	if market != models.MarketSpot {
		return xhttp.BadRequestResponse(c, "history is only available for spot")
	}
	until, ok := util.ParseTime(req.Until)
	if !ok {
		return xhttp.BadRequestResponse(c, "bad until time")
	}

	job, coalesced := h.backfill.Enqueue(req.Symbol, market, req.Granularity, until.UnixMilli())
	if coalesced {
		return xhttp.SuccessResponse(c, job)
	}
	return xhttp.CreatedResponse(c, job)
}

// BackfillJobs lists known jobs, newest first.
func (h *Handler) BackfillJobs(c echo.Context) error {
	jobs := h.backfill.List()
	return xhttp.ListResponse(c, jobs, int64(len(jobs)))
}

// BackfillJob returns one job by id.
func (h *Handler) BackfillJob(c echo.Context) error {
	job, ok := h.backfill.Get(c.Param("id"))
	if !ok {
		return xhttp.NotFoundResponse(c, "job not found")
	}
	return xhttp.SuccessResponse(c, job)
}

// Whales lists recent whale transfer events.
func (h *Handler) Whales(c echo.Context) error {
	req := new(models.WhalesRequest)
	if errs := xhttp.ReadAndValidateRequest(c, req); errs != nil {
		return xhttp.BadRequestResponse(c, errs)
	}
	events, err := h.store.FetchWhaleEvents(c.Request().Context(), req.Symbol, req.Limit)
	if err != nil {
		h.metrics.RecordError("fetch_whales")
		return xhttp.InternalServerErrorResponse(c)
	}
	return xhttp.ListResponse(c, events, int64(len(events)))
}

func (h *Handler) cacheGet(c echo.Context, key string) ([]byte, bool) {
	if h.cache == nil {
		return nil, false
	}
	b, ok, err := h.cache.Get(c.Request().Context(), key)
	if err != nil {
		h.logger.Warn("cache get failed", applogger.Error(err))
		return nil, false
	}
	return b, ok
}

func (h *Handler) cacheSet(c echo.Context, key string, v interface{}, ttl time.Duration) {
	if h.cache == nil {
		return
	}
	b, err := json.Marshal(v)
	if err != nil {
		return
	}
	if err := h.cache.Set(c.Request().Context(), key, b, ttl); err != nil {
		h.logger.Warn("cache set failed", applogger.Error(err))
	}
}

// parseOptionalTime accepts RFC3339 or unix seconds.
func parseOptionalTime(s string) (*time.Time, error) {
	if s == "" {
		return nil, nil
	}
	t, ok := util.ParseTime(s)
	if !ok {
		return nil, fmt.Errorf("unparseable time %q", s)
	}
	u := t.UTC()
	return &u, nil
}

// barRange parses the optional OHLC window and aligns both bounds to
// the resolution grid.
func barRange(start, end, resolution string) (*time.Time, *time.Time, error) {
	startTs, err := parseOptionalTime(start)
	if err != nil {
		return nil, nil, err
	}
	endTs, err := parseOptionalTime(end)
	if err != nil {
		return nil, nil, err
	}
	if startTs != nil && endTs != nil {
		from, to := util.AlignFromTo(*startTs, *endTs, resolution)
		return &from, &to, nil
	}
	return startTs, endTs, nil
}
