package repository

import (
	"context"
	"database/sql"
	"fmt"
	"strings"
	"sync/atomic"
	"time"

	"TradePulse/internal/domain/models"
	drepo "TradePulse/internal/domain/repository"
	applogger "TradePulse/pkg/logger"
)

// SchemaStatements returns the idempotent DDL for the service database.
// Bars use ReplacingMergeTree so re-inserting the same
// (symbol, market, ts, resolution) tuple collapses to one visible row.
func SchemaStatements(database string) []string {
	return []string{
		fmt.Sprintf("CREATE DATABASE IF NOT EXISTS %s", database),
		fmt.Sprintf(`CREATE TABLE IF NOT EXISTS %s.trades (
			symbol String, market String, price Float64, size Float64,
			side String, ts DateTime64(3, 'UTC')
		) ENGINE=MergeTree ORDER BY (symbol, market, ts)`, database),
		fmt.Sprintf(`CREATE TABLE IF NOT EXISTS %s.bars (
			symbol String, market String, open Float64, high Float64,
			low Float64, close Float64, volume Float64,
			ts DateTime64(3, 'UTC'), resolution String
		) ENGINE=ReplacingMergeTree ORDER BY (symbol, market, ts, resolution)`, database),
		fmt.Sprintf(`CREATE TABLE IF NOT EXISTS %s.coin_settings (
			symbol String, market String, store_live UInt8, load_history UInt8,
			history_until Nullable(DateTime64(3, 'UTC')), favorite UInt8,
			db_resolution UInt16, chart_resolution String, updated_at DateTime
		) ENGINE=ReplacingMergeTree(updated_at) ORDER BY (symbol, market)`, database),
		fmt.Sprintf(`CREATE TABLE IF NOT EXISTS %s.whale_events (
			event_id String, ts DateTime64(3, 'UTC'), chain String,
			tx_hash String, from_addr String, to_addr String, token String,
			symbol String, amount Float64, is_native UInt8, exchange String
		) ENGINE=MergeTree ORDER BY (symbol, ts)`, database),
		fmt.Sprintf(`CREATE TABLE IF NOT EXISTS %s.whale_coins (
			symbol String, chain String, contract_addr String,
			is_native UInt8, exchange String, active UInt8
		) ENGINE=ReplacingMergeTree ORDER BY (chain, contract_addr)`, database),
	}
}

// ClickHouseStore implements the Store contract on ClickHouse.
type ClickHouseStore struct {
	db       *sql.DB
	database string
	logger   *applogger.Logger

	// insert log throttles; logged every logEvery inserts
	tradeInserts atomic.Uint64
	barInserts   atomic.Uint64
}

const logEvery = 100

// NewClickHouseStore creates a ClickHouse-backed store.
func NewClickHouseStore(db *sql.DB, database string, logger *applogger.Logger) drepo.Store {
	return &ClickHouseStore{db: db, database: database, logger: logger}
}

func (s *ClickHouseStore) table(name string) string {
	return s.database + "." + name
}

func (s *ClickHouseStore) InsertTrade(ctx context.Context, t *models.Trade) error {
	q := fmt.Sprintf("INSERT INTO %s (symbol, market, price, size, side, ts) VALUES (?, ?, ?, ?, ?, ?)", s.table("trades"))
	if _, err := s.db.ExecContext(ctx, q, t.Symbol, string(t.Market), t.Price, t.Size, t.Side, t.Ts); err != nil {
		return fmt.Errorf("insert trade %s: %w", t.Key(), err)
	}
	if n := s.tradeInserts.Add(1); n%logEvery == 0 {
		s.logger.Info("trades inserted",
			applogger.Uint64("total", n),
			applogger.String("latest", t.Key().String()),
		)
	}
	return nil
}

func (s *ClickHouseStore) InsertTradeBatch(ctx context.Context, trades []*models.Trade) error {
	if len(trades) == 0 {
		return nil
	}
	values := make([]string, 0, len(trades))
	args := make([]interface{}, 0, len(trades)*6)
	for _, t := range trades {
		if t == nil || t.Symbol == "" {
			continue
		}
		values = append(values, "(?, ?, ?, ?, ?, ?)")
		args = append(args, t.Symbol, string(t.Market), t.Price, t.Size, t.Side, t.Ts)
	}
	if len(values) == 0 {
		return nil
	}
	q := fmt.Sprintf("INSERT INTO %s (symbol, market, price, size, side, ts) VALUES %s",
		s.table("trades"), strings.Join(values, ","))
	if _, err := s.db.ExecContext(ctx, q, args...); err != nil {
		return fmt.Errorf("insert trade batch: %w", err)
	}
	if n := s.tradeInserts.Add(uint64(len(values))); n/logEvery != (n-uint64(len(values)))/logEvery {
		s.logger.Info("trades inserted", applogger.Uint64("total", n))
	}
	return nil
}

func (s *ClickHouseStore) InsertBar(ctx context.Context, b *models.Bar) error {
	q := fmt.Sprintf("INSERT INTO %s (symbol, market, open, high, low, close, volume, ts, resolution) VALUES (?, ?, ?, ?, ?, ?, ?, ?, ?)", s.table("bars"))
	if _, err := s.db.ExecContext(ctx, q, b.Symbol, string(b.Market), b.Open, b.High, b.Low, b.Close, b.Volume, b.Ts, b.Resolution); err != nil {
		return fmt.Errorf("insert bar %s/%s: %w", b.Symbol, b.Market, err)
	}
	if n := s.barInserts.Add(1); n%50 == 0 {
		s.logger.Info("bars inserted",
			applogger.Uint64("total", n),
			applogger.String("symbol", b.Symbol),
		)
	}
	return nil
}

func (s *ClickHouseStore) FetchTrades(ctx context.Context, key models.SymbolKey, start, end *time.Time, limit int) ([]*models.Trade, error) {
	q := fmt.Sprintf("SELECT symbol, market, price, size, side, ts FROM %s WHERE symbol = ? AND market = ?", s.table("trades"))
	args := []interface{}{key.Symbol, string(key.Market)}
	if start != nil {
		q += " AND ts >= ?"
		args = append(args, *start)
	}
	if end != nil {
		q += " AND ts <= ?"
		args = append(args, *end)
	}
	q += " ORDER BY ts DESC LIMIT ?"
	args = append(args, limit)

	rows, err := s.db.QueryContext(ctx, q, args...)
	if err != nil {
		return nil, fmt.Errorf("fetch trades %s: %w", key, err)
	}
	defer rows.Close()

	var trades []*models.Trade
	for rows.Next() {
		var t models.Trade
		var market string
		if err := rows.Scan(&t.Symbol, &market, &t.Price, &t.Size, &t.Side, &t.Ts); err != nil {
			return nil, err
		}
		t.Market = models.Market(market)
		trades = append(trades, &t)
	}
	return trades, rows.Err()
}

func (s *ClickHouseStore) FetchBars(ctx context.Context, key models.SymbolKey, start, end *time.Time, limit int) ([]*models.Bar, error) {
	// FINAL collapses ReplacingMergeTree duplicates at read time.
	q := fmt.Sprintf("SELECT symbol, market, open, high, low, close, volume, ts, resolution FROM %s FINAL WHERE symbol = ? AND market = ?", s.table("bars"))
	args := []interface{}{key.Symbol, string(key.Market)}
	if start != nil {
		q += " AND ts >= ?"
		args = append(args, *start)
	}
	if end != nil {
		q += " AND ts <= ?"
		args = append(args, *end)
	}
	q += " ORDER BY ts DESC LIMIT ?"
	args = append(args, limit)

	rows, err := s.db.QueryContext(ctx, q, args...)
	if err != nil {
		return nil, fmt.Errorf("fetch bars %s: %w", key, err)
	}
	defer rows.Close()

	var bars []*models.Bar
	for rows.Next() {
		var b models.Bar
		var market string
		if err := rows.Scan(&b.Symbol, &market, &b.Open, &b.High, &b.Low, &b.Close, &b.Volume, &b.Ts, &b.Resolution); err != nil {
			return nil, err
		}
		b.Market = models.Market(market)
		bars = append(bars, &b)
	}
	return bars, rows.Err()
}

func (s *ClickHouseStore) UpsertCoinSetting(ctx context.Context, cs *models.CoinSetting) error {
	q := fmt.Sprintf(`INSERT INTO %s
		(symbol, market, store_live, load_history, history_until, favorite, db_resolution, chart_resolution, updated_at)
		VALUES (?, ?, ?, ?, ?, ?, ?, ?, now())`, s.table("coin_settings"))
	var until interface{}
	if !cs.HistoryUntil.IsZero() {
		until = cs.HistoryUntil
	}
	_, err := s.db.ExecContext(ctx, q,
		cs.Symbol, string(cs.Market), boolToUint8(cs.StoreLive), boolToUint8(cs.LoadHistory),
		until, boolToUint8(cs.Favorite), cs.DBResolution, cs.ChartResolution,
	)
	if err != nil {
		return fmt.Errorf("upsert coin setting %s/%s: %w", cs.Symbol, cs.Market, err)
	}
	return nil
}

func (s *ClickHouseStore) FetchCoinSettings(ctx context.Context, symbol string, market models.Market) ([]*models.CoinSetting, error) {
	q := fmt.Sprintf(`SELECT symbol, market, store_live, load_history, history_until, favorite, db_resolution, chart_resolution, updated_at
		FROM %s FINAL`, s.table("coin_settings"))
	var conds []string
	var args []interface{}
	if symbol != "" {
		conds = append(conds, "symbol = ?")
		args = append(args, symbol)
	}
	if market != "" {
		conds = append(conds, "market = ?")
		args = append(args, string(market))
	}
	if len(conds) > 0 {
		q += " WHERE " + strings.Join(conds, " AND ")
	}
	q += " ORDER BY symbol, market"

	rows, err := s.db.QueryContext(ctx, q, args...)
	if err != nil {
		return nil, fmt.Errorf("fetch coin settings: %w", err)
	}
	defer rows.Close()

	var settings []*models.CoinSetting
	for rows.Next() {
		var cs models.CoinSetting
		var market string
		var storeLive, loadHistory, favorite uint8
		var until sql.NullTime
		if err := rows.Scan(&cs.Symbol, &market, &storeLive, &loadHistory, &until, &favorite, &cs.DBResolution, &cs.ChartResolution, &cs.UpdatedAt); err != nil {
			return nil, err
		}
		cs.Market = models.Market(market)
		cs.StoreLive = storeLive != 0
		cs.LoadHistory = loadHistory != 0
		cs.Favorite = favorite != 0
		if until.Valid {
			cs.HistoryUntil = until.Time
		}
		settings = append(settings, &cs)
	}
	return settings, rows.Err()
}

func (s *ClickHouseStore) FetchSymbols(ctx context.Context) ([]models.SymbolKey, error) {
	q := fmt.Sprintf("SELECT DISTINCT symbol, market FROM %s ORDER BY symbol, market", s.table("coin_settings"))
	rows, err := s.db.QueryContext(ctx, q)
	if err != nil {
		return nil, fmt.Errorf("fetch symbols: %w", err)
	}
	defer rows.Close()

	var keys []models.SymbolKey
	for rows.Next() {
		var symbol, market string
		if err := rows.Scan(&symbol, &market); err != nil {
			return nil, err
		}
		keys = append(keys, models.SymbolKey{Symbol: symbol, Market: models.Market(market)})
	}
	return keys, rows.Err()
}

func (s *ClickHouseStore) InsertWhaleEvent(ctx context.Context, e *models.WhaleEvent) error {
	q := fmt.Sprintf(`INSERT INTO %s
		(event_id, ts, chain, tx_hash, from_addr, to_addr, token, symbol, amount, is_native, exchange)
		VALUES (?, ?, ?, ?, ?, ?, ?, ?, ?, ?, ?)`, s.table("whale_events"))
	_, err := s.db.ExecContext(ctx, q,
		e.EventID, e.Ts, e.Chain, e.TxHash, e.FromAddr, e.ToAddr, e.Token,
		e.Symbol, e.Amount, boolToUint8(e.IsNative), e.Exchange,
	)
	if err != nil {
		return fmt.Errorf("insert whale event %s: %w", e.Symbol, err)
	}
	s.logger.Info("whale event",
		applogger.String("symbol", e.Symbol),
		applogger.Any("amount", e.Amount),
		applogger.String("exchange", e.Exchange),
	)
	return nil
}

func (s *ClickHouseStore) FetchWhaleEvents(ctx context.Context, symbol string, limit int) ([]*models.WhaleEvent, error) {
	q := fmt.Sprintf("SELECT event_id, ts, chain, tx_hash, from_addr, to_addr, token, symbol, amount, is_native, exchange FROM %s", s.table("whale_events"))
	var args []interface{}
	if symbol != "" {
		q += " WHERE symbol = ?"
		args = append(args, symbol)
	}
	q += " ORDER BY ts DESC LIMIT ?"
	args = append(args, limit)

	rows, err := s.db.QueryContext(ctx, q, args...)
	if err != nil {
		return nil, fmt.Errorf("fetch whale events: %w", err)
	}
	defer rows.Close()

	var events []*models.WhaleEvent
	for rows.Next() {
		var e models.WhaleEvent
		var isNative uint8
		if err := rows.Scan(&e.EventID, &e.Ts, &e.Chain, &e.TxHash, &e.FromAddr, &e.ToAddr, &e.Token, &e.Symbol, &e.Amount, &isNative, &e.Exchange); err != nil {
			return nil, err
		}
		e.IsNative = isNative != 0
		events = append(events, &e)
	}
	return events, rows.Err()
}

func (s *ClickHouseStore) FetchWhaleCoins(ctx context.Context, activeOnly bool) ([]*models.WhaleCoin, error) {
	q := fmt.Sprintf("SELECT symbol, chain, contract_addr, is_native, exchange, active FROM %s FINAL", s.table("whale_coins"))
	if activeOnly {
		q += " WHERE active = 1"
	}
	rows, err := s.db.QueryContext(ctx, q)
	if err != nil {
		return nil, fmt.Errorf("fetch whale coins: %w", err)
	}
	defer rows.Close()

	var coins []*models.WhaleCoin
	for rows.Next() {
		var c models.WhaleCoin
		var isNative, active uint8
		if err := rows.Scan(&c.Symbol, &c.Chain, &c.ContractAddr, &isNative, &c.Exchange, &active); err != nil {
			return nil, err
		}
		c.IsNative = isNative != 0
		c.Active = active != 0
		coins = append(coins, &c)
	}
	return coins, rows.Err()
}

// Ping reports store liveness for health checks.
func (s *ClickHouseStore) Ping(ctx context.Context) bool {
	return s.db.PingContext(ctx) == nil
}

// Close is a no-op; the pooled client is owned by pkg/clickhouse.
func (s *ClickHouseStore) Close() error { return nil }

func boolToUint8(b bool) uint8 {
	if b {
		return 1
	}
	return 0
}
