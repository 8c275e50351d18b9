package models

import (
	"fmt"
	"time"
)

// Market identifies the venue a symbol trades on.
type Market string

const (
	MarketSpot  Market = "spot"
	MarketUSDTM Market = "usdtm"
	MarketCoinM Market = "coinm"
	MarketUSDCM Market = "usdcm"
)

// IsValidMarket returns true if m is a supported market.
func IsValidMarket(m Market) bool {
	switch m {
	case MarketSpot, MarketUSDTM, MarketCoinM, MarketUSDCM:
		return true
	default:
		return false
	}
}

// NormalizeMarket converts a raw string to a valid market (or spot).
func NormalizeMarket(s string) Market {
	if s == "" {
		return MarketSpot
	}
	m := Market(s)
	if IsValidMarket(m) {
		return m
	}
	return MarketSpot
}

// SymbolKey is the (symbol, market) pair used to partition collectors
// and fan-out channels. At most one live collector runs per key.
type SymbolKey struct {
	Symbol string
	Market Market
}

func NewSymbolKey(symbol string, market Market) SymbolKey {
	return SymbolKey{Symbol: symbol, Market: market}
}

// String renders the key in the "BTCUSDT/spot" form used in logs and maps.
func (k SymbolKey) String() string {
	return fmt.Sprintf("%s/%s", k.Symbol, k.Market)
}

// Trade is a single normalized exchange trade. Immutable once built.
type Trade struct {
	Symbol string    `json:"symbol"`
	Market Market    `json:"market"`
	Price  float64   `json:"price"`
	Size   float64   `json:"size"`
	Side   string    `json:"side"`
	Ts     time.Time `json:"ts"`
}

// Key returns the partition key for the trade.
func (t *Trade) Key() SymbolKey {
	return SymbolKey{Symbol: t.Symbol, Market: t.Market}
}

// Bar is one OHLCV candle. (symbol, market, ts, resolution) is the natural
// key; re-inserting the same tuple must leave queryable state unchanged.
type Bar struct {
	Symbol     string    `json:"symbol"`
	Market     Market    `json:"market"`
	Open       float64   `json:"open"`
	High       float64   `json:"high"`
	Low        float64   `json:"low"`
	Close      float64   `json:"close"`
	Volume     float64   `json:"volume"`
	Ts         time.Time `json:"ts"`
	Resolution string    `json:"resolution"`
}

// CoinSetting is a per-coin configuration row driving live storage and
// history backfill.
type CoinSetting struct {
	Symbol          string    `json:"symbol"`
	Market          Market    `json:"market"`
	StoreLive       bool      `json:"store_live"`
	LoadHistory     bool      `json:"load_history"`
	HistoryUntil    time.Time `json:"history_until,omitempty"`
	Favorite        bool      `json:"favorite"`
	DBResolution    int       `json:"db_resolution"`
	ChartResolution string    `json:"chart_resolution"`
	UpdatedAt       time.Time `json:"updated_at"`
}

// WhaleEvent is an on-chain transfer above the configured threshold.
type WhaleEvent struct {
	EventID  string    `json:"event_id"`
	Ts       time.Time `json:"ts"`
	Chain    string    `json:"chain"`
	TxHash   string    `json:"tx_hash"`
	FromAddr string    `json:"from_addr"`
	ToAddr   string    `json:"to_addr"`
	Token    string    `json:"token"`
	Symbol   string    `json:"symbol"`
	Amount   float64   `json:"amount"`
	IsNative bool      `json:"is_native"`
	Exchange string    `json:"exchange"`
}

// WhaleCoin maps a tracked token contract to an exchange symbol.
type WhaleCoin struct {
	Symbol       string `json:"symbol"`
	Chain        string `json:"chain"`
	ContractAddr string `json:"contract_addr"`
	IsNative     bool   `json:"is_native"`
	Exchange     string `json:"exchange"`
	Active       bool   `json:"active"`
}
