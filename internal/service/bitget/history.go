package bitget

import (
	"context"
	"encoding/json"
	"fmt"
	"io"
	"net/http"
	"strconv"
	"strings"
	"time"

	"TradePulse/internal/domain/models"
	drepo "TradePulse/internal/domain/repository"
	xhttp "TradePulse/pkg/http"
)

const historyPath = "/api/v2/spot/public/candles"

// HistoryClient pages through the Bitget V2 candle history endpoint.
type HistoryClient struct {
	baseURL string
	client  *xhttp.Client
}

// NewHistoryClient creates a history client against baseURL.
func NewHistoryClient(baseURL string, timeout time.Duration) *HistoryClient {
	return &HistoryClient{
		baseURL: strings.TrimRight(baseURL, "/"),
		client:  xhttp.NewClient(xhttp.WithTimeout(timeout)),
	}
}

// NormalizeHistorySymbol converts exchange notation to the V2 API form,
// e.g. "BTCUSDT" -> "btc_usdt".
func NormalizeHistorySymbol(symbol string) string {
	return strings.ToLower(strings.Replace(symbol, "USDT", "_usdt", 1))
}

type historyResponse struct {
	Data [][]json.RawMessage `json:"data"`
}

// FetchPage requests up to limit bars ending at endTs milliseconds.
func (c *HistoryClient) FetchPage(ctx context.Context, symbol string, market models.Market, granularity string, endTs int64, limit int) (*drepo.HistoryPage, error) {
	resp, err := c.client.SendRequest(ctx, &xhttp.RequestOptions{
		Method: xhttp.MethodGet,
		URL:    c.baseURL + historyPath,
		QueryParams: map[string][]string{
			"symbol":  {NormalizeHistorySymbol(symbol)},
			"period":  {granularity},
			"endTime": {strconv.FormatInt(endTs, 10)},
			"limit":   {strconv.Itoa(limit)},
		},
	})
	if err != nil {
		return nil, fmt.Errorf("history request %s: %w", symbol, err)
	}
	defer resp.Body.Close()

	if resp.StatusCode == http.StatusTooManyRequests {
		return nil, drepo.ErrRateLimited
	}
	if resp.StatusCode < 200 || resp.StatusCode >= 300 {
		body, _ := io.ReadAll(resp.Body)
		return nil, fmt.Errorf("history %s: status %d: %s", symbol, resp.StatusCode, body)
	}

	var hr historyResponse
	if err := json.NewDecoder(resp.Body).Decode(&hr); err != nil {
		return nil, fmt.Errorf("history decode %s: %w", symbol, err)
	}

	page := &drepo.HistoryPage{Bars: make([]models.Bar, 0, len(hr.Data))}
	for _, row := range hr.Data {
		bar, err := parseBarRow(row, symbol, market, granularity)
		if err != nil {
			return nil, fmt.Errorf("history row %s: %w", symbol, err)
		}
		page.Bars = append(page.Bars, bar)
	}
	return page, nil
}

// parseBarRow decodes one [ts_ms, open, high, low, close, volume] row.
func parseBarRow(row []json.RawMessage, symbol string, market models.Market, granularity string) (models.Bar, error) {
	if len(row) < 6 {
		return models.Bar{}, fmt.Errorf("bar row has %d fields, want 6", len(row))
	}
	tsMs, err := toInt64(row[0])
	if err != nil {
		return models.Bar{}, fmt.Errorf("bar ts: %w", err)
	}
	vals := make([]float64, 5)
	for i := 0; i < 5; i++ {
		v, err := toFloat(row[i+1])
		if err != nil {
			return models.Bar{}, fmt.Errorf("bar field %d: %w", i+1, err)
		}
		vals[i] = v
	}
	return models.Bar{
		Symbol:     symbol,
		Market:     market,
		Open:       vals[0],
		High:       vals[1],
		Low:        vals[2],
		Close:      vals[3],
		Volume:     vals[4],
		Ts:         time.UnixMilli(tsMs).UTC(),
		Resolution: granularity,
	}, nil
}

// Close releases client resources. The underlying transport is shared,
// so this is a no-op kept for the interface contract.
func (c *HistoryClient) Close() error { return nil }
