package bitget

import (
	"context"
	"encoding/json"
	"fmt"
	"strconv"
	"strings"
	"time"

	"TradePulse/internal/domain/models"
	drepo "TradePulse/internal/domain/repository"
	applogger "TradePulse/pkg/logger"

	"github.com/gorilla/websocket"
)

// StreamConfig holds the WebSocket endpoints and keepalive settings.
type StreamConfig struct {
	SpotWSURL    string
	MixWSURL     string
	PingInterval time.Duration
	QueueSize    int
}

// Stream implements a MarketStream backed by the Bitget trade channel
// for a single (symbol, market) key.
type Stream struct {
	cfg    StreamConfig
	key    models.SymbolKey
	logger *applogger.Logger

	conn      *websocket.Conn
	connected bool
}

// NewStream creates a Bitget MarketStream for one key.
func NewStream(cfg StreamConfig, key models.SymbolKey, logger *applogger.Logger) drepo.MarketStream {
	if cfg.PingInterval <= 0 {
		cfg.PingInterval = 15 * time.Second
	}
	if cfg.QueueSize <= 0 {
		cfg.QueueSize = 1024
	}
	return &Stream{cfg: cfg, key: key, logger: logger}
}

func (s *Stream) wsURL() string {
	if s.key.Market == models.MarketSpot {
		return s.cfg.SpotWSURL
	}
	return s.cfg.MixWSURL
}

func (s *Stream) instType() string {
	if s.key.Market == models.MarketSpot {
		return "SP"
	}
	return "MC"
}

// InstID returns the instrument id expected by the subscribe call.
func InstID(key models.SymbolKey) string {
	switch key.Market {
	case models.MarketSpot:
		return key.Symbol
	case models.MarketUSDTM:
		return key.Symbol + "_UMCBL"
	case models.MarketCoinM:
		return key.Symbol + "_DMCBL"
	case models.MarketUSDCM:
		return key.Symbol + "_CMCBL"
	default:
		return key.Symbol + "_" + strings.ToUpper(string(key.Market))
	}
}

// Connect establishes the WebSocket connection.
func (s *Stream) Connect(ctx context.Context) error {
	conn, _, err := websocket.DefaultDialer.DialContext(ctx, s.wsURL(), nil)
	if err != nil {
		return fmt.Errorf("bitget connect %s: %w", s.key, err)
	}
	s.conn = conn
	s.connected = true
	return nil
}

type subscribeArg struct {
	InstType string `json:"instType"`
	Channel  string `json:"channel"`
	InstID   string `json:"instId"`
}

type subscribeMsg struct {
	Op   string         `json:"op"`
	Args []subscribeArg `json:"args"`
}

// Subscribe sends the trade-channel subscription for the key.
func (s *Stream) Subscribe(ctx context.Context) error {
	if s.conn == nil || !s.connected {
		return fmt.Errorf("bitget %s not connected", s.key)
	}
	msg := subscribeMsg{
		Op: "subscribe",
		Args: []subscribeArg{{
			InstType: s.instType(),
			Channel:  "trade",
			InstID:   InstID(s.key),
		}},
	}
	if err := s.conn.WriteJSON(msg); err != nil {
		return fmt.Errorf("subscribe %s: %w", s.key, err)
	}
	s.logger.Info("bitget subscribed",
		applogger.String("key", s.key.String()),
		applogger.String("inst_id", InstID(s.key)),
	)
	return nil
}

type envelope struct {
	Action string            `json:"action"`
	Data   []json.RawMessage `json:"data"`
}

// ParseEnvelope decodes one raw frame into normalized trades for the
// given key. Non-update frames (subscription acks, pongs) yield a nil
// slice and no error. A malformed entry inside an update frame is
// reported but does not invalidate the remaining entries.
func ParseEnvelope(raw []byte, key models.SymbolKey) ([]*models.Trade, error) {
	var env envelope
	if err := json.Unmarshal(raw, &env); err != nil {
		return nil, fmt.Errorf("decode envelope: %w", err)
	}
	if env.Action != "update" {
		return nil, nil
	}

	trades := make([]*models.Trade, 0, len(env.Data))
	var firstErr error
	for _, entry := range env.Data {
		t, err := parseTradeEntry(entry, key)
		if err != nil {
			if firstErr == nil {
				firstErr = err
			}
			continue
		}
		trades = append(trades, t)
	}
	return trades, firstErr
}

// parseTradeEntry decodes one [ts_ms, price, size, side] tuple. Bitget
// sends numbers as strings; tolerate both.
func parseTradeEntry(raw json.RawMessage, key models.SymbolKey) (*models.Trade, error) {
	var tuple []json.RawMessage
	if err := json.Unmarshal(raw, &tuple); err != nil {
		return nil, fmt.Errorf("trade entry not a tuple: %w", err)
	}
	if len(tuple) < 4 {
		return nil, fmt.Errorf("trade entry has %d fields, want 4", len(tuple))
	}

	tsMs, err := toInt64(tuple[0])
	if err != nil {
		return nil, fmt.Errorf("trade ts: %w", err)
	}
	price, err := toFloat(tuple[1])
	if err != nil {
		return nil, fmt.Errorf("trade price: %w", err)
	}
	size, err := toFloat(tuple[2])
	if err != nil {
		return nil, fmt.Errorf("trade size: %w", err)
	}
	var side string
	if err := json.Unmarshal(tuple[3], &side); err != nil {
		return nil, fmt.Errorf("trade side: %w", err)
	}

	return &models.Trade{
		Symbol: key.Symbol,
		Market: key.Market,
		Price:  price,
		Size:   size,
		Side:   side,
		Ts:     time.UnixMilli(tsMs).UTC(),
	}, nil
}

func toFloat(raw json.RawMessage) (float64, error) {
	var f float64
	if err := json.Unmarshal(raw, &f); err == nil {
		return f, nil
	}
	var s string
	if err := json.Unmarshal(raw, &s); err != nil {
		return 0, fmt.Errorf("neither number nor string: %s", raw)
	}
	return strconv.ParseFloat(s, 64)
}

func toInt64(raw json.RawMessage) (int64, error) {
	f, err := toFloat(raw)
	if err != nil {
		return 0, err
	}
	return int64(f), nil
}

// Read streams normalized trades and terminal read errors. Parse errors
// on single frames are logged and skipped.
func (s *Stream) Read(ctx context.Context) (<-chan *models.Trade, <-chan error) {
	trades := make(chan *models.Trade, s.cfg.QueueSize)
	errs := make(chan error, 1)

	// keepalive loop
	go func() {
		ticker := time.NewTicker(s.cfg.PingInterval)
		defer ticker.Stop()
		for {
			select {
			case <-ctx.Done():
				return
			case <-ticker.C:
				if s.conn != nil {
					_ = s.conn.WriteMessage(websocket.PingMessage, nil)
				}
			}
		}
	}()

	// read loop
	go func() {
		defer close(trades)
		defer close(errs)
		var dropped uint64
		for {
			select {
			case <-ctx.Done():
				return
			default:
			}
			if s.conn == nil {
				errs <- fmt.Errorf("bitget %s: conn nil", s.key)
				return
			}
			_, b, err := s.conn.ReadMessage()
			if err != nil {
				errs <- fmt.Errorf("bitget read %s: %w", s.key, err)
				return
			}
			parsed, perr := ParseEnvelope(b, s.key)
			if perr != nil {
				s.logger.Warn("bitget frame parse error",
					applogger.String("key", s.key.String()),
					applogger.Error(perr),
				)
			}
			for _, t := range parsed {
				select {
				case trades <- t:
				default:
					// queue full; shed the oldest so fresh trades win
					select {
					case <-trades:
					default:
					}
					select {
					case trades <- t:
					default:
					}
					dropped++
					if dropped == 1 || dropped%1000 == 0 {
						s.logger.Warn("trade queue overflow",
							applogger.String("key", s.key.String()),
							applogger.Uint64("dropped", dropped),
						)
					}
				}
			}
		}
	}()

	return trades, errs
}

// Close closes the WebSocket connection.
func (s *Stream) Close() error {
	s.connected = false
	if s.conn != nil {
		return s.conn.Close()
	}
	return nil
}

// IsConnected indicates connection status.
func (s *Stream) IsConnected() bool { return s.connected }
