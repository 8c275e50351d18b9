package models

import "time"

// PushMessage is one flat frame delivered to WebSocket subscribers.
// All fields live at the top level so clients never unwrap a nested
// "data" envelope.
type PushMessage map[string]interface{}

func baseFrame(kind string) PushMessage {
	now := time.Now().UTC()
	return PushMessage{
		"type":        kind,
		"timestamp":   now.Format(time.RFC3339Nano),
		"server_time": now.UnixMilli(),
	}
}

// TradeFrame builds the push frame for a live trade.
func TradeFrame(t *Trade) PushMessage {
	m := baseFrame("trade")
	m["symbol"] = t.Symbol
	m["market"] = string(t.Market)
	m["price"] = t.Price
	m["size"] = t.Size
	m["side"] = t.Side
	m["ts"] = t.Ts.UTC().Format(time.RFC3339Nano)
	return m
}

// CandleFrame builds the push frame for a derived candle.
func CandleFrame(b *Bar) PushMessage {
	m := baseFrame("candle")
	m["symbol"] = b.Symbol
	m["market"] = string(b.Market)
	m["open"] = b.Open
	m["high"] = b.High
	m["low"] = b.Low
	m["close"] = b.Close
	m["volume"] = b.Volume
	m["ts"] = b.Ts.UTC().Format(time.RFC3339Nano)
	return m
}

// ConnectionFrame is sent once right after a subscriber connects.
func ConnectionFrame(key SymbolKey) PushMessage {
	m := baseFrame("connection")
	m["status"] = "connected"
	m["symbol"] = key.Symbol
	m["market"] = string(key.Market)
	return m
}

// PingFrame is the server-initiated keepalive frame.
func PingFrame() PushMessage { return baseFrame("ping") }

// PongFrame answers a client ping.
func PongFrame() PushMessage { return baseFrame("pong") }
