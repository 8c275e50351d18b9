package bitget

import (
	"testing"

	"TradePulse/internal/domain/models"
)

var testKey = models.SymbolKey{Symbol: "BTCUSDT", Market: models.MarketSpot}

func TestParseEnvelopeUpdate(t *testing.T) {
	raw := []byte(`{"action":"update","data":[["1700000000000","42000.5","0.25","buy"],["1700000000100","42001","0.1","sell"]]}`)
	trades, err := ParseEnvelope(raw, testKey)
	if err != nil {
		t.Fatalf("parse: %v", err)
	}
	if len(trades) != 2 {
		t.Fatalf("expected 2 trades, got %d", len(trades))
	}
	first := trades[0]
	if first.Symbol != "BTCUSDT" || first.Market != models.MarketSpot {
		t.Fatalf("key not propagated: %+v", first)
	}
	if first.Price != 42000.5 || first.Size != 0.25 || first.Side != "buy" {
		t.Fatalf("unexpected trade fields: %+v", first)
	}
	if first.Ts.UnixMilli() != 1700000000000 {
		t.Fatalf("unexpected ts %v", first.Ts)
	}
}

func TestParseEnvelopeNumericFields(t *testing.T) {
	raw := []byte(`{"action":"update","data":[[1700000000000,42000.5,0.25,"sell"]]}`)
	trades, err := ParseEnvelope(raw, testKey)
	if err != nil {
		t.Fatalf("parse: %v", err)
	}
	if len(trades) != 1 || trades[0].Side != "sell" {
		t.Fatalf("unexpected result: %+v", trades)
	}
}

func TestParseEnvelopeSkipsNonUpdate(t *testing.T) {
	for _, raw := range []string{
		`{"event":"subscribe","arg":{"channel":"trade"}}`,
		`{"action":"snapshot","data":[["1700000000000","1","1","buy"]]}`,
	} {
		trades, err := ParseEnvelope([]byte(raw), testKey)
		if err != nil {
			t.Fatalf("parse %q: %v", raw, err)
		}
		if trades != nil {
			t.Fatalf("expected nil trades for %q, got %v", raw, trades)
		}
	}
}

func TestParseEnvelopeMalformedEntryKeepsRest(t *testing.T) {
	raw := []byte(`{"action":"update","data":[["1700000000000","1.0","2.0","buy"],["bad"],["1700000000200","3.0","4.0","sell"]]}`)
	trades, err := ParseEnvelope(raw, testKey)
	if err == nil {
		t.Fatalf("expected parse error for malformed entry")
	}
	if len(trades) != 2 {
		t.Fatalf("expected 2 surviving trades, got %d", len(trades))
	}
	if trades[0].Side != "buy" || trades[1].Side != "sell" {
		t.Fatalf("order not preserved: %+v", trades)
	}
}

func TestParseEnvelopeGarbage(t *testing.T) {
	if _, err := ParseEnvelope([]byte("not json"), testKey); err == nil {
		t.Fatalf("expected decode error")
	}
}

func TestInstID(t *testing.T) {
	cases := []struct {
		market models.Market
		want   string
	}{
		{models.MarketSpot, "BTCUSDT"},
		{models.MarketUSDTM, "BTCUSDT_UMCBL"},
		{models.MarketCoinM, "BTCUSDT_DMCBL"},
		{models.MarketUSDCM, "BTCUSDT_CMCBL"},
	}
	for _, c := range cases {
		got := InstID(models.SymbolKey{Symbol: "BTCUSDT", Market: c.market})
		if got != c.want {
			t.Fatalf("market %s: got %s want %s", c.market, got, c.want)
		}
	}
}
