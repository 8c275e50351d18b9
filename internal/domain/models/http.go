package models

// TradesRequest is the query contract for GET /trades.
type TradesRequest struct {
	Symbol string `query:"symbol" validate:"required"`
	Market string `query:"market" default:"spot"`
	Start  string `query:"start"`
	End    string `query:"end"`
	Limit  int    `query:"limit" default:"100" validate:"gte=1,lte=5000"`
}

// OHLCRequest is the query contract for GET /ohlc.
type OHLCRequest struct {
	Symbol     string `query:"symbol" validate:"required"`
	Market     string `query:"market" default:"spot"`
	Resolution string `query:"resolution" default:"1m"`
	Start      string `query:"start"`
	End        string `query:"end"`
	Limit      int    `query:"limit" default:"200" validate:"gte=1,lte=5000"`
}

// PublishTradeRequest is the body contract for POST /publish, the
// out-of-band trade insert path.
type PublishTradeRequest struct {
	Symbol string  `json:"symbol" validate:"required"`
	Market string  `json:"market" default:"spot"`
	Price  float64 `json:"price" validate:"required,gt=0"`
	Size   float64 `json:"size" validate:"required,gt=0"`
	Side   string  `json:"side"`
	Ts     string  `json:"ts"`
}

// BackfillRequest is the body contract for POST /backfill.
type BackfillRequest struct {
	Symbol      string `json:"symbol" validate:"required"`
	Market      string `json:"market" default:"spot"`
	Until       string `json:"until" validate:"required"`
	Granularity string `json:"granularity" default:"1m"`
	Limit       int    `json:"limit" default:"200" validate:"gte=1,lte=1000"`
}

// CoinSettingRequest is one element of the PUT /settings body.
type CoinSettingRequest struct {
	Symbol          string `json:"symbol" validate:"required"`
	Market          string `json:"market" default:"spot"`
	StoreLive       bool   `json:"store_live"`
	LoadHistory     bool   `json:"load_history"`
	HistoryUntil    string `json:"history_until"`
	Favorite        bool   `json:"favorite"`
	DBResolution    int    `json:"db_resolution" default:"1"`
	ChartResolution string `json:"chart_resolution" default:"1s"`
}

// WhalesRequest is the query contract for GET /whales.
type WhalesRequest struct {
	Symbol string `query:"symbol"`
	Limit  int    `query:"limit" default:"100" validate:"gte=1,lte=1000"`
}
