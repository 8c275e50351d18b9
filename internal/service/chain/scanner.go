package chain

import (
	"context"
	"encoding/json"
	"fmt"
	"io"
	"math"
	"strconv"
	"strings"
	"time"

	"TradePulse/internal/domain/models"
	xhttp "TradePulse/pkg/http"
)

// Scanner reads large token transfers from an etherscan-compatible
// account API.
type Scanner struct {
	baseURL string
	apiKey  string
	client  *xhttp.Client
}

func NewScanner(baseURL, apiKey string, timeout time.Duration) *Scanner {
	return &Scanner{
		baseURL: strings.TrimRight(baseURL, "/"),
		apiKey:  apiKey,
		client:  xhttp.NewClient(xhttp.WithTimeout(timeout)),
	}
}

type scanResponse struct {
	Status string        `json:"status"`
	Result []scanRowJSON `json:"result"`
}

type scanRowJSON struct {
	Hash         string `json:"hash"`
	TimeStamp    string `json:"timeStamp"`
	From         string `json:"from"`
	To           string `json:"to"`
	ContractAddr string `json:"contractAddress"`
	TokenSymbol  string `json:"tokenSymbol"`
	Value        string `json:"value"`
	TokenDecimal string `json:"tokenDecimal"`
}

// FetchTransfers returns transfers with a token amount of at least
// minAmount. Rows that fail to parse are skipped.
func (s *Scanner) FetchTransfers(ctx context.Context, chainName string, minAmount float64) ([]*models.WhaleEvent, error) {
	resp, err := s.client.SendRequest(ctx, &xhttp.RequestOptions{
		Method: xhttp.MethodGet,
		URL:    s.baseURL,
		QueryParams: map[string][]string{
			"module": {"account"},
			"action": {"tokentx"},
			"chain":  {chainName},
			"sort":   {"desc"},
			"apikey": {s.apiKey},
		},
	})
	if err != nil {
		return nil, fmt.Errorf("chain scan %s: %w", chainName, err)
	}
	defer resp.Body.Close()

	if resp.StatusCode < 200 || resp.StatusCode >= 300 {
		body, _ := io.ReadAll(resp.Body)
		return nil, fmt.Errorf("chain scan %s: status %d: %s", chainName, resp.StatusCode, body)
	}

	var sr scanResponse
	if err := json.NewDecoder(resp.Body).Decode(&sr); err != nil {
		return nil, fmt.Errorf("chain scan decode: %w", err)
	}

	events := make([]*models.WhaleEvent, 0, len(sr.Result))
	for _, row := range sr.Result {
		e, ok := row.toEvent(chainName)
		if !ok || e.Amount < minAmount {
			continue
		}
		events = append(events, e)
	}
	return events, nil
}

func (r scanRowJSON) toEvent(chainName string) (*models.WhaleEvent, bool) {
	raw, err := strconv.ParseFloat(r.Value, 64)
	if err != nil {
		return nil, false
	}
	decimals, err := strconv.Atoi(r.TokenDecimal)
	if err != nil || decimals < 0 || decimals > 36 {
		decimals = 18
	}
	unix, err := strconv.ParseInt(r.TimeStamp, 10, 64)
	if err != nil {
		return nil, false
	}
	return &models.WhaleEvent{
		Ts:       time.Unix(unix, 0).UTC(),
		Chain:    chainName,
		TxHash:   r.Hash,
		FromAddr: r.From,
		ToAddr:   r.To,
		Token:    r.ContractAddr,
		Symbol:   r.TokenSymbol,
		Amount:   raw / math.Pow10(decimals),
	}, true
}
