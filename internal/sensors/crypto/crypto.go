// Package crypto implements a sample source polling Binance's public REST
// ticker for spot price and 24h change, grounded on
// original_source/src/sensors/crypto_sensor.py's pair list and rate-limit
// back-off, re-expressed as a sensor.Source (C3).
package crypto

import (
	"context"
	"encoding/json"
	"fmt"
	"net/http"
	"time"

	"github.com/amois3/matrixwatcher/internal/sensor"
)

const binanceTickerURL = "https://api.binance.com/api/v3/ticker/24hr?symbol=%s"

var defaultPairs = []string{"BTCUSDT", "ETHUSDT"}

type tickerResponse struct {
	Symbol             string `json:"symbol"`
	LastPrice          string `json:"lastPrice"`
	PriceChangePercent string `json:"priceChangePercent"`
	Volume             string `json:"volume"`
}

// Source polls Binance for each configured pair and flattens the result
// into "{pair}.price" / "{pair}.price_change_24h_percent" /
// "{pair}.volume_24h" fields, matching the field names the threshold rules
// (internal/detector.DefaultRules) and the pattern catalog
// (internal/pattern.defaultCatalog) already expect.
type Source struct {
	cfg    sensor.Config
	pairs  []string
	client *http.Client

	backoffUntil time.Time
}

// New constructs a crypto Source with cfg, used as given, and pairs
// (defaultPairs if empty).
func New(cfg sensor.Config, pairs []string) *Source {
	if len(pairs) == 0 {
		pairs = defaultPairs
	}
	return &Source{cfg: cfg, pairs: pairs, client: &http.Client{Timeout: cfg.Timeout}}
}

func (s *Source) Name() string { return "crypto" }

func (s *Source) Config() sensor.Config { return s.cfg }

func (s *Source) Schema() map[string]sensor.FieldType {
	schema := map[string]sensor.FieldType{}
	for _, p := range s.pairs {
		key := pairKey(p)
		schema[key+".price"] = sensor.FieldNumber
		schema[key+".price_change_24h_percent"] = sensor.FieldNumber
		schema[key+".volume_24h"] = sensor.FieldNumber
	}
	return schema
}

func pairKey(pair string) string {
	out := make([]byte, 0, len(pair))
	for i := 0; i < len(pair); i++ {
		c := pair[i]
		if c >= 'A' && c <= 'Z' {
			c = c - 'A' + 'a'
		}
		out = append(out, c)
	}
	return string(out)
}

// Collect fetches every configured pair. A single pair's failure does not
// abort the others, mirroring C4's "one bad field does not stop evaluation
// of the rest" tolerance one layer up; if every pair fails the whole
// collection is a TransientError.
func (s *Source) Collect(ctx context.Context) (sensor.Reading, error) {
	if !s.backoffUntil.IsZero() && time.Now().Before(s.backoffUntil) {
		return sensor.Reading{}, &sensor.RateLimitedError{RetryAfter: time.Until(s.backoffUntil)}
	}

	data := map[string]any{}
	var lastErr error
	ok := 0
	for _, pair := range s.pairs {
		t, err := s.fetchOne(ctx, pair)
		if err != nil {
			lastErr = err
			continue
		}
		key := pairKey(pair)
		data[key+".price"] = t.price
		data[key+".price_change_24h_percent"] = t.changePercent
		data[key+".volume_24h"] = t.volume
		ok++
	}
	if ok == 0 {
		return sensor.Reading{}, &sensor.TransientError{Err: lastErr}
	}
	return sensor.Reading{
		Timestamp: float64(time.Now().UnixNano()) / 1e9,
		Source:    s.Name(),
		Data:      data,
	}, nil
}

type ticker struct {
	price         float64
	changePercent float64
	volume        float64
}

func (s *Source) fetchOne(ctx context.Context, pair string) (ticker, error) {
	url := fmt.Sprintf(binanceTickerURL, pair)
	req, err := http.NewRequestWithContext(ctx, http.MethodGet, url, nil)
	if err != nil {
		return ticker{}, err
	}
	resp, err := s.client.Do(req)
	if err != nil {
		return ticker{}, err
	}
	defer resp.Body.Close()

	if resp.StatusCode == http.StatusTooManyRequests {
		s.backoffUntil = time.Now().Add(30 * time.Second)
		return ticker{}, &sensor.RateLimitedError{RetryAfter: 30 * time.Second}
	}
	if resp.StatusCode != http.StatusOK {
		return ticker{}, fmt.Errorf("crypto: binance returned status %d for %s", resp.StatusCode, pair)
	}

	var t tickerResponse
	if err := json.NewDecoder(resp.Body).Decode(&t); err != nil {
		return ticker{}, fmt.Errorf("crypto: decode %s response: %w", pair, err)
	}

	price, err := parseFloat(t.LastPrice)
	if err != nil {
		return ticker{}, fmt.Errorf("crypto: parse price for %s: %w", pair, err)
	}
	change, err := parseFloat(t.PriceChangePercent)
	if err != nil {
		return ticker{}, fmt.Errorf("crypto: parse change percent for %s: %w", pair, err)
	}
	volume, err := parseFloat(t.Volume)
	if err != nil {
		return ticker{}, fmt.Errorf("crypto: parse volume for %s: %w", pair, err)
	}
	return ticker{price: price, changePercent: change, volume: volume}, nil
}

func parseFloat(s string) (float64, error) {
	var f float64
	_, err := fmt.Sscanf(s, "%g", &f)
	return f, err
}
