// Package spaceweather implements a sample source polling NOAA SWPC's
// public JSON feeds for geomagnetic Kp index and solar wind speed,
// grounded on original_source/src/sensors/space_weather_sensor.py (same
// NOAA base URL, same Kp/solar-wind fields), re-keyed to "kp_index" /
// "solar_wind_speed" to match the field names C8's solarStormCheck (§4.8)
// and the detector's default rules already use.
package spaceweather

import (
	"context"
	"encoding/json"
	"fmt"
	"net/http"
	"strconv"
	"time"

	"github.com/amois3/matrixwatcher/internal/sensor"
)

const (
	kpIndexURL   = "https://services.swpc.noaa.gov/products/noaa-planetary-k-index.json"
	solarWindURL = "https://services.swpc.noaa.gov/products/summary/solar-wind-speed.json"
)

type Source struct {
	cfg    sensor.Config
	client *http.Client
}

func New(cfg sensor.Config) *Source {
	return &Source{cfg: cfg, client: &http.Client{Timeout: cfg.Timeout}}
}

func (s *Source) Name() string          { return "space_weather" }
func (s *Source) Config() sensor.Config { return s.cfg }

func (s *Source) Schema() map[string]sensor.FieldType {
	return map[string]sensor.FieldType{
		"kp_index":          sensor.FieldNumber,
		"solar_wind_speed":  sensor.FieldNumber,
		"geomagnetic_storm": sensor.FieldBool,
	}
}

func (s *Source) Collect(ctx context.Context) (sensor.Reading, error) {
	kp, kpErr := s.fetchKpIndex(ctx)
	speed, speedErr := s.fetchSolarWindSpeed(ctx)
	if kpErr != nil && speedErr != nil {
		return sensor.Reading{}, &sensor.TransientError{Err: fmt.Errorf("space_weather: kp=%v wind=%v", kpErr, speedErr)}
	}

	return sensor.Reading{
		Timestamp: float64(time.Now().UnixNano()) / 1e9,
		Source:    s.Name(),
		Data: map[string]any{
			"kp_index":          kp,
			"solar_wind_speed":  speed,
			"geomagnetic_storm": kp >= 5,
		},
	}, nil
}

// fetchKpIndex parses NOAA's planetary-k-index feed: a JSON array whose
// first row is a header and whose remaining rows are
// [time_tag, kp_index, estimated_kp, kp_label] string tuples. The most
// recent row is last.
func (s *Source) fetchKpIndex(ctx context.Context) (float64, error) {
	var rows [][]string
	if err := s.getJSON(ctx, kpIndexURL, &rows); err != nil {
		return 0, err
	}
	if len(rows) < 2 {
		return 0, fmt.Errorf("space_weather: empty kp-index feed")
	}
	last := rows[len(rows)-1]
	if len(last) < 2 {
		return 0, fmt.Errorf("space_weather: malformed kp-index row")
	}
	v, err := strconv.ParseFloat(last[1], 64)
	if err != nil {
		return 0, fmt.Errorf("space_weather: parse kp index: %w", err)
	}
	return v, nil
}

type solarWindSummary struct {
	WindSpeed float64 `json:"WindSpeed"`
}

func (s *Source) fetchSolarWindSpeed(ctx context.Context) (float64, error) {
	var summary solarWindSummary
	if err := s.getJSON(ctx, solarWindURL, &summary); err != nil {
		return 0, err
	}
	return summary.WindSpeed, nil
}

func (s *Source) getJSON(ctx context.Context, url string, dest any) error {
	req, err := http.NewRequestWithContext(ctx, http.MethodGet, url, nil)
	if err != nil {
		return err
	}
	resp, err := s.client.Do(req)
	if err != nil {
		return err
	}
	defer resp.Body.Close()
	if resp.StatusCode != http.StatusOK {
		return fmt.Errorf("noaa returned status %d for %s", resp.StatusCode, url)
	}
	return json.NewDecoder(resp.Body).Decode(dest)
}
