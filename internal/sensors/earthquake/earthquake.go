// Package earthquake implements a sample source polling the USGS GeoJSON
// feed for recent seismic activity, grounded on
// original_source/src/sensors/earthquake_sensor.py (same API endpoint,
// strongest-quake-first aggregation, lat/lon of the strongest event).
package earthquake

import (
	"context"
	"encoding/json"
	"fmt"
	"math"
	"net/http"
	"sort"
	"time"

	"github.com/amois3/matrixwatcher/internal/sensor"
)

const usgsFeedURL = "https://earthquake.usgs.gov/earthquakes/feed/v1.0/summary/all_hour.geojson"

type geoJSON struct {
	Features []feature `json:"features"`
}

type feature struct {
	Properties properties `json:"properties"`
	Geometry   geometry   `json:"geometry"`
}

type properties struct {
	Mag     *float64 `json:"mag"`
	Place   string   `json:"place"`
	TimeMs  int64    `json:"time"`
	Tsunami int      `json:"tsunami"`
}

type geometry struct {
	Coordinates []float64 `json:"coordinates"` // [lon, lat, depth_km]
}

// Source is the C3 contract implementation over the USGS feed.
type Source struct {
	cfg          sensor.Config
	client       *http.Client
	minMagnitude float64
}

// New constructs an earthquake Source; minMagnitude filters the raw feed
// before aggregation (the original's default is 4.5).
func New(cfg sensor.Config, minMagnitude float64) *Source {
	if minMagnitude <= 0 {
		minMagnitude = 4.5
	}
	return &Source{cfg: cfg, client: &http.Client{Timeout: cfg.Timeout}, minMagnitude: minMagnitude}
}

func (s *Source) Name() string          { return "earthquake" }
func (s *Source) Config() sensor.Config { return s.cfg }

func (s *Source) Schema() map[string]sensor.FieldType {
	return map[string]sensor.FieldType{
		"count":                  sensor.FieldNumber,
		"max_magnitude":          sensor.FieldNumber,
		"avg_magnitude":          sensor.FieldNumber,
		"latitude":               sensor.FieldNumber,
		"longitude":              sensor.FieldNumber,
		"shallow_count":          sensor.FieldNumber,
		"has_tsunami_risk":       sensor.FieldBool,
		"total_energy_released":  sensor.FieldNumber,
	}
}

func (s *Source) Collect(ctx context.Context) (sensor.Reading, error) {
	req, err := http.NewRequestWithContext(ctx, http.MethodGet, usgsFeedURL, nil)
	if err != nil {
		return sensor.Reading{}, &sensor.PermanentError{Err: err}
	}
	resp, err := s.client.Do(req)
	if err != nil {
		return sensor.Reading{}, &sensor.TransientError{Err: err}
	}
	defer resp.Body.Close()
	if resp.StatusCode != http.StatusOK {
		return sensor.Reading{}, &sensor.TransientError{Err: fmt.Errorf("earthquake: usgs returned status %d", resp.StatusCode)}
	}

	var feed geoJSON
	if err := json.NewDecoder(resp.Body).Decode(&feed); err != nil {
		return sensor.Reading{}, &sensor.TransientError{Err: fmt.Errorf("earthquake: decode feed: %w", err)}
	}

	type quake struct {
		magnitude float64
		lat, lon  float64
		depthKm   float64
		tsunami   bool
	}
	var quakes []quake
	for _, f := range feed.Features {
		if f.Properties.Mag == nil || *f.Properties.Mag < s.minMagnitude {
			continue
		}
		q := quake{magnitude: *f.Properties.Mag, tsunami: f.Properties.Tsunami == 1}
		if len(f.Geometry.Coordinates) > 0 {
			q.lon = f.Geometry.Coordinates[0]
		}
		if len(f.Geometry.Coordinates) > 1 {
			q.lat = f.Geometry.Coordinates[1]
		}
		if len(f.Geometry.Coordinates) > 2 {
			q.depthKm = f.Geometry.Coordinates[2]
		}
		quakes = append(quakes, q)
	}
	sort.Slice(quakes, func(i, j int) bool { return quakes[i].magnitude > quakes[j].magnitude })

	data := map[string]any{
		"count":                 len(quakes),
		"max_magnitude":         0.0,
		"avg_magnitude":         0.0,
		"shallow_count":         0,
		"has_tsunami_risk":      false,
		"total_energy_released": 0.0,
	}
	if len(quakes) > 0 {
		var sum, energy float64
		shallow := 0
		tsunamiRisk := false
		for _, q := range quakes {
			sum += q.magnitude
			energy += richterEnergy(q.magnitude)
			if q.depthKm > 0 && q.depthKm < 70 {
				shallow++
			}
			if q.tsunami {
				tsunamiRisk = true
			}
		}
		data["max_magnitude"] = quakes[0].magnitude
		data["avg_magnitude"] = sum / float64(len(quakes))
		data["latitude"] = quakes[0].lat
		data["longitude"] = quakes[0].lon
		data["shallow_count"] = shallow
		data["has_tsunami_risk"] = tsunamiRisk
		data["total_energy_released"] = energy
	}

	return sensor.Reading{
		Timestamp: float64(time.Now().UnixNano()) / 1e9,
		Source:    s.Name(),
		Data:      data,
	}, nil
}

// richterEnergy mirrors the original's 10^(1.5*mag) relative-energy proxy.
func richterEnergy(magnitude float64) float64 {
	return math.Pow(10, 1.5*magnitude)
}
