package health

import (
	"encoding/json"
	"net/http"
	"strings"
	"time"

	"github.com/amois3/matrixwatcher/internal/sensor"
)

// APIQuota is one named external API's usage snapshot (§6).
type APIQuota struct {
	Limit        int           `json:"limit"`
	Used         int           `json:"used"`
	Remaining    int           `json:"remaining"`
	UsagePercent float64       `json:"usagePercent"`
	ResetsIn     time.Duration `json:"resetsIn"`
}

// QuotaProvider supplies the apiQuotas block of the health response.
type QuotaProvider interface {
	Quotas() map[string]APIQuota
}

// CalibrationSummary is the calibration block of the health response (§6).
type CalibrationSummary struct {
	ReadyForCalibration bool       `json:"readyForCalibration"`
	DaysCollecting      float64    `json:"daysCollecting"`
	DaysNeeded          float64    `json:"daysNeeded"`
	AutoApplyEnabled    bool       `json:"autoApplyEnabled"`
	LastCalibration     *time.Time `json:"lastCalibration"`
	TotalCalibrations   int        `json:"totalCalibrations"`
}

// CalibrationProvider supplies the calibration block of the health response.
type CalibrationProvider interface {
	Summary() CalibrationSummary
}

// sensorView is one entry of the sensors map in the health response (§6).
type sensorView struct {
	Status              string  `json:"status"`
	Disabled            bool    `json:"disabled"`
	DisabledReason      string  `json:"disabledReason,omitempty"`
	ConsecutiveFailures int     `json:"consecutiveFailures"`
	TotalSuccesses      int64   `json:"totalSuccesses"`
	TotalFailures       int64   `json:"totalFailures"`
	LastSuccessAgo      float64 `json:"lastSuccessAgo"`
	LastError           string  `json:"lastError,omitempty"`
}

// response is the full §6 GET /health body.
type response struct {
	Status          string                `json:"status"`
	UptimeSeconds   float64               `json:"uptimeSeconds"`
	Sensors         map[string]sensorView `json:"sensors"`
	SensorsHealthy  int                   `json:"sensorsHealthy"`
	SensorsTotal    int                   `json:"sensorsTotal"`
	APIQuotas       map[string]APIQuota   `json:"apiQuotas"`
	Calibration     CalibrationSummary    `json:"calibration"`
	Timestamp       float64               `json:"timestamp"`
}

// Server implements the §6 health HTTP surface: GET /health and
// GET /sensor/{name}.
type Server struct {
	monitor     *sensor.Monitor
	quotas      QuotaProvider
	calibration CalibrationProvider
	startedAt   time.Time
}

// NewServer wires a Server around monitor and its optional quota/
// calibration providers (either may be nil, yielding an empty block).
func NewServer(monitor *sensor.Monitor, quotas QuotaProvider, calibration CalibrationProvider) *Server {
	return &Server{
		monitor:     monitor,
		quotas:      quotas,
		calibration: calibration,
		startedAt:   time.Now(),
	}
}

// Handler returns an http.Handler serving /health and /sensor/{name}.
func (s *Server) Handler() http.Handler {
	mux := http.NewServeMux()
	mux.HandleFunc("/health", s.handleHealth)
	mux.HandleFunc("/sensor/", s.handleSensor)
	return mux
}

func (s *Server) snapshot() response {
	states := s.monitor.Snapshot()
	sensors := make(map[string]sensorView, len(states))
	healthy := 0
	for name, st := range states {
		v := toView(st)
		sensors[name] = v
		if v.Status == "healthy" {
			healthy++
		}
	}

	quotas := map[string]APIQuota{}
	if s.quotas != nil {
		quotas = s.quotas.Quotas()
	}
	calib := CalibrationSummary{}
	if s.calibration != nil {
		calib = s.calibration.Summary()
	}

	status := "healthy"
	if healthy < len(sensors) {
		status = "degraded"
	}

	return response{
		Status:         status,
		UptimeSeconds:  time.Since(s.startedAt).Seconds(),
		Sensors:        sensors,
		SensorsHealthy: healthy,
		SensorsTotal:   len(sensors),
		APIQuotas:      quotas,
		Calibration:    calib,
		Timestamp:      float64(time.Now().UnixNano()) / 1e9,
	}
}

func toView(st sensor.HealthState) sensorView {
	status := "healthy"
	if st.Disabled {
		status = "disabled"
	} else if st.ConsecutiveFailures > 0 {
		status = "degraded"
	}
	var lastSuccessAgo float64
	if !st.LastSuccess.IsZero() {
		lastSuccessAgo = time.Since(st.LastSuccess).Seconds()
	}
	return sensorView{
		Status:              status,
		Disabled:            st.Disabled,
		DisabledReason:      st.DisabledReason,
		ConsecutiveFailures: st.ConsecutiveFailures,
		TotalSuccesses:      st.TotalSuccesses,
		TotalFailures:       st.TotalFailures,
		LastSuccessAgo:      lastSuccessAgo,
		LastError:           st.LastError,
	}
}

func (s *Server) handleHealth(w http.ResponseWriter, r *http.Request) {
	w.Header().Set("Content-Type", "application/json")
	_ = json.NewEncoder(w).Encode(s.snapshot())
}

func (s *Server) handleSensor(w http.ResponseWriter, r *http.Request) {
	name := strings.TrimPrefix(r.URL.Path, "/sensor/")
	if name == "" {
		http.NotFound(w, r)
		return
	}
	state := s.monitor.State(name)
	w.Header().Set("Content-Type", "application/json")
	_ = json.NewEncoder(w).Encode(toView(state))
}
