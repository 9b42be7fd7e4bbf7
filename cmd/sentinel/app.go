package main

import (
	"context"
	"log/slog"
	"path/filepath"
	"sort"
	"sync"
	"time"

	"github.com/amois3/matrixwatcher/internal/anomalyindex"
	"github.com/amois3/matrixwatcher/internal/bus"
	"github.com/amois3/matrixwatcher/internal/calibration"
	"github.com/amois3/matrixwatcher/internal/cluster"
	"github.com/amois3/matrixwatcher/internal/config"
	"github.com/amois3/matrixwatcher/internal/detector"
	"github.com/amois3/matrixwatcher/internal/health"
	"github.com/amois3/matrixwatcher/internal/model"
	"github.com/amois3/matrixwatcher/internal/pattern"
	"github.com/amois3/matrixwatcher/internal/scheduler"
	"github.com/amois3/matrixwatcher/internal/sensor"
	"github.com/amois3/matrixwatcher/internal/sensors/blockchain"
	"github.com/amois3/matrixwatcher/internal/sensors/crypto"
	"github.com/amois3/matrixwatcher/internal/sensors/earthquake"
	"github.com/amois3/matrixwatcher/internal/sensors/news"
	"github.com/amois3/matrixwatcher/internal/sensors/quantumrng"
	"github.com/amois3/matrixwatcher/internal/sensors/spaceweather"
	"github.com/amois3/matrixwatcher/internal/sensors/system"
	"github.com/amois3/matrixwatcher/internal/store"
	"github.com/amois3/matrixwatcher/internal/store/sqlexport"
	"github.com/amois3/matrixwatcher/internal/telemetry/metrics"
)

// app is the composition root: every C1-C9 component plus the concrete
// sample sources and the §6 external surfaces, built once from a loaded
// config.Config.
type app struct {
	cfgMgr   *config.Manager
	logger   *slog.Logger
	provider metrics.Provider

	bus         *bus.Bus
	scheduler   *scheduler.Scheduler
	monitor     *sensor.Monitor
	healthStore *health.Store

	detector   *detector.Detector
	calTracker *calibration.Tracker
	calibrator *calibration.Calibrator
	clusterDet *cluster.Detector
	index      *anomalyindex.Calculator
	patterns   *pattern.Tracker
	recordsDB  *store.Store

	healthSrv *health.Server
	quotas    *apiQuotaTracker
	sqlExport *sqlexport.Exporter

	dataDir        string
	predictionPath string
	patternDir     string
	calibrationDir string
}

type namedSource struct {
	sensor.Source
	priority scheduler.Priority
}

// buildApp loads config, opens every persisted-state backing store, and
// constructs the full C1-C9 pipeline plus the §6 external surfaces.
func buildApp(cfgPath, dataDir string, logger *slog.Logger) (*app, error) {
	mgr, errs := config.NewManager(cfgPath)
	for _, e := range errs {
		logger.Warn("config load issue", "error", e)
	}
	cfg := mgr.Current()

	provider := metrics.NewNoopProvider()

	a := &app{
		cfgMgr:         mgr,
		logger:         logger,
		provider:       provider,
		dataDir:        dataDir,
		predictionPath: filepath.Join(dataDir, "predictions", "current.json"),
		patternDir:     filepath.Join(dataDir, "patterns"),
		calibrationDir: filepath.Join(dataDir, "calibration"),
	}

	a.bus = bus.New(provider, 0)
	a.scheduler = scheduler.New(provider, scheduler.WithLogger(logger))

	a.quotas = newAPIQuotaTracker(cfg.APIKeys)
	a.monitor = sensor.NewMonitor(3, func(source, reason string) {
		logger.Warn("sensor disabled", "source", source, "reason", reason)
	})

	healthStore, err := health.OpenStore(filepath.Join(dataDir, "health"))
	if err != nil {
		return nil, err
	}
	a.healthStore = healthStore
	if restored, err := healthStore.LoadAll(); err == nil {
		a.monitor.Restore(restored)
	}

	calTracker, err := calibration.NewTracker(a.calibrationDir)
	if err != nil {
		return nil, err
	}
	a.calTracker = calTracker
	a.calibrator = calibration.NewCalibrator(calTracker, a.calibrationDir, calibration.WithAutoApply(false))

	a.detector = detector.New(detector.DefaultRules(), a.bus, calTracker, logger)
	if calibrated := calibration.LoadCalibratedThresholds(a.calibrationDir); len(calibrated) > 0 {
		a.detector.ApplyCalibratedThresholds(calibrated)
	}

	a.clusterDet = cluster.New(cfg.Analysis.ClusterWindowSeconds)
	a.index = anomalyindex.New()

	a.patterns = pattern.NewTracker()
	if err := a.patterns.Load(a.patternDir, model.Now()); err != nil {
		logger.Warn("pattern state load issue", "error", err)
	}

	storeCfg := store.DefaultConfig(cfg.Storage.BasePath)
	storeCfg.Compression = cfg.Storage.Compression
	storeCfg.MaxFileSize = cfg.Storage.MaxFileSizeMb * 1024 * 1024
	storeCfg.BufferSize = cfg.Storage.BufferSize
	a.recordsDB = store.New(storeCfg)

	if cfg.Storage.SQLExportDSN != "" {
		exporter, err := sqlexport.Open(cfg.Storage.SQLExportDSN)
		if err != nil {
			logger.Warn("sql export disabled", "error", err)
		} else {
			a.sqlExport = exporter
		}
	}

	a.healthSrv = health.NewServer(a.monitor, a.quotas, calibrationAdapter{a.calibrator})

	a.registerSources(cfg)
	a.wireBus()

	return a, nil
}

// registerSources builds every concrete sample source named in SPEC_FULL §4
// and registers a SafeCollect-wrapped scheduler task for each, honoring
// per-sensor enabled/interval/priority overrides from config.
func (a *app) registerSources(cfg config.Config) {
	sources := []namedSource{
		{crypto.New(a.sourceConfig(cfg, "crypto"), []string{"btcusdt", "ethusdt"}), schedPriority(cfg, "crypto")},
		{earthquake.New(a.sourceConfig(cfg, "earthquake"), 4.5), schedPriority(cfg, "earthquake")},
		{spaceweather.New(a.sourceConfig(cfg, "space_weather")), schedPriority(cfg, "space_weather")},
		{quantumrng.New(a.sourceConfig(cfg, "quantum_rng")), schedPriority(cfg, "quantum_rng")},
		{blockchain.New(a.sourceConfig(cfg, "blockchain"), []blockchain.Network{
			{Name: "ethereum", RPCURL: "https://eth.llamarpc.com", ExpectedBlockTime: 12},
		}), schedPriority(cfg, "blockchain")},
		{news.New(a.sourceConfig(cfg, "news"), nil), schedPriority(cfg, "news")},
		{system.New(a.sourceConfig(cfg, "system")), schedPriority(cfg, "system")},
	}

	for _, ns := range sources {
		src := ns.Source
		if !src.Config().Enabled {
			continue
		}
		a.monitor.Enable(src.Name())
		a.scheduler.Register(src.Name(), func(ctx context.Context) error {
			err := sensor.SafeCollect(ctx, src, a.bus, a.monitor, a.logger)
			a.quotas.recordCall(src.Name())
			return err
		}, src.Config().Interval, ns.priority)
	}
}

func (a *app) sourceConfig(cfg config.Config, name string) sensor.Config {
	base := sensor.DefaultConfig()
	sc, ok := cfg.Sensors[name]
	if !ok {
		return base
	}
	base.Enabled = sc.Enabled
	if sc.IntervalSec > 0 {
		base.Interval = time.Duration(sc.IntervalSec * float64(time.Second))
	}
	base.CustomParams = sc.CustomParams
	switch sc.Priority {
	case "high":
		base.Priority = sensor.PriorityHigh
	case "low":
		base.Priority = sensor.PriorityLow
	default:
		base.Priority = sensor.PriorityMedium
	}
	return base
}

func schedPriority(cfg config.Config, name string) scheduler.Priority {
	sc, ok := cfg.Sensors[name]
	if !ok {
		return scheduler.PriorityMedium
	}
	switch sc.Priority {
	case "high":
		return scheduler.PriorityHigh
	case "low":
		return scheduler.PriorityLow
	default:
		return scheduler.PriorityMedium
	}
}

// wireBus connects C1's fan-out to C4 (threshold detection), mirrors every
// DATA event into the JSONL store, and drives C6/C7/C8 from the ANOMALY
// stream C4 produces (§3 dataflow).
func (a *app) wireBus() {
	a.bus.Subscribe(func(ev model.Event) {
		a.detector.HandleEvent(ev)
	}, &bus.Filter{EventTypes: []model.EventType{model.EventTypeData}})

	a.bus.Subscribe(func(ev model.Event) {
		record := store.Record{
			"timestamp": ev.Timestamp,
			"source":    ev.Source,
			"data":      ev.Payload,
		}
		if err := a.recordsDB.Write(ev.Source, record); err != nil {
			a.logger.Warn("store write failed", "source", ev.Source, "error", err)
		}
		if a.sqlExport != nil {
			if err := a.sqlExport.Mirror(record); err != nil {
				a.logger.Warn("sql export mirror failed", "source", ev.Source, "error", err)
			}
		}
		a.patterns.CheckEvents(pattern.Reading{
			Timestamp: ev.Timestamp,
			Source:    ev.Source,
			Data:      ev.Payload,
		})
	}, &bus.Filter{EventTypes: []model.EventType{model.EventTypeData}})

	a.bus.Subscribe(func(ev model.Event) {
		anomaly, ok := ev.Metadata["anomaly"].(model.AnomalyEvent)
		if !ok {
			return
		}
		a.handleAnomaly(anomaly)
	}, &bus.Filter{EventTypes: []model.EventType{model.EventTypeAnomaly}})
}

// handleAnomaly feeds one ANOMALY event into C6 and C7, and, on any cluster
// of level >= 2, records the condition against C8 and writes a fresh
// prediction sink (§3: "C6 and C7 jointly emit a condition").
func (a *app) handleAnomaly(anomaly model.AnomalyEvent) {
	clusterResult := a.clusterDet.AddAnomaly(anomaly)

	snapshot := a.index.Calculate(anomaly.Timestamp, anomaliesOf(clusterResult))

	if clusterResult.Level < 2 {
		return
	}

	sources := make([]string, 0, len(clusterResult.Anomalies))
	seen := map[string]bool{}
	for _, r := range clusterResult.Anomalies {
		if !seen[r.Anomaly.SensorSource] {
			seen[r.Anomaly.SensorSource] = true
			sources = append(sources, r.Anomaly.SensorSource)
		}
	}
	sort.Strings(sources)

	condition := model.Condition{
		Timestamp:     anomaly.Timestamp,
		Level:         clusterResult.Level,
		Sources:       sources,
		AnomalyIndex:  snapshot.Index,
		BaselineRatio: snapshot.BaselineRatio,
	}
	a.patterns.RecordCondition(condition)

	infos := a.patterns.GetProbabilities(condition, 5, nil)
	predictions := pattern.BuildPredictions(condition, infos, anomaly.Timestamp)
	if err := pattern.WritePredictionSink(a.predictionPath, predictions, anomaly.Timestamp); err != nil {
		a.logger.Warn("prediction sink write failed", "error", err)
	}
}

func anomaliesOf(c model.Cluster) []model.AnomalyEvent {
	out := make([]model.AnomalyEvent, 0, len(c.Anomalies))
	for _, r := range c.Anomalies {
		out = append(out, r.Anomaly)
	}
	return out
}

// close flushes and releases every resource buildApp opened.
func (a *app) close() {
	if err := a.patterns.Save(a.patternDir); err != nil {
		a.logger.Warn("pattern state save failed", "error", err)
	}
	if err := a.recordsDB.FlushAll(); err != nil {
		a.logger.Warn("store flush failed", "error", err)
	}
	_ = a.calTracker.Close()
	_ = a.healthStore.Close()
	if a.sqlExport != nil {
		_ = a.sqlExport.Close()
	}
}

// calibrationAdapter satisfies health.CalibrationProvider over
// calibration.Calibrator, bridging the int/float64 DaysNeeded and the
// missing LastCalibration field the health response needs (§6).
type calibrationAdapter struct {
	c *calibration.Calibrator
}

func (a calibrationAdapter) Summary() health.CalibrationSummary {
	st := a.c.Status()
	summary := health.CalibrationSummary{
		ReadyForCalibration: st.ReadyForCalibration,
		DaysCollecting:      st.DaysCollecting,
		DaysNeeded:          float64(st.DaysNeeded),
		AutoApplyEnabled:    st.AutoApplyEnabled,
		TotalCalibrations:   st.TotalCalibrations,
	}
	if t, ok := a.c.LastCalibrationTime(); ok {
		summary.LastCalibration = &t
	}
	return summary
}

// apiQuotaTracker is a health.QuotaProvider over every external API-backed
// sensor (SPEC_FULL §4): each gets a daily call budget, incremented as its
// SafeCollect call returns and reset at UTC midnight. config.apiKeys holds
// credentials, not limits, so it is not consulted here.
type apiQuotaTracker struct {
	mu     sync.Mutex
	limits map[string]int
	used   map[string]int
	day    string
}

const defaultDailyLimit = 10000

// apiBackedSources names every sensor that calls out to an external service
// (as opposed to "system", which only reads local process state).
var apiBackedSources = []string{"crypto", "earthquake", "space_weather", "quantum_rng", "blockchain", "news"}

func newAPIQuotaTracker(apiKeys map[string]string) *apiQuotaTracker {
	limits := make(map[string]int, len(apiBackedSources))
	for _, name := range apiBackedSources {
		limits[name] = defaultDailyLimit
	}
	return &apiQuotaTracker{limits: limits, used: map[string]int{}, day: time.Now().UTC().Format("2006-01-02")}
}

func (q *apiQuotaTracker) recordCall(name string) {
	q.mu.Lock()
	defer q.mu.Unlock()
	q.rolloverLocked()
	if _, known := q.limits[name]; !known {
		return
	}
	q.used[name]++
}

func (q *apiQuotaTracker) rolloverLocked() {
	today := time.Now().UTC().Format("2006-01-02")
	if today != q.day {
		q.day = today
		q.used = map[string]int{}
	}
}

func (q *apiQuotaTracker) Quotas() map[string]health.APIQuota {
	q.mu.Lock()
	defer q.mu.Unlock()
	q.rolloverLocked()

	now := time.Now().UTC()
	midnight := time.Date(now.Year(), now.Month(), now.Day()+1, 0, 0, 0, 0, time.UTC)

	out := make(map[string]health.APIQuota, len(q.limits))
	for name, limit := range q.limits {
		used := q.used[name]
		out[name] = health.APIQuota{
			Limit:        limit,
			Used:         used,
			Remaining:    limit - used,
			UsagePercent: 100 * float64(used) / float64(limit),
			ResetsIn:     midnight.Sub(now),
		}
	}
	return out
}
