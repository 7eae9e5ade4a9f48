// Package sla emits the per-job decision telemetry: one structured,
// privacy-filtered record per terminal job, plus optional prometheus
// metrics with a rolling auto-accept breach signal.
package sla

import (
	"encoding/json"
	"io"
	"sync"
	"time"

	"github.com/prometheus/client_golang/prometheus"

	"mrzgate/internal/config"
	"mrzgate/internal/model"
)

// LoggerName tags every decision record so downstream log pipelines can
// route on a fixed identifier.
const LoggerName = "sla_decision"

// SchemaVersion is bumped whenever the record layout changes.
const SchemaVersion = 1

// Record is the decision telemetry schema. It is derived entirely from
// Job + OCRResult and structurally cannot carry raw MRZ text.
type Record struct {
	Logger          string  `json:"logger"`
	SchemaVersion   int     `json:"schema_version"`
	TS              string  `json:"ts"`
	JobID           string  `json:"job_id"`
	TenantID        string  `json:"tenant_id"`
	PassportHash    string  `json:"passport_hash,omitempty"`
	PassportMRZLen  int     `json:"passport_mrz_len,omitempty"`
	State           string  `json:"state"`
	ConfidenceScore float64 `json:"confidence_score"`
	ConfidenceTier  string  `json:"confidence_tier,omitempty"`
	EngineName      string  `json:"engine_name,omitempty"`
	AttemptsCount   int     `json:"attempts_count"`
	TotalLatencyMS  int64   `json:"total_latency_ms"`
	DuplicateFlag   bool    `json:"duplicate_flag"`
}

// Logger writes one JSON line per terminal job decision and maintains
// the rolling auto-accept window. Metrics are registered only when
// enabled in config. Safe for concurrent use.
type Logger struct {
	mu  sync.Mutex
	enc *json.Encoder
	now func() time.Time

	metricsEnabled bool
	breachRatio    float64
	window         []bool
	next           int
	filled         int

	decisions   *prometheus.CounterVec
	acceptRatio prometheus.Gauge
	breaches    prometheus.Counter
}

// NewLogger builds a decision logger writing to w. reg may be nil when
// metrics are disabled.
func NewLogger(w io.Writer, cfg config.SLAConfig, reg prometheus.Registerer) (*Logger, error) {
	l := &Logger{
		enc:            json.NewEncoder(w),
		now:            time.Now,
		metricsEnabled: cfg.MetricsEnabled,
		breachRatio:    cfg.BreachThresholdRatio,
	}
	if cfg.WindowSize > 0 {
		l.window = make([]bool, cfg.WindowSize)
	}

	if cfg.MetricsEnabled && reg != nil {
		l.decisions = prometheus.NewCounterVec(
			prometheus.CounterOpts{
				Name: "ocr_sla_decisions_total",
				Help: "Terminal job decisions by state.",
			},
			[]string{"state"},
		)
		l.acceptRatio = prometheus.NewGauge(prometheus.GaugeOpts{
			Name: "ocr_sla_auto_accept_ratio",
			Help: "Rolling auto-accept ratio over the configured window.",
		})
		l.breaches = prometheus.NewCounter(prometheus.CounterOpts{
			Name: "ocr_sla_breach_total",
			Help: "Times the rolling auto-accept ratio fell below the breach threshold.",
		})
		for _, c := range []prometheus.Collector{l.decisions, l.acceptRatio, l.breaches} {
			if err := reg.Register(c); err != nil {
				return nil, err
			}
		}
	}
	return l, nil
}

// RecordDecision emits the telemetry line for a job that just reached a
// terminal decision and feeds the rolling breach window.
func (l *Logger) RecordDecision(job *model.Job) {
	rec := Record{
		Logger:        LoggerName,
		SchemaVersion: SchemaVersion,
		TS:            l.now().UTC().Format(time.RFC3339Nano),
		JobID:         job.ID,
		TenantID:      job.TenantID,
		State:         string(job.State),
		EngineName:    job.WinningEngine,
		AttemptsCount: len(job.Attempts),
	}
	for _, a := range job.Attempts {
		rec.TotalLatencyMS += a.LatencyMS
	}
	if job.Result != nil {
		rec.PassportHash = job.Result.PassportHash
		rec.PassportMRZLen = job.Result.PassportMRZLen
		rec.ConfidenceScore = job.Result.ConfidenceScore
		rec.ConfidenceTier = string(job.Result.ConfidenceTier)
		rec.DuplicateFlag = job.Result.DuplicateFlag
	}

	l.mu.Lock()
	defer l.mu.Unlock()

	_ = l.enc.Encode(rec)

	accepted := job.State == model.StateAutoAccepted
	ratio, windowFull := l.observe(accepted)

	if !l.metricsEnabled {
		return
	}
	if l.decisions != nil {
		l.decisions.WithLabelValues(string(job.State)).Inc()
	}
	if l.acceptRatio != nil && l.filled > 0 {
		l.acceptRatio.Set(ratio)
	}
	if windowFull && ratio < l.breachRatio {
		if l.breaches != nil {
			l.breaches.Inc()
		}
		_ = l.enc.Encode(map[string]any{
			"logger":            LoggerName,
			"schema_version":    SchemaVersion,
			"ts":                l.now().UTC().Format(time.RFC3339Nano),
			"event":             "sla_breach",
			"auto_accept_ratio": ratio,
			"threshold_ratio":   l.breachRatio,
		})
	}
}

// observe pushes the decision into the ring and returns the current
// ratio plus whether the window has filled at least once.
func (l *Logger) observe(accepted bool) (float64, bool) {
	if len(l.window) == 0 {
		return 0, false
	}
	l.window[l.next] = accepted
	l.next = (l.next + 1) % len(l.window)
	if l.filled < len(l.window) {
		l.filled++
	}
	hits := 0
	for i := 0; i < l.filled; i++ {
		if l.window[i] {
			hits++
		}
	}
	return float64(hits) / float64(l.filled), l.filled == len(l.window)
}
