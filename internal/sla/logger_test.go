package sla

import (
	"bufio"
	"bytes"
	"encoding/json"
	"strings"
	"testing"

	"github.com/prometheus/client_golang/prometheus"
	"github.com/prometheus/client_golang/prometheus/testutil"
	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"

	"mrzgate/internal/config"
	"mrzgate/internal/model"
)

func acceptedJob(id string) *model.Job {
	score := 0.9
	return &model.Job{
		ID:       id,
		TenantID: "acme",
		State:    model.StateAutoAccepted,
		Attempts: []model.EngineAttempt{
			{EngineName: "paddle", LatencyMS: 120, ConfidenceScore: &score},
			{EngineName: "ocr_space", LatencyMS: 300, ConfidenceScore: &score},
		},
		WinningEngine: "ocr_space",
		Result: &model.OCRResult{
			PassportHash:    "cafebabe",
			PassportMRZLen:  9,
			ConfidenceScore: 0.9,
			ConfidenceTier:  model.TierHigh,
		},
	}
}

func failedJob(id string) *model.Job {
	return &model.Job{ID: id, TenantID: "acme", State: model.StateFailed}
}

func TestRecordDecision_Schema(t *testing.T) {
	var buf bytes.Buffer
	l, err := NewLogger(&buf, config.SLAConfig{WindowSize: 10}, nil)
	require.NoError(t, err)

	l.RecordDecision(acceptedJob("job-1"))

	var rec Record
	require.NoError(t, json.Unmarshal(buf.Bytes(), &rec))

	assert.Equal(t, LoggerName, rec.Logger)
	assert.Equal(t, SchemaVersion, rec.SchemaVersion)
	assert.Equal(t, "job-1", rec.JobID)
	assert.Equal(t, "acme", rec.TenantID)
	assert.Equal(t, "AUTO_ACCEPTED", rec.State)
	assert.Equal(t, "cafebabe", rec.PassportHash)
	assert.Equal(t, 9, rec.PassportMRZLen)
	assert.Equal(t, 2, rec.AttemptsCount)
	assert.Equal(t, int64(420), rec.TotalLatencyMS)
	assert.Equal(t, "ocr_space", rec.EngineName)

	// The record never carries MRZ text, names or dates.
	assert.NotContains(t, buf.String(), "surname")
	assert.NotContains(t, buf.String(), "birth_date")
}

func TestRecordDecision_NoResult(t *testing.T) {
	var buf bytes.Buffer
	l, err := NewLogger(&buf, config.SLAConfig{WindowSize: 10}, nil)
	require.NoError(t, err)

	l.RecordDecision(failedJob("job-2"))

	var rec Record
	require.NoError(t, json.Unmarshal(buf.Bytes(), &rec))
	assert.Equal(t, "FAILED", rec.State)
	assert.Empty(t, rec.PassportHash)
	assert.Zero(t, rec.ConfidenceScore)
}

func TestBreach_RequiresFullWindowAndMetrics(t *testing.T) {
	var buf bytes.Buffer
	reg := prometheus.NewRegistry()
	l, err := NewLogger(&buf, config.SLAConfig{
		MetricsEnabled:       true,
		BreachThresholdRatio: 0.9,
		WindowSize:           4,
	}, reg)
	require.NoError(t, err)

	// Three failures: window not yet full, no breach despite ratio 0.
	l.RecordDecision(failedJob("a"))
	l.RecordDecision(failedJob("b"))
	l.RecordDecision(failedJob("c"))
	assert.Zero(t, testutil.ToFloat64(l.breaches))
	assert.NotContains(t, buf.String(), "sla_breach")

	// Fourth decision fills the window; ratio 0.25 < 0.9 breaches.
	l.RecordDecision(acceptedJob("d"))
	assert.Equal(t, 1.0, testutil.ToFloat64(l.breaches))
	assert.Contains(t, buf.String(), "sla_breach")

	assert.InDelta(t, 0.25, testutil.ToFloat64(l.acceptRatio), 1e-9)
	assert.Equal(t, 3.0, testutil.ToFloat64(l.decisions.WithLabelValues("FAILED")))
}

func TestBreach_DisabledMetricsNeverSignal(t *testing.T) {
	var buf bytes.Buffer
	l, err := NewLogger(&buf, config.SLAConfig{
		MetricsEnabled:       false,
		BreachThresholdRatio: 0.9,
		WindowSize:           2,
	}, nil)
	require.NoError(t, err)

	l.RecordDecision(failedJob("a"))
	l.RecordDecision(failedJob("b"))
	l.RecordDecision(failedJob("c"))

	assert.NotContains(t, buf.String(), "sla_breach")

	// Every decision still produced its record line.
	sc := bufio.NewScanner(strings.NewReader(buf.String()))
	lines := 0
	for sc.Scan() {
		lines++
	}
	assert.Equal(t, 3, lines)
}
