package model

import (
	"encoding/json"
	"testing"

	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"
)

func TestJobState_Terminal(t *testing.T) {
	assert.True(t, StateAutoAccepted.Terminal())
	assert.True(t, StateFailed.Terminal())
	assert.False(t, StatePending.Terminal())
	assert.False(t, StateProcessing.Terminal())
	// A reviewer can still promote the job.
	assert.False(t, StateManualReview.Terminal())
}

func TestJob_Transition(t *testing.T) {
	tests := []struct {
		name string
		from JobState
		to   JobState
		ok   bool
	}{
		{"pending to processing", StatePending, StateProcessing, true},
		{"processing to accepted", StateProcessing, StateAutoAccepted, true},
		{"processing to review", StateProcessing, StateManualReview, true},
		{"processing to failed", StateProcessing, StateFailed, true},
		{"review to accepted", StateManualReview, StateAutoAccepted, true},
		{"pending skips processing", StatePending, StateAutoAccepted, false},
		{"review to failed", StateManualReview, StateFailed, false},
		{"accepted is final", StateAutoAccepted, StateManualReview, false},
		{"failed is final", StateFailed, StateProcessing, false},
		{"no backwards moves", StateProcessing, StatePending, false},
	}

	for _, tt := range tests {
		t.Run(tt.name, func(t *testing.T) {
			j := &Job{ID: "job-1", State: tt.from}
			err := j.Transition(tt.to)
			if tt.ok {
				assert.NoError(t, err)
				assert.Equal(t, tt.to, j.State)
				return
			}

			var ite *InvalidTransitionError
			require.ErrorAs(t, err, &ite)
			assert.Equal(t, tt.from, ite.From)
			assert.Equal(t, tt.to, ite.To)
			// A rejected transition leaves the job untouched.
			assert.Equal(t, tt.from, j.State)
		})
	}
}

func TestJob_TransitionSetsCompletedAt(t *testing.T) {
	j := &Job{State: StateProcessing}
	require.NoError(t, j.Transition(StateAutoAccepted))
	assert.NotNil(t, j.CompletedAt)

	j = &Job{State: StateProcessing}
	require.NoError(t, j.Transition(StateManualReview))
	assert.NotNil(t, j.CompletedAt, "parking for review is a decision the caller can observe")

	j = &Job{State: StatePending}
	require.NoError(t, j.Transition(StateProcessing))
	assert.Nil(t, j.CompletedAt)
}

func TestJob_SensitiveFieldsNeverSerialize(t *testing.T) {
	score := 0.9
	j := &Job{
		ID:       "job-1",
		TenantID: "acme",
		ImageKey: "images/secret.jpg",
		State:    StateAutoAccepted,
		Attempts: []EngineAttempt{{
			EngineName:      "paddle",
			RawMRZLines:     []string{"L898902C36UTO7408122F1204159ZE184226B<<<<<10"},
			ConfidenceScore: &score,
		}},
		Result: &OCRResult{
			PassportHash: "cafebabe",
		},
	}

	b, err := json.Marshal(j)
	require.NoError(t, err)

	s := string(b)
	assert.NotContains(t, s, "images/secret.jpg")
	assert.NotContains(t, s, "L898902C3", "raw MRZ must never leave process memory")
	assert.Contains(t, s, "cafebabe")
}

func TestMRZFieldSerializationOmitsValues(t *testing.T) {
	f := MRZField{
		Name:            "document_number",
		RawValue:        "L8989O2C3",
		NormalizedValue: "L898902C3",
		Valid:           true,
	}
	b, err := json.Marshal(f)
	require.NoError(t, err)
	assert.NotContains(t, string(b), "L898902C3")
	assert.NotContains(t, string(b), "L8989O2C3")
}
