package engine

import (
	"context"
	"errors"
	"testing"
	"time"

	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"

	"mrzgate/internal/model"
)

const (
	specimenLine1 = "P<UTOERIKSSON<<ANNA<MARIA<<<<<<<<<<<<<<<<<<<"
	specimenLine2 = "L898902C36UTO7408122F1204159ZE184226B<<<<<10"
	specimenText  = specimenLine1 + "\n" + specimenLine2
)

// fakeEngine returns scripted responses in order, then repeats the last.
type fakeEngine struct {
	name      string
	responses []fakeResponse
	calls     int
}

type fakeResponse struct {
	out RawOutput
	err error
}

func (f *fakeEngine) Name() string { return f.name }

func (f *fakeEngine) Invoke(ctx context.Context, image []byte) (RawOutput, error) {
	i := f.calls
	if i >= len(f.responses) {
		i = len(f.responses) - 1
	}
	f.calls++
	r := f.responses[i]
	return r.out, r.err
}

func newTestChain(engines []Engine, maxTries int, minConfidence float64) *Chain {
	c := NewChain(engines, RetryPolicy{
		MaxTries:       maxTries,
		InitialBackoff: time.Millisecond,
		MaxBackoff:     time.Millisecond,
	}, time.Second, minConfidence)
	c.sleep = func(ctx context.Context, d time.Duration) error { return nil }
	return c
}

func TestChain_FirstEngineWins(t *testing.T) {
	first := &fakeEngine{name: "paddle", responses: []fakeResponse{{out: RawOutput{Text: specimenText}}}}
	second := &fakeEngine{name: "ocr_space", responses: []fakeResponse{{out: RawOutput{Text: specimenText}}}}

	// The specimen scores 0.90; with the threshold below that the chain
	// must stop after the first provider.
	c := newTestChain([]Engine{first, second}, 2, 0.8)
	out := c.Run(context.Background(), []byte("img"))

	assert.True(t, out.AutoAccepted)
	assert.Equal(t, "paddle", out.WinningEngine)
	require.NotNil(t, out.Result)
	assert.Equal(t, model.TierHigh, out.Result.ConfidenceTier)
	require.Len(t, out.Attempts, 1)
	require.NotNil(t, out.Attempts[0].ConfidenceScore)
	assert.InDelta(t, 0.90, *out.Attempts[0].ConfidenceScore, 1e-9)
	assert.Equal(t, 0, second.calls, "fallback engine must not run")
}

func TestChain_FallsBackOnMiss(t *testing.T) {
	miss := &fakeEngine{name: "paddle", responses: []fakeResponse{{out: RawOutput{Text: "no machine readable zone here"}}}}
	hit := &fakeEngine{name: "ocr_space", responses: []fakeResponse{{out: RawOutput{Text: specimenText}}}}

	c := newTestChain([]Engine{miss, hit}, 2, 0.8)
	out := c.Run(context.Background(), []byte("img"))

	assert.True(t, out.AutoAccepted)
	assert.Equal(t, "ocr_space", out.WinningEngine)
	require.Len(t, out.Attempts, 2)
	// The miss is recorded once: a clean run with no MRZ is never retried.
	assert.Equal(t, ErrNoMRZFound.Error(), out.Attempts[0].Error)
	assert.Equal(t, 1, miss.calls)
}

func TestChain_TransientFailureIsRetried(t *testing.T) {
	flaky := &fakeEngine{name: "azapi", responses: []fakeResponse{
		{err: &ProviderError{Engine: "azapi", Status: 503, Transient: true, Err: errors.New("unavailable")}},
		{out: RawOutput{Text: specimenText}},
	}}

	c := newTestChain([]Engine{flaky}, 2, 0.8)
	out := c.Run(context.Background(), []byte("img"))

	assert.True(t, out.AutoAccepted)
	assert.Equal(t, 2, flaky.calls)
	// One attempt per actual invocation, including the failed try.
	require.Len(t, out.Attempts, 2)
	assert.NotEmpty(t, out.Attempts[0].Error)
	assert.Empty(t, out.Attempts[1].Error)
	assert.Equal(t, 0, out.Attempts[0].AttemptIndex)
	assert.Equal(t, 1, out.Attempts[1].AttemptIndex)
}

func TestChain_NonTransientFailureIsNotRetried(t *testing.T) {
	broken := &fakeEngine{name: "azapi", responses: []fakeResponse{
		{err: &ProviderError{Engine: "azapi", Status: 401, Transient: false, Err: errors.New("bad key")}},
	}}
	backupText := specimenText
	backup := &fakeEngine{name: "yandex_vision", responses: []fakeResponse{{out: RawOutput{Text: backupText}}}}

	c := newTestChain([]Engine{broken, backup}, 3, 0.8)
	out := c.Run(context.Background(), []byte("img"))

	assert.Equal(t, 1, broken.calls, "auth failures must not burn retries")
	assert.True(t, out.AutoAccepted)
	assert.Equal(t, "yandex_vision", out.WinningEngine)
}

func TestChain_RetryBudgetExhausted(t *testing.T) {
	down := &fakeEngine{name: "paddle", responses: []fakeResponse{
		{err: &ProviderError{Engine: "paddle", Status: 500, Transient: true, Err: errors.New("boom")}},
	}}

	c := newTestChain([]Engine{down}, 2, 0.8)
	out := c.Run(context.Background(), []byte("img"))

	assert.Equal(t, 2, down.calls)
	assert.Len(t, out.Attempts, 2)
	assert.Nil(t, out.Result)
	assert.False(t, out.AutoAccepted)
}

func TestChain_BestCandidateCarries(t *testing.T) {
	// Corrupt one checksum digit so the first engine's candidate scores
	// below the threshold, then let the second produce nothing.
	corrupt := []byte(specimenLine2)
	corrupt[14] = '5'
	weakText := specimenLine1 + "\n" + string(corrupt)

	weak := &fakeEngine{name: "paddle", responses: []fakeResponse{{out: RawOutput{Text: weakText}}}}
	miss := &fakeEngine{name: "ocr_space", responses: []fakeResponse{{out: RawOutput{Text: "nothing"}}}}

	c := newTestChain([]Engine{weak, miss}, 1, 0.8)
	out := c.Run(context.Background(), []byte("img"))

	assert.False(t, out.AutoAccepted)
	require.NotNil(t, out.Result, "the sub-threshold candidate must be kept for review")
	assert.Equal(t, "paddle", out.WinningEngine)
	assert.Less(t, out.Result.ConfidenceScore, 0.8)
	assert.Len(t, out.Attempts, 2)
}

func TestChain_AllEnginesMiss(t *testing.T) {
	engines := []Engine{
		&fakeEngine{name: "paddle", responses: []fakeResponse{{out: RawOutput{Text: "x"}}}},
		&fakeEngine{name: "ocr_space", responses: []fakeResponse{{out: RawOutput{Text: "y"}}}},
		&fakeEngine{name: "azapi", responses: []fakeResponse{{out: RawOutput{Text: "z"}}}},
		&fakeEngine{name: "yandex_vision", responses: []fakeResponse{{out: RawOutput{Text: "w"}}}},
	}

	c := newTestChain(engines, 2, 0.8)
	out := c.Run(context.Background(), []byte("img"))

	assert.Nil(t, out.Result)
	assert.False(t, out.AutoAccepted)
	// Exactly one attempt per provider: a no-MRZ response is
	// deterministic and never retried.
	require.Len(t, out.Attempts, 4)
	for i, a := range out.Attempts {
		assert.Equal(t, i, a.AttemptIndex)
		assert.Equal(t, ErrNoMRZFound.Error(), a.Error)
		assert.Nil(t, a.ConfidenceScore)
	}
}

func TestIsTransient(t *testing.T) {
	assert.True(t, IsTransient(&ProviderError{Status: 500, Transient: true}))
	assert.True(t, IsTransient(context.DeadlineExceeded))
	assert.False(t, IsTransient(&ProviderError{Status: 400, Transient: false}))
	assert.False(t, IsTransient(ErrNoMRZFound))
	assert.False(t, IsTransient(errors.New("misc")))
}

func TestTransientStatus(t *testing.T) {
	assert.True(t, transientStatus(500))
	assert.True(t, transientStatus(503))
	assert.True(t, transientStatus(429))
	assert.True(t, transientStatus(408))
	assert.False(t, transientStatus(400))
	assert.False(t, transientStatus(401))
	assert.False(t, transientStatus(200))
}
