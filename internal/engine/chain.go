package engine

import (
	"context"
	"encoding/json"
	"log"
	"time"

	"github.com/cenkalti/backoff/v5"

	"mrzgate/internal/mrz"
	"mrzgate/internal/model"
)

// RetryPolicy bounds per-stage retries of transient provider failures.
type RetryPolicy struct {
	MaxTries       int
	InitialBackoff time.Duration
	MaxBackoff     time.Duration
}

// Outcome is what one chain run produces: the best extraction seen, the
// full attempt log, and whether the acceptance threshold was reached.
type Outcome struct {
	Result        *model.OCRResult
	Attempts      []model.EngineAttempt
	AutoAccepted  bool
	WinningEngine string
}

// Chain drives the ordered provider list. Engines are tried strictly in
// order with no parallel racing: later engines are costlier fallbacks.
// Provider failures never escape Run; they become recorded attempt
// errors that only influence whether the chain continues.
type Chain struct {
	engines       []Engine
	retry         RetryPolicy
	stageTimeout  time.Duration
	minConfidence float64
	now           func() time.Time
	sleep         func(ctx context.Context, d time.Duration) error
}

func NewChain(engines []Engine, retry RetryPolicy, stageTimeout time.Duration, minConfidence float64) *Chain {
	if retry.MaxTries < 1 {
		retry.MaxTries = 1
	}
	return &Chain{
		engines:       engines,
		retry:         retry,
		stageTimeout:  stageTimeout,
		minConfidence: minConfidence,
		now:           time.Now,
		sleep:         sleepCtx,
	}
}

func sleepCtx(ctx context.Context, d time.Duration) error {
	t := time.NewTimer(d)
	defer t.Stop()
	select {
	case <-ctx.Done():
		return ctx.Err()
	case <-t.C:
		return nil
	}
}

// Run invokes providers in order until one yields a result at or above
// the acceptance threshold, keeping the best-scoring candidate otherwise.
// A nil Result with AutoAccepted false means no provider ever returned
// parseable MRZ.
func (c *Chain) Run(ctx context.Context, image []byte) Outcome {
	out := Outcome{}
	var bestScore float64

	for _, eng := range c.engines {
		raw, ok := c.runStage(ctx, eng, image, &out)
		if !ok {
			continue
		}

		line1, line2, found := mrz.DetectLines(raw.Text)
		idx := len(out.Attempts) - 1
		if !found {
			out.Attempts[idx].Error = ErrNoMRZFound.Error()
			continue
		}

		// A malformed parse is still scorable; the score decides.
		parsed, _ := mrz.Parse(line1, line2)
		score, tier := mrz.Score(parsed, parsed.EditDistance(), c.now())
		out.Attempts[idx].RawMRZLines = []string{line1, line2}
		out.Attempts[idx].ConfidenceScore = &score

		if out.Result == nil || score > bestScore {
			out.Result = mrz.BuildResult(parsed, score, tier)
			out.WinningEngine = eng.Name()
			bestScore = score
		}
		if score >= c.minConfidence {
			out.AutoAccepted = true
			return out
		}
	}
	return out
}

// runStage invokes one provider under the per-stage retry policy and
// appends one EngineAttempt per actual invocation. It returns the raw
// output and whether the stage ultimately succeeded.
func (c *Chain) runStage(ctx context.Context, eng Engine, image []byte, out *Outcome) (RawOutput, bool) {
	bo := backoff.NewExponentialBackOff()
	bo.InitialInterval = c.retry.InitialBackoff
	bo.MaxInterval = c.retry.MaxBackoff

	for try := 0; try < c.retry.MaxTries; try++ {
		start := c.now()
		stageCtx, cancel := context.WithTimeout(ctx, c.stageTimeout)
		raw, err := eng.Invoke(stageCtx, image)
		cancel()

		attempt := model.EngineAttempt{
			EngineName:   eng.Name(),
			AttemptIndex: len(out.Attempts),
			LatencyMS:    c.now().Sub(start).Milliseconds(),
		}
		if err != nil {
			attempt.Error = err.Error()
		}
		out.Attempts = append(out.Attempts, attempt)

		if err == nil {
			return raw, true
		}

		logAttemptFailure(eng.Name(), try, err)
		if !IsTransient(err) || try == c.retry.MaxTries-1 {
			return RawOutput{}, false
		}
		if c.sleep(ctx, bo.NextBackOff()) != nil {
			return RawOutput{}, false
		}
	}
	return RawOutput{}, false
}

func logAttemptFailure(engineName string, try int, err error) {
	entry := map[string]any{
		"ts":     time.Now().UTC().Format(time.RFC3339Nano),
		"level":  "warn",
		"msg":    "ocr_attempt_failed",
		"engine": engineName,
		"try":    try,
		"error":  err.Error(),
	}
	if b, mErr := json.Marshal(entry); mErr == nil {
		log.SetFlags(0)
		log.Println(string(b))
	}
}
