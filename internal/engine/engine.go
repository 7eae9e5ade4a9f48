// Package engine contains the OCR provider abstraction and the ordered
// fallback chain that drives providers until a confident extraction is
// found. New providers implement Engine and register in the builder
// without touching orchestration logic.
package engine

import (
	"context"
	"errors"
	"fmt"
)

// RawOutput is what a provider invocation yields: the recognized text and
// the provider's own confidence estimate when it reports one.
type RawOutput struct {
	Text       string
	Confidence float64
}

// Engine is the uniform capability every OCR provider exposes. Invoke
// must honor ctx cancellation and return within the deadline the chain
// sets per attempt.
type Engine interface {
	Name() string
	Invoke(ctx context.Context, image []byte) (RawOutput, error)
}

// ErrNoMRZFound means the provider ran but produced no candidate MRZ
// region. It is deterministic: retrying the same provider on the same
// image cannot help, so the chain advances immediately.
var ErrNoMRZFound = errors.New("no mrz found")

// ProviderError wraps a transport or provider-side failure. Transient
// failures (timeouts, 5xx-equivalents, network errors) are retried by the
// per-stage policy; deterministic rejections are not.
type ProviderError struct {
	Engine    string
	Status    int
	Transient bool
	Err       error
}

func (e *ProviderError) Error() string {
	if e.Status != 0 {
		return fmt.Sprintf("%s: provider status %d: %v", e.Engine, e.Status, e.Err)
	}
	return fmt.Sprintf("%s: %v", e.Engine, e.Err)
}

func (e *ProviderError) Unwrap() error { return e.Err }

// IsTransient reports whether the chain may retry the same provider after
// this failure.
func IsTransient(err error) bool {
	var pe *ProviderError
	if errors.As(err, &pe) {
		return pe.Transient
	}
	return errors.Is(err, context.DeadlineExceeded)
}

// transientStatus classifies provider HTTP statuses: 5xx and throttling
// are worth a retry, everything else in the error range is deterministic.
func transientStatus(status int) bool {
	return status >= 500 || status == 429 || status == 408
}
