package engine

import (
	"context"
	"strings"

	"github.com/otiai10/gosseract/v2"
)

// mrzWhitelist restricts recognition to the MRZ alphabet, which sharply
// reduces filler-character misreads on the cropped zone.
const mrzWhitelist = "ABCDEFGHIJKLMNOPQRSTUVWXYZ0123456789<"

// Tesseract is the local, zero-cost engine backed by the gosseract
// client. It is the natural first stage when the host carries a
// tesseract installation.
type Tesseract struct {
	languages     []string
	clientFactory func() *gosseract.Client
}

func NewTesseract(langs string) *Tesseract {
	var languages []string
	for _, l := range strings.Split(langs, "+") {
		if l = strings.TrimSpace(l); l != "" {
			languages = append(languages, l)
		}
	}
	return &Tesseract{languages: languages, clientFactory: gosseract.NewClient}
}

func (t *Tesseract) Name() string { return "tesseract" }

func (t *Tesseract) Invoke(ctx context.Context, image []byte) (RawOutput, error) {
	type outcome struct {
		out RawOutput
		err error
	}
	done := make(chan outcome, 1)

	// gosseract has no context support; run it aside and let the chain's
	// deadline bound the wait. A late result is discarded.
	go func() {
		c := t.clientFactory()
		defer c.Close()

		if err := c.SetImageFromBytes(image); err != nil {
			done <- outcome{err: &ProviderError{Engine: t.Name(), Err: err}}
			return
		}
		if len(t.languages) > 0 {
			if err := c.SetLanguage(t.languages...); err != nil {
				done <- outcome{err: &ProviderError{Engine: t.Name(), Err: err}}
				return
			}
		}
		if err := c.SetWhitelist(mrzWhitelist); err != nil {
			done <- outcome{err: &ProviderError{Engine: t.Name(), Err: err}}
			return
		}
		text, err := c.Text()
		if err != nil {
			done <- outcome{err: &ProviderError{Engine: t.Name(), Err: err}}
			return
		}
		done <- outcome{out: RawOutput{Text: strings.TrimSpace(text)}}
	}()

	select {
	case <-ctx.Done():
		return RawOutput{}, &ProviderError{Engine: t.Name(), Transient: true, Err: ctx.Err()}
	case res := <-done:
		return res.out, res.err
	}
}
