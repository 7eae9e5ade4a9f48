package engine

import (
	"context"
	"errors"
	"io"
	"net/http"
	"time"
)

// maxProviderBody caps how much of a provider response is read; vision
// APIs can echo full-page text many times over.
const maxProviderBody = 4 << 20

func newHTTPClient() *http.Client {
	// Per-attempt deadlines come from the chain's context; the client
	// timeout is only a hard backstop against leaked connections.
	return &http.Client{Timeout: 30 * time.Second}
}

// doProviderRequest executes the request and classifies failures into the
// provider error taxonomy: network and deadline failures are transient,
// provider statuses are split by transientStatus.
func doProviderRequest(client *http.Client, engineName string, req *http.Request) ([]byte, error) {
	resp, err := client.Do(req)
	if err != nil {
		transient := true
		if errors.Is(err, context.Canceled) {
			transient = false
		}
		return nil, &ProviderError{Engine: engineName, Transient: transient, Err: err}
	}
	defer resp.Body.Close()

	body, err := io.ReadAll(io.LimitReader(resp.Body, maxProviderBody))
	if err != nil {
		return nil, &ProviderError{Engine: engineName, Transient: true, Err: err}
	}
	if resp.StatusCode != http.StatusOK && resp.StatusCode != http.StatusAccepted {
		return nil, &ProviderError{
			Engine:    engineName,
			Status:    resp.StatusCode,
			Transient: transientStatus(resp.StatusCode),
			Err:       errors.New(http.StatusText(resp.StatusCode)),
		}
	}
	return body, nil
}
