package engine

import (
	"bytes"
	"context"
	"encoding/base64"
	"encoding/json"
	"net/http"
	"strings"
)

// Paddle talks to a PaddleOCR serving endpoint (PaddleHub ocr_system
// contract: base64 images in, per-line text and confidence out).
type Paddle struct {
	endpoint string
	client   *http.Client
}

func NewPaddle(endpoint string) *Paddle {
	return &Paddle{endpoint: endpoint, client: newHTTPClient()}
}

func (p *Paddle) Name() string { return "paddle" }

type paddleRequest struct {
	Images []string `json:"images"`
}

type paddleLine struct {
	Text       string  `json:"text"`
	Confidence float64 `json:"confidence"`
}

type paddleResponse struct {
	Status  string         `json:"status"`
	Msg     string         `json:"msg"`
	Results [][]paddleLine `json:"results"`
}

func (p *Paddle) Invoke(ctx context.Context, image []byte) (RawOutput, error) {
	payload, err := json.Marshal(paddleRequest{
		Images: []string{base64.StdEncoding.EncodeToString(image)},
	})
	if err != nil {
		return RawOutput{}, &ProviderError{Engine: p.Name(), Err: err}
	}

	req, err := http.NewRequestWithContext(ctx, http.MethodPost, p.endpoint, bytes.NewReader(payload))
	if err != nil {
		return RawOutput{}, &ProviderError{Engine: p.Name(), Err: err}
	}
	req.Header.Set("Content-Type", "application/json")

	body, err := doProviderRequest(p.client, p.Name(), req)
	if err != nil {
		return RawOutput{}, err
	}

	var parsed paddleResponse
	if err := json.Unmarshal(body, &parsed); err != nil {
		return RawOutput{}, &ProviderError{Engine: p.Name(), Err: err}
	}

	var sb strings.Builder
	var confSum float64
	lines := 0
	for _, page := range parsed.Results {
		for _, ln := range page {
			if ln.Text == "" {
				continue
			}
			sb.WriteString(ln.Text)
			sb.WriteByte('\n')
			confSum += ln.Confidence
			lines++
		}
	}
	if lines == 0 {
		return RawOutput{}, ErrNoMRZFound
	}
	return RawOutput{Text: sb.String(), Confidence: confSum / float64(lines)}, nil
}
