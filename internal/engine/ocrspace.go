package engine

import (
	"context"
	"encoding/base64"
	"encoding/json"
	"errors"
	"net/http"
	"net/url"
	"strings"
)

// OCRSpace calls the ocr.space parse API with a base64-encoded image in
// a form-urlencoded body.
type OCRSpace struct {
	endpoint string
	apiKey   string
	client   *http.Client
}

func NewOCRSpace(endpoint, apiKey string) *OCRSpace {
	return &OCRSpace{endpoint: endpoint, apiKey: apiKey, client: newHTTPClient()}
}

func (o *OCRSpace) Name() string { return "ocr_space" }

type ocrSpaceResponse struct {
	ParsedResults []struct {
		ParsedText string `json:"ParsedText"`
	} `json:"ParsedResults"`
	IsErroredOnProcessing bool            `json:"IsErroredOnProcessing"`
	ErrorMessage          json.RawMessage `json:"ErrorMessage"`
}

func (o *OCRSpace) Invoke(ctx context.Context, image []byte) (RawOutput, error) {
	form := url.Values{}
	form.Set("apikey", o.apiKey)
	form.Set("language", "eng")
	form.Set("isOverlayRequired", "false")
	form.Set("OCREngine", "2")
	form.Set("base64Image", "data:image/jpeg;base64,"+base64.StdEncoding.EncodeToString(image))

	req, err := http.NewRequestWithContext(ctx, http.MethodPost, o.endpoint, strings.NewReader(form.Encode()))
	if err != nil {
		return RawOutput{}, &ProviderError{Engine: o.Name(), Err: err}
	}
	req.Header.Set("Content-Type", "application/x-www-form-urlencoded")

	body, err := doProviderRequest(o.client, o.Name(), req)
	if err != nil {
		return RawOutput{}, err
	}

	var parsed ocrSpaceResponse
	if err := json.Unmarshal(body, &parsed); err != nil {
		return RawOutput{}, &ProviderError{Engine: o.Name(), Err: err}
	}
	if parsed.IsErroredOnProcessing {
		return RawOutput{}, &ProviderError{
			Engine: o.Name(),
			Err:    errors.New(strings.TrimSpace(string(parsed.ErrorMessage))),
		}
	}

	var sb strings.Builder
	for _, r := range parsed.ParsedResults {
		if r.ParsedText != "" {
			sb.WriteString(r.ParsedText)
			sb.WriteByte('\n')
		}
	}
	if sb.Len() == 0 {
		return RawOutput{}, ErrNoMRZFound
	}
	return RawOutput{Text: sb.String()}, nil
}
