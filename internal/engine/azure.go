package engine

import (
	"bytes"
	"context"
	"encoding/json"
	"net/http"
	"strings"
)

// Azure drives the Computer Vision synchronous OCR endpoint, configured
// in the chain under the provider name azapi.
type Azure struct {
	endpoint string
	apiKey   string
	client   *http.Client
}

func NewAzure(endpoint, apiKey string) *Azure {
	return &Azure{
		endpoint: strings.TrimRight(endpoint, "/") + "/vision/v3.2/ocr?language=unk&detectOrientation=true",
		apiKey:   apiKey,
		client:   newHTTPClient(),
	}
}

func (a *Azure) Name() string { return "azapi" }

type azureOCRResponse struct {
	Regions []struct {
		Lines []struct {
			Words []struct {
				Text string `json:"text"`
			} `json:"words"`
		} `json:"lines"`
	} `json:"regions"`
}

func (a *Azure) Invoke(ctx context.Context, image []byte) (RawOutput, error) {
	req, err := http.NewRequestWithContext(ctx, http.MethodPost, a.endpoint, bytes.NewReader(image))
	if err != nil {
		return RawOutput{}, &ProviderError{Engine: a.Name(), Err: err}
	}
	req.Header.Set("Content-Type", "application/octet-stream")
	req.Header.Set("Ocp-Apim-Subscription-Key", a.apiKey)

	body, err := doProviderRequest(a.client, a.Name(), req)
	if err != nil {
		return RawOutput{}, err
	}

	var parsed azureOCRResponse
	if err := json.Unmarshal(body, &parsed); err != nil {
		return RawOutput{}, &ProviderError{Engine: a.Name(), Err: err}
	}

	var sb strings.Builder
	for _, region := range parsed.Regions {
		for _, line := range region.Lines {
			words := make([]string, 0, len(line.Words))
			for _, w := range line.Words {
				words = append(words, w.Text)
			}
			if len(words) > 0 {
				sb.WriteString(strings.Join(words, ""))
				sb.WriteByte('\n')
			}
		}
	}
	if sb.Len() == 0 {
		return RawOutput{}, ErrNoMRZFound
	}
	return RawOutput{Text: sb.String()}, nil
}
