package engine

import (
	"bytes"
	"context"
	"encoding/base64"
	"encoding/json"
	"net/http"
	"strings"
)

// YandexVision calls the Vision batchAnalyze text-detection API. The
// response nesting varies between detection modes, so text extraction
// walks the decoded payload for text nodes instead of binding a schema.
type YandexVision struct {
	endpoint string
	apiKey   string
	client   *http.Client
}

func NewYandexVision(endpoint, apiKey string) *YandexVision {
	return &YandexVision{endpoint: endpoint, apiKey: apiKey, client: newHTTPClient()}
}

func (y *YandexVision) Name() string { return "yandex_vision" }

func (y *YandexVision) Invoke(ctx context.Context, image []byte) (RawOutput, error) {
	payload := map[string]any{
		"analyze_specs": []map[string]any{
			{
				"content": base64.StdEncoding.EncodeToString(image),
				"features": []map[string]any{
					{
						"type":                  "TEXT_DETECTION",
						"text_detection_config": map[string]any{"language_codes": []string{"en"}},
					},
				},
			},
		},
	}
	encoded, err := json.Marshal(payload)
	if err != nil {
		return RawOutput{}, &ProviderError{Engine: y.Name(), Err: err}
	}

	req, err := http.NewRequestWithContext(ctx, http.MethodPost, y.endpoint, bytes.NewReader(encoded))
	if err != nil {
		return RawOutput{}, &ProviderError{Engine: y.Name(), Err: err}
	}
	req.Header.Set("Content-Type", "application/json")
	req.Header.Set("Authorization", "Api-Key "+y.apiKey)

	body, err := doProviderRequest(y.client, y.Name(), req)
	if err != nil {
		return RawOutput{}, err
	}

	var decoded any
	if err := json.Unmarshal(body, &decoded); err != nil {
		return RawOutput{}, &ProviderError{Engine: y.Name(), Err: err}
	}

	blocks := collectTextNodes(decoded, nil)
	if len(blocks) == 0 {
		return RawOutput{}, ErrNoMRZFound
	}
	return RawOutput{Text: strings.Join(blocks, "\n")}, nil
}

func collectTextNodes(node any, acc []string) []string {
	switch v := node.(type) {
	case map[string]any:
		for key, value := range v {
			if key == "text" || key == "fullText" {
				if s, ok := value.(string); ok && strings.TrimSpace(s) != "" {
					acc = append(acc, s)
					continue
				}
			}
			acc = collectTextNodes(value, acc)
		}
	case []any:
		for _, item := range v {
			acc = collectTextNodes(item, acc)
		}
	}
	return acc
}
