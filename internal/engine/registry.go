package engine

import (
	"fmt"

	"mrzgate/internal/config"
)

// Build assembles the provider list in the configured fallback order.
// Unknown names and missing credentials fail at startup rather than
// surfacing mid-job.
func Build(cfg config.EnginesConfig) ([]Engine, error) {
	engines := make([]Engine, 0, len(cfg.Providers))
	for _, name := range cfg.Providers {
		switch name {
		case "tesseract":
			engines = append(engines, NewTesseract(cfg.TesseractLangs))
		case "paddle":
			if cfg.PaddleEndpoint == "" {
				return nil, fmt.Errorf("engine %s: endpoint is required", name)
			}
			engines = append(engines, NewPaddle(cfg.PaddleEndpoint))
		case "ocr_space":
			if cfg.OCRSpaceAPIKey == "" {
				return nil, fmt.Errorf("engine %s: api key is required", name)
			}
			engines = append(engines, NewOCRSpace(cfg.OCRSpaceEndpoint, cfg.OCRSpaceAPIKey))
		case "azapi":
			if cfg.AzureEndpoint == "" || cfg.AzureAPIKey == "" {
				return nil, fmt.Errorf("engine %s: endpoint and api key are required", name)
			}
			engines = append(engines, NewAzure(cfg.AzureEndpoint, cfg.AzureAPIKey))
		case "yandex_vision":
			if cfg.YandexAPIKey == "" {
				return nil, fmt.Errorf("engine %s: api key is required", name)
			}
			engines = append(engines, NewYandexVision(cfg.YandexEndpoint, cfg.YandexAPIKey))
		default:
			return nil, fmt.Errorf("unknown ocr engine %q", name)
		}
	}
	if len(engines) == 0 {
		return nil, fmt.Errorf("no ocr engines configured")
	}
	return engines, nil
}
