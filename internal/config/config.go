package config

import (
	"os"
	"strconv"
	"strings"
)

// DatabaseConfig holds PostgreSQL database connection settings.
type DatabaseConfig struct {
	Host               string
	Port               string
	User               string
	Password           string
	Name               string
	SSLMode            string
	MaxOpenConns       int
	MaxIdleConns       int
	ConnMaxLifetimeSec int
}

// MinIOConfig holds object storage settings for the image store.
type MinIOConfig struct {
	Endpoint  string
	AccessKey string
	SecretKey string
	Bucket    string
	UseSSL    bool
}

// PipelineConfig drives the job orchestrator: the acceptance threshold
// and the bounded intake.
type PipelineConfig struct {
	// MinConfidence is the auto-accept threshold the fallback chain and
	// orchestrator act on.
	MinConfidence float64
	// Workers is the number of concurrent job processors.
	Workers int
	// QueueCapacity bounds total intake; submissions beyond it fail fast.
	QueueCapacity int
}

// EnginesConfig lists the enabled OCR providers in fallback order along
// with the per-stage timeout/retry policy and provider credentials.
type EnginesConfig struct {
	// Providers is the ordered fallback chain. Later engines are the
	// costlier fallbacks, not faster alternatives.
	Providers []string

	TimeoutSec            int
	RetryMaxTries         int
	RetryInitialBackoffMS int
	RetryMaxBackoffMS     int

	PaddleEndpoint   string
	OCRSpaceEndpoint string
	OCRSpaceAPIKey   string
	AzureEndpoint    string
	AzureAPIKey      string
	YandexEndpoint   string
	YandexAPIKey     string
	TesseractLangs   string
}

// QualityConfig carries the quality gate thresholds. The semantics are
// fixed; the exact numbers are deployment tuning.
type QualityConfig struct {
	MinSharpness   float64
	MinBrightness  float64
	MaxBrightness  float64
	MaxSkewDegrees float64
}

// SLAConfig controls decision telemetry. Metrics are off by default; the
// breach signal fires when the rolling auto-accept ratio drops below
// BreachThresholdRatio.
type SLAConfig struct {
	MetricsEnabled       bool
	BreachThresholdRatio float64
	WindowSize           int
}

// CRMConfig points at the downstream connector that consumes accepted
// results.
type CRMConfig struct {
	WebhookURL    string
	APIToken      string
	TimeoutSec    int
	RetryMaxTries int
}

// AppConfig is the centralized configuration struct for the application,
// assembled once at startup and threaded explicitly into constructors.
// Sensitive values are not hardcoded.
type AppConfig struct {
	AppHost  string
	Port     string
	Database DatabaseConfig
	MinIO    MinIOConfig
	Pipeline PipelineConfig
	Engines  EnginesConfig
	Quality  QualityConfig
	SLA      SLAConfig
	CRM      CRMConfig
}

// Load reads configuration from environment variables.
// A .env file can be auto-loaded by importing: _ "github.com/joho/godotenv/autoload"
// This function does not require a .env file; real environment variables take precedence.
func Load() *AppConfig {
	return &AppConfig{
		AppHost: getEnv("APP_HOST", "localhost:8080"),
		Port:    getEnv("PORT", "8080"),
		Database: DatabaseConfig{
			Host:               getEnv("DB_HOST", ""),
			Port:               getEnv("DB_PORT", "5432"),
			User:               getEnv("DB_USER", ""),
			Password:           getEnv("DB_PASSWORD", ""),
			Name:               getEnv("DB_NAME", ""),
			SSLMode:            getEnv("DB_SSLMODE", "disable"),
			MaxOpenConns:       getEnvInt("DB_MAX_OPEN_CONNS", 10),
			MaxIdleConns:       getEnvInt("DB_MAX_IDLE_CONNS", 5),
			ConnMaxLifetimeSec: getEnvInt("DB_CONN_MAX_LIFETIME_SEC", 300),
		},
		MinIO: MinIOConfig{
			Endpoint:  getEnv("MINIO_ENDPOINT", ""),
			AccessKey: getEnv("MINIO_ACCESS_KEY", ""),
			SecretKey: getEnv("MINIO_SECRET_KEY", ""),
			Bucket:    getEnv("MINIO_BUCKET", ""),
			UseSSL:    getEnvBool("MINIO_USE_SSL", false),
		},
		Pipeline: PipelineConfig{
			MinConfidence: getEnvFloat("OCR_MIN_CONFIDENCE", 0.80),
			Workers:       getEnvInt("OCR_WORKERS", 4),
			QueueCapacity: getEnvInt("OCR_QUEUE_CAPACITY", 64),
		},
		Engines: EnginesConfig{
			Providers:             splitList(getEnv("OCR_PROVIDERS", "paddle,ocr_space,azapi,yandex_vision")),
			TimeoutSec:            getEnvInt("OCR_PROVIDER_TIMEOUT_SEC", 5),
			RetryMaxTries:         getEnvInt("OCR_RETRY_MAX_TRIES", 2),
			RetryInitialBackoffMS: getEnvInt("OCR_RETRY_INITIAL_BACKOFF_MS", 200),
			RetryMaxBackoffMS:     getEnvInt("OCR_RETRY_MAX_BACKOFF_MS", 2000),
			PaddleEndpoint:        getEnv("OCR_PADDLE_ENDPOINT", ""),
			OCRSpaceEndpoint:      getEnv("OCR_SPACE_ENDPOINT", "https://api.ocr.space/parse/image"),
			OCRSpaceAPIKey:        getEnv("OCR_SPACE_API_KEY", ""),
			AzureEndpoint:         getEnv("OCR_AZURE_ENDPOINT", ""),
			AzureAPIKey:           getEnv("OCR_AZURE_API_KEY", ""),
			YandexEndpoint:        getEnv("OCR_YANDEX_ENDPOINT", "https://vision.api.cloud.yandex.net/vision/v1/batchAnalyze"),
			YandexAPIKey:          getEnv("OCR_YANDEX_API_KEY", ""),
			TesseractLangs:        getEnv("OCR_TESSERACT_LANGS", "eng"),
		},
		Quality: QualityConfig{
			MinSharpness:   getEnvFloat("QUALITY_MIN_SHARPNESS", 80),
			MinBrightness:  getEnvFloat("QUALITY_MIN_BRIGHTNESS", 60),
			MaxBrightness:  getEnvFloat("QUALITY_MAX_BRIGHTNESS", 200),
			MaxSkewDegrees: getEnvFloat("QUALITY_MAX_SKEW_DEGREES", 12),
		},
		SLA: SLAConfig{
			MetricsEnabled:       getEnvBool("SLA_METRICS_ENABLED", false),
			BreachThresholdRatio: getEnvFloat("SLA_BREACH_THRESHOLD_RATIO", 0.9),
			WindowSize:           getEnvInt("SLA_WINDOW_SIZE", 50),
		},
		CRM: CRMConfig{
			WebhookURL:    getEnv("CRM_WEBHOOK_URL", ""),
			APIToken:      getEnv("CRM_API_TOKEN", ""),
			TimeoutSec:    getEnvInt("CRM_TIMEOUT_SEC", 5),
			RetryMaxTries: getEnvInt("CRM_RETRY_MAX_TRIES", 3),
		},
	}
}

func splitList(v string) []string {
	parts := strings.Split(v, ",")
	out := make([]string, 0, len(parts))
	for _, p := range parts {
		if p = strings.TrimSpace(p); p != "" {
			out = append(out, p)
		}
	}
	return out
}

func getEnv(key, def string) string {
	if v := os.Getenv(key); v != "" {
		return v
	}
	return def
}

func getEnvBool(key string, def bool) bool {
	if v := os.Getenv(key); v != "" {
		b, err := strconv.ParseBool(v)
		if err == nil {
			return b
		}
	}
	return def
}

func getEnvInt(key string, def int) int {
	if v := os.Getenv(key); v != "" {
		i, err := strconv.Atoi(v)
		if err == nil {
			return i
		}
	}
	return def
}

func getEnvFloat(key string, def float64) float64 {
	if v := os.Getenv(key); v != "" {
		f, err := strconv.ParseFloat(v, 64)
		if err == nil {
			return f
		}
	}
	return def
}
