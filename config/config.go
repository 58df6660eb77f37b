package config

import (
	"fmt"
	"os"
	"path/filepath"
	"time"

	"github.com/joho/godotenv"
	"github.com/kelseyhightower/envconfig"
)

// Config enthält alle Konfigurationsparameter aus Umgebungsvariablen.
type Config struct {
	DBHost     string `envconfig:"DB_HOST" required:"true"`
	DBPort     int    `envconfig:"DB_PORT" default:"5432"`
	DBUser     string `envconfig:"DB_USER" required:"true"`
	DBPassword string `envconfig:"DB_PASSWORD" required:"true"`
	DBName     string `envconfig:"DB_NAME" required:"true"`

	HTTPPort     string `envconfig:"HTTP_PORT" default:"8000"`
	APISecretKey string `envconfig:"API_SECRET_KEY"`

	// Crawler-Konfiguration
	CrawlerUserAgent       string `envconfig:"CRAWLER_USER_AGENT" default:"AutoScholar/0.1.0 (Research Tool)"`
	CrawlerTimeoutSeconds  int    `envconfig:"CRAWLER_TIMEOUT" default:"30"`
	CrawlerMaxRetries      int    `envconfig:"CRAWLER_MAX_RETRIES" default:"3"`
	CrawlerRetryDelay      int    `envconfig:"CRAWLER_RETRY_DELAY" default:"5"`
	CrawlerConcurrentLimit int    `envconfig:"CRAWLER_CONCURRENT_LIMIT" default:"3"`

	HuggingFaceBaseURL string `envconfig:"HUGGINGFACE_BASE_URL" default:"https://huggingface.co/papers"`

	// LLM-Konfiguration: ein Default-Provider plus je Provider ein Satz Zugangsdaten.
	LLMDefaultProvider string `envconfig:"LLM_DEFAULT_PROVIDER" default:"openai"`
	LLMTimeoutSeconds  int    `envconfig:"LLM_TIMEOUT" default:"60"`
	LLMMaxRetries      int    `envconfig:"LLM_MAX_RETRIES" default:"2"`
	LLMRetryDelay      int    `envconfig:"LLM_RETRY_DELAY" default:"5"`

	OpenAIAPIKey      string  `envconfig:"OPENAI_API_KEY"`
	OpenAIAPIBase     string  `envconfig:"OPENAI_API_BASE" default:"https://api.openai.com/v1"`
	OpenAIModel       string  `envconfig:"OPENAI_MODEL" default:"gpt-4"`
	OpenAITemperature float64 `envconfig:"OPENAI_TEMPERATURE" default:"0.7"`
	OpenAIMaxTokens   int     `envconfig:"OPENAI_MAX_TOKENS" default:"4000"`

	QwenAPIKey      string  `envconfig:"QWEN_API_KEY"`
	QwenAPIBase     string  `envconfig:"QWEN_API_BASE" default:"https://dashscope.aliyuncs.com/compatible-mode/v1"`
	QwenModel       string  `envconfig:"QWEN_MODEL" default:"qwen-max"`
	QwenTemperature float64 `envconfig:"QWEN_TEMPERATURE" default:"0.7"`
	QwenMaxTokens   int     `envconfig:"QWEN_MAX_TOKENS" default:"4000"`

	ZhipuAPIKey      string  `envconfig:"ZHIPU_API_KEY"`
	ZhipuAPIBase     string  `envconfig:"ZHIPU_API_BASE" default:"https://open.bigmodel.cn/api/paas/v4"`
	ZhipuModel       string  `envconfig:"ZHIPU_MODEL" default:"glm-4"`
	ZhipuTemperature float64 `envconfig:"ZHIPU_TEMPERATURE" default:"0.7"`
	ZhipuMaxTokens   int     `envconfig:"ZHIPU_MAX_TOKENS" default:"4000"`

	KimiAPIKey      string  `envconfig:"KIMI_API_KEY"`
	KimiAPIBase     string  `envconfig:"KIMI_API_BASE" default:"https://api.moonshot.cn/v1"`
	KimiModel       string  `envconfig:"KIMI_MODEL" default:"moonshot-v1-8k"`
	KimiTemperature float64 `envconfig:"KIMI_TEMPERATURE" default:"0.7"`
	KimiMaxTokens   int     `envconfig:"KIMI_MAX_TOKENS" default:"4000"`

	// Cron-Zeitpläne für Crawl und Report-Generierung
	CronCrawlSchedule    string `envconfig:"CRON_CRAWL_SCHEDULE" default:"0 8 * * *"`
	CronGenerateSchedule string `envconfig:"CRON_GENERATE_SCHEDULE" default:"0 9 * * *"`

	// Ablagepfade für Reports, Temp-Dateien und Logs
	StorageReportsPath string `envconfig:"STORAGE_REPORTS_PATH" default:"./data/reports"`
	StorageTempPath    string `envconfig:"STORAGE_TEMP_PATH" default:"./data/temp"`
	StorageLogPath     string `envconfig:"STORAGE_LOG_PATH" default:"./data/logs"`

	// Optionales S3-Backup der gerenderten Reports
	BackupS3Bucket    string `envconfig:"BACKUP_S3_BUCKET"`
	BackupS3Endpoint  string `envconfig:"BACKUP_S3_ENDPOINT"`
	BackupS3AccessKey string `envconfig:"BACKUP_S3_ACCESS_KEY"`
	BackupS3SecretKey string `envconfig:"BACKUP_S3_SECRET_KEY"`
	BackupS3Region    string `envconfig:"BACKUP_S3_REGION"`
	KeepBackups       int    `envconfig:"KEEP_BACKUPS" default:"4"`
}

// ProviderConfig bündelt die Zugangsdaten für einen LLM-Provider.
type ProviderConfig struct {
	Name        string
	APIKey      string
	APIBase     string
	Model       string
	Temperature float64
	MaxTokens   int
}

// DSN gibt den Data Source Name für die PostgreSQL-Verbindung zurück.
func (c *Config) DSN() string {
	return fmt.Sprintf("host=%s user=%s password=%s dbname=%s port=%d sslmode=disable",
		c.DBHost, c.DBUser, c.DBPassword, c.DBName, c.DBPort)
}

// CrawlerTimeout gibt den Request-Timeout des Crawlers als Duration zurück.
func (c *Config) CrawlerTimeout() time.Duration {
	return time.Duration(c.CrawlerTimeoutSeconds) * time.Second
}

// LLMTimeout gibt den Request-Timeout für LLM-Aufrufe als Duration zurück.
func (c *Config) LLMTimeout() time.Duration {
	return time.Duration(c.LLMTimeoutSeconds) * time.Second
}

// ProviderFor liefert die Konfiguration für den angefragten LLM-Provider.
// Ein leerer Name fällt auf den Default-Provider zurück, ein unbekannter
// Name auf OpenAI.
func (c *Config) ProviderFor(name string) ProviderConfig {
	if name == "" {
		name = c.LLMDefaultProvider
	}
	switch name {
	case "qwen":
		return ProviderConfig{Name: "qwen", APIKey: c.QwenAPIKey, APIBase: c.QwenAPIBase, Model: c.QwenModel, Temperature: c.QwenTemperature, MaxTokens: c.QwenMaxTokens}
	case "zhipu":
		return ProviderConfig{Name: "zhipu", APIKey: c.ZhipuAPIKey, APIBase: c.ZhipuAPIBase, Model: c.ZhipuModel, Temperature: c.ZhipuTemperature, MaxTokens: c.ZhipuMaxTokens}
	case "kimi":
		return ProviderConfig{Name: "kimi", APIKey: c.KimiAPIKey, APIBase: c.KimiAPIBase, Model: c.KimiModel, Temperature: c.KimiTemperature, MaxTokens: c.KimiMaxTokens}
	default:
		return ProviderConfig{Name: "openai", APIKey: c.OpenAIAPIKey, APIBase: c.OpenAIAPIBase, Model: c.OpenAIModel, Temperature: c.OpenAITemperature, MaxTokens: c.OpenAIMaxTokens}
	}
}

// EnsureStorageDirs legt die konfigurierten Ablageverzeichnisse an.
func (c *Config) EnsureStorageDirs() error {
	for _, dir := range []string{c.StorageReportsPath, c.StorageTempPath, c.StorageLogPath} {
		if err := os.MkdirAll(filepath.Clean(dir), 0o755); err != nil {
			return fmt.Errorf("verzeichnis %s konnte nicht angelegt werden: %w", dir, err)
		}
	}
	return nil
}

// Load lädt die Konfiguration aus den Umgebungsvariablen.
func Load() (*Config, error) {
	_ = godotenv.Load()
	var c Config
	err := envconfig.Process("", &c)
	return &c, err
}
