package config

import (
	"errors"
	"fmt"
	"os"
	"strings"
	"time"

	"gopkg.in/yaml.v3"

	"CatalogEnricher/internal/domain"
	"CatalogEnricher/internal/ports"
)

const (
	configPathEnv     = "CATALOG_ENRICHER_CONFIG"
	databaseDSNEnv    = "DATABASE_DSN"
	databaseDriverEnv = "DATABASE_DRIVER"
	providerEnv       = "INFERENCE_PROVIDER"
	modelEnv          = "INFERENCE_MODEL"
	geminiAPIKeyEnv   = "GEMINI_API_KEY"
	openAIAPIKeyEnv   = "OPENAI_API_KEY"
	telegramTokenEnv  = "TELEGRAM_BOT_TOKEN"
	telegramChatIDEnv = "TELEGRAM_CHAT_ID"
	logLevelEnv       = "LOG_LEVEL"
)

// ErrInvalid wraps every configuration validation failure.
var ErrInvalid = errors.New("invalid configuration")

// Config holds high-level settings required across the application.
type Config struct {
	Database      DatabaseConfig      `yaml:"database"`
	Inference     InferenceConfig     `yaml:"inference"`
	Retry         RetryConfig         `yaml:"retry"`
	Run           RunConfig           `yaml:"run"`
	Assets        AssetConfig         `yaml:"assets"`
	Schema        domain.OutputSchema `yaml:"schema"`
	Scheduler     SchedulerConfig     `yaml:"scheduler"`
	Notifications NotificationConfig  `yaml:"notifications"`
	Metrics       MetricsConfig       `yaml:"metrics"`
	Logging       LoggingConfig       `yaml:"logging"`
}

// DatabaseConfig describes the record store connection.
type DatabaseConfig struct {
	Driver string `yaml:"driver"`
	DSN    string `yaml:"dsn"`
}

// InferenceConfig defines how to contact the inference provider.
type InferenceConfig struct {
	Provider     string        `yaml:"provider"`
	Endpoint     string        `yaml:"endpoint"`
	Model        string        `yaml:"model"`
	APIKey       string        `yaml:"apiKey"`
	SystemPrompt string        `yaml:"systemPrompt"`
	Timeout      time.Duration `yaml:"timeout"`
	PromptBudget int           `yaml:"promptBudget"`
	Grounding    bool          `yaml:"grounding"`
}

// RetryConfig bounds retries on provider throttling.
type RetryConfig struct {
	MaxAttempts int           `yaml:"maxAttempts"`
	BaseDelay   time.Duration `yaml:"baseDelay"`
	MaxDelay    time.Duration `yaml:"maxDelay"`
	Jitter      time.Duration `yaml:"jitter"`
}

// RunConfig shapes a single enrichment run.
type RunConfig struct {
	BatchSize         int                `yaml:"batchSize"`
	MaxItemsPerRun    int                `yaml:"maxItemsPerRun"`
	Order             domain.OrderPolicy `yaml:"order"`
	Seed              int64              `yaml:"seed"`
	SamplePool        int                `yaml:"samplePool"`
	ItemPacing        time.Duration      `yaml:"itemPacing"`
	BatchCooldown     time.Duration      `yaml:"batchCooldown"`
	DescriptionBudget int                `yaml:"descriptionBudget"`
}

// AssetConfig bounds thumbnail retrieval.
type AssetConfig struct {
	Timeout  time.Duration `yaml:"timeout"`
	MaxBytes int64         `yaml:"maxBytes"`
}

// SchedulerConfig defines how often watch mode starts a run.
type SchedulerConfig struct {
	Interval time.Duration `yaml:"interval"`
}

// NotificationConfig encapsulates outbound channels (Telegram, etc.).
type NotificationConfig struct {
	Telegram TelegramConfig `yaml:"telegram"`
}

// TelegramConfig wires all data required to send messages.
type TelegramConfig struct {
	BotToken string `yaml:"botToken"`
	ChatID   string `yaml:"chatId"`
}

// Enabled reports whether both credentials are present.
func (t TelegramConfig) Enabled() bool {
	return t.BotToken != "" && t.ChatID != ""
}

// MetricsConfig controls the Prometheus endpoint in watch mode.
type MetricsConfig struct {
	Addr string `yaml:"addr"`
}

// LoggingConfig selects level and handler.
type LoggingConfig struct {
	Level  string `yaml:"level"`
	Format string `yaml:"format"`
}

// PathFromEnv returns the config path configured through the environment.
func PathFromEnv() string {
	return os.Getenv(configPathEnv)
}

// Load reads YAML configuration (if a path is given) over the defaults and
// applies environment overrides. It does not validate.
func Load(path string) (Config, error) {
	cfg := Default()

	if path != "" {
		raw, err := os.ReadFile(path)
		if err != nil {
			return Config{}, fmt.Errorf("config: read %s: %w", path, err)
		}
		if err := yaml.Unmarshal(raw, &cfg); err != nil {
			return Config{}, fmt.Errorf("config: parse %s: %w", path, err)
		}
	}

	cfg.applyEnvOverrides()
	if len(cfg.Schema.Fields) == 0 {
		cfg.Schema = domain.DefaultSchema()
	}
	if cfg.Inference.Endpoint == "" {
		cfg.Inference.Endpoint = defaultEndpoint(cfg.Inference.Provider)
	}
	if cfg.Inference.Model == "" {
		cfg.Inference.Model = defaultModel(cfg.Inference.Provider)
	}
	return cfg, nil
}

func (c *Config) applyEnvOverrides() {
	if v := os.Getenv(databaseDSNEnv); v != "" {
		c.Database.DSN = v
	}
	if v := os.Getenv(databaseDriverEnv); v != "" {
		c.Database.Driver = v
	}
	if v := os.Getenv(providerEnv); v != "" {
		c.Inference.Provider = v
	}
	if v := os.Getenv(modelEnv); v != "" {
		c.Inference.Model = v
	}

	switch c.Inference.Provider {
	case ProviderGemini:
		if v := os.Getenv(geminiAPIKeyEnv); v != "" {
			c.Inference.APIKey = v
		}
	case ProviderOpenAI:
		if v := os.Getenv(openAIAPIKeyEnv); v != "" {
			c.Inference.APIKey = v
		}
	}

	if v := os.Getenv(telegramTokenEnv); v != "" {
		c.Notifications.Telegram.BotToken = v
	}
	if v := os.Getenv(telegramChatIDEnv); v != "" {
		c.Notifications.Telegram.ChatID = v
	}
	if v := os.Getenv(logLevelEnv); v != "" {
		c.Logging.Level = v
	}
}

// Validate reports the first configuration problem that would prevent a run.
func (c Config) Validate() error {
	var problems []string

	switch c.Database.Driver {
	case DriverPostgres, DriverSQLite:
	default:
		problems = append(problems, fmt.Sprintf("database.driver %q is not one of postgres, sqlite", c.Database.Driver))
	}
	if strings.TrimSpace(c.Database.DSN) == "" {
		problems = append(problems, "database.dsn is required")
	}

	switch c.Inference.Provider {
	case ProviderGemini, ProviderOpenAI:
	default:
		problems = append(problems, fmt.Sprintf("inference.provider %q is not one of gemini, openai", c.Inference.Provider))
	}
	if strings.TrimSpace(c.Inference.APIKey) == "" {
		problems = append(problems, "inference api key is required")
	}
	if c.Inference.Model == "" {
		problems = append(problems, "inference.model is required")
	}

	if c.Retry.MaxAttempts <= 0 {
		problems = append(problems, "retry.maxAttempts must be positive")
	}
	if c.Retry.BaseDelay <= 0 {
		problems = append(problems, "retry.baseDelay must be positive")
	}
	if c.Retry.Jitter > c.Retry.BaseDelay {
		problems = append(problems, "retry.jitter must not exceed retry.baseDelay")
	}

	if c.Run.BatchSize <= 0 {
		problems = append(problems, "run.batchSize must be positive")
	}
	if c.Run.MaxItemsPerRun <= 0 || c.Run.MaxItemsPerRun > ports.MaxExclude {
		problems = append(problems, fmt.Sprintf("run.maxItemsPerRun must be between 1 and %d", ports.MaxExclude))
	}
	if !c.Run.Order.Valid() {
		problems = append(problems, fmt.Sprintf("run.order %q is not one of priority, random", c.Run.Order))
	}

	if len(c.Schema.Fields) == 0 {
		problems = append(problems, "schema.fields must not be empty")
	}
	seen := map[string]bool{}
	for _, f := range c.Schema.Fields {
		if f.Name == "" {
			problems = append(problems, "schema field name is required")
			continue
		}
		if seen[f.Name] {
			problems = append(problems, fmt.Sprintf("schema field %q is duplicated", f.Name))
		}
		seen[f.Name] = true
		if !f.Type.Valid() {
			problems = append(problems, fmt.Sprintf("schema field %q has unknown type %q", f.Name, f.Type))
		}
	}

	if len(problems) > 0 {
		return fmt.Errorf("%w: %s", ErrInvalid, strings.Join(problems, "; "))
	}
	return nil
}
