// ABOUTME: Configuration loading and parsing for omni-gateway
// ABOUTME: Supports YAML files with environment variable expansion and duration parsing

package config

import (
	"fmt"
	"os"
	"regexp"
	"time"

	"gopkg.in/yaml.v3"
)

// Config represents the complete omni-gateway configuration
type Config struct {
	Server    ServerConfig    `yaml:"server"`
	Database  DatabaseConfig  `yaml:"database"`
	Providers ProvidersConfig `yaml:"providers"`
	Chatbot   ChatbotConfig   `yaml:"chatbot"`
	Dedupe    DedupeConfig    `yaml:"dedupe"`
	Events    EventsConfig    `yaml:"events"`
	Logging   LoggingConfig   `yaml:"logging"`
}

// ServerConfig holds server address configuration
type ServerConfig struct {
	HTTPAddr string `yaml:"http_addr"`
}

// DatabaseConfig selects and configures the storage backend
type DatabaseConfig struct {
	// Driver is "sqlite" (default) or "postgres"
	Driver string `yaml:"driver"`
	// Path is the SQLite database file
	Path string `yaml:"path"`
	// DSN is the Postgres connection string
	DSN string `yaml:"dsn"`
}

// ProvidersConfig holds the messaging provider integrations
type ProvidersConfig struct {
	// Active names the provider used for outbound sends
	Active    string          `yaml:"active"`
	ZAPI      ZAPIConfig      `yaml:"zapi"`
	Evolution EvolutionConfig `yaml:"evolution"`
}

// ZAPIConfig holds Z-API instance credentials
type ZAPIConfig struct {
	Enabled     bool   `yaml:"enabled"`
	InstanceID  string `yaml:"instance_id"`
	Token       string `yaml:"token"`
	ClientToken string `yaml:"client_token"`
}

// EvolutionConfig holds Evolution API instance credentials
type EvolutionConfig struct {
	Enabled  bool   `yaml:"enabled"`
	BaseURL  string `yaml:"base_url"`
	Instance string `yaml:"instance"`
	APIKey   string `yaml:"api_key"`
}

// ChatbotConfig holds auto-reply configuration
type ChatbotConfig struct {
	Enabled      bool         `yaml:"enabled"`
	BotName      string       `yaml:"bot_name"`
	BusinessName string       `yaml:"business_name"`
	// Generator is "static" (default) or "openai"
	Generator string       `yaml:"generator"`
	OpenAI    OpenAIConfig `yaml:"openai"`
}

// OpenAIConfig holds the LLM endpoint used when the chatbot generator is
// "openai". BaseURL may point at any compatible endpoint.
type OpenAIConfig struct {
	BaseURL string `yaml:"base_url"`
	APIKey  string `yaml:"api_key"`
	Model   string `yaml:"model"`
}

// DedupeConfig holds dedup cache tuning
type DedupeConfig struct {
	TTL        time.Duration `yaml:"-"`
	MaxEntries int           `yaml:"max_entries"`

	// Raw string value for YAML unmarshaling
	TTLRaw string `yaml:"ttl"`
}

// EventsConfig holds external event publishing configuration
type EventsConfig struct {
	AMQP AMQPConfig `yaml:"amqp"`
}

// AMQPConfig holds the optional broker publisher configuration
type AMQPConfig struct {
	Enabled  bool   `yaml:"enabled"`
	URL      string `yaml:"url"`
	Exchange string `yaml:"exchange"`
}

// LoggingConfig holds logging configuration
type LoggingConfig struct {
	Level  string `yaml:"level"`
	Format string `yaml:"format"`
}

// Load reads a configuration file from the given path and returns a parsed Config.
// Environment variables in the format ${VAR_NAME} are expanded.
// Duration strings are parsed into time.Duration values.
func Load(path string) (*Config, error) {
	data, err := os.ReadFile(path)
	if err != nil {
		return nil, fmt.Errorf("reading config file: %w", err)
	}

	// Expand environment variables in the raw YAML content
	expandedData := expandEnvVars(string(data))

	var cfg Config
	if err := yaml.Unmarshal([]byte(expandedData), &cfg); err != nil {
		return nil, fmt.Errorf("parsing config file: %w", err)
	}

	applyDefaults(&cfg)

	// Parse duration fields
	if err := parseDurations(&cfg); err != nil {
		return nil, fmt.Errorf("parsing durations: %w", err)
	}

	// Validate required fields
	if err := cfg.Validate(); err != nil {
		return nil, fmt.Errorf("validating config: %w", err)
	}

	return &cfg, nil
}

// expandEnvVars replaces ${VAR_NAME} patterns with the corresponding environment variable values.
// If the environment variable is not set, it is replaced with an empty string.
func expandEnvVars(s string) string {
	// Match ${VAR_NAME} pattern
	re := regexp.MustCompile(`\$\{([^}]+)\}`)

	return re.ReplaceAllStringFunc(s, func(match string) string {
		// Extract variable name from ${VAR_NAME}
		varName := re.FindStringSubmatch(match)[1]
		return os.Getenv(varName)
	})
}

// applyDefaults fills in the values a minimal config file can omit.
func applyDefaults(cfg *Config) {
	if cfg.Database.Driver == "" {
		cfg.Database.Driver = "sqlite"
	}
	if cfg.Chatbot.Generator == "" {
		cfg.Chatbot.Generator = "static"
	}
	if cfg.Chatbot.BotName == "" {
		cfg.Chatbot.BotName = "Sofia"
	}
	if cfg.Chatbot.OpenAI.Model == "" {
		cfg.Chatbot.OpenAI.Model = "gpt-4o"
	}
	if cfg.Dedupe.MaxEntries == 0 {
		cfg.Dedupe.MaxEntries = 100_000
	}
	if cfg.Events.AMQP.Exchange == "" {
		cfg.Events.AMQP.Exchange = "omni.messages"
	}
}

// Validate checks that all required configuration fields are present and valid.
// Returns an error describing the first validation failure encountered.
func (c *Config) Validate() error {
	if c.Server.HTTPAddr == "" {
		return fmt.Errorf("server.http_addr is required")
	}

	switch c.Database.Driver {
	case "sqlite":
		if c.Database.Path == "" {
			return fmt.Errorf("database.path is required with the sqlite driver")
		}
	case "postgres":
		if c.Database.DSN == "" {
			return fmt.Errorf("database.dsn is required with the postgres driver")
		}
	default:
		return fmt.Errorf("database.driver must be sqlite or postgres, got %q", c.Database.Driver)
	}

	switch c.Providers.Active {
	case "":
		// No outbound provider: inbound-only deployment.
	case "zapi":
		if !c.Providers.ZAPI.Enabled {
			return fmt.Errorf("providers.active is zapi but providers.zapi.enabled is false")
		}
	case "evolution":
		if !c.Providers.Evolution.Enabled {
			return fmt.Errorf("providers.active is evolution but providers.evolution.enabled is false")
		}
	default:
		return fmt.Errorf("providers.active must be zapi or evolution, got %q", c.Providers.Active)
	}

	if c.Providers.ZAPI.Enabled {
		if c.Providers.ZAPI.InstanceID == "" || c.Providers.ZAPI.Token == "" {
			return fmt.Errorf("providers.zapi.instance_id and providers.zapi.token are required when zapi is enabled")
		}
	}
	if c.Providers.Evolution.Enabled {
		if c.Providers.Evolution.BaseURL == "" || c.Providers.Evolution.Instance == "" {
			return fmt.Errorf("providers.evolution.base_url and providers.evolution.instance are required when evolution is enabled")
		}
	}

	switch c.Chatbot.Generator {
	case "static":
	case "openai":
		if c.Chatbot.Enabled && c.Chatbot.OpenAI.APIKey == "" {
			return fmt.Errorf("chatbot.openai.api_key is required with the openai generator")
		}
	default:
		return fmt.Errorf("chatbot.generator must be static or openai, got %q", c.Chatbot.Generator)
	}

	if c.Events.AMQP.Enabled && c.Events.AMQP.URL == "" {
		return fmt.Errorf("events.amqp.url is required when amqp is enabled")
	}

	return nil
}

// parseDurations converts the raw duration strings into time.Duration values
func parseDurations(cfg *Config) error {
	cfg.Dedupe.TTL = 5 * time.Minute
	if cfg.Dedupe.TTLRaw != "" {
		ttl, err := time.ParseDuration(cfg.Dedupe.TTLRaw)
		if err != nil {
			return fmt.Errorf("parsing dedupe.ttl %q: %w", cfg.Dedupe.TTLRaw, err)
		}
		cfg.Dedupe.TTL = ttl
	}
	return nil
}
