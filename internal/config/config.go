package config

import (
	"errors"
	"fmt"
	"os"
	"strconv"
	"strings"

	"gopkg.in/yaml.v3"
)

type TelemetryConfig struct {
	LogLevel       string `yaml:"log_level"`
	OTLPEndpoint   string `yaml:"otlp_endpoint"`
	OTLPInsecure   bool   `yaml:"otlp_insecure"`
	PrometheusBind string `yaml:"prometheus_bind"`
}

type HTTPConfig struct {
	Bind string `yaml:"bind"`
	Port int    `yaml:"port"`
}

type Config struct {
	ServiceName string          `yaml:"service_name"`
	Environment string          `yaml:"environment"`
	HTTP        HTTPConfig      `yaml:"http"`
	Telemetry   TelemetryConfig `yaml:"telemetry"`
	Server      ServerConfig    `yaml:"server"`
	Cache       CacheConfig     `yaml:"cache"`
	History     HistoryConfig   `yaml:"history"`
	Bus         BusConfig       `yaml:"bus"`
}

// ServerConfig describes the remote synthesis server and the parameters sent
// with each protocol exchange.
type ServerConfig struct {
	BaseURL        string   `yaml:"base_url"`
	TimeoutSeconds int      `yaml:"timeout_seconds"`
	RetryCount     int      `yaml:"retry_count"`
	DefaultVoice   string   `yaml:"default_voice"`
	Voices         []string `yaml:"voices"`
	RefineText     bool     `yaml:"refine_text"`
	Temperature    float64  `yaml:"temperature"`
	TopP           float64  `yaml:"top_p"`
	TopK           int      `yaml:"top_k"`
	BatchSize      int      `yaml:"batch_size"`
}

type CacheConfig struct {
	Enabled    bool `yaml:"enabled"`
	Capacity   int  `yaml:"capacity"`
	TTLSeconds int  `yaml:"ttl_seconds"`
}

type HistoryConfig struct {
	Enabled       bool   `yaml:"enabled"`
	Path          string `yaml:"path"`
	RetentionDays int    `yaml:"retention_days"`
	MaxRecords    int    `yaml:"max_records"`
	VacuumOnStart bool   `yaml:"vacuum_on_start"`
}

type BusConfig struct {
	Enabled        bool     `yaml:"enabled"`
	Embedded       bool     `yaml:"embedded"`
	Port           int      `yaml:"port"`
	StoreDir       string   `yaml:"store_dir"`
	Servers        []string `yaml:"servers"`
	Username       string   `yaml:"username"`
	Password       string   `yaml:"password"`
	Token          string   `yaml:"token"`
	TLSInsecure    bool     `yaml:"tls_insecure"`
	ConnectTimeout int      `yaml:"connect_timeout_ms"`
}

func Default() Config {
	return Config{
		ServiceName: "ttsmated",
		Environment: "development",
		HTTP: HTTPConfig{
			Bind: "0.0.0.0",
			Port: 8080,
		},
		Telemetry: TelemetryConfig{
			LogLevel:       "info",
			OTLPEndpoint:   "",
			OTLPInsecure:   true,
			PrometheusBind: ":9091",
		},
		Server: ServerConfig{
			BaseURL:        "http://localhost:7860",
			TimeoutSeconds: 30,
			RetryCount:     3,
			DefaultVoice:   "Default",
			Voices: []string{
				"Default", "Timbre1", "Timbre2", "Timbre3", "Timbre4",
				"Timbre5", "Timbre6", "Timbre7", "Timbre8", "Timbre9",
			},
			RefineText:  true,
			Temperature: 0.3,
			TopP:        0.7,
			TopK:        20,
			BatchSize:   4,
		},
		Cache: CacheConfig{
			Enabled:    true,
			Capacity:   100,
			TTLSeconds: 3600,
		},
		History: HistoryConfig{
			Enabled:       true,
			Path:          "./data/ttsmate-history.db",
			RetentionDays: 30,
			MaxRecords:    10000,
		},
		Bus: BusConfig{
			Enabled:        false,
			Embedded:       true,
			Port:           4222,
			StoreDir:       "./data/nats",
			Servers:        []string{"nats://localhost:4222"},
			ConnectTimeout: 2000,
		},
	}
}

func Load(path string) (Config, error) {
	cfg := Default()

	if path != "" {
		data, err := os.ReadFile(path)
		if err != nil {
			if os.IsNotExist(err) {
				return cfg, fmt.Errorf("config file not found: %w", err)
			}
			return cfg, fmt.Errorf("failed to read config file: %w", err)
		}
		if err := yaml.Unmarshal(data, &cfg); err != nil {
			return cfg, fmt.Errorf("failed to parse config file: %w", err)
		}
	}

	applyEnvOverrides(&cfg)
	if err := validate(cfg); err != nil {
		return cfg, err
	}
	return cfg, nil
}

func applyEnvOverrides(cfg *Config) {
	overrideString(&cfg.ServiceName, "TTSMATE_SERVICE_NAME")
	overrideString(&cfg.Environment, "TTSMATE_ENVIRONMENT")
	overrideString(&cfg.HTTP.Bind, "TTSMATE_HTTP_BIND")
	overrideInt(&cfg.HTTP.Port, "TTSMATE_HTTP_PORT")
	overrideString(&cfg.Telemetry.LogLevel, "TTSMATE_TELEMETRY_LOG_LEVEL")
	overrideString(&cfg.Telemetry.OTLPEndpoint, "TTSMATE_TELEMETRY_OTLP_ENDPOINT")
	overrideBool(&cfg.Telemetry.OTLPInsecure, "TTSMATE_TELEMETRY_OTLP_INSECURE")
	overrideString(&cfg.Telemetry.PrometheusBind, "TTSMATE_TELEMETRY_PROMETHEUS_BIND")
	overrideString(&cfg.Server.BaseURL, "TTSMATE_SERVER_BASE_URL")
	overrideInt(&cfg.Server.TimeoutSeconds, "TTSMATE_SERVER_TIMEOUT_SECONDS")
	overrideInt(&cfg.Server.RetryCount, "TTSMATE_SERVER_RETRY_COUNT")
	overrideString(&cfg.Server.DefaultVoice, "TTSMATE_SERVER_DEFAULT_VOICE")
	overrideStringSlice(&cfg.Server.Voices, "TTSMATE_SERVER_VOICES")
	overrideBool(&cfg.Server.RefineText, "TTSMATE_SERVER_REFINE_TEXT")
	overrideFloat(&cfg.Server.Temperature, "TTSMATE_SERVER_TEMPERATURE")
	overrideFloat(&cfg.Server.TopP, "TTSMATE_SERVER_TOP_P")
	overrideInt(&cfg.Server.TopK, "TTSMATE_SERVER_TOP_K")
	overrideInt(&cfg.Server.BatchSize, "TTSMATE_SERVER_BATCH_SIZE")
	overrideBool(&cfg.Cache.Enabled, "TTSMATE_CACHE_ENABLED")
	overrideInt(&cfg.Cache.Capacity, "TTSMATE_CACHE_CAPACITY")
	overrideInt(&cfg.Cache.TTLSeconds, "TTSMATE_CACHE_TTL_SECONDS")
	overrideBool(&cfg.History.Enabled, "TTSMATE_HISTORY_ENABLED")
	overrideString(&cfg.History.Path, "TTSMATE_HISTORY_PATH")
	overrideInt(&cfg.History.RetentionDays, "TTSMATE_HISTORY_RETENTION_DAYS")
	overrideInt(&cfg.History.MaxRecords, "TTSMATE_HISTORY_MAX_RECORDS")
	overrideBool(&cfg.History.VacuumOnStart, "TTSMATE_HISTORY_VACUUM_ON_START")
	overrideBool(&cfg.Bus.Enabled, "TTSMATE_BUS_ENABLED")
	overrideBool(&cfg.Bus.Embedded, "TTSMATE_BUS_EMBEDDED")
	overrideInt(&cfg.Bus.Port, "TTSMATE_BUS_PORT")
	overrideString(&cfg.Bus.StoreDir, "TTSMATE_BUS_STORE_DIR")
	overrideStringSlice(&cfg.Bus.Servers, "TTSMATE_BUS_SERVERS")
	overrideString(&cfg.Bus.Username, "TTSMATE_BUS_USERNAME")
	overrideString(&cfg.Bus.Password, "TTSMATE_BUS_PASSWORD")
	overrideString(&cfg.Bus.Token, "TTSMATE_BUS_TOKEN")
	overrideBool(&cfg.Bus.TLSInsecure, "TTSMATE_BUS_TLS_INSECURE")
	overrideInt(&cfg.Bus.ConnectTimeout, "TTSMATE_BUS_CONNECT_TIMEOUT_MS")
}

func overrideString(target *string, envKey string) {
	if value, ok := os.LookupEnv(envKey); ok && strings.TrimSpace(value) != "" {
		*target = value
	}
}

func overrideInt(target *int, envKey string) {
	if value, ok := os.LookupEnv(envKey); ok {
		if parsed, err := strconv.Atoi(value); err == nil {
			*target = parsed
		}
	}
}

func overrideBool(target *bool, envKey string) {
	if value, ok := os.LookupEnv(envKey); ok {
		if parsed, err := strconv.ParseBool(value); err == nil {
			*target = parsed
		}
	}
}

func overrideStringSlice(target *[]string, envKey string) {
	if value, ok := os.LookupEnv(envKey); ok {
		parts := strings.Split(value, ",")
		var trimmed []string
		for _, p := range parts {
			if s := strings.TrimSpace(p); s != "" {
				trimmed = append(trimmed, s)
			}
		}
		if len(trimmed) > 0 {
			*target = trimmed
		}
	}
}

func overrideFloat(target *float64, envKey string) {
	if value, ok := os.LookupEnv(envKey); ok {
		if parsed, err := strconv.ParseFloat(value, 64); err == nil {
			*target = parsed
		}
	}
}

func validate(cfg Config) error {
	if cfg.ServiceName == "" {
		return errors.New("service_name must not be empty")
	}
	if cfg.HTTP.Port <= 0 || cfg.HTTP.Port > 65535 {
		return errors.New("http.port must be between 1 and 65535")
	}
	if cfg.Telemetry.PrometheusBind == "" {
		return errors.New("telemetry.prometheus_bind must not be empty")
	}
	if cfg.Server.BaseURL == "" {
		return errors.New("server.base_url must not be empty")
	}
	if cfg.Server.TimeoutSeconds <= 0 {
		return errors.New("server.timeout_seconds must be positive")
	}
	if cfg.Server.RetryCount < 0 {
		return errors.New("server.retry_count must be >= 0")
	}
	if cfg.Server.DefaultVoice == "" {
		return errors.New("server.default_voice must not be empty")
	}
	if cfg.Server.BatchSize <= 0 {
		return errors.New("server.batch_size must be >= 1")
	}
	if cfg.Cache.Enabled {
		if cfg.Cache.Capacity <= 0 {
			return errors.New("cache.capacity must be >= 1 when caching is enabled")
		}
		if cfg.Cache.TTLSeconds <= 0 {
			return errors.New("cache.ttl_seconds must be positive when caching is enabled")
		}
	}
	if cfg.History.Enabled {
		if cfg.History.Path == "" {
			return errors.New("history.path must not be empty when history is enabled")
		}
		if cfg.History.RetentionDays < 0 {
			return errors.New("history.retention_days must be >= 0")
		}
	}
	if cfg.Bus.Enabled {
		if cfg.Bus.Embedded {
			if cfg.Bus.Port <= 0 || cfg.Bus.Port > 65535 {
				return errors.New("bus.port must be between 1 and 65535 when embedded mode is enabled")
			}
		} else if len(cfg.Bus.Servers) == 0 {
			return errors.New("bus.servers must not be empty when embedded mode is disabled")
		}
	}
	return nil
}
