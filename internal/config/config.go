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
	RuntimeName string          `yaml:"runtime_name"`
	Environment string          `yaml:"environment"`
	HTTP        HTTPConfig      `yaml:"http"`
	Telemetry   TelemetryConfig `yaml:"telemetry"`
	Bus         BusConfig       `yaml:"bus"`
	Storage     StorageConfig   `yaml:"storage"`
	Synthesis   SynthesisConfig `yaml:"synthesis"`
	Merge       MergeConfig     `yaml:"merge"`
	History     HistoryConfig   `yaml:"history"`
	Extract     ExtractConfig   `yaml:"extract"`
	Service     ServiceConfig   `yaml:"service"`
}

type BusConfig struct {
	Embedded       bool     `yaml:"embedded"`
	Port           int      `yaml:"port"`
	Servers        []string `yaml:"servers"`
	Username       string   `yaml:"username"`
	Password       string   `yaml:"password"`
	Token          string   `yaml:"token"`
	TLSInsecure    bool     `yaml:"tls_insecure"`
	ConnectTimeout int      `yaml:"connect_timeout_ms"`
}

type StorageConfig struct {
	Dir          string `yaml:"dir"`
	MaxSizeMB    int    `yaml:"max_size_mb"`
	BytesPerChar int    `yaml:"bytes_per_char_estimate"`
}

type SynthesisConfig struct {
	Mode                string  `yaml:"mode"` // mock, exec, http
	Command             string  `yaml:"command"`
	Endpoint            string  `yaml:"endpoint"`
	Model               string  `yaml:"model"`
	Voice               string  `yaml:"voice"`
	Rate                string  `yaml:"rate"`
	Pitch               string  `yaml:"pitch"`
	MaxChunkChars       int     `yaml:"max_chunk_chars"`
	CharsPerMinute      int     `yaml:"chars_per_minute"`
	MaxParallel         int     `yaml:"max_parallel"`
	MaxRetries          int     `yaml:"max_retries"`
	RetryDelayMS        int     `yaml:"retry_delay_ms"`
	AttemptTimeoutMS    int     `yaml:"attempt_timeout_ms"`
	MinBytesPerChar     int     `yaml:"min_bytes_per_char"`
	ValidationTolerance float64 `yaml:"validation_tolerance"`
	MaxTextLength       int     `yaml:"max_text_length"`
}

type MergeConfig struct {
	FFmpegPath string `yaml:"ffmpeg_path"`
	TimeoutMS  int    `yaml:"timeout_ms"`
}

type HistoryConfig struct {
	Path          string `yaml:"path"`
	RetentionDays int    `yaml:"retention_days"`
	MaxRequests   int    `yaml:"max_requests"`
	VacuumOnStart bool   `yaml:"vacuum_on_start"`
}

type ExtractConfig struct {
	Mode    string `yaml:"mode"` // plain, exec
	Command string `yaml:"command"`
}

type ServiceConfig struct {
	Enabled            bool `yaml:"enabled"`
	StreamParts        bool `yaml:"stream_parts"`
	MaxDurationMinutes int  `yaml:"max_duration_minutes"`
}

func Default() Config {
	return Config{
		RuntimeName: "aloud-runtime",
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
		Bus: BusConfig{
			Embedded:       true,
			Port:           4222,
			Servers:        []string{"nats://localhost:4222"},
			ConnectTimeout: 2000,
		},
		Storage: StorageConfig{
			Dir:          "./data/audio",
			MaxSizeMB:    300,
			BytesPerChar: 300,
		},
		Synthesis: SynthesisConfig{
			Mode:                "mock",
			Voice:               "ru-RU-DmitryNeural",
			Rate:                "+50%",
			Pitch:               "+0Hz",
			MaxChunkChars:       3000,
			CharsPerMinute:      1700,
			MaxParallel:         10,
			MaxRetries:          3,
			RetryDelayMS:        10000,
			AttemptTimeoutMS:    600000,
			MinBytesPerChar:     270,
			ValidationTolerance: 0.7,
			MaxTextLength:       500000,
		},
		Merge: MergeConfig{
			FFmpegPath: "ffmpeg",
			TimeoutMS:  120000,
		},
		History: HistoryConfig{
			Path:          "./data/aloud-history.db",
			RetentionDays: 30,
			MaxRequests:   10000,
		},
		Extract: ExtractConfig{
			Mode: "plain",
		},
		Service: ServiceConfig{
			Enabled:            true,
			StreamParts:        true,
			MaxDurationMinutes: 10,
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
	overrideString(&cfg.RuntimeName, "ALOUD_RUNTIME_NAME")
	overrideString(&cfg.Environment, "ALOUD_RUNTIME_ENVIRONMENT")
	overrideString(&cfg.HTTP.Bind, "ALOUD_HTTP_BIND")
	overrideInt(&cfg.HTTP.Port, "ALOUD_HTTP_PORT")
	overrideString(&cfg.Telemetry.LogLevel, "ALOUD_TELEMETRY_LOG_LEVEL")
	overrideString(&cfg.Telemetry.OTLPEndpoint, "ALOUD_TELEMETRY_OTLP_ENDPOINT")
	overrideBool(&cfg.Telemetry.OTLPInsecure, "ALOUD_TELEMETRY_OTLP_INSECURE")
	overrideString(&cfg.Telemetry.PrometheusBind, "ALOUD_TELEMETRY_PROMETHEUS_BIND")
	overrideBool(&cfg.Bus.Embedded, "ALOUD_BUS_EMBEDDED")
	overrideInt(&cfg.Bus.Port, "ALOUD_BUS_PORT")
	overrideStringSlice(&cfg.Bus.Servers, "ALOUD_BUS_SERVERS")
	overrideString(&cfg.Bus.Username, "ALOUD_BUS_USERNAME")
	overrideString(&cfg.Bus.Password, "ALOUD_BUS_PASSWORD")
	overrideString(&cfg.Bus.Token, "ALOUD_BUS_TOKEN")
	overrideBool(&cfg.Bus.TLSInsecure, "ALOUD_BUS_TLS_INSECURE")
	overrideInt(&cfg.Bus.ConnectTimeout, "ALOUD_BUS_CONNECT_TIMEOUT_MS")
	overrideString(&cfg.Storage.Dir, "ALOUD_STORAGE_DIR")
	overrideInt(&cfg.Storage.MaxSizeMB, "ALOUD_STORAGE_MAX_SIZE_MB")
	overrideInt(&cfg.Storage.BytesPerChar, "ALOUD_STORAGE_BYTES_PER_CHAR_ESTIMATE")
	overrideString(&cfg.Synthesis.Mode, "ALOUD_SYNTHESIS_MODE")
	overrideString(&cfg.Synthesis.Command, "ALOUD_SYNTHESIS_COMMAND")
	overrideString(&cfg.Synthesis.Endpoint, "ALOUD_SYNTHESIS_ENDPOINT")
	overrideString(&cfg.Synthesis.Model, "ALOUD_SYNTHESIS_MODEL")
	overrideString(&cfg.Synthesis.Voice, "ALOUD_SYNTHESIS_VOICE")
	overrideString(&cfg.Synthesis.Rate, "ALOUD_SYNTHESIS_RATE")
	overrideString(&cfg.Synthesis.Pitch, "ALOUD_SYNTHESIS_PITCH")
	overrideInt(&cfg.Synthesis.MaxChunkChars, "ALOUD_SYNTHESIS_MAX_CHUNK_CHARS")
	overrideInt(&cfg.Synthesis.CharsPerMinute, "ALOUD_SYNTHESIS_CHARS_PER_MINUTE")
	overrideInt(&cfg.Synthesis.MaxParallel, "ALOUD_SYNTHESIS_MAX_PARALLEL")
	overrideInt(&cfg.Synthesis.MaxRetries, "ALOUD_SYNTHESIS_MAX_RETRIES")
	overrideInt(&cfg.Synthesis.RetryDelayMS, "ALOUD_SYNTHESIS_RETRY_DELAY_MS")
	overrideInt(&cfg.Synthesis.AttemptTimeoutMS, "ALOUD_SYNTHESIS_ATTEMPT_TIMEOUT_MS")
	overrideInt(&cfg.Synthesis.MinBytesPerChar, "ALOUD_SYNTHESIS_MIN_BYTES_PER_CHAR")
	overrideFloat(&cfg.Synthesis.ValidationTolerance, "ALOUD_SYNTHESIS_VALIDATION_TOLERANCE")
	overrideInt(&cfg.Synthesis.MaxTextLength, "ALOUD_SYNTHESIS_MAX_TEXT_LENGTH")
	overrideString(&cfg.Merge.FFmpegPath, "ALOUD_MERGE_FFMPEG_PATH")
	overrideInt(&cfg.Merge.TimeoutMS, "ALOUD_MERGE_TIMEOUT_MS")
	overrideString(&cfg.History.Path, "ALOUD_HISTORY_PATH")
	overrideInt(&cfg.History.RetentionDays, "ALOUD_HISTORY_RETENTION_DAYS")
	overrideInt(&cfg.History.MaxRequests, "ALOUD_HISTORY_MAX_REQUESTS")
	overrideBool(&cfg.History.VacuumOnStart, "ALOUD_HISTORY_VACUUM_ON_START")
	overrideString(&cfg.Extract.Mode, "ALOUD_EXTRACT_MODE")
	overrideString(&cfg.Extract.Command, "ALOUD_EXTRACT_COMMAND")
	overrideBool(&cfg.Service.Enabled, "ALOUD_SERVICE_ENABLED")
	overrideBool(&cfg.Service.StreamParts, "ALOUD_SERVICE_STREAM_PARTS")
	overrideInt(&cfg.Service.MaxDurationMinutes, "ALOUD_SERVICE_MAX_DURATION_MINUTES")
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
	if cfg.RuntimeName == "" {
		return errors.New("runtime_name must not be empty")
	}
	if cfg.HTTP.Port <= 0 || cfg.HTTP.Port > 65535 {
		return errors.New("http.port must be between 1 and 65535")
	}
	if cfg.Bus.Embedded {
		if cfg.Bus.Port <= 0 || cfg.Bus.Port > 65535 {
			return errors.New("bus.port must be between 1 and 65535 when embedded mode is enabled")
		}
	} else {
		if len(cfg.Bus.Servers) == 0 {
			return errors.New("bus.servers must not be empty when embedded mode is disabled")
		}
	}
	if cfg.Telemetry.PrometheusBind == "" {
		return errors.New("telemetry.prometheus_bind must not be empty")
	}
	if cfg.Storage.Dir == "" {
		return errors.New("storage.dir must not be empty")
	}
	if cfg.Storage.MaxSizeMB <= 0 {
		return errors.New("storage.max_size_mb must be positive")
	}
	if cfg.Storage.BytesPerChar <= 0 {
		return errors.New("storage.bytes_per_char_estimate must be positive")
	}
	switch cfg.Synthesis.Mode {
	case "mock", "exec", "http":
	default:
		return errors.New("synthesis.mode must be one of mock|exec|http")
	}
	if cfg.Synthesis.Mode == "exec" && cfg.Synthesis.Command == "" {
		return errors.New("synthesis.command must be set when mode=exec")
	}
	if cfg.Synthesis.Mode == "http" && cfg.Synthesis.Endpoint == "" {
		return errors.New("synthesis.endpoint must be set when mode=http")
	}
	if cfg.Synthesis.Voice == "" {
		return errors.New("synthesis.voice must not be empty")
	}
	if cfg.Synthesis.MaxChunkChars <= 0 {
		return errors.New("synthesis.max_chunk_chars must be positive")
	}
	if cfg.Synthesis.CharsPerMinute <= 0 {
		return errors.New("synthesis.chars_per_minute must be positive")
	}
	if cfg.Synthesis.MaxParallel <= 0 {
		return errors.New("synthesis.max_parallel must be >= 1")
	}
	if cfg.Synthesis.MaxRetries <= 0 {
		return errors.New("synthesis.max_retries must be >= 1")
	}
	if cfg.Synthesis.RetryDelayMS < 0 {
		return errors.New("synthesis.retry_delay_ms must be >= 0")
	}
	if cfg.Synthesis.AttemptTimeoutMS <= 0 {
		return errors.New("synthesis.attempt_timeout_ms must be positive")
	}
	if cfg.Synthesis.MinBytesPerChar < 0 {
		return errors.New("synthesis.min_bytes_per_char must be >= 0")
	}
	if cfg.Synthesis.ValidationTolerance < 0 || cfg.Synthesis.ValidationTolerance > 1 {
		return errors.New("synthesis.validation_tolerance must be between 0.0 and 1.0")
	}
	if cfg.Merge.FFmpegPath == "" {
		return errors.New("merge.ffmpeg_path must not be empty")
	}
	// An empty history.path disables persistence entirely.
	if cfg.History.RetentionDays < 0 {
		return errors.New("history.retention_days must be >= 0")
	}
	switch cfg.Extract.Mode {
	case "plain", "exec":
	default:
		return errors.New("extract.mode must be one of plain|exec")
	}
	if cfg.Extract.Mode == "exec" && cfg.Extract.Command == "" {
		return errors.New("extract.command must be set when mode=exec")
	}
	if cfg.Service.MaxDurationMinutes < 0 {
		return errors.New("service.max_duration_minutes must be >= 0")
	}
	return nil
}
