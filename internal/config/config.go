package config

import (
	"errors"
	"fmt"
	"os"
	"strconv"
	"strings"

	"gopkg.in/yaml.v3"
)

// Config represents the application configuration
type Config struct {
	Server      ServerConfig      `yaml:"server"`
	Whisper     WhisperConfig     `yaml:"whisper"`
	Diarization DiarizationConfig `yaml:"diarization"`
	Audio       AudioConfig       `yaml:"audio"`
	Device      DeviceConfig      `yaml:"device"`
	Models      ModelsConfig      `yaml:"models"`
	Workers     WorkersConfig     `yaml:"workers"`
	Storage     StorageConfig     `yaml:"storage"`
	Cleanup     CleanupConfig     `yaml:"cleanup"`
	Telemetry   TelemetryConfig   `yaml:"telemetry"`
	Events      EventsConfig      `yaml:"events"`
}

type ServerConfig struct {
	Host           string `yaml:"host"`
	Port           int    `yaml:"port"`
	BodyLimitMB    int    `yaml:"body_limit_mb"`
	AllowedOrigins string `yaml:"allowed_origins"`
}

type WhisperConfig struct {
	Backend          string   `yaml:"backend"` // exec, whispercpp
	Command          string   `yaml:"command"`
	Python           string   `yaml:"python"`
	ModelDir         string   `yaml:"model_dir"`
	DefaultModel     string   `yaml:"default_model"`
	DefaultLanguage  string   `yaml:"default_language"`
	Threads          int      `yaml:"threads"`
	FP16             bool     `yaml:"fp16"`
	AllowedModels    []string `yaml:"allowed_models"`
	AllowedLanguages []string `yaml:"allowed_languages"`
	Preload          []string `yaml:"preload"`
}

type DiarizationConfig struct {
	Backend        string `yaml:"backend"` // none, exec, http
	Command        string `yaml:"command"`
	URL            string `yaml:"url"`
	HFToken        string `yaml:"hf_token"`
	TimeoutSeconds int    `yaml:"timeout_seconds"`
}

type AudioConfig struct {
	FFmpegPath string `yaml:"ffmpeg_path"`
	TempDir    string `yaml:"temp_dir"`
}

type DeviceConfig struct {
	Mode         string `yaml:"mode"` // auto, cpu, cuda
	ProbeCommand string `yaml:"probe_command"`
}

type ModelsConfig struct {
	MaxLoaded int `yaml:"max_loaded"`
}

type WorkersConfig struct {
	Count     int `yaml:"count"`
	QueueSize int `yaml:"queue_size"`
}

type StorageConfig struct {
	Enabled  bool   `yaml:"enabled"`
	Database string `yaml:"database"`
}

type CleanupConfig struct {
	IntervalMinutes int `yaml:"interval_minutes"`
	MaxAgeMinutes   int `yaml:"max_age_minutes"`
}

type TelemetryConfig struct {
	ServiceName    string `yaml:"service_name"`
	LogLevel       string `yaml:"log_level"`
	LogFormat      string `yaml:"log_format"` // json, text
	TraceExporter  string `yaml:"trace_exporter"` // none, stdout, otlp
	OTLPEndpoint   string `yaml:"otlp_endpoint"`
	OTLPInsecure   bool   `yaml:"otlp_insecure"`
	MetricsEnabled bool   `yaml:"metrics_enabled"`
}

type EventsConfig struct {
	Enabled        bool     `yaml:"enabled"`
	Servers        []string `yaml:"servers"`
	Subject        string   `yaml:"subject"`
	ConnectTimeout int      `yaml:"connect_timeout_ms"`
	Embedded       bool     `yaml:"embedded"`
	EmbeddedPort   int      `yaml:"embedded_port"`
}

// DefaultModels are the whisper model sizes accepted unless configured otherwise.
var DefaultModels = []string{
	"tiny", "tiny.en",
	"base", "base.en",
	"small", "small.en",
	"medium", "medium.en",
	"large", "large-v2", "large-v3", "turbo",
}

func Default() Config {
	return Config{
		Server: ServerConfig{
			Host:           "0.0.0.0",
			Port:           5000,
			BodyLimitMB:    200,
			AllowedOrigins: "*",
		},
		Whisper: WhisperConfig{
			Backend:         "exec",
			Command:         "python -m whisper",
			Python:          "python",
			DefaultModel:    "base",
			DefaultLanguage: "en",
			Threads:         4,
			AllowedModels:   append([]string(nil), DefaultModels...),
		},
		// No diarization until a backend is configured: pyannote needs a
		// Hugging Face token, so transcripts carry no speaker breaks by default.
		Diarization: DiarizationConfig{
			Backend:        "none",
			TimeoutSeconds: 600,
		},
		Audio: AudioConfig{
			FFmpegPath: "ffmpeg",
			TempDir:    "temp_audio",
		},
		Device: DeviceConfig{
			Mode:         "auto",
			ProbeCommand: "nvidia-smi -L",
		},
		Workers: WorkersConfig{
			Count:     2,
			QueueSize: 100,
		},
		Storage: StorageConfig{
			Enabled:  true,
			Database: "./data/requests.db",
		},
		Cleanup: CleanupConfig{
			IntervalMinutes: 30,
			MaxAgeMinutes:   120,
		},
		Telemetry: TelemetryConfig{
			ServiceName:    "diarized-transcription",
			LogLevel:       "info",
			LogFormat:      "json",
			TraceExporter:  "none",
			OTLPInsecure:   true,
			MetricsEnabled: true,
		},
		Events: EventsConfig{
			Enabled:        false,
			Servers:        []string{"nats://localhost:4222"},
			Subject:        "transcription",
			ConnectTimeout: 2000,
			EmbeddedPort:   4222,
		},
	}
}

// Load reads the YAML file at path (if any) over the defaults, then applies
// TRANSCRIBE_* environment overrides and validates the result.
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
	overrideString(&cfg.Server.Host, "TRANSCRIBE_SERVER_HOST")
	overrideInt(&cfg.Server.Port, "TRANSCRIBE_SERVER_PORT")
	overrideInt(&cfg.Server.BodyLimitMB, "TRANSCRIBE_SERVER_BODY_LIMIT_MB")
	overrideString(&cfg.Server.AllowedOrigins, "TRANSCRIBE_SERVER_ALLOWED_ORIGINS")
	overrideString(&cfg.Whisper.Backend, "TRANSCRIBE_WHISPER_BACKEND")
	overrideString(&cfg.Whisper.Command, "TRANSCRIBE_WHISPER_COMMAND")
	overrideString(&cfg.Whisper.Python, "TRANSCRIBE_WHISPER_PYTHON")
	overrideString(&cfg.Whisper.ModelDir, "TRANSCRIBE_WHISPER_MODEL_DIR")
	overrideString(&cfg.Whisper.DefaultModel, "TRANSCRIBE_WHISPER_DEFAULT_MODEL")
	overrideString(&cfg.Whisper.DefaultLanguage, "TRANSCRIBE_WHISPER_DEFAULT_LANGUAGE")
	overrideInt(&cfg.Whisper.Threads, "TRANSCRIBE_WHISPER_THREADS")
	overrideBool(&cfg.Whisper.FP16, "TRANSCRIBE_WHISPER_FP16")
	overrideStringSlice(&cfg.Whisper.AllowedModels, "TRANSCRIBE_WHISPER_ALLOWED_MODELS")
	overrideStringSlice(&cfg.Whisper.AllowedLanguages, "TRANSCRIBE_WHISPER_ALLOWED_LANGUAGES")
	overrideStringSlice(&cfg.Whisper.Preload, "TRANSCRIBE_WHISPER_PRELOAD")
	overrideString(&cfg.Diarization.Backend, "TRANSCRIBE_DIARIZATION_BACKEND")
	overrideString(&cfg.Diarization.Command, "TRANSCRIBE_DIARIZATION_COMMAND")
	overrideString(&cfg.Diarization.URL, "TRANSCRIBE_DIARIZATION_URL")
	overrideString(&cfg.Diarization.HFToken, "TRANSCRIBE_DIARIZATION_HF_TOKEN")
	overrideInt(&cfg.Diarization.TimeoutSeconds, "TRANSCRIBE_DIARIZATION_TIMEOUT_SECONDS")
	overrideString(&cfg.Audio.FFmpegPath, "TRANSCRIBE_AUDIO_FFMPEG_PATH")
	overrideString(&cfg.Audio.TempDir, "TRANSCRIBE_AUDIO_TEMP_DIR")
	overrideString(&cfg.Device.Mode, "TRANSCRIBE_DEVICE_MODE")
	overrideString(&cfg.Device.ProbeCommand, "TRANSCRIBE_DEVICE_PROBE_COMMAND")
	overrideInt(&cfg.Models.MaxLoaded, "TRANSCRIBE_MODELS_MAX_LOADED")
	overrideInt(&cfg.Workers.Count, "TRANSCRIBE_WORKERS_COUNT")
	overrideInt(&cfg.Workers.QueueSize, "TRANSCRIBE_WORKERS_QUEUE_SIZE")
	overrideBool(&cfg.Storage.Enabled, "TRANSCRIBE_STORAGE_ENABLED")
	overrideString(&cfg.Storage.Database, "TRANSCRIBE_STORAGE_DATABASE")
	overrideInt(&cfg.Cleanup.IntervalMinutes, "TRANSCRIBE_CLEANUP_INTERVAL_MINUTES")
	overrideInt(&cfg.Cleanup.MaxAgeMinutes, "TRANSCRIBE_CLEANUP_MAX_AGE_MINUTES")
	overrideString(&cfg.Telemetry.ServiceName, "TRANSCRIBE_TELEMETRY_SERVICE_NAME")
	overrideString(&cfg.Telemetry.LogLevel, "TRANSCRIBE_TELEMETRY_LOG_LEVEL")
	overrideString(&cfg.Telemetry.LogFormat, "TRANSCRIBE_TELEMETRY_LOG_FORMAT")
	overrideString(&cfg.Telemetry.TraceExporter, "TRANSCRIBE_TELEMETRY_TRACE_EXPORTER")
	overrideString(&cfg.Telemetry.OTLPEndpoint, "TRANSCRIBE_TELEMETRY_OTLP_ENDPOINT")
	overrideBool(&cfg.Telemetry.OTLPInsecure, "TRANSCRIBE_TELEMETRY_OTLP_INSECURE")
	overrideBool(&cfg.Telemetry.MetricsEnabled, "TRANSCRIBE_TELEMETRY_METRICS_ENABLED")
	overrideBool(&cfg.Events.Enabled, "TRANSCRIBE_EVENTS_ENABLED")
	overrideStringSlice(&cfg.Events.Servers, "TRANSCRIBE_EVENTS_SERVERS")
	overrideString(&cfg.Events.Subject, "TRANSCRIBE_EVENTS_SUBJECT")
	overrideInt(&cfg.Events.ConnectTimeout, "TRANSCRIBE_EVENTS_CONNECT_TIMEOUT_MS")
	overrideBool(&cfg.Events.Embedded, "TRANSCRIBE_EVENTS_EMBEDDED")
	overrideInt(&cfg.Events.EmbeddedPort, "TRANSCRIBE_EVENTS_EMBEDDED_PORT")
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

// overrideStringSlice splits a comma separated value. A set but blank
// variable clears the list, which disables the matching allow-list.
func overrideStringSlice(target *[]string, envKey string) {
	value, ok := os.LookupEnv(envKey)
	if !ok {
		return
	}
	var trimmed []string
	for _, p := range strings.Split(value, ",") {
		if s := strings.TrimSpace(p); s != "" {
			trimmed = append(trimmed, s)
		}
	}
	*target = trimmed
}

func validate(cfg Config) error {
	if cfg.Server.Port <= 0 || cfg.Server.Port > 65535 {
		return errors.New("server.port must be between 1 and 65535")
	}
	if cfg.Server.BodyLimitMB <= 0 {
		return errors.New("server.body_limit_mb must be positive")
	}
	switch cfg.Whisper.Backend {
	case "exec":
		if strings.TrimSpace(cfg.Whisper.Command) == "" {
			return errors.New("whisper.command must be set when backend=exec")
		}
	case "whispercpp":
		if cfg.Whisper.ModelDir == "" {
			return errors.New("whisper.model_dir must be set when backend=whispercpp")
		}
	default:
		return errors.New("whisper.backend must be one of exec|whispercpp")
	}
	if cfg.Whisper.DefaultModel == "" {
		return errors.New("whisper.default_model must not be empty")
	}
	if cfg.Whisper.DefaultLanguage == "" {
		return errors.New("whisper.default_language must not be empty")
	}
	switch cfg.Diarization.Backend {
	case "none", "exec":
	case "http":
		if cfg.Diarization.URL == "" {
			return errors.New("diarization.url must be set when backend=http")
		}
	default:
		return errors.New("diarization.backend must be one of none|exec|http")
	}
	if cfg.Diarization.TimeoutSeconds < 0 {
		return errors.New("diarization.timeout_seconds must be >= 0")
	}
	if cfg.Audio.TempDir == "" {
		return errors.New("audio.temp_dir must not be empty")
	}
	switch cfg.Device.Mode {
	case "auto", "cpu", "cuda":
	default:
		return errors.New("device.mode must be one of auto|cpu|cuda")
	}
	if cfg.Models.MaxLoaded < 0 {
		return errors.New("models.max_loaded must be >= 0")
	}
	if cfg.Workers.Count <= 0 {
		return errors.New("workers.count must be >= 1")
	}
	if cfg.Workers.QueueSize < 0 {
		return errors.New("workers.queue_size must be >= 0")
	}
	if cfg.Storage.Enabled && cfg.Storage.Database == "" {
		return errors.New("storage.database must be set when storage is enabled")
	}
	if cfg.Cleanup.IntervalMinutes <= 0 {
		return errors.New("cleanup.interval_minutes must be positive")
	}
	if cfg.Cleanup.MaxAgeMinutes <= 0 {
		return errors.New("cleanup.max_age_minutes must be positive")
	}
	switch cfg.Telemetry.TraceExporter {
	case "none", "stdout":
	case "otlp":
		if cfg.Telemetry.OTLPEndpoint == "" {
			return errors.New("telemetry.otlp_endpoint must be set when trace_exporter=otlp")
		}
	default:
		return errors.New("telemetry.trace_exporter must be one of none|stdout|otlp")
	}
	if cfg.Events.Enabled {
		if len(cfg.Events.Servers) == 0 {
			return errors.New("events.servers must not be empty when events are enabled")
		}
		if cfg.Events.Subject == "" {
			return errors.New("events.subject must not be empty when events are enabled")
		}
	}
	if cfg.Events.Embedded && (cfg.Events.EmbeddedPort <= 0 || cfg.Events.EmbeddedPort > 65535) {
		return errors.New("events.embedded_port must be between 1 and 65535")
	}
	return nil
}
