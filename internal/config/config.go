package config

import (
	"errors"
	"fmt"
	"os"
	"path/filepath"
	"strconv"
	"strings"

	"gopkg.in/yaml.v3"
)

type TelemetryConfig struct {
	LogLevel     string `yaml:"log_level"`
	LogFormat    string `yaml:"log_format"`
	OTLPEndpoint string `yaml:"otlp_endpoint"`
	OTLPInsecure bool   `yaml:"otlp_insecure"`
	TraceStdout  bool   `yaml:"trace_stdout"`
	MetricsBind  string `yaml:"metrics_bind"`
}

type Config struct {
	AppName     string          `yaml:"app_name"`
	Environment string          `yaml:"environment"`
	Store       StoreConfig     `yaml:"store"`
	Source      SourceConfig    `yaml:"source"`
	Pipeline    PipelineConfig  `yaml:"pipeline"`
	Export      ExportConfig    `yaml:"export"`
	STT         STTConfig       `yaml:"stt"`
	Bus         BusConfig       `yaml:"bus"`
	Telemetry   TelemetryConfig `yaml:"telemetry"`
}

type StoreConfig struct {
	Path          string `yaml:"path"`
	VacuumOnStart bool   `yaml:"vacuum_on_start"`
}

type SourceConfig struct {
	Mode          string `yaml:"mode"` // voicememos, directory
	DatabasePath  string `yaml:"database_path"`
	RecordingsDir string `yaml:"recordings_dir"`
}

type PipelineConfig struct {
	MaxDurationMinutes float64 `yaml:"max_duration_minutes"`
	SkipMissing        bool    `yaml:"skip_missing"`
	Engine             string  `yaml:"engine"`
}

type ExportConfig struct {
	OutputDir      string `yaml:"output_dir"`
	Format         string `yaml:"format"`
	OnlyUnexported bool   `yaml:"only_unexported"`
	Status         string `yaml:"status"`
}

type STTConfig struct {
	Mode      string `yaml:"mode"` // mock, exec, http
	Command   string `yaml:"command"`
	Endpoint  string `yaml:"endpoint"`
	Language  string `yaml:"language"`
	TimeoutMS int    `yaml:"timeout_ms"`
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

// DataDir is where the transcription database lives unless configured otherwise.
const DataDir = "~/.local/share/memo-transcriber"

// VoiceMemosDir is the macOS location of synced Voice Memos recordings.
const VoiceMemosDir = "~/Library/Group Containers/group.com.apple.VoiceMemos.shared/Recordings"

func Default() Config {
	return Config{
		AppName:     "memo-transcriber",
		Environment: "development",
		Store: StoreConfig{
			Path: DataDir + "/memo_transcriptions.db",
		},
		Source: SourceConfig{
			Mode:          "voicememos",
			DatabasePath:  VoiceMemosDir + "/CloudRecordings.db",
			RecordingsDir: VoiceMemosDir,
		},
		Pipeline: PipelineConfig{
			MaxDurationMinutes: 8.0,
			SkipMissing:        true,
			Engine:             "faster-whisper-base",
		},
		Export: ExportConfig{
			OutputDir: "~/Documents/transcriptions",
			Format:    "txt",
			Status:    "success",
		},
		STT: STTConfig{
			Mode:      "mock",
			Endpoint:  "http://localhost:8387",
			TimeoutMS: 300000,
		},
		Bus: BusConfig{
			Enabled:        false,
			Embedded:       false,
			Port:           4222,
			StoreDir:       DataDir + "/nats",
			Servers:        []string{"nats://localhost:4222"},
			ConnectTimeout: 2000,
		},
		Telemetry: TelemetryConfig{
			LogLevel:     "info",
			LogFormat:    "text",
			OTLPInsecure: true,
		},
	}
}

func Load(path string) (Config, error) {
	cfg := Default()

	if path != "" {
		data, err := os.ReadFile(ExpandHome(path))
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
	expandPaths(&cfg)
	if err := validate(cfg); err != nil {
		return cfg, err
	}
	return cfg, nil
}

// ExpandHome replaces a leading "~" with the current user's home directory.
func ExpandHome(path string) string {
	if path != "~" && !strings.HasPrefix(path, "~/") {
		return path
	}
	home, err := os.UserHomeDir()
	if err != nil {
		return path
	}
	return filepath.Join(home, strings.TrimPrefix(path, "~"))
}

func expandPaths(cfg *Config) {
	cfg.Store.Path = ExpandHome(cfg.Store.Path)
	cfg.Source.DatabasePath = ExpandHome(cfg.Source.DatabasePath)
	cfg.Source.RecordingsDir = ExpandHome(cfg.Source.RecordingsDir)
	cfg.Export.OutputDir = ExpandHome(cfg.Export.OutputDir)
	cfg.Bus.StoreDir = ExpandHome(cfg.Bus.StoreDir)
}

func applyEnvOverrides(cfg *Config) {
	overrideString(&cfg.AppName, "MEMO_APP_NAME")
	overrideString(&cfg.Environment, "MEMO_ENVIRONMENT")
	overrideString(&cfg.Store.Path, "MEMO_STORE_PATH")
	overrideBool(&cfg.Store.VacuumOnStart, "MEMO_STORE_VACUUM_ON_START")
	overrideString(&cfg.Source.Mode, "MEMO_SOURCE_MODE")
	overrideString(&cfg.Source.DatabasePath, "MEMO_SOURCE_DATABASE_PATH")
	overrideString(&cfg.Source.RecordingsDir, "MEMO_SOURCE_RECORDINGS_DIR")
	overrideFloat(&cfg.Pipeline.MaxDurationMinutes, "MEMO_PIPELINE_MAX_DURATION_MINUTES")
	overrideBool(&cfg.Pipeline.SkipMissing, "MEMO_PIPELINE_SKIP_MISSING")
	overrideString(&cfg.Pipeline.Engine, "MEMO_PIPELINE_ENGINE")
	overrideString(&cfg.Export.OutputDir, "MEMO_EXPORT_OUTPUT_DIR")
	overrideString(&cfg.Export.Format, "MEMO_EXPORT_FORMAT")
	overrideBool(&cfg.Export.OnlyUnexported, "MEMO_EXPORT_ONLY_UNEXPORTED")
	overrideString(&cfg.Export.Status, "MEMO_EXPORT_STATUS")
	overrideString(&cfg.STT.Mode, "MEMO_STT_MODE")
	overrideString(&cfg.STT.Command, "MEMO_STT_COMMAND")
	overrideString(&cfg.STT.Endpoint, "MEMO_STT_ENDPOINT")
	overrideString(&cfg.STT.Language, "MEMO_STT_LANGUAGE")
	overrideInt(&cfg.STT.TimeoutMS, "MEMO_STT_TIMEOUT_MS")
	overrideBool(&cfg.Bus.Enabled, "MEMO_BUS_ENABLED")
	overrideBool(&cfg.Bus.Embedded, "MEMO_BUS_EMBEDDED")
	overrideInt(&cfg.Bus.Port, "MEMO_BUS_PORT")
	overrideString(&cfg.Bus.StoreDir, "MEMO_BUS_STORE_DIR")
	overrideStringSlice(&cfg.Bus.Servers, "MEMO_BUS_SERVERS")
	overrideString(&cfg.Bus.Username, "MEMO_BUS_USERNAME")
	overrideString(&cfg.Bus.Password, "MEMO_BUS_PASSWORD")
	overrideString(&cfg.Bus.Token, "MEMO_BUS_TOKEN")
	overrideBool(&cfg.Bus.TLSInsecure, "MEMO_BUS_TLS_INSECURE")
	overrideInt(&cfg.Bus.ConnectTimeout, "MEMO_BUS_CONNECT_TIMEOUT_MS")
	overrideString(&cfg.Telemetry.LogLevel, "MEMO_TELEMETRY_LOG_LEVEL")
	overrideString(&cfg.Telemetry.LogFormat, "MEMO_TELEMETRY_LOG_FORMAT")
	overrideString(&cfg.Telemetry.OTLPEndpoint, "MEMO_TELEMETRY_OTLP_ENDPOINT")
	overrideBool(&cfg.Telemetry.OTLPInsecure, "MEMO_TELEMETRY_OTLP_INSECURE")
	overrideBool(&cfg.Telemetry.TraceStdout, "MEMO_TELEMETRY_TRACE_STDOUT")
	overrideString(&cfg.Telemetry.MetricsBind, "MEMO_TELEMETRY_METRICS_BIND")
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
	if cfg.AppName == "" {
		return errors.New("app_name must not be empty")
	}
	if cfg.Store.Path == "" {
		return errors.New("store.path must not be empty")
	}
	switch cfg.Source.Mode {
	case "voicememos":
		if cfg.Source.DatabasePath == "" {
			return errors.New("source.database_path must be set when mode=voicememos")
		}
	case "directory":
	default:
		return errors.New("source.mode must be one of voicememos|directory")
	}
	if cfg.Source.RecordingsDir == "" {
		return errors.New("source.recordings_dir must not be empty")
	}
	if cfg.Pipeline.MaxDurationMinutes <= 0 {
		return errors.New("pipeline.max_duration_minutes must be positive")
	}
	if cfg.Pipeline.Engine == "" {
		return errors.New("pipeline.engine must not be empty")
	}
	if cfg.Export.OutputDir == "" {
		return errors.New("export.output_dir must not be empty")
	}
	switch cfg.Export.Format {
	case "txt", "md", "json":
	default:
		return errors.New("export.format must be one of txt|md|json")
	}
	switch cfg.Export.Status {
	case "", "success", "failed", "skipped":
	default:
		return errors.New("export.status must be one of success|failed|skipped or empty")
	}
	switch cfg.STT.Mode {
	case "mock":
	case "exec":
		if cfg.STT.Command == "" {
			return errors.New("stt.command must be set when mode=exec")
		}
	case "http":
		if cfg.STT.Endpoint == "" {
			return errors.New("stt.endpoint must be set when mode=http")
		}
	default:
		return errors.New("stt.mode must be one of mock|exec|http")
	}
	if cfg.STT.TimeoutMS < 0 {
		return errors.New("stt.timeout_ms must be >= 0")
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
	switch strings.ToLower(cfg.Telemetry.LogFormat) {
	case "json", "text":
	default:
		return errors.New("telemetry.log_format must be one of json|text")
	}
	return nil
}
