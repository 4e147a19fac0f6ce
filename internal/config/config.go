package config

import (
	"errors"
	"fmt"
	"io/ioutil"
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
	RuntimeName string           `yaml:"runtime_name"`
	Environment string           `yaml:"environment"`
	HTTP        HTTPConfig       `yaml:"http"`
	Telemetry   TelemetryConfig  `yaml:"telemetry"`
	Engine      EngineConfig     `yaml:"engine"`
	Generation  GenerationConfig `yaml:"generation"`
	Admission   AdmissionConfig  `yaml:"admission"`
	Dispatcher  DispatcherConfig `yaml:"dispatcher"`
	Audio       AudioConfig      `yaml:"audio"`
	Voices      VoicesConfig     `yaml:"voices"`
	History     HistoryConfig    `yaml:"history"`
	Bus         BusConfig        `yaml:"bus"`
}

type EngineConfig struct {
	Mode        string `yaml:"mode"` // mock, exec, http
	Command     string `yaml:"command"`
	Endpoint    string `yaml:"endpoint"`
	WarmupText  string `yaml:"warmup_text"`
	LoadTimeout int    `yaml:"load_timeout_ms"`
}

type GenerationConfig struct {
	Temperature    float64 `yaml:"temperature"`
	Exaggeration   float64 `yaml:"exaggeration"`
	GuidanceWeight float64 `yaml:"cfg_weight"`
	Seed           int64   `yaml:"seed"`
	SpeedFactor    float64 `yaml:"speed_factor"`
}

type AdmissionConfig struct {
	MaxConcurrent int `yaml:"max_concurrent"`
	QueueSize     int `yaml:"queue_size"`
}

type DispatcherConfig struct {
	Workers   int  `yaml:"workers"`
	SplitText bool `yaml:"split_text"`
	ChunkSize int  `yaml:"chunk_size"`
}

type AudioConfig struct {
	DefaultFormat        string  `yaml:"default_format"`
	SampleRate           int     `yaml:"sample_rate"` // 0 keeps the engine's native rate
	ChunkFrames          int     `yaml:"chunk_frames"`
	MinOutputBytes       int     `yaml:"min_output_bytes"`
	TrimSilence          bool    `yaml:"trim_silence"`
	FixInternalSilence   bool    `yaml:"fix_internal_silence"`
	MaxInternalSilenceMS int     `yaml:"max_internal_silence_ms"`
	SilenceThreshold     float64 `yaml:"silence_threshold"`
	TranscodeCommand     string  `yaml:"transcode_command"`
}

type VoicesConfig struct {
	PredefinedDir       string `yaml:"predefined_dir"`
	ReferenceDir        string `yaml:"reference_dir"`
	DefaultVoice        string `yaml:"default_voice"`
	MaxReferenceSeconds int    `yaml:"max_reference_seconds"`
}

type HistoryConfig struct {
	Mode          string `yaml:"mode"` // ephemeral, persistent
	Path          string `yaml:"path"`
	RetentionDays int    `yaml:"retention_days"`
	MaxEntries    int    `yaml:"max_entries"`
	VacuumOnStart bool   `yaml:"vacuum_on_start"`
}

type BusConfig struct {
	Enabled        bool     `yaml:"enabled"`
	Embedded       bool     `yaml:"embedded"`
	EmbeddedPort   int      `yaml:"embedded_port"`
	Servers        []string `yaml:"servers"`
	Username       string   `yaml:"username"`
	Password       string   `yaml:"password"`
	Token          string   `yaml:"token"`
	TLSInsecure    bool     `yaml:"tls_insecure"`
	ConnectTimeout int      `yaml:"connect_timeout_ms"`
	SubjectPrefix  string   `yaml:"subject_prefix"`
	StatusInterval int      `yaml:"status_interval_ms"`
}

func Default() Config {
	return Config{
		RuntimeName: "voxa-server",
		Environment: "development",
		HTTP: HTTPConfig{
			Bind: "0.0.0.0",
			Port: 8004,
		},
		Telemetry: TelemetryConfig{
			LogLevel:       "info",
			OTLPEndpoint:   "",
			OTLPInsecure:   true,
			PrometheusBind: ":9091",
		},
		Engine: EngineConfig{
			Mode:        "mock",
			WarmupText:  "Server ready.",
			LoadTimeout: 30000,
		},
		Generation: GenerationConfig{
			Temperature:    0.8,
			Exaggeration:   0.5,
			GuidanceWeight: 0.5,
			Seed:           0,
			SpeedFactor:    1.0,
		},
		Admission: AdmissionConfig{
			MaxConcurrent: 20,
			QueueSize:     100,
		},
		Dispatcher: DispatcherConfig{
			Workers:   8,
			SplitText: false,
			ChunkSize: 120,
		},
		Audio: AudioConfig{
			DefaultFormat:        "wav",
			SampleRate:           0,
			ChunkFrames:          1024,
			MinOutputBytes:       100,
			TrimSilence:          false,
			FixInternalSilence:   false,
			MaxInternalSilenceMS: 400,
			SilenceThreshold:     0.01,
			TranscodeCommand:     "ffmpeg -hide_banner -loglevel error -f s16le -ar {rate} -ac 1 -i pipe:0 -f {format} pipe:1",
		},
		Voices: VoicesConfig{
			PredefinedDir:       "./voices",
			ReferenceDir:        "./reference_audio",
			DefaultVoice:        "Olivia.wav",
			MaxReferenceSeconds: 30,
		},
		History: HistoryConfig{
			Mode:          "persistent",
			Path:          "./data/voxa-history.db",
			RetentionDays: 30,
			MaxEntries:    10000,
		},
		Bus: BusConfig{
			Enabled:        false,
			Embedded:       false,
			EmbeddedPort:   4222,
			Servers:        []string{"nats://localhost:4222"},
			ConnectTimeout: 2000,
			SubjectPrefix:  "tts",
			StatusInterval: 15000,
		},
	}
}

func Load(path string) (Config, error) {
	cfg := Default()

	if path != "" {
		data, err := ioutil.ReadFile(path)
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
	overrideString(&cfg.RuntimeName, "VOXA_RUNTIME_NAME")
	overrideString(&cfg.Environment, "VOXA_RUNTIME_ENVIRONMENT")
	overrideString(&cfg.HTTP.Bind, "VOXA_HTTP_BIND")
	overrideInt(&cfg.HTTP.Port, "VOXA_HTTP_PORT")
	overrideString(&cfg.Telemetry.LogLevel, "VOXA_TELEMETRY_LOG_LEVEL")
	overrideString(&cfg.Telemetry.OTLPEndpoint, "VOXA_TELEMETRY_OTLP_ENDPOINT")
	overrideBool(&cfg.Telemetry.OTLPInsecure, "VOXA_TELEMETRY_OTLP_INSECURE")
	overrideString(&cfg.Telemetry.PrometheusBind, "VOXA_TELEMETRY_PROMETHEUS_BIND")
	overrideString(&cfg.Engine.Mode, "VOXA_ENGINE_MODE")
	overrideString(&cfg.Engine.Command, "VOXA_ENGINE_COMMAND")
	overrideString(&cfg.Engine.Endpoint, "VOXA_ENGINE_ENDPOINT")
	overrideString(&cfg.Engine.WarmupText, "VOXA_ENGINE_WARMUP_TEXT")
	overrideInt(&cfg.Engine.LoadTimeout, "VOXA_ENGINE_LOAD_TIMEOUT_MS")
	overrideFloat(&cfg.Generation.Temperature, "VOXA_GENERATION_TEMPERATURE")
	overrideFloat(&cfg.Generation.Exaggeration, "VOXA_GENERATION_EXAGGERATION")
	overrideFloat(&cfg.Generation.GuidanceWeight, "VOXA_GENERATION_CFG_WEIGHT")
	overrideInt64(&cfg.Generation.Seed, "VOXA_GENERATION_SEED")
	overrideFloat(&cfg.Generation.SpeedFactor, "VOXA_GENERATION_SPEED_FACTOR")
	overrideInt(&cfg.Admission.MaxConcurrent, "VOXA_ADMISSION_MAX_CONCURRENT")
	overrideInt(&cfg.Admission.QueueSize, "VOXA_ADMISSION_QUEUE_SIZE")
	overrideInt(&cfg.Dispatcher.Workers, "VOXA_DISPATCHER_WORKERS")
	overrideBool(&cfg.Dispatcher.SplitText, "VOXA_DISPATCHER_SPLIT_TEXT")
	overrideInt(&cfg.Dispatcher.ChunkSize, "VOXA_DISPATCHER_CHUNK_SIZE")
	overrideString(&cfg.Audio.DefaultFormat, "VOXA_AUDIO_DEFAULT_FORMAT")
	overrideInt(&cfg.Audio.SampleRate, "VOXA_AUDIO_SAMPLE_RATE")
	overrideInt(&cfg.Audio.ChunkFrames, "VOXA_AUDIO_CHUNK_FRAMES")
	overrideInt(&cfg.Audio.MinOutputBytes, "VOXA_AUDIO_MIN_OUTPUT_BYTES")
	overrideBool(&cfg.Audio.TrimSilence, "VOXA_AUDIO_TRIM_SILENCE")
	overrideBool(&cfg.Audio.FixInternalSilence, "VOXA_AUDIO_FIX_INTERNAL_SILENCE")
	overrideInt(&cfg.Audio.MaxInternalSilenceMS, "VOXA_AUDIO_MAX_INTERNAL_SILENCE_MS")
	overrideFloat(&cfg.Audio.SilenceThreshold, "VOXA_AUDIO_SILENCE_THRESHOLD")
	overrideString(&cfg.Audio.TranscodeCommand, "VOXA_AUDIO_TRANSCODE_COMMAND")
	overrideString(&cfg.Voices.PredefinedDir, "VOXA_VOICES_PREDEFINED_DIR")
	overrideString(&cfg.Voices.ReferenceDir, "VOXA_VOICES_REFERENCE_DIR")
	overrideString(&cfg.Voices.DefaultVoice, "VOXA_VOICES_DEFAULT_VOICE")
	overrideInt(&cfg.Voices.MaxReferenceSeconds, "VOXA_VOICES_MAX_REFERENCE_SECONDS")
	overrideString(&cfg.History.Mode, "VOXA_HISTORY_MODE")
	overrideString(&cfg.History.Path, "VOXA_HISTORY_PATH")
	overrideInt(&cfg.History.RetentionDays, "VOXA_HISTORY_RETENTION_DAYS")
	overrideInt(&cfg.History.MaxEntries, "VOXA_HISTORY_MAX_ENTRIES")
	overrideBool(&cfg.History.VacuumOnStart, "VOXA_HISTORY_VACUUM_ON_START")
	overrideBool(&cfg.Bus.Enabled, "VOXA_BUS_ENABLED")
	overrideBool(&cfg.Bus.Embedded, "VOXA_BUS_EMBEDDED")
	overrideInt(&cfg.Bus.EmbeddedPort, "VOXA_BUS_EMBEDDED_PORT")
	overrideStringSlice(&cfg.Bus.Servers, "VOXA_BUS_SERVERS")
	overrideString(&cfg.Bus.Username, "VOXA_BUS_USERNAME")
	overrideString(&cfg.Bus.Password, "VOXA_BUS_PASSWORD")
	overrideString(&cfg.Bus.Token, "VOXA_BUS_TOKEN")
	overrideBool(&cfg.Bus.TLSInsecure, "VOXA_BUS_TLS_INSECURE")
	overrideInt(&cfg.Bus.ConnectTimeout, "VOXA_BUS_CONNECT_TIMEOUT_MS")
	overrideString(&cfg.Bus.SubjectPrefix, "VOXA_BUS_SUBJECT_PREFIX")
	overrideInt(&cfg.Bus.StatusInterval, "VOXA_BUS_STATUS_INTERVAL_MS")
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

func overrideInt64(target *int64, envKey string) {
	if value, ok := os.LookupEnv(envKey); ok {
		if parsed, err := strconv.ParseInt(value, 10, 64); err == nil {
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

func overrideFloat(target *float64, envKey string) {
	if value, ok := os.LookupEnv(envKey); ok {
		if parsed, err := strconv.ParseFloat(value, 64); err == nil {
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

func validate(cfg Config) error {
	if cfg.RuntimeName == "" {
		return errors.New("runtime_name must not be empty")
	}
	if cfg.HTTP.Port <= 0 || cfg.HTTP.Port > 65535 {
		return errors.New("http.port must be between 1 and 65535")
	}
	if cfg.Telemetry.PrometheusBind == "" {
		return errors.New("telemetry.prometheus_bind must not be empty")
	}
	switch cfg.Engine.Mode {
	case "mock", "exec", "http":
	default:
		return errors.New("engine.mode must be one of mock|exec|http")
	}
	if cfg.Engine.Mode == "exec" && cfg.Engine.Command == "" {
		return errors.New("engine.command must be set when mode=exec")
	}
	if cfg.Engine.Mode == "http" && cfg.Engine.Endpoint == "" {
		return errors.New("engine.endpoint must be set when mode=http")
	}
	if cfg.Engine.LoadTimeout <= 0 {
		return errors.New("engine.load_timeout_ms must be positive")
	}
	if cfg.Generation.Temperature < 0 {
		return errors.New("generation.temperature must be >= 0")
	}
	if cfg.Generation.SpeedFactor <= 0 {
		return errors.New("generation.speed_factor must be positive")
	}
	if cfg.Admission.MaxConcurrent <= 0 {
		return errors.New("admission.max_concurrent must be >= 1")
	}
	if cfg.Admission.QueueSize < 0 {
		return errors.New("admission.queue_size must be >= 0")
	}
	if cfg.Dispatcher.Workers <= 0 {
		return errors.New("dispatcher.workers must be >= 1")
	}
	if cfg.Dispatcher.ChunkSize <= 0 {
		return errors.New("dispatcher.chunk_size must be >= 1")
	}
	switch cfg.Audio.DefaultFormat {
	case "wav", "pcm", "opus", "mp3":
	default:
		return errors.New("audio.default_format must be one of wav|pcm|opus|mp3")
	}
	if cfg.Audio.SampleRate < 0 {
		return errors.New("audio.sample_rate must be >= 0")
	}
	if cfg.Audio.ChunkFrames <= 0 {
		return errors.New("audio.chunk_frames must be positive")
	}
	if cfg.Audio.MinOutputBytes < 0 {
		return errors.New("audio.min_output_bytes must be >= 0")
	}
	if cfg.Audio.SilenceThreshold < 0 || cfg.Audio.SilenceThreshold >= 1 {
		return errors.New("audio.silence_threshold must be in [0, 1)")
	}
	if cfg.Audio.MaxInternalSilenceMS < 0 {
		return errors.New("audio.max_internal_silence_ms must be >= 0")
	}
	if cfg.Voices.PredefinedDir == "" {
		return errors.New("voices.predefined_dir must not be empty")
	}
	if cfg.Voices.ReferenceDir == "" {
		return errors.New("voices.reference_dir must not be empty")
	}
	if cfg.Voices.MaxReferenceSeconds <= 0 {
		return errors.New("voices.max_reference_seconds must be positive")
	}
	switch cfg.History.Mode {
	case "ephemeral", "persistent":
	default:
		return errors.New("history.mode must be one of ephemeral|persistent")
	}
	if cfg.History.Mode == "persistent" && cfg.History.Path == "" {
		return errors.New("history.path must not be empty when mode=persistent")
	}
	if cfg.History.RetentionDays < 0 {
		return errors.New("history.retention_days must be >= 0")
	}
	if cfg.History.MaxEntries < 0 {
		return errors.New("history.max_entries must be >= 0")
	}
	if cfg.Bus.Enabled {
		if len(cfg.Bus.Servers) == 0 && !cfg.Bus.Embedded {
			return errors.New("bus.servers must not be empty when bus is enabled")
		}
		if cfg.Bus.Embedded && (cfg.Bus.EmbeddedPort <= 0 || cfg.Bus.EmbeddedPort > 65535) {
			return errors.New("bus.embedded_port must be between 1 and 65535")
		}
		if cfg.Bus.ConnectTimeout <= 0 {
			return errors.New("bus.connect_timeout_ms must be positive when bus is enabled")
		}
		if cfg.Bus.SubjectPrefix == "" {
			return errors.New("bus.subject_prefix must not be empty when bus is enabled")
		}
		if cfg.Bus.StatusInterval < 0 {
			return errors.New("bus.status_interval_ms must be >= 0")
		}
	}
	return nil
}
