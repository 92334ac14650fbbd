package config

import (
	"errors"
	"fmt"
	"os"
	"strconv"
	"strings"

	"github.com/joho/godotenv"
	"gopkg.in/yaml.v3"
)

// EnvConfigPath names the config file when the host is launched without flags,
// which is how browsers start native messaging hosts.
const EnvConfigPath = "SUPERTONIC_CONFIG"

type TelemetryConfig struct {
	LogLevel       string `yaml:"log_level"`
	LogFormat      string `yaml:"log_format"`
	OTLPEndpoint   string `yaml:"otlp_endpoint"`
	OTLPInsecure   bool   `yaml:"otlp_insecure"`
	TraceStdout    bool   `yaml:"trace_stdout"`
	PrometheusBind string `yaml:"prometheus_bind"`
}

type Config struct {
	RuntimeName string           `yaml:"runtime_name"`
	Environment string           `yaml:"environment"`
	Telemetry   TelemetryConfig  `yaml:"telemetry"`
	Protocol    ProtocolConfig   `yaml:"protocol"`
	Engine      EngineConfig     `yaml:"engine"`
	EventStore  EventStoreConfig `yaml:"event_store"`
	Bridge      BridgeConfig     `yaml:"bridge"`
}

type ProtocolConfig struct {
	MaxMessageBytes uint32 `yaml:"max_message_bytes"`
}

type EngineConfig struct {
	Mode              string   `yaml:"mode"` // mock, exec
	Command           string   `yaml:"command"`
	ModelDir          string   `yaml:"model_dir"`
	ModelDirFallbacks []string `yaml:"model_dir_fallbacks"`
	UseGPU            bool     `yaml:"use_gpu"`
	MockSampleRate    int      `yaml:"mock_sample_rate"`
	DefaultLang       string   `yaml:"default_lang"`
	DefaultTotalStep  int      `yaml:"default_total_step"`
	DefaultSpeed      float64  `yaml:"default_speed"`
}

type EventStoreConfig struct {
	Path          string `yaml:"path"`
	RetentionMode string `yaml:"retention_mode"`
	RetentionDays int    `yaml:"retention_days"`
	MaxSessions   int    `yaml:"max_sessions"`
	VacuumOnStart bool   `yaml:"vacuum_on_start"`
}

type HTTPConfig struct {
	Bind string `yaml:"bind"`
	Port int    `yaml:"port"`
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
	Subject        string   `yaml:"subject"`
	QueueGroup     string   `yaml:"queue_group"`
}

type BridgeConfig struct {
	HTTP              HTTPConfig `yaml:"http"`
	AllowedOrigins    []string   `yaml:"allowed_origins"`
	HostCommand       string     `yaml:"host_command"`
	InitializeOnStart bool       `yaml:"initialize_on_start"`
	RequestTimeoutMS  int        `yaml:"request_timeout_ms"`
	Bus               BusConfig  `yaml:"bus"`
}

func Default() Config {
	return Config{
		RuntimeName: "supertonic-host",
		Environment: "development",
		Telemetry: TelemetryConfig{
			LogLevel:     "info",
			LogFormat:    "json",
			OTLPInsecure: true,
		},
		Protocol: ProtocolConfig{
			MaxMessageBytes: 0,
		},
		Engine: EngineConfig{
			Mode:              "exec",
			Command:           "supertonic-engine",
			ModelDir:          "../../assets/onnx",
			ModelDirFallbacks: []string{"../assets/onnx", "assets/onnx"},
			MockSampleRate:    24000,
			DefaultLang:       "en",
			DefaultTotalStep:  5,
			DefaultSpeed:      1.0,
		},
		EventStore: EventStoreConfig{
			Path:          "./data/supertonic-host.db",
			RetentionMode: "ephemeral",
			RetentionDays: 30,
			MaxSessions:   1000,
		},
		Bridge: BridgeConfig{
			HTTP: HTTPConfig{
				Bind: "127.0.0.1",
				Port: 8080,
			},
			AllowedOrigins:    []string{"*"},
			HostCommand:       "supertonic-host",
			InitializeOnStart: true,
			RequestTimeoutMS:  120000,
			Bus: BusConfig{
				Enabled:        false,
				Embedded:       false,
				Port:           4222,
				StoreDir:       "./data/nats",
				Servers:        []string{"nats://localhost:4222"},
				ConnectTimeout: 2000,
				Subject:        "tts.host.request",
				QueueGroup:     "tts-host",
			},
		},
	}
}

// Load reads path over the defaults. An empty path falls back to
// SUPERTONIC_CONFIG; when both are empty only defaults and environment apply.
// A .env file in the working directory is loaded first if present.
func Load(path string) (Config, error) {
	cfg := Default()

	_ = godotenv.Load()

	if path == "" {
		path = strings.TrimSpace(os.Getenv(EnvConfigPath))
	}
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
	overrideString(&cfg.RuntimeName, "SUPERTONIC_RUNTIME_NAME")
	overrideString(&cfg.Environment, "SUPERTONIC_ENVIRONMENT")
	overrideString(&cfg.Telemetry.LogLevel, "SUPERTONIC_TELEMETRY_LOG_LEVEL")
	overrideString(&cfg.Telemetry.LogFormat, "SUPERTONIC_TELEMETRY_LOG_FORMAT")
	overrideString(&cfg.Telemetry.OTLPEndpoint, "SUPERTONIC_TELEMETRY_OTLP_ENDPOINT")
	overrideBool(&cfg.Telemetry.OTLPInsecure, "SUPERTONIC_TELEMETRY_OTLP_INSECURE")
	overrideBool(&cfg.Telemetry.TraceStdout, "SUPERTONIC_TELEMETRY_TRACE_STDOUT")
	overrideString(&cfg.Telemetry.PrometheusBind, "SUPERTONIC_TELEMETRY_PROMETHEUS_BIND")
	overrideUint32(&cfg.Protocol.MaxMessageBytes, "SUPERTONIC_PROTOCOL_MAX_MESSAGE_BYTES")
	overrideString(&cfg.Engine.Mode, "SUPERTONIC_ENGINE_MODE")
	overrideString(&cfg.Engine.Command, "SUPERTONIC_ENGINE_COMMAND")
	overrideString(&cfg.Engine.ModelDir, "SUPERTONIC_ENGINE_MODEL_DIR")
	overrideStringSlice(&cfg.Engine.ModelDirFallbacks, "SUPERTONIC_ENGINE_MODEL_DIR_FALLBACKS")
	overrideBool(&cfg.Engine.UseGPU, "SUPERTONIC_ENGINE_USE_GPU")
	overrideInt(&cfg.Engine.MockSampleRate, "SUPERTONIC_ENGINE_MOCK_SAMPLE_RATE")
	overrideString(&cfg.Engine.DefaultLang, "SUPERTONIC_ENGINE_DEFAULT_LANG")
	overrideInt(&cfg.Engine.DefaultTotalStep, "SUPERTONIC_ENGINE_DEFAULT_TOTAL_STEP")
	overrideFloat(&cfg.Engine.DefaultSpeed, "SUPERTONIC_ENGINE_DEFAULT_SPEED")
	overrideString(&cfg.EventStore.Path, "SUPERTONIC_EVENT_STORE_PATH")
	overrideString(&cfg.EventStore.RetentionMode, "SUPERTONIC_EVENT_STORE_RETENTION_MODE")
	overrideInt(&cfg.EventStore.RetentionDays, "SUPERTONIC_EVENT_STORE_RETENTION_DAYS")
	overrideInt(&cfg.EventStore.MaxSessions, "SUPERTONIC_EVENT_STORE_MAX_SESSIONS")
	overrideBool(&cfg.EventStore.VacuumOnStart, "SUPERTONIC_EVENT_STORE_VACUUM_ON_START")
	overrideString(&cfg.Bridge.HTTP.Bind, "SUPERTONIC_BRIDGE_HTTP_BIND")
	overrideInt(&cfg.Bridge.HTTP.Port, "SUPERTONIC_BRIDGE_HTTP_PORT")
	overrideStringSlice(&cfg.Bridge.AllowedOrigins, "SUPERTONIC_BRIDGE_ALLOWED_ORIGINS")
	overrideString(&cfg.Bridge.HostCommand, "SUPERTONIC_BRIDGE_HOST_COMMAND")
	overrideBool(&cfg.Bridge.InitializeOnStart, "SUPERTONIC_BRIDGE_INITIALIZE_ON_START")
	overrideInt(&cfg.Bridge.RequestTimeoutMS, "SUPERTONIC_BRIDGE_REQUEST_TIMEOUT_MS")
	overrideBool(&cfg.Bridge.Bus.Enabled, "SUPERTONIC_BUS_ENABLED")
	overrideBool(&cfg.Bridge.Bus.Embedded, "SUPERTONIC_BUS_EMBEDDED")
	overrideInt(&cfg.Bridge.Bus.Port, "SUPERTONIC_BUS_PORT")
	overrideString(&cfg.Bridge.Bus.StoreDir, "SUPERTONIC_BUS_STORE_DIR")
	overrideStringSlice(&cfg.Bridge.Bus.Servers, "SUPERTONIC_BUS_SERVERS")
	overrideString(&cfg.Bridge.Bus.Username, "SUPERTONIC_BUS_USERNAME")
	overrideString(&cfg.Bridge.Bus.Password, "SUPERTONIC_BUS_PASSWORD")
	overrideString(&cfg.Bridge.Bus.Token, "SUPERTONIC_BUS_TOKEN")
	overrideBool(&cfg.Bridge.Bus.TLSInsecure, "SUPERTONIC_BUS_TLS_INSECURE")
	overrideInt(&cfg.Bridge.Bus.ConnectTimeout, "SUPERTONIC_BUS_CONNECT_TIMEOUT_MS")
	overrideString(&cfg.Bridge.Bus.Subject, "SUPERTONIC_BUS_SUBJECT")
	overrideString(&cfg.Bridge.Bus.QueueGroup, "SUPERTONIC_BUS_QUEUE_GROUP")
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

func overrideUint32(target *uint32, envKey string) {
	if value, ok := os.LookupEnv(envKey); ok {
		if parsed, err := strconv.ParseUint(value, 10, 32); err == nil {
			*target = uint32(parsed)
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
	switch strings.ToLower(cfg.Telemetry.LogFormat) {
	case "json", "text":
	default:
		return errors.New("telemetry.log_format must be one of json|text")
	}
	switch cfg.Engine.Mode {
	case "mock", "exec":
	default:
		return errors.New("engine.mode must be one of mock|exec")
	}
	if cfg.Engine.Mode == "exec" && strings.TrimSpace(cfg.Engine.Command) == "" {
		return errors.New("engine.command must be set when mode=exec")
	}
	if cfg.Engine.ModelDir == "" {
		return errors.New("engine.model_dir must not be empty")
	}
	if cfg.Engine.Mode == "mock" && cfg.Engine.MockSampleRate <= 0 {
		return errors.New("engine.mock_sample_rate must be positive")
	}
	if cfg.Engine.DefaultLang == "" {
		return errors.New("engine.default_lang must not be empty")
	}
	if cfg.Engine.DefaultTotalStep <= 0 {
		return errors.New("engine.default_total_step must be positive")
	}
	if cfg.Engine.DefaultSpeed <= 0 {
		return errors.New("engine.default_speed must be positive")
	}
	if cfg.EventStore.Path == "" {
		return errors.New("event_store.path must not be empty")
	}
	switch cfg.EventStore.RetentionMode {
	case "ephemeral", "session", "persistent":
		// ok
	default:
		return errors.New("event_store.retention_mode must be one of ephemeral|session|persistent")
	}
	if cfg.EventStore.RetentionDays < 0 {
		return errors.New("event_store.retention_days must be >= 0")
	}
	if cfg.Bridge.HTTP.Port <= 0 || cfg.Bridge.HTTP.Port > 65535 {
		return errors.New("bridge.http.port must be between 1 and 65535")
	}
	if cfg.Bridge.RequestTimeoutMS <= 0 {
		return errors.New("bridge.request_timeout_ms must be positive")
	}
	if bus := cfg.Bridge.Bus; bus.Enabled {
		if bus.Embedded {
			if bus.Port <= 0 || bus.Port > 65535 {
				return errors.New("bridge.bus.port must be between 1 and 65535 when embedded mode is enabled")
			}
		} else if len(bus.Servers) == 0 {
			return errors.New("bridge.bus.servers must not be empty when embedded mode is disabled")
		}
		if bus.Subject == "" {
			return errors.New("bridge.bus.subject must not be empty")
		}
	}
	return nil
}
