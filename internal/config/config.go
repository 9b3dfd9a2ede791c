// Package config loads the proxy's runtime settings. Values are resolved as
// defaults, then an optional YAML file, then environment variables, and the
// result is validated as a whole.
package config

import (
	"fmt"
	"io"
	"log/slog"
	"net/url"
	"os"
	"strconv"
	"strings"
	"time"

	"gopkg.in/yaml.v3"

	"advisor-proxy/internal/credentials"
	"advisor-proxy/internal/integrations/novita"
	"advisor-proxy/internal/usecase"
)

const (
	RuntimeLambda = "lambda"
	RuntimeHTTP   = "http"
)

type Config struct {
	Runtime      string            `yaml:"runtime"`
	Port         int               `yaml:"port"`
	Novita       NovitaConfig      `yaml:"novita"`
	Models       ModelsConfig      `yaml:"models"`
	HistoryLimit int               `yaml:"history_limit"`
	Credentials  CredentialsConfig `yaml:"credentials"`
	ProfileTable string            `yaml:"profile_table"`
	Metrics      MetricsConfig     `yaml:"metrics"`
	Log          LogConfig         `yaml:"log"`
}

type NovitaConfig struct {
	BaseURL string        `yaml:"base_url"`
	Timeout time.Duration `yaml:"timeout"`
	Retry   RetryConfig   `yaml:"retry"`
}

// RetryConfig is off when MaxAttempts is 1.
type RetryConfig struct {
	MaxAttempts int           `yaml:"max_attempts"`
	Backoff     time.Duration `yaml:"backoff"`
}

type ModelsConfig struct {
	Default string `yaml:"default"`
	Chatbot string `yaml:"chatbot"`
	Profile string `yaml:"profile"`
}

// CredentialsConfig selects where the upstream key comes from. In server mode
// exactly one of APIKey or Param is used; Param wins when both are set.
type CredentialsConfig struct {
	Mode   string `yaml:"mode"`
	APIKey string `yaml:"api_key"`
	Param  string `yaml:"param"`
}

type MetricsConfig struct {
	Enabled   bool   `yaml:"enabled"`
	Namespace string `yaml:"namespace"`
}

type LogConfig struct {
	Level  string `yaml:"level"`
	Format string `yaml:"format"`
}

// Defaults returns the configuration used when nothing is set.
func Defaults() Config {
	return Config{
		Runtime: RuntimeHTTP,
		Port:    3000,
		Novita: NovitaConfig{
			BaseURL: novita.DefaultBaseURL,
			Timeout: 60 * time.Second,
			Retry:   RetryConfig{MaxAttempts: 1, Backoff: time.Second},
		},
		Models: ModelsConfig{
			Default: usecase.DefaultModel,
			Chatbot: usecase.DefaultChatbotModel,
			Profile: usecase.DefaultModel,
		},
		Credentials: CredentialsConfig{Mode: credentials.ModeHeader},
		Metrics:     MetricsConfig{Enabled: true, Namespace: "advisor"},
		Log:         LogConfig{Level: "info", Format: "json"},
	}
}

// Load builds the configuration. path may be empty; getenv is usually
// os.Getenv.
func Load(path string, getenv func(string) string) (*Config, error) {
	cfg := Defaults()
	if getenv("AWS_LAMBDA_FUNCTION_NAME") != "" {
		cfg.Runtime = RuntimeLambda
	}

	if path != "" {
		data, err := os.ReadFile(path)
		if err != nil {
			return nil, fmt.Errorf("config: read %q: %w", path, err)
		}
		if err := yaml.Unmarshal(data, &cfg); err != nil {
			return nil, fmt.Errorf("config: parse %q: %w", path, err)
		}
	}

	errs := applyEnvOverrides(&cfg, getenv)
	errs = append(errs, validate(&cfg)...)
	if len(errs) > 0 {
		return nil, ValidationError{Errors: errs}
	}
	return &cfg, nil
}

func applyEnvOverrides(cfg *Config, getenv func(string) string) []FieldError {
	var errs []FieldError

	setString := func(key string, dst *string) {
		if v := strings.TrimSpace(getenv(key)); v != "" {
			*dst = v
		}
	}
	setInt := func(key string, dst *int) {
		v := strings.TrimSpace(getenv(key))
		if v == "" {
			return
		}
		n, err := strconv.Atoi(v)
		if err != nil {
			errs = append(errs, FieldError{Field: key, Message: fmt.Sprintf("not an integer: %q", v)})
			return
		}
		*dst = n
	}
	setDuration := func(key string, dst *time.Duration) {
		v := strings.TrimSpace(getenv(key))
		if v == "" {
			return
		}
		d, err := time.ParseDuration(v)
		if err != nil {
			errs = append(errs, FieldError{Field: key, Message: fmt.Sprintf("not a duration: %q", v)})
			return
		}
		*dst = d
	}
	setBool := func(key string, dst *bool) {
		v := strings.TrimSpace(getenv(key))
		if v == "" {
			return
		}
		b, err := strconv.ParseBool(v)
		if err != nil {
			errs = append(errs, FieldError{Field: key, Message: fmt.Sprintf("not a boolean: %q", v)})
			return
		}
		*dst = b
	}

	setString("RUNTIME", &cfg.Runtime)
	setInt("PORT", &cfg.Port)
	setString("NOVITA_BASE_URL", &cfg.Novita.BaseURL)
	setDuration("UPSTREAM_TIMEOUT", &cfg.Novita.Timeout)
	setInt("RETRY_MAX_ATTEMPTS", &cfg.Novita.Retry.MaxAttempts)
	setDuration("RETRY_BACKOFF", &cfg.Novita.Retry.Backoff)
	setString("DEFAULT_MODEL", &cfg.Models.Default)
	setString("CHATBOT_MODEL", &cfg.Models.Chatbot)
	setString("PROFILE_MODEL", &cfg.Models.Profile)
	setInt("HISTORY_LIMIT", &cfg.HistoryLimit)
	setString("CREDENTIAL_MODE", &cfg.Credentials.Mode)
	// The frontend build variable is accepted as a fallback name.
	setString("VITE_NOVITA_API_KEY", &cfg.Credentials.APIKey)
	setString("NOVITA_API_KEY", &cfg.Credentials.APIKey)
	setString("NOVITA_KEY_PARAM", &cfg.Credentials.Param)
	setString("PROFILE_TABLE", &cfg.ProfileTable)
	setBool("METRICS_ENABLED", &cfg.Metrics.Enabled)
	setString("METRICS_NAMESPACE", &cfg.Metrics.Namespace)
	setString("LOG_LEVEL", &cfg.Log.Level)
	setString("LOG_FORMAT", &cfg.Log.Format)

	return errs
}

func validate(cfg *Config) []FieldError {
	var errs []FieldError
	add := func(field, msg string) {
		errs = append(errs, FieldError{Field: field, Message: msg})
	}

	switch cfg.Runtime {
	case RuntimeLambda, RuntimeHTTP:
	default:
		add("runtime", fmt.Sprintf("must be %q or %q", RuntimeLambda, RuntimeHTTP))
	}
	if cfg.Runtime == RuntimeHTTP && (cfg.Port < 1 || cfg.Port > 65535) {
		add("port", "must be between 1 and 65535")
	}

	if u, err := url.Parse(cfg.Novita.BaseURL); err != nil || (u.Scheme != "http" && u.Scheme != "https") || u.Host == "" {
		add("novita.base_url", "must be an absolute http(s) URL")
	}
	if cfg.Novita.Timeout <= 0 {
		add("novita.timeout", "must be positive")
	}
	if cfg.Novita.Retry.MaxAttempts < 1 {
		add("novita.retry.max_attempts", "must be at least 1")
	}
	if cfg.Novita.Retry.Backoff < 0 {
		add("novita.retry.backoff", "must not be negative")
	}
	if cfg.HistoryLimit < 0 {
		add("history_limit", "must not be negative")
	}

	switch cfg.Credentials.Mode {
	case credentials.ModeHeader:
	case credentials.ModeServer:
		if cfg.Credentials.APIKey == "" && cfg.Credentials.Param == "" {
			add("credentials", "server mode needs an api key or a parameter name")
		}
	default:
		add("credentials.mode", fmt.Sprintf("must be %q or %q", credentials.ModeHeader, credentials.ModeServer))
	}

	if _, err := parseLevel(cfg.Log.Level); err != nil {
		add("log.level", err.Error())
	}
	switch cfg.Log.Format {
	case "json", "text":
	default:
		add("log.format", `must be "json" or "text"`)
	}
	return errs
}

// NeedsAWS reports whether any component talks to AWS services.
func (c *Config) NeedsAWS() bool {
	return c.ProfileTable != "" || (c.Credentials.Mode == credentials.ModeServer && c.Credentials.Param != "")
}

// NewLogger builds the process logger described by c.Log.
func (c *Config) NewLogger(w io.Writer) *slog.Logger {
	level, err := parseLevel(c.Log.Level)
	if err != nil {
		level = slog.LevelInfo
	}
	opts := &slog.HandlerOptions{Level: level}
	if c.Log.Format == "text" {
		return slog.New(slog.NewTextHandler(w, opts))
	}
	return slog.New(slog.NewJSONHandler(w, opts))
}

func parseLevel(s string) (slog.Level, error) {
	var level slog.Level
	if err := level.UnmarshalText([]byte(s)); err != nil {
		return 0, fmt.Errorf("unknown level %q", s)
	}
	return level, nil
}

// FieldError is a single invalid setting.
type FieldError struct {
	Field   string
	Message string
}

func (e FieldError) Error() string {
	return fmt.Sprintf("%s: %s", e.Field, e.Message)
}

// ValidationError collects every invalid setting found by Load.
type ValidationError struct {
	Errors []FieldError
}

func (e ValidationError) Error() string {
	if len(e.Errors) == 1 {
		return "config: " + e.Errors[0].Error()
	}
	var sb strings.Builder
	fmt.Fprintf(&sb, "config: %d invalid settings:", len(e.Errors))
	for _, fe := range e.Errors {
		sb.WriteString("\n  - ")
		sb.WriteString(fe.Error())
	}
	return sb.String()
}
