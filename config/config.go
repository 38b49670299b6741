// Package config centralises runtime configuration for rmpay services.
package config

import (
	"os"
	"strconv"
	"strings"
	"time"

	"gopkg.in/yaml.v3"

	"github.com/coachpo/rmpay/errs"
)

// Environment identifies the provider environment requests are routed to.
type Environment string

const (
	// EnvSandbox routes requests to the sb- prefixed provider domains.
	EnvSandbox Environment = "sandbox"
	// EnvProduction routes requests to the live provider domains.
	EnvProduction Environment = "production"
)

// Credentials captures the merchant credentials issued by the provider.
// PrivateKey and PublicKey hold PEM text.
type Credentials struct {
	ClientID     string `yaml:"clientId"`
	ClientSecret string `yaml:"clientSecret"`
	PrivateKey   string `yaml:"privateKey"`
	PublicKey    string `yaml:"publicKey"`
}

// TelemetryConfig configures the OTLP metrics exporter. An empty endpoint
// leaves telemetry as a no-op.
type TelemetryConfig struct {
	OTLPEndpoint string `yaml:"otlpEndpoint"`
	ServiceName  string `yaml:"serviceName"`
}

// Settings contains the rmpay configuration tree loaded from defaults, an
// optional YAML file and environment overrides.
type Settings struct {
	Environment   Environment     `yaml:"environment"`
	Credentials   Credentials     `yaml:"credentials"`
	StoreID       string          `yaml:"storeId"`
	AutoCancel    bool            `yaml:"autoCancel"`
	CancelAfter   time.Duration   `yaml:"cancelAfter"`
	SweepInterval time.Duration   `yaml:"sweepInterval"`
	SweepWorkers  int             `yaml:"sweepWorkers"`
	HTTPTimeout   time.Duration   `yaml:"httpTimeout"`
	RequestRate   float64         `yaml:"requestRate"`
	RedirectURL   string          `yaml:"redirectUrl"`
	NotifyURL     string          `yaml:"notifyUrl"`
	ListenAddr    string          `yaml:"listenAddr"`
	Telemetry     TelemetryConfig `yaml:"telemetry"`
}

// Default returns the reference configuration: production endpoints, 90s
// request timeout, one-minute sweep and the 30-minute auto-cancel threshold.
func Default() Settings {
	return Settings{
		Environment:   EnvProduction,
		AutoCancel:    false,
		CancelAfter:   30 * time.Minute,
		SweepInterval: time.Minute,
		SweepWorkers:  4,
		HTTPTimeout:   90 * time.Second,
		RequestRate:   5,
		ListenAddr:    ":8080",
		Telemetry:     TelemetryConfig{ServiceName: "rmpay-gateway"},
	}
}

// Load reads settings from the YAML file at path, layered over Default. The
// second return value reports whether the file existed.
func Load(path string) (Settings, bool, error) {
	cfg := Default()
	raw, err := os.ReadFile(path)
	if err != nil {
		if os.IsNotExist(err) {
			return cfg, false, nil
		}
		return Settings{}, false, errs.New("config.load", errs.CodeInvalid,
			errs.WithMessage("read configuration file"), errs.WithCause(err))
	}
	if err := yaml.Unmarshal(raw, &cfg); err != nil {
		return Settings{}, false, errs.New("config.load", errs.CodeInvalid,
			errs.WithMessage("parse configuration file"), errs.WithCause(err))
	}
	return cfg, true, nil
}

// FromEnv overlays environment variables onto the provided settings.
func FromEnv(cfg Settings) Settings {
	if v := strings.TrimSpace(os.Getenv("RMPAY_ENVIRONMENT")); v != "" {
		cfg.Environment = Environment(strings.ToLower(v))
	}
	if v := strings.TrimSpace(os.Getenv("RMPAY_CLIENT_ID")); v != "" {
		cfg.Credentials.ClientID = v
	}
	if v := strings.TrimSpace(os.Getenv("RMPAY_CLIENT_SECRET")); v != "" {
		cfg.Credentials.ClientSecret = v
	}
	if v := os.Getenv("RMPAY_PRIVATE_KEY"); strings.TrimSpace(v) != "" {
		cfg.Credentials.PrivateKey = v
	}
	if v := os.Getenv("RMPAY_PUBLIC_KEY"); strings.TrimSpace(v) != "" {
		cfg.Credentials.PublicKey = v
	}
	if v := strings.TrimSpace(os.Getenv("RMPAY_STORE_ID")); v != "" {
		cfg.StoreID = v
	}
	if v := strings.TrimSpace(os.Getenv("RMPAY_AUTO_CANCEL")); v != "" {
		if b, err := strconv.ParseBool(v); err == nil {
			cfg.AutoCancel = b
		}
	}
	if v := strings.TrimSpace(os.Getenv("RMPAY_CANCEL_AFTER")); v != "" {
		if dur, err := time.ParseDuration(v); err == nil {
			cfg.CancelAfter = dur
		}
	}
	if v := strings.TrimSpace(os.Getenv("RMPAY_SWEEP_INTERVAL")); v != "" {
		if dur, err := time.ParseDuration(v); err == nil {
			cfg.SweepInterval = dur
		}
	}
	if v := strings.TrimSpace(os.Getenv("RMPAY_SWEEP_WORKERS")); v != "" {
		if n, err := strconv.Atoi(v); err == nil && n > 0 {
			cfg.SweepWorkers = n
		}
	}
	if v := strings.TrimSpace(os.Getenv("RMPAY_REQUEST_RATE")); v != "" {
		if rate, err := strconv.ParseFloat(v, 64); err == nil && rate >= 0 {
			cfg.RequestRate = rate
		}
	}
	if v := strings.TrimSpace(os.Getenv("RMPAY_HTTP_TIMEOUT")); v != "" {
		if dur, err := time.ParseDuration(v); err == nil {
			cfg.HTTPTimeout = dur
		}
	}
	if v := strings.TrimSpace(os.Getenv("RMPAY_REDIRECT_URL")); v != "" {
		cfg.RedirectURL = v
	}
	if v := strings.TrimSpace(os.Getenv("RMPAY_NOTIFY_URL")); v != "" {
		cfg.NotifyURL = v
	}
	if v := strings.TrimSpace(os.Getenv("RMPAY_LISTEN_ADDR")); v != "" {
		cfg.ListenAddr = v
	}
	if v := strings.TrimSpace(os.Getenv("RMPAY_OTLP_ENDPOINT")); v != "" {
		cfg.Telemetry.OTLPEndpoint = v
	}
	if v := strings.TrimSpace(os.Getenv("RMPAY_SERVICE_NAME")); v != "" {
		cfg.Telemetry.ServiceName = v
	}
	return cfg
}

// Option mutates Settings when applied via Apply.
type Option func(*Settings)

// Apply applies the provided Option set to a copy of the base Settings.
func Apply(base Settings, opts ...Option) Settings {
	cfg := base
	for _, opt := range opts {
		if opt != nil {
			opt(&cfg)
		}
	}
	return cfg
}

// WithEnvironment selects the provider environment.
func WithEnvironment(env Environment) Option {
	return func(s *Settings) {
		if env != "" {
			s.Environment = env
		}
	}
}

// WithCredentials sets the merchant credential set.
func WithCredentials(creds Credentials) Option {
	return func(s *Settings) {
		s.Credentials = creds
	}
}

// WithStoreID sets the provider-side store identifier.
func WithStoreID(storeID string) Option {
	storeID = strings.TrimSpace(storeID)
	return func(s *Settings) {
		if storeID != "" {
			s.StoreID = storeID
		}
	}
}

// WithAutoCancel toggles timeout cancellation of unconfirmed transactions.
func WithAutoCancel(enabled bool) Option {
	return func(s *Settings) {
		s.AutoCancel = enabled
	}
}

// WithCancelAfter overrides the auto-cancel age threshold.
func WithCancelAfter(threshold time.Duration) Option {
	return func(s *Settings) {
		if threshold > 0 {
			s.CancelAfter = threshold
		}
	}
}

// WithSweepInterval overrides the reconciliation sweep interval.
func WithSweepInterval(interval time.Duration) Option {
	return func(s *Settings) {
		if interval > 0 {
			s.SweepInterval = interval
		}
	}
}

// WithHTTPTimeout overrides the provider request timeout.
func WithHTTPTimeout(timeout time.Duration) Option {
	return func(s *Settings) {
		if timeout > 0 {
			s.HTTPTimeout = timeout
		}
	}
}

// Sandbox reports whether requests target the sandbox environment.
func (s Settings) Sandbox() bool {
	return s.Environment == EnvSandbox
}

// Validate checks that the settings are sufficient to construct a client.
func (s Settings) Validate() error {
	if s.Environment != EnvSandbox && s.Environment != EnvProduction {
		return errs.New("config.validate", errs.CodeInvalid,
			errs.WithMessage("environment must be sandbox or production"))
	}
	if strings.TrimSpace(s.Credentials.ClientID) == "" {
		return errs.New("config.validate", errs.CodeInvalid,
			errs.WithMessage("client id is required"))
	}
	if strings.TrimSpace(s.Credentials.ClientSecret) == "" {
		return errs.New("config.validate", errs.CodeInvalid,
			errs.WithMessage("client secret is required"))
	}
	if strings.TrimSpace(s.Credentials.PrivateKey) == "" {
		return errs.New("config.validate", errs.CodeInvalid,
			errs.WithMessage("private key is required"))
	}
	if s.SweepWorkers <= 0 {
		return errs.New("config.validate", errs.CodeInvalid,
			errs.WithMessage("sweep workers must be positive"))
	}
	return nil
}
