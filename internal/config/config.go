package config

import "time"

// Config is the root configuration for the petshop server.
type Config struct {
	Listeners  ListenersConfig  `yaml:"listeners"`
	Logging    LoggingConfig    `yaml:"logging"`
	CSRF       CSRFConfig       `yaml:"csrf"`
	Metrics    MetricsConfig    `yaml:"metrics"`
	Postgres   PostgresConfig   `yaml:"postgres"`
	Health     HealthConfig     `yaml:"health"`
	Validation ValidationConfig `yaml:"validation"`
}

// ListenersConfig holds the addresses of the three server surfaces.
type ListenersConfig struct {
	HTTP            string        `yaml:"http"`     // JSON API, wrapped by the interceptor pipeline
	GRPC            string        `yaml:"grpc"`     // gRPC API, pipeline applied as interceptors
	Internal        string        `yaml:"internal"` // metrics, liveness, readiness
	ReadTimeout     time.Duration `yaml:"read_timeout"`
	WriteTimeout    time.Duration `yaml:"write_timeout"`
	IdleTimeout     time.Duration `yaml:"idle_timeout"`
	ShutdownTimeout time.Duration `yaml:"shutdown_timeout"`
}

// LoggingConfig defines logging settings
type LoggingConfig struct {
	Level    string            `yaml:"level"` // debug, info, warn, error
	File     string            `yaml:"file"`  // optional rotated log file
	Rotation LogRotationConfig `yaml:"rotation"`
}

// LogRotationConfig defines log file rotation settings (powered by lumberjack).
type LogRotationConfig struct {
	MaxSize    int  `yaml:"max_size"`    // max megabytes before rotation (default 100)
	MaxBackups int  `yaml:"max_backups"` // old rotated files to keep (default 3)
	MaxAge     int  `yaml:"max_age"`     // days to retain old files (default 28)
	Compress   bool `yaml:"compress"`    // gzip rotated files
	LocalTime  bool `yaml:"local_time"`  // use local time in backup filenames
}

// CSRFConfig defines double-submit cookie protection. When Enabled is false
// the guard passes every request through untouched.
type CSRFConfig struct {
	Enabled             bool     `yaml:"enabled"`
	CookieName          string   `yaml:"cookie_name"`            // default "XSRF-TOKEN"
	CookieDomain        string   `yaml:"cookie_domain"`          // default "localhost"
	CookiePath          string   `yaml:"cookie_path"`            // default "/"
	CookieSecure        bool     `yaml:"cookie_secure"`          // default true
	CookieSameSite      string   `yaml:"cookie_samesite"`        // strict/lax/none, default "strict"
	CookieMaxAgeMinutes int      `yaml:"cookie_max_age_minutes"` // default 1440
	HeaderName          string   `yaml:"header_name"`            // default "X-XSRF-TOKEN"
	TokenLength         int      `yaml:"token_length"`           // default 32
	AllowOrigins        []string `yaml:"allow_origins"`          // scheme://host[:port], empty accepts all
}

// MetricsConfig defines Prometheus exposition settings.
type MetricsConfig struct {
	Path      string `yaml:"path"`      // default "/metrics"
	Namespace string `yaml:"namespace"` // optional metric name prefix
}

// PostgresConfig defines the optional Postgres pet store. An empty DSN keeps
// pets in memory and makes readiness independent of a database.
type PostgresConfig struct {
	DSN             string        `yaml:"dsn"`
	MaxConns        int32         `yaml:"max_conns"`
	ConnectTimeout  time.Duration `yaml:"connect_timeout"`
	ConnectAttempts uint64        `yaml:"connect_attempts"`
}

// HealthConfig defines readiness probe settings.
type HealthConfig struct {
	ReadinessTimeout time.Duration `yaml:"readiness_timeout"`
}

// ValidationConfig adds a JSON schema that pet documents must satisfy on top
// of the built-in field checks. Inline schema wins over the file when both are set.
type ValidationConfig struct {
	PetSchema     string `yaml:"pet_schema"`
	PetSchemaFile string `yaml:"pet_schema_file"`
}

// DefaultConfig returns a configuration with default values
func DefaultConfig() *Config {
	return &Config{
		Listeners: ListenersConfig{
			HTTP:            "127.0.0.1:5000",
			GRPC:            "127.0.0.1:5001",
			Internal:        "127.0.0.1:5501",
			ReadTimeout:     30 * time.Second,
			WriteTimeout:    30 * time.Second,
			IdleTimeout:     60 * time.Second,
			ShutdownTimeout: 10 * time.Second,
		},
		Logging: LoggingConfig{
			Level: "info",
		},
		CSRF: CSRFConfig{
			Enabled:             false,
			CookieName:          "XSRF-TOKEN",
			CookieDomain:        "localhost",
			CookiePath:          "/",
			CookieSecure:        true,
			CookieSameSite:      "strict",
			CookieMaxAgeMinutes: 1440,
			HeaderName:          "X-XSRF-TOKEN",
			TokenLength:         32,
		},
		Metrics: MetricsConfig{
			Path: "/metrics",
		},
		Postgres: PostgresConfig{
			MaxConns:        4,
			ConnectTimeout:  5 * time.Second,
			ConnectAttempts: 5,
		},
		Health: HealthConfig{
			ReadinessTimeout: 2 * time.Second,
		},
	}
}
