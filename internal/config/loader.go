package config

import (
	"fmt"
	"net"
	"net/url"
	"os"
	"regexp"
	"strconv"
	"strings"

	"github.com/goccy/go-yaml"
	"github.com/goccy/go-yaml/ast"
	"github.com/goccy/go-yaml/parser"
)

// EnvPrefix is the prefix of environment variables that override file values.
const EnvPrefix = "CONFIG_"

// Loader handles configuration loading and parsing
type Loader struct {
	envPattern *regexp.Regexp
	lookupEnv  func(string) (string, bool)
}

// NewLoader creates a new configuration loader
func NewLoader() *Loader {
	return &Loader{
		envPattern: regexp.MustCompile(`\$\{([A-Za-z_][A-Za-z0-9_]*)\}`),
		lookupEnv:  os.LookupEnv,
	}
}

// Load reads and parses a configuration file
func (l *Loader) Load(path string) (*Config, error) {
	data, err := os.ReadFile(path)
	if err != nil {
		return nil, fmt.Errorf("failed to read config file: %w", err)
	}

	return l.Parse(data)
}

// Parse parses configuration from YAML bytes
func (l *Loader) Parse(data []byte) (*Config, error) {
	// Expand environment variables
	expanded := l.expandEnvVars(string(data))

	// Start with defaults
	cfg := DefaultConfig()

	// An empty document would zero the defaults, so only decode real content.
	hasContent, err := documentHasContent([]byte(expanded))
	if err != nil {
		return nil, fmt.Errorf("failed to parse YAML: %w", err)
	}
	if hasContent {
		if err := yaml.Unmarshal([]byte(expanded), cfg); err != nil {
			return nil, fmt.Errorf("failed to parse YAML: %w", err)
		}
	}

	if err := l.applyOverrides(cfg); err != nil {
		return nil, err
	}

	// Validate configuration
	if err := l.validate(cfg); err != nil {
		return nil, fmt.Errorf("configuration validation failed: %w", err)
	}

	return cfg, nil
}

// documentHasContent reports whether data holds at least one document with a
// non-null body. Blank and comment-only files have none.
func documentHasContent(data []byte) (bool, error) {
	file, err := parser.ParseBytes(data, 0)
	if err != nil {
		return false, err
	}
	for _, doc := range file.Docs {
		switch doc.Body.(type) {
		case nil, *ast.NullNode, *ast.CommentGroupNode:
			continue
		}
		return true, nil
	}
	return false, nil
}

// LoadFromEnv builds a configuration from defaults and CONFIG_* variables only.
func (l *Loader) LoadFromEnv() (*Config, error) {
	cfg := DefaultConfig()
	if err := l.applyOverrides(cfg); err != nil {
		return nil, err
	}
	if err := l.validate(cfg); err != nil {
		return nil, fmt.Errorf("configuration validation failed: %w", err)
	}
	return cfg, nil
}

// expandEnvVars replaces ${VAR_NAME} with environment variable values
func (l *Loader) expandEnvVars(input string) string {
	return l.envPattern.ReplaceAllStringFunc(input, func(match string) string {
		// Extract variable name from ${VAR_NAME}
		varName := strings.TrimPrefix(strings.TrimSuffix(match, "}"), "${")
		if value, exists := l.lookupEnv(varName); exists {
			return value
		}
		return match // Keep original if env var not set
	})
}

// applyOverrides copies CONFIG_<SECTION>_<KEY> variables over parsed values.
func (l *Loader) applyOverrides(cfg *Config) error {
	str := func(key string, dst *string) {
		if v, ok := l.lookupEnv(EnvPrefix + key); ok {
			*dst = v
		}
	}
	boolean := func(key string, dst *bool) error {
		v, ok := l.lookupEnv(EnvPrefix + key)
		if !ok {
			return nil
		}
		b, err := strconv.ParseBool(v)
		if err != nil {
			return fmt.Errorf("%s%s: %w", EnvPrefix, key, err)
		}
		*dst = b
		return nil
	}

	str("LISTENERS_HTTP", &cfg.Listeners.HTTP)
	str("LISTENERS_GRPC", &cfg.Listeners.GRPC)
	str("LISTENERS_INTERNAL", &cfg.Listeners.Internal)
	str("LOGGING_LEVEL", &cfg.Logging.Level)
	str("LOGGING_FILE", &cfg.Logging.File)
	str("POSTGRES_DSN", &cfg.Postgres.DSN)
	str("CSRF_COOKIE_DOMAIN", &cfg.CSRF.CookieDomain)
	if err := boolean("CSRF_ENABLED", &cfg.CSRF.Enabled); err != nil {
		return err
	}
	if err := boolean("CSRF_COOKIE_SECURE", &cfg.CSRF.CookieSecure); err != nil {
		return err
	}
	if v, ok := l.lookupEnv(EnvPrefix + "CSRF_ALLOW_ORIGINS"); ok {
		cfg.CSRF.AllowOrigins = nil
		for _, o := range strings.Split(v, ",") {
			if o = strings.TrimSpace(o); o != "" {
				cfg.CSRF.AllowOrigins = append(cfg.CSRF.AllowOrigins, o)
			}
		}
	}
	return nil
}

// validate checks configuration for errors
func (l *Loader) validate(cfg *Config) error {
	if err := validateAddr("listeners.http", cfg.Listeners.HTTP); err != nil {
		return err
	}
	if err := validateAddr("listeners.grpc", cfg.Listeners.GRPC); err != nil {
		return err
	}
	if err := validateAddr("listeners.internal", cfg.Listeners.Internal); err != nil {
		return err
	}
	seen := map[string]string{}
	for name, addr := range map[string]string{
		"http":     cfg.Listeners.HTTP,
		"grpc":     cfg.Listeners.GRPC,
		"internal": cfg.Listeners.Internal,
	} {
		if other, dup := seen[addr]; dup && !strings.HasSuffix(addr, ":0") {
			return fmt.Errorf("listeners.%s and listeners.%s share address %s", name, other, addr)
		}
		seen[addr] = name
	}

	switch cfg.Logging.Level {
	case "", "debug", "info", "warn", "error":
	default:
		return fmt.Errorf("logging.level: unknown level %q", cfg.Logging.Level)
	}

	if cfg.Metrics.Path == "" || !strings.HasPrefix(cfg.Metrics.Path, "/") {
		return fmt.Errorf("metrics.path must start with /")
	}

	if cfg.Postgres.DSN != "" && cfg.Postgres.MaxConns < 1 {
		return fmt.Errorf("postgres.max_conns must be at least 1")
	}
	if cfg.Health.ReadinessTimeout <= 0 {
		return fmt.Errorf("health.readiness_timeout must be > 0")
	}

	return validateCSRF(cfg.CSRF)
}

func validateAddr(field, addr string) error {
	if addr == "" {
		return fmt.Errorf("%s is required", field)
	}
	if _, _, err := net.SplitHostPort(addr); err != nil {
		return fmt.Errorf("%s: %w", field, err)
	}
	return nil
}

// validateCSRF checks the csrf section. A disabled section is not validated so
// that a partially filled block can be kept in the file while switched off.
func validateCSRF(c CSRFConfig) error {
	if !c.Enabled {
		return nil
	}
	if c.CookieName == "" {
		return fmt.Errorf("csrf.cookie_name is required")
	}
	if strings.ContainsAny(c.CookieName, " ;=\t\"") {
		return fmt.Errorf("csrf.cookie_name %q contains invalid characters", c.CookieName)
	}
	if c.HeaderName == "" {
		return fmt.Errorf("csrf.header_name is required")
	}
	if c.TokenLength <= 0 {
		return fmt.Errorf("csrf.token_length must be > 0")
	}
	if c.CookieMaxAgeMinutes < 1 {
		return fmt.Errorf("csrf.cookie_max_age_minutes must be at least 1")
	}
	switch strings.ToLower(c.CookieSameSite) {
	case "", "strict", "lax", "none":
	default:
		return fmt.Errorf("csrf.cookie_samesite: unknown value %q", c.CookieSameSite)
	}
	for i, o := range c.AllowOrigins {
		u, err := url.Parse(o)
		if err != nil {
			return fmt.Errorf("csrf.allow_origins[%d]: %w", i, err)
		}
		if u.Scheme == "" || u.Hostname() == "" {
			return fmt.Errorf("csrf.allow_origins[%d]: %q needs scheme and host", i, o)
		}
		if p := u.Port(); p != "" {
			if n, err := strconv.Atoi(p); err != nil || n < 1 || n > 65535 {
				return fmt.Errorf("csrf.allow_origins[%d]: invalid port %q", i, p)
			}
		}
	}
	return nil
}
