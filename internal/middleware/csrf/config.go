package csrf

import (
	"errors"
	"fmt"
	"net/http"
	"strings"

	"github.com/wudi/petshop/internal/config"
)

// Config is the compiled guard configuration. A nil *Config disables the guard.
type Config struct {
	CookieName          string
	CookieDomain        string
	CookiePath          string
	CookieSecure        bool
	CookieSameSite      http.SameSite
	CookieMaxAgeMinutes int
	HeaderName          string
	TokenLength         int
	AllowOrigins        []Origin
}

// Validate checks the invariants the guard relies on.
func (c *Config) Validate() error {
	if c.CookieName == "" {
		return errors.New("csrf: cookie name is required")
	}
	if c.HeaderName == "" {
		return errors.New("csrf: header name is required")
	}
	if c.TokenLength <= 0 {
		return fmt.Errorf("csrf: token length must be > 0, got %d", c.TokenLength)
	}
	// http.Cookie omits Max-Age when it is zero, which would issue a session cookie.
	if c.CookieMaxAgeMinutes < 1 {
		return fmt.Errorf("csrf: cookie max age must be at least 1 minute, got %d", c.CookieMaxAgeMinutes)
	}
	return nil
}

// ParseSameSite maps strict, lax or none (any case) onto http.SameSite.
func ParseSameSite(s string) (http.SameSite, error) {
	switch strings.ToLower(s) {
	case "strict":
		return http.SameSiteStrictMode, nil
	case "lax":
		return http.SameSiteLaxMode, nil
	case "none":
		return http.SameSiteNoneMode, nil
	default:
		return 0, fmt.Errorf("csrf: cookie samesite %q is invalid", s)
	}
}

// Compile turns the file configuration into a guard configuration. It returns
// nil without error when the section is disabled.
func Compile(cfg config.CSRFConfig) (*Config, error) {
	if !cfg.Enabled {
		return nil, nil
	}

	sameSite, err := ParseSameSite(cfg.CookieSameSite)
	if err != nil {
		return nil, err
	}

	c := &Config{
		CookieName:          cfg.CookieName,
		CookieDomain:        cfg.CookieDomain,
		CookiePath:          cfg.CookiePath,
		CookieSecure:        cfg.CookieSecure,
		CookieSameSite:      sameSite,
		CookieMaxAgeMinutes: cfg.CookieMaxAgeMinutes,
		HeaderName:          http.CanonicalHeaderKey(cfg.HeaderName),
		TokenLength:         cfg.TokenLength,
	}
	for _, raw := range cfg.AllowOrigins {
		o, err := ParseOrigin(raw)
		if err != nil {
			return nil, err
		}
		c.AllowOrigins = append(c.AllowOrigins, o)
	}

	if err := c.Validate(); err != nil {
		return nil, err
	}
	return c, nil
}
