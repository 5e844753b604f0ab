package csrf

import (
	"net/http"
	"sync/atomic"

	"github.com/wudi/petshop/internal/logging"
	"go.uber.org/zap"
)

// Private headers exchanged between the guard and protected handlers. They
// are stripped from client requests and from responses before they leave.
const (
	HeaderMatch = "X-Csrf-Match"
	HeaderError = "X-Csrf-Error"
	HeaderUsed  = "X-Csrf-Used"
)

const (
	reasonNotFound      = "tokens not found"
	reasonMismatch      = "tokens do not match"
	reasonOriginBlocked = "origin not allowed"
)

// State is the outcome of the request phase.
type State int

const (
	StateDisabled State = iota
	StateNoToken
	StateMatched
	StateMismatched
)

func (s State) String() string {
	switch s {
	case StateDisabled:
		return "disabled"
	case StateNoToken:
		return "no_token"
	case StateMatched:
		return "matched"
	case StateMismatched:
		return "mismatched"
	default:
		return "unknown"
	}
}

// Result is produced by CheckRequest and consumed by ResponseCookie. It holds
// the configuration it was checked against so a reload in between does not
// change how the response is treated.
type Result struct {
	State  State
	Token  string // cookie token carried forward, empty on first contact
	Reason string
	cfg    *Config
}

// FailureCounter receives one call per request that fails the check.
type FailureCounter interface {
	CSRFFailure()
}

// Guard implements the double-submit cookie check. It keeps no per-request
// or cross-request token state; everything it needs travels in the cookie.
type Guard struct {
	cfg      atomic.Pointer[Config]
	failures FailureCounter
	metrics  GuardMetrics
}

// New creates a guard. A nil cfg creates a disabled guard and a nil failures
// counter is allowed.
func New(cfg *Config, failures FailureCounter) *Guard {
	g := &Guard{failures: failures}
	g.cfg.Store(cfg)
	return g
}

// Update swaps the configuration used by requests that start afterwards.
func (g *Guard) Update(cfg *Config) {
	g.cfg.Store(cfg)
	logging.Info("csrf configuration updated", zap.Bool("enabled", cfg != nil))
}

// Enabled reports whether the guard currently has a configuration.
func (g *Guard) Enabled() bool {
	return g.cfg.Load() != nil
}

// CheckRequest runs the request phase against h, which is modified in place:
// private headers and the client token header are removed and either the
// match or the error header is set. The request is never rejected here.
func (g *Guard) CheckRequest(h http.Header) Result {
	cfg := g.cfg.Load()
	if cfg == nil {
		return Result{State: StateDisabled}
	}
	g.metrics.TotalRequests.Add(1)

	h.Del(HeaderMatch)
	h.Del(HeaderError)
	h.Del(HeaderUsed)

	headerToken, headerOK := RemoveHeader(h, cfg.HeaderName)
	cookieToken, cookieOK := CookieValue(h, cfg.CookieName)

	res := Result{Token: cookieToken, cfg: cfg}
	switch {
	case !headerOK || !cookieOK:
		res.State, res.Reason = StateNoToken, reasonNotFound
		g.metrics.NoToken.Add(1)
	case headerToken != cookieToken:
		res.State, res.Reason = StateMismatched, reasonMismatch
		g.metrics.Mismatched.Add(1)
	case len(cfg.AllowOrigins) > 0 && !g.originAllowed(h, cfg):
		res.State, res.Reason = StateMismatched, reasonOriginBlocked
		g.metrics.OriginRejected.Add(1)
	default:
		res.State = StateMatched
		g.metrics.Matched.Add(1)
		h.Set(HeaderMatch, "1")
		return res
	}

	h.Set(HeaderError, res.Reason)
	if g.failures != nil {
		g.failures.CSRFFailure()
	}
	return res
}

func (g *Guard) originAllowed(h http.Header, cfg *Config) bool {
	o, ok := RequestOrigin(h)
	if !ok {
		return false
	}
	return MatchOrigin(o, cfg.AllowOrigins)
}

// ResponseCookie runs the response phase. It returns nil when the guard was
// disabled for the request or the outcome was unsuccessful. A used token is
// always replaced; otherwise the carried token is reused or a first one minted.
func (g *Guard) ResponseCookie(res Result, success, used bool) *http.Cookie {
	cfg := res.cfg
	if cfg == nil || res.State == StateDisabled || !success {
		return nil
	}

	token := res.Token
	switch {
	case used:
		token = GenerateToken(cfg.TokenLength)
		g.metrics.TokensRotated.Add(1)
	case token == "":
		token = GenerateToken(cfg.TokenLength)
		g.metrics.TokensIssued.Add(1)
	}

	return &http.Cookie{
		Name:     cfg.CookieName,
		Value:    token,
		Domain:   cfg.CookieDomain,
		Path:     cfg.CookiePath,
		Secure:   cfg.CookieSecure,
		HttpOnly: false, // read by client script to mirror into the header
		SameSite: cfg.CookieSameSite,
		MaxAge:   cfg.CookieMaxAgeMinutes * 60,
	}
}

// Status returns the admin status snapshot.
func (g *Guard) Status() Status {
	s := Status{
		TotalRequests:  g.metrics.TotalRequests.Load(),
		Matched:        g.metrics.Matched.Load(),
		NoToken:        g.metrics.NoToken.Load(),
		Mismatched:     g.metrics.Mismatched.Load(),
		OriginRejected: g.metrics.OriginRejected.Load(),
		TokensIssued:   g.metrics.TokensIssued.Load(),
		TokensRotated:  g.metrics.TokensRotated.Load(),
	}
	if cfg := g.cfg.Load(); cfg != nil {
		s.Enabled = true
		s.CookieName = cfg.CookieName
		s.HeaderName = cfg.HeaderName
		for _, o := range cfg.AllowOrigins {
			s.AllowOrigins = append(s.AllowOrigins, o.String())
		}
	}
	return s
}
