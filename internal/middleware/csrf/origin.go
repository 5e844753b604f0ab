package csrf

import (
	"fmt"
	"net/http"
	"net/url"
	"strconv"
	"strings"
)

// Origin is a normalised scheme, host and optional port. Port 0 means the
// port was not given or was the scheme default.
type Origin struct {
	Scheme string
	Host   string
	Port   int
}

func (o Origin) String() string {
	if o.Port == 0 {
		return o.Scheme + "://" + o.Host
	}
	return o.Scheme + "://" + o.Host + ":" + strconv.Itoa(o.Port)
}

var defaultPorts = map[string]int{
	"http":  80,
	"https": 443,
}

// ParseOrigin parses an Origin header value, a Referer URL or a configured
// allow-list entry. Path, query and userinfo are discarded.
func ParseOrigin(raw string) (Origin, error) {
	raw = strings.TrimSpace(raw)
	if raw == "" || raw == "null" {
		return Origin{}, fmt.Errorf("csrf: no origin in %q", raw)
	}
	u, err := url.Parse(raw)
	if err != nil {
		return Origin{}, fmt.Errorf("csrf: invalid origin %q: %w", raw, err)
	}
	if u.Scheme == "" || u.Hostname() == "" {
		return Origin{}, fmt.Errorf("csrf: origin %q needs scheme and host", raw)
	}

	o := Origin{
		Scheme: strings.ToLower(u.Scheme),
		Host:   strings.ToLower(u.Hostname()),
	}
	if p := u.Port(); p != "" {
		port, err := strconv.Atoi(p)
		if err != nil || port < 1 || port > 65535 {
			return Origin{}, fmt.Errorf("csrf: invalid port in origin %q", raw)
		}
		if defaultPorts[o.Scheme] != port {
			o.Port = port
		}
	}
	return o, nil
}

// MatchOrigin reports whether candidate is accepted by one of the allowed
// origins. Scheme and host must be equal; hosts are never suffix matched. An
// allowed origin without a port accepts any candidate port.
func MatchOrigin(candidate Origin, allow []Origin) bool {
	if candidate.Scheme == "" || candidate.Host == "" {
		return false
	}
	for _, a := range allow {
		if a.Scheme != candidate.Scheme || a.Host != candidate.Host {
			continue
		}
		if a.Port != 0 && a.Port != candidate.Port {
			continue
		}
		return true
	}
	return false
}

// RequestOrigin derives the request origin from the Origin header, falling
// back to Referer only when Origin is not sent at all.
func RequestOrigin(h http.Header) (Origin, bool) {
	raw := h.Get("Origin")
	if raw == "" {
		raw = h.Get("Referer")
	}
	if raw == "" {
		return Origin{}, false
	}
	o, err := ParseOrigin(raw)
	if err != nil {
		return Origin{}, false
	}
	return o, true
}
