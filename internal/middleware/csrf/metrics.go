package csrf

import "sync/atomic"

// GuardMetrics tracks guard outcomes using atomic counters.
type GuardMetrics struct {
	TotalRequests  atomic.Int64
	Matched        atomic.Int64
	NoToken        atomic.Int64
	Mismatched     atomic.Int64
	OriginRejected atomic.Int64
	TokensIssued   atomic.Int64
	TokensRotated  atomic.Int64
}

// Status is the JSON snapshot served on the internal listener.
type Status struct {
	Enabled        bool     `json:"enabled"`
	CookieName     string   `json:"cookie_name,omitempty"`
	HeaderName     string   `json:"header_name,omitempty"`
	AllowOrigins   []string `json:"allow_origins,omitempty"`
	TotalRequests  int64    `json:"total_requests"`
	Matched        int64    `json:"matched"`
	NoToken        int64    `json:"no_token"`
	Mismatched     int64    `json:"mismatched"`
	OriginRejected int64    `json:"origin_rejected"`
	TokensIssued   int64    `json:"tokens_issued"`
	TokensRotated  int64    `json:"tokens_rotated"`
}
