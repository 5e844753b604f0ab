package middleware

import (
	"net/http"

	"github.com/wudi/petshop/internal/metrics"
	"github.com/wudi/petshop/internal/middleware/csrf"
	"google.golang.org/grpc"
)

// Pipeline wraps an API with the metrics and CSRF interceptors in a fixed
// order: metrics outermost so that everything downstream is counted, then the
// CSRF guard, then the service itself. Either field may be nil.
type Pipeline struct {
	Recorder *metrics.Recorder
	Guard    *csrf.Guard
}

// Middlewares returns the HTTP middlewares of the pipeline, outermost first.
func (p Pipeline) Middlewares() []Middleware {
	var out []Middleware
	if p.Recorder != nil {
		out = append(out, Metrics(p.Recorder))
	}
	if p.Guard != nil {
		out = append(out, p.Guard.Middleware())
	}
	return out
}

// Wrap applies the pipeline to h. The result keeps h's service name.
func (p Pipeline) Wrap(h http.Handler) http.Handler {
	return NewChain(p.Middlewares()...).Then(h)
}

// Handler wraps h with the pipeline and the ambient middlewares the server
// runs outside it: request ids, access log and panic recovery.
func (p Pipeline) Handler(h http.Handler, logCfg LoggingConfig) http.Handler {
	return NewBuilder().
		Use(RequestID()).
		Use(LoggingWithConfig(logCfg)).
		Use(Recovery()).
		Build().
		Extend(NewChain(p.Middlewares()...)).
		Then(h)
}

// UnaryInterceptors returns the unary interceptors of the pipeline, outermost
// first.
func (p Pipeline) UnaryInterceptors() []grpc.UnaryServerInterceptor {
	var out []grpc.UnaryServerInterceptor
	if p.Recorder != nil {
		out = append(out, UnaryMetrics(p.Recorder))
	}
	if p.Guard != nil {
		out = append(out, p.Guard.UnaryServerInterceptor())
	}
	return out
}

// StreamInterceptors returns the stream interceptors of the pipeline,
// outermost first.
func (p Pipeline) StreamInterceptors() []grpc.StreamServerInterceptor {
	var out []grpc.StreamServerInterceptor
	if p.Recorder != nil {
		out = append(out, StreamMetrics(p.Recorder))
	}
	if p.Guard != nil {
		out = append(out, p.Guard.StreamServerInterceptor())
	}
	return out
}

// ServerOptions installs request ids, access log and recovery followed by
// the pipeline on a grpc.Server.
func (p Pipeline) ServerOptions() []grpc.ServerOption {
	unary := append([]grpc.UnaryServerInterceptor{
		UnaryRequestID(),
		UnaryLogging(),
		UnaryRecovery(),
	}, p.UnaryInterceptors()...)
	stream := append([]grpc.StreamServerInterceptor{
		StreamRequestID(),
		StreamLogging(),
		StreamRecovery(),
	}, p.StreamInterceptors()...)

	return []grpc.ServerOption{
		grpc.ChainUnaryInterceptor(unary...),
		grpc.ChainStreamInterceptor(stream...),
	}
}
