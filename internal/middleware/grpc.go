package middleware

import (
	"context"
	"fmt"
	"runtime/debug"
	"strings"
	"time"

	"github.com/wudi/petshop/internal/logging"
	"github.com/wudi/petshop/internal/metrics"
	"go.uber.org/zap"
	"google.golang.org/grpc"
	"google.golang.org/grpc/codes"
	"google.golang.org/grpc/metadata"
	"google.golang.org/grpc/status"
)

var requestIDKeyMD = strings.ToLower(RequestIDHeader)

// UnaryMetrics is the gRPC counterpart of Metrics. A call succeeds when the
// handler returns a nil error without panicking or being cancelled.
func UnaryMetrics(rec *metrics.Recorder) grpc.UnaryServerInterceptor {
	return func(ctx context.Context, req any, info *grpc.UnaryServerInfo, handler grpc.UnaryHandler) (resp any, err error) {
		start := rec.Begin()
		completed := false
		defer func() {
			observeCall(ctx, rec, start, completed, err)
		}()

		resp, err = handler(ctx, req)
		completed = true
		return resp, err
	}
}

// StreamMetrics is the streaming counterpart of UnaryMetrics.
func StreamMetrics(rec *metrics.Recorder) grpc.StreamServerInterceptor {
	return func(srv any, ss grpc.ServerStream, info *grpc.StreamServerInfo, handler grpc.StreamHandler) (err error) {
		start := rec.Begin()
		completed := false
		defer func() {
			observeCall(ss.Context(), rec, start, completed, err)
		}()

		err = handler(srv, ss)
		completed = true
		return err
	}
}

func observeCall(ctx context.Context, rec *metrics.Recorder, start time.Time, completed bool, err error) {
	code := "aborted"
	success := false
	if completed {
		code = status.Code(err).String()
		success = err == nil && ctx.Err() == nil
	}
	rec.End(start, success)
	rec.ObserveResponse("grpc", code)
}

// UnaryRequestID reads x-request-id from incoming metadata, generating one
// when absent, and echoes it in the response header.
func UnaryRequestID() grpc.UnaryServerInterceptor {
	return func(ctx context.Context, req any, info *grpc.UnaryServerInfo, handler grpc.UnaryHandler) (any, error) {
		ctx = requestIDContext(ctx)
		_ = grpc.SetHeader(ctx, metadata.Pairs(requestIDKeyMD, RequestIDFromContext(ctx)))
		return handler(ctx, req)
	}
}

// StreamRequestID is the streaming counterpart of UnaryRequestID.
func StreamRequestID() grpc.StreamServerInterceptor {
	return func(srv any, ss grpc.ServerStream, info *grpc.StreamServerInfo, handler grpc.StreamHandler) error {
		ctx := requestIDContext(ss.Context())
		_ = ss.SetHeader(metadata.Pairs(requestIDKeyMD, RequestIDFromContext(ctx)))
		return handler(srv, &contextStream{ServerStream: ss, ctx: ctx})
	}
}

func requestIDContext(ctx context.Context) context.Context {
	var incoming string
	if md, ok := metadata.FromIncomingContext(ctx); ok {
		if v := md.Get(requestIDKeyMD); len(v) > 0 {
			incoming = v[0]
		}
	}
	return WithRequestID(ctx, IDSource{}.Resolve(incoming))
}

// UnaryRecovery converts handler panics into codes.Internal.
func UnaryRecovery() grpc.UnaryServerInterceptor {
	return func(ctx context.Context, req any, info *grpc.UnaryServerInfo, handler grpc.UnaryHandler) (resp any, err error) {
		defer func() {
			if r := recover(); r != nil {
				err = recoverCall(info.FullMethod, r)
			}
		}()
		return handler(ctx, req)
	}
}

// StreamRecovery is the streaming counterpart of UnaryRecovery.
func StreamRecovery() grpc.StreamServerInterceptor {
	return func(srv any, ss grpc.ServerStream, info *grpc.StreamServerInfo, handler grpc.StreamHandler) (err error) {
		defer func() {
			if r := recover(); r != nil {
				err = recoverCall(info.FullMethod, r)
			}
		}()
		return handler(srv, ss)
	}
}

func recoverCall(method string, r any) error {
	defaultLogFunc(r, debug.Stack())
	return status.Error(codes.Internal, fmt.Sprintf("panic in %s", method))
}

// UnaryLogging writes one access log entry per unary call.
func UnaryLogging() grpc.UnaryServerInterceptor {
	return func(ctx context.Context, req any, info *grpc.UnaryServerInfo, handler grpc.UnaryHandler) (any, error) {
		start := time.Now()
		resp, err := handler(ctx, req)
		logCall(ctx, info.FullMethod, start, err)
		return resp, err
	}
}

// StreamLogging writes one access log entry per stream.
func StreamLogging() grpc.StreamServerInterceptor {
	return func(srv any, ss grpc.ServerStream, info *grpc.StreamServerInfo, handler grpc.StreamHandler) error {
		start := time.Now()
		err := handler(srv, ss)
		logCall(ss.Context(), info.FullMethod, start, err)
		return err
	}
}

func logCall(ctx context.Context, method string, start time.Time, err error) {
	fields := []zap.Field{
		zap.String("request_id", RequestIDFromContext(ctx)),
		zap.String("method", method),
		zap.String("code", status.Code(err).String()),
		zap.Duration("response_time", time.Since(start)),
	}
	if err != nil {
		fields = append(fields, zap.Error(err))
	}
	logging.Info("gRPC request", fields...)
}

// contextStream overrides the context of a server stream.
type contextStream struct {
	grpc.ServerStream
	ctx context.Context
}

func (s *contextStream) Context() context.Context {
	return s.ctx
}
