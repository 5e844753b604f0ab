package csrf

import (
	"context"
	"net/http"
	"strings"
	"sync"

	"github.com/wudi/petshop/internal/logging"
	"go.uber.org/zap"
	"google.golang.org/grpc"
	"google.golang.org/grpc/metadata"
)

// UnaryServerInterceptor applies the guard to unary RPCs. The cookie is sent
// as a set-cookie header when the handler returns without error.
func (g *Guard) UnaryServerInterceptor() grpc.UnaryServerInterceptor {
	return func(ctx context.Context, req any, info *grpc.UnaryServerInfo, handler grpc.UnaryHandler) (any, error) {
		ctx, st := g.checkIncoming(ctx)
		if st == nil {
			return handler(ctx, req)
		}

		resp, err := handler(ctx, req)

		success := err == nil && ctx.Err() == nil
		if c := g.ResponseCookie(st.result, success, st.used.Load()); c != nil {
			if serr := grpc.SetHeader(ctx, metadata.Pairs("set-cookie", c.String())); serr != nil {
				logging.Debug("csrf cookie not sent",
					zap.String("method", info.FullMethod),
					zap.Error(serr),
				)
			}
		}
		return resp, err
	}
}

// StreamServerInterceptor applies the guard to streaming RPCs. The cookie is
// decided once, when the first header or message is sent or, if nothing was
// sent, when the handler returns.
func (g *Guard) StreamServerInterceptor() grpc.StreamServerInterceptor {
	return func(srv any, ss grpc.ServerStream, info *grpc.StreamServerInfo, handler grpc.StreamHandler) error {
		ctx, st := g.checkIncoming(ss.Context())
		if st == nil {
			return handler(srv, ss)
		}

		gs := &guardedStream{ServerStream: ss, ctx: ctx, guard: g, state: st}
		err := handler(srv, gs)
		gs.issue(err == nil)
		return err
	}
}

// checkIncoming runs the request phase over incoming metadata and returns a
// context carrying the cleaned metadata and the request state. The state is
// nil when the guard is disabled.
func (g *Guard) checkIncoming(ctx context.Context) (context.Context, *requestState) {
	md, _ := metadata.FromIncomingContext(ctx)
	h := headerFromMD(md)

	res := g.CheckRequest(h)
	if res.State == StateDisabled {
		return ctx, nil
	}

	st := &requestState{result: res}
	ctx = metadata.NewIncomingContext(ctx, mdFromHeader(h))
	return withState(ctx, st), st
}

func headerFromMD(md metadata.MD) http.Header {
	h := make(http.Header, len(md))
	for k, vs := range md {
		for _, v := range vs {
			h.Add(k, v)
		}
	}
	return h
}

func mdFromHeader(h http.Header) metadata.MD {
	md := make(metadata.MD, len(h))
	for k, vs := range h {
		md[strings.ToLower(k)] = vs
	}
	return md
}

type guardedStream struct {
	grpc.ServerStream
	ctx   context.Context
	guard *Guard
	state *requestState
	once  sync.Once
}

func (s *guardedStream) Context() context.Context {
	return s.ctx
}

func (s *guardedStream) issue(success bool) {
	s.once.Do(func() {
		success = success && s.ctx.Err() == nil
		c := s.guard.ResponseCookie(s.state.result, success, s.state.used.Load())
		if c == nil {
			return
		}
		if err := s.ServerStream.SetHeader(metadata.Pairs("set-cookie", c.String())); err != nil {
			logging.Debug("csrf cookie not sent", zap.Error(err))
		}
	})
}

func (s *guardedStream) SendHeader(md metadata.MD) error {
	s.issue(true)
	return s.ServerStream.SendHeader(md)
}

func (s *guardedStream) SendMsg(m any) error {
	s.issue(true)
	return s.ServerStream.SendMsg(m)
}
