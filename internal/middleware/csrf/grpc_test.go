package csrf

import (
	"context"
	"errors"
	"net/http"
	"strings"
	"testing"

	apierrors "github.com/wudi/petshop/internal/errors"
	"google.golang.org/grpc"
	"google.golang.org/grpc/metadata"
)

// headerStream records headers set through grpc.SetHeader.
type headerStream struct {
	header metadata.MD
	sent   bool
}

func (s *headerStream) Method() string { return "/petshop.Petshop/CSRF" }

func (s *headerStream) SetHeader(md metadata.MD) error {
	if s.sent {
		return errors.New("headers already sent")
	}
	s.header = metadata.Join(s.header, md)
	return nil
}

func (s *headerStream) SendHeader(md metadata.MD) error {
	if err := s.SetHeader(md); err != nil {
		return err
	}
	s.sent = true
	return nil
}

func (s *headerStream) SetTrailer(metadata.MD) error { return nil }

func (s *headerStream) cookies() []*http.Cookie {
	h := http.Header{}
	for _, v := range s.header.Get("set-cookie") {
		h.Add("Set-Cookie", v)
	}
	return (&http.Response{Header: h}).Cookies()
}

func unaryCtx(stream *headerStream, pairs ...string) context.Context {
	ctx := metadata.NewIncomingContext(context.Background(), metadata.Pairs(pairs...))
	return grpc.NewContextWithServerTransportStream(ctx, stream)
}

var unaryInfo = &grpc.UnaryServerInfo{FullMethod: "/petshop.Petshop/CSRF"}

func TestUnaryInterceptorMatched(t *testing.T) {
	g := New(testConfig(), nil)
	stream := &headerStream{}
	ctx := unaryCtx(stream, "cookie", "XSRF-TOKEN=tok; a=1", "x-xsrf-token", "tok", "x-csrf-match", "forged")

	handler := func(ctx context.Context, req any) (any, error) {
		md, _ := metadata.FromIncomingContext(ctx)
		if len(md.Get("x-xsrf-token")) != 0 {
			t.Error("client token should be removed from metadata")
		}
		if got := md.Get("x-csrf-match"); len(got) != 1 || got[0] != "1" {
			t.Errorf("match annotation = %v", got)
		}
		if err := g.RequestCheck(ctx); err != nil {
			t.Errorf("RequestCheck: %v", err)
		}
		return "ok", nil
	}

	resp, err := g.UnaryServerInterceptor()(ctx, nil, unaryInfo, handler)
	if err != nil || resp != "ok" {
		t.Fatalf("interceptor = %v, %v", resp, err)
	}
	cookies := stream.cookies()
	if len(cookies) != 1 || cookies[0].Value != "tok" {
		t.Errorf("expected reused token, got %+v", cookies)
	}
}

func TestUnaryInterceptorUsedRotates(t *testing.T) {
	g := New(testConfig(), nil)
	stream := &headerStream{}
	ctx := unaryCtx(stream, "cookie", "XSRF-TOKEN=tok", "x-xsrf-token", "tok")

	handler := func(ctx context.Context, req any) (any, error) {
		if err := g.RequestCheck(ctx); err != nil {
			return nil, err
		}
		g.ResponseUsed(ctx)
		return "ok", nil
	}
	if _, err := g.UnaryServerInterceptor()(ctx, nil, unaryInfo, handler); err != nil {
		t.Fatal(err)
	}
	cookies := stream.cookies()
	if len(cookies) != 1 || cookies[0].Value == "tok" || len(cookies[0].Value) != 32 {
		t.Errorf("expected rotated token, got %+v", cookies)
	}
}

func TestUnaryInterceptorMismatchHandlerRejects(t *testing.T) {
	fails := &failureCount{}
	g := New(testConfig(), fails)
	stream := &headerStream{}
	ctx := unaryCtx(stream, "cookie", "XSRF-TOKEN=tok", "x-xsrf-token", "forged")

	called := false
	handler := func(ctx context.Context, req any) (any, error) {
		called = true
		return nil, g.RequestCheck(ctx)
	}
	_, err := g.UnaryServerInterceptor()(ctx, nil, unaryInfo, handler)
	if !called {
		t.Fatal("handler must be invoked")
	}
	if !errors.Is(err, apierrors.ErrCSRF) {
		t.Errorf("err = %v, want ErrCSRF", err)
	}
	if fails.n.Load() != 1 {
		t.Errorf("failures = %d, want 1", fails.n.Load())
	}
	if len(stream.cookies()) != 0 {
		t.Error("failed call must not carry a cookie")
	}
}

func TestUnaryInterceptorDisabled(t *testing.T) {
	g := New(nil, nil)
	stream := &headerStream{}
	ctx := unaryCtx(stream, "x-xsrf-token", "tok")

	handler := func(ctx context.Context, req any) (any, error) {
		md, _ := metadata.FromIncomingContext(ctx)
		if len(md.Get("x-xsrf-token")) != 1 {
			t.Error("disabled guard must not touch metadata")
		}
		return nil, nil
	}
	if _, err := g.UnaryServerInterceptor()(ctx, nil, unaryInfo, handler); err != nil {
		t.Fatal(err)
	}
	if stream.header != nil {
		t.Errorf("disabled guard must not set headers, got %v", stream.header)
	}
}

func TestUnaryInterceptorOriginFromMetadata(t *testing.T) {
	g := New(testConfig("http://good.com"), nil)
	ctx := unaryCtx(&headerStream{}, "cookie", "XSRF-TOKEN=tok", "x-xsrf-token", "tok", "origin", "http://evil.com")

	handler := func(ctx context.Context, req any) (any, error) {
		res, _ := FromContext(ctx)
		if res.State != StateMismatched {
			t.Errorf("state = %v, want mismatched", res.State)
		}
		return nil, nil
	}
	g.UnaryServerInterceptor()(ctx, nil, unaryInfo, handler)
}

type fakeServerStream struct {
	grpc.ServerStream
	ctx    context.Context
	stream *headerStream
	msgs   int
}

func (s *fakeServerStream) Context() context.Context       { return s.ctx }
func (s *fakeServerStream) SetHeader(md metadata.MD) error  { return s.stream.SetHeader(md) }
func (s *fakeServerStream) SendHeader(md metadata.MD) error { return s.stream.SendHeader(md) }
func (s *fakeServerStream) SendMsg(m any) error {
	if !s.stream.sent {
		s.stream.sent = true
	}
	s.msgs++
	return nil
}

var streamInfo = &grpc.StreamServerInfo{FullMethod: "/petshop.Petshop/Watch", IsServerStream: true}

func TestStreamInterceptorCookieOnFirstSend(t *testing.T) {
	g := New(testConfig(), nil)
	hs := &headerStream{}
	ss := &fakeServerStream{
		ctx:    metadata.NewIncomingContext(context.Background(), metadata.Pairs("cookie", "XSRF-TOKEN=tok", "x-xsrf-token", "tok")),
		stream: hs,
	}

	handler := func(srv any, stream grpc.ServerStream) error {
		if err := g.RequestCheck(stream.Context()); err != nil {
			t.Errorf("RequestCheck: %v", err)
		}
		for i := 0; i < 3; i++ {
			if err := stream.SendMsg(i); err != nil {
				return err
			}
		}
		return nil
	}

	if err := g.StreamServerInterceptor()(nil, ss, streamInfo, handler); err != nil {
		t.Fatal(err)
	}
	cookies := hs.cookies()
	if len(cookies) != 1 || cookies[0].Value != "tok" {
		t.Errorf("expected exactly one reused cookie, got %+v", cookies)
	}
	if ss.msgs != 3 {
		t.Errorf("messages = %d, want 3", ss.msgs)
	}
}

func TestStreamInterceptorNoSendError(t *testing.T) {
	g := New(testConfig(), nil)
	hs := &headerStream{}
	ss := &fakeServerStream{ctx: metadata.NewIncomingContext(context.Background(), metadata.MD{}), stream: hs}

	handler := func(srv any, stream grpc.ServerStream) error {
		return errors.New("upstream failed")
	}
	if err := g.StreamServerInterceptor()(nil, ss, streamInfo, handler); err == nil {
		t.Fatal("error should pass through unchanged")
	}
	if len(hs.cookies()) != 0 {
		t.Error("failed stream must not carry a cookie")
	}
}

func TestStreamInterceptorNoSendSuccess(t *testing.T) {
	g := New(testConfig(), nil)
	hs := &headerStream{}
	ss := &fakeServerStream{ctx: metadata.NewIncomingContext(context.Background(), metadata.MD{}), stream: hs}

	handler := func(srv any, stream grpc.ServerStream) error { return nil }
	if err := g.StreamServerInterceptor()(nil, ss, streamInfo, handler); err != nil {
		t.Fatal(err)
	}
	cookies := hs.cookies()
	if len(cookies) != 1 || !strings.EqualFold(cookies[0].Name, "XSRF-TOKEN") {
		t.Errorf("expected first contact cookie, got %+v", cookies)
	}
}
