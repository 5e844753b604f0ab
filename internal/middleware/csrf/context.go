package csrf

import (
	"context"
	"sync/atomic"

	apierrors "github.com/wudi/petshop/internal/errors"
	"github.com/wudi/petshop/internal/logging"
	"go.uber.org/zap"
)

type contextKey struct{}

// requestState is the per-request annotation shared between the transport
// adapter and the handler. It lives only in the request context.
type requestState struct {
	result Result
	used   atomic.Bool
}

func withState(ctx context.Context, st *requestState) context.Context {
	return context.WithValue(ctx, contextKey{}, st)
}

func stateFrom(ctx context.Context) *requestState {
	st, _ := ctx.Value(contextKey{}).(*requestState)
	return st
}

// FromContext returns the request phase result recorded for ctx.
func FromContext(ctx context.Context) (Result, bool) {
	st := stateFrom(ctx)
	if st == nil {
		return Result{}, false
	}
	return st.result, true
}

// RequestCheck is called by protected handlers before a state-changing
// operation. It returns nil when the guard is disabled or the tokens matched,
// and ErrCSRF otherwise.
func (g *Guard) RequestCheck(ctx context.Context) error {
	st := stateFrom(ctx)
	if st == nil {
		if !g.Enabled() {
			return nil
		}
		logging.Warn("csrf check error", zap.String("reason", "guard not installed for request"))
		return apierrors.ErrCSRF
	}

	switch st.result.State {
	case StateDisabled, StateMatched:
		return nil
	}
	logging.Warn("csrf check error",
		zap.String("state", st.result.State.String()),
		zap.String("reason", st.result.Reason),
	)
	return apierrors.ErrCSRF
}

// ResponseUsed marks the token as consumed so the response carries a fresh
// one. It is a no-op when the guard is disabled for the request.
func (g *Guard) ResponseUsed(ctx context.Context) {
	st := stateFrom(ctx)
	if st == nil || st.result.State == StateDisabled {
		return
	}
	st.used.Store(true)
}
