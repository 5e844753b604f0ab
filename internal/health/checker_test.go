package health

import (
	"context"
	"encoding/json"
	"errors"
	"net/http"
	"net/http/httptest"
	"sync/atomic"
	"testing"
	"time"
)

type readyFlag struct {
	calls atomic.Int32
	ready atomic.Bool
}

func (f *readyFlag) SetReady(ready bool) {
	f.calls.Add(1)
	f.ready.Store(ready)
}

func TestCheckerNoPredicates(t *testing.T) {
	rec := &readyFlag{}
	c := NewChecker(Config{Recorder: rec})

	if c.Status() != StatusUnknown {
		t.Errorf("initial status = %s", c.Status())
	}
	if !c.IsReady(context.Background()) {
		t.Error("checker without predicates should be ready")
	}
	if !rec.ready.Load() || rec.calls.Load() != 1 {
		t.Errorf("SetReady not recorded: calls=%d ready=%v", rec.calls.Load(), rec.ready.Load())
	}
}

func TestCheckerFailingPredicate(t *testing.T) {
	rec := &readyFlag{}
	c := NewChecker(Config{Recorder: rec})
	c.Add("postgres", func(ctx context.Context) error { return errors.New("connection refused") })
	c.Add("cache", func(ctx context.Context) error { return nil })

	report := c.Ready(context.Background())
	if report.Status != StatusUnhealthy {
		t.Fatalf("status = %s", report.Status)
	}
	if len(report.Checks) != 2 || report.Checks[0].Name != "cache" || report.Checks[1].Name != "postgres" {
		t.Fatalf("checks = %+v", report.Checks)
	}
	if report.Checks[1].Error != "connection refused" {
		t.Errorf("error = %q", report.Checks[1].Error)
	}
	if rec.ready.Load() {
		t.Error("recorder should see not ready")
	}
	if c.LastReport().Status != StatusUnhealthy {
		t.Error("last report not stored")
	}
}

func TestCheckerTimeout(t *testing.T) {
	c := NewChecker(Config{Timeout: 20 * time.Millisecond})
	c.Add("slow", func(ctx context.Context) error {
		<-ctx.Done()
		return ctx.Err()
	})

	start := time.Now()
	if c.IsReady(context.Background()) {
		t.Error("predicate exceeding the timeout should fail")
	}
	if elapsed := time.Since(start); elapsed > time.Second {
		t.Errorf("probe took %v", elapsed)
	}
}

func TestCheckerReplacePredicate(t *testing.T) {
	c := NewChecker(Config{})
	c.Add("db", func(ctx context.Context) error { return errors.New("down") })
	c.Add("db", func(ctx context.Context) error { return nil })

	report := c.Ready(context.Background())
	if report.Status != StatusHealthy || len(report.Checks) != 1 {
		t.Errorf("report = %+v", report)
	}
}

func TestCheckerOnChange(t *testing.T) {
	changed := make(chan Status, 4)
	var healthy atomic.Bool
	c := NewChecker(Config{OnChange: func(s Status) { changed <- s }})
	c.Add("db", func(ctx context.Context) error {
		if healthy.Load() {
			return nil
		}
		return errors.New("down")
	})

	c.Ready(context.Background())
	c.Ready(context.Background())
	healthy.Store(true)
	c.Ready(context.Background())

	want := []Status{StatusUnhealthy, StatusHealthy}
	for _, w := range want {
		select {
		case got := <-changed:
			if got != w {
				t.Errorf("change = %s, want %s", got, w)
			}
		case <-time.After(2 * time.Second):
			t.Fatalf("timed out waiting for %s", w)
		}
	}
	select {
	case got := <-changed:
		t.Errorf("unexpected extra change %s", got)
	case <-time.After(50 * time.Millisecond):
	}
}

func TestLiveHandler(t *testing.T) {
	c := NewChecker(Config{})
	c.Add("db", func(ctx context.Context) error { return errors.New("down") })

	rr := httptest.NewRecorder()
	c.LiveHandler().ServeHTTP(rr, httptest.NewRequest("GET", "/live", nil))
	if rr.Code != http.StatusOK {
		t.Errorf("live should ignore predicates, got %d", rr.Code)
	}
}

func TestReadyHandler(t *testing.T) {
	var healthy atomic.Bool
	rec := &readyFlag{}
	c := NewChecker(Config{Recorder: rec})
	c.Add("db", func(ctx context.Context) error {
		if healthy.Load() {
			return nil
		}
		return errors.New("down")
	})

	rr := httptest.NewRecorder()
	c.ReadyHandler().ServeHTTP(rr, httptest.NewRequest("GET", "/ready", nil))
	if rr.Code != http.StatusServiceUnavailable {
		t.Errorf("expected 503, got %d", rr.Code)
	}
	var report Report
	if err := json.Unmarshal(rr.Body.Bytes(), &report); err != nil {
		t.Fatal(err)
	}
	if report.Status != StatusUnhealthy || len(report.Checks) != 1 {
		t.Errorf("report = %+v", report)
	}

	healthy.Store(true)
	rr = httptest.NewRecorder()
	c.ReadyHandler().ServeHTTP(rr, httptest.NewRequest("GET", "/ready", nil))
	if rr.Code != http.StatusOK {
		t.Errorf("expected 200, got %d", rr.Code)
	}
	if !rec.ready.Load() || rec.calls.Load() != 2 {
		t.Errorf("recorder calls=%d ready=%v", rec.calls.Load(), rec.ready.Load())
	}
}
