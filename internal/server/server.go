package server

import (
	"context"
	"encoding/json"
	"errors"
	"fmt"
	"net"
	"net/http"
	"os"
	"os/signal"
	"sync"
	"syscall"
	"time"

	"github.com/wudi/petshop/internal/config"
	"github.com/wudi/petshop/internal/grpchealth"
	"github.com/wudi/petshop/internal/health"
	"github.com/wudi/petshop/internal/logging"
	"github.com/wudi/petshop/internal/metrics"
	"github.com/wudi/petshop/internal/middleware"
	"github.com/wudi/petshop/internal/middleware/csrf"
	"github.com/wudi/petshop/internal/petshop"
	"github.com/wudi/petshop/internal/store"
	"go.uber.org/zap"
	"golang.org/x/sync/errgroup"
	"google.golang.org/grpc"
)

// Listeners are the bound sockets of the three server surfaces.
type Listeners struct {
	HTTP     net.Listener
	GRPC     net.Listener
	Internal net.Listener
}

// Listen binds the addresses in cfg.
func Listen(cfg config.ListenersConfig) (Listeners, error) {
	var l Listeners
	var err error
	if l.HTTP, err = net.Listen("tcp", cfg.HTTP); err != nil {
		return Listeners{}, fmt.Errorf("listen http %s: %w", cfg.HTTP, err)
	}
	if l.GRPC, err = net.Listen("tcp", cfg.GRPC); err != nil {
		l.HTTP.Close()
		return Listeners{}, fmt.Errorf("listen grpc %s: %w", cfg.GRPC, err)
	}
	if l.Internal, err = net.Listen("tcp", cfg.Internal); err != nil {
		l.HTTP.Close()
		l.GRPC.Close()
		return Listeners{}, fmt.Errorf("listen internal %s: %w", cfg.Internal, err)
	}
	return l, nil
}

// Server runs the petshop API on HTTP and gRPC plus the internal
// metrics and health listener.
type Server struct {
	config     *config.Config
	configPath string
	startTime  time.Time

	recorder *metrics.Recorder
	guard    *csrf.Guard
	checker  *health.Checker
	store    store.PetStore
	pipeline middleware.Pipeline

	httpServer     *http.Server
	grpcServer     *grpc.Server
	internalServer *http.Server
	watcher        *config.Watcher

	mu            sync.Mutex
	reloadHistory []ReloadResult
}

// ReloadResult records one configuration reload attempt.
type ReloadResult struct {
	Timestamp   time.Time `json:"timestamp"`
	Success     bool      `json:"success"`
	CSRFEnabled bool      `json:"csrf_enabled"`
	Error       string    `json:"error,omitempty"`
}

// NewServer builds every component from cfg. configPath is used for reloads
// and may be empty.
func NewServer(ctx context.Context, cfg *config.Config, configPath string) (*Server, error) {
	s := &Server{
		config:     cfg,
		configPath: configPath,
		startTime:  time.Now(),
		recorder:   metrics.NewRecorder(cfg.Metrics.Namespace),
	}

	csrfCfg, err := csrf.Compile(cfg.CSRF)
	if err != nil {
		return nil, fmt.Errorf("csrf config: %w", err)
	}
	s.guard = csrf.New(csrfCfg, s.recorder)
	s.pipeline = middleware.Pipeline{Recorder: s.recorder, Guard: s.guard}

	s.checker = health.NewChecker(health.Config{
		Timeout:  cfg.Health.ReadinessTimeout,
		Recorder: s.recorder,
	})

	schema, err := petshop.CompileSchema(cfg.Validation.PetSchema, cfg.Validation.PetSchemaFile)
	if err != nil {
		return nil, fmt.Errorf("pet schema: %w", err)
	}

	if err := s.initStore(ctx); err != nil {
		return nil, err
	}

	svc := petshop.New(petshop.Options{
		Store:      s.store,
		Guard:      s.guard,
		Validation: s.recorder,
		Readiness:  s.checker,
		Schema:     schema,
	})

	s.httpServer = &http.Server{
		Handler:      s.pipeline.Handler(petshop.NewHTTPHandler(svc), middleware.LoggingConfig{}),
		ReadTimeout:  cfg.Listeners.ReadTimeout,
		WriteTimeout: cfg.Listeners.WriteTimeout,
		IdleTimeout:  cfg.Listeners.IdleTimeout,
	}

	s.grpcServer = grpc.NewServer(s.pipeline.ServerOptions()...)
	petshop.NewGRPCServer(svc).Register(s.grpcServer)
	grpchealth.NewServer(s.checker.IsReady).Register(s.grpcServer)

	s.internalServer = &http.Server{
		Handler:      s.internalHandler(),
		ReadTimeout:  10 * time.Second,
		WriteTimeout: 10 * time.Second,
	}

	return s, nil
}

func (s *Server) initStore(ctx context.Context) error {
	if s.config.Postgres.DSN == "" {
		logging.Info("No postgres dsn configured, using in-memory pet store")
		s.store = store.NewMemory(store.SamplePets()...)
		return nil
	}

	pg, err := store.OpenPostgres(ctx, s.config.Postgres)
	if err != nil {
		return err
	}
	if err := s.recorder.Register(pg.Collector(s.config.Metrics.Namespace)); err != nil {
		pg.Close()
		return fmt.Errorf("register pool metrics: %w", err)
	}
	s.checker.Add("postgres", pg.Ping)
	s.store = pg
	return nil
}

// Serve runs all surfaces on l until ctx is cancelled or one of them fails,
// then shuts everything down gracefully.
func (s *Server) Serve(ctx context.Context, l Listeners) error {
	g, gctx := errgroup.WithContext(ctx)

	g.Go(func() error {
		logging.Info("Starting HTTP API", zap.String("addr", l.HTTP.Addr().String()))
		if err := s.httpServer.Serve(l.HTTP); err != nil && !errors.Is(err, http.ErrServerClosed) {
			return fmt.Errorf("http api: %w", err)
		}
		return nil
	})
	g.Go(func() error {
		logging.Info("Starting gRPC API", zap.String("addr", l.GRPC.Addr().String()))
		if err := s.grpcServer.Serve(l.GRPC); err != nil && !errors.Is(err, grpc.ErrServerStopped) {
			return fmt.Errorf("grpc api: %w", err)
		}
		return nil
	})
	g.Go(func() error {
		logging.Info("Starting internal server", zap.String("addr", l.Internal.Addr().String()))
		if err := s.internalServer.Serve(l.Internal); err != nil && !errors.Is(err, http.ErrServerClosed) {
			return fmt.Errorf("internal server: %w", err)
		}
		return nil
	})
	g.Go(func() error {
		<-gctx.Done()
		s.shutdown()
		return nil
	})

	return g.Wait()
}

// Run binds the configured listeners and serves until SIGINT or SIGTERM.
// SIGHUP and changes to the config file reload the hot configuration.
func (s *Server) Run() error {
	l, err := Listen(s.config.Listeners)
	if err != nil {
		return err
	}

	ctx, stop := signal.NotifyContext(context.Background(), syscall.SIGINT, syscall.SIGTERM)
	defer stop()

	if s.configPath != "" {
		if err := s.watch(); err != nil {
			logging.Warn("Config watcher disabled", zap.Error(err))
		}
	}

	hup := make(chan os.Signal, 1)
	signal.Notify(hup, syscall.SIGHUP)
	defer signal.Stop(hup)
	go func() {
		for {
			select {
			case <-hup:
				if res := s.ReloadConfig(); !res.Success {
					logging.Error("Config reload failed", zap.String("error", res.Error))
				}
			case <-ctx.Done():
				return
			}
		}
	}()

	return s.Serve(ctx, l)
}

func (s *Server) watch() error {
	w, err := config.NewWatcher(s.configPath)
	if err != nil {
		return err
	}
	w.OnChange(func(cfg *config.Config) {
		s.recordReload(s.applyConfig(cfg))
	})
	if err := w.Start(); err != nil {
		w.Stop()
		return err
	}
	s.watcher = w
	return nil
}

// ReloadConfig loads the config file again and applies its hot settings.
func (s *Server) ReloadConfig() ReloadResult {
	if s.configPath == "" {
		return s.recordReload(ReloadResult{Timestamp: time.Now(), Error: "no config path configured"})
	}
	cfg, err := config.NewLoader().Load(s.configPath)
	if err != nil {
		return s.recordReload(ReloadResult{
			Timestamp: time.Now(),
			Error:     fmt.Sprintf("config load failed: %v", err),
		})
	}
	return s.recordReload(s.applyConfig(cfg))
}

// applyConfig swaps the CSRF configuration of the running guard. Requests
// already in flight finish with the configuration they started with.
func (s *Server) applyConfig(cfg *config.Config) ReloadResult {
	compiled, err := csrf.Compile(cfg.CSRF)
	if err != nil {
		return ReloadResult{Timestamp: time.Now(), Error: err.Error()}
	}
	s.guard.Update(compiled)

	s.mu.Lock()
	s.config.CSRF = cfg.CSRF
	s.mu.Unlock()

	return ReloadResult{Timestamp: time.Now(), Success: true, CSRFEnabled: compiled != nil}
}

func (s *Server) recordReload(res ReloadResult) ReloadResult {
	s.mu.Lock()
	defer s.mu.Unlock()
	s.reloadHistory = append(s.reloadHistory, res)
	if len(s.reloadHistory) > 50 {
		s.reloadHistory = s.reloadHistory[len(s.reloadHistory)-50:]
	}
	return res
}

func (s *Server) shutdown() {
	timeout := s.config.Listeners.ShutdownTimeout
	if timeout <= 0 {
		timeout = 10 * time.Second
	}
	ctx, cancel := context.WithTimeout(context.Background(), timeout)
	defer cancel()

	logging.Info("Shutting down gracefully...")

	if s.watcher != nil {
		s.watcher.Stop()
	}
	if err := s.httpServer.Shutdown(ctx); err != nil {
		logging.Error("HTTP API shutdown error", zap.Error(err))
	}

	stopped := make(chan struct{})
	go func() {
		s.grpcServer.GracefulStop()
		close(stopped)
	}()
	select {
	case <-stopped:
	case <-ctx.Done():
		s.grpcServer.Stop()
	}

	if err := s.internalServer.Shutdown(ctx); err != nil {
		logging.Error("Internal server shutdown error", zap.Error(err))
	}
	s.store.Close()

	logging.Info("Server shutdown complete")
}

// internalHandler serves metrics, liveness, readiness and debug status.
func (s *Server) internalHandler() http.Handler {
	mux := http.NewServeMux()

	mux.Handle(s.config.Metrics.Path, s.recorder.Handler())
	mux.Handle("/live", s.checker.LiveHandler())
	mux.Handle("/ready", s.checker.ReadyHandler())
	mux.HandleFunc("/debug/csrf", s.handleCSRFStatus)
	mux.HandleFunc("/debug/reload", s.handleReloadStatus)

	return middleware.Recovery()(mux)
}

func (s *Server) handleCSRFStatus(w http.ResponseWriter, r *http.Request) {
	writeJSON(w, s.guard.Status())
}

func (s *Server) handleReloadStatus(w http.ResponseWriter, r *http.Request) {
	s.mu.Lock()
	history := make([]ReloadResult, len(s.reloadHistory))
	copy(history, s.reloadHistory)
	s.mu.Unlock()

	writeJSON(w, map[string]any{
		"uptime":  time.Since(s.startTime).String(),
		"reloads": history,
	})
}

func writeJSON(w http.ResponseWriter, v any) {
	w.Header().Set("Content-Type", "application/json")
	json.NewEncoder(w).Encode(v)
}
