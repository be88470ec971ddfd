package app

import (
	"context"
	"errors"
	"fmt"
	"log/slog"
	"net"
	"net/http"
	"os/signal"
	"sync/atomic"
	"syscall"
	"time"

	"golang.org/x/sync/errgroup"

	"kpipolicy/internal/audit"
	"kpipolicy/internal/clock"
	"kpipolicy/internal/config"
	"kpipolicy/internal/ingest"
	"kpipolicy/internal/logging"
	"kpipolicy/internal/metrics"
	"kpipolicy/internal/policy"
	"kpipolicy/internal/rulestore"
)

const shutdownTimeout = 10 * time.Second

// Service composes runtime dependencies and process lifecycle.
// Params: config snapshot and shared runtime components.
// Returns: runnable policy service.
type Service struct {
	cfg       config.Config
	logger    *slog.Logger
	closeLog  func()
	metrics   *metrics.Metrics
	repo      rulestore.Repository
	policy    *policy.Service
	auditPub  audit.Publisher
	responder *ingest.NATSResponder
	httpSrv   *http.Server
	listener  net.Listener
	readyFlag atomic.Bool
}

// NewService builds service instance from config source.
// Params: config source and clock (nil uses service.timezone wall clock).
// Returns: initialized service or setup error.
func NewService(ctx context.Context, source config.ConfigSource, clk clock.Clock) (*Service, error) {
	cfg, err := config.LoadSnapshot(source)
	if err != nil {
		return nil, err
	}
	return NewServiceFromConfig(ctx, cfg, clk)
}

// NewServiceFromConfig builds service from an already loaded config.
// Params: context for backend setup, validated config, and optional clock.
// Returns: initialized service or setup error.
func NewServiceFromConfig(ctx context.Context, cfg config.Config, clk clock.Clock) (*Service, error) {
	logger, closeLog, err := logging.New(cfg.Log)
	if err != nil {
		return nil, err
	}
	if clk == nil {
		zoned, err := clock.ForZone(cfg.Service.Timezone)
		if err != nil {
			closeLog()
			return nil, err
		}
		clk = zoned
	}

	service := &Service{
		cfg:      cfg,
		logger:   logger.With("service", cfg.Service.Name),
		closeLog: closeLog,
		metrics:  metrics.New(),
	}

	repo, err := rulestore.Open(ctx, cfg.Store, service.metrics)
	if err != nil {
		service.cleanupInitResources()
		return nil, err
	}
	service.repo = repo

	var sink policy.AuditSink
	if cfg.Audit.Enabled {
		publisher, err := audit.NewNATSPublisher(cfg.NATS.URL, cfg.Audit)
		if err != nil {
			service.cleanupInitResources()
			return nil, err
		}
		service.auditPub = publisher
		sink = audit.NewSink(publisher, service.logger)
	}
	service.policy = policy.New(repo, clk, sink, service.logger, service.metrics)

	if err := service.seedRules(ctx); err != nil {
		service.cleanupInitResources()
		return nil, err
	}
	if err := service.buildResponder(); err != nil {
		service.cleanupInitResources()
		return nil, err
	}
	if err := service.buildHTTPServer(); err != nil {
		service.cleanupInitResources()
		return nil, err
	}
	return service, nil
}

// Policy exposes the policy facade used by transports.
func (s *Service) Policy() *policy.Service {
	return s.policy
}

// HTTPAddr returns bound ops listener address, or empty when disabled.
func (s *Service) HTTPAddr() string {
	if s.listener == nil {
		return ""
	}
	return s.listener.Addr().String()
}

// Run serves until context cancel or SIGINT/SIGTERM, then shuts down.
// Params: root context for service runtime.
// Returns: terminal run error.
func (s *Service) Run(ctx context.Context) error {
	signalCtx, stop := signal.NotifyContext(ctx, syscall.SIGINT, syscall.SIGTERM)
	defer stop()

	group, groupCtx := errgroup.WithContext(signalCtx)
	if s.httpSrv != nil {
		group.Go(func() error {
			s.logger.Info("ops http server starting", "listen", s.HTTPAddr())
			if err := s.httpSrv.Serve(s.listener); err != nil && !errors.Is(err, http.ErrServerClosed) {
				return fmt.Errorf("http server failed: %w", err)
			}
			return nil
		})
	}

	s.readyFlag.Store(true)
	s.logger.Info("policy service ready", "store", s.cfg.Store.Backend, "evaluate", s.cfg.Evaluate.Enabled, "audit", s.cfg.Audit.Enabled)

	<-groupCtx.Done()
	shutdownErr := s.shutdown()
	if err := group.Wait(); err != nil {
		return err
	}
	return shutdownErr
}

// shutdown closes runtime resources in dependency order.
// Params: none.
// Returns: first close error.
func (s *Service) shutdown() error {
	s.readyFlag.Store(false)
	ctx, cancel := context.WithTimeout(context.Background(), shutdownTimeout)
	defer cancel()
	var firstErr error
	markErr := func(err error) {
		if err != nil && firstErr == nil {
			firstErr = err
		}
	}

	if s.httpSrv != nil {
		if err := s.httpSrv.Shutdown(ctx); err != nil {
			s.logger.Error("http shutdown failed", "error", err.Error())
			markErr(fmt.Errorf("http shutdown: %w", err))
		}
	}
	if s.responder != nil {
		if err := s.responder.Close(); err != nil {
			s.logger.Error("nats responder close failed", "error", err.Error())
			markErr(fmt.Errorf("nats responder close: %w", err))
		}
	}
	if s.auditPub != nil {
		if err := s.auditPub.Close(); err != nil {
			s.logger.Error("audit publisher close failed", "error", err.Error())
			markErr(fmt.Errorf("audit publisher close: %w", err))
		}
	}
	if err := s.repo.Close(); err != nil {
		s.logger.Error("store close failed", "error", err.Error())
		markErr(fmt.Errorf("store close: %w", err))
	}
	s.logger.Info("policy service stopped")
	if s.closeLog != nil {
		s.closeLog()
	}
	return firstErr
}

// cleanupInitResources closes partially initialized resources on startup failures.
// Params: none.
// Returns: all acquired resources closed best-effort.
func (s *Service) cleanupInitResources() {
	if s.listener != nil {
		_ = s.listener.Close()
		s.listener = nil
	}
	if s.responder != nil {
		_ = s.responder.Close()
		s.responder = nil
	}
	if s.auditPub != nil {
		_ = s.auditPub.Close()
		s.auditPub = nil
	}
	if s.repo != nil {
		_ = s.repo.Close()
		s.repo = nil
	}
	if s.closeLog != nil {
		s.closeLog()
		s.closeLog = nil
	}
}

// seedRules applies `[rule.<id>]` tables according to service.seed_mode.
// Params: context for repository writes.
// Returns: validation or storage error.
func (s *Service) seedRules(ctx context.Context) error {
	switch s.cfg.Service.SeedMode {
	case config.SeedModeOff:
		return nil
	case config.SeedModeRestore:
		body, err := rulestore.NewSnapshot(s.cfg.Rules).Encode()
		if err != nil {
			return err
		}
		if err := s.policy.RestoreSnapshot(ctx, body); err != nil {
			return fmt.Errorf("seed rules: %w", err)
		}
	default:
		if len(s.cfg.Rules) == 0 {
			return nil
		}
		if err := s.policy.BulkUpsertRules(ctx, s.cfg.Rules); err != nil {
			return fmt.Errorf("seed rules: %w", err)
		}
	}
	s.logger.Info("seed rules applied", "mode", s.cfg.Service.SeedMode, "count", len(s.cfg.Rules))
	return nil
}

// buildResponder starts NATS evaluate responder when enabled.
// Params: none.
// Returns: initialization error.
func (s *Service) buildResponder() error {
	if !s.cfg.Evaluate.Enabled {
		return nil
	}
	handler := ingest.NewHandler(s.policy, config.EvaluateTimeout(s.cfg), s.logger, s.metrics)
	responder, err := ingest.NewNATSResponder(s.cfg.NATS.URL, s.cfg.Evaluate, handler, s.logger)
	if err != nil {
		return err
	}
	s.responder = responder
	return nil
}

// buildHTTPServer wires health, readiness, and metrics endpoints.
// Params: none.
// Returns: listen error.
func (s *Service) buildHTTPServer() error {
	if !s.cfg.HTTP.Enabled {
		return nil
	}
	mux := http.NewServeMux()
	mux.HandleFunc(s.cfg.HTTP.HealthPath, func(writer http.ResponseWriter, _ *http.Request) {
		writer.WriteHeader(http.StatusOK)
		_, _ = writer.Write([]byte("ok"))
	})
	mux.HandleFunc(s.cfg.HTTP.ReadyPath, func(writer http.ResponseWriter, _ *http.Request) {
		if !s.readyFlag.Load() {
			writer.WriteHeader(http.StatusServiceUnavailable)
			_, _ = writer.Write([]byte("not-ready"))
			return
		}
		writer.WriteHeader(http.StatusOK)
		_, _ = writer.Write([]byte("ready"))
	})
	mux.Handle(s.cfg.HTTP.MetricsPath, s.metrics.Handler())

	listener, err := net.Listen("tcp", s.cfg.HTTP.Listen)
	if err != nil {
		return fmt.Errorf("listen %q: %w", s.cfg.HTTP.Listen, err)
	}
	s.listener = listener
	s.httpSrv = &http.Server{
		Handler:           mux,
		ReadHeaderTimeout: 5 * time.Second,
	}
	return nil
}
