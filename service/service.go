package service

import (
	"context"
	"errors"
	"fmt"
	"log/slog"
	"net/http"

	"github.com/conformance-tools/crosscheck/metrics"
)

// Service runs the report server and, when enabled, a metrics server, each
// on its own listener.
type Service struct {
	log     *slog.Logger
	cfg     *Config
	Reports *ReportServer
	Metrics *MetricsServer
}

func New(log *slog.Logger, cfg *Config) *Service {
	if log == nil {
		log = slog.Default()
	}
	return &Service{
		log:     log,
		cfg:     cfg,
		Reports: NewReportServer(log, cfg.Reports),
		Metrics: &MetricsServer{},
	}
}

func (s *Service) Start(ctx context.Context) {
	s.log.Info("service starting")

	go func() {
		addr := fmt.Sprintf("%s:%d", s.cfg.Reports.Host, s.cfg.Reports.Port)
		s.log.Info("starting report server", "addr", addr)
		if err := s.Reports.Start(ctx, addr); err != nil && !errors.Is(err, http.ErrServerClosed) {
			s.log.Error("error starting report server", "err", err)
			metrics.RecordErrorDetails("report_server", err)
		}
	}()

	if s.cfg.Metrics.Enabled {
		go func() {
			addr := fmt.Sprintf("%s:%d", s.cfg.Metrics.Host, s.cfg.Metrics.Port)
			s.log.Info("starting metrics server", "addr", addr)
			if err := s.Metrics.Start(ctx, addr); err != nil && !errors.Is(err, http.ErrServerClosed) {
				s.log.Error("error starting metrics server", "err", err)
				metrics.RecordErrorDetails("metrics_server", err)
			}
		}()
	}

	s.log.Info("service started")
}

func (s *Service) Shutdown() {
	s.log.Info("service shutting down")

	_ = s.Reports.Shutdown()
	s.log.Info("report server stopped")

	if s.cfg.Metrics.Enabled {
		_ = s.Metrics.Shutdown()
		s.log.Info("metrics stopped")
	}

	s.log.Info("service stopped")
}
