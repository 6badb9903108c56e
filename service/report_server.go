package service

import (
	"context"
	"encoding/json"
	"errors"
	"io"
	"log/slog"
	"net/http"
	"os"
	"path/filepath"
	"strings"
	"time"

	"github.com/gorilla/mux"
	"github.com/rs/cors"
	"go.opentelemetry.io/contrib/instrumentation/net/http/otelhttp"

	"github.com/conformance-tools/crosscheck/metrics"
	"github.com/conformance-tools/crosscheck/report"
)

// ReportServer serves the latest run report, its derived summary, and badge
// descriptors. Artifacts are read from disk on every request, so a run that
// rewrites them is picked up without a restart.
type ReportServer struct {
	log         *slog.Logger
	reportFile  string
	badgeDir    string
	readTimeout time.Duration

	ctx    context.Context
	server *http.Server
}

func NewReportServer(log *slog.Logger, cfg ReportsConfig) *ReportServer {
	if log == nil {
		log = slog.Default()
	}
	return &ReportServer{
		log:         log,
		reportFile:  cfg.ReportFile,
		badgeDir:    cfg.BadgeDir,
		readTimeout: time.Duration(cfg.ReadTimeout),
	}
}

// Handler builds the route table. Separate from Start so tests can drive it
// through httptest.
func (s *ReportServer) Handler() http.Handler {
	r := mux.NewRouter()
	r.HandleFunc("/healthz", s.handleHealthz).Methods(http.MethodGet)
	r.HandleFunc("/api/v1/summary", s.handleSummary).Methods(http.MethodGet)
	r.HandleFunc("/api/v1/report", s.handleReport).Methods(http.MethodGet)
	r.HandleFunc("/badges/{implementation}/{badge}", s.handleBadge).Methods(http.MethodGet)

	c := cors.New(cors.Options{
		AllowedOrigins: []string{"*"},
	})
	return otelhttp.NewHandler(c.Handler(r), "crosscheck-report-http")
}

func (s *ReportServer) Start(ctx context.Context, addr string) error {
	server := &http.Server{
		Handler:     s.Handler(),
		Addr:        addr,
		ReadTimeout: s.readTimeout,
	}
	s.server = server
	s.ctx = ctx
	return s.server.ListenAndServe()
}

func (s *ReportServer) Shutdown() error {
	if s.server == nil {
		return nil
	}
	return s.server.Shutdown(s.ctx)
}

func (s *ReportServer) handleHealthz(w http.ResponseWriter, r *http.Request) {
	w.Write([]byte("OK")) //nolint:errcheck
}

type summaryResponse struct {
	RunInfo     report.RunInfo          `json:"run_info"`
	Status      report.Status           `json:"status"`
	DidFailFast bool                    `json:"did_fail_fast"`
	Counts      map[string]report.Count `json:"counts"`
}

func (s *ReportServer) handleSummary(w http.ResponseWriter, r *http.Request) {
	rep, err := report.ReadFile(s.reportFile)
	if err != nil {
		if errors.Is(err, os.ErrNotExist) {
			writeError(w, http.StatusNotFound, "no report available")
			return
		}
		s.log.Error("failed to read report", "path", s.reportFile, "err", err)
		metrics.RecordErrorDetails("report_server", err)
		writeError(w, http.StatusInternalServerError, "report unreadable")
		return
	}

	writeJSON(w, http.StatusOK, summaryResponse{
		RunInfo:     rep.RunInfo,
		Status:      rep.Status(),
		DidFailFast: rep.DidFailFast,
		Counts:      rep.Counts,
	})
}

func (s *ReportServer) handleReport(w http.ResponseWriter, r *http.Request) {
	f, err := os.Open(s.reportFile)
	if err != nil {
		if errors.Is(err, os.ErrNotExist) {
			writeError(w, http.StatusNotFound, "no report available")
			return
		}
		s.log.Error("failed to open report", "path", s.reportFile, "err", err)
		metrics.RecordErrorDetails("report_server", err)
		writeError(w, http.StatusInternalServerError, "report unreadable")
		return
	}
	defer f.Close()

	w.Header().Set("Content-Type", "application/x-ndjson")
	if _, err := io.Copy(w, f); err != nil {
		s.log.Error("failed to stream report", "err", err)
	}
}

func (s *ReportServer) handleBadge(w http.ResponseWriter, r *http.Request) {
	vars := mux.Vars(r)
	implementation := vars["implementation"]
	badge := vars["badge"]
	if !safePathSegment(implementation) || !safePathSegment(badge) || !strings.HasSuffix(badge, ".json") {
		writeError(w, http.StatusBadRequest, "invalid badge path")
		return
	}

	data, err := os.ReadFile(filepath.Join(s.badgeDir, implementation, badge))
	if err != nil {
		if errors.Is(err, os.ErrNotExist) {
			writeError(w, http.StatusNotFound, "badge not found")
			return
		}
		s.log.Error("failed to read badge", "err", err)
		metrics.RecordErrorDetails("report_server", err)
		writeError(w, http.StatusInternalServerError, "badge unreadable")
		return
	}

	w.Header().Set("Content-Type", "application/json")
	w.WriteHeader(http.StatusOK)
	w.Write(data) //nolint:errcheck
}

// safePathSegment rejects values that could escape the badge directory once
// joined into a filesystem path.
func safePathSegment(s string) bool {
	return s != "" && s != "." && s != ".." && !strings.ContainsAny(s, `/\`)
}

func writeJSON(w http.ResponseWriter, status int, v any) {
	w.Header().Set("Content-Type", "application/json")
	w.WriteHeader(status)
	if err := json.NewEncoder(w).Encode(v); err != nil {
		slog.Error("failed to encode response", "err", err)
	}
}

func writeError(w http.ResponseWriter, status int, message string) {
	writeJSON(w, status, map[string]string{"error": message})
}
