// Package server exposes the admin HTTP API: tool policy and output rule
// management, the rule audit log, approvals and dry-run checks.
package server

import (
	"context"
	"errors"
	"log/slog"
	"net"
	"net/http"
	"time"

	"github.com/tkingovr/agent-governor/internal/admin"
	"github.com/tkingovr/agent-governor/internal/governor"
	"github.com/tkingovr/agent-governor/internal/invalidation"
	"github.com/tkingovr/agent-governor/internal/metrics"
	"github.com/tkingovr/agent-governor/internal/toolpolicy"
)

// ActorHeader names the caller of a mutating request.
const ActorHeader = "X-Actor"

// ToolPolicy answers dry-run tool evaluations.
type ToolPolicy interface {
	Evaluate(ctx context.Context, channel, tool string) toolpolicy.Decision
	IsWriteTool(ctx context.Context, tool string) bool
	RequiresApproval(ctx context.Context, tool string, args map[string]any) bool
}

// Deps are the services behind the API. Metrics may be nil.
type Deps struct {
	Admin       *admin.Service
	Governor    *governor.Governor
	Tools       ToolPolicy
	Revisions   invalidation.Revisioner
	Metrics     *metrics.Collector
	MetricsPath string
	Logger      *slog.Logger
}

// Server is the admin HTTP server.
type Server struct {
	mux       *http.ServeMux
	logger    *slog.Logger
	admin     *admin.Service
	gov       *governor.Governor
	tools     ToolPolicy
	revisions invalidation.Revisioner
	metrics   *metrics.Collector
	addr      string
}

// NewServer creates a server listening on addr.
func NewServer(addr string, d Deps) *Server {
	logger := d.Logger
	if logger == nil {
		logger = slog.Default()
	}
	s := &Server{
		mux:       http.NewServeMux(),
		logger:    logger.With("component", "server"),
		admin:     d.Admin,
		gov:       d.Governor,
		tools:     d.Tools,
		revisions: d.Revisions,
		metrics:   d.Metrics,
		addr:      addr,
	}
	s.registerRoutes(d.MetricsPath)
	return s
}

func (s *Server) registerRoutes(metricsPath string) {
	s.mux.HandleFunc("GET /{$}", s.handleOverview)
	s.mux.HandleFunc("GET /healthz", s.handleHealth)
	if s.metrics != nil && metricsPath != "" {
		s.mux.Handle("GET "+metricsPath, s.metrics.Handler())
	}

	s.mux.HandleFunc("GET /api/v1/tool-policy", s.handleGetPolicy)
	s.mux.HandleFunc("PUT /api/v1/tool-policy", s.handlePutPolicy)
	s.mux.HandleFunc("DELETE /api/v1/tool-policy", s.handleDeletePolicy)
	s.mux.HandleFunc("POST /api/v1/tool-policy/evaluate", s.handleEvaluateTool)

	s.mux.HandleFunc("GET /api/v1/output-rules", s.handleListRules)
	s.mux.HandleFunc("POST /api/v1/output-rules", s.handleCreateRule)
	s.mux.HandleFunc("GET /api/v1/output-rules/{id}", s.handleGetRule)
	s.mux.HandleFunc("PUT /api/v1/output-rules/{id}", s.handleUpdateRule)
	s.mux.HandleFunc("DELETE /api/v1/output-rules/{id}", s.handleDeleteRule)
	s.mux.HandleFunc("POST /api/v1/output-rules/simulate", s.handleSimulate)
	s.mux.HandleFunc("GET /api/v1/output-rules/audit", s.handleListAudit)
	s.mux.HandleFunc("GET /api/v1/output-rules/audit/stats", s.handleAuditStats)
	s.mux.HandleFunc("GET /api/v1/output-rules/audit/stream", s.handleAuditStream)

	s.mux.HandleFunc("GET /api/v1/approvals", s.handleListApprovals)
	s.mux.HandleFunc("POST /api/v1/approvals/{token}/approve", s.handleApprove)
	s.mux.HandleFunc("POST /api/v1/approvals/{token}/deny", s.handleDeny)

	s.mux.HandleFunc("POST /api/v1/guard/check", s.handleGuardCheck)
}

// ListenAndServe serves until ctx is cancelled, then shuts down gracefully.
func (s *Server) ListenAndServe(ctx context.Context) error {
	srv := &http.Server{
		Addr:              s.addr,
		Handler:           s.mux,
		ReadHeaderTimeout: 10 * time.Second,
		// Streams end when ctx does.
		BaseContext: func(net.Listener) context.Context { return ctx },
	}

	errCh := make(chan error, 1)
	go func() {
		s.logger.Info("starting admin server", "addr", s.addr)
		errCh <- srv.ListenAndServe()
	}()

	select {
	case err := <-errCh:
		return err
	case <-ctx.Done():
	}

	shutdownCtx, cancel := context.WithTimeout(context.Background(), 5*time.Second)
	defer cancel()
	if err := srv.Shutdown(shutdownCtx); err != nil {
		return err
	}
	if err := <-errCh; err != nil && !errors.Is(err, http.ErrServerClosed) {
		return err
	}
	return nil
}

// Handler returns the HTTP handler for embedding in other servers.
func (s *Server) Handler() http.Handler {
	return s.mux
}
