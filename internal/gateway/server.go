// Package gateway implements the HTTP Gateway (§4.I): the thin REST
// surface in front of the board, job store, scheduler, worker registry,
// context-pack service, and lifecycle controller. Routing, graceful
// shutdown, and the localhost CSRF guard are grounded on kilroy's
// internal/server/server.go: Go 1.22+ method+pattern ServeMux, a
// signal-driven Shutdown, and an Origin-header check that allows only
// loopback origins.
package gateway

import (
	"context"
	"log"
	"net"
	"net/http"
	"net/url"
	"os"
	"os/signal"
	"syscall"
	"time"

	"github.com/Micheleww/scc-gateway/internal/board"
	"github.com/Micheleww/scc-gateway/internal/config"
	"github.com/Micheleww/scc-gateway/internal/contextpack"
	"github.com/Micheleww/scc-gateway/internal/eventlog"
	"github.com/Micheleww/scc-gateway/internal/jobstore"
	"github.com/Micheleww/scc-gateway/internal/lifecycle"
	"github.com/Micheleww/scc-gateway/internal/scheduler"
	"github.com/Micheleww/scc-gateway/internal/worker"
)

// Deps bundles every component the gateway's handlers reach into.
type Deps struct {
	Addr   string
	Config config.Config

	Board   *board.Board
	Jobs    *jobstore.Store
	Sched   *scheduler.Scheduler
	Workers *worker.Registry
	Events  *eventlog.Log
	Packs   *contextpack.Service
	Life    *lifecycle.Controller

	// MissionDefaultExecutors backs Task.EffectiveAllowedExecutors (§3.ii).
	MissionDefaultExecutors []string

	// MapVersionPath is map/version.json; the SSOT-Map gate stage
	// reads its hash field. Empty disables the check.
	MapVersionPath string

	// ArtifactsDir is the root of the per-task artifact tree
	// (artifacts/<taskId>/...). Empty disables on-disk artifact reads
	// and writes (dispatch preflight lookup, backfill/verdict persistence).
	ArtifactsDir string
}

// Server is the gateway's HTTP process.
type Server struct {
	deps Deps

	baseCtx context.Context
	cancel  context.CancelFunc
	httpSrv *http.Server
	logger  *log.Logger

	reaperStop chan struct{}
}

// New builds a Server wired to deps.
func New(deps Deps) *Server {
	ctx, cancel := context.WithCancel(context.Background())
	s := &Server{
		deps:    deps,
		baseCtx: ctx,
		cancel:  cancel,
		logger:  log.New(os.Stderr, "[scc-gateway] ", log.LstdFlags),
	}

	mux := http.NewServeMux()
	mux.HandleFunc("GET /board", s.handleGetBoard)
	mux.HandleFunc("POST /board/tasks/{id}/split", s.handleSplitTask)
	mux.HandleFunc("POST /board/tasks/{id}/dispatch", s.handleDispatchTask)
	mux.HandleFunc("GET /pools", s.handleGetPools)
	mux.HandleFunc("POST /executor/workers/register", s.handleRegisterWorker)
	mux.HandleFunc("POST /executor/workers/{id}/heartbeat", s.handleHeartbeat)
	mux.HandleFunc("GET /executor/workers/{id}/claim", s.handleClaim)
	mux.HandleFunc("GET /executor/jobs/{id}", s.handleGetJob)
	mux.HandleFunc("POST /executor/jobs/{id}/complete", s.handleCompleteJob)
	mux.HandleFunc("GET /bundle/{packId}/{file}", s.handleBundleFile)
	mux.HandleFunc("GET /events", s.handleEvents)
	mux.HandleFunc("GET /health", s.handleHealth)

	s.httpSrv = &http.Server{
		Handler:      csrfProtect(mux),
		ReadTimeout:  30 * time.Second,
		WriteTimeout: 0, // long-poll claim needs no write deadline
		IdleTimeout:  120 * time.Second,
		BaseContext:  func(net.Listener) context.Context { return ctx },
	}

	return s
}

// ListenAndServe starts the server, the reaper ticker, and blocks until a
// shutdown signal arrives.
func (s *Server) ListenAndServe() error {
	sigCh := make(chan os.Signal, 1)
	signal.Notify(sigCh, syscall.SIGINT, syscall.SIGTERM)

	s.StartReaper(5 * time.Second)

	go func() {
		sig := <-sigCh
		s.logger.Printf("received %s, shutting down...", sig)
		s.Shutdown()
	}()

	s.logger.Printf("listening on %s", s.deps.Addr)
	s.httpSrv.Addr = s.deps.Addr
	err := s.httpSrv.ListenAndServe()
	if err == http.ErrServerClosed {
		return nil
	}
	return err
}

// StartReaper launches the periodic lifecycle reaper (§4.G reaper, §5:
// "the gateway ... is the only place that schedules timers").
func (s *Server) StartReaper(interval time.Duration) {
	s.reaperStop = make(chan struct{})
	ticker := time.NewTicker(interval)
	go func() {
		defer ticker.Stop()
		for {
			select {
			case <-ticker.C:
				if err := s.deps.Life.ReaperTick(); err != nil {
					s.logger.Printf("reaper tick: %v", err)
				}
			case <-s.reaperStop:
				return
			}
		}
	}()
}

// csrfProtect rejects cross-origin POSTs the way a browser-originated CSRF
// attempt would send them, while allowing CLI/programmatic callers that
// omit Origin entirely.
func csrfProtect(next http.Handler) http.Handler {
	return http.HandlerFunc(func(w http.ResponseWriter, r *http.Request) {
		if r.Method == http.MethodPost {
			origin := r.Header.Get("Origin")
			if origin != "" {
				u, err := url.Parse(origin)
				if err != nil {
					writeError(w, http.StatusForbidden, "invalid Origin header")
					return
				}
				host := u.Hostname()
				if host != "localhost" && host != "127.0.0.1" && host != "::1" {
					writeError(w, http.StatusForbidden, "cross-origin request blocked")
					return
				}
			}
		}
		next.ServeHTTP(w, r)
	})
}

func (s *Server) handleHealth(w http.ResponseWriter, r *http.Request) {
	writeJSON(w, http.StatusOK, map[string]any{"status": "ok"})
}

// Shutdown gracefully stops the HTTP server and the reaper.
func (s *Server) Shutdown() {
	if s.reaperStop != nil {
		close(s.reaperStop)
	}
	shutdownCtx, shutdownCancel := context.WithTimeout(context.Background(), 15*time.Second)
	defer shutdownCancel()
	_ = s.httpSrv.Shutdown(shutdownCtx)
	s.cancel()
}
