// Package server exposes an orchestrator over http.
package server

import (
	"context"
	"net"
	"net/http"
	"time"

	"github.com/go-chi/chi/v5"
	"github.com/go-chi/chi/v5/middleware"
	"github.com/hamba/pkg/log"
	pkglog "github.com/nrwiersma/workchain/pkg/log"
	"github.com/nrwiersma/workchain/work"
)

// Orchestrator runs chains.
type Orchestrator interface {
	Submit(c work.Chain) (work.Handle, error)
	Cancel(name string) error
	Prune() (int, error)
	Chain(name string) (work.ChainInfo, error)
	Chains() ([]work.ChainInfo, error)
	Statuses(tag string) ([]work.Status, error)
	Subscribe(ctx context.Context, tag string) <-chan []work.Status
}

// Server is the http server for an orchestrator.
type Server struct {
	srv *http.Server
	log log.Logger
}

// New returns a server listening on addr.
func New(addr string, orch Orchestrator, l log.Logger) *Server {
	if l == nil {
		l = log.Null
	}

	return &Server{
		srv: &http.Server{
			Addr:              addr,
			Handler:           NewHandler(orch, l),
			ReadHeaderTimeout: 10 * time.Second,
			ErrorLog:          pkglog.NewBridge(l, pkglog.Info, "http: "),
		},
		log: l,
	}
}

// NewHandler returns the http handler for the orchestrator.
func NewHandler(orch Orchestrator, l log.Logger) http.Handler {
	h := &handlers{orch: orch, log: l}

	r := chi.NewRouter()
	r.Use(middleware.Recoverer)

	r.Get("/health", h.Health)

	r.Route("/chains", func(r chi.Router) {
		r.Get("/", h.ListChains)
		r.Post("/", h.SubmitChain)
		r.Get("/{name}", h.GetChain)
		r.Delete("/{name}", h.CancelChain)
	})
	r.Post("/prune", h.Prune)

	r.Get("/jobs", h.ListJobs)
	r.Get("/jobs/watch", h.WatchJobs)

	return r
}

// Serve serves connections from the listener until the context is done.
func (s *Server) Serve(ctx context.Context, ln net.Listener) error {
	serverErr := make(chan error, 1)
	go func() {
		if err := s.srv.Serve(ln); err != nil && err != http.ErrServerClosed {
			serverErr <- err
		}
	}()

	s.log.Info("server: listening", "addr", ln.Addr().String())

	select {
	case err := <-serverErr:
		return err
	case <-ctx.Done():
		shutdownCtx, cancel := context.WithTimeout(context.Background(), 10*time.Second)
		defer cancel()

		return s.srv.Shutdown(shutdownCtx)
	}
}

// Run listens on the server address and serves until the context is done.
func (s *Server) Run(ctx context.Context) error {
	ln, err := net.Listen("tcp", s.srv.Addr)
	if err != nil {
		return err
	}
	return s.Serve(ctx, ln)
}
