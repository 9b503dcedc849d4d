// Package server exposes the service over HTTP: function invocation, queue
// administration, connectivity control and a WebSocket event stream.
package server

import (
	"context"
	"errors"
	"net"
	"net/http"
	"time"

	"github.com/go-chi/chi/v5"
	chimw "github.com/go-chi/chi/v5/middleware"
	"go.uber.org/zap"

	"github.com/SmitUplenchwar2687/Carelink/internal/clock"
	"github.com/SmitUplenchwar2687/Carelink/internal/limiter"
	"github.com/SmitUplenchwar2687/Carelink/internal/queue"
	"github.com/SmitUplenchwar2687/Carelink/internal/recorder"
	"github.com/SmitUplenchwar2687/Carelink/internal/service"
)

// Options configures a Server. Service and Limiter are required.
type Options struct {
	Addr     string
	Service  *service.Service
	Limiter  limiter.Limiter
	Clock    clock.Clock
	Logger   *zap.Logger
	APIKeys  []string
	Recorder *recorder.Recorder

	ReadTimeout  time.Duration
	WriteTimeout time.Duration
}

// Server is the Carelink HTTP API.
type Server struct {
	router     *chi.Mux
	httpServer *http.Server
	svc        *service.Service
	limiter    limiter.Limiter
	clock      clock.Clock
	logger     *zap.Logger
	hub        *Hub
	recorder   *recorder.Recorder
	apiKeys    map[string]struct{}
}

// New builds the router and subscribes the WebSocket hub to queue and
// connectivity events.
func New(opts Options) (*Server, error) {
	if opts.Service == nil {
		return nil, errors.New("service is required")
	}
	if opts.Limiter == nil {
		return nil, errors.New("limiter is required")
	}
	if opts.Logger == nil {
		opts.Logger = zap.NewNop()
	}
	if opts.ReadTimeout <= 0 {
		opts.ReadTimeout = 30 * time.Second
	}
	if opts.WriteTimeout <= 0 {
		opts.WriteTimeout = 30 * time.Second
	}

	s := &Server{
		router:   chi.NewRouter(),
		svc:      opts.Service,
		limiter:  opts.Limiter,
		clock:    clock.OrReal(opts.Clock),
		logger:   opts.Logger,
		hub:      NewHub(opts.Logger),
		recorder: opts.Recorder,
		apiKeys:  make(map[string]struct{}, len(opts.APIKeys)),
	}
	for _, k := range opts.APIKeys {
		if k != "" {
			s.apiKeys[k] = struct{}{}
		}
	}

	s.svc.Queue().Subscribe(func(ev queue.Event) { s.hub.Broadcast(MessageQueue, ev) })
	s.svc.Monitor().OnChange(func(online bool) {
		s.hub.Broadcast(MessageConnectivity, map[string]bool{"online": online})
	})

	s.routes()
	s.httpServer = &http.Server{
		Addr:              opts.Addr,
		Handler:           s.router,
		ReadTimeout:       opts.ReadTimeout,
		ReadHeaderTimeout: 10 * time.Second,
		WriteTimeout:      opts.WriteTimeout,
		IdleTimeout:       120 * time.Second,
	}
	return s, nil
}

func (s *Server) routes() {
	r := s.router
	r.Use(chimw.RealIP)
	r.Use(requestID)
	r.Use(s.requestLogger)
	r.Use(s.recoverer)

	r.NotFound(func(w http.ResponseWriter, req *http.Request) {
		s.writeError(w, req, http.StatusNotFound, CodeNotFound, "the requested resource was not found")
	})
	r.MethodNotAllowed(func(w http.ResponseWriter, req *http.Request) {
		s.writeError(w, req, http.StatusMethodNotAllowed, CodeMethodNotAllowed, "method not allowed")
	})

	r.Get("/health", s.handleHealth)

	r.Group(func(r chi.Router) {
		r.Use(s.authenticate)
		r.Get("/ws", s.hub.HandleWebSocket)

		r.Route("/api/v1", func(r chi.Router) {
			r.Use(s.rateLimit)

			r.Get("/status", s.handleStatus)
			r.Get("/functions", s.handleListFunctions)
			r.Post("/functions/{name}", s.handleInvoke)

			r.Get("/queue", s.handleListQueue)
			r.Post("/queue/drain", s.handleDrain)
			r.Delete("/queue/{id}", s.handleRemove)
			r.Get("/queue/dead-letters", s.handleListDeadLetters)
			r.Post("/queue/dead-letters/{id}/requeue", s.handleRequeue)

			r.Put("/connectivity", s.handleConnectivity)
		})
	})
}

// Start listens on the configured address and blocks until shutdown.
func (s *Server) Start() error {
	ln, err := net.Listen("tcp", s.httpServer.Addr)
	if err != nil {
		return err
	}
	return s.StartOnListener(ln)
}

// StartOnListener serves on ln. Tests use it with an ephemeral port.
func (s *Server) StartOnListener(ln net.Listener) error {
	s.logger.Info("carelink server listening", zap.String("addr", ln.Addr().String()))
	err := s.httpServer.Serve(ln)
	if errors.Is(err, http.ErrServerClosed) {
		return nil
	}
	return err
}

// Shutdown drains in-flight requests and disconnects WebSocket clients.
func (s *Server) Shutdown(ctx context.Context) error {
	s.hub.Close()
	return s.httpServer.Shutdown(ctx)
}

func (s *Server) Handler() http.Handler { return s.router }

func (s *Server) Hub() *Hub { return s.hub }
