package server

import (
	"context"
	"fmt"
	"net/http"
	"runtime"
	"runtime/debug"
	"sync"
	"time"

	"github.com/gorilla/mux"
	"github.com/prometheus/client_golang/prometheus"
	"github.com/prometheus/client_golang/prometheus/promhttp"
	"github.com/sirupsen/logrus"

	"portal/internal/admin"
	"portal/internal/gateway"
	"portal/internal/session"
	"portal/internal/sysstats"
)

var Version = "dev" // Overridden at build time

type Config struct {
	Addr string
	// StaticDir holds the site's pages; empty disables static serving.
	StaticDir string
	// DataDir is reported next to the root filesystem by /admin/stats.
	DataDir  string
	Gateway  *gateway.Gateway
	Sessions *session.Manager
	Registry *prometheus.Registry
	Metrics  *Metrics
	Logger   *logrus.Logger
	// ReadTimeout and WriteTimeout default to 15s.
	ReadTimeout  time.Duration
	WriteTimeout time.Duration
}

type Server struct {
	config     *Config
	log        *logrus.Logger
	httpServer *http.Server
	wg         sync.WaitGroup
}

func New(cfg *Config) *Server {
	if cfg.Logger == nil {
		cfg.Logger = logrus.StandardLogger()
	}
	if cfg.ReadTimeout <= 0 {
		cfg.ReadTimeout = 15 * time.Second
	}
	if cfg.WriteTimeout <= 0 {
		cfg.WriteTimeout = 15 * time.Second
	}
	return &Server{config: cfg, log: cfg.Logger}
}

// panicRecoveryMiddleware catches panics and logs them with full stack traces
func (s *Server) panicRecoveryMiddleware(next http.Handler) http.Handler {
	return http.HandlerFunc(func(w http.ResponseWriter, r *http.Request) {
		defer func() {
			if err := recover(); err != nil {
				var m runtime.MemStats
				runtime.ReadMemStats(&m)
				s.log.WithFields(logrus.Fields{
					"panic":     fmt.Sprint(err),
					"method":    r.Method,
					"path":      r.URL.Path,
					"remote":    r.RemoteAddr,
					"alloc_mb":  m.Alloc / 1024 / 1024,
					"sys_mb":    m.Sys / 1024 / 1024,
					"num_gc":    m.NumGC,
					"goroutine": runtime.NumGoroutine(),
				}).Error("PANIC RECOVERED")
				s.log.Errorf("Stack trace:\n%s", debug.Stack())

				http.Error(w, "Server error", http.StatusInternalServerError)
			}
		}()
		next.ServeHTTP(w, r)
	})
}

// statusRecorder captures the status code written by a handler.
type statusRecorder struct {
	http.ResponseWriter
	status int
}

func (rw *statusRecorder) WriteHeader(code int) {
	rw.status = code
	rw.ResponseWriter.WriteHeader(code)
}

func (s *Server) requestLogMiddleware(next http.Handler) http.Handler {
	return http.HandlerFunc(func(w http.ResponseWriter, r *http.Request) {
		start := time.Now()
		rw := &statusRecorder{ResponseWriter: w, status: http.StatusOK}
		next.ServeHTTP(rw, r)

		route := routeName(r)
		duration := time.Since(start)
		if s.config.Metrics != nil {
			s.config.Metrics.observeRequest(r.Method, route, rw.status, duration)
		}
		s.log.WithFields(logrus.Fields{
			"method":   r.Method,
			"path":     r.URL.Path,
			"status":   rw.status,
			"duration": duration.Round(time.Microsecond),
		}).Debug("HTTP request")
	})
}

// routeName is the matched route template, so metric labels stay bounded.
func routeName(r *http.Request) string {
	if route := mux.CurrentRoute(r); route != nil {
		if tpl, err := route.GetPathTemplate(); err == nil {
			return tpl
		}
	}
	return "other"
}

// Handler builds the full HTTP handler.
func (s *Server) Handler() http.Handler {
	r := mux.NewRouter()

	r.HandleFunc("/signup", s.handleSignup).Methods(http.MethodPost)
	r.HandleFunc("/login", s.handleLogin).Methods(http.MethodPost)
	r.HandleFunc("/logout", s.handleLogout).Methods(http.MethodPost)
	r.HandleFunc("/me", s.handleMe).Methods(http.MethodGet)

	admin.NewHandler(s.config.Gateway, s.bind, sysstats.MonitoredPaths(s.config.DataDir), s.log).Register(r)

	for _, page := range adminPages {
		r.HandleFunc(page, s.handleAdminPage).Methods(http.MethodGet, http.MethodHead)
	}

	r.HandleFunc("/health", func(w http.ResponseWriter, r *http.Request) {
		w.WriteHeader(http.StatusOK)
		fmt.Fprintf(w, "OK\n")
	}).Methods(http.MethodGet)

	if s.config.Registry != nil {
		r.Handle("/metrics", promhttp.HandlerFor(s.config.Registry, promhttp.HandlerOpts{})).Methods(http.MethodGet)
	}

	if s.config.StaticDir != "" {
		r.PathPrefix("/").Handler(http.FileServer(http.Dir(s.config.StaticDir))).Methods(http.MethodGet, http.MethodHead)
	}

	r.Use(s.requestLogMiddleware)
	return s.panicRecoveryMiddleware(r)
}

func (s *Server) bind(w http.ResponseWriter, r *http.Request) gateway.Sessions {
	return s.config.Sessions.Bind(w, r)
}

func (s *Server) Start() error {
	s.log.Infof("Starting portal %s", Version)
	s.log.Infof("HTTP address: %s", s.config.Addr)
	if s.config.StaticDir != "" {
		s.log.Infof("Static directory: %s", s.config.StaticDir)
	}

	s.httpServer = &http.Server{
		Addr:         s.config.Addr,
		Handler:      s.Handler(),
		ReadTimeout:  s.config.ReadTimeout,
		WriteTimeout: s.config.WriteTimeout,
	}

	s.wg.Add(1)
	go func() {
		defer s.wg.Done()
		if err := s.httpServer.ListenAndServe(); err != nil && err != http.ErrServerClosed {
			s.log.WithError(err).Error("HTTP server failed")
		}
	}()
	return nil
}

func (s *Server) Wait() {
	s.wg.Wait()
}

// Shutdown stops accepting requests and waits for in-flight ones until ctx
// is done.
func (s *Server) Shutdown(ctx context.Context) error {
	s.log.Info("Initiating graceful shutdown...")
	if s.httpServer == nil {
		return nil
	}
	if err := s.httpServer.Shutdown(ctx); err != nil {
		return fmt.Errorf("HTTP server shutdown: %w", err)
	}

	done := make(chan struct{})
	go func() {
		s.wg.Wait()
		close(done)
	}()
	select {
	case <-done:
		s.log.Info("HTTP server stopped")
	case <-ctx.Done():
		s.log.Warn("Shutdown timeout reached - forcing shutdown")
	}
	return nil
}
