// Package server exposes capture sessions, their live events and the enrolled
// members over HTTP.
package server

import (
	"context"
	"errors"
	"fmt"
	"net"
	"net/http"
	"time"

	"github.com/MrCodeEU/facecheckin/pkg/attendance"
	"github.com/MrCodeEU/facecheckin/pkg/capture"
	"github.com/MrCodeEU/facecheckin/pkg/logging"
	"github.com/MrCodeEU/facecheckin/pkg/storage"
	"github.com/go-chi/chi/v5"
	chiMiddleware "github.com/go-chi/chi/v5/middleware"
)

// Sessions starts and stops background capture sessions.
type Sessions interface {
	StartEnrollment(memberID, profile string) (capture.SessionInfo, error)
	StartVerification(scope, profile string) (capture.SessionInfo, error)
	Current() (capture.SessionInfo, error)
	Stop(ctx context.Context) error
}

// Members lists and removes enrolled members.
type Members interface {
	ListMembers() ([]string, error)
	LoadMember(memberID string) (*storage.MemberRecord, error)
	DeleteMember(memberID string) error
}

// Attendance answers check-in queries.
type Attendance interface {
	ForDay(ctx context.Context, t time.Time) ([]attendance.CheckIn, error)
	CheckedIn(ctx context.Context, memberID string, t time.Time) (bool, error)
}

// Server represents the HTTP API server
type Server struct {
	router     *chi.Mux
	httpServer *http.Server
	sessions   Sessions
	members    Members
	attendance Attendance
	hub        *Hub
}

// New creates a server listening on addr.
func New(addr string, sessions Sessions, members Members, hub *Hub) *Server {
	r := chi.NewRouter()

	s := &Server{
		router:   r,
		sessions: sessions,
		members:  members,
		hub:      hub,
	}

	r.Use(chiMiddleware.RequestID)
	r.Use(chiMiddleware.RealIP)
	r.Use(requestLogger)
	r.Use(chiMiddleware.Recoverer)

	s.setupRoutes()

	s.httpServer = &http.Server{
		Addr:        addr,
		Handler:     r,
		ReadTimeout: 30 * time.Second,
		IdleTimeout: 60 * time.Second,
	}

	return s
}

func (s *Server) setupRoutes() {
	s.router.Get("/healthz", s.health)

	s.router.Route("/api", func(r chi.Router) {
		r.Post("/sessions", s.startSession)
		r.Get("/sessions/current", s.currentSession)
		r.Delete("/sessions/current", s.stopSession)

		r.Get("/events", s.events)

		r.Get("/members", s.listMembers)
		r.Get("/members/{id}", s.getMember)
		r.Delete("/members/{id}", s.deleteMember)

		r.Get("/attendance", s.listAttendance)
		r.Get("/attendance/{id}", s.memberAttendance)
	})
}

// SetAttendance enables the attendance endpoints. Without it they answer 404.
func (s *Server) SetAttendance(a Attendance) {
	s.attendance = a
}

// Router returns the chi router for testing
func (s *Server) Router() *chi.Mux {
	return s.router
}

// Run serves until ctx is cancelled, then shuts down gracefully and stops
// the running capture session.
func (s *Server) Run(ctx context.Context) error {
	// SSE streams end with ctx so Shutdown does not wait on them.
	s.httpServer.BaseContext = func(net.Listener) context.Context { return ctx }

	errCh := make(chan error, 1)
	go func() {
		logging.Infof("Starting HTTP server on %s", s.httpServer.Addr)
		if err := s.httpServer.ListenAndServe(); err != nil && !errors.Is(err, http.ErrServerClosed) {
			errCh <- fmt.Errorf("failed to start server: %w", err)
			return
		}
		errCh <- nil
	}()

	select {
	case err := <-errCh:
		return err
	case <-ctx.Done():
	}

	shutdownCtx, cancel := context.WithTimeout(context.Background(), 10*time.Second)
	defer cancel()

	logging.Info("Shutting down HTTP server...")
	if err := s.sessions.Stop(shutdownCtx); err != nil && !errors.Is(err, capture.ErrNoSession) {
		logging.WithError(err).Warn("Failed to stop capture session")
	}
	if err := s.httpServer.Shutdown(shutdownCtx); err != nil {
		return fmt.Errorf("shutting down server: %w", err)
	}
	return <-errCh
}

// requestLogger logs each request through the application logger.
func requestLogger(next http.Handler) http.Handler {
	return http.HandlerFunc(func(w http.ResponseWriter, r *http.Request) {
		ww := chiMiddleware.NewWrapResponseWriter(w, r.ProtoMajor)
		start := time.Now()
		next.ServeHTTP(ww, r)
		logging.Component("http").WithFields(logging.Fields{
			"method":   r.Method,
			"path":     r.URL.Path,
			"status":   ww.Status(),
			"duration": time.Since(start),
			"request":  chiMiddleware.GetReqID(r.Context()),
		}).Debug("Request handled")
	})
}
