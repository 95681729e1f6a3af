// Package server отдает состояние движка по HTTP: JSON, SSE, WebSocket и метрики Prometheus.
package server

import (
	"context"
	"errors"
	"net/http"
	"time"

	"github.com/go-chi/chi/v5"
	"github.com/go-chi/chi/v5/middleware"
	"github.com/go-chi/cors"
	"github.com/skalibog/confluence/internal/metrics"
	"github.com/skalibog/confluence/internal/presenter"
	"github.com/skalibog/confluence/internal/scheduler"
	"github.com/skalibog/confluence/pkg/logger"
	"github.com/skalibog/confluence/pkg/models"
	"go.uber.org/zap"
)

// SnapshotSource источник снимков состояния
type SnapshotSource interface {
	Snapshot() models.Snapshot
	Subscribe(buffer int) (<-chan models.Snapshot, func())
}

// StatusSource источник состояния планировщика
type StatusSource interface {
	Status() scheduler.Status
}

// Server HTTP-сервер только для чтения
type Server struct {
	router    *chi.Mux
	server    *http.Server
	store     SnapshotSource
	status    StatusSource
	presenter *presenter.Presenter
	refresh   time.Duration
}

// New создает сервер. status может быть nil.
func New(addr string, refresh time.Duration, store SnapshotSource, status StatusSource, p *presenter.Presenter) *Server {
	if refresh <= 0 {
		refresh = 5 * time.Second
	}
	s := &Server{
		router:    chi.NewRouter(),
		store:     store,
		status:    status,
		presenter: p,
		refresh:   refresh,
	}

	s.setupMiddleware()
	s.setupRoutes()

	s.server = &http.Server{
		Addr:         addr,
		Handler:      s.router,
		ReadTimeout:  15 * time.Second,
		WriteTimeout: 15 * time.Second,
		IdleTimeout:  60 * time.Second,
	}
	return s
}

// Handler корневой обработчик (для тестов)
func (s *Server) Handler() http.Handler {
	return s.router
}

func (s *Server) setupMiddleware() {
	s.router.Use(middleware.Recoverer)
	s.router.Use(middleware.RequestID)
	s.router.Use(middleware.RealIP)
	s.router.Use(loggingMiddleware)
	s.router.Use(cors.Handler(cors.Options{
		AllowedOrigins: []string{"*"},
		AllowedMethods: []string{"GET", "OPTIONS"},
		AllowedHeaders: []string{"Accept", "Content-Type"},
		MaxAge:         300,
	}))
}

func (s *Server) setupRoutes() {
	s.router.Get("/health", s.handleHealth)
	s.router.Handle("/metrics", metrics.Handler())

	s.router.Route("/api", func(r chi.Router) {
		r.Group(func(r chi.Router) {
			r.Use(middleware.Timeout(10 * time.Second))
			r.Get("/snapshot", s.handleSnapshot)
			r.Get("/view", s.handleView)
			r.Get("/stats", s.handleStats)
			r.Get("/status", s.handleStatus)
		})

		// потоковые обработчики живут дольше таймаута запроса
		r.Get("/events", s.handleEvents)
	})
	s.router.Get("/ws", s.handleWebSocket)
}

// Start запускает сервер и останавливает его при отмене контекста
func (s *Server) Start(ctx context.Context) error {
	errCh := make(chan error, 1)
	go func() {
		logger.Info("Запуск HTTP-сервера", zap.String("addr", s.server.Addr))
		if err := s.server.ListenAndServe(); err != nil && !errors.Is(err, http.ErrServerClosed) {
			errCh <- err
		}
		close(errCh)
	}()

	select {
	case err := <-errCh:
		return err
	case <-ctx.Done():
	}

	shutdownCtx, cancel := context.WithTimeout(context.Background(), 5*time.Second)
	defer cancel()
	logger.Info("Остановка HTTP-сервера")
	return s.server.Shutdown(shutdownCtx)
}

func loggingMiddleware(next http.Handler) http.Handler {
	return http.HandlerFunc(func(w http.ResponseWriter, r *http.Request) {
		start := time.Now()
		ww := middleware.NewWrapResponseWriter(w, r.ProtoMajor)
		next.ServeHTTP(ww, r)
		logger.Debug("HTTP запрос",
			zap.String("method", r.Method),
			zap.String("path", r.URL.Path),
			zap.Int("status", ww.Status()),
			zap.Duration("duration", time.Since(start)),
			zap.String("request_id", middleware.GetReqID(r.Context())))
	})
}
