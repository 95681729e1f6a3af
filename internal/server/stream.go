package server

import (
	"context"
	"encoding/json"
	"fmt"
	"net/http"
	"time"

	"github.com/gorilla/websocket"
	"github.com/skalibog/confluence/internal/metrics"
	"github.com/skalibog/confluence/internal/presenter"
	"github.com/skalibog/confluence/pkg/logger"
	"go.uber.org/zap"
)

const (
	subscriberBuffer = 4
	wsWriteWait      = 10 * time.Second
	wsPongWait       = 60 * time.Second
	wsPingPeriod     = 30 * time.Second
)

var upgrader = websocket.Upgrader{
	CheckOrigin: func(r *http.Request) bool { return true },
}

// streamViews отправляет вид сразу, после каждого цикла и каждые refresh, пока send не вернет ошибку
func (s *Server) streamViews(ctx context.Context, send func(presenter.View) error) error {
	updates, cancel := s.store.Subscribe(subscriberBuffer)
	defer cancel()

	if err := send(s.presenter.Build(s.store.Snapshot())); err != nil {
		return err
	}

	ticker := time.NewTicker(s.refresh)
	defer ticker.Stop()

	for {
		select {
		case <-ctx.Done():
			return ctx.Err()
		case snap, ok := <-updates:
			if !ok {
				return nil
			}
			if err := send(s.presenter.Build(snap)); err != nil {
				return err
			}
		case <-ticker.C:
			if err := send(s.presenter.Build(s.store.Snapshot())); err != nil {
				return err
			}
		}
	}
}

// handleEvents GET /api/events (SSE)
func (s *Server) handleEvents(w http.ResponseWriter, r *http.Request) {
	flusher, ok := w.(http.Flusher)
	if !ok {
		http.Error(w, "Streaming not supported", http.StatusInternalServerError)
		return
	}
	// поток не должен упираться в WriteTimeout сервера
	_ = http.NewResponseController(w).SetWriteDeadline(time.Time{})

	w.Header().Set("Content-Type", "text/event-stream")
	w.Header().Set("Cache-Control", "no-cache")
	w.Header().Set("Connection", "keep-alive")
	w.WriteHeader(http.StatusOK)
	flusher.Flush()

	metrics.StreamClients.WithLabelValues("sse").Inc()
	defer metrics.StreamClients.WithLabelValues("sse").Dec()
	logger.Debug("SSE клиент подключен", zap.String("remote", r.RemoteAddr))

	err := s.streamViews(r.Context(), func(v presenter.View) error {
		data, err := json.Marshal(v)
		if err != nil {
			return err
		}
		if _, err := fmt.Fprintf(w, "event: snapshot\ndata: %s\n\n", data); err != nil {
			return err
		}
		flusher.Flush()
		return nil
	})
	logger.Debug("SSE клиент отключен", zap.String("remote", r.RemoteAddr), zap.Error(err))
}

// handleWebSocket GET /ws
func (s *Server) handleWebSocket(w http.ResponseWriter, r *http.Request) {
	conn, err := upgrader.Upgrade(w, r, nil)
	if err != nil {
		logger.Warn("Ошибка WebSocket upgrade", zap.Error(err))
		return
	}
	defer conn.Close()

	metrics.StreamClients.WithLabelValues("ws").Inc()
	defer metrics.StreamClients.WithLabelValues("ws").Dec()

	ctx, cancel := context.WithCancel(r.Context())
	defer cancel()

	// входящие сообщения не нужны, чтение только для pong и закрытия
	conn.SetReadLimit(512)
	_ = conn.SetReadDeadline(time.Now().Add(wsPongWait))
	conn.SetPongHandler(func(string) error {
		return conn.SetReadDeadline(time.Now().Add(wsPongWait))
	})
	go func() {
		defer cancel()
		for {
			if _, _, err := conn.ReadMessage(); err != nil {
				return
			}
		}
	}()

	ping := time.NewTicker(wsPingPeriod)
	defer ping.Stop()
	go func() {
		for {
			select {
			case <-ctx.Done():
				return
			case <-ping.C:
				if err := conn.WriteControl(websocket.PingMessage, nil, time.Now().Add(wsWriteWait)); err != nil {
					cancel()
					return
				}
			}
		}
	}()

	err = s.streamViews(ctx, func(v presenter.View) error {
		_ = conn.SetWriteDeadline(time.Now().Add(wsWriteWait))
		return conn.WriteJSON(v)
	})
	logger.Debug("WebSocket клиент отключен", zap.String("remote", r.RemoteAddr), zap.Error(err))
}
