// Package server exposes the scan coordinator over HTTP.
package server

import (
	"context"
	"encoding/json"
	"errors"
	"fmt"
	"net"
	"net/http"
	"sync"
	"time"

	"github.com/gorilla/websocket"
	"github.com/prometheus/client_golang/prometheus"
	"github.com/prometheus/client_golang/prometheus/promhttp"
	"go.uber.org/zap"

	"netscanner/internal/scan"
)

const writeWait = 10 * time.Second

// Controller is the part of scan.Coordinator the server drives.
type Controller interface {
	Start(ctx context.Context, update func(scan.Snapshot)) (scan.Snapshot, error)
	StopScan()
	Snapshot() scan.Snapshot
	Export() ([]byte, error)
}

// Server serves scan control endpoints and pushes snapshots to websocket clients.
type Server struct {
	ctx      context.Context
	ctl      Controller
	gatherer prometheus.Gatherer
	logger   *zap.Logger
	mux      *http.ServeMux
	upgrader websocket.Upgrader

	mu      sync.Mutex
	clients map[chan scan.Snapshot]struct{}

	httpServer *http.Server
}

// New creates a Server. Scans started through it live until ctx ends, not just
// for the duration of the request that started them.
func New(ctx context.Context, ctl Controller, gatherer prometheus.Gatherer, logger *zap.Logger) *Server {
	s := &Server{
		ctx:      ctx,
		ctl:      ctl,
		gatherer: gatherer,
		logger:   logger,
		mux:      http.NewServeMux(),
		upgrader: websocket.Upgrader{ReadBufferSize: 1024, WriteBufferSize: 4096},
		clients:  make(map[chan scan.Snapshot]struct{}),
	}
	s.registerRoutes()
	return s
}

func (s *Server) registerRoutes() {
	s.mux.HandleFunc("POST /scan/start", s.handleStart)
	s.mux.HandleFunc("POST /scan/stop", s.handleStop)
	s.mux.HandleFunc("GET /snapshot", s.handleSnapshot)
	s.mux.HandleFunc("GET /export", s.handleExport)
	s.mux.HandleFunc("GET /events", s.handleEvents)
	if s.gatherer != nil {
		s.mux.Handle("GET /metrics", promhttp.HandlerFor(s.gatherer, promhttp.HandlerOpts{}))
	}
}

// Handler returns the HTTP handler.
func (s *Server) Handler() http.Handler {
	return s.mux
}

// Serve accepts connections on ln until Shutdown is called.
func (s *Server) Serve(ln net.Listener) error {
	s.httpServer = &http.Server{
		Handler:           s.mux,
		ReadHeaderTimeout: 10 * time.Second,
		IdleTimeout:       60 * time.Second,
	}
	s.logger.Info("starting HTTP server", zap.String("addr", ln.Addr().String()))
	if err := s.httpServer.Serve(ln); err != nil && !errors.Is(err, http.ErrServerClosed) {
		return fmt.Errorf("HTTP server error: %w", err)
	}
	return nil
}

// ListenAndServe listens on addr and serves until Shutdown is called.
func (s *Server) ListenAndServe(addr string) error {
	ln, err := net.Listen("tcp", addr)
	if err != nil {
		return err
	}
	return s.Serve(ln)
}

// Shutdown gracefully stops the HTTP server.
func (s *Server) Shutdown(ctx context.Context) error {
	if s.httpServer == nil {
		return nil
	}
	s.logger.Info("shutting down HTTP server")
	return s.httpServer.Shutdown(ctx)
}

func (s *Server) handleStart(w http.ResponseWriter, _ *http.Request) {
	snapshot, err := s.ctl.Start(s.ctx, s.broadcast)
	if err != nil {
		s.logger.Warn("scan failed to start", zap.Error(err))
		writeJSON(w, http.StatusServiceUnavailable, snapshot)
		return
	}
	writeJSON(w, http.StatusAccepted, snapshot)
}

func (s *Server) handleStop(w http.ResponseWriter, _ *http.Request) {
	s.ctl.StopScan()
	writeJSON(w, http.StatusOK, s.ctl.Snapshot())
}

func (s *Server) handleSnapshot(w http.ResponseWriter, _ *http.Request) {
	writeJSON(w, http.StatusOK, s.ctl.Snapshot())
}

func (s *Server) handleExport(w http.ResponseWriter, _ *http.Request) {
	data, err := s.ctl.Export()
	if err != nil {
		http.Error(w, err.Error(), http.StatusInternalServerError)
		return
	}
	w.Header().Set("Content-Type", "application/json")
	w.Header().Set("Content-Disposition", "attachment; filename=scan.json")
	_, _ = w.Write(data)
}

// handleEvents upgrades to a websocket and pushes the current snapshot followed by
// every later one.
func (s *Server) handleEvents(w http.ResponseWriter, r *http.Request) {
	conn, err := s.upgrader.Upgrade(w, r, nil)
	if err != nil {
		s.logger.Debug("websocket upgrade failed", zap.Error(err))
		return
	}
	defer conn.Close()

	ch := make(chan scan.Snapshot, 1)
	s.addClient(ch)
	defer s.removeClient(ch)

	closed := make(chan struct{})
	go func() {
		defer close(closed)
		for {
			if _, _, err := conn.ReadMessage(); err != nil {
				return
			}
		}
	}()

	if err := writeSnapshot(conn, s.ctl.Snapshot()); err != nil {
		return
	}
	for {
		select {
		case <-closed:
			return
		case <-s.ctx.Done():
			_ = conn.WriteControl(websocket.CloseMessage,
				websocket.FormatCloseMessage(websocket.CloseGoingAway, ""), time.Now().Add(writeWait))
			return
		case snapshot := <-ch:
			if err := writeSnapshot(conn, snapshot); err != nil {
				s.logger.Debug("websocket write failed", zap.Error(err))
				return
			}
		}
	}
}

func (s *Server) addClient(ch chan scan.Snapshot) {
	s.mu.Lock()
	defer s.mu.Unlock()
	s.clients[ch] = struct{}{}
}

func (s *Server) removeClient(ch chan scan.Snapshot) {
	s.mu.Lock()
	defer s.mu.Unlock()
	delete(s.clients, ch)
}

// broadcast hands snapshot to every client. A client that has not consumed the
// previous snapshot gets it replaced, so the newest state always gets through.
func (s *Server) broadcast(snapshot scan.Snapshot) {
	s.mu.Lock()
	defer s.mu.Unlock()
	for ch := range s.clients {
		select {
		case ch <- snapshot:
			continue
		default:
		}
		select {
		case <-ch:
		default:
		}
		select {
		case ch <- snapshot:
		default:
		}
	}
}

func writeSnapshot(conn *websocket.Conn, snapshot scan.Snapshot) error {
	data, err := json.Marshal(snapshot)
	if err != nil {
		return err
	}
	_ = conn.SetWriteDeadline(time.Now().Add(writeWait))
	return conn.WriteMessage(websocket.TextMessage, data)
}

func writeJSON(w http.ResponseWriter, status int, v any) {
	w.Header().Set("Content-Type", "application/json")
	w.WriteHeader(status)
	_ = json.NewEncoder(w).Encode(v)
}
