package web

import (
	"context"
	"embed"
	"encoding/json"
	"errors"
	"fmt"
	"io"
	"io/fs"
	"net/http"
	"slices"
	"strconv"
	"time"

	"github.com/gorilla/mux"
	"github.com/gorilla/websocket"
	"github.com/ritzau/kg-explorer/pkg/backend"
	"github.com/ritzau/kg-explorer/pkg/logging"
	"github.com/ritzau/kg-explorer/pkg/metrics"
	"github.com/ritzau/kg-explorer/pkg/pubsub"
	"github.com/ritzau/kg-explorer/pkg/view"
)

//go:embed static/*
var staticFiles embed.FS

const (
	maxBodyBytes   = 1 << 20
	maxWSMessage   = 4096
	healthTimeout  = 3 * time.Second
	shutdownPeriod = 5 * time.Second
)

// Server exposes one graph view over HTTP: SSE for frames and events,
// WebSocket and POST for input
type Server struct {
	router    *mux.Router
	view      *view.View
	publisher pubsub.Publisher
	svc       backend.Service
	metrics   *metrics.Metrics
	upgrader  websocket.Upgrader
}

// NewServer creates a web server for v. svc is used for the browsing
// passthrough endpoints when it implements backend.Browser.
func NewServer(v *view.View, publisher pubsub.Publisher, svc backend.Service, m *metrics.Metrics) *Server {
	s := &Server{
		router:    mux.NewRouter(),
		view:      v,
		publisher: publisher,
		svc:       svc,
		metrics:   m,
		upgrader: websocket.Upgrader{
			ReadBufferSize:  1024,
			WriteBufferSize: 1024,
			CheckOrigin: func(_ *http.Request) bool {
				// Local tool, served and consumed on the same machine
				return true
			},
		},
	}
	s.setupRoutes()
	return s
}

// Handler returns the root handler with request logging
func (s *Server) Handler() http.Handler {
	return logging.RequestIDMiddleware(s.router)
}

func (s *Server) setupRoutes() {
	// Streams
	s.router.HandleFunc("/api/subscribe/{topic}", s.handleSubscribe).Methods("GET")
	s.router.HandleFunc("/api/ws", s.handleWebSocket).Methods("GET")

	// View control
	s.router.HandleFunc("/api/view/load", s.handleLoad).Methods("POST")
	s.router.HandleFunc("/api/view/reload", s.handleReload).Methods("POST")
	s.router.HandleFunc("/api/view/center", s.handleCenter).Methods("POST")
	s.router.HandleFunc("/api/view/fit", s.handleFit).Methods("POST")
	s.router.HandleFunc("/api/view/resize", s.handleResize).Methods("POST")
	s.router.HandleFunc("/api/view/pointer", s.handlePointer).Methods("POST")
	s.router.HandleFunc("/api/view/state", s.handleState).Methods("GET")

	// Backing graph passthrough
	s.router.HandleFunc("/api/graph/stats", s.handleStats).Methods("GET")
	s.router.HandleFunc("/api/graph/node/{id}", s.handleNode).Methods("GET")
	s.router.HandleFunc("/api/style", s.handleStyle).Methods("GET")

	s.router.HandleFunc("/healthz", s.handleHealth).Methods("GET")
	if s.metrics != nil {
		s.router.Handle("/metrics", s.metrics.Handler()).Methods("GET")
	}

	// Serve static files
	staticFS, err := fs.Sub(staticFiles, "static")
	if err != nil {
		logging.Fatal("static files missing", "error", err)
	}
	s.router.PathPrefix("/").Handler(http.FileServer(http.FS(staticFS)))
}

func (s *Server) handleSubscribe(w http.ResponseWriter, r *http.Request) {
	topic := mux.Vars(r)["topic"]
	if !slices.Contains(pubsub.Topics, topic) {
		writeError(w, http.StatusNotFound, fmt.Errorf("unknown topic %q", topic))
		return
	}

	// Set SSE headers
	w.Header().Set("Content-Type", "text/event-stream")
	w.Header().Set("Cache-Control", "no-cache")
	w.Header().Set("Connection", "keep-alive")
	w.Header().Set("Access-Control-Allow-Origin", "*") // CORS support

	// Send initial comment to establish connection (Safari compatibility)
	fmt.Fprintf(w, ": connected\n\n")
	if flusher, ok := w.(http.Flusher); ok {
		flusher.Flush()
	}

	sub, err := s.publisher.Subscribe(r.Context(), topic)
	if err != nil {
		http.Error(w, err.Error(), http.StatusInternalServerError)
		return
	}
	defer sub.Close()

	logging.DebugContext(r.Context(), "subscriber attached", "topic", topic)
	for event := range sub.Events() {
		if err := pubsub.WriteSSE(w, event); err != nil {
			logging.DebugContext(r.Context(), "SSE write failed", "topic", topic, "error", err)
			return
		}
		if flusher, ok := w.(http.Flusher); ok {
			flusher.Flush()
		}
	}
}

// handleWebSocket reads input messages until the page goes away. Each
// message is answered only when it is rejected.
func (s *Server) handleWebSocket(w http.ResponseWriter, r *http.Request) {
	conn, err := s.upgrader.Upgrade(w, r, nil)
	if err != nil {
		logging.WarnContext(r.Context(), "websocket upgrade failed", "error", err)
		return
	}
	defer conn.Close()
	conn.SetReadLimit(maxWSMessage)

	ctx := r.Context()
	logging.InfoContext(ctx, "input socket connected", "remoteAddr", r.RemoteAddr)

	for {
		var msg view.PointerMessage
		if err := conn.ReadJSON(&msg); err != nil {
			if websocket.IsUnexpectedCloseError(err, websocket.CloseGoingAway, websocket.CloseNormalClosure) {
				logging.WarnContext(ctx, "input socket closed", "error", err)
			} else {
				logging.DebugContext(ctx, "input socket closed", "error", err)
			}
			return
		}

		if err := s.view.Pointer(msg); err != nil {
			if errors.Is(err, view.ErrStopped) {
				if werr := conn.WriteControl(websocket.CloseMessage,
					websocket.FormatCloseMessage(websocket.CloseGoingAway, "view stopped"),
					time.Now().Add(time.Second)); werr != nil {
					logging.DebugContext(ctx, "input socket close failed", "error", werr)
				}
				return
			}
			if werr := conn.WriteJSON(map[string]string{"error": err.Error()}); werr != nil {
				return
			}
		}
	}
}

func (s *Server) handleLoad(w http.ResponseWriter, r *http.Request) {
	body, err := io.ReadAll(io.LimitReader(r.Body, maxBodyBytes))
	if err != nil {
		writeError(w, http.StatusBadRequest, err)
		return
	}
	req, err := backend.DecodeRequest(body)
	if err != nil {
		writeError(w, http.StatusBadRequest, err)
		return
	}
	if err := s.view.Load(req); err != nil {
		writeError(w, http.StatusServiceUnavailable, err)
		return
	}
	logging.InfoContext(r.Context(), "view load requested", "kind", req.Kind())
	writeJSON(w, http.StatusAccepted, map[string]string{"status": "loading", "kind": req.Kind()})
}

func (s *Server) handleReload(w http.ResponseWriter, r *http.Request) {
	s.accepted(w, s.view.Reload())
}

func (s *Server) handleCenter(w http.ResponseWriter, r *http.Request) {
	s.accepted(w, s.view.Center())
}

func (s *Server) handleFit(w http.ResponseWriter, r *http.Request) {
	s.accepted(w, s.view.Fit())
}

func (s *Server) handleResize(w http.ResponseWriter, r *http.Request) {
	var size struct {
		Width  float64 `json:"width"`
		Height float64 `json:"height"`
	}
	if err := json.NewDecoder(io.LimitReader(r.Body, maxBodyBytes)).Decode(&size); err != nil {
		writeError(w, http.StatusBadRequest, err)
		return
	}
	if size.Width <= 0 || size.Height <= 0 {
		writeError(w, http.StatusBadRequest, fmt.Errorf("invalid canvas size %gx%g", size.Width, size.Height))
		return
	}
	s.accepted(w, s.view.Resize(size.Width, size.Height))
}

func (s *Server) handlePointer(w http.ResponseWriter, r *http.Request) {
	var msg view.PointerMessage
	if err := json.NewDecoder(io.LimitReader(r.Body, maxBodyBytes)).Decode(&msg); err != nil {
		writeError(w, http.StatusBadRequest, err)
		return
	}
	if err := msg.Validate(); err != nil {
		writeError(w, http.StatusBadRequest, err)
		return
	}
	s.accepted(w, s.view.Pointer(msg))
}

func (s *Server) accepted(w http.ResponseWriter, err error) {
	if err != nil {
		writeError(w, http.StatusServiceUnavailable, err)
		return
	}
	w.WriteHeader(http.StatusAccepted)
}

func (s *Server) handleState(w http.ResponseWriter, r *http.Request) {
	status, frame, err := s.view.Status(r.Context())
	if err != nil {
		writeError(w, http.StatusServiceUnavailable, err)
		return
	}
	writeJSON(w, http.StatusOK, map[string]any{
		"status": status,
		"frame":  frame,
	})
}

func (s *Server) browser(w http.ResponseWriter) (backend.Browser, bool) {
	b, ok := s.svc.(backend.Browser)
	if !ok {
		writeError(w, http.StatusNotImplemented, errors.New("backing service does not support browsing"))
	}
	return b, ok
}

func (s *Server) handleStats(w http.ResponseWriter, r *http.Request) {
	b, ok := s.browser(w)
	if !ok {
		return
	}
	stats, err := b.Stats(r.Context())
	if err != nil {
		writeBackendError(w, err)
		return
	}
	writeJSON(w, http.StatusOK, stats)
}

func (s *Server) handleNode(w http.ResponseWriter, r *http.Request) {
	b, ok := s.browser(w)
	if !ok {
		return
	}

	maxNeighbors := backend.DefaultMaxNeighbors
	if v := r.URL.Query().Get("max_neighbors"); v != "" {
		n, err := strconv.Atoi(v)
		if err != nil || n < 0 {
			writeError(w, http.StatusBadRequest, fmt.Errorf("invalid max_neighbors %q", v))
			return
		}
		maxNeighbors = n
	}

	details, err := b.NodeDetails(r.Context(), mux.Vars(r)["id"], maxNeighbors)
	if err != nil {
		writeBackendError(w, err)
		return
	}
	writeJSON(w, http.StatusOK, details)
}

func (s *Server) handleStyle(w http.ResponseWriter, r *http.Request) {
	writeJSON(w, http.StatusOK, s.view.Style())
}

func (s *Server) handleHealth(w http.ResponseWriter, r *http.Request) {
	resp := map[string]string{"status": "ok", "backend": "unknown"}
	code := http.StatusOK

	if b, ok := s.svc.(backend.Browser); ok {
		ctx, cancel := context.WithTimeout(r.Context(), healthTimeout)
		defer cancel()
		if err := b.Health(ctx); err != nil {
			resp["status"] = "degraded"
			resp["backend"] = err.Error()
			code = http.StatusServiceUnavailable
		} else {
			resp["backend"] = "ok"
		}
	}
	writeJSON(w, code, resp)
}

func writeJSON(w http.ResponseWriter, code int, v any) {
	w.Header().Set("Content-Type", "application/json")
	w.WriteHeader(code)
	if err := json.NewEncoder(w).Encode(v); err != nil {
		logging.Debug("response encoding failed", "error", err)
	}
}

func writeError(w http.ResponseWriter, code int, err error) {
	writeJSON(w, code, map[string]string{"error": err.Error()})
}

func writeBackendError(w http.ResponseWriter, err error) {
	switch {
	case backend.IsNotFound(err):
		writeError(w, http.StatusNotFound, err)
	case errors.Is(err, backend.ErrInvalidRequest):
		writeError(w, http.StatusBadRequest, err)
	case backend.IsRateLimited(err):
		writeError(w, http.StatusTooManyRequests, err)
	default:
		writeError(w, http.StatusBadGateway, err)
	}
}

// Start serves on port until ctx is done, then shuts down gracefully
func (s *Server) Start(ctx context.Context, port int) error {
	addr := fmt.Sprintf(":%d", port)
	srv := &http.Server{
		Addr:              addr,
		Handler:           s.Handler(),
		ReadHeaderTimeout: 10 * time.Second,
	}

	errCh := make(chan error, 1)
	go func() {
		logging.Info("starting web server", "url", fmt.Sprintf("http://localhost%s", addr))
		errCh <- srv.ListenAndServe()
	}()

	select {
	case err := <-errCh:
		return err
	case <-ctx.Done():
	}

	shutdownCtx, cancel := context.WithTimeout(context.WithoutCancel(ctx), shutdownPeriod)
	defer cancel()
	logging.Info("shutting down web server")
	if err := s.publisher.Close(); err != nil {
		logging.Debug("publisher close failed", "error", err)
	}
	if err := srv.Shutdown(shutdownCtx); err != nil {
		return fmt.Errorf("shutdown: %w", err)
	}
	return nil
}
