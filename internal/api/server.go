package api

import (
	"context"
	"encoding/json"
	"errors"
	"fmt"
	"image"
	"io"
	"net/http"
	"strconv"
	"time"

	"github.com/gorilla/mux"
	"github.com/gorilla/websocket"
	"github.com/livelyd/livelyd/internal/config"
	"github.com/livelyd/livelyd/internal/desktop"
	"github.com/livelyd/livelyd/internal/display"
	"github.com/livelyd/livelyd/internal/ipc"
	"github.com/livelyd/livelyd/internal/logger"
	"github.com/livelyd/livelyd/internal/metrics"
	"github.com/livelyd/livelyd/internal/output"
	"github.com/livelyd/livelyd/internal/player"
	"github.com/livelyd/livelyd/internal/window"
	"github.com/rs/zerolog"
)

// Version is reported by the health endpoint
const Version = "0.1.0"

const (
	// screenshotTimeout bounds a screenshot request
	screenshotTimeout = 10 * time.Second
	// defaultPreviewFPS is the preview rate without ?fps=
	defaultPreviewFPS = 5
)

// Server represents the HTTP API server
type Server struct {
	router    *mux.Router
	desktop   *desktop.Manager
	configMgr *config.Manager
	upgrader  websocket.Upgrader
	http      *http.Server
	log       *zerolog.Logger
}

// NewServer creates a new API server
func NewServer(desktopMgr *desktop.Manager, configMgr *config.Manager) *Server {
	s := &Server{
		router:    mux.NewRouter(),
		desktop:   desktopMgr,
		configMgr: configMgr,
		upgrader: websocket.Upgrader{
			CheckOrigin: func(r *http.Request) bool {
				return true // local control surface
			},
		},
		log: logger.WithComponent("api"),
	}

	s.setupRoutes()
	return s
}

// setupRoutes configures the API routes
func (s *Server) setupRoutes() {
	api := s.router.PathPrefix("/api").Subrouter()

	// Wallpaper sessions
	api.HandleFunc("/sessions", s.handleListSessions).Methods("GET")
	api.HandleFunc("/sessions", s.handleSetWallpaper).Methods("POST")
	api.HandleFunc("/sessions", s.handleCloseAll).Methods("DELETE")
	api.HandleFunc("/sessions/{id}", s.handleGetSession).Methods("GET")
	api.HandleFunc("/sessions/{id}", s.handleCloseSession).Methods("DELETE")
	api.HandleFunc("/sessions/{id}/{action:pause|play|reload}", s.handleSessionAction).Methods("POST")
	api.HandleFunc("/sessions/{id}/volume", s.handleVolume).Methods("PUT")
	api.HandleFunc("/sessions/{id}/position", s.handlePosition).Methods("PUT")
	api.HandleFunc("/sessions/{id}/screenshot", s.handleScreenshot).Methods("POST")
	api.HandleFunc("/sessions/{id}/message", s.handleMessage).Methods("POST")
	api.HandleFunc("/sessions/{id}/preview", s.handlePreview).Methods("GET")

	// All sessions at once
	api.HandleFunc("/playback/{action:pause|play}", s.handlePlayback).Methods("POST")

	api.HandleFunc("/displays", s.handleDisplays).Methods("GET")
	api.HandleFunc("/config", s.handleGetConfig).Methods("GET")
	api.HandleFunc("/events", s.handleEvents)
	api.HandleFunc("/health", s.handleHealth).Methods("GET")

	s.router.Handle("/metrics", metrics.Handler())
}

// Handler returns the HTTP handler with CORS applied
func (s *Server) Handler() http.Handler {
	return s.enableCORS(s.router)
}

// Start serves the API until Shutdown
func (s *Server) Start(port int) error {
	addr := fmt.Sprintf("127.0.0.1:%d", port)
	s.http = &http.Server{
		Addr:              addr,
		Handler:           s.Handler(),
		ReadHeaderTimeout: 10 * time.Second,
	}
	s.log.Info().Str("addr", "http://"+addr).Msg("Starting API server")

	if err := s.http.ListenAndServe(); err != nil && !errors.Is(err, http.ErrServerClosed) {
		return err
	}
	return nil
}

// Shutdown stops the HTTP server gracefully
func (s *Server) Shutdown(ctx context.Context) error {
	if s.http == nil {
		return nil
	}
	return s.http.Shutdown(ctx)
}

// enableCORS adds CORS headers
func (s *Server) enableCORS(next http.Handler) http.Handler {
	return http.HandlerFunc(func(w http.ResponseWriter, r *http.Request) {
		w.Header().Set("Access-Control-Allow-Origin", "*")
		w.Header().Set("Access-Control-Allow-Methods", "GET, POST, PUT, DELETE, OPTIONS")
		w.Header().Set("Access-Control-Allow-Headers", "Content-Type")

		if r.Method == "OPTIONS" {
			w.WriteHeader(http.StatusOK)
			return
		}

		next.ServeHTTP(w, r)
	})
}

func writeJSON(w http.ResponseWriter, status int, v any) {
	w.Header().Set("Content-Type", "application/json")
	w.WriteHeader(status)
	_ = json.NewEncoder(w).Encode(v)
}

func writeStatus(w http.ResponseWriter) {
	writeJSON(w, http.StatusOK, map[string]string{"status": "success"})
}

// writeError maps domain errors to HTTP status codes
func (s *Server) writeError(w http.ResponseWriter, err error) {
	status := http.StatusInternalServerError
	switch {
	case errors.Is(err, desktop.ErrSessionNotFound), errors.Is(err, display.ErrDisplayNotFound):
		status = http.StatusNotFound
	case errors.Is(err, player.ErrScreenshotPending):
		status = http.StatusConflict
	case errors.Is(err, player.ErrCaptureUnavailable), errors.Is(err, window.ErrWindowResolution):
		status = http.StatusServiceUnavailable
	case errors.Is(err, desktop.ErrShutdown):
		status = http.StatusServiceUnavailable
	case errors.Is(err, player.ErrProcessNeverInitialized), errors.Is(err, context.DeadlineExceeded):
		status = http.StatusBadGateway
	}
	if status == http.StatusInternalServerError {
		s.log.Error().Err(err).Msg("Request failed")
	}
	http.Error(w, err.Error(), status)
}

func (s *Server) session(w http.ResponseWriter, r *http.Request) (desktop.Session, bool) {
	sess, err := s.desktop.Get(mux.Vars(r)["id"])
	if err != nil {
		s.writeError(w, err)
		return nil, false
	}
	return sess, true
}

// HTTP Handlers

func (s *Server) handleListSessions(w http.ResponseWriter, r *http.Request) {
	writeJSON(w, http.StatusOK, s.desktop.List())
}

func (s *Server) handleSetWallpaper(w http.ResponseWriter, r *http.Request) {
	var req desktop.Request
	if err := json.NewDecoder(r.Body).Decode(&req); err != nil {
		http.Error(w, err.Error(), http.StatusBadRequest)
		return
	}
	if _, err := player.ParseKind(req.Kind); err != nil {
		http.Error(w, err.Error(), http.StatusBadRequest)
		return
	}
	if req.Path == "" {
		http.Error(w, "path is required", http.StatusBadRequest)
		return
	}

	info, err := s.desktop.SetWallpaper(r.Context(), req)
	if err != nil {
		s.writeError(w, err)
		return
	}
	writeJSON(w, http.StatusCreated, info)
}

func (s *Server) handleCloseAll(w http.ResponseWriter, r *http.Request) {
	s.desktop.CloseAll()
	writeStatus(w)
}

func (s *Server) handleGetSession(w http.ResponseWriter, r *http.Request) {
	info, err := s.desktop.Info(mux.Vars(r)["id"])
	if err != nil {
		s.writeError(w, err)
		return
	}
	writeJSON(w, http.StatusOK, info)
}

func (s *Server) handleCloseSession(w http.ResponseWriter, r *http.Request) {
	if err := s.desktop.Close(mux.Vars(r)["id"]); err != nil {
		s.writeError(w, err)
		return
	}
	writeStatus(w)
}

func (s *Server) handleSessionAction(w http.ResponseWriter, r *http.Request) {
	sess, ok := s.session(w, r)
	if !ok {
		return
	}

	switch mux.Vars(r)["action"] {
	case "pause":
		sess.Pause()
	case "play":
		sess.Play()
	case "reload":
		sess.Reload()
	}
	writeStatus(w)
}

func (s *Server) handlePlayback(w http.ResponseWriter, r *http.Request) {
	if mux.Vars(r)["action"] == "pause" {
		s.desktop.PauseAll()
	} else {
		s.desktop.PlayAll()
	}
	writeStatus(w)
}

func (s *Server) handleVolume(w http.ResponseWriter, r *http.Request) {
	var req struct {
		Volume *int `json:"volume"`
	}
	if err := json.NewDecoder(r.Body).Decode(&req); err != nil || req.Volume == nil {
		http.Error(w, "volume is required", http.StatusBadRequest)
		return
	}

	sess, ok := s.session(w, r)
	if !ok {
		return
	}
	sess.SetVolume(*req.Volume)
	writeStatus(w)
}

func (s *Server) handlePosition(w http.ResponseWriter, r *http.Request) {
	var req struct {
		Position *float64 `json:"position"`
		Relative bool     `json:"relative"`
	}
	if err := json.NewDecoder(r.Body).Decode(&req); err != nil || req.Position == nil {
		http.Error(w, "position is required", http.StatusBadRequest)
		return
	}

	sess, ok := s.session(w, r)
	if !ok {
		return
	}
	kind := ipc.AbsolutePercent
	if req.Relative {
		kind = ipc.RelativePercent
	}
	sess.SetPlaybackPos(*req.Position, kind)
	writeStatus(w)
}

func (s *Server) handleScreenshot(w http.ResponseWriter, r *http.Request) {
	var req struct {
		Path string `json:"path"`
	}
	if err := json.NewDecoder(r.Body).Decode(&req); err != nil || req.Path == "" {
		http.Error(w, "path is required", http.StatusBadRequest)
		return
	}

	sess, ok := s.session(w, r)
	if !ok {
		return
	}

	ctx, cancel := context.WithTimeout(r.Context(), screenshotTimeout)
	defer cancel()

	success, err := sess.Screenshot(ctx, req.Path)
	if err != nil {
		s.writeError(w, err)
		return
	}
	writeJSON(w, http.StatusOK, map[string]any{"success": success, "path": req.Path})
}

// handleMessage forwards a raw player message, e.g. a property change
func (s *Server) handleMessage(w http.ResponseWriter, r *http.Request) {
	body, err := io.ReadAll(io.LimitReader(r.Body, 64<<10))
	if err != nil {
		http.Error(w, err.Error(), http.StatusBadRequest)
		return
	}
	msg, err := ipc.Decode(body)
	if err != nil {
		http.Error(w, err.Error(), http.StatusBadRequest)
		return
	}

	sess, ok := s.session(w, r)
	if !ok {
		return
	}
	sess.SendMessage(msg)
	writeStatus(w)
}

// handlePreview streams the session's window as MJPEG, ?fps= sets the rate
func (s *Server) handlePreview(w http.ResponseWriter, r *http.Request) {
	id := mux.Vars(r)["id"]
	if _, err := s.desktop.Info(id); err != nil {
		s.writeError(w, err)
		return
	}

	fps := defaultPreviewFPS
	if v := r.URL.Query().Get("fps"); v != "" {
		n, err := strconv.Atoi(v)
		if err != nil || n <= 0 {
			http.Error(w, "invalid fps", http.StatusBadRequest)
			return
		}
		fps = n
	}

	// Fail before the multipart headers go out
	first, err := s.desktop.Frame(id)
	if err != nil {
		s.writeError(w, err)
		return
	}

	source := func() (*image.RGBA, error) {
		if first != nil {
			frame := first
			first = nil
			return frame, nil
		}
		return s.desktop.Frame(id)
	}
	if err := output.ServeMJPEG(r.Context(), w, fps, source); err != nil {
		s.log.Debug().Err(err).Str("session", id).Msg("Preview stream ended")
	}
}

func (s *Server) handleDisplays(w http.ResponseWriter, r *http.Request) {
	displays, err := s.desktop.Displays()
	if err != nil {
		s.writeError(w, err)
		return
	}
	writeJSON(w, http.StatusOK, displays)
}

func (s *Server) handleGetConfig(w http.ResponseWriter, r *http.Request) {
	writeJSON(w, http.StatusOK, s.configMgr.Get())
}

// handleEvents streams session events over a websocket
func (s *Server) handleEvents(w http.ResponseWriter, r *http.Request) {
	conn, err := s.upgrader.Upgrade(w, r, nil)
	if err != nil {
		s.log.Warn().Err(err).Msg("WebSocket upgrade error")
		return
	}
	defer conn.Close()

	ctx, cancel := context.WithCancel(r.Context())
	defer cancel()
	events := s.desktop.Events().Subscribe(ctx)

	// Detect client disconnects
	go func() {
		defer cancel()
		for {
			if _, _, err := conn.ReadMessage(); err != nil {
				return
			}
		}
	}()

	for ev := range events {
		if err := conn.WriteJSON(ev); err != nil {
			s.log.Debug().Err(err).Msg("WebSocket write error")
			return
		}
	}
}

func (s *Server) handleHealth(w http.ResponseWriter, r *http.Request) {
	writeJSON(w, http.StatusOK, map[string]any{
		"status":   "healthy",
		"version":  Version,
		"sessions": len(s.desktop.List()),
	})
}
