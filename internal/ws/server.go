package ws

import (
	"encoding/json"
	"fmt"
	"net/http"
	"net/url"
	"strings"
	"time"

	"github.com/gorilla/websocket"
	"go.uber.org/zap"

	"github.com/qwery/backend/internal/agent"
	"github.com/qwery/backend/internal/chat"
	"github.com/qwery/backend/internal/config"
	"github.com/qwery/backend/internal/stats"
)

// Server exposes the agent websocket endpoint and the JSON API around it.
type Server struct {
	config         *config.Config
	store          *chat.Store
	registry       *Registry
	manager        *Manager
	tracker        *stats.Tracker
	allowedOrigins map[string]bool
	allowedHosts   map[string]bool
	authToken      string
	log            *zap.Logger
}

func NewServer(cfg *config.Config, store *chat.Store, registry *Registry, manager *Manager, log *zap.Logger) *Server {
	s := &Server{
		config:         cfg,
		store:          store,
		registry:       registry,
		manager:        manager,
		allowedOrigins: make(map[string]bool),
		allowedHosts:   make(map[string]bool),
		authToken:      cfg.Server.AuthToken,
		log:            log,
	}

	for _, origin := range cfg.Server.AllowedOrigins {
		trimmed := strings.TrimSpace(origin)
		if trimmed == "" {
			continue
		}
		s.allowedOrigins[trimmed] = true
		if parsed, err := url.Parse(trimmed); err == nil && parsed.Host != "" {
			s.allowedHosts[parsed.Host] = true
		}
	}

	return s
}

// SetStatsTracker configures the tracker used by the /api/stats endpoint.
// Must be called before SetupRoutes.
func (s *Server) SetStatsTracker(tracker *stats.Tracker) {
	s.tracker = tracker
}

func (s *Server) SetupRoutes(mux *http.ServeMux) {
	mux.HandleFunc("/ws/agent/", s.handleAgentWS)
	mux.HandleFunc("/api/chats", s.handleChats)
	mux.HandleFunc("/api/stats", s.handleStats)
	mux.HandleFunc("/api/config", s.handleConfig)
}

// handleAgentWS serves /ws/agent/{project_id}/{chat_id}: one long-lived
// bidirectional stream per chat room.
func (s *Server) handleAgentWS(w http.ResponseWriter, r *http.Request) {
	if !s.authorize(r) {
		http.Error(w, "unauthorized", http.StatusUnauthorized)
		return
	}

	path := strings.TrimPrefix(r.URL.Path, "/ws/agent/")
	parts := strings.SplitN(path, "/", 2)
	if len(parts) != 2 || parts[0] == "" || parts[1] == "" || strings.Contains(parts[1], "/") {
		http.Error(w, "not found", http.StatusNotFound)
		return
	}
	projectID, err := url.PathUnescape(parts[0])
	if err != nil {
		http.Error(w, "invalid project id", http.StatusBadRequest)
		return
	}
	chatID, err := url.PathUnescape(parts[1])
	if err != nil {
		http.Error(w, "invalid chat id", http.StatusBadRequest)
		return
	}

	upgrader := websocket.Upgrader{
		CheckOrigin: s.checkOrigin,
	}
	conn, err := upgrader.Upgrade(w, r, nil)
	if err != nil {
		s.log.Warn("ws upgrade failed", zap.Error(err))
		return
	}

	key := chat.Key{ProjectID: projectID, ChatID: chatID}
	rc := agent.NewRequestContext(r.Header, r.Cookies())

	s.log.Info("client connected",
		zap.String("project_id", projectID),
		zap.String("chat_id", chatID),
		zap.String("remote", r.RemoteAddr))

	s.manager.Run(conn, key, rc)

	s.log.Info("client disconnected",
		zap.String("project_id", projectID),
		zap.String("chat_id", chatID),
		zap.String("remote", r.RemoteAddr))
}

type chatInfo struct {
	ProjectID   string     `json:"projectId"`
	ChatID      string     `json:"chatId"`
	Connections int        `json:"connections"`
	ConnectedAt *time.Time `json:"connectedAt,omitempty"` // oldest live connection
}

func (s *Server) handleChats(w http.ResponseWriter, r *http.Request) {
	if !s.authorize(r) {
		http.Error(w, "unauthorized", http.StatusUnauthorized)
		return
	}

	counts := s.registry.Counts()
	infos := make([]chatInfo, 0, s.store.Len())
	for _, key := range s.store.Keys() {
		info := chatInfo{
			ProjectID:   key.ProjectID,
			ChatID:      key.ChatID,
			Connections: counts[key],
		}
		if oldest, ok := s.registry.OldestConnected(key); ok {
			info.ConnectedAt = &oldest
		}
		infos = append(infos, info)
	}

	w.Header().Set("Content-Type", "application/json")
	json.NewEncoder(w).Encode(infos)
}

func (s *Server) handleStats(w http.ResponseWriter, r *http.Request) {
	if !s.authorize(r) {
		http.Error(w, "unauthorized", http.StatusUnauthorized)
		return
	}
	if s.tracker == nil {
		http.Error(w, "stats not available", http.StatusServiceUnavailable)
		return
	}

	total := 0
	for _, n := range s.registry.Counts() {
		total += n
	}

	w.Header().Set("Content-Type", "application/json")
	json.NewEncoder(w).Encode(s.tracker.Snapshot(s.store.Len(), total))
}

func (s *Server) handleConfig(w http.ResponseWriter, r *http.Request) {
	if !s.authorize(r) {
		http.Error(w, "unauthorized", http.StatusUnauthorized)
		return
	}

	w.Header().Set("Content-Type", "application/json")
	json.NewEncoder(w).Encode(s.config.Session)
}

func (s *Server) authorize(r *http.Request) bool {
	if s.authToken == "" {
		return true
	}

	if r.URL.Query().Get("token") == s.authToken {
		return true
	}

	if r.Header.Get("X-Qwery-Token") == s.authToken {
		return true
	}

	auth := r.Header.Get("Authorization")
	if strings.HasPrefix(auth, "Bearer ") && strings.TrimPrefix(auth, "Bearer ") == s.authToken {
		return true
	}

	return false
}

func (s *Server) checkOrigin(r *http.Request) bool {
	origin := r.Header.Get("Origin")
	if origin == "" {
		return true
	}

	if len(s.allowedOrigins) > 0 {
		if s.allowedOrigins[origin] {
			return true
		}
		if parsed, err := url.Parse(origin); err == nil && parsed.Host != "" {
			return s.allowedHosts[parsed.Host]
		}
		return false
	}

	parsed, err := url.Parse(origin)
	if err != nil {
		return false
	}

	host := parsed.Host
	if host == "" {
		return false
	}

	if host == r.Host {
		return true
	}

	if strings.HasPrefix(host, "localhost:") || host == "localhost" {
		return true
	}
	if strings.HasPrefix(host, "127.0.0.1:") || host == "127.0.0.1" {
		return true
	}
	if strings.HasPrefix(host, "[::1]:") || host == "::1" {
		return true
	}

	return false
}

// securityHeaders wraps a handler with the standard response headers for the
// JSON API surface.
func securityHeaders(next http.Handler) http.Handler {
	return http.HandlerFunc(func(w http.ResponseWriter, r *http.Request) {
		w.Header().Set("X-Content-Type-Options", "nosniff")
		w.Header().Set("X-Frame-Options", "DENY")
		w.Header().Set("X-XSS-Protection", "1; mode=block")
		w.Header().Set("Content-Security-Policy", "default-src 'self'")
		next.ServeHTTP(w, r)
	})
}

// ListenAndServe serves mux on host:port with security headers applied.
func ListenAndServe(host string, port int, mux *http.ServeMux, log *zap.Logger) error {
	addr := fmt.Sprintf("%s:%d", host, port)
	log.Info("server listening", zap.String("addr", addr))
	return http.ListenAndServe(addr, securityHeaders(mux))
}
