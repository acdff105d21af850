package ws

import (
	"context"
	"encoding/json"
	"errors"
	"fmt"
	"log/slog"
	"net"
	"net/http"
	"net/url"
	"strconv"
	"strings"
	"time"

	"github.com/go-chi/chi/v5"
	"github.com/gorilla/websocket"

	"github.com/osd-bridge/osdbridge/internal/bridge"
	"github.com/osd-bridge/osdbridge/internal/hub"
	"github.com/osd-bridge/osdbridge/internal/state"
)

const maxCommandBytes = 4 << 10

// Commander accepts commands for a named subsystem.
type Commander interface {
	Enqueue(subsystem string, cmd bridge.Command) error
}

type Server struct {
	store          *state.Store
	broadcaster    *Broadcaster
	commander      Commander
	allowedOrigins map[string]bool
	allowedHosts   map[string]bool
	authToken      string
	logger         *slog.Logger
}

func NewServer(store *state.Store, broadcaster *Broadcaster, commander Commander, allowedOrigins []string, authToken string, logger *slog.Logger) *Server {
	if logger == nil {
		logger = slog.Default()
	}
	s := &Server{
		store:          store,
		broadcaster:    broadcaster,
		commander:      commander,
		allowedOrigins: make(map[string]bool),
		allowedHosts:   make(map[string]bool),
		authToken:      authToken,
		logger:         logger,
	}

	for _, origin := range allowedOrigins {
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

// Routes returns the HTTP handler for the whole API.
func (s *Server) Routes() http.Handler {
	r := chi.NewRouter()
	r.Use(securityHeaders)
	r.Get("/healthz", s.handleHealthz)
	r.Group(func(r chi.Router) {
		r.Use(s.requireAuth)
		r.Get("/ws", s.handleWS)
		r.Get("/api/state", s.handleState)
		r.Get("/api/subsystems/{name}", s.handleSubsystem)
		r.Post("/api/subsystems/{name}/commands", s.handleCommand)
	})
	return r
}

func securityHeaders(next http.Handler) http.Handler {
	return http.HandlerFunc(func(w http.ResponseWriter, r *http.Request) {
		h := w.Header()
		h.Set("X-Content-Type-Options", "nosniff")
		h.Set("X-Frame-Options", "DENY")
		h.Set("X-XSS-Protection", "1; mode=block")
		h.Set("Content-Security-Policy", "default-src 'self'")
		next.ServeHTTP(w, r)
	})
}

func (s *Server) requireAuth(next http.Handler) http.Handler {
	return http.HandlerFunc(func(w http.ResponseWriter, r *http.Request) {
		if !s.authorize(r) {
			writeError(w, http.StatusUnauthorized, "unauthorized")
			return
		}
		next.ServeHTTP(w, r)
	})
}

func (s *Server) handleWS(w http.ResponseWriter, r *http.Request) {
	codec, ok := CodecByName(r.URL.Query().Get("encoding"))
	if !ok {
		writeError(w, http.StatusBadRequest, "unknown encoding")
		return
	}

	upgrader := websocket.Upgrader{
		CheckOrigin: s.checkOrigin,
	}
	conn, err := upgrader.Upgrade(w, r, nil)
	if err != nil {
		s.logger.Warn("ws upgrade failed", "remote", r.RemoteAddr, "error", err)
		return
	}

	c, err := s.broadcaster.AddClient(conn, codec)
	if err != nil {
		conn.WriteControl(websocket.CloseMessage,
			websocket.FormatCloseMessage(websocket.CloseTryAgainLater, err.Error()),
			time.Now().Add(writeWait))
		conn.Close()
		s.logger.Warn("ws client rejected", "remote", r.RemoteAddr, "error", err)
		return
	}
	s.logger.Info("ws client connected", "remote", r.RemoteAddr, "encoding", codec.Name())

	go s.readPump(c, r.RemoteAddr)
}

func (s *Server) readPump(c *client, remote string) {
	defer func() {
		s.broadcaster.RemoveClient(c)
		s.logger.Info("ws client disconnected", "remote", remote)
	}()

	c.conn.SetReadLimit(maxCommandBytes)
	c.conn.SetReadDeadline(time.Now().Add(pongWait))
	c.conn.SetPongHandler(func(string) error {
		return c.conn.SetReadDeadline(time.Now().Add(pongWait))
	})

	for {
		_, data, err := c.conn.ReadMessage()
		if err != nil {
			return
		}
		c.conn.SetReadDeadline(time.Now().Add(pongWait))

		var msg inbound
		if err := c.codec.Unmarshal(data, &msg); err != nil {
			s.broadcaster.Reply(c, errorMessage("malformed message: "+err.Error(), ""))
			continue
		}
		if msg.Type != MsgCommand {
			s.broadcaster.Reply(c, errorMessage(fmt.Sprintf("unexpected message type %q", msg.Type), msg.Payload.Ref))
			continue
		}
		if _, err := s.submit(msg.Payload.Subsystem, msg.Payload); err != nil {
			s.broadcaster.Reply(c, errorMessage(err.Error(), msg.Payload.Ref))
		}
	}
}

// submit enqueues p and returns the HTTP status describing the outcome.
func (s *Server) submit(subsystem string, p CommandPayload) (int, error) {
	cmd, err := p.Command()
	if err != nil {
		return http.StatusBadRequest, err
	}
	if err := s.commander.Enqueue(subsystem, cmd); err != nil {
		switch {
		case errors.Is(err, hub.ErrUnknownSubsystem):
			return http.StatusNotFound, err
		case errors.Is(err, bridge.ErrQueueClosed):
			return http.StatusServiceUnavailable, err
		default:
			return http.StatusInternalServerError, err
		}
	}
	s.logger.Debug("command accepted", "subsystem", subsystem, "command", cmd.String())
	return http.StatusAccepted, nil
}

func errorMessage(text, ref string) WSMessage {
	return WSMessage{Type: MsgError, Payload: ErrorPayload{Message: text, Ref: ref}}
}

func (s *Server) handleState(w http.ResponseWriter, r *http.Request) {
	writeJSON(w, http.StatusOK, s.store.Snapshot())
}

func (s *Server) handleSubsystem(w http.ResponseWriter, r *http.Request) {
	sub, ok := s.store.Subsystem(chi.URLParam(r, "name"))
	if !ok {
		writeError(w, http.StatusNotFound, "unknown subsystem")
		return
	}
	writeJSON(w, http.StatusOK, sub)
}

func (s *Server) handleCommand(w http.ResponseWriter, r *http.Request) {
	name := chi.URLParam(r, "name")

	var p CommandPayload
	dec := json.NewDecoder(http.MaxBytesReader(w, r.Body, maxCommandBytes))
	dec.DisallowUnknownFields()
	if err := dec.Decode(&p); err != nil {
		writeError(w, http.StatusBadRequest, "invalid request body: "+err.Error())
		return
	}
	if p.Subsystem != "" && p.Subsystem != name {
		writeError(w, http.StatusBadRequest, "subsystem in body does not match path")
		return
	}

	status, err := s.submit(name, p)
	if err != nil {
		writeError(w, status, err.Error())
		return
	}
	writeJSON(w, status, map[string]string{"status": "accepted"})
}

func (s *Server) handleHealthz(w http.ResponseWriter, r *http.Request) {
	health := s.store.Health()
	status := http.StatusOK
	for _, h := range health {
		if h.Status == state.StatusFailed {
			status = http.StatusServiceUnavailable
			break
		}
	}
	writeJSON(w, status, HealthPayload{Subsystems: health})
}

func writeJSON(w http.ResponseWriter, code int, v any) {
	w.Header().Set("Content-Type", "application/json")
	w.WriteHeader(code)
	_ = json.NewEncoder(w).Encode(v)
}

func writeError(w http.ResponseWriter, code int, message string) {
	writeJSON(w, code, ErrorPayload{Message: message})
}

func (s *Server) authorize(r *http.Request) bool {
	if s.authToken == "" {
		return true
	}

	if r.URL.Query().Get("token") == s.authToken {
		return true
	}

	if r.Header.Get("X-OSD-Bridge-Token") == s.authToken {
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

	hostname := parsed.Hostname()
	return hostname == "localhost" || hostname == "127.0.0.1" || hostname == "::1"
}

// ListenAndServe serves handler until ctx is cancelled, then shuts down
// gracefully.
func ListenAndServe(ctx context.Context, host string, port int, handler http.Handler, logger *slog.Logger) error {
	addr := net.JoinHostPort(host, strconv.Itoa(port))
	srv := &http.Server{
		Addr:              addr,
		Handler:           handler,
		ReadHeaderTimeout: 10 * time.Second,
	}

	errc := make(chan error, 1)
	go func() {
		logger.Info("server listening", "addr", addr)
		errc <- srv.ListenAndServe()
	}()

	select {
	case err := <-errc:
		return err
	case <-ctx.Done():
		shutdownCtx, cancel := context.WithTimeout(context.Background(), 5*time.Second)
		defer cancel()
		if err := srv.Shutdown(shutdownCtx); err != nil {
			return fmt.Errorf("shutting down server: %w", err)
		}
		return nil
	}
}
