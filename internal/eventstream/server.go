package eventstream

import (
	"context"
	"crypto/rand"
	"encoding/hex"
	"encoding/json"
	"net/http"
	"time"

	"github.com/coder/websocket"
	"go.uber.org/zap"

	"github.com/yahoo/ychaos/internal/server"
)

// Config configures the eventstream HTTP server. It mirrors
// config.ServerConfig's fields rather than importing that package
// directly, keeping eventstream independent of the engine's config
// loader.
type Config struct {
	Addr            string
	ReadTimeout     time.Duration
	WriteTimeout    time.Duration
	ShutdownTimeout time.Duration
}

// Server serves the eventstream Hub's live feed over a single
// "/events" websocket endpoint, plus a liveness probe.
type Server struct {
	hub     *Hub
	manager *server.Manager
	logger  *zap.Logger
}

// NewServer builds a Server that will broadcast hub's Events once
// Start is called.
func NewServer(hub *Hub, cfg Config, logger *zap.Logger) *Server {
	if logger == nil {
		logger = zap.NewNop()
	}
	s := &Server{hub: hub, logger: logger.With(zap.String("component", "eventstream_server"))}

	mux := http.NewServeMux()
	mux.HandleFunc("/healthz", s.handleHealthz)
	mux.HandleFunc("/events", s.handleEvents)

	handler := recoveryMiddleware(s.logger)(requestIDMiddleware()(securityHeadersMiddleware()(mux)))

	s.manager = server.NewManager(handler, server.Config{
		Addr:            cfg.Addr,
		ReadTimeout:     cfg.ReadTimeout,
		WriteTimeout:    cfg.WriteTimeout,
		IdleTimeout:     2 * cfg.ReadTimeout,
		MaxHeaderBytes:  1 << 20,
		ShutdownTimeout: cfg.ShutdownTimeout,
	}, logger)
	return s
}

// Start launches the HTTP listener in the background.
func (s *Server) Start() error {
	return s.manager.Start()
}

// Shutdown gracefully stops the listener, closing every connected
// websocket client.
func (s *Server) Shutdown(ctx context.Context) error {
	return s.manager.Shutdown(ctx)
}

func (s *Server) handleHealthz(w http.ResponseWriter, r *http.Request) {
	w.WriteHeader(http.StatusOK)
	_, _ = w.Write([]byte(`{"status":"ok"}`))
}

// handleEvents upgrades the request to a websocket and streams every
// Event the Hub broadcasts until the client disconnects.
func (s *Server) handleEvents(w http.ResponseWriter, r *http.Request) {
	conn, err := websocket.Accept(w, r, nil)
	if err != nil {
		s.logger.Warn("websocket accept failed", zap.Error(err))
		return
	}
	defer conn.CloseNow()

	c := newClient()
	s.hub.addClient(c)
	defer s.hub.removeClient(c)

	ctx := r.Context()
	for {
		evt, err := c.send.Receive(ctx)
		if err != nil {
			_ = conn.Close(websocket.StatusNormalClosure, "client context done")
			return
		}
		writeCtx, cancel := context.WithTimeout(ctx, 5*time.Second)
		err = wsjson(writeCtx, conn, evt)
		cancel()
		if err != nil {
			s.logger.Debug("websocket write failed, dropping client", zap.Error(err))
			return
		}
	}
}

func wsjson(ctx context.Context, conn *websocket.Conn, evt Event) error {
	data, err := json.Marshal(evt)
	if err != nil {
		return err
	}
	return conn.Write(ctx, websocket.MessageText, data)
}

func recoveryMiddleware(logger *zap.Logger) func(http.Handler) http.Handler {
	return func(next http.Handler) http.Handler {
		return http.HandlerFunc(func(w http.ResponseWriter, r *http.Request) {
			defer func() {
				if err := recover(); err != nil {
					logger.Error("panic recovered", zap.Any("error", err), zap.String("path", r.URL.Path))
					http.Error(w, `{"error":"internal server error"}`, http.StatusInternalServerError)
				}
			}()
			next.ServeHTTP(w, r)
		})
	}
}

func requestIDMiddleware() func(http.Handler) http.Handler {
	return func(next http.Handler) http.Handler {
		return http.HandlerFunc(func(w http.ResponseWriter, r *http.Request) {
			id := r.Header.Get("X-Request-ID")
			if id == "" {
				b := make([]byte, 16)
				_, _ = rand.Read(b)
				id = "req-" + hex.EncodeToString(b)
			}
			w.Header().Set("X-Request-ID", id)
			next.ServeHTTP(w, r)
		})
	}
}

func securityHeadersMiddleware() func(http.Handler) http.Handler {
	return func(next http.Handler) http.Handler {
		return http.HandlerFunc(func(w http.ResponseWriter, r *http.Request) {
			w.Header().Set("X-Frame-Options", "DENY")
			w.Header().Set("X-Content-Type-Options", "nosniff")
			w.Header().Set("Referrer-Policy", "strict-origin-when-cross-origin")
			next.ServeHTTP(w, r)
		})
	}
}
