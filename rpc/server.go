package rpc

import (
	"context"
	"io"
	"net/http"
	"strings"
	"time"

	"github.com/goccy/go-json"
	"github.com/golang-jwt/jwt/v5"
	"github.com/gorilla/mux"
	"github.com/rs/cors"
	"go.uber.org/zap"
)

// ServerConfig configures the HTTP JSON-RPC surface.
type ServerConfig struct {
	// MasterAPIKey, when set, is accepted as a bearer token without JWT
	// verification — a master-key fallback alongside per-caller tokens.
	MasterAPIKey string

	// JWTSigningKey, when set, enables bearer tokens signed with HS256
	// to be verified instead of compared directly.
	JWTSigningKey []byte
}

// Server exposes a Dispatcher over HTTP POST /rpc, plus GET /health.
type Server struct {
	dispatcher *Dispatcher
	config     ServerConfig
	logger     *zap.SugaredLogger
	router     *mux.Router
}

// NewServer builds a Server wrapping dispatcher behind gorilla/mux
// routing and rs/cors, with bearer-token auth on /rpc.
func NewServer(dispatcher *Dispatcher, config ServerConfig, logger *zap.SugaredLogger) *Server {
	s := &Server{dispatcher: dispatcher, config: config, logger: logger, router: mux.NewRouter()}

	s.router.HandleFunc("/rpc", s.authenticate(s.handleRPC)).Methods(http.MethodPost)
	s.router.HandleFunc("/health", s.handleHealthHTTP).Methods(http.MethodGet)

	return s
}

// Handler returns the CORS-wrapped http.Handler to listen with.
func (s *Server) Handler() http.Handler {
	c := cors.New(cors.Options{
		AllowedOrigins: []string{"*"},
		AllowedMethods: []string{http.MethodGet, http.MethodPost},
		AllowedHeaders: []string{"Authorization", "Content-Type"},
	})
	return c.Handler(s.router)
}

// authenticate requires a valid bearer token unless no MasterAPIKey and
// no JWTSigningKey are configured, leaving auth optional until a key is
// configured.
func (s *Server) authenticate(next http.HandlerFunc) http.HandlerFunc {
	return func(w http.ResponseWriter, r *http.Request) {
		if s.config.MasterAPIKey == "" && len(s.config.JWTSigningKey) == 0 {
			next(w, r)
			return
		}

		authHeader := r.Header.Get("Authorization")
		parts := strings.SplitN(authHeader, " ", 2)
		if len(parts) != 2 || !strings.EqualFold(parts[0], "bearer") {
			http.Error(w, "authorization header required", http.StatusUnauthorized)
			return
		}
		token := parts[1]

		if s.config.MasterAPIKey != "" && token == s.config.MasterAPIKey {
			next(w, r)
			return
		}

		if len(s.config.JWTSigningKey) > 0 {
			if _, err := jwt.Parse(token, func(t *jwt.Token) (any, error) {
				return s.config.JWTSigningKey, nil
			}, jwt.WithValidMethods([]string{"HS256"})); err == nil {
				next(w, r)
				return
			}
		}

		http.Error(w, "unauthorized", http.StatusUnauthorized)
	}
}

func (s *Server) handleRPC(w http.ResponseWriter, r *http.Request) {
	defer r.Body.Close()

	body, err := io.ReadAll(r.Body)
	if err != nil {
		writeJSON(w, http.StatusBadRequest, Response{JSONRPC: "2.0", Error: &ResponseError{Code: codeParseError, Message: "failed to read request body"}})
		return
	}

	var req Request
	if err := json.Unmarshal(body, &req); err != nil {
		writeJSON(w, http.StatusBadRequest, Response{JSONRPC: "2.0", Error: &ResponseError{Code: codeParseError, Message: "invalid JSON"}})
		return
	}

	ctx, cancel := context.WithTimeout(r.Context(), 30*time.Second)
	defer cancel()

	resp := s.dispatcher.Handle(ctx, req)
	writeJSON(w, http.StatusOK, resp)
}

func (s *Server) handleHealthHTTP(w http.ResponseWriter, r *http.Request) {
	writeJSON(w, http.StatusOK, map[string]string{"status": "ok"})
}

func writeJSON(w http.ResponseWriter, status int, body any) {
	w.Header().Set("Content-Type", "application/json")
	w.WriteHeader(status)
	_ = json.NewEncoder(w).Encode(body)
}
