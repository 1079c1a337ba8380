// Package api implements the HTTP surface over internal/dispatcher:
// gorilla/mux routing, request validation, CORS, and rate limiting — a
// thin shell that delegates everything substantive to the core engine.
package api

import (
	"encoding/base64"
	"encoding/json"
	"net/http"
	"time"

	"github.com/go-playground/validator/v10"
	"github.com/google/uuid"
	"github.com/gorilla/mux"
	"github.com/rs/zerolog/log"

	"github.com/aegiswm/watermark/internal/api/ratelimit"
	"github.com/aegiswm/watermark/internal/dispatcher"
	"github.com/aegiswm/watermark/internal/security"
)

// Server wires the dispatcher to an HTTP router.
type Server struct {
	dispatcher *dispatcher.Dispatcher
	keys       *security.KeyManager
	limiter    ratelimit.Limiter
	validate   *validator.Validate
	corsOrigin string
}

// NewServer builds a Server. corsOrigin controls Access-Control-Allow-Origin;
// "*" is the permissive default.
func NewServer(d *dispatcher.Dispatcher, keys *security.KeyManager, limiter ratelimit.Limiter, corsOrigin string) *Server {
	if corsOrigin == "" {
		corsOrigin = "*"
	}
	return &Server{
		dispatcher: d,
		keys:       keys,
		limiter:    limiter,
		validate:   validator.New(),
		corsOrigin: corsOrigin,
	}
}

// Router builds the gorilla/mux router with the full middleware chain.
func (s *Server) Router() *mux.Router {
	r := mux.NewRouter()
	r.Use(s.requestIDMiddleware)
	r.Use(s.loggingMiddleware)
	r.Use(s.corsMiddleware)
	r.Use(s.rateLimitMiddleware)

	r.HandleFunc("/healthz", s.handleHealth).Methods(http.MethodGet)
	r.HandleFunc("/api/watermark", s.handleWatermark).Methods(http.MethodPost)
	r.HandleFunc("/api/verify", s.handleVerify).Methods(http.MethodPost)
	r.HandleFunc("/api/registry", s.handleRegistryStats).Methods(http.MethodGet)
	r.HandleFunc("/api/registry/entries", s.handleRegistryEntries).Methods(http.MethodGet)
	r.HandleFunc("/api/registry/lookup", s.handleRegistryLookup).Methods(http.MethodPost)
	r.HandleFunc("/api/registry/{wm_id}", s.handleRegistryByID).Methods(http.MethodGet)

	r.HandleFunc("/api/security/keys", s.handleIssueKey).Methods(http.MethodPost)
	r.HandleFunc("/api/security/keys", s.handleListKeys).Methods(http.MethodGet)
	r.HandleFunc("/api/security/keys/{key_id}/revoke", s.handleRevokeKey).Methods(http.MethodPost)
	r.HandleFunc("/api/security/audit", s.handleSecurityAudit).Methods(http.MethodPost)
	r.HandleFunc("/api/security/certificate", s.handleIssueCertificate).Methods(http.MethodPost)
	r.HandleFunc("/api/security/certificate/verify", s.handleVerifyCertificate).Methods(http.MethodPost)

	return r
}

type requestIDKey struct{}

func (s *Server) requestIDMiddleware(next http.Handler) http.Handler {
	return http.HandlerFunc(func(w http.ResponseWriter, r *http.Request) {
		id := uuid.NewString()
		w.Header().Set("X-Request-ID", id)
		next.ServeHTTP(w, r)
	})
}

func (s *Server) loggingMiddleware(next http.Handler) http.Handler {
	return http.HandlerFunc(func(w http.ResponseWriter, r *http.Request) {
		start := time.Now()
		next.ServeHTTP(w, r)
		log.Info().
			Str("method", r.Method).
			Str("path", r.URL.Path).
			Dur("duration", time.Since(start)).
			Msg("request handled")
	})
}

func (s *Server) corsMiddleware(next http.Handler) http.Handler {
	return http.HandlerFunc(func(w http.ResponseWriter, r *http.Request) {
		w.Header().Set("Access-Control-Allow-Origin", s.corsOrigin)
		w.Header().Set("Access-Control-Allow-Methods", "GET, POST")
		w.Header().Set("Access-Control-Allow-Headers", "*")
		if r.Method == http.MethodOptions {
			w.WriteHeader(http.StatusNoContent)
			return
		}
		next.ServeHTTP(w, r)
	})
}

func (s *Server) rateLimitMiddleware(next http.Handler) http.Handler {
	return http.HandlerFunc(func(w http.ResponseWriter, r *http.Request) {
		if s.limiter == nil {
			next.ServeHTTP(w, r)
			return
		}
		key := r.Header.Get("X-API-Key")
		if key == "" {
			key = r.RemoteAddr
		}
		allowed, err := s.limiter.Allow(r.Context(), key)
		if err != nil {
			log.Error().Err(err).Msg("rate limiter error")
			next.ServeHTTP(w, r)
			return
		}
		if !allowed {
			writeError(w, http.StatusTooManyRequests, "rate limit exceeded")
			return
		}
		next.ServeHTTP(w, r)
	})
}

func (s *Server) handleHealth(w http.ResponseWriter, _ *http.Request) {
	writeJSON(w, http.StatusOK, map[string]string{"status": "healthy"})
}

func writeJSON(w http.ResponseWriter, status int, v interface{}) {
	w.Header().Set("Content-Type", "application/json")
	w.WriteHeader(status)
	if err := json.NewEncoder(w).Encode(v); err != nil {
		log.Error().Err(err).Msg("failed to encode JSON response")
	}
}

func writeError(w http.ResponseWriter, status int, message string) {
	writeJSON(w, status, map[string]string{"error": message})
}

// rawBytes decodes the request's data field the way the original
// prototype does: text is UTF-8 as-is, every other modality is base64.
func rawBytes(dataType, data string) ([]byte, error) {
	if dataType == "text" {
		return []byte(data), nil
	}
	return base64.StdEncoding.DecodeString(data)
}
