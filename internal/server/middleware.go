package server

import (
	"bufio"
	"fmt"
	"net"
	"net/http"
	"strings"
	"time"

	"golang.org/x/time/rate"

	"github.com/ternarybob/ramus/internal/handlers"
	"github.com/ternarybob/ramus/internal/models"
)

// withMiddleware wraps the router with middleware chain
func (s *Server) withMiddleware(handler http.Handler) http.Handler {
	// Apply middleware in reverse order (last applied = first executed)
	handler = s.recoveryMiddleware(handler)
	handler = s.rateLimitMiddleware(handler)
	handler = s.corsMiddleware(handler)
	handler = s.loggingMiddleware(handler)
	return handler
}

// withConditionalMiddleware applies middleware but bypasses it for WebSocket routes
func (s *Server) withConditionalMiddleware(handler http.Handler) http.Handler {
	full := s.withMiddleware(handler)

	return http.HandlerFunc(func(w http.ResponseWriter, r *http.Request) {
		// Bypass middleware for WebSocket upgrade requests. The logging
		// wrapper would hold its response line until the connection
		// closes, and the upgraded connection must not be rate limited.
		if r.URL.Path == "/ws" {
			// Only apply CORS for WebSocket (needed for cross-origin)
			w.Header().Set("Access-Control-Allow-Origin", "*")
			w.Header().Set("Access-Control-Allow-Methods", "GET, POST, PUT, DELETE, OPTIONS")
			w.Header().Set("Access-Control-Allow-Headers", "Content-Type, Authorization")

			handler.ServeHTTP(w, r)
			return
		}

		// Apply full middleware chain for all other routes
		full.ServeHTTP(w, r)
	})
}

// loggingMiddleware logs HTTP requests and responses
func (s *Server) loggingMiddleware(next http.Handler) http.Handler {
	return http.HandlerFunc(func(w http.ResponseWriter, r *http.Request) {
		start := time.Now()

		// Log request with query parameters
		logEvent := s.app.Logger.Debug().
			Str("method", r.Method).
			Str("path", r.URL.Path).
			Str("remote", r.RemoteAddr)

		// Add query parameters if present
		if r.URL.RawQuery != "" {
			logEvent.Str("query", r.URL.RawQuery)
		}

		logEvent.Msg("HTTP request")

		// Create response writer wrapper to capture status code
		rw := &responseWriter{ResponseWriter: w, statusCode: http.StatusOK}

		// Call next handler
		next.ServeHTTP(rw, r)

		// Log response
		duration := time.Since(start)
		s.app.Logger.Debug().
			Str("method", r.Method).
			Str("path", r.URL.Path).
			Int("status", rw.statusCode).
			Str("duration", duration.String()).
			Msg("HTTP response")
	})
}

// corsMiddleware handles CORS headers for browser clients
func (s *Server) corsMiddleware(next http.Handler) http.Handler {
	return http.HandlerFunc(func(w http.ResponseWriter, r *http.Request) {
		// Allow all origins for local development
		// In production, restrict to specific origins
		w.Header().Set("Access-Control-Allow-Origin", "*")
		w.Header().Set("Access-Control-Allow-Methods", "GET, POST, PUT, DELETE, OPTIONS")
		w.Header().Set("Access-Control-Allow-Headers", "Content-Type, Authorization, Idempotency-Key")

		// Handle preflight requests
		if r.Method == "OPTIONS" {
			w.WriteHeader(http.StatusOK)
			return
		}

		next.ServeHTTP(w, r)
	})
}

// recoveryMiddleware recovers from panics and returns 500 error
func (s *Server) recoveryMiddleware(next http.Handler) http.Handler {
	return http.HandlerFunc(func(w http.ResponseWriter, r *http.Request) {
		defer func() {
			if err := recover(); err != nil {
				s.app.Logger.Error().
					Str("error", fmt.Sprintf("%v", err)).
					Str("path", r.URL.Path).
					Msg("Panic recovered")

				http.Error(w, "Internal server error", http.StatusInternalServerError)
			}
		}()

		next.ServeHTTP(w, r)
	})
}

// rateLimitMiddleware enforces a per-client token bucket sized by
// server.rate_limit and server.rate_burst. A rate limit of 0 disables
// the middleware entirely.
func (s *Server) rateLimitMiddleware(next http.Handler) http.Handler {
	if s.app.Config.Server.RateLimit <= 0 {
		return next
	}

	return http.HandlerFunc(func(w http.ResponseWriter, r *http.Request) {
		if !s.allowClient(clientIP(r)) {
			w.Header().Set("Retry-After", "1")
			handlers.WriteError(w, http.StatusTooManyRequests, "rate limit exceeded")
			return
		}
		next.ServeHTTP(w, r)
	})
}

// clientLimiter pairs a limiter with its last use so idle entries can
// be swept
type clientLimiter struct {
	limiter  *rate.Limiter
	lastSeen time.Time
}

const limiterIdleTimeout = 3 * time.Minute

// allowClient takes one token from the client's bucket, creating the
// bucket on first sight. Idle buckets are swept opportunistically so
// the map stays bounded by active clients.
func (s *Server) allowClient(client string) bool {
	now := time.Now()

	s.limitersMu.Lock()
	defer s.limitersMu.Unlock()

	if now.Sub(s.lastLimiterSweep) > limiterIdleTimeout {
		for key, entry := range s.limiters {
			if now.Sub(entry.lastSeen) > limiterIdleTimeout {
				delete(s.limiters, key)
			}
		}
		s.lastLimiterSweep = now
	}

	entry, ok := s.limiters[client]
	if !ok {
		burst := s.app.Config.Server.RateBurst
		if burst < 1 {
			burst = 1
		}
		entry = &clientLimiter{
			limiter: rate.NewLimiter(rate.Limit(s.app.Config.Server.RateLimit), burst),
		}
		s.limiters[client] = entry
	}
	entry.lastSeen = now

	return entry.limiter.Allow()
}

// clientIP strips the port from the remote address
func clientIP(r *http.Request) string {
	host, _, err := net.SplitHostPort(r.RemoteAddr)
	if err != nil {
		return r.RemoteAddr
	}
	return host
}

// requireScope authenticates the bearer token and checks it carries the
// scope before dispatching. Missing or invalid tokens are 401, valid
// tokens without the scope 403.
func (s *Server) requireScope(scope string, next http.HandlerFunc) http.HandlerFunc {
	return func(w http.ResponseWriter, r *http.Request) {
		claims, err := s.authenticate(r)
		if err != nil {
			handlers.WriteDomainError(w, err)
			return
		}
		if !claims.HasScope(scope) {
			handlers.WriteDomainError(w, &models.ScopeError{Scope: scope})
			return
		}
		next(w, r)
	}
}

// authenticate resolves the Authorization header to token claims
func (s *Server) authenticate(r *http.Request) (*models.TokenClaims, error) {
	header := r.Header.Get("Authorization")
	if header == "" {
		return nil, &models.AuthError{Message: "missing bearer token"}
	}

	raw := strings.TrimPrefix(header, "Bearer ")
	if raw == header || strings.TrimSpace(raw) == "" {
		return nil, &models.AuthError{Message: "authorization header must be a bearer token"}
	}

	return s.app.AuthService.VerifyToken(r.Context(), raw)
}

// idempotent guards a mutating handler with the idempotency key
// middleware so replays return the stored response
func (s *Server) idempotent(next http.HandlerFunc) http.HandlerFunc {
	return s.app.Idempotency.Wrap(next).ServeHTTP
}

// responseWriter wraps http.ResponseWriter to capture status code
type responseWriter struct {
	http.ResponseWriter
	statusCode int
}

func (rw *responseWriter) WriteHeader(code int) {
	rw.statusCode = code
	rw.ResponseWriter.WriteHeader(code)
}

// Hijack implements http.Hijacker interface for WebSocket support
func (rw *responseWriter) Hijack() (net.Conn, *bufio.ReadWriter, error) {
	if hijacker, ok := rw.ResponseWriter.(http.Hijacker); ok {
		return hijacker.Hijack()
	}
	return nil, nil, fmt.Errorf("responseWriter does not implement http.Hijacker")
}
