package api

import (
	"context"
	"database/sql"
	"errors"
	"net/http"
	"strconv"
	"strings"
	"time"

	"github.com/go-chi/chi/v5"

	"github.com/intermernet/runtracker/internal/auth"
	"github.com/intermernet/runtracker/internal/database"
	"github.com/intermernet/runtracker/internal/logging"
	"github.com/intermernet/runtracker/internal/metrics"
)

type contextKey string

// userContextKey holds the authenticated user's ID.
const userContextKey = contextKey("userID")

const requestIDHeader = "X-Request-ID"

// authMiddleware requires a valid JWT from the Authorization header (or the
// `token` query parameter) and puts the user ID into the request context.
func (s *Server) authMiddleware(next http.Handler) http.Handler {
	return http.HandlerFunc(func(w http.ResponseWriter, r *http.Request) {
		tokenString := ""

		headerParts := strings.Split(r.Header.Get("Authorization"), " ")
		if len(headerParts) == 2 && strings.ToLower(headerParts[0]) == "bearer" {
			tokenString = headerParts[1]
		}
		if tokenString == "" {
			tokenString = r.URL.Query().Get("token")
		}
		if tokenString == "" {
			s.errorJSON(w, errors.New("authorization token is required"), http.StatusUnauthorized)
			return
		}

		claims, err := auth.ParseSessionToken(tokenString, s.config.Security.JWTSecret)
		if err != nil {
			s.errorJSON(w, errors.New("invalid or expired token"), http.StatusUnauthorized)
			return
		}

		ctx := context.WithValue(r.Context(), userContextKey, claims.UserID)
		next.ServeHTTP(w, r.WithContext(ctx))
	})
}

// getUserIDFromContext returns the ID injected by authMiddleware.
func (s *Server) getUserIDFromContext(r *http.Request) (int64, error) {
	userID, ok := r.Context().Value(userContextKey).(int64)
	if !ok {
		return 0, errors.New("could not retrieve user ID from context")
	}
	return userID, nil
}

// currentUser loads the authenticated user. It writes the error response
// itself and returns nil when the user cannot be loaded.
func (s *Server) currentUser(w http.ResponseWriter, r *http.Request) *database.User {
	userID, err := s.getUserIDFromContext(r)
	if err != nil {
		s.serverErrorJSON(w, r, err)
		return nil
	}
	user, err := s.db.GetUserByID(s.db.GetMainDB(), userID)
	if errors.Is(err, sql.ErrNoRows) {
		// Valid token for a deleted account.
		s.errorJSON(w, errors.New("user not found"), http.StatusUnauthorized)
		return nil
	}
	if err != nil {
		s.serverErrorJSON(w, r, err)
		return nil
	}
	return user
}

// requestIDMiddleware tags each request with an ID, reusing the caller's
// X-Request-ID when present.
func requestIDMiddleware(next http.Handler) http.Handler {
	return http.HandlerFunc(func(w http.ResponseWriter, r *http.Request) {
		id := r.Header.Get(requestIDHeader)
		if id == "" || len(id) > 128 {
			id = logging.NewRequestID()
		}
		w.Header().Set(requestIDHeader, id)
		next.ServeHTTP(w, r.WithContext(logging.ContextWithRequestID(r.Context(), id)))
	})
}

// statusRecorder captures the status code written by a handler.
type statusRecorder struct {
	http.ResponseWriter
	statusCode int
}

func (rw *statusRecorder) WriteHeader(code int) {
	rw.statusCode = code
	rw.ResponseWriter.WriteHeader(code)
}

// accessLogMiddleware logs each request and records Prometheus metrics keyed
// by the matched chi route pattern.
func accessLogMiddleware(next http.Handler) http.Handler {
	return http.HandlerFunc(func(w http.ResponseWriter, r *http.Request) {
		start := time.Now()
		rec := &statusRecorder{ResponseWriter: w, statusCode: http.StatusOK}

		next.ServeHTTP(rec, r)

		duration := time.Since(start)
		route := r.URL.Path
		if rctx := chi.RouteContext(r.Context()); rctx != nil {
			if pattern := rctx.RoutePattern(); pattern != "" {
				route = pattern
			}
		}
		metrics.RecordAPIRequest(r.Method, route, strconv.Itoa(rec.statusCode), duration)

		logging.Ctx(r.Context()).Info().
			Str("method", r.Method).
			Str("route", route).
			Int("status", rec.statusCode).
			Dur("duration", duration).
			Msg("request")
	})
}
