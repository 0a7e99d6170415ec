package api

import (
	"errors"
	"net/http"

	"github.com/go-chi/chi/v5"
	"github.com/go-chi/chi/v5/middleware"
	"github.com/go-chi/cors"
	"github.com/go-chi/httprate"
	"github.com/goccy/go-json"
	"github.com/prometheus/client_golang/prometheus/promhttp"
)

// RegisterRoutes mounts every endpoint and the global middleware on r.
func (s *Server) RegisterRoutes(r *chi.Mux) {
	// --- Global Middleware ---
	r.Use(requestIDMiddleware)
	r.Use(accessLogMiddleware)
	r.Use(middleware.Recoverer)

	r.Handle("/metrics", promhttp.Handler())

	r.Route("/api/v1", func(r chi.Router) {
		r.Use(cors.Handler(cors.Options{
			AllowedOrigins:   s.allowedOrigins(),
			AllowedMethods:   []string{"GET", "POST", "PUT", "PATCH", "DELETE", "OPTIONS"},
			AllowedHeaders:   []string{"Accept", "Authorization", "Content-Type", requestIDHeader},
			ExposedHeaders:   []string{requestIDHeader},
			AllowCredentials: true,
			MaxAge:           300,
		}))
		r.Use(s.rateLimit())

		// Public routes
		r.Post("/users/register", s.handleRegisterUser)
		r.Post("/users/login", s.handleLoginUser)
		if s.oauth != nil {
			r.Get("/auth/google/login", s.handleGoogleLogin)
			r.Get("/auth/google/callback", s.handleGoogleCallback)
		}
		r.Get("/company_details", s.handleCompanyDetails)

		// --- Authenticated Routes ---
		r.Group(func(r chi.Router) {
			r.Use(s.authMiddleware)

			// Users
			r.Get("/users", s.handleListUsers)
			r.Get("/users/me", s.handleGetMyProfile)
			r.Patch("/users/me", s.handleUpdateMyProfile)
			r.Delete("/users/me", s.handleDeleteMyProfile)
			r.Get("/users/{userID}", s.handleGetUser)
			r.Get("/athlete_info/{userID}", s.handleGetAthleteInfo)
			r.Put("/athlete_info/{userID}", s.handleUpdateAthleteInfo)

			// Coaches
			r.Post("/subscribe_to_coach/{coachID}", s.handleSubscribeToCoach)
			r.Post("/rate_coach/{coachID}", s.handleRateCoach)
			r.Get("/analytics_for_coach/{coachID}", s.handleAnalyticsForCoach)

			// Runs
			r.Get("/runs", s.handleListRuns)
			r.Post("/runs", s.handleCreateRun)
			r.Get("/runs/{runID}", s.handleGetRun)
			r.Post("/runs/{runID}/start", s.handleStartRun)
			r.Post("/runs/{runID}/stop", s.handleStopRun)
			r.Post("/runs/{runID}/timing", s.handleComputeTiming)
			r.Get("/runs/{runID}/gpx", s.handleGpxExport)
			r.Post("/runs/{runID}/gpx", s.handleGpxImport)

			// Positions
			r.Get("/positions", s.handleListPositions)
			r.Post("/positions", s.handleCreatePosition)

			// Challenges & items
			r.Get("/challenges", s.handleListChallenges)
			r.Get("/challenges_summary", s.handleChallengesSummary)
			r.Get("/collectible_item", s.handleListItems)
			r.Post("/upload_file", s.handleUploadCatalog)
		})
	})

	r.NotFound(func(w http.ResponseWriter, r *http.Request) {
		s.errorJSON(w, errors.New("resource not found"), http.StatusNotFound)
	})
	r.MethodNotAllowed(func(w http.ResponseWriter, r *http.Request) {
		s.errorJSON(w, errors.New("method not allowed"), http.StatusMethodNotAllowed)
	})
}

func (s *Server) allowedOrigins() []string {
	origins := []string{"http://localhost:5173", "http://localhost:3000"}
	if u := s.config.ParsedFrontendURL; u != nil {
		origins = append(origins, u.Scheme+"://"+u.Host)
	}
	return origins
}

// rateLimit limits requests per client IP. Disabled returns a no-op.
func (s *Server) rateLimit() func(http.Handler) http.Handler {
	if s.config.Server.RateLimitDisabled {
		return func(next http.Handler) http.Handler { return next }
	}
	return httprate.Limit(
		s.config.Server.RateLimitRequests,
		s.config.Server.RateLimitWindow,
		httprate.WithKeyFuncs(httprate.KeyByIP),
		httprate.WithLimitHandler(func(w http.ResponseWriter, r *http.Request) {
			w.Header().Set("Content-Type", "application/json")
			w.WriteHeader(http.StatusTooManyRequests)
			json.NewEncoder(w).Encode(envelope{"error": "too many requests"})
		}),
	)
}
