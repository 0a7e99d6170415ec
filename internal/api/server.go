package api

import (
	"errors"
	"fmt"
	"io"
	"net/http"
	"strconv"

	"github.com/go-chi/chi/v5"
	"github.com/goccy/go-json"
	"golang.org/x/oauth2"
	"golang.org/x/oauth2/google"

	"github.com/intermernet/runtracker/internal/config"
	"github.com/intermernet/runtracker/internal/database"
	"github.com/intermernet/runtracker/internal/logging"
	"github.com/intermernet/runtracker/internal/tracking"
	"github.com/intermernet/runtracker/internal/validation"
)

// Server is the main struct for the API. It holds all dependencies required
// by the HTTP handlers.
type Server struct {
	config  *config.Config
	db      *database.Service
	tracker *tracking.Service
	oauth   *oauth2.Config // nil when Google sign-in is disabled
}

// NewServer wires the handlers to their dependencies.
func NewServer(cfg *config.Config, db *database.Service, tracker *tracking.Service) *Server {
	s := &Server{
		config:  cfg,
		db:      db,
		tracker: tracker,
	}
	if cfg.GoogleEnabled() {
		s.oauth = &oauth2.Config{
			ClientID:     cfg.Google.ClientID,
			ClientSecret: cfg.Google.ClientSecret,
			RedirectURL:  cfg.Google.RedirectURL,
			Scopes:       []string{"https://www.googleapis.com/auth/userinfo.email", "https://www.googleapis.com/auth/userinfo.profile"},
			Endpoint:     google.Endpoint,
		}
	}
	return s
}

// envelope wraps JSON responses, e.g. `envelope{"run": run}`.
type envelope map[string]interface{}

const maxJSONBody = 1 << 20

// writeJSON marshals data and writes it with the given status.
func (s *Server) writeJSON(w http.ResponseWriter, status int, data interface{}, headers ...http.Header) {
	js, err := json.MarshalIndent(data, "", "\t")
	if err != nil {
		http.Error(w, "Internal Server Error: Failed to marshal JSON", http.StatusInternalServerError)
		return
	}

	if len(headers) > 0 {
		for key, value := range headers[0] {
			w.Header()[key] = value
		}
	}

	w.Header().Set("Content-Type", "application/json")
	w.WriteHeader(status)
	w.Write(js)
}

// errorJSON sends `{"error": "message"}`, defaulting to 500.
func (s *Server) errorJSON(w http.ResponseWriter, err error, status ...int) {
	statusCode := http.StatusInternalServerError
	if len(status) > 0 {
		statusCode = status[0]
	}
	s.writeJSON(w, statusCode, envelope{"error": err.Error()})
}

// readJSON decodes a single JSON object from the request body into dst.
func (s *Server) readJSON(w http.ResponseWriter, r *http.Request, dst interface{}) error {
	r.Body = http.MaxBytesReader(w, r.Body, maxJSONBody)
	dec := json.NewDecoder(r.Body)
	if err := dec.Decode(dst); err != nil {
		if errors.Is(err, io.EOF) {
			return errors.New("bad request: body must not be empty")
		}
		return errors.New("bad request: could not decode JSON")
	}
	return nil
}

// validationErrorJSON reports every failed field rule with a 400.
func (s *Server) validationErrorJSON(w http.ResponseWriter, verr *validation.RequestValidationError) {
	s.writeJSON(w, http.StatusBadRequest, envelope{"error": verr.Error(), "fields": verr.Fields})
}

// trackingErrorJSON maps domain errors to status codes: not found is 404,
// any other domain error 400, anything else a logged 500.
func (s *Server) trackingErrorJSON(w http.ResponseWriter, r *http.Request, err error) {
	var domainErr *tracking.Error
	switch {
	case errors.Is(err, tracking.ErrNotFound):
		s.errorJSON(w, err, http.StatusNotFound)
	case errors.As(err, &domainErr):
		s.errorJSON(w, err, http.StatusBadRequest)
	default:
		s.serverErrorJSON(w, r, err)
	}
}

// serverErrorJSON logs err and hides it from the client.
func (s *Server) serverErrorJSON(w http.ResponseWriter, r *http.Request, err error) {
	logging.Ctx(r.Context()).Error().Err(err).Str("method", r.Method).Str("path", r.URL.Path).Msg("request failed")
	s.errorJSON(w, errors.New("internal server error"), http.StatusInternalServerError)
}

// idParam parses a positive integer URL parameter.
func idParam(r *http.Request, name string) (int64, error) {
	id, err := strconv.ParseInt(chi.URLParam(r, name), 10, 64)
	if err != nil || id < 1 {
		return 0, fmt.Errorf("invalid %s", name)
	}
	return id, nil
}

// optionalIDQuery parses an optional positive integer query parameter. 0 means absent.
func optionalIDQuery(r *http.Request, name string) (int64, error) {
	raw := r.URL.Query().Get(name)
	if raw == "" {
		return 0, nil
	}
	id, err := strconv.ParseInt(raw, 10, 64)
	if err != nil || id < 1 {
		return 0, fmt.Errorf("invalid %s filter", name)
	}
	return id, nil
}
