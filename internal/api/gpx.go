package api

import (
	"database/sql"
	"errors"
	"fmt"
	"io"
	"net/http"
	"strings"

	"github.com/intermernet/runtracker/internal/gpx"
	"github.com/intermernet/runtracker/internal/tracking"
)

// readUpload reads the multipart file in field, capped at the configured
// upload size. It writes the error response and returns nil on failure.
func (s *Server) readUpload(w http.ResponseWriter, r *http.Request, field string) []byte {
	limit := s.config.Server.MaxUploadBytes
	r.Body = http.MaxBytesReader(w, r.Body, limit)
	if err := r.ParseMultipartForm(limit); err != nil {
		s.errorJSON(w, fmt.Errorf("invalid upload (max %d MB)", limit>>20), http.StatusBadRequest)
		return nil
	}
	file, _, err := r.FormFile(field)
	if err != nil {
		s.errorJSON(w, fmt.Errorf("multipart field %q is required", field), http.StatusBadRequest)
		return nil
	}
	defer file.Close()

	data, err := io.ReadAll(file)
	if err != nil {
		s.errorJSON(w, errors.New("could not read uploaded file"), http.StatusBadRequest)
		return nil
	}
	return data
}

// handleGpxImport ingests every point of an uploaded GPX track into an
// in-progress run, all or nothing.
func (s *Server) handleGpxImport(w http.ResponseWriter, r *http.Request) {
	// 1. Ownership.
	run := s.ownedRun(w, r)
	if run == nil {
		return
	}

	// 2. Read and parse the file.
	data := s.readUpload(w, r, "gpxFile")
	if data == nil {
		return
	}
	points, err := gpx.ParseTrack(data)
	if err != nil {
		s.errorJSON(w, err, http.StatusBadRequest)
		return
	}

	// 3. Ingest as one batch.
	samples := make([]tracking.Sample, len(points))
	for i, p := range points {
		samples[i] = tracking.Sample{Latitude: p.Lat, Longitude: p.Lon, Time: p.Timestamp}
	}
	positions, collected, err := s.tracker.RecordTrack(r.Context(), run.ID, samples)
	if err != nil {
		s.trackingErrorJSON(w, r, err)
		return
	}

	s.writeJSON(w, http.StatusCreated, envelope{
		"positions":       len(positions),
		"collected_items": toItemResponseList(collected),
	})
}

// handleGpxExport downloads the run's positions as a GPX 1.1 track.
func (s *Server) handleGpxExport(w http.ResponseWriter, r *http.Request) {
	runID, err := idParam(r, "runID")
	if err != nil {
		s.errorJSON(w, err, http.StatusBadRequest)
		return
	}
	db := s.db.GetMainDB()
	run, err := s.db.GetRunByID(db, runID)
	if errors.Is(err, sql.ErrNoRows) {
		s.errorJSON(w, errors.New("run not found"), http.StatusNotFound)
		return
	}
	if err != nil {
		s.serverErrorJSON(w, r, err)
		return
	}

	positions, err := s.db.ListPositionsByRun(db, run.ID)
	if err != nil {
		s.serverErrorJSON(w, r, err)
		return
	}
	if len(positions) == 0 {
		s.errorJSON(w, errors.New("run has no positions"), http.StatusNotFound)
		return
	}

	points := make([]gpx.TrackPoint, len(positions))
	for i, p := range positions {
		points[i] = gpx.TrackPoint{Lat: p.Latitude, Lon: p.Longitude, Timestamp: p.DateTime}
	}
	name := fmt.Sprintf("Run %d", run.ID)
	if c := strings.TrimSpace(run.Comment); c != "" {
		name = c
	}
	body, err := gpx.BuildTrack(name, points)
	if err != nil {
		s.serverErrorJSON(w, r, err)
		return
	}

	w.Header().Set("Content-Type", "application/gpx+xml")
	w.Header().Set("Content-Disposition", fmt.Sprintf(`attachment; filename="run_%d.gpx"`, run.ID))
	w.WriteHeader(http.StatusOK)
	w.Write(body)
}
