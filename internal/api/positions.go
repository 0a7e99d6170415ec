package api

import (
	"database/sql"
	"errors"
	"fmt"
	"net/http"

	"github.com/intermernet/runtracker/internal/tracking"
	"github.com/intermernet/runtracker/internal/validation"
)

// createPositionPayload uses pointers so a missing coordinate is told apart
// from 0. Range checks belong to the tracker.
type createPositionPayload struct {
	Run       int64    `json:"run" validate:"required,gt=0"`
	Latitude  *float64 `json:"latitude" validate:"required"`
	Longitude *float64 `json:"longitude" validate:"required"`
	DateTime  string   `json:"date_time" validate:"required"`
}

// handleListPositions lists the samples of ?run= in insertion order.
func (s *Server) handleListPositions(w http.ResponseWriter, r *http.Request) {
	runID, err := optionalIDQuery(r, "run")
	if err != nil {
		s.errorJSON(w, err, http.StatusBadRequest)
		return
	}
	if runID == 0 {
		s.errorJSON(w, errors.New("run query parameter is required"), http.StatusBadRequest)
		return
	}

	db := s.db.GetMainDB()
	if _, err := s.db.GetRunByID(db, runID); err != nil {
		if errors.Is(err, sql.ErrNoRows) {
			s.errorJSON(w, errors.New("run not found"), http.StatusNotFound)
			return
		}
		s.serverErrorJSON(w, r, err)
		return
	}

	positions, err := s.db.ListPositionsByRun(db, runID)
	if err != nil {
		s.serverErrorJSON(w, r, err)
		return
	}
	s.writeJSON(w, http.StatusOK, envelope{"positions": toPositionResponseList(positions)})
}

// handleCreatePosition records one GPS sample for an in-progress run.
func (s *Server) handleCreatePosition(w http.ResponseWriter, r *http.Request) {
	// 1. Decode and check the payload shape.
	var payload createPositionPayload
	if err := s.readJSON(w, r, &payload); err != nil {
		s.errorJSON(w, err, http.StatusBadRequest)
		return
	}
	if verr := validation.ValidateStruct(&payload); verr != nil {
		s.validationErrorJSON(w, verr)
		return
	}
	at, err := parseDateTime(payload.DateTime)
	if err != nil {
		s.errorJSON(w, fmt.Errorf("date_time must use the format %s", dateTimeLayout), http.StatusBadRequest)
		return
	}

	// 2. Only the run's athlete may add samples.
	run := s.ownedRunByID(w, r, payload.Run)
	if run == nil {
		return
	}

	// 3. Ingest. Distance, speed and item pickup happen in the tracker.
	pos, collected, err := s.tracker.RecordPosition(r.Context(), run.ID, tracking.Sample{
		Latitude:  *payload.Latitude,
		Longitude: *payload.Longitude,
		Time:      at,
	})
	if err != nil {
		s.trackingErrorJSON(w, r, err)
		return
	}

	s.writeJSON(w, http.StatusCreated, envelope{
		"position":        toPositionResponse(pos),
		"collected_items": toItemResponseList(collected),
	})
}
