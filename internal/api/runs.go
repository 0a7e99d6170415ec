package api

import (
	"database/sql"
	"errors"
	"net/http"
	"strings"

	"github.com/intermernet/runtracker/internal/database"
	"github.com/intermernet/runtracker/internal/validation"
)

type createRunPayload struct {
	Comment string `json:"comment" validate:"max=500"`
}

type runListQuery struct {
	Status string `json:"status" validate:"omitempty,oneof=init in_progress finished"`
}

// ownedRun loads the {runID} run and checks the caller is its athlete. It
// writes the error response and returns nil otherwise.
func (s *Server) ownedRun(w http.ResponseWriter, r *http.Request) *database.Run {
	runID, err := idParam(r, "runID")
	if err != nil {
		s.errorJSON(w, err, http.StatusBadRequest)
		return nil
	}
	return s.ownedRunByID(w, r, runID)
}

func (s *Server) ownedRunByID(w http.ResponseWriter, r *http.Request, runID int64) *database.Run {
	userID, err := s.getUserIDFromContext(r)
	if err != nil {
		s.serverErrorJSON(w, r, err)
		return nil
	}
	run, err := s.db.GetRunByID(s.db.GetMainDB(), runID)
	if errors.Is(err, sql.ErrNoRows) {
		s.errorJSON(w, errors.New("run not found"), http.StatusNotFound)
		return nil
	}
	if err != nil {
		s.serverErrorJSON(w, r, err)
		return nil
	}
	if run.AthleteID != userID {
		s.errorJSON(w, errors.New("forbidden: you can only modify your own runs"), http.StatusForbidden)
		return nil
	}
	return run
}

// handleListRuns lists runs, optionally filtered by ?athlete= and ?status=.
func (s *Server) handleListRuns(w http.ResponseWriter, r *http.Request) {
	athleteID, err := optionalIDQuery(r, "athlete")
	if err != nil {
		s.errorJSON(w, err, http.StatusBadRequest)
		return
	}
	q := runListQuery{Status: r.URL.Query().Get("status")}
	if verr := validation.ValidateStruct(&q); verr != nil {
		s.validationErrorJSON(w, verr)
		return
	}

	runs, err := s.db.ListRuns(s.db.GetMainDB(), database.RunFilter{AthleteID: athleteID, Status: q.Status})
	if err != nil {
		s.serverErrorJSON(w, r, err)
		return
	}
	s.writeJSON(w, http.StatusOK, envelope{"runs": toRunResponseList(runs)})
}

// handleCreateRun creates a run in the init state for the calling athlete.
func (s *Server) handleCreateRun(w http.ResponseWriter, r *http.Request) {
	athlete := s.currentUser(w, r)
	if athlete == nil {
		return
	}
	if athlete.IsStaff {
		s.errorJSON(w, errors.New("only athletes can record runs"), http.StatusForbidden)
		return
	}

	var payload createRunPayload
	if r.ContentLength != 0 {
		if err := s.readJSON(w, r, &payload); err != nil {
			s.errorJSON(w, err, http.StatusBadRequest)
			return
		}
	}
	if verr := validation.ValidateStruct(&payload); verr != nil {
		s.validationErrorJSON(w, verr)
		return
	}

	var run *database.Run
	err := s.db.WriteToMainDB(func(tx *sql.Tx) error {
		var err error
		run, err = s.db.CreateRun(tx, athlete.ID, strings.TrimSpace(payload.Comment))
		return err
	})
	if err != nil {
		s.serverErrorJSON(w, r, err)
		return
	}
	s.writeJSON(w, http.StatusCreated, envelope{"run": toRunResponse(run)})
}

// handleGetRun returns a single run.
func (s *Server) handleGetRun(w http.ResponseWriter, r *http.Request) {
	runID, err := idParam(r, "runID")
	if err != nil {
		s.errorJSON(w, err, http.StatusBadRequest)
		return
	}
	run, err := s.db.GetRunByID(s.db.GetMainDB(), runID)
	if errors.Is(err, sql.ErrNoRows) {
		s.errorJSON(w, errors.New("run not found"), http.StatusNotFound)
		return
	}
	if err != nil {
		s.serverErrorJSON(w, r, err)
		return
	}
	s.writeJSON(w, http.StatusOK, envelope{"run": toRunResponse(run)})
}

// handleStartRun moves the run from init to in_progress.
func (s *Server) handleStartRun(w http.ResponseWriter, r *http.Request) {
	run := s.ownedRun(w, r)
	if run == nil {
		return
	}
	started, err := s.tracker.StartRun(r.Context(), run.ID)
	if err != nil {
		s.trackingErrorJSON(w, r, err)
		return
	}
	s.writeJSON(w, http.StatusOK, envelope{"status": started.Status})
}

// handleStopRun finishes the run, computes its totals and awards challenges.
func (s *Server) handleStopRun(w http.ResponseWriter, r *http.Request) {
	run := s.ownedRun(w, r)
	if run == nil {
		return
	}
	outcome, err := s.tracker.StopRun(r.Context(), run.ID)
	if err != nil {
		s.trackingErrorJSON(w, r, err)
		return
	}
	s.writeJSON(w, http.StatusOK, envelope{
		"status":     outcome.Run.Status,
		"challenges": nonNil(outcome.Awarded),
	})
}

// handleComputeTiming recomputes run time and speed from stored positions.
func (s *Server) handleComputeTiming(w http.ResponseWriter, r *http.Request) {
	run := s.ownedRun(w, r)
	if run == nil {
		return
	}
	outcome, err := s.tracker.ComputeTiming(r.Context(), run.ID)
	if err != nil {
		s.trackingErrorJSON(w, r, err)
		return
	}
	s.writeJSON(w, http.StatusOK, envelope{
		"run":        toRunResponse(outcome.Run),
		"challenges": nonNil(outcome.Awarded),
	})
}

func nonNil(names []string) []string {
	if names == nil {
		return []string{}
	}
	return names
}
