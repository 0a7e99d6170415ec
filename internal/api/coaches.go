package api

import (
	"database/sql"
	"errors"
	"net/http"

	"github.com/intermernet/runtracker/internal/database"
	"github.com/intermernet/runtracker/internal/logging"
	"github.com/intermernet/runtracker/internal/validation"
)

type ratePayload struct {
	Rating int `json:"rating" validate:"required,gte=1,lte=5"`
}

// loadCoach resolves the {coachID} parameter. It writes the error response
// and returns nil unless the user exists and is a coach.
func (s *Server) loadCoach(w http.ResponseWriter, r *http.Request, db database.DBorTx) *database.User {
	coachID, err := idParam(r, "coachID")
	if err != nil {
		s.errorJSON(w, err, http.StatusBadRequest)
		return nil
	}
	coach, err := s.db.GetUserByID(db, coachID)
	if errors.Is(err, sql.ErrNoRows) {
		s.errorJSON(w, errors.New("coach not found"), http.StatusNotFound)
		return nil
	}
	if err != nil {
		s.serverErrorJSON(w, r, err)
		return nil
	}
	if !coach.IsStaff {
		s.errorJSON(w, errors.New("user is not a coach"), http.StatusBadRequest)
		return nil
	}
	return coach
}

// handleSubscribeToCoach subscribes the calling athlete to a coach.
func (s *Server) handleSubscribeToCoach(w http.ResponseWriter, r *http.Request) {
	// 1. Only athletes subscribe.
	athlete := s.currentUser(w, r)
	if athlete == nil {
		return
	}
	if athlete.IsStaff {
		s.errorJSON(w, errors.New("only athletes can subscribe to a coach"), http.StatusBadRequest)
		return
	}

	// 2. The target must be a coach.
	coach := s.loadCoach(w, r, s.db.GetMainDB())
	if coach == nil {
		return
	}

	// 3. Reject duplicates inside the write so two requests cannot both pass the check.
	var duplicate bool
	err := s.db.WriteToMainDB(func(tx *sql.Tx) error {
		_, err := s.db.GetSubscription(tx, athlete.ID, coach.ID)
		if err == nil {
			duplicate = true
			return nil
		}
		if !errors.Is(err, sql.ErrNoRows) {
			return err
		}
		_, err = s.db.CreateSubscription(tx, athlete.ID, coach.ID)
		return err
	})
	if err != nil {
		s.serverErrorJSON(w, r, err)
		return
	}
	if duplicate {
		s.errorJSON(w, errors.New("already subscribed to this coach"), http.StatusBadRequest)
		return
	}

	logging.Ctx(r.Context()).Info().Int64("athlete_id", athlete.ID).Int64("coach_id", coach.ID).Msg("athlete subscribed to coach")
	s.writeJSON(w, http.StatusOK, envelope{"message": "subscribed successfully"})
}

// handleRateCoach sets the calling athlete's 1..5 rating of a coach they follow.
func (s *Server) handleRateCoach(w http.ResponseWriter, r *http.Request) {
	athleteID, err := s.getUserIDFromContext(r)
	if err != nil {
		s.serverErrorJSON(w, r, err)
		return
	}
	coach := s.loadCoach(w, r, s.db.GetMainDB())
	if coach == nil {
		return
	}

	var payload ratePayload
	if err := s.readJSON(w, r, &payload); err != nil {
		s.errorJSON(w, err, http.StatusBadRequest)
		return
	}
	if verr := validation.ValidateStruct(&payload); verr != nil {
		s.validationErrorJSON(w, verr)
		return
	}

	var notSubscribed bool
	err = s.db.WriteToMainDB(func(tx *sql.Tx) error {
		sub, err := s.db.GetSubscription(tx, athleteID, coach.ID)
		if errors.Is(err, sql.ErrNoRows) {
			notSubscribed = true
			return nil
		}
		if err != nil {
			return err
		}
		return s.db.UpdateSubscriptionRating(tx, sub.ID, payload.Rating)
	})
	if err != nil {
		s.serverErrorJSON(w, r, err)
		return
	}
	if notSubscribed {
		s.errorJSON(w, errors.New("you are not subscribed to this coach"), http.StatusBadRequest)
		return
	}
	s.writeJSON(w, http.StatusOK, envelope{"message": "rating saved", "rating": payload.Rating})
}

// handleAnalyticsForCoach reports the leaders among a coach's athletes.
func (s *Server) handleAnalyticsForCoach(w http.ResponseWriter, r *http.Request) {
	db := s.db.GetMainDB()
	coach := s.loadCoach(w, r, db)
	if coach == nil {
		return
	}

	longest, err := s.db.LongestRunForCoach(db, coach.ID)
	if err != nil {
		s.serverErrorJSON(w, r, err)
		return
	}
	total, err := s.db.TotalDistanceLeaderForCoach(db, coach.ID)
	if err != nil {
		s.serverErrorJSON(w, r, err)
		return
	}
	fastest, err := s.db.BestAverageSpeedForCoach(db, coach.ID)
	if err != nil {
		s.serverErrorJSON(w, r, err)
		return
	}

	var resp AnalyticsResponse
	resp.LongestRunUser, resp.LongestRunValue = statFields(longest)
	resp.TotalRunUser, resp.TotalRunValue = statFields(total)
	resp.SpeedAvgUser, resp.SpeedAvgValue = statFields(fastest)
	s.writeJSON(w, http.StatusOK, resp)
}
