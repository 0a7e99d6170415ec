package api

import (
	"database/sql"
	"errors"
	"net/http"
	"strings"

	"github.com/intermernet/runtracker/internal/auth"
	"github.com/intermernet/runtracker/internal/database"
	"github.com/intermernet/runtracker/internal/validation"
)

type updateProfilePayload struct {
	FirstName       string `json:"first_name" validate:"max=150"`
	LastName        string `json:"last_name" validate:"max=150"`
	CurrentPassword string `json:"current_password"`
	NewPassword     string `json:"new_password" validate:"omitempty,min=8,max=128"`
}

type userListQuery struct {
	Type   string `json:"type" validate:"omitempty,oneof=coach athlete"`
	Search string `json:"search" validate:"max=150"`
}

type athleteInfoPayload struct {
	Goals  string `json:"goals" validate:"max=2000"`
	Weight *int64 `json:"weight" validate:"omitempty,gt=0,lt=900"`
}

// handleGetMyProfile returns the authenticated user.
func (s *Server) handleGetMyProfile(w http.ResponseWriter, r *http.Request) {
	user := s.currentUser(w, r)
	if user == nil {
		return
	}
	s.writeJSON(w, http.StatusOK, envelope{"user": toUserResponse(user)})
}

// handleUpdateMyProfile changes names and, given the current one, the password.
func (s *Server) handleUpdateMyProfile(w http.ResponseWriter, r *http.Request) {
	user := s.currentUser(w, r)
	if user == nil {
		return
	}

	var payload updateProfilePayload
	if err := s.readJSON(w, r, &payload); err != nil {
		s.errorJSON(w, err, http.StatusBadRequest)
		return
	}
	if verr := validation.ValidateStruct(&payload); verr != nil {
		s.validationErrorJSON(w, verr)
		return
	}

	var newHash string
	if payload.NewPassword != "" {
		// Google-only accounts have no password to confirm and may set one directly.
		if user.PasswordHash.Valid && user.PasswordHash.String != "" &&
			!auth.CheckPasswordHash(payload.CurrentPassword, user.PasswordHash.String) {
			s.errorJSON(w, errors.New("current password is incorrect"), http.StatusUnauthorized)
			return
		}
		hash, err := auth.HashPassword(payload.NewPassword)
		if err != nil {
			s.serverErrorJSON(w, r, err)
			return
		}
		newHash = hash
	}

	var updated *database.User
	err := s.db.WriteToMainDB(func(tx *sql.Tx) error {
		if err := s.db.UpdateUser(tx, user.ID, strings.TrimSpace(payload.FirstName), strings.TrimSpace(payload.LastName), newHash); err != nil {
			return err
		}
		var err error
		updated, err = s.db.GetUserByID(tx, user.ID)
		return err
	})
	if err != nil {
		s.serverErrorJSON(w, r, err)
		return
	}
	s.writeJSON(w, http.StatusOK, envelope{"user": toUserResponse(updated)})
}

// handleDeleteMyProfile deletes the account and everything it owns.
func (s *Server) handleDeleteMyProfile(w http.ResponseWriter, r *http.Request) {
	userID, err := s.getUserIDFromContext(r)
	if err != nil {
		s.serverErrorJSON(w, r, err)
		return
	}
	err = s.db.WriteToMainDB(func(tx *sql.Tx) error {
		return s.db.DeleteUser(tx, userID)
	})
	if err != nil {
		s.serverErrorJSON(w, r, err)
		return
	}
	w.WriteHeader(http.StatusNoContent)
}

// handleListUsers lists users filtered by ?type= and a name ?search=.
func (s *Server) handleListUsers(w http.ResponseWriter, r *http.Request) {
	q := userListQuery{
		Type:   r.URL.Query().Get("type"),
		Search: strings.TrimSpace(r.URL.Query().Get("search")),
	}
	if verr := validation.ValidateStruct(&q); verr != nil {
		s.validationErrorJSON(w, verr)
		return
	}

	users, err := s.db.ListUsers(s.db.GetMainDB(), database.UserFilter{Type: q.Type, Search: q.Search})
	if err != nil {
		s.serverErrorJSON(w, r, err)
		return
	}
	s.writeJSON(w, http.StatusOK, envelope{"users": toUserList(users)})
}

// handleGetUser returns a profile with its coach or athletes and collected items.
func (s *Server) handleGetUser(w http.ResponseWriter, r *http.Request) {
	userID, err := idParam(r, "userID")
	if err != nil {
		s.errorJSON(w, err, http.StatusBadRequest)
		return
	}

	db := s.db.GetMainDB()
	user, err := s.db.GetUserByID(db, userID)
	if errors.Is(err, sql.ErrNoRows) {
		s.errorJSON(w, errors.New("user not found"), http.StatusNotFound)
		return
	}
	if err != nil {
		s.serverErrorJSON(w, r, err)
		return
	}

	resp := UserDetailResponse{UserResponse: toUserResponse(user)}
	if user.IsStaff {
		resp.Athletes, err = s.db.GetAthleteIDsForCoach(db, user.ID)
		if resp.Athletes == nil {
			resp.Athletes = []int64{}
		}
	} else {
		var coaches []int64
		coaches, err = s.db.GetCoachIDsForAthlete(db, user.ID)
		if len(coaches) > 0 {
			resp.Coach = &coaches[0]
		}
	}
	if err != nil {
		s.serverErrorJSON(w, r, err)
		return
	}

	items, err := s.db.ListItemsByCollector(db, user.ID)
	if err != nil {
		s.serverErrorJSON(w, r, err)
		return
	}
	resp.Items = toItemResponseList(items)

	s.writeJSON(w, http.StatusOK, envelope{"user": resp})
}

// handleGetAthleteInfo returns goals and weight, creating an empty record on first read.
func (s *Server) handleGetAthleteInfo(w http.ResponseWriter, r *http.Request) {
	userID, err := idParam(r, "userID")
	if err != nil {
		s.errorJSON(w, err, http.StatusBadRequest)
		return
	}

	var info *database.AthleteInfo
	var missing bool
	err = s.db.WriteToMainDB(func(tx *sql.Tx) error {
		if _, err := s.db.GetUserByID(tx, userID); err != nil {
			if errors.Is(err, sql.ErrNoRows) {
				missing = true
				return nil
			}
			return err
		}
		var err error
		info, err = s.db.GetOrCreateAthleteInfo(tx, userID)
		return err
	})
	if err != nil {
		s.serverErrorJSON(w, r, err)
		return
	}
	if missing {
		s.errorJSON(w, errors.New("user not found"), http.StatusNotFound)
		return
	}
	s.writeJSON(w, http.StatusOK, envelope{"athlete_info": toAthleteInfoResponse(info)})
}

// handleUpdateAthleteInfo replaces the caller's own goals and weight.
func (s *Server) handleUpdateAthleteInfo(w http.ResponseWriter, r *http.Request) {
	userID, err := idParam(r, "userID")
	if err != nil {
		s.errorJSON(w, err, http.StatusBadRequest)
		return
	}
	callerID, err := s.getUserIDFromContext(r)
	if err != nil {
		s.serverErrorJSON(w, r, err)
		return
	}
	if callerID != userID {
		s.errorJSON(w, errors.New("you can only edit your own athlete info"), http.StatusForbidden)
		return
	}

	var payload athleteInfoPayload
	if err := s.readJSON(w, r, &payload); err != nil {
		s.errorJSON(w, err, http.StatusBadRequest)
		return
	}
	if verr := validation.ValidateStruct(&payload); verr != nil {
		s.validationErrorJSON(w, verr)
		return
	}

	info := &database.AthleteInfo{UserID: userID, Goals: strings.TrimSpace(payload.Goals)}
	if payload.Weight != nil {
		info.Weight = sql.NullInt64{Int64: *payload.Weight, Valid: true}
	}
	err = s.db.WriteToMainDB(func(tx *sql.Tx) error {
		return s.db.UpdateAthleteInfo(tx, info)
	})
	if err != nil {
		s.serverErrorJSON(w, r, err)
		return
	}
	s.writeJSON(w, http.StatusOK, envelope{"athlete_info": toAthleteInfoResponse(info)})
}
