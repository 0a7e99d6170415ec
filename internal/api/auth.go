package api

import (
	"context"
	"crypto/rand"
	"database/sql"
	"encoding/hex"
	"errors"
	"fmt"
	"net/http"
	"net/url"
	"strings"
	"time"

	googleOauth2 "google.golang.org/api/oauth2/v2"
	"google.golang.org/api/option"

	"github.com/intermernet/runtracker/internal/auth"
	"github.com/intermernet/runtracker/internal/database"
	"github.com/intermernet/runtracker/internal/logging"
	"github.com/intermernet/runtracker/internal/validation"
)

type registerUserPayload struct {
	Username  string `json:"username" validate:"required,alphanum,min=3,max=150"`
	Email     string `json:"email" validate:"required,email"`
	Password  string `json:"password" validate:"required,min=8,max=128"`
	FirstName string `json:"first_name" validate:"max=150"`
	LastName  string `json:"last_name" validate:"max=150"`
	Type      string `json:"type" validate:"omitempty,oneof=coach athlete"`
}

type loginUserPayload struct {
	Email    string `json:"email" validate:"required,email"`
	Password string `json:"password" validate:"required"`
}

const oauthStateCookie = "oauthstate"

// --- Google sign-in ---

// generateStateOauthCookie sets a random CSRF state cookie for the OAuth round trip.
func generateStateOauthCookie(w http.ResponseWriter) (string, error) {
	b := make([]byte, 16)
	if _, err := rand.Read(b); err != nil {
		return "", err
	}
	state := hex.EncodeToString(b)
	http.SetCookie(w, &http.Cookie{
		Name:     oauthStateCookie,
		Value:    state,
		Expires:  time.Now().Add(10 * time.Minute),
		HttpOnly: true,
		SameSite: http.SameSiteLaxMode,
	})
	return state, nil
}

// handleGoogleLogin redirects to Google's consent page.
func (s *Server) handleGoogleLogin(w http.ResponseWriter, r *http.Request) {
	state, err := generateStateOauthCookie(w)
	if err != nil {
		s.serverErrorJSON(w, r, err)
		return
	}
	http.Redirect(w, r, s.oauth.AuthCodeURL(state), http.StatusTemporaryRedirect)
}

// handleGoogleCallback finishes the OAuth flow, creating an athlete account on
// first sign-in, and hands the session token to the frontend.
func (s *Server) handleGoogleCallback(w http.ResponseWriter, r *http.Request) {
	// 1. Validate the state cookie.
	oauthState, err := r.Cookie(oauthStateCookie)
	if err != nil || oauthState.Value == "" || r.FormValue("state") != oauthState.Value {
		s.errorJSON(w, errors.New("invalid oauth state"), http.StatusUnauthorized)
		return
	}

	// 2. Exchange the authorization code for an access token.
	ctx, cancel := context.WithTimeout(r.Context(), 15*time.Second)
	defer cancel()
	token, err := s.oauth.Exchange(ctx, r.FormValue("code"))
	if err != nil {
		s.serverErrorJSON(w, r, fmt.Errorf("exchange oauth code: %w", err))
		return
	}

	// 3. Fetch the Google profile.
	oauth2Service, err := googleOauth2.NewService(ctx, option.WithTokenSource(s.oauth.TokenSource(ctx, token)))
	if err != nil {
		s.serverErrorJSON(w, r, fmt.Errorf("create oauth service: %w", err))
		return
	}
	userInfo, err := oauth2Service.Userinfo.Get().Do()
	if err != nil {
		s.serverErrorJSON(w, r, fmt.Errorf("get user info: %w", err))
		return
	}
	if userInfo.Email == "" {
		s.errorJSON(w, errors.New("google account has no e-mail address"), http.StatusBadRequest)
		return
	}

	// 4. Find or create the local account.
	var user *database.User
	err = s.db.WriteToMainDB(func(tx *sql.Tx) error {
		existing, err := s.db.GetUserByEmail(tx, userInfo.Email)
		if err == nil {
			user = existing
			return nil
		}
		if !errors.Is(err, sql.ErrNoRows) {
			return err
		}
		username, err := s.freeUsername(tx, userInfo.Email)
		if err != nil {
			return err
		}
		user, err = s.db.CreateUser(tx, database.NewUser{
			Username:  username,
			Email:     userInfo.Email,
			FirstName: userInfo.GivenName,
			LastName:  userInfo.FamilyName,
		})
		return err
	})
	if err != nil {
		s.serverErrorJSON(w, r, fmt.Errorf("upsert google user: %w", err))
		return
	}

	// 5. Issue our own token and redirect to the frontend.
	appToken, err := auth.IssueSessionToken(user.ID, userType(user), s.config.Security.JWTSecret, s.config.Security.TokenTTL)
	if err != nil {
		s.serverErrorJSON(w, r, err)
		return
	}
	redirectURL := fmt.Sprintf("%s/auth/callback?token=%s", strings.TrimRight(s.config.Server.FrontendURL, "/"), url.QueryEscape(appToken))
	http.Redirect(w, r, redirectURL, http.StatusTemporaryRedirect)
}

// freeUsername derives a username from the local part of an e-mail address,
// adding a numeric suffix until it is unused.
func (s *Server) freeUsername(tx database.DBorTx, email string) (string, error) {
	base := email
	if at := strings.IndexByte(email, '@'); at > 0 {
		base = email[:at]
	}
	candidate := base
	for i := 2; ; i++ {
		taken, err := s.db.UserExistsByUsername(tx, candidate)
		if err != nil {
			return "", err
		}
		if !taken {
			return candidate, nil
		}
		candidate = fmt.Sprintf("%s%d", base, i)
	}
}

// --- Password auth ---

// handleRegisterUser creates an account. Type defaults to athlete.
func (s *Server) handleRegisterUser(w http.ResponseWriter, r *http.Request) {
	var payload registerUserPayload
	if err := s.readJSON(w, r, &payload); err != nil {
		s.errorJSON(w, err, http.StatusBadRequest)
		return
	}
	payload.Email = strings.ToLower(strings.TrimSpace(payload.Email))
	if verr := validation.ValidateStruct(&payload); verr != nil {
		s.validationErrorJSON(w, verr)
		return
	}

	hashedPassword, err := auth.HashPassword(payload.Password)
	if err != nil {
		s.serverErrorJSON(w, r, err)
		return
	}

	var user *database.User
	var conflict error
	err = s.db.WriteToMainDB(func(tx *sql.Tx) error {
		_, err := s.db.GetUserByEmail(tx, payload.Email)
		if err == nil {
			conflict = errors.New("a user with this email address already exists")
			return nil
		}
		if !errors.Is(err, sql.ErrNoRows) {
			return err
		}
		taken, err := s.db.UserExistsByUsername(tx, payload.Username)
		if err != nil {
			return err
		}
		if taken {
			conflict = errors.New("a user with this username already exists")
			return nil
		}

		user, err = s.db.CreateUser(tx, database.NewUser{
			Username:     payload.Username,
			Email:        payload.Email,
			FirstName:    payload.FirstName,
			LastName:     payload.LastName,
			PasswordHash: hashedPassword,
			IsStaff:      payload.Type == "coach",
		})
		return err
	})
	if err != nil {
		s.serverErrorJSON(w, r, fmt.Errorf("create user: %w", err))
		return
	}
	if conflict != nil {
		s.errorJSON(w, conflict, http.StatusConflict)
		return
	}

	logging.Ctx(r.Context()).Info().Int64("user_id", user.ID).Str("type", userType(user)).Msg("user registered")
	s.writeJSON(w, http.StatusCreated, envelope{"user": toUserResponse(user)})
}

// handleLoginUser exchanges e-mail and password for a session token.
func (s *Server) handleLoginUser(w http.ResponseWriter, r *http.Request) {
	var payload loginUserPayload
	if err := s.readJSON(w, r, &payload); err != nil {
		s.errorJSON(w, err, http.StatusBadRequest)
		return
	}
	payload.Email = strings.ToLower(strings.TrimSpace(payload.Email))
	if verr := validation.ValidateStruct(&payload); verr != nil {
		s.validationErrorJSON(w, verr)
		return
	}

	user, err := s.db.GetUserByEmail(s.db.GetMainDB(), payload.Email)
	if errors.Is(err, sql.ErrNoRows) {
		s.errorJSON(w, errors.New("invalid email or password"), http.StatusUnauthorized)
		return
	}
	if err != nil {
		s.serverErrorJSON(w, r, err)
		return
	}

	if !user.PasswordHash.Valid || user.PasswordHash.String == "" {
		s.errorJSON(w, errors.New("please log in using the method you signed up with"), http.StatusUnauthorized)
		return
	}
	if !auth.CheckPasswordHash(payload.Password, user.PasswordHash.String) {
		s.errorJSON(w, errors.New("invalid email or password"), http.StatusUnauthorized)
		return
	}

	tokenString, err := auth.IssueSessionToken(user.ID, userType(user), s.config.Security.JWTSecret, s.config.Security.TokenTTL)
	if err != nil {
		s.serverErrorJSON(w, r, err)
		return
	}

	s.writeJSON(w, http.StatusOK, envelope{
		"token": tokenString,
		"user":  toUserResponse(user),
	})
}
