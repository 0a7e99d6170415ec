package api

import (
	"net/http"
)

// handleListChallenges lists awards, optionally for one ?athlete=.
func (s *Server) handleListChallenges(w http.ResponseWriter, r *http.Request) {
	athleteID, err := optionalIDQuery(r, "athlete")
	if err != nil {
		s.errorJSON(w, err, http.StatusBadRequest)
		return
	}
	challenges, err := s.db.ListChallenges(s.db.GetMainDB(), athleteID)
	if err != nil {
		s.serverErrorJSON(w, r, err)
		return
	}

	resp := make([]ChallengeResponse, len(challenges))
	for i, c := range challenges {
		resp[i] = ChallengeResponse{FullName: c.FullName, Athlete: c.AthleteID}
	}
	s.writeJSON(w, http.StatusOK, envelope{"challenges": resp})
}

// handleChallengesSummary groups holders by challenge name.
func (s *Server) handleChallengesSummary(w http.ResponseWriter, r *http.Request) {
	holders, err := s.db.ListChallengeHolders(s.db.GetMainDB())
	if err != nil {
		s.serverErrorJSON(w, r, err)
		return
	}
	s.writeJSON(w, http.StatusOK, envelope{"challenges": toChallengeSummary(holders)})
}

// handleCompanyDetails serves the configured company blurb. No auth.
func (s *Server) handleCompanyDetails(w http.ResponseWriter, r *http.Request) {
	s.writeJSON(w, http.StatusOK, envelope{
		"company_name": s.config.Company.Name,
		"slogan":       s.config.Company.Slogan,
		"contacts":     s.config.Company.Contacts,
	})
}
