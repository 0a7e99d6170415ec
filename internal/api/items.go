package api

import (
	"bytes"
	"errors"
	"net/http"

	"github.com/intermernet/runtracker/internal/catalog"
	"github.com/intermernet/runtracker/internal/logging"
)

// handleListItems returns the collectible item catalog.
func (s *Server) handleListItems(w http.ResponseWriter, r *http.Request) {
	items, err := s.db.ListCollectibleItems(s.db.GetMainDB())
	if err != nil {
		s.serverErrorJSON(w, r, err)
		return
	}
	s.writeJSON(w, http.StatusOK, envelope{"items": toItemResponseList(items)})
}

// handleUploadCatalog imports an xlsx catalog. Coaches only. Valid rows are
// stored and invalid ones reported back.
func (s *Server) handleUploadCatalog(w http.ResponseWriter, r *http.Request) {
	user := s.currentUser(w, r)
	if user == nil {
		return
	}
	if !user.IsStaff {
		s.errorJSON(w, errors.New("forbidden: only coaches can upload item catalogs"), http.StatusForbidden)
		return
	}

	data := s.readUpload(w, r, "file")
	if data == nil {
		return
	}

	report, err := catalog.Import(s.db, bytes.NewReader(data))
	if err != nil {
		// Unreadable workbooks are the client's problem; storage failures are ours.
		if errors.Is(err, catalog.ErrInvalidWorkbook) {
			s.errorJSON(w, err, http.StatusBadRequest)
			return
		}
		s.serverErrorJSON(w, r, err)
		return
	}

	invalid := report.Invalid
	if invalid == nil {
		invalid = []catalog.InvalidRow{}
	}
	logging.Ctx(r.Context()).Info().
		Int64("user_id", user.ID).
		Int("created", len(report.Created)).
		Int("invalid", len(invalid)).
		Msg("item catalog imported")

	s.writeJSON(w, http.StatusOK, UploadResponse{
		Created:     toItemResponseList(report.Created),
		InvalidRows: invalid,
	})
}
