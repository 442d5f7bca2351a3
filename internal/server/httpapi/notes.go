package httpapi

import (
	"encoding/json"
	"errors"
	"net/http"
	"strconv"
	"time"

	"github.com/dmitrijs2005/notesync/internal/common"
	"github.com/dmitrijs2005/notesync/internal/proto"
	"github.com/dmitrijs2005/notesync/internal/server/broadcast"
	"github.com/dmitrijs2005/notesync/internal/server/models"
	"github.com/google/uuid"
	"github.com/gorilla/mux"
)

type createRequest struct {
	ID    string `json:"id,omitempty"`
	Title string `json:"title"`
	Body  string `json:"body"`
	OpID  string `json:"opId"`
}

type updateRequest struct {
	Title         string `json:"title"`
	Body          string `json:"body"`
	ClientVersion int64  `json:"clientVersion"`
	OpID          string `json:"opId"`
}

type errorResponse struct {
	Error string      `json:"error"`
	Note  *proto.Note `json:"note,omitempty"`
}

func writeJSON(w http.ResponseWriter, code int, v any) {
	w.Header().Set("Content-Type", "application/json")
	w.WriteHeader(code)
	_ = json.NewEncoder(w).Encode(v)
}

func writeError(w http.ResponseWriter, code int, msg string) {
	writeJSON(w, code, errorResponse{Error: msg})
}

func statusFor(err error) int {
	switch {
	case errors.Is(err, common.ErrValidation):
		return http.StatusBadRequest
	case errors.Is(err, common.ErrNotFound):
		return http.StatusNotFound
	case errors.Is(err, common.ErrForbidden):
		return http.StatusForbidden
	case errors.Is(err, common.ErrUnauthorized), errors.Is(err, common.ErrInvalidToken):
		return http.StatusUnauthorized
	case errors.Is(err, common.ErrVersionConflict):
		return http.StatusConflict
	}
	return http.StatusInternalServerError
}

func (s *Server) fail(w http.ResponseWriter, r *http.Request, err error) {
	code := statusFor(err)
	if code == http.StatusInternalServerError {
		s.logger.Error(r.Context(), "request failed", "path", r.URL.Path, "error", err)
		writeError(w, code, "internal error")
		return
	}
	writeError(w, code, err.Error())
}

func (s *Server) health(w http.ResponseWriter, r *http.Request) {
	writeJSON(w, http.StatusOK, proto.PingResponse{Status: "OK"})
}

func (s *Server) listNotes(w http.ResponseWriter, r *http.Request) {
	var since time.Time
	if v := r.URL.Query().Get("since"); v != "" {
		t, err := time.Parse(time.RFC3339Nano, v)
		if err != nil {
			writeError(w, http.StatusBadRequest, "since must be RFC3339")
			return
		}
		since = t
	}

	notes, syncTime, err := s.notes.Since(r.Context(), userIDFromContext(r.Context()), since)
	if err != nil {
		s.fail(w, r, err)
		return
	}
	writeJSON(w, http.StatusOK, proto.SinceResponse{Notes: models.NotesToProto(notes), SyncTime: syncTime})
}

func (s *Server) apply(w http.ResponseWriter, r *http.Request, okCode int, noteID string, expected int64, m models.Mutation) {
	origin := broadcast.Origin{ChannelID: r.Header.Get(common.ChannelIDHeaderName)}

	res, err := s.notes.Apply(r.Context(), userIDFromContext(r.Context()), origin, noteID, expected, m)
	if err != nil {
		s.fail(w, r, err)
		return
	}
	if !res.Applied {
		writeJSON(w, http.StatusConflict, errorResponse{Error: common.ErrVersionConflict.Error(), Note: res.Note.ToProto()})
		return
	}
	writeJSON(w, okCode, proto.ApplyResponse{Applied: true, Note: res.Note.ToProto()})
}

func (s *Server) createNote(w http.ResponseWriter, r *http.Request) {
	var req createRequest
	if err := json.NewDecoder(r.Body).Decode(&req); err != nil {
		writeError(w, http.StatusBadRequest, "invalid json")
		return
	}
	if req.ID == "" {
		req.ID = uuid.NewString()
	}

	s.apply(w, r, http.StatusCreated, req.ID, 0, models.Mutation{
		OpID:  req.OpID,
		Kind:  models.MutationCreate,
		Title: req.Title,
		Body:  req.Body,
	})
}

func (s *Server) updateNote(w http.ResponseWriter, r *http.Request) {
	var req updateRequest
	if err := json.NewDecoder(r.Body).Decode(&req); err != nil {
		writeError(w, http.StatusBadRequest, "invalid json")
		return
	}

	s.apply(w, r, http.StatusOK, mux.Vars(r)["id"], req.ClientVersion, models.Mutation{
		OpID:  req.OpID,
		Kind:  models.MutationUpdate,
		Title: req.Title,
		Body:  req.Body,
	})
}

func (s *Server) deleteNote(w http.ResponseWriter, r *http.Request) {
	q := r.URL.Query()

	var version int64
	if v := q.Get("clientVersion"); v != "" {
		n, err := strconv.ParseInt(v, 10, 64)
		if err != nil {
			writeError(w, http.StatusBadRequest, "clientVersion must be an integer")
			return
		}
		version = n
	}

	s.apply(w, r, http.StatusOK, mux.Vars(r)["id"], version, models.Mutation{
		OpID: q.Get("opId"),
		Kind: models.MutationDelete,
	})
}
