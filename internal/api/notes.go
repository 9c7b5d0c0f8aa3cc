package api

import (
	"net/http"
	"strings"

	"family_dash/internal/model"
)

type createNoteRequest struct {
	Title   string `json:"title"`
	Content string `json:"content"`
	Author  string `json:"author"`
}

func (s *Server) handleListNotes(w http.ResponseWriter, r *http.Request) {
	notes, err := s.store.ListNotes(r.Context())
	if err != nil {
		s.respondStoreError(w, r, err)
		return
	}
	if notes == nil {
		notes = []model.Note{}
	}
	s.respondJSON(w, http.StatusOK, notes)
}

func (s *Server) handleCreateNote(w http.ResponseWriter, r *http.Request) {
	var req createNoteRequest
	if err := decodeJSON(w, r, &req); err != nil {
		s.respondStoreError(w, r, err)
		return
	}
	note := model.Note{
		Title:   strings.TrimSpace(req.Title),
		Content: req.Content,
		Author:  strings.TrimSpace(req.Author),
	}
	if err := note.Validate(); err != nil {
		s.respondStoreError(w, r, err)
		return
	}
	if err := s.store.CreateNote(r.Context(), &note); err != nil {
		s.respondStoreError(w, r, err)
		return
	}
	s.respondJSON(w, http.StatusCreated, note)
}

func (s *Server) handleDeleteNote(w http.ResponseWriter, r *http.Request) {
	id, err := pathID(r)
	if err != nil {
		s.respondStoreError(w, r, err)
		return
	}
	if err := s.store.DeleteNote(r.Context(), id); err != nil {
		s.respondStoreError(w, r, err)
		return
	}
	w.WriteHeader(http.StatusNoContent)
}
