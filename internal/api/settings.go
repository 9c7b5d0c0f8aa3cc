package api

import (
	"encoding/json"
	"fmt"
	"net/http"

	"family_dash/internal/model"
)

type settingResponse struct {
	Key   string          `json:"key"`
	Value json.RawMessage `json:"value"`
}

type patchSettingRequest struct {
	Value json.RawMessage `json:"value"`
}

func (s *Server) handleGetSettings(w http.ResponseWriter, r *http.Request) {
	all, err := s.settings.All(r.Context())
	if err != nil {
		s.respondStoreError(w, r, err)
		return
	}
	s.respondJSON(w, http.StatusOK, all)
}

func (s *Server) handlePatchSettings(w http.ResponseWriter, r *http.Request) {
	var values map[string]json.RawMessage
	if err := decodeJSON(w, r, &values); err != nil {
		s.respondStoreError(w, r, err)
		return
	}
	if err := s.settings.UpdateMany(r.Context(), values); err != nil {
		s.respondStoreError(w, r, err)
		return
	}
	s.handleGetSettings(w, r)
}

func (s *Server) handleResetSettings(w http.ResponseWriter, r *http.Request) {
	if err := s.settings.Reset(r.Context()); err != nil {
		s.respondStoreError(w, r, err)
		return
	}
	s.log.Info("settings reset to defaults")
	s.handleGetSettings(w, r)
}

func (s *Server) handleGetSetting(w http.ResponseWriter, r *http.Request) {
	key := r.PathValue("key")
	value, err := s.settings.Get(r.Context(), key)
	if err != nil {
		s.respondStoreError(w, r, err)
		return
	}
	s.respondJSON(w, http.StatusOK, settingResponse{Key: key, Value: value})
}

func (s *Server) handlePatchSetting(w http.ResponseWriter, r *http.Request) {
	key := r.PathValue("key")
	var req patchSettingRequest
	if err := decodeJSON(w, r, &req); err != nil {
		s.respondStoreError(w, r, err)
		return
	}
	if len(req.Value) == 0 {
		s.respondStoreError(w, r, fmt.Errorf("%w: value is required", model.ErrValidation))
		return
	}
	if err := s.settings.Update(r.Context(), key, req.Value); err != nil {
		s.respondStoreError(w, r, err)
		return
	}
	s.respondJSON(w, http.StatusOK, settingResponse{Key: key, Value: req.Value})
}
