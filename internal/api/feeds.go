package api

import (
	"fmt"
	"net/http"

	"family_dash/internal/model"
)

type createFeedRequest struct {
	Name   string `json:"name"`
	URL    string `json:"url"`
	Color  string `json:"color"`
	Type   string `json:"type"`
	Active *bool  `json:"active"`
}

// feedResponse is a feed plus the outcome of the refresh its write triggered.
type feedResponse struct {
	model.Feed
	Refresh *feedResultView `json:"refresh,omitempty"`
}

func (s *Server) handleListFeeds(w http.ResponseWriter, r *http.Request) {
	feeds, err := s.store.ListFeeds(r.Context())
	if err != nil {
		s.respondStoreError(w, r, err)
		return
	}
	if feeds == nil {
		feeds = []model.Feed{}
	}
	s.respondJSON(w, http.StatusOK, feeds)
}

func (s *Server) handleGetFeed(w http.ResponseWriter, r *http.Request) {
	id, err := pathID(r)
	if err != nil {
		s.respondStoreError(w, r, err)
		return
	}
	feed, err := s.store.GetFeed(r.Context(), id)
	if err != nil {
		s.respondStoreError(w, r, err)
		return
	}
	s.respondJSON(w, http.StatusOK, feed)
}

func (s *Server) handleCreateFeed(w http.ResponseWriter, r *http.Request) {
	var req createFeedRequest
	if err := decodeJSON(w, r, &req); err != nil {
		s.respondStoreError(w, r, err)
		return
	}

	typ, err := model.ParseFeedType(req.Type)
	if err != nil {
		s.respondStoreError(w, r, err)
		return
	}
	feed := model.Feed{Name: req.Name, URL: req.URL, Color: req.Color, Type: typ, Active: true}
	if req.Active != nil {
		feed.Active = *req.Active
	}
	feed.Normalize()
	if err := feed.Validate(); err != nil {
		s.respondStoreError(w, r, err)
		return
	}

	if err := s.store.CreateFeed(r.Context(), &feed); err != nil {
		s.respondStoreError(w, r, err)
		return
	}
	s.log.Info("feed created", "feed_id", feed.ID, "name", feed.Name, "type", feed.Type)

	// The new feed's events are loaded before responding; a failed first
	// load still creates the feed.
	res := newFeedResultView(s.sched.RefreshOne(r.Context(), feed.ID))
	s.respondJSON(w, http.StatusCreated, feedResponse{Feed: feed, Refresh: &res})
}

func (s *Server) handleUpdateFeed(w http.ResponseWriter, r *http.Request) {
	id, err := pathID(r)
	if err != nil {
		s.respondStoreError(w, r, err)
		return
	}
	var patch model.FeedPatch
	if err := decodeJSON(w, r, &patch); err != nil {
		s.respondStoreError(w, r, err)
		return
	}
	if patch.Empty() {
		s.respondStoreError(w, r, fmt.Errorf("%w: no fields to update", model.ErrValidation))
		return
	}
	if err := patch.Validate(); err != nil {
		s.respondStoreError(w, r, err)
		return
	}

	feed, err := s.store.UpdateFeed(r.Context(), id, patch)
	if err != nil {
		s.respondStoreError(w, r, err)
		return
	}

	resp := feedResponse{Feed: *feed}
	if patch.URL != nil {
		res := newFeedResultView(s.sched.RefreshOne(r.Context(), id))
		resp.Refresh = &res
	}
	s.respondJSON(w, http.StatusOK, resp)
}

func (s *Server) handleDeleteFeed(w http.ResponseWriter, r *http.Request) {
	id, err := pathID(r)
	if err != nil {
		s.respondStoreError(w, r, err)
		return
	}
	if err := s.sched.RemoveFeed(r.Context(), id); err != nil {
		s.respondStoreError(w, r, err)
		return
	}
	w.WriteHeader(http.StatusNoContent)
}
