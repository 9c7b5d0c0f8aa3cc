package api

import (
	"context"
	"net/http"
	"time"

	"family_dash/internal/model"
	"family_dash/internal/scheduler"
)

// eventView is a cached event decorated with its feed's presentation fields.
type eventView struct {
	model.Event
	Color        string         `json:"color"`
	CalendarName string         `json:"calendarName"`
	CalendarType model.FeedType `json:"calendarType"`
}

type feedResultView struct {
	FeedID     int64  `json:"feedId"`
	Name       string `json:"name"`
	OK         bool   `json:"ok"`
	Events     int    `json:"events"`
	Notes      int    `json:"notes"`
	DurationMS int64  `json:"durationMs"`
	Error      string `json:"error,omitempty"`
}

func newFeedResultView(r scheduler.FeedResult) feedResultView {
	v := feedResultView{
		FeedID:     r.FeedID,
		Name:       r.Name,
		OK:         r.OK(),
		Events:     r.Events,
		Notes:      r.Notes,
		DurationMS: r.Duration.Milliseconds(),
	}
	if r.Err != nil {
		v.Error = r.Err.Error()
	}
	return v
}

type refreshResponse struct {
	OK          bool             `json:"ok"`
	Message     string           `json:"message"`
	RefreshedAt time.Time        `json:"refreshedAt"`
	Results     []feedResultView `json:"results"`
}

// eventsInRange loads the events of [start, end] with their feed details.
// Events of feeds that vanished meanwhile are dropped.
func (s *Server) eventsInRange(ctx context.Context, start, end time.Time) ([]eventView, error) {
	events, err := s.store.ListEvents(ctx, start, end)
	if err != nil {
		return nil, err
	}
	feeds, err := s.store.ListFeeds(ctx)
	if err != nil {
		return nil, err
	}
	byID := make(map[int64]model.Feed, len(feeds))
	for _, f := range feeds {
		byID[f.ID] = f
	}

	views := make([]eventView, 0, len(events))
	for _, ev := range events {
		f, ok := byID[ev.CalendarID]
		if !ok {
			continue
		}
		views = append(views, eventView{Event: ev, Color: f.Color, CalendarName: f.Name, CalendarType: f.Type})
	}
	return views, nil
}

func (s *Server) handleGetEvents(w http.ResponseWriter, r *http.Request) {
	start, end, err := s.timeRange(r)
	if err != nil {
		s.respondStoreError(w, r, err)
		return
	}
	views, err := s.eventsInRange(r.Context(), start, end)
	if err != nil {
		s.respondStoreError(w, r, err)
		return
	}
	s.respondJSON(w, http.StatusOK, views)
}

func (s *Server) handleExportEvents(w http.ResponseWriter, r *http.Request) {
	start, end, err := s.timeRange(r)
	if err != nil {
		s.respondStoreError(w, r, err)
		return
	}
	views, err := s.eventsInRange(r.Context(), start, end)
	if err != nil {
		s.respondStoreError(w, r, err)
		return
	}

	w.Header().Set("Content-Type", "text/calendar; charset=utf-8")
	w.Header().Set("Content-Disposition", `attachment; filename="family-calendar.ics"`)
	if err := writeICS(w, views, s.now()); err != nil {
		s.log.Error("export events", "error", err)
	}
}

func (s *Server) handleRefresh(w http.ResponseWriter, r *http.Request) {
	// The pass may be shared with other callers, so it must outlive this request.
	agg := s.sched.RefreshAll(context.WithoutCancel(r.Context()))

	resp := refreshResponse{
		OK:          agg.OK(),
		RefreshedAt: agg.Finished,
		Results:     make([]feedResultView, 0, len(agg.Results)),
	}
	for _, res := range agg.Results {
		resp.Results = append(resp.Results, newFeedResultView(res))
	}

	if !resp.OK {
		resp.Message = "Some calendars failed to refresh"
		if err := agg.Err(); err != nil {
			s.log.Warn("manual refresh failed", "error", err)
		}
		s.respondJSON(w, http.StatusBadGateway, resp)
		return
	}
	resp.Message = "Calendars refreshed successfully"
	s.respondJSON(w, http.StatusOK, resp)
}
