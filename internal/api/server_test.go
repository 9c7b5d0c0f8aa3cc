package api

import (
	"bytes"
	"encoding/json"
	"io"
	"log/slog"
	"net/http"
	"net/http/httptest"
	"os"
	"strconv"
	"strings"
	"sync"
	"testing"
	"time"

	"github.com/google/go-cmp/cmp"
	"github.com/prometheus/client_golang/prometheus"

	"family_dash/internal/fetcher"
	"family_dash/internal/metrics"
	"family_dash/internal/model"
	"family_dash/internal/scheduler"
	"family_dash/internal/settings"
	"family_dash/internal/storage"
)

type mockHTTP struct {
	mu        sync.Mutex
	responses map[string]string
}

func (m *mockHTTP) set(url, body string) {
	m.mu.Lock()
	defer m.mu.Unlock()
	m.responses[url] = body
}

func (m *mockHTTP) Do(req *http.Request) (*http.Response, error) {
	m.mu.Lock()
	body, ok := m.responses[req.URL.String()]
	m.mu.Unlock()
	status := http.StatusOK
	if !ok {
		status, body = http.StatusNotFound, "not found"
	}
	return &http.Response{StatusCode: status, Body: io.NopCloser(bytes.NewBufferString(body))}, nil
}

type testEnv struct {
	srv   *Server
	store *storage.SQLite
	http  *mockHTTP
	ics   string
}

func newTestEnv(t *testing.T) *testEnv {
	t.Helper()
	store, err := storage.NewSQLite(":memory:")
	if err != nil {
		t.Fatalf("new sqlite: %v", err)
	}
	t.Cleanup(func() { _ = store.Close() })

	ics, err := os.ReadFile("../../testdata/family.ics")
	if err != nil {
		t.Fatalf("read fixture: %v", err)
	}

	log := slog.New(slog.NewTextHandler(io.Discard, nil))
	httpMock := &mockHTTP{responses: map[string]string{}}
	reg := prometheus.NewRegistry()
	sched := scheduler.New(store, fetcher.New(httpMock), log)
	sched.SetMetrics(metrics.New(reg))

	srv := NewServer(store, settings.New(store), sched, reg, log)
	srv.now = func() time.Time { return time.Date(2025, time.March, 1, 0, 0, 0, 0, time.UTC) }
	return &testEnv{srv: srv, store: store, http: httpMock, ics: string(ics)}
}

func (e *testEnv) do(t *testing.T, method, path, body string) *httptest.ResponseRecorder {
	t.Helper()
	var r io.Reader
	if body != "" {
		r = strings.NewReader(body)
	}
	req := httptest.NewRequest(method, path, r)
	rec := httptest.NewRecorder()
	e.srv.Handler().ServeHTTP(rec, req)
	return rec
}

func decode[T any](t *testing.T, rec *httptest.ResponseRecorder) T {
	t.Helper()
	var v T
	if err := json.Unmarshal(rec.Body.Bytes(), &v); err != nil {
		t.Fatalf("decode response %q: %v", rec.Body.String(), err)
	}
	return v
}

func (e *testEnv) createFeed(t *testing.T, body string) feedResponse {
	t.Helper()
	rec := e.do(t, http.MethodPost, "/api/calendar-feeds", body)
	if rec.Code != http.StatusCreated {
		t.Fatalf("create feed: status %d, body %s", rec.Code, rec.Body.String())
	}
	return decode[feedResponse](t, rec)
}

func TestHealth(t *testing.T) {
	env := newTestEnv(t)
	rec := env.do(t, http.MethodGet, "/health", "")
	if diff := cmp.Diff(http.StatusOK, rec.Code); diff != "" {
		t.Errorf("status mismatch (-want +got):\n%s", diff)
	}
	got := decode[map[string]string](t, rec)
	if diff := cmp.Diff(map[string]string{"status": "ok", "refresh": "idle"}, got); diff != "" {
		t.Errorf("body mismatch (-want +got):\n%s", diff)
	}
}

func TestCreateFeedLoadsEvents(t *testing.T) {
	env := newTestEnv(t)
	env.http.set("https://cal.example.com/mom.ics", env.ics)

	created := env.createFeed(t, `{"name":"Mom","url":"https://cal.example.com/mom.ics","color":"#B3C9AB"}`)
	want := model.Feed{ID: created.ID, Name: "Mom", URL: "https://cal.example.com/mom.ics", Color: "#B3C9AB", Type: model.FeedPerson, Active: true}
	if diff := cmp.Diff(want, created.Feed); diff != "" {
		t.Errorf("created feed mismatch (-want +got):\n%s", diff)
	}
	if created.Refresh == nil || !created.Refresh.OK || created.Refresh.Events != 4 {
		t.Fatalf("unexpected refresh result: %+v", created.Refresh)
	}

	rec := env.do(t, http.MethodGet, "/api/events?start=2025-03-01&end=2025-03-31", "")
	if rec.Code != http.StatusOK {
		t.Fatalf("list events: status %d", rec.Code)
	}
	events := decode[[]eventView](t, rec)
	var titles []string
	for _, ev := range events {
		titles = append(titles, ev.Title)
		if ev.Color != "#B3C9AB" || ev.CalendarName != "Mom" || ev.CalendarType != model.FeedPerson {
			t.Errorf("event %q not decorated with feed details: %+v", ev.Title, ev)
		}
	}
	if diff := cmp.Diff([]string{"Swim practice", "Dentist", "Grandma birthday", "Soccer"}, titles); diff != "" {
		t.Errorf("titles mismatch (-want +got):\n%s", diff)
	}
}

func TestCreateFeedFetchFailureStillCreates(t *testing.T) {
	env := newTestEnv(t)
	created := env.createFeed(t, `{"name":"Broken","url":"https://cal.example.com/missing.ics"}`)
	if created.Refresh == nil || created.Refresh.OK {
		t.Fatalf("expected failed refresh, got %+v", created.Refresh)
	}
	rec := env.do(t, http.MethodGet, "/api/calendar-feeds", "")
	feeds := decode[[]model.Feed](t, rec)
	if diff := cmp.Diff(1, len(feeds)); diff != "" {
		t.Errorf("feed count (-want +got):\n%s", diff)
	}
}

func TestCreateFeedValidation(t *testing.T) {
	tests := []struct {
		name string
		body string
	}{
		{name: "missing url", body: `{"name":"Mom"}`},
		{name: "missing name", body: `{"url":"https://cal.example.com/a.ics"}`},
		{name: "bad scheme", body: `{"name":"Mom","url":"ftp://cal.example.com/a.ics"}`},
		{name: "unknown type", body: `{"name":"Mom","url":"https://cal.example.com/a.ics","type":"sports"}`},
		{name: "malformed json", body: `{"name":`},
	}

	for _, tt := range tests {
		t.Run(tt.name, func(t *testing.T) {
			env := newTestEnv(t)
			rec := env.do(t, http.MethodPost, "/api/calendar-feeds", tt.body)
			if diff := cmp.Diff(http.StatusBadRequest, rec.Code); diff != "" {
				t.Errorf("status mismatch (-want +got):\n%s", diff)
			}
			if got := decode[map[string]string](t, rec)["error"]; got == "" {
				t.Error("expected error message")
			}
			feeds, err := env.store.ListFeeds(t.Context())
			if err != nil {
				t.Fatalf("list feeds: %v", err)
			}
			if len(feeds) != 0 {
				t.Errorf("rejected input created %d feeds", len(feeds))
			}
		})
	}
}

func TestUpdateFeed(t *testing.T) {
	env := newTestEnv(t)
	env.http.set("https://cal.example.com/a.ics", env.ics)
	created := env.createFeed(t, `{"name":"Kids","url":"https://cal.example.com/a.ics","type":"person"}`)
	path := "/api/calendar-feeds/" + itoa(created.ID)

	rec := env.do(t, http.MethodPatch, path, `{"color":"#C3B1D0","type":"todo"}`)
	if rec.Code != http.StatusOK {
		t.Fatalf("patch: status %d, body %s", rec.Code, rec.Body.String())
	}
	got := decode[feedResponse](t, rec)
	want := created.Feed
	want.Color = "#C3B1D0"
	want.Type = model.FeedTodo
	if diff := cmp.Diff(want, got.Feed); diff != "" {
		t.Errorf("patched feed mismatch (-want +got):\n%s", diff)
	}
	if got.Refresh != nil {
		t.Error("expected no refresh when url is unchanged")
	}

	env.http.set("https://cal.example.com/b.ics", "BEGIN:VCALENDAR\r\nVERSION:2.0\r\nEND:VCALENDAR\r\n")
	rec = env.do(t, http.MethodPatch, path, `{"url":"https://cal.example.com/b.ics"}`)
	got = decode[feedResponse](t, rec)
	if got.Refresh == nil || !got.Refresh.OK || got.Refresh.Events != 0 {
		t.Fatalf("expected refresh with new url, got %+v", got.Refresh)
	}
	events, err := env.store.ListFeedEvents(t.Context(), created.ID)
	if err != nil {
		t.Fatalf("list events: %v", err)
	}
	if len(events) != 0 {
		t.Errorf("expected cache replaced by empty calendar, got %d events", len(events))
	}
}

func TestFeedNotFound(t *testing.T) {
	env := newTestEnv(t)
	tests := []struct {
		method, path, body string
		want               int
	}{
		{method: http.MethodGet, path: "/api/calendar-feeds/42", want: http.StatusNotFound},
		{method: http.MethodPatch, path: "/api/calendar-feeds/42", body: `{"name":"x"}`, want: http.StatusNotFound},
		{method: http.MethodDelete, path: "/api/calendar-feeds/42", want: http.StatusNotFound},
		{method: http.MethodGet, path: "/api/calendar-feeds/abc", want: http.StatusBadRequest},
		{method: http.MethodPatch, path: "/api/calendar-feeds/1", body: `{"name":"  "}`, want: http.StatusBadRequest},
		{method: http.MethodPatch, path: "/api/calendar-feeds/1", body: `{}`, want: http.StatusBadRequest},
	}
	for _, tt := range tests {
		t.Run(tt.method+" "+tt.path, func(t *testing.T) {
			rec := env.do(t, tt.method, tt.path, tt.body)
			if diff := cmp.Diff(tt.want, rec.Code); diff != "" {
				t.Errorf("status mismatch (-want +got):\n%s", diff)
			}
		})
	}
}

func TestDeleteFeedCascades(t *testing.T) {
	env := newTestEnv(t)
	env.http.set("https://cal.example.com/a.ics", env.ics)
	created := env.createFeed(t, `{"name":"Mom","url":"https://cal.example.com/a.ics"}`)

	rec := env.do(t, http.MethodDelete, "/api/calendar-feeds/"+itoa(created.ID), "")
	if diff := cmp.Diff(http.StatusNoContent, rec.Code); diff != "" {
		t.Fatalf("status mismatch (-want +got):\n%s", diff)
	}

	rec = env.do(t, http.MethodGet, "/api/events?start=2025-03-01&end=2025-03-31", "")
	if diff := cmp.Diff(0, len(decode[[]eventView](t, rec))); diff != "" {
		t.Errorf("events after delete (-want +got):\n%s", diff)
	}
	events, err := env.store.ListFeedEvents(t.Context(), created.ID)
	if err != nil {
		t.Fatalf("list events: %v", err)
	}
	if len(events) != 0 {
		t.Errorf("orphaned events remain: %d", len(events))
	}
}

func TestEventsDefaultWindowAndBadRange(t *testing.T) {
	env := newTestEnv(t)
	env.http.set("https://cal.example.com/a.ics", env.ics)
	env.createFeed(t, `{"name":"Mom","url":"https://cal.example.com/a.ics"}`)

	// now is 2025-03-01, so the default week covers every fixture event.
	rec := env.do(t, http.MethodGet, "/api/events", "")
	if diff := cmp.Diff(4, len(decode[[]eventView](t, rec))); diff != "" {
		t.Errorf("default window events (-want +got):\n%s", diff)
	}

	for _, q := range []string{"?start=yesterday", "?start=2025-03-10&end=2025-03-01"} {
		rec := env.do(t, http.MethodGet, "/api/events"+q, "")
		if diff := cmp.Diff(http.StatusBadRequest, rec.Code); diff != "" {
			t.Errorf("%s: status mismatch (-want +got):\n%s", q, diff)
		}
	}
}

func TestRefreshEndpoint(t *testing.T) {
	env := newTestEnv(t)
	env.http.set("https://cal.example.com/a.ics", env.ics)
	env.createFeed(t, `{"name":"Mom","url":"https://cal.example.com/a.ics"}`)

	rec := env.do(t, http.MethodPost, "/api/events/refresh", "")
	if diff := cmp.Diff(http.StatusOK, rec.Code); diff != "" {
		t.Fatalf("status mismatch (-want +got):\n%s", diff)
	}
	resp := decode[refreshResponse](t, rec)
	if !resp.OK || len(resp.Results) != 1 {
		t.Errorf("unexpected refresh response: %+v", resp)
	}

	env.createFeed(t, `{"name":"Broken","url":"https://cal.example.com/missing.ics"}`)
	rec = env.do(t, http.MethodPost, "/api/events/refresh", "")
	if diff := cmp.Diff(http.StatusBadGateway, rec.Code); diff != "" {
		t.Fatalf("status mismatch (-want +got):\n%s", diff)
	}
	resp = decode[refreshResponse](t, rec)
	ok := map[string]bool{}
	for _, r := range resp.Results {
		ok[r.Name] = r.OK
	}
	if diff := cmp.Diff(map[string]bool{"Mom": true, "Broken": false}, ok); diff != "" {
		t.Errorf("per-feed results (-want +got):\n%s", diff)
	}
}

func TestNotes(t *testing.T) {
	env := newTestEnv(t)

	rec := env.do(t, http.MethodGet, "/api/notes", "")
	if diff := cmp.Diff("[]\n", rec.Body.String()); diff != "" {
		t.Errorf("empty list body (-want +got):\n%s", diff)
	}

	rec = env.do(t, http.MethodPost, "/api/notes", `{"title":"Buy milk","content":"2 litres","author":"Mom"}`)
	if rec.Code != http.StatusCreated {
		t.Fatalf("create note: status %d, body %s", rec.Code, rec.Body.String())
	}
	note := decode[model.Note](t, rec)
	if note.ID == 0 || note.CreatedAt.IsZero() {
		t.Errorf("expected id and createdAt, got %+v", note)
	}

	rec = env.do(t, http.MethodPost, "/api/notes", `{"title":"No author"}`)
	if diff := cmp.Diff(http.StatusBadRequest, rec.Code); diff != "" {
		t.Errorf("missing author status (-want +got):\n%s", diff)
	}

	rec = env.do(t, http.MethodGet, "/api/notes", "")
	if diff := cmp.Diff(1, len(decode[[]model.Note](t, rec))); diff != "" {
		t.Errorf("note count (-want +got):\n%s", diff)
	}

	path := "/api/notes/" + itoa(note.ID)
	if rec := env.do(t, http.MethodDelete, path, ""); rec.Code != http.StatusNoContent {
		t.Errorf("delete: status %d", rec.Code)
	}
	if rec := env.do(t, http.MethodDelete, path, ""); rec.Code != http.StatusNotFound {
		t.Errorf("second delete: status %d", rec.Code)
	}
}

func TestSettingsEndpoints(t *testing.T) {
	env := newTestEnv(t)

	rec := env.do(t, http.MethodGet, "/api/settings/screensaverTimeout", "")
	got := decode[settingResponse](t, rec)
	if diff := cmp.Diff("10", string(got.Value)); diff != "" {
		t.Errorf("default value (-want +got):\n%s", diff)
	}

	rec = env.do(t, http.MethodPatch, "/api/settings/screensaverTimeout", `{"value":20}`)
	if rec.Code != http.StatusOK {
		t.Fatalf("patch: status %d, body %s", rec.Code, rec.Body.String())
	}
	rec = env.do(t, http.MethodGet, "/api/settings/screensaverTimeout", "")
	got = decode[settingResponse](t, rec)
	if diff := cmp.Diff("20", string(got.Value)); diff != "" {
		t.Errorf("updated value (-want +got):\n%s", diff)
	}

	tests := []struct {
		name, method, path, body string
		want                     int
	}{
		{name: "wrong kind", method: http.MethodPatch, path: "/api/settings/screensaverTimeout", body: `{"value":"20"}`, want: http.StatusBadRequest},
		{name: "missing value", method: http.MethodPatch, path: "/api/settings/familyName", body: `{}`, want: http.StatusBadRequest},
		{name: "unknown key", method: http.MethodGet, path: "/api/settings/nope", want: http.StatusNotFound},
		{name: "bulk wrong kind", method: http.MethodPatch, path: "/api/settings", body: `{"timeFormat":24}`, want: http.StatusBadRequest},
	}
	for _, tt := range tests {
		t.Run(tt.name, func(t *testing.T) {
			rec := env.do(t, tt.method, tt.path, tt.body)
			if diff := cmp.Diff(tt.want, rec.Code); diff != "" {
				t.Errorf("status mismatch (-want +got):\n%s", diff)
			}
		})
	}

	rec = env.do(t, http.MethodPatch, "/api/settings", `{"timeFormat":"24h","weatherUnit":"metric"}`)
	all := decode[map[string]json.RawMessage](t, rec)
	if diff := cmp.Diff(`"24h"`, string(all["timeFormat"])); diff != "" {
		t.Errorf("bulk update (-want +got):\n%s", diff)
	}
	if diff := cmp.Diff(`"Helland"`, string(all["familyName"])); diff != "" {
		t.Errorf("default in bulk response (-want +got):\n%s", diff)
	}

	rec = env.do(t, http.MethodPost, "/api/settings/reset", "")
	all = decode[map[string]json.RawMessage](t, rec)
	if diff := cmp.Diff(`"12h"`, string(all["timeFormat"])); diff != "" {
		t.Errorf("after reset (-want +got):\n%s", diff)
	}
	if diff := cmp.Diff("10", string(all["screensaverTimeout"])); diff != "" {
		t.Errorf("after reset (-want +got):\n%s", diff)
	}
}

func TestExportICS(t *testing.T) {
	env := newTestEnv(t)
	env.http.set("https://cal.example.com/a.ics", env.ics)
	env.createFeed(t, `{"name":"Mom","url":"https://cal.example.com/a.ics"}`)

	rec := env.do(t, http.MethodGet, "/api/events/export.ics?start=2025-03-01&end=2025-03-31", "")
	if rec.Code != http.StatusOK {
		t.Fatalf("export: status %d, body %s", rec.Code, rec.Body.String())
	}
	if ct := rec.Header().Get("Content-Type"); !strings.HasPrefix(ct, "text/calendar") {
		t.Errorf("content type = %q", ct)
	}
	body := rec.Body.String()
	for _, want := range []string{
		"BEGIN:VCALENDAR",
		"SUMMARY:Dentist",
		"DTSTART:20250304T140000Z",
		"DTSTART;VALUE=DATE:20250305",
		"UID:1-dentist-1",
		"FREQ=WEEKLY",
		"CATEGORIES:Mom",
	} {
		if !strings.Contains(body, want) {
			t.Errorf("export missing %q", want)
		}
	}
	if diff := cmp.Diff(4, strings.Count(body, "BEGIN:VEVENT")); diff != "" {
		t.Errorf("vevent count (-want +got):\n%s", diff)
	}
}

func TestMetricsEndpoint(t *testing.T) {
	env := newTestEnv(t)
	env.http.set("https://cal.example.com/a.ics", env.ics)
	env.createFeed(t, `{"name":"Mom","url":"https://cal.example.com/a.ics"}`)

	rec := env.do(t, http.MethodGet, "/metrics", "")
	if rec.Code != http.StatusOK {
		t.Fatalf("metrics: status %d", rec.Code)
	}
	if !strings.Contains(rec.Body.String(), `family_dash_feed_refreshes_total{feed_id="1",outcome="ok"} 1`) {
		t.Errorf("refresh counter missing from exposition:\n%s", rec.Body.String())
	}
}

func itoa(id int64) string {
	return strconv.FormatInt(id, 10)
}
