package main

import (
	"context"
	"io"
	"log/slog"
	"os"
	"path/filepath"
	"testing"

	"github.com/google/go-cmp/cmp"
	"github.com/google/go-cmp/cmp/cmpopts"

	"family_dash/internal/model"
	"family_dash/internal/storage"
)

func TestSeedFeedsSkipsKnownURLs(t *testing.T) {
	ctx := context.Background()
	store, err := storage.NewSQLite(":memory:")
	if err != nil {
		t.Fatalf("new sqlite: %v", err)
	}
	t.Cleanup(func() { _ = store.Close() })

	existing := &model.Feed{Name: "Mom", URL: "https://cal.example.com/mom.ics", Color: "#B3C9AB", Type: model.FeedPerson, Active: true}
	if err := store.CreateFeed(ctx, existing); err != nil {
		t.Fatalf("create feed: %v", err)
	}

	path := filepath.Join(t.TempDir(), "feeds.yaml")
	yaml := `feeds:
  - name: Mom again
    url: https://cal.example.com/mom.ics
  - name: Chores
    url: https://cal.example.com/chores.ics
    type: todo
    active: false
`
	if err := os.WriteFile(path, []byte(yaml), 0o600); err != nil {
		t.Fatalf("write feeds file: %v", err)
	}

	log := slog.New(slog.NewTextHandler(io.Discard, nil))
	for range 2 {
		if err := seedFeeds(ctx, store, path, log); err != nil {
			t.Fatalf("seed feeds: %v", err)
		}
	}

	got, err := store.ListFeeds(ctx)
	if err != nil {
		t.Fatalf("list feeds: %v", err)
	}
	want := []model.Feed{
		{Name: "Mom", URL: "https://cal.example.com/mom.ics", Color: "#B3C9AB", Type: model.FeedPerson, Active: true},
		{Name: "Chores", URL: "https://cal.example.com/chores.ics", Color: model.DefaultFeedColor, Type: model.FeedTodo, Active: false},
	}
	if diff := cmp.Diff(want, got, cmpopts.IgnoreFields(model.Feed{}, "ID")); diff != "" {
		t.Errorf("feeds mismatch (-want +got):\n%s", diff)
	}
}

func TestSeedFeedsInvalidFile(t *testing.T) {
	store, err := storage.NewSQLite(":memory:")
	if err != nil {
		t.Fatalf("new sqlite: %v", err)
	}
	t.Cleanup(func() { _ = store.Close() })

	path := filepath.Join(t.TempDir(), "feeds.yaml")
	if err := os.WriteFile(path, []byte("feeds:\n  - name: No URL\n"), 0o600); err != nil {
		t.Fatalf("write feeds file: %v", err)
	}
	err = seedFeeds(context.Background(), store, path, slog.New(slog.NewTextHandler(io.Discard, nil)))
	if err == nil {
		t.Fatal("expected error for feed without url")
	}
}
