// Package storage defines the persistence interface and its implementations.
package storage

import (
	"context"
	"encoding/json"
	"time"

	"family_dash/internal/model"
)

// Storage is the interface for all persistence operations.
//
// Lookups of a missing row return an error wrapping model.ErrNotFound.
type Storage interface {
	// Feed registry.
	CreateFeed(ctx context.Context, feed *model.Feed) error
	GetFeed(ctx context.Context, id int64) (*model.Feed, error)
	ListFeeds(ctx context.Context) ([]model.Feed, error)
	ListActiveFeeds(ctx context.Context) ([]model.Feed, error)
	UpdateFeed(ctx context.Context, id int64, patch model.FeedPatch) (*model.Feed, error)
	DeleteFeed(ctx context.Context, id int64) error

	// Event cache.
	CreateEvent(ctx context.Context, ev *model.Event) error
	ListEvents(ctx context.Context, start, end time.Time) ([]model.Event, error)
	ListFeedEvents(ctx context.Context, feedID int64) ([]model.Event, error)
	DeleteEventsByFeed(ctx context.Context, feedID int64) error
	ReplaceFeedEvents(ctx context.Context, feedID int64, events []model.Event, notes []model.Note) error

	// Notes.
	CreateNote(ctx context.Context, n *model.Note) error
	GetNote(ctx context.Context, id int64) (*model.Note, error)
	ListNotes(ctx context.Context) ([]model.Note, error)
	DeleteNote(ctx context.Context, id int64) error

	// Settings rows. Defaults are applied by the settings package.
	GetSetting(ctx context.Context, key string) (json.RawMessage, error)
	ListSettings(ctx context.Context) (map[string]json.RawMessage, error)
	PutSetting(ctx context.Context, key string, value json.RawMessage) error
	PutSettingIfAbsent(ctx context.Context, key string, value json.RawMessage) error

	Close() error
}
