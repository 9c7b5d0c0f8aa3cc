package storage

import (
	"context"
	"database/sql"
	"encoding/json"
	"errors"
	"fmt"
	"time"

	_ "modernc.org/sqlite" // SQLite driver registration.

	"family_dash/internal/model"
	"family_dash/migrations"
)

const timeLayout = "2006-01-02T15:04:05Z"

// SQLite implements Storage backed by a SQLite database.
type SQLite struct {
	db *sql.DB
}

// NewSQLite opens a SQLite database at dsn and runs pending migrations.
// Use ":memory:" for a throwaway database.
func NewSQLite(dsn string) (*SQLite, error) {
	db, err := sql.Open("sqlite", dsn)
	if err != nil {
		return nil, fmt.Errorf("open sqlite: %w", err)
	}
	// One connection: ":memory:" is per-connection, and SQLite serialises
	// writers anyway.
	db.SetMaxOpenConns(1)

	if _, err := db.Exec("PRAGMA journal_mode=WAL"); err != nil {
		_ = db.Close()
		return nil, fmt.Errorf("set WAL mode: %w", err)
	}
	if _, err := db.Exec("PRAGMA busy_timeout=5000"); err != nil {
		_ = db.Close()
		return nil, fmt.Errorf("set busy timeout: %w", err)
	}

	if err := migrations.Run(context.Background(), db); err != nil {
		_ = db.Close()
		return nil, fmt.Errorf("run migrations: %w", err)
	}

	return &SQLite{db: db}, nil
}

// Close closes the underlying database connection.
func (s *SQLite) Close() error {
	return s.db.Close()
}

// --- feeds ---

const feedColumns = `id, name, url, color, type, active`

// CreateFeed inserts a new feed and populates its ID.
func (s *SQLite) CreateFeed(ctx context.Context, feed *model.Feed) error {
	res, err := s.db.ExecContext(ctx,
		`INSERT INTO calendar_feeds (name, url, color, type, active) VALUES (?, ?, ?, ?, ?)`,
		feed.Name, feed.URL, feed.Color, string(feed.Type), boolToInt(feed.Active),
	)
	if err != nil {
		return fmt.Errorf("insert feed: %w", err)
	}
	id, err := res.LastInsertId()
	if err != nil {
		return fmt.Errorf("last insert id: %w", err)
	}
	feed.ID = id
	return nil
}

// GetFeed returns a single feed by its ID.
func (s *SQLite) GetFeed(ctx context.Context, id int64) (*model.Feed, error) {
	row := s.db.QueryRowContext(ctx,
		`SELECT `+feedColumns+` FROM calendar_feeds WHERE id = ?`, id,
	)
	return scanFeed(row)
}

// ListFeeds returns all feeds ordered by ID.
func (s *SQLite) ListFeeds(ctx context.Context) ([]model.Feed, error) {
	rows, err := s.db.QueryContext(ctx, `SELECT `+feedColumns+` FROM calendar_feeds ORDER BY id`)
	if err != nil {
		return nil, fmt.Errorf("query feeds: %w", err)
	}
	defer func() { _ = rows.Close() }()
	return scanFeeds(rows)
}

// ListActiveFeeds returns the feeds the scheduler should refresh.
func (s *SQLite) ListActiveFeeds(ctx context.Context) ([]model.Feed, error) {
	rows, err := s.db.QueryContext(ctx,
		`SELECT `+feedColumns+` FROM calendar_feeds WHERE active = 1 ORDER BY id`,
	)
	if err != nil {
		return nil, fmt.Errorf("query active feeds: %w", err)
	}
	defer func() { _ = rows.Close() }()
	return scanFeeds(rows)
}

// UpdateFeed merges patch into the stored feed and returns the result.
func (s *SQLite) UpdateFeed(ctx context.Context, id int64, patch model.FeedPatch) (*model.Feed, error) {
	tx, err := s.db.BeginTx(ctx, nil)
	if err != nil {
		return nil, fmt.Errorf("begin tx: %w", err)
	}
	defer func() { _ = tx.Rollback() }()

	feed, err := scanFeed(tx.QueryRowContext(ctx,
		`SELECT `+feedColumns+` FROM calendar_feeds WHERE id = ?`, id,
	))
	if err != nil {
		return nil, err
	}

	patch.Apply(feed)

	if _, err := tx.ExecContext(ctx,
		`UPDATE calendar_feeds SET name = ?, url = ?, color = ?, type = ?, active = ? WHERE id = ?`,
		feed.Name, feed.URL, feed.Color, string(feed.Type), boolToInt(feed.Active), id,
	); err != nil {
		return nil, fmt.Errorf("update feed: %w", err)
	}
	if err := tx.Commit(); err != nil {
		return nil, fmt.Errorf("commit: %w", err)
	}
	return feed, nil
}

// DeleteFeed removes a feed. Its cached events are left to the caller.
func (s *SQLite) DeleteFeed(ctx context.Context, id int64) error {
	res, err := s.db.ExecContext(ctx, `DELETE FROM calendar_feeds WHERE id = ?`, id)
	if err != nil {
		return fmt.Errorf("delete feed: %w", err)
	}
	return requireAffected(res, "feed", id)
}

// --- events ---

const eventColumns = `id, calendar_id, event_id, title, description, location,
	start_time, end_time, all_day, recurrence, last_updated`

type execer interface {
	ExecContext(ctx context.Context, query string, args ...any) (sql.Result, error)
}

// CreateEvent inserts a cached event and populates its ID and LastUpdated.
func (s *SQLite) CreateEvent(ctx context.Context, ev *model.Event) error {
	return insertEvent(ctx, s.db, ev)
}

func insertEvent(ctx context.Context, db execer, ev *model.Event) error {
	now := time.Now().UTC().Format(timeLayout)
	res, err := db.ExecContext(ctx,
		`INSERT INTO events (calendar_id, event_id, title, description, location,
			start_time, end_time, all_day, recurrence, last_updated)
		 VALUES (?, ?, ?, ?, ?, ?, ?, ?, ?, ?)`,
		ev.CalendarID, ev.EventID, ev.Title,
		nullString(ev.Description), nullString(ev.Location),
		ev.StartTime.UTC().Format(timeLayout), ev.EndTime.UTC().Format(timeLayout),
		boolToInt(ev.AllDay), nullString(ev.Recurrence), now,
	)
	if err != nil {
		return fmt.Errorf("insert event: %w", err)
	}
	id, err := res.LastInsertId()
	if err != nil {
		return fmt.Errorf("last insert id: %w", err)
	}
	ev.ID = id
	ev.LastUpdated, _ = time.Parse(timeLayout, now)
	return nil
}

// ListEvents returns events of all feeds whose start lies in [start, end].
func (s *SQLite) ListEvents(ctx context.Context, start, end time.Time) ([]model.Event, error) {
	rows, err := s.db.QueryContext(ctx,
		`SELECT `+eventColumns+` FROM events
		 WHERE start_time >= ? AND start_time <= ?
		 ORDER BY start_time, id`,
		start.UTC().Format(timeLayout), end.UTC().Format(timeLayout),
	)
	if err != nil {
		return nil, fmt.Errorf("query events: %w", err)
	}
	defer func() { _ = rows.Close() }()
	return scanEvents(rows)
}

// ListFeedEvents returns every cached event of one feed.
func (s *SQLite) ListFeedEvents(ctx context.Context, feedID int64) ([]model.Event, error) {
	rows, err := s.db.QueryContext(ctx,
		`SELECT `+eventColumns+` FROM events WHERE calendar_id = ? ORDER BY start_time, id`, feedID,
	)
	if err != nil {
		return nil, fmt.Errorf("query feed events: %w", err)
	}
	defer func() { _ = rows.Close() }()
	return scanEvents(rows)
}

// DeleteEventsByFeed removes all cached events of a feed. Deleting from a
// feed without events succeeds.
func (s *SQLite) DeleteEventsByFeed(ctx context.Context, feedID int64) error {
	if _, err := s.db.ExecContext(ctx, `DELETE FROM events WHERE calendar_id = ?`, feedID); err != nil {
		return fmt.Errorf("delete events: %w", err)
	}
	return nil
}

// ReplaceFeedEvents swaps the cached events of a feed for events and stores
// the derived notes, all in one transaction. It fails with ErrNotFound if the
// feed no longer exists, so a refresh racing a delete leaves no orphans.
// A note equal in title, content and author to one stored before the call is
// skipped and keeps a zero ID; equal notes within one call are all stored. IDs and timestamps are written back into the
// given slices.
func (s *SQLite) ReplaceFeedEvents(ctx context.Context, feedID int64, events []model.Event, notes []model.Note) error {
	tx, err := s.db.BeginTx(ctx, nil)
	if err != nil {
		return fmt.Errorf("begin tx: %w", err)
	}
	defer func() { _ = tx.Rollback() }()

	var count int
	if err := tx.QueryRowContext(ctx,
		`SELECT COUNT(*) FROM calendar_feeds WHERE id = ?`, feedID,
	).Scan(&count); err != nil {
		return fmt.Errorf("check feed: %w", err)
	}
	if count == 0 {
		return fmt.Errorf("feed %d: %w", feedID, model.ErrNotFound)
	}

	if _, err := tx.ExecContext(ctx, `DELETE FROM events WHERE calendar_id = ?`, feedID); err != nil {
		return fmt.Errorf("delete events: %w", err)
	}
	for i := range events {
		events[i].CalendarID = feedID
		if err := insertEvent(ctx, tx, &events[i]); err != nil {
			return err
		}
	}
	if len(notes) > 0 {
		known, err := noteKeys(ctx, tx)
		if err != nil {
			return err
		}
		for i := range notes {
			if known[keyOf(notes[i])] {
				continue
			}
			if err := insertNote(ctx, tx, &notes[i]); err != nil {
				return err
			}
		}
	}
	if err := tx.Commit(); err != nil {
		return fmt.Errorf("commit: %w", err)
	}
	return nil
}

// --- notes ---

// CreateNote inserts a note and populates its ID and CreatedAt.
func (s *SQLite) CreateNote(ctx context.Context, n *model.Note) error {
	return insertNote(ctx, s.db, n)
}

func insertNote(ctx context.Context, db execer, n *model.Note) error {
	now := time.Now().UTC().Format(timeLayout)
	res, err := db.ExecContext(ctx,
		`INSERT INTO notes (title, content, author, created_at) VALUES (?, ?, ?, ?)`,
		n.Title, n.Content, n.Author, now,
	)
	if err != nil {
		return fmt.Errorf("insert note: %w", err)
	}
	id, err := res.LastInsertId()
	if err != nil {
		return fmt.Errorf("last insert id: %w", err)
	}
	n.ID = id
	n.CreatedAt, _ = time.Parse(timeLayout, now)
	return nil
}

type noteKey struct {
	title, content, author string
}

func keyOf(n model.Note) noteKey {
	return noteKey{title: n.Title, content: n.Content, author: n.Author}
}

// noteKeys reads the identity of every stored note.
func noteKeys(ctx context.Context, tx *sql.Tx) (map[noteKey]bool, error) {
	rows, err := tx.QueryContext(ctx, `SELECT title, content, author FROM notes`)
	if err != nil {
		return nil, fmt.Errorf("query note keys: %w", err)
	}
	defer func() { _ = rows.Close() }()

	keys := make(map[noteKey]bool)
	for rows.Next() {
		var k noteKey
		if err := rows.Scan(&k.title, &k.content, &k.author); err != nil {
			return nil, fmt.Errorf("scan note key: %w", err)
		}
		keys[k] = true
	}
	return keys, rows.Err()
}

// GetNote returns a single note by its ID.
func (s *SQLite) GetNote(ctx context.Context, id int64) (*model.Note, error) {
	row := s.db.QueryRowContext(ctx,
		`SELECT id, title, content, author, created_at FROM notes WHERE id = ?`, id,
	)
	n, err := scanNote(row)
	if err != nil {
		return nil, err
	}
	return &n, nil
}

// ListNotes returns all notes, newest first.
func (s *SQLite) ListNotes(ctx context.Context) ([]model.Note, error) {
	rows, err := s.db.QueryContext(ctx,
		`SELECT id, title, content, author, created_at FROM notes ORDER BY id DESC`,
	)
	if err != nil {
		return nil, fmt.Errorf("query notes: %w", err)
	}
	defer func() { _ = rows.Close() }()

	var notes []model.Note
	for rows.Next() {
		n, err := scanNote(rows)
		if err != nil {
			return nil, err
		}
		notes = append(notes, n)
	}
	return notes, rows.Err()
}

// DeleteNote removes a note by its ID.
func (s *SQLite) DeleteNote(ctx context.Context, id int64) error {
	res, err := s.db.ExecContext(ctx, `DELETE FROM notes WHERE id = ?`, id)
	if err != nil {
		return fmt.Errorf("delete note: %w", err)
	}
	return requireAffected(res, "note", id)
}

// --- settings ---

// GetSetting returns the stored JSON value of key.
func (s *SQLite) GetSetting(ctx context.Context, key string) (json.RawMessage, error) {
	var value string
	err := s.db.QueryRowContext(ctx, `SELECT value FROM settings WHERE key = ?`, key).Scan(&value)
	if errors.Is(err, sql.ErrNoRows) {
		return nil, fmt.Errorf("setting %q: %w", key, model.ErrNotFound)
	}
	if err != nil {
		return nil, fmt.Errorf("scan setting: %w", err)
	}
	return json.RawMessage(value), nil
}

// ListSettings returns every stored setting.
func (s *SQLite) ListSettings(ctx context.Context) (map[string]json.RawMessage, error) {
	rows, err := s.db.QueryContext(ctx, `SELECT key, value FROM settings ORDER BY key`)
	if err != nil {
		return nil, fmt.Errorf("query settings: %w", err)
	}
	defer func() { _ = rows.Close() }()

	out := make(map[string]json.RawMessage)
	for rows.Next() {
		var key, value string
		if err := rows.Scan(&key, &value); err != nil {
			return nil, fmt.Errorf("scan setting: %w", err)
		}
		out[key] = json.RawMessage(value)
	}
	return out, rows.Err()
}

// PutSetting inserts or replaces the value of key.
func (s *SQLite) PutSetting(ctx context.Context, key string, value json.RawMessage) error {
	_, err := s.db.ExecContext(ctx,
		`INSERT INTO settings (key, value) VALUES (?, ?)
		 ON CONFLICT(key) DO UPDATE SET value = excluded.value`,
		key, string(value),
	)
	if err != nil {
		return fmt.Errorf("put setting: %w", err)
	}
	return nil
}

// PutSettingIfAbsent stores value only when key has no value yet.
func (s *SQLite) PutSettingIfAbsent(ctx context.Context, key string, value json.RawMessage) error {
	_, err := s.db.ExecContext(ctx,
		`INSERT OR IGNORE INTO settings (key, value) VALUES (?, ?)`, key, string(value),
	)
	if err != nil {
		return fmt.Errorf("seed setting: %w", err)
	}
	return nil
}

// --- helpers ---

func boolToInt(b bool) int {
	if b {
		return 1
	}
	return 0
}

func nullString(s string) sql.NullString {
	return sql.NullString{String: s, Valid: s != ""}
}

func requireAffected(res sql.Result, what string, id int64) error {
	n, err := res.RowsAffected()
	if err != nil {
		return fmt.Errorf("rows affected: %w", err)
	}
	if n == 0 {
		return fmt.Errorf("%s %d: %w", what, id, model.ErrNotFound)
	}
	return nil
}

type scannable interface {
	Scan(dest ...any) error
}

func scanFeed(row scannable) (*model.Feed, error) {
	var f model.Feed
	var typ string
	var active int
	err := row.Scan(&f.ID, &f.Name, &f.URL, &f.Color, &typ, &active)
	if errors.Is(err, sql.ErrNoRows) {
		return nil, fmt.Errorf("feed: %w", model.ErrNotFound)
	}
	if err != nil {
		return nil, fmt.Errorf("scan feed: %w", err)
	}
	f.Type = model.FeedType(typ)
	f.Active = active == 1
	return &f, nil
}

func scanFeeds(rows *sql.Rows) ([]model.Feed, error) {
	var feeds []model.Feed
	for rows.Next() {
		f, err := scanFeed(rows)
		if err != nil {
			return nil, err
		}
		feeds = append(feeds, *f)
	}
	return feeds, rows.Err()
}

func scanEvents(rows *sql.Rows) ([]model.Event, error) {
	var events []model.Event
	for rows.Next() {
		var ev model.Event
		var desc, loc, rec sql.NullString
		var start, end, updated string
		var allDay int
		err := rows.Scan(&ev.ID, &ev.CalendarID, &ev.EventID, &ev.Title, &desc, &loc,
			&start, &end, &allDay, &rec, &updated)
		if err != nil {
			return nil, fmt.Errorf("scan event: %w", err)
		}
		ev.Description = desc.String
		ev.Location = loc.String
		ev.Recurrence = rec.String
		ev.AllDay = allDay == 1
		ev.StartTime, _ = time.Parse(timeLayout, start)
		ev.EndTime, _ = time.Parse(timeLayout, end)
		ev.LastUpdated, _ = time.Parse(timeLayout, updated)
		events = append(events, ev)
	}
	return events, rows.Err()
}

func scanNote(row scannable) (model.Note, error) {
	var n model.Note
	var created string
	err := row.Scan(&n.ID, &n.Title, &n.Content, &n.Author, &created)
	if errors.Is(err, sql.ErrNoRows) {
		return n, fmt.Errorf("note: %w", model.ErrNotFound)
	}
	if err != nil {
		return n, fmt.Errorf("scan note: %w", err)
	}
	n.CreatedAt, _ = time.Parse(timeLayout, created)
	return n, nil
}
