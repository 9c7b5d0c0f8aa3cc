// Package classify maps parsed feed records onto cached events and notes.
package classify

import (
	"regexp"
	"strings"

	"family_dash/internal/model"
)

// DefaultAuthor is used for derived notes whose organizer names nobody.
const DefaultAuthor = "Calendar"

var cnPattern = regexp.MustCompile(`CN=([^:]+):`)

// CollectsNotes reports whether records of feed also become notes. Todo and
// notes feeds always do. A feed left at the default person type also does
// when its name reads as a to-do list, for feeds registered before types
// existed.
func CollectsNotes(feed model.Feed) bool {
	switch feed.Type {
	case model.FeedTodo, model.FeedNotes:
		return true
	case model.FeedPerson, "":
		name := strings.ToLower(strings.TrimSpace(feed.Name))
		return strings.Contains(name, "to do") || name == "todo"
	}
	return false
}

// Author derives a note author from an event organizer.
func Author(org *model.Organizer) string {
	if org == nil {
		return DefaultAuthor
	}
	if org.Raw != "" {
		if m := cnPattern.FindStringSubmatch(org.Raw); m != nil {
			if name := strings.TrimSpace(m[1]); name != "" {
				return name
			}
		}
		return DefaultAuthor
	}
	if cn := strings.TrimSpace(org.CN); cn != "" {
		return cn
	}
	if v := strings.TrimSpace(org.Value); v != "" {
		return v
	}
	return DefaultAuthor
}

// Event converts a record into a cached event of feed feedID.
func Event(feedID int64, rec model.RawEvent) model.Event {
	return model.Event{
		CalendarID:  feedID,
		EventID:     rec.EventID,
		Title:       rec.Title,
		Description: rec.Description,
		Location:    rec.Location,
		StartTime:   rec.StartTime,
		EndTime:     rec.EndTime,
		AllDay:      rec.AllDay,
		Recurrence:  rec.Recurrence,
	}
}

// Note converts a record into a derived note. ok is false when the record
// has neither title nor description.
func Note(rec model.RawEvent) (n model.Note, ok bool) {
	title := strings.TrimSpace(rec.Title)
	if title == "" && strings.TrimSpace(rec.Description) == "" {
		return model.Note{}, false
	}
	return model.Note{
		Title:   title,
		Content: rec.Description,
		Author:  Author(rec.Organizer),
	}, true
}

// Split classifies the records of feed into the events to cache and the
// notes to derive.
func Split(feed model.Feed, recs []model.RawEvent) ([]model.Event, []model.Note) {
	events := make([]model.Event, 0, len(recs))
	collect := CollectsNotes(feed)

	var notes []model.Note
	for _, rec := range recs {
		events = append(events, Event(feed.ID, rec))
		if !collect {
			continue
		}
		if n, ok := Note(rec); ok {
			notes = append(notes, n)
		}
	}
	return events, notes
}
