// Package model defines the domain types used across the application.
package model

import (
	"fmt"
	"net/url"
	"strings"
	"time"
)

// FeedType is the semantic kind of a calendar feed.
type FeedType string

// Supported feed types.
const (
	FeedPerson FeedType = "person"
	FeedMeal   FeedType = "meal"
	FeedTodo   FeedType = "todo"
	FeedNotes  FeedType = "notes"
)

// DefaultFeedColor is the display color assigned when none is given.
const DefaultFeedColor = "#F8A195"

// ParseFeedType converts a string into a FeedType. An empty string yields
// FeedPerson.
func ParseFeedType(s string) (FeedType, error) {
	switch FeedType(strings.ToLower(strings.TrimSpace(s))) {
	case "", FeedPerson:
		return FeedPerson, nil
	case FeedMeal:
		return FeedMeal, nil
	case FeedTodo:
		return FeedTodo, nil
	case FeedNotes:
		return FeedNotes, nil
	}
	return "", fmt.Errorf("%w: unknown feed type %q, use: person, meal, todo, notes", ErrValidation, s)
}

// Feed represents a configured remote iCal calendar.
type Feed struct {
	ID     int64    `json:"id"`
	Name   string   `json:"name"`
	URL    string   `json:"url"`
	Color  string   `json:"color"`
	Type   FeedType `json:"type"`
	Active bool     `json:"active"`
}

// Normalize trims input and fills defaulted fields.
func (f *Feed) Normalize() {
	f.Name = strings.TrimSpace(f.Name)
	f.URL = strings.TrimSpace(f.URL)
	f.Color = strings.TrimSpace(f.Color)
	if f.Color == "" {
		f.Color = DefaultFeedColor
	}
	if f.Type == "" {
		f.Type = FeedPerson
	}
}

// Validate reports a wrapped ErrValidation when the feed cannot be stored.
func (f *Feed) Validate() error {
	if f.Name == "" {
		return fmt.Errorf("%w: name is required", ErrValidation)
	}
	if err := validateFeedURL(f.URL); err != nil {
		return err
	}
	if _, err := ParseFeedType(string(f.Type)); err != nil {
		return err
	}
	return nil
}

// FeedPatch holds the fields of a partial feed update. Nil fields are left
// untouched.
type FeedPatch struct {
	Name   *string   `json:"name,omitempty"`
	URL    *string   `json:"url,omitempty"`
	Color  *string   `json:"color,omitempty"`
	Type   *FeedType `json:"type,omitempty"`
	Active *bool     `json:"active,omitempty"`
}

// Validate checks the provided fields only.
func (p FeedPatch) Validate() error {
	if p.Name != nil && strings.TrimSpace(*p.Name) == "" {
		return fmt.Errorf("%w: name cannot be empty", ErrValidation)
	}
	if p.URL != nil {
		if err := validateFeedURL(strings.TrimSpace(*p.URL)); err != nil {
			return err
		}
	}
	if p.Type != nil {
		if _, err := ParseFeedType(string(*p.Type)); err != nil {
			return err
		}
	}
	return nil
}

// Empty reports whether the patch changes nothing.
func (p FeedPatch) Empty() bool {
	return p.Name == nil && p.URL == nil && p.Color == nil && p.Type == nil && p.Active == nil
}

// Apply merges the patch into f.
func (p FeedPatch) Apply(f *Feed) {
	if p.Name != nil {
		f.Name = strings.TrimSpace(*p.Name)
	}
	if p.URL != nil {
		f.URL = strings.TrimSpace(*p.URL)
	}
	if p.Color != nil {
		f.Color = strings.TrimSpace(*p.Color)
	}
	if p.Type != nil {
		t, _ := ParseFeedType(string(*p.Type))
		f.Type = t
	}
	if p.Active != nil {
		f.Active = *p.Active
	}
	f.Normalize()
}

func validateFeedURL(raw string) error {
	if raw == "" {
		return fmt.Errorf("%w: url is required", ErrValidation)
	}
	u, err := url.Parse(raw)
	if err != nil {
		return fmt.Errorf("%w: invalid url %q", ErrValidation, raw)
	}
	switch strings.ToLower(u.Scheme) {
	case "http", "https", "webcal":
	default:
		return fmt.Errorf("%w: url scheme must be http, https or webcal", ErrValidation)
	}
	if u.Host == "" {
		return fmt.Errorf("%w: url %q has no host", ErrValidation, raw)
	}
	return nil
}

// Event is a cached occurrence materialized from a feed.
type Event struct {
	ID          int64     `json:"id"`
	CalendarID  int64     `json:"calendarId"`
	EventID     string    `json:"eventId"`
	Title       string    `json:"title"`
	Description string    `json:"description,omitempty"`
	Location    string    `json:"location,omitempty"`
	StartTime   time.Time `json:"startTime"`
	EndTime     time.Time `json:"endTime"`
	AllDay      bool      `json:"allDay"`
	Recurrence  string    `json:"recurrence,omitempty"`
	LastUpdated time.Time `json:"lastUpdated"`
}

// Note is a shared to-do or note, created by a user or derived from a feed.
type Note struct {
	ID        int64     `json:"id"`
	Title     string    `json:"title"`
	Content   string    `json:"content"`
	Author    string    `json:"author"`
	CreatedAt time.Time `json:"createdAt"`
}

// Validate reports a wrapped ErrValidation for notes missing required fields.
func (n *Note) Validate() error {
	if strings.TrimSpace(n.Title) == "" {
		return fmt.Errorf("%w: title is required", ErrValidation)
	}
	if strings.TrimSpace(n.Author) == "" {
		return fmt.Errorf("%w: author is required", ErrValidation)
	}
	return nil
}

// Organizer is the ORGANIZER of a parsed VEVENT. Raw is set when the value
// arrived as an unstructured string; otherwise CN and Value carry the
// parameter and the property value.
type Organizer struct {
	Raw   string
	CN    string
	Value string
}

// RawEvent is a VEVENT as produced by the feed parser, before it is tied to a
// feed in the cache.
type RawEvent struct {
	EventID     string
	Title       string
	Description string
	Location    string
	StartTime   time.Time
	EndTime     time.Time
	AllDay      bool
	Recurrence  string
	Organizer   *Organizer
}
