// Package settings provides the dashboard's key/value preferences with
// defaults applied.
package settings

import (
	"bytes"
	"context"
	"encoding/json"
	"errors"
	"fmt"
	"maps"

	"family_dash/internal/model"
	"family_dash/internal/storage"
)

// Theme is the value of the "theme" setting.
type Theme struct {
	Weekdays []string `json:"weekdays"`
	Weekend  string   `json:"weekend"`
}

// Defaults returns the built-in values of every known setting.
func Defaults() map[string]json.RawMessage {
	return map[string]json.RawMessage{
		"timeFormat":         json.RawMessage(`"12h"`),
		"screensaverTimeout": json.RawMessage(`10`),
		"photoDirectory":     json.RawMessage(`"./family-photos"`),
		"weatherLocation":    json.RawMessage(`"auto"`),
		"weatherUnit":        json.RawMessage(`"imperial"`),
		"familyName":         json.RawMessage(`"Helland"`),
		"slideshowInterval":  json.RawMessage(`30`),
		"transitionDuration": json.RawMessage(`1000`),
		"theme":              json.RawMessage(`{"weekdays":["#F8A195","#B3C9AB","#A4CCE3","#C3B1D0","#F8A195"],"weekend":"#E8D3A2"}`),
	}
}

// Store reads and writes settings, falling back to Defaults for keys that
// were never written.
type Store struct {
	store    storage.Storage
	defaults map[string]json.RawMessage
}

// New creates a Store backed by s.
func New(s storage.Storage) *Store {
	return &Store{store: s, defaults: Defaults()}
}

// Seed writes every default that has no stored value yet. Existing values
// are kept.
func (st *Store) Seed(ctx context.Context) error {
	for key, value := range st.defaults {
		if err := st.store.PutSettingIfAbsent(ctx, key, value); err != nil {
			return fmt.Errorf("seed %q: %w", key, err)
		}
	}
	return nil
}

// Get returns the stored value of key, or its default. Unknown keys without a
// stored value yield model.ErrNotFound.
func (st *Store) Get(ctx context.Context, key string) (json.RawMessage, error) {
	value, err := st.store.GetSetting(ctx, key)
	if err == nil {
		return value, nil
	}
	if !errors.Is(err, model.ErrNotFound) {
		return nil, err
	}
	if def, ok := st.defaults[key]; ok {
		return def, nil
	}
	return nil, fmt.Errorf("setting %q: %w", key, model.ErrNotFound)
}

// All returns the defaults overlaid with every stored value.
func (st *Store) All(ctx context.Context) (map[string]json.RawMessage, error) {
	stored, err := st.store.ListSettings(ctx)
	if err != nil {
		return nil, err
	}
	out := maps.Clone(st.defaults)
	maps.Copy(out, stored)
	return out, nil
}

// Update stores value under key. The value must be non-null JSON and, for
// keys with a default, of the same JSON kind as the default.
func (st *Store) Update(ctx context.Context, key string, value json.RawMessage) error {
	if err := st.validate(key, value); err != nil {
		return err
	}
	return st.store.PutSetting(ctx, key, bytes.TrimSpace(value))
}

// UpdateMany validates every entry before writing any of them.
func (st *Store) UpdateMany(ctx context.Context, values map[string]json.RawMessage) error {
	for key, value := range values {
		if err := st.validate(key, value); err != nil {
			return err
		}
	}
	for key, value := range values {
		if err := st.store.PutSetting(ctx, key, bytes.TrimSpace(value)); err != nil {
			return err
		}
	}
	return nil
}

func (st *Store) validate(key string, value json.RawMessage) error {
	if key == "" {
		return fmt.Errorf("%w: setting key is required", model.ErrValidation)
	}
	value = bytes.TrimSpace(value)
	if !json.Valid(value) || kind(value) == "null" {
		return fmt.Errorf("%w: setting %q requires a JSON value", model.ErrValidation, key)
	}
	if def, ok := st.defaults[key]; ok {
		if want, got := kind(def), kind(value); want != got {
			return fmt.Errorf("%w: setting %q must be a %s, got %s", model.ErrValidation, key, want, got)
		}
	}
	return nil
}

// Reset overwrites every known setting with its default. Custom keys are left
// alone.
func (st *Store) Reset(ctx context.Context) error {
	for key, value := range st.defaults {
		if err := st.store.PutSetting(ctx, key, value); err != nil {
			return fmt.Errorf("reset %q: %w", key, err)
		}
	}
	return nil
}

// Decode unmarshals the effective value of key into dst.
func (st *Store) Decode(ctx context.Context, key string, dst any) error {
	value, err := st.Get(ctx, key)
	if err != nil {
		return err
	}
	if err := json.Unmarshal(value, dst); err != nil {
		return fmt.Errorf("decode setting %q: %w", key, err)
	}
	return nil
}

// kind names the JSON type of a valid, trimmed value by its first byte.
func kind(v json.RawMessage) string {
	if len(v) == 0 {
		return "null"
	}
	switch v[0] {
	case '"':
		return "string"
	case '{':
		return "object"
	case '[':
		return "array"
	case 't', 'f':
		return "bool"
	case 'n':
		return "null"
	default:
		return "number"
	}
}
