package settings

import (
	"context"
	"encoding/json"
	"errors"
	"testing"

	"github.com/google/go-cmp/cmp"

	"family_dash/internal/model"
	"family_dash/internal/storage"
)

func newTestStore(t *testing.T) (*Store, *storage.SQLite) {
	t.Helper()
	db, err := storage.NewSQLite(":memory:")
	if err != nil {
		t.Fatalf("new sqlite: %v", err)
	}
	t.Cleanup(func() { _ = db.Close() })
	return New(db), db
}

func TestGetFallsBackToDefault(t *testing.T) {
	ctx := context.Background()
	st, _ := newTestStore(t)

	got, err := st.Get(ctx, "screensaverTimeout")
	if err != nil {
		t.Fatalf("get: %v", err)
	}
	if diff := cmp.Diff("10", string(got)); diff != "" {
		t.Errorf("default mismatch (-want +got):\n%s", diff)
	}

	if err := st.Update(ctx, "screensaverTimeout", json.RawMessage(`20`)); err != nil {
		t.Fatalf("update: %v", err)
	}
	got, err = st.Get(ctx, "screensaverTimeout")
	if err != nil {
		t.Fatalf("get after update: %v", err)
	}
	if diff := cmp.Diff("20", string(got)); diff != "" {
		t.Errorf("updated value mismatch (-want +got):\n%s", diff)
	}
}

func TestGetUnknownKey(t *testing.T) {
	st, _ := newTestStore(t)
	if _, err := st.Get(context.Background(), "nope"); !errors.Is(err, model.ErrNotFound) {
		t.Errorf("expected ErrNotFound, got %v", err)
	}
}

func TestUpdateValidation(t *testing.T) {
	tests := []struct {
		name    string
		key     string
		value   string
		wantErr bool
	}{
		{name: "number for number", key: "slideshowInterval", value: `45`},
		{name: "string for string", key: "timeFormat", value: ` "24h" `},
		{name: "object for theme", key: "theme", value: `{"weekdays":[],"weekend":"#000000"}`},
		{name: "custom key any kind", key: "showClock", value: `true`},
		{name: "string for number", key: "screensaverTimeout", value: `"10"`, wantErr: true},
		{name: "array for object", key: "theme", value: `["#fff"]`, wantErr: true},
		{name: "null value", key: "familyName", value: `null`, wantErr: true},
		{name: "invalid json", key: "familyName", value: `{oops`, wantErr: true},
		{name: "empty key", key: "", value: `1`, wantErr: true},
	}

	for _, tt := range tests {
		t.Run(tt.name, func(t *testing.T) {
			st, _ := newTestStore(t)
			err := st.Update(context.Background(), tt.key, json.RawMessage(tt.value))
			if tt.wantErr {
				if !errors.Is(err, model.ErrValidation) {
					t.Fatalf("expected ErrValidation, got %v", err)
				}
				return
			}
			if err != nil {
				t.Fatalf("update: %v", err)
			}
		})
	}
}

func TestSeedKeepsExistingValues(t *testing.T) {
	ctx := context.Background()
	st, db := newTestStore(t)

	if err := db.PutSetting(ctx, "familyName", json.RawMessage(`"Smith"`)); err != nil {
		t.Fatalf("put: %v", err)
	}
	if err := st.Seed(ctx); err != nil {
		t.Fatalf("seed: %v", err)
	}

	stored, err := db.ListSettings(ctx)
	if err != nil {
		t.Fatalf("list: %v", err)
	}
	if diff := cmp.Diff(len(Defaults()), len(stored)); diff != "" {
		t.Errorf("seeded key count mismatch (-want +got):\n%s", diff)
	}
	if diff := cmp.Diff(`"Smith"`, string(stored["familyName"])); diff != "" {
		t.Errorf("seed overwrote familyName (-want +got):\n%s", diff)
	}
}

func TestAllAndReset(t *testing.T) {
	ctx := context.Background()
	st, _ := newTestStore(t)

	if err := st.UpdateMany(ctx, map[string]json.RawMessage{
		"weatherUnit": json.RawMessage(`"metric"`),
		"showClock":   json.RawMessage(`true`),
	}); err != nil {
		t.Fatalf("update many: %v", err)
	}

	all, err := st.All(ctx)
	if err != nil {
		t.Fatalf("all: %v", err)
	}
	if diff := cmp.Diff(`"metric"`, string(all["weatherUnit"])); diff != "" {
		t.Errorf("weatherUnit mismatch (-want +got):\n%s", diff)
	}
	if diff := cmp.Diff(`"12h"`, string(all["timeFormat"])); diff != "" {
		t.Errorf("timeFormat default mismatch (-want +got):\n%s", diff)
	}

	if err := st.Reset(ctx); err != nil {
		t.Fatalf("reset: %v", err)
	}
	var unit string
	if err := st.Decode(ctx, "weatherUnit", &unit); err != nil {
		t.Fatalf("decode: %v", err)
	}
	if diff := cmp.Diff("imperial", unit); diff != "" {
		t.Errorf("weatherUnit after reset (-want +got):\n%s", diff)
	}
	var clock bool
	if err := st.Decode(ctx, "showClock", &clock); err != nil {
		t.Fatalf("decode custom: %v", err)
	}
	if !clock {
		t.Error("expected custom key to survive reset")
	}
}

func TestUpdateManyIsAllOrNothing(t *testing.T) {
	ctx := context.Background()
	st, db := newTestStore(t)

	err := st.UpdateMany(ctx, map[string]json.RawMessage{
		"familyName":         json.RawMessage(`"Smith"`),
		"screensaverTimeout": json.RawMessage(`"soon"`),
	})
	if !errors.Is(err, model.ErrValidation) {
		t.Fatalf("expected ErrValidation, got %v", err)
	}
	stored, err := db.ListSettings(ctx)
	if err != nil {
		t.Fatalf("list: %v", err)
	}
	if len(stored) != 0 {
		t.Errorf("expected nothing written, got %v", stored)
	}
}

func TestDecodeTheme(t *testing.T) {
	st, _ := newTestStore(t)

	var theme Theme
	if err := st.Decode(context.Background(), "theme", &theme); err != nil {
		t.Fatalf("decode: %v", err)
	}
	want := Theme{
		Weekdays: []string{"#F8A195", "#B3C9AB", "#A4CCE3", "#C3B1D0", "#F8A195"},
		Weekend:  "#E8D3A2",
	}
	if diff := cmp.Diff(want, theme); diff != "" {
		t.Errorf("theme mismatch (-want +got):\n%s", diff)
	}
}
