package chat

import (
	"reflect"
	"testing"
	"time"

	"portalchat/internal/storage"
)

func TestDecodeMessage(t *testing.T) {
	now := time.UnixMilli(1700000005000)

	t.Run("Complete", func(t *testing.T) {
		d := DecodeMessage("t1", storage.Document{ID: "m1", Data: storage.Fields{
			"text":       "hello @bob",
			"authorId":   "alice",
			"authorName": "Alice",
			"sentAt":     int64(1700000000000),
			"mentions":   map[string]any{"bob": "Bob"},
			"reactions":  map[string]any{"👍": []any{"bob"}},
			"attachment": map[string]any{"type": "property", "id": "p1", "title": "Flat"},
			"direction":  "incoming",
		}}, now)

		if !d.Valid() {
			t.Fatalf("expected no warnings, got %v", d.Warnings)
		}
		m := d.Message
		if m.ID != "m1" || m.ThreadID != "t1" {
			t.Errorf("unexpected ids %q/%q", m.ThreadID, m.ID)
		}
		if m.SentAt != 1700000000000 {
			t.Errorf("expected SentAt 1700000000000, got %d", m.SentAt)
		}
		if m.Mentions["bob"] != "Bob" {
			t.Errorf("expected mention of bob, got %v", m.Mentions)
		}
		if !reflect.DeepEqual(m.Reactions["👍"], []string{"bob"}) {
			t.Errorf("unexpected reactions %v", m.Reactions)
		}
		if m.Attachment == nil || m.Attachment.ID != "p1" {
			t.Errorf("unexpected attachment %+v", m.Attachment)
		}
	})

	t.Run("Defaults", func(t *testing.T) {
		d := DecodeMessage("t1", storage.Document{ID: "m2", Data: storage.Fields{
			"text": "no metadata",
		}}, now)

		if d.Valid() {
			t.Fatal("expected warnings for missing fields")
		}
		if !d.SentAtDefaulted || !d.Message.SentAtEstimated || d.Message.SentAt != now.UnixMilli() {
			t.Errorf("expected SentAt to default to now, got %d", d.Message.SentAt)
		}
		if d.Message.AuthorName != "Unknown" {
			t.Errorf("expected Unknown author, got %q", d.Message.AuthorName)
		}
		if d.Message.Reactions == nil || len(d.Message.Reactions) != 0 {
			t.Errorf("expected empty reactions map, got %v", d.Message.Reactions)
		}
		if d.Message.Mentions == nil {
			t.Error("expected empty mentions map")
		}
	})

	t.Run("LegacyTimestamp", func(t *testing.T) {
		d := DecodeMessage("t1", storage.Document{ID: "m3", Data: storage.Fields{
			"authorId":  "alice",
			"timestamp": "2023-11-14T22:13:20Z",
		}}, now)
		if d.SentAtDefaulted {
			t.Fatalf("expected legacy timestamp to be used, warnings %v", d.Warnings)
		}
		if d.Message.SentAt != 1700000000000 {
			t.Errorf("expected 1700000000000, got %d", d.Message.SentAt)
		}
	})

	t.Run("Malformed", func(t *testing.T) {
		d := DecodeMessage("t1", storage.Document{ID: "m4", Data: storage.Fields{
			"authorId":  "alice",
			"sentAt":    "yesterday",
			"reactions": "not a map",
			"direction": "sideways",
			"read":      "yes",
		}}, now)
		if len(d.Warnings) != 4 {
			t.Errorf("expected 4 warnings, got %v", d.Warnings)
		}
		if d.Message.Direction != "" {
			t.Errorf("expected empty direction, got %q", d.Message.Direction)
		}
		if d.Message.SentAt != now.UnixMilli() {
			t.Errorf("expected SentAt fallback, got %d", d.Message.SentAt)
		}
	})
}

func TestNormalizeReactors(t *testing.T) {
	tests := []struct {
		name  string
		raw   any
		want  []string
		valid bool
	}{
		{"Nil", nil, []string{}, true},
		{"BareString", "alice", []string{"alice"}, true},
		{"StringSlice", []string{"alice", "bob", "alice"}, []string{"alice", "bob"}, true},
		{"AnySlice", []any{"alice", " ", "bob"}, []string{"alice", "bob"}, true},
		{"MixedSlice", []any{"alice", 42}, []string{"alice"}, false},
		{"Number", 42, nil, false},
	}

	for _, tt := range tests {
		t.Run(tt.name, func(t *testing.T) {
			got, valid := NormalizeReactors(tt.raw)
			if valid != tt.valid {
				t.Errorf("expected valid=%v, got %v", tt.valid, valid)
			}
			if len(got) != len(tt.want) {
				t.Fatalf("expected %v, got %v", tt.want, got)
			}
			for i := range got {
				if got[i] != tt.want[i] {
					t.Errorf("expected %v, got %v", tt.want, got)
				}
			}
		})
	}
}

func TestNormalizeReactionsDropsEmpty(t *testing.T) {
	got, warnings := NormalizeReactions(map[string]any{
		"👍": []any{},
		"🎉": "bob",
		"❤": nil,
	})
	if len(warnings) != 0 {
		t.Errorf("unexpected warnings %v", warnings)
	}
	if len(got) != 1 || got["🎉"][0] != "bob" {
		t.Errorf("expected only 🎉, got %v", got)
	}
}

func TestToMillis(t *testing.T) {
	tests := []struct {
		in   any
		want int64
		ok   bool
	}{
		{int8(5), 5, true},
		{uint32(1000), 1000, true},
		{float64(1700000000000), 1700000000000, true},
		{time.UnixMilli(42), 42, true},
		{time.Time{}, 0, false},
		{int64(0), 0, false},
		{int64(-3), -3, false},
		{"garbage", 0, false},
		{nil, 0, false},
	}
	for _, tt := range tests {
		got, ok := toMillis(tt.in)
		if ok != tt.ok || (ok && got != tt.want) {
			t.Errorf("toMillis(%v) = %d, %v; want %d, %v", tt.in, got, ok, tt.want, tt.ok)
		}
	}
}
