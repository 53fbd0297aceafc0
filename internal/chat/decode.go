package chat

import (
	"fmt"
	"math"
	"strings"
	"time"

	"portalchat/internal/models"
	"portalchat/internal/storage"
)

// Warning records a field that was missing or malformed and got a default.
type Warning struct {
	Field  string
	Reason string
}

func (w Warning) String() string {
	return w.Field + ": " + w.Reason
}

// Decoded is a message decoded from a raw document together with every
// default that had to be applied to it.
type Decoded struct {
	Message  models.Message
	Warnings []Warning
	// SentAtDefaulted is set when the document carried no usable timestamp.
	SentAtDefaulted bool
}

func (d Decoded) Valid() bool {
	return len(d.Warnings) == 0
}

// DecodeMessage turns a raw message document into a Message. It never fails:
// missing or malformed fields are default-filled and reported as warnings, so
// one corrupt record cannot take the whole thread down.
func DecodeMessage(threadID string, doc storage.Document, now time.Time) Decoded {
	d := Decoded{Message: models.Message{
		ID:        doc.ID,
		ThreadID:  threadID,
		Mentions:  map[string]string{},
		Reactions: map[string][]string{},
	}}
	data := doc.Data
	warn := func(field, reason string) {
		d.Warnings = append(d.Warnings, Warning{Field: field, Reason: reason})
	}

	d.Message.Text = stringField(data, "text", warn)
	d.Message.AuthorID = stringField(data, "authorId", warn)
	if d.Message.AuthorID == "" {
		warn("authorId", "missing")
	}
	d.Message.AuthorName = stringField(data, "authorName", warn)
	if d.Message.AuthorName == "" {
		d.Message.AuthorName = "Unknown"
	}

	raw, ok := data["sentAt"]
	if !ok {
		// Older records used "timestamp".
		raw, ok = data["timestamp"]
	}
	if ts, valid := toMillis(raw); ok && valid {
		d.Message.SentAt = ts
	} else {
		d.Message.SentAt = now.UnixMilli()
		d.Message.SentAtEstimated = true
		d.SentAtDefaulted = true
		if ok {
			warn("sentAt", fmt.Sprintf("unusable value %v", raw))
		} else {
			warn("sentAt", "missing")
		}
	}

	if v, ok := data["editedAt"]; ok {
		if ts, valid := toMillis(v); valid {
			d.Message.EditedAt = ts
		}
	}

	if v, ok := data["mentions"]; ok && v != nil {
		m, valid := toStringMap(v)
		if !valid {
			warn("mentions", fmt.Sprintf("unexpected type %T", v))
		}
		for id, name := range m {
			if s, ok := name.(string); ok {
				d.Message.Mentions[id] = s
			} else {
				d.Message.Mentions[id] = ""
			}
		}
	}

	if v, ok := data["reactions"]; ok && v != nil {
		reactions, warnings := NormalizeReactions(v)
		d.Message.Reactions = reactions
		d.Warnings = append(d.Warnings, warnings...)
	}

	if v, ok := data["attachment"]; ok && v != nil {
		if m, valid := toStringMap(v); valid {
			d.Message.Attachment = &models.Attachment{
				Type:     asString(m["type"]),
				ID:       asString(m["id"]),
				Title:    asString(m["title"]),
				Subtitle: asString(m["subtitle"]),
				URL:      asString(m["url"]),
			}
		} else {
			warn("attachment", fmt.Sprintf("unexpected type %T", v))
		}
	}

	switch dir := models.Direction(stringField(data, "direction", warn)); dir {
	case "", models.DirectionIncoming, models.DirectionOutgoing:
		d.Message.Direction = dir
	default:
		warn("direction", fmt.Sprintf("unknown value %q", dir))
	}

	if v, ok := data["read"]; ok {
		if b, isBool := v.(bool); isBool {
			d.Message.Read = b
		} else {
			warn("read", fmt.Sprintf("unexpected type %T", v))
		}
	}

	return d
}

// NormalizeReactions decodes the reactions map. Every value goes through
// NormalizeReactors; emojis left without reactors are dropped.
func NormalizeReactions(raw any) (map[string][]string, []Warning) {
	out := map[string][]string{}
	m, ok := toStringMap(raw)
	if !ok {
		return out, []Warning{{Field: "reactions", Reason: fmt.Sprintf("unexpected type %T", raw)}}
	}

	var warnings []Warning
	for emoji, v := range m {
		reactors, ok := NormalizeReactors(v)
		if !ok {
			warnings = append(warnings, Warning{
				Field:  "reactions." + emoji,
				Reason: fmt.Sprintf("unexpected type %T", v),
			})
		}
		if len(reactors) > 0 {
			out[emoji] = reactors
		}
	}
	return out, warnings
}

// NormalizeReactors maps every stored shape of a reactor list to a list of
// user ids. Legacy records stored a single user id as a bare string. The
// second value is false when the input had an unexpected shape.
func NormalizeReactors(raw any) ([]string, bool) {
	return stringList(raw)
}

// stringList accepts a bare string or a list and returns the trimmed,
// deduplicated non-empty strings in their original order.
func stringList(raw any) ([]string, bool) {
	var ids []string
	valid := true
	switch v := raw.(type) {
	case nil:
	case string:
		ids = []string{v}
	case []string:
		ids = v
	case []any:
		for _, item := range v {
			s, ok := item.(string)
			if !ok {
				valid = false
				continue
			}
			ids = append(ids, s)
		}
	default:
		return nil, false
	}

	seen := make(map[string]struct{}, len(ids))
	out := make([]string, 0, len(ids))
	for _, id := range ids {
		id = strings.TrimSpace(id)
		if id == "" {
			continue
		}
		if _, dup := seen[id]; dup {
			continue
		}
		seen[id] = struct{}{}
		out = append(out, id)
	}
	return out, valid
}

func stringField(data storage.Fields, key string, warn func(field, reason string)) string {
	v, ok := data[key]
	if !ok || v == nil {
		return ""
	}
	s, ok := v.(string)
	if !ok {
		warn(key, fmt.Sprintf("unexpected type %T", v))
		return fmt.Sprint(v)
	}
	return s
}

func asString(v any) string {
	s, _ := v.(string)
	return s
}

func toStringMap(v any) (map[string]any, bool) {
	switch m := v.(type) {
	case map[string]any:
		return m, true
	case map[string]string:
		out := make(map[string]any, len(m))
		for k, val := range m {
			out[k] = val
		}
		return out, true
	case map[any]any:
		out := make(map[string]any, len(m))
		for k, val := range m {
			out[fmt.Sprint(k)] = val
		}
		return out, true
	default:
		return map[string]any{}, false
	}
}

// toMillis accepts the timestamp shapes the stores hand back: integers of any
// width (msgpack picks the smallest), floats, time.Time and RFC 3339 strings.
func toMillis(v any) (int64, bool) {
	var ms int64
	switch t := v.(type) {
	case int:
		ms = int64(t)
	case int8:
		ms = int64(t)
	case int16:
		ms = int64(t)
	case int32:
		ms = int64(t)
	case int64:
		ms = t
	case uint8:
		ms = int64(t)
	case uint16:
		ms = int64(t)
	case uint32:
		ms = int64(t)
	case uint64:
		if t > math.MaxInt64 {
			return 0, false
		}
		ms = int64(t)
	case float32:
		ms = int64(t)
	case float64:
		ms = int64(t)
	case time.Time:
		if t.IsZero() {
			return 0, false
		}
		ms = t.UnixMilli()
	case string:
		parsed, err := time.Parse(time.RFC3339Nano, t)
		if err != nil {
			return 0, false
		}
		ms = parsed.UnixMilli()
	default:
		return 0, false
	}
	return ms, ms > 0
}
