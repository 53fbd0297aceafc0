package chat

import (
	"errors"
	"fmt"
	"strings"
)

var ErrInvalidReaction = errors.New("invalid reaction")

// ToggleReactors flips userID's membership in the reactor list of emoji and
// returns the updated copy of reactions. An emoji whose list becomes empty is
// removed. added reports the direction of the flip.
func ToggleReactors(reactions map[string][]string, emoji, userID string) (out map[string][]string, added bool) {
	out = make(map[string][]string, len(reactions)+1)
	for k, v := range reactions {
		out[k] = append([]string(nil), v...)
	}

	reactors, _ := NormalizeReactors(out[emoji])
	updated, added := toggle(reactors, userID)
	if len(updated) == 0 {
		delete(out, emoji)
	} else {
		out[emoji] = updated
	}
	return out, added
}

func toggle(reactors []string, userID string) ([]string, bool) {
	for i, id := range reactors {
		if id == userID {
			return append(reactors[:i:i], reactors[i+1:]...), false
		}
	}
	return append(reactors, userID), true
}

func validateEmoji(emoji string) error {
	if strings.TrimSpace(emoji) == "" {
		return fmt.Errorf("%w: empty emoji", ErrInvalidReaction)
	}
	if strings.ContainsAny(emoji, "./`") {
		return fmt.Errorf("%w: %q", ErrInvalidReaction, emoji)
	}
	return nil
}
