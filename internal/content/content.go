package content

import (
	"bytes"
	"errors"
	"html/template"
	"regexp"
	"strings"
	"unicode"

	"portalchat/internal/models"

	"github.com/microcosm-cc/bluemonday"
	"github.com/yuin/goldmark"
)

var (
	policy        = bluemonday.UGCPolicy()
	stripPolicy   = bluemonday.StrictPolicy()
	markdown      = goldmark.New()
	usernameRegex = regexp.MustCompile(`^[a-zA-Z0-9._-]+$`)
)

// Sanitize removes unsafe HTML from the input string.
// It is used for sanitizing user inputs like display names and messages.
func Sanitize(input string) string {
	return policy.Sanitize(input)
}

// StripTags removes every HTML tag, used for plain text previews.
func StripTags(input string) string {
	return stripPolicy.Sanitize(input)
}

// Escape escapes special characters like "<" to become "&lt;".
// It matches the behavior of html/template and is safe for use in HTML attributes.
func Escape(input string) string {
	return template.HTMLEscapeString(input)
}

// Render converts message markdown into sanitized HTML.
func Render(text string) (string, error) {
	var buf bytes.Buffer
	if err := markdown.Convert([]byte(text), &buf); err != nil {
		return "", err
	}
	return policy.Sanitize(buf.String()), nil
}

// ValidateUsername checks if the username contains only allowed characters
// (alphanumeric, dot, dash, underscore) and is not empty.
func ValidateUsername(username string) error {
	if username == "" {
		return errors.New("username cannot be empty")
	}
	if !usernameRegex.MatchString(username) {
		return errors.New("username contains invalid characters (allowed: alphanumeric, dot, dash, underscore)")
	}
	return nil
}

// ExtractMentions resolves "@token" words in text against the directory.
// A token matches a user name, or a display name with spaces removed,
// case-insensitively. The result maps user id to display name.
func ExtractMentions(text string, directory []models.User) map[string]string {
	mentions := make(map[string]string)
	if !strings.Contains(text, "@") {
		return mentions
	}

	index := make(map[string]models.User, len(directory)*2)
	for _, u := range directory {
		index[strings.ToLower(u.UserName)] = u
		if u.DisplayName != "" {
			index[strings.ToLower(strings.ReplaceAll(u.DisplayName, " ", ""))] = u
		}
	}

	for _, word := range strings.Fields(text) {
		at := strings.IndexByte(word, '@')
		if at < 0 || (at > 0 && isNameRune(rune(word[at-1]))) {
			// Not a mention, e.g. an email address.
			continue
		}
		token := strings.TrimRightFunc(word[at+1:], func(r rune) bool { return !isNameRune(r) })
		token = strings.TrimRight(token, ".-_")
		if token == "" {
			continue
		}
		if u, ok := index[strings.ToLower(token)]; ok {
			name := u.DisplayName
			if name == "" {
				name = u.UserName
			}
			mentions[u.ID] = name
		}
	}
	return mentions
}

func isNameRune(r rune) bool {
	return unicode.IsLetter(r) || unicode.IsDigit(r) || r == '.' || r == '_' || r == '-'
}
