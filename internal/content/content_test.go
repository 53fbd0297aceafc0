package content

import (
	"reflect"
	"strings"
	"testing"

	"portalchat/internal/models"
)

func TestSanitize(t *testing.T) {
	tests := []struct {
		name     string
		input    string
		expected string
	}{
		{"Plain text", "Hello World", "Hello World"},
		{"HTML tags", "Hello <b>World</b>", "Hello <b>World</b>"},
		{"Script tag", "<script>alert('xss')</script>Hello", "Hello"},
		{"Complex HTML", "<a href='javascript:alert(1)'>Click me</a>", "Click me"},
		{"Emoji", "I am 🤖", "I am 🤖"},
	}

	for _, tt := range tests {
		t.Run(tt.name, func(t *testing.T) {
			if got := Sanitize(tt.input); got != tt.expected {
				t.Errorf("Sanitize() = %v, want %v", got, tt.expected)
			}
		})
	}
}

func TestEscape(t *testing.T) {
	tests := []struct {
		name     string
		input    string
		expected string
	}{
		{"Plain text", "Hello World", "Hello World"},
		{"HTML chars", "<div>Hello</div>", "&lt;div&gt;Hello&lt;/div&gt;"},
		{"Quotes", `"Hello" 'World'`, "&#34;Hello&#34; &#39;World&#39;"},
		{"Emoji", "I am 🤖", "I am 🤖"},
	}

	for _, tt := range tests {
		t.Run(tt.name, func(t *testing.T) {
			if got := Escape(tt.input); got != tt.expected {
				t.Errorf("Escape() = %v, want %v", got, tt.expected)
			}
		})
	}
}

func TestValidateUsername(t *testing.T) {
	tests := []struct {
		name    string
		input   string
		wantErr bool
	}{
		{"Valid alphanumeric", "user123", false},
		{"Valid with dot", "user.name", false},
		{"Valid with dash", "user-name", false},
		{"Valid with underscore", "user_name", false},
		{"Invalid space", "user name", true},
		{"Invalid special char", "user@name", true},
		{"Invalid script", "<script>", true},
		{"Empty", "", true},
		{"Mixed case", "User.Name-123", false},
	}

	for _, tt := range tests {
		t.Run(tt.name, func(t *testing.T) {
			if err := ValidateUsername(tt.input); (err != nil) != tt.wantErr {
				t.Errorf("ValidateUsername() error = %v, wantErr %v", err, tt.wantErr)
			}
		})
	}
}

func TestRender(t *testing.T) {
	got, err := Render("**bold** <script>alert(1)</script>")
	if err != nil {
		t.Fatalf("Render failed: %v", err)
	}
	if !strings.Contains(got, "<strong>bold</strong>") {
		t.Errorf("expected bold markup, got %q", got)
	}
	if strings.Contains(got, "<script>") {
		t.Errorf("script survived rendering: %q", got)
	}
}

func TestExtractMentions(t *testing.T) {
	directory := []models.User{
		{ID: "u1", UserName: "bob", DisplayName: "Bob Stone"},
		{ID: "u2", UserName: "alice", DisplayName: "Alice"},
		{ID: "u3", UserName: "carol.k"},
	}

	tests := []struct {
		name string
		text string
		want map[string]string
	}{
		{"NoMentions", "hello there", map[string]string{}},
		{"UserName", "hi @bob", map[string]string{"u1": "Bob Stone"}},
		{"DisplayName", "ping @BobStone!", map[string]string{"u1": "Bob Stone"}},
		{"Several", "@alice, @bob: lunch?", map[string]string{"u1": "Bob Stone", "u2": "Alice"}},
		{"Punctuation", "thanks @carol.k.", map[string]string{"u3": "carol.k"}},
		{"Email", "mail bob@example.com", map[string]string{}},
		{"Unknown", "@dave", map[string]string{}},
	}

	for _, tt := range tests {
		t.Run(tt.name, func(t *testing.T) {
			got := ExtractMentions(tt.text, directory)
			if !reflect.DeepEqual(got, tt.want) {
				t.Errorf("ExtractMentions(%q) = %v, want %v", tt.text, got, tt.want)
			}
		})
	}
}
