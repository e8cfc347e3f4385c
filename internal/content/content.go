package content

import (
	"errors"
	"html"
	"regexp"
	"strings"

	"github.com/microcosm-cc/bluemonday"
)

var (
	policy        = bluemonday.StrictPolicy()
	usernameRegex = regexp.MustCompile(`^@?[a-zA-Z0-9._-]+$`)
)

// PlainText strips every HTML element from message content and decodes
// entities, leaving text that is safe to print on a terminal.
func PlainText(input string) string {
	return html.UnescapeString(policy.Sanitize(input))
}

// NormalizeUsername returns the username with exactly one leading "@",
// the form the chat service uses for chat map keys and frame addressing.
func NormalizeUsername(username string) string {
	if strings.HasPrefix(username, "@") {
		return username
	}
	return "@" + username
}

// DisplayName drops the leading "@".
func DisplayName(username string) string {
	return strings.TrimPrefix(username, "@")
}

// ValidateUsername checks that the username is non-empty and contains only
// alphanumerics, dot, dash and underscore after an optional "@".
func ValidateUsername(username string) error {
	if username == "" || username == "@" {
		return errors.New("username cannot be empty")
	}
	if !usernameRegex.MatchString(username) {
		return errors.New("username contains invalid characters (allowed: alphanumeric, dot, dash, underscore)")
	}
	return nil
}
