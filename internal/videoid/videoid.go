package videoid

import (
	"errors"
	"net/url"
	"strings"
)

// Length is the fixed length of a YouTube video identifier.
const Length = 11

// ErrBadFormat is matched by every ValidationError via errors.Is.
var ErrBadFormat = errors.New("bad_format")

// ID is a validated video identifier. Only Validate and Extract produce one.
type ID string

func (id ID) String() string { return string(id) }

// ValidationError reports why a raw identifier was rejected.
type ValidationError struct {
	Raw    string
	Reason string
}

func (e *ValidationError) Error() string {
	return "invalid video id " + quote(e.Raw) + ": " + e.Reason
}

func (e *ValidationError) Is(target error) bool { return target == ErrBadFormat }

// Validate checks raw against the identifier format: exactly Length characters
// from [A-Za-z0-9_-]. The input is not trimmed.
func Validate(raw string) (ID, error) {
	if len(raw) != Length {
		return "", &ValidationError{Raw: raw, Reason: "bad_format"}
	}
	for i := 0; i < len(raw); i++ {
		if !validChar(raw[i]) {
			return "", &ValidationError{Raw: raw, Reason: "bad_format"}
		}
	}
	return ID(raw), nil
}

// Extract accepts a bare identifier or a YouTube URL (watch, embed, shorts,
// youtu.be) and returns the validated identifier it names.
func Extract(value string) (ID, error) {
	value = strings.TrimSpace(value)
	if id, err := Validate(value); err == nil {
		return id, nil
	}

	u, err := url.Parse(value)
	if err != nil || u.Host == "" {
		// Allow scheme-less input like "youtu.be/abc".
		u, err = url.Parse("https://" + value)
		if err != nil {
			return "", &ValidationError{Raw: value, Reason: "bad_format"}
		}
	}

	host := strings.ToLower(u.Hostname())
	var candidate string
	switch host {
	case "www.youtube.com", "youtube.com", "m.youtube.com":
		if u.Path == "/watch" {
			candidate = u.Query().Get("v")
			break
		}
		for _, prefix := range []string{"/embed/", "/shorts/", "/live/"} {
			if rest, ok := strings.CutPrefix(u.Path, prefix); ok {
				candidate, _, _ = strings.Cut(rest, "/")
				break
			}
		}
	case "youtu.be":
		candidate = strings.TrimPrefix(u.Path, "/")
	}

	if candidate == "" {
		return "", &ValidationError{Raw: value, Reason: "bad_format"}
	}
	return Validate(candidate)
}

func validChar(c byte) bool {
	switch {
	case c >= 'a' && c <= 'z', c >= 'A' && c <= 'Z', c >= '0' && c <= '9':
		return true
	case c == '-' || c == '_':
		return true
	}
	return false
}

func quote(s string) string {
	const max = 64
	if len(s) > max {
		s = s[:max] + "..."
	}
	return `"` + s + `"`
}
