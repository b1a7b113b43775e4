package identity

import (
	"net/url"
	"regexp"
	"strings"
)

const (
	usernamePattern       = `^[a-z0-9._]{1,30}$`
	usernamePrefix        = "@"
	pathSeparator         = "/"
	indirectionPathMarker = "_u"
)

var usernameRegex = regexp.MustCompile(usernamePattern)

// NormalizeUsername lowercases the value and strips surrounding whitespace and one leading "@".
func NormalizeUsername(raw string) string {
	trimmed := strings.TrimSpace(raw)
	trimmed = strings.TrimPrefix(trimmed, usernamePrefix)
	return strings.ToLower(strings.TrimSpace(trimmed))
}

// IsValidUsername reports whether name is a canonical username.
func IsValidUsername(name string) bool {
	return usernameRegex.MatchString(name)
}

// UsernameFromProfileURL returns the normalized account name encoded in a profile URL.
// The last non-empty path segment is used unless the first segment is an indirection
// marker, in which case the segment following it names the account.
func UsernameFromProfileURL(rawURL string) string {
	trimmedURL := strings.TrimSpace(rawURL)
	if trimmedURL == "" {
		return ""
	}
	path := trimmedURL
	if parsedURL, err := url.Parse(trimmedURL); err == nil {
		path = parsedURL.Path
	}
	segments := make([]string, 0, 4)
	for _, segment := range strings.Split(path, pathSeparator) {
		if segment != "" {
			segments = append(segments, segment)
		}
	}
	if len(segments) == 0 {
		return ""
	}
	if segments[0] == indirectionPathMarker {
		if len(segments) < 2 {
			return ""
		}
		return NormalizeUsername(segments[1])
	}
	return NormalizeUsername(segments[len(segments)-1])
}

// ExtractCandidates returns every pattern-valid username derivable from the record.
func ExtractCandidates(record Record) UsernameSet {
	candidates := make(UsernameSet, 3)
	for _, candidate := range []string{
		NormalizeUsername(record.Title),
		NormalizeUsername(record.Value),
		UsernameFromProfileURL(record.Href),
	} {
		if IsValidUsername(candidate) {
			candidates.Add(candidate)
		}
	}
	return candidates
}

// ExtractPrimaryUsername returns the first non-empty normalized name in priority order
// title, value, profile URL. The result is not validated.
func ExtractPrimaryUsername(record Record) string {
	if title := NormalizeUsername(record.Title); title != "" {
		return title
	}
	if value := NormalizeUsername(record.Value); value != "" {
		return value
	}
	return UsernameFromProfileURL(record.Href)
}
