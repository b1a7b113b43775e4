package report

import (
	"strings"
	"time"

	"golang.org/x/text/cases"
	"golang.org/x/text/language"
)

// CategoryLabel turns an identifier such as "not-found" into "Not Found".
func CategoryLabel(identifier string) string {
	return cases.Title(language.English).String(strings.ReplaceAll(identifier, "-", " "))
}

// FormatWait rounds a wait to whole seconds, or to whole minutes above an hour.
func FormatWait(wait time.Duration) string {
	if wait >= time.Hour {
		return wait.Round(time.Minute).String()
	}
	return wait.Round(time.Second).String()
}
