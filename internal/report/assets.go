package report

import (
	"embed"
	"fmt"
	"html/template"
	"io/fs"
	"time"

	"github.com/dustin/go-humanize"
)

//go:embed web/static/* web/templates/*
var embeddedFS embed.FS

const (
	templateBaseName     = "base"
	templateReportFile   = "web/templates/report.tmpl"
	templateReportName   = "report.tmpl"
	embeddedReportCSS    = "web/static/report.css"
	staticDirectory      = "web/static"
	pageTitleText        = "Not Following Back"
	unknownTimeText      = "unknown"
	embedReadErrorFormat = "embed read %s: %w"
)

func embeddedText(path string) (string, error) {
	content, err := fs.ReadFile(embeddedFS, path)
	if err != nil {
		return "", fmt.Errorf(embedReadErrorFormat, path, err)
	}
	return string(content), nil
}

// StaticAssets exposes the embedded static asset filesystem.
func StaticAssets() (fs.FS, error) {
	return fs.Sub(embeddedFS, staticDirectory)
}

func parseTemplates(fileSystem fs.FS, generatedAt time.Time, files ...string) (*template.Template, error) {
	templateWithFuncs := template.New(templateBaseName).Funcs(template.FuncMap{
		"followedAt": func(timestamp int64) string {
			return describeFollowedAt(timestamp, generatedAt)
		},
		"comma": func(value int) string { return humanize.Comma(int64(value)) },
	})
	return templateWithFuncs.ParseFS(fileSystem, files...)
}

// describeFollowedAt renders an export timestamp relative to now. Export timestamps are seconds.
func describeFollowedAt(timestamp int64, now time.Time) string {
	if timestamp <= 0 {
		return unknownTimeText
	}
	return humanize.RelTime(time.Unix(timestamp, 0), now, "ago", "from now")
}
