// Package report renders the workflow state as a standalone HTML page.
package report

import (
	"bytes"
	"encoding/json"
	"fmt"
	"html/template"
	"time"

	"github.com/dustin/go-humanize"

	"github.com/f-sync/followback/internal/ratelimit"
	"github.com/f-sync/followback/internal/session"
	"github.com/f-sync/followback/internal/workflow"
)

// PageData captures the state needed to render the report.
type PageData struct {
	GeneratedAt time.Time
	Accounts    []session.Account
	Rate        ratelimit.Status
	Limits      ratelimit.Limits
	Diagnostics session.DiagnosticsReport
}

// Source is the part of a session the report reads.
type Source interface {
	Accounts(filter session.Filter) ([]session.Account, error)
	EvaluateRate(now time.Time) ratelimit.Status
	Limits() ratelimit.Limits
	Diagnostics() session.DiagnosticsReport
}

// CollectPageData reads everything the report shows from source at now.
func CollectPageData(source Source, now time.Time) (PageData, error) {
	accounts, err := source.Accounts(session.Filter{Sort: session.SortRecent})
	if err != nil {
		return PageData{}, err
	}
	return PageData{
		GeneratedAt: now,
		Accounts:    accounts,
		Rate:        source.EvaluateRate(now),
		Limits:      source.Limits(),
		Diagnostics: source.Diagnostics(),
	}, nil
}

// RenderPage assembles the HTML output using the embedded assets and templates.
func RenderPage(pageData PageData) (string, error) {
	cssText, err := embeddedText(embeddedReportCSS)
	if err != nil {
		return "", err
	}
	accountsJSON, err := json.Marshal(pageData.Accounts)
	if err != nil {
		return "", fmt.Errorf("marshal accounts: %w", err)
	}
	viewModel := newPageViewModel(pageData, cssText, string(accountsJSON))
	tmpl, err := parseTemplates(embeddedFS, pageData.GeneratedAt, templateReportFile)
	if err != nil {
		return "", fmt.Errorf("template parse: %w", err)
	}
	var buffer bytes.Buffer
	if err := tmpl.ExecuteTemplate(&buffer, templateReportName, viewModel); err != nil {
		return "", fmt.Errorf("template execute: %w", err)
	}
	return buffer.String(), nil
}

type pageViewModel struct {
	Title       string
	GeneratedAt string

	Rate        rateViewModel
	Sections    []sectionViewModel
	Diagnostics session.DiagnosticsReport

	AccountsJSON template.JS
	CSS          template.CSS
}

type rateViewModel struct {
	Mode           string
	UsedShort      int
	UsedLong       int
	ShortLimit     int
	LongLimit      int
	ShortWindow    string
	LongWindow     string
	CanProceed     bool
	Locked         bool
	WaitText       string
	CooldownEndsAt string
}

type sectionViewModel struct {
	Identifier string
	Label      string
	Accounts   []session.Account
}

func newPageViewModel(pageData PageData, cssText string, accountsJSON string) pageViewModel {
	viewModel := pageViewModel{
		Title:        pageTitleText,
		GeneratedAt:  pageData.GeneratedAt.UTC().Format(time.RFC1123),
		Diagnostics:  pageData.Diagnostics,
		AccountsJSON: template.JS(accountsJSON),
		CSS:          template.CSS(cssText),
		Rate: rateViewModel{
			Mode:        CategoryLabel(string(pageData.Rate.Mode)),
			UsedShort:   pageData.Rate.UsedShort,
			UsedLong:    pageData.Rate.UsedLong,
			ShortLimit:  pageData.Limits.ShortLimit,
			LongLimit:   pageData.Limits.LongLimit,
			ShortWindow: pageData.Limits.ShortWindow.String(),
			LongWindow:  pageData.Limits.LongWindow.String(),
			CanProceed:  pageData.Rate.CanProceed,
			Locked:      pageData.Rate.Locked,
		},
	}
	if pageData.Rate.Wait > 0 {
		viewModel.Rate.WaitText = FormatWait(pageData.Rate.Wait)
	}
	if pageData.Rate.Locked && pageData.Rate.CooldownUntil > 0 {
		viewModel.Rate.CooldownEndsAt = humanize.RelTime(time.UnixMilli(pageData.Rate.CooldownUntil), pageData.GeneratedAt, "ago", "from now")
	}

	grouped := make(map[workflow.Category][]session.Account, len(workflow.AllCategories()))
	for _, account := range pageData.Accounts {
		grouped[account.Category] = append(grouped[account.Category], account)
	}
	for _, category := range workflow.AllCategories() {
		viewModel.Sections = append(viewModel.Sections, sectionViewModel{
			Identifier: string(category),
			Label:      CategoryLabel(string(category)),
			Accounts:   grouped[category],
		})
	}
	return viewModel
}
