package main

import (
	"fmt"
	"io"
	"os"
	"time"

	"github.com/jedib0t/go-pretty/v6/table"
	"github.com/jedib0t/go-pretty/v6/text"
	"github.com/mattn/go-isatty"

	"github.com/f-sync/followback/internal/ratelimit"
	"github.com/f-sync/followback/internal/report"
	"github.com/f-sync/followback/internal/session"
	"github.com/f-sync/followback/internal/workflow"
)

type columnAlignment int

const (
	alignLeft columnAlignment = iota
	alignRight
)

func (application *cliApplication) renderTable(headers []string, rows [][]string, aligns []columnAlignment) string {
	columns := len(headers)
	if columns == 0 {
		return ""
	}

	tableWriter := table.NewWriter()
	if isTerminal(application.stdout) {
		tableWriter.SetStyle(table.StyleRounded)
	} else {
		tableWriter.SetStyle(table.StyleDefault)
	}

	header := make(table.Row, columns)
	for index := 0; index < columns; index++ {
		header[index] = headers[index]
	}
	tableWriter.AppendHeader(header)

	for _, row := range rows {
		tableRow := make(table.Row, columns)
		for index := 0; index < columns; index++ {
			if index < len(row) {
				tableRow[index] = row[index]
			} else {
				tableRow[index] = ""
			}
		}
		tableWriter.AppendRow(tableRow)
	}

	columnConfigs := make([]table.ColumnConfig, 0, columns)
	for index := 0; index < columns; index++ {
		align := text.AlignLeft
		if index < len(aligns) && aligns[index] == alignRight {
			align = text.AlignRight
		}
		columnConfigs = append(columnConfigs, table.ColumnConfig{
			Number:      index + 1,
			Align:       align,
			AlignHeader: text.AlignLeft,
		})
	}
	tableWriter.SetColumnConfigs(columnConfigs)

	return tableWriter.Render()
}

func (application *cliApplication) accountsTable(accounts []session.Account) string {
	now := application.now()
	rows := make([][]string, 0, len(accounts))
	for _, account := range accounts {
		pinned := ""
		if account.Pinned {
			pinned = valueYes
		}
		visited := ""
		if account.Visited {
			visited = valueYes
		}
		rows = append(rows, []string{
			account.Username,
			report.CategoryLabel(string(account.Category)),
			pinned,
			visited,
			describeFollowedAt(account.FollowedAt, now),
			account.ProfileURL,
		})
	}
	return application.renderTable(
		[]string{"Username", "Category", "Pinned", "Visited", "Followed", "Profile"},
		rows,
		nil,
	)
}

func (application *cliApplication) countsTable(counts workflow.Counts) string {
	rows := [][]string{
		{report.CategoryLabel(string(workflow.CategoryPending)), formatCount(counts.Pending)},
		{report.CategoryLabel(string(workflow.CategoryToDecide)), formatCount(counts.ToDecide)},
		{report.CategoryLabel(string(workflow.CategoryNotFound)), formatCount(counts.NotFound)},
		{report.CategoryLabel(string(workflow.CategoryDone)), formatCount(counts.Done)},
		{"Pinned", formatCount(counts.Pinned)},
		{"Visited", formatCount(counts.Visited)},
	}
	return application.renderTable([]string{"Category", "Accounts"}, rows, []columnAlignment{alignLeft, alignRight})
}

func (application *cliApplication) rateTable(status ratelimit.Status, limits ratelimit.Limits, now time.Time) string {
	wait := ""
	if !status.CanProceed {
		wait = report.FormatWait(status.Wait)
	}
	rows := [][]string{
		{"Mode", string(status.Mode)},
		{fmt.Sprintf("Used in %s", limits.ShortWindow), fmt.Sprintf("%d / %d", status.UsedShort, limits.ShortLimit)},
		{fmt.Sprintf("Used in %s", limits.LongWindow), fmt.Sprintf("%d / %d", status.UsedLong, limits.LongLimit)},
		{"Can unfollow", yesNo(status.CanProceed)},
		{"Wait", wait},
		{"Cooldown", describeCooldown(status.CooldownUntil, now)},
	}
	return application.renderTable([]string{"Rate gate", "Value"}, rows, nil)
}

func isTerminal(writer io.Writer) bool {
	file, ok := writer.(*os.File)
	if !ok {
		return false
	}
	fd := file.Fd()
	return isatty.IsTerminal(fd) || isatty.IsCygwinTerminal(fd)
}
