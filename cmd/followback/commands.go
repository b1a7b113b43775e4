package main

import (
	"context"
	"errors"
	"fmt"
	"strconv"
	"time"

	"github.com/dustin/go-humanize"
	"github.com/spf13/cobra"

	"github.com/f-sync/followback/internal/config"
	"github.com/f-sync/followback/internal/ratelimit"
	"github.com/f-sync/followback/internal/report"
	"github.com/f-sync/followback/internal/session"
	"github.com/f-sync/followback/internal/workflow"
)

const (
	flagCategoryName        = "category"
	flagCategoryDescription = "Category to list: pending, tbd, not-found, done, pinned or all"
	flagQueryName           = "query"
	flagQueryDescription    = "Only list usernames containing this text"
	flagSortName            = "sort"
	flagSortDescription     = "Sort order: recent, oldest or alpha"
	flagYesName             = "yes"
	flagYesDescription      = "Confirm clearing every category, pin and visit"
	valueYes                = "yes"
	valueNo                 = "no"
	valueUnknown            = "unknown"
	relativeAgo             = "ago"
	relativeFromNow         = "from now"
	messageTransitionNoop   = "%s is already %s\n"
	messageTransitionDone   = "%s moved from %s to %s\n"
	messagePinned           = "%s pinned\n"
	messageUnpinned         = "%s unpinned\n"
	messageVisited          = "%s marked as visited\n"
	messageModeCurrent      = "safety mode: %s\n"
	messageModeChanged      = "safety mode set to %s\n"
	messageResetDone        = "workflow state cleared\n"
	messageNoAccounts       = "no accounts match\n"
	errMessageBlocked       = "unfollow blocked by the rate gate"
	errMessageResetConfirm  = "refusing to reset without --yes"
	blockedWaitFormat       = "%w: next unfollow allowed in %s"
)

var (
	errTransitionBlocked = errors.New(errMessageBlocked)
	errResetNotConfirmed = errors.New(errMessageResetConfirm)
)

func (application *cliApplication) listCommand() *cobra.Command {
	var category, query, sortOrder string
	command := &cobra.Command{
		Use:   "list",
		Short: "List flagged accounts",
		Args:  cobra.NoArgs,
		RunE: func(command *cobra.Command, _ []string) error {
			return application.withSession(command, func(_ context.Context, reviewSession *session.Session) error {
				accounts, err := reviewSession.Accounts(session.Filter{Category: category, Query: query, Sort: session.SortOrder(sortOrder)})
				if err != nil {
					return err
				}
				if len(accounts) == 0 {
					fmt.Fprint(application.stdout, messageNoAccounts)
					return nil
				}
				fmt.Fprintln(application.stdout, application.accountsTable(accounts))
				return nil
			})
		},
	}
	command.Flags().StringVar(&category, flagCategoryName, session.FilterAll, flagCategoryDescription)
	command.Flags().StringVar(&query, flagQueryName, "", flagQueryDescription)
	command.Flags().StringVar(&sortOrder, flagSortName, string(session.SortRecent), flagSortDescription)
	return command
}

func (application *cliApplication) statusCommand() *cobra.Command {
	return &cobra.Command{
		Use:   "status",
		Short: "Show category counts and the rate gate",
		Args:  cobra.NoArgs,
		RunE: func(command *cobra.Command, _ []string) error {
			return application.withSession(command, func(_ context.Context, reviewSession *session.Session) error {
				now := application.now()
				fmt.Fprintln(application.stdout, application.countsTable(reviewSession.Counts()))
				fmt.Fprintln(application.stdout, application.rateTable(reviewSession.EvaluateRate(now), reviewSession.Limits(), now))
				return nil
			})
		},
	}
}

func (application *cliApplication) markCommand() *cobra.Command {
	return &cobra.Command{
		Use:   "mark <username> <category>",
		Short: "Move an account to pending, tbd, not-found or done",
		Args:  cobra.ExactArgs(2),
		RunE: func(command *cobra.Command, arguments []string) error {
			target, err := workflow.ParseCategory(arguments[1])
			if err != nil {
				return err
			}
			return application.withSession(command, func(ctx context.Context, reviewSession *session.Session) error {
				result, err := reviewSession.RequestTransition(ctx, arguments[0], target, application.now())
				if err != nil {
					return err
				}
				switch {
				case result.Blocked:
					fmt.Fprintln(application.stdout, application.rateTable(result.Rate, reviewSession.Limits(), application.now()))
					return fmt.Errorf(blockedWaitFormat, errTransitionBlocked, report.FormatWait(result.Wait))
				case !result.Changed:
					fmt.Fprintf(application.stdout, messageTransitionNoop, result.Username, report.CategoryLabel(string(result.To)))
				default:
					fmt.Fprintf(application.stdout, messageTransitionDone, result.Username, report.CategoryLabel(string(result.From)), report.CategoryLabel(string(result.To)))
				}
				return nil
			})
		},
	}
}

func (application *cliApplication) pinCommand() *cobra.Command {
	return application.accountCommand("pin <username>", "Pin a pending account to the top of every listing", messagePinned,
		func(ctx context.Context, reviewSession *session.Session, username string) error {
			return reviewSession.Pin(ctx, username)
		})
}

func (application *cliApplication) unpinCommand() *cobra.Command {
	return application.accountCommand("unpin <username>", "Remove a pin", messageUnpinned,
		func(ctx context.Context, reviewSession *session.Session, username string) error {
			return reviewSession.Unpin(ctx, username)
		})
}

func (application *cliApplication) visitCommand() *cobra.Command {
	return application.accountCommand("visit <username>", "Record that a profile was opened", messageVisited,
		func(ctx context.Context, reviewSession *session.Session, username string) error {
			return reviewSession.MarkVisited(ctx, username)
		})
}

func (application *cliApplication) accountCommand(use string, short string, successFormat string, action func(context.Context, *session.Session, string) error) *cobra.Command {
	return &cobra.Command{
		Use:   use,
		Short: short,
		Args:  cobra.ExactArgs(1),
		RunE: func(command *cobra.Command, arguments []string) error {
			return application.withSession(command, func(ctx context.Context, reviewSession *session.Session) error {
				if err := action(ctx, reviewSession, arguments[0]); err != nil {
					return err
				}
				fmt.Fprintf(application.stdout, successFormat, arguments[0])
				return nil
			})
		},
	}
}

func (application *cliApplication) verifyCommand() *cobra.Command {
	return &cobra.Command{
		Use:   "verify <username>",
		Short: "Show where a username appears in the exports",
		Args:  cobra.ExactArgs(1),
		RunE: func(command *cobra.Command, arguments []string) error {
			return application.withSession(command, func(_ context.Context, reviewSession *session.Session) error {
				verification := reviewSession.Verify(arguments[0])
				fmt.Fprintln(application.stdout, application.renderTable(
					[]string{"Username", "In following", "In followers", "Flagged"},
					[][]string{{verification.Username, yesNo(verification.InFollowing), yesNo(verification.InFollowers), yesNo(verification.Flagged)}},
					nil,
				))
				return nil
			})
		},
	}
}

func (application *cliApplication) modeCommand() *cobra.Command {
	return &cobra.Command{
		Use:   "mode [strict|risk]",
		Short: "Show or change the safety mode",
		Args:  cobra.MaximumNArgs(1),
		RunE: func(command *cobra.Command, arguments []string) error {
			var target ratelimit.Mode
			if len(arguments) == 1 {
				parsed, err := ratelimit.ParseMode(arguments[0])
				if err != nil {
					return err
				}
				target = parsed
			}
			return application.withSession(command, func(ctx context.Context, reviewSession *session.Session) error {
				if target == "" {
					fmt.Fprintf(application.stdout, messageModeCurrent, reviewSession.Mode())
					return nil
				}
				if err := reviewSession.SetMode(ctx, target); err != nil {
					return err
				}
				fmt.Fprintf(application.stdout, messageModeChanged, target)
				return nil
			})
		},
	}
}

func (application *cliApplication) resetCommand() *cobra.Command {
	var confirmed bool
	command := &cobra.Command{
		Use:   "reset",
		Short: "Clear every category, pin, visit and the cooldown",
		Args:  cobra.NoArgs,
		RunE: func(command *cobra.Command, _ []string) error {
			if !confirmed {
				return errResetNotConfirmed
			}
			return application.withSession(command, func(ctx context.Context, reviewSession *session.Session) error {
				if err := reviewSession.Reset(ctx); err != nil {
					return err
				}
				fmt.Fprint(application.stdout, messageResetDone)
				return nil
			})
		},
	}
	command.Flags().BoolVar(&confirmed, flagYesName, false, flagYesDescription)
	return command
}

func (application *cliApplication) diagnosticsCommand() *cobra.Command {
	return &cobra.Command{
		Use:   "diagnostics",
		Short: "Show how both exports were parsed",
		Args:  cobra.NoArgs,
		RunE: func(command *cobra.Command, _ []string) error {
			return application.withSession(command, func(_ context.Context, reviewSession *session.Session) error {
				diagnostics := reviewSession.Diagnostics()
				rows := [][]string{
					diagnosticsRow("followers", diagnostics.Followers.Total, diagnostics.Followers.Parsed, diagnostics.Followers.Invalid, diagnostics.Followers.Unique, diagnostics.FollowersMalformed),
					diagnosticsRow("following", diagnostics.Following.Total, diagnostics.Following.Parsed, diagnostics.Following.Invalid, diagnostics.Following.Unique, diagnostics.FollowingMalformed),
				}
				fmt.Fprintln(application.stdout, application.renderTable(
					[]string{"Export", "Entries", "Parsed", "Invalid", "Unique", "Malformed"},
					rows,
					[]columnAlignment{alignLeft, alignRight, alignRight, alignRight, alignRight, alignLeft},
				))
				fmt.Fprintf(application.stdout, "flagged: %s\n", humanize.Comma(int64(diagnostics.Flagged)))
				return nil
			})
		},
	}
}

func (application *cliApplication) configCommand() *cobra.Command {
	command := &cobra.Command{
		Use:   "config",
		Short: "Configuration helpers",
	}
	command.AddCommand(&cobra.Command{
		Use:   "sample",
		Short: "Print a TOML configuration file holding every default",
		Args:  cobra.NoArgs,
		RunE: func(*cobra.Command, []string) error {
			data, err := config.SampleTOML()
			if err != nil {
				return err
			}
			_, err = application.stdout.Write(data)
			return err
		},
	})
	return command
}

func diagnosticsRow(name string, total, parsed, invalid, unique int, malformed bool) []string {
	return []string{
		name,
		humanize.Comma(int64(total)),
		humanize.Comma(int64(parsed)),
		humanize.Comma(int64(invalid)),
		humanize.Comma(int64(unique)),
		yesNo(malformed),
	}
}

func describeFollowedAt(timestamp int64, now time.Time) string {
	if timestamp <= 0 {
		return valueUnknown
	}
	return humanize.RelTime(time.Unix(timestamp, 0), now, relativeAgo, relativeFromNow)
}

func describeCooldown(cooldownUntil int64, now time.Time) string {
	if cooldownUntil <= 0 {
		return valueNo
	}
	return humanize.RelTime(time.UnixMilli(cooldownUntil), now, relativeAgo, relativeFromNow)
}

func yesNo(value bool) string {
	if value {
		return valueYes
	}
	return valueNo
}

func formatCount(value int) string {
	return strconv.Itoa(value)
}
