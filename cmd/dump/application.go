package main

import (
	"context"
	"fmt"
	"io"
	"os"
	"time"

	"go.uber.org/zap"

	"github.com/f-sync/followback/internal/config"
	"github.com/f-sync/followback/internal/report"
	"github.com/f-sync/followback/internal/session"
)

// ReportSession is the session surface the dump reads and releases.
type ReportSession interface {
	report.Source
	Close() error
}

type DumpConfiguration struct {
	Settings   config.Config
	OutputPath string
}

type DumpDependencies struct {
	OpenSession     func(context.Context, config.Config, *zap.Logger) (ReportSession, error)
	RenderPage      func(report.PageData) (string, error)
	WriteOutputFile func(string, string) error
	Now             func() time.Time
	Logger          *zap.Logger
	Stdout          io.Writer
}

type DumpApplication struct {
	dependencies DumpDependencies
}

func NewDumpApplication() DumpApplication {
	return NewDumpApplicationWithDependencies(newDefaultDumpDependencies())
}

func NewDumpApplicationWithDependencies(dependencies DumpDependencies) DumpApplication {
	defaultDependencies := newDefaultDumpDependencies()

	if dependencies.OpenSession == nil {
		dependencies.OpenSession = defaultDependencies.OpenSession
	}
	if dependencies.RenderPage == nil {
		dependencies.RenderPage = defaultDependencies.RenderPage
	}
	if dependencies.WriteOutputFile == nil {
		dependencies.WriteOutputFile = defaultDependencies.WriteOutputFile
	}
	if dependencies.Now == nil {
		dependencies.Now = defaultDependencies.Now
	}
	if dependencies.Logger == nil {
		dependencies.Logger = defaultDependencies.Logger
	}
	if dependencies.Stdout == nil {
		dependencies.Stdout = defaultDependencies.Stdout
	}

	return DumpApplication{dependencies: dependencies}
}

func (application DumpApplication) Run(executionContext context.Context, configuration DumpConfiguration) error {
	reviewSession, openError := application.dependencies.OpenSession(executionContext, configuration.Settings, application.dependencies.Logger)
	if openError != nil {
		return fmt.Errorf(loadErrorFormat, openError)
	}
	defer reviewSession.Close()

	pageData, collectError := report.CollectPageData(reviewSession, application.dependencies.Now())
	if collectError != nil {
		return fmt.Errorf(collectErrorFormat, collectError)
	}

	pageHTML, renderError := application.dependencies.RenderPage(pageData)
	if renderError != nil {
		return fmt.Errorf(renderErrorFormat, renderError)
	}

	if writeError := application.dependencies.WriteOutputFile(configuration.OutputPath, pageHTML); writeError != nil {
		return writeError
	}

	fmt.Fprintf(application.dependencies.Stdout, writeSuccessMessageFormat+"\n", configuration.OutputPath, len(pageData.Accounts))
	return nil
}

func newDefaultDumpDependencies() DumpDependencies {
	return DumpDependencies{
		OpenSession:     openReportSession,
		RenderPage:      report.RenderPage,
		WriteOutputFile: defaultWriteOutputFile,
		Now:             time.Now,
		Logger:          zap.NewNop(),
		Stdout:          os.Stdout,
	}
}

func openReportSession(ctx context.Context, settings config.Config, logger *zap.Logger) (ReportSession, error) {
	reviewSession, err := session.OpenWithState(ctx, settings.Sources(), settings.State, session.Options{
		Limits: settings.Limits,
		Logger: logger,
	})
	if err != nil {
		return nil, err
	}
	return reviewSession, nil
}

func defaultWriteOutputFile(outputPath string, contents string) error {
	file, createError := os.Create(outputPath)
	if createError != nil {
		return fmt.Errorf(createFileErrorFormat, outputPath, createError)
	}
	defer file.Close()

	if _, writeError := file.WriteString(contents); writeError != nil {
		return fmt.Errorf(writeFileErrorFormat, outputPath, writeError)
	}
	return nil
}
