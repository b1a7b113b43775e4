package main

import (
	"github.com/spf13/cobra"
	"github.com/spf13/viper"

	"github.com/f-sync/followback/internal/config"
)

const (
	commandUse                = "dump"
	commandShortDescription   = "Write the follow-back review report as a standalone HTML file"
	flagOutName               = "out"
	flagOutDescription        = "Output HTML file path"
	defaultOutputFileName     = "followback_report.html"
	writeSuccessMessageFormat = "Wrote %s (%d accounts)"
	loadErrorFormat           = "open session: %w"
	collectErrorFormat        = "collect report data: %w"
	renderErrorFormat         = "render: %w"
	createFileErrorFormat     = "create %s: %w"
	writeFileErrorFormat      = "write %s: %w"
)

func main() {
	cobra.CheckErr(newDumpCommand(viper.New(), NewDumpApplication()).Execute())
}

func newDumpCommand(configuration *viper.Viper, application DumpApplication) *cobra.Command {
	var outputPath string
	command := &cobra.Command{
		Use:          commandUse,
		Short:        commandShortDescription,
		SilenceUsage: true,
		RunE: func(command *cobra.Command, _ []string) error {
			settings, err := config.Load(configuration)
			if err != nil {
				return err
			}
			logger, err := config.NewLogger(settings.Debug)
			if err != nil {
				return err
			}
			defer func() {
				_ = logger.Sync()
			}()
			application.dependencies.Logger = logger
			return application.Run(command.Context(), DumpConfiguration{Settings: settings, OutputPath: outputPath})
		},
	}

	config.RegisterFlags(command.Flags())
	cobra.CheckErr(config.BindFlags(configuration, command.Flags()))
	command.Flags().StringVar(&outputPath, flagOutName, defaultOutputFileName, flagOutDescription)

	cobra.OnInitialize(func() {
		config.ConfigureEnvironment(configuration)
	})

	return command
}
