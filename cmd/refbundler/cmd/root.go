package cmd

import (
	"context"
	"os"
	"os/signal"
	"syscall"

	"github.com/spf13/cobra"

	"github.com/okuzmin/refbundler/internal/archive"
	"github.com/okuzmin/refbundler/internal/config"
	"github.com/okuzmin/refbundler/internal/logger"
	"github.com/okuzmin/refbundler/internal/service/bundler"
	"github.com/okuzmin/refbundler/internal/service/packager"
	"github.com/okuzmin/refbundler/internal/version"
)

var (
	// configPath to the configuration YAML file.
	configPath string

	// logLevel overrides the configured console log level.
	logLevel string

	// outputPath is the archive destination for the pack command.
	outputPath string

	// language selects the zipping exclusion filter for the pack command.
	language string

	// rootCmd represents the base command for the reference bundler.
	rootCmd = &cobra.Command{
		Use:   "refbundler",
		Short: "Package source trees and bundle local project references",
		PersistentPreRun: func(_ *cobra.Command, _ []string) {
			// The --log-level flag wins over the configured level.
			if level, ok := logger.ParseLogLevel(logLevel); ok {
				logger.SetLevel(level)
				return
			}

			if cfg, err := config.Load(configPath); err == nil {
				if level, ok := logger.ParseLogLevel(cfg.LogLevel); ok {
					logger.SetLevel(level)
				}
			}
		},
	}

	// packCmd zips a source tree and bundles references best-effort.
	packCmd = &cobra.Command{
		Use:   "pack [source-dir]",
		Short: "Zip a source tree into a deployment archive, bundling dotnet project references",
		Args:  cobra.ExactArgs(1),
		RunE: func(_ *cobra.Command, args []string) error {
			ctx, stop := newSignalContext()
			defer stop()

			options := &packager.Options{
				ConfigPath: configPath,
				SourceDir:  args[0],
				Language:   language,
				OutputPath: outputPath,
			}

			_, err := packager.Run(ctx, options)

			return err
		},
	}

	// bundleCmd folds project references into an existing archive.
	bundleCmd = &cobra.Command{
		Use:   "bundle [source-dir] [archive]",
		Short: "Bundle local project references into an existing deployment archive",
		Args:  cobra.ExactArgs(2),
		RunE: func(_ *cobra.Command, args []string) error {
			ctx, stop := newSignalContext()
			defer stop()

			options := &bundler.Options{
				ConfigPath:  configPath,
				RootDir:     args[0],
				ArchivePath: args[1],
			}

			return bundler.Run(ctx, options)
		},
	}
)

// newSignalContext returns a context cancelled on SIGINT or SIGTERM.
func newSignalContext() (context.Context, context.CancelFunc) {
	return signal.NotifyContext(context.Background(), syscall.SIGTERM, syscall.SIGINT)
}

// Execute runs the refbundler CLI and exits with non-zero status on error.
func Execute() {
	version.AttachCobraVersionCommand(rootCmd)

	if err := rootCmd.Execute(); err != nil {
		os.Exit(1)
	}
}

//nolint:gochecknoinits // Required by Cobra CLI framework architecture.
func init() {
	// Setup command flags with consistent naming and descriptions.
	rootCmd.PersistentFlags().StringVarP(&configPath, "config", "c", config.DefaultConfigFilename, "path to configuration file")
	rootCmd.PersistentFlags().StringVar(&logLevel, "log-level", "", "console log level (debug, info, warn, error)")

	packCmd.Flags().StringVarP(&outputPath, "output", "o", "", "archive destination (defaults to the system temp directory)")
	packCmd.Flags().StringVarP(&language, "language", "l", archive.LangDotnet, "source language for exclusion filters (dotnet, node, python)")

	rootCmd.AddCommand(packCmd, bundleCmd)
}
