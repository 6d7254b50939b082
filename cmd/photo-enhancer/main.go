package main

import (
	"fmt"
	"os"
	"strconv"
	"time"

	"github.com/fpang/photo-enhancer/internal/config"
	"github.com/fpang/photo-enhancer/internal/logging"
	"github.com/rs/zerolog/log"
	"github.com/spf13/cobra"
)

// Set at build time via -ldflags.
var (
	version    = "dev"
	commitHash = ""
	buildTime  = ""
)

// Persistent flags
var (
	configFlag      string
	apiURLFlag      string
	logLevelFlag    string
	metricsFileFlag string
)

// cfg is resolved once in PersistentPreRunE and read by every subcommand.
var cfg *config.Config

// rootCmd is the main Cobra command for the CLI. Without a subcommand it
// starts the interactive shell.
var rootCmd = &cobra.Command{
	Use:   "photo-enhancer",
	Short: "Remove backgrounds and upscale photos with an AI enhancement service",
	Long: `Photo Enhancer uploads a photo to the enhancement service, lets you choose
an enhancement (background removal, or upscaling by 2x or 4x), and shows a
before/after view of the result.

Large photos are compressed before upload: anything over 1 MB is resized to at
most 2048 px on the longer edge and re-encoded to about 1.5 MB.

Examples:
  photo-enhancer                                   # Interactive mode
  photo-enhancer enhance -f holiday.jpg --op upscale --scale 4
  photo-enhancer enhance --pick --op background -o cutout.png
  photo-enhancer health --api-url http://enhancer.lan:8000`,
	SilenceUsage:      true,
	PersistentPreRunE: setup,
	RunE:              runInteractive,
}

func init() {
	rootCmd.PersistentFlags().StringVar(&configFlag, "config", "", "Path to a TOML config file (default: $PHOTO_ENHANCER_CONFIG or ~/.config/photo-enhancer/config.toml)")
	rootCmd.PersistentFlags().StringVar(&apiURLFlag, "api-url", "", "Enhancement service base URL (overrides PHOTO_ENHANCER_API_URL)")
	rootCmd.PersistentFlags().StringVar(&logLevelFlag, "log-level", "", "Log level: debug, info, warn, error")
	rootCmd.PersistentFlags().StringVar(&metricsFileFlag, "metrics-file", "", "Append per-operation metrics as JSON lines to this file")

	rootCmd.AddCommand(enhanceCmd, healthCmd, versionCmd)
}

func main() {
	if err := rootCmd.Execute(); err != nil {
		os.Exit(1)
	}
}

// setup initializes logging and resolves configuration for every command.
func setup(cmd *cobra.Command, args []string) error {
	startTime := time.Now()
	logging.Init()

	loaded, path, exists, err := config.Load(configFlag)
	if err != nil {
		return err
	}

	if apiURLFlag != "" {
		loaded.APIURL = apiURLFlag
	}
	if logLevelFlag != "" {
		loaded.LogLevel = logLevelFlag
	}
	if metricsFileFlag != "" {
		loaded.MetricsFile = metricsFileFlag
	}
	if err := loaded.Validate(); err != nil {
		return fmt.Errorf("invalid flags: %w", err)
	}
	logging.SetLevel(loaded.LogLevel)
	cfg = loaded

	configFile := "none"
	if exists {
		configFile = path
	}
	logging.NewStartupLogger("photo-enhancer "+cmd.Name()).
		Version(version).
		CommitHash(commitHash).
		BuildTime(buildTime).
		Endpoint("enhancer", cfg.APIURL).
		Feature("metrics", cfg.MetricsFile != "").
		Feature("preserveFormat", cfg.Compression.PreserveFormat).
		Config("configFile", configFile).
		Config("defaultScale", strconv.Itoa(cfg.DefaultScale)).
		Config("uploadTimeout", cfg.UploadTimeout().String()).
		Config("enhanceTimeout", cfg.EnhanceTimeout().String()).
		Config("maxDimensionPx", strconv.Itoa(cfg.Compression.MaxDimensionPx)).
		InitDuration(time.Since(startTime)).
		Log()

	log.Debug().Str("command", cmd.CommandPath()).Msg("Configuration resolved")
	return nil
}

var versionCmd = &cobra.Command{
	Use:   "version",
	Short: "Print version information",
	Args:  cobra.NoArgs,
	RunE: func(cmd *cobra.Command, args []string) error {
		fmt.Fprintf(cmd.OutOrStdout(), "photo-enhancer %s", version)
		if commitHash != "" {
			fmt.Fprintf(cmd.OutOrStdout(), " (%s)", commitHash)
		}
		fmt.Fprintln(cmd.OutOrStdout())
		return nil
	},
}
