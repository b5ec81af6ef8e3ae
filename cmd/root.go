package cmd

import (
	"fmt"
	"log/slog"

	"github.com/sergev/stim/config"
	"github.com/sergev/stim/logging"
	"github.com/spf13/cobra"
)

// Version is set at build time.
var Version = "dev"

var (
	configFile string
	logLevel   string

	conf   *config.Config
	logger *slog.Logger
)

var rootCmd = &cobra.Command{
	Use:   "stim",
	Short: "A CLI program which runs neurostimulation experiments",
	Long: "The stim tool runs operator-driven stimulation experiments on a WaveWriter\n" +
		"stimulator: it administers a randomized trial sequence and records one\n" +
		"measurement per trial.",
	CompletionOptions: cobra.CompletionOptions{
		HiddenDefaultCmd: true,
	},
	SilenceUsage: true,
	PersistentPreRun: func(cmd *cobra.Command, args []string) {
		level, err := logging.ParseLevel(logLevel)
		if err != nil {
			cobra.CheckErr(err)
		}
		logger = logging.New(level)

		// Initialize configuration
		conf, err = config.Load(configFile)
		if err != nil {
			cobra.CheckErr(fmt.Errorf("failed to initialize config: %w", err))
		}
	},
}

func init() {
	rootCmd.PersistentFlags().StringVar(&configFile, "config", "", "configuration file (default ~/.stim)")
	rootCmd.PersistentFlags().StringVar(&logLevel, "log-level", "info", "log level: debug, info, warn or error")
}

// Execute adds all child commands to the root command and sets flags appropriately.
func Execute() {
	cobra.CheckErr(rootCmd.Execute())
}
