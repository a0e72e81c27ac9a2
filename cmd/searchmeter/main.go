package main

import (
	"fmt"
	"os"
	"time"

	"github.com/spf13/cobra"

	"github.com/studiowebux/searchmeter/internal/cli"
)

var (
	version = "0.1.0"
)

func main() {
	if err := rootCmd.Execute(); err != nil {
		fmt.Fprintf(os.Stderr, "Error: %v\n", err)
		os.Exit(1)
	}
}

var rootCmd = &cobra.Command{
	Use:   "searchmeter",
	Short: "searchmeter - load generator for Solr",
	Long: `searchmeter drives concurrent query, update and optimize traffic against a Solr core
and reports live statistics.

The configuration is read from --config, ./searchmeter.yaml or ~/.searchmeter/searchmeter.yaml,
in that order. SEARCHMETER_* environment variables override file values.

Examples:
  searchmeter run --duration 5m              # Headless run, summary at the end
  searchmeter run -c books.yaml --serve      # Headless run with the HTTP monitor
  searchmeter dashboard                      # Interactive dashboard (s start, x stop, r restart)
  searchmeter serve --start                  # HTTP monitor with start/stop/restart routes
  searchmeter statistics                     # List configured statistics
  searchmeter runs                           # List persisted runs`,
	Version:       version,
	SilenceUsage:  true,
	SilenceErrors: true,
}

var runCmd = &cobra.Command{
	Use:   "run",
	Short: "Run the configured test headless and print a summary",
	Args:  cobra.NoArgs,
	RunE: func(cmd *cobra.Command, args []string) error {
		return cli.Run(cli.RunOptions{
			Options:      commonOptions(),
			Duration:     flagDuration,
			Serve:        flagServe,
			OutputFormat: flagOutput,
		})
	},
}

var dashboardCmd = &cobra.Command{
	Use:   "dashboard",
	Short: "Start the interactive dashboard",
	Args:  cobra.NoArgs,
	RunE: func(cmd *cobra.Command, args []string) error {
		return cli.Dashboard(commonOptions(), flagServe)
	},
}

var serveCmd = &cobra.Command{
	Use:   "serve",
	Short: "Serve the HTTP monitor with control routes",
	Args:  cobra.NoArgs,
	RunE: func(cmd *cobra.Command, args []string) error {
		return cli.Serve(commonOptions(), flagStart)
	},
}

var statisticsCmd = &cobra.Command{
	Use:   "statistics",
	Short: "List the statistics the configuration would instantiate",
	Args:  cobra.NoArgs,
	RunE: func(cmd *cobra.Command, args []string) error {
		return cli.Statistics(cli.StatisticsOptions{Options: commonOptions(), OutputFormat: flagOutput})
	},
}

var runsCmd = &cobra.Command{
	Use:   "runs",
	Short: "List persisted runs",
	Args:  cobra.NoArgs,
	RunE: func(cmd *cobra.Command, args []string) error {
		return cli.ListRuns(runsOptions())
	},
}

var runsShowCmd = &cobra.Command{
	Use:   "show [guid]",
	Short: "Show a run and its final statistics (pick one interactively without a guid)",
	Args:  cobra.MaximumNArgs(1),
	RunE: func(cmd *cobra.Command, args []string) error {
		return cli.ShowRun(runsOptions(), firstArg(args))
	},
}

var runsDeleteCmd = &cobra.Command{
	Use:   "delete [guid]",
	Short: "Delete a run and its observations",
	Args:  cobra.MaximumNArgs(1),
	RunE: func(cmd *cobra.Command, args []string) error {
		return cli.DeleteRun(runsOptions(), firstArg(args))
	},
}

var versionCmd = &cobra.Command{
	Use:   "version",
	Short: "Print the searchmeter version and the version of the configured server",
	Args:  cobra.NoArgs,
	RunE: func(cmd *cobra.Command, args []string) error {
		return cli.Version(cli.VersionOptions{Options: commonOptions(), Binary: version, Offline: flagOffline})
	},
}

// Global flags
var (
	flagConfig    string
	flagLogLevel  string
	flagNoPersist bool
)

// Command flags
var (
	flagDuration time.Duration
	flagServe    bool
	flagStart    bool
	flagOutput   string
	flagLimit    int
	flagOffline  bool
)

func init() {
	rootCmd.PersistentFlags().StringVarP(&flagConfig, "config", "c", "", "Configuration file (yaml, json or jsonc)")
	rootCmd.PersistentFlags().StringVar(&flagLogLevel, "log-level", "", "Override the log level (debug/info/warn/error)")
	rootCmd.PersistentFlags().BoolVar(&flagNoPersist, "no-persist", false, "Do not record runs in the database")

	runCmd.Flags().DurationVarP(&flagDuration, "duration", "d", 0, "Stop after this long (0 runs until the sources are exhausted or interrupted)")
	runCmd.Flags().BoolVar(&flagServe, "serve", false, "Expose the read-only HTTP monitor while running")
	runCmd.Flags().StringVarP(&flagOutput, "output", "o", "text", "Summary format (text/json/yaml)")

	dashboardCmd.Flags().BoolVar(&flagServe, "serve", false, "Also serve the HTTP monitor")

	serveCmd.Flags().BoolVar(&flagStart, "start", false, "Start the test right away")

	statisticsCmd.Flags().StringVarP(&flagOutput, "output", "o", "text", "Output format (text/json/yaml)")

	runsCmd.PersistentFlags().IntVarP(&flagLimit, "limit", "n", 20, "Maximum number of runs to list (0 for all)")
	runsCmd.PersistentFlags().StringVarP(&flagOutput, "output", "o", "text", "Output format (text/json/yaml)")
	runsCmd.AddCommand(runsShowCmd)
	runsCmd.AddCommand(runsDeleteCmd)

	versionCmd.Flags().BoolVar(&flagOffline, "offline", false, "Do not contact the server")

	rootCmd.AddCommand(runCmd)
	rootCmd.AddCommand(dashboardCmd)
	rootCmd.AddCommand(serveCmd)
	rootCmd.AddCommand(statisticsCmd)
	rootCmd.AddCommand(runsCmd)
	rootCmd.AddCommand(versionCmd)
}

func commonOptions() cli.Options {
	return cli.Options{
		ConfigPath: flagConfig,
		LogLevel:   flagLogLevel,
		NoPersist:  flagNoPersist,
	}
}

func runsOptions() cli.RunsOptions {
	return cli.RunsOptions{Options: commonOptions(), Limit: flagLimit, OutputFormat: flagOutput}
}

func firstArg(args []string) string {
	if len(args) > 0 {
		return args[0]
	}
	return ""
}
