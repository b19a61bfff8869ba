package cli

import (
	"fmt"
	"log/slog"
	"os"

	"github.com/fatih/color"
	"github.com/spf13/cobra"
)

var (
	// version can be overridden at build time via:
	// go build -ldflags "-X github.com/duckmemory/duckmem/internal/cli.version=1.2.3"
	version = "0.4.0"
	logo    = "\n" +
		"      __\n" +
		"  ___( o)>   duckmem\n" +
		"  \\ <_. )\n" +
		"   `---'\n"
)

var verbose bool

var rootCmd = &cobra.Command{
	Use:           "duckmem",
	Short:         "duckmem - memory core of the duck assistant",
	Long:          color.CyanString(logo) + "\nExtracts, stores and recalls what the duck knows about its household.",
	SilenceUsage:  true,
	SilenceErrors: true,
	PersistentPreRun: func(cmd *cobra.Command, args []string) {
		level := slog.LevelInfo
		if verbose {
			level = slog.LevelDebug
		}
		slog.SetDefault(slog.New(slog.NewTextHandler(os.Stderr, &slog.HandlerOptions{Level: level})))
	},
	Run: func(cmd *cobra.Command, args []string) {
		cmd.Help()
	},
}

var versionCmd = &cobra.Command{
	Use:   "version",
	Short: "Print version information",
	Run: func(cmd *cobra.Command, args []string) {
		fmt.Fprintf(cmd.OutOrStdout(), "duckmem %s\n", version)
	},
}

// Execute runs the root command.
func Execute() error {
	if err := rootCmd.Execute(); err != nil {
		color.New(color.FgRed).Fprintf(os.Stderr, "Error: %v\n", err)
		return err
	}
	return nil
}

func init() {
	rootCmd.PersistentFlags().BoolVarP(&verbose, "verbose", "v", false, "Enable debug logging")

	rootCmd.AddCommand(versionCmd)
	rootCmd.AddCommand(daemonCmd)
	rootCmd.AddCommand(workerCmd)
	rootCmd.AddCommand(hygieneCmd)
	rootCmd.AddCommand(contextCmd)
	rootCmd.AddCommand(statusCmd)
	rootCmd.AddCommand(userCmd)
	rootCmd.AddCommand(factCmd)
	rootCmd.AddCommand(messageCmd)
	rootCmd.AddCommand(imageCmd)
	rootCmd.AddCommand(backfillCmd)
	rootCmd.AddCommand(ftsCmd)
}
