package main

import (
	"fmt"
	"os"

	"github.com/spf13/cobra"

	"inlay/internal/config"
	"inlay/internal/logging"
)

var (
	// Global flags
	cfgPath string
	verbose bool

	// Loaded configuration, available to all subcommands after PreRun.
	cfg *config.Config
)

// rootCmd represents the base command
var rootCmd = &cobra.Command{
	Use:   "inlay",
	Short: "inlay - image overlay for conversation log viewers",
	Long: `inlay attaches to a browser tab showing a conversation log dashboard,
observes the dashboard's own API traffic for conversation listings,
resolves every image reference it finds (direct URLs, authenticated file
references, markdown links, annotated placeholders), and mounts rendered
image cards next to the matching messages — without touching the host
application's own rendering.

Run "inlay attach" against a running browser, or "inlay scan" for an
offline pass over a saved page.`,
	PersistentPreRunE: func(cmd *cobra.Command, args []string) error {
		var err error
		cfg, err = config.Load(cfgPath)
		if err != nil {
			return fmt.Errorf("load config: %w", err)
		}
		if verbose {
			cfg.Logging.Debug = true
			cfg.Logging.Level = "debug"
		}
		if err := logging.Init(cfg.Logging); err != nil {
			return fmt.Errorf("init logging: %w", err)
		}
		return nil
	},
	PersistentPostRun: func(cmd *cobra.Command, args []string) {
		logging.Sync()
	},
}

func init() {
	rootCmd.PersistentFlags().StringVarP(&cfgPath, "config", "c", "inlay.yaml", "config file path")
	rootCmd.PersistentFlags().BoolVarP(&verbose, "verbose", "v", false, "debug logging")

	rootCmd.AddCommand(attachCmd)
	rootCmd.AddCommand(scanCmd)
	rootCmd.AddCommand(versionCmd)
}

func main() {
	if err := rootCmd.Execute(); err != nil {
		fmt.Fprintln(os.Stderr, "Error:", err)
		os.Exit(1)
	}
}
