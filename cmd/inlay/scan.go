package main

import (
	"fmt"
	"os"

	"github.com/spf13/cobra"

	"inlay/internal/auth"
	"inlay/internal/engine"
	"inlay/internal/page"
)

var (
	scanPagePath     string
	scanPayloadPaths []string
	scanConversation string
	scanOutPath      string
)

var scanCmd = &cobra.Command{
	Use:   "scan",
	Short: "One offline pass over a saved page and payload files",
	Long: `Scan runs the pipeline once against a saved HTML page and recorded
listing payloads, with no browser involved. It prints a summary of what
was extracted, anchored and rendered; with -o it also writes the
augmented page.`,
	RunE: runScan,
}

func init() {
	scanCmd.Flags().StringVar(&scanPagePath, "page", "", "saved HTML page to scan (required)")
	scanCmd.Flags().StringArrayVar(&scanPayloadPaths, "payload", nil, "recorded listing payload JSON (repeatable)")
	scanCmd.Flags().StringVar(&scanConversation, "conversation", "unknown", "conversation id the payloads belong to")
	scanCmd.Flags().StringVarP(&scanOutPath, "out", "o", "", "write the augmented page here")
	scanCmd.MarkFlagRequired("page")
}

func runScan(cmd *cobra.Command, args []string) error {
	f, err := os.Open(scanPagePath)
	if err != nil {
		return fmt.Errorf("open page: %w", err)
	}
	snap, err := page.ParseSnapshot(f, page.DefaultCardMarkup())
	f.Close()
	if err != nil {
		return fmt.Errorf("parse page: %w", err)
	}

	authCtx := auth.NewContext(cfg.Intercept.OrganizationHeader, cfg.Intercept.ProjectHeader)
	if cfg.Intercept.SeedAuthorization != "" {
		authCtx.SeedAuthorization(cfg.Intercept.SeedAuthorization)
	}
	eng := engine.New(cfg, snap, authCtx)

	for _, path := range scanPayloadPaths {
		body, err := os.ReadFile(path)
		if err != nil {
			return fmt.Errorf("read payload %s: %w", path, err)
		}
		n := eng.Normalizer().Ingest(scanConversation, body)
		fmt.Fprintf(cmd.OutOrStdout(), "%s: %d messages\n", path, n)
	}

	report := eng.RunOnce(cmd.Context())
	printReport(cmd, report)

	if scanOutPath != "" {
		out, err := os.Create(scanOutPath)
		if err != nil {
			return fmt.Errorf("create output: %w", err)
		}
		defer out.Close()
		if err := snap.Render(out); err != nil {
			return fmt.Errorf("write augmented page: %w", err)
		}
		fmt.Fprintf(cmd.OutOrStdout(), "augmented page written to %s\n", scanOutPath)
	}
	return nil
}

func printReport(cmd *cobra.Command, r *engine.Report) {
	w := cmd.OutOrStdout()
	fmt.Fprintf(w, "conversations: %d  messages: %d\n", r.Conversations, r.Messages)
	fmt.Fprintf(w, "candidates:    %d  anchored: %d  dropped: %d\n", r.Candidates, r.Anchored, r.Dropped)
	fmt.Fprintf(w, "rendered:      %d images, %d notes, %d errors, %d skipped\n",
		r.Render.Images, r.Render.Notes, r.Render.Errors, r.Render.Skipped)
	fmt.Fprintf(w, "lookups:       %d performed, %d cache hits, %d failures\n",
		r.Lookups.Lookups, r.Lookups.Hits, r.Lookups.Failures)
}
