// Copyright Amazon.com, Inc. or its affiliates. All Rights Reserved.
// SPDX-License-Identifier: Apache-2.0

package main

import (
	"context"
	"encoding/json"
	"fmt"
	"io"
	"os"
	"strings"

	"docguard/internal/confidence"
	"docguard/internal/detector"
	"docguard/internal/engine"
	"docguard/internal/loader"
	"docguard/internal/observability"

	"github.com/fatih/color"
	"github.com/spf13/cobra"
	"go.uber.org/zap"
)

var (
	scanApp         string
	scanOwner       string
	scanDescription string
	scanKinds       []string
	scanIdentities  []string
	scanLevels      string
	scanJSON        bool
	scanWatch       bool
)

var scanCmd = &cobra.Command{
	Use:   "scan [flags] PATH...",
	Short: "Scan files as one run and fold the results into the application's metadata",
	Args:  cobra.MinimumNArgs(1),
	RunE: func(cmd *cobra.Command, args []string) error {
		observer := newObserver()
		defer observer.Sync()

		eng, err := newEngine(observer)
		if err != nil {
			return err
		}

		req := engine.RunRequest{
			AppName:     scanApp,
			Owner:       scanOwner,
			Description: scanDescription,
			Kinds:       scanKinds,
		}
		ld := loader.New(loader.WithIdentities(scanIdentities...))
		out := cmd.OutOrStdout()

		if err := scanOnce(cmd.Context(), eng, ld, req, args, out, observer); err != nil {
			return err
		}
		if !scanWatch {
			return nil
		}

		w, err := loader.NewWatcher(args, loader.DefaultDebounce, observer)
		if err != nil {
			return err
		}
		fmt.Fprintln(cmd.ErrOrStderr(), color.CyanString("Watching for changes, press Ctrl+C to stop"))
		return w.Run(cmd.Context(), func(changed []string) {
			if err := scanOnce(cmd.Context(), eng, ld, req, changed, out, observer); err != nil {
				fmt.Fprintf(cmd.ErrOrStderr(), "%s %v\n", color.RedString("Error:"), err)
			}
		})
	},
}

func init() {
	scanCmd.Flags().StringVar(&scanApp, "app", "", "application name the run belongs to (required)")
	scanCmd.Flags().StringVar(&scanOwner, "owner", "", "owner recorded with the run")
	scanCmd.Flags().StringVar(&scanDescription, "description", "", "free-text run description")
	scanCmd.Flags().StringSliceVar(&scanKinds, "kinds", nil, "entity kinds or categories to detect (default: all)")
	scanCmd.Flags().StringSliceVar(&scanIdentities, "identity", nil, "authorized identity attached to every scanned document")
	scanCmd.Flags().StringVar(&scanLevels, "confidence", "all", "confidence levels to print: high, medium, low or a combination")
	scanCmd.Flags().BoolVar(&scanJSON, "json", false, "print the run result as JSON")
	scanCmd.Flags().BoolVar(&scanWatch, "watch", false, "re-scan files as they change, each batch as a new run")
	scanCmd.MarkFlagRequired("app")
}

// scanOnce loads inputs and runs them through one run. Unreadable files are
// reported and skipped.
func scanOnce(ctx context.Context, eng *engine.Engine, ld *loader.Loader, req engine.RunRequest, inputs []string, out io.Writer, observer *observability.Observer) error {
	files, err := loader.Expand(inputs)
	if err != nil {
		return err
	}

	docs := make([]detector.Document, 0, len(files))
	for _, path := range files {
		doc, err := ld.Load(path)
		if err != nil {
			observer.Logger().Warn("skipping file", zap.String("path", path), zap.Error(err))
			fmt.Fprintf(os.Stderr, "%s %s: %v\n", color.YellowString("Skipped"), path, err)
			continue
		}
		docs = append(docs, doc)
	}

	result, err := eng.AnalyzeRun(ctx, req, docs)
	if err != nil {
		if result != nil {
			return fmt.Errorf("run %s was not saved: %w", result.Run.RunID, err)
		}
		return err
	}

	if scanJSON {
		enc := json.NewEncoder(out)
		enc.SetIndent("", "  ")
		return enc.Encode(result)
	}
	printResult(out, result, confidence.ParseLevels(scanLevels))
	return nil
}

func labelColor(l confidence.Label) *color.Color {
	switch l {
	case confidence.High:
		return color.New(color.FgRed, color.Bold)
	case confidence.Medium:
		return color.New(color.FgYellow)
	default:
		return color.New(color.FgCyan)
	}
}

func printResult(out io.Writer, result *engine.RunResult, levels map[confidence.Label]bool) {
	bold := color.New(color.Bold)
	bold.Fprintf(out, "Run %s for %s\n", result.Run.RunID, result.Run.AppName)

	shown := 0
	for _, doc := range result.Documents {
		var lines []string
		for _, f := range doc.Findings {
			if !levels[f.Label] {
				continue
			}
			lines = append(lines, fmt.Sprintf("  %-7s %-20s %-10s [%d:%d] %.2f",
				labelColor(f.Label).Sprint(f.Label), f.Kind, f.Category, f.Start, f.End, f.Score))
		}
		if len(lines) == 0 && !doc.Partial {
			continue
		}

		header := doc.DocumentID
		if doc.Duplicate {
			header += color.HiBlackString(" (duplicate)")
		}
		if doc.Partial {
			header += color.YellowString(" (partial)")
		}
		fmt.Fprintln(out, header)
		if len(lines) > 0 {
			fmt.Fprintln(out, strings.Join(lines, "\n"))
		}
		for _, f := range doc.Failures {
			fmt.Fprintf(out, "  %s %s: %s\n", color.YellowString("!"), f.Recognizer, f.Message)
		}
		shown += len(lines)
	}

	meta := result.Metadata
	fmt.Fprintln(out)
	fmt.Fprintf(out, "%s %d findings in %d documents\n", color.GreenString("Done:"), shown, len(result.Documents))
	fmt.Fprintf(out, "Application %s: %d documents across %d runs, %d entity kinds, %d topics\n",
		meta.AppName, meta.TotalDocumentsProcessed, len(meta.History), len(meta.UniqueEntities), len(meta.UniqueTopics))
}
