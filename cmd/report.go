// Copyright Amazon.com, Inc. or its affiliates. All Rights Reserved.
// SPDX-License-Identifier: Apache-2.0

package main

import (
	"fmt"
	"time"

	"docguard/internal/apperr"

	"github.com/fatih/color"
	"github.com/spf13/cobra"
)

var (
	reportApp      string
	reportPDF      bool
	reportTemplate string
	reportPrint    bool
)

var reportCmd = &cobra.Command{
	Use:   "report --app NAME",
	Short: "Generate report.json (and optionally report.pdf) from an application's metadata",
	Args:  cobra.NoArgs,
	RunE: func(cmd *cobra.Command, args []string) error {
		observer := newObserver()
		defer observer.Sync()

		eng, err := newEngine(observer)
		if err != nil {
			return err
		}

		data, err := eng.GetReport(cmd.Context(), reportApp)
		if err != nil {
			return err
		}
		if reportPDF {
			if _, err := eng.GetReportPDF(cmd.Context(), reportApp, reportTemplate); err != nil {
				return err
			}
		}

		if reportPrint {
			_, err := cmd.OutOrStdout().Write(data)
			return err
		}

		jsonPath, pdfPath := eng.ReportPaths(reportApp)
		fmt.Fprintf(cmd.OutOrStdout(), "%s %s\n", color.GreenString("Wrote"), jsonPath)
		if reportPDF {
			fmt.Fprintf(cmd.OutOrStdout(), "%s %s\n", color.GreenString("Wrote"), pdfPath)
		}
		return nil
	},
}

var appsCmd = &cobra.Command{
	Use:   "apps",
	Short: "List applications with stored metadata",
	Args:  cobra.NoArgs,
	RunE: func(cmd *cobra.Command, args []string) error {
		observer := newObserver()
		defer observer.Sync()

		eng, err := newEngine(observer)
		if err != nil {
			return err
		}
		apps, err := eng.Apps()
		if err != nil {
			return err
		}

		out := cmd.OutOrStdout()
		if len(apps) == 0 {
			fmt.Fprintln(out, "No applications under", eng.CacheRoot())
			return nil
		}
		for _, app := range apps {
			meta, found, err := eng.Metadata(app)
			if err != nil {
				return err
			}
			if !found {
				continue
			}
			fmt.Fprintf(out, "%s  owner=%s documents=%d runs=%d updated=%s\n",
				color.New(color.Bold).Sprint(app), meta.Owner, meta.TotalDocumentsProcessed,
				len(meta.History), meta.LastUpdatedAt.UTC().Format(time.RFC3339))
		}
		return nil
	},
}

var resetApp string

var resetCmd = &cobra.Command{
	Use:   "reset --app NAME",
	Short: "Delete everything stored for an application",
	Args:  cobra.NoArgs,
	RunE: func(cmd *cobra.Command, args []string) error {
		observer := newObserver()
		defer observer.Sync()

		eng, err := newEngine(observer)
		if err != nil {
			return err
		}
		deleted, err := eng.Reset(cmd.Context(), resetApp)
		if err != nil {
			return err
		}
		if !deleted {
			return apperr.Validation("cli.reset", "no metadata for application "+resetApp)
		}
		fmt.Fprintf(cmd.OutOrStdout(), "%s %s\n", color.GreenString("Reset"), resetApp)
		return nil
	},
}

func init() {
	reportCmd.Flags().StringVar(&reportApp, "app", "", "application name (required)")
	reportCmd.Flags().BoolVar(&reportPDF, "pdf", false, "also render report.pdf")
	reportCmd.Flags().StringVar(&reportTemplate, "template", "", "report template file (default: configured template)")
	reportCmd.Flags().BoolVar(&reportPrint, "print", false, "print report.json to stdout instead of its path")
	reportCmd.MarkFlagRequired("app")

	resetCmd.Flags().StringVar(&resetApp, "app", "", "application name (required)")
	resetCmd.MarkFlagRequired("app")
}
