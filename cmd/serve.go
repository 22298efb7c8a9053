// Copyright Amazon.com, Inc. or its affiliates. All Rights Reserved.
// SPDX-License-Identifier: Apache-2.0

package main

import (
	"encoding/json"
	"fmt"

	"docguard/internal/version"
	"docguard/internal/web"

	"github.com/fatih/color"
	"github.com/spf13/cobra"
)

var serveAddr string

var serveCmd = &cobra.Command{
	Use:   "serve",
	Short: "Serve the analysis and report API over HTTP",
	Args:  cobra.NoArgs,
	RunE: func(cmd *cobra.Command, args []string) error {
		observer := newObserver()
		defer observer.Sync()

		eng, err := newEngine(observer)
		if err != nil {
			return err
		}

		fmt.Fprintf(cmd.ErrOrStderr(), "%s http://%s (cache root %s)\n",
			color.GreenString("Listening on"), displayAddr(serveAddr), eng.CacheRoot())
		return web.NewWebServer(serveAddr, eng, observer).Start(cmd.Context())
	},
}

func displayAddr(addr string) string {
	if len(addr) > 0 && addr[0] == ':' {
		return "localhost" + addr
	}
	return addr
}

var versionJSON bool

var versionCmd = &cobra.Command{
	Use:   "version",
	Short: "Print build information",
	Args:  cobra.NoArgs,
	RunE: func(cmd *cobra.Command, args []string) error {
		if versionJSON {
			enc := json.NewEncoder(cmd.OutOrStdout())
			enc.SetIndent("", "  ")
			return enc.Encode(version.Full())
		}
		fmt.Fprintln(cmd.OutOrStdout(), version.Info())
		return nil
	},
}

func init() {
	serveCmd.Flags().StringVar(&serveAddr, "addr", ":8080", "listen address")
	versionCmd.Flags().BoolVar(&versionJSON, "json", false, "print build information as JSON")
}
