// Copyright (C) 2025 Aleutian AI (jinterlante@aleutian.ai)
// This program is free software: you can redistribute it and/or modify
// it under the terms of the GNU Affero General Public License as published by
// the Free Software Foundation, either version 3 of the License, or
// (at your option) any later version.
// See the LICENSE.txt file for the full license text.
//
// NOTE: This work is subject to additional terms under AGPL v3 Section 7.
// See the NOTICE.txt file for details regarding AI system attribution.

// Command docsearch serves and queries the cited document search API.
//
// # Usage
//
//	# Start the server
//	docsearch serve --config docsearch.yaml
//
//	# Ask a question against a running server
//	docsearch ask "What torque does the M6 bolt need?"
//
//	# Continue the same conversation
//	docsearch ask --session 3f0c... "And the M8?"
//
// # Environment Variables
//
//   - DOCSEARCH_URL: Server base URL for ask/sessions (default: http://localhost:12210)
//   - DOCSEARCH_OUTPUT: rich, plain or machine
//   - See orchestrator.LoadConfig for the server's variables.
package main

import (
	"fmt"
	"os"

	"github.com/spf13/cobra"

	"github.com/AleutianAI/AleutianDocSearch/pkg/ux"
)

// --- Global Command Variables ---
var (
	configPath string
	serverURL  string
	outputMode string
	sessionID  string

	rootCmd = &cobra.Command{
		Use:   "docsearch",
		Short: "Cited answers over your document collection",
		PersistentPreRun: func(cmd *cobra.Command, args []string) {
			ux.SetMode(ux.DetectMode(outputMode, os.Stdout))
		},
		SilenceUsage: true,
	}

	serveCmd = &cobra.Command{
		Use:   "serve",
		Short: "Start the DocSearch HTTP server",
		Args:  cobra.NoArgs,
		RunE:  runServe, // Defined in cmd_serve.go
	}

	askCmd = &cobra.Command{
		Use:   "ask [question]",
		Short: "Ask a question and print the cited answer",
		Args:  cobra.MinimumNArgs(1),
		RunE:  runAsk, // Defined in cmd_ask.go
	}

	sessionCmd = &cobra.Command{
		Use:   "session",
		Short: "Inspect and end conversations",
	}
	listSessionsCmd = &cobra.Command{
		Use:   "list",
		Short: "List conversation ids",
		Args:  cobra.NoArgs,
		RunE:  runListSessions,
	}
	citationsCmd = &cobra.Command{
		Use:   "citations [session_id]",
		Short: "Show the token to source mapping of a conversation",
		Args:  cobra.ExactArgs(1),
		RunE:  runCitations,
	}
	deleteSessionCmd = &cobra.Command{
		Use:   "delete [session_id]",
		Short: "End a conversation and drop its state",
		Args:  cobra.ExactArgs(1),
		RunE:  runDeleteSession,
	}
)

func init() {
	defaultURL := os.Getenv("DOCSEARCH_URL")
	if defaultURL == "" {
		defaultURL = "http://localhost:12210"
	}

	rootCmd.PersistentFlags().StringVarP(&outputMode, "output", "o", "", "output mode: rich, plain or machine")
	rootCmd.PersistentFlags().StringVar(&serverURL, "server", defaultURL, "DocSearch server base URL")

	serveCmd.Flags().StringVarP(&configPath, "config", "c", "", "path to a YAML config file")
	askCmd.Flags().StringVarP(&sessionID, "session", "s", "", "continue an existing conversation")

	sessionCmd.AddCommand(listSessionsCmd, citationsCmd, deleteSessionCmd)
	rootCmd.AddCommand(serveCmd, askCmd, sessionCmd)
}

func main() {
	if err := rootCmd.Execute(); err != nil {
		fmt.Fprintln(os.Stderr, err)
		os.Exit(1)
	}
}
