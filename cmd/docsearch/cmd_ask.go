// Copyright (C) 2025 Aleutian AI (jinterlante@aleutian.ai)
// This program is free software: you can redistribute it and/or modify
// it under the terms of the GNU Affero General Public License as published by
// the Free Software Foundation, either version 3 of the License, or
// (at your option) any later version.
// See the LICENSE.txt file for the full license text.
//
// NOTE: This work is subject to additional terms under AGPL v3 Section 7.
// See the NOTICE.txt file for details regarding AI system attribution.

package main

import (
	"encoding/json"
	"fmt"
	"strings"

	"github.com/spf13/cobra"

	"github.com/AleutianAI/AleutianDocSearch/pkg/ux"
	"github.com/AleutianAI/AleutianDocSearch/services/orchestrator/datatypes"
)

func runAsk(cmd *cobra.Command, args []string) error {
	query := strings.Join(args, " ")
	client := newAPIClient(serverURL)
	out := cmd.OutOrStdout()

	spin := ux.NewSpinner(cmd.ErrOrStderr(), "Searching documents")
	spin.Start()
	resp, err := client.search(cmd.Context(), query, sessionID)
	spin.Stop()
	if err != nil {
		ux.Error(cmd.ErrOrStderr(), err.Error())
		return err
	}
	return ux.RenderAnswer(out, toAnswer(resp))
}

func toAnswer(resp *datatypes.SearchResponse) ux.Answer {
	sources := make([]ux.AnswerSource, 0, len(resp.Sources))
	for _, s := range resp.Sources {
		sources = append(sources, ux.AnswerSource{Token: s.Token, URI: s.URI, Title: s.Title})
	}
	return ux.Answer{
		SessionID: resp.SessionID,
		Turn:      resp.Turn,
		Text:      resp.Answer,
		Sources:   sources,
		Degraded:  resp.Degraded,
	}
}

func runListSessions(cmd *cobra.Command, args []string) error {
	ids, err := newAPIClient(serverURL).sessions(cmd.Context())
	if err != nil {
		return err
	}
	out := cmd.OutOrStdout()
	if ux.GetMode() == ux.ModeMachine {
		return json.NewEncoder(out).Encode(ids)
	}
	if len(ids) == 0 {
		fmt.Fprintln(out, "No conversations.")
		return nil
	}
	for _, id := range ids {
		fmt.Fprintln(out, id)
	}
	return nil
}

func runCitations(cmd *cobra.Command, args []string) error {
	entries, err := newAPIClient(serverURL).citations(cmd.Context(), args[0])
	if err != nil {
		return err
	}
	out := cmd.OutOrStdout()
	if ux.GetMode() == ux.ModeMachine {
		return json.NewEncoder(out).Encode(entries)
	}
	for _, e := range entries {
		fmt.Fprintf(out, "%-8s %s\n", e.Token, e.URI)
	}
	return nil
}

func runDeleteSession(cmd *cobra.Command, args []string) error {
	if err := newAPIClient(serverURL).deleteSession(cmd.Context(), args[0]); err != nil {
		return err
	}
	ux.Success(cmd.OutOrStdout(), "Deleted conversation "+args[0])
	return nil
}
