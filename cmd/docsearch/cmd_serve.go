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
	"context"
	"fmt"
	"log/slog"
	"os/signal"
	"syscall"

	"github.com/spf13/cobra"

	"github.com/AleutianAI/AleutianDocSearch/pkg/logging"
	"github.com/AleutianAI/AleutianDocSearch/services/orchestrator"
)

func runServe(cmd *cobra.Command, args []string) error {
	cfg, err := orchestrator.LoadConfig(configPath)
	if err != nil {
		return err
	}

	logger := logging.New(cfg.Logging)
	defer logger.Close()
	slog.SetDefault(logger.Slog())

	slog.Info("Starting DocSearch",
		"port", cfg.Port,
		"search_backend", cfg.Search.Backend,
		"formatter_backend", cfg.Formatter.Backend,
		"store", cfg.Store.Backend,
	)

	ctx, stop := signal.NotifyContext(context.Background(), syscall.SIGINT, syscall.SIGTERM)
	defer stop()

	svc, err := orchestrator.New(ctx, cfg, nil)
	if err != nil {
		return fmt.Errorf("failed to create DocSearch service: %w", err)
	}
	return svc.Run(ctx)
}
