// Copyright (C) 2025 Aleutian AI (jinterlante@aleutian.ai)
// This program is free software: you can redistribute it and/or modify
// it under the terms of the GNU Affero General Public License as published by
// the Free Software Foundation, either version 3 of the License, or
// (at your option) any later version.
// See the LICENSE.txt file for the full license text.
//
// NOTE: This work is subject to additional terms under AGPL v3 Section 7.
// See the NOTICE.txt file for details regarding AI system attribution.

package conversation

import (
	"fmt"
	"regexp"
	"strings"
)

var (
	multiNewlineRegex = regexp.MustCompile(`\n{2,}`)
	controlCharsRegex = regexp.MustCompile(`[\x00-\x1f\x7f]`)
)

// HistoryConfig bounds how much prior conversation is replayed into a
// prompt.
type HistoryConfig struct {
	// MaxTurns is the number of most recent turns to include. Default: 5.
	MaxTurns int

	// QuestionLimit truncates each question, in bytes. Default: 200.
	QuestionLimit int

	// AnswerLimit truncates each answer, in bytes. Default: 600.
	AnswerLimit int

	// MaxChars bounds the whole rendered block. Default: 4000.
	MaxChars int
}

// DefaultHistoryConfig returns the defaults used by the search pipeline.
func DefaultHistoryConfig() HistoryConfig {
	return HistoryConfig{
		MaxTurns:      5,
		QuestionLimit: 200,
		AnswerLimit:   600,
		MaxChars:      4000,
	}
}

// FormatHistory renders prior turns as a compact transcript for a prompt.
//
// # Description
//
// Each turn becomes one "Q: ... A: ..." line. Text is flattened to a single
// line and stripped of control characters before truncation so stored
// answers cannot smuggle new instructions into the prompt.
//
// # Inputs
//
//   - turns: Prior turns, oldest first.
//   - cfg: Limits. Zero fields fall back to DefaultHistoryConfig.
//
// # Outputs
//
//   - string: The transcript, or "" when there is no history.
//
// # Examples
//
//	FormatHistory([]Turn{{Question: "pump rating?", Answer: "5 bar[gs://b/p.pdf]"}}, HistoryConfig{})
//	// "Q: pump rating? A: 5 bar[gs://b/p.pdf]"
func FormatHistory(turns []Turn, cfg HistoryConfig) string {
	cfg = applyHistoryDefaults(cfg)
	if len(turns) == 0 {
		return ""
	}
	if len(turns) > cfg.MaxTurns {
		turns = turns[len(turns)-cfg.MaxTurns:]
	}

	lines := make([]string, 0, len(turns))
	for _, turn := range turns {
		q := truncateString(sanitizeForPrompt(turn.Question), cfg.QuestionLimit)
		a := truncateString(sanitizeForPrompt(turn.Answer), cfg.AnswerLimit)
		lines = append(lines, fmt.Sprintf("Q: %s A: %s", q, a))
	}
	return truncateString(strings.Join(lines, "\n"), cfg.MaxChars)
}

func applyHistoryDefaults(cfg HistoryConfig) HistoryConfig {
	def := DefaultHistoryConfig()
	if cfg.MaxTurns <= 0 {
		cfg.MaxTurns = def.MaxTurns
	}
	if cfg.QuestionLimit <= 0 {
		cfg.QuestionLimit = def.QuestionLimit
	}
	if cfg.AnswerLimit <= 0 {
		cfg.AnswerLimit = def.AnswerLimit
	}
	if cfg.MaxChars <= 0 {
		cfg.MaxChars = def.MaxChars
	}
	return cfg
}

// sanitizeForPrompt flattens s to one line and removes control characters.
func sanitizeForPrompt(s string) string {
	s = multiNewlineRegex.ReplaceAllString(s, " ")
	s = strings.ReplaceAll(s, "\n", " ")
	s = strings.ReplaceAll(s, "\r", " ")
	s = controlCharsRegex.ReplaceAllString(s, "")
	return strings.TrimSpace(s)
}

// truncateString cuts s to at most max bytes without splitting a rune and
// marks the cut with "...".
func truncateString(s string, max int) string {
	if len(s) <= max {
		return s
	}
	if max <= 3 {
		return s[:max]
	}
	cut := max - 3
	for cut > 0 && !isRuneStart(s[cut]) {
		cut--
	}
	return s[:cut] + "..."
}

func isRuneStart(b byte) bool {
	return b&0xC0 != 0x80
}
