// Copyright (C) 2025 Aleutian AI (jinterlante@aleutian.ai)
// This program is free software: you can redistribute it and/or modify
// it under the terms of the GNU Affero General Public License as published by
// the Free Software Foundation, either version 3 of the License, or
// (at your option) any later version.
// See the LICENSE.txt file for the full license text.
//
// NOTE: This work is subject to additional terms under AGPL v3 Section 7.
// See the NOTICE.txt file for details regarding AI system attribution.

// Package ux renders command-line output for the docsearch tools.
//
// Output adapts to where it goes: a terminal gets colour and boxes, a pipe
// gets plain text, and machine mode emits JSON for scripts.
package ux

import (
	"fmt"
	"io"
	"os"
	"strings"
	"sync"

	"github.com/charmbracelet/lipgloss"
	"github.com/mattn/go-isatty"
)

// Aleutian colour palette.
var (
	ColorTealBright  = lipgloss.Color("#2CD7C7")
	ColorTealPrimary = lipgloss.Color("#20B9B4")
	ColorTealDeep    = lipgloss.Color("#16858E")
	ColorSlate       = lipgloss.Color("#2C4A54")

	ColorWarning = lipgloss.Color("#F4D03F")
	ColorError   = lipgloss.Color("#E74C3C")
)

// Styles are the pre-configured lipgloss styles used by the renderers.
var Styles = struct {
	Title    lipgloss.Style
	Muted    lipgloss.Style
	Success  lipgloss.Style
	Warning  lipgloss.Style
	Error    lipgloss.Style
	Citation lipgloss.Style
	Answer   lipgloss.Style
}{
	Title:    lipgloss.NewStyle().Bold(true).Foreground(ColorTealBright),
	Muted:    lipgloss.NewStyle().Foreground(ColorSlate),
	Success:  lipgloss.NewStyle().Foreground(ColorTealBright),
	Warning:  lipgloss.NewStyle().Foreground(ColorWarning),
	Error:    lipgloss.NewStyle().Foreground(ColorError),
	Citation: lipgloss.NewStyle().Foreground(ColorTealPrimary).Bold(true),
	Answer: lipgloss.NewStyle().
		Border(lipgloss.RoundedBorder()).
		BorderForeground(ColorTealDeep).
		Padding(0, 1),
}

// Mode controls how rich the output is.
type Mode string

const (
	// ModeRich uses colour, icons and boxes.
	ModeRich Mode = "rich"

	// ModePlain is uncoloured text, for pipes and NO_COLOR.
	ModePlain Mode = "plain"

	// ModeMachine emits JSON and no progress output.
	ModeMachine Mode = "machine"
)

var (
	currentMode = ModeRich
	modeMu      sync.RWMutex
)

// GetMode returns the active output mode.
func GetMode() Mode {
	modeMu.RLock()
	defer modeMu.RUnlock()
	return currentMode
}

// SetMode sets the active output mode.
func SetMode(m Mode) {
	modeMu.Lock()
	defer modeMu.Unlock()
	currentMode = m
}

// ParseMode converts a flag value to a Mode. Unknown values give ModePlain.
func ParseMode(s string) Mode {
	switch strings.ToLower(strings.TrimSpace(s)) {
	case "rich", "full", "color", "colour":
		return ModeRich
	case "machine", "json", "quiet", "q":
		return ModeMachine
	default:
		return ModePlain
	}
}

// DetectMode picks the mode for f.
//
// # Description
//
// An explicit flag value wins, then DOCSEARCH_OUTPUT. Otherwise a terminal
// gets ModeRich unless NO_COLOR is set, and anything else gets ModePlain.
func DetectMode(flag string, f *os.File) Mode {
	if flag != "" {
		return ParseMode(flag)
	}
	if env := os.Getenv("DOCSEARCH_OUTPUT"); env != "" {
		return ParseMode(env)
	}
	if !IsTerminal(f) {
		return ModePlain
	}
	if _, noColor := os.LookupEnv("NO_COLOR"); noColor {
		return ModePlain
	}
	return ModeRich
}

// IsTerminal reports whether f is an interactive terminal.
func IsTerminal(f *os.File) bool {
	if f == nil {
		return false
	}
	fd := f.Fd()
	return isatty.IsTerminal(fd) || isatty.IsCygwinTerminal(fd)
}

// style renders text with s in rich mode and returns it unchanged otherwise.
func style(s lipgloss.Style, text string) string {
	if GetMode() != ModeRich {
		return text
	}
	return s.Render(text)
}

// Success prints a success line to w.
func Success(w io.Writer, message string) {
	printStatus(w, "✓", Styles.Success, message)
}

// Warning prints a warning line to w.
func Warning(w io.Writer, message string) {
	printStatus(w, "⚠", Styles.Warning, message)
}

// Error prints an error line to w.
func Error(w io.Writer, message string) {
	printStatus(w, "✗", Styles.Error, message)
}

func printStatus(w io.Writer, icon string, s lipgloss.Style, message string) {
	switch GetMode() {
	case ModeMachine:
		return
	case ModePlain:
		fmt.Fprintf(w, "%s %s\n", icon, message)
	default:
		fmt.Fprintf(w, "%s %s\n", s.Render(icon), message)
	}
}
