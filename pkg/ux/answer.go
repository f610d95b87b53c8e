// Copyright (C) 2025 Aleutian AI (jinterlante@aleutian.ai)
// This program is free software: you can redistribute it and/or modify
// it under the terms of the GNU Affero General Public License as published by
// the Free Software Foundation, either version 3 of the License, or
// (at your option) any later version.
// See the LICENSE.txt file for the full license text.
//
// NOTE: This work is subject to additional terms under AGPL v3 Section 7.
// See the NOTICE.txt file for details regarding AI system attribution.

package ux

import (
	"encoding/json"
	"fmt"
	"io"
	"regexp"
	"strings"
)

// AnswerSource is one cited document.
type AnswerSource struct {
	Token string `json:"token"`
	URI   string `json:"uri"`
	Title string `json:"title,omitempty"`
}

// Answer is what `docsearch ask` shows for one turn.
type Answer struct {
	SessionID string         `json:"session_id"`
	Turn      int            `json:"turn"`
	Text      string         `json:"answer"`
	Sources   []AnswerSource `json:"sources"`
	Degraded  bool           `json:"degraded"`
}

// citationPattern matches one restored citation: a bracketed locator with
// a scheme, e.g. [gs://bucket/a.pdf] or [https://example.com/x].
var citationPattern = regexp.MustCompile(`\[[a-zA-Z][a-zA-Z0-9+.-]*://[^\[\]\s]+\]`)

// HighlightCitations styles every restored citation in text. Outside rich
// mode text is returned unchanged.
func HighlightCitations(text string) string {
	if GetMode() != ModeRich {
		return text
	}
	return citationPattern.ReplaceAllStringFunc(text, func(c string) string {
		return Styles.Citation.Render(c)
	})
}

// Citations returns the distinct locators cited in text, in order of
// first appearance.
func Citations(text string) []string {
	seen := make(map[string]bool)
	var out []string
	for _, m := range citationPattern.FindAllString(text, -1) {
		locator := m[1 : len(m)-1]
		if !seen[locator] {
			seen[locator] = true
			out = append(out, locator)
		}
	}
	return out
}

// RenderAnswer writes a to w in the active mode.
//
// # Description
//
// Rich mode boxes the answer, highlights citations and lists the sources
// that were cited. Plain mode prints the same content without styling.
// Machine mode writes a as a single JSON object.
//
// A degraded answer carries a warning: it is the unformatted draft from
// the search stage.
func RenderAnswer(w io.Writer, a Answer) error {
	if GetMode() == ModeMachine {
		enc := json.NewEncoder(w)
		enc.SetEscapeHTML(false)
		return enc.Encode(a)
	}

	var b strings.Builder
	body := HighlightCitations(a.Text)
	if GetMode() == ModeRich {
		body = Styles.Answer.Render(body)
	}
	b.WriteString(body)
	b.WriteString("\n")

	if a.Degraded {
		b.WriteString(style(Styles.Warning, "⚠ Formatting failed; showing the unformatted answer."))
		b.WriteString("\n")
	}

	if cited := citedSources(a); len(cited) > 0 {
		b.WriteString("\n")
		b.WriteString(style(Styles.Title, "Sources"))
		b.WriteString("\n")
		for _, src := range cited {
			line := "  • " + src.URI
			if src.Title != "" {
				line += " " + style(Styles.Muted, "("+src.Title+")")
			}
			b.WriteString(line)
			b.WriteString("\n")
		}
	}

	b.WriteString(style(Styles.Muted, fmt.Sprintf("session %s · turn %d", a.SessionID, a.Turn)))
	b.WriteString("\n")
	_, err := io.WriteString(w, b.String())
	return err
}

// citedSources keeps the sources whose locator appears in the answer text.
// When the text cites nothing recognisable every source is listed.
func citedSources(a Answer) []AnswerSource {
	cited := Citations(a.Text)
	if len(cited) == 0 {
		return a.Sources
	}
	byURI := make(map[string]AnswerSource, len(a.Sources))
	for _, s := range a.Sources {
		byURI[s.URI] = s
	}
	out := make([]AnswerSource, 0, len(cited))
	for _, uri := range cited {
		if s, ok := byURI[uri]; ok {
			out = append(out, s)
			continue
		}
		out = append(out, AnswerSource{URI: uri})
	}
	return out
}
