// Copyright 2024-2026 Remi Philippe
// This Source Code Form is subject to the terms of the Mozilla Public
// License, v. 2.0. If a copy of the MPL was not distributed with this
// file, You can obtain one at https://mozilla.org/MPL/2.0/.

// Package telegramfmt converts Telegram message entities to Chatwoot markdown.
package telegramfmt

import (
	"sort"
	"strings"
	"unicode/utf16"
)

// Entity is a Telegram message entity. Offset and Length count UTF-16 code
// units, as in the Bot API.
type Entity struct {
	Type     string
	Offset   int
	Length   int
	URL      string
	Language string
}

type span struct {
	entity Entity
	open   string
	close  string
	end    int
}

// Parse renders text with its entities as Chatwoot markdown. Entity types
// without a markdown equivalent are emitted as plain text. Entities inside
// code are ignored.
func Parse(text string, entities []Entity) string {
	if len(entities) == 0 || text == "" {
		return text
	}
	units := utf16.Encode([]rune(text))

	var spans []span
	for _, e := range entities {
		if e.Offset < 0 || e.Length <= 0 || e.Offset+e.Length > len(units) {
			continue
		}
		open, closing, ok := markers(e)
		if !ok {
			continue
		}
		spans = append(spans, span{entity: e, open: open, close: closing, end: e.Offset + e.Length})
	}
	if len(spans) == 0 {
		return text
	}
	// Outer entities first so they close last.
	sort.SliceStable(spans, func(i, j int) bool {
		if spans[i].entity.Offset != spans[j].entity.Offset {
			return spans[i].entity.Offset < spans[j].entity.Offset
		}
		return spans[i].entity.Length > spans[j].entity.Length
	})

	var (
		out     strings.Builder
		pending []uint16
		stack   []span
		next    int
		quoted  int
		code    int
	)
	flush := func() {
		if len(pending) > 0 {
			out.WriteString(string(utf16.Decode(pending)))
			pending = pending[:0]
		}
	}

	for pos := 0; pos <= len(units); pos++ {
		// Close everything ending here, innermost first. Spans opened later
		// but ending later are closed and reopened to keep markdown nested.
		var reopen []span
		for len(stack) > 0 {
			closed := false
			for i := len(stack) - 1; i >= 0; i-- {
				if stack[i].end == pos {
					flush()
					for j := len(stack) - 1; j > i; j-- {
						out.WriteString(stack[j].close)
						reopen = append(reopen, stack[j])
					}
					out.WriteString(stack[i].close)
					switch stack[i].entity.Type {
					case "blockquote", "expandable_blockquote":
						quoted--
					case "code", "pre":
						code--
					}
					stack = stack[:i]
					closed = true
					break
				}
			}
			if !closed {
				break
			}
		}
		for i := len(reopen) - 1; i >= 0; i-- {
			if !isQuote(reopen[i].entity.Type) {
				out.WriteString(reopen[i].open)
			}
			stack = append(stack, reopen[i])
		}

		for next < len(spans) && spans[next].entity.Offset == pos {
			s := spans[next]
			next++
			if code > 0 {
				continue
			}
			flush()
			out.WriteString(s.open)
			stack = append(stack, s)
			switch s.entity.Type {
			case "blockquote", "expandable_blockquote":
				quoted++
			case "code", "pre":
				code++
			}
		}

		if pos == len(units) {
			break
		}
		if quoted > 0 && code == 0 && units[pos] == '\n' {
			flush()
			out.WriteString("\n> ")
			continue
		}
		pending = append(pending, units[pos])
	}
	flush()
	return out.String()
}

func markers(e Entity) (open, closing string, ok bool) {
	switch e.Type {
	case "bold":
		return "**", "**", true
	case "italic":
		return "_", "_", true
	case "strikethrough":
		return "~~", "~~", true
	case "code":
		return "`", "`", true
	case "pre":
		return "```" + e.Language + "\n", "\n```", true
	case "text_link":
		if !safeURL(e.URL) {
			return "", "", false
		}
		return "[", "](" + e.URL + ")", true
	case "blockquote", "expandable_blockquote":
		return "> ", "", true
	}
	return "", "", false
}

func isQuote(entityType string) bool {
	return entityType == "blockquote" || entityType == "expandable_blockquote"
}

func safeURL(u string) bool {
	lower := strings.ToLower(strings.TrimSpace(u))
	return strings.HasPrefix(lower, "http://") ||
		strings.HasPrefix(lower, "https://") ||
		strings.HasPrefix(lower, "mailto:") ||
		strings.HasPrefix(lower, "tg://")
}
