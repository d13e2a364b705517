// Copyright 2024-2026 Aiku AI

// Package chatwootfmt converts Chatwoot markdown to plain text for Telegram.
package chatwootfmt

import (
	"html"
	"regexp"
	"strconv"
	"strings"
)

var (
	boldRe      = regexp.MustCompile(`\*\*(.+?)\*\*|__(.+?)__`)
	italicRe    = regexp.MustCompile(`(^|[^\w*])[*_]([^*_\n]+?)[*_]([^\w*]|$)`)
	strikeRe    = regexp.MustCompile(`~~(.+?)~~`)
	codeRe      = regexp.MustCompile("`([^`\n]+)`")
	codeBlockRe = regexp.MustCompile("(?s)```[\\w+-]*\\n?(.*?)```")
	imageRe     = regexp.MustCompile(`!\[([^\]]*)\]\(([^)\s]+)\)`)
	linkRe      = regexp.MustCompile(`\[([^\]]+)\]\(([^)\s]+)\)`)
	headingRe   = regexp.MustCompile(`^#{1,6}\s+(.+)$`)
	ulRe        = regexp.MustCompile(`^(\s*)[-*+]\s+(.+)$`)
	ruleRe      = regexp.MustCompile(`^\s*([-*_])(\s*[-*_]){2,}\s*$`)
	brRe        = regexp.MustCompile(`(?i)<br\s*/?>`)
)

// Plain strips Chatwoot markdown down to readable plain text. Link targets
// are kept next to their label; code content is left untouched.
func Plain(text string) string {
	if text == "" {
		return ""
	}
	text = strings.ReplaceAll(text, "\r\n", "\n")
	text = brRe.ReplaceAllString(text, "\n")

	// Step 1: Pull code out so inline rules do not touch it.
	var verbatim []string
	stash := func(s string) string {
		verbatim = append(verbatim, s)
		return "\x00CODE" + strconv.Itoa(len(verbatim)-1) + "\x00"
	}
	text = codeBlockRe.ReplaceAllStringFunc(text, func(match string) string {
		parts := codeBlockRe.FindStringSubmatch(match)
		return stash(strings.TrimRight(parts[1], "\n"))
	})
	text = codeRe.ReplaceAllStringFunc(text, func(match string) string {
		return stash(codeRe.FindStringSubmatch(match)[1])
	})

	// Step 2: Line structure.
	lines := strings.Split(text, "\n")
	for i, line := range lines {
		switch {
		case ruleRe.MatchString(line):
			lines[i] = "──────────"
		case headingRe.MatchString(line):
			lines[i] = headingRe.FindStringSubmatch(line)[1]
		case ulRe.MatchString(line):
			m := ulRe.FindStringSubmatch(line)
			lines[i] = m[1] + "• " + m[2]
		}
	}
	text = strings.Join(lines, "\n")

	// Step 3: Inline formatting.
	text = imageRe.ReplaceAllStringFunc(text, func(match string) string {
		parts := imageRe.FindStringSubmatch(match)
		return linkText(parts[1], parts[2])
	})
	text = linkRe.ReplaceAllStringFunc(text, func(match string) string {
		parts := linkRe.FindStringSubmatch(match)
		return linkText(parts[1], parts[2])
	})
	text = boldRe.ReplaceAllString(text, "$1$2")
	text = strikeRe.ReplaceAllString(text, "$1")
	// Adjacent emphasis shares a delimiter character, so run twice.
	text = italicRe.ReplaceAllString(text, "$1$2$3")
	text = italicRe.ReplaceAllString(text, "$1$2$3")

	text = html.UnescapeString(text)

	// Step 4: Restore code.
	for i, v := range verbatim {
		text = strings.Replace(text, "\x00CODE"+strconv.Itoa(i)+"\x00", v, 1)
	}

	return strings.TrimSpace(text)
}

func linkText(label, href string) string {
	lower := strings.ToLower(href)
	safe := strings.HasPrefix(lower, "http://") ||
		strings.HasPrefix(lower, "https://") ||
		strings.HasPrefix(lower, "mailto:")
	switch {
	case !safe:
		return label
	case label == "" || label == href || "mailto:"+label == href:
		return href
	default:
		return label + " (" + href + ")"
	}
}
