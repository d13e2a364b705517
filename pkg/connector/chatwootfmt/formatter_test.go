// Copyright 2024-2026 Aiku AI

package chatwootfmt

import "testing"

func TestPlainEmpty(t *testing.T) {
	t.Parallel()
	if got := Plain(""); got != "" {
		t.Errorf("empty input: got %q", got)
	}
}

func TestPlain(t *testing.T) {
	t.Parallel()
	tests := []struct {
		name string
		in   string
		want string
	}{
		{"plain text", "hello world", "hello world"},
		{"bold and italic", "**Hello** _world_", "Hello world"},
		{"underscore bold", "__Hello__", "Hello"},
		{"star italic", "an *important* note", "an important note"},
		{"adjacent italics", "_a_ _b_", "a b"},
		{"snake case untouched", "call snake_case_name now", "call snake_case_name now"},
		{"strikethrough", "~~gone~~ here", "gone here"},
		{"heading", "# Title\nbody", "Title\nbody"},
		{"list", "- one\n* two\n  + three", "• one\n• two\n  • three"},
		{"rule", "above\n---\nbelow", "above\n──────────\nbelow"},
		{"link", "see [docs](https://x.io)", "see docs (https://x.io)"},
		{"bare link", "[https://x.io](https://x.io)", "https://x.io"},
		{"mailto link", "[a@b.co](mailto:a@b.co)", "mailto:a@b.co"},
		{"unsafe link", "[click](javascript:void)", "click"},
		{"image", "![logo](https://x.io/l.png)", "logo (https://x.io/l.png)"},
		{"inline code kept", "use `**not bold**` here", "use **not bold** here"},
		{"code block kept", "```go\nfmt.Println(\"_x_\")\n```", "fmt.Println(\"_x_\")"},
		{"line breaks", "a<br>b<br/>c", "a\nb\nc"},
		{"crlf", "a\r\nb", "a\nb"},
		{"entities", "Tom &amp; Jerry", "Tom & Jerry"},
		{"trimmed", "  spaced  \n", "spaced"},
	}
	for _, tt := range tests {
		tt := tt
		t.Run(tt.name, func(t *testing.T) {
			t.Parallel()
			if got := Plain(tt.in); got != tt.want {
				t.Errorf("Plain(%q): got %q, want %q", tt.in, got, tt.want)
			}
		})
	}
}
