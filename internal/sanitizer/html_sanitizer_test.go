package sanitizer

import (
	"strings"
	"testing"
)

func TestSanitize(t *testing.T) {
	s := New()

	tests := []struct {
		name     string
		input    string
		contains []string
		excludes []string
	}{
		{
			name:     "script removed with its content",
			input:    "<p>hello</p><script>alert('x')</script>",
			contains: []string{"<p>hello</p>"},
			excludes: []string{"script", "alert"},
		},
		{
			name:     "event handlers stripped",
			input:    `<div onclick="steal()">text</div>`,
			contains: []string{"text"},
			excludes: []string{"onclick"},
		},
		{
			name:     "formatting kept",
			input:    `<table><tr><td align="left"><b>cell</b></td></tr></table>`,
			contains: []string{"<table>", `align="left"`, "<b>cell</b>"},
		},
		{
			name:     "links kept",
			input:    `<a href="https://example.org">link</a>`,
			contains: []string{`href="https://example.org"`},
		},
	}
	for _, tt := range tests {
		t.Run(tt.name, func(t *testing.T) {
			got := s.Sanitize(tt.input)
			for _, want := range tt.contains {
				if !strings.Contains(got, want) {
					t.Errorf("Sanitize(%q) = %q, missing %q", tt.input, got, want)
				}
			}
			for _, bad := range tt.excludes {
				if strings.Contains(got, bad) {
					t.Errorf("Sanitize(%q) = %q, still contains %q", tt.input, got, bad)
				}
			}
		})
	}

	if got := s.Sanitize(""); got != "" {
		t.Errorf("empty input should pass through, got %q", got)
	}
}
