package parser

import (
	"strings"
	"testing"
)

func TestHTMLParse(t *testing.T) {
	p := NewHTMLParser()

	html := `<html><head><style>body{color:red}</style></head>
	<body><p>Your sign-in code:</p><div><b>442211</b></div>
	<script>track()</script></body></html>`

	text, err := p.Parse(html)
	if err != nil {
		t.Fatalf("unexpected error: %v", err)
	}
	if !strings.Contains(text, "Your sign-in code:") {
		t.Fatalf("text content missing: %q", text)
	}
	if !strings.Contains(text, "442211") {
		t.Fatalf("code missing: %q", text)
	}
	if strings.Contains(text, "track()") || strings.Contains(text, "color:red") {
		t.Fatalf("script/style leaked into text: %q", text)
	}

	// Block elements become line breaks, so the code stays a standalone token
	e := NewExtractor()
	code, ok := e.Extract(text, "")
	if !ok || code != "442211" {
		t.Fatalf("extraction from parsed HTML = (%q, %v), want (442211, true)", code, ok)
	}
}

func TestHTMLParse_Empty(t *testing.T) {
	p := NewHTMLParser()
	text, err := p.Parse("")
	if err != nil || text != "" {
		t.Fatalf("got (%q, %v), want empty", text, err)
	}
}

func TestHTMLParse_InvisibleCharacters(t *testing.T) {
	p := NewHTMLParser()
	text, err := p.Parse("<p>code​ 9911\uFEFF22</p>")
	if err != nil {
		t.Fatalf("unexpected error: %v", err)
	}
	if !strings.Contains(text, "991122") {
		t.Fatalf("invisible characters not stripped: %q", text)
	}
}
