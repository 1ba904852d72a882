package mailer

import (
	"bytes"
	"testing"

	"github.com/stretchr/testify/require"
	"github.com/yuin/goldmark"
)

func convertButtons(t *testing.T, source string) string {
	t.Helper()

	md := goldmark.New(goldmark.WithExtensions(NewButtonExtension()))
	var buf bytes.Buffer
	require.NoError(t, md.Convert([]byte(source), &buf))
	return buf.String()
}

func TestButtonExtension_RendersButton(t *testing.T) {
	t.Parallel()

	result := convertButtons(t, `[!button|Click Me](https://example.com)`)

	require.Contains(t, result, `<table class="action" role="presentation">`)
	require.Contains(t, result, `<a href="https://example.com" class="button button-primary" target="_blank" rel="noopener">Click Me</a>`)
}

func TestButtonExtension_Colors(t *testing.T) {
	t.Parallel()

	tests := []struct {
		source string
		class  string
	}{
		{source: `[!button:success|Pay](https://example.com/pay)`, class: "button button-success"},
		{source: `[!button:error|Cancel](https://example.com/cancel)`, class: "button button-error"},
		{source: `[!button:primary|Open](https://example.com)`, class: "button button-primary"},
	}

	for _, tt := range tests {
		t.Run(tt.class, func(t *testing.T) {
			t.Parallel()
			require.Contains(t, convertButtons(t, tt.source), `class="`+tt.class+`"`)
		})
	}
}

func TestButtonExtension_EscapesHTML(t *testing.T) {
	t.Parallel()

	result := convertButtons(t, `[!button|<script>alert("xss")</script>](https://example.com)`)

	require.NotContains(t, result, "<script>")
	require.Contains(t, result, "&lt;script&gt;")
}

func TestButtonExtension_WithMarkdownSurrounding(t *testing.T) {
	t.Parallel()

	result := convertButtons(t, `# Welcome

Please verify your email:

[!button|Verify Email](https://example.com/verify)

Thank you!`)

	require.Contains(t, result, "<h1>Welcome</h1>")
	require.Contains(t, result, `href="https://example.com/verify"`)
	require.Contains(t, result, ">Verify Email</a>")
	require.Contains(t, result, "Thank you!")
}

func TestButtonExtension_MultipleButtons(t *testing.T) {
	t.Parallel()

	result := convertButtons(t, "[!button|Accept](https://example.com/accept)\n[!button:error|Decline](https://example.com/decline)")

	require.Contains(t, result, `href="https://example.com/accept" class="button button-primary"`)
	require.Contains(t, result, `href="https://example.com/decline" class="button button-error"`)
}

func TestButtonExtension_IgnoresNonButtons(t *testing.T) {
	t.Parallel()

	tests := []struct {
		name   string
		source string
	}{
		{name: "regular link", source: `[Regular Link](https://example.com)`},
		{name: "missing URL", source: `[!button|Click Me]`},
		{name: "missing closing bracket", source: `[!button|Click Me(https://example.com)`},
		{name: "wrong prefix", source: `[button|Click Me](https://example.com)`},
		{name: "unknown color", source: `[!button:purple|Click](https://example.com)`},
	}

	for _, tt := range tests {
		t.Run(tt.name, func(t *testing.T) {
			t.Parallel()
			require.NotContains(t, convertButtons(t, tt.source), `class="button`)
		})
	}
}

func TestButtonExtension_EmptyLabel(t *testing.T) {
	t.Parallel()

	result := convertButtons(t, `[!button|](https://example.com)`)

	require.Contains(t, result, `class="button button-primary"`)
	require.Contains(t, result, `href="https://example.com"`)
}

func TestButtonExtension_URLWithQueryParams(t *testing.T) {
	t.Parallel()

	result := convertButtons(t, `[!button|Verify](https://example.com/verify?token=abc123&user=john)`)

	require.Contains(t, result, "token=abc123")
	require.Contains(t, result, "&amp;user=john")
}

func TestButtonExtension_SpecialCharactersInLabel(t *testing.T) {
	t.Parallel()

	require.Contains(t, convertButtons(t, `[!button|Accept & Continue](https://example.com)`), "Accept &amp; Continue")
}

func TestButtonNode(t *testing.T) {
	t.Parallel()

	node := &ButtonNode{URL: []byte("https://example.com"), Label: []byte("Test"), Color: []byte("primary")}

	require.Equal(t, KindButton, node.Kind())
	require.NotPanics(t, func() { node.Dump([]byte("source"), 0) })
	require.Equal(t, []byte{'['}, NewButtonParser().Trigger())
}
