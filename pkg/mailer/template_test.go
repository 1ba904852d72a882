package mailer

import (
	"testing"

	"github.com/stretchr/testify/require"
)

func TestParseTemplate_WithFrontmatter(t *testing.T) {
	t.Parallel()

	content := []byte(`---
Subject: Welcome Email
Author: System
---
# Hello World

This is the email body.
`)

	tmpl, err := ParseTemplate(content)
	require.NoError(t, err)
	require.NotNil(t, tmpl)
	require.Equal(t, "Welcome Email", tmpl.Subject())
	require.Equal(t, "Welcome Email", tmpl.Metadata["subject"])
	require.Equal(t, "System", tmpl.Metadata["author"])
	require.Equal(t, "# Hello World\n\nThis is the email body.\n", tmpl.Body)
}

func TestParseTemplate_Bodies(t *testing.T) {
	t.Parallel()

	tests := []struct {
		name    string
		content string
		body    string
		subject string
	}{
		{name: "without frontmatter", content: "# Hello\n\nplain markdown", body: "# Hello\n\nplain markdown"},
		{name: "empty frontmatter", content: "---\n---\nBody content here.", body: "Body content here."},
		{name: "whitespace frontmatter", content: "---\n\n---\nBody content.", body: "Body content."},
		{name: "unix line endings", content: "---\nSubject: Test\n---\nBody", body: "Body", subject: "Test"},
		{name: "windows line endings", content: "---\r\nSubject: Test\r\n---\r\nBody", body: "Body", subject: "Test"},
		{name: "empty body", content: "---\nsubject: Test\n---\n", body: "", subject: "Test"},
		{name: "empty content", content: "", body: ""},
	}

	for _, tt := range tests {
		t.Run(tt.name, func(t *testing.T) {
			t.Parallel()

			tmpl, err := ParseTemplate([]byte(tt.content))
			require.NoError(t, err)
			require.Equal(t, tt.body, tmpl.Body)
			require.Equal(t, tt.subject, tmpl.Subject())
		})
	}
}

func TestParseTemplate_Errors(t *testing.T) {
	t.Parallel()

	tests := []struct {
		name    string
		content string
	}{
		{name: "missing closing delimiter", content: "---\nSubject: Test\nBody without closing delimiter"},
		{name: "no content after opening", content: "---"},
		{name: "invalid yaml", content: "---\nSubject: Test\nInvalid: [unclosed\n---\nBody"},
	}

	for _, tt := range tests {
		t.Run(tt.name, func(t *testing.T) {
			t.Parallel()

			tmpl, err := ParseTemplate([]byte(tt.content))
			require.ErrorIs(t, err, ErrInvalidFrontmatter)
			require.Nil(t, tmpl)
		})
	}
}

func TestParseTemplate_ComplexMetadata(t *testing.T) {
	t.Parallel()

	content := []byte(`---
Subject: Complex Email
Layout: promo.html
Tags:
  - welcome
  - onboarding
Settings:
  tracking: true
OrderID: 12345
---
Email body here.`)

	tmpl, err := ParseTemplate(content)
	require.NoError(t, err)
	require.Equal(t, "Complex Email", tmpl.Subject())
	require.Equal(t, "promo.html", tmpl.Metadata["layout"])
	require.Equal(t, 12345, tmpl.Metadata["orderid"])

	tags, ok := tmpl.Metadata["tags"].([]any)
	require.True(t, ok)
	require.Equal(t, []any{"welcome", "onboarding"}, tags)

	settings, ok := tmpl.Metadata["settings"].(map[string]any)
	require.True(t, ok)
	require.Equal(t, true, settings["tracking"])

	require.Equal(t, "Email body here.", tmpl.Body)
}

func TestParseTemplate_BodyWithDelimiters(t *testing.T) {
	t.Parallel()

	content := []byte("---\nSubject: Code Example\n---\nUsage:\n\n```\n---\nkey: value\n---\n```\n")

	tmpl, err := ParseTemplate(content)
	require.NoError(t, err)
	require.Equal(t, "Code Example", tmpl.Subject())
	require.Contains(t, tmpl.Body, "key: value")
}
