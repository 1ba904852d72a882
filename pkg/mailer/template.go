package mailer

import (
	"bytes"
	"fmt"
	"strings"

	"gopkg.in/yaml.v3"
)

var frontmatterDelimiter = []byte("---")

// Template is a view source split into frontmatter metadata and body.
// Metadata keys are lower-cased, so "Subject" and "subject" are the same key.
type Template struct {
	Metadata map[string]any
	Body     string
}

// Subject returns the "subject" frontmatter value, if any.
func (t *Template) Subject() string {
	s, _ := t.Metadata["subject"].(string)
	return s
}

// ParseTemplate splits optional YAML frontmatter, delimited by "---" lines, from the template body.
func ParseTemplate(content []byte) (*Template, error) {
	if !bytes.HasPrefix(content, frontmatterDelimiter) {
		return &Template{Metadata: map[string]any{}, Body: string(content)}, nil
	}

	rest := bytes.TrimLeft(bytes.TrimPrefix(content, frontmatterDelimiter), "\r\n")
	if len(rest) == 0 {
		return nil, fmt.Errorf("%w: no content after opening delimiter", ErrInvalidFrontmatter)
	}

	end := bytes.Index(rest, frontmatterDelimiter)
	if end == -1 {
		return nil, fmt.Errorf("%w: closing delimiter not found", ErrInvalidFrontmatter)
	}

	raw := rest[:end]
	bodyStart := end + len(frontmatterDelimiter)
	switch {
	case bytes.HasPrefix(rest[bodyStart:], []byte("\r\n")):
		bodyStart += 2
	case bytes.HasPrefix(rest[bodyStart:], []byte("\n")):
		bodyStart++
	}

	parsed := map[string]any{}
	if len(bytes.TrimSpace(raw)) > 0 {
		if err := yaml.Unmarshal(raw, &parsed); err != nil {
			return nil, fmt.Errorf("%w: %v", ErrInvalidFrontmatter, err)
		}
	}

	metadata := make(map[string]any, len(parsed))
	for k, v := range parsed {
		metadata[strings.ToLower(k)] = v
	}

	return &Template{Metadata: metadata, Body: string(rest[bodyStart:])}, nil
}
