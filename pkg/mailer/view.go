package mailer

import (
	"bytes"
	"context"
	"encoding/json"
	"errors"
	"fmt"
	"html/template"
	"strings"
	"sync"
)

// ViewEngine renders a named template with a data context.
type ViewEngine interface {
	Fetch(ctx context.Context, name string, data map[string]any) (string, error)
}

// MarkdownRenderer renders markdown views into HTML and plain text in one pass.
type MarkdownRenderer interface {
	RenderMarkdown(ctx context.Context, name string, data map[string]any) (*RenderResult, error)
}

// RenderResult contains the rendered HTML, plain text, and extracted metadata.
type RenderResult struct {
	Metadata map[string]any
	HTML     string
	Text     string
}

// View references the content of a message.
// HTML and Text are template names, HTMLString is literal HTML and Raw is literal text.
type View struct {
	HTML       string
	Text       string
	Raw        string
	HTMLString string
	Markdown   string
}

// IsZero reports whether the view references no content at all.
func (v View) IsZero() bool {
	return v == View{}
}

// ViewFrom converts the accepted view shapes into a View: a template name,
// an [html, text] pair, or a map with "html", "text" and "raw" keys.
func ViewFrom(v any) (View, error) {
	switch val := v.(type) {
	case View:
		return val, nil
	case *View:
		if val != nil {
			return *val, nil
		}
	case string:
		if val != "" {
			return View{HTML: val}, nil
		}
	case [2]string:
		return View{HTML: val[0], Text: val[1]}, nil
	case []string:
		if len(val) == 2 {
			return View{HTML: val[0], Text: val[1]}, nil
		}
	case map[string]string:
		view := View{HTML: val["html"], Text: val["text"], Raw: val["raw"]}
		if !view.IsZero() {
			return view, nil
		}
	}
	return View{}, fmt.Errorf("%w: %T", ErrInvalidView, v)
}

// EmbedSource is view data that should be embedded as inline content.
// Pass it under a "cid:name" key; templates then see a "name" variable holding the reference.
// It survives a queue round trip.
type EmbedSource struct {
	Name string `json:"name,omitempty"`
	Mime string `json:"mime,omitempty"`
	Data []byte `json:"data"`
}

// prepareData replaces "cid:" prefixed entries with references to parts embedded in msg.
// String values are embedded as files, EmbedSource values as data.
func prepareData(msg *Message, data map[string]any) map[string]any {
	out := make(map[string]any, len(data))
	for k, v := range data {
		name, isCID := strings.CutPrefix(k, cidPrefix)
		if !isCID {
			out[k] = v
			continue
		}
		if path, ok := v.(string); ok {
			out[name] = template.URL(msg.Embed(path))
			continue
		}
		src, ok := embedSource(v)
		if !ok {
			out[k] = v
			continue
		}
		if src.Name == "" {
			src.Name = name
		}
		out[name] = template.URL(msg.EmbedData(src.Data, src.Name, src.Mime))
	}
	return out
}

// embedSource accepts an EmbedSource or its JSON object form, which is what a
// queued mailable's view data holds after decoding.
func embedSource(v any) (EmbedSource, bool) {
	switch src := v.(type) {
	case EmbedSource:
		return src, true
	case *EmbedSource:
		if src != nil {
			return *src, true
		}
	case map[string]any:
		raw, err := json.Marshal(src)
		if err != nil {
			return EmbedSource{}, false
		}
		dec := json.NewDecoder(bytes.NewReader(raw))
		dec.DisallowUnknownFields()
		var out EmbedSource
		if dec.Decode(&out) == nil && len(out.Data) > 0 {
			return out, true
		}
	}
	return EmbedSource{}, false
}

// EngineChain tries each engine in order and returns the first template found.
type EngineChain []ViewEngine

// Fetch implements ViewEngine.
func (c EngineChain) Fetch(ctx context.Context, name string, data map[string]any) (string, error) {
	for _, engine := range c {
		out, err := engine.Fetch(ctx, name, data)
		if errors.Is(err, ErrTemplateNotFound) {
			continue
		}
		return out, err
	}
	return "", fmt.Errorf("%w: %s", ErrTemplateNotFound, name)
}

// RenderMarkdown implements MarkdownRenderer using the first engine that supports markdown.
func (c EngineChain) RenderMarkdown(ctx context.Context, name string, data map[string]any) (*RenderResult, error) {
	for _, engine := range c {
		md, ok := engine.(MarkdownRenderer)
		if !ok {
			continue
		}
		res, err := md.RenderMarkdown(ctx, name, data)
		if errors.Is(err, ErrTemplateNotFound) {
			continue
		}
		return res, err
	}
	return nil, fmt.Errorf("%w: %s", ErrTemplateNotFound, name)
}

// StringViews is an in-memory ViewEngine of html/template sources, useful for tests and previews.
type StringViews struct {
	cache   map[string]*template.Template
	sources map[string]string
	mu      sync.RWMutex
}

// NewStringViews creates a view engine from name to template source.
func NewStringViews(sources map[string]string) *StringViews {
	return &StringViews{sources: sources, cache: make(map[string]*template.Template)}
}

// Fetch implements ViewEngine.
func (s *StringViews) Fetch(_ context.Context, name string, data map[string]any) (string, error) {
	tmpl, err := s.template(name)
	if err != nil {
		return "", err
	}
	var b strings.Builder
	if err := tmpl.Execute(&b, data); err != nil {
		return "", fmt.Errorf("%w: %s: %v", ErrRenderFailed, name, err)
	}
	return b.String(), nil
}

func (s *StringViews) template(name string) (*template.Template, error) {
	s.mu.RLock()
	tmpl, ok := s.cache[name]
	s.mu.RUnlock()
	if ok {
		return tmpl, nil
	}

	s.mu.Lock()
	defer s.mu.Unlock()
	if tmpl, ok := s.cache[name]; ok {
		return tmpl, nil
	}
	src, ok := s.sources[name]
	if !ok {
		return nil, fmt.Errorf("%w: %s", ErrTemplateNotFound, name)
	}
	tmpl, err := template.New(name).Parse(src)
	if err != nil {
		return nil, fmt.Errorf("%w: %s: %v", ErrRenderFailed, name, err)
	}
	s.cache[name] = tmpl
	return tmpl, nil
}
