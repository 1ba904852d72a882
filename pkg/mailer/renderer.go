package mailer

import (
	"bytes"
	"context"
	"fmt"
	"html/template"
	"io/fs"
	"path"
	"strings"
	"sync"
	texttemplate "text/template"

	"github.com/yuin/goldmark"
	"github.com/yuin/goldmark/extension"
)

// Renderer loads views from a filesystem.
// Files ending in .html or .htm are html/template views, .md files are markdown
// with YAML frontmatter wrapped in a layout, anything else is a text/template view.
type Renderer struct {
	fs fs.FS
	md goldmark.Markdown

	// Caches hold parsed templates, never rendered output.
	textCache     map[string]*cachedTemplate
	htmlCache     map[string]*template.Template
	layoutCache   map[string]*template.Template
	templateDir   string
	layoutDir     string
	defaultLayout string

	mu sync.RWMutex
}

type cachedTemplate struct {
	metadata map[string]any
	tmpl     *texttemplate.Template
}

// RendererConfig configures the renderer.
type RendererConfig struct {
	TemplateDir   string `env:"MAIL_TEMPLATE_DIR" envDefault:"."`
	LayoutDir     string `env:"MAIL_LAYOUT_DIR" envDefault:"layouts"`
	DefaultLayout string `env:"MAIL_DEFAULT_LAYOUT" envDefault:"base.html"`
}

// NewRenderer creates a new renderer with default config.
func NewRenderer(filesystem fs.FS) *Renderer {
	return NewRendererWithConfig(filesystem, RendererConfig{})
}

// NewRendererWithConfig creates a new renderer with custom config.
func NewRendererWithConfig(filesystem fs.FS, cfg RendererConfig) *Renderer {
	if cfg.TemplateDir == "" {
		cfg.TemplateDir = "."
	}
	if cfg.LayoutDir == "" {
		cfg.LayoutDir = "layouts"
	}
	if cfg.DefaultLayout == "" {
		cfg.DefaultLayout = "base.html"
	}

	return &Renderer{
		fs:            filesystem,
		templateDir:   cfg.TemplateDir,
		layoutDir:     cfg.LayoutDir,
		defaultLayout: cfg.DefaultLayout,
		md: goldmark.New(
			goldmark.WithExtensions(extension.GFM, NewButtonExtension()),
		),
		textCache:   make(map[string]*cachedTemplate),
		htmlCache:   make(map[string]*template.Template),
		layoutCache: make(map[string]*template.Template),
	}
}

// Fetch implements ViewEngine. Markdown views return the HTML rendition.
func (r *Renderer) Fetch(ctx context.Context, name string, data map[string]any) (string, error) {
	switch strings.ToLower(path.Ext(name)) {
	case ".md":
		res, err := r.RenderMarkdown(ctx, name, data)
		if err != nil {
			return "", err
		}
		return res.HTML, nil
	case ".html", ".htm":
		tmpl, err := r.getHTML(name)
		if err != nil {
			return "", err
		}
		var out bytes.Buffer
		if err := tmpl.Execute(&out, data); err != nil {
			return "", fmt.Errorf("%w: %s: %v", ErrRenderFailed, name, err)
		}
		return out.String(), nil
	default:
		cached, err := r.getText(name)
		if err != nil {
			return "", err
		}
		var out bytes.Buffer
		if err := cached.tmpl.Execute(&out, data); err != nil {
			return "", fmt.Errorf("%w: %s: %v", ErrRenderFailed, name, err)
		}
		return out.String(), nil
	}
}

// RenderMarkdown processes a markdown template with the default layout.
// The frontmatter "layout" key selects another layout.
func (r *Renderer) RenderMarkdown(_ context.Context, name string, data map[string]any) (*RenderResult, error) {
	cached, err := r.getText(name)
	if err != nil {
		return nil, err
	}

	var processed bytes.Buffer
	if err := cached.tmpl.Execute(&processed, data); err != nil {
		return nil, fmt.Errorf("%w: failed to execute template: %v", ErrRenderFailed, err)
	}

	// Plain text is the processed markdown before HTML conversion.
	plainText := processed.String()

	var htmlContent bytes.Buffer
	if err := r.md.Convert(processed.Bytes(), &htmlContent); err != nil {
		return nil, fmt.Errorf("%w: failed to convert markdown: %v", ErrRenderFailed, err)
	}

	layout := r.defaultLayout
	if l, ok := cached.metadata["layout"].(string); ok && l != "" {
		layout = l
	}
	layoutTmpl, err := r.getLayout(layout)
	if err != nil {
		return nil, err
	}

	var finalHTML bytes.Buffer
	layoutData := map[string]any{
		"Content":  template.HTML(htmlContent.String()),
		"Metadata": cached.metadata,
		"Data":     data,
	}
	if err := layoutTmpl.Execute(&finalHTML, layoutData); err != nil {
		return nil, fmt.Errorf("%w: failed to execute layout: %v", ErrRenderFailed, err)
	}

	return &RenderResult{
		HTML:     finalHTML.String(),
		Text:     plainText,
		Metadata: cached.metadata,
	}, nil
}

func (r *Renderer) read(dir, name string, notFound error) ([]byte, error) {
	content, err := fs.ReadFile(r.fs, path.Join(dir, name))
	if err != nil {
		return nil, fmt.Errorf("%w: %s: %v", notFound, name, err)
	}
	return content, nil
}

// getText returns a cached text template with its frontmatter, parsing it on first use.
func (r *Renderer) getText(name string) (*cachedTemplate, error) {
	r.mu.RLock()
	if cached, ok := r.textCache[name]; ok {
		r.mu.RUnlock()
		return cached, nil
	}
	r.mu.RUnlock()

	r.mu.Lock()
	defer r.mu.Unlock()

	// Double-check after acquiring write lock
	if cached, ok := r.textCache[name]; ok {
		return cached, nil
	}

	content, err := r.read(r.templateDir, name, ErrTemplateNotFound)
	if err != nil {
		return nil, err
	}

	parsed, err := ParseTemplate(content)
	if err != nil {
		return nil, fmt.Errorf("%w: %s: %w", ErrRenderFailed, name, err)
	}

	tmpl, err := texttemplate.New(name).Parse(parsed.Body)
	if err != nil {
		return nil, fmt.Errorf("%w: failed to parse template body: %v", ErrRenderFailed, err)
	}

	cached := &cachedTemplate{metadata: parsed.Metadata, tmpl: tmpl}
	r.textCache[name] = cached
	return cached, nil
}

func (r *Renderer) getHTML(name string) (*template.Template, error) {
	return r.parseHTML(r.htmlCache, r.templateDir, name, ErrTemplateNotFound)
}

func (r *Renderer) getLayout(name string) (*template.Template, error) {
	return r.parseHTML(r.layoutCache, r.layoutDir, name, ErrLayoutNotFound)
}

func (r *Renderer) parseHTML(cache map[string]*template.Template, dir, name string, notFound error) (*template.Template, error) {
	r.mu.RLock()
	if cached, ok := cache[name]; ok {
		r.mu.RUnlock()
		return cached, nil
	}
	r.mu.RUnlock()

	r.mu.Lock()
	defer r.mu.Unlock()

	if cached, ok := cache[name]; ok {
		return cached, nil
	}

	content, err := r.read(dir, name, notFound)
	if err != nil {
		return nil, err
	}

	tmpl, err := template.New(name).Parse(string(content))
	if err != nil {
		return nil, fmt.Errorf("%w: failed to parse %s: %v", ErrRenderFailed, name, err)
	}

	cache[name] = tmpl
	return tmpl, nil
}
