package mailer

import (
	"context"
	"fmt"
	"strings"
	"sync"
	"sync/atomic"
	"testing"
	"testing/fstest"

	"github.com/stretchr/testify/require"
)

func testViewsFS() fstest.MapFS {
	return fstest.MapFS{
		"layouts/base.html": &fstest.MapFile{
			Data: []byte(`<html><body>{{.Content}}</body></html>`),
		},
		"layouts/promo.html": &fstest.MapFile{
			Data: []byte(`<div class="promo">{{.Content}}</div>`),
		},
		"welcome.md": &fstest.MapFile{
			Data: []byte(`---
Subject: Welcome {{.Name}}
---
Hello **{{.Name}}**!

Welcome to our service.
`),
		},
		"promo.md": &fstest.MapFile{
			Data: []byte("---\nlayout: promo.html\n---\nBig **sale**\n"),
		},
		"invoice.html": &fstest.MapFile{
			Data: []byte(`<p>Invoice for {{.Name}}</p>`),
		},
		"invoice.txt": &fstest.MapFile{
			Data: []byte(`Invoice for {{.Name}}`),
		},
	}
}

func TestRenderer_RenderMarkdown(t *testing.T) {
	t.Parallel()

	renderer := NewRenderer(testViewsFS())

	result, err := renderer.RenderMarkdown(context.Background(), "welcome.md", map[string]any{"Name": "Alice"})
	require.NoError(t, err)

	require.Contains(t, result.Text, "Hello **Alice**!")
	require.Contains(t, result.Text, "Welcome to our service.")
	require.NotContains(t, result.Text, "<strong>")

	require.Contains(t, result.HTML, "<html><body>")
	require.Contains(t, result.HTML, "<strong>Alice</strong>")
	require.Equal(t, "Welcome {{.Name}}", result.Metadata["subject"])
}

func TestRenderer_RenderMarkdown_FrontmatterLayout(t *testing.T) {
	t.Parallel()

	renderer := NewRenderer(testViewsFS())

	result, err := renderer.RenderMarkdown(context.Background(), "promo.md", nil)
	require.NoError(t, err)
	require.Contains(t, result.HTML, `<div class="promo">`)
	require.Contains(t, result.HTML, "<strong>sale</strong>")
}

func TestRenderer_Fetch(t *testing.T) {
	t.Parallel()

	renderer := NewRenderer(testViewsFS())
	ctx := context.Background()
	data := map[string]any{"Name": "<Bob>"}

	tests := []struct {
		name     string
		view     string
		contains string
	}{
		{name: "html view escapes data", view: "invoice.html", contains: "<p>Invoice for &lt;Bob&gt;</p>"},
		{name: "text view keeps data", view: "invoice.txt", contains: "Invoice for <Bob>"},
		{name: "markdown view returns html", view: "welcome.md", contains: "<p>Welcome to our service.</p>"},
	}

	for _, tt := range tests {
		t.Run(tt.name, func(t *testing.T) {
			t.Parallel()

			out, err := renderer.Fetch(ctx, tt.view, data)
			require.NoError(t, err)
			require.Contains(t, out, tt.contains)
		})
	}
}

func TestRenderer_Errors(t *testing.T) {
	t.Parallel()

	ctx := context.Background()

	t.Run("missing template", func(t *testing.T) {
		t.Parallel()
		_, err := NewRenderer(fstest.MapFS{}).Fetch(ctx, "nope.html", nil)
		require.ErrorIs(t, err, ErrTemplateNotFound)
	})

	t.Run("missing layout", func(t *testing.T) {
		t.Parallel()
		r := NewRendererWithConfig(testViewsFS(), RendererConfig{DefaultLayout: "missing.html"})
		_, err := r.RenderMarkdown(ctx, "welcome.md", nil)
		require.ErrorIs(t, err, ErrLayoutNotFound)
	})

	t.Run("broken template", func(t *testing.T) {
		t.Parallel()
		fs := fstest.MapFS{"broken.txt": &fstest.MapFile{Data: []byte("{{.Name")}}
		_, err := NewRenderer(fs).Fetch(ctx, "broken.txt", nil)
		require.ErrorIs(t, err, ErrRenderFailed)
	})

	t.Run("invalid frontmatter", func(t *testing.T) {
		t.Parallel()
		fs := fstest.MapFS{"bad.md": &fstest.MapFile{Data: []byte("---\nsubject: [x\n---\nbody")}}
		_, err := NewRenderer(fs).RenderMarkdown(ctx, "bad.md", nil)
		require.ErrorIs(t, err, ErrInvalidFrontmatter)
	})
}

func TestRenderer_CachesTemplates(t *testing.T) {
	t.Parallel()

	var readCount atomic.Int32
	cfs := &countingFS{MapFS: testViewsFS(), readCount: &readCount}
	renderer := NewRenderer(cfs)
	ctx := context.Background()

	_, err := renderer.RenderMarkdown(ctx, "welcome.md", map[string]any{"Name": "Alice"})
	require.NoError(t, err)
	require.Equal(t, int32(2), readCount.Load(), "template and layout")

	_, err = renderer.RenderMarkdown(ctx, "welcome.md", map[string]any{"Name": "Bob"})
	require.NoError(t, err)
	require.Equal(t, int32(2), readCount.Load(), "served from cache")

	_, err = renderer.RenderMarkdown(ctx, "promo.md", nil)
	require.NoError(t, err)
	require.Equal(t, int32(4), readCount.Load(), "new template and its layout")
}

func TestRenderer_ConcurrentAccess(t *testing.T) {
	t.Parallel()

	renderer := NewRenderer(testViewsFS())
	ctx := context.Background()

	var wg sync.WaitGroup
	errs := make(chan error, 100)

	for i := range 100 {
		wg.Add(1)
		go func(n int) {
			defer wg.Done()
			name := fmt.Sprintf("user-%d", n)
			result, err := renderer.RenderMarkdown(ctx, "welcome.md", map[string]any{"Name": name})
			if err != nil {
				errs <- err
				return
			}
			if !strings.Contains(result.Text, name) {
				errs <- fmt.Errorf("render %d: missing name", n)
			}
		}(i)
	}

	wg.Wait()
	close(errs)

	for err := range errs {
		t.Errorf("concurrent render failed: %v", err)
	}
}

// countingFS wraps MapFS and counts ReadFile calls.
type countingFS struct {
	fstest.MapFS
	readCount *atomic.Int32
}

func (c *countingFS) ReadFile(name string) ([]byte, error) {
	c.readCount.Add(1)
	return c.MapFS.ReadFile(name)
}
