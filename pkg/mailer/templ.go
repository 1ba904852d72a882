package mailer

import (
	"bytes"
	"context"
	"fmt"
	"sync"

	"github.com/a-h/templ"
)

// ComponentFunc builds a templ component from view data.
type ComponentFunc func(data map[string]any) templ.Component

// TemplEngine is a ViewEngine backed by registered templ components.
type TemplEngine struct {
	components map[string]ComponentFunc
	mu         sync.RWMutex
}

// NewTemplEngine creates an empty engine.
func NewTemplEngine() *TemplEngine {
	return &TemplEngine{components: make(map[string]ComponentFunc)}
}

// Register adds a component under a view name.
func (e *TemplEngine) Register(name string, fn ComponentFunc) *TemplEngine {
	e.mu.Lock()
	defer e.mu.Unlock()
	e.components[name] = fn
	return e
}

// Fetch implements ViewEngine.
func (e *TemplEngine) Fetch(ctx context.Context, name string, data map[string]any) (string, error) {
	e.mu.RLock()
	fn, ok := e.components[name]
	e.mu.RUnlock()
	if !ok {
		return "", fmt.Errorf("%w: %s", ErrTemplateNotFound, name)
	}

	var buf bytes.Buffer
	if err := fn(data).Render(ctx, &buf); err != nil {
		return "", fmt.Errorf("%w: %s: %v", ErrRenderFailed, name, err)
	}
	return buf.String(), nil
}
