package internal

import (
	"encoding/json"
	"errors"
	"log/slog"
	"maps"
	"net/http"
	"slices"

	"github.com/go-chi/chi/v5"

	"github.com/dmitrymomot/mailkit/pkg/mailer"
)

// Previews maps a preview name to a constructor of a sample mailable.
type Previews map[string]func() mailer.Mailable

// PreviewHandler serves rendered mailables without sending them:
//
//	GET /                 preview names as JSON
//	GET /{name}           HTML body (text body when there is no HTML)
//	GET /{name}/text      text body
//	GET /{name}/source    full MIME message
//
// The "mailer" query parameter selects a mailer other than the default.
func PreviewHandler(m *Manager, previews Previews) http.Handler {
	h := &previewHandler{manager: m, previews: previews}

	r := chi.NewRouter()
	r.Get("/", h.list)
	r.Get("/{name}", h.html)
	r.Get("/{name}/text", h.text)
	r.Get("/{name}/source", h.source)
	return r
}

type previewHandler struct {
	manager  *Manager
	previews Previews
}

func (h *previewHandler) list(w http.ResponseWriter, _ *http.Request) {
	w.Header().Set("Content-Type", "application/json")
	_ = json.NewEncoder(w).Encode(map[string][]string{
		"previews": slices.Sorted(maps.Keys(h.previews)),
	})
}

func (h *previewHandler) html(w http.ResponseWriter, r *http.Request) {
	email, ok := h.build(w, r)
	if !ok {
		return
	}
	if email.HTML == "" {
		writeBody(w, "text/plain; charset=utf-8", []byte(email.Text))
		return
	}
	writeBody(w, "text/html; charset=utf-8", []byte(email.HTML))
}

func (h *previewHandler) text(w http.ResponseWriter, r *http.Request) {
	email, ok := h.build(w, r)
	if !ok {
		return
	}
	writeBody(w, "text/plain; charset=utf-8", []byte(email.Text))
}

func (h *previewHandler) source(w http.ResponseWriter, r *http.Request) {
	email, ok := h.build(w, r)
	if !ok {
		return
	}
	raw, err := email.Bytes()
	if err != nil {
		h.fail(w, r, err)
		return
	}
	writeBody(w, "message/rfc822", raw)
}

func (h *previewHandler) build(w http.ResponseWriter, r *http.Request) (*mailer.Email, bool) {
	name := chi.URLParam(r, "name")
	factory, ok := h.previews[name]
	if !ok {
		http.Error(w, "preview not found", http.StatusNotFound)
		return nil, false
	}

	ml, err := h.manager.Mailer(r.Context(), r.URL.Query().Get("mailer"))
	if err != nil {
		if errors.Is(err, ErrMailerNotConfigured) {
			http.Error(w, err.Error(), http.StatusNotFound)
			return nil, false
		}
		h.fail(w, r, err)
		return nil, false
	}

	email, err := ml.Build(r.Context(), factory())
	if err != nil {
		h.fail(w, r, err)
		return nil, false
	}
	return email, true
}

func (h *previewHandler) fail(w http.ResponseWriter, r *http.Request, err error) {
	h.manager.logger.ErrorContext(r.Context(), "mail preview failed",
		slog.String("path", r.URL.Path),
		slog.Any("error", err),
	)
	http.Error(w, err.Error(), http.StatusInternalServerError)
}

func writeBody(w http.ResponseWriter, contentType string, body []byte) {
	w.Header().Set("Content-Type", contentType)
	w.WriteHeader(http.StatusOK)
	_, _ = w.Write(body)
}
