package internal_test

import (
	"encoding/json"
	"io"
	"net/http"
	"net/http/httptest"
	"testing"

	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"

	"github.com/dmitrymomot/mailkit/internal"
	"github.com/dmitrymomot/mailkit/pkg/mailer"
)

func newPreviewServer(t *testing.T) *httptest.Server {
	t.Helper()

	m := internal.NewManager(newTestConfig(t, arrayConfig))
	srv := httptest.NewServer(internal.PreviewHandler(m, internal.Previews{
		"welcome": func() mailer.Mailable {
			return mailer.NewMail().To("user@example.com").Subject("Welcome").HTML("<h1>Welcome</h1>").Text("Welcome")
		},
		"plain": func() mailer.Mailable {
			return mailer.NewMail().To("user@example.com").Subject("Plain").Text("Just text")
		},
		"broken": func() mailer.Mailable {
			return mailer.NewMail().Subject("No recipients").Text("x")
		},
	}))
	t.Cleanup(srv.Close)
	return srv
}

func get(t *testing.T, url string) (*http.Response, string) {
	t.Helper()
	resp, err := http.Get(url) //nolint:noctx // test helper
	require.NoError(t, err)
	defer resp.Body.Close()
	body, err := io.ReadAll(resp.Body)
	require.NoError(t, err)
	return resp, string(body)
}

func TestPreviewHandler(t *testing.T) {
	t.Parallel()

	srv := newPreviewServer(t)

	tests := []struct {
		name        string
		path        string
		status      int
		contentType string
		contains    string
	}{
		{"html", "/welcome", http.StatusOK, "text/html; charset=utf-8", "<h1>Welcome</h1>"},
		{"html falls back to text", "/plain", http.StatusOK, "text/plain; charset=utf-8", "Just text"},
		{"text", "/welcome/text", http.StatusOK, "text/plain; charset=utf-8", "Welcome"},
		{"source", "/welcome/source", http.StatusOK, "message/rfc822", "Subject: Welcome"},
		{"other mailer", "/welcome?mailer=backup", http.StatusOK, "text/html; charset=utf-8", "<h1>Welcome</h1>"},
		{"unknown preview", "/missing", http.StatusNotFound, "", "preview not found"},
		{"unknown mailer", "/welcome?mailer=missing", http.StatusNotFound, "", "mailer not configured"},
		{"build failure", "/broken", http.StatusInternalServerError, "", "recipient"},
	}

	for _, tt := range tests {
		t.Run(tt.name, func(t *testing.T) {
			t.Parallel()
			resp, body := get(t, srv.URL+tt.path)
			assert.Equal(t, tt.status, resp.StatusCode)
			if tt.contentType != "" {
				assert.Equal(t, tt.contentType, resp.Header.Get("Content-Type"))
			}
			assert.Contains(t, body, tt.contains)
		})
	}
}

func TestPreviewHandler_List(t *testing.T) {
	t.Parallel()

	srv := newPreviewServer(t)
	resp, body := get(t, srv.URL+"/")
	assert.Equal(t, http.StatusOK, resp.StatusCode)

	var out struct {
		Previews []string `json:"previews"`
	}
	require.NoError(t, json.Unmarshal([]byte(body), &out))
	assert.Equal(t, []string{"broken", "plain", "welcome"}, out.Previews)
}
