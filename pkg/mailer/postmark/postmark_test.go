package postmark_test

import (
	"context"
	"encoding/base64"
	"encoding/json"
	"net/http"
	"net/http/httptest"
	"testing"

	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"

	"github.com/dmitrymomot/mailkit/pkg/mailer"
	"github.com/dmitrymomot/mailkit/pkg/mailer/postmark"
)

func newEmail(t *testing.T) *mailer.Email {
	t.Helper()

	email, err := mailer.NewMessage().
		From("team@example.com", "Team").
		To("a@example.com").
		To("b@example.com").
		Bcc("hidden@example.com").
		Subject("Hello").
		HTML("<p>hi</p>").
		Text("hi").
		Tag("welcome").
		Tag("second").
		Metadata("user_id", "42").
		AddTextHeader("X-Campaign", "spring").
		AttachData([]byte("a,b"), "report.csv").
		Finalize()
	require.NoError(t, err)
	return email
}

func TestNew(t *testing.T) {
	t.Parallel()

	_, err := postmark.New(postmark.Config{}, nil)
	require.ErrorIs(t, err, postmark.ErrInvalidConfig)

	tr, err := postmark.New(postmark.Config{Token: "tok"}, nil)
	require.NoError(t, err)
	assert.Equal(t, "postmark", tr.Name())
}

func TestTransport_Send(t *testing.T) {
	t.Parallel()

	var got map[string]any
	srv := httptest.NewServer(http.HandlerFunc(func(w http.ResponseWriter, r *http.Request) {
		assert.Equal(t, "/email", r.URL.Path)
		assert.Equal(t, "tok", r.Header.Get("X-Postmark-Server-Token"))
		assert.NoError(t, json.NewDecoder(r.Body).Decode(&got))

		w.Header().Set("Content-Type", "application/json")
		_, _ = w.Write([]byte(`{"ErrorCode":0,"Message":"OK","MessageID":"pm-1"}`))
	}))
	defer srv.Close()

	tr, err := postmark.New(postmark.Config{Token: "tok", MessageStreamID: "outbound", BaseURL: srv.URL}, nil)
	require.NoError(t, err)

	sent, err := tr.Send(context.Background(), newEmail(t))
	require.NoError(t, err)
	assert.Equal(t, "pm-1", sent.ProviderID)

	assert.Equal(t, `"Team" <team@example.com>`, got["From"])
	assert.Equal(t, "a@example.com,b@example.com", got["To"])
	assert.Equal(t, "hidden@example.com", got["Bcc"])
	assert.Equal(t, "welcome", got["Tag"])
	assert.Equal(t, "outbound", got["MessageStream"])
	assert.Equal(t, map[string]any{"user_id": "42"}, got["Metadata"])
	assert.Equal(t, "<p>hi</p>", got["HtmlBody"])

	headers, ok := got["Headers"].([]any)
	require.True(t, ok)
	assert.Contains(t, headers, map[string]any{"Name": "X-Campaign", "Value": "spring"})

	atts, ok := got["Attachments"].([]any)
	require.True(t, ok)
	require.Len(t, atts, 1)
	att := atts[0].(map[string]any)
	assert.Equal(t, "report.csv", att["Name"])
	assert.Equal(t, base64.StdEncoding.EncodeToString([]byte("a,b")), att["Content"])
}

func TestTransport_SendRejected(t *testing.T) {
	t.Parallel()

	srv := httptest.NewServer(http.HandlerFunc(func(w http.ResponseWriter, _ *http.Request) {
		w.Header().Set("Content-Type", "application/json")
		w.WriteHeader(http.StatusUnprocessableEntity)
		_, _ = w.Write([]byte(`{"ErrorCode":300,"Message":"Invalid email request"}`))
	}))
	defer srv.Close()

	tr, err := postmark.New(postmark.Config{Token: "tok", BaseURL: srv.URL}, nil)
	require.NoError(t, err)

	_, err = tr.Send(context.Background(), newEmail(t))
	require.ErrorIs(t, err, postmark.ErrRequest)
	require.ErrorIs(t, err, mailer.ErrProviderRejected)
	assert.Contains(t, err.Error(), "Invalid email request")
	assert.Contains(t, err.Error(), "300")
}
