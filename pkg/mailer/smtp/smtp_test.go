package smtp_test

import (
	"bufio"
	"bytes"
	"context"
	"errors"
	"io"
	"net"
	"slices"
	"strings"
	"sync"
	"testing"
	"time"

	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"
	"golang.org/x/oauth2"
	"gopkg.in/gomail.v2"

	"github.com/dmitrymomot/mailkit/pkg/mailer"
	"github.com/dmitrymomot/mailkit/pkg/mailer/smtp"
)

type session struct {
	body    bytes.Buffer
	from    string
	to      []string
	sendErr error
	closed  bool
}

func (s *session) Send(from string, to []string, msg io.WriterTo) error {
	if s.sendErr != nil {
		return s.sendErr
	}
	s.from = from
	s.to = to
	_, err := msg.WriteTo(&s.body)
	return err
}

func (s *session) Close() error {
	s.closed = true
	return nil
}

type fakeDialer struct {
	session *session
	err     error
	mu      sync.Mutex
	dials   int
}

func (d *fakeDialer) Dial(context.Context) (gomail.SendCloser, error) {
	d.mu.Lock()
	defer d.mu.Unlock()
	d.dials++
	if d.err != nil {
		return nil, d.err
	}
	return d.session, nil
}

func newEmail(t *testing.T) *mailer.Email {
	t.Helper()

	email, err := mailer.NewMessage().
		From("team@example.com", "Team").
		ReturnPath("bounce@example.com").
		To("a@example.com").
		Cc("c@example.com").
		Bcc("hidden@example.com").
		Subject("Hello").
		Text("hi").
		Finalize()
	require.NoError(t, err)
	return email
}

func TestSchemeFor(t *testing.T) {
	t.Parallel()

	tests := []struct {
		encryption string
		port       int
		want       smtp.Scheme
	}{
		{encryption: "tls", port: 465, want: smtp.SchemeSMTPS},
		{encryption: "ssl", port: 465, want: smtp.SchemeSMTPS},
		{encryption: "tls", port: 587, want: smtp.SchemeStartTLS},
		{encryption: "starttls", port: 25, want: smtp.SchemeStartTLS},
		{encryption: "", port: 465, want: smtp.SchemePlain},
		{encryption: "", port: 25, want: smtp.SchemePlain},
	}

	for _, tt := range tests {
		assert.Equal(t, tt.want, smtp.SchemeFor(tt.encryption, tt.port), "%s:%d", tt.encryption, tt.port)
	}
}

func TestNew(t *testing.T) {
	t.Parallel()

	tr, err := smtp.New(smtp.Config{Host: "mail.example.com", Port: 465, Encryption: "tls"})
	require.NoError(t, err)
	assert.Equal(t, smtp.SchemeSMTPS, tr.Scheme())
	assert.Equal(t, "smtp", tr.Name())

	_, err = smtp.New(smtp.Config{})
	require.ErrorIs(t, err, smtp.ErrInvalidConfig)

	_, err = smtp.New(smtp.Config{Host: "mail.example.com", AuthMode: smtp.AuthXOAuth2})
	require.ErrorIs(t, err, smtp.ErrInvalidConfig)

	tr, err = smtp.New(smtp.Config{
		Host:     "mail.example.com",
		AuthMode: smtp.AuthXOAuth2,
		OAuth:    &smtp.OAuthConfig{ClientID: "id", ClientSecret: "secret", TokenURL: "https://auth.example.com/token"},
	})
	require.NoError(t, err)
	assert.Equal(t, smtp.SchemePlain, tr.Scheme())

	var _ mailer.TimeoutSetter = tr
	var _ mailer.SourceIPSetter = tr
}

func TestTransport_Send(t *testing.T) {
	t.Parallel()

	s := &session{}
	tr := smtp.NewWithDialer(&fakeDialer{session: s}, smtp.SchemePlain)
	email := newEmail(t)

	sent, err := tr.Send(context.Background(), email)
	require.NoError(t, err)

	assert.Equal(t, "smtp", sent.Transport)
	assert.Equal(t, "bounce@example.com", s.from)
	assert.Equal(t, []string{"a@example.com", "c@example.com", "hidden@example.com"}, s.to)
	assert.True(t, s.closed)
	assert.Contains(t, s.body.String(), "Subject: Hello")
	assert.NotContains(t, s.body.String(), "hidden@example.com")
}

func TestTransport_Errors(t *testing.T) {
	t.Parallel()

	email := newEmail(t)

	tr := smtp.NewWithDialer(&fakeDialer{err: errors.New("refused")}, smtp.SchemePlain)
	_, err := tr.Send(context.Background(), email)
	require.ErrorIs(t, err, smtp.ErrDial)

	s := &session{sendErr: errors.New("550 mailbox unavailable")}
	tr = smtp.NewWithDialer(&fakeDialer{session: s}, smtp.SchemePlain)
	_, err = tr.Send(context.Background(), email)
	require.ErrorIs(t, err, smtp.ErrSend)
	assert.Contains(t, err.Error(), "550")
	assert.True(t, s.closed)
}

// relay is a minimal SMTP server accepting every message. It never offers STARTTLS.
type relay struct {
	dataDelay time.Duration
	port      int
	mu        sync.Mutex
	messages  []string
	peers     []string
}

func newRelay(t *testing.T, dataDelay time.Duration) *relay {
	t.Helper()

	ln, err := net.Listen("tcp", "127.0.0.1:0")
	require.NoError(t, err)
	t.Cleanup(func() { _ = ln.Close() })

	r := &relay{dataDelay: dataDelay, port: ln.Addr().(*net.TCPAddr).Port}
	go func() {
		for {
			conn, err := ln.Accept()
			if err != nil {
				return
			}
			go r.serve(conn)
		}
	}()
	return r
}

func (r *relay) serve(conn net.Conn) {
	defer conn.Close()

	r.mu.Lock()
	r.peers = append(r.peers, conn.RemoteAddr().(*net.TCPAddr).IP.String())
	r.mu.Unlock()

	in := bufio.NewReader(conn)
	reply := func(line string) { _, _ = io.WriteString(conn, line+"\r\n") }
	reply("220 relay.test ESMTP")
	for {
		line, err := in.ReadString('\n')
		if err != nil {
			return
		}
		cmd := strings.ToUpper(strings.TrimSpace(line))
		switch {
		case strings.HasPrefix(cmd, "EHLO"):
			reply("250-relay.test")
			reply("250 8BITMIME")
		case cmd == "DATA":
			time.Sleep(r.dataDelay)
			reply("354 end data with <CR><LF>.<CR><LF>")
			var body strings.Builder
			for {
				l, err := in.ReadString('\n')
				if err != nil {
					return
				}
				if l == ".\r\n" {
					break
				}
				body.WriteString(l)
			}
			r.mu.Lock()
			r.messages = append(r.messages, body.String())
			r.mu.Unlock()
			reply("250 queued")
		case cmd == "QUIT":
			reply("221 bye")
			return
		default:
			reply("250 ok")
		}
	}
}

func (r *relay) delivered() []string {
	r.mu.Lock()
	defer r.mu.Unlock()
	return slices.Clone(r.messages)
}

func (r *relay) remotePeers() []string {
	r.mu.Lock()
	defer r.mu.Unlock()
	return slices.Clone(r.peers)
}

func TestTransport_SendOverNetwork(t *testing.T) {
	t.Parallel()

	r := newRelay(t, 0)
	tr, err := smtp.New(smtp.Config{Host: "127.0.0.1", Port: r.port})
	require.NoError(t, err)
	tr.SetSourceIP("127.0.0.1")

	_, err = tr.Send(context.Background(), newEmail(t))
	require.NoError(t, err)

	messages := r.delivered()
	require.Len(t, messages, 1)
	assert.Contains(t, messages[0], "Subject: Hello")
	assert.Equal(t, []string{"127.0.0.1"}, r.remotePeers())
}

func TestTransport_Timeout(t *testing.T) {
	t.Parallel()

	r := newRelay(t, 200*time.Millisecond)
	tr, err := smtp.New(smtp.Config{Host: "127.0.0.1", Port: r.port})
	require.NoError(t, err)
	tr.SetTimeout(50 * time.Millisecond)

	_, err = tr.Send(context.Background(), newEmail(t))
	require.ErrorIs(t, err, context.DeadlineExceeded)

	assert.Never(t, func() bool { return len(r.delivered()) > 0 }, 400*time.Millisecond, 20*time.Millisecond,
		"a timed out send must not be delivered later")
}

func TestTransport_StartTLSRequired(t *testing.T) {
	t.Parallel()

	r := newRelay(t, 0)
	tr, err := smtp.New(smtp.Config{Host: "127.0.0.1", Port: r.port, Encryption: "tls"})
	require.NoError(t, err)
	require.Equal(t, smtp.SchemeStartTLS, tr.Scheme())

	_, err = tr.Send(context.Background(), newEmail(t))
	require.ErrorIs(t, err, smtp.ErrStartTLSRequired)
	assert.Empty(t, r.delivered())
}

func TestTransport_InvalidSourceIP(t *testing.T) {
	t.Parallel()

	r := newRelay(t, 0)
	tr, err := smtp.New(smtp.Config{Host: "127.0.0.1", Port: r.port})
	require.NoError(t, err)
	tr.SetSourceIP("not-an-ip")

	_, err = tr.Send(context.Background(), newEmail(t))
	require.ErrorIs(t, err, smtp.ErrInvalidConfig)
}

func TestXOAuth2(t *testing.T) {
	t.Parallel()

	auth := smtp.XOAuth2("user@example.com", oauth2.StaticTokenSource(&oauth2.Token{AccessToken: "tok"}))

	mech, resp, err := auth.Start(nil)
	require.NoError(t, err)
	assert.Equal(t, "XOAUTH2", mech)
	assert.Equal(t, "user=user@example.com\x01auth=Bearer tok\x01\x01", string(resp))

	next, err := auth.Next(nil, false)
	require.NoError(t, err)
	assert.Nil(t, next)

	_, err = auth.Next([]byte(`{"status":"401"}`), true)
	require.ErrorIs(t, err, smtp.ErrAuth)
}
