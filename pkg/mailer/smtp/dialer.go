package smtp

import (
	"context"
	"crypto/tls"
	"errors"
	"fmt"
	"io"
	"net"
	netsmtp "net/smtp"
	"strconv"
	"strings"
	"sync"
	"time"

	"gopkg.in/gomail.v2"
)

const defaultDialTimeout = 10 * time.Second

// Dialer opens an SMTP session. The session must not outlive ctx.
type Dialer interface {
	Dial(ctx context.Context) (gomail.SendCloser, error)
}

// connDialer dials the server itself instead of going through gomail.Dialer,
// which has no way to bound a session by a deadline, bind a local address or
// refuse a server that does not offer STARTTLS.
type connDialer struct {
	auth      netsmtp.Auth
	tls       *tls.Config
	host      string
	localName string
	username  string
	password  string
	sourceIP  string
	scheme    Scheme
	port      int
	mu        sync.RWMutex
}

func (d *connDialer) setSourceIP(ip string) {
	d.mu.Lock()
	defer d.mu.Unlock()
	d.sourceIP = ip
}

func (d *connDialer) netDialer() (*net.Dialer, error) {
	d.mu.RLock()
	ip := d.sourceIP
	d.mu.RUnlock()

	nd := &net.Dialer{Timeout: defaultDialTimeout}
	if ip == "" {
		return nd, nil
	}
	addr := net.ParseIP(ip)
	if addr == nil {
		return nil, fmt.Errorf("%w: source_ip %q is not an IP address", ErrInvalidConfig, ip)
	}
	nd.LocalAddr = &net.TCPAddr{IP: addr}
	return nd, nil
}

// Dial connects, negotiates TLS and authenticates. Every read and write on the
// connection fails once ctx is done, so a send cut short never completes later.
func (d *connDialer) Dial(ctx context.Context) (gomail.SendCloser, error) {
	nd, err := d.netDialer()
	if err != nil {
		return nil, err
	}
	conn, err := nd.DialContext(ctx, "tcp", net.JoinHostPort(d.host, strconv.Itoa(d.port)))
	if err != nil {
		return nil, err
	}
	if deadline, ok := ctx.Deadline(); ok {
		_ = conn.SetDeadline(deadline)
	}
	stop := context.AfterFunc(ctx, func() {
		_ = conn.SetDeadline(time.Unix(1, 0))
	})

	s, err := d.handshake(conn)
	if err != nil {
		stop()
		_ = conn.Close()
		return nil, err
	}
	s.stop = stop
	return s, nil
}

func (d *connDialer) handshake(conn net.Conn) (*session, error) {
	if d.scheme == SchemeSMTPS {
		conn = tls.Client(conn, d.tls)
	}
	c, err := netsmtp.NewClient(conn, d.host)
	if err != nil {
		return nil, err
	}
	if d.localName != "" {
		if err := c.Hello(d.localName); err != nil {
			return nil, err
		}
	}

	if d.scheme != SchemeSMTPS {
		ok, _ := c.Extension("STARTTLS")
		switch {
		case ok:
			if err := c.StartTLS(d.tls); err != nil {
				return nil, err
			}
		case d.scheme == SchemeStartTLS:
			return nil, ErrStartTLSRequired
		}
	}

	auth := d.auth
	if auth == nil && d.username != "" {
		if ok, mechs := c.Extension("AUTH"); ok {
			auth = pickAuth(mechs, d.username, d.password, d.host)
		}
	}
	if auth != nil {
		if err := c.Auth(auth); err != nil {
			return nil, fmt.Errorf("%w: %v", ErrAuth, err)
		}
	}
	return &session{client: c}, nil
}

func pickAuth(mechs, username, password, host string) netsmtp.Auth {
	switch {
	case strings.Contains(mechs, "CRAM-MD5"):
		return netsmtp.CRAMMD5Auth(username, password)
	case strings.Contains(mechs, "LOGIN") && !strings.Contains(mechs, "PLAIN"):
		return &loginAuth{username: username, password: password}
	default:
		return netsmtp.PlainAuth("", username, password, host)
	}
}

type session struct {
	client *netsmtp.Client
	stop   func() bool
}

// Send implements gomail.Sender.
func (s *session) Send(from string, to []string, msg io.WriterTo) error {
	if err := s.client.Mail(from); err != nil {
		return err
	}
	for _, rcpt := range to {
		if err := s.client.Rcpt(rcpt); err != nil {
			return err
		}
	}
	w, err := s.client.Data()
	if err != nil {
		return err
	}
	if _, err := msg.WriteTo(w); err != nil {
		_ = w.Close()
		return err
	}
	return w.Close()
}

// Close implements io.Closer. A failed QUIT still closes the connection.
func (s *session) Close() error {
	defer s.stop()
	if err := s.client.Quit(); err != nil {
		return errors.Join(err, s.client.Close())
	}
	return nil
}

// loginAuth implements the LOGIN mechanism offered by servers without PLAIN.
type loginAuth struct {
	username string
	password string
}

func (a *loginAuth) Start(server *netsmtp.ServerInfo) (string, []byte, error) {
	if !server.TLS {
		return "", nil, fmt.Errorf("%w: LOGIN over an unencrypted connection", ErrAuth)
	}
	return "LOGIN", nil, nil
}

func (a *loginAuth) Next(fromServer []byte, more bool) ([]byte, error) {
	if !more {
		return nil, nil
	}
	switch strings.ToLower(strings.TrimSpace(string(fromServer))) {
	case "username:":
		return []byte(a.username), nil
	case "password:":
		return []byte(a.password), nil
	default:
		return nil, fmt.Errorf("%w: unexpected LOGIN challenge %q", ErrAuth, fromServer)
	}
}
