// Package sendmail provides a mailer transport that pipes messages into a local sendmail binary.
package sendmail

import (
	"bytes"
	"context"
	"errors"
	"fmt"
	"io"
	"os/exec"
	"slices"
	"strings"

	"gopkg.in/gomail.v2"

	"github.com/dmitrymomot/mailkit/pkg/mailer"
)

// DefaultCommand is used when no path is configured.
const DefaultCommand = "/usr/sbin/sendmail -t -i"

var (
	ErrInvalidCommand = errors.New("sendmail: invalid command")
	ErrSend           = errors.New("sendmail: command failed")
)

// Runner executes the sendmail command with the message on stdin.
type Runner func(ctx context.Context, name string, args []string, stdin io.Reader) error

// Option configures the transport.
type Option func(*Transport)

// WithRunner replaces the process runner.
func WithRunner(r Runner) Option {
	return func(t *Transport) {
		t.run = r
	}
}

// Transport hands messages to sendmail.
type Transport struct {
	run  Runner
	path string
	args []string
}

// New creates a sendmail transport for the given command line. An empty command uses DefaultCommand.
// The -bs (SMTP over stdio) mode is not supported.
func New(command string, opts ...Option) (*Transport, error) {
	if strings.TrimSpace(command) == "" {
		command = DefaultCommand
	}
	fields := strings.Fields(command)
	if slices.Contains(fields[1:], "-bs") {
		return nil, fmt.Errorf("%w: -bs mode is not supported, use the smtp transport", ErrInvalidCommand)
	}

	t := &Transport{path: fields[0], args: fields[1:], run: execRunner}
	for _, opt := range opts {
		opt(t)
	}
	return t, nil
}

// Name implements mailer.Transport.
func (t *Transport) Name() string { return "sendmail" }

// Command returns the binary path and the base arguments.
func (t *Transport) Command() (string, []string) {
	return t.path, slices.Clone(t.args)
}

// Send implements mailer.Transport.
func (t *Transport) Send(ctx context.Context, email *mailer.Email) (*mailer.SentMessage, error) {
	sender, rcpts := email.Envelope()

	send := gomail.SendFunc(func(from string, to []string, msg io.WriterTo) error {
		var buf bytes.Buffer
		if _, err := msg.WriteTo(&buf); err != nil {
			return err
		}
		return t.run(ctx, t.path, t.argsFor(from, to, len(email.Bcc) > 0), &buf)
	})

	to := make([]string, 0, len(rcpts))
	for _, r := range rcpts {
		to = append(to, r.Address)
	}
	if err := send.Send(sender.Address, to, email.Message()); err != nil {
		return nil, fmt.Errorf("%w: %v", ErrSend, err)
	}
	return mailer.NewSentMessage(t.Name(), email), nil
}

// argsFor builds the argument list. With -t sendmail reads recipients from the headers, which never
// carry Bcc, so blind copies switch to explicit recipients.
func (t *Transport) argsFor(from string, to []string, explicit bool) []string {
	args := slices.Clone(t.args)
	if explicit {
		args = slices.DeleteFunc(args, func(a string) bool { return a == "-t" })
	}
	if from != "" && !slices.Contains(args, "-f") {
		args = append(args, "-f", from)
	}
	if explicit {
		args = append(args, "--")
		args = append(args, to...)
	}
	return args
}

func execRunner(ctx context.Context, name string, args []string, stdin io.Reader) error {
	cmd := exec.CommandContext(ctx, name, args...)
	cmd.Stdin = stdin
	var stderr bytes.Buffer
	cmd.Stderr = &stderr
	if err := cmd.Run(); err != nil {
		if msg := strings.TrimSpace(stderr.String()); msg != "" {
			return fmt.Errorf("%v: %s", err, msg)
		}
		return err
	}
	return nil
}
