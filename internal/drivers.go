package internal

import (
	"context"
	"fmt"
	"sort"

	"github.com/dmitrymomot/mailkit/pkg/mailer"
	"github.com/dmitrymomot/mailkit/pkg/mailer/array"
	"github.com/dmitrymomot/mailkit/pkg/mailer/logmail"
	"github.com/dmitrymomot/mailkit/pkg/mailer/mailgun"
	"github.com/dmitrymomot/mailkit/pkg/mailer/postmark"
	"github.com/dmitrymomot/mailkit/pkg/mailer/resend"
	"github.com/dmitrymomot/mailkit/pkg/mailer/sendmail"
	"github.com/dmitrymomot/mailkit/pkg/mailer/ses"
	"github.com/dmitrymomot/mailkit/pkg/mailer/smtp"
)

type driverFunc func(ctx context.Context, m *Manager, opts Options) (mailer.Transport, error)

// drivers are the built-in transport kinds.
var drivers = map[string]driverFunc{
	"smtp":     smtpDriver,
	"sendmail": sendmailDriver,
	"log":      logDriver,
	"array":    arrayDriver,
	"ses":      sesDriver,
	"sesv2":    sesDriver,
	"mailgun":  mailgunDriver,
	"postmark": postmarkDriver,
	"resend":   resendDriver,
}

// Drivers returns the built-in transport kinds, sorted.
func Drivers() []string {
	kinds := make([]string, 0, len(drivers))
	for kind := range drivers {
		kinds = append(kinds, kind)
	}
	sort.Strings(kinds)
	return kinds
}

// commonKeys are handled by the manager and never reach driver configs.
var commonKeys = []string{"transport", "timeout", "source_ip", "client"}

func smtpDriver(_ context.Context, _ *Manager, opts Options) (mailer.Transport, error) {
	var cfg smtp.Config
	if err := opts.Without(commonKeys...).Decode(&cfg); err != nil {
		return nil, err
	}
	return smtp.New(cfg)
}

func sendmailDriver(_ context.Context, _ *Manager, opts Options) (mailer.Transport, error) {
	return sendmail.New(opts.String("path", sendmail.DefaultCommand))
}

func logDriver(_ context.Context, m *Manager, opts Options) (mailer.Transport, error) {
	logOpts := []logmail.Option{logmail.WithChannel(opts.String("channel", ""))}
	if opts.Bool("body", false) {
		logOpts = append(logOpts, logmail.WithBody())
	}
	return logmail.New(m.logger, logOpts...), nil
}

func arrayDriver(context.Context, *Manager, Options) (mailer.Transport, error) {
	return array.New(), nil
}

func sesDriver(ctx context.Context, _ *Manager, opts Options) (mailer.Transport, error) {
	cfg, err := sesConfig(opts)
	if err != nil {
		return nil, err
	}
	return ses.FromConfig(ctx, opts.Transport(), cfg)
}

// sesConfig folds key, secret and token into credentials only when both key and secret are set.
// A token given without them is dropped. Provider options come from the nested "options" block,
// with a top-level "tags" block used when options carry no Tags.
func sesConfig(opts Options) (ses.Config, error) {
	var cfg ses.Config
	if err := opts.Without(append(commonKeys, "key", "secret", "token", "options", "tags")...).Decode(&cfg); err != nil {
		return ses.Config{}, err
	}

	key, secret := opts.String("key", ""), opts.String("secret", "")
	if key != "" && secret != "" {
		cfg.Key, cfg.Secret = key, secret
		cfg.Token = opts.String("token", "")
	}

	extra := opts.Map("options")
	cfg.ConfigurationSetName = extra.String("ConfigurationSetName", cfg.ConfigurationSetName)
	rawTags, ok := extra["Tags"]
	if !ok {
		rawTags = opts["tags"]
	}
	tags, err := sesTags(rawTags)
	if err != nil {
		return ses.Config{}, err
	}
	if len(tags) > 0 {
		cfg.Tags = tags
	}
	return cfg, nil
}

// sesTags accepts a map of name to value or a list of {Name, Value} entries.
func sesTags(v any) (map[string]string, error) {
	switch tags := v.(type) {
	case nil:
		return nil, nil
	case map[string]any:
		return Options(tags).Strings(), nil
	case []any:
		out := make(map[string]string, len(tags))
		for _, item := range tags {
			entry, ok := item.(map[string]any)
			if !ok {
				return nil, fmt.Errorf("%w: ses tag must be a mapping, got %T", ErrConfiguration, item)
			}
			name := Options(entry).String("Name", "")
			if name == "" {
				return nil, fmt.Errorf("%w: ses tag without Name", ErrConfiguration)
			}
			out[name] = Options(entry).String("Value", "")
		}
		return out, nil
	default:
		return nil, fmt.Errorf("%w: unsupported ses tags %T", ErrConfiguration, v)
	}
}

func mailgunDriver(_ context.Context, m *Manager, opts Options) (mailer.Transport, error) {
	var cfg mailgun.Config
	if err := opts.Without(commonKeys...).Decode(&cfg); err != nil {
		return nil, err
	}
	client, err := m.restyClient(opts)
	if err != nil {
		return nil, err
	}
	return mailgun.New(cfg, client)
}

func postmarkDriver(_ context.Context, m *Manager, opts Options) (mailer.Transport, error) {
	var cfg postmark.Config
	if err := opts.Without(commonKeys...).Decode(&cfg); err != nil {
		return nil, err
	}
	client, err := m.restyClient(opts)
	if err != nil {
		return nil, err
	}
	return postmark.New(cfg, client)
}

func resendDriver(_ context.Context, m *Manager, opts Options) (mailer.Transport, error) {
	var cfg resend.Config
	if err := opts.Without(commonKeys...).Decode(&cfg); err != nil {
		return nil, err
	}
	client, err := m.restyClient(opts)
	if err != nil {
		return nil, err
	}
	return resend.New(cfg, client.GetClient())
}

// applyCapabilities applies timeout and source_ip to transports that support them.
// Transports without the capability ignore the option.
func applyCapabilities(t mailer.Transport, opts Options) error {
	timeout, err := opts.Duration("timeout")
	if err != nil {
		return err
	}
	if ts, ok := t.(mailer.TimeoutSetter); ok && timeout > 0 {
		ts.SetTimeout(timeout)
	}
	if ip := opts.String("source_ip", ""); ip != "" {
		if ss, ok := t.(mailer.SourceIPSetter); ok {
			ss.SetSourceIP(ip)
		}
	}
	return nil
}
