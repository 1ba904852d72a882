// Package ses provides mailer transports backed by Amazon SES.
// Both the "ses" and "sesv2" drivers send raw MIME through the SES v2 API.
package ses

import (
	"context"
	"fmt"
	"maps"
	"slices"

	"github.com/aws/aws-sdk-go-v2/aws"
	awsconfig "github.com/aws/aws-sdk-go-v2/config"
	"github.com/aws/aws-sdk-go-v2/credentials"
	"github.com/aws/aws-sdk-go-v2/service/sesv2"
	"github.com/aws/aws-sdk-go-v2/service/sesv2/types"

	"github.com/dmitrymomot/mailkit/pkg/mailer"
)

// Client is the subset of the SES v2 API used by the transport.
type Client interface {
	SendEmail(ctx context.Context, params *sesv2.SendEmailInput, optFns ...func(*sesv2.Options)) (*sesv2.SendEmailOutput, error)
}

// NewClient builds an SES v2 client from cfg using the default AWS configuration chain.
func NewClient(ctx context.Context, cfg Config) (*sesv2.Client, error) {
	var opts []func(*awsconfig.LoadOptions) error
	if cfg.Region != "" {
		opts = append(opts, awsconfig.WithRegion(cfg.Region))
	}
	if cfg.HasStaticCredentials() {
		opts = append(opts, awsconfig.WithCredentialsProvider(
			credentials.NewStaticCredentialsProvider(cfg.Key, cfg.Secret, cfg.Token),
		))
	}

	awsCfg, err := awsconfig.LoadDefaultConfig(ctx, opts...)
	if err != nil {
		return nil, fmt.Errorf("%w: %v", ErrConfig, err)
	}

	return sesv2.NewFromConfig(awsCfg, func(o *sesv2.Options) {
		if cfg.Endpoint != "" {
			o.BaseEndpoint = aws.String(cfg.Endpoint)
		}
	}), nil
}

// Option configures a transport.
type Option func(*Transport)

// WithConfigurationSet sends every message through the named configuration set.
func WithConfigurationSet(name string) Option {
	return func(t *Transport) {
		t.configurationSet = name
	}
}

// WithTags adds message tags to every send.
func WithTags(tags map[string]string) Option {
	return func(t *Transport) {
		t.tags = maps.Clone(tags)
	}
}

// Transport sends raw messages through SES.
type Transport struct {
	client           Client
	tags             map[string]string
	name             string
	configurationSet string
}

// New creates the "ses" transport.
func New(client Client, opts ...Option) *Transport {
	return newTransport("ses", client, opts)
}

// NewV2 creates the "sesv2" transport.
func NewV2(client Client, opts ...Option) *Transport {
	return newTransport("sesv2", client, opts)
}

// FromConfig builds a client from cfg and wraps it in a transport named after driver.
func FromConfig(ctx context.Context, driver string, cfg Config) (*Transport, error) {
	client, err := NewClient(ctx, cfg)
	if err != nil {
		return nil, err
	}
	return newTransport(driver, client, []Option{
		WithConfigurationSet(cfg.ConfigurationSetName),
		WithTags(cfg.Tags),
	}), nil
}

func newTransport(name string, client Client, opts []Option) *Transport {
	t := &Transport{name: name, client: client}
	for _, opt := range opts {
		opt(t)
	}
	return t
}

// Name implements mailer.Transport.
func (t *Transport) Name() string { return t.name }

// Send implements mailer.Transport. The SES message id is returned as the provider id.
func (t *Transport) Send(ctx context.Context, email *mailer.Email) (*mailer.SentMessage, error) {
	raw, err := email.Bytes()
	if err != nil {
		return nil, err
	}

	sender, _ := email.Envelope()
	input := &sesv2.SendEmailInput{
		Content: &types.EmailContent{Raw: &types.RawMessage{Data: raw}},
		Destination: &types.Destination{
			ToAddresses:  addresses(email.To),
			CcAddresses:  addresses(email.Cc),
			BccAddresses: addresses(email.Bcc),
		},
		EmailTags: t.emailTags(email),
	}
	if !sender.IsZero() {
		input.FromEmailAddress = aws.String(sender.Address)
	}
	if !email.ReturnPath.IsZero() {
		input.FeedbackForwardingEmailAddress = aws.String(email.ReturnPath.Address)
	}
	if t.configurationSet != "" {
		input.ConfigurationSetName = aws.String(t.configurationSet)
	}

	out, err := t.client.SendEmail(ctx, input)
	if err != nil {
		return nil, categorize(err)
	}

	sent := mailer.NewSentMessage(t.name, email)
	if out != nil && out.MessageId != nil {
		sent.ProviderID = *out.MessageId
	}
	return sent, nil
}

// emailTags merges the configured tags with the email metadata. Metadata wins.
func (t *Transport) emailTags(email *mailer.Email) []types.MessageTag {
	merged := maps.Clone(t.tags)
	if merged == nil {
		merged = make(map[string]string)
	}
	maps.Copy(merged, email.MetadataMap())

	tags := make([]types.MessageTag, 0, len(merged))
	for _, k := range slices.Sorted(maps.Keys(merged)) {
		tags = append(tags, types.MessageTag{Name: aws.String(k), Value: aws.String(merged[k])})
	}
	return tags
}

func addresses(list []mailer.Address) []string {
	out := make([]string, 0, len(list))
	for _, a := range list {
		out = append(out, a.String())
	}
	return out
}
