// Package s3attach attaches objects stored in S3 to mailables and archives sent messages to S3.
package s3attach

import (
	"bytes"
	"context"
	"errors"
	"fmt"
	"io"
	"log/slog"
	"path"
	"strings"

	"github.com/aws/aws-sdk-go-v2/aws"
	awsconfig "github.com/aws/aws-sdk-go-v2/config"
	"github.com/aws/aws-sdk-go-v2/credentials"
	"github.com/aws/aws-sdk-go-v2/service/s3"
	"github.com/aws/aws-sdk-go-v2/service/s3/types"
	"github.com/aws/smithy-go"

	"github.com/dmitrymomot/mailkit/pkg/mailer"
)

var (
	ErrInvalidURI   = errors.New("s3attach: invalid object uri")
	ErrNotFound     = errors.New("s3attach: object not found")
	ErrAccessDenied = errors.New("s3attach: access denied")
	ErrFetch        = errors.New("s3attach: failed to fetch object")
	ErrArchive      = errors.New("s3attach: failed to archive message")
)

// Client is the subset of the S3 API used by the store.
type Client interface {
	GetObject(ctx context.Context, params *s3.GetObjectInput, optFns ...func(*s3.Options)) (*s3.GetObjectOutput, error)
	PutObject(ctx context.Context, params *s3.PutObjectInput, optFns ...func(*s3.Options)) (*s3.PutObjectOutput, error)
}

// Config holds the S3 connection settings.
type Config struct {
	Bucket    string `yaml:"bucket" env:"S3_BUCKET"`
	Region    string `yaml:"region" env:"S3_REGION" envDefault:"us-east-1"`
	AccessKey string `yaml:"access_key" env:"S3_ACCESS_KEY"`
	SecretKey string `yaml:"secret_key" env:"S3_SECRET_KEY"`
	Endpoint  string `yaml:"endpoint" env:"S3_ENDPOINT"`
	Prefix    string `yaml:"prefix" env:"S3_ARCHIVE_PREFIX" envDefault:"mail"`
	PathStyle bool   `yaml:"path_style" env:"S3_PATH_STYLE"`
}

// NewClient builds an S3 client. Static credentials are used when both keys are set.
func NewClient(ctx context.Context, cfg Config) (*s3.Client, error) {
	var opts []func(*awsconfig.LoadOptions) error
	if cfg.Region != "" {
		opts = append(opts, awsconfig.WithRegion(cfg.Region))
	}
	if cfg.AccessKey != "" && cfg.SecretKey != "" {
		opts = append(opts, awsconfig.WithCredentialsProvider(
			credentials.NewStaticCredentialsProvider(cfg.AccessKey, cfg.SecretKey, ""),
		))
	}
	awsCfg, err := awsconfig.LoadDefaultConfig(ctx, opts...)
	if err != nil {
		return nil, fmt.Errorf("s3attach: load aws config: %w", err)
	}
	return s3.NewFromConfig(awsCfg, func(o *s3.Options) {
		if cfg.Endpoint != "" {
			o.BaseEndpoint = aws.String(cfg.Endpoint)
			o.UsePathStyle = cfg.PathStyle
		}
	}), nil
}

// Store reads attachments from and writes archives to a bucket.
type Store struct {
	client Client
	logger *slog.Logger
	bucket string
	prefix string
}

// Option configures a Store.
type Option func(*Store)

// WithPrefix sets the key prefix of archived messages.
func WithPrefix(prefix string) Option {
	return func(s *Store) {
		s.prefix = strings.Trim(prefix, "/")
	}
}

// WithLogger sets the logger used by the archive hook.
func WithLogger(l *slog.Logger) Option {
	return func(s *Store) {
		if l != nil {
			s.logger = l
		}
	}
}

// New creates a store over client for the default bucket.
func New(client Client, bucket string, opts ...Option) *Store {
	s := &Store{client: client, bucket: bucket, prefix: "mail", logger: slog.Default()}
	for _, opt := range opts {
		opt(s)
	}
	return s
}

// Object is a fetched S3 object.
type Object struct {
	Name        string
	ContentType string
	Data        []byte
}

// Fetch downloads an object. uri is either "s3://bucket/key" or a key in the default bucket.
func (s *Store) Fetch(ctx context.Context, uri string) (*Object, error) {
	bucket, key, err := s.locate(uri)
	if err != nil {
		return nil, err
	}

	out, err := s.client.GetObject(ctx, &s3.GetObjectInput{
		Bucket: aws.String(bucket),
		Key:    aws.String(key),
	})
	if err != nil {
		return nil, wrapError(err, ErrFetch)
	}
	defer out.Body.Close()

	data, err := io.ReadAll(out.Body)
	if err != nil {
		return nil, fmt.Errorf("%w: %v", ErrFetch, err)
	}
	return &Object{Name: path.Base(key), ContentType: aws.ToString(out.ContentType), Data: data}, nil
}

// Attach fetches the object and adds it to the mailable as an in-memory attachment.
// The object's content type is used unless opts override it.
func (s *Store) Attach(ctx context.Context, m mailer.Mailable, uri string, opts ...mailer.AttachOptions) error {
	obj, err := s.Fetch(ctx, uri)
	if err != nil {
		return err
	}
	var o mailer.AttachOptions
	if len(opts) > 0 {
		o = opts[0]
	}
	if o.Mime == "" {
		o.Mime = obj.ContentType
	}
	m.Base().AttachData(obj.Data, obj.Name, o)
	return nil
}

// Archive stores the MIME source of email under prefix/YYYY/MM/DD/<message-id>.eml and returns the key.
func (s *Store) Archive(ctx context.Context, email *mailer.Email) (string, error) {
	raw, err := email.Bytes()
	if err != nil {
		return "", fmt.Errorf("%w: %v", ErrArchive, err)
	}

	key := path.Join(s.prefix, email.Date.UTC().Format("2006/01/02"), email.MessageID+".eml")
	_, err = s.client.PutObject(ctx, &s3.PutObjectInput{
		Bucket:        aws.String(s.bucket),
		Key:           aws.String(key),
		Body:          bytes.NewReader(raw),
		ContentLength: aws.Int64(int64(len(raw))),
		ContentType:   aws.String("message/rfc822"),
	})
	if err != nil {
		return "", wrapError(err, ErrArchive)
	}
	return key, nil
}

// ArchiveHook returns an after-send hook that archives every delivered message.
// Failures are logged and never affect the send result.
func (s *Store) ArchiveHook() func(ctx context.Context, event mailer.SendEvent) {
	return func(ctx context.Context, event mailer.SendEvent) {
		if event.Err != nil || event.Email == nil {
			return
		}
		key, err := s.Archive(ctx, event.Email)
		if err != nil {
			s.logger.ErrorContext(ctx, "mail archive failed",
				slog.String("message_id", event.Email.MessageID),
				slog.Any("error", err),
			)
			return
		}
		s.logger.DebugContext(ctx, "mail archived", slog.String("bucket", s.bucket), slog.String("key", key))
	}
}

func (s *Store) locate(uri string) (string, string, error) {
	rest, ok := strings.CutPrefix(uri, "s3://")
	if !ok {
		key := strings.TrimPrefix(uri, "/")
		if key == "" || s.bucket == "" {
			return "", "", fmt.Errorf("%w: %q", ErrInvalidURI, uri)
		}
		return s.bucket, key, nil
	}
	bucket, key, found := strings.Cut(rest, "/")
	if !found || bucket == "" || key == "" {
		return "", "", fmt.Errorf("%w: %q", ErrInvalidURI, uri)
	}
	return bucket, key, nil
}

func wrapError(err, fallback error) error {
	var apiErr smithy.APIError
	if errors.As(err, &apiErr) {
		switch apiErr.ErrorCode() {
		case "NoSuchKey", "NotFound", "NoSuchBucket":
			return fmt.Errorf("%w: %v", ErrNotFound, err)
		case "AccessDenied", "Forbidden":
			return fmt.Errorf("%w: %v", ErrAccessDenied, err)
		}
	}
	var notFound *types.NoSuchKey
	if errors.As(err, &notFound) {
		return fmt.Errorf("%w: %v", ErrNotFound, err)
	}
	return fmt.Errorf("%w: %v", fallback, err)
}
