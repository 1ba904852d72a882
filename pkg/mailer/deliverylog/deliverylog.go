// Package deliverylog records every delivery attempt in PostgreSQL.
//
// Install the hook on a mailer (or on every mailer of a manager) and apply the
// schema with db.Migrate:
//
//	store := deliverylog.New(pool, deliverylog.WithLogger(logger))
//	m := mailkit.NewManager(cfg, mailkit.WithMailerOptions(mailer.WithAfterSend(store.Hook())))
package deliverylog

import (
	"context"
	"embed"
	"errors"
	"io/fs"
	"log/slog"
	"time"

	"github.com/google/uuid"
	"github.com/jackc/pgx/v5"
	"github.com/jackc/pgx/v5/pgconn"

	"github.com/dmitrymomot/mailkit/pkg/logger"
	"github.com/dmitrymomot/mailkit/pkg/mailer"
)

var (
	ErrRecord = errors.New("deliverylog: failed to record delivery")
	ErrQuery  = errors.New("deliverylog: query failed")
)

//go:embed migrations/*.sql
var migrations embed.FS

// Migrations returns the schema migrations for db.Migrate.
func Migrations() fs.FS {
	sub, err := fs.Sub(migrations, "migrations")
	if err != nil {
		panic(err)
	}
	return sub
}

// DB is the subset of pgxpool.Pool and pgx.Tx used by the store.
type DB interface {
	Exec(ctx context.Context, sql string, args ...any) (pgconn.CommandTag, error)
	Query(ctx context.Context, sql string, args ...any) (pgx.Rows, error)
}

// Entry is one recorded delivery attempt.
type Entry struct {
	CreatedAt  time.Time     `json:"created_at"`
	ID         string        `json:"id"`
	MessageID  string        `json:"message_id"`
	Mailer     string        `json:"mailer"`
	Transport  string        `json:"transport"`
	Subject    string        `json:"subject"`
	Sender     string        `json:"sender"`
	ProviderID string        `json:"provider_id,omitempty"`
	Error      string        `json:"error,omitempty"`
	Recipients []string      `json:"recipients"`
	Tags       []string      `json:"tags,omitempty"`
	Duration   time.Duration `json:"duration"`
}

// Failed reports whether the attempt failed.
func (e Entry) Failed() bool { return e.Error != "" }

// Option configures a Store.
type Option func(*Store)

// WithLogger sets the logger used by Hook.
func WithLogger(l *slog.Logger) Option {
	return func(s *Store) {
		if l != nil {
			s.logger = l
		}
	}
}

// Store writes delivery entries.
type Store struct {
	db     DB
	logger *slog.Logger
	now    func() time.Time
}

// New creates a store over db.
func New(db DB, opts ...Option) *Store {
	s := &Store{db: db, logger: logger.NewNope(), now: time.Now}
	for _, opt := range opts {
		opt(s)
	}
	return s
}

// EntryFrom converts a send event into an entry.
func EntryFrom(event mailer.SendEvent) Entry {
	e := Entry{
		ID:        uuid.NewString(),
		Mailer:    event.Mailer,
		Transport: event.Transport,
		Duration:  event.Duration,
	}
	if event.Email != nil {
		sender, rcpts := event.Email.Envelope()
		e.MessageID = event.Email.MessageID
		e.Subject = event.Email.Subject
		e.Sender = sender.Address
		e.Tags = event.Email.Tags
		e.Recipients = make([]string, 0, len(rcpts))
		for _, r := range rcpts {
			e.Recipients = append(e.Recipients, r.Address)
		}
	}
	if event.Sent != nil {
		e.ProviderID = event.Sent.ProviderID
	}
	if event.Err != nil {
		e.Error = event.Err.Error()
	}
	return e
}

const insertEntry = `INSERT INTO mail_deliveries
	(id, message_id, mailer, transport, subject, sender, recipients, tags, provider_id, error, duration_ms, created_at)
	VALUES ($1, $2, $3, $4, $5, $6, $7, $8, $9, $10, $11, $12)`

// Record stores one delivery attempt.
func (s *Store) Record(ctx context.Context, event mailer.SendEvent) (Entry, error) {
	e := EntryFrom(event)
	e.CreatedAt = s.now().UTC()

	recipients, tags := e.Recipients, e.Tags
	if recipients == nil {
		recipients = []string{}
	}
	if tags == nil {
		tags = []string{}
	}

	_, err := s.db.Exec(ctx, insertEntry,
		e.ID, e.MessageID, e.Mailer, e.Transport, e.Subject, e.Sender,
		recipients, tags, e.ProviderID, e.Error, e.Duration.Milliseconds(), e.CreatedAt,
	)
	if err != nil {
		return Entry{}, errors.Join(ErrRecord, err)
	}
	return e, nil
}

// Hook returns an after-send hook recording every attempt. Failures to record are logged.
func (s *Store) Hook() func(context.Context, mailer.SendEvent) {
	return func(ctx context.Context, event mailer.SendEvent) {
		if _, err := s.Record(ctx, event); err != nil {
			s.logger.ErrorContext(ctx, "delivery log write failed",
				slog.String("mailer", event.Mailer),
				slog.Any("error", err),
			)
		}
	}
}

const selectRecent = `SELECT id, message_id, mailer, transport, subject, sender, recipients, tags,
	provider_id, error, duration_ms, created_at
	FROM mail_deliveries ORDER BY created_at DESC LIMIT $1`

// Recent returns the latest entries, newest first.
func (s *Store) Recent(ctx context.Context, limit int) ([]Entry, error) {
	if limit <= 0 {
		limit = 50
	}
	rows, err := s.db.Query(ctx, selectRecent, limit)
	if err != nil {
		return nil, errors.Join(ErrQuery, err)
	}
	entries, err := pgx.CollectRows(rows, func(row pgx.CollectableRow) (Entry, error) {
		var (
			e  Entry
			ms int64
		)
		err := row.Scan(&e.ID, &e.MessageID, &e.Mailer, &e.Transport, &e.Subject, &e.Sender,
			&e.Recipients, &e.Tags, &e.ProviderID, &e.Error, &ms, &e.CreatedAt)
		e.Duration = time.Duration(ms) * time.Millisecond
		return e, err
	})
	if err != nil {
		return nil, errors.Join(ErrQuery, err)
	}
	return entries, nil
}

// Prune deletes entries older than age and returns how many were removed.
func (s *Store) Prune(ctx context.Context, age time.Duration) (int64, error) {
	tag, err := s.db.Exec(ctx, `DELETE FROM mail_deliveries WHERE created_at < $1`, s.now().Add(-age).UTC())
	if err != nil {
		return 0, errors.Join(ErrQuery, err)
	}
	return tag.RowsAffected(), nil
}
