package mailkit

import (
	"context"
	"log/slog"
	"net/http"
	"time"

	"github.com/prometheus/client_golang/prometheus"

	"github.com/dmitrymomot/mailkit/internal"
	"github.com/dmitrymomot/mailkit/pkg/job"
	"github.com/dmitrymomot/mailkit/pkg/mailer"
)

// Type aliases - public API
type (
	// Manager resolves named mailers from configuration and caches their transports.
	Manager = internal.Manager

	// ManagerOption configures a Manager.
	ManagerOption = internal.ManagerOption

	// Config is the parsed mail configuration.
	Config = internal.Config

	// Options is one mailer's configuration block.
	Options = internal.Options

	// Creator builds a transport for a custom driver kind.
	Creator = internal.Creator

	// Metrics records delivery counters and durations in Prometheus.
	Metrics = internal.Metrics

	// Previews maps preview names to sample mailables.
	Previews = internal.Previews

	// RunOption configures the worker runtime.
	RunOption = internal.RunOption

	// Enqueuer is the job enqueueing surface RiverQueue needs.
	Enqueuer = internal.Enqueuer

	// RiverQueue hands queued mail to River.
	RiverQueue = internal.RiverQueue

	// SyncQueue delivers queued mail inline.
	SyncQueue = internal.SyncQueue

	// SendQueuedMail is the job task delivering queued mail.
	SendQueuedMail = internal.SendQueuedMail

	// RefreshTransports is the scheduled task purging cached transports.
	RefreshTransports = internal.RefreshTransports

	// Mailable is anything that can be built into a message.
	Mailable = mailer.Mailable

	// Mail is the embeddable base of every mailable.
	Mail = mailer.Mail

	// Mailer sends mailables through one transport.
	Mailer = mailer.Mailer

	// Message is the low-level message builder handed to callbacks.
	Message = mailer.Message

	// Email is a finalized message.
	Email = mailer.Email

	// Address is an email address with an optional display name.
	Address = mailer.Address

	// SentMessage is the receipt returned by a transport.
	SentMessage = mailer.SentMessage

	// SendEvent describes one delivery attempt.
	SendEvent = mailer.SendEvent

	// Transport delivers finalized messages.
	Transport = mailer.Transport

	// Queue accepts queued mail jobs.
	Queue = mailer.Queue

	// QueuedMail is a serialized mailable waiting for delivery.
	QueuedMail = mailer.QueuedMail

	// Registry maps mailable kinds to constructors for queued delivery.
	Registry = mailer.Registry
)

// Errors for checking return values.
var (
	ErrConfiguration       = internal.ErrConfiguration
	ErrMailerNotConfigured = internal.ErrMailerNotConfigured
	ErrUnsupportedDriver   = internal.ErrUnsupportedDriver
	ErrInvalidAddress      = mailer.ErrInvalidAddress
	ErrInvalidView         = mailer.ErrInvalidView
	ErrNotQueueable        = mailer.ErrNotQueueable
	ErrSendFailed          = mailer.ErrSendFailed
)

// Constructors

// NewManager creates a manager over cfg.
//
// Example:
//
//	cfg, err := mailkit.LoadConfig("config/mail.yaml")
//	if err != nil {
//	    return err
//	}
//	mail := mailkit.NewManager(cfg,
//	    mailkit.WithViews(views),
//	    mailkit.WithLogger(log),
//	)
//	err = mail.Send(ctx, emails.NewWelcome(user))
func NewManager(cfg *Config, opts ...ManagerOption) *Manager {
	return internal.NewManager(cfg, opts...)
}

// LoadConfig reads a YAML mail configuration. ${VAR} references are expanded from the environment.
func LoadConfig(path string) (*Config, error) {
	return internal.LoadConfig(path)
}

// ParseConfig parses a YAML mail configuration document.
func ParseConfig(data []byte) (*Config, error) {
	return internal.ParseConfig(data)
}

// Drivers returns the built-in transport kinds.
func Drivers() []string {
	return internal.Drivers()
}

// NewMail creates an empty mailable.
func NewMail() *Mail {
	return mailer.NewMail()
}

// NewMetrics registers the delivery metrics with reg.
func NewMetrics(reg prometheus.Registerer) (*Metrics, error) {
	return internal.NewMetrics(reg)
}

// NewRiverQueue creates a queue that enqueues mail as River jobs.
func NewRiverQueue(enqueuer Enqueuer, opts ...job.EnqueueOption) *RiverQueue {
	return internal.NewRiverQueue(enqueuer, opts...)
}

// NewSyncQueue creates a queue calling handle on push.
func NewSyncQueue(handle func(ctx context.Context, qm *QueuedMail) error) *SyncQueue {
	return internal.NewSyncQueue(handle)
}

// NewSendQueuedMail creates the job task that delivers queued mail through m.
//
// Example:
//
//	jobs, err := job.NewManager(pool,
//	    job.WithTask[mailkit.QueuedMail](mailkit.NewSendQueuedMail(mail)),
//	)
func NewSendQueuedMail(m *Manager) *SendQueuedMail {
	return internal.NewSendQueuedMail(m.HandleQueued)
}

// NewRefreshTransports creates the scheduled task purging m's cached transports.
func NewRefreshTransports(m *Manager, schedule string) *RefreshTransports {
	return internal.NewRefreshTransports(m, schedule)
}

// PreviewHandler serves rendered previews of sample mailables.
func PreviewHandler(m *Manager, previews Previews) http.Handler {
	return internal.PreviewHandler(m, previews)
}

// Run starts the worker runtime and blocks until shutdown.
//
// Example:
//
//	err := mailkit.Run(
//	    mailkit.Address(":9090"),
//	    mailkit.Handler(mux),
//	    mailkit.StartHook(jobs.Start),
//	    mailkit.ShutdownHook(jobs.Shutdown()),
//	)
func Run(opts ...RunOption) error {
	return internal.Run(opts...)
}

// Manager options

// WithViews sets the view engine shared by every mailer.
func WithViews(views mailer.ViewEngine) ManagerOption {
	return internal.WithViews(views)
}

// WithQueue sets the default queue connection.
func WithQueue(q Queue) ManagerOption {
	return internal.WithQueue(q)
}

// WithSyncQueue delivers queued mail inline.
func WithSyncQueue() ManagerOption {
	return internal.WithSyncQueue()
}

// WithQueueConnection registers a named queue connection.
func WithQueueConnection(name string, q Queue) ManagerOption {
	return internal.WithQueueConnection(name, q)
}

// WithRegistry sets the registry of queueable mailables.
func WithRegistry(r *Registry) ManagerOption {
	return internal.WithRegistry(r)
}

// WithLogger sets the manager logger.
func WithLogger(l *slog.Logger) ManagerOption {
	return internal.WithLogger(l)
}

// WithMetrics records every delivery attempt.
func WithMetrics(m *Metrics) ManagerOption {
	return internal.WithMetrics(m)
}

// WithHTTPClient sets the HTTP client of API transports without a client block.
func WithHTTPClient(c *http.Client) ManagerOption {
	return internal.WithHTTPClient(c)
}

// WithMailerOptions appends options applied to every mailer.
func WithMailerOptions(opts ...mailer.Option) ManagerOption {
	return internal.WithMailerOptions(opts...)
}

// Run options

// Address sets the HTTP listen address. Defaults to ":8080".
func Address(addr string) RunOption {
	return internal.Address(addr)
}

// Handler serves HTTP while the worker runs.
func Handler(h http.Handler) RunOption {
	return internal.Handler(h)
}

// Logger sets the runtime logger.
func Logger(l *slog.Logger) RunOption {
	return internal.Logger(l)
}

// ShutdownTimeout bounds graceful shutdown. Defaults to 30 seconds.
func ShutdownTimeout(d time.Duration) RunOption {
	return internal.ShutdownTimeout(d)
}

// BaseContext sets the parent of the run context.
func BaseContext(ctx context.Context) RunOption {
	return internal.BaseContext(ctx)
}

// StartHook runs fn before the worker starts.
func StartHook(fn func(context.Context) error) RunOption {
	return internal.StartHook(fn)
}

// Background runs fn until shutdown.
func Background(fn func(context.Context) error) RunOption {
	return internal.Background(fn)
}

// ShutdownHook runs fn during shutdown.
func ShutdownHook(fn func(context.Context) error) RunOption {
	return internal.ShutdownHook(fn)
}
