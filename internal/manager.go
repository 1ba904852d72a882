package internal

import (
	"context"
	"fmt"
	"log/slog"
	"net/http"
	"strconv"
	"sync"
	"time"

	"golang.org/x/sync/singleflight"

	"github.com/dmitrymomot/mailkit/pkg/logger"
	"github.com/dmitrymomot/mailkit/pkg/mailer"
)

// Creator builds a transport for a custom driver kind from its options block.
type Creator func(ctx context.Context, opts Options) (mailer.Transport, error)

// Manager resolves configured mailers and caches their transports.
type Manager struct {
	cfg         *Config
	logger      *slog.Logger
	views       mailer.ViewEngine
	queue       mailer.Queue
	registry    *mailer.Registry
	metrics     *Metrics
	httpClient  *http.Client
	connections map[string]mailer.Queue
	creators    map[string]Creator
	transports  map[string]mailer.Transport
	mailers     map[string]*mailer.Mailer
	mailerOpts  []mailer.Option
	group       singleflight.Group
	mu          sync.RWMutex
	generation  uint64 // bumped by every purge
}

// ManagerOption configures a Manager.
type ManagerOption func(*Manager)

// WithViews sets the view engine shared by every mailer.
func WithViews(views mailer.ViewEngine) ManagerOption {
	return func(m *Manager) {
		m.views = views
	}
}

// WithQueue sets the default queue connection of every mailer.
func WithQueue(q mailer.Queue) ManagerOption {
	return func(m *Manager) {
		m.queue = q
	}
}

// WithSyncQueue makes queued mail run inline through HandleQueued.
func WithSyncQueue() ManagerOption {
	return func(m *Manager) {
		m.queue = NewSyncQueue(m.HandleQueued)
	}
}

// WithQueueConnection registers a named queue connection that mailables select with OnConnection.
func WithQueueConnection(name string, q mailer.Queue) ManagerOption {
	return func(m *Manager) {
		m.connections[name] = q
	}
}

// WithRegistry sets the registry used to encode and decode queued mailables.
func WithRegistry(r *mailer.Registry) ManagerOption {
	return func(m *Manager) {
		if r != nil {
			m.registry = r
		}
	}
}

// WithLogger sets the logger handed to mailers and the log transport.
func WithLogger(l *slog.Logger) ManagerOption {
	return func(m *Manager) {
		if l != nil {
			m.logger = l
		}
	}
}

// WithMetrics records every delivery attempt in metrics.
func WithMetrics(metrics *Metrics) ManagerOption {
	return func(m *Manager) {
		m.metrics = metrics
	}
}

// WithHTTPClient sets the HTTP client used by API transports without a client block.
func WithHTTPClient(c *http.Client) ManagerOption {
	return func(m *Manager) {
		m.httpClient = c
	}
}

// WithMailerOptions appends options applied to every mailer the manager builds.
func WithMailerOptions(opts ...mailer.Option) ManagerOption {
	return func(m *Manager) {
		m.mailerOpts = append(m.mailerOpts, opts...)
	}
}

// NewManager creates a manager over cfg.
func NewManager(cfg *Config, opts ...ManagerOption) *Manager {
	m := &Manager{
		cfg:         cfg,
		logger:      logger.NewNope(),
		registry:    mailer.NewRegistry(),
		connections: make(map[string]mailer.Queue),
		creators:    make(map[string]Creator),
		transports:  make(map[string]mailer.Transport),
		mailers:     make(map[string]*mailer.Mailer),
	}
	for _, opt := range opts {
		opt(m)
	}
	return m
}

// Config returns the configuration the manager was built with.
func (m *Manager) Config() *Config { return m.cfg }

// Registry returns the registry shared by the manager's mailers.
func (m *Manager) Registry() *mailer.Registry { return m.registry }

// DefaultName returns the name of the default mailer.
func (m *Manager) DefaultName() string {
	if m.cfg == nil {
		return ""
	}
	return m.cfg.Default
}

// Extend registers a creator for a driver kind. Custom creators take precedence over built-in drivers.
func (m *Manager) Extend(kind string, creator Creator) *Manager {
	m.mu.Lock()
	defer m.mu.Unlock()
	m.creators[kind] = creator
	return m
}

// Transport returns the transport of the named mailer, building it on first use.
// An empty name selects the default mailer.
func (m *Manager) Transport(ctx context.Context, name string) (mailer.Transport, error) {
	name = m.resolveName(name)

	m.mu.RLock()
	t, ok := m.transports[name]
	gen := m.generation
	m.mu.RUnlock()
	if ok {
		return t, nil
	}

	// A purge starts a new generation: callers after it never join a resolution
	// that began before it, and that resolution is not cached.
	key := "transport:" + name + ":" + strconv.FormatUint(gen, 10)
	v, err, _ := m.group.Do(key, func() (any, error) {
		m.mu.RLock()
		t, ok := m.transports[name]
		m.mu.RUnlock()
		if ok {
			return t, nil
		}

		t, err := m.resolve(ctx, name)
		if err != nil {
			return nil, err
		}

		m.mu.Lock()
		if m.generation == gen {
			m.transports[name] = t
		}
		m.mu.Unlock()

		m.logger.DebugContext(ctx, "mail transport resolved",
			slog.String("mailer", name),
			slog.String("transport", t.Name()),
		)
		return t, nil
	})
	if err != nil {
		return nil, err
	}
	return v.(mailer.Transport), nil
}

// Mailer returns the named mailer bound to its transport and the configured always addresses.
func (m *Manager) Mailer(ctx context.Context, name string) (*mailer.Mailer, error) {
	name = m.resolveName(name)

	m.mu.RLock()
	ml, ok := m.mailers[name]
	gen := m.generation
	m.mu.RUnlock()
	if ok {
		return ml, nil
	}

	t, err := m.Transport(ctx, name)
	if err != nil {
		return nil, err
	}

	m.mu.Lock()
	defer m.mu.Unlock()
	if ml, ok := m.mailers[name]; ok {
		return ml, nil
	}
	ml = mailer.New(name, t, m.mailerOptions()...)
	if m.generation == gen {
		m.mailers[name] = ml
	}
	return ml, nil
}

// Purge drops the cached transports and mailers of names so the next use rebuilds them.
// With no names the default mailer is purged.
func (m *Manager) Purge(names ...string) {
	if len(names) == 0 {
		names = []string{""}
	}

	m.mu.Lock()
	defer m.mu.Unlock()
	m.generation++
	for _, name := range names {
		name = m.resolveName(name)
		delete(m.transports, name)
		delete(m.mailers, name)
	}
}

// PurgeAll drops every cached transport and mailer.
func (m *Manager) PurgeAll() {
	m.mu.Lock()
	defer m.mu.Unlock()
	m.generation++
	clear(m.transports)
	clear(m.mailers)
}

// Send sends or queues mailable through the default mailer.
func (m *Manager) Send(ctx context.Context, mailable mailer.Mailable) error {
	ml, err := m.Mailer(ctx, "")
	if err != nil {
		return err
	}
	return ml.Send(ctx, mailable)
}

// SendNow delivers mailable through the default mailer, ignoring any queue preference.
func (m *Manager) SendNow(ctx context.Context, mailable mailer.Mailable) (*mailer.SentMessage, error) {
	ml, err := m.Mailer(ctx, "")
	if err != nil {
		return nil, err
	}
	return ml.SendNow(ctx, mailable)
}

// SendView renders a view and delivers it through the default mailer.
func (m *Manager) SendView(ctx context.Context, view any, data map[string]any, fn func(*mailer.Message)) (*mailer.SentMessage, error) {
	ml, err := m.Mailer(ctx, "")
	if err != nil {
		return nil, err
	}
	return ml.SendView(ctx, view, data, fn)
}

// Queue queues v on the default mailer.
func (m *Manager) Queue(ctx context.Context, v any, queue ...string) error {
	ml, err := m.Mailer(ctx, "")
	if err != nil {
		return err
	}
	return ml.Queue(ctx, v, queue...)
}

// Later queues v on the default mailer for delivery after delay.
func (m *Manager) Later(ctx context.Context, delay time.Duration, v any, queue ...string) error {
	ml, err := m.Mailer(ctx, "")
	if err != nil {
		return err
	}
	return ml.Later(ctx, delay, v, queue...)
}

// HandleQueued delivers a queued job through the mailer that queued it.
func (m *Manager) HandleQueued(ctx context.Context, job *mailer.QueuedMail) error {
	ml, err := m.Mailer(ctx, job.Mailer)
	if err != nil {
		return err
	}
	return ml.HandleQueued(logger.WithMailer(ctx, ml.Name()), job)
}

func (m *Manager) resolveName(name string) string {
	if name == "" {
		return m.DefaultName()
	}
	return name
}

func (m *Manager) resolve(ctx context.Context, name string) (mailer.Transport, error) {
	if m.cfg == nil {
		return nil, fmt.Errorf("%w: %q", ErrMailerNotConfigured, name)
	}
	opts, ok := m.cfg.Mailers[name]
	if !ok {
		return nil, fmt.Errorf("%w: %q", ErrMailerNotConfigured, name)
	}

	kind := opts.Transport()
	m.mu.RLock()
	creator, custom := m.creators[kind]
	m.mu.RUnlock()

	var (
		t   mailer.Transport
		err error
	)
	switch {
	case custom:
		t, err = creator(ctx, opts)
	case drivers[kind] != nil:
		t, err = drivers[kind](ctx, m, opts)
	default:
		return nil, fmt.Errorf("%w: %q", ErrUnsupportedDriver, kind)
	}
	if err != nil {
		return nil, fmt.Errorf("mailer %q: %w", name, err)
	}
	if err := applyCapabilities(t, opts); err != nil {
		return nil, fmt.Errorf("mailer %q: %w", name, err)
	}
	return t, nil
}

func (m *Manager) mailerOptions() []mailer.Option {
	opts := []mailer.Option{
		mailer.WithAlways(m.cfg.Always),
		mailer.WithRegistry(m.registry),
		mailer.WithLogger(m.logger),
	}
	if m.views != nil {
		opts = append(opts, mailer.WithViews(m.views))
	}
	if m.queue != nil {
		opts = append(opts, mailer.WithQueue(m.queue))
	}
	for name, q := range m.connections {
		opts = append(opts, mailer.WithQueueConnection(name, q))
	}
	if m.metrics != nil {
		opts = append(opts, mailer.WithAfterSend(m.metrics.Observe))
	}
	return append(opts, m.mailerOpts...)
}
