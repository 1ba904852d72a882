package main

import (
	"context"
	"fmt"
	"time"

	"github.com/go-chi/chi/v5"
	"github.com/go-chi/chi/v5/middleware"
	"github.com/jackc/pgx/v5/pgxpool"
	"github.com/prometheus/client_golang/prometheus"
	"github.com/prometheus/client_golang/prometheus/collectors"
	"github.com/prometheus/client_golang/prometheus/promhttp"
	"github.com/robfig/cron/v3"
	"github.com/spf13/cobra"

	"github.com/dmitrymomot/mailkit"
	"github.com/dmitrymomot/mailkit/pkg/db"
	"github.com/dmitrymomot/mailkit/pkg/health"
	"github.com/dmitrymomot/mailkit/pkg/job"
	"github.com/dmitrymomot/mailkit/pkg/mailer"
	"github.com/dmitrymomot/mailkit/pkg/mailer/deliverylog"
	"github.com/dmitrymomot/mailkit/pkg/mailer/redisqueue"
	"github.com/dmitrymomot/mailkit/pkg/mailer/s3attach"
	redisconn "github.com/dmitrymomot/mailkit/pkg/redis"
)

const (
	backendRiver = "river"
	backendRedis = "redis"
)

type workOptions struct {
	backend         string
	databaseURL     string
	redisURL        string
	addr            string
	queue           string
	refreshSchedule string
	workers         int
	maxAttempts     int
	backlogLimit    int64
	deliveryLog     bool
	shutdownTimeout time.Duration
	archive         s3attach.Config
}

func newWorkCommand() *cobra.Command {
	o := &workOptions{}

	cmd := &cobra.Command{
		Use:   "work",
		Short: "Deliver queued mail",
		Long: `Deliver queued mail from River (PostgreSQL) or a Redis list.

The worker also serves /health/live, /health/ready, /metrics and, with --views,
/previews of every markdown view.`,
		RunE: func(cmd *cobra.Command, _ []string) error {
			rt, err := getRuntime(cmd)
			if err != nil {
				return err
			}
			envDefault(&o.databaseURL, "DATABASE_URL", "")
			envDefault(&o.redisURL, "REDIS_URL", "")
			envDefault(&o.archive.Bucket, "S3_BUCKET", "")
			envDefault(&o.archive.Region, "S3_REGION", "us-east-1")
			envDefault(&o.archive.Endpoint, "S3_ENDPOINT", "")
			envDefault(&o.archive.AccessKey, "S3_ACCESS_KEY", "")
			envDefault(&o.archive.SecretKey, "S3_SECRET_KEY", "")
			return runWork(cmd.Context(), rt, o)
		},
	}

	cmd.Flags().StringVar(&o.backend, "backend", backendRiver, "Queue backend: river or redis")
	cmd.Flags().StringVar(&o.databaseURL, "database-url", "", "PostgreSQL URL (env DATABASE_URL)")
	cmd.Flags().StringVar(&o.redisURL, "redis-url", "", "Redis URL (env REDIS_URL)")
	cmd.Flags().StringVar(&o.addr, "addr", ":9090", "Listen address for health, metrics and previews")
	cmd.Flags().StringVar(&o.queue, "queue", redisqueue.DefaultQueue, "Queue to consume")
	cmd.Flags().IntVar(&o.workers, "workers", 10, "Concurrent deliveries")
	cmd.Flags().IntVar(&o.maxAttempts, "max-attempts", 5, "Delivery attempts per message")
	cmd.Flags().StringVar(&o.refreshSchedule, "refresh-schedule", "0 * * * *", "Cron schedule for dropping cached transports, empty disables")
	cmd.Flags().Int64Var(&o.backlogLimit, "backlog-limit", 10000, "Ready redis jobs before readiness reports degraded, 0 disables")
	cmd.Flags().BoolVar(&o.deliveryLog, "delivery-log", false, "Record every delivery attempt in PostgreSQL")
	cmd.Flags().StringVar(&o.archive.Bucket, "archive-bucket", "", "S3 bucket archiving every delivered message (env S3_BUCKET)")
	cmd.Flags().StringVar(&o.archive.Prefix, "archive-prefix", "mail", "Key prefix of archived messages")
	cmd.Flags().StringVar(&o.archive.Region, "s3-region", "", "S3 region (env S3_REGION)")
	cmd.Flags().StringVar(&o.archive.Endpoint, "s3-endpoint", "", "S3 compatible endpoint (env S3_ENDPOINT)")
	cmd.Flags().BoolVar(&o.archive.PathStyle, "s3-path-style", false, "Use path-style S3 addressing")
	cmd.Flags().DurationVar(&o.shutdownTimeout, "shutdown-timeout", 30*time.Second, "Graceful shutdown timeout")

	return cmd
}

func runWork(ctx context.Context, rt *runtimeState, o *workOptions) error {
	reg := prometheus.NewRegistry()
	reg.MustRegister(
		collectors.NewGoCollector(),
		collectors.NewProcessCollector(collectors.ProcessCollectorOpts{}),
	)
	metrics, err := mailkit.NewMetrics(reg)
	if err != nil {
		return err
	}

	checks := health.Checks{}
	managerOpts := []mailkit.ManagerOption{mailkit.WithMetrics(metrics)}
	runOpts := []mailkit.RunOption{
		mailkit.Address(o.addr),
		mailkit.Logger(rt.log),
		mailkit.BaseContext(ctx),
		mailkit.ShutdownTimeout(o.shutdownTimeout),
	}

	var pool *pgxpool.Pool
	if o.backend == backendRiver || o.deliveryLog {
		if o.databaseURL == "" {
			return fmt.Errorf("--database-url is required for backend %q or --delivery-log", o.backend)
		}
		pool, err = db.Connect(ctx, db.Config{URL: o.databaseURL}.WithDefaults())
		if err != nil {
			return err
		}
		checks["postgres"] = db.Healthcheck(pool)
		runOpts = append(runOpts, mailkit.ShutdownHook(db.Shutdown(pool)))
	}

	if o.deliveryLog {
		store := deliverylog.New(pool, deliverylog.WithLogger(rt.log))
		managerOpts = append(managerOpts, mailkit.WithMailerOptions(mailer.WithAfterSend(store.Hook())))
	}

	if o.archive.Bucket != "" {
		client, err := s3attach.NewClient(ctx, o.archive)
		if err != nil {
			return err
		}
		store := s3attach.New(client, o.archive.Bucket,
			s3attach.WithPrefix(o.archive.Prefix),
			s3attach.WithLogger(rt.log),
		)
		managerOpts = append(managerOpts, mailkit.WithMailerOptions(mailer.WithAfterSend(store.ArchiveHook())))
	}

	var m *mailkit.Manager
	switch o.backend {
	case backendRiver:
		enq, err := job.NewEnqueuer(pool, job.WithEnqueuerLogger(rt.log))
		if err != nil {
			return err
		}
		queue := mailkit.NewRiverQueue(enq,
			job.MaxAttempts(o.maxAttempts),
			job.UniqueFor(24*time.Hour),
		)
		if m, err = rt.newManager(append(managerOpts, mailkit.WithQueue(queue))...); err != nil {
			return err
		}

		jobs, err := job.NewManager(pool,
			job.WithTask[mailkit.QueuedMail](mailkit.NewSendQueuedMail(m)),
			job.WithScheduledTask(mailkit.NewRefreshTransports(m, o.refreshSchedule)),
			job.WithMaxWorkers(o.workers),
			job.WithQueue(o.queue, o.workers),
			job.WithLogger(rt.log),
		)
		if err != nil {
			return err
		}
		checks["river"] = job.Healthcheck(jobs)
		// Registered first so River drains before the pool closes.
		runOpts = append([]mailkit.RunOption{
			mailkit.StartHook(jobs.Start),
			mailkit.ShutdownHook(jobs.Shutdown()),
		}, runOpts...)

	case backendRedis:
		if o.redisURL == "" {
			return fmt.Errorf("--redis-url is required for backend %q", o.backend)
		}
		client, err := redisconn.Connect(ctx, redisconn.Config{URL: o.redisURL}.WithDefaults())
		if err != nil {
			return err
		}
		q := redisqueue.New(client,
			redisqueue.WithMaxAttempts(o.maxAttempts),
			redisqueue.WithLogger(rt.log),
		)
		if m, err = rt.newManager(append(managerOpts, mailkit.WithQueue(q))...); err != nil {
			return err
		}

		checks["redis"] = redisconn.Healthcheck(client)
		if o.backlogLimit > 0 {
			checks["backlog"] = health.Warn(health.Backlog(func(ctx context.Context) (int64, error) {
				ready, _, err := q.Len(ctx, o.queue)
				return ready, err
			}, o.backlogLimit))
		}

		for range max(o.workers, 1) {
			runOpts = append(runOpts, mailkit.Background(func(ctx context.Context) error {
				return q.Run(ctx, o.queue, m.HandleQueued)
			}))
		}
		if o.refreshSchedule != "" {
			runOpts = append(runOpts, mailkit.Background(
				cronLoop(mailkit.NewRefreshTransports(m, o.refreshSchedule)),
			))
		}
		runOpts = append(runOpts, mailkit.ShutdownHook(redisconn.Shutdown(client)))

	default:
		return fmt.Errorf("unknown backend %q", o.backend)
	}

	r := chi.NewRouter()
	r.Use(middleware.Recoverer)
	r.Mount("/health", health.Routes(checks, health.WithLogger(rt.log)))
	r.Handle("/metrics", promhttp.HandlerFor(reg, promhttp.HandlerOpts{Registry: reg}))
	previews, err := viewPreviews(rt.viewsDir)
	if err != nil {
		return err
	}
	if len(previews) > 0 {
		r.Mount("/previews", mailkit.PreviewHandler(m, previews))
	}

	runOpts = append(runOpts,
		mailkit.Handler(r),
		mailkit.ShutdownHook(rt.flushLogs),
	)

	rt.log.InfoContext(ctx, "mail worker starting",
		"backend", o.backend,
		"queue", o.queue,
		"workers", o.workers,
		"default_mailer", m.DefaultName(),
	)
	return mailkit.Run(runOpts...)
}

// cronLoop runs a scheduled task with robfig/cron until ctx is done.
func cronLoop(task interface {
	Name() string
	Schedule() string
	Handle(context.Context) error
}) func(context.Context) error {
	return func(ctx context.Context) error {
		c := cron.New()
		if _, err := c.AddFunc(task.Schedule(), func() { _ = task.Handle(ctx) }); err != nil {
			return fmt.Errorf("%s: %w", task.Name(), err)
		}
		c.Start()
		<-ctx.Done()
		<-c.Stop().Done()
		return ctx.Err()
	}
}
