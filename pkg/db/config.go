package db

import "time"

// Config holds the PostgreSQL settings of the mail worker.
type Config struct {
	URL               string        `yaml:"url" env:"DATABASE_URL"`
	MigrationsTable   string        `yaml:"migrations_table" env:"DATABASE_MIGRATIONS_TABLE" envDefault:"mailkit_migrations"`
	HealthCheckPeriod time.Duration `yaml:"health_check_period" env:"DATABASE_HEALTHCHECK_PERIOD" envDefault:"1m"`
	MaxConnIdleTime   time.Duration `yaml:"max_conn_idle_time" env:"DATABASE_MAX_CONN_IDLE_TIME" envDefault:"10m"`
	MaxConnLifetime   time.Duration `yaml:"max_conn_lifetime" env:"DATABASE_MAX_CONN_LIFETIME" envDefault:"30m"`
	RetryInterval     time.Duration `yaml:"retry_interval" env:"DATABASE_RETRY_INTERVAL" envDefault:"5s"`
	RetryAttempts     int           `yaml:"retry_attempts" env:"DATABASE_RETRY_ATTEMPTS" envDefault:"3"`

	// River workers hold a connection each while a job runs, so MaxConns
	// should exceed the worker count.
	MaxConns int32 `yaml:"max_conns" env:"DATABASE_MAX_CONNS" envDefault:"20"`
	MinConns int32 `yaml:"min_conns" env:"DATABASE_MIN_CONNS" envDefault:"2"`
}

// WithDefaults returns a copy of c with zero fields set to their defaults.
func (c Config) WithDefaults() Config {
	if c.MigrationsTable == "" {
		c.MigrationsTable = "mailkit_migrations"
	}
	if c.HealthCheckPeriod <= 0 {
		c.HealthCheckPeriod = time.Minute
	}
	if c.MaxConnIdleTime <= 0 {
		c.MaxConnIdleTime = 10 * time.Minute
	}
	if c.MaxConnLifetime <= 0 {
		c.MaxConnLifetime = 30 * time.Minute
	}
	if c.RetryInterval <= 0 {
		c.RetryInterval = 5 * time.Second
	}
	if c.RetryAttempts <= 0 {
		c.RetryAttempts = 3
	}
	if c.MaxConns <= 0 {
		c.MaxConns = 20
	}
	if c.MinConns < 0 || c.MinConns > c.MaxConns {
		c.MinConns = min(2, c.MaxConns)
	}
	return c
}
