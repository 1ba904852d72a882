// Package db connects the mail worker to PostgreSQL.
//
// The pool returned by [Connect] backs the River job queue and the delivery
// log. Connecting retries while the database is unreachable, which lets the
// worker start alongside its database in a container deployment.
//
//	pool, err := db.Connect(ctx, db.Config{URL: os.Getenv("DATABASE_URL")})
//	if err != nil {
//		return err
//	}
//	defer pool.Close()
//
// [Migrate] applies goose migrations from an fs.FS. The delivery log ships
// its schema this way:
//
//	err := db.Migrate(ctx, pool, deliverylog.Migrations(), cfg.MigrationsTable, logger)
//
// [Healthcheck] plugs into health.Checks.
package db
