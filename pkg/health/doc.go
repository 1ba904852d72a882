// Package health serves liveness and readiness probes for the mail worker.
//
// Readiness aggregates named [Checks] run in parallel under one timeout:
//
//	http.Handle("/health/", http.StripPrefix("/health", health.Routes(health.Checks{
//		"postgres": db.Healthcheck(pool),
//		"river":    job.Healthcheck(jobs),
//		"backlog":  health.Warn(health.Backlog(queueDepth, 10_000)),
//	})))
//
// Checks wrapped with [Warn] only degrade the response: readiness keeps
// answering 200 and reports "degraded". Responses are plain text unless the client asks for JSON with ?format=json
// or an Accept header.
package health
