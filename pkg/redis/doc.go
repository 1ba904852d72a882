// Package redis connects the mail worker to Redis, the backend of
// redisqueue.Queue.
//
//	client, err := redis.Connect(ctx, redis.Config{URL: os.Getenv("REDIS_URL")})
//	if err != nil {
//		return err
//	}
//	q := redisqueue.New(client)
//
// [Connect] pings the server and retries with a linear backoff. [Healthcheck]
// plugs into health.Checks and [Shutdown] into the worker's shutdown hooks.
package redis
