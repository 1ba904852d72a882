package internal

import (
	"net/http"

	"github.com/go-resty/resty/v2"
)

const (
	defaultMaxHostConnections = 6
	defaultMaxPendingPushes   = 50
)

// restyClient builds the HTTP client of an API transport from the mailer's "client" block:
//
//	client:
//	  max_host_connections: 6   # concurrent connections per provider host
//	  max_pending_pushes: 50    # idle connections kept for reuse
//	  timeout: 10s
//	  retry_count: 2
//	  headers: {X-Env: staging}
//
// Without a block the manager's shared HTTP client is used when one was given.
func (m *Manager) restyClient(opts Options) (*resty.Client, error) {
	block := opts.Map("client")
	if len(block) == 0 && m.httpClient != nil {
		return resty.NewWithClient(m.httpClient), nil
	}

	tr := http.DefaultTransport.(*http.Transport).Clone()
	tr.MaxConnsPerHost = block.Int("max_host_connections", defaultMaxHostConnections)
	tr.MaxIdleConnsPerHost = tr.MaxConnsPerHost
	tr.MaxIdleConns = block.Int("max_pending_pushes", defaultMaxPendingPushes)

	client := resty.NewWithClient(&http.Client{Transport: tr})

	timeout, err := block.Duration("timeout")
	if err != nil {
		return nil, err
	}
	if timeout > 0 {
		client.SetTimeout(timeout)
	}
	if n := block.Int("retry_count", 0); n > 0 {
		client.SetRetryCount(n)
	}
	if headers := block.StringMap("headers"); len(headers) > 0 {
		client.SetHeaders(headers)
	}
	return client, nil
}
