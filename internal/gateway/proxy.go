package gateway

import (
	"context"
	"net/http"
)

// Headers copied from the client request to the upstream request.
var forwardedHeaders = []string{"Content-Type", "Accept", "Idempotency-Key"}

type ServiceProxy struct {
	baseURL string
	client  *http.Client
}

func NewServiceProxy(baseURL string, client *http.Client) *ServiceProxy {
	return &ServiceProxy{
		baseURL: baseURL,
		client:  client,
	}
}

// ForwardRequest replays r against path on the upstream service, tagging it
// with sessionID when one is given.
func (p *ServiceProxy) ForwardRequest(ctx context.Context, r *http.Request, path, sessionID string) (*http.Response, error) {
	target := p.baseURL + path
	if r.URL.RawQuery != "" {
		target += "?" + r.URL.RawQuery
	}

	req, err := http.NewRequestWithContext(ctx, r.Method, target, r.Body)
	if err != nil {
		return nil, err
	}

	for _, h := range forwardedHeaders {
		if v := r.Header.Get(h); v != "" {
			req.Header.Set(h, v)
		}
	}
	if sessionID != "" {
		req.Header.Set(SessionHeader, sessionID)
	}

	return p.client.Do(req)
}
