package gateway

import (
	"context"
	"net"
	"net/http"
)

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

// ForwardRequest replays r against the service at path, keeping the query
// string. Only the content type is copied from the client; identity headers
// come from the authenticated request context, so clients cannot forge them.
func (p *ServiceProxy) ForwardRequest(ctx context.Context, r *http.Request, path string) (*http.Response, error) {
	target := p.baseURL + path
	if r.URL.RawQuery != "" {
		target += "?" + r.URL.RawQuery
	}

	req, err := http.NewRequestWithContext(ctx, r.Method, target, r.Body)
	if err != nil {
		return nil, err
	}

	if contentType := r.Header.Get("Content-Type"); contentType != "" {
		req.Header.Set("Content-Type", contentType)
	}
	if ip := remoteIP(r); ip != "" {
		req.Header.Set("X-Forwarded-For", ip)
	}
	if id, ok := IdentityFrom(r.Context()); ok {
		req.Header.Set(HeaderUserID, id.UserID)
		if id.Role != "" {
			req.Header.Set(HeaderUserRole, id.Role)
		}
	}

	return p.client.Do(req)
}

func remoteIP(r *http.Request) string {
	host, _, err := net.SplitHostPort(r.RemoteAddr)
	if err != nil {
		return r.RemoteAddr
	}
	return host
}
