package destination

import (
	"bytes"
	"context"
	"fmt"
	"io"
	"net"
	"net/http"
	"net/url"
	"strings"
	"time"

	"github.com/tidwall/gjson"

	"github.com/vyrodovalexey/avarfc/internal/observability"
)

// maxReplySize bounds adapter replies read into memory.
const maxReplySize = 32 << 20

// HTTPTransport speaks the adapter protocol over HTTP:
//
//	GET    {base}/functions/{name}          describe
//	POST   {base}/functions/{name}/execute  execute
//	POST   {base}/sessions                  open session
//	DELETE {base}/sessions/{id}             close session
type HTTPTransport struct {
	base   string
	client *http.Client
}

// NewHTTPTransport creates a transport for the adapter at baseURL.
func NewHTTPTransport(baseURL string, timeout time.Duration) (*HTTPTransport, error) {
	u, err := url.Parse(baseURL)
	if err != nil {
		return nil, fmt.Errorf("invalid adapter URL: %w", err)
	}
	if u.Scheme != "http" && u.Scheme != "https" {
		return nil, fmt.Errorf("invalid adapter URL scheme %q", u.Scheme)
	}

	return &HTTPTransport{
		base: strings.TrimRight(baseURL, "/"),
		client: &http.Client{
			Timeout: timeout,
			Transport: &http.Transport{
				Proxy: http.ProxyFromEnvironment,
				DialContext: (&net.Dialer{
					Timeout:   10 * time.Second,
					KeepAlive: 30 * time.Second,
				}).DialContext,
				MaxIdleConns:          100,
				MaxIdleConnsPerHost:   20,
				IdleConnTimeout:       90 * time.Second,
				TLSHandshakeTimeout:   10 * time.Second,
				ExpectContinueTimeout: time.Second,
			},
		},
	}, nil
}

// RoundTrip performs one adapter request.
func (t *HTTPTransport) RoundTrip(ctx context.Context, req *Request) (*Response, error) {
	method, path, err := t.route(req)
	if err != nil {
		return nil, err
	}

	var body io.Reader
	if req.Body != nil {
		body = bytes.NewReader(req.Body)
	}

	httpReq, err := http.NewRequestWithContext(ctx, method, t.base+path, body)
	if err != nil {
		return nil, err
	}
	httpReq.Header.Set("Accept", "application/json")
	if req.Body != nil {
		httpReq.Header.Set("Content-Type", "application/json")
	}
	if id := observability.RequestIDFromContext(ctx); id != "" {
		httpReq.Header.Set("X-Request-ID", id)
	}
	switch {
	case req.Credentials.Token != "":
		httpReq.Header.Set("Authorization", "Bearer "+req.Credentials.Token)
	case req.Credentials.User != "":
		httpReq.SetBasicAuth(req.Credentials.User, req.Credentials.Password)
	}
	observability.InjectTraceContext(ctx, httpReq.Header)

	resp, err := t.client.Do(httpReq)
	if err != nil {
		return nil, err
	}
	defer func() { _ = resp.Body.Close() }()

	data, err := io.ReadAll(io.LimitReader(resp.Body, maxReplySize))
	if err != nil {
		return nil, fmt.Errorf("failed to read adapter reply: %w", err)
	}

	switch {
	case resp.StatusCode >= 200 && resp.StatusCode < 300:
		return &Response{Body: data}, nil
	case resp.StatusCode == http.StatusNotFound && !gjson.GetBytes(data, "error").Exists():
		return &Response{NotFound: true}, nil
	case gjson.ValidBytes(data) && gjson.GetBytes(data, "error").Exists():
		return &Response{Body: data}, nil
	default:
		return nil, fmt.Errorf("adapter returned status %d", resp.StatusCode)
	}
}

// Close releases idle connections.
func (t *HTTPTransport) Close() error {
	t.client.CloseIdleConnections()
	return nil
}

func (t *HTTPTransport) route(req *Request) (method, path string, err error) {
	switch req.Op {
	case OpDescribe:
		return http.MethodGet, "/functions/" + url.PathEscape(req.Function), nil
	case OpExecute:
		return http.MethodPost, "/functions/" + url.PathEscape(req.Function) + "/execute", nil
	case OpOpenSession:
		return http.MethodPost, "/sessions", nil
	case OpCloseSession:
		return http.MethodDelete, "/sessions/" + url.PathEscape(req.Session), nil
	default:
		return "", "", fmt.Errorf("unsupported operation %q", req.Op)
	}
}
