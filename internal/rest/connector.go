package rest

import (
	"bytes"
	"context"
	"io"
	"log/slog"
	"net/http"
	"time"

	"github.com/google/uuid"
)

// Request is one exchange to send. URL includes the query string.
type Request struct {
	Method string
	URL    string
	Header http.Header
	Body   []byte
}

// Response is the raw answer of an exchange.
type Response struct {
	StatusCode int
	Status     string
	Header     http.Header
	Body       []byte
}

// Successful reports a 2xx status.
func (r Response) Successful() bool {
	return r.StatusCode >= 200 && r.StatusCode < 300
}

// Connector sends requests. It returns an error only when no response was
// obtained; HTTP error statuses are returned as responses.
type Connector interface {
	Send(ctx context.Context, req Request) (Response, error)
}

// Authenticator decorates outgoing requests with session credentials.
type Authenticator interface {
	Authenticate(h http.Header)
}

// HTTPConnector sends requests with net/http.
type HTTPConnector struct {
	HTTPClient *http.Client
	Timeout    time.Duration
	UserAgent  string
	Logger     *slog.Logger
}

// NewHTTPConnector creates a connector with sane defaults.
func NewHTTPConnector(timeout time.Duration, logger *slog.Logger) *HTTPConnector {
	if timeout <= 0 {
		timeout = 30 * time.Second
	}
	return &HTTPConnector{
		HTTPClient: &http.Client{Timeout: timeout},
		Timeout:    timeout,
		UserAgent:  "tsync",
		Logger:     logger,
	}
}

func (c *HTTPConnector) Send(ctx context.Context, r Request) (Response, error) {
	hc := c.HTTPClient
	if hc == nil {
		hc = &http.Client{Timeout: c.Timeout}
	}
	var body io.Reader
	if r.Body != nil {
		body = bytes.NewReader(r.Body)
	}
	req, err := http.NewRequestWithContext(ctx, r.Method, r.URL, body)
	if err != nil {
		return Response{}, err
	}
	for k, vs := range r.Header {
		for _, v := range vs {
			req.Header.Add(k, v)
		}
	}
	req.Header.Set("Accept", "application/json")
	if c.UserAgent != "" {
		req.Header.Set("User-Agent", c.UserAgent)
	}
	requestID := uuid.NewString()
	req.Header.Set("X-Request-Id", requestID)

	start := time.Now()
	resp, err := hc.Do(req)
	if err != nil {
		return Response{}, err
	}
	defer resp.Body.Close()
	data, err := io.ReadAll(resp.Body)
	if err != nil {
		return Response{}, err
	}
	c.logger().LogAttrs(ctx, slog.LevelDebug, "http exchange",
		slog.String("request_id", requestID),
		slog.String("method", r.Method),
		slog.String("url", r.URL),
		slog.Int("status", resp.StatusCode),
		slog.Duration("elapsed", time.Since(start)),
	)
	return Response{
		StatusCode: resp.StatusCode,
		Status:     resp.Status,
		Header:     resp.Header,
		Body:       data,
	}, nil
}

func (c *HTTPConnector) logger() *slog.Logger {
	if c.Logger != nil {
		return c.Logger
	}
	return slog.Default()
}
