package rest

import (
	"context"
	"log/slog"
	"net/http"
	"strconv"
)

// Resource is one REST endpoint with the methods the client declares for it.
// Obtaining an operation checks the declaration first, then the server's
// advertised capabilities, probing them with OPTIONS on first use.
type Resource struct {
	url           string
	supported     Method
	authenticated bool
	f             *Resources
}

// URL is the canonical resource URL, without query string.
func (r *Resource) URL() string { return r.url }

// Supported is the statically declared method set.
func (r *Resource) Supported() Method { return r.supported }

func (r *Resource) Get(ctx context.Context) (*Operation, error) {
	return r.operation(ctx, Get)
}

func (r *Resource) Post(ctx context.Context) (*Operation, error) {
	return r.operation(ctx, Post)
}

func (r *Resource) Put(ctx context.Context) (*Operation, error) {
	return r.operation(ctx, Put)
}

func (r *Resource) Delete(ctx context.Context) (*Operation, error) {
	return r.operation(ctx, Delete)
}

func (r *Resource) operation(ctx context.Context, m Method) (*Operation, error) {
	name := m.String()
	if !r.supported.Has(m) {
		return nil, &UnsupportedOperationError{Method: name, URL: r.url}
	}
	capability, err := r.capability(ctx)
	if err != nil {
		return nil, err
	}
	if !capability.Allowed.Has(m) {
		return nil, &MethodNotAllowedError{Method: name, URL: r.url, Allowed: capability.Allowed}
	}
	op := r.newOperation(name)
	if m == Get && capability.MaxPageSize > 0 {
		op.maxPageSize = capability.MaxPageSize
		op.setPageSize(r.f.pageSize)
	}
	return op, nil
}

func (r *Resource) capability(ctx context.Context) (Capability, error) {
	if c, ok := r.f.cache.Lookup(r.url); ok {
		return c, nil
	}
	resp, err := r.newOperation(http.MethodOptions).CheckedRun(ctx)
	if err != nil {
		return Capability{}, err
	}
	c := CapabilityFromHeaders(resp.Header)
	r.f.cache.Store(r.url, c)
	r.f.logger().LogAttrs(ctx, slog.LevelDebug, "resource probed",
		slog.String("url", r.url),
		slog.String("allowed", c.Allowed.String()),
		slog.Int("max_page_size", c.MaxPageSize),
	)
	return c, nil
}

func (r *Resource) newOperation(method string) *Operation {
	return &Operation{
		resource: r,
		method:   method,
		header:   http.Header{},
	}
}

// Operation is a prepared exchange on a resource.
type Operation struct {
	resource    *Resource
	method      string
	query       Query
	header      http.Header
	body        []byte
	pageSize    int
	maxPageSize int
}

func (o *Operation) Method() string { return o.method }

// URL is the resource URL without query string.
func (o *Operation) URL() string { return o.resource.url }

// URLWithQuery is the URL that will be requested, parameters in insertion
// order.
func (o *Operation) URLWithQuery() string {
	if q := o.query.Encode(); q != "" {
		return o.resource.url + "?" + q
	}
	return o.resource.url
}

// PageSize is the limit applied to paginated reads; 0 when the server did
// not advertise one.
func (o *Operation) PageSize() int { return o.pageSize }

func (o *Operation) WithBody(body []byte) *Operation {
	o.body = body
	return o
}

func (o *Operation) WithHeader(key, value string) *Operation {
	o.header.Set(key, value)
	return o
}

// WithJSONBody sets a JSON encoded body and its content type.
func (o *Operation) WithJSONBody(body []byte) *Operation {
	return o.WithBody(body).WithHeader("Content-Type", "application/json")
}

func (o *Operation) WithQueryParameter(key, value string) *Operation {
	o.query.Add(key, value)
	return o
}

// WithPageSize asks for pages of n elements, capped by the server maximum.
// It has no effect when the server did not advertise a maximum.
func (o *Operation) WithPageSize(n int) *Operation {
	o.setPageSize(n)
	return o
}

func (o *Operation) setPageSize(requested int) {
	if o.maxPageSize <= 0 {
		return
	}
	n := o.maxPageSize
	if requested > 0 && requested < n {
		n = requested
	}
	o.pageSize = n
	o.query.Set("limit", strconv.Itoa(n))
}

func (o *Operation) clone() *Operation {
	cp := *o
	cp.query = o.query.clone()
	cp.header = o.header.Clone()
	return &cp
}
