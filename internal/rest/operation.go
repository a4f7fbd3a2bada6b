package rest

import (
	"context"
	"encoding/json"
	"errors"
	"fmt"
	"iter"
	"net/http"
	"net/url"
	"strconv"
	"strings"
)

// Run sends the exchange. Transport failures give a *TransportError and
// non-2xx answers a *ServerError; the response is returned in both success
// and server error cases.
func (o *Operation) Run(ctx context.Context) (Response, error) {
	req := Request{
		Method: o.method,
		URL:    o.URLWithQuery(),
		Header: o.header.Clone(),
		Body:   o.body,
	}
	if req.Header == nil {
		req.Header = http.Header{}
	}
	if o.resource.authenticated && o.resource.f.auth != nil {
		o.resource.f.auth.Authenticate(req.Header)
	}
	resp, err := o.resource.f.connector.Send(ctx, req)
	if err != nil {
		return Response{}, &TransportError{Method: req.Method, URL: req.URL, Err: err}
	}
	if !resp.Successful() {
		return resp, newServerError(resp)
	}
	return resp, nil
}

// CheckedRun is Run with 401 answers reported as *AuthenticationError.
func (o *Operation) CheckedRun(ctx context.Context) (Response, error) {
	resp, err := o.Run(ctx)
	var se *ServerError
	if errors.As(err, &se) && se.StatusCode == http.StatusUnauthorized {
		return resp, &AuthenticationError{Err: se}
	}
	return resp, err
}

// Pages returns a lazy iterator over the elements of a paginated JSON array
// resource. Each page is requested only when the previous one is consumed.
func (o *Operation) Pages(ctx context.Context) *PageIterator {
	return &PageIterator{ctx: ctx, op: o}
}

// Elements is Pages as a range-over-func sequence. Breaking out of the loop
// stops fetching. An error is yielded once, as the last pair.
func (o *Operation) Elements(ctx context.Context) iter.Seq2[json.RawMessage, error] {
	return func(yield func(json.RawMessage, error) bool) {
		it := o.Pages(ctx)
		for it.Next() {
			if !yield(it.Element(), nil) {
				return
			}
		}
		if err := it.Err(); err != nil {
			yield(nil, err)
		}
	}
}

// PageIterator walks pages with offset/limit. Iteration stops on an empty
// page, on a page shorter than the limit, when the offset reaches the total
// advertised in X-Pagination-Size, or after the first page when neither a
// limit nor a total is known. It cannot be restarted.
type PageIterator struct {
	ctx      context.Context
	op       *Operation
	offset   int
	buf      []json.RawMessage
	cur      json.RawMessage
	err      error
	last     bool
	requests int
}

func (it *PageIterator) Next() bool {
	for len(it.buf) == 0 {
		if it.err != nil || it.last {
			it.cur = nil
			return false
		}
		it.fetch()
	}
	it.cur, it.buf = it.buf[0], it.buf[1:]
	return true
}

func (it *PageIterator) Element() json.RawMessage { return it.cur }

func (it *PageIterator) Err() error { return it.err }

// Requests counts the pages fetched so far.
func (it *PageIterator) Requests() int { return it.requests }

func (it *PageIterator) fetch() {
	op := it.op.clone()
	if it.offset > 0 {
		op.query.Set("offset", strconv.Itoa(it.offset))
	}
	it.requests++
	resp, err := op.CheckedRun(it.ctx)
	if err != nil {
		it.err = err
		return
	}
	var items []json.RawMessage
	if err := json.Unmarshal(resp.Body, &items); err != nil {
		it.err = fmt.Errorf("decode page of %s: %w", op.URLWithQuery(), err)
		return
	}
	it.buf = items
	it.offset += len(items)
	limit := it.op.pageSize
	total, hasTotal := totalFromHeader(resp.Header)
	switch {
	case len(items) == 0:
		it.last = true
	case limit > 0 && len(items) < limit:
		it.last = true
	case hasTotal && it.offset >= total:
		it.last = true
	case limit == 0 && !hasTotal:
		it.last = true
	}
}

func totalFromHeader(h http.Header) (int, bool) {
	raw := strings.TrimSpace(h.Get(headerPaginationSize))
	if raw == "" {
		return 0, false
	}
	n, err := strconv.Atoi(raw)
	if err != nil || n < 0 {
		return 0, false
	}
	return n, true
}

// Query is an insertion-ordered list of query parameters.
type Query struct {
	params []param
}

type param struct {
	key, value string
}

func (q *Query) Add(key, value string) {
	q.params = append(q.params, param{key, value})
}

// Set replaces the first parameter named key, dropping later duplicates, or
// appends it.
func (q *Query) Set(key, value string) {
	out := q.params[:0]
	replaced := false
	for _, p := range q.params {
		if p.key != key {
			out = append(out, p)
			continue
		}
		if !replaced {
			out = append(out, param{key, value})
			replaced = true
		}
	}
	if !replaced {
		out = append(out, param{key, value})
	}
	q.params = out
}

func (q Query) Get(key string) string {
	for _, p := range q.params {
		if p.key == key {
			return p.value
		}
	}
	return ""
}

func (q Query) Encode() string {
	if len(q.params) == 0 {
		return ""
	}
	parts := make([]string, 0, len(q.params))
	for _, p := range q.params {
		parts = append(parts, url.QueryEscape(p.key)+"="+url.QueryEscape(p.value))
	}
	return strings.Join(parts, "&")
}

func (q Query) clone() Query {
	return Query{params: append([]param(nil), q.params...)}
}
