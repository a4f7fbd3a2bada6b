package rest

import (
	"context"
	"encoding/json"
	"errors"
	"net/http"
	"sync"
	"testing"

	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"

	"tuleapsync/internal/trackertest"
)

type fakeConnector struct {
	mu       sync.Mutex
	requests []Request
	respond  func(Request) (Response, error)
}

func (c *fakeConnector) Send(_ context.Context, req Request) (Response, error) {
	c.mu.Lock()
	c.requests = append(c.requests, req)
	c.mu.Unlock()
	return c.respond(req)
}

func (c *fakeConnector) count(method string) int {
	c.mu.Lock()
	defer c.mu.Unlock()
	n := 0
	for _, r := range c.requests {
		if r.Method == method {
			n++
		}
	}
	return n
}

func optionsConnector(allow, allowMethods, limitMax string) *fakeConnector {
	return &fakeConnector{respond: func(req Request) (Response, error) {
		if req.Method != http.MethodOptions {
			return Response{StatusCode: http.StatusOK, Body: []byte(`{}`)}, nil
		}
		h := http.Header{}
		h.Set("Allow", allow)
		if allowMethods != "" {
			h.Set("Access-Control-Allow-Methods", allowMethods)
		}
		if limitMax != "" {
			h.Set("X-Pagination-Limit-Max", limitMax)
		}
		return Response{StatusCode: http.StatusOK, Header: h}, nil
	}}
}

func testFactory(conn Connector, pageSize int) *Resources {
	return NewResources(Config{ServerURL: "/server", APIVersion: "v12.5", PageSize: pageSize, Connector: conn})
}

func TestResourceURL(t *testing.T) {
	f := testFactory(nil, 0)
	assert.Equal(t, "/server/api/v12.5/my/url", f.Resource("my/url", Get).URL())
	assert.Equal(t, "/server/api/v12.5/my/url", f.Resource("/my/url", Get).URL())
	assert.Equal(t, "/server/api/v12.5", f.API().URL())
	assert.Equal(t, "/server/api/v12.5/artifacts/42/changesets", f.ArtifactChangesets(42).URL())
	assert.Equal(t, "/server/api/v12.5/user_groups/101_3/users", f.UserGroupUsers("101_3").URL())

	noVersion := NewResources(Config{ServerURL: "https://tracker.example.com/"})
	assert.Equal(t, "https://tracker.example.com/api/projects", noVersion.Projects().URL())
}

func TestFactoryDeclarations(t *testing.T) {
	f := testFactory(nil, 0)
	cases := map[*Resource]Method{
		f.API():                     Get,
		f.User():                    Get,
		f.Tokens():                  Post,
		f.Projects():                Get,
		f.Artifacts():               Post,
		f.Artifact(1):               Get | Put,
		f.ArtifactChangesets(1):     Get,
		f.Tracker(1):                Get,
		f.ProjectTrackers(1):        Get,
		f.ProjectUserGroups(1):      Get,
		f.UserGroupUsers("1_2"):     Get,
		f.TrackerReports(1):         Get,
		f.TrackerReportArtifacts(1): Get,
		f.TrackerArtifacts(1):       Get,
		f.MilestoneBacklog(1):       Get | Put,
		f.MilestoneContent(1):       Get | Put,
		f.MilestoneSubmilestones(1): Get | Put,
		f.ProjectBacklog(1):         Get | Put,
		f.Card("1_2"):               Get | Put,
		f.MilestoneCardwall(1):      Get,
		f.ProjectMilestones(1):      Get,
		f.BacklogItem(1):            Get,
	}
	for r, want := range cases {
		assert.Equal(t, want, r.Supported(), r.URL())
	}
}

func TestGetProbesOnceAndAppliesLimit(t *testing.T) {
	conn := optionsConnector("GET, PUT", "GET,PUT", "30")
	f := testFactory(conn, 0)
	ctx := context.Background()

	op, err := f.Resource("my/url", Get|Put).Get(ctx)
	require.NoError(t, err)
	assert.Equal(t, "/server/api/v12.5/my/url?limit=30", op.URLWithQuery())
	assert.Equal(t, "/server/api/v12.5/my/url", op.URL())
	assert.Equal(t, 30, op.PageSize())

	op, err = f.Resource("my/url", Get|Put).Get(ctx)
	require.NoError(t, err)
	assert.Equal(t, "/server/api/v12.5/my/url?limit=30", op.URLWithQuery())

	put, err := f.Resource("my/url", Get|Put).Put(ctx)
	require.NoError(t, err)
	assert.Equal(t, "/server/api/v12.5/my/url", put.URLWithQuery())

	assert.Equal(t, 1, conn.count(http.MethodOptions))
	assert.Equal(t, 1, f.Cache().Len())
	c, ok := f.Cache().Lookup("/server/api/v12.5/my/url")
	require.True(t, ok)
	assert.Equal(t, Capability{Allowed: Get | Put, MaxPageSize: 30}, c)
}

func TestLimitIsMinOfRequestedAndMax(t *testing.T) {
	conn := optionsConnector("GET", "GET", "30")
	ctx := context.Background()

	op, err := testFactory(conn, 10).Resource("items", Get).Get(ctx)
	require.NoError(t, err)
	assert.Equal(t, "/server/api/v12.5/items?limit=10", op.URLWithQuery())

	op, err = testFactory(conn, 100).Resource("items", Get).Get(ctx)
	require.NoError(t, err)
	assert.Equal(t, "/server/api/v12.5/items?limit=30", op.URLWithQuery())

	op.WithPageSize(5).WithQueryParameter("values", "all")
	assert.Equal(t, "/server/api/v12.5/items?limit=5&values=all", op.URLWithQuery())
}

func TestNoLimitWithoutAdvertisedMax(t *testing.T) {
	conn := optionsConnector("GET", "GET", "")
	op, err := testFactory(conn, 10).Resource("items", Get).Get(context.Background())
	require.NoError(t, err)
	op.WithPageSize(3)
	assert.Equal(t, "/server/api/v12.5/items", op.URLWithQuery())
	assert.Equal(t, 0, op.PageSize())
}

func TestLocalGuardMakesNoRequest(t *testing.T) {
	conn := optionsConnector("GET, PUT, POST, DELETE", "", "")
	f := testFactory(conn, 0)
	_, err := f.Resource("my/url", Get).Put(context.Background())
	require.Error(t, err)
	assert.True(t, errors.Is(err, ErrUnsupportedLocal))
	var ue *UnsupportedOperationError
	require.True(t, errors.As(err, &ue))
	assert.Equal(t, "PUT", ue.Method)
	assert.Empty(t, conn.requests)
}

func TestRemoteDenial(t *testing.T) {
	conn := optionsConnector("GET", "GET", "")
	f := testFactory(conn, 0)
	_, err := f.Resource("my/url", Get|Put).Put(context.Background())
	require.Error(t, err)
	assert.True(t, errors.Is(err, ErrMethodNotAllowed))
	assert.Equal(t, 1, conn.count(http.MethodOptions))
	assert.Equal(t, 0, conn.count(http.MethodPut))
}

func TestBothHeadersMustAllow(t *testing.T) {
	conn := optionsConnector("GET, PUT", "GET", "")
	f := testFactory(conn, 0)
	_, err := f.Resource("my/url", Get|Put).Put(context.Background())
	assert.True(t, errors.Is(err, ErrMethodNotAllowed))

	conn = optionsConnector("GET, PUT", "", "")
	f = testFactory(conn, 0)
	_, err = f.Resource("my/url", Get|Put).Get(context.Background())
	assert.True(t, errors.Is(err, ErrMethodNotAllowed))
}

func TestCapabilityFromHeaders(t *testing.T) {
	h := http.Header{}
	h.Add("Allow", "get, Put")
	h.Add("Allow", "OPTIONS")
	h.Set("Access-Control-Allow-Methods", "GET,PUT,OPTIONS,PATCH")
	h.Set("X-Pagination-Limit-Max", "nope")
	c := CapabilityFromHeaders(h)
	assert.Equal(t, Get|Put|Options, c.Allowed)
	assert.Equal(t, 0, c.MaxPageSize)
	assert.Equal(t, "GET|PUT|OPTIONS", c.Allowed.String())
}

func TestRunErrorMapping(t *testing.T) {
	ctx := context.Background()
	respond := func(status int, body string) *fakeConnector {
		return &fakeConnector{respond: func(req Request) (Response, error) {
			if req.Method == http.MethodOptions {
				h := http.Header{}
				h.Set("Allow", "GET")
				h.Set("Access-Control-Allow-Methods", "GET")
				return Response{StatusCode: http.StatusOK, Header: h}, nil
			}
			return Response{StatusCode: status, Status: "403 Forbidden", Body: []byte(body)}, nil
		}}
	}

	op, err := testFactory(respond(400, `{"error":{"code":400,"message":"Bad Request: invalid field"}}`), 0).Resource("x", Get).Get(ctx)
	require.NoError(t, err)
	_, err = op.Run(ctx)
	var se *ServerError
	require.True(t, errors.As(err, &se))
	assert.Equal(t, 400, se.StatusCode)
	assert.Equal(t, "Bad Request: invalid field", se.Message)

	op, err = testFactory(respond(403, `<html>nope</html>`), 0).Resource("x", Get).Get(ctx)
	require.NoError(t, err)
	_, err = op.Run(ctx)
	require.True(t, errors.As(err, &se))
	assert.Equal(t, "403 Forbidden", se.Message)

	op, err = testFactory(respond(401, `{"message":"token expired"}`), 0).Resource("x", Get).Get(ctx)
	require.NoError(t, err)
	_, err = op.Run(ctx)
	assert.False(t, errors.Is(err, ErrAuthentication))
	assert.True(t, errors.Is(err, ErrServer))
	_, err = op.CheckedRun(ctx)
	assert.True(t, errors.Is(err, ErrAuthentication))
	require.True(t, errors.As(err, &se))
	assert.Equal(t, "token expired", se.Message)
}

func TestTransportError(t *testing.T) {
	boom := errors.New("connection refused")
	conn := &fakeConnector{respond: func(Request) (Response, error) { return Response{}, boom }}
	_, err := testFactory(conn, 0).Resource("x", Get).Get(context.Background())
	require.Error(t, err)
	assert.True(t, errors.Is(err, ErrTransport))
	assert.True(t, errors.Is(err, boom))
}

type headerAuth struct{}

func (headerAuth) Authenticate(h http.Header) { h.Set("X-Auth-Token", "secret") }

func TestAuthenticatorOnlyOnAuthenticatedResources(t *testing.T) {
	conn := optionsConnector("GET, POST", "GET, POST", "")
	f := testFactory(conn, 0)
	f.SetAuthenticator(headerAuth{})
	ctx := context.Background()

	op, err := f.Projects().Get(ctx)
	require.NoError(t, err)
	_, err = op.Run(ctx)
	require.NoError(t, err)

	tok, err := f.Tokens().Post(ctx)
	require.NoError(t, err)
	_, err = tok.WithJSONBody([]byte(`{}`)).Run(ctx)
	require.NoError(t, err)

	for _, r := range conn.requests {
		if r.Method == http.MethodPost {
			assert.Equal(t, "application/json", r.Header.Get("Content-Type"))
		}
		if r.URL == "/server/api/v12.5/tokens" {
			assert.Empty(t, r.Header.Get("X-Auth-Token"), r.Method)
		} else {
			assert.Equal(t, "secret", r.Header.Get("X-Auth-Token"), r.Method+" "+r.URL)
		}
	}
}

func TestConcurrentProbesAreBenign(t *testing.T) {
	conn := optionsConnector("GET", "GET", "20")
	f := testFactory(conn, 0)
	var wg sync.WaitGroup
	for i := 0; i < 8; i++ {
		wg.Add(1)
		go func() {
			defer wg.Done()
			op, err := f.Resource("shared", Get).Get(context.Background())
			assert.NoError(t, err)
			if op != nil {
				assert.Equal(t, 20, op.PageSize())
			}
		}()
	}
	wg.Wait()
	assert.Equal(t, 1, f.Cache().Len())
	assert.GreaterOrEqual(t, conn.count(http.MethodOptions), 1)
}

func itemsOf(n int) []any {
	out := make([]any, 0, n)
	for i := 1; i <= n; i++ {
		out = append(out, map[string]any{"id": i})
	}
	return out
}

func trackerFactory(srv *trackertest.Server, pageSize int) *Resources {
	return NewResources(Config{ServerURL: srv.URL, PageSize: pageSize, Connector: NewHTTPConnector(0, nil)})
}

func TestPagesFetchLazily(t *testing.T) {
	srv := trackertest.New(t)
	srv.Expose("/api/items", trackertest.Caps{Allow: "GET", MaxPageSize: 1})
	srv.Paged("/api/items", itemsOf(2))
	ctx := context.Background()

	op, err := trackerFactory(srv, 0).Resource("items", Get).Get(ctx)
	require.NoError(t, err)
	var ids []int
	for raw, err := range op.Elements(ctx) {
		require.NoError(t, err)
		var item struct {
			ID int `json:"id"`
		}
		require.NoError(t, json.Unmarshal(raw, &item))
		ids = append(ids, item.ID)
	}
	assert.Equal(t, []int{1, 2}, ids)
	assert.Equal(t, 2, srv.Count(http.MethodGet, "/api/items"))

	var urls []string
	for _, c := range srv.Calls() {
		if c.Method == http.MethodGet {
			urls = append(urls, c.URL())
		}
	}
	assert.Equal(t, []string{"/api/items?limit=1", "/api/items?limit=1&offset=1"}, urls)
}

func TestPagesStopOnEarlyBreak(t *testing.T) {
	srv := trackertest.New(t)
	srv.Expose("/api/items", trackertest.Caps{Allow: "GET", MaxPageSize: 1})
	srv.Paged("/api/items", itemsOf(3))
	ctx := context.Background()

	op, err := trackerFactory(srv, 0).Resource("items", Get).Get(ctx)
	require.NoError(t, err)
	for _, err := range op.Elements(ctx) {
		require.NoError(t, err)
		break
	}
	assert.Equal(t, 1, srv.Count(http.MethodGet, "/api/items"))
}

func TestPagesStopOnShortPage(t *testing.T) {
	srv := trackertest.New(t)
	srv.Expose("/api/items", trackertest.Caps{Allow: "GET", MaxPageSize: 2})
	srv.On(http.MethodGet, "/api/items", func(w http.ResponseWriter, r *http.Request) {
		if r.URL.Query().Get("offset") == "" {
			trackertest.WriteJSON(w, http.StatusOK, itemsOf(2))
			return
		}
		trackertest.WriteJSON(w, http.StatusOK, itemsOf(1))
	})
	ctx := context.Background()

	op, err := trackerFactory(srv, 0).Resource("items", Get).Get(ctx)
	require.NoError(t, err)
	it := op.Pages(ctx)
	n := 0
	for it.Next() {
		n++
	}
	require.NoError(t, it.Err())
	assert.Equal(t, 3, n)
	assert.Equal(t, 2, it.Requests())
	assert.False(t, it.Next())
}

func TestPagesSingleRequestWithoutLimit(t *testing.T) {
	srv := trackertest.New(t)
	srv.Expose("/api/items", trackertest.Caps{Allow: "GET"})
	srv.JSON(http.MethodGet, "/api/items", http.StatusOK, itemsOf(4))
	ctx := context.Background()

	op, err := trackerFactory(srv, 0).Resource("items", Get).Get(ctx)
	require.NoError(t, err)
	n := 0
	for _, err := range op.Elements(ctx) {
		require.NoError(t, err)
		n++
	}
	assert.Equal(t, 4, n)
	assert.Equal(t, 1, srv.Count(http.MethodGet, "/api/items"))
}

func TestPagesSurfaceErrors(t *testing.T) {
	srv := trackertest.New(t)
	srv.Expose("/api/items", trackertest.Caps{Allow: "GET", MaxPageSize: 1})
	srv.On(http.MethodGet, "/api/items", func(w http.ResponseWriter, r *http.Request) {
		if r.URL.Query().Get("offset") == "" {
			w.Header().Set("X-Pagination-Size", "5")
			trackertest.WriteJSON(w, http.StatusOK, itemsOf(1))
			return
		}
		trackertest.WriteError(w, http.StatusInternalServerError, "database down")
	})
	ctx := context.Background()

	op, err := trackerFactory(srv, 0).Resource("items", Get).Get(ctx)
	require.NoError(t, err)
	var got []error
	n := 0
	for _, err := range op.Elements(ctx) {
		if err != nil {
			got = append(got, err)
			continue
		}
		n++
	}
	assert.Equal(t, 1, n)
	require.Len(t, got, 1)
	var se *ServerError
	require.True(t, errors.As(got[0], &se))
	assert.Equal(t, "database down", se.Message)
}

func TestHTTPConnectorSendsRequestID(t *testing.T) {
	srv := trackertest.New(t)
	srv.Expose("/api/projects", trackertest.Caps{Allow: "GET"})
	srv.JSON(http.MethodGet, "/api/projects", http.StatusOK, []any{})
	ctx := context.Background()

	op, err := trackerFactory(srv, 0).Projects().Get(ctx)
	require.NoError(t, err)
	resp, err := op.Run(ctx)
	require.NoError(t, err)
	assert.Equal(t, http.StatusOK, resp.StatusCode)
	call, ok := srv.Last(http.MethodGet, "/api/projects")
	require.True(t, ok)
	assert.NotEmpty(t, call.Header.Get("X-Request-Id"))
	assert.Equal(t, "application/json", call.Header.Get("Accept"))
}

func TestQueryOrder(t *testing.T) {
	var q Query
	q.Add("b", "2")
	q.Add("a", "1")
	q.Set("b", "3")
	q.Add("c", "x y")
	assert.Equal(t, "b=3&a=1&c=x+y", q.Encode())
	assert.Equal(t, "1", q.Get("a"))
	assert.Equal(t, "", q.Get("z"))
}

func TestParseMethods(t *testing.T) {
	assert.Equal(t, Get|Delete, ParseMethods("get, DELETE, BREW"))
	assert.True(t, (Get | Put).Has(Put))
	assert.False(t, Get.Has(Put))
	assert.False(t, Get.Has(0))
	assert.Equal(t, "NONE", Method(0).String())
}
