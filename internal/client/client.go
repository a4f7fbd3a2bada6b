// Package client is the stateful session over the tracker REST API. It logs
// in, attaches the session token to every authenticated request and exposes
// the domain operations (artifacts, milestones, backlogs, cardwalls and the
// server configuration).
//
// A Client is safe for concurrent use. Calls block until the exchange ends
// and are never retried: callers decide what to do with a failure.
package client

import (
	"context"
	"encoding/json"
	"errors"
	"fmt"
	"log/slog"
	"net/http"
	"strconv"
	"sync/atomic"
	"time"

	"tuleapsync/internal/domain"
	"tuleapsync/internal/rest"
)

// State is the authentication state of a session.
type State int32

const (
	Anonymous State = iota
	Authenticating
	Authenticated
)

func (s State) String() string {
	switch s {
	case Anonymous:
		return "anonymous"
	case Authenticating:
		return "authenticating"
	case Authenticated:
		return "authenticated"
	default:
		return "unknown"
	}
}

// Credentials are what the token endpoint expects.
type Credentials struct {
	Username string `json:"username"`
	Password string `json:"password"`
}

// CredentialsProvider supplies the credentials used to log in.
type CredentialsProvider interface {
	Credentials(ctx context.Context) (Credentials, error)
}

// StaticCredentials always returns itself.
type StaticCredentials Credentials

func (s StaticCredentials) Credentials(context.Context) (Credentials, error) {
	return Credentials(s), nil
}

// ErrNoCredentials is returned by Login when the provider has no username.
var ErrNoCredentials = errors.New("no credentials configured")

const (
	headerToken  = "X-Auth-Token"
	headerUserID = "X-Auth-UserId"
)

type Config struct {
	ServerURL  string
	APIVersion string
	PageSize   int
	// Timeout bounds every exchange when Connector is nil.
	Timeout     time.Duration
	Connector   rest.Connector
	Cache       *rest.CapabilityCache
	Credentials CredentialsProvider
	Logger      *slog.Logger
	Now         func() time.Time
}

type Client struct {
	serverURL string
	res       *rest.Resources
	creds     CredentialsProvider
	log       *slog.Logger
	now       func() time.Time

	state atomic.Int32
	token atomic.Pointer[domain.Token]
}

func New(cfg Config) *Client {
	logger := cfg.Logger
	if logger == nil {
		logger = slog.Default()
	}
	connector := cfg.Connector
	if connector == nil {
		connector = rest.NewHTTPConnector(cfg.Timeout, logger)
	}
	now := cfg.Now
	if now == nil {
		now = func() time.Time { return time.Now().UTC() }
	}
	c := &Client{
		serverURL: cfg.ServerURL,
		creds:     cfg.Credentials,
		log:       logger,
		now:       now,
	}
	c.res = rest.NewResources(rest.Config{
		ServerURL:  cfg.ServerURL,
		APIVersion: cfg.APIVersion,
		PageSize:   cfg.PageSize,
		Connector:  connector,
		Cache:      cfg.Cache,
		Logger:     logger,
	})
	c.res.SetAuthenticator(c)
	return c
}

// Resources exposes the resource factory bound to this session.
func (c *Client) Resources() *rest.Resources { return c.res }

func (c *Client) ServerURL() string { return c.serverURL }

func (c *Client) State() State { return State(c.state.Load()) }

// Token is the current session token, nil when anonymous.
func (c *Client) Token() *domain.Token { return c.token.Load() }

// SetToken installs a token obtained elsewhere, e.g. a previous session.
func (c *Client) SetToken(t domain.Token) {
	c.token.Store(&t)
	c.state.Store(int32(Authenticated))
}

// Authenticate decorates an outgoing request with the session token.
func (c *Client) Authenticate(h http.Header) {
	t := c.token.Load()
	if t == nil {
		return
	}
	h.Set(headerToken, t.Token)
	h.Set(headerUserID, strconv.Itoa(t.UserID))
}

// Login posts the credentials to the token endpoint and keeps the issued
// token. On failure the session is anonymous again.
func (c *Client) Login(ctx context.Context) (domain.Token, error) {
	c.state.Store(int32(Authenticating))
	t, err := c.login(ctx)
	if err != nil {
		c.token.Store(nil)
		c.state.Store(int32(Anonymous))
		return domain.Token{}, err
	}
	c.token.Store(&t)
	c.state.Store(int32(Authenticated))
	c.log.LogAttrs(ctx, slog.LevelDebug, "logged in", slog.Int("user_id", t.UserID))
	return t, nil
}

func (c *Client) login(ctx context.Context) (domain.Token, error) {
	if c.creds == nil {
		return domain.Token{}, ErrNoCredentials
	}
	creds, err := c.creds.Credentials(ctx)
	if err != nil {
		return domain.Token{}, fmt.Errorf("read credentials: %w", err)
	}
	if creds.Username == "" {
		return domain.Token{}, ErrNoCredentials
	}
	body, err := json.Marshal(creds)
	if err != nil {
		return domain.Token{}, err
	}
	op, err := c.res.Tokens().Post(ctx)
	if err != nil {
		return domain.Token{}, err
	}
	resp, err := op.WithJSONBody(body).CheckedRun(ctx)
	if err != nil {
		return domain.Token{}, err
	}
	var t domain.Token
	if err := json.Unmarshal(resp.Body, &t); err != nil {
		return domain.Token{}, fmt.Errorf("decode token: %w", err)
	}
	if t.Token == "" {
		return domain.Token{}, errors.New("token endpoint returned no token")
	}
	return t, nil
}

// ValidateConnection logs in. A 401 surfaces as *rest.AuthenticationError.
func (c *Client) ValidateConnection(ctx context.Context) error {
	_, err := c.Login(ctx)
	return err
}

// EnsureSession logs in unless the session already holds a token.
func (c *Client) EnsureSession(ctx context.Context) error {
	if c.Token() != nil {
		return nil
	}
	_, err := c.Login(ctx)
	return err
}

// Self is the authenticated user.
func (c *Client) Self(ctx context.Context) (domain.User, error) {
	var u domain.User
	err := c.getJSON(ctx, c.res.User(), &u)
	return u, err
}

func (c *Client) getJSON(ctx context.Context, r *rest.Resource, out any, params ...string) error {
	op, err := r.Get(ctx)
	if err != nil {
		return err
	}
	for i := 0; i+1 < len(params); i += 2 {
		op.WithQueryParameter(params[i], params[i+1])
	}
	resp, err := op.CheckedRun(ctx)
	if err != nil {
		return err
	}
	if err := json.Unmarshal(resp.Body, out); err != nil {
		return fmt.Errorf("decode %s: %w", r.URL(), err)
	}
	return nil
}

func (c *Client) put(ctx context.Context, r *rest.Resource, body []byte) error {
	op, err := r.Put(ctx)
	if err != nil {
		return err
	}
	_, err = op.WithJSONBody(body).CheckedRun(ctx)
	return err
}

// each decodes every element of a paginated resource with decode.
func each(ctx context.Context, r *rest.Resource, decode func(json.RawMessage) error, params ...string) error {
	op, err := r.Get(ctx)
	if err != nil {
		return err
	}
	for i := 0; i+1 < len(params); i += 2 {
		op.WithQueryParameter(params[i], params[i+1])
	}
	for raw, err := range op.Elements(ctx) {
		if err != nil {
			return err
		}
		if err := decode(raw); err != nil {
			return fmt.Errorf("decode element of %s: %w", r.URL(), err)
		}
	}
	return nil
}

// collect gathers every element of a paginated resource.
func collect[T any](ctx context.Context, r *rest.Resource, params ...string) ([]T, error) {
	out := []T{}
	err := each(ctx, r, func(raw json.RawMessage) error {
		var v T
		if err := json.Unmarshal(raw, &v); err != nil {
			return err
		}
		out = append(out, v)
		return nil
	}, params...)
	if err != nil {
		return nil, err
	}
	return out, nil
}
