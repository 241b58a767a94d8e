package registryclient

import (
	"bytes"
	"context"
	"encoding/json"
	"fmt"
	"io"
	"net/http"
	"net/url"
	"strconv"
	"strings"

	"github.com/google/uuid"
	"golang.org/x/net/http2"
	"golang.org/x/oauth2"

	"github.com/dopamine-pm/dopamine/internal/config"
	"github.com/dopamine-pm/dopamine/internal/httputil"
)

// apiVersionHeader is the response header the registry stamps with the
// API version it served, letting the client enforce spec §4.5's
// version-mismatch rejection without parsing every payload twice.
const apiVersionHeader = "X-Dopamine-Api-Version"

// auth classifies the authentication a request requires (spec §4.5:
// "Authentication is one of {none, optional-bearer, required-bearer}").
type auth int

const (
	authNone auth = iota
	authOptionalBearer
	authRequiredBearer
)

// Client is a typed HTTP client for the registry's v1 API.
type Client struct {
	baseURL string
	http    *http.Client
	tokens  oauth2.TokenSource
}

// Option configures a Client.
type Option func(*Client)

// WithHTTPClient overrides the underlying *http.Client. The replacement is
// used as given: New's http2 transport setup is not applied to it.
func WithHTTPClient(h *http.Client) Option {
	return func(c *Client) { c.http = h }
}

// WithTokenSource configures the bearer token source used for
// optional/required-bearer requests. A nil source means the client can
// only call unauthenticated endpoints.
func WithTokenSource(ts oauth2.TokenSource) Option {
	return func(c *Client) { c.tokens = ts }
}

// New constructs a Client against baseURL (default: config.GetRegistry()
// when empty), with an h2-capable secure transport matching the
// SSRF-hardened posture used elsewhere in the codebase.
func New(baseURL string, opts ...Option) (*Client, error) {
	if baseURL == "" {
		baseURL = config.GetRegistry()
	}
	transport := &http.Transport{}
	base := httputil.NewSecureClient(httputil.DefaultOptions())
	if t, ok := base.Transport.(*http.Transport); ok {
		transport = t
	}
	if err := http2.ConfigureTransport(transport); err != nil {
		return nil, fmt.Errorf("registryclient: configure http2: %w", err)
	}
	base.Transport = transport

	c := &Client{baseURL: strings.TrimRight(baseURL, "/"), http: base}
	for _, opt := range opts {
		opt(c)
	}
	return c, nil
}

// StaticTokenSource wraps a single access token as an oauth2.TokenSource,
// for logins where the caller already holds a bearer token on disk.
func StaticTokenSource(accessToken string) oauth2.TokenSource {
	return oauth2.StaticTokenSource(&oauth2.Token{AccessToken: accessToken})
}

// RefreshTokenSource returns a TokenSource that refreshes via
// POST /auth/token whenever the current token is empty or expired.
func (c *Client) RefreshTokenSource(ctx context.Context, refreshToken string) oauth2.TokenSource {
	return oauth2.ReuseTokenSource(nil, &refreshingSource{ctx: ctx, client: c, refreshToken: refreshToken})
}

type refreshingSource struct {
	ctx          context.Context
	client       *Client
	refreshToken string
}

func (s *refreshingSource) Token() (*oauth2.Token, error) {
	tok, err := s.client.RefreshAuthToken(s.ctx, s.refreshToken)
	if err != nil {
		return nil, err
	}
	return &oauth2.Token{AccessToken: tok.AccessToken, RefreshToken: tok.RefreshToken}, nil
}

func (c *Client) endpoint(template string, params map[string]string) string {
	out := template
	for k, v := range params {
		out = strings.ReplaceAll(out, ":"+k, url.PathEscape(v))
	}
	return c.baseURL + "/" + apiVersion + out
}

func (c *Client) do(ctx context.Context, method, rawURL string, body interface{}, a auth, out interface{}) error {
	var reader io.Reader
	if body != nil {
		data, err := json.Marshal(body)
		if err != nil {
			return fmt.Errorf("registryclient: encode request body: %w", err)
		}
		reader = bytes.NewReader(data)
	}

	req, err := http.NewRequestWithContext(ctx, method, rawURL, reader)
	if err != nil {
		return wrapNetworkError(err, "build request")
	}
	if body != nil {
		req.Header.Set("Content-Type", "application/json")
	}
	req.Header.Set("Accept", "application/json")

	if a != authNone {
		if c.tokens == nil {
			if a == authRequiredBearer {
				return &RegistryError{Type: ErrHTTP, StatusCode: http.StatusUnauthorized, Message: "request requires authentication but no token source is configured"}
			}
		} else {
			tok, err := c.tokens.Token()
			if err != nil {
				return wrapNetworkError(err, "obtain bearer token")
			}
			req.Header.Set("Authorization", "Bearer "+tok.AccessToken)
		}
	}

	resp, err := c.http.Do(req)
	if err != nil {
		return wrapNetworkError(err, fmt.Sprintf("%s %s", method, rawURL))
	}
	defer resp.Body.Close()

	if v := resp.Header.Get(apiVersionHeader); v != "" && v != apiVersion {
		return &RegistryError{Type: ErrVersionMismatch, Message: fmt.Sprintf("registry declared API version %q, client speaks %q", v, apiVersion)}
	}

	data, err := io.ReadAll(resp.Body)
	if err != nil {
		return wrapNetworkError(err, "read response body")
	}

	if resp.StatusCode < 200 || resp.StatusCode >= 300 {
		return httpError(resp.StatusCode, string(data), fmt.Sprintf("%s %s", method, rawURL))
	}

	if out == nil || len(data) == 0 {
		return nil
	}
	if err := json.Unmarshal(data, out); err != nil {
		return fmt.Errorf("registryclient: decode response: %w", err)
	}
	return nil
}

// GetPackage fetches GET /v1/packages/:name.
func (c *Client) GetPackage(ctx context.Context, name string) (*PackageResource, error) {
	var out PackageResource
	u := c.endpoint("/packages/:name", map[string]string{"name": name})
	if err := c.do(ctx, http.MethodGet, u, nil, authNone, &out); err != nil {
		return nil, err
	}
	return &out, nil
}

// SearchPackages fetches GET /v1/packages with query parameters.
func (c *Client) SearchPackages(ctx context.Context, params SearchParams) ([]PackageSearchEntry, error) {
	q := url.Values{}
	if params.Query != "" {
		q.Set("q", params.Query)
	}
	if params.Regex {
		q.Set("regex", "true")
	}
	if params.CaseSensitive {
		q.Set("caseSensitive", "true")
	}
	if params.NameOnly {
		q.Set("nameOnly", "true")
	}
	if params.Extended {
		q.Set("extended", "true")
	}
	if params.Offset != 0 {
		q.Set("offset", strconv.Itoa(params.Offset))
	}
	if params.Limit != 0 {
		q.Set("limit", strconv.Itoa(params.Limit))
	}

	u := c.endpoint("/packages", nil)
	if enc := q.Encode(); enc != "" {
		u += "?" + enc
	}
	var out []PackageSearchEntry
	if err := c.do(ctx, http.MethodGet, u, nil, authNone, &out); err != nil {
		return nil, err
	}
	return out, nil
}

// GetRecipe fetches GET /v1/recipes/:id.
func (c *Client) GetRecipe(ctx context.Context, id string) (*RecipeResource, error) {
	var out RecipeResource
	u := c.endpoint("/recipes/:id", map[string]string{"id": id})
	if err := c.do(ctx, http.MethodGet, u, nil, authNone, &out); err != nil {
		return nil, err
	}
	return &out, nil
}

// PublishRecipe performs POST /v1/recipes (auth required), returning the
// new-or-existing classification plus the single-use archive upload
// token (spec §4.5: "token lifetime is bounded and single-use").
func (c *Client) PublishRecipe(ctx context.Context, req PublishRequest) (*PublishResult, error) {
	if req.IdempotencyKey == "" {
		req.IdempotencyKey = uuid.NewString()
	}
	var out PublishResult
	u := c.endpoint("/recipes", nil)
	if err := c.do(ctx, http.MethodPost, u, req, authRequiredBearer, &out); err != nil {
		return nil, err
	}
	return &out, nil
}

// RefreshAuthToken performs POST /auth/token.
func (c *Client) RefreshAuthToken(ctx context.Context, refreshToken string) (*AuthToken, error) {
	var out AuthToken
	u := c.baseURL + "/auth/token"
	body := struct {
		RefreshToken string `json:"refreshToken"`
	}{RefreshToken: refreshToken}
	if err := c.do(ctx, http.MethodPost, u, body, authNone, &out); err != nil {
		return nil, err
	}
	return &out, nil
}

// UploadArchive uploads a tar.xz archive using the single-use bearer
// token returned by PublishRecipe.
func (c *Client) UploadArchive(ctx context.Context, uploadURL, uploadToken string, data []byte) error {
	req, err := http.NewRequestWithContext(ctx, http.MethodPost, uploadURL, bytes.NewReader(data))
	if err != nil {
		return wrapNetworkError(err, "build upload request")
	}
	req.Header.Set("Content-Type", "application/x-xz")
	req.Header.Set("Authorization", "Bearer "+uploadToken)

	resp, err := c.http.Do(req)
	if err != nil {
		return wrapNetworkError(err, "upload archive")
	}
	defer resp.Body.Close()
	if resp.StatusCode < 200 || resp.StatusCode >= 300 {
		body, _ := io.ReadAll(resp.Body)
		return httpError(resp.StatusCode, string(body), "upload archive")
	}
	return nil
}
