package session

import (
	"bytes"
	"context"
	"encoding/json"
	"fmt"
	"io"
	"net/http"
	"net/http/cookiejar"
	"net/url"
	"strings"
	"time"

	"github.com/google/uuid"

	appLog "untisfeed/internal/log"
)

const defaultTimeout = 15 * time.Second

// Credentials is a username/password pair for an automated login.
type Credentials struct {
	Username string
	Password string
}

// LoginResult is what a scripted login hands back: the bearer token and
// the cookies captured from the browser once the redirect chain
// completed.
type LoginResult struct {
	BearerToken string
	Cookies     []*http.Cookie
}

// LoginAutomator drives an external, host-controlled browser login. It
// is injectable so tests can replace the real Chromium flow with a
// stub.
type LoginAutomator interface {
	Login(ctx context.Context, creds Credentials) (LoginResult, error)
}

// Options configures a Provider.
type Options struct {
	// Server is the API hostname, e.g. "peleus.webuntis.com".
	Server string
	// BaseURL overrides the derived "https://<server>/WebUntis" base.
	// Intended for tests.
	BaseURL string
	// School is the school identifier for the JSON-RPC login endpoints.
	School string

	// Token + Cookies select the pre-captured token variant.
	Token   string
	Cookies string

	// Credentials select an automated login: through Automator when it
	// is non-nil, otherwise through the JSON-RPC endpoint.
	Credentials Credentials
	Automator   LoginAutomator

	Timeout time.Duration
}

// Provider obtains an authenticated Session from whichever input
// variant it was configured with.
type Provider struct {
	baseURL   string
	school    string
	token     string
	cookies   string
	creds     Credentials
	automator LoginAutomator
	client    *http.Client
}

func NewProvider(opts Options) *Provider {
	base := opts.BaseURL
	if base == "" {
		base = "https://" + opts.Server + "/WebUntis"
	}
	timeout := opts.Timeout
	if timeout <= 0 {
		timeout = defaultTimeout
	}
	return &Provider{
		baseURL:   base,
		school:    opts.School,
		token:     opts.Token,
		cookies:   opts.Cookies,
		creds:     opts.Credentials,
		automator: opts.Automator,
		client:    &http.Client{Timeout: timeout},
	}
}

// Acquire obtains a Session. The variant is chosen in order: caller
// token, scripted browser login, JSON-RPC login. All failures wrap
// ErrAuth.
func (p *Provider) Acquire(ctx context.Context) (Session, error) {
	switch {
	case p.token != "":
		return FromToken(p.token, p.cookies)
	case p.automator != nil:
		return p.acquireBrowser(ctx)
	default:
		return p.acquireRPC(ctx)
	}
}

// CanReacquire reports whether a fresh session can be obtained after
// expiry. A caller-supplied token cannot be refreshed; credentials can
// simply log in again.
func (p *Provider) CanReacquire() bool {
	return p.token == "" && (p.automator != nil || p.creds.Username != "")
}

func (p *Provider) acquireBrowser(ctx context.Context) (Session, error) {
	res, err := p.automator.Login(ctx, p.creds)
	if err != nil {
		return Session{}, fmt.Errorf("%w: scripted login: %v", ErrAuth, err)
	}
	sess, err := FromToken(res.BearerToken, "")
	if err != nil {
		return Session{}, err
	}
	sess.Cookies = res.Cookies
	return sess, nil
}

// acquireRPC performs the JSON-RPC authenticate call and then fetches a
// bearer token from the token-refresh endpoint using the session cookie
// the login established.
func (p *Provider) acquireRPC(ctx context.Context) (Session, error) {
	jar, err := cookiejar.New(nil)
	if err != nil {
		return Session{}, fmt.Errorf("%w: cookie jar: %v", ErrAuth, err)
	}
	client := &http.Client{Timeout: p.client.Timeout, Jar: jar}

	if err := p.rpcAuthenticate(ctx, client); err != nil {
		return Session{}, err
	}

	token, err := p.fetchToken(ctx, client)
	if err != nil {
		return Session{}, err
	}

	sess, err := FromToken(token, "")
	if err != nil {
		return Session{}, err
	}

	if u, err := url.Parse(p.baseURL); err == nil {
		sess.Cookies = jar.Cookies(u)
	}
	return sess, nil
}

type rpcRequest struct {
	ID      string         `json:"id"`
	Method  string         `json:"method"`
	Params  map[string]any `json:"params"`
	JSONRPC string         `json:"jsonrpc"`
}

type rpcResponse struct {
	Result *rpcResult `json:"result"`
	Error  *rpcError  `json:"error"`
}

type rpcResult struct {
	SessionID string `json:"sessionId"`
	PersonID  int64  `json:"personId"`
}

type rpcError struct {
	Code    int    `json:"code"`
	Message string `json:"message"`
}

func (p *Provider) rpcAuthenticate(ctx context.Context, client *http.Client) error {
	payload := rpcRequest{
		ID:     uuid.NewString(),
		Method: "authenticate",
		Params: map[string]any{
			"user":     p.creds.Username,
			"password": p.creds.Password,
			"client":   "untisfeed",
		},
		JSONRPC: "2.0",
	}

	resp, err := p.postRPC(ctx, client, payload)
	if err != nil {
		return fmt.Errorf("%w: authenticate: %v", ErrAuth, err)
	}
	if resp.Error != nil {
		return fmt.Errorf("%w: authenticate: %s (code %d)", ErrAuth, resp.Error.Message, resp.Error.Code)
	}
	if resp.Result == nil || resp.Result.SessionID == "" {
		return fmt.Errorf("%w: authenticate: empty result", ErrAuth)
	}
	return nil
}

func (p *Provider) postRPC(ctx context.Context, client *http.Client, payload rpcRequest) (*rpcResponse, error) {
	body, err := json.Marshal(payload)
	if err != nil {
		return nil, err
	}

	endpoint := p.baseURL + "/jsonrpc.do?school=" + url.QueryEscape(p.school)
	req, err := http.NewRequestWithContext(ctx, http.MethodPost, endpoint, bytes.NewReader(body))
	if err != nil {
		return nil, err
	}
	req.Header.Set("Content-Type", "application/json")

	resp, err := client.Do(req)
	if err != nil {
		return nil, err
	}
	defer resp.Body.Close()

	if resp.StatusCode != http.StatusOK {
		return nil, fmt.Errorf("unexpected status %d", resp.StatusCode)
	}

	var out rpcResponse
	if err := json.NewDecoder(resp.Body).Decode(&out); err != nil {
		return nil, fmt.Errorf("decode response: %v", err)
	}
	return &out, nil
}

// fetchToken calls the token-refresh endpoint. The body is the raw JWT,
// possibly quoted.
func (p *Provider) fetchToken(ctx context.Context, client *http.Client) (string, error) {
	req, err := http.NewRequestWithContext(ctx, http.MethodGet, p.baseURL+"/api/token/new", nil)
	if err != nil {
		return "", fmt.Errorf("%w: token request: %v", ErrAuth, err)
	}

	resp, err := client.Do(req)
	if err != nil {
		return "", fmt.Errorf("%w: token request: %v", ErrAuth, err)
	}
	defer resp.Body.Close()

	if resp.StatusCode != http.StatusOK {
		return "", fmt.Errorf("%w: token endpoint returned status %d", ErrAuth, resp.StatusCode)
	}

	body, err := io.ReadAll(resp.Body)
	if err != nil {
		return "", fmt.Errorf("%w: read token: %v", ErrAuth, err)
	}
	return strings.Trim(strings.TrimSpace(string(body)), `"`), nil
}

// Logout invalidates the server-side session, best effort. Only useful
// after a credential login; a caller-supplied token is left alone.
func (p *Provider) Logout(ctx context.Context, sess Session) {
	if p.token != "" {
		return
	}

	payload := rpcRequest{
		ID:      uuid.NewString(),
		Method:  "logout",
		Params:  map[string]any{},
		JSONRPC: "2.0",
	}
	body, err := json.Marshal(payload)
	if err != nil {
		return
	}

	endpoint := p.baseURL + "/jsonrpc.do?school=" + url.QueryEscape(p.school)
	req, err := http.NewRequestWithContext(ctx, http.MethodPost, endpoint, bytes.NewReader(body))
	if err != nil {
		return
	}
	req.Header.Set("Content-Type", "application/json")
	for _, c := range sess.Cookies {
		req.AddCookie(c)
	}

	resp, err := p.client.Do(req)
	if err != nil {
		appLog.Warn("logout failed", "err", err)
		return
	}
	resp.Body.Close()
}
