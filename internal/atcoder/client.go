// Package atcoder fetches contest listings, standings and performance data.
package atcoder

import (
	"context"
	"errors"
	"fmt"
	"io"
	"log/slog"
	"math/rand/v2"
	"net/http"
	"net/http/cookiejar"
	"net/url"
	"regexp"
	"strings"
	"sync"
	"time"

	"github.com/codeGROOVE-dev/retry"
	"golang.org/x/net/html"
	"golang.org/x/time/rate"
)

const (
	// DefaultBaseURL is the AtCoder site root.
	DefaultBaseURL = "https://atcoder.jp"
	// DefaultPredictorURL hosts per-contest performance snapshots.
	DefaultPredictorURL = "https://raw.githubusercontent.com/key-moon/ac-predictor-data/refs/heads/master/results"

	defaultTimeout = 10 * time.Second
	maxBodySize    = 32 << 20

	maxRetryAttempts = 3
	retryDelay       = 500 * time.Millisecond
	maxRetryDelay    = 5 * time.Second
)

// DefaultUserAgents are rotated across contest page requests.
var DefaultUserAgents = []string{
	"Mozilla/5.0 (Windows NT 10.0; Win64; x64) AppleWebKit/537.36 (KHTML, like Gecko) Chrome/124.0.0.0 Safari/537.36",
	"Mozilla/5.0 (Windows NT 10.0; Win64; x64; rv:125.0) Gecko/20100101 Firefox/125.0",
	"Mozilla/5.0 (Macintosh; Intel Mac OS X 10_15_7) AppleWebKit/605.1.15 (KHTML, like Gecko) Version/17.4 Safari/605.1.15",
	"Mozilla/5.0 (Windows NT 10.0; Win64; x64) AppleWebKit/537.36 (KHTML, like Gecko) Chrome/124.0.0.0 Safari/537.36 Edg/124.0.0.0",
	"Mozilla/5.0 (X11; Linux x86_64) AppleWebKit/537.36 (KHTML, like Gecko) Chrome/124.0.0.0 Safari/537.36",
}

var (
	// ErrNotFound is matched by StatusError values for 404 responses.
	ErrNotFound = errors.New("not found")
	// ErrNoCredentials is returned by Login when no account is configured.
	ErrNoCredentials = errors.New("atcoder credentials not configured")
	// ErrLoginRejected means AtCoder sent the login form back.
	ErrLoginRejected = errors.New("atcoder login rejected")
)

// StatusError is a non-2xx HTTP response.
type StatusError struct {
	URL        string
	StatusCode int
}

func (e *StatusError) Error() string {
	return fmt.Sprintf("GET %s: unexpected status %d", e.URL, e.StatusCode)
}

// Is reports 404 responses as ErrNotFound.
func (e *StatusError) Is(target error) bool {
	return target == ErrNotFound && e.StatusCode == http.StatusNotFound
}

// Config holds client settings.
type Config struct {
	HTTPClient   *http.Client
	Logger       *slog.Logger
	BaseURL      string
	PredictorURL string
	Username     string
	Password     string
	UserAgents   []string
	Timeout      time.Duration
	// RequestsPerSecond limits requests to BaseURL. Zero means one per second.
	RequestsPerSecond float64
	Burst             int
}

// Client talks to atcoder.jp and the performance predictor mirror.
type Client struct {
	http         *http.Client
	limiter      *rate.Limiter
	logger       *slog.Logger
	baseURL      string
	predictorURL string
	username     string
	password     string
	userAgents   []string
	loginMu      sync.Mutex
	loggedIn     bool
}

// New creates a client with its own cookie jar.
func New(cfg Config) (*Client, error) {
	if cfg.Logger == nil {
		cfg.Logger = slog.Default()
	}
	if cfg.BaseURL == "" {
		cfg.BaseURL = DefaultBaseURL
	}
	if cfg.PredictorURL == "" {
		cfg.PredictorURL = DefaultPredictorURL
	}
	if len(cfg.UserAgents) == 0 {
		cfg.UserAgents = DefaultUserAgents
	}
	if cfg.Timeout <= 0 {
		cfg.Timeout = defaultTimeout
	}
	if cfg.RequestsPerSecond <= 0 {
		cfg.RequestsPerSecond = 1
	}
	if cfg.Burst <= 0 {
		cfg.Burst = 2
	}

	hc := cfg.HTTPClient
	if hc == nil {
		jar, err := cookiejar.New(nil)
		if err != nil {
			return nil, fmt.Errorf("create cookie jar: %w", err)
		}
		hc = &http.Client{Timeout: cfg.Timeout, Jar: jar}
	}

	return &Client{
		http:         hc,
		limiter:      rate.NewLimiter(rate.Limit(cfg.RequestsPerSecond), cfg.Burst),
		logger:       cfg.Logger,
		baseURL:      strings.TrimRight(cfg.BaseURL, "/"),
		predictorURL: strings.TrimRight(cfg.PredictorURL, "/"),
		username:     cfg.Username,
		password:     cfg.Password,
		userAgents:   cfg.UserAgents,
	}, nil
}

func (c *Client) userAgent() string {
	return c.userAgents[rand.IntN(len(c.userAgents))]
}

// get fetches url with retries. Requests to the AtCoder host share the rate limiter.
func (c *Client) get(ctx context.Context, rawURL string) ([]byte, error) {
	var body []byte
	err := retry.Do(
		func() error {
			var err error
			body, err = c.fetch(ctx, http.MethodGet, rawURL, nil)
			return err
		},
		retry.Context(ctx),
		retry.Attempts(maxRetryAttempts),
		retry.Delay(retryDelay),
		retry.MaxDelay(maxRetryDelay),
		retry.DelayType(retry.BackOffDelay),
		retry.LastErrorOnly(true),
		retry.OnRetry(func(n uint, err error) {
			c.logger.Warn("atcoder request failed, retrying",
				"url", rawURL,
				"attempt", n+1,
				"max_attempts", maxRetryAttempts,
				"error", err)
		}),
		retry.RetryIf(retryable),
	)
	if err != nil {
		return nil, err
	}
	return body, nil
}

func retryable(err error) bool {
	var se *StatusError
	if errors.As(err, &se) {
		return se.StatusCode >= 500 || se.StatusCode == http.StatusTooManyRequests
	}
	return !errors.Is(err, context.Canceled) && !errors.Is(err, context.DeadlineExceeded)
}

func (c *Client) fetch(ctx context.Context, method, rawURL string, form url.Values) ([]byte, error) {
	if strings.HasPrefix(rawURL, c.baseURL) {
		if err := c.limiter.Wait(ctx); err != nil {
			return nil, err
		}
	}

	var reqBody io.Reader
	if form != nil {
		reqBody = strings.NewReader(form.Encode())
	}
	req, err := http.NewRequestWithContext(ctx, method, rawURL, reqBody)
	if err != nil {
		return nil, fmt.Errorf("create request: %w", err)
	}
	req.Header.Set("User-Agent", c.userAgent())
	if form != nil {
		req.Header.Set("Content-Type", "application/x-www-form-urlencoded")
	}

	resp, err := c.http.Do(req)
	if err != nil {
		return nil, fmt.Errorf("%s %s: %w", method, rawURL, err)
	}
	defer resp.Body.Close() //nolint:errcheck // read-only body

	if resp.StatusCode < 200 || resp.StatusCode >= 300 {
		_, _ = io.Copy(io.Discard, io.LimitReader(resp.Body, maxBodySize)) //nolint:errcheck // drain for reuse
		return nil, &StatusError{URL: rawURL, StatusCode: resp.StatusCode}
	}

	body, err := io.ReadAll(io.LimitReader(resp.Body, maxBodySize))
	if err != nil {
		return nil, fmt.Errorf("read %s: %w", rawURL, err)
	}

	if form != nil && resp.Request != nil && resp.Request.URL.Path == "/login" {
		return nil, ErrLoginRejected
	}
	return body, nil
}

var revelCSRF = regexp.MustCompile(`csrf_token:(.*?)_TS`)

// Login authenticates the session. Standings of running and some finished
// contests are only visible to logged-in users.
func (c *Client) Login(ctx context.Context) error {
	c.loginMu.Lock()
	defer c.loginMu.Unlock()
	return c.login(ctx)
}

func (c *Client) login(ctx context.Context) error {
	if c.username == "" || c.password == "" {
		return ErrNoCredentials
	}

	loginURL := c.baseURL + "/login"
	page, err := c.get(ctx, loginURL)
	if err != nil {
		return fmt.Errorf("fetch login page: %w", err)
	}

	token := csrfToken(page)
	if token == "" {
		token = c.csrfFromCookie(loginURL)
	}
	if token == "" {
		return errors.New("csrf token not found on login page")
	}

	form := url.Values{
		"username":   {c.username},
		"password":   {c.password},
		"csrf_token": {token},
	}
	if _, err := c.fetch(ctx, http.MethodPost, loginURL, form); err != nil {
		return fmt.Errorf("submit login: %w", err)
	}

	c.loggedIn = true
	c.logger.Info("logged in to atcoder", "username", c.username)
	return nil
}

// ensureLogin logs in once when credentials are configured.
func (c *Client) ensureLogin(ctx context.Context) error {
	c.loginMu.Lock()
	defer c.loginMu.Unlock()
	if c.loggedIn || c.username == "" {
		return nil
	}
	return c.login(ctx)
}

func (c *Client) csrfFromCookie(rawURL string) string {
	if c.http.Jar == nil {
		return ""
	}
	u, err := url.Parse(rawURL)
	if err != nil {
		return ""
	}
	for _, ck := range c.http.Jar.Cookies(u) {
		if ck.Name != "REVEL_SESSION" {
			continue
		}
		v, err := url.QueryUnescape(ck.Value)
		if err != nil {
			return ""
		}
		if m := revelCSRF.FindStringSubmatch(v); m != nil {
			return strings.ReplaceAll(m[1], "\x00", "")
		}
	}
	return ""
}

// csrfToken extracts the hidden csrf_token input from a form page.
func csrfToken(page []byte) string {
	doc, err := html.Parse(strings.NewReader(string(page)))
	if err != nil {
		return ""
	}
	var token string
	walk(doc, func(n *html.Node) bool {
		if n.Type == html.ElementNode && n.Data == "input" && attr(n, "name") == "csrf_token" {
			token = attr(n, "value")
			return false
		}
		return true
	})
	return token
}
