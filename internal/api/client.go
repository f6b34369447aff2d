// Package api is the client for the remote card catalog and inventory
// service. Requests carry the bearer token supplied by a TokenSource; the
// anonymous authentication endpoint is the only unauthenticated call.
package api

import (
	"context"
	"fmt"
	"net/http"
	"strings"
	"time"

	"github.com/go-resty/resty/v2"
	"github.com/sirupsen/logrus"

	"github.com/tomasbasham/card-scan/internal/card"
)

const (
	pathAuthAnonymous = "/auth/anonymous"
	pathScan          = "/cards/scan"
	pathScanBulk      = "/cards/scan/bulk"
	pathInventory     = "/inventory"
	pathCard          = "/cards"

	defaultTimeout = 30 * time.Second
)

// TokenSource supplies the bearer credential for API calls.
type TokenSource interface {
	Token(ctx context.Context) (string, error)

	// Invalidate drops token after the server rejected it. A source that
	// has since moved on to a different token keeps it.
	Invalidate(token string)
}

// Options configures a Client.
type Options struct {
	// BaseURL is the API root, e.g. https://cards.example.com/api. Required.
	BaseURL string

	// Timeout bounds each request. Defaults to 30 seconds.
	Timeout time.Duration

	// RetryCount is the number of retries after a transport failure. The
	// default of zero performs no retries.
	RetryCount       int
	RetryWaitTime    time.Duration
	RetryMaxWaitTime time.Duration

	// UserAgent is sent on every request when set.
	UserAgent string

	// HTTPClient replaces the underlying client, e.g. for tests.
	HTTPClient *http.Client

	Logger *logrus.Entry
}

// Client talks to the remote API.
type Client struct {
	rc     *resty.Client
	tokens TokenSource
	log    *logrus.Entry
}

// New creates a Client. Call UseTokenSource before making authenticated
// calls.
func New(opts Options) (*Client, error) {
	if strings.TrimSpace(opts.BaseURL) == "" {
		return nil, fmt.Errorf("api: base URL must not be empty")
	}
	if opts.Timeout == 0 {
		opts.Timeout = defaultTimeout
	}
	log := opts.Logger
	if log == nil {
		log = logrus.NewEntry(logrus.StandardLogger())
	}

	var rc *resty.Client
	if opts.HTTPClient != nil {
		rc = resty.NewWithClient(opts.HTTPClient)
	} else {
		rc = resty.New()
	}
	rc.SetBaseURL(strings.TrimRight(opts.BaseURL, "/")).
		SetTimeout(opts.Timeout).
		SetHeader("Accept", "application/json")

	if opts.UserAgent != "" {
		rc.SetHeader("User-Agent", opts.UserAgent)
	}
	if opts.RetryCount > 0 {
		rc.SetRetryCount(opts.RetryCount)
		if opts.RetryWaitTime > 0 {
			rc.SetRetryWaitTime(opts.RetryWaitTime)
		}
		if opts.RetryMaxWaitTime > 0 {
			rc.SetRetryMaxWaitTime(opts.RetryMaxWaitTime)
		}
	}

	return &Client{rc: rc, log: log.WithField("component", "api")}, nil
}

// UseTokenSource sets where bearer tokens come from.
func (c *Client) UseTokenSource(ts TokenSource) {
	c.tokens = ts
}

// Authenticate registers or looks up the anonymous user for deviceID.
func (c *Client) Authenticate(ctx context.Context, deviceID string) (*AuthResponse, error) {
	var out AuthResponse
	req := c.request(ctx).SetBody(authRequest{DeviceID: deviceID}).SetResult(&out)
	if err := c.do(req, http.MethodPost, pathAuthAnonymous); err != nil {
		return nil, err
	}
	if out.Token == "" {
		return nil, fmt.Errorf("api: authentication response carried no token")
	}
	return &out, nil
}

// Scan resolves a single card.
func (c *Client) Scan(ctx context.Context, sr ScanRequest) (*ScanResponse, error) {
	req, err := c.authorized(ctx)
	if err != nil {
		return nil, err
	}
	var out ScanResponse
	req.SetBody(sr).SetResult(&out)
	if err := c.do(req, http.MethodPost, pathScan); err != nil {
		return nil, err
	}
	return &out, nil
}

// ScanBulk resolves a batch of cards in one request.
func (c *Client) ScanBulk(ctx context.Context, br BulkScanRequest) (*BulkScanResponse, error) {
	req, err := c.authorized(ctx)
	if err != nil {
		return nil, err
	}
	var out BulkScanResponse
	req.SetBody(br).SetResult(&out)
	if err := c.do(req, http.MethodPost, pathScanBulk); err != nil {
		return nil, err
	}
	return &out, nil
}

// Inventory lists the authenticated user's cards.
func (c *Client) Inventory(ctx context.Context) (*InventoryResponse, error) {
	req, err := c.authorized(ctx)
	if err != nil {
		return nil, err
	}
	var out InventoryResponse
	req.SetResult(&out)
	if err := c.do(req, http.MethodGet, pathInventory); err != nil {
		return nil, err
	}
	return &out, nil
}

// Card fetches one catalog entry by id.
func (c *Client) Card(ctx context.Context, id string) (*card.Card, error) {
	req, err := c.authorized(ctx)
	if err != nil {
		return nil, err
	}
	var out card.Card
	req.SetQueryParam("id", id).SetResult(&out)
	if err := c.do(req, http.MethodGet, pathCard); err != nil {
		return nil, err
	}
	return &out, nil
}

func (c *Client) request(ctx context.Context) *resty.Request {
	return c.rc.R().
		SetContext(ctx).
		SetError(&errorResponse{}).
		ForceContentType("application/json")
}

func (c *Client) authorized(ctx context.Context) (*resty.Request, error) {
	if c.tokens == nil {
		return nil, fmt.Errorf("api: no token source configured")
	}
	token, err := c.tokens.Token(ctx)
	if err != nil {
		return nil, fmt.Errorf("api: failed to obtain token: %w", err)
	}
	return c.request(ctx).SetAuthToken(token), nil
}

// do executes req and maps failures onto TransportError or StatusError.
func (c *Client) do(req *resty.Request, method, path string) error {
	start := time.Now()
	resp, err := req.Execute(method, path)
	if err != nil {
		c.log.WithError(err).WithFields(logrus.Fields{"method": method, "path": path}).Warn("request failed")
		return &TransportError{Method: method, Path: path, Err: err}
	}

	c.log.WithFields(logrus.Fields{
		"method":   method,
		"path":     path,
		"status":   resp.StatusCode(),
		"duration": time.Since(start),
	}).Debug("request completed")

	if resp.IsSuccess() {
		return nil
	}
	if resp.StatusCode() == http.StatusUnauthorized && c.tokens != nil && req.Token != "" {
		c.tokens.Invalidate(req.Token)
	}

	se := &StatusError{Method: method, Path: path, StatusCode: resp.StatusCode()}
	if e, ok := resp.Error().(*errorResponse); ok && e != nil {
		se.Message = e.Error
		if se.Message == "" {
			se.Message = e.Message
		}
	}
	return se
}
