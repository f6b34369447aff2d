// Package vision adapts a remote recognition service to the decoder and text
// recogniser used by the recognition coordinator.
//
//	POST /decode {image, rotation} -> {payloads: [...]}
//	POST /ocr    {image, rotation} -> {text}
//
// Images travel base64 encoded inside the JSON body.
package vision

import (
	"context"
	"errors"
	"fmt"
	"net/http"
	"strings"
	"sync/atomic"
	"time"

	"github.com/go-resty/resty/v2"
	"github.com/sirupsen/logrus"

	"github.com/tomasbasham/card-scan/internal/capture"
)

const defaultTimeout = 15 * time.Second

// ErrClosed is returned by calls made after Close.
var ErrClosed = errors.New("vision: client is closed")

type imageRequest struct {
	Image    []byte `json:"image"`
	Rotation int    `json:"rotation"`
}

type decodeResponse struct {
	Payloads []string `json:"payloads"`
}

type ocrResponse struct {
	Text string `json:"text"`
}

type errorResponse struct {
	Error string `json:"error"`
}

// Options configures a Client.
type Options struct {
	BaseURL    string
	Timeout    time.Duration
	APIKey     string
	HTTPClient *http.Client
	Logger     *logrus.Entry
}

// Client calls the vision service. The same Client may serve as both the
// decoder and the text recogniser; Close is then called twice and only the
// first call does anything.
type Client struct {
	rc     *resty.Client
	log    *logrus.Entry
	closed atomic.Bool
}

func New(opts Options) (*Client, error) {
	if strings.TrimSpace(opts.BaseURL) == "" {
		return nil, fmt.Errorf("vision: base URL must not be empty")
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
	if opts.APIKey != "" {
		rc.SetAuthToken(opts.APIKey)
	}

	return &Client{rc: rc, log: log.WithField("component", "vision")}, nil
}

// Decode returns the structured-code payloads found on frame, in the order
// the service reports them.
func (c *Client) Decode(ctx context.Context, frame *capture.Frame) ([]string, error) {
	var out decodeResponse
	if err := c.post(ctx, "/decode", frame, &out); err != nil {
		return nil, err
	}
	payloads := out.Payloads[:0]
	for _, p := range out.Payloads {
		if p != "" {
			payloads = append(payloads, p)
		}
	}
	return payloads, nil
}

// RecognizeText returns all text found on frame.
func (c *Client) RecognizeText(ctx context.Context, frame *capture.Frame) (string, error) {
	var out ocrResponse
	if err := c.post(ctx, "/ocr", frame, &out); err != nil {
		return "", err
	}
	return out.Text, nil
}

// Close stops the client from issuing further calls and releases idle
// connections.
func (c *Client) Close() error {
	if c.closed.CompareAndSwap(false, true) {
		c.rc.GetClient().CloseIdleConnections()
	}
	return nil
}

func (c *Client) post(ctx context.Context, path string, frame *capture.Frame, result any) error {
	if c.closed.Load() {
		return ErrClosed
	}
	if frame == nil || len(frame.Data) == 0 {
		return fmt.Errorf("vision: %s: frame has no image data", path)
	}

	start := time.Now()
	resp, err := c.rc.R().
		SetContext(ctx).
		SetBody(imageRequest{Image: frame.Data, Rotation: frame.Rotation}).
		SetResult(result).
		SetError(&errorResponse{}).
		Post(path)
	if err != nil {
		return fmt.Errorf("vision: %s: %w", path, err)
	}

	log := c.log.WithFields(logrus.Fields{
		"path":     path,
		"status":   resp.StatusCode(),
		"duration": time.Since(start),
	})
	if resp.IsError() {
		msg := http.StatusText(resp.StatusCode())
		if e, ok := resp.Error().(*errorResponse); ok && e.Error != "" {
			msg = e.Error
		}
		log.Warn("vision request rejected")
		return fmt.Errorf("vision: %s: status %d: %s", path, resp.StatusCode(), msg)
	}
	log.Debug("vision request completed")
	return nil
}
