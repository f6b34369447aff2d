package capture

import (
	"context"
	"errors"
	"fmt"
	"sync"
	"time"

	"github.com/chromedp/cdproto/page"
	"github.com/chromedp/chromedp"
	"github.com/sirupsen/logrus"
)

const lifecycleNetworkIdle = "networkIdle"

// BrowserOptions configures a BrowserSource.
type BrowserOptions struct {
	// SnapshotURL is the page showing the current camera image, e.g. the
	// /shot.jpg endpoint of an IP-camera app. Required.
	SnapshotURL string

	// TorchOnURL and TorchOffURL are loaded to switch the camera light. When
	// either is empty SetTorch returns ErrTorchUnsupported.
	TorchOnURL  string
	TorchOffURL string

	// NavigationTimeout bounds loading the snapshot page. A timeout here is
	// not fatal; whatever rendered is still captured. Defaults to 10 seconds.
	NavigationTimeout time.Duration

	// IdleTimeout is how long to wait for networkIdle after navigation before
	// taking the screenshot anyway. Defaults to 5 seconds.
	IdleTimeout time.Duration

	// Rotation is reported on every frame; set it to match how the camera is
	// mounted.
	Rotation int

	// ViewportWidth and ViewportHeight set the browser viewport dimensions.
	// Defaults to 1280x720 if either is zero.
	ViewportWidth  int64
	ViewportHeight int64
}

// BrowserSource captures frames by screenshotting a camera snapshot page in
// headless Chrome. The browser is started once in NewBrowserSource and shut
// down by Close; each Acquire runs in its own tab.
type BrowserSource struct {
	opts BrowserOptions
	log  *logrus.Entry

	browserCtx    context.Context
	cancelBrowser context.CancelFunc
	cancelAlloc   context.CancelFunc

	// mu serialises tab usage; a camera produces one shot at a time.
	mu        sync.Mutex
	closed    bool
	closeOnce sync.Once
}

// NewBrowserSource starts headless Chrome and returns a source bound to it.
func NewBrowserSource(ctx context.Context, opts BrowserOptions, log *logrus.Entry) (*BrowserSource, error) {
	if opts.SnapshotURL == "" {
		return nil, fmt.Errorf("capture: snapshot URL must not be empty")
	}
	if opts.NavigationTimeout == 0 {
		opts.NavigationTimeout = 10 * time.Second
	}
	if opts.IdleTimeout == 0 {
		opts.IdleTimeout = 5 * time.Second
	}
	if opts.ViewportWidth == 0 || opts.ViewportHeight == 0 {
		opts.ViewportWidth = 1280
		opts.ViewportHeight = 720
	}
	if log == nil {
		log = logrus.NewEntry(logrus.StandardLogger())
	}
	log = log.WithField("source", "browser")

	// The browser outlives the ctx passed here; only Close stops it.
	allocCtx, cancelAlloc := chromedp.NewExecAllocator(context.WithoutCancel(ctx),
		append(
			chromedp.DefaultExecAllocatorOptions[:],
			chromedp.Flag("headless", true),
		)...,
	)

	// chromedp reports CDP events it cannot unmarshal through these funcs;
	// they come from version skew between Chrome and cdproto and are routed to
	// debug level.
	browserCtx, cancelBrowser := chromedp.NewContext(allocCtx,
		chromedp.WithLogf(log.Debugf),
		chromedp.WithErrorf(log.Debugf),
		chromedp.WithDebugf(func(string, ...any) {}),
	)

	// Running no actions launches the browser process.
	if err := chromedp.Run(browserCtx); err != nil {
		cancelBrowser()
		cancelAlloc()
		return nil, fmt.Errorf("capture: failed to start browser: %w", err)
	}

	return &BrowserSource{
		opts:          opts,
		log:           log,
		browserCtx:    browserCtx,
		cancelBrowser: cancelBrowser,
		cancelAlloc:   cancelAlloc,
	}, nil
}

// Acquire opens a tab on the snapshot URL, waits for the page to settle and
// returns a PNG screenshot of it.
func (s *BrowserSource) Acquire(ctx context.Context) (*Frame, error) {
	s.mu.Lock()
	defer s.mu.Unlock()

	if s.closed {
		return nil, ErrClosed
	}

	tabCtx, cancelTab := chromedp.NewContext(s.browserCtx)
	defer cancelTab()

	// The caller's ctx cannot parent the tab (it must be a child of the
	// browser context), so propagate its cancellation by hand.
	stop := context.AfterFunc(ctx, cancelTab)
	defer stop()

	idle := newOnceCloser()
	chromedp.ListenTarget(tabCtx, func(ev any) {
		if ev, ok := ev.(*page.EventLifecycleEvent); ok && ev.Name == lifecycleNetworkIdle {
			idle.close()
		}
	})

	navCtx, cancelNav := context.WithTimeout(tabCtx, s.opts.NavigationTimeout)
	defer cancelNav()

	if err := chromedp.Run(navCtx,
		chromedp.EmulateViewport(s.opts.ViewportWidth, s.opts.ViewportHeight),
		chromedp.Navigate(s.opts.SnapshotURL),
	); err != nil {
		if ctx.Err() != nil {
			return nil, ctx.Err()
		}
		if !isTimeoutError(err) {
			return nil, fmt.Errorf("%w: navigation failed: %w", ErrUnavailable, err)
		}
		s.log.Debug("snapshot navigation timed out; capturing partial page")
	}

	select {
	case <-idle.ch:
	case <-time.After(s.opts.IdleTimeout):
		s.log.Debug("snapshot page did not reach networkIdle")
	case <-ctx.Done():
		return nil, ctx.Err()
	}

	var buf []byte
	if err := chromedp.Run(tabCtx, chromedp.CaptureScreenshot(&buf)); err != nil {
		return nil, fmt.Errorf("%w: screenshot failed: %w", ErrUnavailable, err)
	}

	return NewFrame(buf, s.opts.Rotation, s.opts.SnapshotURL, nil), nil
}

// SetTorch loads the configured torch URL for on.
func (s *BrowserSource) SetTorch(ctx context.Context, on bool) error {
	target := s.opts.TorchOffURL
	if on {
		target = s.opts.TorchOnURL
	}
	if s.opts.TorchOnURL == "" || s.opts.TorchOffURL == "" {
		return ErrTorchUnsupported
	}

	s.mu.Lock()
	defer s.mu.Unlock()

	if s.closed {
		return ErrClosed
	}

	tabCtx, cancelTab := chromedp.NewContext(s.browserCtx)
	defer cancelTab()
	stop := context.AfterFunc(ctx, cancelTab)
	defer stop()

	navCtx, cancelNav := context.WithTimeout(tabCtx, s.opts.NavigationTimeout)
	defer cancelNav()

	if err := chromedp.Run(navCtx, chromedp.Navigate(target)); err != nil {
		return fmt.Errorf("capture: torch request failed: %w", err)
	}
	return nil
}

// Close shuts down the browser. Safe to call more than once.
func (s *BrowserSource) Close() error {
	s.closeOnce.Do(func() {
		s.mu.Lock()
		s.closed = true
		s.mu.Unlock()

		s.cancelBrowser()
		s.cancelAlloc()
	})
	return nil
}

// isTimeoutError reports whether err stems from a context deadline or
// cancellation. Used to distinguish a navigation timeout (graceful) from a
// hard failure such as a DNS error.
func isTimeoutError(err error) bool {
	return errors.Is(err, context.DeadlineExceeded) || errors.Is(err, context.Canceled)
}

// onceCloser closes a channel at most once, guarding against networkIdle
// firing more than once.
type onceCloser struct {
	ch   chan struct{}
	once sync.Once
}

func newOnceCloser() *onceCloser {
	return &onceCloser{ch: make(chan struct{})}
}

func (o *onceCloser) close() {
	o.once.Do(func() { close(o.ch) })
}
