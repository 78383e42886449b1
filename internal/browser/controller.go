package browser

import (
	"context"
	"encoding/json"
	"errors"
	"fmt"
	"strconv"
	"strings"
	"sync"
	"time"

	"github.com/chromedp/cdproto/cdp"
	"github.com/chromedp/cdproto/page"
	"github.com/chromedp/chromedp"
	"go.uber.org/zap"
)

// ErrSessionClosed marks calls made after the browser tab went away.
var ErrSessionClosed = errors.New("browser session closed")

// Chrome is a chromedp-backed Session. It either owns the browser process
// (LaunchChrome) or is attached to one started elsewhere (AttachChrome).
type Chrome struct {
	allocCtx    context.Context
	allocCancel context.CancelFunc
	ctx         context.Context
	cancel      context.CancelFunc
	mu          sync.Mutex
	reused      bool
	released    bool
	log         *zap.Logger
}

// LaunchChrome starts a fresh, isolated browser owned by the returned session.
func LaunchChrome(ctx context.Context, opts Options, log *zap.Logger) (*Chrome, error) {
	opts = opts.withDefaults()

	allocOpts := append(chromedp.DefaultExecAllocatorOptions[:],
		chromedp.Flag("headless", opts.Headless),
		chromedp.Flag("enable-automation", false),
		chromedp.Flag("disable-blink-features", "AutomationControlled"),
		chromedp.Flag("disable-dev-shm-usage", true),
		chromedp.Flag("no-sandbox", true),
		chromedp.WindowSize(opts.Width, opts.Height),
		chromedp.UserAgent(opts.UserAgent),
	)
	if opts.RemoteDebuggingPort > 0 {
		allocOpts = append(allocOpts, chromedp.Flag("remote-debugging-port", strconv.Itoa(opts.RemoteDebuggingPort)))
	}
	if opts.UserDataDir != "" {
		allocOpts = append(allocOpts, chromedp.UserDataDir(opts.UserDataDir))
	}

	allocCtx, allocCancel := chromedp.NewExecAllocator(context.Background(), allocOpts...)
	tabCtx, tabCancel := chromedp.NewContext(allocCtx, chromedp.WithLogf(log.Sugar().Debugf))

	c := &Chrome{
		allocCtx:    allocCtx,
		allocCancel: allocCancel,
		ctx:         tabCtx,
		cancel:      tabCancel,
		log:         log,
	}

	// The first Run allocates the browser, so it must use the tab context
	// itself rather than a derived one.
	if err := c.start(ctx); err != nil {
		tabCancel()
		allocCancel()
		return nil, fmt.Errorf("failed to launch browser: %w", err)
	}

	log.Info("launched browser", zap.Bool("headless", opts.Headless), zap.Int("debug_port", opts.RemoteDebuggingPort))
	return c, nil
}

// releaseTimeout bounds browser shutdown when the caller sets no deadline.
const releaseTimeout = 5 * time.Second

// AttachChrome connects to a browser listening on opts.DebuggerAddress and
// opens a tab of its own in the default browser context, so it shares the
// cookies of the prepared page. The prepared tab is never attached to:
// releasing the session closes only the tab opened here.
func AttachChrome(ctx context.Context, opts Options, log *zap.Logger) (*Chrome, error) {
	if opts.DebuggerAddress == "" {
		return nil, ErrNoDebugTarget
	}

	wsURL, err := browserWebSocketURL(ctx, opts.DebuggerAddress)
	if err != nil {
		return nil, err
	}
	targets, err := listTargets(ctx, opts.DebuggerAddress)
	if err != nil {
		return nil, err
	}
	parked, err := pickPageTarget(targets)
	if err != nil {
		return nil, err
	}

	allocCtx, allocCancel := chromedp.NewRemoteAllocator(context.Background(), wsURL, chromedp.NoModifyURL)
	tabCtx, tabCancel := chromedp.NewContext(allocCtx, chromedp.WithLogf(log.Sugar().Debugf))

	c := &Chrome{
		allocCtx:    allocCtx,
		allocCancel: allocCancel,
		ctx:         tabCtx,
		cancel:      tabCancel,
		reused:      true,
		log:         log,
	}

	if err := c.start(ctx); err != nil {
		tabCancel()
		allocCancel()
		return nil, fmt.Errorf("failed to attach to %s: %w", opts.DebuggerAddress, err)
	}

	log.Info("attached to existing browser",
		zap.String("address", opts.DebuggerAddress),
		zap.String("prepared_tab", parked.ID),
		zap.String("prepared_url", parked.URL),
	)
	return c, nil
}

func (c *Chrome) start(ctx context.Context) error {
	done := make(chan error, 1)
	go func() {
		done <- chromedp.Run(c.ctx, chromedp.ActionFunc(func(ctx context.Context) error {
			_, err := page.AddScriptToEvaluateOnNewDocument(stealthScript).Do(ctx)
			return err
		}), chromedp.Evaluate(stealthScript, nil))
	}()

	select {
	case err := <-done:
		return err
	case <-ctx.Done():
		return ctx.Err()
	}
}

// newContext derives a call context from the tab context that also ends when
// the caller's context does.
func (c *Chrome) newContext(parent context.Context) (context.Context, context.CancelFunc) {
	ctx, cancel := context.WithCancel(c.ctx)
	if deadline, ok := parent.Deadline(); ok {
		var cancelDeadline context.CancelFunc
		ctx, cancelDeadline = context.WithDeadline(ctx, deadline)
		inner := cancel
		cancel = func() {
			cancelDeadline()
			inner()
		}
	}
	stop := context.AfterFunc(parent, cancel)
	return ctx, func() {
		stop()
		cancel()
	}
}

func (c *Chrome) run(ctx context.Context, actions ...chromedp.Action) error {
	c.mu.Lock()
	released := c.released
	c.mu.Unlock()
	if released {
		return ErrSessionClosed
	}

	rctx, cancel := c.newContext(ctx)
	defer cancel()

	err := chromedp.Run(rctx, actions...)
	if err == nil {
		return nil
	}
	// The caller is still live but the tab context is gone: the renderer or
	// the connection died underneath us.
	if ctx.Err() == nil && c.ctx.Err() != nil {
		return fmt.Errorf("%w: %v", ErrSessionClosed, err)
	}
	return err
}

func (c *Chrome) Reused() bool { return c.reused }

func (c *Chrome) Navigate(ctx context.Context, url string) error {
	err := c.run(ctx,
		chromedp.Navigate(url),
		chromedp.WaitReady("body", chromedp.ByQuery),
	)
	if err != nil {
		return fmt.Errorf("navigation failed: %w", err)
	}
	return nil
}

func (c *Chrome) CurrentLocation(ctx context.Context) (string, error) {
	var url string
	if err := c.run(ctx, chromedp.Location(&url)); err != nil {
		return "", fmt.Errorf("failed to get current URL: %w", err)
	}
	return url, nil
}

func (c *Chrome) Query(ctx context.Context, selector string) ([]Element, error) {
	var nodes []*cdp.Node
	err := c.run(ctx, chromedp.Nodes(selector, &nodes, chromedp.ByQueryAll, chromedp.AtLeast(0)))
	if err != nil {
		return nil, fmt.Errorf("query %q failed: %w", selector, err)
	}

	elements := make([]Element, 0, len(nodes))
	for _, n := range nodes {
		elements = append(elements, &chromeElement{c: c, node: n})
	}
	return elements, nil
}

func (c *Chrome) ExecuteScript(ctx context.Context, fn string, args ...any) (any, error) {
	encoded := make([]string, 0, len(args))
	for _, a := range args {
		b, err := json.Marshal(a)
		if err != nil {
			return nil, fmt.Errorf("encode script argument: %w", err)
		}
		encoded = append(encoded, string(b))
	}

	expr := fmt.Sprintf(`(() => { const __r = (%s)(%s); return { v: __r === undefined ? null : __r }; })()`,
		fn, strings.Join(encoded, ", "))

	var wrapped struct {
		V any `json:"v"`
	}
	if err := c.run(ctx, chromedp.Evaluate(expr, &wrapped)); err != nil {
		return nil, fmt.Errorf("execute script failed: %w", err)
	}
	return wrapped.V, nil
}

func (c *Chrome) Screenshot(ctx context.Context) ([]byte, error) {
	var buf []byte
	if err := c.run(ctx, chromedp.CaptureScreenshot(&buf)); err != nil {
		return nil, fmt.Errorf("failed to capture screenshot: %w", err)
	}
	return buf, nil
}

// Release closes an owned browser, or for an attached one closes only the
// tab AttachChrome opened. It returns once ctx ends even if the browser has
// not finished shutting down.
func (c *Chrome) Release(ctx context.Context) error {
	c.mu.Lock()
	if c.released {
		c.mu.Unlock()
		return nil
	}
	c.released = true
	c.mu.Unlock()

	tctx, tcancel := context.WithTimeout(c.ctx, releaseWindow(ctx, releaseTimeout))
	done := make(chan error, 1)
	go func() {
		defer tcancel()
		// Cancel sends Browser.close only for a launched browser; an attached
		// context is never the first one, so there it just closes our tab.
		err := chromedp.Cancel(tctx)
		c.cancel()
		c.allocCancel()
		done <- err
	}()

	select {
	case err := <-done:
		if c.reused {
			c.log.Info("detached from browser")
		} else {
			c.log.Info("closed browser")
		}
		return err
	case <-ctx.Done():
		c.log.Warn("browser shutdown still in progress", zap.Bool("reused", c.reused), zap.Error(ctx.Err()))
		return ctx.Err()
	}
}

// releaseWindow is how long shutdown may take: fallback, or less if ctx has
// an earlier deadline.
func releaseWindow(ctx context.Context, fallback time.Duration) time.Duration {
	deadline, ok := ctx.Deadline()
	if !ok {
		return fallback
	}
	if d := time.Until(deadline); d < fallback {
		if d < 0 {
			return 0
		}
		return d
	}
	return fallback
}
