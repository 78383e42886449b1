package browser

import (
	"context"
	"encoding/json"
	"fmt"
	"sync"
	"time"

	"github.com/playwright-community/playwright-go"
	"go.uber.org/zap"
)

// Playwright is the playwright-go backed Session, selected with driver:
// playwright. Playwright calls are not context aware, so each one runs on its
// own goroutine and the caller stops waiting when ctx ends.
type Playwright struct {
	pw       *playwright.Playwright
	browser  playwright.Browser
	context  playwright.BrowserContext
	page     playwright.Page
	reused   bool
	mu       sync.Mutex
	released bool
	log      *zap.Logger
}

// LaunchPlaywright starts an isolated Chromium owned by the session.
func LaunchPlaywright(ctx context.Context, opts Options, log *zap.Logger) (*Playwright, error) {
	opts = opts.withDefaults()

	pw, err := playwright.Run()
	if err != nil {
		return nil, fmt.Errorf("start playwright: %w", err)
	}

	args := []string{"--disable-blink-features=AutomationControlled", "--disable-dev-shm-usage", "--no-sandbox"}
	if opts.RemoteDebuggingPort > 0 {
		args = append(args, fmt.Sprintf("--remote-debugging-port=%d", opts.RemoteDebuggingPort))
	}

	browser, err := pw.Chromium.Launch(playwright.BrowserTypeLaunchOptions{
		Headless:          playwright.Bool(opts.Headless),
		Args:              args,
		IgnoreDefaultArgs: []string{"--enable-automation"},
	})
	if err != nil {
		pw.Stop()
		return nil, fmt.Errorf("launch browser: %w", err)
	}

	bctx, err := browser.NewContext(playwright.BrowserNewContextOptions{
		UserAgent: playwright.String(opts.UserAgent),
		Viewport:  &playwright.Size{Width: opts.Width, Height: opts.Height},
	})
	if err != nil {
		browser.Close()
		pw.Stop()
		return nil, fmt.Errorf("create context: %w", err)
	}
	if err := bctx.AddInitScript(playwright.Script{Content: playwright.String(stealthScript)}); err != nil {
		browser.Close()
		pw.Stop()
		return nil, fmt.Errorf("install init script: %w", err)
	}

	page, err := bctx.NewPage()
	if err != nil {
		bctx.Close()
		browser.Close()
		pw.Stop()
		return nil, fmt.Errorf("create page: %w", err)
	}

	log.Info("launched browser", zap.String("driver", "playwright"), zap.Bool("headless", opts.Headless))
	return &Playwright{pw: pw, browser: browser, context: bctx, page: page, log: log}, nil
}

// ConnectPlaywright attaches over CDP to a browser started elsewhere and
// adopts its first open page.
func ConnectPlaywright(ctx context.Context, opts Options, log *zap.Logger) (*Playwright, error) {
	wsURL, err := browserWebSocketURL(ctx, opts.DebuggerAddress)
	if err != nil {
		return nil, err
	}

	pw, err := playwright.Run()
	if err != nil {
		return nil, fmt.Errorf("start playwright: %w", err)
	}

	browser, err := pw.Chromium.ConnectOverCDP(wsURL)
	if err != nil {
		pw.Stop()
		return nil, fmt.Errorf("connect over CDP to %s: %w", opts.DebuggerAddress, err)
	}

	var (
		bctx playwright.BrowserContext
		page playwright.Page
	)
	for _, c := range browser.Contexts() {
		if pages := c.Pages(); len(pages) > 0 {
			bctx, page = c, pages[0]
			break
		}
	}
	if page == nil {
		// Closing a CDP-connected browser only disconnects.
		browser.Close()
		pw.Stop()
		return nil, ErrNoTarget
	}
	if err := bctx.AddInitScript(playwright.Script{Content: playwright.String(stealthScript)}); err != nil {
		log.Warn("could not install init script on attached browser", zap.Error(err))
	}

	log.Info("attached to existing browser", zap.String("driver", "playwright"), zap.String("url", page.URL()))
	return &Playwright{pw: pw, browser: browser, context: bctx, page: page, reused: true, log: log}, nil
}

// do runs fn on its own goroutine and returns early when ctx ends.
func (p *Playwright) do(ctx context.Context, fn func() error) error {
	p.mu.Lock()
	released := p.released
	p.mu.Unlock()
	if released || p.page.IsClosed() {
		return ErrSessionClosed
	}

	done := make(chan error, 1)
	go func() { done <- fn() }()

	select {
	case err := <-done:
		if err != nil && p.page.IsClosed() {
			return fmt.Errorf("%w: %v", ErrSessionClosed, err)
		}
		return err
	case <-ctx.Done():
		return ctx.Err()
	}
}

// timeoutMillis converts the remaining ctx budget into a playwright timeout.
func timeoutMillis(ctx context.Context, fallback time.Duration) *float64 {
	d := fallback
	if deadline, ok := ctx.Deadline(); ok {
		d = time.Until(deadline)
		if d < time.Millisecond {
			d = time.Millisecond
		}
	}
	return playwright.Float(float64(d.Milliseconds()))
}

func (p *Playwright) Reused() bool { return p.reused }

func (p *Playwright) Navigate(ctx context.Context, url string) error {
	err := p.do(ctx, func() error {
		_, err := p.page.Goto(url, playwright.PageGotoOptions{
			WaitUntil: playwright.WaitUntilStateDomcontentloaded,
			Timeout:   timeoutMillis(ctx, 60*time.Second),
		})
		return err
	})
	if err != nil {
		return fmt.Errorf("navigation failed: %w", err)
	}
	return nil
}

func (p *Playwright) CurrentLocation(ctx context.Context) (string, error) {
	var url string
	// Evaluate round-trips to the renderer, unlike Page.URL which is cached.
	err := p.do(ctx, func() error {
		v, err := p.page.Evaluate(`() => window.location.href`)
		if err != nil {
			return err
		}
		url, _ = v.(string)
		return nil
	})
	if err != nil {
		return "", fmt.Errorf("failed to get current URL: %w", err)
	}
	return url, nil
}

func (p *Playwright) Query(ctx context.Context, selector string) ([]Element, error) {
	var handles []playwright.ElementHandle
	err := p.do(ctx, func() error {
		var err error
		handles, err = p.page.QuerySelectorAll(selector)
		return err
	})
	if err != nil {
		return nil, fmt.Errorf("query %q failed: %w", selector, err)
	}

	elements := make([]Element, 0, len(handles))
	for _, h := range handles {
		elements = append(elements, &playwrightElement{p: p, h: h})
	}
	return elements, nil
}

func (p *Playwright) ExecuteScript(ctx context.Context, fn string, args ...any) (any, error) {
	if args == nil {
		args = []any{}
	}
	// Round-trip through JSON so args reach the page as plain values.
	raw, err := json.Marshal(args)
	if err != nil {
		return nil, fmt.Errorf("encode script arguments: %w", err)
	}
	var plain []any
	if err := json.Unmarshal(raw, &plain); err != nil {
		return nil, fmt.Errorf("encode script arguments: %w", err)
	}

	var out any
	err = p.do(ctx, func() error {
		var err error
		out, err = p.page.Evaluate(fmt.Sprintf(`(args) => (%s)(...args)`, fn), plain)
		return err
	})
	if err != nil {
		return nil, fmt.Errorf("execute script failed: %w", err)
	}
	return out, nil
}

func (p *Playwright) Screenshot(ctx context.Context) ([]byte, error) {
	var buf []byte
	err := p.do(ctx, func() error {
		var err error
		buf, err = p.page.Screenshot()
		return err
	})
	if err != nil {
		return nil, fmt.Errorf("failed to capture screenshot: %w", err)
	}
	return buf, nil
}

// Release closes an owned browser. On a CDP-connected browser Close only
// disconnects, so the external browser and its tabs stay up.
func (p *Playwright) Release(ctx context.Context) error {
	p.mu.Lock()
	if p.released {
		p.mu.Unlock()
		return nil
	}
	p.released = true
	p.mu.Unlock()

	done := make(chan error, 1)
	go func() {
		if !p.reused && p.context != nil {
			p.context.Close()
		}
		closeErr := p.browser.Close()
		stopErr := p.pw.Stop()
		if closeErr != nil {
			done <- closeErr
			return
		}
		done <- stopErr
	}()

	select {
	case err := <-done:
		if p.reused {
			p.log.Info("detached from browser", zap.String("driver", "playwright"))
		} else {
			p.log.Info("closed browser", zap.String("driver", "playwright"))
		}
		return err
	case <-ctx.Done():
		p.log.Warn("browser shutdown still in progress", zap.String("driver", "playwright"), zap.Error(ctx.Err()))
		return ctx.Err()
	}
}

type playwrightElement struct {
	p *Playwright
	h playwright.ElementHandle
}

func (e *playwrightElement) Click(ctx context.Context) error {
	return e.p.do(ctx, func() error {
		return e.h.Click(playwright.ElementHandleClickOptions{Timeout: timeoutMillis(ctx, 10*time.Second)})
	})
}

func (e *playwrightElement) IsVisible(ctx context.Context) (bool, error) {
	var ok bool
	err := e.p.do(ctx, func() error {
		var err error
		ok, err = e.h.IsVisible()
		return err
	})
	return ok, err
}

func (e *playwrightElement) IsEnabled(ctx context.Context) (bool, error) {
	var ok bool
	err := e.p.do(ctx, func() error {
		var err error
		ok, err = e.h.IsEnabled()
		return err
	})
	return ok, err
}

func (e *playwrightElement) Attribute(ctx context.Context, name string) (string, error) {
	var v string
	err := e.p.do(ctx, func() error {
		var err error
		v, err = e.h.GetAttribute(name)
		return err
	})
	return v, err
}

func (e *playwrightElement) Text(ctx context.Context) (string, error) {
	var v string
	err := e.p.do(ctx, func() error {
		var err error
		v, err = e.h.InnerText()
		return err
	})
	return v, err
}

func (e *playwrightElement) Eval(ctx context.Context, fn string) (any, error) {
	var out any
	err := e.p.do(ctx, func() error {
		var err error
		out, err = e.h.Evaluate(fn)
		return err
	})
	if err != nil {
		return nil, fmt.Errorf("element script failed: %w", err)
	}
	return out, nil
}

func (e *playwrightElement) Fill(ctx context.Context, text string, submit bool) error {
	return e.p.do(ctx, func() error {
		if err := e.h.Fill(text); err != nil {
			return err
		}
		if submit {
			return e.h.Press("Enter")
		}
		return nil
	})
}
