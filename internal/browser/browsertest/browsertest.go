// Package browsertest provides an in-memory page that satisfies the browser
// capability interfaces. Elements are registered per selector, may appear
// after a delay, and can be scripted to fail individual interaction paths.
package browsertest

import (
	"context"
	"errors"
	"fmt"
	"sync"
	"time"

	"flash-buyer/internal/browser"
)

// Element is a fake DOM node. The zero value is visible, enabled and takes
// pointer input.
type Element struct {
	Name  string
	Label string
	Attrs map[string]string
	Value string

	Hidden         bool
	Disabled       bool
	PointerBlocked bool

	// AppearAfter delays the element's presence, measured from Page.Set.
	AppearAfter time.Duration

	ClickErr       error
	ScriptClickErr error
	FillErr        error

	// OnClick runs after a successful native or scripted click.
	OnClick func(p *Page)
	// OnSubmit runs after Fill with submit set.
	OnSubmit func(p *Page)
	// EvalFunc answers scripts other than the built-in actionability and
	// scripted-click scripts.
	EvalFunc func(fn string) (any, error)

	page  *Page
	setAt time.Time
}

// Page is a fake browser tab and implements browser.Session.
type Page struct {
	mu       sync.Mutex
	url      string
	title    string
	elements map[string][]*Element
	journal  []string
	reused   bool
	released bool
	fatal    error

	// OnNavigate runs after the URL changes.
	OnNavigate func(p *Page, url string)
	// LocationErrs is consumed one entry per CurrentLocation call.
	LocationErrs []error
	NavigateErr  error
	ScriptFunc   func(fn string, args ...any) (any, error)
	Shot         []byte
}

var _ browser.Session = (*Page)(nil)

// NewPage returns an empty page at url.
func NewPage(url string) *Page {
	return &Page{
		url:      url,
		elements: make(map[string][]*Element),
		Shot:     []byte("\x89PNG fake"),
	}
}

// Set replaces the elements matching selector. Appearance delays start now.
func (p *Page) Set(selector string, els ...*Element) *Page {
	p.mu.Lock()
	defer p.mu.Unlock()

	now := time.Now()
	for _, el := range els {
		el.page = p
		el.setAt = now
		if el.Name == "" {
			el.Name = selector
		}
	}
	p.elements[selector] = els
	return p
}

// Clear removes every registered element, as a page transition would.
func (p *Page) Clear() *Page {
	p.mu.Lock()
	p.elements = make(map[string][]*Element)
	p.mu.Unlock()
	return p
}

// SetTitle sets the document title reported to scripts reading document.title.
func (p *Page) SetTitle(title string) {
	p.mu.Lock()
	p.title = title
	p.mu.Unlock()
}

// Crash makes every later call fail with err until the page is discarded.
func (p *Page) Crash(err error) {
	p.mu.Lock()
	p.fatal = err
	p.mu.Unlock()
}

// Calls returns the interaction journal.
func (p *Page) Calls() []string {
	p.mu.Lock()
	defer p.mu.Unlock()
	return append([]string(nil), p.journal...)
}

// Released reports whether Release was called.
func (p *Page) Released() bool {
	p.mu.Lock()
	defer p.mu.Unlock()
	return p.released
}

func (p *Page) URL() string {
	p.mu.Lock()
	defer p.mu.Unlock()
	return p.url
}

func (p *Page) record(format string, args ...any) {
	p.journal = append(p.journal, fmt.Sprintf(format, args...))
}

// check must be called with p.mu held.
func (p *Page) check(ctx context.Context) error {
	if err := ctx.Err(); err != nil {
		return err
	}
	if p.released {
		return browser.ErrSessionClosed
	}
	return p.fatal
}

func (p *Page) Navigate(ctx context.Context, url string) error {
	p.mu.Lock()
	if err := p.check(ctx); err != nil {
		p.mu.Unlock()
		return err
	}
	p.record("navigate %s", url)
	if p.NavigateErr != nil {
		err := p.NavigateErr
		p.mu.Unlock()
		return err
	}
	p.url = url
	hook := p.OnNavigate
	p.mu.Unlock()

	if hook != nil {
		hook(p, url)
	}
	return nil
}

// Goto changes the URL as a page-initiated navigation would, such as a link
// click or a form submit.
func (p *Page) Goto(url string) {
	p.mu.Lock()
	p.record("goto %s", url)
	p.url = url
	hook := p.OnNavigate
	p.mu.Unlock()

	if hook != nil {
		hook(p, url)
	}
}

func (p *Page) CurrentLocation(ctx context.Context) (string, error) {
	p.mu.Lock()
	defer p.mu.Unlock()

	if err := p.check(ctx); err != nil {
		return "", err
	}
	if len(p.LocationErrs) > 0 {
		err := p.LocationErrs[0]
		p.LocationErrs = p.LocationErrs[1:]
		if err != nil {
			return "", err
		}
	}
	return p.url, nil
}

func (p *Page) Query(ctx context.Context, selector string) ([]browser.Element, error) {
	p.mu.Lock()
	defer p.mu.Unlock()

	if err := p.check(ctx); err != nil {
		return nil, err
	}
	now := time.Now()
	var out []browser.Element
	for _, el := range p.elements[selector] {
		if now.Sub(el.setAt) >= el.AppearAfter {
			out = append(out, el)
		}
	}
	return out, nil
}

func (p *Page) ExecuteScript(ctx context.Context, fn string, args ...any) (any, error) {
	p.mu.Lock()
	if err := p.check(ctx); err != nil {
		p.mu.Unlock()
		return nil, err
	}
	hook, title := p.ScriptFunc, p.title
	p.mu.Unlock()

	if hook != nil {
		return hook(fn, args...)
	}
	if fn == "() => document.title" {
		return title, nil
	}
	return nil, nil
}

func (p *Page) Screenshot(ctx context.Context) ([]byte, error) {
	p.mu.Lock()
	defer p.mu.Unlock()

	if err := p.check(ctx); err != nil {
		return nil, err
	}
	return append([]byte(nil), p.Shot...), nil
}

func (p *Page) Reused() bool {
	p.mu.Lock()
	defer p.mu.Unlock()
	return p.reused
}

func (p *Page) Release(ctx context.Context) error {
	p.mu.Lock()
	defer p.mu.Unlock()

	if !p.released {
		p.released = true
		p.record("release reused=%t", p.reused)
	}
	return nil
}

func (e *Element) Click(ctx context.Context) error {
	p := e.page
	p.mu.Lock()
	if err := p.check(ctx); err != nil {
		p.mu.Unlock()
		return err
	}
	p.record("click %s", e.Name)
	if e.ClickErr != nil {
		p.mu.Unlock()
		return e.ClickErr
	}
	p.mu.Unlock()

	if e.OnClick != nil {
		e.OnClick(p)
	}
	return nil
}

func (e *Element) IsVisible(ctx context.Context) (bool, error) {
	if err := e.guard(ctx); err != nil {
		return false, err
	}
	return !e.Hidden, nil
}

func (e *Element) IsEnabled(ctx context.Context) (bool, error) {
	if err := e.guard(ctx); err != nil {
		return false, err
	}
	return !e.Disabled, nil
}

func (e *Element) Attribute(ctx context.Context, name string) (string, error) {
	if err := e.guard(ctx); err != nil {
		return "", err
	}
	return e.Attrs[name], nil
}

func (e *Element) Text(ctx context.Context) (string, error) {
	if err := e.guard(ctx); err != nil {
		return "", err
	}
	return e.Label, nil
}

func (e *Element) Eval(ctx context.Context, fn string) (any, error) {
	p := e.page
	p.mu.Lock()
	if err := p.check(ctx); err != nil {
		p.mu.Unlock()
		return nil, err
	}

	switch fn {
	case browser.ActionableScript():
		p.mu.Unlock()
		return !e.PointerBlocked, nil
	case browser.ScriptedClickScript():
		p.record("script-click %s", e.Name)
		if e.ScriptClickErr != nil {
			p.mu.Unlock()
			return nil, e.ScriptClickErr
		}
		p.mu.Unlock()
		if e.OnClick != nil {
			e.OnClick(p)
		}
		return true, nil
	}
	p.mu.Unlock()

	if e.EvalFunc != nil {
		return e.EvalFunc(fn)
	}
	return nil, nil
}

func (e *Element) Fill(ctx context.Context, text string, submit bool) error {
	p := e.page
	p.mu.Lock()
	if err := p.check(ctx); err != nil {
		p.mu.Unlock()
		return err
	}
	p.record("fill %s %q", e.Name, text)
	if e.FillErr != nil {
		p.mu.Unlock()
		return e.FillErr
	}
	e.Value = text
	p.mu.Unlock()

	if submit && e.OnSubmit != nil {
		e.OnSubmit(p)
	}
	return nil
}

func (e *Element) guard(ctx context.Context) error {
	if e.page == nil {
		return errors.New("element was never added to a page")
	}
	e.page.mu.Lock()
	defer e.page.mu.Unlock()
	return e.page.check(ctx)
}

// Connector hands out pages from New and counts how often each path ran.
type Connector struct {
	mu        sync.Mutex
	New       func() *Page
	AttachErr error
	LaunchErr error
	attaches  int
	launches  int
	pages     []*Page
}

var _ browser.Connector = (*Connector)(nil)

func (c *Connector) Attach(ctx context.Context) (browser.Session, error) {
	c.mu.Lock()
	defer c.mu.Unlock()

	c.attaches++
	if c.AttachErr != nil {
		return nil, c.AttachErr
	}
	p := c.New()
	p.reused = true
	c.pages = append(c.pages, p)
	return p, nil
}

func (c *Connector) Launch(ctx context.Context) (browser.Session, error) {
	c.mu.Lock()
	defer c.mu.Unlock()

	c.launches++
	if c.LaunchErr != nil {
		return nil, c.LaunchErr
	}
	p := c.New()
	c.pages = append(c.pages, p)
	return p, nil
}

// Counts returns how many Attach and Launch calls were made.
func (c *Connector) Counts() (attaches, launches int) {
	c.mu.Lock()
	defer c.mu.Unlock()
	return c.attaches, c.launches
}

// Pages returns every page handed out, oldest first.
func (c *Connector) Pages() []*Page {
	c.mu.Lock()
	defer c.mu.Unlock()
	return append([]*Page(nil), c.pages...)
}
