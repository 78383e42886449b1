package browser

import (
	"context"
	"errors"
)

// Driver is the page-level capability the purchase engine works against.
// Implementations must bound every call by ctx.
type Driver interface {
	Navigate(ctx context.Context, url string) error
	CurrentLocation(ctx context.Context) (string, error)
	// Query returns the elements currently matching selector, in DOM order.
	// It does not wait; zero matches is not an error.
	Query(ctx context.Context, selector string) ([]Element, error)
	// ExecuteScript calls the JS function expression fn with args and returns
	// its JSON-decoded result.
	ExecuteScript(ctx context.Context, fn string, args ...any) (any, error)
	Screenshot(ctx context.Context) ([]byte, error)
}

// Element is a handle to a single DOM node. Handles are only valid for the
// document they were queried from.
type Element interface {
	Click(ctx context.Context) error
	IsVisible(ctx context.Context) (bool, error)
	IsEnabled(ctx context.Context) (bool, error)
	// Attribute returns "" when the attribute is absent.
	Attribute(ctx context.Context, name string) (string, error)
	Text(ctx context.Context) (string, error)
	// Eval calls the JS function expression fn with the element as its first
	// argument.
	Eval(ctx context.Context, fn string) (any, error)
	// Fill replaces the element's value with text and presses Enter when
	// submit is set.
	Fill(ctx context.Context, text string, submit bool) error
}

// Session is a live driver handle plus its lifecycle ownership.
type Session interface {
	Driver
	// Reused reports whether the session is attached to a browser that is
	// managed outside this process.
	Reused() bool
	// Release closes an owned browser or detaches from a reused one. A reused
	// browser and its prepared tab are never closed. Release returns when ctx
	// ends even if shutdown is still running.
	Release(ctx context.Context) error
}

// Connector establishes sessions. Attach reuses an externally managed browser,
// Launch starts a fresh isolated one.
type Connector interface {
	Attach(ctx context.Context) (Session, error)
	Launch(ctx context.Context) (Session, error)
}

var (
	ErrNoTarget      = errors.New("no attachable page target")
	ErrStaleElement  = errors.New("element is no longer attached to the document")
	ErrNoDebugTarget = errors.New("no debugger address configured")
)

// Options configures both backends.
type Options struct {
	Headless bool
	// DebuggerAddress is host:port of an externally managed browser started
	// with --remote-debugging-port.
	DebuggerAddress string
	// RemoteDebuggingPort, when non-zero, makes a launched browser listen for
	// later reattachment.
	RemoteDebuggingPort int
	UserDataDir         string
	UserAgent           string
	Width               int
	Height              int
}

func (o Options) withDefaults() Options {
	if o.UserAgent == "" {
		o.UserAgent = DefaultUserAgent
	}
	if o.Width == 0 {
		o.Width = 1366
	}
	if o.Height == 0 {
		o.Height = 900
	}
	return o
}
