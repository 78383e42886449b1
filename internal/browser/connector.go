package browser

import (
	"context"
	"errors"
	"fmt"

	"flash-buyer/internal/browser/sessionfile"

	"go.uber.org/zap"
)

const (
	DriverChromedp   = "chromedp"
	DriverPlaywright = "playwright"
)

// ChromeConnector opens chromedp sessions.
type ChromeConnector struct {
	Options    Options
	SessionDir string
	Log        *zap.Logger
}

func (c *ChromeConnector) Attach(ctx context.Context) (Session, error) {
	opts, err := attachOptions(ctx, c.Options, c.SessionDir, c.Log)
	if err != nil {
		return nil, err
	}
	return AttachChrome(ctx, opts, c.Log)
}

func (c *ChromeConnector) Launch(ctx context.Context) (Session, error) {
	return LaunchChrome(ctx, c.Options, c.Log)
}

// PlaywrightConnector opens playwright-go sessions.
type PlaywrightConnector struct {
	Options    Options
	SessionDir string
	Log        *zap.Logger
}

func (c *PlaywrightConnector) Attach(ctx context.Context) (Session, error) {
	opts, err := attachOptions(ctx, c.Options, c.SessionDir, c.Log)
	if err != nil {
		return nil, err
	}
	return ConnectPlaywright(ctx, opts, c.Log)
}

func (c *PlaywrightConnector) Launch(ctx context.Context) (Session, error) {
	return LaunchPlaywright(ctx, c.Options, c.Log)
}

// NewConnector returns the connector for the named driver backend.
func NewConnector(driver string, opts Options, sessionDir string, log *zap.Logger) (Connector, error) {
	log = log.Named("browser")
	switch driver {
	case "", DriverChromedp:
		return &ChromeConnector{Options: opts, SessionDir: sessionDir, Log: log}, nil
	case DriverPlaywright:
		return &PlaywrightConnector{Options: opts, SessionDir: sessionDir, Log: log}, nil
	default:
		return nil, fmt.Errorf("unknown driver %q", driver)
	}
}

// attachOptions prefers the address recorded by a prepared session over the
// configured one.
func attachOptions(ctx context.Context, opts Options, dir string, log *zap.Logger) (Options, error) {
	h, err := sessionfile.Read(ctx, dir)
	switch {
	case err == nil:
		log.Debug("using prepared session", zap.String("address", h.DebuggerAddress), zap.Int("pid", h.PID))
		opts.DebuggerAddress = h.DebuggerAddress
	case errors.Is(err, sessionfile.ErrNoSession):
	default:
		log.Warn("ignoring unreadable session file", zap.Error(err))
	}

	if opts.DebuggerAddress == "" {
		return opts, ErrNoDebugTarget
	}
	return opts, nil
}
