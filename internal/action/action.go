// Package action performs interactions on resolved elements, escalating from
// a native click to a scripted click to direct navigation.
package action

import (
	"context"
	"errors"
	"fmt"
	"net/url"
	"strings"
	"time"

	"flash-buyer/internal/browser"

	"go.uber.org/zap"
)

// Strategy is one way of producing a click's effect.
type Strategy int

const (
	Direct Strategy = iota
	Scripted
	Navigational
)

// Escalation is the fixed order strategies are tried in.
var Escalation = []Strategy{Direct, Scripted, Navigational}

func (s Strategy) String() string {
	switch s {
	case Direct:
		return "direct"
	case Scripted:
		return "scripted"
	case Navigational:
		return "navigational"
	default:
		return fmt.Sprintf("strategy(%d)", int(s))
	}
}

// Kind is what the interaction is meant to achieve.
type Kind int

const (
	Click Kind = iota
	OpenProduct
	AddToCart
	ProceedToCheckout
)

func (k Kind) String() string {
	switch k {
	case Click:
		return "click"
	case OpenProduct:
		return "open-product"
	case AddToCart:
		return "add-to-cart"
	case ProceedToCheckout:
		return "proceed-to-checkout"
	default:
		return fmt.Sprintf("kind(%d)", int(k))
	}
}

// CartMutating reports whether success is followed by a settle delay and a
// confirmation probe.
func (k Kind) CartMutating() bool { return k == AddToCart }

// ErrNoNavigableTarget means the element exposes no URL to navigate to.
var ErrNoNavigableTarget = errors.New("element has no navigable target")

// navigableAttributes are read in order when looking for a target URL.
var navigableAttributes = []string{"href", "data-href", "formaction"}

// Attempt records one strategy's outcome. Err is nil on success.
type Attempt struct {
	Strategy Strategy
	Err      error
}

// ActionError is returned when no strategy succeeded. It keeps every
// attempt's detail.
type ActionError struct {
	Kind     Kind
	Attempts []Attempt
}

func (e *ActionError) Error() string {
	parts := make([]string, 0, len(e.Attempts))
	for _, a := range e.Attempts {
		parts = append(parts, fmt.Sprintf("%s: %v", a.Strategy, a.Err))
	}
	return fmt.Sprintf("%s failed (%s)", e.Kind, strings.Join(parts, "; "))
}

// Unwrap exposes the attempt errors to errors.Is and errors.As.
func (e *ActionError) Unwrap() []error {
	errs := make([]error, 0, len(e.Attempts))
	for _, a := range e.Attempts {
		if a.Err != nil {
			errs = append(errs, a.Err)
		}
	}
	return errs
}

// Result describes a successful Perform.
type Result struct {
	Kind     Kind
	Strategy Strategy
	Attempts []Attempt
	// Confirmed is set when a confirmation indicator was seen after a
	// cart-mutating action. It never affects success.
	Confirmed bool
	Indicator string
}

// Failures counts the attempts that failed before the successful one.
func (r *Result) Failures() int {
	n := 0
	for _, a := range r.Attempts {
		if a.Err != nil {
			n++
		}
	}
	return n
}

// Timing bounds the post-action work for cart-mutating kinds.
type Timing struct {
	SettleDelay         time.Duration
	VerificationTimeout time.Duration
	PollInterval        time.Duration
}

// Executor is stateless across calls apart from its configuration.
type Executor struct {
	log     *zap.Logger
	timing  Timing
	isFatal func(error) bool
	// Indicators are probed after a cart-mutating success.
	Indicators []string
}

// New returns an Executor. isFatal may be nil.
func New(log *zap.Logger, timing Timing, isFatal func(error) bool, indicators []string) *Executor {
	if timing.PollInterval <= 0 {
		timing.PollInterval = 100 * time.Millisecond
	}
	return &Executor{log: log, timing: timing, isFatal: isFatal, Indicators: indicators}
}

// Perform applies the escalation sequence to el until one strategy succeeds.
// A session-fatal error stops the escalation at once, since no later
// strategy can succeed on a dead session.
func (x *Executor) Perform(ctx context.Context, d browser.Driver, el browser.Element, kind Kind) (*Result, error) {
	var attempts []Attempt

	for _, s := range Escalation {
		err := x.apply(ctx, d, el, s)
		attempts = append(attempts, Attempt{Strategy: s, Err: err})

		if err == nil {
			res := &Result{Kind: kind, Strategy: s, Attempts: attempts}
			x.log.Info("action succeeded",
				zap.Stringer("kind", kind),
				zap.Stringer("strategy", s),
				zap.Int("failed_attempts", res.Failures()))
			if kind.CartMutating() {
				x.confirm(ctx, d, res)
			}
			return res, nil
		}

		x.log.Debug("strategy failed", zap.Stringer("kind", kind), zap.Stringer("strategy", s), zap.Error(err))
		if ctx.Err() != nil || x.fatal(err) {
			break
		}
	}

	aerr := &ActionError{Kind: kind, Attempts: attempts}
	x.log.Warn("all strategies failed", zap.Stringer("kind", kind), zap.Error(aerr))
	return nil, aerr
}

func (x *Executor) apply(ctx context.Context, d browser.Driver, el browser.Element, s Strategy) error {
	switch s {
	case Direct:
		return el.Click(ctx)
	case Scripted:
		_, err := el.Eval(ctx, browser.ScriptedClickScript())
		return err
	case Navigational:
		target, err := navigableTarget(ctx, d, el)
		if err != nil {
			return err
		}
		x.log.Debug("navigating to element target", zap.String("url", target))
		return d.Navigate(ctx, target)
	default:
		return fmt.Errorf("unknown strategy %d", int(s))
	}
}

func (x *Executor) fatal(err error) bool {
	if errors.Is(err, browser.ErrSessionClosed) {
		return true
	}
	return x.isFatal != nil && x.isFatal(err)
}

// navigableTarget resolves the element's link target against the current
// location.
func navigableTarget(ctx context.Context, d browser.Driver, el browser.Element) (string, error) {
	var raw string
	for _, name := range navigableAttributes {
		v, err := el.Attribute(ctx, name)
		if err != nil {
			return "", err
		}
		v = strings.TrimSpace(v)
		if v == "" || strings.HasPrefix(v, "#") || strings.HasPrefix(strings.ToLower(v), "javascript:") {
			continue
		}
		raw = v
		break
	}
	if raw == "" {
		return "", ErrNoNavigableTarget
	}

	ref, err := url.Parse(raw)
	if err != nil {
		return "", fmt.Errorf("invalid target %q: %w", raw, err)
	}
	if ref.IsAbs() {
		return ref.String(), nil
	}

	current, err := d.CurrentLocation(ctx)
	if err != nil {
		return "", err
	}
	base, err := url.Parse(current)
	if err != nil {
		return "", fmt.Errorf("invalid current location %q: %w", current, err)
	}
	return base.ResolveReference(ref).String(), nil
}
