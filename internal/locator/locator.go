// Package locator resolves storefront elements from ordered selector lists,
// falling back to a ranked text scan when every structural selector misses.
package locator

import (
	"context"
	"errors"
	"time"

	"flash-buyer/internal/browser"

	"go.uber.org/zap"
)

// DefaultPollInterval is the re-query period while a candidate is pending.
const DefaultPollInterval = 50 * time.Millisecond

// ErrNotFound reports that every candidate was exhausted. It is a signal for
// the caller to escalate, not a failure of the page.
var ErrNotFound = errors.New("element not found")

var errMiss = errors.New("candidate missed")

// Candidate is one way of addressing an element, tried within Budget.
type Candidate struct {
	Selector string
	Budget   time.Duration
}

// Candidates builds a priority-ordered candidate list sharing one budget.
func Candidates(budget time.Duration, selectors ...string) []Candidate {
	out := make([]Candidate, len(selectors))
	for i, s := range selectors {
		out[i] = Candidate{Selector: s, Budget: budget}
	}
	return out
}

// TotalBudget is the upper bound on a Resolve call that finds nothing.
func TotalBudget(cands []Candidate) time.Duration {
	var total time.Duration
	for _, c := range cands {
		total += c.Budget
	}
	return total
}

// Match is a resolved element and the candidate that produced it.
type Match struct {
	Element  browser.Element
	Selector string
	Index    int
}

// Resolver is stateless between calls; the driver is passed to every call.
type Resolver struct {
	Log          *zap.Logger
	PollInterval time.Duration
	// IsFatal reports errors that mean the session itself is gone. Such errors
	// abort resolution instead of counting as a miss.
	IsFatal func(error) bool
}

// NewResolver returns a Resolver with the default poll interval.
func NewResolver(log *zap.Logger, isFatal func(error) bool) *Resolver {
	return &Resolver{Log: log, PollInterval: DefaultPollInterval, IsFatal: isFatal}
}

// Resolve returns the first candidate, in list order, whose element becomes
// actionable within that candidate's own budget. It returns ErrNotFound when
// all candidates are exhausted.
func (r *Resolver) Resolve(ctx context.Context, d browser.Driver, cands []Candidate) (*Match, error) {
	for i, c := range cands {
		el, err := r.poll(ctx, d, c)
		switch {
		case err == nil:
			r.log().Debug("candidate resolved", zap.String("selector", c.Selector), zap.Int("index", i))
			return &Match{Element: el, Selector: c.Selector, Index: i}, nil
		case errors.Is(err, errMiss):
			r.log().Debug("candidate missed", zap.String("selector", c.Selector), zap.Duration("budget", c.Budget))
		default:
			return nil, err
		}
	}
	r.log().Debug("all candidates missed", zap.Int("candidates", len(cands)), zap.Duration("budget", TotalBudget(cands)))
	return nil, ErrNotFound
}

func (r *Resolver) poll(ctx context.Context, d browser.Driver, c Candidate) (browser.Element, error) {
	deadline := time.Now().Add(c.Budget)
	cctx, cancel := context.WithDeadline(ctx, deadline)
	defer cancel()

	interval := r.PollInterval
	if interval <= 0 {
		interval = DefaultPollInterval
	}

	for {
		el, err := firstActionable(cctx, d, c.Selector)
		if el != nil {
			return el, nil
		}
		if err := ctx.Err(); err != nil {
			return nil, err
		}
		if err != nil && r.fatal(err) {
			return nil, err
		}

		wait := time.Until(deadline)
		if wait <= 0 {
			return nil, errMiss
		}
		if wait > interval {
			wait = interval
		}

		timer := time.NewTimer(wait)
		select {
		case <-timer.C:
		case <-cctx.Done():
			timer.Stop()
			if err := ctx.Err(); err != nil {
				return nil, err
			}
			return nil, errMiss
		}
	}
}

func (r *Resolver) fatal(err error) bool {
	if errors.Is(err, browser.ErrSessionClosed) {
		return true
	}
	return r.IsFatal != nil && r.IsFatal(err)
}

func (r *Resolver) log() *zap.Logger {
	if r.Log == nil {
		return zap.NewNop()
	}
	return r.Log
}

// firstActionable takes an immediate snapshot of selector and returns the
// first actionable match. The error is the last one seen, if nothing matched.
func firstActionable(ctx context.Context, d browser.Driver, selector string) (browser.Element, error) {
	els, err := d.Query(ctx, selector)
	if err != nil {
		return nil, err
	}

	var lastErr error
	for _, el := range els {
		ok, err := Actionable(ctx, el)
		if err != nil {
			lastErr = err
			continue
		}
		if ok {
			return el, nil
		}
	}
	return nil, lastErr
}

// Actionable reports whether el is visible, enabled and receives pointer
// events.
func Actionable(ctx context.Context, el browser.Element) (bool, error) {
	visible, err := el.IsVisible(ctx)
	if err != nil || !visible {
		return false, err
	}
	enabled, err := el.IsEnabled(ctx)
	if err != nil || !enabled {
		return false, err
	}
	v, err := el.Eval(ctx, browser.ActionableScript())
	if err != nil {
		return false, err
	}
	ok, _ := v.(bool)
	return ok, nil
}
