package action

import (
	"context"
	"time"

	"flash-buyer/internal/browser"

	"go.uber.org/zap"
)

// confirm waits out the settle delay, then looks for any confirmation
// indicator until the verification timeout. The outcome is logged and noted
// on res but never turns the action into a failure.
func (x *Executor) confirm(ctx context.Context, d browser.Driver, res *Result) {
	if !sleep(ctx, x.timing.SettleDelay) {
		return
	}
	if len(x.Indicators) == 0 || x.timing.VerificationTimeout <= 0 {
		return
	}

	vctx, cancel := context.WithTimeout(ctx, x.timing.VerificationTimeout)
	defer cancel()

	for {
		if sel, ok := visibleIndicator(vctx, d, x.Indicators); ok {
			res.Confirmed = true
			res.Indicator = sel
			x.log.Info("cart confirmation observed", zap.String("indicator", sel))
			return
		}
		if !sleep(vctx, x.timing.PollInterval) {
			break
		}
	}

	x.log.Warn("no cart confirmation observed",
		zap.Stringer("kind", res.Kind),
		zap.Duration("timeout", x.timing.VerificationTimeout))
}

func visibleIndicator(ctx context.Context, d browser.Driver, selectors []string) (string, bool) {
	for _, sel := range selectors {
		els, err := d.Query(ctx, sel)
		if err != nil {
			return "", false
		}
		for _, el := range els {
			if ok, err := el.IsVisible(ctx); err == nil && ok {
				return sel, true
			}
		}
	}
	return "", false
}

// sleep waits for d and reports whether ctx is still live.
func sleep(ctx context.Context, d time.Duration) bool {
	if d <= 0 {
		return ctx.Err() == nil
	}
	t := time.NewTimer(d)
	defer t.Stop()
	select {
	case <-t.C:
		return true
	case <-ctx.Done():
		return false
	}
}
