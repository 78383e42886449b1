package action

import (
	"context"
	"errors"
	"testing"
	"time"

	"flash-buyer/internal/browser"
	"flash-buyer/internal/browser/browsertest"

	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"
	"go.uber.org/zap"
)

var errIntercepted = errors.New("element click intercepted")

func newExecutor(timing Timing) *Executor {
	return New(zap.NewNop(), timing, nil, []string{"#nav-cart-count", "#sw-atc-confirmation"})
}

func TestPerformDirectShortCircuits(t *testing.T) {
	page := browsertest.NewPage("https://shop.test/dp/1")
	clicked := false
	btn := &browsertest.Element{Name: "btn", OnClick: func(*browsertest.Page) { clicked = true }}
	page.Set("#btn", btn)

	res, err := newExecutor(Timing{}).Perform(context.Background(), page, btn, Click)
	require.NoError(t, err)
	assert.True(t, clicked)
	assert.Equal(t, Direct, res.Strategy)
	assert.Len(t, res.Attempts, 1)
	assert.Equal(t, []string{"click btn"}, page.Calls())
}

func TestPerformEscalatesInOrder(t *testing.T) {
	page := browsertest.NewPage("https://shop.test/dp/1")
	btn := &browsertest.Element{Name: "btn", ClickErr: errIntercepted}
	page.Set("#btn", btn)

	res, err := newExecutor(Timing{}).Perform(context.Background(), page, btn, Click)
	require.NoError(t, err)
	assert.Equal(t, Scripted, res.Strategy)
	assert.Equal(t, 1, res.Failures())
	assert.Equal(t, []string{"click btn", "script-click btn"}, page.Calls())
}

func TestPerformNavigationalUsesHref(t *testing.T) {
	tests := []struct {
		name  string
		attrs map[string]string
		want  string
	}{
		{"relative href", map[string]string{"href": "/gp/aws/cart/add.html?ASIN=B0"}, "https://shop.test/gp/aws/cart/add.html?ASIN=B0"},
		{"absolute href", map[string]string{"href": "https://other.test/cart"}, "https://other.test/cart"},
		{"data-href after anchor", map[string]string{"href": "#", "data-href": "cart?x=1"}, "https://shop.test/dp/cart?x=1"},
		{"formaction after javascript", map[string]string{"href": "javascript:void(0)", "formaction": "/cart/add"}, "https://shop.test/cart/add"},
	}
	for _, tt := range tests {
		t.Run(tt.name, func(t *testing.T) {
			page := browsertest.NewPage("https://shop.test/dp/1")
			btn := &browsertest.Element{Name: "btn", Attrs: tt.attrs, ClickErr: errIntercepted, ScriptClickErr: errIntercepted}
			page.Set("#btn", btn)

			res, err := newExecutor(Timing{}).Perform(context.Background(), page, btn, Click)
			require.NoError(t, err)
			assert.Equal(t, Navigational, res.Strategy)
			assert.Equal(t, 2, res.Failures())
			assert.Equal(t, tt.want, page.URL())
			assert.Equal(t, []string{"click btn", "script-click btn", "navigate " + tt.want}, page.Calls())
		})
	}
}

func TestPerformAllStrategiesFail(t *testing.T) {
	page := browsertest.NewPage("https://shop.test/dp/1")
	btn := &browsertest.Element{Name: "btn", ClickErr: errIntercepted, ScriptClickErr: errors.New("script blocked")}
	page.Set("#btn", btn)

	_, err := newExecutor(Timing{}).Perform(context.Background(), page, btn, AddToCart)
	require.Error(t, err)

	var aerr *ActionError
	require.ErrorAs(t, err, &aerr)
	require.Len(t, aerr.Attempts, 3)
	for i, s := range Escalation {
		assert.Equal(t, s, aerr.Attempts[i].Strategy)
		assert.Error(t, aerr.Attempts[i].Err)
	}
	assert.ErrorIs(t, err, errIntercepted)
	assert.ErrorIs(t, err, ErrNoNavigableTarget)
	assert.Contains(t, err.Error(), "add-to-cart failed")
	assert.Contains(t, err.Error(), "scripted: script blocked")
}

func TestPerformStopsOnSessionFatal(t *testing.T) {
	page := browsertest.NewPage("https://shop.test/dp/1")
	btn := &browsertest.Element{Name: "btn", ClickErr: browser.ErrSessionClosed, Attrs: map[string]string{"href": "/x"}}
	page.Set("#btn", btn)

	_, err := newExecutor(Timing{}).Perform(context.Background(), page, btn, Click)

	var aerr *ActionError
	require.ErrorAs(t, err, &aerr)
	assert.Len(t, aerr.Attempts, 1)
	assert.ErrorIs(t, err, browser.ErrSessionClosed)
}

func TestPerformConfirmsCartMutation(t *testing.T) {
	page := browsertest.NewPage("https://shop.test/dp/1")
	btn := &browsertest.Element{Name: "add"}
	btn.OnClick = func(p *browsertest.Page) {
		p.Set("#sw-atc-confirmation", &browsertest.Element{AppearAfter: 30 * time.Millisecond})
	}
	page.Set("#add-to-cart-button", btn)

	res, err := newExecutor(Timing{SettleDelay: 10 * time.Millisecond, VerificationTimeout: time.Second, PollInterval: 10 * time.Millisecond}).
		Perform(context.Background(), page, btn, AddToCart)
	require.NoError(t, err)
	assert.True(t, res.Confirmed)
	assert.Equal(t, "#sw-atc-confirmation", res.Indicator)
}

func TestPerformMissingConfirmationStillSucceeds(t *testing.T) {
	page := browsertest.NewPage("https://shop.test/dp/1")
	btn := &browsertest.Element{Name: "add"}
	page.Set("#add-to-cart-button", btn)

	timing := Timing{SettleDelay: 20 * time.Millisecond, VerificationTimeout: 60 * time.Millisecond, PollInterval: 10 * time.Millisecond}
	start := time.Now()
	res, err := newExecutor(timing).Perform(context.Background(), page, btn, AddToCart)
	elapsed := time.Since(start)

	require.NoError(t, err)
	assert.False(t, res.Confirmed)
	assert.GreaterOrEqual(t, elapsed, timing.SettleDelay+timing.VerificationTimeout)
	assert.Less(t, elapsed, timing.SettleDelay+timing.VerificationTimeout+200*time.Millisecond)
}

func TestPerformSkipsConfirmationForPlainClicks(t *testing.T) {
	page := browsertest.NewPage("https://shop.test/")
	btn := &browsertest.Element{Name: "link"}
	page.Set("a", btn)

	start := time.Now()
	res, err := newExecutor(Timing{SettleDelay: time.Second, VerificationTimeout: time.Second}).
		Perform(context.Background(), page, btn, OpenProduct)
	require.NoError(t, err)
	assert.False(t, res.Confirmed)
	assert.Less(t, time.Since(start), 500*time.Millisecond)
}

func TestStrategyAndKindStrings(t *testing.T) {
	assert.Equal(t, "direct", Direct.String())
	assert.Equal(t, "scripted", Scripted.String())
	assert.Equal(t, "navigational", Navigational.String())
	assert.Equal(t, "add-to-cart", AddToCart.String())
	assert.True(t, AddToCart.CartMutating())
	assert.False(t, ProceedToCheckout.CartMutating())
}
