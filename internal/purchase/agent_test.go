package purchase

import (
	"context"
	"errors"
	"strings"
	"testing"
	"time"

	"flash-buyer/internal/session"

	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"
	"go.uber.org/zap"
)

func newTestBuyer(s *storefront, reuse bool) (*Buyer, *shotRecorder, *eventLog) {
	shots := &shotRecorder{}
	events := &eventLog{}
	b := NewBuyer(s.connector(), Options{
		BaseURL:     storeBase + "/",
		Reuse:       reuse,
		Auth:        &FormLogin{Email: "buyer@example.com", Password: "secret"},
		Screenshots: shots,
		Observer:    events.observe,
	}, zap.NewNop())
	return b, shots, events
}

func TestRunFastHappyPath(t *testing.T) {
	// A freshly launched browser starts signed out.
	store := newStorefront("USB-C Cable")
	store.signedIn = false
	conn := store.connector()
	events := &eventLog{}
	b := NewBuyer(conn, Options{
		BaseURL:  storeBase,
		Auth:     &FormLogin{Email: "buyer@example.com", Password: "secret"},
		Observer: events.observe,
	}, zap.NewNop())

	ok, elapsed := b.RunFast(context.Background(), "USB-C Cable")
	require.True(t, ok)
	assert.Equal(t, []string{"connected", "detached"}, events.details("session"))
	attaches, launches := conn.Counts()
	assert.Zero(t, attaches)
	assert.Equal(t, 1, launches)

	// Faster than even the safe settle delay alone.
	assert.Less(t, elapsed, Safe.PostActionSettleDelay)

	report := b.Status().LastReport
	require.NotNil(t, report)
	assert.Equal(t, InCart, report.Stage)
	assert.Equal(t, NewPlan(Fast).Final(), report.Stage)
	assert.Equal(t, "USB-C Cable 1m, Braided", report.ProductTitle)
	assert.Zero(t, report.Recoveries)

	cart := report.Action(InCart)
	require.NotNil(t, cart)
	assert.Equal(t, "direct", cart.Strategy)
	assert.Zero(t, cart.Failures())
	assert.True(t, cart.Confirmed)

	pages := conn.Pages()
	require.Len(t, pages, 1)
	for _, call := range pages[0].Calls() {
		assert.NotContains(t, call, cartViewPath)
		assert.NotContains(t, call, "checkout")
	}
	calls := pages[0].Calls()
	assert.Subset(t, calls, []string{
		"click account-link",
		`fill email "buyer@example.com"`,
		`fill password "secret"`,
		"click submit",
		`fill search-box "USB-C Cable"`,
	})
	assert.True(t, pages[0].Released())
	assert.Equal(t, "release reused=false", calls[len(calls)-1])
}

func TestRunFreshLaunchWithoutCredentialsFailsAtLogin(t *testing.T) {
	store := newStorefront("USB-C Cable")
	store.signedIn = false
	shots := &shotRecorder{}
	b := NewBuyer(store.connector(), Options{BaseURL: storeBase, Screenshots: shots}, zap.NewNop())

	report, err := b.Run(context.Background(), "USB-C Cable", Fast)
	require.NoError(t, err)
	assert.False(t, report.Success)
	assert.Equal(t, LoggedIn, report.FailedAt)
	assert.Contains(t, report.Reason, ErrNoCredentials.Error())
	assert.Equal(t, []string{"login-failed"}, shots.Tags())
}

func TestRunSafeNavigationalAddToCart(t *testing.T) {
	store := newStorefront("USB-C Cable")
	store.cartClickErr = errors.New("element click intercepted: other element would receive the click")
	store.cartScriptErr = errors.New("Cannot read properties of null")
	store.cartHref = "/cart/added?asin=B0TEST"
	b, shots, _ := newTestBuyer(store, false)

	report, err := b.Run(context.Background(), "USB-C Cable", Safe)
	require.NoError(t, err)
	require.True(t, report.Success, report.Reason)
	assert.Equal(t, CheckoutReached, report.Stage)

	cart := report.Action(InCart)
	require.NotNil(t, cart)
	assert.Equal(t, "navigational", cart.Strategy)
	assert.Equal(t, 2, cart.Failures())
	require.Len(t, cart.Attempts, 3)
	assert.Equal(t, "direct", cart.Attempts[0].Strategy)
	assert.Equal(t, "scripted", cart.Attempts[1].Strategy)
	assert.True(t, cart.Confirmed)

	checkout := report.Action(CheckoutReached)
	require.NotNil(t, checkout)
	assert.Equal(t, "direct", checkout.Strategy)
	assert.Empty(t, shots.Tags())
}

func TestRunSelectedFailsTwiceWithSessionFatal(t *testing.T) {
	store := newStorefront("USB-C Cable")
	store.linkErr = errors.New("session deleted because of page crash")
	conn := store.connector()
	shots := &shotRecorder{}
	events := &eventLog{}
	b := NewBuyer(conn, Options{BaseURL: storeBase, Screenshots: shots, Observer: events.observe}, zap.NewNop())

	report, err := b.Run(context.Background(), "USB-C Cable", Fast)
	require.NoError(t, err)
	assert.False(t, report.Success)
	assert.Equal(t, Failed, report.Stage)
	assert.Equal(t, Selected, report.FailedAt)

	last := report.Stages[len(report.Stages)-1]
	assert.Equal(t, Selected, last.Stage)
	assert.Equal(t, 2, last.Attempts)

	// Recovery ran once, between the two attempts, never after the second.
	assert.Equal(t, 1, report.Recoveries)
	assert.Equal(t, 2, events.count(Selected, "started"))
	assert.Equal(t, 1, events.count(Selected, "recovered"))
	assert.Equal(t, []string{"connected", "unresponsive", "recovering", "connected", "detached"}, events.details("session"))
	_, launches := conn.Counts()
	assert.Equal(t, 2, launches)
	assert.True(t, conn.Pages()[0].Released())

	assert.Equal(t, []string{"product-selection-failed"}, shots.Tags())
	assert.Len(t, report.Screenshots, 1)
}

func TestRunSelectedRetriesAfterPauseOnOrdinaryMiss(t *testing.T) {
	store := newStorefront("USB-C Cable")
	store.linkDelay = true
	b, _, events := newTestBuyer(store, false)

	report, err := b.Run(context.Background(), "USB-C Cable", Fast)
	require.NoError(t, err)
	require.True(t, report.Success, report.Reason)

	var selected StageResult
	for _, s := range report.Stages {
		if s.Stage == Selected {
			selected = s
		}
	}
	assert.Equal(t, 2, selected.Attempts)
	assert.Zero(t, report.Recoveries)
	assert.Equal(t, 1, events.count(Selected, "retry"))
	assert.Zero(t, events.count(Selected, "recovered"))
}

func TestRunRecoveryFailureAbortsRun(t *testing.T) {
	store := newStorefront("USB-C Cable")
	store.linkErr = errors.New("Target closed")
	conn := store.connector()
	store.onResults = func() { conn.LaunchErr = errors.New("chrome failed to start") }
	b := NewBuyer(conn, Options{BaseURL: storeBase}, zap.NewNop())

	report, err := b.Run(context.Background(), "USB-C Cable", Fast)
	require.ErrorIs(t, err, session.ErrRecoveryFailed)
	require.NotNil(t, report)
	assert.Equal(t, Selected, report.FailedAt)
	assert.Equal(t, "failed", b.Status().Session)

	ok, _ := NewBuyer(conn, Options{BaseURL: storeBase}, zap.NewNop()).RunFast(context.Background(), "USB-C Cable")
	assert.False(t, ok)
}

func TestRunSearchFallsBackToResultsURL(t *testing.T) {
	store := newStorefront("USB-C Cable")
	store.brokenSearch = true
	conn := store.connector()
	b := NewBuyer(conn, Options{BaseURL: storeBase}, zap.NewNop())

	profile := Fast
	profile.PageLoadTimeout = 400 * time.Millisecond
	report, err := b.Run(context.Background(), "USB-C Cable", profile)
	require.NoError(t, err)
	require.True(t, report.Success, report.Reason)

	var searched StageResult
	for _, s := range report.Stages {
		if s.Stage == Searched {
			searched = s
		}
	}
	assert.Equal(t, "searched via results URL", searched.Detail)
	assert.Contains(t, conn.Pages()[0].Calls(), "navigate "+searchURL(storeBase, "USB-C Cable"))
}

func TestRunEmptyProduct(t *testing.T) {
	store := newStorefront("")
	conn := store.connector()
	b := NewBuyer(conn, Options{BaseURL: storeBase}, zap.NewNop())

	report, err := b.Run(context.Background(), "   ", Fast)
	require.NoError(t, err)
	assert.False(t, report.Success)
	assert.Equal(t, Init, report.FailedAt)
	assert.Empty(t, conn.Pages(), "no browser is touched for an empty product")
}

func TestRunConnectFailure(t *testing.T) {
	store := newStorefront("USB-C Cable")
	conn := store.connector()
	conn.LaunchErr = errors.New("executable not found")
	b := NewBuyer(conn, Options{BaseURL: storeBase}, zap.NewNop())

	report, err := b.Run(context.Background(), "USB-C Cable", Fast)
	require.NoError(t, err)
	assert.Equal(t, Init, report.FailedAt)
	assert.Contains(t, report.Reason, "executable not found")
}

func TestRunRejectsConcurrentRuns(t *testing.T) {
	store := newStorefront("USB-C Cable")
	var nested error
	var b *Buyer
	b = NewBuyer(store.connector(), Options{
		BaseURL: storeBase,
		Observer: func(e Event) {
			if e.Stage == Init && e.Status == "started" {
				_, nested = b.Run(context.Background(), "other", Fast)
			}
		},
	}, zap.NewNop())

	report, err := b.Run(context.Background(), "USB-C Cable", Fast)
	require.NoError(t, err)
	assert.True(t, report.Success)
	assert.ErrorIs(t, nested, ErrBusy)
	assert.False(t, b.Status().Running)
}

func TestRunReusesPreparedSessionWithoutClosingIt(t *testing.T) {
	store := newStorefront("USB-C Cable")
	conn := store.connector()
	b := NewBuyer(conn, Options{BaseURL: storeBase, Reuse: true}, zap.NewNop())

	ok, _ := b.RunFast(context.Background(), "USB-C Cable")
	require.True(t, ok)

	attaches, launches := conn.Counts()
	assert.Equal(t, 1, attaches)
	assert.Zero(t, launches)
	calls := conn.Pages()[0].Calls()
	assert.Equal(t, "release reused=true", calls[len(calls)-1])
}

func TestRunCanceled(t *testing.T) {
	store := newStorefront("USB-C Cable")
	store.signedIn = false
	ctx, cancel := context.WithCancel(context.Background())
	b := NewBuyer(store.connector(), Options{
		BaseURL: storeBase,
		Auth:    &FormLogin{Email: "buyer@example.com", Password: "secret"},
		Observer: func(e Event) {
			if e.Stage == LoggedIn && e.Status == "started" {
				cancel()
			}
		},
	}, zap.NewNop())

	start := time.Now()
	report, err := b.Run(ctx, "USB-C Cable", Safe)
	require.NoError(t, err)
	assert.Equal(t, LoggedIn, report.FailedAt)
	assert.True(t, strings.Contains(report.Reason, "context canceled"), report.Reason)
	assert.Less(t, time.Since(start), time.Second)
}
