package server

import (
	"bytes"
	"encoding/base64"
	"encoding/json"
	"net/http"
	"net/http/httptest"
	"strings"
	"testing"
	"time"

	"flash-buyer/internal/browser/browsertest"
	"flash-buyer/internal/purchase"

	"github.com/gorilla/websocket"
	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"
	"go.uber.org/zap"
)

const storeURL = "https://shop.test"

type fixture struct {
	srv   *Server
	http  *httptest.Server
	buyer *purchase.Buyer
	conn  *browsertest.Connector
	gate  chan struct{}
}

// newFixture serves a buyer whose browser launch waits on gate. The page has
// no storefront, so every run fails at sign-in shortly after the gate opens.
func newFixture(t *testing.T) *fixture {
	t.Helper()
	f := &fixture{gate: make(chan struct{})}
	f.conn = &browsertest.Connector{New: func() *browsertest.Page {
		<-f.gate
		return browsertest.NewPage(storeURL + "/")
	}}

	hub := NewHub()
	f.buyer = purchase.NewBuyer(f.conn, purchase.Options{
		BaseURL:  storeURL,
		Observer: hub.Publish,
	}, zap.NewNop())
	f.srv = NewServer(f.buyer, hub, Options{DefaultMode: "fast", RunTimeout: time.Minute}, zap.NewNop())
	f.http = httptest.NewServer(f.srv.Handler())
	t.Cleanup(func() {
		f.open()
		f.http.Close()
		f.srv.cancelRun()
	})
	return f
}

func (f *fixture) open() {
	select {
	case <-f.gate:
	default:
		close(f.gate)
	}
}

func (f *fixture) waitIdle(t *testing.T) {
	t.Helper()
	require.Eventually(t, func() bool { return !f.buyer.Status().Running }, 5*time.Second, 10*time.Millisecond)
}

func post(t *testing.T, url, body string) (int, ActionResponse) {
	t.Helper()
	resp, err := http.Post(url, "application/json", bytes.NewBufferString(body))
	require.NoError(t, err)
	defer resp.Body.Close()

	var out ActionResponse
	require.NoError(t, json.NewDecoder(resp.Body).Decode(&out))
	return resp.StatusCode, out
}

func get(t *testing.T, url string) (int, ActionResponse) {
	t.Helper()
	resp, err := http.Get(url)
	require.NoError(t, err)
	defer resp.Body.Close()

	var out ActionResponse
	require.NoError(t, json.NewDecoder(resp.Body).Decode(&out))
	return resp.StatusCode, out
}

func TestPurchaseValidation(t *testing.T) {
	f := newFixture(t)

	tests := []struct {
		name string
		body string
	}{
		{"malformed", `{"product":`},
		{"missing product", `{"mode":"fast"}`},
		{"unknown mode", `{"product":"usb cable","mode":"turbo"}`},
	}
	for _, tt := range tests {
		t.Run(tt.name, func(t *testing.T) {
			code, resp := post(t, f.http.URL+"/api/purchase", tt.body)
			assert.Equal(t, http.StatusBadRequest, code)
			assert.False(t, resp.Success)
		})
	}
	_, launches := f.conn.Counts()
	assert.Zero(t, launches)
}

func TestPurchaseConflictWhileRunning(t *testing.T) {
	f := newFixture(t)

	code, resp := post(t, f.http.URL+"/api/purchase", `{"product":"usb cable"}`)
	require.Equal(t, http.StatusAccepted, code)
	data := resp.Data.(map[string]interface{})
	assert.Equal(t, "fast", data["mode"])
	assert.NotEmpty(t, data["run_id"])

	code, resp = post(t, f.http.URL+"/api/purchase", `{"product":"hdmi cable","mode":"safe"}`)
	assert.Equal(t, http.StatusConflict, code)
	assert.Contains(t, resp.Message, "already in progress")

	f.open()
	f.waitIdle(t)

	st := f.buyer.Status()
	require.NotNil(t, st.LastReport)
	assert.False(t, st.LastReport.Success)
	assert.Equal(t, purchase.LoggedIn, st.LastReport.FailedAt)
	assert.Equal(t, "usb cable", st.LastReport.Product)
}

func TestStatus(t *testing.T) {
	f := newFixture(t)
	f.open()

	code, resp := get(t, f.http.URL+"/api/status")
	require.Equal(t, http.StatusOK, code)
	data := resp.Data.(map[string]interface{})
	assert.Equal(t, false, data["running"])
	assert.Equal(t, "detached", data["session"])
	assert.NotContains(t, data, "last_report")

	post(t, f.http.URL+"/api/purchase", `{"product":"usb cable"}`)
	f.waitIdle(t)

	_, resp = get(t, f.http.URL+"/api/status")
	data = resp.Data.(map[string]interface{})
	report := data["last_report"].(map[string]interface{})
	assert.Equal(t, "failed", report["stage"])
	assert.Equal(t, "logged-in", report["failed_at"])
}

func TestScreenshotWithoutSession(t *testing.T) {
	f := newFixture(t)

	code, resp := get(t, f.http.URL+"/api/screenshot")
	assert.Equal(t, http.StatusServiceUnavailable, code)
	assert.False(t, resp.Success)
}

func TestScreenshotDuringRun(t *testing.T) {
	f := newFixture(t)
	page := browsertest.NewPage(storeURL + "/")
	page.Shot = []byte("live-png")
	// Keep the run alive on the sign-in stage until the test is done.
	page.Set("#nav-link-accountList-nav-line-1", &browsertest.Element{Label: "Hello, sign in", AppearAfter: time.Hour})
	f.conn.New = func() *browsertest.Page { return page }
	f.buyer = purchase.NewBuyer(f.conn, purchase.Options{BaseURL: storeURL}, zap.NewNop())
	f.srv.buyer = f.buyer

	post(t, f.http.URL+"/api/purchase", `{"product":"usb cable","mode":"safe"}`)
	require.Eventually(t, func() bool { return f.buyer.Status().Session == "connected" }, 5*time.Second, 10*time.Millisecond)

	code, resp := get(t, f.http.URL+"/api/screenshot")
	require.Equal(t, http.StatusOK, code)
	img := resp.Data.(map[string]interface{})["image"].(string)
	raw, err := base64.StdEncoding.DecodeString(img)
	require.NoError(t, err)
	assert.Equal(t, "live-png", string(raw))

	f.srv.cancelRun()
	f.waitIdle(t)
}

func TestWebSocketStreamsEvents(t *testing.T) {
	f := newFixture(t)

	wsURL := "ws" + strings.TrimPrefix(f.http.URL, "http") + "/ws"
	conn, _, err := websocket.DefaultDialer.Dial(wsURL, nil)
	require.NoError(t, err)
	defer conn.Close()
	require.Eventually(t, func() bool { return f.srv.hub.subscribers() == 1 }, time.Second, 5*time.Millisecond)

	f.open()
	post(t, f.http.URL+"/api/purchase", `{"product":"usb cable"}`)

	var statuses []string
	require.NoError(t, conn.SetReadDeadline(time.Now().Add(5*time.Second)))
	for {
		var ev purchase.Event
		require.NoError(t, conn.ReadJSON(&ev))
		statuses = append(statuses, ev.Stage.String()+":"+ev.Status)
		if ev.Status == "done" {
			break
		}
	}
	assert.Equal(t, "init:started", statuses[0])
	assert.Contains(t, statuses, "logged-in:failed")
}
