package browser

import (
	"context"
	"encoding/json"
	"fmt"
	"net/http"
	"net/url"
	"strings"
	"time"
)

// devtoolsTarget is one entry of the DevTools HTTP /json/list endpoint.
type devtoolsTarget struct {
	ID    string `json:"id"`
	Type  string `json:"type"`
	Title string `json:"title"`
	URL   string `json:"url"`
}

var devtoolsClient = &http.Client{Timeout: 5 * time.Second}

// debuggerBase turns "host:port", "ws://host:port/..." or "http://host:port"
// into the DevTools HTTP base URL.
func debuggerBase(addr string) (string, error) {
	addr = strings.TrimSpace(addr)
	if addr == "" {
		return "", ErrNoDebugTarget
	}
	if !strings.Contains(addr, "://") {
		addr = "http://" + addr
	}
	u, err := url.Parse(addr)
	if err != nil {
		return "", fmt.Errorf("invalid debugger address %q: %w", addr, err)
	}
	if u.Host == "" {
		return "", fmt.Errorf("invalid debugger address %q: missing host", addr)
	}
	return "http://" + u.Host, nil
}

func getDevtoolsJSON(ctx context.Context, addr, path string, out any) error {
	base, err := debuggerBase(addr)
	if err != nil {
		return err
	}

	req, err := http.NewRequestWithContext(ctx, http.MethodGet, base+path, nil)
	if err != nil {
		return fmt.Errorf("create request: %w", err)
	}
	resp, err := devtoolsClient.Do(req)
	if err != nil {
		return fmt.Errorf("debugger endpoint %s unreachable: %w", base, err)
	}
	defer resp.Body.Close()

	if resp.StatusCode != http.StatusOK {
		return fmt.Errorf("debugger endpoint %s returned %d", base, resp.StatusCode)
	}
	if err := json.NewDecoder(resp.Body).Decode(out); err != nil {
		return fmt.Errorf("decode %s%s: %w", base, path, err)
	}
	return nil
}

func browserWebSocketURL(ctx context.Context, addr string) (string, error) {
	var version struct {
		WebSocketDebuggerURL string `json:"webSocketDebuggerUrl"`
	}
	if err := getDevtoolsJSON(ctx, addr, "/json/version", &version); err != nil {
		return "", err
	}
	if version.WebSocketDebuggerURL == "" {
		return "", fmt.Errorf("debugger %s did not report a websocket URL", addr)
	}
	return version.WebSocketDebuggerURL, nil
}

func listTargets(ctx context.Context, addr string) ([]devtoolsTarget, error) {
	var targets []devtoolsTarget
	if err := getDevtoolsJSON(ctx, addr, "/json/list", &targets); err != nil {
		return nil, err
	}
	return targets, nil
}

// pickPageTarget prefers a regular web page over extension or devtools pages.
func pickPageTarget(targets []devtoolsTarget) (devtoolsTarget, error) {
	var fallback *devtoolsTarget
	for i := range targets {
		t := targets[i]
		if t.Type != "page" {
			continue
		}
		if strings.HasPrefix(t.URL, "http://") || strings.HasPrefix(t.URL, "https://") {
			return t, nil
		}
		if fallback == nil && !strings.HasPrefix(t.URL, "devtools://") && !strings.HasPrefix(t.URL, "chrome-extension://") {
			fallback = &targets[i]
		}
	}
	if fallback != nil {
		return *fallback, nil
	}
	return devtoolsTarget{}, ErrNoTarget
}
