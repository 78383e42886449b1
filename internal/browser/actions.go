package browser

import (
	"context"
	"encoding/json"
	"fmt"

	"github.com/chromedp/cdproto/cdp"
	"github.com/chromedp/cdproto/dom"
	"github.com/chromedp/cdproto/runtime"
	"github.com/chromedp/chromedp"
	"github.com/chromedp/chromedp/kb"
)

// chromeElement is a node handle from a chromedp Query snapshot.
type chromeElement struct {
	c    *Chrome
	node *cdp.Node
}

// Click dispatches a native mouse click at the node's center.
func (e *chromeElement) Click(ctx context.Context) error {
	if err := e.c.run(ctx, chromedp.MouseClickNode(e.node)); err != nil {
		return fmt.Errorf("click failed on <%s>: %w", e.node.LocalName, err)
	}
	return nil
}

func (e *chromeElement) IsVisible(ctx context.Context) (bool, error) {
	return e.evalBool(ctx, visibleScript)
}

func (e *chromeElement) IsEnabled(ctx context.Context) (bool, error) {
	return e.evalBool(ctx, enabledScript)
}

func (e *chromeElement) Attribute(ctx context.Context, name string) (string, error) {
	quoted, err := json.Marshal(name)
	if err != nil {
		return "", err
	}
	v, err := e.Eval(ctx, fmt.Sprintf(`(el) => el.getAttribute(%s) || ''`, quoted))
	if err != nil {
		return "", err
	}
	s, _ := v.(string)
	return s, nil
}

func (e *chromeElement) Text(ctx context.Context) (string, error) {
	v, err := e.Eval(ctx, textScript)
	if err != nil {
		return "", err
	}
	s, _ := v.(string)
	return s, nil
}

// Eval resolves the node to a remote object and calls fn with it.
func (e *chromeElement) Eval(ctx context.Context, fn string) (any, error) {
	var out any
	err := e.c.run(ctx, chromedp.ActionFunc(func(ctx context.Context) error {
		obj, err := dom.ResolveNode().WithBackendNodeID(e.node.BackendNodeID).Do(ctx)
		if err != nil {
			return fmt.Errorf("%w: %v", ErrStaleElement, err)
		}
		defer func() {
			_ = runtime.ReleaseObject(obj.ObjectID).Do(ctx)
		}()

		decl := fmt.Sprintf(`function() { const __r = (%s)(this); return { v: __r === undefined ? null : __r }; }`, fn)
		res, exc, err := runtime.CallFunctionOn(decl).
			WithObjectID(obj.ObjectID).
			WithReturnByValue(true).
			Do(ctx)
		if err != nil {
			return err
		}
		if exc != nil {
			return exc
		}

		var wrapped struct {
			V any `json:"v"`
		}
		if err := json.Unmarshal([]byte(res.Value), &wrapped); err != nil {
			return fmt.Errorf("decode script result: %w", err)
		}
		out = wrapped.V
		return nil
	}))
	if err != nil {
		return nil, fmt.Errorf("element script failed: %w", err)
	}
	return out, nil
}

func (e *chromeElement) Fill(ctx context.Context, text string, submit bool) error {
	if _, err := e.Eval(ctx, `(el) => { el.focus(); el.value = ''; return true; }`); err != nil {
		return err
	}
	if submit {
		text += kb.Enter
	}
	err := e.c.run(ctx, chromedp.SendKeys([]cdp.NodeID{e.node.NodeID}, text, chromedp.ByNodeID))
	if err != nil {
		return fmt.Errorf("type failed on <%s>: %w", e.node.LocalName, err)
	}
	return nil
}

func (e *chromeElement) evalBool(ctx context.Context, fn string) (bool, error) {
	v, err := e.Eval(ctx, fn)
	if err != nil {
		return false, err
	}
	b, _ := v.(bool)
	return b, nil
}
