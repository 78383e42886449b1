package purchase

import (
	"net/url"
	"strings"
	"sync"
	"time"

	"flash-buyer/internal/browser/browsertest"
)

const (
	storeBase  = "https://shop.test"
	signInPath = "/ap/signin"
)

// storefront routes fake pages the way the real storefront lays them out.
type storefront struct {
	product string
	// signedIn is the account cookie, shared by every tab of the browser.
	signedIn bool
	// brokenSearch makes the search box swallow submits.
	brokenSearch bool

	linkErr       error
	linkDelay     bool
	cartClickErr  error
	cartScriptErr error
	cartHref      string

	onResults func()
}

func newStorefront(product string) *storefront {
	return &storefront{product: product, signedIn: true}
}

func (s *storefront) connector() *browsertest.Connector {
	return &browsertest.Connector{New: func() *browsertest.Page {
		p := browsertest.NewPage("about:blank")
		p.OnNavigate = s.route
		return p
	}}
}

func (s *storefront) header(p *browsertest.Page) {
	box := &browsertest.Element{Name: "search-box"}
	box.OnSubmit = func(p *browsertest.Page) {
		if s.brokenSearch {
			return
		}
		p.Goto(storeBase + "/s?k=" + url.QueryEscape(box.Value))
	}
	p.Set("#twotabsearchtextbox", box)

	greeting := "Hello, sign in"
	if s.signedIn {
		greeting = "Hello, Priya"
	}
	p.Set("#nav-link-accountList-nav-line-1", &browsertest.Element{Label: greeting})
	p.Set("#nav-link-accountList", &browsertest.Element{
		Name:    "account-link",
		OnClick: func(p *browsertest.Page) { p.Goto(storeBase + signInPath) },
	})
	p.Set("#nav-logo", &browsertest.Element{Name: "logo"})
}

// signInForm is the two-step sign-in; submitting sets the account cookie
// and returns to the home page.
func (s *storefront) signInForm(p *browsertest.Page, step string) {
	if step != "password" {
		p.Set("#ap_email", &browsertest.Element{Name: "email"})
		p.Set("#continue", &browsertest.Element{
			Name:    "continue",
			OnClick: func(p *browsertest.Page) { p.Goto(storeBase + signInPath + "?step=password") },
		})
		return
	}
	p.Set("#ap_password", &browsertest.Element{Name: "password"})
	p.Set("#signInSubmit", &browsertest.Element{Name: "submit", OnClick: func(p *browsertest.Page) {
		s.signedIn = true
		p.Goto(storeBase + "/")
	}})
}

func (s *storefront) route(p *browsertest.Page, raw string) {
	u, err := url.Parse(raw)
	if err != nil {
		return
	}
	p.Clear()
	if u.Path == signInPath {
		s.signInForm(p, u.Query().Get("step"))
		return
	}
	s.header(p)

	switch {
	case u.Path == "/s":
		if s.onResults != nil {
			s.onResults()
		}
		link := &browsertest.Element{
			Name:     "product-link",
			Label:    s.product,
			Attrs:    map[string]string{"href": "/dp/B0TEST", "target": "_blank"},
			ClickErr: s.linkErr,
			OnClick:  func(p *browsertest.Page) { p.Goto(storeBase + "/dp/B0TEST") },
		}
		if s.linkDelay {
			s.linkDelay = false
			link.AppearAfter = 400 * time.Millisecond
		}
		p.Set("[data-component-type='s-search-result']", &browsertest.Element{Name: "result"})
		p.Set("[data-component-type='s-search-result'] h2 a", link)

	case strings.HasPrefix(u.Path, "/dp/"):
		p.Set("#productTitle", &browsertest.Element{Label: "  " + s.product + " 1m, Braided  "})
		attrs := map[string]string{}
		if s.cartHref != "" {
			attrs["href"] = s.cartHref
		}
		p.Set("#add-to-cart-button", &browsertest.Element{
			Name:           "add-to-cart",
			Attrs:          attrs,
			ClickErr:       s.cartClickErr,
			ScriptClickErr: s.cartScriptErr,
			OnClick:        func(p *browsertest.Page) { p.Goto(storeBase + "/cart/added") },
		})

	case strings.HasPrefix(u.Path, "/cart/added"):
		p.Set("#sw-atc-confirmation", &browsertest.Element{Label: "Added to Cart"})

	case u.Path == cartViewPath:
		p.Set("input[name='proceedToRetailCheckout']", &browsertest.Element{
			Name:    "checkout",
			OnClick: func(p *browsertest.Page) { p.Goto(storeBase + "/checkout/spc") },
		})
	}
}

type shotRecorder struct {
	mu   sync.Mutex
	tags []string
}

func (r *shotRecorder) Save(runID, tag string, png []byte) (string, error) {
	r.mu.Lock()
	defer r.mu.Unlock()
	r.tags = append(r.tags, tag)
	return "screenshots/" + runID + "_" + tag + ".png", nil
}

func (r *shotRecorder) Tags() []string {
	r.mu.Lock()
	defer r.mu.Unlock()
	return append([]string(nil), r.tags...)
}

type eventLog struct {
	mu     sync.Mutex
	events []Event
}

func (l *eventLog) observe(e Event) {
	l.mu.Lock()
	l.events = append(l.events, e)
	l.mu.Unlock()
}

func (l *eventLog) count(stage Stage, status string) int {
	l.mu.Lock()
	defer l.mu.Unlock()
	n := 0
	for _, e := range l.events {
		if e.Stage == stage && e.Status == status {
			n++
		}
	}
	return n
}

// details lists the Detail of every event with status, in order.
func (l *eventLog) details(status string) []string {
	l.mu.Lock()
	defer l.mu.Unlock()
	var out []string
	for _, e := range l.events {
		if e.Status == status {
			out = append(out, e.Detail)
		}
	}
	return out
}
