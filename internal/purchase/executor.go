package purchase

import (
	"context"
	"errors"
	"fmt"
	"net/url"
	"strings"
	"time"

	"flash-buyer/internal/action"
	"flash-buyer/internal/browser"
	"flash-buyer/internal/locator"
	"flash-buyer/internal/session"

	"go.uber.org/zap"
)

const (
	searchPath   = "/s"
	cartViewPath = "/gp/cart/view.html"

	sameTabScript = `(el) => { el.removeAttribute('target'); return true; }`
)

// Env is what a stage works with. It is rebuilt for every attempt so a
// recovered session is picked up.
type Env struct {
	Driver   browser.Driver
	Resolver *locator.Resolver
	Actions  *action.Executor
	Profile  TimingProfile
	BaseURL  string
	Log      *zap.Logger
}

func newEnv(d browser.Driver, profile TimingProfile, baseURL string, log *zap.Logger) *Env {
	return &Env{
		Driver:   d,
		Resolver: locator.NewResolver(log.Named("locator"), session.IsFatal),
		Actions: action.New(log.Named("action"), action.Timing{
			SettleDelay:         profile.PostActionSettleDelay,
			VerificationTimeout: profile.VerificationTimeout,
		}, session.IsFatal, locator.CartConfirmation.Selectors),
		Profile: profile,
		BaseURL: strings.TrimRight(baseURL, "/"),
		Log:     log,
	}
}

// locate resolves the target structurally and, once every selector has
// missed, by its text phrases.
func (e *Env) locate(ctx context.Context, t locator.Target, budget time.Duration) (*locator.Match, error) {
	m, err := e.Resolver.Resolve(ctx, e.Driver, t.Candidates(budget))
	if err == nil || !errors.Is(err, locator.ErrNotFound) || len(t.Phrases) == 0 {
		return m, err
	}

	e.Log.Debug("structural selectors exhausted, scanning text", zap.String("target", t.Name))
	m, phrase, err := e.Resolver.FindByText(ctx, e.Driver, t.Phrases)
	if err != nil {
		return nil, err
	}
	e.Log.Info("located by text", zap.String("target", t.Name), zap.String("phrase", phrase.Text))
	return m, nil
}

// waitFor resolves a page-level marker after a navigation.
func (e *Env) waitFor(ctx context.Context, t locator.Target) (*locator.Match, error) {
	return e.Resolver.Resolve(ctx, e.Driver, t.Candidates(e.Profile.pageBudget(len(t.Selectors))))
}

func (e *Env) navigate(ctx context.Context, u string) error {
	nctx, cancel := context.WithTimeout(ctx, e.Profile.NavigationTimeout)
	defer cancel()
	return e.Driver.Navigate(nctx, u)
}

func searchURL(base, query string) string {
	return base + searchPath + "?k=" + url.QueryEscape(query)
}

// execute runs the work that moves the run into stage.
func (r *runner) execute(ctx context.Context, env *Env, stage Stage) (string, error) {
	switch stage {
	case LoggedIn:
		if err := r.auth.SignIn(ctx, env); err != nil {
			return "", fmt.Errorf("login: %w", err)
		}
		return "signed in", nil
	case Searched:
		return r.search(ctx, env)
	case Selected:
		return r.selectProduct(ctx, env)
	case InCart:
		return r.addToCart(ctx, env)
	case CheckoutReached:
		return r.checkout(ctx, env)
	default:
		return "", fmt.Errorf("stage %s has no executor", stage)
	}
}

func (r *runner) search(ctx context.Context, env *Env) (string, error) {
	box, err := env.Resolver.Resolve(ctx, env.Driver, locator.SearchBox.Candidates(env.Profile.PerCandidateTimeout))
	if err == nil {
		if err = box.Element.Fill(ctx, r.product, true); err == nil {
			if _, err = env.waitFor(ctx, locator.SearchResults); err == nil {
				r.rememberResults(ctx, env)
				return "searched via " + box.Selector, nil
			}
		}
	}
	if ctx.Err() != nil || session.IsFatal(err) {
		return "", err
	}

	target := searchURL(env.BaseURL, r.product)
	env.Log.Warn("search box path failed, loading results directly", zap.Error(err), zap.String("url", target))
	if err := env.navigate(ctx, target); err != nil {
		return "", fmt.Errorf("load search results: %w", err)
	}
	if _, err := env.waitFor(ctx, locator.SearchResults); err != nil {
		return "", fmt.Errorf("no search results for %q: %w", r.product, err)
	}
	r.rememberResults(ctx, env)
	return "searched via results URL", nil
}

func (r *runner) rememberResults(ctx context.Context, env *Env) {
	if loc, err := env.Driver.CurrentLocation(ctx); err == nil {
		r.resultsURL = loc
	}
}

func (r *runner) selectProduct(ctx context.Context, env *Env) (string, error) {
	// A retry after recovery starts from the landing page.
	if r.resultsURL != "" {
		loc, err := env.Driver.CurrentLocation(ctx)
		if err != nil {
			return "", err
		}
		if loc != r.resultsURL {
			env.Log.Info("returning to search results", zap.String("url", r.resultsURL))
			if err := env.navigate(ctx, r.resultsURL); err != nil {
				return "", fmt.Errorf("reload search results: %w", err)
			}
			if _, err := env.waitFor(ctx, locator.SearchResults); err != nil {
				return "", fmt.Errorf("search results: %w", err)
			}
		}
	}

	link, err := env.Resolver.Resolve(ctx, env.Driver, locator.ProductLink.Candidates(env.Profile.PerCandidateTimeout))
	if err != nil {
		return "", fmt.Errorf("product link: %w", err)
	}
	if _, err := link.Element.Eval(ctx, sameTabScript); err != nil && session.IsFatal(err) {
		return "", err
	}
	name, _ := link.Element.Text(ctx)

	res, err := env.Actions.Perform(ctx, env.Driver, link.Element, action.OpenProduct)
	if err != nil {
		return "", err
	}
	r.recordAction(Selected, res)

	title, err := env.waitFor(ctx, locator.ProductPage)
	if err != nil {
		return "", fmt.Errorf("product page did not load: %w", err)
	}
	if text, err := title.Element.Text(ctx); err == nil {
		r.report.ProductTitle = strings.TrimSpace(text)
	} else {
		r.report.ProductTitle = strings.TrimSpace(name)
	}
	env.Log.Info("product selected", zap.String("title", r.report.ProductTitle))
	return "opened " + r.report.ProductTitle, nil
}

func (r *runner) addToCart(ctx context.Context, env *Env) (string, error) {
	btn, err := env.locate(ctx, locator.AddToCart, env.Profile.PerCandidateTimeout)
	if err != nil {
		return "", fmt.Errorf("add-to-cart button: %w", err)
	}

	res, err := env.Actions.Perform(ctx, env.Driver, btn.Element, action.AddToCart)
	if err != nil {
		return "", err
	}
	r.recordAction(InCart, res)

	detail := fmt.Sprintf("added via %s", res.Strategy)
	if res.Confirmed {
		detail += ", confirmed by " + res.Indicator
	}
	return detail, nil
}

// checkout opens the cart and proceeds to the checkout page. It stops there:
// nothing in this package submits payment.
func (r *runner) checkout(ctx context.Context, env *Env) (string, error) {
	if err := env.navigate(ctx, env.BaseURL+cartViewPath); err != nil {
		return "", fmt.Errorf("open cart: %w", err)
	}

	btn, err := env.locate(ctx, locator.Checkout, env.Profile.PerCandidateTimeout)
	if err != nil {
		return "", fmt.Errorf("proceed-to-checkout button: %w", err)
	}
	res, err := env.Actions.Perform(ctx, env.Driver, btn.Element, action.ProceedToCheckout)
	if err != nil {
		return "", err
	}
	r.recordAction(CheckoutReached, res)

	env.Log.Warn("stopped before payment; complete the order manually")
	return "checkout page reached, stopped before payment", nil
}
