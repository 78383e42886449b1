package locator

import "time"

// Target names a storefront element by its structural selectors, most
// specific first, and optionally by text phrases for the fallback scan.
type Target struct {
	Name      string
	Selectors []string
	Phrases   []MatchPhrase
}

// Candidates expands the target with a per-candidate budget.
func (t Target) Candidates(budget time.Duration) []Candidate {
	return Candidates(budget, t.Selectors...)
}

var (
	SearchBox = Target{
		Name: "search box",
		Selectors: []string{
			"#twotabsearchtextbox",
			"input[name='field-keywords']",
			"#nav-search-bar-form input[type='text']",
			"input[type='search']",
		},
	}

	SearchResults = Target{
		Name: "search results",
		Selectors: []string{
			"[data-component-type='s-search-result']",
			"div.s-result-item[data-asin]",
		},
	}

	ProductLink = Target{
		Name: "product link",
		Selectors: []string{
			"[data-component-type='s-search-result'] h2 a",
			"div[data-component-type='s-search-result'] a.a-link-normal[href*='/dp/']",
			"div[data-asin] h2 a",
			"a[href*='/dp/']",
		},
	}

	ProductPage = Target{
		Name:      "product title",
		Selectors: []string{"#productTitle", "#title"},
	}

	AddToCart = Target{
		Name: "add to cart",
		Selectors: []string{
			"#add-to-cart-button",
			"input[name='submit.add-to-cart']",
			"[data-testid='add-to-cart-button']",
			"#add-to-cart-button-ubb",
		},
		Phrases: []MatchPhrase{
			{Text: "add to cart", Rank: 0},
			{Text: "add to basket", Rank: 1},
			{Text: "buy now", Rank: 2},
		},
	}

	// CartConfirmation lists indicators that an add-to-cart took effect.
	CartConfirmation = Target{
		Name: "cart confirmation",
		Selectors: []string{
			"#NATC_SMART_WAGON_CONF_MSG_SUCCESS",
			"#sw-atc-confirmation",
			"#attachDisplayAddBaseAlert",
			"#huc-v2-order-row-confirm-text",
			"#nav-cart-count",
		},
	}

	Checkout = Target{
		Name: "proceed to checkout",
		Selectors: []string{
			"input[name='proceedToRetailCheckout']",
			"#sc-buy-box-ptc-button input",
			"[data-feature-id='proceed-to-checkout-action'] input",
		},
		Phrases: []MatchPhrase{
			{Text: "proceed to checkout", Rank: 0},
			{Text: "proceed to buy", Rank: 1},
		},
	}

	LoginEmail = Target{
		Name:      "email field",
		Selectors: []string{"#ap_email", "#ap_email_login", "input[name='email']"},
	}

	LoginContinue = Target{
		Name:      "continue button",
		Selectors: []string{"#continue", "input#continue", "span#continue input"},
		Phrases:   []MatchPhrase{{Text: "continue", Rank: 0}},
	}

	LoginPassword = Target{
		Name:      "password field",
		Selectors: []string{"#ap_password", "input[name='password']"},
	}

	LoginSubmit = Target{
		Name:      "sign-in button",
		Selectors: []string{"#signInSubmit", "input#signInSubmit"},
		Phrases:   []MatchPhrase{{Text: "sign in", Rank: 0}},
	}

	SignInLink = Target{
		Name:      "sign-in link",
		Selectors: []string{"#nav-link-accountList", "a[data-nav-role='signin']"},
	}

	// AccountGreeting carries "Hello, sign in" until the session is signed in.
	AccountGreeting = Target{
		Name:      "account greeting",
		Selectors: []string{"#nav-link-accountList-nav-line-1"},
	}

	SignedIn = Target{
		Name:      "home logo",
		Selectors: []string{"#nav-logo", "#nav-logo-sprites"},
	}
)
