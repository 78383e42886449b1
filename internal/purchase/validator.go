package purchase

import (
	"context"
	"fmt"
	"strings"

	"flash-buyer/internal/locator"

	"go.uber.org/zap"
)

// validate checks a stage's postcondition. The loose checks run in every
// profile; the strict ones only when the profile asks for them. InCart never
// fails validation: a missing confirmation after a successful click is only
// logged.
func (r *runner) validate(ctx context.Context, env *Env, stage Stage) error {
	strict := env.Profile.StrictValidation

	switch stage {
	case LoggedIn:
		if !strict {
			return nil
		}
		greeting, err := env.Resolver.Resolve(ctx, env.Driver, locator.AccountGreeting.Candidates(env.Profile.PerCandidateTimeout))
		if err != nil {
			// Layouts without the greeting cannot be checked.
			return nil
		}
		text, err := greeting.Element.Text(ctx)
		if err == nil && strings.Contains(strings.ToLower(text), "sign in") {
			return fmt.Errorf("account greeting still reads %q", strings.TrimSpace(text))
		}
		return nil

	case Searched:
		if !strict {
			return nil
		}
		for _, sel := range locator.SearchResults.Selectors {
			els, err := env.Driver.Query(ctx, sel)
			if err != nil {
				return err
			}
			if len(els) > 0 {
				env.Log.Debug("search results", zap.Int("count", len(els)))
				return nil
			}
		}
		return fmt.Errorf("search results disappeared")

	case Selected:
		if !strict {
			return nil
		}
		loc, err := env.Driver.CurrentLocation(ctx)
		if err != nil {
			return err
		}
		if !strings.Contains(loc, "/dp/") && !strings.Contains(loc, "/gp/product/") {
			return fmt.Errorf("not on a product page: %s", loc)
		}
		return nil

	case InCart:
		if res := r.report.action(InCart); res != nil && !res.Confirmed {
			env.Log.Warn("add-to-cart not confirmed on page; the click itself succeeded")
		}
		return nil

	case CheckoutReached:
		loc, err := env.Driver.CurrentLocation(ctx)
		if err != nil {
			return err
		}
		if strict && strings.Contains(loc, cartViewPath) {
			return fmt.Errorf("still on the cart page after proceeding to checkout")
		}
		return nil
	}
	return nil
}
