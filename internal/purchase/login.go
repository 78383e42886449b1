package purchase

import (
	"context"
	"errors"
	"fmt"
	"strings"

	"flash-buyer/internal/action"
	"flash-buyer/internal/browser"
	"flash-buyer/internal/locator"

	"go.uber.org/zap"
)

// Authenticator brings the session to a signed-in state.
type Authenticator interface {
	SignIn(ctx context.Context, env *Env) error
}

// ErrNoCredentials is returned when a sign-in is needed but none are set.
var ErrNoCredentials = errors.New("sign-in required but no credentials configured")

// FormLogin signs in through the storefront's email and password forms. A
// session that already shows a personal greeting is left as is.
type FormLogin struct {
	Email    string
	Password string
}

func (f *FormLogin) SignIn(ctx context.Context, env *Env) error {
	if signedIn(ctx, env) {
		env.Log.Info("session already signed in, skipping login")
		return nil
	}
	if f.Email == "" || f.Password == "" {
		return ErrNoCredentials
	}

	link, err := env.Resolver.Resolve(ctx, env.Driver, locator.SignInLink.Candidates(env.Profile.PerCandidateTimeout))
	if err != nil {
		return fmt.Errorf("sign-in link: %w", err)
	}
	if _, err := env.Actions.Perform(ctx, env.Driver, link.Element, action.Click); err != nil {
		return err
	}

	email, err := env.waitFor(ctx, locator.LoginEmail)
	if err != nil {
		return fmt.Errorf("email field: %w", err)
	}
	if err := email.Element.Fill(ctx, f.Email, false); err != nil {
		return fmt.Errorf("enter email: %w", err)
	}

	// Single-page sign-in forms have no continue step.
	if cont, err := env.locate(ctx, locator.LoginContinue, env.Profile.PerCandidateTimeout); err == nil {
		if _, err := env.Actions.Perform(ctx, env.Driver, cont.Element, action.Click); err != nil {
			return err
		}
	} else if !errors.Is(err, locator.ErrNotFound) {
		return err
	}

	password, err := env.waitFor(ctx, locator.LoginPassword)
	if err != nil {
		return fmt.Errorf("password field: %w", err)
	}
	if err := password.Element.Fill(ctx, f.Password, false); err != nil {
		return fmt.Errorf("enter password: %w", err)
	}

	submit, err := env.locate(ctx, locator.LoginSubmit, env.Profile.PerCandidateTimeout)
	if err != nil {
		return fmt.Errorf("sign-in button: %w", err)
	}
	if _, err := env.Actions.Perform(ctx, env.Driver, submit.Element, action.Click); err != nil {
		return err
	}

	if _, err := env.waitFor(ctx, locator.SignedIn); err != nil {
		return fmt.Errorf("sign-in not confirmed: %w", err)
	}
	env.Log.Info("signed in", zap.String("email", maskEmail(f.Email)))
	return nil
}

// signedIn reads the account greeting, which says "sign in" until the
// session belongs to a customer.
func signedIn(ctx context.Context, env *Env) bool {
	greeting, err := env.Resolver.Resolve(ctx, env.Driver, locator.AccountGreeting.Candidates(env.Profile.PerCandidateTimeout))
	if err != nil {
		return false
	}
	text, err := greeting.Element.Text(ctx)
	if err != nil {
		return false
	}
	text = strings.ToLower(strings.TrimSpace(text))
	return text != "" && !strings.Contains(text, "sign in")
}

func maskEmail(email string) string {
	at := strings.IndexByte(email, '@')
	if at <= 1 {
		return "***"
	}
	return email[:1] + strings.Repeat("*", at-1) + email[at:]
}

// PrepareSession signs d in and parks it on the storefront home page, so a
// later run that reattaches starts signed in. It uses the Safe timings.
func PrepareSession(ctx context.Context, d browser.Driver, baseURL string, auth Authenticator, log *zap.Logger) error {
	if auth == nil {
		auth = &FormLogin{}
	}
	env := newEnv(d, Safe, baseURL, log)
	if err := env.navigate(ctx, env.BaseURL); err != nil {
		return fmt.Errorf("open storefront: %w", err)
	}
	if err := auth.SignIn(ctx, env); err != nil {
		return fmt.Errorf("sign in: %w", err)
	}
	if err := env.navigate(ctx, env.BaseURL); err != nil {
		return fmt.Errorf("return to storefront: %w", err)
	}
	return nil
}
