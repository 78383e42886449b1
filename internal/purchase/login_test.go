package purchase

import (
	"context"
	"testing"

	"flash-buyer/internal/browser/browsertest"

	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"
	"go.uber.org/zap"
)

// signInPage builds a two-step sign-in flow behind the account link.
func signInPage() *browsertest.Page {
	p := browsertest.NewPage(storeBase + "/")

	var home, emailStep, passwordStep func(p *browsertest.Page)
	home = func(p *browsertest.Page) {
		p.Clear()
		p.Set("#nav-link-accountList-nav-line-1", &browsertest.Element{Label: "Hello, sign in"})
		p.Set("#nav-link-accountList", &browsertest.Element{Name: "account-link", OnClick: emailStep})
	}
	emailStep = func(p *browsertest.Page) {
		p.Clear()
		p.Set("#ap_email", &browsertest.Element{Name: "email"})
		p.Set("#continue", &browsertest.Element{Name: "continue", OnClick: passwordStep})
	}
	passwordStep = func(p *browsertest.Page) {
		p.Clear()
		p.Set("#ap_password", &browsertest.Element{Name: "password"})
		p.Set("#signInSubmit", &browsertest.Element{Name: "submit", OnClick: func(p *browsertest.Page) {
			p.Clear()
			p.Set("#nav-logo", &browsertest.Element{Name: "logo"})
			p.Set("#nav-link-accountList-nav-line-1", &browsertest.Element{Label: "Hello, Priya"})
		}})
	}
	home(p)
	return p
}

func TestFormLoginFullFlow(t *testing.T) {
	page := signInPage()
	env := newEnv(page, Fast, storeBase, zap.NewNop())

	login := &FormLogin{Email: "buyer@example.com", Password: "hunter2"}
	require.NoError(t, login.SignIn(context.Background(), env))

	assert.Equal(t, []string{
		"click account-link",
		`fill email "buyer@example.com"`,
		"click continue",
		`fill password "hunter2"`,
		"click submit",
	}, page.Calls())
	assert.True(t, signedIn(context.Background(), env))
}

func TestFormLoginSkipsWhenSignedIn(t *testing.T) {
	page := browsertest.NewPage(storeBase + "/")
	page.Set("#nav-link-accountList-nav-line-1", &browsertest.Element{Label: "Hello, Priya"})
	env := newEnv(page, Fast, storeBase, zap.NewNop())

	require.NoError(t, (&FormLogin{}).SignIn(context.Background(), env))
	assert.Empty(t, page.Calls())
}

func TestFormLoginNeedsCredentials(t *testing.T) {
	env := newEnv(signInPage(), Fast, storeBase, zap.NewNop())
	err := (&FormLogin{Email: "buyer@example.com"}).SignIn(context.Background(), env)
	assert.ErrorIs(t, err, ErrNoCredentials)
}

func TestMaskEmail(t *testing.T) {
	assert.Equal(t, "b****@example.com", maskEmail("buyer@example.com"))
	assert.Equal(t, "***", maskEmail("x@y"))
	assert.Equal(t, "***", maskEmail("nobody"))
}

func TestPrepareSessionParksOnHome(t *testing.T) {
	page := signInPage()
	login := &FormLogin{Email: "buyer@example.com", Password: "hunter2"}

	require.NoError(t, PrepareSession(context.Background(), page, storeBase+"/", login, zap.NewNop()))

	calls := page.Calls()
	require.NotEmpty(t, calls)
	assert.Equal(t, "navigate "+storeBase, calls[0])
	assert.Equal(t, "navigate "+storeBase, calls[len(calls)-1])
	assert.Contains(t, calls, "click submit")
}
