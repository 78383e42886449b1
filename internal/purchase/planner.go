package purchase

import "fmt"

// Stage is a pipeline position. A run only moves forward through stages.
type Stage int

const (
	Init Stage = iota
	LoggedIn
	Searched
	Selected
	InCart
	CheckoutReached
	Failed
)

func (s Stage) String() string {
	switch s {
	case Init:
		return "init"
	case LoggedIn:
		return "logged-in"
	case Searched:
		return "searched"
	case Selected:
		return "selected"
	case InCart:
		return "in-cart"
	case CheckoutReached:
		return "checkout-reached"
	case Failed:
		return "failed"
	default:
		return fmt.Sprintf("stage(%d)", int(s))
	}
}

// MarshalText lets stages appear by name in JSON reports and events.
func (s Stage) MarshalText() ([]byte, error) {
	return []byte(s.String()), nil
}

func (s *Stage) UnmarshalText(text []byte) error {
	for st := Init; st <= Failed; st++ {
		if st.String() == string(text) {
			*s = st
			return nil
		}
	}
	return fmt.Errorf("unknown stage %q", text)
}

// Step is one planned stage transition.
type Step struct {
	Stage Stage
	// MaxAttempts is the total number of tries, including the first.
	MaxAttempts int
	// ScreenshotTag names the failure screenshot.
	ScreenshotTag string
}

// Plan is the ordered stage list of a run.
type Plan struct {
	Profile TimingProfile
	Steps   []Step
}

const selectAttempts = 2

// NewPlan lays out the stages for profile. Checkout is planned only when the
// profile allows it, and it is always the last step: nothing after it
// touches payment.
func NewPlan(profile TimingProfile) *Plan {
	steps := []Step{
		{Stage: LoggedIn, MaxAttempts: 1, ScreenshotTag: "login-failed"},
		{Stage: Searched, MaxAttempts: 1, ScreenshotTag: "search-failed"},
		{Stage: Selected, MaxAttempts: selectAttempts, ScreenshotTag: "product-selection-failed"},
		{Stage: InCart, MaxAttempts: 1, ScreenshotTag: "add-to-cart-error"},
	}
	if profile.Checkout {
		steps = append(steps, Step{Stage: CheckoutReached, MaxAttempts: 1, ScreenshotTag: "checkout-failed"})
	}
	return &Plan{Profile: profile, Steps: steps}
}

// Final is the stage a fully successful run ends in.
func (p *Plan) Final() Stage {
	return p.Steps[len(p.Steps)-1].Stage
}
