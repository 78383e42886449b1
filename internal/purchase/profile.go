package purchase

import (
	"fmt"
	"strings"
	"time"
)

// TimingProfile parameterizes every wait in a run. It is chosen once when the
// run starts and never changes during it.
type TimingProfile struct {
	Name                  string
	PerCandidateTimeout   time.Duration
	PostActionSettleDelay time.Duration
	VerificationTimeout   time.Duration
	NavigationTimeout     time.Duration
	// PageLoadTimeout bounds the wait for a page marker after a navigation.
	PageLoadTimeout       time.Duration
	ProbeTimeout          time.Duration
	RetryPause            time.Duration
	// StrictValidation enables the extra post-stage checks.
	StrictValidation      bool
	// Checkout continues from the cart to the checkout page, never further.
	Checkout              bool
}

var (
	Fast = TimingProfile{
		Name:                  "fast",
		PerCandidateTimeout:   300 * time.Millisecond,
		PostActionSettleDelay: 300 * time.Millisecond,
		VerificationTimeout:   750 * time.Millisecond,
		NavigationTimeout:     15 * time.Second,
		PageLoadTimeout:       5 * time.Second,
		ProbeTimeout:          2 * time.Second,
		RetryPause:            250 * time.Millisecond,
	}

	Safe = TimingProfile{
		Name:                  "safe",
		PerCandidateTimeout:   5 * time.Second,
		PostActionSettleDelay: 2 * time.Second,
		VerificationTimeout:   5 * time.Second,
		NavigationTimeout:     30 * time.Second,
		PageLoadTimeout:       20 * time.Second,
		ProbeTimeout:          5 * time.Second,
		RetryPause:            2 * time.Second,
		StrictValidation:      true,
		Checkout:              true,
	}
)

// ProfileByName maps "fast" and "safe" to their profiles.
func ProfileByName(name string) (TimingProfile, error) {
	switch strings.ToLower(strings.TrimSpace(name)) {
	case "fast", "":
		return Fast, nil
	case "safe":
		return Safe, nil
	default:
		return TimingProfile{}, fmt.Errorf("unknown mode %q (want fast or safe)", name)
	}
}

// pageBudget splits the page load timeout across a marker's candidates.
func (p TimingProfile) pageBudget(candidates int) time.Duration {
	if candidates <= 1 {
		return p.PageLoadTimeout
	}
	budget := p.PageLoadTimeout / time.Duration(candidates)
	if budget < p.PerCandidateTimeout {
		return p.PerCandidateTimeout
	}
	return budget
}
