package locator

import (
	"context"
	"sort"
	"strings"

	"flash-buyer/internal/browser"

	"go.uber.org/zap"
)

// InteractiveSelector matches the button-like and input-like elements scanned
// by FindByText.
const InteractiveSelector = "button, input[type='submit'], input[type='button'], [role='button'], a.a-button-text"

// MatchPhrase is a lower-case phrase; a lower Rank wins.
type MatchPhrase struct {
	Text string
	Rank int
}

// textAttributes back up the visible text, in priority order.
var textAttributes = []string{"value", "title", "aria-label", "alt"}

// FindByText scans the current DOM once, without waiting, and returns the
// visible, enabled interactive element whose matched phrase has the lowest
// rank. Ties go to DOM order.
func (r *Resolver) FindByText(ctx context.Context, d browser.Driver, phrases []MatchPhrase) (*Match, MatchPhrase, error) {
	ranked := append([]MatchPhrase(nil), phrases...)
	sort.SliceStable(ranked, func(i, j int) bool { return ranked[i].Rank < ranked[j].Rank })
	for i := range ranked {
		ranked[i].Text = strings.ToLower(strings.TrimSpace(ranked[i].Text))
	}

	els, err := d.Query(ctx, InteractiveSelector)
	if err != nil {
		if r.fatal(err) || ctx.Err() != nil {
			return nil, MatchPhrase{}, err
		}
		r.log().Debug("text scan query failed", zap.Error(err))
		return nil, MatchPhrase{}, ErrNotFound
	}

	var (
		best      *Match
		bestMatch MatchPhrase
	)
	for i, el := range els {
		signal, err := compositeText(ctx, el)
		if err != nil {
			if r.fatal(err) {
				return nil, MatchPhrase{}, err
			}
			continue
		}
		if signal == "" {
			continue
		}

		phrase, ok := firstPhrase(signal, ranked)
		if !ok || (best != nil && phrase.Rank >= bestMatch.Rank) {
			continue
		}

		visible, err := el.IsVisible(ctx)
		if err != nil || !visible {
			continue
		}
		enabled, err := el.IsEnabled(ctx)
		if err != nil || !enabled {
			continue
		}

		best = &Match{Element: el, Selector: InteractiveSelector, Index: i}
		bestMatch = phrase
	}

	if best == nil {
		return nil, MatchPhrase{}, ErrNotFound
	}
	r.log().Debug("text match", zap.String("phrase", bestMatch.Text), zap.Int("rank", bestMatch.Rank), zap.Int("dom_index", best.Index))
	return best, bestMatch, nil
}

// compositeText is the element's visible text, else the first non-empty
// backup attribute, lower-cased and whitespace-collapsed.
func compositeText(ctx context.Context, el browser.Element) (string, error) {
	text, err := el.Text(ctx)
	if err != nil {
		return "", err
	}
	if s := normalize(text); s != "" {
		return s, nil
	}
	for _, name := range textAttributes {
		v, err := el.Attribute(ctx, name)
		if err != nil {
			return "", err
		}
		if s := normalize(v); s != "" {
			return s, nil
		}
	}
	return "", nil
}

func normalize(s string) string {
	return strings.ToLower(strings.Join(strings.Fields(s), " "))
}

func firstPhrase(signal string, ranked []MatchPhrase) (MatchPhrase, bool) {
	for _, p := range ranked {
		if p.Text != "" && strings.Contains(signal, p.Text) {
			return p, true
		}
	}
	return MatchPhrase{}, false
}
