package allergen

import (
	"strings"

	"golang.org/x/text/cases"
	"golang.org/x/text/language"

	"github.com/tbourn/go-allergen-backend/internal/domain"
)

// CustomMatchExplanation is attached to every custom-term match.
const CustomMatchExplanation = "Custom allergen match"

// MatchDetail links one ingredient to one flagged allergen or custom term.
//
// Allergen is empty for custom-term matches; AllergenName then carries the
// user's term as entered.
type MatchDetail struct {
	Ingredient   string          `json:"ingredient"`
	AllergenName string          `json:"allergen_name"`
	Allergen     domain.Allergen `json:"allergen,omitempty"`
	Custom       bool            `json:"custom,omitempty"`
	Explanation  string          `json:"explanation"`
}

// Result is the complete verdict for one product.
//
//   - Statuses: one entry per selected allergen, true when absent.
//   - CustomStatuses: one entry per active custom term, true when absent.
//   - Declared: selected allergens reported directly by the product source.
//   - Matches: ingredient evidence in ingredient order.
//   - Safety: SafetySafe iff every status is true.
type Result struct {
	ProductName    string                   `json:"product_name"`
	Statuses       map[domain.Allergen]bool `json:"statuses"`
	CustomStatuses map[string]bool          `json:"custom_statuses"`
	Declared       []domain.Allergen        `json:"declared"`
	Matches        []MatchDetail            `json:"matches"`
	Safety         domain.SafetyStatus      `json:"safety"`
}

// Resolve evaluates product against the selected standard allergens and the
// active custom terms. Ingredient and keyword matching is lower-cased
// substring containment with no word-boundary checks, so false positives are
// possible and accepted.
//
// Resolve never fails and has no side effects.
func Resolve(product domain.Product, selected []domain.Allergen, custom []string) Result {
	lower := cases.Lower(language.Und)

	sel := make(map[domain.Allergen]struct{}, len(selected))
	for _, a := range selected {
		sel[a] = struct{}{}
	}
	terms := normalizeTerms(custom, lower)

	// 1) declared hits
	flagged := make(map[domain.Allergen]struct{})
	declared := []domain.Allergen{}
	for _, a := range product.Allergens {
		if _, ok := sel[a]; !ok {
			continue
		}
		if _, dup := flagged[a]; dup {
			continue
		}
		flagged[a] = struct{}{}
		declared = append(declared, a)
	}

	// 2) ingredient scan
	matches := []MatchDetail{}
	type pair struct{ ingredient, name string }
	seen := make(map[pair]struct{})

	for _, ingredient := range product.Ingredients {
		li := lower.String(ingredient)

		for _, kw := range sortedKeywords {
			e := knowledgeBase[kw]
			if _, ok := sel[e.Allergen]; !ok || !strings.Contains(li, kw) {
				continue
			}
			name := e.Allergen.DisplayName()
			key := pair{ingredient, lower.String(name)}
			if _, dup := seen[key]; dup {
				continue
			}
			seen[key] = struct{}{}
			matches = append(matches, MatchDetail{
				Ingredient:   ingredient,
				AllergenName: name,
				Allergen:     e.Allergen,
				Explanation:  e.Explanation,
			})
			flagged[e.Allergen] = struct{}{}
		}

		for _, t := range terms {
			if !strings.Contains(li, t.folded) {
				continue
			}
			key := pair{ingredient, t.folded}
			if _, dup := seen[key]; dup {
				continue
			}
			seen[key] = struct{}{}
			matches = append(matches, MatchDetail{
				Ingredient:   ingredient,
				AllergenName: t.name,
				Custom:       true,
				Explanation:  CustomMatchExplanation,
			})
		}
	}

	// 3-5) statuses
	statuses := make(map[domain.Allergen]bool, len(sel))
	safe := true
	for a := range sel {
		_, hit := flagged[a]
		statuses[a] = !hit
		safe = safe && !hit
	}

	named := make(map[string]struct{}, len(matches))
	for _, m := range matches {
		named[lower.String(m.AllergenName)] = struct{}{}
	}
	customStatuses := make(map[string]bool, len(terms))
	for _, t := range terms {
		_, hit := named[t.folded]
		customStatuses[t.name] = !hit
		safe = safe && !hit
	}

	// 6) overall
	res := Result{
		ProductName:    product.Name,
		Statuses:       statuses,
		CustomStatuses: customStatuses,
		Declared:       declared,
		Matches:        matches,
		Safety:         domain.SafetyUnsafe,
	}
	if safe {
		res.Safety = domain.SafetySafe
	}
	return res
}

// term is an active custom allergen with its lower-cased match form.
type term struct {
	name   string
	folded string
}

// normalizeTerms trims names, drops empties, and collapses names that only
// differ in case (first spelling wins).
func normalizeTerms(custom []string, lower cases.Caser) []term {
	out := make([]term, 0, len(custom))
	seen := make(map[string]struct{}, len(custom))
	for _, c := range custom {
		name := strings.TrimSpace(c)
		if name == "" {
			continue
		}
		f := lower.String(name)
		if _, dup := seen[f]; dup {
			continue
		}
		seen[f] = struct{}{}
		out = append(out, term{name: name, folded: f})
	}
	return out
}

// Flagged returns the selected allergens whose status is false, sorted by
// display name.
func (r Result) Flagged() []domain.Allergen {
	out := make([]domain.Allergen, 0, len(r.Statuses))
	for a, ok := range r.Statuses {
		if !ok {
			out = append(out, a)
		}
	}
	domain.SortByDisplayName(out)
	return out
}
