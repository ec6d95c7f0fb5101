package allergen

import (
	"sort"
	"strings"

	"github.com/tbourn/go-allergen-backend/internal/domain"
)

// Summary renders the human-readable alert for r:
//
//	<verdict line>
//	<Label>: Safe | Not Safe      (selected allergens, by display name)
//	<term>: Safe | Not Safe       (custom terms, by name)
//	Details:
//	<ingredient>: <allergen> — <explanation>
//
// The "Details:" block is omitted when there are no matches.
func (r Result) Summary() string {
	var b strings.Builder

	if r.Safety == domain.SafetySafe {
		b.WriteString(r.ProductName)
		b.WriteString(" is safe to eat!")
	} else {
		b.WriteString("Warning: contains ")
		b.WriteString(strings.Join(r.flaggedNames(), ", "))
		b.WriteString(".")
	}

	selected := make([]domain.Allergen, 0, len(r.Statuses))
	for a := range r.Statuses {
		selected = append(selected, a)
	}
	domain.SortByDisplayName(selected)
	for _, a := range selected {
		writeStatus(&b, a.DisplayName(), r.Statuses[a])
	}

	terms := make([]string, 0, len(r.CustomStatuses))
	for t := range r.CustomStatuses {
		terms = append(terms, t)
	}
	sort.Strings(terms)
	for _, t := range terms {
		writeStatus(&b, t, r.CustomStatuses[t])
	}

	if len(r.Matches) > 0 {
		b.WriteString("\nDetails:")
		for _, m := range r.Matches {
			b.WriteString("\n")
			b.WriteString(m.Ingredient)
			b.WriteString(": ")
			b.WriteString(m.AllergenName)
			b.WriteString(" — ")
			b.WriteString(m.Explanation)
		}
	}
	return b.String()
}

func writeStatus(b *strings.Builder, label string, safe bool) {
	b.WriteString("\n")
	b.WriteString(label)
	if safe {
		b.WriteString(": Safe")
	} else {
		b.WriteString(": Not Safe")
	}
}

// flaggedNames returns the unique names behind an unsafe verdict: declared
// allergens plus every matched allergen or custom term, sorted.
func (r Result) flaggedNames() []string {
	set := make(map[string]struct{}, len(r.Declared)+len(r.Matches))
	for _, a := range r.Declared {
		set[a.DisplayName()] = struct{}{}
	}
	for _, m := range r.Matches {
		set[m.AllergenName] = struct{}{}
	}
	out := make([]string, 0, len(set))
	for n := range set {
		out = append(out, n)
	}
	sort.Strings(out)
	return out
}
