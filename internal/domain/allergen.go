// Package domain defines the data model of the allergen detector: the closed
// allergen catalog, products as reported by the product source, user
// preferences, and the persisted scan history. Persistence models are mapped
// with GORM and shared across the repository and service layers.
package domain

import (
	"database/sql/driver"
	"encoding/json"
	"errors"
	"fmt"
	"sort"
	"strings"
)

// ErrUnknownAllergen is returned when an identifier does not name one of the
// standard allergen categories.
var ErrUnknownAllergen = errors.New("unknown allergen")

// Allergen is one of the standard allergen categories. Its value is the
// stable programmatic identifier (e.g. "treeNuts").
type Allergen string

// Standard allergen categories, in catalog order.
const (
	Gluten    Allergen = "gluten"
	Dairy     Allergen = "dairy"
	FoodDyes  Allergen = "foodDyes"
	Nuts      Allergen = "nuts"
	Eggs      Allergen = "eggs"
	Soy       Allergen = "soy"
	Fish      Allergen = "fish"
	Shellfish Allergen = "shellfish"
	Peanuts   Allergen = "peanuts"
	TreeNuts  Allergen = "treeNuts"
	Sesame    Allergen = "sesame"
	Mustard   Allergen = "mustard"
	Celery    Allergen = "celery"
	Lupin     Allergen = "lupin"
	Sulfites  Allergen = "sulfites"
)

// catalog lists every category with its display label in declaration order.
var catalog = []struct {
	id    Allergen
	label string
}{
	{Gluten, "Gluten"},
	{Dairy, "Dairy"},
	{FoodDyes, "Food Dyes"},
	{Nuts, "Nuts"},
	{Eggs, "Eggs"},
	{Soy, "Soy"},
	{Fish, "Fish"},
	{Shellfish, "Shellfish"},
	{Peanuts, "Peanuts"},
	{TreeNuts, "Tree Nuts"},
	{Sesame, "Sesame"},
	{Mustard, "Mustard"},
	{Celery, "Celery"},
	{Lupin, "Lupin"},
	{Sulfites, "Sulfites"},
}

// byID is the explicit identifier → variant table used by ParseAllergen.
var byID = func() map[string]Allergen {
	m := make(map[string]Allergen, len(catalog))
	for _, c := range catalog {
		m[string(c.id)] = c.id
	}
	return m
}()

// Allergens returns the full catalog in declaration order. The returned slice
// is a fresh copy.
func Allergens() []Allergen {
	out := make([]Allergen, len(catalog))
	for i, c := range catalog {
		out[i] = c.id
	}
	return out
}

// ParseAllergen maps an identifier to its category. Identifiers are matched
// exactly; anything else yields ErrUnknownAllergen.
func ParseAllergen(s string) (Allergen, error) {
	if a, ok := byID[strings.TrimSpace(s)]; ok {
		return a, nil
	}
	return "", fmt.Errorf("%w: %q", ErrUnknownAllergen, s)
}

// ParseAllergens parses every identifier, failing on the first unknown one.
// Duplicates are collapsed while preserving first-seen order.
func ParseAllergens(ids []string) ([]Allergen, error) {
	out := make([]Allergen, 0, len(ids))
	seen := make(map[Allergen]struct{}, len(ids))
	for _, id := range ids {
		a, err := ParseAllergen(id)
		if err != nil {
			return nil, err
		}
		if _, dup := seen[a]; dup {
			continue
		}
		seen[a] = struct{}{}
		out = append(out, a)
	}
	return out, nil
}

// Valid reports whether a is part of the catalog.
func (a Allergen) Valid() bool {
	_, ok := byID[string(a)]
	return ok
}

// DisplayName returns the human-readable label, e.g. "Tree Nuts".
func (a Allergen) DisplayName() string {
	for _, c := range catalog {
		if c.id == a {
			return c.label
		}
	}
	return string(a)
}

// String implements fmt.Stringer.
func (a Allergen) String() string { return string(a) }

// MarshalJSON encodes the allergen as its identifier.
func (a Allergen) MarshalJSON() ([]byte, error) {
	if !a.Valid() {
		return nil, fmt.Errorf("%w: %q", ErrUnknownAllergen, string(a))
	}
	return json.Marshal(string(a))
}

// UnmarshalJSON decodes an identifier through ParseAllergen.
func (a *Allergen) UnmarshalJSON(b []byte) error {
	var s string
	if err := json.Unmarshal(b, &s); err != nil {
		return err
	}
	v, err := ParseAllergen(s)
	if err != nil {
		return err
	}
	*a = v
	return nil
}

// SortByDisplayName orders allergens alphabetically by label, in place.
func SortByDisplayName(as []Allergen) {
	sort.Slice(as, func(i, j int) bool { return as[i].DisplayName() < as[j].DisplayName() })
}

// AllergenSet is an ordered list of allergens stored in a single text column
// as comma-separated identifiers.
type AllergenSet []Allergen

// Contains reports whether a is in the set.
func (s AllergenSet) Contains(a Allergen) bool {
	for _, v := range s {
		if v == a {
			return true
		}
	}
	return false
}

// Value implements driver.Valuer.
func (s AllergenSet) Value() (driver.Value, error) {
	parts := make([]string, 0, len(s))
	for _, a := range s {
		parts = append(parts, string(a))
	}
	return strings.Join(parts, ","), nil
}

// Scan implements sql.Scanner. Unknown identifiers fail the scan.
func (s *AllergenSet) Scan(src any) error {
	var raw string
	switch v := src.(type) {
	case nil:
		*s = AllergenSet{}
		return nil
	case string:
		raw = v
	case []byte:
		raw = string(v)
	default:
		return fmt.Errorf("allergen set: unsupported column type %T", src)
	}
	out := AllergenSet{}
	for _, p := range strings.Split(raw, ",") {
		if p = strings.TrimSpace(p); p == "" {
			continue
		}
		a, err := ParseAllergen(p)
		if err != nil {
			return err
		}
		out = append(out, a)
	}
	*s = out
	return nil
}
