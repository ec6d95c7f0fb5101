package handlers

import (
	"net/http"
	"testing"

	"github.com/tbourn/go-allergen-backend/internal/domain"
)

func TestListAllergens(t *testing.T) {
	f := newFixture(t)
	w := f.do(t, http.MethodGet, "/allergens", nil)
	if w.Code != http.StatusOK {
		t.Fatalf("status = %d", w.Code)
	}
	got := decode[[]AllergenInfo](t, w)
	if len(got) != len(domain.Allergens()) || got[0].ID != domain.Gluten || got[0].Name != "Gluten" {
		t.Fatalf("catalog = %+v", got)
	}
}

func TestListKeywords(t *testing.T) {
	f := newFixture(t)

	all := decode[[]KeywordInfo](t, f.do(t, http.MethodGet, "/allergens/keywords", nil))
	dairy := decode[[]KeywordInfo](t, f.do(t, http.MethodGet, "/allergens/keywords?allergen=dairy", nil))
	if len(dairy) == 0 || len(dairy) >= len(all) {
		t.Fatalf("dairy=%d all=%d", len(dairy), len(all))
	}
	for _, k := range dairy {
		if k.Allergen != domain.Dairy || k.Explanation == "" {
			t.Fatalf("entry = %+v", k)
		}
	}
	expectError(t, f.do(t, http.MethodGet, "/allergens/keywords?allergen=kryptonite", nil), http.StatusBadRequest, ErrCodeUnknownAllergen)
}
