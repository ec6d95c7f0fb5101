package domain

import (
	"encoding/json"
	"errors"
	"testing"
)

func TestAllergens_CatalogOrderAndLabels(t *testing.T) {
	all := Allergens()
	if len(all) != 15 {
		t.Fatalf("catalog size = %d; want 15", len(all))
	}
	if all[0] != Gluten || all[14] != Sulfites {
		t.Fatalf("unexpected catalog order: first=%q last=%q", all[0], all[14])
	}

	labels := map[Allergen]string{
		FoodDyes: "Food Dyes",
		TreeNuts: "Tree Nuts",
		Dairy:    "Dairy",
	}
	for a, want := range labels {
		if got := a.DisplayName(); got != want {
			t.Errorf("%q.DisplayName() = %q; want %q", a, got, want)
		}
	}

	// Mutating the returned slice must not leak into the catalog.
	all[0] = Soy
	if Allergens()[0] != Gluten {
		t.Fatalf("Allergens() returned shared storage")
	}
}

func TestParseAllergen(t *testing.T) {
	a, err := ParseAllergen(" treeNuts ")
	if err != nil || a != TreeNuts {
		t.Fatalf("ParseAllergen(treeNuts) = %q, %v", a, err)
	}

	for _, bad := range []string{"", "TreeNuts", "tree nuts", "milk", "en:milk"} {
		if _, err := ParseAllergen(bad); !errors.Is(err, ErrUnknownAllergen) {
			t.Errorf("ParseAllergen(%q) err = %v; want ErrUnknownAllergen", bad, err)
		}
	}
}

func TestParseAllergens_DedupAndFailFast(t *testing.T) {
	got, err := ParseAllergens([]string{"soy", "gluten", "soy"})
	if err != nil {
		t.Fatalf("ParseAllergens: %v", err)
	}
	if len(got) != 2 || got[0] != Soy || got[1] != Gluten {
		t.Fatalf("got %v; want [soy gluten]", got)
	}

	if _, err := ParseAllergens([]string{"soy", "pollen"}); !errors.Is(err, ErrUnknownAllergen) {
		t.Fatalf("expected ErrUnknownAllergen, got %v", err)
	}
}

func TestAllergen_JSON(t *testing.T) {
	b, err := json.Marshal([]Allergen{Dairy, FoodDyes})
	if err != nil {
		t.Fatalf("marshal: %v", err)
	}
	if string(b) != `["dairy","foodDyes"]` {
		t.Fatalf("marshal = %s", b)
	}

	var back []Allergen
	if err := json.Unmarshal([]byte(`["eggs","lupin"]`), &back); err != nil {
		t.Fatalf("unmarshal: %v", err)
	}
	if len(back) != 2 || back[0] != Eggs || back[1] != Lupin {
		t.Fatalf("unmarshal = %v", back)
	}

	if err := json.Unmarshal([]byte(`["eggs","kiwi"]`), &back); !errors.Is(err, ErrUnknownAllergen) {
		t.Fatalf("expected ErrUnknownAllergen, got %v", err)
	}
	if _, err := json.Marshal(Allergen("kiwi")); err == nil {
		t.Fatalf("marshal of invalid allergen should fail")
	}
}

func TestSortByDisplayName(t *testing.T) {
	as := []Allergen{TreeNuts, Celery, FoodDyes, Dairy}
	SortByDisplayName(as)
	want := []Allergen{Celery, Dairy, FoodDyes, TreeNuts}
	for i := range want {
		if as[i] != want[i] {
			t.Fatalf("sorted = %v; want %v", as, want)
		}
	}
}

func TestAllergenSet_ValueScan(t *testing.T) {
	s := AllergenSet{Soy, Sesame}
	v, err := s.Value()
	if err != nil || v != "soy,sesame" {
		t.Fatalf("Value() = %v, %v", v, err)
	}

	var back AllergenSet
	if err := back.Scan([]byte("soy, sesame,")); err != nil {
		t.Fatalf("Scan: %v", err)
	}
	if !back.Contains(Soy) || !back.Contains(Sesame) || len(back) != 2 {
		t.Fatalf("Scan = %v", back)
	}

	if err := back.Scan(""); err != nil || len(back) != 0 {
		t.Fatalf("Scan(\"\") = %v, %v", back, err)
	}
	if err := back.Scan(nil); err != nil || back == nil {
		t.Fatalf("Scan(nil) should produce an empty set, got %v, %v", back, err)
	}
	if err := back.Scan("soy,pollen"); !errors.Is(err, ErrUnknownAllergen) {
		t.Fatalf("expected ErrUnknownAllergen, got %v", err)
	}
	if err := back.Scan(42); err == nil {
		t.Fatalf("expected error on unsupported column type")
	}
}
