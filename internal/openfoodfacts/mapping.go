package openfoodfacts

import (
	"encoding/json"
	"fmt"
	"html"
	"strings"

	"github.com/microcosm-cc/bluemonday"

	"github.com/tbourn/go-allergen-backend/internal/domain"
)

// productPayload mirrors the subset of the v0 product response we consume.
type productPayload struct {
	Status  int    `json:"status"`
	Code    string `json:"code"`
	Product *struct {
		ProductName     string   `json:"product_name"`
		AllergensTags   []string `json:"allergens_tags"`
		IngredientsTags []string `json:"ingredients_tags"`
	} `json:"product"`
}

// tagAliases maps Open Food Facts allergen tag names (prefix removed) that
// differ from our identifiers.
var tagAliases = map[string]domain.Allergen{
	"milk":                          domain.Dairy,
	"soybeans":                      domain.Soy,
	"crustaceans":                   domain.Shellfish,
	"molluscs":                      domain.Shellfish,
	"sesame-seeds":                  domain.Sesame,
	"sulphur-dioxide-and-sulphites": domain.Sulfites,
	"colourings":                    domain.FoodDyes,
	"tree-nuts":                     domain.TreeNuts,
	"food-dyes":                     domain.FoodDyes,
}

// text strips any markup from upstream strings.
var text = bluemonday.StrictPolicy()

// stripLang removes a language prefix such as "en:" from a taxonomy tag.
func stripLang(tag string) string {
	tag = strings.TrimSpace(tag)
	if i := strings.IndexByte(tag, ':'); i > 0 && i <= 3 {
		return tag[i+1:]
	}
	return tag
}

// mapAllergenTags converts taxonomy tags to catalog allergens, in order and
// without duplicates. Tags that map to nothing are returned separately.
func mapAllergenTags(tags []string) (allergens []domain.Allergen, unrecognized []string) {
	allergens = []domain.Allergen{}
	seen := make(map[domain.Allergen]struct{}, len(tags))
	for _, raw := range tags {
		name := stripLang(raw)
		if name == "" {
			continue
		}
		a, ok := tagAliases[name]
		if !ok {
			parsed, err := domain.ParseAllergen(name)
			if err != nil {
				unrecognized = append(unrecognized, name)
				continue
			}
			a = parsed
		}
		if _, dup := seen[a]; dup {
			continue
		}
		seen[a] = struct{}{}
		allergens = append(allergens, a)
	}
	return allergens, unrecognized
}

// cleanIngredient turns "en:soy-lecithin" into "soy lecithin".
func cleanIngredient(tag string) string {
	s := strings.ReplaceAll(stripLang(tag), "-", " ")
	return strings.TrimSpace(html.UnescapeString(text.Sanitize(s)))
}

// decodeProduct parses a raw v0 response body.
func decodeProduct(barcode string, body []byte) (domain.Product, error) {
	var p productPayload
	if err := json.Unmarshal(body, &p); err != nil {
		return domain.Product{}, fmt.Errorf("%w: %v", ErrDecode, err)
	}
	if p.Status != 1 || p.Product == nil {
		return domain.Product{}, ErrProductNotFound
	}

	name := strings.TrimSpace(html.UnescapeString(text.Sanitize(p.Product.ProductName)))
	if name == "" {
		name = domain.UnknownProductName
	}
	allergens, unrecognized := mapAllergenTags(p.Product.AllergensTags)

	ingredients := make([]string, 0, len(p.Product.IngredientsTags))
	for _, tag := range p.Product.IngredientsTags {
		if s := cleanIngredient(tag); s != "" {
			ingredients = append(ingredients, s)
		}
	}

	return domain.Product{
		Barcode:          barcode,
		Name:             name,
		Allergens:        allergens,
		Ingredients:      ingredients,
		UnrecognizedTags: unrecognized,
	}, nil
}
