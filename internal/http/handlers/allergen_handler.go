// Allergen catalog HTTP handlers.
//
//   - GET /allergens            (catalog in display order)
//   - GET /allergens/keywords   (ingredient knowledge base, optionally filtered)
package handlers

import (
	"net/http"
	"strings"

	"github.com/gin-gonic/gin"

	"github.com/tbourn/go-allergen-backend/internal/allergen"
	"github.com/tbourn/go-allergen-backend/internal/domain"
)

// AllergenInfo describes one selectable allergen category.
type AllergenInfo struct {
	ID   domain.Allergen `json:"id" example:"treeNuts"`
	Name string          `json:"name" example:"Tree Nuts"`
}

// KeywordInfo is one knowledge-base entry.
type KeywordInfo struct {
	Keyword     string          `json:"keyword" example:"whey"`
	Allergen    domain.Allergen `json:"allergen" example:"dairy"`
	Explanation string          `json:"explanation" example:"Whey is derived from milk and a source of dairy allergens."`
}

// ListAllergens godoc
// @ID          listAllergens
// @Summary     List allergen categories
// @Description Returns every selectable allergen category with its display name.
// @Tags        Allergens
// @Produce     json
// @Success     200 {array} handlers.AllergenInfo
// @Router      /allergens [get]
func (h *Handlers) ListAllergens(c *gin.Context) {
	all := domain.Allergens()
	out := make([]AllergenInfo, 0, len(all))
	for _, a := range all {
		out = append(out, AllergenInfo{ID: a, Name: a.DisplayName()})
	}
	c.Header("Cache-Control", "public, max-age=3600")
	ok(c, http.StatusOK, out)
}

// ListKeywords godoc
// @ID          listAllergenKeywords
// @Summary     List ingredient keywords
// @Description Returns the ingredient keyword knowledge base, optionally restricted to one allergen.
// @Tags        Allergens
// @Produce     json
// @Param       allergen query string false "Allergen id" example(dairy)
// @Success     200 {array}  handlers.KeywordInfo
// @Failure     400 {object} handlers.ErrorResponse "Unknown allergen"
// @Router      /allergens/keywords [get]
func (h *Handlers) ListKeywords(c *gin.Context) {
	var keywords []string
	if q := strings.TrimSpace(c.Query("allergen")); q != "" {
		a, err := domain.ParseAllergen(q)
		if err != nil {
			failErr(c, err)
			return
		}
		keywords = allergen.KeywordsFor(a)
	} else {
		keywords = allergen.Keywords()
	}

	out := make([]KeywordInfo, 0, len(keywords))
	for _, k := range keywords {
		e, _ := allergen.Lookup(k)
		out = append(out, KeywordInfo{Keyword: k, Allergen: e.Allergen, Explanation: e.Explanation})
	}
	c.Header("Cache-Control", "public, max-age=3600")
	ok(c, http.StatusOK, out)
}
