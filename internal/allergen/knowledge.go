// Package allergen implements the allergen resolution engine: a static
// ingredient-keyword knowledge base and a pure resolver that turns a product
// plus a user's allergen preferences into a per-allergen safety verdict.
//
// Both parts are stateless. The knowledge base is read-only after package
// initialization and the resolver allocates fresh output per call, so every
// exported function is safe for concurrent use.
package allergen

import (
	"sort"

	"github.com/tbourn/go-allergen-backend/internal/domain"
)

// Entry is the canonical mapping of one ingredient keyword.
type Entry struct {
	Allergen    domain.Allergen `json:"allergen"`
	Explanation string          `json:"explanation"`
}

// knowledgeBase maps lower-case ingredient keywords to their allergen.
// Keys overlap in meaning on purpose ("soy", "soya", "soybean"); each is
// matched independently. "lecithin"/"e322" map to Soy only even though they
// can be egg-derived.
var knowledgeBase = map[string]Entry{
	"casein":                     {domain.Dairy, "Casein is a milk protein and a common allergen for those sensitive to dairy."},
	"whey":                       {domain.Dairy, "Whey is derived from milk and a source of dairy allergens."},
	"albumin":                    {domain.Eggs, "Albumin is a protein found in egg whites."},
	"egg":                        {domain.Eggs, "Eggs are a common allergen."},
	"globulin":                   {domain.Eggs, "Globulin is an egg white protein."},
	"ovalbumin":                  {domain.Eggs, "Ovalbumin is a major egg white protein."},
	"ovomucoid":                  {domain.Eggs, "Ovomucoid is a protein found in egg whites."},
	"lysozyme":                   {domain.Eggs, "Lysozyme is an enzyme from egg whites."},
	"ovovitellin":                {domain.Eggs, "Ovovitellin is a protein in egg yolk."},
	"e1105":                      {domain.Eggs, "E1105 (lysozyme) is an enzyme from egg whites."},
	"soy":                        {domain.Soy, "Soy is a common allergen."},
	"soya":                       {domain.Soy, "Soya is an alternate name for soy."},
	"soybean":                    {domain.Soy, "Soybean is a source of soy allergen."},
	"edamame":                    {domain.Soy, "Edamame is young soybean."},
	"tofu":                       {domain.Soy, "Tofu is made from soybeans."},
	"textured vegetable protein": {domain.Soy, "Textured vegetable protein (TVP) is usually made from soy."},
	"tvp":                        {domain.Soy, "TVP is usually made from soy."},
	"lecithin":                   {domain.Soy, "Lecithin (often E322) is usually from soy but can come from eggs."},
	"e322":                       {domain.Soy, "E322 (lecithin) is typically derived from soy, but can also come from eggs."},
	"fish":                       {domain.Fish, "Fish is a common allergen."},
	"anchovy":                    {domain.Fish, "Anchovy is a type of fish."},
	"cod":                        {domain.Fish, "Cod is a type of fish."},
	"salmon":                     {domain.Fish, "Salmon is a type of fish."},
	"tuna":                       {domain.Fish, "Tuna is a type of fish."},
	"fish oil":                   {domain.Fish, "Fish oil is derived from fish."},
	"fish gelatin":               {domain.Fish, "Fish gelatin comes from fish bones/skin."},
	"shrimp":                     {domain.Shellfish, "Shrimp is a type of shellfish."},
	"prawn":                      {domain.Shellfish, "Prawn is a type of shellfish."},
	"crab":                       {domain.Shellfish, "Crab is a type of shellfish."},
	"lobster":                    {domain.Shellfish, "Lobster is a type of shellfish."},
	"scallop":                    {domain.Shellfish, "Scallop is a type of mollusk/shellfish."},
	"clam":                       {domain.Shellfish, "Clam is a type of shellfish."},
	"oyster":                     {domain.Shellfish, "Oyster is a type of shellfish."},
	"mussel":                     {domain.Shellfish, "Mussel is a type of shellfish."},
	"peanut":                     {domain.Peanuts, "Peanuts are a common allergen."},
	"groundnut":                  {domain.Peanuts, "Groundnut is another name for peanut."},
	"monkey nut":                 {domain.Peanuts, "Monkey nut is another name for peanut."},
	"arachis oil":                {domain.Peanuts, "Arachis oil is peanut oil."},
	"almond":                     {domain.TreeNuts, "Almond is a tree nut."},
	"brazil nut":                 {domain.TreeNuts, "Brazil nut is a tree nut."},
	"cashew":                     {domain.TreeNuts, "Cashew is a tree nut."},
	"chestnut":                   {domain.TreeNuts, "Chestnut is a tree nut."},
	"hazelnut":                   {domain.TreeNuts, "Hazelnut is a tree nut."},
	"macadamia":                  {domain.TreeNuts, "Macadamia nut is a tree nut."},
	"pecan":                      {domain.TreeNuts, "Pecan is a tree nut."},
	"pistachio":                  {domain.TreeNuts, "Pistachio is a tree nut."},
	"walnut":                     {domain.TreeNuts, "Walnut is a tree nut."},
	"nut oil":                    {domain.TreeNuts, "Nut oil is often derived from tree nuts."},
	"sesame":                     {domain.Sesame, "Sesame is a common allergen."},
	"tahini":                     {domain.Sesame, "Tahini is made from sesame seeds."},
	"benne":                      {domain.Sesame, "Benne is another name for sesame."},
	"gingelly":                   {domain.Sesame, "Gingelly is another name for sesame."},
	"mustard":                    {domain.Mustard, "Mustard is a common allergen."},
	"mustard flour":              {domain.Mustard, "Mustard flour is ground mustard seed."},
	"mustard oil":                {domain.Mustard, "Mustard oil comes from mustard seeds."},
	"mustard seed":               {domain.Mustard, "Mustard seed is a source of mustard allergen."},
	"celery":                     {domain.Celery, "Celery is a common allergen."},
	"celeriac":                   {domain.Celery, "Celeriac is a type of celery root."},
	"lupin":                      {domain.Lupin, "Lupin is a legume sometimes used in flour."},
	"lupine":                     {domain.Lupin, "Lupine is another spelling for lupin."},
	"sulfite":                    {domain.Sulfites, "Sulfites are preservatives that can trigger allergies."},
	"sulphite":                   {domain.Sulfites, "Sulphite is a British spelling of sulfite."},
	"sulfur dioxide":             {domain.Sulfites, "Sulfur dioxide is a sulfite compound."},
	"e220":                       {domain.Sulfites, "E220 (Sulfur dioxide) is a sulfite."},
	"e221":                       {domain.Sulfites, "E221 (Sodium sulfite) is a sulfite."},
	"e222":                       {domain.Sulfites, "E222 (Sodium bisulfite) is a sulfite."},
	"e223":                       {domain.Sulfites, "E223 (Sodium metabisulfite) is a sulfite."},
	"e224":                       {domain.Sulfites, "E224 (Potassium metabisulfite) is a sulfite."},
	"e225":                       {domain.Sulfites, "E225 (Potassium sulfite) is a sulfite."},
	"e226":                       {domain.Sulfites, "E226 (Calcium sulfite) is a sulfite."},
	"e227":                       {domain.Sulfites, "E227 (Calcium hydrogen sulfite) is a sulfite."},
	"e228":                       {domain.Sulfites, "E228 (Potassium hydrogen sulfite) is a sulfite."},
	"gluten":                     {domain.Gluten, "Gluten is found in wheat, barley, and rye."},
	"nuts":                       {domain.Nuts, "Nuts are a common allergen group, including peanuts and tree nuts."},
	"red 40":                     {domain.FoodDyes, "Red 40 is a synthetic food dye (Allura Red)."},
	"yellow 5":                   {domain.FoodDyes, "Yellow 5 is a synthetic food dye (Tartrazine)."},
	"yellow 6":                   {domain.FoodDyes, "Yellow 6 is a synthetic food dye (Sunset Yellow)."},
	"blue 1":                     {domain.FoodDyes, "Blue 1 is a synthetic food dye (Brilliant Blue)."},
	"blue 2":                     {domain.FoodDyes, "Blue 2 is a synthetic food dye (Indigo Carmine)."},
	"green 3":                    {domain.FoodDyes, "Green 3 is a synthetic food dye (Fast Green)."},
	"orange b":                   {domain.FoodDyes, "Orange B is a food dye."},
	"citrus red 2":               {domain.FoodDyes, "Citrus Red 2 is a synthetic food dye."},
	"food coloring":              {domain.FoodDyes, "General food coloring ingredient."},
	"e129":                       {domain.FoodDyes, "Red 40 (Allura Red, E129) is a synthetic food dye."},
	"e133":                       {domain.FoodDyes, "Blue 1 (Brilliant Blue, E133) is a synthetic food dye."},
	"e102":                       {domain.FoodDyes, "Yellow 5 (Tartrazine, E102) is a synthetic food dye."},
	"e110":                       {domain.FoodDyes, "Yellow 6 (Sunset Yellow, E110) is a synthetic food dye."},
	"e122":                       {domain.FoodDyes, "Carmoisine (E122) is a synthetic food dye."},
	"e124":                       {domain.FoodDyes, "Ponceau 4R (E124) is a synthetic food dye."},
	"e104":                       {domain.FoodDyes, "Quinoline Yellow (E104) is a synthetic food dye."},
	"e132":                       {domain.FoodDyes, "Indigo Carmine (Blue 2, E132) is a synthetic food dye."},
}

// sortedKeywords caches the keys of knowledgeBase in lexical order so that
// resolution output is deterministic.
var sortedKeywords = func() []string {
	keys := make([]string, 0, len(knowledgeBase))
	for k := range knowledgeBase {
		keys = append(keys, k)
	}
	sort.Strings(keys)
	return keys
}()

// Lookup returns the entry for an exact, lower-case keyword.
func Lookup(keyword string) (Entry, bool) {
	e, ok := knowledgeBase[keyword]
	return e, ok
}

// Keywords returns every keyword in lexical order.
func Keywords() []string {
	out := make([]string, len(sortedKeywords))
	copy(out, sortedKeywords)
	return out
}

// KeywordsFor returns the keywords mapped to a, in lexical order.
func KeywordsFor(a domain.Allergen) []string {
	var out []string
	for _, k := range sortedKeywords {
		if knowledgeBase[k].Allergen == a {
			out = append(out, k)
		}
	}
	return out
}
