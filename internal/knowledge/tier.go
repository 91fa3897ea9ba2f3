package knowledge

import "strings"

// Knowledge tiers. Tier 1 is the only tier the promotion pipeline may draft
// recipes from; tier 3 material is retrieval-only reference.
const (
	TierRecipeOps       = "tier1_recipe_ops"
	TierNotesSOPs       = "tier2_notes_sops"
	TierReferenceTheory = "tier3_reference_theory"
)

// Document types assigned at ingest.
const (
	DocTypeReferenceBook   = "reference_book"
	DocTypeVendorList      = "vendor_list"
	DocTypeSOP             = "sop"
	DocTypePrepNotes       = "prep_notes"
	DocTypeHouseRecipeBook = "house_recipe_book"
	DocTypeUnknown         = "unknown"
)

var tierAliases = map[string]string{
	"tier1":                  TierRecipeOps,
	"tier1_recipe_ops":       TierRecipeOps,
	"recipe":                 TierRecipeOps,
	"recipes":                TierRecipeOps,
	"recipe_ops":             TierRecipeOps,
	"restaurant_recipe":      TierRecipeOps,
	"ops":                    TierRecipeOps,
	"operations":             TierRecipeOps,
	"tier2":                  TierNotesSOPs,
	"tier2_notes_sops":       TierNotesSOPs,
	"notes":                  TierNotesSOPs,
	"note":                   TierNotesSOPs,
	"sop":                    TierNotesSOPs,
	"sops":                   TierNotesSOPs,
	"tier3":                  TierReferenceTheory,
	"tier3_reference_theory": TierReferenceTheory,
	"reference":              TierReferenceTheory,
	"references":             TierReferenceTheory,
	"book":                   TierReferenceTheory,
	"theory":                 TierReferenceTheory,
	"science":                TierReferenceTheory,
}

var referenceKeywords = []string{
	"mcgee",
	"on food and cooking",
	"flavor bible",
	"reference",
	"textbook",
	"food science",
	"theory",
	"chemistry",
}

var notesSOPKeywords = []string{
	"note",
	"notes",
	"shift",
	"post-service",
	"service notes",
	"debrief",
	"sop",
	"standard operating",
}

var recipeOpsKeywords = []string{
	"recipe",
	"prep",
	"station",
	"menu",
	"dish",
	"line build",
	"plating",
	"sauce",
	"vinaigrette",
	"custard",
	"glaze",
	"ops",
	"operations",
}

var houseRecipeDocKeywords = []string{
	"recipe book",
	"house recipe",
	"fire recipe",
	"prep recipe",
	"line recipe",
	"dish book",
}

var vendorDocKeywords = []string{
	"vendor",
	"vendors",
	"price list",
	"catalog",
	"invoice",
	"order guide",
	"supplier",
}

var sopDocKeywords = []string{
	"sop",
	"standard operating procedure",
	"standard operating",
	"policy",
	"procedure",
}

var prepNoteKeywords = []string{
	"prep notes",
	"prep list",
	"prep sheet",
	"production notes",
	"mise",
}

// NormalizeTier maps a free-form tier label to its canonical name, or ""
// when the label is unknown.
func NormalizeTier(value string) string {
	return tierAliases[strings.ToLower(strings.TrimSpace(value))]
}

func containsAny(haystack string, keywords []string) bool {
	for _, kw := range keywords {
		if strings.Contains(haystack, kw) {
			return true
		}
	}
	return false
}

// InferTier assigns a tier from document metadata. Ambiguous documents land
// in the reference tier, which the promotion pipeline never drafts from.
func InferTier(sourceType, title, sourceName, summary string) string {
	if tier := NormalizeTier(sourceType); tier != "" {
		return tier
	}

	haystack := strings.ToLower(strings.Join([]string{sourceType, title, sourceName, summary}, " "))
	switch {
	case containsAny(haystack, referenceKeywords):
		return TierReferenceTheory
	case containsAny(haystack, notesSOPKeywords):
		return TierNotesSOPs
	case containsAny(haystack, recipeOpsKeywords):
		return TierRecipeOps
	}
	return TierReferenceTheory
}

// ClassifyDocument assigns a document type and tier for ingest routing.
func ClassifyDocument(title, sourceName, summary string) (docType, tier string) {
	haystack := strings.ToLower(strings.Join([]string{title, sourceName, summary}, " "))
	switch {
	case containsAny(haystack, referenceKeywords):
		return DocTypeReferenceBook, TierReferenceTheory
	case containsAny(haystack, vendorDocKeywords):
		return DocTypeVendorList, TierRecipeOps
	case containsAny(haystack, sopDocKeywords):
		return DocTypeSOP, TierNotesSOPs
	case containsAny(haystack, prepNoteKeywords):
		return DocTypePrepNotes, TierRecipeOps
	case containsAny(haystack, houseRecipeDocKeywords):
		return DocTypeHouseRecipeBook, TierRecipeOps
	case containsAny(haystack, recipeOpsKeywords):
		return DocTypeHouseRecipeBook, TierRecipeOps
	}
	return DocTypeUnknown, TierReferenceTheory
}

// MapSourceType folds the ingest document type into the stored source type.
func MapSourceType(sourceType, tier string) string {
	lowered := strings.ToLower(strings.TrimSpace(sourceType))
	if tier == TierReferenceTheory {
		return "general_knowledge"
	}
	if lowered == "general_knowledge_web" {
		return "general_knowledge_web"
	}
	switch lowered {
	case "house_recipe_book", "house_recipe_document", "house_recipe", "prep_notes", "vendor_list":
		return "restaurant_recipes"
	}
	if tier == TierRecipeOps || tier == TierNotesSOPs {
		return "restaurant_recipes"
	}
	return DocTypeUnknown
}
