// prompts.go - Extraction contract sent to every provider
package ai

import (
	"fmt"
	"strings"

	"github.com/bosocmputer/identity_ocr_gemini/internal/identity"
)

// ============================================================================
// 📋 IDENTITY EXTRACTION CONTRACT
// ============================================================================

// GetIdentityExtractionPrompt returns the instruction that accompanies the image.
// The field list is generated from the canonical schema so the two never drift.
func GetIdentityExtractionPrompt() string {
	var fields strings.Builder
	for _, name := range identity.FieldNames {
		fmt.Fprintf(&fields, "  %q: %s\n", name, fieldHint(name))
	}

	return fmt.Sprintf(`You are reading a photographed identity document (national ID card, driver's licence or passport).

Return ONLY one JSON object. No markdown, no code fences, no commentary.
The object must contain exactly these keys, each either a string or null:
{
%s}

Rules:
- Use null for anything that is not printed on the document. Never guess.
- Dates must be YYYY-MM-DD. Convert Buddhist-era or other calendars to Gregorian.
- full_name is the holder's name transliterated to Latin script.
- raw_name is the name exactly as printed, in the original script.
- document_number is the main number of the document, without spaces.
- mrz is the machine-readable zone joined with "\n", when present.
- confidence_estimate is a number between 0 and 1 for how legible the document was.
`, fields.String())
}

func fieldHint(name string) string {
	switch name {
	case identity.FieldDocumentType:
		return `"national_id" | "driver_license" | "passport" | other short label`
	case identity.FieldCountry:
		return "issuing country, ISO 3166-1 alpha-3 when known"
	case identity.FieldConfidenceEstimate:
		return "number 0..1"
	case identity.FieldGender:
		return `"M" | "F" | "X"`
	case identity.FieldDateOfBirth, identity.FieldExpiryDate, identity.FieldIssueDate:
		return "YYYY-MM-DD"
	default:
		return "string"
	}
}
