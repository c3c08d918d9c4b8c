package identity

import "strings"

// FieldFallbacks lists, per canonical field, the keys a provider may use for it in priority
// order. The canonical key always comes first. Fields not listed only accept their own key.
var FieldFallbacks = map[string][]string{
	FieldDocumentType:       {FieldDocumentType, "doc_type", "type"},
	FieldCountry:            {FieldCountry, "issuing_country", "country_code"},
	FieldGivenName:          {FieldGivenName, "given_names", "forename"},
	FieldFamilyName:         {FieldFamilyName, "surname"},
	FieldDocumentNumber:     {FieldDocumentNumber, "id_number", "license_number", "licence_number", "passport_number", "card_number"},
	FieldDateOfBirth:        {FieldDateOfBirth, "dob", "birth_date", "birthdate"},
	FieldGender:             {FieldGender, "sex"},
	FieldExpiryDate:         {FieldExpiryDate, "expiration_date", "date_of_expiry", "valid_until"},
	FieldIssueDate:          {FieldIssueDate, "date_of_issue", "issued_on"},
	FieldPlaceOfBirth:       {FieldPlaceOfBirth, "birth_place"},
	FieldIssuingAuthority:   {FieldIssuingAuthority, "authority", "issued_by"},
	FieldConfidenceEstimate: {FieldConfidenceEstimate, "confidence"},
	FieldPhone:              {FieldPhone, "phone_number", "telephone"},
	FieldPostalCode:         {FieldPostalCode, "zip", "zip_code", "postcode"},
}

// KeysFor returns the accepted keys for a canonical field.
func KeysFor(field string) []string {
	if keys, ok := FieldFallbacks[field]; ok {
		return keys
	}
	return []string{field}
}

// Resolve returns the first non-empty value for field in obj, following KeysFor order.
func Resolve(obj map[string]any, field string) (any, string, bool) {
	for _, key := range KeysFor(field) {
		v, ok := obj[key]
		if !ok || v == nil {
			continue
		}
		if s, isString := v.(string); isString && strings.TrimSpace(s) == "" {
			continue
		}
		return v, key, true
	}
	return nil, "", false
}

// KnownKeys is the set of every key some canonical field accepts.
func KnownKeys() map[string]struct{} {
	known := make(map[string]struct{}, len(FieldNames)*2)
	for _, name := range FieldNames {
		for _, key := range KeysFor(name) {
			known[key] = struct{}{}
		}
	}
	return known
}
