// fields.go - Canonical identity schema shared by providers, parser and storage

package identity

import (
	"strings"
	"time"
)

// Canonical field names, in contract order.
const (
	FieldDocumentType       = "document_type"
	FieldCountry            = "country"
	FieldFullName           = "full_name"
	FieldRawName            = "raw_name"
	FieldGivenName          = "given_name"
	FieldFamilyName         = "family_name"
	FieldFirstName          = "first_name"
	FieldLastName           = "last_name"
	FieldMiddleName         = "middle_name"
	FieldDocumentNumber     = "document_number"
	FieldNationality        = "nationality"
	FieldDateOfBirth        = "date_of_birth"
	FieldGender             = "gender"
	FieldExpiryDate         = "expiry_date"
	FieldIssueDate          = "issue_date"
	FieldPlaceOfBirth       = "place_of_birth"
	FieldIssuingAuthority   = "issuing_authority"
	FieldMRZ                = "mrz"
	FieldConfidenceEstimate = "confidence_estimate"
	FieldEmail              = "email"
	FieldPhone              = "phone"
	FieldAddress            = "address"
	FieldCity               = "city"
	FieldPostalCode         = "postal_code"
)

// FieldNames lists every canonical field in contract order.
var FieldNames = []string{
	FieldDocumentType, FieldCountry, FieldFullName, FieldRawName, FieldGivenName,
	FieldFamilyName, FieldFirstName, FieldLastName, FieldMiddleName, FieldDocumentNumber,
	FieldNationality, FieldDateOfBirth, FieldGender, FieldExpiryDate, FieldIssueDate,
	FieldPlaceOfBirth, FieldIssuingAuthority, FieldMRZ, FieldConfidenceEstimate, FieldEmail,
	FieldPhone, FieldAddress, FieldCity, FieldPostalCode,
}

// DateFields must hold strict YYYY-MM-DD calendar dates.
var DateFields = []string{FieldDateOfBirth, FieldExpiryDate, FieldIssueDate}

// DateLayout is the only accepted date format.
const DateLayout = "2006-01-02"

// IsCanonical reports whether name is part of the schema.
func IsCanonical(name string) bool {
	for _, f := range FieldNames {
		if f == name {
			return true
		}
	}
	return false
}

// Fields is the canonical extraction output. Every field is nullable.
type Fields struct {
	DocumentType       *string  `json:"document_type" bson:"document_type"`
	Country            *string  `json:"country" bson:"country"`
	FullName           *string  `json:"full_name" bson:"full_name"`
	RawName            *string  `json:"raw_name" bson:"raw_name"`
	GivenName          *string  `json:"given_name" bson:"given_name"`
	FamilyName         *string  `json:"family_name" bson:"family_name"`
	FirstName          *string  `json:"first_name" bson:"first_name"`
	LastName           *string  `json:"last_name" bson:"last_name"`
	MiddleName         *string  `json:"middle_name" bson:"middle_name"`
	DocumentNumber     *string  `json:"document_number" bson:"document_number"`
	Nationality        *string  `json:"nationality" bson:"nationality"`
	DateOfBirth        *string  `json:"date_of_birth" bson:"date_of_birth"`
	Gender             *string  `json:"gender" bson:"gender"`
	ExpiryDate         *string  `json:"expiry_date" bson:"expiry_date"`
	IssueDate          *string  `json:"issue_date" bson:"issue_date"`
	PlaceOfBirth       *string  `json:"place_of_birth" bson:"place_of_birth"`
	IssuingAuthority   *string  `json:"issuing_authority" bson:"issuing_authority"`
	MRZ                *string  `json:"mrz" bson:"mrz"`
	ConfidenceEstimate *float64 `json:"confidence_estimate" bson:"confidence_estimate"`
	Email              *string  `json:"email" bson:"email"`
	Phone              *string  `json:"phone" bson:"phone"`
	Address            *string  `json:"address" bson:"address"`
	City               *string  `json:"city" bson:"city"`
	PostalCode         *string  `json:"postal_code" bson:"postal_code"`
}

// stringRefs maps each string-typed canonical field to its storage slot.
func (f *Fields) stringRefs() map[string]**string {
	return map[string]**string{
		FieldDocumentType:     &f.DocumentType,
		FieldCountry:          &f.Country,
		FieldFullName:         &f.FullName,
		FieldRawName:          &f.RawName,
		FieldGivenName:        &f.GivenName,
		FieldFamilyName:       &f.FamilyName,
		FieldFirstName:        &f.FirstName,
		FieldLastName:         &f.LastName,
		FieldMiddleName:       &f.MiddleName,
		FieldDocumentNumber:   &f.DocumentNumber,
		FieldNationality:      &f.Nationality,
		FieldDateOfBirth:      &f.DateOfBirth,
		FieldGender:           &f.Gender,
		FieldExpiryDate:       &f.ExpiryDate,
		FieldIssueDate:        &f.IssueDate,
		FieldPlaceOfBirth:     &f.PlaceOfBirth,
		FieldIssuingAuthority: &f.IssuingAuthority,
		FieldMRZ:              &f.MRZ,
		FieldEmail:            &f.Email,
		FieldPhone:            &f.Phone,
		FieldAddress:          &f.Address,
		FieldCity:             &f.City,
		FieldPostalCode:       &f.PostalCode,
	}
}

// Get returns the string value of a field, or "" when null or unknown.
func (f *Fields) Get(name string) string {
	if ref, ok := f.stringRefs()[name]; ok && *ref != nil {
		return **ref
	}
	return ""
}

// Set stores a string field. An empty value stores null. Unknown names are ignored.
func (f *Fields) Set(name, value string) {
	ref, ok := f.stringRefs()[name]
	if !ok {
		return
	}
	if value == "" {
		*ref = nil
		return
	}
	v := value
	*ref = &v
}

// NonNullCount counts fields carrying a value.
func (f *Fields) NonNullCount() int {
	n := 0
	for _, ref := range f.stringRefs() {
		if *ref != nil {
			n++
		}
	}
	if f.ConfidenceEstimate != nil {
		n++
	}
	return n
}

// HasFullName reports whether the record satisfies the full_name invariant.
func (f *Fields) HasFullName() bool {
	return f.FullName != nil && strings.TrimSpace(*f.FullName) != ""
}

// ToMap renders the fields as a plain JSON-compatible object with every key present.
func (f *Fields) ToMap() map[string]any {
	out := make(map[string]any, len(FieldNames))
	refs := f.stringRefs()
	for _, name := range FieldNames {
		if name == FieldConfidenceEstimate {
			if f.ConfidenceEstimate != nil {
				out[name] = *f.ConfidenceEstimate
			} else {
				out[name] = nil
			}
			continue
		}
		if v := *refs[name]; v != nil {
			out[name] = *v
		} else {
			out[name] = nil
		}
	}
	return out
}

// DeriveFullName fills full_name when absent: first+middle+last, then given+family,
// then raw_name. Returns true when a value was derived.
func (f *Fields) DeriveFullName() bool {
	if f.HasFullName() {
		return false
	}
	candidates := [][]string{
		{FieldFirstName, FieldMiddleName, FieldLastName},
		{FieldGivenName, FieldFamilyName},
		{FieldRawName},
	}
	for _, parts := range candidates {
		var words []string
		for _, p := range parts {
			if v := strings.TrimSpace(f.Get(p)); v != "" {
				words = append(words, v)
			}
		}
		if len(words) > 0 {
			f.Set(FieldFullName, strings.Join(words, " "))
			return true
		}
	}
	return false
}

// Provenance records where and when a record came from.
type Provenance struct {
	Provider      string    `json:"provider" bson:"provider"`
	Model         string    `json:"model" bson:"model"`
	ExtractedAt   time.Time `json:"extracted_at" bson:"extracted_at"`
	Confidence    *float64  `json:"confidence" bson:"confidence"`
	CorrelationID string    `json:"correlation_id,omitempty" bson:"correlation_id,omitempty"`
	Fingerprint   string    `json:"fingerprint" bson:"fingerprint"`
	SchemaVersion string    `json:"schema_version" bson:"schema_version"`
}

// Record is the canonical identity record emitted by the pipeline.
type Record struct {
	Fields       Fields     `json:"data"`
	Provenance   Provenance `json:"provenance"`
	FinishReason string     `json:"finish_reason"`
	Cached       bool       `json:"cached"`
	Warnings     []string   `json:"warnings,omitempty"`
}
