package identity

import (
	"strings"
	"time"
)

// DocumentKind is the coarse class used to route the document number.
type DocumentKind string

const (
	KindLicense  DocumentKind = "license"
	KindPassport DocumentKind = "passport"
	KindIDCard   DocumentKind = "id_card"
)

var (
	licenseHints  = []string{"licen", "driv", "permis", "führerschein", "ใบขับขี่"}
	passportHints = []string{"passport", "pasaporte", "passeport", "reisepass", "หนังสือเดินทาง"}
)

// ClassifyDocument maps a free-text document_type to a DocumentKind.
func ClassifyDocument(documentType string) DocumentKind {
	dt := strings.ToLower(documentType)
	for _, h := range licenseHints {
		if strings.Contains(dt, h) {
			return KindLicense
		}
	}
	for _, h := range passportHints {
		if strings.Contains(dt, h) {
			return KindPassport
		}
	}
	return KindIDCard
}

// FlattenedRecord is the storage-facing customer/driver shape.
type FlattenedRecord struct {
	FullName         string `json:"full_name" bson:"full_name"`
	RawName          string `json:"raw_name,omitempty" bson:"raw_name,omitempty"`
	FirstName        string `json:"first_name,omitempty" bson:"first_name,omitempty"`
	MiddleName       string `json:"middle_name,omitempty" bson:"middle_name,omitempty"`
	LastName         string `json:"last_name,omitempty" bson:"last_name,omitempty"`
	DocumentType     string `json:"document_type,omitempty" bson:"document_type,omitempty"`
	IDNumber         string `json:"id_number,omitempty" bson:"id_number,omitempty"`
	LicenseNumber    string `json:"license_number,omitempty" bson:"license_number,omitempty"`
	LicenseExpiry    string `json:"license_expiry,omitempty" bson:"license_expiry,omitempty"`
	PassportNumber   string `json:"passport_number,omitempty" bson:"passport_number,omitempty"`
	Country          string `json:"country,omitempty" bson:"country,omitempty"`
	Nationality      string `json:"nationality,omitempty" bson:"nationality,omitempty"`
	DateOfBirth      string `json:"date_of_birth,omitempty" bson:"date_of_birth,omitempty"`
	Gender           string `json:"gender,omitempty" bson:"gender,omitempty"`
	IssueDate        string `json:"issue_date,omitempty" bson:"issue_date,omitempty"`
	ExpiryDate       string `json:"expiry_date,omitempty" bson:"expiry_date,omitempty"`
	PlaceOfBirth     string `json:"place_of_birth,omitempty" bson:"place_of_birth,omitempty"`
	IssuingAuthority string `json:"issuing_authority,omitempty" bson:"issuing_authority,omitempty"`
	MRZ              string `json:"mrz,omitempty" bson:"mrz,omitempty"`
	Email            string `json:"email,omitempty" bson:"email,omitempty"`
	Phone            string `json:"phone,omitempty" bson:"phone,omitempty"`
	Address          string `json:"address,omitempty" bson:"address,omitempty"`
	City             string `json:"city,omitempty" bson:"city,omitempty"`
	PostalCode       string `json:"postal_code,omitempty" bson:"postal_code,omitempty"`

	Confidence  float64   `json:"confidence" bson:"confidence"`
	Provider    string    `json:"provider" bson:"provider"`
	Model       string    `json:"model" bson:"model"`
	ExtractedAt time.Time `json:"extracted_at" bson:"extracted_at"`
	ImageURL    string    `json:"image_url,omitempty" bson:"image_url,omitempty"`
}

// DocumentNumber returns whichever number slot is populated.
func (r *FlattenedRecord) DocumentNumber() string {
	for _, n := range []string{r.LicenseNumber, r.PassportNumber, r.IDNumber} {
		if n != "" {
			return n
		}
	}
	return ""
}

// Flatten maps a canonical record to its storage shape. imageURL may be empty.
func Flatten(rec *Record, imageURL string) FlattenedRecord {
	f := &rec.Fields
	out := FlattenedRecord{
		FullName:         f.Get(FieldFullName),
		RawName:          f.Get(FieldRawName),
		FirstName:        firstNonEmpty(f.Get(FieldFirstName), f.Get(FieldGivenName)),
		MiddleName:       f.Get(FieldMiddleName),
		LastName:         firstNonEmpty(f.Get(FieldLastName), f.Get(FieldFamilyName)),
		DocumentType:     f.Get(FieldDocumentType),
		Country:          f.Get(FieldCountry),
		Nationality:      f.Get(FieldNationality),
		DateOfBirth:      f.Get(FieldDateOfBirth),
		Gender:           f.Get(FieldGender),
		IssueDate:        f.Get(FieldIssueDate),
		ExpiryDate:       f.Get(FieldExpiryDate),
		PlaceOfBirth:     f.Get(FieldPlaceOfBirth),
		IssuingAuthority: f.Get(FieldIssuingAuthority),
		MRZ:              f.Get(FieldMRZ),
		Email:            f.Get(FieldEmail),
		Phone:            f.Get(FieldPhone),
		Address:          f.Get(FieldAddress),
		City:             f.Get(FieldCity),
		PostalCode:       f.Get(FieldPostalCode),
		Provider:         rec.Provenance.Provider,
		Model:            rec.Provenance.Model,
		ExtractedAt:      rec.Provenance.ExtractedAt,
		ImageURL:         imageURL,
	}

	number := f.Get(FieldDocumentNumber)
	switch ClassifyDocument(out.DocumentType) {
	case KindLicense:
		out.LicenseNumber = number
		out.LicenseExpiry = out.ExpiryDate
	case KindPassport:
		out.PassportNumber = number
	default:
		out.IDNumber = number
	}

	switch {
	case rec.Provenance.Confidence != nil:
		out.Confidence = *rec.Provenance.Confidence
	case f.ConfidenceEstimate != nil:
		out.Confidence = *f.ConfidenceEstimate
	}
	return out
}

// MergeResult is the advisory outcome of merging two flattened records.
type MergeResult struct {
	Record  FlattenedRecord
	Updated []string
	Skipped []string
}

// Changed reports whether the merge altered the existing record.
func (m MergeResult) Changed() bool {
	return len(m.Updated) > 0
}

// Merge folds incoming into existing. Empty incoming values never erase anything; a
// non-empty existing value is kept (and reported as skipped) when the existing record's
// confidence is higher than the incoming one.
func Merge(existing, incoming FlattenedRecord) MergeResult {
	result := MergeResult{Record: existing}
	existingWins := existing.Confidence > incoming.Confidence

	dst := result.Record.stringSlots()
	src := incoming.stringSlots()
	for i, slot := range dst {
		in := *src[i].value
		cur := *slot.value
		switch {
		case in == "" || in == cur:
			continue
		case cur == "":
			*slot.value = in
			result.Updated = append(result.Updated, slot.name)
		case existingWins:
			result.Skipped = append(result.Skipped, slot.name)
		default:
			*slot.value = in
			result.Updated = append(result.Updated, slot.name)
		}
	}

	if !existingWins {
		result.Record.Confidence = incoming.Confidence
		result.Record.Provider = incoming.Provider
		result.Record.Model = incoming.Model
		result.Record.ExtractedAt = incoming.ExtractedAt
	}
	return result
}

type namedSlot struct {
	name  string
	value *string
}

func (r *FlattenedRecord) stringSlots() []namedSlot {
	return []namedSlot{
		{"full_name", &r.FullName},
		{"raw_name", &r.RawName},
		{"first_name", &r.FirstName},
		{"middle_name", &r.MiddleName},
		{"last_name", &r.LastName},
		{"document_type", &r.DocumentType},
		{"id_number", &r.IDNumber},
		{"license_number", &r.LicenseNumber},
		{"license_expiry", &r.LicenseExpiry},
		{"passport_number", &r.PassportNumber},
		{"country", &r.Country},
		{"nationality", &r.Nationality},
		{"date_of_birth", &r.DateOfBirth},
		{"gender", &r.Gender},
		{"issue_date", &r.IssueDate},
		{"expiry_date", &r.ExpiryDate},
		{"place_of_birth", &r.PlaceOfBirth},
		{"issuing_authority", &r.IssuingAuthority},
		{"mrz", &r.MRZ},
		{"email", &r.Email},
		{"phone", &r.Phone},
		{"address", &r.Address},
		{"city", &r.City},
		{"postal_code", &r.PostalCode},
		{"image_url", &r.ImageURL},
	}
}

func firstNonEmpty(values ...string) string {
	for _, v := range values {
		if v != "" {
			return v
		}
	}
	return ""
}
