package model

// ConfidenceTier labels a confidence score for observability. The
// accept/review decision acts on the numeric score only.
type ConfidenceTier string

const (
	TierHigh   ConfidenceTier = "high"
	TierMedium ConfidenceTier = "medium"
	TierLow    ConfidenceTier = "low"
)

// MRZField is a single decoded and validated logical field of the MRZ.
// RawValue and NormalizedValue are transient parsing state and are never
// persisted or serialized.
type MRZField struct {
	Name            string `json:"name"`
	RawValue        string `json:"-"`
	NormalizedValue string `json:"-"`
	Valid           bool   `json:"valid"`
	ChecksumApplies bool   `json:"checksum_applies"`
	ChecksumOK      bool   `json:"checksum_ok"`
}

// OCRResult is the accepted or review-candidate extraction. It carries no
// raw MRZ text, no raw document number and no image bytes; the passport
// hash is the only document-number-derived value that is ever persisted
// or logged. Immutable once attached to a job.
type OCRResult struct {
	PassportHash    string         `json:"passport_hash"`
	PassportMRZLen  int            `json:"passport_mrz_len"`
	Surname         string         `json:"surname,omitempty"`
	GivenNames      string         `json:"given_names,omitempty"`
	IssuingState    string         `json:"issuing_state,omitempty"`
	Nationality     string         `json:"nationality,omitempty"`
	Sex             string         `json:"sex,omitempty"`
	BirthDate       string         `json:"birth_date,omitempty"`
	DocExpiry       string         `json:"doc_expiry,omitempty"`
	ConfidenceScore float64        `json:"confidence_score"`
	ConfidenceTier  ConfidenceTier `json:"confidence_tier"`
	DuplicateFlag   bool           `json:"duplicate_flag"`
}
