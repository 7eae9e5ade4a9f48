package mrz

import (
	"strings"
	"time"

	"mrzgate/internal/model"
)

// BuildResult assembles the privacy-safe extraction from a parse. The
// document number itself is dropped: only its SHA-256-backed hash and
// its length survive into the result.
func BuildResult(p *ParsedMRZ, score float64, tier model.ConfidenceTier) *model.OCRResult {
	return &model.OCRResult{
		PassportHash:    p.HashParsed(),
		PassportMRZLen:  len(strings.Trim(p.DocumentNumber.NormalizedValue, "<")),
		Surname:         p.Surname.NormalizedValue,
		GivenNames:      p.GivenNames.NormalizedValue,
		IssuingState:    strings.Trim(p.IssuingState.NormalizedValue, "<"),
		Nationality:     strings.Trim(p.Nationality.NormalizedValue, "<"),
		Sex:             strings.Trim(p.Sex.NormalizedValue, "<"),
		BirthDate:       isoBirthDate(p.BirthDate.NormalizedValue),
		DocExpiry:       isoExpiryDate(p.ExpiryDate.NormalizedValue),
		ConfidenceScore: score,
		ConfidenceTier:  tier,
	}
}

func isoBirthDate(yymmdd string) string {
	t, ok := decodeBirthDate(yymmdd)
	if !ok {
		return ""
	}
	return t.Format(time.DateOnly)
}

func isoExpiryDate(yymmdd string) string {
	t, ok := decodeExpiryDate(yymmdd)
	if !ok {
		return ""
	}
	return t.Format(time.DateOnly)
}
