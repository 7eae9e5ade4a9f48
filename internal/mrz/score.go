package mrz

import (
	"time"

	"github.com/agext/levenshtein"

	"mrzgate/internal/model"
)

// Scoring weights. Each term contributes fully or not at all.
const (
	weightStructure  = 0.35
	weightElementary = 0.25
	weightComposite  = 0.15
	weightCountries  = 0.10
	weightDates      = 0.10
	weightLowEdits   = 0.05
)

// MaxTrustedEditDistance is the aggregate raw-vs-normalized distance at
// or below which the confusion-normalization signal still earns credit.
const MaxTrustedEditDistance = 2

// Tier maps a confidence score to its observability label.
func Tier(score float64) model.ConfidenceTier {
	switch {
	case score >= 0.80:
		return model.TierHigh
	case score >= 0.55:
		return model.TierMedium
	default:
		return model.TierLow
	}
}

// Score combines structural, checksum and semantic signals into a bounded
// confidence score and its tier. editDistance is the aggregate distance
// produced by ParsedMRZ.EditDistance; now anchors the date sanity checks.
func Score(p *ParsedMRZ, editDistance int, now time.Time) (float64, model.ConfidenceTier) {
	if p == nil {
		return 0, model.TierLow
	}

	score := 0.0
	if p.StructuralOK {
		score += weightStructure
	}
	if p.ElementaryChecksumsOK() {
		score += weightElementary
	}
	if p.CompositeChecksumOK {
		score += weightComposite
	}
	if ValidCountryCode(p.IssuingState.NormalizedValue) && ValidCountryCode(p.Nationality.NormalizedValue) {
		score += weightCountries
	}
	if datesSane(p, now) {
		score += weightDates
	}
	if editDistance <= MaxTrustedEditDistance {
		score += weightLowEdits
	}

	if score < 0 {
		score = 0
	}
	if score > 1 {
		score = 1
	}
	return score, Tier(score)
}

func fieldDistance(raw, normalized string) int {
	if raw == normalized {
		return 0
	}
	return levenshtein.Distance(raw, normalized, nil)
}

// datesSane requires both dates to decode as real calendar dates, the
// birth date to lie in a plausible human lifetime, and the expiry to fall
// after birth without being absurdly far in the future. An already
// expired document still counts as sane.
func datesSane(p *ParsedMRZ, now time.Time) bool {
	birth, ok := decodeBirthDate(p.BirthDate.NormalizedValue)
	if !ok {
		return false
	}
	expiry, ok := decodeExpiryDate(p.ExpiryDate.NormalizedValue)
	if !ok {
		return false
	}
	if birth.After(now) || birth.Before(now.AddDate(-120, 0, 0)) {
		return false
	}
	if !expiry.After(birth) || expiry.After(now.AddDate(20, 0, 0)) {
		return false
	}
	return true
}

// decodeBirthDate interprets a YYMMDD birth value with a fixed century
// pivot: two-digit years above 30 read as 19xx, the rest as 20xx.
func decodeBirthDate(v string) (time.Time, bool) {
	return decodeDate(v, true)
}

// decodeExpiryDate interprets a YYMMDD expiry value. Expiry years always
// read as 20xx: no document in circulation expires in the previous
// century, and pivoting would push expiries past the pivot year back a
// hundred years.
func decodeExpiryDate(v string) (time.Time, bool) {
	return decodeDate(v, false)
}

func decodeDate(v string, pivot bool) (time.Time, bool) {
	if len(v) != 6 || !digitsOnly(v) {
		return time.Time{}, false
	}
	yy := int(v[0]-'0')*10 + int(v[1]-'0')
	year := 2000 + yy
	if pivot && yy > 30 {
		year = 1900 + yy
	}
	month := int(v[2]-'0')*10 + int(v[3]-'0')
	day := int(v[4]-'0')*10 + int(v[5]-'0')
	if month < 1 || month > 12 || day < 1 || day > 31 {
		return time.Time{}, false
	}
	t := time.Date(year, time.Month(month), day, 0, 0, 0, 0, time.UTC)
	// Reject normalized overflow like Feb 30.
	if t.Day() != day || int(t.Month()) != month {
		return time.Time{}, false
	}
	return t, true
}
