package mrz

import "strings"

// FieldType selects which confusion table applies to a field. The same
// OCR glyph ambiguity (O vs 0, B vs 8, ...) resolves in opposite
// directions depending on whether the MRZ layout declares the field
// alphabetic or numeric.
type FieldType int

const (
	// FieldAlpha covers letters-only fields (names, country codes, sex).
	FieldAlpha FieldType = iota
	// FieldNumeric covers digits-only fields (dates, check digits).
	FieldNumeric
	// FieldMixed covers alphanumeric fields (document number, personal
	// number) where a glyph cannot be disambiguated by position alone.
	FieldMixed
)

// numericConfusions maps OCR-confusable letters onto the digits they were
// misread from in numeric fields.
var numericConfusions = map[rune]rune{
	'O': '0',
	'Q': '0',
	'D': '0',
	'I': '1',
	'L': '1',
	'Z': '2',
	'S': '5',
	'G': '6',
	'B': '8',
}

// alphaConfusions is the inverse direction: digits misread inside
// letters-only fields.
var alphaConfusions = map[rune]rune{
	'0': 'O',
	'1': 'I',
	'2': 'Z',
	'5': 'S',
	'6': 'G',
	'8': 'B',
}

// NormalizeChar maps one OCR-ambiguous glyph to the canonical MRZ alphabet
// member for the given field type. Characters already canonical for the
// field pass through unchanged, so the mapping is idempotent.
func NormalizeChar(ft FieldType, ch rune) rune {
	switch ft {
	case FieldNumeric:
		if v, ok := numericConfusions[ch]; ok {
			return v
		}
	case FieldAlpha:
		if v, ok := alphaConfusions[ch]; ok {
			return v
		}
	}
	return ch
}

// Normalize applies NormalizeChar to every character of s, uppercasing
// first so that the tables only need to cover the canonical case.
func Normalize(ft FieldType, s string) string {
	s = strings.ToUpper(s)
	if ft == FieldMixed {
		return s
	}
	var b strings.Builder
	b.Grow(len(s))
	for _, ch := range s {
		b.WriteRune(NormalizeChar(ft, ch))
	}
	return b.String()
}
