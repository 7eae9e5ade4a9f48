package mrz

import (
	"crypto/sha256"
	"encoding/hex"
	"errors"
	"strings"

	"mrzgate/internal/model"
)

// LineLength is the fixed TD3 line width (passport book, two lines).
const LineLength = 44

// ErrMalformedMRZ reports MRZ text that is present but structurally
// invalid. Parsing still returns whatever fields could be sliced so the
// result remains scorable.
var ErrMalformedMRZ = errors.New("malformed mrz")

// ParsedMRZ is the outcome of slicing and validating a TD3 line pair.
type ParsedMRZ struct {
	// Line1 and Line2 are the input lines padded with filler to the TD3
	// width. They are transient parsing state, never persisted.
	Line1 string
	Line2 string

	DocumentType   model.MRZField
	IssuingState   model.MRZField
	Surname        model.MRZField
	GivenNames     model.MRZField
	DocumentNumber model.MRZField
	Nationality    model.MRZField
	BirthDate      model.MRZField
	Sex            model.MRZField
	ExpiryDate     model.MRZField
	PersonalNumber model.MRZField

	// StructuralOK means both lines were exactly 44 characters over the
	// MRZ alphabet.
	StructuralOK bool

	DocNumberChecksumOK bool
	BirthChecksumOK     bool
	ExpiryChecksumOK    bool
	CompositeChecksumOK bool
}

// ElementaryChecksumsOK reports whether all three single-field check
// digits validated.
func (p *ParsedMRZ) ElementaryChecksumsOK() bool {
	return p.DocNumberChecksumOK && p.BirthChecksumOK && p.ExpiryChecksumOK
}

// Fields returns the decoded fields in layout order.
func (p *ParsedMRZ) Fields() []model.MRZField {
	return []model.MRZField{
		p.DocumentType, p.IssuingState, p.Surname, p.GivenNames,
		p.DocumentNumber, p.Nationality, p.BirthDate, p.Sex,
		p.ExpiryDate, p.PersonalNumber,
	}
}

// EditDistance aggregates the per-field distance between raw and
// normalized values. It measures how much confusion normalization had to
// rewrite, which the scorer uses as a weak trust signal.
func (p *ParsedMRZ) EditDistance() int {
	total := 0
	for _, f := range p.Fields() {
		total += fieldDistance(f.RawValue, f.NormalizedValue)
	}
	return total
}

// checksumWeights is the repeating 7-3-1 weight cycle of the MRZ check
// digit algorithm.
var checksumWeights = [3]int{7, 3, 1}

func charValue(ch byte) int {
	switch {
	case ch >= '0' && ch <= '9':
		return int(ch - '0')
	case ch >= 'A' && ch <= 'Z':
		return int(ch-'A') + 10
	default:
		// filler and anything unexpected
		return 0
	}
}

// CheckDigit computes the MRZ check digit over the given substring.
func CheckDigit(s string) int {
	total := 0
	for i := 0; i < len(s); i++ {
		total += charValue(s[i]) * checksumWeights[i%3]
	}
	return total % 10
}

func checksumMatches(value string, check byte) bool {
	if check < '0' || check > '9' {
		return false
	}
	return CheckDigit(value) == int(check-'0')
}

// optionalChecksumMatches validates the optional-data check digit, which
// may be written as '<' when the field is empty.
func optionalChecksumMatches(value string, check byte) bool {
	if check == '<' {
		return CheckDigit(value) == 0
	}
	return checksumMatches(value, check)
}

func isMRZAlphabet(s string) bool {
	for i := 0; i < len(s); i++ {
		ch := s[i]
		if ch == '<' || (ch >= '0' && ch <= '9') || (ch >= 'A' && ch <= 'Z') {
			continue
		}
		return false
	}
	return true
}

func padLine(s string) string {
	if len(s) >= LineLength {
		return s[:LineLength]
	}
	return s + strings.Repeat("<", LineLength-len(s))
}

func fieldOver(name, raw string, ft FieldType, alphabetOK func(string) bool) model.MRZField {
	norm := Normalize(ft, raw)
	return model.MRZField{
		Name:            name,
		RawValue:        raw,
		NormalizedValue: norm,
		Valid:           alphabetOK(norm),
	}
}

func lettersOnly(s string) bool {
	for i := 0; i < len(s); i++ {
		ch := s[i]
		if ch == '<' || (ch >= 'A' && ch <= 'Z') {
			continue
		}
		return false
	}
	return true
}

func digitsOnly(s string) bool {
	for i := 0; i < len(s); i++ {
		if s[i] < '0' || s[i] > '9' {
			return false
		}
	}
	return len(s) > 0
}

// Parse slices a TD3 line pair into typed fields and validates the three
// elementary check digits plus the composite check digit. Structural
// failures (wrong length, characters outside the MRZ alphabet) do not
// abort parsing: the partial result is returned alongside ErrMalformedMRZ
// so the caller can still score it. Checksums are only attempted when
// both lines carry the full 44 characters; a short line reports them all
// false instead of risking out-of-range slicing.
func Parse(line1, line2 string) (*ParsedMRZ, error) {
	rawLen1, rawLen2 := len(line1), len(line2)
	structural := rawLen1 == LineLength && rawLen2 == LineLength &&
		isMRZAlphabet(line1) && isMRZAlphabet(line2)

	l1 := padLine(strings.ToUpper(line1))
	l2 := padLine(strings.ToUpper(line2))

	p := &ParsedMRZ{Line1: l1, Line2: l2, StructuralOK: structural}

	p.DocumentType = fieldOver("document_type", l1[0:1], FieldAlpha, lettersOnly)
	p.IssuingState = fieldOver("issuing_state", l1[2:5], FieldAlpha, lettersOnly)

	surname, given := splitNames(l1[5:LineLength])
	p.Surname = fieldOver("surname", surname, FieldAlpha, lettersOnly)
	p.GivenNames = fieldOver("given_names", given, FieldAlpha, lettersOnly)

	p.DocumentNumber = fieldOver("document_number", l2[0:9], FieldMixed, isMRZAlphabet)
	p.Nationality = fieldOver("nationality", l2[10:13], FieldAlpha, lettersOnly)
	p.BirthDate = fieldOver("birth_date", l2[13:19], FieldNumeric, digitsOnly)
	p.Sex = fieldOver("sex", l2[20:21], FieldAlpha, sexValid)
	p.ExpiryDate = fieldOver("expiry_date", l2[21:27], FieldNumeric, digitsOnly)
	p.PersonalNumber = fieldOver("personal_number", l2[28:42], FieldMixed, isMRZAlphabet)

	if rawLen1 == LineLength && rawLen2 == LineLength {
		p.DocNumberChecksumOK = checksumMatches(p.DocumentNumber.NormalizedValue, l2[9])
		p.BirthChecksumOK = checksumMatches(p.BirthDate.NormalizedValue, l2[19])
		p.ExpiryChecksumOK = checksumMatches(p.ExpiryDate.NormalizedValue, l2[27])
		p.CompositeChecksumOK = checksumMatches(compositeInput(l2), l2[43])

		p.DocumentNumber.ChecksumApplies = true
		p.DocumentNumber.ChecksumOK = p.DocNumberChecksumOK
		p.BirthDate.ChecksumApplies = true
		p.BirthDate.ChecksumOK = p.BirthChecksumOK
		p.ExpiryDate.ChecksumApplies = true
		p.ExpiryDate.ChecksumOK = p.ExpiryChecksumOK
		p.PersonalNumber.ChecksumApplies = true
		p.PersonalNumber.ChecksumOK = optionalChecksumMatches(p.PersonalNumber.NormalizedValue, l2[42])
	}

	if !structural {
		return p, ErrMalformedMRZ
	}
	return p, nil
}

// compositeInput concatenates document number + check, birth date + check
// and expiry date + check with the trailing optional-data field + its
// check digit, exactly the span the TD3 composite check digit covers.
func compositeInput(l2 string) string {
	return l2[0:10] + l2[13:20] + l2[21:43]
}

func splitNames(nameField string) (surname, given string) {
	parts := strings.SplitN(nameField, "<<", 2)
	surname = strings.Trim(parts[0], "<")
	if len(parts) == 2 {
		given = strings.TrimRight(strings.ReplaceAll(parts[1], "<", " "), " ")
		given = strings.TrimSpace(given)
	}
	return surname, given
}

func sexValid(s string) bool {
	return s == "M" || s == "F" || s == "<"
}

// NormalizedLines rebuilds the line pair with per-field confusion
// normalization applied, keeping layout positions and check digits as
// read. This is the canonical form the passport hash is derived from.
func (p *ParsedMRZ) NormalizedLines() (string, string) {
	l2 := []byte(p.Line2)
	copy(l2[13:19], p.BirthDate.NormalizedValue)
	copy(l2[21:27], p.ExpiryDate.NormalizedValue)
	nat := Normalize(FieldAlpha, p.Line2[10:13])
	copy(l2[10:13], nat)
	l1 := []byte(p.Line1)
	copy(l1[2:5], Normalize(FieldAlpha, p.Line1[2:5]))
	return string(l1), string(l2)
}

// Hash returns the lowercase hex SHA-256 of the concatenated normalized
// MRZ lines. It is the only document-number-derived value the system is
// allowed to persist or log.
func Hash(line1, line2 string) string {
	sum := sha256.Sum256([]byte(strings.TrimSpace(line1) + strings.TrimSpace(line2)))
	return hex.EncodeToString(sum[:])
}

// HashParsed computes the passport hash over the parse's normalized lines.
func (p *ParsedMRZ) HashParsed() string {
	l1, l2 := p.NormalizedLines()
	return Hash(l1, l2)
}
