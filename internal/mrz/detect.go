package mrz

import (
	"regexp"
	"strings"
)

// linePattern matches candidate MRZ line pairs inside free-form OCR text.
// OCR output often fragments lines, so the lower bound is well under the
// TD3 width and padding happens at parse time.
var linePattern = regexp.MustCompile(`([A-Z0-9<]{20,})\s*[\n\r]+([A-Z0-9<]{20,})`)

// DetectLines extracts the two MRZ lines from raw OCR text. It first
// tries a strict pattern over the de-spaced text, then falls back to
// scanning adjacent lines dense with filler characters.
func DetectLines(text string) (line1, line2 string, ok bool) {
	compact := strings.ReplaceAll(strings.ToUpper(text), " ", "")
	compact = strings.ReplaceAll(compact, "\r", "\n")

	for _, m := range linePattern.FindAllStringSubmatch(compact, -1) {
		if len(m[1]) >= 30 && len(m[2]) >= 30 {
			return m[1], m[2], true
		}
	}

	lines := make([]string, 0, 8)
	for _, ln := range strings.Split(compact, "\n") {
		ln = strings.TrimSpace(ln)
		if ln != "" {
			lines = append(lines, ln)
		}
	}
	for i := 0; i+1 < len(lines); i++ {
		a, b := lines[i], lines[i+1]
		if strings.Count(a, "<") >= 3 && strings.Count(b, "<") >= 3 &&
			len(a) >= 25 && len(b) >= 25 {
			return a, b, true
		}
	}
	return "", "", false
}
