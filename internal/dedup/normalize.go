package dedup

import "strings"

// suffixSynonyms folds common street-suffix spellings so that
// "123 Main Street" and "123 Main St" tokenize identically.
var suffixSynonyms = map[string]string{
	"street":    "st",
	"avenue":    "ave",
	"av":        "ave",
	"road":      "rd",
	"boulevard": "blvd",
	"drive":     "dr",
	"lane":      "ln",
	"court":     "ct",
	"place":     "pl",
	"parkway":   "pkwy",
	"highway":   "hwy",
	"circle":    "cir",
	"terrace":   "ter",
}

// unitTokens are dropped entirely; unit designators differ too often
// between submissions of the same address to carry signal.
var unitTokens = map[string]bool{
	"suite": true, "ste": true, "apt": true, "unit": true, "floor": true, "fl": true, "#": true,
}

// normalizeTokens lowercases, strips punctuation, folds street-suffix
// synonyms, drops unit designators, and dedupes tokens.
func normalizeTokens(address string) []string {
	var b strings.Builder
	for _, r := range strings.ToLower(address) {
		switch {
		case r >= 'a' && r <= 'z', r >= '0' && r <= '9':
			b.WriteRune(r)
		default:
			b.WriteRune(' ')
		}
	}

	seen := make(map[string]bool)
	var out []string
	skipNext := false
	for _, tok := range strings.Fields(b.String()) {
		if skipNext {
			// Token after a unit designator is the unit number.
			skipNext = false
			continue
		}
		if unitTokens[tok] {
			skipNext = true
			continue
		}
		if canonical, ok := suffixSynonyms[tok]; ok {
			tok = canonical
		}
		if seen[tok] {
			continue
		}
		seen[tok] = true
		out = append(out, tok)
	}
	return out
}

// normalizeAddress returns the space-joined normalized token form.
func normalizeAddress(address string) string {
	return strings.Join(normalizeTokens(address), " ")
}

// similarity is the token-set Jaccard index of two addresses after
// normalization. Empty inputs score zero.
func similarity(a, b string) float64 {
	ta := normalizeTokens(a)
	tb := normalizeTokens(b)
	if len(ta) == 0 || len(tb) == 0 {
		return 0
	}

	setA := make(map[string]bool, len(ta))
	for _, t := range ta {
		setA[t] = true
	}

	intersection := 0
	setB := make(map[string]bool, len(tb))
	for _, t := range tb {
		if setB[t] {
			continue
		}
		setB[t] = true
		if setA[t] {
			intersection++
		}
	}

	union := len(setA) + len(setB) - intersection
	return float64(intersection) / float64(union)
}
