package textutil

import (
	"crypto/sha256"
	"encoding/hex"
	"regexp"
	"strings"

	"github.com/antzucaro/matchr"
)

var whitespaceRegex = regexp.MustCompile(`\s+`)

func NormalizeName(name string) string {
	name = strings.ToLower(name)
	name = strings.Trim(name, " \n\t")
	name = whitespaceRegex.ReplaceAllString(name, "")
	return name
}

// Match is the candidate chosen by BestMatch together with its similarity.
type Match struct {
	Index      int
	Similarity float64
}

// BestMatch returns the candidate most similar to name by Jaro-Winkler
// distance over normalized names. ok is false when no candidate reaches
// threshold or when the two best candidates tie.
func BestMatch(name string, candidates []string, threshold float64) (Match, bool) {
	target := NormalizeName(name)
	if target == "" {
		return Match{}, false
	}

	best := Match{Index: -1}
	tied := false
	for i, c := range candidates {
		normalized := NormalizeName(c)
		if normalized == target {
			return Match{Index: i, Similarity: 1}, true
		}
		similarity := matchr.JaroWinkler(target, normalized, false)
		switch {
		case similarity > best.Similarity:
			best = Match{Index: i, Similarity: similarity}
			tied = false
		case similarity == best.Similarity && best.Index >= 0:
			tied = true
		}
	}

	if best.Index < 0 || tied || best.Similarity < threshold {
		return Match{}, false
	}
	return best, true
}

// Truncate shortens s to at most n runes, appending an ellipsis when cut.
func Truncate(s string, n int) string {
	runes := []rune(s)
	if len(runes) <= n {
		return s
	}
	if n <= 1 {
		return string(runes[:n])
	}
	return string(runes[:n-1]) + "…"
}

// Hash returns the hex encoded SHA-256 of s.
func Hash(s string) string {
	sum := sha256.Sum256([]byte(s))
	return hex.EncodeToString(sum[:])
}
