package matcher

import (
	"regexp"
	"strings"
	"unicode"
)

var stopwords = map[string]bool{
	"will": true, "be": true, "the": true, "a": true, "an": true, "is": true,
	"are": true, "was": true, "were": true, "have": true, "has": true, "had": true,
	"do": true, "does": true, "did": true, "on": true, "at": true, "by": true,
	"in": true, "to": true, "of": true, "for": true, "and": true, "or": true, "but": true,
}

// numberPattern matches quantities such as 2025, $100,000, 3.5 and 100k. A
// comma or dot belongs to the number only when digits follow it.
var numberPattern = regexp.MustCompile(`\$?\d+(?:,\d{3})*(?:\.\d+)?[kmb]?`)

const (
	weightSequence = 0.25
	weightJaccard  = 0.35
	weightKeywords = 0.25
	weightNumbers  = 0.15
)

// QuestionDetail breaks a question similarity score into its parts.
type QuestionDetail struct {
	Sequence float64
	Jaccard  float64
	Keywords float64
	Numbers  float64
}

// Score returns the weighted blend of the parts.
func (d QuestionDetail) Score() float64 {
	return d.Sequence*weightSequence + d.Jaccard*weightJaccard +
		d.Keywords*weightKeywords + d.Numbers*weightNumbers
}

// QuestionSimilarity scores two market questions in [0,1]. The result is
// deterministic and symmetric in its arguments.
func QuestionSimilarity(a, b string) float64 {
	return CompareQuestions(a, b).Score()
}

// CompareQuestions returns the per-part similarity of two questions.
func CompareQuestions(a, b string) QuestionDetail {
	return compareFeatures(featuresOf(a), featuresOf(b))
}

// questionFeatures is the preprocessed form of a question, computed once per
// market per refresh.
type questionFeatures struct {
	norm     []rune
	words    map[string]bool
	keywords map[string]bool
	numbers  map[string]bool
}

func featuresOf(q string) questionFeatures {
	norm := normalizeQuestion(q)
	tokens := strings.Fields(norm)
	return questionFeatures{
		norm:     []rune(norm),
		words:    contentWords(tokens),
		keywords: keywords(tokens),
		numbers:  extractNumbers(q),
	}
}

// sharesWords reports whether the two questions have any content word in
// common. Without one, Jaccard and keyword parts are both zero.
func (f questionFeatures) sharesWords(o questionFeatures) bool {
	for w := range f.words {
		if o.words[w] {
			return true
		}
	}
	return false
}

func compareFeatures(a, b questionFeatures) QuestionDetail {
	return QuestionDetail{
		Sequence: (sequenceRatio(a.norm, b.norm) + sequenceRatio(b.norm, a.norm)) / 2,
		Jaccard:  jaccard(a.words, b.words),
		Keywords: jaccard(a.keywords, b.keywords),
		Numbers:  numberMatch(a.numbers, b.numbers),
	}
}

// normalizeQuestion lowercases, strips punctuation other than $ and %, and
// collapses whitespace.
func normalizeQuestion(q string) string {
	var b strings.Builder
	b.Grow(len(q))
	for _, r := range strings.ToLower(q) {
		switch {
		case unicode.IsLetter(r), unicode.IsDigit(r), r == '_', r == '$', r == '%':
			b.WriteRune(r)
		case unicode.IsSpace(r):
			b.WriteRune(' ')
		}
	}
	return strings.Join(strings.Fields(b.String()), " ")
}

func contentWords(tokens []string) map[string]bool {
	out := make(map[string]bool, len(tokens))
	for _, t := range tokens {
		if !stopwords[t] {
			out[t] = true
		}
	}
	return out
}

func keywords(tokens []string) map[string]bool {
	out := make(map[string]bool, len(tokens))
	for _, t := range tokens {
		if len([]rune(t)) >= 4 && !stopwords[t] {
			out[t] = true
		}
	}
	return out
}

// jaccard returns |a∩b| / |a∪b|; two empty sets score 0.
func jaccard(a, b map[string]bool) float64 {
	if len(a) == 0 || len(b) == 0 {
		return 0
	}
	inter := 0
	for k := range a {
		if b[k] {
			inter++
		}
	}
	union := len(a) + len(b) - inter
	return float64(inter) / float64(union)
}

// extractNumbers collects numeric tokens from the lowercased raw question.
func extractNumbers(q string) map[string]bool {
	out := make(map[string]bool)
	for _, m := range numberPattern.FindAllString(strings.ToLower(q), -1) {
		out[m] = true
	}
	return out
}

// numberMatch is 1 for equal sets (including both empty), 0.5 for overlapping
// sets and 0 otherwise.
func numberMatch(a, b map[string]bool) float64 {
	if len(a) == len(b) {
		equal := true
		for k := range a {
			if !b[k] {
				equal = false
				break
			}
		}
		if equal {
			return 1
		}
	}
	for k := range a {
		if b[k] {
			return 0.5
		}
	}
	return 0
}

// sequenceRatio is the Ratcliff/Obershelp similarity 2*M/T, where M is the
// number of characters in recursively found longest common blocks.
func sequenceRatio(a, b []rune) float64 {
	total := len(a) + len(b)
	if total == 0 {
		return 1
	}
	return 2 * float64(matchingRunes(a, b)) / float64(total)
}

func matchingRunes(a, b []rune) int {
	if len(a) == 0 || len(b) == 0 {
		return 0
	}
	i, j, k := longestCommonBlock(a, b)
	if k == 0 {
		return 0
	}
	return k + matchingRunes(a[:i], b[:j]) + matchingRunes(a[i+k:], b[j+k:])
}

// longestCommonBlock finds the longest common substring, preferring the
// earliest start in a and then in b.
func longestCommonBlock(a, b []rune) (int, int, int) {
	bestI, bestJ, bestK := 0, 0, 0
	prev := make([]int, len(b)+1)
	cur := make([]int, len(b)+1)
	for i := 1; i <= len(a); i++ {
		for j := 1; j <= len(b); j++ {
			if a[i-1] == b[j-1] {
				cur[j] = prev[j-1] + 1
				k := cur[j]
				si, sj := i-k, j-k
				if k > bestK || (k == bestK && (si < bestI || (si == bestI && sj < bestJ))) {
					bestI, bestJ, bestK = si, sj, k
				}
			} else {
				cur[j] = 0
			}
		}
		prev, cur = cur, prev
	}
	return bestI, bestJ, bestK
}
