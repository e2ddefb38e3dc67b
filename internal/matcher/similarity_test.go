package matcher

import (
	"testing"

	"github.com/stretchr/testify/assert"
)

func TestNormalizeQuestion(t *testing.T) {
	assert.Equal(t, "will btc hit $100k", normalizeQuestion("  Will BTC   hit $100k?! "))
	assert.Equal(t, "cpi above 35%", normalizeQuestion("CPI above 3.5%"))
}

func TestSequenceRatio(t *testing.T) {
	assert.InDelta(t, 0.75, sequenceRatio([]rune("abcd"), []rune("bcde")), 1e-9)
	assert.Equal(t, 1.0, sequenceRatio(nil, nil))
	assert.Equal(t, 0.0, sequenceRatio([]rune("abc"), []rune("xyz")))
}

func TestExtractNumbers(t *testing.T) {
	got := extractNumbers("Inflation over 3.5% in 2025, or $100k?")
	assert.Equal(t, map[string]bool{"3.5": true, "2025": true, "$100k": true}, got)
	assert.Empty(t, extractNumbers("yes, no, maybe"))
	assert.Equal(t, map[string]bool{"$100,000": true, "31": true, "2025": true},
		extractNumbers("Above $100,000 by Dec 31, 2025."))
}

func TestNumberMatch(t *testing.T) {
	set := func(xs ...string) map[string]bool {
		m := map[string]bool{}
		for _, x := range xs {
			m[x] = true
		}
		return m
	}
	assert.Equal(t, 1.0, numberMatch(set("2025"), set("2025")))
	assert.Equal(t, 1.0, numberMatch(set(), set()))
	assert.Equal(t, 0.5, numberMatch(set("2025", "100"), set("2025")))
	assert.Equal(t, 0.0, numberMatch(set("2024"), set("2025")))
}

func TestQuestionSimilarity(t *testing.T) {
	q := "Will Bitcoin reach $100k by 2025?"
	assert.InDelta(t, 1.0, QuestionSimilarity(q, q), 1e-9)

	paraphrase := QuestionSimilarity(
		"Will Bitcoin reach $100k by end of 2025?",
		"Bitcoin to reach $100k by the end of 2025?",
	)
	assert.Greater(t, paraphrase, 0.9)

	unrelated := QuestionSimilarity(
		"Will it rain in London tomorrow?",
		"Bitcoin above $100k?",
	)
	assert.Less(t, unrelated, 0.5)
}

func TestQuestionSimilarity_Symmetric(t *testing.T) {
	pairs := [][2]string{
		{"Will the Fed cut rates in December?", "Fed rate cut at the December meeting?"},
		{"aaab", "abbb"},
		{"Trump wins 2024 election", "Will Donald Trump win the 2024 presidential election?"},
	}
	for _, p := range pairs {
		assert.Equal(t, QuestionSimilarity(p[0], p[1]), QuestionSimilarity(p[1], p[0]), p[0])
	}
}

func TestSharesWords(t *testing.T) {
	a := featuresOf("Will the Fed cut rates?")
	b := featuresOf("Fed decision")
	c := featuresOf("Will it be the one?")
	assert.True(t, a.sharesWords(b))
	assert.False(t, a.sharesWords(c))
}
