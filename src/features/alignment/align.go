// Package alignment implements the Needleman-Wunsch ASR<->reference
// alignment, the rewrite/fragment-removal/line-break pipeline built on
// top of it, and the karaoke line splitter. Every function here is a pure
// function of its arguments: no logger, no clock, no I/O.
package alignment

import (
	"strings"

	"github.com/arborfm/karaopipe/src/music"
)

const (
	matchBonus      = 2.0
	mismatchPenalty = -1.0
	gapPenalty      = -0.5
	simThreshold    = 0.6
	qualityGate     = 0.4

	contextWindow    = 3
	contextMinQual   = 0.55
	contextMinRatio  = 0.6
	fragmentMinLen   = 8
	fragmentMinExtra = 3
	fragmentMinRatio = 0.55
)

// refToken is one whitespace-split reference word.
type refToken struct {
	Normalized string
	Raw        string
	LineIndex  int
}

func tokenizeReference(lines []string) []refToken {
	var tokens []refToken
	for li, line := range lines {
		for _, w := range strings.Fields(line) {
			tokens = append(tokens, refToken{Normalized: normalize(w), Raw: w, LineIndex: li})
		}
	}
	return tokens
}

// Pair is one cell of the Needleman-Wunsch traceback: either side may be
// absent (-1) to represent a gap.
type Pair struct {
	ASRIdx int
	RefIdx int
	Sim    float64
}

// Align runs global alignment over the normalized ASR and reference token
// sequences. Ties in the traceback break diagonal, up, left.
func Align(asrNorm, refNorm []string) []Pair {
	n, m := len(asrNorm), len(refNorm)
	dp := make([][]float64, n+1)
	for i := range dp {
		dp[i] = make([]float64, m+1)
	}
	for i := 1; i <= n; i++ {
		dp[i][0] = dp[i-1][0] + gapPenalty
	}
	for j := 1; j <= m; j++ {
		dp[0][j] = dp[0][j-1] + gapPenalty
	}
	matchScore := func(i, j int) float64 {
		s := wordSimilarity(asrNorm[i-1], refNorm[j-1])
		if s >= simThreshold {
			return matchBonus * s
		}
		return mismatchPenalty
	}
	for i := 1; i <= n; i++ {
		for j := 1; j <= m; j++ {
			diag := dp[i-1][j-1] + matchScore(i, j)
			up := dp[i-1][j] + gapPenalty
			left := dp[i][j-1] + gapPenalty
			best := diag
			if up > best {
				best = up
			}
			if left > best {
				best = left
			}
			dp[i][j] = best
		}
	}

	var pairs []Pair
	i, j := n, m
	for i > 0 || j > 0 {
		switch {
		case i > 0 && j > 0 && dp[i][j] == dp[i-1][j-1]+matchScore(i, j):
			pairs = append(pairs, Pair{ASRIdx: i - 1, RefIdx: j - 1, Sim: wordSimilarity(asrNorm[i-1], refNorm[j-1])})
			i--
			j--
		case i > 0 && dp[i][j] == dp[i-1][j]+gapPenalty:
			pairs = append(pairs, Pair{ASRIdx: i - 1, RefIdx: -1})
			i--
		default:
			pairs = append(pairs, Pair{ASRIdx: -1, RefIdx: j - 1})
			j--
		}
	}
	for l, r := 0, len(pairs)-1; l < r; l, r = l+1, r-1 {
		pairs[l], pairs[r] = pairs[r], pairs[l]
	}
	return pairs
}

// Quality is the fraction of aligned pairs with sim >= 0.6 relative to
// the longer of the two input sequences.
func Quality(pairs []Pair, n, m int) float64 {
	good := 0
	for _, p := range pairs {
		if p.ASRIdx >= 0 && p.RefIdx >= 0 && p.Sim >= simThreshold {
			good++
		}
	}
	denom := n
	if m > denom {
		denom = m
	}
	if denom == 0 {
		return 0
	}
	return float64(good) / float64(denom)
}

// ASRHealthy rejects ASR output that is broken at the character level or
// bears no resemblance to the reference text. The short-token ratio check
// only applies once more than 10 non-empty tokens exist.
func ASRHealthy(words []music.Word, referenceLines []string) (bool, string) {
	total := 0
	shortCount := 0
	var asrTextParts []string
	for _, w := range words {
		t := strings.TrimSpace(w.Word)
		if t == "" {
			continue
		}
		total++
		if len([]rune(t)) <= 1 {
			shortCount++
		}
		asrTextParts = append(asrTextParts, t)
	}
	if total > 10 && float64(shortCount)/float64(total) > 0.5 {
		return false, "character_level_breakage"
	}
	if len(referenceLines) > 0 {
		asrText := strings.Join(asrTextParts, " ")
		refText := strings.Join(referenceLines, " ")
		if ratio(normalize(asrText), normalize(refText)) < 0.30 {
			return false, "low_similarity_to_reference"
		}
	}
	return true, ""
}

func contextSupportsRewrite(pairs []Pair, idx int) bool {
	lo := idx - contextWindow
	if lo < 0 {
		lo = 0
	}
	hi := idx + contextWindow + 1
	if hi > len(pairs) {
		hi = len(pairs)
	}
	window := pairs[lo:hi]
	total := len(window)
	if total < 2 {
		return false
	}
	good, asrCount, refCount := 0, 0, 0
	for _, p := range window {
		if p.ASRIdx >= 0 {
			asrCount++
		}
		if p.RefIdx >= 0 {
			refCount++
		}
		if p.ASRIdx >= 0 && p.RefIdx >= 0 && p.Sim >= simThreshold {
			good++
		}
	}
	denom := asrCount
	if refCount > denom {
		denom = refCount
	}
	if denom == 0 {
		return false
	}
	quality := float64(good) / float64(denom)
	windowRatio := float64(good) / float64(total)
	return quality >= contextMinQual && windowRatio >= contextMinRatio
}

// trailingPunct returns the run of ASCII punctuation at the end of s.
func trailingPunct(s string) string {
	i := len(s)
	for i > 0 && isASCIIPunct(rune(s[i-1])) {
		i--
	}
	return s[i:]
}

func isAcronym(s string) bool {
	if len(s) < 2 {
		return false
	}
	return s[1] >= 'A' && s[1] <= 'Z'
}

// rewriteWord produces the replacement text for one ASR word: the
// reference token's raw text, with trailing punctuation transferred from
// the ASR word when the reference carries none, and a line-initial
// capital downcased when the ASR heard it lowercase.
func rewriteWord(asrWord, refRaw string) string {
	provTrailing := trailingPunct(refRaw)
	asrTrailing := trailingPunct(asrWord)
	provStripped := strings.TrimRight(refRaw, provTrailing)
	if provTrailing == "" {
		provTrailing = asrTrailing
	}

	corrected := provStripped + provTrailing

	if len(corrected) > 0 && len(asrWord) > 0 {
		firstCorrected := rune(corrected[0])
		firstOriginal := rune(asrWord[0])
		if firstCorrected >= 'A' && firstCorrected <= 'Z' &&
			firstOriginal >= 'a' && firstOriginal <= 'z' &&
			!isAcronym(corrected) {
			corrected = strings.ToLower(corrected[:1]) + corrected[1:]
		}
	}
	return corrected
}
