package alignment

import (
	"testing"

	"github.com/arborfm/karaopipe/src/music"
)

func TestRatioMatchesSequenceMatcher(t *testing.T) {
	cases := []struct {
		a, b string
		want float64
	}{
		{"", "", 1.0},
		{"abc", "", 0},
		{"abc", "abc", 1.0},
		{"helo", "hello", 2.0 * 4 / 9},
		{"wurld", "world", 2.0 * 4 / 10},
	}
	for _, c := range cases {
		if got := ratio(c.a, c.b); !almostEqual(got, c.want) {
			t.Errorf("ratio(%q, %q) = %v, want %v", c.a, c.b, got, c.want)
		}
	}
}

func almostEqual(a, b float64) bool {
	d := a - b
	return d < 1e-9 && d > -1e-9
}

func TestWordSimilarity(t *testing.T) {
	if got := wordSimilarity("Hello,", "hello"); got != 1 {
		t.Errorf("punctuation and case should normalize away, got %v", got)
	}
	if got := wordSimilarity("", "x"); got != 0 {
		t.Errorf("empty side must score 0, got %v", got)
	}
	if got := wordSimilarity("...", "x"); got != 0 {
		t.Errorf("all-punctuation side must score 0, got %v", got)
	}
}

func TestNormalizeStripsASCIIPunctuation(t *testing.T) {
	if got := normalize("Don't!"); got != "dont" {
		t.Errorf("got %q, want %q", got, "dont")
	}
	if got := normalize("Ünïcode"); got != "ünïcode" {
		t.Errorf("non-ASCII letters must survive, got %q", got)
	}
}

func TestAlignExactSequences(t *testing.T) {
	pairs := Align([]string{"a", "b", "c"}, []string{"a", "b", "c"})
	if len(pairs) != 3 {
		t.Fatalf("got %d pairs, want 3", len(pairs))
	}
	for i, p := range pairs {
		if p.ASRIdx != i || p.RefIdx != i || p.Sim != 1 {
			t.Errorf("pair %d: %+v", i, p)
		}
	}
}

func TestAlignInsertsGapsForExtraASRWords(t *testing.T) {
	pairs := Align([]string{"uh", "hello", "world"}, []string{"hello", "world"})
	var gaps, aligned int
	for _, p := range pairs {
		if p.RefIdx < 0 {
			gaps++
		} else if p.ASRIdx >= 0 {
			aligned++
		}
	}
	if gaps != 1 || aligned != 2 {
		t.Errorf("got %d gaps / %d aligned, want 1 / 2: %+v", gaps, aligned, pairs)
	}
}

func TestQuality(t *testing.T) {
	pairs := []Pair{
		{ASRIdx: 0, RefIdx: 0, Sim: 1},
		{ASRIdx: 1, RefIdx: 1, Sim: 0.5},
		{ASRIdx: 2, RefIdx: -1},
	}
	if got := Quality(pairs, 3, 2); !almostEqual(got, 1.0/3) {
		t.Errorf("got %v, want 1/3", got)
	}
	if got := Quality(nil, 0, 0); got != 0 {
		t.Errorf("empty alignment must score 0, got %v", got)
	}
}

func singleCharWords(n int) []music.Word {
	out := make([]music.Word, n)
	for i := range out {
		out[i] = music.Word{Word: "a"}
	}
	return out
}

func TestASRHealthyBoundaryAtTenShortTokens(t *testing.T) {
	// The short-token ratio check only kicks in past 10 tokens.
	if ok, _ := ASRHealthy(singleCharWords(10), nil); !ok {
		t.Error("10/10 single-char tokens must pass")
	}
	if ok, reason := ASRHealthy(singleCharWords(11), nil); ok || reason != "character_level_breakage" {
		t.Errorf("11/11 single-char tokens must be rejected, got ok=%v reason=%q", ok, reason)
	}
}

func TestASRHealthyRejectsLowSimilarityToReference(t *testing.T) {
	words := []music.Word{{Word: "zzz"}, {Word: "qqq"}, {Word: "www"}}
	ref := []string{"completely different lyric text here"}
	if ok, reason := ASRHealthy(words, ref); ok || reason != "low_similarity_to_reference" {
		t.Errorf("got ok=%v reason=%q", ok, reason)
	}
}

func TestASRHealthyAcceptsMatchingReference(t *testing.T) {
	words := []music.Word{{Word: "hello"}, {Word: "world"}}
	if ok, _ := ASRHealthy(words, []string{"Hello world"}); !ok {
		t.Error("near-identical ASR must pass the reference similarity check")
	}
}

func TestRewriteWordTransfersASRPunctuation(t *testing.T) {
	if got := rewriteWord("wurld,", "world"); got != "world," {
		t.Errorf("got %q, want %q", got, "world,")
	}
}

func TestRewriteWordPrefersReferencePunctuation(t *testing.T) {
	if got := rewriteWord("wurld,", "world!"); got != "world!" {
		t.Errorf("got %q, want %q", got, "world!")
	}
}

func TestRewriteWordDowncasesLineInitialCapital(t *testing.T) {
	if got := rewriteWord("hello", "Hello"); got != "hello" {
		t.Errorf("got %q, want %q", got, "hello")
	}
	// Acronyms keep their capitals even against a lowercase ASR token.
	if got := rewriteWord("tv", "TV"); got != "TV" {
		t.Errorf("got %q, want %q", got, "TV")
	}
	// An ASR token that already starts uppercase keeps the reference casing.
	if got := rewriteWord("Helo", "Hello"); got != "Hello" {
		t.Errorf("got %q, want %q", got, "Hello")
	}
}
