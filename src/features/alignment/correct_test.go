package alignment

import (
	"reflect"
	"testing"

	"github.com/arborfm/karaopipe/src/music"
)

func flatTexts(r music.RawLyrics) []string {
	words, _ := r.FlatWords()
	out := make([]string, len(words))
	for i, w := range words {
		out[i] = w.Word
	}
	return out
}

// Two reference lines against four misheard ASR words: every word is
// rewritten from the reference and the line transition lands at ASR
// index 2.
func TestCorrectRewritesAndExtractsLineBreak(t *testing.T) {
	raw := rawFrom(words(
		[4]any{"Helo", 0.0, 0.3, "S0"},
		[4]any{"wurld", 0.3, 0.7, "S0"},
		[4]any{"Goodby", 1.0, 1.4, "S0"},
		[4]any{"world", 1.4, 1.7, "S0"},
	))
	ref := []string{"Hello world", "Goodbye world"}

	corrected, breaks, stats := Correct(raw, ref)

	if !stats.Applied {
		t.Fatalf("expected correction to apply, got %+v", stats)
	}
	want := []string{"Hello", "world", "Goodbye", "world"}
	if got := flatTexts(corrected); !reflect.DeepEqual(got, want) {
		t.Errorf("got words %v, want %v", got, want)
	}
	if len(breaks) != 1 || breaks[0] != 2 {
		t.Errorf("got breaks %v, want [2]", breaks)
	}
}

// Rewriting must never touch timing or speaker labels.
func TestCorrectPreservesTimingAndSpeaker(t *testing.T) {
	raw := rawFrom(words(
		[4]any{"Helo", 0.0, 0.3, "S0"},
		[4]any{"wurld", 0.3, 0.7, "S1"},
	))
	corrected, _, _ := Correct(raw, []string{"Hello world"})

	got, _ := corrected.FlatWords()
	orig, _ := raw.FlatWords()
	for i := range got {
		if got[i].Start != orig[i].Start || got[i].End != orig[i].End || got[i].Speaker != orig[i].Speaker {
			t.Errorf("word %d: timing/speaker changed: %+v vs %+v", i, got[i], orig[i])
		}
	}
}

// "Kleid Schicht Brille" against reference "Gleitsichtbrille": the two
// leading fragments concatenate into something close enough to the
// compound that they are removed.
func TestCorrectRemovesCompoundFragments(t *testing.T) {
	raw := rawFrom(words(
		[4]any{"Kleid", 0.0, 0.3, "S0"},
		[4]any{"Schicht", 0.3, 0.6, "S0"},
		[4]any{"Brille", 0.6, 0.9, "S0"},
		[4]any{"ist", 0.9, 1.1, "S0"},
		[4]any{"teuer", 1.1, 1.5, "S0"},
	))
	ref := []string{"Gleitsichtbrille ist teuer"}

	corrected, _, stats := Correct(raw, ref)

	if !stats.Applied {
		t.Fatalf("expected correction to apply, got %+v", stats)
	}
	got := flatTexts(corrected)
	if len(got) != 3 {
		t.Fatalf("got %v, want the two fragments removed", got)
	}
	if got[1] != "ist" || got[2] != "teuer" {
		t.Errorf("got %v, want [_, ist, teuer]", got)
	}
}

// Quality zero: nothing aligns, so correction bails out with reason
// low_quality and the input comes back untouched.
func TestCorrectSkipsOnLowQuality(t *testing.T) {
	raw := rawFrom(words(
		[4]any{"xxx", 0.0, 0.1, "S0"},
		[4]any{"yyy", 0.1, 0.2, "S0"},
		[4]any{"zzz", 0.2, 0.3, "S0"},
		[4]any{"qqq", 0.3, 0.4, "S0"},
		[4]any{"rrr", 0.4, 0.5, "S0"},
	))
	corrected, breaks, stats := Correct(raw, []string{"Foo"})

	if stats.Applied || stats.Reason != "low_quality" {
		t.Fatalf("got %+v, want applied=false reason=low_quality", stats)
	}
	if breaks != nil {
		t.Errorf("got breaks %v, want none", breaks)
	}
	if !reflect.DeepEqual(flatTexts(corrected), flatTexts(raw)) {
		t.Error("skipped correction must not rewrite any word")
	}
}

func TestCorrectWithoutReferenceLines(t *testing.T) {
	raw := rawFrom(words([4]any{"hello", 0.0, 0.3, "S0"}))
	_, breaks, stats := Correct(raw, nil)
	if stats.Applied || stats.Reason != "no_ref_lines" {
		t.Errorf("got %+v", stats)
	}
	if breaks != nil {
		t.Errorf("got breaks %v, want none", breaks)
	}
}

func TestCorrectWithZeroASRWords(t *testing.T) {
	_, _, stats := Correct(music.RawLyrics{}, []string{"Hello"})
	if stats.Applied || stats.Reason != "no_asr_words" {
		t.Errorf("got %+v", stats)
	}
}

// Correct is pure: running it twice over the same input yields identical
// output.
func TestCorrectIsDeterministic(t *testing.T) {
	raw := rawFrom(words(
		[4]any{"Helo", 0.0, 0.3, "S0"},
		[4]any{"wurld", 0.3, 0.7, "S0"},
	))
	ref := []string{"Hello world"}

	c1, b1, s1 := Correct(raw, ref)
	c2, b2, s2 := Correct(raw, ref)

	if !reflect.DeepEqual(c1, c2) || !reflect.DeepEqual(b1, b2) || s1 != s2 {
		t.Error("identical inputs must produce identical outputs")
	}
}

func TestAdjustLineBreaksShiftsPastRemovals(t *testing.T) {
	breaks := []int{1, 4, 6}
	removed := map[int]bool{0: true, 4: true}
	got := adjustLineBreaks(breaks, removed)
	// break 1 shifts down by one removal below it; break 4 was itself
	// removed; break 6 shifts down by both.
	want := []int{0, 4}
	if !reflect.DeepEqual(got, want) {
		t.Errorf("got %v, want %v", got, want)
	}
}
