package alignment

import (
	"testing"

	"github.com/arborfm/karaopipe/src/music"
)

func words(specs ...[4]any) []music.Word {
	var out []music.Word
	for _, s := range specs {
		out = append(out, music.Word{
			Word:    s[0].(string),
			Start:   s[1].(float64),
			End:     s[2].(float64),
			Speaker: s[3].(string),
		})
	}
	return out
}

func rawFrom(ws []music.Word) music.RawLyrics {
	return music.RawLyrics{Segments: []music.Segment{{Words: ws}}}
}

// Two reference lines, one break at ASR index 2.
func TestSplitReferenceGuidedTwoLines(t *testing.T) {
	raw := rawFrom(words(
		[4]any{"Hello", 0.0, 0.3, "S0"},
		[4]any{"world", 0.3, 0.7, "S0"},
		[4]any{"Goodbye", 1.0, 1.4, "S0"},
		[4]any{"world", 1.4, 1.7, "S0"},
	))
	out := Split(raw, []int{2}, music.RefStats{Applied: true})

	if len(out.Segments) != 2 {
		t.Fatalf("got %d segments, want 2", len(out.Segments))
	}
	if out.Segments[0].Start != 0.0 || out.Segments[0].End != 0.7 {
		t.Errorf("segment 0 bounds: %+v", out.Segments[0])
	}
	if out.Segments[1].Start != 1.0 || out.Segments[1].End != 1.7 {
		t.Errorf("segment 1 bounds: %+v", out.Segments[1])
	}
	if out.LyricsSource != "reference" {
		t.Errorf("got lyrics_source %q, want reference", out.LyricsSource)
	}
}

// No line breaks -> heuristic fallback, one segment because 5 words <= 8.
func TestSplitHeuristicFallbackSingleSegment(t *testing.T) {
	raw := rawFrom(words(
		[4]any{"xxx", 0.0, 0.1, "S0"},
		[4]any{"yyy", 0.1, 0.2, "S0"},
		[4]any{"zzz", 0.2, 0.3, "S0"},
		[4]any{"qqq", 0.3, 0.4, "S0"},
		[4]any{"rrr", 0.4, 0.5, "S0"},
	))
	out := Split(raw, nil, music.RefStats{Applied: false, Reason: "low_quality"})

	if len(out.Segments) != 1 {
		t.Fatalf("got %d segments, want 1", len(out.Segments))
	}
	if out.LyricsSource != "heuristic" {
		t.Errorf("got lyrics_source %q, want heuristic", out.LyricsSource)
	}
	if out.RefStats == nil || out.RefStats.Applied {
		t.Errorf("expected ref_stats.applied == false")
	}
}

func TestSplitEnforcesReferenceGuidedWordCap(t *testing.T) {
	var ws []music.Word
	for i := 0; i < 25; i++ {
		t := float64(i)
		gap := 0.0
		if i == 12 {
			gap = 5.0 // largest gap lands near the middle third
		}
		ws = append(ws, music.Word{Word: "w", Start: t + gap, End: t + 0.5 + gap, Speaker: "S0"})
	}
	raw := rawFrom(ws)
	out := Split(raw, []int{0}, music.RefStats{Applied: true})

	for _, seg := range out.Segments {
		if len(seg.Words) > referenceGuidedMaxWords {
			t.Errorf("segment has %d words, want <= %d", len(seg.Words), referenceGuidedMaxWords)
		}
	}
}

func TestSplitEnforcesHeuristicWordCap(t *testing.T) {
	var ws []music.Word
	for i := 0; i < 15; i++ {
		t := float64(i)
		ws = append(ws, music.Word{Word: "w", Start: t, End: t + 0.5, Speaker: "S0"})
	}
	out := Split(rawFrom(ws), nil, music.RefStats{})

	for _, seg := range out.Segments {
		if len(seg.Words) > heuristicMaxWords {
			t.Errorf("segment has %d words, want <= %d", len(seg.Words), heuristicMaxWords)
		}
	}
}

func TestSplitAtSpeakerChange(t *testing.T) {
	raw := rawFrom(words(
		[4]any{"a", 0.0, 0.2, "S0"},
		[4]any{"b", 0.2, 0.4, "S0"},
		[4]any{"c", 5.0, 5.2, "S1"},
		[4]any{"d", 5.2, 5.4, "S1"},
	))
	out := Split(raw, nil, music.RefStats{})
	if len(out.Segments) != 2 {
		t.Fatalf("got %d segments, want 2 (one per speaker)", len(out.Segments))
	}
	if out.Segments[0].Speaker != "S0" || out.Segments[1].Speaker != "S1" {
		t.Errorf("unexpected speakers: %+v / %+v", out.Segments[0], out.Segments[1])
	}
}

func TestSplitMergesTinySegments(t *testing.T) {
	// A lone one-word segment immediately following a same-speaker segment
	// with a tiny gap should be absorbed into it rather than standing alone.
	raw := rawFrom(words(
		[4]any{"a", 0.0, 0.2, "S0"},
		[4]any{"b", 0.2, 0.4, "S0"},
		[4]any{"c", 0.45, 0.6, "S0"},
	))
	// Force two segments via an artificial line break after "b".
	out := Split(raw, []int{2}, music.RefStats{Applied: true})
	if len(out.Segments) != 1 {
		t.Fatalf("got %d segments, want 1 after tiny-segment merge", len(out.Segments))
	}
}

func score(f float64) *float64 { return &f }

// A real 0.0 score counts toward the average; only scoreless words are
// skipped.
func TestAvgConfidenceSkipsOnlyScorelessWords(t *testing.T) {
	raw := music.RawLyrics{Segments: []music.Segment{{Words: []music.Word{
		{Word: "a", Score: score(1.0)},
		{Word: "b", Score: score(0.0)},
		{Word: "c"},
	}}}}
	out := Split(raw, nil, music.RefStats{})
	if out.AvgConfidence == nil {
		t.Fatal("expected avg_confidence to be set")
	}
	if got := *out.AvgConfidence; got != 0.5 {
		t.Errorf("got avg_confidence %v, want 0.5", got)
	}
}

func TestAvgConfidenceNilWhenNoWordScored(t *testing.T) {
	raw := music.RawLyrics{Segments: []music.Segment{{Words: []music.Word{
		{Word: "a"}, {Word: "b"},
	}}}}
	out := Split(raw, nil, music.RefStats{})
	if out.AvgConfidence != nil {
		t.Errorf("got avg_confidence %v, want nil", *out.AvgConfidence)
	}
}

func TestSplitEmptyWordsProducesNoSegments(t *testing.T) {
	out := Split(music.RawLyrics{}, nil, music.RefStats{Reason: "no_asr_words"})
	if len(out.Segments) != 0 {
		t.Errorf("expected no segments for empty input, got %d", len(out.Segments))
	}
	if out.AvgConfidence != nil {
		t.Errorf("expected nil avg_confidence for empty input")
	}
}
