package alignment

import (
	"sort"
	"strings"

	"github.com/arborfm/karaopipe/src/music"
)

func round4(f float64) float64 {
	return float64(int(f*10000+0.5)) / 10000
}

func deepCopyRawLyrics(r music.RawLyrics) music.RawLyrics {
	out := music.RawLyrics{Segments: make([]music.Segment, len(r.Segments))}
	for i, seg := range r.Segments {
		words := make([]music.Word, len(seg.Words))
		copy(words, seg.Words)
		out.Segments[i] = music.Segment{Start: seg.Start, End: seg.End, Speaker: seg.Speaker, Words: words, Text: seg.Text}
	}
	return out
}

func longer(a, b string) string {
	if len(a) >= len(b) {
		return a
	}
	return b
}

func shorter(a, b string) string {
	if len(a) <= len(b) {
		return a
	}
	return b
}

// Correct tokenizes the reference, flattens the ASR segments, globally
// aligns them, and, if alignment quality clears the 0.4 gate, rewrites
// ASR words from the reference, removes compound-word fragments, and
// extracts reference line-break positions into the flattened ASR word
// stream.
//
// Correct is a pure function: identical inputs always produce identical
// outputs, with no hidden state.
func Correct(raw music.RawLyrics, referenceLines []string) (music.RawLyrics, []int, music.RefStats) {
	flatWords, index := raw.FlatWords()

	if len(referenceLines) == 0 {
		return raw, nil, music.RefStats{TotalWords: len(flatWords), Applied: false, Reason: "no_ref_lines"}
	}
	if len(flatWords) == 0 {
		return raw, nil, music.RefStats{TotalWords: 0, Applied: false, Reason: "no_asr_words"}
	}
	refTokens := tokenizeReference(referenceLines)
	if len(refTokens) == 0 {
		return raw, nil, music.RefStats{TotalWords: len(flatWords), Applied: false, Reason: "no_provider_tokens"}
	}

	asrNorm := make([]string, len(flatWords))
	for i, w := range flatWords {
		asrNorm[i] = normalize(w.Word)
	}
	refNorm := make([]string, len(refTokens))
	for i, t := range refTokens {
		refNorm[i] = t.Normalized
	}

	pairs := Align(asrNorm, refNorm)
	quality := Quality(pairs, len(asrNorm), len(refNorm))
	stats := music.RefStats{Quality: round4(quality), TotalWords: len(flatWords), Applied: quality >= qualityGate}
	if quality < qualityGate {
		stats.Reason = "low_quality"
		return raw, nil, stats
	}

	corrected := deepCopyRawLyrics(raw)

	for pi, p := range pairs {
		if p.ASRIdx < 0 || p.RefIdx < 0 {
			continue
		}
		doRewrite := p.Sim >= simThreshold || contextSupportsRewrite(pairs, pi)
		if !doRewrite {
			continue
		}
		si, wi := index[p.ASRIdx][0], index[p.ASRIdx][1]
		w := &corrected.Segments[si].Words[wi]
		w.Word = rewriteWord(w.Word, refTokens[p.RefIdx].Raw)
	}

	// Line breaks are computed before fragment removal so the removal
	// step can adjust these indices.
	lineBreaks := extractLineBreaks(pairs, refTokens)

	removed := compoundFragmentIndices(pairs, asrNorm, refNorm)
	if len(removed) > 0 {
		deleteFlatIndices(&corrected, index, removed)
		lineBreaks = adjustLineBreaks(lineBreaks, removed)
	}

	return corrected, lineBreaks, stats
}

// extractLineBreaks: every aligned pair with
// sim >= 0.6 maps its ASR index to the reference line it aligned against;
// a transition to a new line index emits a break at that ASR index.
func extractLineBreaks(pairs []Pair, refTokens []refToken) []int {
	asrToLine := make(map[int]int)
	var asrIdxs []int
	for _, p := range pairs {
		if p.ASRIdx >= 0 && p.RefIdx >= 0 && p.Sim >= simThreshold {
			asrToLine[p.ASRIdx] = refTokens[p.RefIdx].LineIndex
			asrIdxs = append(asrIdxs, p.ASRIdx)
		}
	}
	sort.Ints(asrIdxs)
	var breaks []int
	prevLine := -1
	first := true
	for _, ai := range asrIdxs {
		line := asrToLine[ai]
		if first {
			prevLine = line
			first = false
			continue
		}
		if line != prevLine {
			breaks = append(breaks, ai)
			prevLine = line
		}
	}
	return breaks
}

// compoundFragmentIndices: for each aligned pair, look at the run of
// immediately preceding unaligned ASR words and test
// whether they are a broken-up compound whose concatenation resembles the
// matched target word.
func compoundFragmentIndices(pairs []Pair, asrNorm, refNorm []string) map[int]bool {
	removed := make(map[int]bool)
	for pi, p := range pairs {
		if p.ASRIdx < 0 || p.RefIdx < 0 {
			continue
		}
		asrWord := asrNorm[p.ASRIdx]
		refWord := refNorm[p.RefIdx]
		target := longer(refWord, asrWord)
		if len(target) < fragmentMinLen {
			continue
		}
		root := shorter(refWord, asrWord)

		var gapIdxs []int
		for k := pi - 1; k >= 0; k-- {
			g := pairs[k]
			if g.ASRIdx >= 0 && g.RefIdx < 0 {
				gapIdxs = append(gapIdxs, g.ASRIdx)
				continue
			}
			break
		}
		if len(gapIdxs) == 0 {
			continue
		}
		// gapIdxs was collected backward; reverse to document order.
		for l, r := 0, len(gapIdxs)-1; l < r; l, r = l+1, r-1 {
			gapIdxs[l], gapIdxs[r] = gapIdxs[r], gapIdxs[l]
		}

		var gapConcat strings.Builder
		for _, gi := range gapIdxs {
			gapConcat.WriteString(asrNorm[gi])
		}
		concat := gapConcat.String() + root
		if len(concat) < len(root)+fragmentMinExtra {
			continue
		}
		if ratio(concat, target) >= fragmentMinRatio {
			for _, gi := range gapIdxs {
				removed[gi] = true
			}
		}
	}
	return removed
}

func deleteFlatIndices(raw *music.RawLyrics, index [][2]int, removed map[int]bool) {
	// Group removed word indices per segment, descending, so deleting
	// doesn't invalidate not-yet-processed indices within the same segment.
	perSegment := make(map[int][]int)
	for flatIdx := range removed {
		si, wi := index[flatIdx][0], index[flatIdx][1]
		perSegment[si] = append(perSegment[si], wi)
	}
	for si, widxs := range perSegment {
		sort.Sort(sort.Reverse(sort.IntSlice(widxs)))
		for _, wi := range widxs {
			seg := raw.Segments[si]
			seg.Words = append(seg.Words[:wi], seg.Words[wi+1:]...)
			raw.Segments[si] = seg
		}
	}
	var kept []music.Segment
	for _, seg := range raw.Segments {
		if len(seg.Words) == 0 {
			continue
		}
		parts := make([]string, len(seg.Words))
		for i, w := range seg.Words {
			parts[i] = w.Word
		}
		seg.Text = strings.Join(parts, " ")
		kept = append(kept, seg)
	}
	raw.Segments = kept
}

// adjustLineBreaks shifts each retained break down by the number of
// removed indices strictly below
// it, and drop any break that was itself removed.
func adjustLineBreaks(breaks []int, removed map[int]bool) []int {
	var out []int
	for _, b := range breaks {
		if removed[b] {
			continue
		}
		shift := 0
		for ri := range removed {
			if ri < b {
				shift++
			}
		}
		out = append(out, b-shift)
	}
	return out
}
