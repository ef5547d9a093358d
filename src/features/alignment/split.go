package alignment

import "github.com/arborfm/karaopipe/src/music"

const (
	referenceGuidedMaxWords = 20
	heuristicMaxWords       = 8
	tinySegmentMaxWords     = 2
	tinySegmentMergeGap     = 0.5
)

// Split turns a (possibly rewritten) RawLyrics plus the line-break
// indices extracted by Correct into the final karaoke segments, picking
// the reference-guided or heuristic-fallback mode depending on whether
// any line breaks were found, then computes avg_confidence and attaches
// lyrics_source/ref_stats.
//
// Split is a pure function of its arguments: no logger, no clock.
func Split(raw music.RawLyrics, lineBreaks []int, stats music.RefStats) music.Lyrics {
	words, _ := raw.FlatWords()
	avg := avgConfidence(words)

	if len(words) == 0 {
		return music.Lyrics{
			Segments:      nil,
			LyricsSource:  sourceFor(lineBreaks),
			AvgConfidence: avg,
			RefStats:      &stats,
		}
	}

	var segments []music.Segment
	maxWords := heuristicMaxWords
	source := "heuristic"
	if len(lineBreaks) > 0 {
		segments = splitAtBreaks(words, lineBreaks)
		maxWords = referenceGuidedMaxWords
		source = "reference"
	} else {
		segments = []music.Segment{segmentFromWords(words)}
	}

	segments = splitAtSpeakerChanges(segments)
	segments = enforceMaxWords(segments, maxWords)
	segments = mergeTinySegments(segments)

	return music.Lyrics{
		Segments:      segments,
		LyricsSource:  source,
		AvgConfidence: avg,
		RefStats:      &stats,
	}
}

func sourceFor(lineBreaks []int) string {
	if len(lineBreaks) > 0 {
		return "reference"
	}
	return "heuristic"
}

// avgConfidence averages every word that actually carries a score; a
// genuine 0.0 score counts, an absent one does not.
func avgConfidence(words []music.Word) *float64 {
	var sum float64
	var n int
	for _, w := range words {
		if w.Score == nil {
			continue
		}
		sum += *w.Score
		n++
	}
	if n == 0 {
		return nil
	}
	avg := round4(sum / float64(n))
	return &avg
}

// segmentFromWords derives start/end/speaker/text from a contiguous word
// run: start is the minimum word start, end the maximum word end, and
// speaker the majority label among the words.
func segmentFromWords(words []music.Word) music.Segment {
	seg := music.Segment{Words: append([]music.Word(nil), words...)}
	if len(words) == 0 {
		return seg
	}
	seg.Start = words[0].Start
	seg.End = words[0].End
	counts := make(map[string]int)
	for _, w := range words {
		if w.Start < seg.Start {
			seg.Start = w.Start
		}
		if w.End > seg.End {
			seg.End = w.End
		}
		counts[w.Speaker]++
	}
	best, bestCount := "", -1
	for speaker, c := range counts {
		if c > bestCount {
			best, bestCount = speaker, c
		}
	}
	seg.Speaker = best
	seg.Text = joinWords(words)
	return seg
}

func joinWords(words []music.Word) string {
	var parts []byte
	for i, w := range words {
		if i > 0 {
			parts = append(parts, ' ')
		}
		parts = append(parts, []byte(w.Word)...)
	}
	return string(parts)
}

// splitAtBreaks cuts the flat word list at every extracted line-break
// index, each break being the first ASR index of the new line.
func splitAtBreaks(words []music.Word, lineBreaks []int) []music.Segment {
	cuts := append([]int{0}, lineBreaks...)
	cuts = append(cuts, len(words))
	var segments []music.Segment
	for i := 0; i < len(cuts)-1; i++ {
		lo, hi := cuts[i], cuts[i+1]
		if lo >= hi {
			continue
		}
		segments = append(segments, segmentFromWords(words[lo:hi]))
	}
	return segments
}

// splitAtSpeakerChanges further splits any segment spanning multiple
// speakers at every speaker transition.
func splitAtSpeakerChanges(segments []music.Segment) []music.Segment {
	var out []music.Segment
	for _, seg := range segments {
		if len(seg.Words) == 0 {
			continue
		}
		start := 0
		for i := 1; i < len(seg.Words); i++ {
			if seg.Words[i].Speaker != seg.Words[i-1].Speaker {
				out = append(out, segmentFromWords(seg.Words[start:i]))
				start = i
			}
		}
		out = append(out, segmentFromWords(seg.Words[start:]))
	}
	return out
}

// enforceMaxWords recursively splits any segment with more than maxWords
// words at the largest inter-word timing gap found in the middle third,
// until every segment is within the cap.
func enforceMaxWords(segments []music.Segment, maxWords int) []music.Segment {
	var out []music.Segment
	for _, seg := range segments {
		out = append(out, splitByGap(seg, maxWords)...)
	}
	return out
}

func splitByGap(seg music.Segment, maxWords int) []music.Segment {
	if len(seg.Words) <= maxWords {
		return []music.Segment{seg}
	}
	cut := largestMiddleThirdGap(seg.Words)
	if cut <= 0 || cut >= len(seg.Words) {
		// largestMiddleThirdGap found no boundary to cut at: fall back to
		// an even cut so the safety net always terminates.
		cut = len(seg.Words) / 2
	}
	left := splitByGap(segmentFromWords(seg.Words[:cut]), maxWords)
	right := splitByGap(segmentFromWords(seg.Words[cut:]), maxWords)
	return append(left, right...)
}

// largestMiddleThirdGap returns the word index (the start of the second
// half) at the largest gap between consecutive words whose boundary falls
// within the middle third of the word list.
func largestMiddleThirdGap(words []music.Word) int {
	n := len(words)
	if n < 2 {
		return 0
	}
	lo := n / 3
	hi := (2 * n) / 3
	if hi <= lo {
		hi = lo + 1
	}
	bestIdx, bestGap := -1, -1.0
	for i := 1; i < n; i++ {
		if i < lo || i > hi {
			continue
		}
		gap := words[i].Start - words[i-1].End
		if gap > bestGap {
			bestGap = gap
			bestIdx = i
		}
	}
	if bestIdx < 0 {
		return 0
	}
	return bestIdx
}

// mergeTinySegments merges any segment with fewer than tinySegmentMaxWords
// words into an adjacent segment of the same speaker when the inter-segment
// gap is below tinySegmentMergeGap, preferring the previous
// segment, iterating to a fixed point.
func mergeTinySegments(segments []music.Segment) []music.Segment {
	return mergeFrom(segments, 0)
}

// mergeFrom scans for a tiny segment starting at index from, merges it into
// an eligible neighbor (previous preferred), and continues — skipping past
// any tiny segment with no eligible neighbor so isolated ones don't spin
// the loop forever.
func mergeFrom(segments []music.Segment, from int) []music.Segment {
	for {
		idx := -1
		for i := from; i < len(segments); i++ {
			if len(segments[i].Words) < tinySegmentMaxWords {
				idx = i
				break
			}
		}
		if idx < 0 {
			return segments
		}
		merged := false
		if idx > 0 && segments[idx-1].Speaker == segments[idx].Speaker &&
			segments[idx].Start-segments[idx-1].End < tinySegmentMergeGap {
			segments[idx-1] = segmentFromWords(append(append([]music.Word(nil), segments[idx-1].Words...), segments[idx].Words...))
			segments = append(segments[:idx], segments[idx+1:]...)
			merged = true
		} else if idx < len(segments)-1 && segments[idx+1].Speaker == segments[idx].Speaker &&
			segments[idx+1].Start-segments[idx].End < tinySegmentMergeGap {
			segments[idx] = segmentFromWords(append(append([]music.Word(nil), segments[idx].Words...), segments[idx+1].Words...))
			segments = append(segments[:idx+1], segments[idx+2:]...)
			merged = true
		}
		if !merged {
			from = idx + 1
			continue
		}
		from = idx
	}
}
