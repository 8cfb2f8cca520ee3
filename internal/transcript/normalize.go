package transcript

import (
	"math"
	"sort"
	"strings"
)

// Epsilon is the tolerance used when comparing timestamps.
const Epsilon = 1e-6

// Normalize returns segments ordered by time, free of overlaps, and covering
// [0, duration] with silence segments filling the gaps. A non-positive
// duration means the end of the last segment. Segments whose interval is
// swallowed entirely by their predecessor are merged into it so no word is
// lost. Words are clamped into their segment's interval.
func Normalize(segments []Segment, duration float64) []Segment {
	cleaned := make([]Segment, 0, len(segments))
	for _, seg := range segments {
		if invalidTime(seg.Start) || invalidTime(seg.End) {
			continue
		}
		seg.Start = math.Max(seg.Start, 0)
		seg.End = math.Max(seg.End, seg.Start)
		seg.Text = strings.TrimSpace(seg.Text)
		seg.Words = append([]Word(nil), seg.Words...)
		if seg.IsSilence() {
			continue
		}
		if len(seg.Words) == 0 {
			seg.Words = CoarseWords(seg)
			seg.Aligned = false
		}
		cleaned = append(cleaned, seg)
	}
	sort.SliceStable(cleaned, func(i, j int) bool {
		if cleaned[i].Start != cleaned[j].Start {
			return cleaned[i].Start < cleaned[j].Start
		}
		return cleaned[i].End < cleaned[j].End
	})

	merged := make([]Segment, 0, len(cleaned))
	for _, seg := range cleaned {
		if n := len(merged); n > 0 {
			prev := &merged[n-1]
			if seg.Start < prev.End {
				seg.Start = prev.End
			}
			if seg.End <= seg.Start+Epsilon {
				absorb(prev, seg)
				continue
			}
		}
		merged = append(merged, seg)
	}

	end := duration
	if end <= 0 && len(merged) > 0 {
		end = merged[len(merged)-1].End
	}
	if end > 0 {
		merged = truncate(merged, end)
	}
	for i := range merged {
		clampWords(&merged[i])
	}
	return fillGaps(merged, end)
}

func absorb(prev *Segment, seg Segment) {
	if seg.Text != "" {
		if prev.Text == "" {
			prev.Text = seg.Text
		} else {
			prev.Text += " " + seg.Text
		}
	}
	prev.Words = append(prev.Words, seg.Words...)
	prev.Aligned = prev.Aligned && seg.Aligned
}

func truncate(segments []Segment, end float64) []Segment {
	for len(segments) > 1 && segments[len(segments)-1].Start >= end-Epsilon {
		last := segments[len(segments)-1]
		segments = segments[:len(segments)-1]
		absorb(&segments[len(segments)-1], last)
	}
	if n := len(segments); n > 0 {
		last := &segments[n-1]
		last.End = math.Min(last.End, end)
		last.Start = math.Min(last.Start, last.End)
	}
	return segments
}

func clampWords(seg *Segment) {
	cursor := seg.Start
	for i := range seg.Words {
		w := &seg.Words[i]
		w.Text = strings.TrimSpace(w.Text)
		if invalidTime(w.Start) || invalidTime(w.End) {
			w.Start, w.End = cursor, cursor
		}
		w.Start = clamp(w.Start, cursor, seg.End)
		w.End = clamp(w.End, w.Start, seg.End)
		if seg.Aligned {
			cursor = w.Start
		}
	}
}

func fillGaps(segments []Segment, end float64) []Segment {
	out := make([]Segment, 0, len(segments)*2+1)
	cursor := 0.0
	for _, seg := range segments {
		if seg.Start-cursor > Epsilon {
			out = append(out, Segment{Start: cursor, End: seg.Start})
		} else {
			seg.Start = math.Max(seg.Start, cursor)
		}
		out = append(out, seg)
		cursor = seg.End
	}
	if end-cursor > Epsilon {
		out = append(out, Segment{Start: cursor, End: end})
	}
	return out
}

// NormalizeTurns sorts turns by (start, end, speaker), drops empty intervals,
// labels anonymous turns Unknown, and merges overlapping turns of the same
// speaker so no speaker overlaps itself.
func NormalizeTurns(turns []Turn) []Turn {
	cleaned := make([]Turn, 0, len(turns))
	for _, turn := range turns {
		if invalidTime(turn.Start) || invalidTime(turn.End) {
			continue
		}
		turn.Start = math.Max(turn.Start, 0)
		if turn.End <= turn.Start {
			continue
		}
		turn.Speaker = strings.TrimSpace(turn.Speaker)
		if turn.Speaker == "" {
			turn.Speaker = Unknown
		}
		cleaned = append(cleaned, turn)
	}
	SortTurns(cleaned)

	out := make([]Turn, 0, len(cleaned))
	last := make(map[string]int)
	for _, turn := range cleaned {
		if idx, ok := last[turn.Speaker]; ok && turn.Start <= out[idx].End {
			out[idx].End = math.Max(out[idx].End, turn.End)
			continue
		}
		last[turn.Speaker] = len(out)
		out = append(out, turn)
	}
	SortTurns(out)
	return out
}

// SortTurns orders turns by start, end, then speaker.
func SortTurns(turns []Turn) {
	sort.SliceStable(turns, func(i, j int) bool {
		a, b := turns[i], turns[j]
		if a.Start != b.Start {
			return a.Start < b.Start
		}
		if a.End != b.End {
			return a.End < b.End
		}
		return a.Speaker < b.Speaker
	})
}

func clamp(v, lo, hi float64) float64 {
	if hi < lo {
		hi = lo
	}
	return math.Min(math.Max(v, lo), hi)
}

func invalidTime(v float64) bool {
	return math.IsNaN(v) || math.IsInf(v, 0)
}
