package speakers

import (
	"math"

	"speakerscribe/internal/transcript"
)

// Assign labels every word of every speech segment with the speaker of the
// best matching turn and derives each segment's label by majority vote.
// Silence segments are dropped. The inputs are not modified and the result
// depends only on the inputs.
//
// Matching rules for a word interval [start, end):
//   - the turn with the largest overlap wins; equal overlaps go to the turn
//     whose start is closest to the word start, then to the earlier turn
//   - without any overlap the nearest turn by time gap wins, ties to the
//     earlier turn
//   - without turns every word is transcript.Unknown
//
// Unaligned segments are matched once on the segment interval and the label
// is applied to all of their words.
func Assign(segments []transcript.Segment, turns []transcript.Turn) []transcript.LabeledSegment {
	sorted := append([]transcript.Turn(nil), turns...)
	transcript.SortTurns(sorted)

	out := make([]transcript.LabeledSegment, 0, len(segments))
	for _, seg := range segments {
		if seg.IsSilence() {
			continue
		}
		labeled := transcript.LabeledSegment{Segment: seg}
		labeled.Words = append([]transcript.Word(nil), seg.Words...)

		if !seg.Aligned || len(labeled.Words) == 0 {
			speaker := match(sorted, seg.Start, seg.End)
			for i := range labeled.Words {
				labeled.Words[i].Speaker = speaker
			}
			labeled.Speaker = speaker
			out = append(out, labeled)
			continue
		}

		for i := range labeled.Words {
			w := &labeled.Words[i]
			w.Speaker = match(sorted, w.Start, w.End)
		}
		labeled.Speaker = majority(labeled.Words)
		out = append(out, labeled)
	}
	return out
}

func match(turns []transcript.Turn, start, end float64) string {
	if len(turns) == 0 {
		return transcript.Unknown
	}
	best := -1
	bestOverlap := 0.0
	bestDistance := math.Inf(1)
	for i, turn := range turns {
		overlap := math.Min(end, turn.End) - math.Max(start, turn.Start)
		if overlap <= 0 {
			continue
		}
		distance := math.Abs(turn.Start - start)
		if overlap > bestOverlap || (overlap == bestOverlap && distance < bestDistance) {
			best, bestOverlap, bestDistance = i, overlap, distance
		}
	}
	if best >= 0 {
		return turns[best].Speaker
	}

	// Zero-length words inside a turn still count as contained.
	bestGap := math.Inf(1)
	for i, turn := range turns {
		gap := math.Max(math.Max(start-turn.End, turn.Start-end), 0)
		if gap < bestGap {
			best, bestGap = i, gap
		}
	}
	return turns[best].Speaker
}

func majority(words []transcript.Word) string {
	counts := make(map[string]int, 2)
	order := make([]string, 0, 2)
	for _, w := range words {
		if _, ok := counts[w.Speaker]; !ok {
			order = append(order, w.Speaker)
		}
		counts[w.Speaker]++
	}
	winner := order[0]
	for _, label := range order[1:] {
		if counts[label] > counts[winner] {
			winner = label
		}
	}
	return winner
}
