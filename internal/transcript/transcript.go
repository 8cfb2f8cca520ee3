package transcript

import (
	"strings"
)

// Unknown labels words and segments when no diarization is available.
const Unknown = "UNKNOWN"

// Word is a single recognized token. Speaker stays empty until assignment.
type Word struct {
	Text       string  `json:"text"`
	Start      float64 `json:"start"`
	End        float64 `json:"end"`
	Confidence float64 `json:"confidence"`
	Speaker    string  `json:"speaker,omitempty"`
}

// Segment is a time-stamped span of recognized text. Aligned is false when
// the word timestamps only carry segment-level granularity.
type Segment struct {
	Start   float64 `json:"start"`
	End     float64 `json:"end"`
	Text    string  `json:"text"`
	Words   []Word  `json:"words"`
	Aligned bool    `json:"aligned"`
}

// Duration returns End-Start, never negative.
func (s Segment) Duration() float64 {
	if s.End <= s.Start {
		return 0
	}
	return s.End - s.Start
}

// IsSilence reports whether the segment carries no recognized speech. Silence
// segments fill coverage gaps and never reach the output.
func (s Segment) IsSilence() bool {
	return len(s.Words) == 0 && strings.TrimSpace(s.Text) == ""
}

// Turn is one diarization interval.
type Turn struct {
	Start   float64 `json:"start"`
	End     float64 `json:"end"`
	Speaker string  `json:"speaker"`
}

// LabeledSegment is a segment with its assigned speaker.
type LabeledSegment struct {
	Segment
	Speaker      string `json:"speaker"`
	Interjection bool   `json:"interjection"`
}

// SpeakerMap maps diarization identifiers to display names. Identifiers
// without an entry display as themselves.
type SpeakerMap map[string]string

// Name returns the display name for id.
func (m SpeakerMap) Name(id string) string {
	if name := strings.TrimSpace(m[id]); name != "" {
		return name
	}
	return id
}

// Speakers returns the distinct speaker labels in order of first appearance.
func Speakers(segments []LabeledSegment) []string {
	seen := make(map[string]struct{})
	out := make([]string, 0, 4)
	for _, seg := range segments {
		if _, ok := seen[seg.Speaker]; ok {
			continue
		}
		seen[seg.Speaker] = struct{}{}
		out = append(out, seg.Speaker)
	}
	return out
}

// Clone deep-copies segments including their word slices.
func Clone(segments []LabeledSegment) []LabeledSegment {
	if segments == nil {
		return nil
	}
	out := make([]LabeledSegment, len(segments))
	for i, seg := range segments {
		out[i] = seg
		if seg.Words != nil {
			out[i].Words = append([]Word(nil), seg.Words...)
		}
	}
	return out
}

// CoarseWords splits the segment text into words that all carry the segment
// interval. Used when no word-level timing exists.
func CoarseWords(seg Segment) []Word {
	fields := strings.Fields(seg.Text)
	if len(fields) == 0 {
		return nil
	}
	words := make([]Word, len(fields))
	for i, field := range fields {
		words[i] = Word{Text: field, Start: seg.Start, End: seg.End}
	}
	return words
}

// JoinWords rebuilds segment text from its words.
func JoinWords(words []Word) string {
	parts := make([]string, 0, len(words))
	for _, w := range words {
		if text := strings.TrimSpace(w.Text); text != "" {
			parts = append(parts, text)
		}
	}
	return strings.Join(parts, " ")
}
