package output

import (
	"encoding/json"
	"fmt"
	"time"

	"speakerscribe/internal/transcript"
)

// Document is the structured (JSON) transcript.
type Document struct {
	Metadata DocumentMetadata  `json:"metadata"`
	Segments []DocumentSegment `json:"segments"`
}

// DocumentMetadata is the metadata block of a structured transcript.
type DocumentMetadata struct {
	ProcessedAt   string        `json:"processed_at"`
	Source        string        `json:"source,omitempty"`
	Duration      float64       `json:"duration"`
	Language      string        `json:"language,omitempty"`
	ModelSize     string        `json:"model_size,omitempty"`
	Device        string        `json:"device,omitempty"`
	TotalSegments int           `json:"total_segments"`
	Speakers      []SpeakerInfo `json:"speakers"`
	Degraded      []string      `json:"degraded"`
}

// SpeakerInfo pairs a diarization identifier with its display name.
type SpeakerInfo struct {
	ID   string `json:"id"`
	Name string `json:"name"`
}

// DocumentSegment is one labeled segment.
type DocumentSegment struct {
	Start        float64        `json:"start"`
	End          float64        `json:"end"`
	Speaker      string         `json:"speaker"`
	SpeakerName  string         `json:"speaker_name"`
	Text         string         `json:"text"`
	Interjection bool           `json:"interjection"`
	Aligned      bool           `json:"aligned"`
	Words        []DocumentWord `json:"words"`
}

// DocumentWord is one word of a segment.
type DocumentWord struct {
	Text       string  `json:"text"`
	Start      float64 `json:"start"`
	End        float64 `json:"end"`
	Confidence float64 `json:"confidence"`
	Speaker    string  `json:"speaker"`
}

// RenderStructured encodes segments and run metadata as indented JSON.
// Times keep full precision so ParseStructured reproduces them exactly.
func RenderStructured(segments []transcript.LabeledSegment, names transcript.SpeakerMap, meta Metadata) ([]byte, error) {
	processed := meta.ProcessedAt
	if processed.IsZero() {
		processed = time.Now()
	}
	doc := Document{
		Metadata: DocumentMetadata{
			ProcessedAt:   processed.UTC().Format(time.RFC3339),
			Source:        meta.Source,
			Duration:      meta.Duration,
			Language:      meta.Language,
			ModelSize:     meta.ModelSize,
			Device:        meta.Device,
			TotalSegments: len(segments),
			Speakers:      []SpeakerInfo{},
			Degraded:      append([]string{}, meta.Degraded...),
		},
		Segments: make([]DocumentSegment, 0, len(segments)),
	}
	for _, id := range transcript.Speakers(segments) {
		doc.Metadata.Speakers = append(doc.Metadata.Speakers, SpeakerInfo{ID: id, Name: names.Name(id)})
	}
	for _, seg := range segments {
		entry := DocumentSegment{
			Start:        seg.Start,
			End:          seg.End,
			Speaker:      seg.Speaker,
			SpeakerName:  names.Name(seg.Speaker),
			Text:         seg.Text,
			Interjection: seg.Interjection,
			Aligned:      seg.Aligned,
			Words:        make([]DocumentWord, 0, len(seg.Words)),
		}
		for _, w := range seg.Words {
			entry.Words = append(entry.Words, DocumentWord{
				Text:       w.Text,
				Start:      w.Start,
				End:        w.End,
				Confidence: w.Confidence,
				Speaker:    w.Speaker,
			})
		}
		doc.Segments = append(doc.Segments, entry)
	}
	data, err := json.MarshalIndent(doc, "", "  ")
	if err != nil {
		return nil, fmt.Errorf("encode structured transcript: %w", err)
	}
	return append(data, '\n'), nil
}

// ParseStructured decodes a structured transcript.
func ParseStructured(data []byte) (Document, error) {
	var doc Document
	if err := json.Unmarshal(data, &doc); err != nil {
		return Document{}, fmt.Errorf("decode structured transcript: %w", err)
	}
	return doc, nil
}

// LabeledSegments converts the document back into pipeline segments.
func (d Document) LabeledSegments() []transcript.LabeledSegment {
	out := make([]transcript.LabeledSegment, 0, len(d.Segments))
	for _, seg := range d.Segments {
		labeled := transcript.LabeledSegment{
			Segment: transcript.Segment{
				Start:   seg.Start,
				End:     seg.End,
				Text:    seg.Text,
				Aligned: seg.Aligned,
				Words:   make([]transcript.Word, 0, len(seg.Words)),
			},
			Speaker:      seg.Speaker,
			Interjection: seg.Interjection,
		}
		for _, w := range seg.Words {
			labeled.Words = append(labeled.Words, transcript.Word{
				Text:       w.Text,
				Start:      w.Start,
				End:        w.End,
				Confidence: w.Confidence,
				Speaker:    w.Speaker,
			})
		}
		out = append(out, labeled)
	}
	return out
}

// SpeakerMap rebuilds the display-name mapping recorded in the document.
func (d Document) SpeakerMap() transcript.SpeakerMap {
	names := make(transcript.SpeakerMap, len(d.Metadata.Speakers))
	for _, s := range d.Metadata.Speakers {
		names[s.ID] = s.Name
	}
	return names
}
