package output

import (
	"fmt"
	"math"
	"strings"
	"time"

	"speakerscribe/internal/transcript"
)

// Format selects an output rendering.
type Format string

const (
	FormatText       Format = "text"
	FormatStructured Format = "structured"
	FormatSubtitle   Format = "subtitle"
)

// Formats lists every format in write order.
var Formats = []Format{FormatText, FormatStructured, FormatSubtitle}

// ParseFormat accepts a format name or its file extension.
func ParseFormat(value string) (Format, error) {
	switch strings.ToLower(strings.TrimSpace(value)) {
	case "text", "txt":
		return FormatText, nil
	case "structured", "json":
		return FormatStructured, nil
	case "subtitle", "srt":
		return FormatSubtitle, nil
	default:
		return "", fmt.Errorf("unknown output format %q (use text, structured, or subtitle)", value)
	}
}

// Extension returns the file extension, with dot, for f.
func (f Format) Extension() string {
	switch f {
	case FormatText:
		return ".txt"
	case FormatStructured:
		return ".json"
	case FormatSubtitle:
		return ".srt"
	default:
		return ""
	}
}

// ContentType returns the HTTP media type for f.
func (f Format) ContentType() string {
	switch f {
	case FormatStructured:
		return "application/json"
	case FormatSubtitle:
		return "application/x-subrip; charset=utf-8"
	default:
		return "text/plain; charset=utf-8"
	}
}

// Metadata describes the run that produced a transcript.
type Metadata struct {
	ProcessedAt time.Time
	Source      string
	Duration    float64
	Language    string
	ModelSize   string
	Device      string
	Degraded    []string
}

// Render produces the byte rendering of segments in format f.
func Render(f Format, segments []transcript.LabeledSegment, names transcript.SpeakerMap, meta Metadata) ([]byte, error) {
	switch f {
	case FormatText:
		return RenderText(segments, names), nil
	case FormatStructured:
		return RenderStructured(segments, names, meta)
	case FormatSubtitle:
		return RenderSubtitle(segments, names), nil
	default:
		return nil, fmt.Errorf("unknown output format %q", f)
	}
}

// RenderText writes one line per segment:
//
//	[MM:SS.mmm–MM:SS.mmm] Name: text
func RenderText(segments []transcript.LabeledSegment, names transcript.SpeakerMap) []byte {
	var b strings.Builder
	for _, seg := range segments {
		fmt.Fprintf(&b, "[%s–%s] %s: %s\n",
			clockTime(seg.Start), clockTime(seg.End), names.Name(seg.Speaker), strings.TrimSpace(seg.Text))
	}
	return []byte(b.String())
}

// RenderSubtitle writes numbered SRT blocks with the speaker name in brackets.
func RenderSubtitle(segments []transcript.LabeledSegment, names transcript.SpeakerMap) []byte {
	var b strings.Builder
	for i, seg := range segments {
		if i > 0 {
			b.WriteByte('\n')
		}
		fmt.Fprintf(&b, "%d\n%s --> %s\n[%s]: %s\n",
			i+1, srtTime(seg.Start), srtTime(seg.End), names.Name(seg.Speaker), strings.TrimSpace(seg.Text))
	}
	return []byte(b.String())
}

func millis(seconds float64) int64 {
	if seconds <= 0 || math.IsNaN(seconds) {
		return 0
	}
	return int64(math.Round(seconds * 1000))
}

// clockTime formats seconds as MM:SS.mmm; minutes keep counting past 59.
func clockTime(seconds float64) string {
	ms := millis(seconds)
	return fmt.Sprintf("%02d:%02d.%03d", ms/60000, (ms/1000)%60, ms%1000)
}

func srtTime(seconds float64) string {
	ms := millis(seconds)
	return fmt.Sprintf("%02d:%02d:%02d,%03d", ms/3600000, (ms/60000)%60, (ms/1000)%60, ms%1000)
}
