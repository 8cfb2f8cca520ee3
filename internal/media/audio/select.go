package audio

import (
	"strconv"
	"strings"

	"speakerscribe/internal/language"
	"speakerscribe/internal/media/ffprobe"
)

// Selection identifies the audio stream handed to the speech models.
type Selection struct {
	Primary      ffprobe.Stream
	PrimaryIndex int
	Candidates   int
}

// PrimaryLabel returns a human-readable summary of the selected stream.
func (s Selection) PrimaryLabel() string {
	if s.PrimaryIndex < 0 {
		return ""
	}
	return formatStreamSummary(s.Primary)
}

// Select picks the stream most likely to carry the main dialogue. Streams
// whose title marks them as commentary or audio description rank last; among
// the rest a language match with preferred wins, then the default flag, then
// fewer channels (dialogue downmixes cleanly from stereo), then container order.
// An empty preferred language skips the language criterion.
func Select(streams []ffprobe.Stream, preferred string) Selection {
	candidates := buildCandidates(streams, language.ToISO2(preferred))
	if len(candidates) == 0 {
		return Selection{PrimaryIndex: -1}
	}
	best := candidates[0]
	bestScore := scorePrimary(best)
	for i := 1; i < len(candidates); i++ {
		if score := scorePrimary(candidates[i]); score > bestScore {
			best = candidates[i]
			bestScore = score
		}
	}
	return Selection{
		Primary:      best.stream,
		PrimaryIndex: best.stream.Index,
		Candidates:   len(candidates),
	}
}

type candidate struct {
	stream         ffprobe.Stream
	order          int
	title          string
	matchesLang    bool
	secondary      bool
	isLossless     bool
	channels       int
	defaultFlagged bool
}

func scorePrimary(cand candidate) float64 {
	score := 0.0
	if cand.secondary {
		score -= 10000
	}
	if cand.matchesLang {
		score += 1000
	}
	if cand.defaultFlagged {
		score += 500
	}
	switch {
	case cand.channels == 1 || cand.channels == 2:
		score += 100
	case cand.channels > 2:
		score += 50
	}
	if cand.isLossless {
		score += 10
	}
	score -= float64(cand.order) * 0.1
	return score
}

func buildCandidates(streams []ffprobe.Stream, preferred string) []candidate {
	result := make([]candidate, 0, len(streams))
	order := 0
	for _, stream := range streams {
		if !strings.EqualFold(stream.CodecType, "audio") {
			continue
		}
		cand := candidate{
			stream:         stream,
			order:          order,
			title:          normalizeTitle(stream.Tags),
			channels:       channelCount(stream),
			defaultFlagged: stream.Disposition != nil && stream.Disposition["default"] == 1,
			isLossless:     detectLossless(stream),
		}
		if preferred != "" {
			cand.matchesLang = language.ToISO2(normalizeLanguage(stream.Tags)) == preferred
		}
		cand.secondary = isSecondaryTrack(stream, cand.title)
		result = append(result, cand)
		order++
	}
	return result
}

func isSecondaryTrack(stream ffprobe.Stream, title string) bool {
	if stream.Disposition != nil {
		if stream.Disposition["comment"] == 1 || stream.Disposition["visual_impaired"] == 1 {
			return true
		}
	}
	for _, keyword := range []string{"commentary", "description", "descriptive"} {
		if strings.Contains(title, keyword) {
			return true
		}
	}
	return false
}

func normalizeLanguage(tags map[string]string) string {
	for _, key := range []string{"language", "LANGUAGE", "Language", "language_ietf", "LANG"} {
		if value, ok := tags[key]; ok {
			return strings.ToLower(strings.TrimSpace(value))
		}
	}
	return ""
}

func normalizeTitle(tags map[string]string) string {
	for _, key := range []string{"title", "TITLE", "handler_name", "HANDLER_NAME"} {
		if value, ok := tags[key]; ok {
			return strings.ToLower(strings.TrimSpace(value))
		}
	}
	return ""
}

func channelCount(stream ffprobe.Stream) int {
	if stream.Channels > 0 {
		return stream.Channels
	}
	layout := strings.ToLower(strings.TrimSpace(stream.ChannelLayout))
	switch {
	case layout == "":
		return 0
	case layout == "mono":
		return 1
	case layout == "stereo":
		return 2
	case strings.HasPrefix(layout, "7.1"):
		return 8
	case strings.HasPrefix(layout, "5.1"):
		return 6
	}
	total := 0
	for _, part := range strings.Split(layout, ".") {
		part = strings.Trim(part, "abcdefghijklmnopqrstuvwxyz ()")
		if n, err := strconv.Atoi(part); err == nil {
			total += n
		}
	}
	return total
}

func detectLossless(stream ffprobe.Stream) bool {
	name := strings.ToLower(stream.CodecName)
	switch name {
	case "flac", "alac", "wavpack", "pcm_s16le", "pcm_s24le", "pcm_s32le", "pcm_f32le", "pcm_s16be", "pcm_s24be":
		return true
	}
	return strings.Contains(strings.ToLower(stream.CodecLong), "lossless")
}

func formatStreamSummary(stream ffprobe.Stream) string {
	parts := make([]string, 0, 4)
	if lang := normalizeLanguage(stream.Tags); lang != "" {
		parts = append(parts, lang)
	}
	codec := stream.CodecLong
	if codec == "" {
		codec = stream.CodecName
	}
	if codec != "" {
		parts = append(parts, codec)
	}
	if stream.Channels > 0 {
		parts = append(parts, strconv.Itoa(stream.Channels)+"ch")
	}
	if title := strings.TrimSpace(stream.Tags["title"]); title != "" {
		parts = append(parts, title)
	}
	if len(parts) == 0 {
		return "audio"
	}
	return strings.Join(parts, " | ")
}
