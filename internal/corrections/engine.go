package corrections

import (
	"strings"

	"golang.org/x/text/unicode/norm"

	"speakerscribe/internal/transcript"
)

// Engine applies a rule table to labeled segments. It holds no mutable state
// and is safe for concurrent use.
type Engine struct {
	table     Rules
	rules     []rule
	maxPasses int
}

// NewEngine validates and compiles rules.
func NewEngine(rules Rules) (*Engine, error) {
	if err := rules.Validate(); err != nil {
		return nil, err
	}
	return &Engine{
		table:     rules.WithHeuristic(rules.Interjection),
		rules:     compile(rules.Substitutions),
		maxPasses: len(rules.Substitutions) + 1,
	}, nil
}

// Rules returns a copy of the table the engine was built from.
func (e *Engine) Rules() Rules {
	return e.table.WithHeuristic(e.table.Interjection)
}

// Apply returns corrected copies of segments. Interjection detection reads the
// speaker labels as they were before this call; substitutions never change
// speakers.
func (e *Engine) Apply(segments []transcript.LabeledSegment) []transcript.LabeledSegment {
	out := transcript.Clone(segments)
	e.markInterjections(segments, out)
	for i := range out {
		seg := &out[i]
		seg.Text = e.CorrectText(seg.Text)
		if words, changed := e.correctWords(seg.Words); changed {
			seg.Words = words
		}
	}
	return out
}

// CorrectText applies every substitution to text until nothing changes.
// Whitespace is collapsed only when a substitution fired.
func (e *Engine) CorrectText(text string) string {
	if len(e.rules) == 0 {
		return text
	}
	changed := false
	for pass := 0; pass < e.maxPasses; pass++ {
		next, ok := rewrite(e.rules, text)
		if !ok {
			break
		}
		text, changed = next, true
	}
	if !changed {
		return text
	}
	return strings.Join(strings.Fields(text), " ")
}

func (e *Engine) correctWords(words []transcript.Word) ([]transcript.Word, bool) {
	if len(e.rules) == 0 || len(words) == 0 {
		return words, false
	}
	changed := false
	for pass := 0; pass < e.maxPasses; pass++ {
		next, ok := rewriteWords(e.rules, words)
		if !ok {
			break
		}
		words, changed = next, true
	}
	return words, changed
}

type wordGroup struct {
	first, last int
	spans       []span
}

// rewriteWords runs one scan over the space-joined word tokens. Tokens
// touched by a match are replaced by the tokens of the rewritten text and
// share the original time range evenly.
func rewriteWords(rules []rule, words []transcript.Word) ([]transcript.Word, bool) {
	var joined []rune
	starts := make([]int, len(words))
	ends := make([]int, len(words))
	for i, w := range words {
		if i > 0 {
			joined = append(joined, ' ')
		}
		starts[i] = len(joined)
		joined = append(joined, []rune(norm.NFC.String(w.Text))...)
		ends[i] = len(joined)
	}
	spans := findAll(rules, joined)
	if len(spans) == 0 {
		return words, false
	}

	var groups []wordGroup
	for _, s := range spans {
		first, last := -1, -1
		for i := range words {
			if ends[i] > s.start && first < 0 {
				first = i
			}
			if starts[i] < s.end {
				last = i
			}
		}
		if first < 0 || last < first {
			continue
		}
		if n := len(groups); n > 0 && first <= groups[n-1].last {
			groups[n-1].last = max(groups[n-1].last, last)
			groups[n-1].spans = append(groups[n-1].spans, s)
			continue
		}
		groups = append(groups, wordGroup{first: first, last: last, spans: []span{s}})
	}

	out := make([]transcript.Word, 0, len(words))
	changed := false
	next := 0
	for _, g := range groups {
		out = append(out, words[next:g.first]...)
		next = g.last + 1

		original := string(joined[starts[g.first]:ends[g.last]])
		var b strings.Builder
		cursor := starts[g.first]
		for _, s := range g.spans {
			b.WriteString(string(joined[cursor:s.start]))
			b.WriteString(s.rule.replacement)
			cursor = s.end
		}
		b.WriteString(string(joined[cursor:ends[g.last]]))
		rewritten := b.String()
		if rewritten == original {
			out = append(out, words[g.first:next]...)
			continue
		}
		changed = true
		out = append(out, retime(strings.Fields(rewritten), words[g.first:next])...)
	}
	out = append(out, words[next:]...)
	if !changed {
		return words, false
	}
	return out, true
}

func retime(tokens []string, replaced []transcript.Word) []transcript.Word {
	if len(tokens) == 0 {
		return nil
	}
	start := replaced[0].Start
	end := replaced[len(replaced)-1].End
	if end < start {
		end = start
	}
	confidence := 0.0
	for _, w := range replaced {
		confidence += w.Confidence
	}
	confidence /= float64(len(replaced))

	step := (end - start) / float64(len(tokens))
	out := make([]transcript.Word, len(tokens))
	for i, token := range tokens {
		out[i] = transcript.Word{
			Text:       token,
			Start:      start + step*float64(i),
			End:        start + step*float64(i+1),
			Confidence: confidence,
			Speaker:    replaced[0].Speaker,
		}
	}
	out[len(out)-1].End = end
	return out
}

// markInterjections flags short segments sandwiched between two segments of
// one other speaker. With exactly two speakers in the conversation the
// segment is handed to the surrounding speaker; otherwise only the flag is set.
func (e *Engine) markInterjections(before, out []transcript.LabeledSegment) {
	h := e.table.Interjection
	if h.ThresholdSeconds <= 0 || len(before) < 3 {
		return
	}
	twoSpeakers := len(transcript.Speakers(before)) == 2
	for i := 1; i < len(before)-1; i++ {
		seg := before[i]
		if seg.Duration() >= h.ThresholdSeconds {
			continue
		}
		if h.MaxWords > 0 && wordCount(seg) > h.MaxWords {
			continue
		}
		prev, next := before[i-1].Speaker, before[i+1].Speaker
		if prev != next || prev == seg.Speaker {
			continue
		}
		out[i].Interjection = true
		if !twoSpeakers {
			continue
		}
		out[i].Speaker = prev
		for w := range out[i].Words {
			if sp := out[i].Words[w].Speaker; sp == seg.Speaker || sp == "" {
				out[i].Words[w].Speaker = prev
			}
		}
	}
}

func wordCount(seg transcript.LabeledSegment) int {
	if len(seg.Words) > 0 {
		return len(seg.Words)
	}
	return len(strings.Fields(seg.Text))
}
