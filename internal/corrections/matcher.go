package corrections

import (
	"sort"
	"strings"
	"unicode"

	"golang.org/x/text/unicode/norm"
)

// rule is a compiled substitution. Whitespace in the pattern matches any
// non-empty run of whitespace in the text.
type rule struct {
	index       int
	pattern     []rune
	replacement string
	wordStart   bool
	wordEnd     bool
}

type span struct {
	start int
	end   int
	rule  *rule
}

// compile orders rules longest pattern first; equal lengths keep table order.
func compile(subs []Substitution) []rule {
	rules := make([]rule, 0, len(subs))
	for i, sub := range subs {
		pattern := []rune(norm.NFC.String(strings.Join(strings.Fields(sub.Pattern), " ")))
		if len(pattern) == 0 {
			continue
		}
		rules = append(rules, rule{
			index:       i,
			pattern:     pattern,
			replacement: sub.Replacement,
			wordStart:   isWordRune(pattern[0]),
			wordEnd:     isWordRune(pattern[len(pattern)-1]),
		})
	}
	sort.SliceStable(rules, func(i, j int) bool {
		return len(rules[i].pattern) > len(rules[j].pattern)
	})
	return rules
}

// findAll scans text once from left to right and returns non-overlapping
// matches. At each position the first (longest) matching rule wins.
func findAll(rules []rule, text []rune) []span {
	var spans []span
	for i := 0; i < len(text); {
		matched := false
		for r := range rules {
			if end := matchAt(&rules[r], text, i); end > i {
				spans = append(spans, span{start: i, end: end, rule: &rules[r]})
				i = end
				matched = true
				break
			}
		}
		if !matched {
			i++
		}
	}
	return spans
}

func matchAt(r *rule, text []rune, at int) int {
	if r.wordStart && at > 0 && isWordRune(text[at-1]) {
		return -1
	}
	i := at
	for _, want := range r.pattern {
		if want == ' ' {
			if i >= len(text) || !unicode.IsSpace(text[i]) {
				return -1
			}
			for i < len(text) && unicode.IsSpace(text[i]) {
				i++
			}
			continue
		}
		if i >= len(text) || !equalFold(text[i], want) {
			return -1
		}
		i++
	}
	if r.wordEnd && i < len(text) && isWordRune(text[i]) {
		return -1
	}
	return i
}

func equalFold(a, b rune) bool {
	if a == b {
		return true
	}
	return unicode.ToLower(a) == unicode.ToLower(b) || unicode.ToUpper(a) == unicode.ToUpper(b)
}

func isWordRune(r rune) bool {
	return unicode.IsLetter(r) || unicode.IsDigit(r) || unicode.IsMark(r) || r == '_'
}

// rewrite applies one scan of rules to text. The bool is false when the
// result equals the input.
func rewrite(rules []rule, text string) (string, bool) {
	normalized := norm.NFC.String(text)
	runes := []rune(normalized)
	spans := findAll(rules, runes)
	if len(spans) == 0 {
		return text, false
	}
	var b strings.Builder
	b.Grow(len(normalized))
	cursor := 0
	for _, s := range spans {
		b.WriteString(string(runes[cursor:s.start]))
		b.WriteString(s.rule.replacement)
		cursor = s.end
	}
	b.WriteString(string(runes[cursor:]))
	out := b.String()
	if out == normalized {
		return text, false
	}
	return out, true
}
