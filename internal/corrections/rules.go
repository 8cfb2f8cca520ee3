package corrections

import (
	_ "embed"
	"errors"
	"fmt"
	"io"
	"os"
	"strings"

	"golang.org/x/text/unicode/norm"
	"gopkg.in/yaml.v3"
)

//go:embed default_rules.yaml
var defaultRulesYAML []byte

// DefaultThresholdSeconds is the interjection duration threshold used when
// none is configured.
const DefaultThresholdSeconds = 0.5

// Substitution replaces every occurrence of Pattern with Replacement.
type Substitution struct {
	Pattern     string `yaml:"pattern" json:"pattern"`
	Replacement string `yaml:"replacement" json:"replacement"`
}

// Heuristic configures interjection detection. A zero threshold disables it;
// MaxWords of 0 means no word-count limit.
type Heuristic struct {
	ThresholdSeconds float64 `yaml:"threshold_seconds" json:"threshold_seconds"`
	MaxWords         int     `yaml:"max_words" json:"max_words"`
}

// Rules is the declarative rule table consumed by Engine.
type Rules struct {
	Substitutions []Substitution `yaml:"substitutions" json:"substitutions"`
	Interjection  Heuristic      `yaml:"interjection" json:"interjection"`
}

// ErrCyclicRules reports substitutions that can rewrite each other forever.
var ErrCyclicRules = errors.New("cyclic correction rules")

// DefaultRules returns the built-in rule table.
func DefaultRules() Rules {
	rules, err := ParseRules(defaultRulesYAML)
	if err != nil {
		panic(fmt.Sprintf("corrections: built-in rules invalid: %v", err))
	}
	return rules
}

// EmptyRules returns a table without substitutions and with the default
// interjection heuristic.
func EmptyRules() Rules {
	return Rules{Interjection: Heuristic{ThresholdSeconds: DefaultThresholdSeconds}}
}

// ParseRules decodes a YAML rule table.
func ParseRules(data []byte) (Rules, error) {
	var rules Rules
	decoder := yaml.NewDecoder(strings.NewReader(string(data)))
	decoder.KnownFields(true)
	if err := decoder.Decode(&rules); err != nil {
		if errors.Is(err, io.EOF) {
			return EmptyRules(), nil
		}
		return Rules{}, fmt.Errorf("parse correction rules: %w", err)
	}
	if err := rules.Validate(); err != nil {
		return Rules{}, err
	}
	return rules, nil
}

// LoadRules reads a YAML rule table from path.
func LoadRules(path string) (Rules, error) {
	data, err := os.ReadFile(path)
	if err != nil {
		return Rules{}, fmt.Errorf("read correction rules: %w", err)
	}
	rules, err := ParseRules(data)
	if err != nil {
		return Rules{}, fmt.Errorf("%s: %w", path, err)
	}
	return rules, nil
}

// Validate checks the table for empty or duplicate patterns, negative
// heuristic parameters, and substitution cycles.
func (r Rules) Validate() error {
	if r.Interjection.ThresholdSeconds < 0 {
		return fmt.Errorf("interjection threshold_seconds must be >= 0")
	}
	if r.Interjection.MaxWords < 0 {
		return fmt.Errorf("interjection max_words must be >= 0")
	}
	seen := make(map[string]int, len(r.Substitutions))
	for i, sub := range r.Substitutions {
		key := foldKey(sub.Pattern)
		if key == "" {
			return fmt.Errorf("substitution %d: pattern is empty", i+1)
		}
		if prev, ok := seen[key]; ok {
			return fmt.Errorf("substitution %d: pattern %q duplicates substitution %d", i+1, sub.Pattern, prev+1)
		}
		seen[key] = i
	}
	return checkCycles(r.Substitutions)
}

// WithHeuristic returns a copy of r using h for interjection detection.
func (r Rules) WithHeuristic(h Heuristic) Rules {
	out := Rules{Substitutions: append([]Substitution(nil), r.Substitutions...), Interjection: h}
	return out
}

func foldKey(pattern string) string {
	return strings.ToLower(norm.NFC.String(strings.TrimSpace(pattern)))
}

// checkCycles rejects tables where a replacement contains a pattern whose own
// replacement (transitively) reintroduces the first pattern. A replacement
// that only re-cases its own pattern is a fixed point and allowed.
func checkCycles(subs []Substitution) error {
	compiled := compile(subs)
	edges := make([][]int, len(subs))
	for _, from := range compiled {
		text := []rune(norm.NFC.String(from.replacement))
		for j := range compiled {
			to := compiled[j]
			if to.index == from.index && foldKey(from.replacement) == foldKey(subs[from.index].Pattern) {
				continue
			}
			if len(findAll(compiled[j:j+1], text)) > 0 {
				edges[from.index] = append(edges[from.index], to.index)
			}
		}
	}
	const (
		unvisited = iota
		active
		done
	)
	state := make([]int, len(subs))
	var visit func(int) error
	visit = func(n int) error {
		state[n] = active
		for _, next := range edges[n] {
			switch state[next] {
			case active:
				return fmt.Errorf("%w: %q and %q", ErrCyclicRules, subs[n].Pattern, subs[next].Pattern)
			case unvisited:
				if err := visit(next); err != nil {
					return err
				}
			}
		}
		state[n] = done
		return nil
	}
	for n := range subs {
		if state[n] == unvisited {
			if err := visit(n); err != nil {
				return err
			}
		}
	}
	return nil
}
