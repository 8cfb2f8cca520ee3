// Package corrections applies a declarative rule table to labeled transcript
// segments: phrase substitutions for recurring mis-transcriptions and the
// interjection heuristic for short asides between turns of one speaker.
//
// Rules come from the embedded default table, a YAML file, or are built in
// code. Engine.Apply never modifies its input.
package corrections
