// Package ffprobe provides a typed wrapper around ffprobe JSON output.
//
// Inspect executes ffprobe and returns a parsed Result; helper methods expose
// audio streams, duration, and sample rate.
package ffprobe
