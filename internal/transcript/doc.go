// Package transcript defines the words, segments, diarization turns, and
// labeled segments that flow through the pipeline, plus the normalization
// that gives transcriber and diarizer output its ordering guarantees.
package transcript
