// Package audio validates input recordings and prepares the audio the speech
// models consume.
//
// Loader.Load checks the path and extension, probes the container with
// ffprobe, and picks the dialogue stream with Select. Loader.Normalize then
// extracts that stream as a 16 kHz mono PCM WAV through ffmpeg.
//
// Failures are tagged with the services error markers: unusable paths and
// containers without audio are input errors, undecodable audio is a
// transcription error.
package audio
