// Package speakers attributes transcript words and segments to diarization
// speakers by temporal overlap.
package speakers
