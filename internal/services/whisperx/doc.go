// Package whisperx wraps WhisperX speech recognition and wav2vec2 forced
// alignment. Both run as embedded Python scripts through uvx; the Go side
// converts their JSON output into normalized transcript segments.
package whisperx
