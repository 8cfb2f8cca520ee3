// Package pipeline runs one transcription job end to end: load, transcribe,
// align, diarize, assign speakers, correct, and write outputs.
//
// A Context owns the long-lived service handles and is created once per
// process. Alignment and diarization failures that leave a usable transcript
// are recorded as degradations instead of failing the run.
package pipeline
