// Package pyannote wraps pyannote speaker diarization, run as an embedded
// Python script through uvx, together with Hugging Face token validation.
//
// Callers defer Service.ClearGPUCache after every Diarize call.
package pyannote
