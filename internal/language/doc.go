// Package language normalizes language selectors for transcription and
// alignment: ISO 639-1/639-2 codes, English word forms, and "auto".
package language
