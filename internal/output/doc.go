// Package output renders labeled segments as plain text, structured JSON, and
// SRT subtitles. Rendering returns bytes only; callers own persistence.
package output
