// Command speakerscribe transcribes recordings, labels who spoke when, and
// writes text, JSON, and SRT transcripts. `speakerscribe serve` runs the same
// pipeline behind an upload-and-poll HTTP API.
package main
