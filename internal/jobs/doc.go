// Package jobs tracks web-mode transcription jobs and runs each one in its
// own worker process.
//
// The job table lives in an in-memory SQLite database behind a single
// connection. Status moves queued → running → succeeded|failed and terminal
// states are final; the store rejects any other transition. A worker is the
// speakerscribe binary itself running `transcribe --report --events`: it
// streams progress as JSON lines on stdout and leaves a pipeline.Report for
// the runner to read once it exits.
package jobs
