// Package server exposes web mode: upload an audio file, poll the job, and
// download its transcripts.
//
// Handlers never block on transcription. POST /api/jobs stores the upload,
// records a queued job, and hands it to the job runner; every other route
// reads the job table. Bearer-token auth guards everything under /api except
// the health check when server.api_token is set.
package server
