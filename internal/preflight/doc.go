// Package preflight provides readiness checks for the directories, tools,
// devices, and credentials speakerscribe depends on.
//
// The CLI doctor command prints every result; the serve command refuses to
// start when a directory check fails; the web health endpoint reports the
// tool checks alongside its liveness answer.
package preflight
