// Package uvx runs the embedded Python model scripts through the uv tool
// runner and maps their failures onto the services error taxonomy.
//
// Scripts print their JSON result on stdout. On failure they print a single
// JSON line {"error": ..., "kind": ...} on stderr; tracebacks without that
// line are classified heuristically (gated model access, CUDA out of memory,
// missing CUDA). Every run gets its own process group, which is killed once
// the script returns.
package uvx
