// Package gpu detects CUDA devices and serializes their use across processes
// with file locks.
package gpu
