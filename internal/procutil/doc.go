// Package procutil isolates subprocesses in their own process group and
// signals the whole group, so model runtimes and their helpers never outlive
// the job that started them.
package procutil
