// Package textutil turns user-supplied file names into names that are safe to
// place on disk. Uploads keep a readable version of the client's file name,
// and output files reuse its stem.
package textutil
