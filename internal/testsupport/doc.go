// Package testsupport provides configs, stub binaries, and audio fixtures
// shared by package tests.
package testsupport
