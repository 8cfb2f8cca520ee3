package textutil

import (
	"path/filepath"
	"strings"
	"unicode"
	"unicode/utf8"
)

// maxNameBytes keeps names well under the 255-byte limit of common
// filesystems once an extension is appended.
const maxNameBytes = 200

var unsafeReplacer = strings.NewReplacer(
	"/", "-",
	"\\", "-",
	":", "-",
	"*", "-",
	"?", "",
	"\"", "",
	"<", "",
	">", "",
	"|", "",
)

// SafeFileName returns the last element of name with path separators,
// shell-hostile characters, control characters, and leading dots removed.
// It returns "" when nothing usable remains.
func SafeFileName(name string) string {
	name = strings.ReplaceAll(strings.TrimSpace(name), "\\", "/")
	if i := strings.LastIndex(name, "/"); i >= 0 {
		name = name[i+1:]
	}
	name = strings.Map(func(r rune) rune {
		if unicode.IsControl(r) || r == utf8.RuneError {
			return -1
		}
		return r
	}, name)
	name = strings.TrimLeft(strings.TrimSpace(unsafeReplacer.Replace(name)), ".")
	return truncateName(strings.TrimSpace(name))
}

// Stem returns the safe file name of name without its extension. A name
// that is only an extension keeps it, so ".wav" yields "wav".
func Stem(name string) string {
	safe := SafeFileName(name)
	stem := strings.TrimSpace(strings.TrimSuffix(safe, filepath.Ext(safe)))
	if stem == "" {
		return strings.TrimLeft(safe, ".")
	}
	return stem
}

// truncateName keeps the extension and cuts the stem on a rune boundary.
func truncateName(name string) string {
	if len(name) <= maxNameBytes {
		return name
	}
	ext := filepath.Ext(name)
	if len(ext) > 16 {
		ext = ""
	}
	stem := name[:len(name)-len(ext)]
	limit := maxNameBytes - len(ext)
	for limit > 0 && !utf8.RuneStart(stem[limit]) {
		limit--
	}
	return stem[:limit] + ext
}
