package language

import (
	"fmt"
	"strings"
)

// Auto requests language detection by the ASR model.
const Auto = "auto"

type entry struct {
	code2   string   // ISO 639-1
	code3   string   // ISO 639-2 primary
	alt3    string   // ISO 639-2 bibliographic alternate
	display string   // Human-readable name
	words   []string // Full word forms (e.g. "english")
	align   bool     // WhisperX ships a default wav2vec2 alignment model
}

var languages = []entry{
	{"en", "eng", "", "English", []string{"english"}, true},
	{"es", "spa", "", "Spanish", []string{"spanish"}, true},
	{"fr", "fra", "fre", "French", []string{"french"}, true},
	{"de", "deu", "ger", "German", []string{"german"}, true},
	{"it", "ita", "", "Italian", []string{"italian"}, true},
	{"pt", "por", "", "Portuguese", []string{"portuguese"}, true},
	{"ja", "jpn", "", "Japanese", []string{"japanese"}, true},
	{"ko", "kor", "", "Korean", []string{"korean"}, true},
	{"zh", "zho", "chi", "Chinese", []string{"chinese", "mandarin"}, true},
	{"ru", "rus", "", "Russian", []string{"russian"}, true},
	{"ar", "ara", "", "Arabic", []string{"arabic"}, true},
	{"hi", "hin", "", "Hindi", []string{"hindi"}, true},
	{"nl", "nld", "dut", "Dutch", []string{"dutch"}, true},
	{"pl", "pol", "", "Polish", []string{"polish"}, true},
	{"uk", "ukr", "", "Ukrainian", []string{"ukrainian"}, true},
	{"cs", "ces", "cze", "Czech", []string{"czech"}, true},
	{"tr", "tur", "", "Turkish", []string{"turkish"}, true},
	{"el", "ell", "gre", "Greek", []string{"greek"}, true},
	{"he", "heb", "", "Hebrew", []string{"hebrew"}, true},
	{"hu", "hun", "", "Hungarian", []string{"hungarian"}, true},
	{"fa", "fas", "per", "Persian", []string{"persian", "farsi"}, true},
	{"vi", "vie", "", "Vietnamese", []string{"vietnamese"}, true},
	{"da", "dan", "", "Danish", []string{"danish"}, true},
	{"fi", "fin", "", "Finnish", []string{"finnish"}, true},
	{"no", "nor", "", "Norwegian", []string{"norwegian"}, true},
	{"ca", "cat", "", "Catalan", []string{"catalan"}, true},
	{"ro", "ron", "rum", "Romanian", []string{"romanian"}, true},
	{"sv", "swe", "", "Swedish", []string{"swedish"}, false},
	{"id", "ind", "", "Indonesian", []string{"indonesian"}, false},
	{"th", "tha", "", "Thai", []string{"thai"}, false},
	{"sw", "swa", "", "Swahili", []string{"swahili"}, false},
	{"cy", "cym", "wel", "Welsh", []string{"welsh"}, false},
}

var (
	byCode2 map[string]*entry
	byCode3 map[string]*entry
	byWord  map[string]*entry
)

func init() {
	byCode2 = make(map[string]*entry, len(languages))
	byCode3 = make(map[string]*entry, len(languages)*2)
	byWord = make(map[string]*entry, len(languages))
	for i := range languages {
		e := &languages[i]
		byCode2[e.code2] = e
		byCode3[e.code3] = e
		if e.alt3 != "" {
			byCode3[e.alt3] = e
		}
		for _, w := range e.words {
			byWord[w] = e
		}
	}
}

func lookup(code string) *entry {
	code = strings.ToLower(strings.TrimSpace(code))
	if code == "" {
		return nil
	}
	if e, ok := byCode2[code]; ok {
		return e
	}
	if e, ok := byCode3[code]; ok {
		return e
	}
	if e, ok := byWord[code]; ok {
		return e
	}
	return nil
}

// ToISO2 converts any recognized language code or word to ISO 639-1.
// Unknown 2-letter codes pass through; other unrecognized input yields "".
func ToISO2(code string) string {
	code = strings.ToLower(strings.TrimSpace(code))
	if code == "" {
		return ""
	}
	if e := lookup(code); e != nil {
		return e.code2
	}
	if len(code) == 2 {
		return code
	}
	return ""
}

// Resolve normalizes a user-supplied language selector. It returns "" for
// auto-detection and an ISO 639-1 code otherwise.
func Resolve(code string) (string, error) {
	trimmed := strings.ToLower(strings.TrimSpace(code))
	if trimmed == "" || trimmed == Auto {
		return "", nil
	}
	if iso := ToISO2(trimmed); iso != "" {
		return iso, nil
	}
	return "", fmt.Errorf("unrecognized language %q (use an ISO 639 code or %q)", code, Auto)
}

// DisplayName returns a human-readable language name for any recognized code.
func DisplayName(code string) string {
	if strings.TrimSpace(code) == "" {
		return "Auto-detect"
	}
	if e := lookup(code); e != nil {
		return e.display
	}
	return strings.ToUpper(strings.TrimSpace(code))
}

// HasAlignmentModel reports whether a default forced-alignment model is known
// for code. Unknown codes report false.
func HasAlignmentModel(code string) bool {
	if e := lookup(code); e != nil {
		return e.align
	}
	return false
}
