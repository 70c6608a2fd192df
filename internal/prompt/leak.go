package prompt

import (
	"strings"
	"unicode"
)

// LeakWindow is the run of consecutive persona words treated as disclosure.
const LeakWindow = 8

var personaShingles = shingles(words(Persona), LeakWindow)

// ContainsPersonaLeak reports whether text reproduces LeakWindow or more
// consecutive words of the persona. Case and punctuation are ignored.
func ContainsPersonaLeak(text string) bool {
	w := words(text)
	for i := 0; i+LeakWindow <= len(w); i++ {
		if _, ok := personaShingles[strings.Join(w[i:i+LeakWindow], " ")]; ok {
			return true
		}
	}
	return false
}

func words(s string) []string {
	return strings.FieldsFunc(strings.ToLower(s), func(r rune) bool {
		return !unicode.IsLetter(r) && !unicode.IsDigit(r) && r != '\''
	})
}

func shingles(w []string, n int) map[string]struct{} {
	out := make(map[string]struct{})
	for i := 0; i+n <= len(w); i++ {
		out[strings.Join(w[i:i+n], " ")] = struct{}{}
	}
	return out
}
