// Package normalize produces the canonical form of item names used for
// dedup matching: lowercased, whitespace-collapsed, singularized per word.
package normalize

import "strings"

// Name normalizes an item name for matching. "Green  Apples" and
// "green apple" normalize to the same string.
func Name(name string) string {
	fields := strings.Fields(strings.ToLower(name))
	for i, w := range fields {
		fields[i] = Singularize(w)
	}
	return strings.Join(fields, " ")
}

// irregular plurals seen in grocery vocabulary.
var irregular = map[string]string{
	"loaves":   "loaf",
	"halves":   "half",
	"knives":   "knife",
	"leaves":   "leaf",
	"children": "child",
	"feet":     "foot",
	"teeth":    "tooth",
	"geese":    "goose",
	"mice":     "mouse",
	"people":   "person",
}

// Singularize converts a lowercase English word to singular form using the
// common suffix rules plus an irregular table. Short words pass through.
func Singularize(word string) string {
	if len(word) <= 3 {
		return word
	}
	if s, ok := irregular[word]; ok {
		return s
	}
	switch {
	case strings.HasSuffix(word, "ies"):
		return word[:len(word)-3] + "y"
	case strings.HasSuffix(word, "sses"),
		strings.HasSuffix(word, "ches"),
		strings.HasSuffix(word, "shes"),
		strings.HasSuffix(word, "xes"),
		strings.HasSuffix(word, "zes"),
		strings.HasSuffix(word, "oes"):
		return word[:len(word)-2]
	case strings.HasSuffix(word, "ss"),
		strings.HasSuffix(word, "us"),
		strings.HasSuffix(word, "is"):
		return word
	case strings.HasSuffix(word, "s"):
		return word[:len(word)-1]
	}
	return word
}
