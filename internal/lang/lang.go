package lang

import (
	"strings"

	"github.com/abadojack/whatlanggo"
)

// Language is the closed set of languages the assistant speaks. Anything
// outside this set resolves to Default.
type Language string

const (
	English Language = "en"
	Hindi   Language = "hi"
	Tamil   Language = "ta"
	Bengali Language = "bn"
	Telugu  Language = "te"

	Default = English
)

var names = map[Language]string{
	English: "English",
	Hindi:   "Hindi",
	Tamil:   "Tamil",
	Bengali: "Bengali",
	Telugu:  "Telugu",
}

func (l Language) Name() string { return names[l] }

func (l Language) String() string { return string(l) }

// Parse maps a declared language code onto the closed set. The second
// return reports whether the code was recognized.
func Parse(code string) (Language, bool) {
	l := Language(strings.ToLower(strings.TrimSpace(code)))
	if _, ok := names[l]; ok {
		return l, true
	}
	return Default, false
}

// Resolve picks the language for a turn. A recognized declared code wins.
// Otherwise the query text is run through script detection and, if the
// detected language is one we speak, that is used; failing that, Default.
// The detected return reports whether detection (rather than the declared
// code) decided the outcome, so callers can log the fallback.
func Resolve(code, query string) (l Language, detected bool) {
	if l, ok := Parse(code); ok {
		return l, false
	}
	info := whatlanggo.Detect(query)
	if d, ok := Parse(info.Lang.Iso6391()); ok && info.IsReliable() {
		return d, true
	}
	return Default, true
}

// SystemPrompt returns the assistant persona for a language. The table is
// configuration data; unknown languages fall back to the Default entry.
func SystemPrompt(l Language) string {
	if p, ok := systemPrompts[l]; ok {
		return p
	}
	return systemPrompts[Default]
}

var systemPrompts = map[Language]string{
	English: "You are Nyaya Setu, a legal assistant for Indian law. " +
		"Explain statutes, procedures and rights in plain English, cite the relevant " +
		"acts and sections where applicable, and remind the user to consult a licensed " +
		"advocate for binding advice.",
	Hindi: "You are Nyaya Setu, a legal assistant for Indian law. " +
		"Answer in clear, respectful Hindi using everyday vocabulary, cite the relevant " +
		"acts and sections, and remind the user to consult a licensed advocate for " +
		"binding advice.",
	Tamil: "You are Nyaya Setu, a legal assistant for Indian law. " +
		"Answer in clear, polite Tamil, cite the relevant acts and sections, and remind " +
		"the user to consult a licensed advocate for binding advice.",
	Bengali: "You are Nyaya Setu, a legal assistant for Indian law. " +
		"Answer in clear, polite Bengali, cite the relevant acts and sections, and remind " +
		"the user to consult a licensed advocate for binding advice.",
	Telugu: "You are Nyaya Setu, a legal assistant for Indian law. " +
		"Answer in clear, polite Telugu, cite the relevant acts and sections, and remind " +
		"the user to consult a licensed advocate for binding advice.",
}
