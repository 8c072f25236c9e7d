package llm

import "strings"

// Style selects the system prompt sent with a rewrite.
type Style string

const (
	StyleStandard Style = "standard"
	StyleFormal   Style = "formal"
	StyleCasual   Style = "casual"
	StyleCreative Style = "creative"
)

var stylePrompts = map[Style]string{
	StyleStandard: "You are a professional content rewriter. Rewrite the following article while maintaining the same meaning, but using different wording and sentence structure. Keep the same headings and formatting.",
	StyleFormal:   "You are a professional content rewriter. Rewrite the following article in a formal, academic style while maintaining the same meaning. Use sophisticated vocabulary and complex sentence structures. Keep the same headings and formatting.",
	StyleCasual:   "You are a professional content rewriter. Rewrite the following article in a casual, conversational style while maintaining the same meaning. Use simple language and a friendly tone. Keep the same headings and formatting.",
	StyleCreative: "You are a professional content rewriter. Rewrite the following article in a creative, engaging style while maintaining the same meaning. Use vivid language, metaphors, and storytelling techniques. Keep the same headings and formatting.",
}

var styleAliases = map[string]Style{
	"simple":  StyleCasual,
	"default": StyleStandard,
}

// Styles lists the canonical styles.
func Styles() []Style {
	return []Style{StyleStandard, StyleFormal, StyleCasual, StyleCreative}
}

// NormalizeStyle resolves aliases and case. ok is false for unknown styles,
// which resolve to StyleStandard.
func NormalizeStyle(style string) (Style, bool) {
	key := strings.ToLower(strings.TrimSpace(style))
	if alias, found := styleAliases[key]; found {
		return alias, true
	}
	s := Style(key)
	if _, found := stylePrompts[s]; found {
		return s, true
	}
	return StyleStandard, false
}

// SystemPrompt returns the instruction for style, falling back to the
// standard prompt.
func SystemPrompt(style string) string {
	s, _ := NormalizeStyle(style)
	return stylePrompts[s]
}
