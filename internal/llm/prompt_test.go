package llm

import (
	"testing"

	"github.com/stretchr/testify/assert"
)

func TestNormalizeStyle(t *testing.T) {
	tests := []struct {
		in    string
		want  Style
		known bool
	}{
		{"standard", StyleStandard, true},
		{"FORMAL", StyleFormal, true},
		{" casual ", StyleCasual, true},
		{"simple", StyleCasual, true},
		{"creative", StyleCreative, true},
		{"default", StyleStandard, true},
		{"pirate", StyleStandard, false},
		{"", StyleStandard, false},
	}
	for _, tt := range tests {
		got, known := NormalizeStyle(tt.in)
		assert.Equal(t, tt.want, got, tt.in)
		assert.Equal(t, tt.known, known, tt.in)
	}
}

func TestSystemPromptFallsBackToStandard(t *testing.T) {
	assert.Equal(t, SystemPrompt("standard"), SystemPrompt("unknown-style"))
	assert.Contains(t, SystemPrompt("formal"), "formal, academic style")
	assert.Contains(t, SystemPrompt("simple"), "casual, conversational style")
	assert.Contains(t, SystemPrompt("creative"), "metaphors, and storytelling")
	for _, s := range Styles() {
		assert.Contains(t, SystemPrompt(string(s)), "Keep the same headings and formatting.")
	}
}
