package options

import (
	"strings"

	"github.com/YJPM/ti-options/plugins/options/llm"
)

// Template placeholders.
const (
	PlaceholderUserInput = "{{user_input}}"
	PlaceholderCharCard  = "{{char_card}}"
	PlaceholderWorldInfo = "{{world_info}}"
	PlaceholderContext   = "{{context}}"
)

// PromptContext is the chat context substituted into a template.
type PromptContext struct {
	UserInput     string        `json:"user_input"`
	CharacterCard string        `json:"character_card"`
	WorldInfo     string        `json:"world_info"`
	Messages      []llm.Message `json:"messages"`
}

// Transcript flattens messages to "role: content" lines.
func Transcript(msgs []llm.Message) string {
	lines := make([]string, 0, len(msgs))
	for _, m := range msgs {
		lines = append(lines, m.Role+": "+m.Content)
	}
	return strings.Join(lines, "\n")
}

// Assemble substitutes ctx into template in a single left-to-right pass.
// Placeholder text that appears inside substituted values is not expanded.
func Assemble(template string, ctx PromptContext) string {
	r := strings.NewReplacer(
		PlaceholderUserInput, ctx.UserInput,
		PlaceholderCharCard, ctx.CharacterCard,
		PlaceholderWorldInfo, ctx.WorldInfo,
		PlaceholderContext, Transcript(ctx.Messages),
	)
	return r.Replace(template)
}

var paceGuidance = map[string]string{
	PaceFast: "节奏要求：加快剧情推进，选项应直接推动事件发展。",
	PaceSlow: "节奏要求：放慢节奏，选项侧重细节描写与角色互动。",
}

var plotGuidance = map[string]string{
	PlotTwist: "剧情要求：至少给出一个出人意料的转折选项。",
	PlotCalm:  "剧情要求：保持情节平稳，避免激烈冲突。",
}

// Guidance returns the extra instruction lines for non-normal pace and plot
// modes, or "".
func Guidance(pace, plot string) string {
	var lines []string
	if g, ok := paceGuidance[pace]; ok {
		lines = append(lines, g)
	}
	if g, ok := plotGuidance[plot]; ok {
		lines = append(lines, g)
	}
	return strings.Join(lines, "\n")
}

// BuildPrompt assembles the configured template and appends mode guidance.
func BuildPrompt(s Settings, ctx PromptContext) string {
	tmpl := s.OptionsTemplate
	if strings.TrimSpace(tmpl) == "" {
		tmpl = DefaultTemplate
	}
	prompt := Assemble(tmpl, ctx)
	if g := Guidance(s.PaceMode, s.PlotMode); g != "" {
		prompt += "\n\n" + g
	}
	return prompt
}
