package orchestrate

import (
	"strings"

	"github.com/veridoc/ragd/internal/assemble"
	"github.com/veridoc/ragd/internal/history"
)

const systemInstructions = `You are an assistant answering questions about the organization's governance and compliance documentation.

Answer strictly from the context provided below. When the context names a source, cite it. If the context does not contain the answer, say so rather than guessing.`

// emptyContextDisclosure replaces the context block when retrieval found
// nothing usable, so the model tells the user it is answering without
// document grounding instead of fabricating citations.
const emptyContextDisclosure = `No relevant documentation was found for this question. Tell the user that the available documents do not cover their question, and answer only from general knowledge if they insist.`

// BuildPrompt assembles the generation prompt: system instructions with the
// context block, the recent transcript window, then the current question.
func BuildPrompt(promptContext assemble.Context, transcript []history.Message, query string) []PromptMessage {
	var system strings.Builder
	system.WriteString(systemInstructions)
	system.WriteString("\n\n--- Context ---\n")
	if promptContext.Empty() {
		system.WriteString(emptyContextDisclosure)
	} else {
		system.WriteString(promptContext.Text)
	}

	// Guard against a window that still ends with the current question so
	// it is never replayed twice in the prompt.
	if n := len(transcript); n > 0 &&
		transcript[n-1].Role == history.RoleUser && transcript[n-1].Content == query {
		transcript = transcript[:n-1]
	}

	messages := make([]PromptMessage, 0, len(transcript)+2)
	messages = append(messages, PromptMessage{Role: RoleSystem, Content: system.String()})
	for _, m := range transcript {
		role := RoleUser
		if m.Role == history.RoleAssistant {
			role = RoleAssistant
		}
		messages = append(messages, PromptMessage{Role: role, Content: m.Content})
	}

	messages = append(messages, PromptMessage{Role: RoleUser, Content: query})
	return messages
}
