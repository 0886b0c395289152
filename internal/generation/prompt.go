// Package generation provides answer generators backed by local or hosted language models.
package generation

import (
	"fmt"
	"strings"
)

// SystemPrompt sets the answering persona and rules.
const SystemPrompt = `You are a warm, experienced Orlando local guide.
Answer in exactly two sentences: first the factual answer, then one practical tip.
Use only the facts in the provided context. Never invent times, dates or prices.
Do not use lists or markdown.
If the context does not contain the answer, say you don't have that detail right now.`

// NoContextMarker replaces the context block when retrieval returned nothing.
const NoContextMarker = "(no supporting context was found for this question)"

// BuildPrompt renders the user prompt for question and its context passages.
func BuildPrompt(question string, contexts []string) string {
	var b strings.Builder
	b.WriteString("Context:\n")
	if len(contexts) == 0 {
		b.WriteString(NoContextMarker)
		b.WriteString("\n")
	}
	for _, c := range contexts {
		fmt.Fprintf(&b, "- %s\n", strings.TrimSpace(c))
	}
	fmt.Fprintf(&b, "\nGuest's question: %q\n\nYour answer:", strings.TrimSpace(question))
	return b.String()
}
