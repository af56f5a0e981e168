package agent

import (
	"fmt"
	"strings"

	"vtagent/pkg/input"
	"vtagent/pkg/memory"
	"vtagent/pkg/prompts"
)

// Assembler builds the message list sent to the model for one turn. It never
// touches the memory it is given.
type Assembler struct {
	prompts *prompts.Set
}

func NewAssembler(set *prompts.Set) *Assembler {
	return &Assembler{prompts: set}
}

// Assemble returns a fresh list: the snapshot, the retrieved context as a
// system message when present, then the turn itself. The system prompt is
// left to the client. Turns with images become structured content
// with one image part per reference, in order.
func (a *Assembler) Assemble(snapshot []memory.Message, retrieved string, turn input.BatchInput) ([]memory.Message, error) {
	text, err := input.FormatPrompt(turn)
	if err != nil {
		return nil, err
	}

	out := make([]memory.Message, 0, len(snapshot)+2)
	for _, msg := range snapshot {
		out = append(out, msg.Clone())
	}

	if retrieved = strings.TrimSpace(retrieved); retrieved != "" {
		content, err := a.prompts.RAGContext(retrieved)
		if err != nil {
			return nil, fmt.Errorf("render retrieval context: %w", err)
		}
		out = append(out, memory.Message{Role: memory.RoleSystem, Content: content})
	}

	out = append(out, turnMessage(text, turn))
	return out, nil
}

func turnMessage(text string, turn input.BatchInput) memory.Message {
	if !turn.HasImages() {
		return memory.Message{Role: memory.RoleUser, Content: text}
	}

	parts := make([]memory.ContentPart, 0, len(turn.Images)+1)
	parts = append(parts, memory.ContentPart{Type: memory.PartText, Text: text})
	for _, ref := range turn.ImageReferences() {
		parts = append(parts, memory.ContentPart{Type: memory.PartImageURL, ImageURL: ref})
	}
	return memory.Message{Role: memory.RoleUser, Content: text, Parts: parts}
}
