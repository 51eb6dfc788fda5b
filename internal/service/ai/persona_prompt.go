package ai

import (
	"fmt"
	"strings"

	"github.com/zhouzirui/forno/backend/internal/model/chat"
	"github.com/zhouzirui/forno/backend/internal/model/persona"
)

const contextHeading = "CONTEXTO DA CONVERSA:"

// PromptBuilder renders the fixed persona preamble and conversation prompts.
type PromptBuilder struct {
	persona persona.Persona
	system  string
}

// NewPromptBuilder renders the persona's system prompt once.
func NewPromptBuilder(p persona.Persona) *PromptBuilder {
	return &PromptBuilder{persona: p, system: renderSystemPrompt(p)}
}

// Persona returns the persona the builder renders.
func (b *PromptBuilder) Persona() persona.Persona {
	return b.persona
}

// SystemPrompt returns the persona preamble: role, duties, rules and menu.
func (b *PromptBuilder) SystemPrompt() string {
	return b.system
}

// WelcomePrompt asks for the greeting that opens every conversation.
func (b *PromptBuilder) WelcomePrompt() string {
	return b.system + "\n\n" + b.persona.WelcomeInstruction
}

// ConversationPrompt replays the persisted turns, then the in-memory history, then the new
// client text followed by the reminder not to greet again.
func (b *PromptBuilder) ConversationPrompt(turns []chat.Turn, history []chat.HistoryEntry, newText string) string {
	var sb strings.Builder
	sb.WriteString(b.system)
	sb.WriteString("\n\n")
	sb.WriteString(contextHeading)
	sb.WriteString("\n")

	for _, turn := range turns {
		b.writeLine(&sb, turn.Kind == chat.KindClient, turn.Content)
	}
	for _, entry := range history {
		b.writeLine(&sb, entry.Role == chat.RoleUser, entry.Text)
	}

	fmt.Fprintf(&sb, "\n\n%s: %s\n\n%s", b.persona.ClientLabel, newText, b.persona.Reminder)
	return sb.String()
}

func (b *PromptBuilder) writeLine(sb *strings.Builder, fromClient bool, text string) {
	label := b.persona.AssistantLabel
	if fromClient {
		label = b.persona.ClientLabel
	}
	fmt.Fprintf(sb, "\n%s: %s", label, text)
}

func renderSystemPrompt(p persona.Persona) string {
	var sb strings.Builder
	sb.WriteString(p.Role)

	if len(p.Duties) > 0 {
		sb.WriteString("\n\nSua função é:")
		for _, duty := range p.Duties {
			sb.WriteString("\n- ")
			sb.WriteString(duty)
		}
	}

	if len(p.Rules) > 0 {
		sb.WriteString("\n\nRegras importantes:")
		for i, rule := range p.Rules {
			fmt.Fprintf(&sb, "\n%d. %s", i+1, rule)
		}
	}

	if len(p.Menu) > 0 {
		sb.WriteString("\n\nCardápio:")
		for _, section := range p.Menu {
			fmt.Fprintf(&sb, "\n\n%s:", section.Title)
			for _, item := range section.Items {
				sb.WriteString("\n- ")
				sb.WriteString(item)
			}
		}
	}

	return sb.String()
}
