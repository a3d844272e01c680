package llm

import "strings"

// Roles used in chat messages.
const (
	RoleSystem    = "system"
	RoleUser      = "user"
	RoleAssistant = "assistant"
)

// DefaultSystemPrompt opens every conversation.
const DefaultSystemPrompt = "You are a helpful AI assistant."

const summarySystemPrompt = "You are a helpful AI assistant that provides concise summaries."

const summaryInstruction = "Provide a brief, clear summary of the following text in 2-3 sentences, " +
	"give a more detailed summary or explanation for code that is more than 10 lines:"

// Message is one chat turn.
type Message struct {
	Role    string `json:"role"`
	Content string `json:"content"`
}

// Conversation keeps the history of an interactive session.
type Conversation struct {
	messages []Message
}

// NewConversation starts a conversation with a system prompt.
func NewConversation(system string) *Conversation {
	if system == "" {
		system = DefaultSystemPrompt
	}
	return &Conversation{messages: []Message{{Role: RoleSystem, Content: system}}}
}

// Ask returns the history followed by a new user turn. The conversation is
// not modified until Record is called.
func (c *Conversation) Ask(input string) []Message {
	msgs := make([]Message, len(c.messages), len(c.messages)+1)
	copy(msgs, c.messages)
	return append(msgs, Message{Role: RoleUser, Content: input})
}

// Record appends a completed exchange.
func (c *Conversation) Record(input, reply string) {
	c.messages = append(c.messages,
		Message{Role: RoleUser, Content: input},
		Message{Role: RoleAssistant, Content: reply},
	)
}

// Len returns the number of messages, system prompt included.
func (c *Conversation) Len() int {
	return len(c.messages)
}

// SummaryMessages builds the request that summarizes text.
func SummaryMessages(text string) []Message {
	return []Message{
		{Role: RoleSystem, Content: summarySystemPrompt},
		{Role: RoleUser, Content: summaryInstruction + "\n\n" + strings.TrimSpace(text)},
	}
}

// phi3Prompt renders messages in the phi-3 chat template expected by the
// llama.cpp completion endpoint, ending with an open assistant turn.
func phi3Prompt(msgs []Message) string {
	var b strings.Builder
	for _, m := range msgs {
		b.WriteString("<|")
		b.WriteString(m.Role)
		b.WriteString("|>\n")
		b.WriteString(m.Content)
		b.WriteString("<|end|>\n")
	}
	b.WriteString("<|assistant|>\n")
	return b.String()
}
