package memory

import (
	"strings"
	"sync"
	"time"

	"vtagent/pkg/history"
)

type Role string

const (
	RoleSystem    Role = "system"
	RoleUser      Role = "user"
	RoleAssistant Role = "assistant"
)

type PartType string

const (
	PartText     PartType = "text"
	PartImageURL PartType = "image_url"
)

// ContentPart is one block of a structured (multimodal) message.
type ContentPart struct {
	Type     PartType
	Text     string
	ImageURL string
}

// Message is one conversational entry. Parts is only set on assembled
// prompts for multimodal turns; memory always stores the flat Content.
type Message struct {
	Role    Role
	Content string
	Parts   []ContentPart
	Name    string
	Avatar  string
	At      time.Time
}

// Text returns the message text, joining text parts for structured content.
func (m Message) Text() string {
	if len(m.Parts) == 0 {
		return m.Content
	}

	var b strings.Builder
	for _, part := range m.Parts {
		if part.Type == PartText {
			b.WriteString(part.Text)
		}
	}
	return b.String()
}

// Clone returns a copy that shares no slices with m.
func (m Message) Clone() Message {
	if m.Parts != nil {
		m.Parts = append([]ContentPart(nil), m.Parts...)
	}
	return m
}

// Memory is the ordered conversation log owned by one agent.
type Memory struct {
	mu      sync.RWMutex
	entries []Message
}

func New() *Memory {
	return &Memory{}
}

// Append adds msg at the end. Structured content is flattened to text.
func (m *Memory) Append(msg Message) {
	msg.Content = msg.Text()
	msg.Parts = nil
	if msg.At.IsZero() {
		msg.At = time.Now().UTC()
	}

	m.mu.Lock()
	defer m.mu.Unlock()

	m.entries = append(m.entries, msg)
}

// List returns a snapshot copy of all entries.
func (m *Memory) List() []Message {
	m.mu.RLock()
	defer m.mu.RUnlock()

	if len(m.entries) == 0 {
		return nil
	}

	out := make([]Message, len(m.entries))
	copy(out, m.entries)
	return out
}

// Last returns the newest entry.
func (m *Memory) Last() (Message, bool) {
	m.mu.RLock()
	defer m.mu.RUnlock()

	if len(m.entries) == 0 {
		return Message{}, false
	}
	return m.entries[len(m.entries)-1], true
}

// RebuildFromHistory replaces the log with a system message followed by the
// persisted turns. Human entries become user messages, everything else
// becomes assistant messages.
func (m *Memory) RebuildFromHistory(systemPrompt string, past []history.Entry) {
	now := time.Now().UTC()
	entries := make([]Message, 0, len(past)+1)
	entries = append(entries, Message{Role: RoleSystem, Content: systemPrompt, At: now})

	for _, entry := range past {
		role := RoleAssistant
		if entry.Role == history.RoleHuman {
			role = RoleUser
		}

		at := entry.Timestamp
		if at.IsZero() {
			at = now
		}
		entries = append(entries, Message{Role: role, Content: entry.Content, At: at})
	}

	m.mu.Lock()
	defer m.mu.Unlock()

	m.entries = entries
}

// TruncateLastAndAppend records what was actually heard of an interrupted
// reply, then appends marker. When the newest entry is an assistant message
// its content is replaced with truncated; otherwise fallback, if non-nil, is
// appended as a new assistant message.
func (m *Memory) TruncateLastAndAppend(truncated string, fallback *Message, marker Message) {
	now := time.Now().UTC()

	m.mu.Lock()
	defer m.mu.Unlock()

	if n := len(m.entries); n > 0 && m.entries[n-1].Role == RoleAssistant {
		m.entries[n-1].Content = truncated
	} else if fallback != nil {
		heard := fallback.Clone()
		heard.Role = RoleAssistant
		heard.Content = heard.Text()
		heard.Parts = nil
		if heard.At.IsZero() {
			heard.At = now
		}
		m.entries = append(m.entries, heard)
	}

	if marker.At.IsZero() {
		marker.At = now
	}
	m.entries = append(m.entries, marker)
}
