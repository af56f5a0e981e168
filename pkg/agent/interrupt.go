package agent

import (
	"sync"

	"vtagent/pkg/config"
	"vtagent/pkg/memory"
)

const (
	InterruptMarker = "[Interrupted by user]"
	heardSuffix     = "..."
)

// InterruptController records a barge-in in memory at most once per turn.
// Appending the finished reply and handling a barge-in share one lock, so a
// turn ends with either the full reply or the heard part, never both.
type InterruptController struct {
	memory *memory.Memory
	role   memory.Role

	mu    sync.Mutex
	fired bool
}

func NewInterruptController(mem *memory.Memory, method string) *InterruptController {
	role := memory.RoleUser
	if method == config.InterruptMethodSystem {
		role = memory.RoleSystem
	}
	return &InterruptController{memory: mem, role: role}
}

// Reset arms the controller for a new turn.
func (c *InterruptController) Reset() {
	c.mu.Lock()
	defer c.mu.Unlock()

	c.fired = false
}

func (c *InterruptController) Fired() bool {
	c.mu.Lock()
	defer c.mu.Unlock()

	return c.fired
}

// AppendUnlessFired appends msg to memory unless the turn was interrupted.
// It reports whether msg was appended.
func (c *InterruptController) AppendUnlessFired(msg memory.Message) bool {
	c.mu.Lock()
	defer c.mu.Unlock()

	if c.fired {
		return false
	}
	c.memory.Append(msg)
	return true
}

// Handle trims what memory holds of the interrupted reply to heard plus an
// ellipsis and appends the interruption marker. Only the first call after
// Reset has any effect; it reports whether this call fired.
func (c *InterruptController) Handle(heard string, speaker memory.Message) bool {
	c.mu.Lock()
	defer c.mu.Unlock()

	if c.fired {
		return false
	}
	c.fired = true

	var fallback *memory.Message
	if heard != "" {
		speaker.Role = memory.RoleAssistant
		speaker.Content = heard + heardSuffix
		speaker.Parts = nil
		fallback = &speaker
	}

	c.memory.TruncateLastAndAppend(heard+heardSuffix, fallback, memory.Message{
		Role:    c.role,
		Content: InterruptMarker,
	})
	return true
}
