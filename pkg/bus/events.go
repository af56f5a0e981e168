package bus

import (
	"time"
)

type EventType string

const (
	EventTurnStarted     EventType = "turn_started"
	EventSentenceEmitted EventType = "sentence_emitted"
	EventTurnCompleted   EventType = "turn_completed"
	EventTurnFailed      EventType = "turn_failed"
	EventTurnAbandoned   EventType = "turn_abandoned"
	EventTurnInterrupted EventType = "turn_interrupted"
)

type Event struct {
	Type    EventType         `json:"type"`
	At      time.Time         `json:"at"`
	TurnID  string            `json:"turn_id,omitempty"`
	Agent   string            `json:"agent,omitempty"`
	Payload map[string]string `json:"payload,omitempty"`
	Error   string            `json:"error,omitempty"`
}
