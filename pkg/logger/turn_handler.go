package logger

import (
	"context"
	"encoding/json"
	"fmt"
	"io"
	"log/slog"
	"maps"
	"path/filepath"
	"runtime"
	"strings"
	"sync"
	"time"
)

// LogEntry is one json format line. The turn attributes sit at the top level
// so a single turn or character can be filtered out of a mixed log.
type LogEntry struct {
	Time      string         `json:"time"`
	Level     string         `json:"level"`
	Component string         `json:"component,omitempty"`
	Character string         `json:"character,omitempty"`
	Turn      string         `json:"turn_id,omitempty"`
	Message   string         `json:"msg"`
	Error     string         `json:"error,omitempty"`
	Fields    map[string]any `json:"fields,omitempty"`
	Caller    string         `json:"caller,omitempty"`
}

// turnHandler writes LogEntry lines. Attributes bound with WithAttrs are
// folded into a template entry once, so each record only adds its own.
type turnHandler struct {
	out      io.Writer
	mu       *sync.Mutex
	s        settings
	template LogEntry
	prefix   string
}

func newTurnHandler(out io.Writer, s settings) *turnHandler {
	return &turnHandler{out: out, mu: &sync.Mutex{}, s: s}
}

func (h *turnHandler) Enabled(_ context.Context, level slog.Level) bool {
	return level >= h.s.level
}

func (h *turnHandler) Handle(_ context.Context, record slog.Record) error {
	entry := h.template
	entry.Fields = maps.Clone(h.template.Fields)
	entry.Time = record.Time.UTC().Format(time.RFC3339Nano)
	entry.Level = strings.ToLower(record.Level.String())
	entry.Message = record.Message

	record.Attrs(func(attr slog.Attr) bool {
		fold(&entry, h.prefix, attr)
		return true
	})
	if h.s.addSource && record.PC != 0 {
		frame, _ := runtime.CallersFrames([]uintptr{record.PC}).Next()
		entry.Caller = fmt.Sprintf("%s:%d", filepath.Base(frame.File), frame.Line)
	}

	line, err := json.Marshal(entry)
	if err != nil {
		return err
	}

	h.mu.Lock()
	defer h.mu.Unlock()
	_, err = h.out.Write(append(line, '\n'))
	return err
}

func (h *turnHandler) WithAttrs(attrs []slog.Attr) slog.Handler {
	if len(attrs) == 0 {
		return h
	}

	next := *h
	next.template.Fields = maps.Clone(h.template.Fields)
	for _, attr := range attrs {
		fold(&next.template, h.prefix, attr)
	}
	return &next
}

func (h *turnHandler) WithGroup(name string) slog.Handler {
	if name == "" {
		return h
	}

	next := *h
	next.prefix = h.prefix + name + "."
	return &next
}

// fold places attr on entry. Turn attributes outside any group go to their
// own columns; everything else lands in Fields under its dotted group path.
func fold(entry *LogEntry, prefix string, attr slog.Attr) {
	attr.Value = attr.Value.Resolve()
	if attr.Equal(slog.Attr{}) {
		return
	}

	if prefix == "" {
		if column := turnColumn(entry, attr.Key); column != nil {
			*column = textOf(attr.Value)
			return
		}
	}

	if attr.Value.Kind() == slog.KindGroup {
		inner := prefix
		if attr.Key != "" {
			inner = prefix + attr.Key + "."
		}
		for _, member := range attr.Value.Group() {
			fold(entry, inner, member)
		}
		return
	}

	if entry.Fields == nil {
		entry.Fields = make(map[string]any)
	}
	entry.Fields[prefix+attr.Key] = jsonValue(attr.Value)
}

func turnColumn(entry *LogEntry, key string) *string {
	switch key {
	case KeyComponent:
		return &entry.Component
	case KeyCharacter:
		return &entry.Character
	case KeyTurn:
		return &entry.Turn
	case KeyError:
		return &entry.Error
	default:
		return nil
	}
}

func textOf(v slog.Value) string {
	if err, ok := v.Any().(error); ok {
		return err.Error()
	}
	return v.String()
}

func jsonValue(v slog.Value) any {
	switch v.Kind() {
	case slog.KindTime:
		return v.Time().UTC().Format(time.RFC3339Nano)
	case slog.KindDuration:
		return v.Duration().String()
	case slog.KindAny:
		switch x := v.Any().(type) {
		case error:
			return x.Error()
		case fmt.Stringer:
			return x.String()
		default:
			return x
		}
	default:
		return v.Any()
	}
}
