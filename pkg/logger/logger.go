package logger

import (
	"fmt"
	"io"
	"log/slog"
	"os"
	"strconv"
	"strings"
	"time"

	"github.com/charmbracelet/lipgloss"
	charmLog "github.com/charmbracelet/log"

	"vtagent/pkg/config"
)

// Attribute keys that every turn log line is organized around. In json
// format they are lifted out of the free-form fields.
const (
	KeyComponent = "component"
	KeyCharacter = "character"
	KeyTurn      = "turn_id"
	KeyError     = "error"
)

const (
	formatText = "text"
	formatJSON = "json"

	envFormat    = "VTAGENT_LOG_FORMAT"
	envLevel     = "VTAGENT_LOG_LEVEL"
	envAddSource = "VTAGENT_LOG_ADD_SOURCE"
)

type settings struct {
	format    string
	level     slog.Level
	addSource bool
}

// New builds the process logger from config. VTAGENT_LOG_FORMAT,
// VTAGENT_LOG_LEVEL and VTAGENT_LOG_ADD_SOURCE take precedence.
func New(cfg config.LoggingConfig) (*slog.Logger, error) {
	return newWithWriter(cfg, os.Stderr)
}

func newWithWriter(cfg config.LoggingConfig, out io.Writer) (*slog.Logger, error) {
	s, err := resolve(cfg)
	if err != nil {
		return nil, err
	}

	if s.format == formatJSON {
		return slog.New(newTurnHandler(out, s)), nil
	}
	return slog.New(newTextLogger(out, s)), nil
}

// Component returns the default logger tagged with a component name.
func Component(name string) *slog.Logger {
	return slog.Default().With(KeyComponent, name)
}

// ForCharacter tags log with the character a component speaks for.
func ForCharacter(log *slog.Logger, component string, character string) *slog.Logger {
	log = log.With(KeyComponent, component)
	if character = strings.TrimSpace(character); character != "" {
		log = log.With(KeyCharacter, character)
	}
	return log
}

// ForTurn tags log with one conversation turn.
func ForTurn(log *slog.Logger, turnID string) *slog.Logger {
	return log.With(KeyTurn, turnID)
}

func resolve(cfg config.LoggingConfig) (settings, error) {
	s := settings{
		format:    strings.ToLower(pick(envFormat, cfg.Format, formatText)),
		addSource: cfg.AddSource,
	}
	if s.format != formatText && s.format != formatJSON {
		return settings{}, fmt.Errorf("unsupported log format %q", s.format)
	}

	level, err := parseLevel(pick(envLevel, cfg.Level, "info"))
	if err != nil {
		return settings{}, err
	}
	s.level = level

	if raw := strings.TrimSpace(os.Getenv(envAddSource)); raw != "" {
		addSource, err := strconv.ParseBool(raw)
		if err != nil {
			return settings{}, fmt.Errorf("%s: %w", envAddSource, err)
		}
		s.addSource = addSource
	}
	return s, nil
}

// pick returns the environment value, then the configured one, then def.
func pick(env string, configured string, def string) string {
	if value := strings.TrimSpace(os.Getenv(env)); value != "" {
		return value
	}
	if value := strings.TrimSpace(configured); value != "" {
		return value
	}
	return def
}

// parseLevel accepts the charm level names plus "warning". Charm and slog
// share numeric levels.
func parseLevel(raw string) (slog.Level, error) {
	if strings.EqualFold(raw, "warning") {
		raw = "warn"
	}
	level, err := charmLog.ParseLevel(raw)
	if err != nil {
		return 0, fmt.Errorf("unsupported log level %q", raw)
	}
	return slog.Level(level), nil
}

// newTextLogger renders lines for a terminal. The character and turn keys
// get their own colors so interleaved turns stay readable.
func newTextLogger(out io.Writer, s settings) *charmLog.Logger {
	l := charmLog.NewWithOptions(out, charmLog.Options{
		Level:           charmLog.Level(s.level),
		ReportTimestamp: true,
		ReportCaller:    s.addSource,
		TimeFormat:      time.TimeOnly,
		Formatter:       charmLog.TextFormatter,
	})

	styles := charmLog.DefaultStyles()
	styles.Keys[KeyCharacter] = lipgloss.NewStyle().Foreground(lipgloss.Color("212"))
	styles.Values[KeyCharacter] = lipgloss.NewStyle().Bold(true)
	styles.Keys[KeyTurn] = lipgloss.NewStyle().Foreground(lipgloss.Color("86"))
	styles.Values[KeyTurn] = lipgloss.NewStyle().Faint(true)
	styles.Keys[KeyError] = lipgloss.NewStyle().Foreground(lipgloss.Color("204"))
	l.SetStyles(styles)
	return l
}
