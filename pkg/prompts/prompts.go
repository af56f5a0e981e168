package prompts

import (
	"embed"
	"fmt"
	"strings"
	"text/template"
)

const (
	GroupConversation = "group_conversation"
	RAGContext        = "rag_context"
	FallbackSystem    = "fallback_system"
	InterruptNotice   = "interrupt_notice"
)

//go:embed templates/*.md
var templatesFS embed.FS

// Set is the read-only collection of prompt templates, parsed once at
// startup and shared by reference.
type Set struct {
	templates map[string]*template.Template
}

// GroupData fills the group conversation template.
type GroupData struct {
	HumanName string
	OtherAIs  string
}

// Load parses every embedded template.
func Load() (*Set, error) {
	names := []string{GroupConversation, RAGContext, FallbackSystem, InterruptNotice}

	set := &Set{templates: make(map[string]*template.Template, len(names))}
	for _, name := range names {
		content, err := templatesFS.ReadFile(templatePath(name))
		if err != nil {
			return nil, fmt.Errorf("load %s prompt template: %w", name, err)
		}
		if strings.TrimSpace(string(content)) == "" {
			return nil, fmt.Errorf("prompt template %q is empty", name)
		}

		tmpl, err := template.New(name).Option("missingkey=error").Parse(string(content))
		if err != nil {
			return nil, fmt.Errorf("parse %s prompt template: %w", name, err)
		}
		set.templates[name] = tmpl
	}

	return set, nil
}

// MustLoad is Load for callers that cannot proceed without prompts.
func MustLoad() *Set {
	set, err := Load()
	if err != nil {
		panic(err)
	}
	return set
}

// Render executes the named template and trims surrounding whitespace.
func (s *Set) Render(name string, data any) (string, error) {
	tmpl, ok := s.templates[name]
	if !ok {
		return "", fmt.Errorf("unknown prompt template %q", name)
	}

	var b strings.Builder
	if err := tmpl.Execute(&b, data); err != nil {
		return "", fmt.Errorf("render %s prompt: %w", name, err)
	}
	return strings.TrimSpace(b.String()), nil
}

func (s *Set) GroupConversation(humanName string, otherAIs []string) (string, error) {
	return s.Render(GroupConversation, GroupData{
		HumanName: humanName,
		OtherAIs:  strings.Join(otherAIs, ", "),
	})
}

func (s *Set) RAGContext(context string) (string, error) {
	return s.Render(RAGContext, struct{ Context string }{Context: strings.TrimSpace(context)})
}

func (s *Set) FallbackSystem() string {
	text, _ := s.Render(FallbackSystem, nil)
	return text
}

func (s *Set) InterruptNotice() string {
	text, _ := s.Render(InterruptNotice, nil)
	return text
}

func templatePath(name string) string {
	return "templates/" + strings.TrimSpace(name) + ".md"
}
