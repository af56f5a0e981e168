package pipeline

import (
	"iter"
	"regexp"
	"slices"
	"sort"
	"strings"
)

var actionMarkerPattern = regexp.MustCompile(`(\s*)\[([^\[\]]+)\](\s*)`)

// ActionExtractor pulls avatar action markers such as "[joy]" out of
// fragment text. Markers outside the vocabulary stay in the text.
type ActionExtractor struct {
	vocabulary map[string]string
}

// NewActionExtractor matches markers case-insensitively against vocabulary
// and reports them using the vocabulary's spelling.
func NewActionExtractor(vocabulary []string) *ActionExtractor {
	known := make(map[string]string, len(vocabulary))
	for _, word := range vocabulary {
		word = strings.TrimSpace(word)
		if word == "" {
			continue
		}
		known[strings.ToLower(word)] = word
	}
	return &ActionExtractor{vocabulary: known}
}

// VocabularyFromEmotionMap lists the keys of an avatar emotion map in a
// stable order.
func VocabularyFromEmotionMap(emotions map[string]int) []string {
	words := make([]string, 0, len(emotions))
	for word := range emotions {
		words = append(words, word)
	}
	sort.Strings(words)
	return words
}

func (a *ActionExtractor) Name() string {
	return "actions"
}

func (a *ActionExtractor) Apply(in iter.Seq2[Sentence, error]) iter.Seq2[Sentence, error] {
	return mapStage{name: a.Name(), fn: a.transform}.Apply(in)
}

func (a *ActionExtractor) transform(s Sentence) Sentence {
	if s.Tag != "" {
		return s
	}

	text, expressions := a.Extract(s.Text)
	s.Text = text
	for _, expression := range expressions {
		if !slices.Contains(s.Actions.Expressions, expression) {
			s.Actions.Expressions = append(s.Actions.Expressions, expression)
		}
	}
	return s
}

// Extract removes recognized markers from text and returns them in order of
// first appearance. Only the whitespace around a removed marker is touched:
// it shrinks to one space, or one newline when it held one.
func (a *ActionExtractor) Extract(text string) (string, []string) {
	if len(a.vocabulary) == 0 || !strings.Contains(text, "[") {
		return text, nil
	}

	var (
		found []string
		out   strings.Builder
		last  int
	)
	for _, m := range actionMarkerPattern.FindAllStringSubmatchIndex(text, -1) {
		word := strings.ToLower(strings.TrimSpace(text[m[4]:m[5]]))
		canonical, ok := a.vocabulary[word]
		if !ok {
			continue
		}
		if !slices.Contains(found, canonical) {
			found = append(found, canonical)
		}

		out.WriteString(text[last:m[0]])
		last = m[1]
		out.WriteString(markerGap(out.String(), text[m[2]:m[3]], text[m[6]:m[7]], m[1] == len(text)))
	}
	if len(found) == 0 {
		return text, nil
	}

	out.WriteString(text[last:])
	return out.String(), found
}

// markerGap is what replaces a removed marker together with the whitespace
// around it. Leading whitespace of the fragment is kept as it was.
func markerGap(written string, before string, after string, atEnd bool) string {
	space := before + after
	switch {
	case atEnd:
		return ""
	case written == "":
		return before
	case space == "", strings.HasSuffix(written, " "), strings.HasSuffix(written, "\n"):
		return ""
	case strings.Contains(space, "\n"):
		return "\n"
	default:
		return " "
	}
}
