package pipeline

import (
	"iter"
	"regexp"
	"strings"
)

var markupPattern = regexp.MustCompile(`<[^<>]*>`)

// DisplayShaper fills in the text shown to the user along with the speaker
// metadata of the turn.
type DisplayShaper struct {
	name   string
	avatar string
}

func NewDisplayShaper(name string, avatar string) *DisplayShaper {
	return &DisplayShaper{name: name, avatar: avatar}
}

func (d *DisplayShaper) Name() string {
	return "display"
}

func (d *DisplayShaper) Apply(in iter.Seq2[Sentence, error]) iter.Seq2[Sentence, error] {
	return mapStage{name: d.Name(), fn: d.transform}.Apply(in)
}

func (d *DisplayShaper) transform(s Sentence) Sentence {
	text := strings.Join(strings.Fields(markupPattern.ReplaceAllString(s.Text, "")), " ")
	if s.Tag == ThinkTag && text != "" {
		text = "(" + text + ")"
	}

	s.Display = DisplayText{Text: text, Name: d.name, Avatar: d.avatar}
	return s
}
