package cmd

import (
	"bytes"
	"errors"
	"iter"
	"testing"

	"vtagent/pkg/input"
	"vtagent/pkg/pipeline"
)

func TestResolvePrompt(t *testing.T) {
	original := promptText
	t.Cleanup(func() {
		promptText = original
	})

	promptText = " from-flag "
	if got := resolvePrompt([]string{"from", "args"}); got != "from-flag" {
		t.Fatalf("resolvePrompt with flag = %q, want %q", got, "from-flag")
	}

	promptText = ""
	if got := resolvePrompt([]string{"hello", "world"}); got != "hello world" {
		t.Fatalf("resolvePrompt with args = %q, want %q", got, "hello world")
	}

	if got := resolvePrompt(nil); got != "" {
		t.Fatalf("resolvePrompt without input = %q, want empty", got)
	}
}

func TestParseImageFlag(t *testing.T) {
	tests := []struct {
		raw     string
		want    input.ImageInput
		wantErr bool
	}{
		{raw: "camera=data:image/png;base64,AAA", want: input.ImageInput{Source: input.ImageSourceCamera, Reference: "data:image/png;base64,AAA"}},
		{raw: " upload = https://example.com/a.png?x=1 ", want: input.ImageInput{Source: input.ImageSourceUpload, Reference: "https://example.com/a.png?x=1"}},
		{raw: "camera", wantErr: true},
		{raw: "=ref", wantErr: true},
		{raw: "screen=", wantErr: true},
	}

	for _, tt := range tests {
		got, err := parseImageFlag(tt.raw)
		if tt.wantErr {
			if err == nil {
				t.Fatalf("parseImageFlag(%q) expected error", tt.raw)
			}
			continue
		}
		if err != nil {
			t.Fatalf("parseImageFlag(%q) error: %v", tt.raw, err)
		}
		if got != tt.want {
			t.Fatalf("parseImageFlag(%q) = %+v, want %+v", tt.raw, got, tt.want)
		}
	}
}

func TestBuildTurn(t *testing.T) {
	turn, err := buildTurn("what is this?", "  func main() {}  ", []string{"screen=s1"})
	if err != nil {
		t.Fatalf("buildTurn error: %v", err)
	}

	text, err := input.FormatPrompt(turn)
	if err != nil {
		t.Fatalf("FormatPrompt error: %v", err)
	}
	want := "what is this?\n[Clipboard content: func main() {}]\n\nImages in this message:\n- Image 1 (screenshot)"
	if text != want {
		t.Fatalf("formatted turn = %q, want %q", text, want)
	}
}

func TestBuildTurnEmptyIsProactive(t *testing.T) {
	turn, err := buildTurn("", " ", nil)
	if err != nil {
		t.Fatalf("buildTurn error: %v", err)
	}
	if len(turn.Texts) != 0 || len(turn.Images) != 0 {
		t.Fatalf("buildTurn = %+v, want empty turn", turn)
	}
}

func TestBuildTurnRejectsUnknownImageSource(t *testing.T) {
	_, err := buildTurn("hi", "", []string{"webcam=x"})
	if !errors.Is(err, input.ErrUnknownSource) {
		t.Fatalf("buildTurn error = %v, want ErrUnknownSource", err)
	}
}

func sentenceSeq(outputs []pipeline.SentenceOutput, err error) iter.Seq2[pipeline.SentenceOutput, error] {
	return func(yield func(pipeline.SentenceOutput, error) bool) {
		for _, output := range outputs {
			if !yield(output, nil) {
				return
			}
		}
		if err != nil {
			yield(pipeline.SentenceOutput{}, err)
		}
	}
}

func TestPrintSentences(t *testing.T) {
	outputs := []pipeline.SentenceOutput{
		{Display: pipeline.DisplayText{Text: "Hello there!"}, Speech: "Hello there!", Actions: pipeline.Actions{Expressions: []string{"joy"}}},
		{Display: pipeline.DisplayText{Text: "   "}},
		{Display: pipeline.DisplayText{Text: "(thinking)"}, Speech: ""},
	}

	var out bytes.Buffer
	if err := printSentences(&out, sentenceSeq(outputs, nil), true); err != nil {
		t.Fatalf("printSentences error: %v", err)
	}

	want := "[joy] Hello there!\n  🔊 Hello there!\n(thinking)\n"
	if out.String() != want {
		t.Fatalf("output = %q, want %q", out.String(), want)
	}
}

func TestPrintSentencesReturnsStreamError(t *testing.T) {
	boom := errors.New("boom")
	outputs := []pipeline.SentenceOutput{{Display: pipeline.DisplayText{Text: "Hi."}}}

	var out bytes.Buffer
	err := printSentences(&out, sentenceSeq(outputs, boom), false)
	if !errors.Is(err, boom) {
		t.Fatalf("printSentences error = %v, want %v", err, boom)
	}
	if out.String() != "Hi.\n" {
		t.Fatalf("output = %q, want sentences before the failure", out.String())
	}
}
