package pipeline

import (
	"errors"
	"fmt"
	"iter"
	"regexp"
	"sort"
	"strings"
	"unicode"

	"golang.org/x/text/unicode/norm"

	"vtagent/pkg/config"
)

var ErrInvalidSpeechFilter = errors.New("invalid speech filter configuration")

const (
	RuleNFKC                = "nfkc"
	RuleRemoveSpecialChar   = "remove_special_char"
	RuleIgnoreBrackets      = "ignore_brackets"
	RuleIgnoreParentheses   = "ignore_parentheses"
	RuleIgnoreAsterisks     = "ignore_asterisks"
	RuleIgnoreAngleBrackets = "ignore_angle_brackets"
	RuleExpandSymbols       = "expand_symbols"
)

var (
	bracketPattern      = regexp.MustCompile(`\[[^\[\]]*\]`)
	parenthesesPattern  = regexp.MustCompile(`\([^()]*\)|（[^（）]*）`)
	asteriskPattern     = regexp.MustCompile(`\*+[^*]*\*+`)
	angleBracketPattern = regexp.MustCompile(`<[^<>]*>`)

	symbolWords = strings.NewReplacer(
		"&", " and ",
		"%", " percent ",
		"+", " plus ",
		"=", " equals ",
		"@", " at ",
		"#", " number ",
	)
)

var speechRules = map[string]func(string) string{
	RuleNFKC:                norm.NFKC.String,
	RuleRemoveSpecialChar:   removeSpecialChars,
	RuleIgnoreBrackets:      func(s string) string { return bracketPattern.ReplaceAllString(s, "") },
	RuleIgnoreParentheses:   func(s string) string { return parenthesesPattern.ReplaceAllString(s, "") },
	RuleIgnoreAsterisks:     func(s string) string { return asteriskPattern.ReplaceAllString(s, "") },
	RuleIgnoreAngleBrackets: func(s string) string { return angleBracketPattern.ReplaceAllString(s, "") },
	RuleExpandSymbols:       symbolWords.Replace,
}

// SpeechFilter produces the text handed to speech synthesis. Without a
// configuration it passes text through unchanged. Tagged fragments are never
// voiced.
type SpeechFilter struct {
	steps []func(string) string
}

// NewSpeechFilter validates cfg. Unknown rules and empty replacement keys are
// rejected with ErrInvalidSpeechFilter.
func NewSpeechFilter(cfg *config.SpeechFilterConfig) (*SpeechFilter, error) {
	if cfg == nil {
		return &SpeechFilter{}, nil
	}

	steps := make([]func(string) string, 0, len(cfg.Rules)+1)
	seen := make(map[string]struct{}, len(cfg.Rules))
	for _, rule := range cfg.Rules {
		name := strings.ToLower(strings.TrimSpace(rule))
		step, ok := speechRules[name]
		if !ok {
			return nil, fmt.Errorf("%w: unknown rule %q", ErrInvalidSpeechFilter, rule)
		}
		if _, dup := seen[name]; dup {
			continue
		}
		seen[name] = struct{}{}
		steps = append(steps, step)
	}

	if len(cfg.Replacements) > 0 {
		keys := make([]string, 0, len(cfg.Replacements))
		for key := range cfg.Replacements {
			if key == "" {
				return nil, fmt.Errorf("%w: empty replacement key", ErrInvalidSpeechFilter)
			}
			keys = append(keys, key)
		}
		sort.Strings(keys)

		pairs := make([]string, 0, len(keys)*2)
		for _, key := range keys {
			pairs = append(pairs, key, cfg.Replacements[key])
		}
		steps = append(steps, strings.NewReplacer(pairs...).Replace)
	}

	steps = append(steps, func(s string) string { return strings.Join(strings.Fields(s), " ") })
	return &SpeechFilter{steps: steps}, nil
}

func (f *SpeechFilter) Name() string {
	return "speech"
}

func (f *SpeechFilter) Apply(in iter.Seq2[Sentence, error]) iter.Seq2[Sentence, error] {
	return mapStage{name: f.Name(), fn: f.transform}.Apply(in)
}

func (f *SpeechFilter) transform(s Sentence) Sentence {
	if s.Tag != "" {
		s.Speech = ""
		return s
	}
	s.Speech = f.Filter(s.Text)
	return s
}

// Filter applies the configured rules to text.
func (f *SpeechFilter) Filter(text string) string {
	for _, step := range f.steps {
		text = step(text)
	}
	return text
}

func removeSpecialChars(s string) string {
	return strings.Map(func(r rune) rune {
		switch {
		case unicode.Is(unicode.So, r), unicode.Is(unicode.Cs, r), unicode.Is(unicode.Co, r):
			return -1
		case r == '\u200d' || unicode.Is(unicode.Variation_Selector, r):
			return -1
		}
		return r
	}, s)
}
