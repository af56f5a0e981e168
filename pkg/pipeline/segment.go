package pipeline

import (
	"fmt"
	"iter"
	"sort"
	"strings"
	"unicode"
	"unicode/utf8"

	"github.com/rivo/uniseg"
)

const (
	SegmentPunctuation = "punctuation"
	SegmentUAX29       = "uax29"

	ThinkTag = "think"
)

// DefaultTerminators end a sentence under the punctuation method.
var DefaultTerminators = []string{".", "!", "?", "。", "！", "？", "…"}

// clauseMarks additionally end the first fragment in faster-first mode.
var clauseMarks = []string{",", ";", ":", "，", "、", "；", "："}

const closingRunes = "\"'”’)）」』】]"

var abbreviations = map[string]struct{}{
	"dr": {}, "mr": {}, "mrs": {}, "ms": {}, "jr": {}, "sr": {},
	"prof": {}, "rev": {}, "gen": {}, "col": {}, "lt": {}, "sgt": {},
	"inc": {}, "ltd": {}, "corp": {}, "co": {}, "vs": {}, "etc": {},
	"i.e": {}, "e.g": {}, "a.m": {}, "p.m": {}, "u.s": {}, "u.k": {},
}

type SegmenterOptions struct {
	Method      string
	Terminators []string
	FasterFirst bool
	Tags        []string
}

// Segmenter buffers raw tokens and releases sentence fragments. Content
// between <tag> and </tag> for a configured tag is released as fragments
// carrying that tag; tag markers never end up inside a fragment.
type Segmenter struct {
	method      string
	terminators []string
	fasterFirst bool
	tags        []string
}

func NewSegmenter(opts SegmenterOptions) (*Segmenter, error) {
	method := strings.TrimSpace(opts.Method)
	if method == "" {
		method = SegmentPunctuation
	}
	if method != SegmentPunctuation && method != SegmentUAX29 {
		return nil, fmt.Errorf("unsupported segment method %q", opts.Method)
	}

	terminators := make([]string, 0, len(opts.Terminators))
	for _, terminator := range opts.Terminators {
		if terminator = strings.TrimSpace(terminator); terminator != "" {
			terminators = append(terminators, terminator)
		}
	}
	if len(terminators) == 0 {
		terminators = append(terminators, DefaultTerminators...)
	}
	sortLongestFirst(terminators)

	tags := make([]string, 0, len(opts.Tags))
	for _, tag := range opts.Tags {
		tag = strings.TrimSpace(tag)
		if tag == "" {
			continue
		}
		if strings.ContainsAny(tag, "<>/ \t\n") {
			return nil, fmt.Errorf("invalid tag name %q", tag)
		}
		tags = append(tags, tag)
	}

	return &Segmenter{
		method:      method,
		terminators: terminators,
		fasterFirst: opts.FasterFirst,
		tags:        tags,
	}, nil
}

func (s *Segmenter) Name() string {
	return "segment"
}

func (s *Segmenter) Apply(in iter.Seq2[Sentence, error]) iter.Seq2[Sentence, error] {
	return func(yield func(Sentence, error) bool) {
		state := &segmentState{segmenter: s, first: s.fasterFirst}
		for token, err := range in {
			if err != nil {
				yield(Sentence{}, err)
				return
			}
			state.buf += token.Text
			if !state.drain(false, yield) {
				return
			}
		}
		state.drain(true, yield)
	}
}

type segmentState struct {
	segmenter *Segmenter
	buf       string
	tag       string
	first     bool
}

// drain emits every fragment that is complete in the buffer. With final set,
// whatever remains is flushed. It reports false when the consumer stopped.
func (st *segmentState) drain(final bool, yield func(Sentence, error) bool) bool {
	for {
		marker, markerAt := st.nextMarker()

		region := st.buf
		switch {
		case markerAt >= 0:
			region = st.buf[:markerAt]
		case !final:
			region = st.buf[:len(st.buf)-st.partialMarkerLen()]
		}

		if end := st.boundary(region, final || markerAt >= 0); end > 0 {
			if !st.emit(region[:end], yield) {
				return false
			}
			st.buf = st.buf[end:]
			continue
		}

		if markerAt >= 0 {
			if !st.emit(region, yield) {
				return false
			}
			st.buf = st.buf[markerAt+len(marker):]
			if st.tag == "" {
				st.tag = strings.TrimSuffix(strings.TrimPrefix(marker, "<"), ">")
			} else {
				st.tag = ""
			}
			continue
		}

		if final {
			rest := st.buf
			st.buf = ""
			return st.emit(rest, yield)
		}
		return true
	}
}

func (st *segmentState) emit(text string, yield func(Sentence, error) bool) bool {
	if strings.TrimSpace(text) == "" {
		return true
	}
	if st.tag == "" {
		st.first = false
	}
	return yield(Sentence{Text: text, Tag: st.tag}, nil)
}

func (st *segmentState) markers() []string {
	if st.tag != "" {
		return []string{"</" + st.tag + ">"}
	}
	out := make([]string, 0, len(st.segmenter.tags))
	for _, tag := range st.segmenter.tags {
		out = append(out, "<"+tag+">")
	}
	return out
}

// nextMarker finds the earliest opening marker, or the closing marker of the
// open tag.
func (st *segmentState) nextMarker() (string, int) {
	marker, at := "", -1
	for _, candidate := range st.markers() {
		if i := strings.Index(st.buf, candidate); i >= 0 && (at < 0 || i < at) {
			marker, at = candidate, i
		}
	}
	return marker, at
}

// partialMarkerLen is the length of a buffer suffix that could still grow
// into a marker.
func (st *segmentState) partialMarkerLen() int {
	longest := 0
	for _, marker := range st.markers() {
		for k := min(len(marker)-1, len(st.buf)); k > longest; k-- {
			if strings.HasSuffix(st.buf, marker[:k]) {
				longest = k
				break
			}
		}
	}
	return longest
}

// boundary returns the end offset of the first complete fragment in text, or
// -1. A boundary at the very end of text only counts when confirmed.
func (st *segmentState) boundary(text string, confirmed bool) int {
	var end int
	switch st.segmenter.method {
	case SegmentUAX29:
		end = uax29Boundary(text)
	default:
		end = scanMarks(text, st.segmenter.terminators, confirmed)
	}

	if st.first && st.tag == "" {
		if clause := scanMarks(text, clauseMarks, confirmed); clause > 0 && (end < 0 || clause < end) {
			end = clause
		}
	}
	return end
}

func uax29Boundary(text string) int {
	if text == "" {
		return -1
	}
	sentence, rest, _ := uniseg.FirstSentenceInString(text, -1)
	if rest == "" {
		return -1
	}
	return len(sentence)
}

func scanMarks(text string, marks []string, confirmed bool) int {
	for i := 0; i < len(text); {
		mark := matchMark(text[i:], marks)
		if mark == "" {
			_, size := utf8.DecodeRuneInString(text[i:])
			i += size
			continue
		}

		end := i + len(mark)
		last := mark
		for {
			next := matchMark(text[end:], marks)
			if next == "" {
				break
			}
			end += len(next)
			last = next
		}
		for end < len(text) {
			r, size := utf8.DecodeRuneInString(text[end:])
			if !strings.ContainsRune(closingRunes, r) {
				break
			}
			end += size
		}

		if guarded(text, i, end) {
			i = end
			continue
		}
		if end == len(text) {
			if confirmed {
				return end
			}
			return -1
		}

		next, _ := utf8.DecodeRuneInString(text[end:])
		lastRune, _ := utf8.DecodeLastRuneInString(last)
		if lastRune < utf8.RuneSelf && !unicode.IsSpace(next) {
			i = end
			continue
		}
		return end
	}
	return -1
}

func matchMark(text string, marks []string) string {
	for _, mark := range marks {
		if strings.HasPrefix(text, mark) {
			return mark
		}
	}
	return ""
}

// guarded reports whether the mark run text[i:end] sits inside a number or
// ends an abbreviation.
func guarded(text string, i, end int) bool {
	c := text[i]
	if c != '.' && c != ',' {
		return false
	}

	if end == i+1 && i > 0 && end < len(text) && isDigit(text[i-1]) && isDigit(text[end]) {
		return true
	}
	if c != '.' || i == 0 {
		return false
	}

	start := i
	for start > 0 && !unicode.IsSpace(rune(text[start-1])) {
		start--
	}
	word := text[start:i]
	if _, ok := abbreviations[strings.ToLower(word)]; ok {
		return true
	}
	return len(word) == 1 && word[0] >= 'A' && word[0] <= 'Z'
}

func isDigit(c byte) bool {
	return c >= '0' && c <= '9'
}

func sortLongestFirst(marks []string) {
	sort.SliceStable(marks, func(i, j int) bool { return len(marks[i]) > len(marks[j]) })
}
