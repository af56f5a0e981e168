// Package input models one multimodal user turn and flattens it into the
// text the model and the retriever see.
package input

import (
	"errors"
	"fmt"
	"strings"
)

// ErrUnknownSource is returned when a turn carries a text or image source
// the formatter has no wording for.
var ErrUnknownSource = errors.New("unknown input source")

type TextSource string

const (
	TextSourceInput     TextSource = "input"
	TextSourceClipboard TextSource = "clipboard"
)

type ImageSource string

const (
	ImageSourceCamera    ImageSource = "camera"
	ImageSourceScreen    ImageSource = "screen"
	ImageSourceClipboard ImageSource = "clipboard"
	ImageSourceUpload    ImageSource = "upload"
)

const imagesHeader = "\nImages in this message:"

var imageDescriptions = map[ImageSource]string{
	ImageSourceCamera:    "captured from camera",
	ImageSourceScreen:    "screenshot",
	ImageSourceClipboard: "from clipboard",
	ImageSourceUpload:    "uploaded",
}

type TextInput struct {
	Source  TextSource `json:"source"`
	Content string     `json:"content"`
}

// ImageInput references an image by URL, data URI or handle.
type ImageInput struct {
	Source    ImageSource `json:"source"`
	Reference string      `json:"reference"`
}

// BatchInput is one user turn. Treat it as immutable once built.
type BatchInput struct {
	Texts  []TextInput  `json:"texts"`
	Images []ImageInput `json:"images,omitempty"`
}

// Text builds a turn holding a single typed message.
func Text(content string) BatchInput {
	return BatchInput{Texts: []TextInput{{Source: TextSourceInput, Content: content}}}
}

// HasImages reports whether the turn carries any image.
func (b BatchInput) HasImages() bool {
	return len(b.Images) > 0
}

// ImageReferences returns the image references in input order.
func (b BatchInput) ImageReferences() []string {
	if len(b.Images) == 0 {
		return nil
	}

	refs := make([]string, 0, len(b.Images))
	for _, image := range b.Images {
		refs = append(refs, image.Reference)
	}
	return refs
}

// FormatPrompt flattens a turn into the prompt text. Texts keep their order,
// clipboard text is wrapped, and images are listed under a header.
func FormatPrompt(b BatchInput) (string, error) {
	parts := make([]string, 0, len(b.Texts)+len(b.Images)+1)

	for _, text := range b.Texts {
		switch text.Source {
		case TextSourceInput:
			parts = append(parts, text.Content)
		case TextSourceClipboard:
			parts = append(parts, "[Clipboard content: "+text.Content+"]")
		default:
			return "", fmt.Errorf("%w: text source %q", ErrUnknownSource, text.Source)
		}
	}

	if len(b.Images) > 0 {
		parts = append(parts, imagesHeader)
		for i, image := range b.Images {
			description, ok := imageDescriptions[image.Source]
			if !ok {
				return "", fmt.Errorf("%w: image source %q", ErrUnknownSource, image.Source)
			}
			parts = append(parts, fmt.Sprintf("- Image %d (%s)", i+1, description))
		}
	}

	return strings.Join(parts, "\n"), nil
}
