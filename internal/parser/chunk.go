package parser

import (
	"fmt"
	"strings"
	"unicode/utf8"

	"github.com/tmc/langchaingo/textsplitter"
)

// Span is one chunk of text and the rune offset where it starts in the
// document, or -1 when the splitter rewrote the text and it cannot be located.
type Span struct {
	Text   string
	Offset int
}

// Splitter turns a document's text into ordered chunks.
type Splitter interface {
	Split(content string) ([]Span, error)
}

// NewSplitter returns the named splitter: "window" or "recursive".
func NewSplitter(kind string, chunkSize, chunkOverlap int) (Splitter, error) {
	if chunkSize <= 0 {
		return nil, fmt.Errorf("chunk size must be positive, got %d", chunkSize)
	}
	if chunkOverlap < 0 || chunkOverlap >= chunkSize {
		return nil, fmt.Errorf("chunk overlap %d must be in [0, %d)", chunkOverlap, chunkSize)
	}
	switch kind {
	case "", "window":
		return WindowSplitter{Size: chunkSize, Overlap: chunkOverlap}, nil
	case "recursive":
		return recursiveSplitter{
			inner: textsplitter.NewRecursiveCharacter(
				textsplitter.WithChunkSize(chunkSize),
				textsplitter.WithChunkOverlap(chunkOverlap),
				textsplitter.WithLenFunc(utf8.RuneCountInString),
			),
		}, nil
	default:
		return nil, fmt.Errorf("unknown splitter: %s", kind)
	}
}

// WindowSplitter is a fixed-size sliding window measured in runes. Chunk i
// starts at i*(Size-Overlap); adjacent chunks share exactly Overlap runes and
// only the final chunk may be shorter than Size.
type WindowSplitter struct {
	Size    int
	Overlap int
}

func (w WindowSplitter) Split(content string) ([]Span, error) {
	if w.Size <= 0 || w.Overlap < 0 || w.Overlap >= w.Size {
		return nil, fmt.Errorf("invalid window: size %d overlap %d", w.Size, w.Overlap)
	}
	if strings.TrimSpace(content) == "" {
		return nil, nil
	}

	runes := []rune(content)
	step := w.Size - w.Overlap
	var spans []Span
	for start := 0; ; start += step {
		end := min(start+w.Size, len(runes))
		spans = append(spans, Span{Text: string(runes[start:end]), Offset: start})
		if end == len(runes) {
			break
		}
	}
	return spans, nil
}

type recursiveSplitter struct {
	inner textsplitter.RecursiveCharacter
}

func (r recursiveSplitter) Split(content string) ([]Span, error) {
	if strings.TrimSpace(content) == "" {
		return nil, nil
	}
	chunks, err := r.inner.SplitText(content)
	if err != nil {
		return nil, err
	}

	spans := make([]Span, 0, len(chunks))
	cursor := 0 // byte offset where the search for the next chunk begins
	for _, chunk := range chunks {
		offset := -1
		if idx := strings.Index(content[cursor:], chunk); idx >= 0 {
			at := cursor + idx
			offset = utf8.RuneCountInString(content[:at])
			cursor = at + 1
			for cursor < len(content) && !utf8.RuneStart(content[cursor]) {
				cursor++
			}
		}
		spans = append(spans, Span{Text: chunk, Offset: offset})
	}
	return spans, nil
}
