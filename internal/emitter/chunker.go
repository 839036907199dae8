package emitter

import (
	"strings"
	"unicode"
)

// Chunker splits long messages into front-end-appropriate sizes, breaking
// on paragraph boundaries, sentences, and words while keeping markdown
// code blocks intact where possible.
type Chunker struct {
	// MaxSize is the maximum chunk size in characters.
	MaxSize int
}

// NewChunker creates a chunker with the given max size.
func NewChunker(maxSize int) *Chunker {
	if maxSize <= 0 {
		maxSize = MaxMessageLength
	}
	return &Chunker{MaxSize: maxSize}
}

// Chunk splits text into pieces that fit within MaxSize. Break points are
// tried in order: paragraph breaks, single newlines, sentence endings,
// word boundaries, then a hard break at MaxSize.
func (c *Chunker) Chunk(text string) []string {
	if text == "" {
		return nil
	}
	if len(text) <= c.MaxSize {
		return []string{text}
	}

	var chunks []string
	remaining := text

	for len(remaining) > c.MaxSize {
		breakIdx := c.findBreakPoint(remaining)
		if breakIdx <= 0 {
			breakIdx = c.MaxSize
		}

		chunk := strings.TrimRightFunc(remaining[:breakIdx], unicode.IsSpace)
		if chunk != "" {
			chunks = append(chunks, chunk)
		}
		remaining = strings.TrimLeftFunc(remaining[breakIdx:], unicode.IsSpace)
	}

	if remaining = strings.TrimSpace(remaining); remaining != "" {
		chunks = append(chunks, remaining)
	}
	return chunks
}

func (c *Chunker) findBreakPoint(text string) int {
	if len(text) <= c.MaxSize {
		return len(text)
	}

	window := text[:c.MaxSize]
	inCodeBlock, codeBlockStart := codeBlockState(window)

	if idx := c.lastIndexOf(window, "\n\n", inCodeBlock, codeBlockStart); idx > 0 {
		return idx + 1
	}
	if idx := c.lastIndexOf(window, "\n", inCodeBlock, codeBlockStart); idx > 0 {
		return idx + 1
	}
	for _, ending := range []string{". ", "! ", "? ", ".\n", "!\n", "?\n"} {
		if idx := strings.LastIndex(window, ending); idx > 0 {
			if !inCodeBlock || idx < codeBlockStart {
				return idx + 1
			}
		}
	}
	if idx := strings.LastIndexFunc(window, unicode.IsSpace); idx > 0 {
		return idx
	}
	return c.MaxSize
}

// lastIndexOf finds the last occurrence of sep, preferring positions
// before an unterminated code block.
func (c *Chunker) lastIndexOf(text, sep string, inCodeBlock bool, codeBlockStart int) int {
	idx := strings.LastIndex(text, sep)
	if idx <= 0 {
		return -1
	}
	if inCodeBlock && idx >= codeBlockStart {
		if codeBlockStart > 0 {
			return strings.LastIndex(text[:codeBlockStart], sep)
		}
		return -1
	}
	return idx
}

// codeBlockState reports whether the end of text sits inside a fenced code
// block, and where that block starts.
func codeBlockState(text string) (bool, int) {
	var inBlock bool
	var blockStart int
	var i int

	for i < len(text) {
		if i+2 < len(text) {
			fence := text[i : i+3]
			if fence == "```" || fence == "~~~" {
				if !inBlock {
					inBlock = true
					blockStart = i
				} else if i == 0 || text[i-1] == '\n' {
					inBlock = false
				}
				for i < len(text) && text[i] != '\n' {
					i++
				}
				continue
			}
		}
		i++
	}
	return inBlock, blockStart
}
