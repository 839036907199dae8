// Package tokenizer provides exact BPE token counting with a heuristic
// fallback. Counting feeds the context compressor's budget math, so the
// fallback intentionally over-estimates rather than under-estimates.
package tokenizer

import (
	"math"
	"strings"
	"sync"
	"sync/atomic"

	"github.com/pkoukk/tiktoken-go"
)

const encodingName = "cl100k_base"

var (
	initOnce sync.Once
	encoder  *tiktoken.Tiktoken

	// disabled flips permanently once the encoder fails; every subsequent
	// count uses the heuristic for the rest of the process lifetime.
	disabled atomic.Bool
)

// Count returns the number of BPE tokens in text under the cl100k
// vocabulary. Empty input yields 0. If the encoder cannot be initialized
// or panics, the tokenizer disables itself and returns HeuristicCount.
func Count(text string) int {
	if text == "" {
		return 0
	}
	if disabled.Load() {
		return HeuristicCount(text)
	}

	initOnce.Do(func() {
		enc, err := tiktoken.GetEncoding(encodingName)
		if err != nil {
			disabled.Store(true)
			return
		}
		encoder = enc
	})
	if disabled.Load() || encoder == nil {
		disabled.Store(true)
		return HeuristicCount(text)
	}

	n, ok := safeEncode(text)
	if !ok {
		disabled.Store(true)
		return HeuristicCount(text)
	}
	return n
}

func safeEncode(text string) (n int, ok bool) {
	defer func() {
		if recover() != nil {
			n, ok = 0, false
		}
	}()
	return len(encoder.Encode(text, nil, nil)), true
}

// HeuristicCount approximates token count without a vocabulary: a base of
// ceil(len/4) characters per token, inflated 15% for symbol-dense text and
// a further 10% for JSON-shaped text, both of which tokenize worse than
// prose.
func HeuristicCount(text string) int {
	if text == "" {
		return 0
	}
	count := float64(len(text)) / 4.0

	var nonAlnum int
	for _, r := range text {
		if !isAlnum(r) {
			nonAlnum++
		}
	}
	if runes := len([]rune(text)); runes > 0 && float64(nonAlnum)/float64(runes) > 0.2 {
		count *= 1.15
	}
	if looksLikeJSON(text) {
		count *= 1.1
	}
	return int(math.Ceil(count))
}

func isAlnum(r rune) bool {
	return r == ' ' ||
		(r >= 'a' && r <= 'z') ||
		(r >= 'A' && r <= 'Z') ||
		(r >= '0' && r <= '9')
}

func looksLikeJSON(text string) bool {
	trimmed := strings.TrimSpace(text)
	if trimmed == "" {
		return false
	}
	if trimmed[0] != '{' && trimmed[0] != '[' {
		return false
	}
	return strings.Contains(trimmed, `":`)
}
