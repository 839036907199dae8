// Package compaction keeps conversation history inside a model's context
// window. It provides per-message token accounting and a priority-scored
// compressor that evicts low-value middle history while preserving
// tool-call/result pairing.
package compaction

import (
	"github.com/conductorhq/conductor/internal/tokenizer"
	"github.com/conductorhq/conductor/pkg/models"
)

// Accounting constants. These are floors, not estimates: the compressor
// must never charge less than the wire framing actually costs.
const (
	// MessageOverheadTokens is the per-message framing overhead.
	MessageOverheadTokens = 4

	// ToolCallOverheadTokens is the envelope cost per tool call on top of
	// its name and argument tokens.
	ToolCallOverheadTokens = 12

	// ImagePartTokens is the flat charge per image part.
	ImagePartTokens = 425

	// ReplyPrimingTokens is the per-request overhead for priming the
	// assistant reply.
	ReplyPrimingTokens = 3
)

// EstimateMessageTokens returns the token cost of a single message:
// framing overhead plus content, tool-call envelopes, image parts, and any
// hidden reasoning payload.
func EstimateMessageTokens(m models.Message) int {
	n := MessageOverheadTokens

	if len(m.Parts) > 0 {
		for _, p := range m.Parts {
			if p.Type == models.PartImage {
				n += ImagePartTokens
			} else {
				n += tokenizer.Count(p.Text)
			}
		}
	} else if m.Content != nil {
		n += tokenizer.Count(*m.Content)
	}

	for _, tc := range m.ToolCalls {
		n += ToolCallOverheadTokens + tokenizer.Count(tc.Name) + tokenizer.Count(tc.Arguments)
	}

	if m.Reasoning != "" {
		n += tokenizer.Count(m.Reasoning)
	}

	return n
}

// EstimateTokens returns the token cost of a full request: the sum of
// per-message costs plus the reply priming overhead.
func EstimateTokens(ms []models.Message) int {
	total := ReplyPrimingTokens
	for _, m := range ms {
		total += EstimateMessageTokens(m)
	}
	return total
}
