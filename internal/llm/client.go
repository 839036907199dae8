// Package llm defines the model-client contract the task processor calls,
// a push-based stream parser that surfaces completed tool calls mid-stream,
// an OpenAI-compatible client implementation, and provider error
// classification for the rotation and recovery paths.
package llm

import (
	"context"
	"encoding/json"

	"github.com/conductorhq/conductor/pkg/models"
)

// ToolDef describes one tool offered to the model.
type ToolDef struct {
	Name        string
	Description string
	Schema      json.RawMessage
}

// Options shape a single model call.
type Options struct {
	MaxTokens      int
	Temperature    float32
	Tools          []ToolDef
	ToolChoice     string
	ReasoningLevel string
	ResponseFormat string
}

// Usage carries the provider's token accounting for one call.
type Usage struct {
	PromptTokens     int
	CompletionTokens int
	TotalTokens      int
}

// Response is the terminal result of one model call, streaming or not.
type Response struct {
	Content      string
	ToolCalls    []models.ToolCall
	FinishReason string
	Usage        Usage
}

// Empty reports whether the model produced neither content nor tool calls.
func (r *Response) Empty() bool {
	return r == nil || (r.Content == "" && len(r.ToolCalls) == 0)
}

// Client is the model-call contract. Complete performs a blocking call;
// Stream drives the event sink as deltas arrive and returns the assembled
// response. Implementations that cannot stream may implement Stream as
// Complete followed by synthetic events.
type Client interface {
	Complete(ctx context.Context, model string, ms []models.Message, opts Options) (*Response, error)
	Stream(ctx context.Context, model string, ms []models.Message, opts Options, events Events) (*Response, error)
}

// ModelInfo is the catalog entry for one model alias.
type ModelInfo struct {
	Alias                 string  `yaml:"alias"`
	ID                    string  `yaml:"id"`
	MaxContext            int     `yaml:"max_context"`
	MaxTokens             int     `yaml:"max_tokens"`
	SupportsTools         bool    `yaml:"supports_tools"`
	SupportsParallelTools bool    `yaml:"supports_parallel_tools"`
	SupportsStreaming     bool    `yaml:"supports_streaming"`
	IsFree                bool    `yaml:"is_free"`
	PromptPrice           float64 `yaml:"prompt_price"`
	CompletionPrice       float64 `yaml:"completion_price"`
}

// Catalog maps aliases to model metadata. It is injected, never global, so
// tests can substitute their own.
type Catalog struct {
	byAlias map[string]ModelInfo

	// freeToolModels is the rotation order for free models that support
	// tool calling.
	freeToolModels []string
}

// NewCatalog builds a catalog from entries; rotation order follows the
// slice order of free tool-capable models.
func NewCatalog(entries []ModelInfo) *Catalog {
	c := &Catalog{byAlias: make(map[string]ModelInfo, len(entries))}
	for _, e := range entries {
		c.byAlias[e.Alias] = e
		if e.IsFree && e.SupportsTools {
			c.freeToolModels = append(c.freeToolModels, e.Alias)
		}
	}
	return c
}

// Get returns the catalog entry for an alias.
func (c *Catalog) Get(alias string) (ModelInfo, bool) {
	info, ok := c.byAlias[alias]
	return info, ok
}

// NextFreeModel returns the first free tool-capable model whose alias is
// not in tried. Used by empty-response recovery and sunset rotation.
func (c *Catalog) NextFreeModel(tried map[string]bool) (ModelInfo, bool) {
	for _, alias := range c.freeToolModels {
		if !tried[alias] {
			return c.byAlias[alias], true
		}
	}
	return ModelInfo{}, false
}
