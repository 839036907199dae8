package llm

import (
	"strings"

	"github.com/conductorhq/conductor/pkg/models"
)

// Events is the sink for stream deltas. All callbacks are optional. The
// parser invokes them from the goroutine driving the stream; the processor
// wires OnToolCallReady into the speculative executor.
type Events struct {
	OnText          func(delta string)
	OnToolCallStart func(index int, id, name string)
	OnToolCallReady func(call models.ToolCall)
	OnFinish        func(reason string)
	OnUsage         func(u Usage)
}

// StreamParser assembles delta events into a Response, firing
// OnToolCallReady as soon as one tool call's arguments are complete: when
// the provider moves to a later tool-call index, or at stream finish.
type StreamParser struct {
	events Events

	text    strings.Builder
	order   []int
	calls   map[int]*callBuffer
	ready   map[int]bool
	current int
	usage   Usage
	finish  string
}

type callBuffer struct {
	id   string
	name string
	args strings.Builder
}

// NewStreamParser creates a parser over the event sink.
func NewStreamParser(events Events) *StreamParser {
	return &StreamParser{
		events:  events,
		calls:   make(map[int]*callBuffer),
		ready:   make(map[int]bool),
		current: -1,
	}
}

// Text appends a content delta.
func (p *StreamParser) Text(delta string) {
	if delta == "" {
		return
	}
	p.text.WriteString(delta)
	if p.events.OnText != nil {
		p.events.OnText(delta)
	}
}

// ToolCallDelta appends a tool-call fragment at the given index. Providers
// stream one call at a time; advancing to a new index completes the
// previous one.
func (p *StreamParser) ToolCallDelta(index int, id, name, argsDelta string) {
	buf, ok := p.calls[index]
	if !ok {
		buf = &callBuffer{}
		p.calls[index] = buf
		p.order = append(p.order, index)
		if p.current >= 0 && p.current != index {
			p.markReady(p.current)
		}
		p.current = index
		if p.events.OnToolCallStart != nil {
			p.events.OnToolCallStart(index, id, name)
		}
	}
	if id != "" {
		buf.id = id
	}
	if name != "" {
		buf.name = name
	}
	buf.args.WriteString(argsDelta)
}

// Usage records the final usage counters.
func (p *StreamParser) Usage(u Usage) {
	p.usage = u
	if p.events.OnUsage != nil {
		p.events.OnUsage(u)
	}
}

// Finish marks the stream complete, flushing any pending tool calls.
func (p *StreamParser) Finish(reason string) {
	for _, idx := range p.order {
		p.markReady(idx)
	}
	p.finish = reason
	if p.events.OnFinish != nil {
		p.events.OnFinish(reason)
	}
}

func (p *StreamParser) markReady(index int) {
	if p.ready[index] {
		return
	}
	p.ready[index] = true
	if p.events.OnToolCallReady != nil {
		p.events.OnToolCallReady(p.call(index))
	}
}

func (p *StreamParser) call(index int) models.ToolCall {
	buf := p.calls[index]
	args := buf.args.String()
	if args == "" {
		args = "{}"
	}
	return models.ToolCall{ID: buf.id, Name: buf.name, Arguments: args}
}

// Response returns the assembled terminal response.
func (p *StreamParser) Response() *Response {
	resp := &Response{
		Content:      p.text.String(),
		FinishReason: p.finish,
		Usage:        p.usage,
	}
	for _, idx := range p.order {
		resp.ToolCalls = append(resp.ToolCalls, p.call(idx))
	}
	return resp
}
