package compaction

import (
	"fmt"
	"strings"
	"testing"

	"github.com/conductorhq/conductor/pkg/models"
)

// buildConversation produces a system + user head followed by n rounds of
// assistant-tool-call / tool-result / assistant-text exchanges.
func buildConversation(rounds int, filler string) []models.Message {
	ms := []models.Message{
		models.Text(models.RoleSystem, "You are a task orchestrator."),
		models.Text(models.RoleUser, "Summarize the repository and fix the bug in main.go."),
	}
	for i := 0; i < rounds; i++ {
		id := fmt.Sprintf("call_%d", i)
		ms = append(ms,
			models.AssistantToolCalls("", []models.ToolCall{
				{ID: id, Name: "github_read_file", Arguments: fmt.Sprintf(`{"path":"src/file%d.go"}`, i)},
			}),
			models.ToolResult(id, filler),
			models.Text(models.RoleAssistant, "Observed: "+filler),
		)
	}
	return ms
}

func assertPairingIntact(t *testing.T, out []models.Message) {
	t.Helper()
	calls := make(map[string]bool)
	for _, m := range out {
		for _, tc := range m.ToolCalls {
			calls[tc.ID] = true
		}
	}
	for _, m := range out {
		if m.Role == models.RoleTool && m.ToolCallID != "" && !calls[m.ToolCallID] {
			t.Errorf("tool result %q kept without its assistant call", m.ToolCallID)
		}
	}
}

func assertSubsequence(t *testing.T, in, out []models.Message) {
	t.Helper()
	synthetic := 0
	cursor := 0
	for _, m := range out {
		if m.Content != nil && strings.HasPrefix(*m.Content, "[Context summary:") {
			synthetic++
			continue
		}
		found := false
		for cursor < len(in) {
			if sameMessage(in[cursor], m) {
				found = true
				cursor++
				break
			}
			cursor++
		}
		if !found {
			t.Fatalf("output message not found in order in input: %+v", m)
		}
	}
	if synthetic > 1 {
		t.Errorf("output has %d synthetic summaries, want at most 1", synthetic)
	}
}

func sameMessage(a, b models.Message) bool {
	if a.Role != b.Role || a.ToolCallID != b.ToolCallID {
		return false
	}
	return a.TextContent() == b.TextContent() && len(a.ToolCalls) == len(b.ToolCalls)
}

func TestCompressUnderBudgetUnchanged(t *testing.T) {
	ms := buildConversation(2, "small result")
	budget := EstimateTokens(ms) + 10
	out := Compress(ms, budget, 6)
	if len(out) != len(ms) {
		t.Fatalf("under-budget input changed: %d -> %d messages", len(ms), len(out))
	}
}

func TestCompressShortConversationUnchanged(t *testing.T) {
	ms := buildConversation(2, "x") // 8 messages, minTail+2 = 8
	out := Compress(ms, 1, 6)
	if len(out) != len(ms) {
		t.Fatalf("short conversation changed: %d -> %d messages", len(ms), len(out))
	}
}

func TestCompressEmpty(t *testing.T) {
	if out := Compress(nil, 100, 6); len(out) != 0 {
		t.Fatalf("Compress(nil) returned %d messages", len(out))
	}
}

func TestCompressSingleMessage(t *testing.T) {
	ms := []models.Message{models.Text(models.RoleSystem, "sys")}
	out := Compress(ms, 1, 6)
	if len(out) != 1 {
		t.Fatalf("single message conversation changed: %d messages", len(out))
	}
}

func TestCompressPreservesHeadAndTail(t *testing.T) {
	filler := strings.Repeat("tool output data ", 50)
	ms := buildConversation(12, filler)
	budget := EstimateTokens(ms) / 3
	out := Compress(ms, budget, 6)

	if len(out) < 2 {
		t.Fatalf("output too short: %d", len(out))
	}
	if out[0].Role != models.RoleSystem || out[0].TextContent() != ms[0].TextContent() {
		t.Error("system message at index 0 not preserved")
	}
	if out[1].Role != models.RoleUser || out[1].TextContent() != ms[1].TextContent() {
		t.Error("original user message at index 1 not preserved")
	}

	// The last minTail input messages must all be present.
	tail := ms[len(ms)-6:]
	for _, want := range tail {
		found := false
		for _, got := range out {
			if sameMessage(want, got) {
				found = true
				break
			}
		}
		if !found {
			t.Errorf("tail message missing from output: role=%s", want.Role)
		}
	}

	assertPairingIntact(t, out)
	assertSubsequence(t, ms, out)

	if len(out) > len(ms)+1 {
		t.Errorf("output length %d exceeds input+1 (%d)", len(out), len(ms)+1)
	}
}

func TestCompressEvictsAndSummarizes(t *testing.T) {
	filler := strings.Repeat("lorem ipsum dolor sit amet ", 60)
	ms := buildConversation(15, filler)
	budget := EstimateTokens(ms) / 4
	out := Compress(ms, budget, 6)

	if len(out) >= len(ms) {
		t.Fatalf("nothing evicted: %d -> %d", len(ms), len(out))
	}

	var summary *models.Message
	for i := range out {
		if c := out[i].TextContent(); strings.HasPrefix(c, "[Context summary:") {
			summary = &out[i]
			break
		}
	}
	if summary == nil {
		t.Fatal("expected a synthetic summary message")
	}
	if summary.Role != models.RoleAssistant {
		t.Errorf("summary role = %s, want assistant", summary.Role)
	}
	if !strings.Contains(summary.TextContent(), "github_read_file") {
		t.Errorf("summary does not mention evicted tool: %s", summary.TextContent())
	}
	// Summary sits at position 2, right after the preserved head.
	if out[2].TextContent() != summary.TextContent() {
		t.Errorf("summary not at position 2")
	}
	assertPairingIntact(t, out)
}

func TestCompressDegradesToAlwaysKeep(t *testing.T) {
	// Budget far below even the irreducible set: the result is head+tail
	// only, with no summary.
	filler := strings.Repeat("huge block ", 200)
	ms := buildConversation(10, filler)
	out := Compress(ms, 50, 6)

	for _, m := range out {
		if strings.HasPrefix(m.TextContent(), "[Context summary:") {
			t.Error("over-budget degradation must not include a summary")
		}
	}
	if out[0].Role != models.RoleSystem {
		t.Error("degraded output lost system head")
	}
	assertPairingIntact(t, out)
	assertSubsequence(t, ms, out)
}

func TestCompressOrphanToolResultExcluded(t *testing.T) {
	// A tool result with no matching assistant call anywhere: never kept
	// as a pairing partner, only as part of the tail or budget fill.
	ms := []models.Message{
		models.Text(models.RoleSystem, "sys"),
		models.Text(models.RoleUser, "do work"),
		models.ToolResult("orphan_1", strings.Repeat("orphan data ", 100)),
	}
	for i := 0; i < 10; i++ {
		ms = append(ms, models.Text(models.RoleAssistant, strings.Repeat("filler text ", 80)))
	}
	out := Compress(ms, EstimateTokens(ms)/3, 6)
	assertPairingIntact(t, out)
}

func TestCompressDuplicateToolCallIDs(t *testing.T) {
	// Two assistants reuse the same call id; the latest owns the result.
	dup := "call_dup"
	ms := []models.Message{
		models.Text(models.RoleSystem, "sys"),
		models.Text(models.RoleUser, "go"),
		models.AssistantToolCalls("", []models.ToolCall{{ID: dup, Name: "fetch_url", Arguments: `{}`}}),
		models.ToolResult(dup, "first"),
		models.AssistantToolCalls("", []models.ToolCall{{ID: dup, Name: "fetch_url", Arguments: `{}`}}),
		models.ToolResult(dup, "second"),
	}
	for i := 0; i < 8; i++ {
		ms = append(ms, models.Text(models.RoleAssistant, strings.Repeat("padding ", 120)))
	}
	out := Compress(ms, EstimateTokens(ms)/3, 6)
	assertPairingIntact(t, out)
}

func TestCompressDeterministic(t *testing.T) {
	filler := strings.Repeat("deterministic content ", 40)
	ms := buildConversation(10, filler)
	budget := EstimateTokens(ms) / 3

	first := Compress(ms, budget, 6)
	for i := 0; i < 5; i++ {
		again := Compress(ms, budget, 6)
		if len(again) != len(first) {
			t.Fatalf("run %d: length %d != %d", i, len(again), len(first))
		}
		for j := range again {
			if !sameMessage(again[j], first[j]) {
				t.Fatalf("run %d: message %d differs", i, j)
			}
		}
	}
}
