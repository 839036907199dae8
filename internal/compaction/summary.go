package compaction

import (
	"fmt"
	"strings"

	"github.com/conductorhq/conductor/internal/textscan"
	"github.com/conductorhq/conductor/pkg/models"
)

const (
	maxSummaryFiles    = 8
	maxSummarySnippets = 3
	snippetLength      = 80
)

// summarizeEvicted folds the evicted messages into one synthetic assistant
// message: tool names with repetition counts, the number of tool results
// processed, up to eight referenced file paths, and up to three response
// snippets. Returns nil when nothing was evicted.
func summarizeEvicted(ms []models.Message, evicted []int) *models.Message {
	if len(evicted) == 0 {
		return nil
	}

	toolCounts := make(map[string]int)
	var toolOrder []string
	toolResults := 0
	fileSeen := make(map[string]struct{})
	var files []string
	var snippets []string

	for _, i := range evicted {
		m := ms[i]
		for _, tc := range m.ToolCalls {
			if _, ok := toolCounts[tc.Name]; !ok {
				toolOrder = append(toolOrder, tc.Name)
			}
			toolCounts[tc.Name]++
		}
		if m.Role == models.RoleTool {
			toolResults++
		}

		text := m.TextContent()
		if text == "" {
			continue
		}
		for _, f := range textscan.FilePaths(text) {
			if len(files) >= maxSummaryFiles {
				break
			}
			if _, ok := fileSeen[f]; ok {
				continue
			}
			fileSeen[f] = struct{}{}
			files = append(files, f)
		}
		if m.Role == models.RoleAssistant && len(snippets) < maxSummarySnippets {
			snippets = append(snippets, snippet(text))
		}
	}

	var parts []string
	if len(toolOrder) > 0 {
		entries := make([]string, 0, len(toolOrder))
		for _, name := range toolOrder {
			if n := toolCounts[name]; n > 1 {
				entries = append(entries, fmt.Sprintf("%s(×%d)", name, n))
			} else {
				entries = append(entries, name)
			}
		}
		parts = append(parts, "tools used: "+strings.Join(entries, ", "))
	}
	if toolResults > 0 {
		parts = append(parts, fmt.Sprintf("%d tool results processed", toolResults))
	}
	if len(files) > 0 {
		parts = append(parts, "files: "+strings.Join(files, ", "))
	}
	if len(snippets) > 0 {
		parts = append(parts, "notes: "+strings.Join(snippets, " | "))
	}
	if len(parts) == 0 {
		parts = append(parts, fmt.Sprintf("%d earlier messages summarized", len(evicted)))
	}

	// The compressor reserves summaryReserveTokens for this message; shed
	// the least valuable sections until it fits.
	build := func(ps []string) models.Message {
		return models.Text(models.RoleAssistant, "[Context summary: "+strings.Join(ps, "; ")+"]")
	}
	msg := build(parts)
	for len(parts) > 1 && EstimateMessageTokens(msg) > summaryReserveTokens {
		parts = parts[:len(parts)-1]
		msg = build(parts)
	}
	if EstimateMessageTokens(msg) > summaryReserveTokens {
		msg = build([]string{fmt.Sprintf("%d earlier messages summarized", len(evicted))})
	}
	return &msg
}

func snippet(text string) string {
	text = strings.Join(strings.Fields(text), " ")
	if len(text) <= snippetLength {
		return text
	}
	return text[:snippetLength] + "…"
}
