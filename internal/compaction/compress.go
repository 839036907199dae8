package compaction

import (
	"sort"

	"github.com/conductorhq/conductor/pkg/models"
)

const (
	// DefaultMinTail is the number of trailing messages always retained.
	DefaultMinTail = 6

	// summaryReserveTokens is held back from the fill budget for the
	// synthetic summary message.
	summaryReserveTokens = 100
)

// pairing records the bidirectional association between assistant messages
// carrying tool calls and the tool-result messages they spawned.
type pairing struct {
	// assistantFor maps a tool-result index to its assistant index.
	assistantFor map[int]int

	// resultsFor maps an assistant index to its tool-result indices.
	resultsFor map[int][]int
}

func buildPairing(ms []models.Message) pairing {
	p := pairing{
		assistantFor: make(map[int]int),
		resultsFor:   make(map[int][]int),
	}

	// Index assistant tool-call ids as they appear so each tool result
	// binds to the latest assistant that issued its id.
	callOwner := make(map[string]int)
	lastAssistant := -1

	for i, m := range ms {
		switch {
		case m.HasToolCalls():
			lastAssistant = i
			for _, tc := range m.ToolCalls {
				if tc.ID != "" {
					callOwner[tc.ID] = i
				}
			}
		case m.Role == models.RoleTool:
			owner := -1
			if m.ToolCallID != "" {
				if idx, ok := callOwner[m.ToolCallID]; ok {
					owner = idx
				}
			} else if lastAssistant >= 0 {
				owner = lastAssistant
			}
			if owner >= 0 {
				p.assistantFor[i] = owner
				p.resultsFor[owner] = append(p.resultsFor[owner], i)
			}
		}
	}
	return p
}

// score assigns the eviction priority of the message at index i. Higher
// scores survive longer. Recency is folded in via a 0-30 position bonus so
// fresh tool evidence outranks stale intermediate reasoning.
func score(ms []models.Message, i int) float64 {
	pos := 15.0
	if n := len(ms); n > 2 {
		pos = float64(i) / float64(n-1) * 30
	}

	m := ms[i]
	switch {
	case m.Role == models.RoleSystem && i == 0:
		return 100
	case m.Role == models.RoleUser && i == 1:
		return 90
	case m.Role == models.RoleTool:
		return 55 + pos
	case m.Role == models.RoleSystem:
		return 45 + pos
	case m.Role == models.RoleUser:
		return 40 + pos
	case m.HasToolCalls():
		return 35 + pos
	case m.Role == models.RoleAssistant:
		return 18 + pos
	default:
		return 25 + pos
	}
}

// Compress reduces ms to fit within budget tokens while preserving
// tool-call/result pairing, the system prompt, the original user turn, and
// a contiguous tail of at least minTail messages. The evicted middle is
// replaced by a single synthetic summary message when one can be built.
//
// The output is always a subsequence of ms, plus at most the summary.
func Compress(ms []models.Message, budget, minTail int) []models.Message {
	if minTail <= 0 {
		minTail = DefaultMinTail
	}
	if EstimateTokens(ms) <= budget {
		return ms
	}
	if len(ms) <= minTail+2 {
		return ms
	}

	pairs := buildPairing(ms)
	keep := alwaysKeep(ms, pairs, minTail)

	used := ReplyPrimingTokens
	for i := range keep {
		used += EstimateMessageTokens(ms[i])
	}

	// Already over budget with the irreducible set: return it bare.
	if used > budget {
		return collect(ms, keep, nil)
	}

	remaining := budget - used - summaryReserveTokens

	// Fill with the highest-priority evictable groups that still fit.
	type candidate struct {
		idx   int
		score float64
	}
	var cands []candidate
	for i := range ms {
		if _, ok := keep[i]; !ok {
			cands = append(cands, candidate{idx: i, score: score(ms, i)})
		}
	}
	sort.SliceStable(cands, func(a, b int) bool {
		if cands[a].score != cands[b].score {
			return cands[a].score > cands[b].score
		}
		return cands[a].idx > cands[b].idx
	})

	for _, c := range cands {
		if _, ok := keep[c.idx]; ok {
			continue
		}
		group := pairGroup(ms, pairs, c.idx, keep)
		cost := 0
		for _, gi := range group {
			cost += EstimateMessageTokens(ms[gi])
		}
		if cost > remaining {
			continue
		}
		for _, gi := range group {
			keep[gi] = struct{}{}
		}
		remaining -= cost
	}

	var evicted []int
	for i := range ms {
		if _, ok := keep[i]; !ok {
			evicted = append(evicted, i)
		}
	}

	summary := summarizeEvicted(ms, evicted)
	out := collect(ms, keep, summary)
	if summary != nil && EstimateTokens(out) > budget {
		out = collect(ms, keep, nil)
	}
	return out
}

// alwaysKeep returns the irreducible index set: the system prompt, the
// original user turn, the tail (walked back so it never opens on an
// orphaned tool result), and the transitive pairing partners of all of the
// above.
func alwaysKeep(ms []models.Message, pairs pairing, minTail int) map[int]struct{} {
	keep := make(map[int]struct{})
	keep[0] = struct{}{}
	if len(ms) > 1 {
		keep[1] = struct{}{}
	}

	tailStart := len(ms) - minTail
	if tailStart < 0 {
		tailStart = 0
	}
	for tailStart > 0 && ms[tailStart].Role == models.RoleTool {
		tailStart--
	}
	for i := tailStart; i < len(ms); i++ {
		keep[i] = struct{}{}
	}

	// Close over pairing partners until stable.
	for changed := true; changed; {
		changed = false
		for i := range keep {
			if owner, ok := pairs.assistantFor[i]; ok {
				if _, have := keep[owner]; !have {
					keep[owner] = struct{}{}
					changed = true
				}
			}
			for _, r := range pairs.resultsFor[i] {
				if _, have := keep[r]; !have {
					keep[r] = struct{}{}
					changed = true
				}
			}
		}
	}
	return keep
}

// pairGroup returns idx plus its not-yet-kept pairing partners, so a
// candidate is only ever admitted together with the messages that keep its
// tool exchange coherent.
func pairGroup(ms []models.Message, pairs pairing, idx int, keep map[int]struct{}) []int {
	group := []int{idx}
	seen := map[int]struct{}{idx: {}}

	add := func(i int) {
		if _, dup := seen[i]; dup {
			return
		}
		if _, kept := keep[i]; kept {
			return
		}
		seen[i] = struct{}{}
		group = append(group, i)
	}

	for cursor := 0; cursor < len(group); cursor++ {
		i := group[cursor]
		if owner, ok := pairs.assistantFor[i]; ok {
			add(owner)
		}
		for _, r := range pairs.resultsFor[i] {
			add(r)
		}
	}
	sort.Ints(group)
	return group
}

// collect assembles the output in original order: index 0, index 1, the
// summary (when present), then all remaining kept indices ascending.
func collect(ms []models.Message, keep map[int]struct{}, summary *models.Message) []models.Message {
	out := make([]models.Message, 0, len(keep)+1)
	if _, ok := keep[0]; ok {
		out = append(out, ms[0])
	}
	if len(ms) > 1 {
		if _, ok := keep[1]; ok {
			out = append(out, ms[1])
		}
	}
	if summary != nil {
		out = append(out, *summary)
	}

	idxs := make([]int, 0, len(keep))
	for i := range keep {
		if i > 1 {
			idxs = append(idxs, i)
		}
	}
	sort.Ints(idxs)
	for _, i := range idxs {
		out = append(out, ms[i])
	}
	return out
}
