// Package planner implements the structured planning phase: it prompts the
// model for a JSON plan, parses it leniently, resolves referenced files in
// parallel, and formats their contents as a ground-truth context block.
package planner

import (
	"encoding/json"
	"regexp"
	"strings"

	"github.com/kaptinlin/jsonrepair"

	"github.com/conductorhq/conductor/internal/textscan"
	"github.com/conductorhq/conductor/pkg/models"
)

// Prompt is appended to the system message for the planning-phase model
// call. The model must emit a single JSON code block and then proceed.
const Prompt = `[PLANNING PHASE]
Before doing anything else, output a single JSON code block describing your plan:

` + "```json" + `
{"steps": [{"action": "...", "files": ["path/to/file"], "description": "..."}]}
` + "```" + `

Use 3-8 steps. List every file you expect to read in the "files" arrays.
After the code block, proceed immediately to execution without waiting.`

var (
	fencedBlockRe = regexp.MustCompile("(?s)```(?:[a-zA-Z0-9]*\\n)?(.*?)```")
	stepsStartRe  = regexp.MustCompile(`\{\s*"steps"\s*:\s*\[`)
)

// Parse extracts a structured plan from free-form model output. The
// cascade mirrors what models actually emit: a fenced JSON block, then a
// bare {"steps": …} object, then file-path mentions synthesized into a
// one-step plan. Returns nil when nothing usable is found.
func Parse(text string) *models.Plan {
	if strings.TrimSpace(text) == "" {
		return nil
	}

	if m := fencedBlockRe.FindStringSubmatch(text); m != nil {
		if plan := decodePlan(m[1]); plan != nil {
			return plan
		}
	}

	if loc := stepsStartRe.FindStringIndex(text); loc != nil {
		if raw := balancedObject(text[loc[0]:]); raw != "" {
			if plan := decodePlan(raw); plan != nil {
				return plan
			}
		}
	}

	if files := textscan.FilePaths(text); len(files) > 0 {
		return &models.Plan{Steps: []models.PlanStep{{
			Action:      "investigate",
			Files:       files,
			Description: "Work through the files referenced in the response",
		}}}
	}
	return nil
}

// decodePlan parses a candidate JSON document, repairing malformed output
// before giving up, and normalizes the result.
func decodePlan(raw string) *models.Plan {
	raw = strings.TrimSpace(raw)
	if raw == "" {
		return nil
	}

	var doc struct {
		Steps []map[string]any `json:"steps"`
	}
	if err := json.Unmarshal([]byte(raw), &doc); err != nil {
		repaired, repairErr := jsonrepair.JSONRepair(raw)
		if repairErr != nil {
			return nil
		}
		if err := json.Unmarshal([]byte(repaired), &doc); err != nil {
			return nil
		}
	}
	if len(doc.Steps) == 0 {
		return nil
	}

	plan := &models.Plan{}
	for _, rawStep := range doc.Steps {
		step := normalizeStep(rawStep)
		if step.Description == "" && len(step.Files) == 0 {
			continue
		}
		plan.Steps = append(plan.Steps, step)
	}
	if len(plan.Steps) == 0 {
		return nil
	}
	return plan
}

func normalizeStep(raw map[string]any) models.PlanStep {
	step := models.PlanStep{Action: "unknown"}

	if v, ok := raw["action"].(string); ok {
		if trimmed := strings.TrimSpace(v); trimmed != "" {
			step.Action = trimmed
		}
	}
	if v, ok := raw["description"].(string); ok {
		step.Description = strings.TrimSpace(v)
	}
	if files, ok := raw["files"].([]any); ok {
		for _, f := range files {
			s, ok := f.(string)
			if !ok {
				continue
			}
			if trimmed := strings.TrimSpace(s); trimmed != "" {
				step.Files = append(step.Files, trimmed)
			}
		}
	}
	return step
}

// balancedObject returns the prefix of s forming one balanced JSON object,
// respecting strings and escapes.
func balancedObject(s string) string {
	depth := 0
	inString := false
	escaped := false
	for i, r := range s {
		if escaped {
			escaped = false
			continue
		}
		switch r {
		case '\\':
			if inString {
				escaped = true
			}
		case '"':
			inString = !inString
		case '{':
			if !inString {
				depth++
			}
		case '}':
			if !inString {
				depth--
				if depth == 0 {
					return s[:i+1]
				}
			}
		}
	}
	return ""
}

// UniqueFiles returns the deduplicated file references across all steps,
// in first-mention order.
func UniqueFiles(plan *models.Plan) []string {
	if plan == nil {
		return nil
	}
	seen := make(map[string]struct{})
	var out []string
	for _, step := range plan.Steps {
		for _, f := range step.Files {
			if _, ok := seen[f]; ok {
				continue
			}
			seen[f] = struct{}{}
			out = append(out, f)
		}
	}
	return out
}

// RepoContext scans the system and user messages for an OWNER/REPO
// reference, in message order.
func RepoContext(ms []models.Message) string {
	for _, m := range ms {
		if m.Role != models.RoleSystem && m.Role != models.RoleUser {
			continue
		}
		if repo := textscan.RepoContext(m.TextContent()); repo != "" {
			return repo
		}
	}
	return ""
}
