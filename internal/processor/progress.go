package processor

import (
	"encoding/json"
	"fmt"
	"net/url"
	"strings"
	"sync"
	"time"

	"github.com/conductorhq/conductor/pkg/models"
)

// ProgressThrottleInterval is the minimum gap between status edits.
const ProgressThrottleInterval = 15 * time.Second

// maxToolContextChars caps the argument excerpt shown next to a tool verb.
const maxToolContextChars = 40

// ProgressInput is the snapshot the formatter renders.
type ProgressInput struct {
	Phase                   models.TaskPhase
	Iterations              int
	ToolsUsed               int
	StartTime               time.Time
	CurrentTool             string
	CurrentToolArgs         string
	Plan                    *models.Plan
	WorkPhaseStartIteration int
	Verifying               bool
}

// toolVerbs maps tool ids to human verb phrases. Tools not listed fall
// back to underscores-to-spaces.
var toolVerbs = map[string]string{
	"github_read_file":  "Reading",
	"github_list_files": "Listing files",
	"github_create_pr":  "Opening PR",
	"fetch_url":         "Fetching",
	"web_search":        "Searching",
	"run_command":       "Running",
	"get_weather":       "Checking weather",
	"get_news":          "Reading news",
	"render_chart":      "Drawing chart",
}

var phaseEmoji = map[models.TaskPhase]string{
	models.PhasePlan:   "📝",
	models.PhaseWork:   "🔧",
	models.PhaseReview: "🔍",
}

var phaseLabel = map[models.TaskPhase]string{
	models.PhasePlan:   "Planning",
	models.PhaseWork:   "Working",
	models.PhaseReview: "Reviewing",
}

// FormatStatus composes the progress line shown in the status message.
func FormatStatus(in ProgressInput, now time.Time) string {
	elapsed := formatElapsed(now.Sub(in.StartTime))

	if in.Verifying {
		return fmt.Sprintf("⏳ 🔄 Verifying results… (%s)", elapsed)
	}

	emoji := phaseEmoji[in.Phase]
	if emoji == "" {
		emoji = "🔧"
	}

	if in.CurrentTool != "" {
		verb := toolVerbs[in.CurrentTool]
		if verb == "" {
			verb = humanize(in.CurrentTool)
		}
		if ctx := toolContext(in.CurrentTool, in.CurrentToolArgs); ctx != "" {
			return fmt.Sprintf("⏳ %s %s: %s (%s)", emoji, verb, ctx, elapsed)
		}
		return fmt.Sprintf("⏳ %s %s (%s)", emoji, verb, elapsed)
	}

	label := phaseLabel[in.Phase]
	if label == "" {
		label = "Working"
	}

	step := ""
	if in.Phase == models.PhaseWork && in.Plan != nil && len(in.Plan.Steps) > 0 {
		m, descr := stepEstimate(in)
		step = fmt.Sprintf(" [step %d/%d", m, len(in.Plan.Steps))
		if descr != "" {
			step += ": " + descr
		}
		step += "]"
	}

	return fmt.Sprintf("⏳ %s %s%s (iter %d, %d tools, %s)",
		emoji, label, step, in.Iterations, in.ToolsUsed, elapsed)
}

// stepEstimate maps work-phase progress onto plan steps, assuming two
// iterations per step, clamped to the plan length.
func stepEstimate(in ProgressInput) (int, string) {
	stepCount := len(in.Plan.Steps)
	workIters := in.Iterations - in.WorkPhaseStartIteration + 1
	if workIters < 1 {
		workIters = 1
	}
	m := (workIters + 1) / 2
	if m < 1 {
		m = 1
	}
	if m > stepCount {
		m = stepCount
	}
	descr := strings.TrimSpace(in.Plan.Steps[m-1].Description)
	if len(descr) > maxToolContextChars {
		descr = descr[:maxToolContextChars] + "…"
	}
	return m, descr
}

func humanize(tool string) string {
	s := strings.ReplaceAll(tool, "_", " ")
	if s == "" {
		return s
	}
	return strings.ToUpper(s[:1]) + s[1:]
}

// toolContext extracts a short identifying detail from tool arguments:
// a file path, the host and path of a URL, the first command line, a
// search query, or a PR title.
func toolContext(_ string, rawArgs string) string {
	if rawArgs == "" {
		return ""
	}
	var args map[string]any
	if err := json.Unmarshal([]byte(rawArgs), &args); err != nil {
		return ""
	}

	pick := func(keys ...string) string {
		for _, k := range keys {
			if v, ok := args[k].(string); ok && strings.TrimSpace(v) != "" {
				return strings.TrimSpace(v)
			}
		}
		return ""
	}

	ctx := ""
	switch {
	case pick("path", "file", "filename") != "":
		ctx = pick("path", "file", "filename")
	case pick("url") != "":
		ctx = pick("url")
		if u, err := url.Parse(ctx); err == nil && u.Host != "" {
			ctx = u.Host + u.Path
		}
	case pick("command", "cmd") != "":
		ctx = pick("command", "cmd")
		if idx := strings.IndexByte(ctx, '\n'); idx >= 0 {
			ctx = ctx[:idx]
		}
	case pick("query", "q") != "":
		ctx = pick("query", "q")
	case pick("title") != "":
		ctx = pick("title")
	}

	if len(ctx) > maxToolContextChars {
		ctx = ctx[:maxToolContextChars] + "…"
	}
	return ctx
}

// formatElapsed renders Ks under a minute and MmKs above, omitting the
// seconds part when it is zero.
func formatElapsed(d time.Duration) string {
	if d < 0 {
		d = 0
	}
	secs := int(d.Seconds())
	if secs < 60 {
		return fmt.Sprintf("%ds", secs)
	}
	m, s := secs/60, secs%60
	if s == 0 {
		return fmt.Sprintf("%dm", m)
	}
	return fmt.Sprintf("%dm%ds", m, s)
}

// Throttle limits progress emission frequency. The zero value permits the
// first emission immediately.
type Throttle struct {
	mu       sync.Mutex
	last     time.Time
	interval time.Duration
}

// NewThrottle creates a throttle; a non-positive interval uses the
// default.
func NewThrottle(interval time.Duration) *Throttle {
	if interval <= 0 {
		interval = ProgressThrottleInterval
	}
	return &Throttle{interval: interval}
}

// Allow reports whether an emission may happen now, and records it.
func (t *Throttle) Allow(now time.Time) bool {
	t.mu.Lock()
	defer t.mu.Unlock()
	if !t.last.IsZero() && now.Sub(t.last) < t.interval {
		return false
	}
	t.last = now
	return true
}
