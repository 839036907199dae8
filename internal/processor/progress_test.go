package processor

import (
	"strings"
	"testing"
	"time"

	"github.com/conductorhq/conductor/pkg/models"
)

func progressBase() ProgressInput {
	return ProgressInput{
		Phase:      models.PhaseWork,
		Iterations: 3,
		ToolsUsed:  2,
		StartTime:  time.Date(2026, 8, 25, 12, 0, 0, 0, time.UTC),
	}
}

func at(secs int) time.Time {
	return time.Date(2026, 8, 25, 12, 0, 0, 0, time.UTC).Add(time.Duration(secs) * time.Second)
}

func TestFormatStatusVerifyingTakesPriority(t *testing.T) {
	in := progressBase()
	in.Verifying = true
	in.CurrentTool = "get_weather"

	got := FormatStatus(in, at(42))
	want := "⏳ 🔄 Verifying results… (42s)"
	if got != want {
		t.Errorf("got %q, want %q", got, want)
	}
}

func TestFormatStatusToolWithFilePath(t *testing.T) {
	in := progressBase()
	in.CurrentTool = "github_read_file"
	in.CurrentToolArgs = `{"path":"internal/server/handler.go"}`

	got := FormatStatus(in, at(8))
	if got != "⏳ 🔧 Reading: internal/server/handler.go (8s)" {
		t.Errorf("got %q", got)
	}
}

func TestFormatStatusToolWithURL(t *testing.T) {
	in := progressBase()
	in.CurrentTool = "fetch_url"
	in.CurrentToolArgs = `{"url":"https://example.com/docs/api?x=1"}`

	got := FormatStatus(in, at(5))
	if !strings.Contains(got, "Fetching: example.com/docs/api") {
		t.Errorf("got %q", got)
	}
	if strings.Contains(got, "https://") || strings.Contains(got, "x=1") {
		t.Errorf("URL not reduced to host+path: %q", got)
	}
}

func TestFormatStatusToolWithCommand(t *testing.T) {
	in := progressBase()
	in.CurrentTool = "run_command"
	in.CurrentToolArgs = "{\"command\":\"go test ./...\\nsecond line\"}"

	got := FormatStatus(in, at(5))
	if !strings.Contains(got, "Running: go test ./...") {
		t.Errorf("got %q", got)
	}
	if strings.Contains(got, "second line") {
		t.Errorf("command not cut at first line: %q", got)
	}
}

func TestFormatStatusContextTruncatedAt40(t *testing.T) {
	long := strings.Repeat("a", 60)
	in := progressBase()
	in.CurrentTool = "web_search"
	in.CurrentToolArgs = `{"query":"` + long + `"}`

	got := FormatStatus(in, at(5))
	if !strings.Contains(got, strings.Repeat("a", 40)+"…") {
		t.Errorf("context not truncated: %q", got)
	}
	if strings.Contains(got, strings.Repeat("a", 41)) {
		t.Errorf("context exceeds cap: %q", got)
	}
}

func TestFormatStatusUnknownToolHumanized(t *testing.T) {
	in := progressBase()
	in.CurrentTool = "resolve_dns_record"

	got := FormatStatus(in, at(5))
	if !strings.Contains(got, "Resolve dns record") {
		t.Errorf("got %q", got)
	}
}

func TestFormatStatusPhaseLineWithSteps(t *testing.T) {
	in := progressBase()
	in.Plan = &models.Plan{Steps: []models.PlanStep{
		{Description: "Read the entrypoint"},
		{Description: "Apply the fix"},
		{Description: "Run the tests"},
	}}
	in.WorkPhaseStartIteration = 2
	in.Iterations = 5 // third work iteration, so step 2 of 3

	got := FormatStatus(in, at(95))
	if !strings.Contains(got, "[step 2/3: Apply the fix]") {
		t.Errorf("got %q", got)
	}
	if !strings.Contains(got, "(iter 5, 2 tools, 1m35s)") {
		t.Errorf("got %q", got)
	}
	if !strings.HasPrefix(got, "⏳ 🔧 Working") {
		t.Errorf("got %q", got)
	}
}

func TestFormatStatusStepClampedToPlanLength(t *testing.T) {
	in := progressBase()
	in.Plan = &models.Plan{Steps: []models.PlanStep{{Description: "only step"}}}
	in.WorkPhaseStartIteration = 2
	in.Iterations = 50

	got := FormatStatus(in, at(5))
	if !strings.Contains(got, "[step 1/1") {
		t.Errorf("step not clamped: %q", got)
	}
}

func TestFormatStatusPlanPhase(t *testing.T) {
	in := progressBase()
	in.Phase = models.PhasePlan
	in.Iterations = 0
	in.ToolsUsed = 0

	got := FormatStatus(in, at(3))
	if got != "⏳ 📝 Planning (iter 0, 0 tools, 3s)" {
		t.Errorf("got %q", got)
	}
}

func TestFormatElapsed(t *testing.T) {
	cases := []struct {
		secs int
		want string
	}{
		{0, "0s"},
		{42, "42s"},
		{59, "59s"},
		{60, "1m"},
		{61, "1m1s"},
		{180, "3m"},
		{192, "3m12s"},
	}
	for _, c := range cases {
		if got := formatElapsed(time.Duration(c.secs) * time.Second); got != c.want {
			t.Errorf("formatElapsed(%ds) = %q, want %q", c.secs, got, c.want)
		}
	}
}

func TestThrottleFirstEmissionAllowed(t *testing.T) {
	th := NewThrottle(15 * time.Second)
	if !th.Allow(at(0)) {
		t.Error("first emission blocked")
	}
	if th.Allow(at(10)) {
		t.Error("emission inside interval allowed")
	}
	if !th.Allow(at(16)) {
		t.Error("emission after interval blocked")
	}
}

func TestManagerSingleInstancePerUser(t *testing.T) {
	m := NewManager(Deps{Catalog: testCatalog()})
	a := m.Get("alice")
	if b := m.Get("alice"); a != b {
		t.Error("same user produced two processors")
	}
	if c := m.Get("bob"); c == a {
		t.Error("distinct users share a processor")
	}
	if _, ok := m.Lookup("carol"); ok {
		t.Error("lookup created an instance")
	}
}
