package tools

// The safe set is explicit and closed: a tool is eligible for speculative
// and parallel execution only when listed here. Anything unknown is treated
// as mutating.
var defaultSafeTools = map[string]struct{}{
	"fetch_url":         {},
	"web_search":        {},
	"get_weather":       {},
	"get_crypto_price":  {},
	"get_exchange_rate": {},
	"get_news":          {},
	"geolocate_ip":      {},
	"github_read_file":  {},
	"github_list_files": {},
	"github_repo_info":  {},
	"render_chart":      {},
}

// Classifier answers whether a tool is read-only and idempotent.
type Classifier struct {
	safe map[string]struct{}
}

// NewClassifier builds a classifier over the default safe set.
func NewClassifier() *Classifier {
	return NewClassifierWith(nil)
}

// NewClassifierWith extends the default safe set with extra tool names.
func NewClassifierWith(extra []string) *Classifier {
	safe := make(map[string]struct{}, len(defaultSafeTools)+len(extra))
	for name := range defaultSafeTools {
		safe[name] = struct{}{}
	}
	for _, name := range extra {
		safe[name] = struct{}{}
	}
	return &Classifier{safe: safe}
}

// IsSafe reports whether the named tool is in the closed safe set.
func (c *Classifier) IsSafe(name string) bool {
	_, ok := c.safe[name]
	return ok
}

// AllSafe reports whether every name is in the safe set. An empty batch is
// vacuously safe.
func (c *Classifier) AllSafe(names []string) bool {
	for _, name := range names {
		if !c.IsSafe(name) {
			return false
		}
	}
	return true
}
