// Package processor drives the per-user task loop: the plan, work, and
// review phase progression, model invocation with streaming and
// speculative tool execution, checkpoint persistence at iteration
// boundaries, and the cancel, steer, and resume control operations.
package processor

import (
	"context"
	"errors"
	"fmt"
	"strings"
	"sync"
	"sync/atomic"
	"time"

	"github.com/google/uuid"
	"github.com/prometheus/client_golang/prometheus"

	"github.com/conductorhq/conductor/internal/checkpoint"
	"github.com/conductorhq/conductor/internal/compaction"
	"github.com/conductorhq/conductor/internal/emitter"
	"github.com/conductorhq/conductor/internal/llm"
	"github.com/conductorhq/conductor/internal/observability"
	"github.com/conductorhq/conductor/internal/planner"
	"github.com/conductorhq/conductor/internal/tools"
	"github.com/conductorhq/conductor/pkg/models"
)

const (
	// compressionFraction of the model context is the compression budget.
	compressionFraction = 0.75

	// compressionMinTail is the protected recent-message count.
	compressionMinTail = 6

	// iterationCapResult is the terminal result when the cap is reached.
	iterationCapResult = "Task hit iteration limit (100). Send 'continue' to keep going."

	// emptyResponseNudge is injected as a user message before each
	// empty-response retry.
	emptyResponseNudge = "[SYSTEM] Your last response was empty after a tool call. Please produce the final answer now."

	// reviewPrompt asks the model to verify its own answer. Sent as a user
	// message for the single review-phase call.
	reviewPrompt = "[REVIEW PHASE]\nRe-read your answer above against the original request. Verify every factual claim against the tool results in this conversation. If anything is wrong or missing, produce a corrected final answer; otherwise reply with a brief confirmation."

	// steeringPrefix marks mid-task user instructions.
	steeringPrefix = "[USER OVERRIDE] "

	// fallbackContextWindow is assumed when the catalog entry omits one.
	fallbackContextWindow = 8192
)

// ErrTaskRunning is returned when a start or resume races an active loop.
var ErrTaskRunning = errors.New("a task is already running for this user")

// ErrNoCheckpoint is returned by Resume when no saved state exists.
var ErrNoCheckpoint = errors.New("no checkpoint to resume from")

// ErrEmptyRequest is returned when a request carries neither a prompt nor
// prior messages.
var ErrEmptyRequest = errors.New("request has neither prompt nor messages")

// Config bounds the loop. Zero values fall back to the defaults.
type Config struct {
	MaxIterations    int
	ModelTimeout     time.Duration
	EmptyRetries     int
	SunsetRetries    int
	PaidResumeCap    int
	FreeResumeCap    int
	ProgressInterval time.Duration
	Executor         *tools.ExecutorConfig
}

func (c Config) withDefaults() Config {
	if c.MaxIterations <= 0 {
		c.MaxIterations = 100
	}
	if c.ModelTimeout <= 0 {
		c.ModelTimeout = 3 * time.Minute
	}
	if c.EmptyRetries <= 0 {
		c.EmptyRetries = 2
	}
	if c.SunsetRetries <= 0 {
		c.SunsetRetries = 3
	}
	if c.PaidResumeCap <= 0 {
		c.PaidResumeCap = 10
	}
	if c.FreeResumeCap <= 0 {
		c.FreeResumeCap = 15
	}
	if c.ProgressInterval <= 0 {
		c.ProgressInterval = ProgressThrottleInterval
	}
	return c
}

// Deps are the injected collaborators of one processor instance.
type Deps struct {
	Client     llm.Client
	Catalog    *llm.Catalog
	Registry   *tools.Registry
	Classifier *tools.Classifier
	Store      checkpoint.Store
	Emitter    emitter.Emitter
	Logger     *observability.Logger
	Metrics    *observability.Metrics

	// FileReader powers plan-file prefetching; nil disables it.
	FileReader planner.FileReader

	Config Config
}

// Request starts a new task. Messages carries the prior conversation for
// multi-turn tasks; Prompt is the new user turn. At least one of the two
// must be present.
type Request struct {
	TaskID       string
	ChatID       string
	Prompt       string
	SystemPrompt string
	Messages     []models.Message
	ModelAlias   string
	AutoResume   bool

	// ReasoningLevel and ResponseFormat are forwarded verbatim into every
	// model call of the task.
	ReasoningLevel string
	ResponseFormat string

	// Credentials are per-provider secrets forwarded to tool executions for
	// the lifetime of the task. Never persisted in checkpoints.
	Credentials map[string]string
}

// Processor owns all task state for one user. Every control operation for
// the user routes through the same instance; the checkpoint store is the
// only durability boundary.
type Processor struct {
	userID     string
	client     llm.Client
	catalog    *llm.Catalog
	registry   *tools.Registry
	classifier *tools.Classifier
	executor   *tools.Executor
	store      checkpoint.Store
	emitter    emitter.Emitter
	logger     *observability.Logger
	metrics    *observability.Metrics
	fileReader planner.FileReader
	cfg        Config

	mu          sync.Mutex
	state       *models.TaskState
	running     bool
	cancelled   atomic.Bool
	throttle    *Throttle
	credentials map[string]string

	currentTool     string
	currentToolArgs string
}

// NewProcessor builds the processor for one user.
func NewProcessor(userID string, deps Deps) *Processor {
	if deps.Logger == nil {
		deps.Logger = observability.NewLogger(observability.LogConfig{})
	}
	if deps.Metrics == nil {
		deps.Metrics = observability.NewMetrics(prometheus.NewRegistry())
	}
	cfg := deps.Config.withDefaults()
	return &Processor{
		userID:     userID,
		client:     deps.Client,
		catalog:    deps.Catalog,
		registry:   deps.Registry,
		classifier: deps.Classifier,
		executor:   tools.NewExecutor(deps.Registry, deps.Config.Executor),
		store:      deps.Store,
		emitter:    deps.Emitter,
		logger:     deps.Logger,
		metrics:    deps.Metrics,
		fileReader: deps.FileReader,
		cfg:        cfg,
		throttle:   NewThrottle(cfg.ProgressInterval),
	}
}

// Process runs a new task to its terminal state. It returns ErrTaskRunning
// if a loop is already active for this user.
func (p *Processor) Process(ctx context.Context, req Request) error {
	if err := p.begin(&req); err != nil {
		return err
	}
	p.execute(ctx)
	return nil
}

// Start begins processing in the background and returns the task id
// immediately. The control surface uses this for the process operation.
func (p *Processor) Start(ctx context.Context, req Request) (string, error) {
	if err := p.begin(&req); err != nil {
		return "", err
	}
	go p.execute(context.WithoutCancel(ctx))
	return req.TaskID, nil
}

// begin claims the run lock and installs fresh task state.
func (p *Processor) begin(req *Request) error {
	if strings.TrimSpace(req.Prompt) == "" && len(req.Messages) == 0 {
		return ErrEmptyRequest
	}

	p.mu.Lock()
	if p.running {
		p.mu.Unlock()
		return ErrTaskRunning
	}
	if req.TaskID == "" {
		req.TaskID = uuid.NewString()
	}
	now := time.Now().UTC()
	msgs := make([]models.Message, 0, len(req.Messages)+2)
	hasSystem := len(req.Messages) > 0 && req.Messages[0].Role == models.RoleSystem
	if req.SystemPrompt != "" && !hasSystem {
		msgs = append(msgs, models.Text(models.RoleSystem, req.SystemPrompt))
	}
	msgs = append(msgs, repairTranscript(req.Messages)...)
	if strings.TrimSpace(req.Prompt) != "" {
		msgs = append(msgs, models.Text(models.RoleUser, req.Prompt))
	}
	p.state = &models.TaskState{
		TaskID:         req.TaskID,
		UserID:         p.userID,
		ChatID:         req.ChatID,
		ModelAlias:     req.ModelAlias,
		Messages:       msgs,
		Status:         models.StatusProcessing,
		Phase:          models.PhasePlan,
		StartTime:      now,
		LastUpdate:     now,
		AutoResume:     req.AutoResume,
		ReasoningLevel: req.ReasoningLevel,
		ResponseFormat: req.ResponseFormat,
	}
	p.credentials = req.Credentials
	p.running = true
	p.cancelled.Store(false)
	p.throttle = NewThrottle(p.cfg.ProgressInterval)
	alias := req.ModelAlias
	p.mu.Unlock()

	p.metrics.TasksStarted.WithLabelValues(alias).Inc()
	return nil
}

// execute drives the loop to a terminal state and releases the run lock.
func (p *Processor) execute(ctx context.Context) {
	p.metrics.ActiveTasks.Inc()
	defer func() {
		p.metrics.ActiveTasks.Dec()
		p.mu.Lock()
		p.running = false
		p.mu.Unlock()
	}()
	p.run(p.taskContext(ctx))
}

// Resume restarts the loop from the latest checkpoint, bounded by the
// per-tier resume cap. Exceeding the cap fails the task with a
// user-visible message.
func (p *Processor) Resume(ctx context.Context) error {
	p.mu.Lock()
	if p.running {
		p.mu.Unlock()
		return ErrTaskRunning
	}
	p.mu.Unlock()

	state, err := p.store.Get(ctx, p.userID, checkpoint.SlotLatest)
	if err != nil {
		return fmt.Errorf("loading checkpoint: %w", err)
	}
	if state == nil {
		return ErrNoCheckpoint
	}
	if state.Terminal() {
		return nil
	}
	state.Messages = repairTranscript(state.Messages)

	limit := p.cfg.PaidResumeCap
	if info, ok := p.catalog.Get(state.ModelAlias); ok && info.IsFree {
		limit = p.cfg.FreeResumeCap
	}
	state.ResumeCount++
	if state.ResumeCount > limit {
		state.Status = models.StatusFailed
		state.Error = fmt.Sprintf(
			"Task stopped after %d auto-resumes (limit %d). Phase: %s, iterations: %d. A checkpoint is saved; send 'continue' to retry manually.",
			state.ResumeCount-1, limit, state.Phase, state.Iterations)
		state.LastUpdate = time.Now().UTC()
		p.persist(ctx, state)
		p.notify(ctx, state, state.Error)
		p.mu.Lock()
		p.state = state
		p.mu.Unlock()
		return nil
	}

	p.mu.Lock()
	if p.running {
		p.mu.Unlock()
		return ErrTaskRunning
	}
	state.Status = models.StatusProcessing
	p.state = state
	p.running = true
	p.cancelled.Store(false)
	p.throttle = NewThrottle(p.cfg.ProgressInterval)
	p.mu.Unlock()

	p.execute(ctx)
	return nil
}

// Cancel flips the task to cancelled and notifies the user. The running
// loop exits at its next iteration boundary; an in-flight tool finishes
// but its result is discarded. Returns the status in effect and whether a
// cancellation actually happened.
func (p *Processor) Cancel(ctx context.Context) (models.TaskStatus, bool) {
	p.mu.Lock()
	st := p.state
	if st == nil || st.Status != models.StatusProcessing {
		current := models.StatusPending
		if st != nil {
			current = st.Status
		}
		p.mu.Unlock()
		return current, false
	}
	st.Status = models.StatusCancelled
	st.LastUpdate = time.Now().UTC()
	st.SteeringQueue = nil
	p.cancelled.Store(true)
	chatID := st.ChatID
	p.mu.Unlock()

	p.persist(ctx, st)
	if p.emitter != nil && chatID != "" {
		_, _ = p.emitter.SendMessage(ctx, chatID, "Task cancelled.")
	}
	return models.StatusCancelled, true
}

// Steer queues an instruction for the running task. Returns the queue
// length and whether the task accepted it.
func (p *Processor) Steer(instruction string) (int, bool) {
	p.mu.Lock()
	defer p.mu.Unlock()
	if p.state == nil || p.state.Status != models.StatusProcessing {
		return 0, false
	}
	p.state.SteeringQueue = append(p.state.SteeringQueue, instruction)
	return len(p.state.SteeringQueue), true
}

// Snapshot returns a copy of the current task state, or nil when no task
// was ever started on this instance.
func (p *Processor) Snapshot() *models.TaskState {
	p.mu.Lock()
	defer p.mu.Unlock()
	if p.state == nil {
		return nil
	}
	out := *p.state
	out.Messages = append([]models.Message(nil), p.state.Messages...)
	out.ToolsUsed = append([]string(nil), p.state.ToolsUsed...)
	out.SteeringQueue = append([]string(nil), p.state.SteeringQueue...)
	return &out
}

// Running reports whether a loop is active.
func (p *Processor) Running() bool {
	p.mu.Lock()
	defer p.mu.Unlock()
	return p.running
}

func (p *Processor) taskContext(ctx context.Context) context.Context {
	p.mu.Lock()
	st := p.state
	creds := p.credentials
	p.mu.Unlock()
	if st == nil {
		return ctx
	}
	ctx = context.WithValue(ctx, observability.TaskIDKey, st.TaskID)
	ctx = context.WithValue(ctx, observability.UserIDKey, p.userID)
	return tools.WithCredentials(ctx, creds)
}

// run is the iteration loop. It owns the state until a terminal
// transition; control operations only touch fields under the mutex.
func (p *Processor) run(ctx context.Context) {
	p.mu.Lock()
	st := p.state
	p.mu.Unlock()

	info, ok := p.catalog.Get(st.ModelAlias)
	if !ok {
		p.finish(ctx, st, models.StatusFailed, "",
			fmt.Sprintf("Unknown model %q. Phase: %s, iterations: %d, no checkpoint usable for resume.",
				st.ModelAlias, st.Phase, st.Iterations))
		return
	}
	maxContext := info.MaxContext
	if maxContext <= 0 {
		maxContext = fallbackContextWindow
	}

	cache := tools.NewCache(p.classifier, tools.DefaultCacheSize)
	dispatcher := tools.NewDispatcher(p.classifier, cache, p.executor, maxContext, p.metrics)

	emptyRetries := 0
	sunsetRetries := 0
	recovering := false
	pendingResult := ""

	for {
		if p.cancelled.Load() {
			return
		}
		if st.Iterations >= p.cfg.MaxIterations {
			p.finish(ctx, st, models.StatusCompleted, iterationCapResult, "")
			return
		}

		p.drainSteering(st)
		p.emitProgress(ctx, st)

		budget := int(float64(maxContext) * compressionFraction)
		budget >>= emptyRetries
		// Snapshot and persist read Messages under the mutex, so the
		// compressed slice must be swapped in under it too.
		p.mu.Lock()
		before := len(st.Messages)
		st.Messages = compaction.Compress(st.Messages, budget, compressionMinTail)
		outcome := "noop"
		if len(st.Messages) != before {
			outcome = "compressed"
		}
		p.mu.Unlock()
		p.metrics.CompressionRuns.WithLabelValues(outcome).Inc()

		var defs []llm.ToolDef
		if st.Phase != models.PhaseReview {
			defs = p.toolDefs()
		}

		spec := tools.NewSpeculative(p.classifier, p.executor.Execute, 0, 0)
		callStart := time.Now()
		resp, err := p.callModel(ctx, info, st, p.messagesForCall(st), defs, spec)
		p.metrics.ModelCallDuration.WithLabelValues(st.ModelAlias).Observe(time.Since(callStart).Seconds())

		p.mu.Lock()
		st.Iterations++
		st.LastUpdate = time.Now().UTC()
		p.mu.Unlock()

		if err != nil {
			p.metrics.ModelCalls.WithLabelValues(st.ModelAlias, llm.ClassifyError(err)).Inc()
			p.logger.Warn(ctx, "model call failed", "error", err, "iteration", st.Iterations)

			if llm.IsSunset(err) {
				sunsetRetries++
				if sunsetRetries <= p.cfg.SunsetRetries {
					p.persist(ctx, st)
					continue
				}
				if !p.rotate(st, "sunset") {
					p.finish(ctx, st, models.StatusFailed, "",
						p.failureMessage(st, "the model was sunset and no rotation target remains"))
					return
				}
				sunsetRetries = 0
				if next, ok := p.catalog.Get(st.ModelAlias); ok {
					info = next
					if info.MaxContext > 0 {
						maxContext = info.MaxContext
					}
					dispatcher = tools.NewDispatcher(p.classifier, cache, p.executor, maxContext, p.metrics)
				}
				p.persist(ctx, st)
				continue
			}
			// Other model errors flow into the empty-response path below.
			resp = &llm.Response{}
		} else {
			p.metrics.ModelCalls.WithLabelValues(st.ModelAlias, "success").Inc()
			p.metrics.ModelTokens.WithLabelValues(st.ModelAlias, "prompt").Add(float64(resp.Usage.PromptTokens))
			p.metrics.ModelTokens.WithLabelValues(st.ModelAlias, "completion").Add(float64(resp.Usage.CompletionTokens))
			sunsetRetries = 0
		}

		p.persist(ctx, st)

		switch {
		case len(resp.ToolCalls) > 0:
			// A nudge that elicits more tool work means the task is back on
			// the normal path; the next answer goes through review as usual.
			emptyRetries = 0
			recovering = false
			p.mu.Lock()
			st.Messages = append(st.Messages, models.AssistantToolCalls(resp.Content, resp.ToolCalls))
			for _, call := range resp.ToolCalls {
				st.RecordToolCall(call)
			}
			p.setCurrentTool(resp.ToolCalls[0])
			p.mu.Unlock()
			p.emitProgress(ctx, st)

			results := dispatcher.Dispatch(ctx, resp.ToolCalls, spec, info.SupportsParallelTools)
			p.clearCurrentTool()
			if p.cancelled.Load() {
				return
			}
			p.mu.Lock()
			st.Messages = append(st.Messages, results...)
			if st.Phase == models.PhasePlan {
				st.Phase = models.PhaseWork
				st.WorkPhaseStartIteration = st.Iterations + 1
			}
			p.mu.Unlock()
			if st.StructuredPlan == nil && resp.Content != "" {
				p.adoptPlan(ctx, st, resp.Content)
			}

		case !resp.Empty():
			emptyRetries = 0
			content := resp.Content
			p.mu.Lock()
			st.Messages = append(st.Messages, models.Text(models.RoleAssistant, content))
			p.mu.Unlock()
			spec.Clear()

			if recovering {
				p.finish(ctx, st, models.StatusCompleted, content, "")
				return
			}

			switch st.Phase {
			case models.PhasePlan:
				adopted := p.adoptPlan(ctx, st, content)
				p.mu.Lock()
				st.Phase = models.PhaseWork
				st.WorkPhaseStartIteration = st.Iterations + 1
				p.mu.Unlock()
				if !adopted && len(st.ToolsUsed) == 0 {
					// The model answered directly instead of planning.
					p.finish(ctx, st, models.StatusCompleted, content, "")
					return
				}

			case models.PhaseWork:
				if len(st.ToolsUsed) == 0 {
					p.finish(ctx, st, models.StatusCompleted, content, "")
					return
				}
				pendingResult = content
				p.mu.Lock()
				st.Phase = models.PhaseReview
				st.Messages = append(st.Messages, models.Text(models.RoleUser, reviewPrompt))
				p.mu.Unlock()

			case models.PhaseReview:
				result := pendingResult
				if result == "" {
					result = content
				}
				p.finish(ctx, st, models.StatusCompleted, result, "")
				return
			}

		default:
			// Empty response after tool use: recover.
			if emptyRetries < p.cfg.EmptyRetries {
				emptyRetries++
				recovering = true
				p.mu.Lock()
				st.Messages = append(st.Messages, models.Text(models.RoleUser, emptyResponseNudge))
				p.mu.Unlock()
				p.logger.Info(ctx, "empty response, retrying with nudge",
					"retry", emptyRetries, "iteration", st.Iterations)
				continue
			}
			if info.IsFree && p.rotate(st, "empty_response") {
				emptyRetries = 0
				if next, ok := p.catalog.Get(st.ModelAlias); ok {
					info = next
					if info.MaxContext > 0 {
						maxContext = info.MaxContext
					}
					dispatcher = tools.NewDispatcher(p.classifier, cache, p.executor, maxContext, p.metrics)
				}
				p.persist(ctx, st)
				continue
			}
			p.finish(ctx, st, models.StatusCompleted, p.fallbackSummary(st), "")
			return
		}
	}
}

// callModel performs one model invocation, streaming when the model
// supports it. Completed tool calls from the stream feed the speculative
// executor; speculation outlives the call context so the dispatcher can
// still collect results afterwards.
func (p *Processor) callModel(ctx context.Context, info llm.ModelInfo, st *models.TaskState, msgs []models.Message, defs []llm.ToolDef, spec *tools.Speculative) (*llm.Response, error) {
	callCtx, cancel := context.WithTimeout(ctx, p.cfg.ModelTimeout)
	defer cancel()

	opts := llm.Options{
		MaxTokens:      info.MaxTokens,
		Tools:          defs,
		ReasoningLevel: st.ReasoningLevel,
		ResponseFormat: st.ResponseFormat,
	}
	if !info.SupportsStreaming {
		return p.client.Complete(callCtx, info.ID, msgs, opts)
	}
	events := llm.Events{
		OnToolCallReady: func(call models.ToolCall) {
			spec.OnToolCallReady(ctx, call)
		},
	}
	return p.client.Stream(callCtx, info.ID, msgs, opts, events)
}

// messagesForCall prepares the wire message list for the current phase.
// The planning prompt rides on a copy of the system message so the stored
// history stays clean.
func (p *Processor) messagesForCall(st *models.TaskState) []models.Message {
	p.mu.Lock()
	msgs := append([]models.Message(nil), st.Messages...)
	phase := st.Phase
	p.mu.Unlock()

	if phase != models.PhasePlan {
		return msgs
	}
	for i, m := range msgs {
		if m.Role == models.RoleSystem {
			msgs[i] = models.Text(models.RoleSystem, m.TextContent()+"\n\n"+planner.Prompt)
			return msgs
		}
	}
	return append([]models.Message{models.Text(models.RoleSystem, planner.Prompt)}, msgs...)
}

func (p *Processor) toolDefs() []llm.ToolDef {
	all := p.registry.All()
	defs := make([]llm.ToolDef, 0, len(all))
	for _, t := range all {
		defs = append(defs, llm.ToolDef{
			Name:        t.Name(),
			Description: t.Description(),
			Schema:      t.Schema(),
		})
	}
	return defs
}

// adoptPlan parses a structured plan out of the planning response and,
// when a repo is identifiable, prefetches the plan's files into the
// history as a ground-truth block.
func (p *Processor) adoptPlan(ctx context.Context, st *models.TaskState, content string) bool {
	plan := planner.Parse(content)
	if plan == nil {
		return false
	}
	p.mu.Lock()
	st.StructuredPlan = plan
	history := append([]models.Message(nil), st.Messages...)
	p.mu.Unlock()

	if p.fileReader == nil {
		return true
	}
	repo := planner.RepoContext(history)
	files := planner.UniqueFiles(plan)
	if repo == "" || len(files) == 0 {
		return true
	}
	fetched := planner.Prefetch(ctx, p.fileReader, repo, files)
	block, loaded := planner.Inject(fetched)
	if block == "" {
		return true
	}
	p.mu.Lock()
	st.Messages = append(st.Messages, models.Text(models.RoleUser, block))
	p.mu.Unlock()
	p.logger.Info(ctx, "prefetched plan files", "repo", repo, "loaded", len(loaded))
	return true
}

// rotate switches to the next untried free tool-capable model. Returns
// false when the rotation list is exhausted.
func (p *Processor) rotate(st *models.TaskState, reason string) bool {
	p.mu.Lock()
	defer p.mu.Unlock()
	tried := map[string]bool{st.ModelAlias: true}
	for _, alias := range st.TriedModels {
		tried[alias] = true
	}
	next, ok := p.catalog.NextFreeModel(tried)
	if !ok {
		return false
	}
	p.metrics.ModelRotations.WithLabelValues(st.ModelAlias, reason).Inc()
	st.TriedModels = append(st.TriedModels, st.ModelAlias)
	st.ModelAlias = next.Alias
	return true
}

// fallbackSummary is the terminal answer when recovery exhausts every
// retry and rotation target: name the work that was done.
func (p *Processor) fallbackSummary(st *models.TaskState) string {
	seen := make(map[string]bool)
	var names []string
	for _, name := range st.ToolsUsed {
		if !seen[name] {
			seen[name] = true
			names = append(names, name)
		}
	}
	if len(names) == 0 {
		return fmt.Sprintf("Based on [%d tool calls]: the model produced no final answer. The gathered results are preserved in the task history.", len(st.ToolsUsed))
	}
	return fmt.Sprintf("Based on [%d tool calls]: ran %s, but the model produced no final summary. The gathered results are preserved in the task history.",
		len(st.ToolsUsed), strings.Join(names, ", "))
}

func (p *Processor) drainSteering(st *models.TaskState) {
	p.mu.Lock()
	defer p.mu.Unlock()
	for _, instr := range st.SteeringQueue {
		st.Messages = append(st.Messages, models.Text(models.RoleUser, steeringPrefix+instr))
	}
	st.SteeringQueue = nil
}

func (p *Processor) setCurrentTool(call models.ToolCall) {
	p.currentTool = call.Name
	p.currentToolArgs = call.Arguments
}

func (p *Processor) clearCurrentTool() {
	p.mu.Lock()
	p.currentTool = ""
	p.currentToolArgs = ""
	p.mu.Unlock()
}

// emitProgress edits the pinned status message, throttled. Failures are
// logged and ignored; progress is best effort.
func (p *Processor) emitProgress(ctx context.Context, st *models.TaskState) {
	if p.emitter == nil || st.ChatID == "" {
		return
	}
	if !p.throttle.Allow(time.Now()) {
		return
	}

	p.mu.Lock()
	in := ProgressInput{
		Phase:                   st.Phase,
		Iterations:              st.Iterations,
		ToolsUsed:               len(st.ToolsUsed),
		StartTime:               st.StartTime,
		CurrentTool:             p.currentTool,
		CurrentToolArgs:         p.currentToolArgs,
		Plan:                    st.StructuredPlan,
		WorkPhaseStartIteration: st.WorkPhaseStartIteration,
		Verifying:               st.Phase == models.PhaseReview,
	}
	messageID := st.StatusMessageID
	chatID := st.ChatID
	p.mu.Unlock()

	text := FormatStatus(in, time.Now())
	if messageID == "" {
		id, err := p.emitter.SendMessage(ctx, chatID, text)
		if err != nil {
			p.logger.Debug(ctx, "progress send failed", "error", err)
			return
		}
		p.mu.Lock()
		st.StatusMessageID = id
		p.mu.Unlock()
		return
	}
	if err := p.emitter.EditMessage(ctx, chatID, messageID, text); err != nil {
		p.logger.Debug(ctx, "progress edit failed", "error", err)
	}
}

// persist writes the latest checkpoint. A failed write is logged, never
// fatal; the next iteration retries implicitly.
func (p *Processor) persist(ctx context.Context, st *models.TaskState) {
	if p.store == nil {
		return
	}
	p.mu.Lock()
	snapshot := *st
	snapshot.Messages = append([]models.Message(nil), st.Messages...)
	p.mu.Unlock()

	status := "ok"
	if err := p.store.Put(ctx, p.userID, checkpoint.SlotLatest, &snapshot); err != nil {
		status = "error"
		p.logger.Warn(ctx, "checkpoint write failed", "error", err)
	}
	p.metrics.CheckpointWrites.WithLabelValues(status).Inc()
}

// finish records the terminal transition and delivers the result. A task
// cancelled mid-flight keeps its cancelled status; late results are
// discarded.
func (p *Processor) finish(ctx context.Context, st *models.TaskState, status models.TaskStatus, result, errMsg string) {
	p.mu.Lock()
	if st.Status == models.StatusCancelled {
		p.mu.Unlock()
		return
	}
	st.Status = status
	st.Result = result
	st.Error = errMsg
	st.LastUpdate = time.Now().UTC()
	chatID := st.ChatID
	statusMessageID := st.StatusMessageID
	st.StatusMessageID = ""
	alias := st.ModelAlias
	p.mu.Unlock()

	p.persist(ctx, st)
	p.metrics.TasksFinished.WithLabelValues(alias, string(status)).Inc()
	p.metrics.TaskDuration.WithLabelValues(string(status)).Observe(time.Since(st.StartTime).Seconds())
	p.metrics.TaskIterations.Observe(float64(st.Iterations))

	if p.emitter != nil && chatID != "" {
		if statusMessageID != "" {
			_ = p.emitter.DeleteMessage(ctx, chatID, statusMessageID)
		}
		text := result
		if text == "" {
			text = errMsg
		}
		if text != "" {
			if _, err := emitter.SendLong(ctx, p.emitter, chatID, text); err != nil {
				p.logger.Warn(ctx, "result delivery failed", "error", err)
			}
		}
	}
	p.logger.Info(ctx, "task finished",
		"status", string(status), "iterations", st.Iterations, "tools", len(st.ToolsUsed))
}

// notify sends a plain message to the task's chat, best effort.
func (p *Processor) notify(ctx context.Context, st *models.TaskState, text string) {
	if p.emitter == nil || st.ChatID == "" || text == "" {
		return
	}
	_, _ = p.emitter.SendMessage(ctx, st.ChatID, text)
}

// failureMessage builds the user-visible failure text: phase, iteration
// count, and whether a checkpoint exists for resume.
func (p *Processor) failureMessage(st *models.TaskState, cause string) string {
	return fmt.Sprintf("Task failed: %s. Phase: %s, iterations: %d. A checkpoint is saved; send 'continue' to resume.",
		cause, st.Phase, st.Iterations)
}
