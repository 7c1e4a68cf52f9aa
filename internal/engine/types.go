package engine

import (
	"context"
	"time"

	"pkt.systems/gherk/internal/stepdef"
	"pkt.systems/pslog"
)

// Gherk is the public interface exposed by this module. It is safe to hold
// and use concurrently from multiple goroutines.
type Gherk interface {
	RunFile(ctx context.Context, path string, opts RunOptions) (RunSummary, error)
	RunFolder(ctx context.Context, path string, opts RunOptions) (RunSummary, error)
}

// RunOptions controls execution of one or more feature files.
type RunOptions struct {
	// EnvPath points to a file of `key: value` lines seeding the scope of
	// every scenario.
	EnvPath string
	// Vars seed the scenario scope and override EnvPath entries.
	Vars        map[string]string
	Tags        []string
	ExcludeTags []string
	// Parallel runs scenarios concurrently on a bounded worker pool.
	Parallel bool
	// Workers bounds the pool size when Parallel is set; 0 means GOMAXPROCS.
	Workers int
	Bail    bool          // stop after first failed/errored scenario
	Timeout time.Duration // per step action; 0 means default (15s)

	Recursive    bool // walk subfolders
	RecursiveSet bool // whether Recursive was explicitly set by caller

	Logger pslog.Base

	// Reporter/output hints (used by CLI layer).
	OutputPath    string
	OutputFormat  string // json|junit|html
	ReporterJSON  string
	ReporterJUnit string
	ReporterHTML  string
}

// StepStatus is the terminal status of one executed (or skipped) step.
type StepStatus int

const (
	// StepPassed indicates the action completed without error.
	StepPassed StepStatus = iota
	// StepFailed indicates the action signalled an assertion failure.
	StepFailed
	// StepErrored indicates the action returned a non-assertion error or
	// panicked.
	StepErrored
	// StepSkipped indicates the step never executed because an earlier step
	// in the same scenario did not pass, or the run was cancelled.
	StepSkipped
	// StepUndefined indicates no registered pattern matched the step.
	StepUndefined
	// StepAmbiguous indicates more than one registered pattern matched.
	StepAmbiguous
)

func (s StepStatus) String() string {
	switch s {
	case StepPassed:
		return "passed"
	case StepFailed:
		return "failed"
	case StepErrored:
		return "errored"
	case StepSkipped:
		return "skipped"
	case StepUndefined:
		return "undefined"
	case StepAmbiguous:
		return "ambiguous"
	default:
		return "unknown"
	}
}

// ScenarioStatus is the terminal status of a scenario.
type ScenarioStatus int

const (
	// ScenarioPassed indicates every step passed.
	ScenarioPassed ScenarioStatus = iota
	// ScenarioFailed indicates a step failed an assertion.
	ScenarioFailed
	// ScenarioErrored indicates a step errored, was undefined or ambiguous,
	// or a hook failed. Distinct from Failed so authors can tell "test found
	// a bug" from "test itself is broken".
	ScenarioErrored
	// ScenarioSkipped indicates the scenario was filtered out by tags.
	ScenarioSkipped
	// ScenarioCancelled indicates the run was cancelled between steps.
	ScenarioCancelled
)

func (s ScenarioStatus) String() string {
	switch s {
	case ScenarioPassed:
		return "passed"
	case ScenarioFailed:
		return "failed"
	case ScenarioErrored:
		return "errored"
	case ScenarioSkipped:
		return "skipped"
	case ScenarioCancelled:
		return "cancelled"
	default:
		return "unknown"
	}
}

// StepResult captures the outcome of a single step.
type StepResult struct {
	Keyword  string
	Text     string
	Status   StepStatus
	Error    string // failure reason or error detail
	Duration time.Duration
}

// ScenarioResult captures the outcome of a single scenario run.
type ScenarioResult struct {
	Feature  string
	Name     string
	FilePath string
	Tags     []string
	Status   ScenarioStatus
	Steps    []StepResult
	Error    string // first failure reason, error detail, or hook error
	Duration time.Duration
}

// RunSummary aggregates scenario results for a run.
type RunSummary struct {
	RunID        string
	Scenarios    []ScenarioResult
	Total        int
	Passed       int
	Failed       int
	Errored      int
	Skipped      int
	Cancelled    int
	ParseErrors  []string
	TotalElapsed time.Duration
}

// OK reports whether the run is clean: no failed or errored scenario and no
// unparseable feature file.
func (s RunSummary) OK() bool {
	return s.Failed == 0 && s.Errored == 0 && len(s.ParseErrors) == 0
}

// Reporter receives one ScenarioResult per scenario, in completion order.
type Reporter interface {
	ScenarioCompleted(res ScenarioResult)
}

// ScenarioInfo carries scenario metadata provided to hooks.
type ScenarioInfo struct {
	Feature  string
	Name     string
	FilePath string
	Tags     []string
}

// BeforeScenarioHook is invoked with the fresh scope before the first step
// of each scenario. Returning an error marks the scenario Errored without
// executing any step.
type BeforeScenarioHook func(ctx context.Context, info ScenarioInfo, sc *stepdef.Scope, logger pslog.Base) error

// AfterScenarioHook is invoked once per scenario after its result is known.
type AfterScenarioHook func(ctx context.Context, info ScenarioInfo, res ScenarioResult, logger pslog.Base) error

// Option modifies a Gherk instance at construction time.
type Option func(*runnerConfig)

// WithLogger overrides the default logger (pslog console).
func WithLogger(logger pslog.Base) Option {
	return func(rc *runnerConfig) { rc.logger = logger }
}

// WithRegistry supplies the step definition registry for the run. The
// registry must not be mutated while a run is in progress.
func WithRegistry(reg *stepdef.Registry) Option {
	return func(rc *runnerConfig) { rc.registry = reg }
}

// WithReporter attaches a reporting sink receiving per-scenario results.
func WithReporter(rep Reporter) Option {
	return func(rc *runnerConfig) { rc.reporter = rep }
}

// WithTimeout sets the default per-step timeout.
func WithTimeout(timeout time.Duration) Option {
	return func(rc *runnerConfig) { rc.timeout = timeout }
}

// WithWorkers bounds the parallel worker pool.
func WithWorkers(n int) Option {
	return func(rc *runnerConfig) { rc.workers = n }
}

// WithBeforeScenario registers a hook invoked before each scenario.
func WithBeforeScenario(h BeforeScenarioHook) Option {
	return func(rc *runnerConfig) { rc.before = h }
}

// WithAfterScenario registers a hook invoked after each scenario.
func WithAfterScenario(h AfterScenarioHook) Option {
	return func(rc *runnerConfig) { rc.after = h }
}
