package engine

import (
	"context"
	"errors"
	"fmt"
	"os"
	"runtime"
	"slices"
	"sync"
	"time"

	"github.com/google/uuid"
	"pkt.systems/gherk/internal/gherkin"
	"pkt.systems/gherk/internal/stepdef"
	"pkt.systems/pslog"
)

const defaultTimeout = 15 * time.Second

// runner implements Gherk.
type runner struct {
	logger   pslog.Base
	registry *stepdef.Registry
	reporter Reporter
	timeout  time.Duration
	workers  int
	before   BeforeScenarioHook
	after    AfterScenarioHook
}

type runnerConfig struct {
	logger   pslog.Base
	registry *stepdef.Registry
	reporter Reporter
	timeout  time.Duration
	workers  int
	before   BeforeScenarioHook
	after    AfterScenarioHook
}

// New constructs a Gherk instance with optional configuration.
func New(ctx context.Context, opts ...Option) (Gherk, error) {
	if ctx == nil {
		return nil, errors.New("nil context")
	}
	cfg := runnerConfig{}
	for _, opt := range opts {
		if opt != nil {
			opt(&cfg)
		}
	}
	if cfg.logger == nil {
		cfg.logger = pslog.New(os.Stdout)
	}
	if cfg.registry == nil {
		cfg.registry = stepdef.NewRegistry()
	}
	if cfg.timeout == 0 {
		cfg.timeout = defaultTimeout
	}
	if cfg.workers <= 0 {
		cfg.workers = runtime.GOMAXPROCS(0)
	}
	r := &runner{
		logger:   cfg.logger,
		registry: cfg.registry,
		reporter: cfg.reporter,
		timeout:  cfg.timeout,
		workers:  cfg.workers,
		before:   cfg.before,
		after:    cfg.after,
	}
	return r, nil
}

// scenarioUnit is one runnable scenario with its surrounding feature.
type scenarioUnit struct {
	path     string
	feature  featureNode
	scenario scenarioNode
}

// RunFile parses and executes a single .feature file.
func (r *runner) RunFile(ctx context.Context, path string, opts RunOptions) (RunSummary, error) {
	doc, err := gherkin.ParseFile(path)
	if err != nil {
		return RunSummary{}, err
	}
	return r.run(ctx, collectUnits([]featureDoc{doc}), nil, opts)
}

// RunFolder discovers and executes all .feature files under the folder.
// A file that fails to parse is recorded in the summary and does not stop
// the rest of the run.
func (r *runner) RunFolder(ctx context.Context, path string, opts RunOptions) (RunSummary, error) {
	recursive := true
	if opts.RecursiveSet {
		recursive = opts.Recursive
	}
	docs, parseErrs := gherkin.DiscoverFeatures(path, recursive)
	return r.run(ctx, collectUnits(docs), parseErrs, opts)
}

func (r *runner) run(ctx context.Context, units []scenarioUnit, parseErrs []error, opts RunOptions) (RunSummary, error) {
	start := time.Now()
	logger := r.logger
	if opts.Logger != nil {
		logger = opts.Logger
	}

	summary := RunSummary{RunID: uuid.NewString()}
	for _, perr := range parseErrs {
		logger.Error("feature parse failed", "err", perr)
		summary.ParseErrors = append(summary.ParseErrors, perr.Error())
	}

	vars, err := buildVars(opts)
	if err != nil {
		return RunSummary{}, fmt.Errorf("load env: %w", err)
	}

	// Tag-filtered scenarios are reported as skipped, not silently dropped.
	var runnable []scenarioUnit
	for _, u := range units {
		if passesTagFilter(u.scenario.Tags, opts.Tags, opts.ExcludeTags) {
			runnable = append(runnable, u)
			continue
		}
		r.emit(&summary, skippedResult(u))
	}

	if opts.Parallel {
		r.runParallel(ctx, runnable, vars, opts, logger, &summary)
	} else {
		for _, u := range runnable {
			res := r.runScenario(ctx, u, cloneVars(vars), opts, logger)
			r.emit(&summary, res)
			if opts.Bail && (res.Status == ScenarioFailed || res.Status == ScenarioErrored) {
				break
			}
		}
	}

	summary.TotalElapsed = time.Since(start)
	logger.Debug("run complete", "id", summary.RunID,
		"total", summary.Total, "passed", summary.Passed, "failed", summary.Failed,
		"errored", summary.Errored, "skipped", summary.Skipped, "cancelled", summary.Cancelled)
	return summary, nil
}

// runParallel executes scenarios on a bounded worker pool. Results are
// appended in completion order. Workers share nothing but the read-only
// registry; each scenario owns its scope and vars copy.
func (r *runner) runParallel(ctx context.Context, units []scenarioUnit, vars map[string]string, opts RunOptions, logger pslog.Base, summary *RunSummary) {
	workers := r.workers
	if opts.Workers > 0 {
		workers = opts.Workers
	}
	runCtx, cancel := context.WithCancel(ctx)
	defer cancel()

	sem := make(chan struct{}, workers)
	out := make(chan ScenarioResult, len(units))
	var wg sync.WaitGroup
	for _, u := range units {
		wg.Add(1)
		go func(u scenarioUnit) {
			defer wg.Done()
			sem <- struct{}{}
			defer func() { <-sem }()
			out <- r.runScenario(runCtx, u, cloneVars(vars), opts, logger)
		}(u)
	}
	go func() {
		wg.Wait()
		close(out)
	}()

	for res := range out {
		r.emit(summary, res)
		if opts.Bail && (res.Status == ScenarioFailed || res.Status == ScenarioErrored) {
			cancel()
		}
	}
}

// runScenario executes one scenario against a fresh scope. All step errors
// are converted to outcomes here; nothing propagates out of a scenario run.
func (r *runner) runScenario(ctx context.Context, u scenarioUnit, vars map[string]string, opts RunOptions, logger pslog.Base) ScenarioResult {
	start := time.Now()
	res := ScenarioResult{
		Feature:  u.feature.Name,
		Name:     u.scenario.Name,
		FilePath: u.path,
		Tags:     u.scenario.Tags,
		Status:   ScenarioPassed,
	}
	info := ScenarioInfo{Feature: u.feature.Name, Name: u.scenario.Name, FilePath: u.path, Tags: u.scenario.Tags}

	timeout := r.timeout
	if opts.Timeout > 0 {
		timeout = opts.Timeout
	}
	if timeout <= 0 {
		timeout = defaultTimeout
	}

	scope := stepdef.NewScope(vars)
	halted := false
	if r.before != nil {
		if err := r.before(ctx, info, scope, logger); err != nil {
			res.Status = ScenarioErrored
			res.Error = fmt.Sprintf("before-scenario hook: %v", err)
			halted = true
		}
	}

	steps := make([]stepNode, 0, len(u.feature.Background)+len(u.scenario.Steps))
	steps = append(steps, u.feature.Background...)
	steps = append(steps, u.scenario.Steps...)

	for _, st := range steps {
		sr := StepResult{Keyword: string(st.Keyword), Text: st.Text}
		if !halted && ctx.Err() != nil {
			// Cancellation takes effect between steps, never mid-step.
			res.Status = ScenarioCancelled
			res.Error = ctx.Err().Error()
			halted = true
		}
		if halted {
			sr.Status = StepSkipped
			res.Steps = append(res.Steps, sr)
			continue
		}

		def, args, err := r.registry.Match(st)
		if err != nil {
			sr.Status = matchStatus(err)
			sr.Error = err.Error()
			res.Status = ScenarioErrored
			res.Error = err.Error()
			res.Steps = append(res.Steps, sr)
			halted = true
			continue
		}

		stepStart := time.Now()
		err = invokeStep(ctx, def, scope, args, timeout)
		sr.Duration = time.Since(stepStart)
		switch {
		case err == nil:
			sr.Status = StepPassed
		case stepdef.IsAssertion(err):
			sr.Status = StepFailed
			sr.Error = err.Error()
			res.Status = ScenarioFailed
			res.Error = err.Error()
			halted = true
		default:
			sr.Status = StepErrored
			sr.Error = err.Error()
			res.Status = ScenarioErrored
			res.Error = err.Error()
			halted = true
		}
		res.Steps = append(res.Steps, sr)
	}
	res.Duration = time.Since(start)

	if r.after != nil {
		if err := r.after(ctx, info, res, logger); err != nil {
			logger.Warn("after-scenario hook", "scenario", res.Name, "err", err)
		}
	}
	return res
}

// invokeStep runs a matched action with a per-step deadline, converting
// panics into errors at the executor boundary.
func invokeStep(ctx context.Context, def *stepdef.Definition, sc *stepdef.Scope, args stepdef.Args, timeout time.Duration) (err error) {
	stepCtx, cancel := context.WithTimeout(ctx, timeout)
	defer cancel()
	defer func() {
		if rec := recover(); rec != nil {
			err = fmt.Errorf("step panicked: %v", rec)
		}
	}()
	return def.Invoke(stepCtx, sc, args)
}

func matchStatus(err error) StepStatus {
	var (
		undef *stepdef.UndefinedStepError
		amb   *stepdef.AmbiguousMatchError
	)
	switch {
	case errors.As(err, &undef):
		return StepUndefined
	case errors.As(err, &amb):
		return StepAmbiguous
	default:
		return StepErrored
	}
}

func (r *runner) emit(sum *RunSummary, res ScenarioResult) {
	sum.Scenarios = append(sum.Scenarios, res)
	sum.Total++
	switch res.Status {
	case ScenarioPassed:
		sum.Passed++
	case ScenarioFailed:
		sum.Failed++
	case ScenarioErrored:
		sum.Errored++
	case ScenarioSkipped:
		sum.Skipped++
	case ScenarioCancelled:
		sum.Cancelled++
	}
	if r.reporter != nil {
		r.reporter.ScenarioCompleted(res)
	}
}

func skippedResult(u scenarioUnit) ScenarioResult {
	res := ScenarioResult{
		Feature:  u.feature.Name,
		Name:     u.scenario.Name,
		FilePath: u.path,
		Tags:     u.scenario.Tags,
		Status:   ScenarioSkipped,
	}
	for _, st := range append(append([]stepNode{}, u.feature.Background...), u.scenario.Steps...) {
		res.Steps = append(res.Steps, StepResult{Keyword: string(st.Keyword), Text: st.Text, Status: StepSkipped})
	}
	return res
}

func collectUnits(docs []featureDoc) []scenarioUnit {
	var units []scenarioUnit
	for _, doc := range docs {
		for _, f := range doc.Features {
			for _, sc := range f.Scenarios {
				units = append(units, scenarioUnit{path: doc.Path, feature: f, scenario: sc})
			}
		}
	}
	return units
}

func passesTagFilter(tags []string, include []string, exclude []string) bool {
	if len(include) > 0 {
		match := false
		for _, t := range tags {
			if slices.Contains(include, t) {
				match = true
			}
		}
		if !match {
			return false
		}
	}
	for _, t := range tags {
		if slices.Contains(exclude, t) {
			return false
		}
	}
	return true
}
