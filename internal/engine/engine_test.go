package engine

import (
	"context"
	"errors"
	"fmt"
	"os"
	"path/filepath"
	"sync"
	"testing"
	"time"

	"pkt.systems/gherk/internal/stepdef"
	"pkt.systems/pslog"
)

func writeFeature(t *testing.T, dir, name, text string) string {
	t.Helper()
	path := filepath.Join(dir, name)
	if err := os.WriteFile(path, []byte(text), 0o644); err != nil {
		t.Fatal(err)
	}
	return path
}

func quietLogger() pslog.Base {
	return pslog.NewWithOptions(os.Stdout, pslog.Options{MinLevel: pslog.ErrorLevel})
}

func newRunner(t *testing.T, reg *stepdef.Registry, opts ...Option) Gherk {
	t.Helper()
	opts = append([]Option{WithRegistry(reg), WithLogger(quietLogger())}, opts...)
	g, err := New(context.Background(), opts...)
	if err != nil {
		t.Fatalf("new: %v", err)
	}
	return g
}

func TestFailFastStepOutcomes(t *testing.T) {
	reg := stepdef.NewRegistry()
	executed := map[string]bool{}
	mark := func(name string, err error) stepdef.Action {
		return func(ctx context.Context, sc *stepdef.Scope, args stepdef.Args) error {
			executed[name] = true
			return err
		}
	}
	if err := reg.Given("a working step", mark("s1", nil)); err != nil {
		t.Fatal(err)
	}
	if err := reg.When("a failing step", mark("s2", stepdef.Failf("expected 1 got 2"))); err != nil {
		t.Fatal(err)
	}
	if err := reg.Then("a later step", mark("s3", nil)); err != nil {
		t.Fatal(err)
	}

	tmp := t.TempDir()
	path := writeFeature(t, tmp, "ff.feature", `Feature: fail fast
  Scenario: stop at first failure
    Given a working step
    When a failing step
    Then a later step
`)
	sum, err := newRunner(t, reg).RunFile(context.Background(), path, RunOptions{})
	if err != nil {
		t.Fatalf("run: %v", err)
	}
	if sum.Total != 1 || sum.Failed != 1 {
		t.Fatalf("summary %+v", sum)
	}
	res := sum.Scenarios[0]
	if res.Status != ScenarioFailed {
		t.Fatalf("status %v", res.Status)
	}
	want := []StepStatus{StepPassed, StepFailed, StepSkipped}
	for i, sr := range res.Steps {
		if sr.Status != want[i] {
			t.Fatalf("step %d status %v want %v", i, sr.Status, want[i])
		}
	}
	if executed["s3"] {
		t.Fatalf("step after failure must never execute")
	}
	if res.Error == "" || res.Steps[1].Error != "expected 1 got 2" {
		t.Fatalf("failure reason lost: %+v", res)
	}
}

func TestErroredDistinctFromFailed(t *testing.T) {
	reg := stepdef.NewRegistry()
	if err := reg.When("it explodes", func(ctx context.Context, sc *stepdef.Scope, args stepdef.Args) error {
		return errors.New("connection refused")
	}); err != nil {
		t.Fatal(err)
	}
	if err := reg.When("it panics", func(ctx context.Context, sc *stepdef.Scope, args stepdef.Args) error {
		panic("nil map write")
	}); err != nil {
		t.Fatal(err)
	}

	tmp := t.TempDir()
	path := writeFeature(t, tmp, "err.feature", `Feature: errors
  Scenario: plain error
    When it explodes

  Scenario: panic
    When it panics
`)
	sum, err := newRunner(t, reg).RunFile(context.Background(), path, RunOptions{})
	if err != nil {
		t.Fatalf("run: %v", err)
	}
	if sum.Errored != 2 || sum.Failed != 0 {
		t.Fatalf("summary %+v", sum)
	}
	if sum.Scenarios[0].Steps[0].Status != StepErrored {
		t.Fatalf("step status %v", sum.Scenarios[0].Steps[0].Status)
	}
	if got := sum.Scenarios[1].Steps[0].Error; got == "" {
		t.Fatalf("panic detail lost")
	} else if want := "step panicked"; len(got) < len(want) || got[:len(want)] != want {
		t.Fatalf("panic detail %q", got)
	}
}

func TestUndefinedStepSkipsRemainderNotSuite(t *testing.T) {
	reg := stepdef.NewRegistry()
	var ran bool
	if err := reg.Given("a known step", func(ctx context.Context, sc *stepdef.Scope, args stepdef.Args) error {
		ran = true
		return nil
	}); err != nil {
		t.Fatal(err)
	}

	tmp := t.TempDir()
	path := writeFeature(t, tmp, "undef.feature", `Feature: undefined
  Scenario: broken authoring
    Given a step nobody wrote
    Given a known step

  Scenario: healthy
    Given a known step
`)
	sum, err := newRunner(t, reg).RunFile(context.Background(), path, RunOptions{})
	if err != nil {
		t.Fatalf("run: %v", err)
	}
	first := sum.Scenarios[0]
	if first.Status != ScenarioErrored {
		t.Fatalf("authoring defect must not count as assertion failure: %v", first.Status)
	}
	if first.Steps[0].Status != StepUndefined || first.Steps[1].Status != StepSkipped {
		t.Fatalf("steps %+v", first.Steps)
	}
	if sum.Scenarios[1].Status != ScenarioPassed || !ran {
		t.Fatalf("later scenario must run unaffected: %+v", sum.Scenarios[1])
	}
}

func TestAmbiguousStepOutcome(t *testing.T) {
	reg := stepdef.NewRegistry()
	noop := func(ctx context.Context, sc *stepdef.Scope, args stepdef.Args) error { return nil }
	if err := reg.Given("the count is {int}", noop); err != nil {
		t.Fatal(err)
	}
	if err := reg.Given("the count is {word}", noop); err != nil {
		t.Fatal(err)
	}
	tmp := t.TempDir()
	path := writeFeature(t, tmp, "amb.feature", `Feature: ambiguous
  Scenario: two matches
    Given the count is 3
`)
	sum, err := newRunner(t, reg).RunFile(context.Background(), path, RunOptions{})
	if err != nil {
		t.Fatalf("run: %v", err)
	}
	if sum.Scenarios[0].Steps[0].Status != StepAmbiguous {
		t.Fatalf("step status %v", sum.Scenarios[0].Steps[0].Status)
	}
	if sum.Errored != 1 {
		t.Fatalf("summary %+v", sum)
	}
}

func TestScopeIsScenarioLocal(t *testing.T) {
	reg := stepdef.NewRegistry()
	if err := reg.Given("I remember {string}", func(ctx context.Context, sc *stepdef.Scope, args stepdef.Args) error {
		sc.Set("memo", args.String(0))
		return nil
	}); err != nil {
		t.Fatal(err)
	}
	if err := reg.Then("the memo is {string}", func(ctx context.Context, sc *stepdef.Scope, args stepdef.Args) error {
		if got := sc.String("memo"); got != args.String(0) {
			return stepdef.Failf("memo %q, want %q", got, args.String(0))
		}
		return nil
	}); err != nil {
		t.Fatal(err)
	}
	tmp := t.TempDir()
	path := writeFeature(t, tmp, "scope.feature", `Feature: scope
  Scenario: writes
    Given I remember "alpha"
    Then the memo is "alpha"

  Scenario: starts fresh
    Then the memo is ""
`)
	sum, err := newRunner(t, reg).RunFile(context.Background(), path, RunOptions{})
	if err != nil {
		t.Fatalf("run: %v", err)
	}
	if sum.Passed != 2 {
		t.Fatalf("state leaked between scenarios: %+v", sum.Scenarios)
	}
}

func TestBackgroundRunsBeforeEachScenario(t *testing.T) {
	reg := stepdef.NewRegistry()
	var setups int
	if err := reg.Given("a prepared fixture", func(ctx context.Context, sc *stepdef.Scope, args stepdef.Args) error {
		setups++
		sc.Set("ready", true)
		return nil
	}); err != nil {
		t.Fatal(err)
	}
	if err := reg.Then("the fixture is ready", func(ctx context.Context, sc *stepdef.Scope, args stepdef.Args) error {
		if _, ok := sc.Get("ready"); !ok {
			return stepdef.Failf("fixture missing")
		}
		return nil
	}); err != nil {
		t.Fatal(err)
	}
	tmp := t.TempDir()
	path := writeFeature(t, tmp, "bg.feature", `Feature: bg
  Background:
    Given a prepared fixture

  Scenario: one
    Then the fixture is ready

  Scenario: two
    Then the fixture is ready
`)
	sum, err := newRunner(t, reg).RunFile(context.Background(), path, RunOptions{})
	if err != nil {
		t.Fatalf("run: %v", err)
	}
	if sum.Passed != 2 || setups != 2 {
		t.Fatalf("passed=%d setups=%d", sum.Passed, setups)
	}
}

func TestTagFiltering(t *testing.T) {
	reg := stepdef.NewRegistry()
	if err := reg.Given("anything", func(ctx context.Context, sc *stepdef.Scope, args stepdef.Args) error { return nil }); err != nil {
		t.Fatal(err)
	}
	tmp := t.TempDir()
	writeFeature(t, tmp, "t.feature", `Feature: tagged
  @smoke
  Scenario: fast
    Given anything

  @slow
  Scenario: slow
    Given anything
`)
	sum, err := newRunner(t, reg).RunFolder(context.Background(), tmp, RunOptions{Tags: []string{"smoke"}})
	if err != nil {
		t.Fatalf("run: %v", err)
	}
	if sum.Passed != 1 || sum.Skipped != 1 {
		t.Fatalf("summary %+v", sum)
	}
	for _, res := range sum.Scenarios {
		if res.Name == "slow" && res.Status != ScenarioSkipped {
			t.Fatalf("slow should be skipped: %v", res.Status)
		}
	}

	sum, err = newRunner(t, reg).RunFolder(context.Background(), tmp, RunOptions{ExcludeTags: []string{"slow"}})
	if err != nil {
		t.Fatalf("run: %v", err)
	}
	if sum.Passed != 1 || sum.Skipped != 1 {
		t.Fatalf("exclude summary %+v", sum)
	}
}

func TestCancellationBetweenSteps(t *testing.T) {
	reg := stepdef.NewRegistry()
	ctx, cancel := context.WithCancel(context.Background())
	if err := reg.Given("a step that cancels the run", func(ctx context.Context, sc *stepdef.Scope, args stepdef.Args) error {
		cancel()
		return nil
	}); err != nil {
		t.Fatal(err)
	}
	if err := reg.Then("a step that must not run", func(ctx context.Context, sc *stepdef.Scope, args stepdef.Args) error {
		return errors.New("should not execute")
	}); err != nil {
		t.Fatal(err)
	}
	tmp := t.TempDir()
	path := writeFeature(t, tmp, "cancel.feature", `Feature: cancel
  Scenario: cooperative
    Given a step that cancels the run
    Then a step that must not run
`)
	sum, err := newRunner(t, reg).RunFile(ctx, path, RunOptions{})
	if err != nil {
		t.Fatalf("run: %v", err)
	}
	res := sum.Scenarios[0]
	if res.Status != ScenarioCancelled {
		t.Fatalf("status %v", res.Status)
	}
	if res.Steps[0].Status != StepPassed || res.Steps[1].Status != StepSkipped {
		t.Fatalf("steps %+v", res.Steps)
	}
	if sum.Cancelled != 1 {
		t.Fatalf("summary %+v", sum)
	}
}

func TestParallelRunCompletes(t *testing.T) {
	reg := stepdef.NewRegistry()
	var mu sync.Mutex
	running, peak := 0, 0
	if err := reg.Given("a slow step", func(ctx context.Context, sc *stepdef.Scope, args stepdef.Args) error {
		mu.Lock()
		running++
		if running > peak {
			peak = running
		}
		mu.Unlock()
		time.Sleep(20 * time.Millisecond)
		mu.Lock()
		running--
		mu.Unlock()
		return nil
	}); err != nil {
		t.Fatal(err)
	}
	tmp := t.TempDir()
	var text string
	text = "Feature: par\n"
	for i := 0; i < 6; i++ {
		text += fmt.Sprintf("  Scenario: s%d\n    Given a slow step\n", i)
	}
	writeFeature(t, tmp, "par.feature", text)

	sum, err := newRunner(t, reg).RunFolder(context.Background(), tmp, RunOptions{Parallel: true, Workers: 2})
	if err != nil {
		t.Fatalf("run: %v", err)
	}
	if sum.Passed != 6 {
		t.Fatalf("summary %+v", sum)
	}
	if peak > 2 {
		t.Fatalf("worker pool not bounded: peak %d", peak)
	}
}

func TestBailStopsRun(t *testing.T) {
	reg := stepdef.NewRegistry()
	var after bool
	if err := reg.Given("a bad step", func(ctx context.Context, sc *stepdef.Scope, args stepdef.Args) error {
		return stepdef.Failf("nope")
	}); err != nil {
		t.Fatal(err)
	}
	if err := reg.Given("a good step", func(ctx context.Context, sc *stepdef.Scope, args stepdef.Args) error {
		after = true
		return nil
	}); err != nil {
		t.Fatal(err)
	}
	tmp := t.TempDir()
	writeFeature(t, tmp, "bail.feature", `Feature: bail
  Scenario: first
    Given a bad step

  Scenario: second
    Given a good step
`)
	sum, err := newRunner(t, reg).RunFolder(context.Background(), tmp, RunOptions{Bail: true})
	if err != nil {
		t.Fatalf("run: %v", err)
	}
	if sum.Total != 1 || after {
		t.Fatalf("bail did not stop the run: %+v after=%v", sum, after)
	}
}

func TestParseErrorDoesNotAbortFolder(t *testing.T) {
	reg := stepdef.NewRegistry()
	if err := reg.Given("anything", func(ctx context.Context, sc *stepdef.Scope, args stepdef.Args) error { return nil }); err != nil {
		t.Fatal(err)
	}
	tmp := t.TempDir()
	writeFeature(t, tmp, "bad.feature", "Feature: broken\n  rubbish\n")
	writeFeature(t, tmp, "good.feature", "Feature: good\n  Scenario: s\n    Given anything\n")

	sum, err := newRunner(t, reg).RunFolder(context.Background(), tmp, RunOptions{})
	if err != nil {
		t.Fatalf("run: %v", err)
	}
	if len(sum.ParseErrors) != 1 || sum.Passed != 1 {
		t.Fatalf("summary %+v", sum)
	}
	if sum.OK() {
		t.Fatalf("summary with parse errors must not be OK")
	}
}

type captureReporter struct {
	mu    sync.Mutex
	names []string
}

func (c *captureReporter) ScenarioCompleted(res ScenarioResult) {
	c.mu.Lock()
	defer c.mu.Unlock()
	c.names = append(c.names, res.Name)
}

func TestReporterReceivesCompletionOrder(t *testing.T) {
	reg := stepdef.NewRegistry()
	if err := reg.Given("anything", func(ctx context.Context, sc *stepdef.Scope, args stepdef.Args) error { return nil }); err != nil {
		t.Fatal(err)
	}
	tmp := t.TempDir()
	writeFeature(t, tmp, "rep.feature", `Feature: rep
  Scenario: one
    Given anything

  Scenario: two
    Given anything
`)
	rep := &captureReporter{}
	g := newRunner(t, reg, WithReporter(rep))
	sum, err := g.RunFolder(context.Background(), tmp, RunOptions{})
	if err != nil {
		t.Fatalf("run: %v", err)
	}
	if len(rep.names) != sum.Total {
		t.Fatalf("reporter saw %d of %d", len(rep.names), sum.Total)
	}
	if rep.names[0] != "one" || rep.names[1] != "two" {
		t.Fatalf("order %v", rep.names)
	}
}

func TestHooksBracketScenario(t *testing.T) {
	reg := stepdef.NewRegistry()
	if err := reg.Given("anything", func(ctx context.Context, sc *stepdef.Scope, args stepdef.Args) error {
		if sc.String("seeded") != "yes" {
			return stepdef.Failf("before hook did not run first")
		}
		return nil
	}); err != nil {
		t.Fatal(err)
	}
	var afterStatus ScenarioStatus = -1
	g := newRunner(t, reg,
		WithBeforeScenario(func(ctx context.Context, info ScenarioInfo, sc *stepdef.Scope, logger pslog.Base) error {
			sc.Set("seeded", "yes")
			return nil
		}),
		WithAfterScenario(func(ctx context.Context, info ScenarioInfo, res ScenarioResult, logger pslog.Base) error {
			afterStatus = res.Status
			return nil
		}),
	)
	tmp := t.TempDir()
	path := writeFeature(t, tmp, "hooks.feature", `Feature: hooks
  Scenario: bracketed
    Given anything
`)
	sum, err := g.RunFile(context.Background(), path, RunOptions{})
	if err != nil {
		t.Fatalf("run: %v", err)
	}
	if sum.Passed != 1 || afterStatus != ScenarioPassed {
		t.Fatalf("hooks missed: %+v afterStatus=%v", sum, afterStatus)
	}
}

func TestBeforeHookErrorMarksScenarioErrored(t *testing.T) {
	reg := stepdef.NewRegistry()
	var ran bool
	if err := reg.Given("anything", func(ctx context.Context, sc *stepdef.Scope, args stepdef.Args) error {
		ran = true
		return nil
	}); err != nil {
		t.Fatal(err)
	}
	g := newRunner(t, reg, WithBeforeScenario(func(ctx context.Context, info ScenarioInfo, sc *stepdef.Scope, logger pslog.Base) error {
		return errors.New("fixture unavailable")
	}))
	tmp := t.TempDir()
	path := writeFeature(t, tmp, "hookerr.feature", `Feature: hooks
  Scenario: doomed
    Given anything
`)
	sum, err := g.RunFile(context.Background(), path, RunOptions{})
	if err != nil {
		t.Fatalf("run: %v", err)
	}
	res := sum.Scenarios[0]
	if res.Status != ScenarioErrored || ran {
		t.Fatalf("res %+v ran=%v", res, ran)
	}
	if res.Steps[0].Status != StepSkipped {
		t.Fatalf("steps %+v", res.Steps)
	}
}

func TestEnvFileSeedsScope(t *testing.T) {
	reg := stepdef.NewRegistry()
	if err := reg.Then("the base URL is {string}", func(ctx context.Context, sc *stepdef.Scope, args stepdef.Args) error {
		if got := sc.String("baseUrl"); got != args.String(0) {
			return stepdef.Failf("baseUrl %q, want %q", got, args.String(0))
		}
		return nil
	}); err != nil {
		t.Fatal(err)
	}
	tmp := t.TempDir()
	envPath := filepath.Join(tmp, "local.env")
	if err := os.WriteFile(envPath, []byte("# local\nbaseUrl: http://localhost:9000\n"), 0o644); err != nil {
		t.Fatal(err)
	}
	path := writeFeature(t, tmp, "env.feature", `Feature: env
  Scenario: seeded
    Then the base URL is "http://localhost:9000"
`)
	sum, err := newRunner(t, reg).RunFile(context.Background(), path, RunOptions{EnvPath: envPath})
	if err != nil {
		t.Fatalf("run: %v", err)
	}
	if sum.Passed != 1 {
		t.Fatalf("summary %+v: %+v", sum, sum.Scenarios[0])
	}

	// --var style overrides win over the env file.
	sum, err = newRunner(t, reg).RunFile(context.Background(), path, RunOptions{
		EnvPath: envPath,
		Vars:    map[string]string{"baseUrl": "http://other"},
	})
	if err != nil {
		t.Fatalf("run: %v", err)
	}
	if sum.Failed != 1 {
		t.Fatalf("override not applied: %+v", sum.Scenarios[0])
	}
}
