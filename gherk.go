package gherk

import (
	"context"

	"pkt.systems/gherk/internal/engine"
	"pkt.systems/gherk/internal/gherkin"
	"pkt.systems/gherk/internal/httpsteps"
	"pkt.systems/gherk/internal/page"
	"pkt.systems/gherk/internal/scriptsteps"
	"pkt.systems/gherk/internal/stepdef"
	"pkt.systems/version"
)

// Public type aliases to the engine package

// Gherk exposes methods to run .feature files or folders.
type (
	Gherk = engine.Gherk
	// RunOptions configure a single run invocation.
	RunOptions = engine.RunOptions
	// StepResult captures the outcome of a single step.
	StepResult = engine.StepResult
	// ScenarioResult captures the outcome of a single scenario.
	ScenarioResult = engine.ScenarioResult
	// RunSummary aggregates scenario results from a run.
	RunSummary = engine.RunSummary
	// StepStatus is the terminal status of one step.
	StepStatus = engine.StepStatus
	// ScenarioStatus is the terminal status of one scenario.
	ScenarioStatus = engine.ScenarioStatus
	// Reporter receives scenario results in completion order.
	Reporter = engine.Reporter
	// ScenarioInfo carries scenario metadata provided to hooks.
	ScenarioInfo = engine.ScenarioInfo
	// BeforeScenarioHook runs with the fresh scope before each scenario.
	BeforeScenarioHook = engine.BeforeScenarioHook
	// AfterScenarioHook runs once per scenario after its result is known.
	AfterScenarioHook = engine.AfterScenarioHook
)

// Step definition surface

type (
	// Registry is the table of step definitions a run matches against.
	Registry = stepdef.Registry
	// Scope is the mutable per-scenario key/value store.
	Scope = stepdef.Scope
	// Args carries the typed parameters extracted from a matched step.
	Args = stepdef.Args
	// Action is the executable side of a step definition.
	Action = stepdef.Action
)

// Feature document surface

type (
	// Document is the parse result for one feature file.
	Document = gherkin.Document
	// Feature is a named grouping of scenarios.
	Feature = gherkin.Feature
	// Scenario is an ordered sequence of steps.
	Scenario = gherkin.Scenario
	// ParseError describes malformed feature text.
	ParseError = gherkin.ParseError
)

// Step statuses.
const (
	StepPassed    = engine.StepPassed
	StepFailed    = engine.StepFailed
	StepErrored   = engine.StepErrored
	StepSkipped   = engine.StepSkipped
	StepUndefined = engine.StepUndefined
	StepAmbiguous = engine.StepAmbiguous
)

// Scenario statuses.
const (
	ScenarioPassed    = engine.ScenarioPassed
	ScenarioFailed    = engine.ScenarioFailed
	ScenarioErrored   = engine.ScenarioErrored
	ScenarioSkipped   = engine.ScenarioSkipped
	ScenarioCancelled = engine.ScenarioCancelled
)

// Option tweaks engine construction.
type Option = engine.Option

var (
	// WithLogger supplies a custom pslog logger.
	WithLogger = engine.WithLogger
	// WithRegistry supplies the step definition registry for the run.
	WithRegistry = engine.WithRegistry
	// WithReporter attaches a reporting sink receiving per-scenario results.
	WithReporter = engine.WithReporter
	// WithTimeout sets a default per-step timeout.
	WithTimeout = engine.WithTimeout
	// WithWorkers bounds the parallel worker pool.
	WithWorkers = engine.WithWorkers
	// WithBeforeScenario registers a hook invoked before each scenario.
	WithBeforeScenario = engine.WithBeforeScenario
	// WithAfterScenario registers a hook invoked after each scenario.
	WithAfterScenario = engine.WithAfterScenario

	// NewRegistry returns an empty step definition registry.
	NewRegistry = stepdef.NewRegistry
	// Failf builds an assertion failure with a formatted comparison detail.
	Failf = stepdef.Failf
	// IsAssertion reports whether err marks an assertion failure.
	IsAssertion = stepdef.IsAssertion

	// ParseFeatureFile reads and parses a single .feature file.
	ParseFeatureFile = gherkin.ParseFile
	// ParseFeatureString parses feature text held in memory.
	ParseFeatureString = gherkin.ParseString

	// LoadScriptSteps evaluates JavaScript files declaring step definitions.
	LoadScriptSteps = scriptsteps.Load
)

// Built-in HTTP step library

// HTTPStepOptions configure the built-in HTTP step library.
type HTTPStepOptions = httpsteps.Options

// RegisterHTTPSteps installs the built-in HTTP step library.
var RegisterHTTPSteps = httpsteps.Register

// Page-object step library

type (
	// Page is one screen of the system under test.
	Page = page.Page
	// PageElement is one named, interactable element on a page.
	PageElement = page.Element
	// PageSet holds the pages available to a suite.
	PageSet = page.Set
)

var (
	// NewPageSet returns an empty page set.
	NewPageSet = page.NewSet
	// RegisterPageSteps installs the page-object step library.
	RegisterPageSteps = page.Register
)

// New constructs a Gherk instance.
func New(ctx context.Context, opts ...Option) (Gherk, error) {
	return engine.New(ctx, opts...)
}

// Version returns the current module version (best effort).
func Version() string {
	return moduleVersion(modulePath)
}

const modulePath = "pkt.systems/gherk"

var moduleVersion = version.ModuleVersion
