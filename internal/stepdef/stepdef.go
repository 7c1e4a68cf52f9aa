// Package stepdef holds the step definition registry and matcher. Patterns
// are compiled at registration time so that placeholder mistakes surface
// when a suite wires its steps, not in the middle of a run.
package stepdef

import (
	"context"
	"errors"
	"fmt"
	"regexp"
	"strconv"
	"strings"
	"sync"

	"pkt.systems/gherk/internal/gherkin"
)

// Action is the executable side of a step definition. It receives the
// scenario scope and the parameters extracted from the step text. Returning
// an AssertionError marks the step Failed; any other error marks it Errored.
type Action func(ctx context.Context, sc *Scope, args Args) error

// Args carries the typed parameters extracted from a matched step, in
// placeholder order.
type Args []any

// Len reports the number of extracted parameters.
func (a Args) Len() int { return len(a) }

// String returns parameter i as a string.
func (a Args) String(i int) string {
	if i < 0 || i >= len(a) {
		return ""
	}
	if s, ok := a[i].(string); ok {
		return s
	}
	return fmt.Sprint(a[i])
}

// Int returns parameter i as an int. Zero when the parameter is not numeric.
func (a Args) Int(i int) int {
	if i < 0 || i >= len(a) {
		return 0
	}
	switch v := a[i].(type) {
	case int:
		return v
	case float64:
		return int(v)
	}
	return 0
}

// Float returns parameter i as a float64.
func (a Args) Float(i int) float64 {
	if i < 0 || i >= len(a) {
		return 0
	}
	switch v := a[i].(type) {
	case float64:
		return v
	case int:
		return float64(v)
	}
	return 0
}

// AssertionError marks an expected, comparison-style failure inside a step
// action. The executor reports it as Failed rather than Errored.
type AssertionError struct {
	Msg string
}

func (e *AssertionError) Error() string { return e.Msg }

// Failf builds an AssertionError with a formatted comparison detail.
func Failf(format string, args ...any) error {
	return &AssertionError{Msg: fmt.Sprintf(format, args...)}
}

// IsAssertion reports whether err is (or wraps) an AssertionError.
func IsAssertion(err error) bool {
	var ae *AssertionError
	return errors.As(err, &ae)
}

// DuplicateDefinitionError is returned when an identical pattern is
// registered twice for overlapping roles.
type DuplicateDefinitionError struct {
	Role    gherkin.Role
	Pattern string
}

func (e *DuplicateDefinitionError) Error() string {
	return fmt.Sprintf("duplicate step definition for role %s: %q", e.Role, e.Pattern)
}

// UndefinedStepError is returned when no registered pattern matches a step.
type UndefinedStepError struct {
	Role gherkin.Role
	Text string
}

func (e *UndefinedStepError) Error() string {
	return fmt.Sprintf("no step definition matches %s step %q", e.Role, e.Text)
}

// AmbiguousMatchError is returned when more than one pattern matches a
// step. Ambiguity is always an error; registration order never breaks ties.
type AmbiguousMatchError struct {
	Role     gherkin.Role
	Text     string
	Patterns []string
}

func (e *AmbiguousMatchError) Error() string {
	return fmt.Sprintf("%s step %q matches %d definitions: %s",
		e.Role, e.Text, len(e.Patterns), strings.Join(e.Patterns, " | "))
}

type argKind int

const (
	kindString argKind = iota
	kindWord
	kindInt
	kindFloat
)

// Definition pairs a compiled pattern with its action.
type Definition struct {
	Role    gherkin.Role
	Pattern string

	re     *regexp.Regexp
	kinds  []argKind
	action Action
}

// Registry is the process-wide table of step definitions. It is populated
// at startup and must be treated as read-only once execution starts, which
// is what makes parallel scenario execution safe.
type Registry struct {
	mu   sync.RWMutex
	defs []*Definition
}

// NewRegistry returns an empty registry.
func NewRegistry() *Registry {
	return &Registry{}
}

// Register compiles the pattern and adds a definition for the role. Use
// gherkin.RoleNone to match steps of any role. Placeholders: {string}
// (quoted), {word}, {int}, {float}.
func (r *Registry) Register(role gherkin.Role, pattern string, action Action) error {
	if action == nil {
		return fmt.Errorf("register %q: nil action", pattern)
	}
	re, kinds, err := compilePattern(pattern)
	if err != nil {
		return fmt.Errorf("register %q: %w", pattern, err)
	}
	r.mu.Lock()
	defer r.mu.Unlock()
	for _, d := range r.defs {
		if d.Pattern == pattern && rolesOverlap(d.Role, role) {
			return &DuplicateDefinitionError{Role: role, Pattern: pattern}
		}
	}
	r.defs = append(r.defs, &Definition{Role: role, Pattern: pattern, re: re, kinds: kinds, action: action})
	return nil
}

// Given registers a setup step definition.
func (r *Registry) Given(pattern string, action Action) error {
	return r.Register(gherkin.RoleGiven, pattern, action)
}

// When registers an action step definition.
func (r *Registry) When(pattern string, action Action) error {
	return r.Register(gherkin.RoleWhen, pattern, action)
}

// Then registers an assertion step definition.
func (r *Registry) Then(pattern string, action Action) error {
	return r.Register(gherkin.RoleThen, pattern, action)
}

// Len reports the number of registered definitions.
func (r *Registry) Len() int {
	r.mu.RLock()
	defer r.mu.RUnlock()
	return len(r.defs)
}

// Match resolves a parsed step to exactly one definition with its extracted
// parameters, or fails with UndefinedStepError / AmbiguousMatchError.
// Matching considers the step's effective role, never its literal keyword.
func (r *Registry) Match(step gherkin.Step) (*Definition, Args, error) {
	r.mu.RLock()
	defer r.mu.RUnlock()

	var (
		found    *Definition
		captures []string
		patterns []string
	)
	for _, d := range r.defs {
		if !rolesOverlap(d.Role, step.Role) {
			continue
		}
		m := d.re.FindStringSubmatch(step.Text)
		if m == nil {
			continue
		}
		patterns = append(patterns, d.Pattern)
		found = d
		captures = m[1:]
	}
	switch len(patterns) {
	case 0:
		return nil, nil, &UndefinedStepError{Role: step.Role, Text: step.Text}
	case 1:
	default:
		return nil, nil, &AmbiguousMatchError{Role: step.Role, Text: step.Text, Patterns: patterns}
	}

	args, err := convertArgs(found.kinds, captures)
	if err != nil {
		return nil, nil, fmt.Errorf("step %q: %w", step.Text, err)
	}
	return found, args, nil
}

// Invoke runs the definition's action.
func (d *Definition) Invoke(ctx context.Context, sc *Scope, args Args) error {
	return d.action(ctx, sc, args)
}

func rolesOverlap(a, b gherkin.Role) bool {
	return a == b || a == gherkin.RoleNone || b == gherkin.RoleNone
}

var placeholderPattern = regexp.MustCompile(`\{[a-z]+\}`)

func compilePattern(pattern string) (*regexp.Regexp, []argKind, error) {
	var (
		sb    strings.Builder
		kinds []argKind
		last  int
		bad   error
	)
	sb.WriteString("^")
	for _, loc := range placeholderPattern.FindAllStringIndex(pattern, -1) {
		sb.WriteString(regexp.QuoteMeta(pattern[last:loc[0]]))
		switch pattern[loc[0]:loc[1]] {
		case "{string}":
			// Quoted text; \" and \\ escapes allowed inside.
			sb.WriteString(`"((?:[^"\\]|\\.)*)"`)
			kinds = append(kinds, kindString)
		case "{word}":
			sb.WriteString(`(\S+)`)
			kinds = append(kinds, kindWord)
		case "{int}":
			sb.WriteString(`(-?\d+)`)
			kinds = append(kinds, kindInt)
		case "{float}":
			sb.WriteString(`(-?\d+(?:\.\d+)?)`)
			kinds = append(kinds, kindFloat)
		default:
			bad = fmt.Errorf("unknown placeholder %s", pattern[loc[0]:loc[1]])
		}
		last = loc[1]
	}
	if bad != nil {
		return nil, nil, bad
	}
	sb.WriteString(regexp.QuoteMeta(pattern[last:]))
	sb.WriteString("$")
	re, err := regexp.Compile(sb.String())
	if err != nil {
		return nil, nil, err
	}
	return re, kinds, nil
}

func convertArgs(kinds []argKind, captures []string) (Args, error) {
	args := make(Args, 0, len(captures))
	for i, c := range captures {
		switch kinds[i] {
		case kindInt:
			n, err := strconv.Atoi(c)
			if err != nil {
				return nil, fmt.Errorf("parameter %d: %w", i, err)
			}
			args = append(args, n)
		case kindFloat:
			f, err := strconv.ParseFloat(c, 64)
			if err != nil {
				return nil, fmt.Errorf("parameter %d: %w", i, err)
			}
			args = append(args, f)
		case kindString:
			args = append(args, unescape(c))
		default:
			args = append(args, c)
		}
	}
	return args, nil
}

func unescape(s string) string {
	if !strings.Contains(s, `\`) {
		return s
	}
	var b strings.Builder
	for i := 0; i < len(s); i++ {
		if s[i] == '\\' && i+1 < len(s) {
			i++
		}
		b.WriteByte(s[i])
	}
	return b.String()
}
