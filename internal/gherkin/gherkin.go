// Package gherkin parses line-oriented feature descriptions into an
// immutable document model: Feature > Scenario > Step, with optional tags
// and a Background block whose steps apply to every scenario.
package gherkin

import (
	"bufio"
	"fmt"
	"io"
	"os"
	"path/filepath"
	"strings"
)

// Keyword is the literal step keyword as written in the feature file.
type Keyword string

// Step keywords. And and But inherit the role of the preceding primary step.
const (
	Given Keyword = "Given"
	When  Keyword = "When"
	Then  Keyword = "Then"
	And   Keyword = "And"
	But   Keyword = "But"
)

// Role is the effective semantic role of a step after conjunction
// inheritance: a setup (Given), an action (When) or an assertion (Then).
type Role int

const (
	// RoleNone marks an unresolved role. Step definitions registered with
	// RoleNone match steps of any role.
	RoleNone Role = iota
	// RoleGiven marks setup steps.
	RoleGiven
	// RoleWhen marks action steps.
	RoleWhen
	// RoleThen marks assertion steps.
	RoleThen
)

func (r Role) String() string {
	switch r {
	case RoleGiven:
		return "Given"
	case RoleWhen:
		return "When"
	case RoleThen:
		return "Then"
	default:
		return "Any"
	}
}

// Step is a single Given/When/Then/And/But line.
type Step struct {
	Keyword Keyword
	Role    Role
	Text    string
	Line    int
}

// Scenario is an ordered sequence of steps describing one test case.
type Scenario struct {
	Name  string
	Tags  []string
	Steps []Step
	Line  int
}

// Feature is a named grouping of scenarios. Background steps, when present,
// run before the steps of every scenario in the feature.
type Feature struct {
	Name       string
	Tags       []string
	Background []Step
	Scenarios  []Scenario
	Line       int
}

// Document is the parse result for one feature file.
type Document struct {
	Path     string
	Features []Feature
}

// ParseError describes malformed feature text. It is fatal to the file it
// names; other files in the same run are unaffected.
type ParseError struct {
	Path string
	Line int
	Msg  string
}

func (e *ParseError) Error() string {
	if e.Path == "" {
		return fmt.Sprintf("line %d: %s", e.Line, e.Msg)
	}
	return fmt.Sprintf("%s:%d: %s", e.Path, e.Line, e.Msg)
}

// ParseFile reads and parses a single .feature file.
func ParseFile(path string) (Document, error) {
	f, err := os.Open(path)
	if err != nil {
		return Document{}, err
	}
	defer f.Close()
	return Parse(path, f)
}

// ParseString parses feature text held in memory. The path is only used in
// error messages and the resulting document.
func ParseString(path, text string) (Document, error) {
	return Parse(path, strings.NewReader(text))
}

type parserState int

const (
	stateTop parserState = iota
	stateFeature
	stateBackground
	stateScenario
)

// Parse scans the reader top to bottom. Blank lines and #-comments are
// ignored; @-lines accumulate tags for the next Feature or Scenario header;
// any other non-blank line that is not a header or a step is an error.
func Parse(path string, r io.Reader) (Document, error) {
	doc := Document{Path: path}
	scanner := bufio.NewScanner(r)

	var (
		state       = stateTop
		feature     *Feature
		scenario    *Scenario
		pendingTags []string
		lastRole    Role
		lineNo      int
	)

	fail := func(msg string) (Document, error) {
		return Document{}, &ParseError{Path: path, Line: lineNo, Msg: msg}
	}

	closeScenario := func() *ParseError {
		if scenario == nil {
			return nil
		}
		if len(scenario.Steps) == 0 {
			return &ParseError{Path: path, Line: scenario.Line, Msg: fmt.Sprintf("scenario %q has no steps", scenario.Name)}
		}
		feature.Scenarios = append(feature.Scenarios, *scenario)
		scenario = nil
		return nil
	}
	closeFeature := func() *ParseError {
		if feature == nil {
			return nil
		}
		if err := closeScenario(); err != nil {
			return err
		}
		if len(feature.Scenarios) == 0 {
			return &ParseError{Path: path, Line: feature.Line, Msg: fmt.Sprintf("feature %q has no scenarios", feature.Name)}
		}
		doc.Features = append(doc.Features, *feature)
		feature = nil
		return nil
	}

	for scanner.Scan() {
		lineNo++
		line := strings.TrimSpace(scanner.Text())
		if line == "" || strings.HasPrefix(line, "#") {
			continue
		}

		if strings.HasPrefix(line, "@") {
			tags, ok := parseTagLine(line)
			if !ok {
				return fail("malformed tag line")
			}
			pendingTags = append(pendingTags, tags...)
			continue
		}

		switch {
		case strings.HasPrefix(line, "Feature:"):
			if err := closeFeature(); err != nil {
				return Document{}, err
			}
			feature = &Feature{
				Name: strings.TrimSpace(strings.TrimPrefix(line, "Feature:")),
				Tags: pendingTags,
				Line: lineNo,
			}
			pendingTags = nil
			state = stateFeature
			continue

		case strings.HasPrefix(line, "Background:"):
			if feature == nil {
				return fail("Background outside a Feature")
			}
			if len(pendingTags) > 0 {
				return fail("tags are not allowed on Background")
			}
			if len(feature.Scenarios) > 0 || scenario != nil {
				return fail("Background must precede all Scenarios")
			}
			if feature.Background != nil {
				return fail("duplicate Background")
			}
			feature.Background = []Step{}
			lastRole = RoleNone
			state = stateBackground
			continue

		case strings.HasPrefix(line, "Scenario:"):
			if feature == nil {
				return fail("Scenario outside a Feature")
			}
			if err := closeScenario(); err != nil {
				return Document{}, err
			}
			scenario = &Scenario{
				Name: strings.TrimSpace(strings.TrimPrefix(line, "Scenario:")),
				Tags: append(append([]string{}, feature.Tags...), pendingTags...),
				Line: lineNo,
			}
			pendingTags = nil
			lastRole = RoleNone
			state = stateScenario
			continue
		}

		keyword, text, ok := splitStepLine(line)
		if !ok {
			return fail(fmt.Sprintf("unrecognized line %q", line))
		}
		if len(pendingTags) > 0 {
			return fail("tags are not allowed on steps")
		}

		role := keywordRole(keyword)
		if role == RoleNone {
			if lastRole == RoleNone {
				return fail(fmt.Sprintf("%s step has no preceding Given/When/Then to inherit from", keyword))
			}
			role = lastRole
		}
		lastRole = role
		step := Step{Keyword: keyword, Role: role, Text: text, Line: lineNo}

		switch state {
		case stateBackground:
			feature.Background = append(feature.Background, step)
		case stateScenario:
			scenario.Steps = append(scenario.Steps, step)
		default:
			return fail("step line before any Scenario header")
		}
	}
	if err := scanner.Err(); err != nil {
		return Document{}, err
	}
	if len(pendingTags) > 0 {
		return Document{}, &ParseError{Path: path, Line: lineNo, Msg: "dangling tags at end of file"}
	}
	if err := closeFeature(); err != nil {
		return Document{}, err
	}
	if len(doc.Features) == 0 {
		return Document{}, &ParseError{Path: path, Line: lineNo, Msg: "no Feature found"}
	}
	return doc, nil
}

func parseTagLine(line string) ([]string, bool) {
	var tags []string
	for _, field := range strings.Fields(line) {
		name, ok := strings.CutPrefix(field, "@")
		if !ok || name == "" {
			return nil, false
		}
		tags = append(tags, name)
	}
	return tags, true
}

func splitStepLine(line string) (Keyword, string, bool) {
	word, rest, found := strings.Cut(line, " ")
	if !found {
		return "", "", false
	}
	switch Keyword(word) {
	case Given, When, Then, And, But:
		return Keyword(word), strings.TrimSpace(rest), true
	}
	return "", "", false
}

func keywordRole(k Keyword) Role {
	switch k {
	case Given:
		return RoleGiven
	case When:
		return RoleWhen
	case Then:
		return RoleThen
	default:
		return RoleNone
	}
}

// Source renders the document back to canonical feature text. Parsing the
// output yields a structurally identical document.
func (d Document) Source() string {
	var sb strings.Builder
	for i, f := range d.Features {
		if i > 0 {
			sb.WriteString("\n")
		}
		writeTags(&sb, "", f.Tags)
		fmt.Fprintf(&sb, "Feature: %s\n", f.Name)
		if len(f.Background) > 0 {
			sb.WriteString("\n  Background:\n")
			writeSteps(&sb, f.Background)
		}
		for _, sc := range f.Scenarios {
			sb.WriteString("\n")
			// Feature tags are inherited; only scenario-local tags serialize.
			writeTags(&sb, "  ", localTags(f.Tags, sc.Tags))
			fmt.Fprintf(&sb, "  Scenario: %s\n", sc.Name)
			writeSteps(&sb, sc.Steps)
		}
	}
	return sb.String()
}

func writeTags(sb *strings.Builder, indent string, tags []string) {
	if len(tags) == 0 {
		return
	}
	sb.WriteString(indent)
	for i, t := range tags {
		if i > 0 {
			sb.WriteString(" ")
		}
		sb.WriteString("@" + t)
	}
	sb.WriteString("\n")
}

func writeSteps(sb *strings.Builder, steps []Step) {
	for _, s := range steps {
		fmt.Fprintf(sb, "    %s %s\n", s.Keyword, s.Text)
	}
}

func localTags(featureTags, scenarioTags []string) []string {
	if len(scenarioTags) < len(featureTags) {
		return scenarioTags
	}
	return scenarioTags[len(featureTags):]
}

// DiscoverFeatures walks a folder and parses every *.feature file in
// lexical path order. Files that fail to parse are reported in the second
// return value and do not affect the rest of the walk.
func DiscoverFeatures(folder string, recursive bool) ([]Document, []error) {
	var (
		docs     []Document
		parseErr []error
	)
	rootDepth := strings.Count(filepath.Clean(folder), string(os.PathSeparator))
	walkErr := filepath.WalkDir(folder, func(path string, d os.DirEntry, err error) error {
		if err != nil {
			return err
		}
		if d.IsDir() {
			if !recursive && strings.Count(filepath.Clean(path), string(os.PathSeparator)) > rootDepth {
				return filepath.SkipDir
			}
			return nil
		}
		if !strings.HasSuffix(strings.ToLower(d.Name()), ".feature") {
			return nil
		}
		doc, perr := ParseFile(path)
		if perr != nil {
			parseErr = append(parseErr, perr)
			return nil
		}
		docs = append(docs, doc)
		return nil
	})
	if walkErr != nil {
		parseErr = append(parseErr, walkErr)
	}
	return docs, parseErr
}
