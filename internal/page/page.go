// Package page provides a page-object step library for UI-flavoured
// scenarios. A Page abstracts one screen of the system under test: it can
// open itself, report its title and expose named elements. Browser drivers
// stay outside this module; callers implement Page on top of whatever
// automation stack they use and register the pages in a Set.
package page

import (
	"context"
	"fmt"
	"sort"
	"strings"
	"sync"

	"pkt.systems/gherk/internal/stepdef"
)

// KeyPage is the scope key holding the name of the scenario's current page.
const KeyPage = "page"

// Element is one named, interactable element on a page.
type Element interface {
	Visible() bool
	Click() error
	Type(text string) error
}

// Page is one screen of the system under test.
type Page interface {
	Name() string
	Open(ctx context.Context) error
	Title() string
	// Element resolves a named element. An unknown name is an error.
	Element(name string) (Element, error)
}

// Set holds the pages available to a suite, keyed by Page.Name().
type Set struct {
	mu    sync.RWMutex
	pages map[string]Page
}

// NewSet returns an empty page set.
func NewSet() *Set {
	return &Set{pages: make(map[string]Page)}
}

// Add registers a page. Re-adding a name replaces the previous page.
func (s *Set) Add(p Page) {
	s.mu.Lock()
	defer s.mu.Unlock()
	s.pages[p.Name()] = p
}

// Get resolves a page by name.
func (s *Set) Get(name string) (Page, error) {
	s.mu.RLock()
	defer s.mu.RUnlock()
	p, ok := s.pages[name]
	if !ok {
		names := make([]string, 0, len(s.pages))
		for n := range s.pages {
			names = append(names, n)
		}
		sort.Strings(names)
		return nil, fmt.Errorf("unknown page %q (have: %s)", name, strings.Join(names, ", "))
	}
	return p, nil
}

// current resolves the scenario's current page from the scope.
func (s *Set) current(sc *stepdef.Scope) (Page, error) {
	name := sc.String(KeyPage)
	if name == "" {
		return nil, fmt.Errorf("no page opened yet")
	}
	return s.Get(name)
}

// Register installs the page-object step library backed by the given set.
func Register(reg *stepdef.Registry, set *Set) error {
	steps := []struct {
		register func(string, stepdef.Action) error
		pattern  string
		action   stepdef.Action
	}{
		{reg.Given, `I open the {word} page`, func(ctx context.Context, sc *stepdef.Scope, args stepdef.Args) error {
			return set.open(ctx, sc, args.String(0))
		}},
		{reg.When, `I navigate to the {word} page`, func(ctx context.Context, sc *stepdef.Scope, args stepdef.Args) error {
			return set.open(ctx, sc, args.String(0))
		}},
		{reg.Then, `the page title should contain {string}`, func(ctx context.Context, sc *stepdef.Scope, args stepdef.Args) error {
			p, err := set.current(sc)
			if err != nil {
				return err
			}
			if want := args.String(0); !strings.Contains(p.Title(), want) {
				return stepdef.Failf("page title %q does not contain %q", p.Title(), want)
			}
			return nil
		}},
		{reg.Then, `I should see the {word} element`, func(ctx context.Context, sc *stepdef.Scope, args stepdef.Args) error {
			el, err := set.element(sc, args.String(0))
			if err != nil {
				return err
			}
			if !el.Visible() {
				return stepdef.Failf("element %q is not visible", args.String(0))
			}
			return nil
		}},
		{reg.When, `I click the {word} element`, func(ctx context.Context, sc *stepdef.Scope, args stepdef.Args) error {
			el, err := set.element(sc, args.String(0))
			if err != nil {
				return err
			}
			return el.Click()
		}},
		{reg.When, `I type {string} into the {word} element`, func(ctx context.Context, sc *stepdef.Scope, args stepdef.Args) error {
			el, err := set.element(sc, args.String(1))
			if err != nil {
				return err
			}
			return el.Type(args.String(0))
		}},
	}
	for _, s := range steps {
		if err := s.register(s.pattern, s.action); err != nil {
			return err
		}
	}
	return nil
}

func (s *Set) open(ctx context.Context, sc *stepdef.Scope, name string) error {
	p, err := s.Get(name)
	if err != nil {
		return err
	}
	if err := p.Open(ctx); err != nil {
		return fmt.Errorf("open page %s: %w", name, err)
	}
	sc.Set(KeyPage, name)
	return nil
}

func (s *Set) element(sc *stepdef.Scope, name string) (Element, error) {
	p, err := s.current(sc)
	if err != nil {
		return nil, err
	}
	return p.Element(name)
}
