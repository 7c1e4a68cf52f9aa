package httpsteps

import (
	"context"
	"encoding/json"
	"io"
	"net/http"
	"net/http/httptest"
	"os"
	"path/filepath"
	"testing"

	"pkt.systems/gherk/internal/engine"
	"pkt.systems/gherk/internal/stepdef"
	"pkt.systems/pslog"
)

func apiServer(t *testing.T) *httptest.Server {
	t.Helper()
	mux := http.NewServeMux()
	mux.HandleFunc("/", func(w http.ResponseWriter, r *http.Request) {
		w.Header().Set("Content-Type", "application/json")
		io.WriteString(w, `{"service":"ok"}`)
	})
	mux.HandleFunc("/users/1", func(w http.ResponseWriter, r *http.Request) {
		w.Header().Set("Content-Type", "application/json")
		io.WriteString(w, `{"id":1,"name":"Leanne Graham","email":"leanne@example.com"}`)
	})
	mux.HandleFunc("/posts", func(w http.ResponseWriter, r *http.Request) {
		if r.Method != http.MethodPost {
			w.WriteHeader(http.StatusMethodNotAllowed)
			return
		}
		var payload map[string]any
		if err := json.NewDecoder(r.Body).Decode(&payload); err != nil {
			w.WriteHeader(http.StatusBadRequest)
			return
		}
		payload["id"] = 101
		w.Header().Set("Content-Type", "application/json")
		w.WriteHeader(http.StatusCreated)
		json.NewEncoder(w).Encode(payload)
	})
	srv := httptest.NewServer(mux)
	t.Cleanup(srv.Close)
	return srv
}

func runFeature(t *testing.T, baseURL, text string) engine.RunSummary {
	t.Helper()
	reg := stepdef.NewRegistry()
	if err := Register(reg, Options{BaseURL: baseURL}); err != nil {
		t.Fatalf("register: %v", err)
	}
	logger := pslog.NewWithOptions(os.Stdout, pslog.Options{MinLevel: pslog.ErrorLevel})
	g, err := engine.New(context.Background(), engine.WithRegistry(reg), engine.WithLogger(logger))
	if err != nil {
		t.Fatalf("new: %v", err)
	}
	tmp := t.TempDir()
	path := filepath.Join(tmp, "api.feature")
	if err := os.WriteFile(path, []byte(text), 0o644); err != nil {
		t.Fatal(err)
	}
	sum, err := g.RunFile(context.Background(), path, engine.RunOptions{})
	if err != nil {
		t.Fatalf("run: %v", err)
	}
	return sum
}

func TestGetUserScenario(t *testing.T) {
	srv := apiServer(t)
	sum := runFeature(t, srv.URL, `Feature: Get user
  Scenario: Fetch user 1
    Given I have access to the test API
    When I make a GET request to endpoint "users/1"
    Then I should receive status code 200
    And the response should contain user id 1
`)
	if sum.Passed != 1 {
		t.Fatalf("summary %+v: %+v", sum, sum.Scenarios[0])
	}
	res := sum.Scenarios[0]
	if len(res.Steps) != 4 {
		t.Fatalf("steps: %d", len(res.Steps))
	}
	for i, sr := range res.Steps {
		if sr.Status != engine.StepPassed {
			t.Fatalf("step %d %q: %v (%s)", i, sr.Text, sr.Status, sr.Error)
		}
	}
}

func TestStatusMismatchIsAssertionFailure(t *testing.T) {
	srv := apiServer(t)
	sum := runFeature(t, srv.URL, `Feature: Get user
  Scenario: wrong expectation
    When I make a GET request to endpoint "users/1"
    Then I should receive status code 404
`)
	res := sum.Scenarios[0]
	if res.Status != engine.ScenarioFailed {
		t.Fatalf("status %v (%s)", res.Status, res.Error)
	}
	if res.Steps[1].Status != engine.StepFailed {
		t.Fatalf("step status %v", res.Steps[1].Status)
	}
}

func TestTransportErrorIsErroredNotFailed(t *testing.T) {
	// Closed port: the request step errors, it does not assert.
	sum := runFeature(t, "http://127.0.0.1:1", `Feature: down
  Scenario: unreachable
    When I make a GET request to endpoint "users/1"
    Then I should receive status code 200
`)
	res := sum.Scenarios[0]
	if res.Status != engine.ScenarioErrored {
		t.Fatalf("status %v", res.Status)
	}
	if res.Steps[0].Status != engine.StepErrored || res.Steps[1].Status != engine.StepSkipped {
		t.Fatalf("steps %+v", res.Steps)
	}
}

func TestPostAndJQAssertion(t *testing.T) {
	srv := apiServer(t)
	sum := runFeature(t, srv.URL, `Feature: Create post
  Scenario: create
    When I make a POST request to endpoint "posts" with body "{\"title\":\"hello\"}"
    Then I should receive status code 201
    And the response JSON at ".id" should equal "101"
    And the response JSON at ".title" should equal "hello"
`)
	if sum.Passed != 1 {
		t.Fatalf("summary %+v: %+v", sum, sum.Scenarios[0])
	}
}

func TestExprAssertion(t *testing.T) {
	srv := apiServer(t)
	sum := runFeature(t, srv.URL, `Feature: expressions
  Scenario: boolean env
    When I make a GET request to endpoint "users/1"
    Then the expression "status == 200 && body.id == 1" is true
`)
	if sum.Passed != 1 {
		t.Fatalf("summary %+v: %+v", sum, sum.Scenarios[0])
	}

	sum = runFeature(t, srv.URL, `Feature: expressions
  Scenario: false expression
    When I make a GET request to endpoint "users/1"
    Then the expression "status == 500" is true
`)
	if sum.Scenarios[0].Status != engine.ScenarioFailed {
		t.Fatalf("false expression should fail the scenario: %+v", sum.Scenarios[0])
	}
}

func TestVariableStep(t *testing.T) {
	srv := apiServer(t)
	sum := runFeature(t, srv.URL, `Feature: vars
  Scenario: set and read
    Given the variable greeting is "hi"
    Then the expression "greeting == 'hi'" is true
`)
	if sum.Passed != 1 {
		t.Fatalf("summary %+v: %+v", sum, sum.Scenarios[0])
	}
}

func TestJQScalarRendering(t *testing.T) {
	if got := jqScalar(float64(7)); got != int64(7) {
		t.Fatalf("whole float: %v (%T)", got, got)
	}
	if got := jqScalar(1.25); got != 1.25 {
		t.Fatalf("fraction: %v", got)
	}
	if got := jqScalar("x"); got != "x" {
		t.Fatalf("passthrough: %v", got)
	}
}
