package gherk

import (
	"encoding/json"
	"encoding/xml"
	"os"
	"path/filepath"
	"strings"
	"testing"
	"time"
)

func sampleSummary() RunSummary {
	return RunSummary{
		RunID: "run-1",
		Scenarios: []ScenarioResult{
			{Feature: "Users", Name: "ok", FilePath: "users.feature", Status: ScenarioPassed, Duration: 1500 * time.Millisecond,
				Steps: []StepResult{{Keyword: "Given", Text: "I have access to the test API", Status: StepPassed, Duration: 100 * time.Millisecond}}},
			{Feature: "Users", Name: "wrong status", FilePath: "users.feature", Status: ScenarioFailed, Error: "expected 200, got 404", Duration: 500 * time.Millisecond},
			{Feature: "Users", Name: "broken", FilePath: "users.feature", Status: ScenarioErrored, Error: "dial tcp: connection refused", Duration: 200 * time.Millisecond},
			{Feature: "Users", Name: "filtered", FilePath: "users.feature", Status: ScenarioSkipped},
		},
		Total:        4,
		Passed:       1,
		Failed:       1,
		Errored:      1,
		Skipped:      1,
		TotalElapsed: 3 * time.Second,
	}
}

func TestWriteReportJSON(t *testing.T) {
	out := filepath.Join(t.TempDir(), "report.json")
	if err := WriteReportJSON(out, sampleSummary()); err != nil {
		t.Fatalf("write json: %v", err)
	}

	f, err := os.Open(out)
	if err != nil {
		t.Fatalf("open report: %v", err)
	}
	defer f.Close()

	var decoded reportSummary
	if err := json.NewDecoder(f).Decode(&decoded); err != nil {
		t.Fatalf("decode: %v", err)
	}
	if decoded.Failed != 1 || len(decoded.Scenarios) != 4 {
		t.Fatalf("unexpected decoded summary %+v", decoded)
	}
	if decoded.Scenarios[1].Status != "failed" {
		t.Fatalf("status should serialize as a string: %q", decoded.Scenarios[1].Status)
	}
	if decoded.Scenarios[0].Steps[0].Status != "passed" {
		t.Fatalf("step status %q", decoded.Scenarios[0].Steps[0].Status)
	}
}

func TestWriteReportJUnit(t *testing.T) {
	out := filepath.Join(t.TempDir(), "report.xml")
	if err := WriteReportJUnit(out, sampleSummary()); err != nil {
		t.Fatalf("write junit: %v", err)
	}

	data, err := os.ReadFile(out)
	if err != nil {
		t.Fatalf("read junit: %v", err)
	}

	var suite junitTestsuite
	if err := xml.Unmarshal(data, &suite); err != nil {
		t.Fatalf("unmarshal: %v", err)
	}
	if suite.Tests != 4 || suite.Failures != 1 || suite.Errors != 1 || suite.Skipped != 1 {
		t.Fatalf("unexpected suite %+v", suite)
	}
	if suite.Cases[1].Failure == nil || suite.Cases[1].Failure.Message != "expected 200, got 404" {
		t.Fatalf("failure case not recorded: %+v", suite.Cases[1])
	}
	// Errored scenarios must not be lumped in with assertion failures.
	if suite.Cases[2].Error == nil || suite.Cases[2].Failure != nil {
		t.Fatalf("errored case misreported: %+v", suite.Cases[2])
	}
	if suite.Cases[3].Skipped == nil {
		t.Fatalf("skipped case not recorded: %+v", suite.Cases[3])
	}
}

func TestWriteReportHTML(t *testing.T) {
	out := filepath.Join(t.TempDir(), "report.html")
	if err := WriteReportHTML(out, sampleSummary()); err != nil {
		t.Fatalf("write html: %v", err)
	}
	data, err := os.ReadFile(out)
	if err != nil {
		t.Fatalf("read html: %v", err)
	}
	html := string(data)
	for _, want := range []string{
		"Total: 4",
		`<span class="status-passed">passed</span>`,
		`<span class="status-errored">errored</span>`,
		"expected 200, got 404",
		"users.feature",
	} {
		if !strings.Contains(html, want) {
			t.Fatalf("html report missing %q:\n%s", want, html)
		}
	}
}

func TestWriteReportFormatDispatch(t *testing.T) {
	tmp := t.TempDir()
	sum := sampleSummary()
	if err := WriteReport("junit", filepath.Join(tmp, "r.xml"), sum); err != nil {
		t.Fatalf("junit: %v", err)
	}
	if err := WriteReport("", filepath.Join(tmp, "r.json"), sum); err != nil {
		t.Fatalf("default json: %v", err)
	}
	if err := WriteReport("yaml", filepath.Join(tmp, "r.yaml"), sum); err == nil {
		t.Fatalf("unknown format should error")
	}
}
