package gherk

import (
	"encoding/json"
	"encoding/xml"
	"fmt"
	"html/template"
	"os"
	"strings"
)

// JSON report DTOs: statuses render as strings so the file is useful
// outside this module.

type reportStep struct {
	Keyword  string `json:"keyword"`
	Text     string `json:"text"`
	Status   string `json:"status"`
	Error    string `json:"error,omitempty"`
	Duration string `json:"duration"`
}

type reportScenario struct {
	Feature  string       `json:"feature"`
	Name     string       `json:"name"`
	File     string       `json:"file"`
	Tags     []string     `json:"tags,omitempty"`
	Status   string       `json:"status"`
	Error    string       `json:"error,omitempty"`
	Duration string       `json:"duration"`
	Steps    []reportStep `json:"steps"`
}

type reportSummary struct {
	RunID       string           `json:"runId"`
	Total       int              `json:"total"`
	Passed      int              `json:"passed"`
	Failed      int              `json:"failed"`
	Errored     int              `json:"errored"`
	Skipped     int              `json:"skipped"`
	Cancelled   int              `json:"cancelled"`
	ParseErrors []string         `json:"parseErrors,omitempty"`
	Elapsed     string           `json:"elapsed"`
	Scenarios   []reportScenario `json:"scenarios"`
}

func buildReport(sum RunSummary) reportSummary {
	out := reportSummary{
		RunID:       sum.RunID,
		Total:       sum.Total,
		Passed:      sum.Passed,
		Failed:      sum.Failed,
		Errored:     sum.Errored,
		Skipped:     sum.Skipped,
		Cancelled:   sum.Cancelled,
		ParseErrors: sum.ParseErrors,
		Elapsed:     sum.TotalElapsed.String(),
	}
	for _, sc := range sum.Scenarios {
		rs := reportScenario{
			Feature:  sc.Feature,
			Name:     sc.Name,
			File:     sc.FilePath,
			Tags:     sc.Tags,
			Status:   sc.Status.String(),
			Error:    sc.Error,
			Duration: sc.Duration.String(),
		}
		for _, st := range sc.Steps {
			rs.Steps = append(rs.Steps, reportStep{
				Keyword:  st.Keyword,
				Text:     st.Text,
				Status:   st.Status.String(),
				Error:    st.Error,
				Duration: st.Duration.String(),
			})
		}
		out.Scenarios = append(out.Scenarios, rs)
	}
	return out
}

// WriteReportJSON writes a RunSummary to a JSON file.
func WriteReportJSON(path string, sum RunSummary) error {
	data, err := json.MarshalIndent(buildReport(sum), "", "  ")
	if err != nil {
		return err
	}
	return os.WriteFile(path, data, 0o644)
}

// Minimal JUnit reporter for CI compatibility.
type junitTestsuite struct {
	XMLName  xml.Name        `xml:"testsuite"`
	Name     string          `xml:"name,attr"`
	Tests    int             `xml:"tests,attr"`
	Failures int             `xml:"failures,attr"`
	Errors   int             `xml:"errors,attr"`
	Skipped  int             `xml:"skipped,attr"`
	Time     string          `xml:"time,attr"`
	Cases    []junitTestcase `xml:"testcase"`
}

type junitTestcase struct {
	Name      string        `xml:"name,attr"`
	Classname string        `xml:"classname,attr"`
	Time      string        `xml:"time,attr"`
	Failure   *junitFailure `xml:"failure,omitempty"`
	Error     *junitFailure `xml:"error,omitempty"`
	Skipped   *junitSkipped `xml:"skipped,omitempty"`
}

type junitFailure struct {
	Message string `xml:"message,attr"`
	Type    string `xml:"type,attr"`
	Body    string `xml:",chardata"`
}

type junitSkipped struct {
	Message string `xml:"message,attr,omitempty"`
}

// WriteReportJUnit writes a RunSummary to JUnit XML for CI consumers.
// Assertion failures count as failures, broken steps and hooks as errors,
// tag-filtered and cancelled scenarios as skipped.
func WriteReportJUnit(path string, sum RunSummary) error {
	ts := junitTestsuite{
		Name:     "gherk",
		Tests:    len(sum.Scenarios),
		Failures: sum.Failed,
		Errors:   sum.Errored,
		Skipped:  sum.Skipped + sum.Cancelled,
		Time:     fmt.Sprintf("%.3f", sum.TotalElapsed.Seconds()),
	}
	for _, sc := range sum.Scenarios {
		tc := junitTestcase{
			Name:      sc.Name,
			Classname: sc.FilePath,
			Time:      fmt.Sprintf("%.3f", sc.Duration.Seconds()),
		}
		switch sc.Status {
		case ScenarioFailed:
			tc.Failure = &junitFailure{Message: sc.Error, Type: "assertion", Body: sc.Error}
		case ScenarioErrored:
			tc.Error = &junitFailure{Message: sc.Error, Type: "error", Body: sc.Error}
		case ScenarioSkipped:
			tc.Skipped = &junitSkipped{}
		case ScenarioCancelled:
			tc.Skipped = &junitSkipped{Message: "cancelled"}
		}
		ts.Cases = append(ts.Cases, tc)
	}
	data, err := xml.MarshalIndent(ts, "", "  ")
	if err != nil {
		return err
	}
	data = append([]byte(xml.Header), data...)
	return os.WriteFile(path, data, 0o644)
}

var htmlTemplate = template.Must(template.New("report").Parse(`<!doctype html>
<html lang="en">
<head>
  <meta charset="UTF-8" />
  <title>gherk report</title>
  <style>
    body { font-family: Arial, sans-serif; margin: 16px; background: #fafafa; }
    h1 { margin-bottom: 8px; }
    .summary { margin-bottom: 16px; }
    table { width: 100%; border-collapse: collapse; background: #fff; }
    th, td { padding: 8px 10px; border: 1px solid #e0e0e0; font-size: 14px; }
    th { background: #f5f5f5; text-align: left; }
    .status-passed { color: #2e7d32; font-weight: 600; }
    .status-failed { color: #c62828; font-weight: 600; }
    .status-errored { color: #e65100; font-weight: 600; }
    .status-skipped { color: #9e9e9e; font-weight: 600; }
    .status-cancelled { color: #9e9e9e; font-weight: 600; }
    .mono { font-family: "SFMono-Regular", Consolas, "Liberation Mono", Menlo, monospace; font-size: 12px; }
  </style>
</head>
<body>
  <h1>gherk report</h1>
  <div class="summary">
    <div>Total: {{.Total}} &nbsp; Passed: {{.Passed}} &nbsp; Failed: {{.Failed}} &nbsp; Errored: {{.Errored}} &nbsp; Skipped: {{.Skipped}} &nbsp; Cancelled: {{.Cancelled}} &nbsp; Time: {{.Elapsed}}</div>
  </div>
  <table>
    <thead>
      <tr>
        <th>#</th>
        <th>Feature</th>
        <th>Scenario</th>
        <th>File</th>
        <th>Status</th>
        <th>Duration</th>
        <th>Error</th>
      </tr>
    </thead>
    <tbody>
      {{range $idx, $s := .Scenarios}}
      <tr>
        <td>{{$idx}}</td>
        <td>{{$s.Feature}}</td>
        <td>{{$s.Name}}</td>
        <td class="mono">{{$s.File}}</td>
        <td><span class="status-{{$s.Status}}">{{$s.Status}}</span></td>
        <td>{{$s.Duration}}</td>
        <td>{{if $s.Error}}<span class="mono">{{$s.Error}}</span>{{end}}</td>
      </tr>
      {{end}}
    </tbody>
  </table>
</body>
</html>`))

// WriteReportHTML renders a simple HTML table summary.
func WriteReportHTML(path string, sum RunSummary) error {
	f, err := os.Create(path)
	if err != nil {
		return err
	}
	defer f.Close()
	return htmlTemplate.Execute(f, buildReport(sum))
}

// WriteReport picks the reporter function by format.
func WriteReport(format, path string, sum RunSummary) error {
	switch strings.ToLower(format) {
	case "json", "":
		return WriteReportJSON(path, sum)
	case "junit":
		return WriteReportJUnit(path, sum)
	case "html":
		return WriteReportHTML(path, sum)
	default:
		return fmt.Errorf("unknown format %s", format)
	}
}
