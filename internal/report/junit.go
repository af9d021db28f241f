package report

import (
	"cmp"
	"encoding/xml"
	"fmt"
	"io"
	"os"
	"runtime"
	"slices"
	"time"

	"github.com/Iron-Ham/gauntlet/internal/testunit"
)

type junitSuites struct {
	XMLName   xml.Name     `xml:"testsuites"`
	Name      string       `xml:"name,attr"`
	Tests     int          `xml:"tests,attr"`
	Failures  int          `xml:"failures,attr"`
	Errors    int          `xml:"errors,attr"`
	Skipped   int          `xml:"skipped,attr"`
	Time      string       `xml:"time,attr"`
	Timestamp string       `xml:"timestamp,attr"`
	Suites    []junitSuite `xml:"testsuite"`
}

type junitSuite struct {
	Name       string          `xml:"name,attr"`
	Tests      int             `xml:"tests,attr"`
	Failures   int             `xml:"failures,attr"`
	Errors     int             `xml:"errors,attr"`
	Skipped    int             `xml:"skipped,attr"`
	Time       string          `xml:"time,attr"`
	Timestamp  string          `xml:"timestamp,attr"`
	Hostname   string          `xml:"hostname,attr"`
	Properties []junitProperty `xml:"properties>property"`
	Cases      []junitCase     `xml:"testcase"`
}

type junitProperty struct {
	Name  string `xml:"name,attr"`
	Value string `xml:"value,attr"`
}

type junitCase struct {
	Name      string        `xml:"name,attr"`
	Classname string        `xml:"classname,attr"`
	Time      string        `xml:"time,attr"`
	Failure   *junitProblem `xml:"failure,omitempty"`
	Error     *junitProblem `xml:"error,omitempty"`
	Skipped   *junitProblem `xml:"skipped,omitempty"`
	SystemOut string        `xml:"system-out,omitempty"`
}

type junitProblem struct {
	Message string `xml:"message,attr"`
	Type    string `xml:"type,attr,omitempty"`
	Body    string `xml:",chardata"`
}

// tally counts one record into the JUnit totals. Timeouts and cancellations
// are errors, not failures.
type tally struct {
	tests, failures, errors, skipped int
	time                             time.Duration
}

func (t *tally) add(rec Record) {
	t.tests++
	t.time += rec.Duration
	switch rec.State {
	case testunit.StateFailed:
		t.failures++
	case testunit.StateTimedOut, testunit.StateCancelled, testunit.StateNotStarted, testunit.StateRunning:
		t.errors++
	case testunit.StateSkipped:
		t.skipped++
	}
}

// WriteJUnit renders rep as JUnit XML with one testsuite per assembly.
func WriteJUnit(w io.Writer, rep *Report) error {
	hostname, _ := os.Hostname()
	timestamp := rep.Started
	if timestamp.IsZero() {
		timestamp = time.Now()
	}
	stamp := timestamp.Format(time.RFC3339)

	byAssembly := make(map[string][]Record)
	for _, rec := range rep.Units {
		name := cmp.Or(rec.Assembly, "gauntlet")
		byAssembly[name] = append(byAssembly[name], rec)
	}
	names := make([]string, 0, len(byAssembly))
	for name := range byAssembly {
		names = append(names, name)
	}
	slices.Sort(names)

	doc := junitSuites{Name: "gauntlet", Timestamp: stamp}
	var total tally
	for _, name := range names {
		var t tally
		suite := junitSuite{
			Name:      name,
			Timestamp: stamp,
			Hostname:  hostname,
			Properties: []junitProperty{
				{Name: "run_id", Value: rep.RunID},
				{Name: "platform", Value: runtime.GOOS + "/" + runtime.GOARCH},
				{Name: "runtime", Value: runtime.Version()},
			},
		}
		for _, rec := range byAssembly[name] {
			t.add(rec)
			total.add(rec)
			suite.Cases = append(suite.Cases, junitTestCase(rec))
		}
		suite.Tests, suite.Failures, suite.Errors, suite.Skipped = t.tests, t.failures, t.errors, t.skipped
		suite.Time = seconds(t.time)
		doc.Suites = append(doc.Suites, suite)
	}
	doc.Tests, doc.Failures, doc.Errors, doc.Skipped = total.tests, total.failures, total.errors, total.skipped
	doc.Time = seconds(total.time)

	if _, err := io.WriteString(w, xml.Header); err != nil {
		return err
	}
	enc := xml.NewEncoder(w)
	enc.Indent("", "  ")
	if err := enc.Encode(doc); err != nil {
		return err
	}
	_, err := io.WriteString(w, "\n")
	return err
}

func junitTestCase(rec Record) junitCase {
	tc := junitCase{
		Name:      rec.Name,
		Classname: cmp.Or(rec.Class, "UnknownClass"),
		Time:      seconds(rec.Duration),
		SystemOut: rec.Output,
	}
	switch rec.State {
	case testunit.StateFailed:
		tc.Failure = problem(rec.Error, "Test failed", rec.Category)
	case testunit.StateTimedOut:
		tc.Error = problem(rec.Error, "Test timed out", "Timeout")
	case testunit.StateCancelled:
		tc.Error = problem("Test was cancelled", "", "Cancelled")
	case testunit.StateSkipped:
		tc.Skipped = problem(rec.SkipReason, "Test skipped", "")
	case testunit.StateNotStarted, testunit.StateRunning:
		tc.Error = problem("Test never finished", "", "InProgress")
	}
	return tc
}

func problem(message, fallback, kind string) *junitProblem {
	message = cmp.Or(message, fallback)
	return &junitProblem{Message: message, Type: kind, Body: message}
}

func seconds(d time.Duration) string {
	return fmt.Sprintf("%.3f", d.Seconds())
}
