package monitor

import (
	"encoding/xml"
	"fmt"
	"os"
)

// JUnit-style XML report, one testsuite per instance, one testcase
// per recorded outcome. CI systems one level up consume this format
// directly.

type xmlFailure struct {
	Message string `xml:"message,attr"`
}

type xmlTestCase struct {
	Name      string      `xml:"name,attr"`
	Time      string      `xml:"time,attr"`
	Status    string      `xml:"status,attr"`
	Failure   *xmlFailure `xml:"failure,omitempty"`
	Error     *xmlFailure `xml:"error,omitempty"`
	SystemOut string      `xml:"system-out,omitempty"`
}

type xmlTestSuite struct {
	XMLName  xml.Name      `xml:"testsuite"`
	Name     string        `xml:"name,attr"`
	Tests    int           `xml:"tests,attr"`
	Failures int           `xml:"failures,attr"`
	Errors   int           `xml:"errors,attr"`
	Cases    []xmlTestCase `xml:"testcase"`
}

// WriteReport writes the JUnit XML for one monitored run.
func WriteReport(path, suiteName string, r *Results) error {
	suite := xmlTestSuite{
		Name:     suiteName,
		Tests:    r.ItemsRun,
		Failures: r.ItemsFailed,
		Errors:   r.Errors,
	}
	if suite.Tests < len(r.Cases) {
		// the aggregate line was lost; fall back to what we saw
		suite.Tests = len(r.Cases)
	}
	for _, c := range r.Cases {
		xc := xmlTestCase{
			Name:      c.Name,
			Time:      fmt.Sprintf("%.3f", c.Duration().Seconds()),
			Status:    c.Status,
			SystemOut: c.Output,
		}
		switch c.Status {
		case StatusFail:
			xc.Failure = &xmlFailure{Message: c.Message}
		case StatusError:
			xc.Error = &xmlFailure{Message: c.Message}
		}
		suite.Cases = append(suite.Cases, xc)
	}

	f, err := os.Create(path)
	if err != nil {
		return err
	}
	defer f.Close()

	_, err = f.WriteString(xml.Header)
	if err != nil {
		return err
	}
	enc := xml.NewEncoder(f)
	enc.Indent("", "  ")
	err = enc.Encode(suite)
	if err != nil {
		return err
	}
	_, err = f.WriteString("\n")
	return err
}
