package monitor

import (
	"time"
)

// Outcome of one test case.
const (
	StatusPass  = "pass"
	StatusFail  = "fail"
	StatusError = "error"
)

// A TestCase is one completed (or force-closed) test on the target.
type TestCase struct {
	Name    string
	Status  string
	Message string // failure or error text, if any
	Output  string // captured target output while the case ran
	Start   time.Time
	End     time.Time
}

// Duration is never negative, even with a coarse target clock.
func (c TestCase) Duration() time.Duration {
	d := c.End.Sub(c.Start)
	if d < 0 {
		return 0
	}
	return d
}

// Results accumulates the outcome of one monitored run. It is
// mutated line-by-line by rule handlers and finalized exactly once.
type Results struct {
	Finished     bool
	Reboots      int
	Errors       int
	ItemsRun     int
	ItemsFailed  int
	ItemsIgnored int
	Cases        []TestCase
	Current      *TestCase // in-flight case, nil between cases

	// Warnings collects non-fatal oddities (e.g. a test starting
	// while another was still open) for the session log.
	Warnings []string
}

// ExitCode is the monitor's return value: 0 is a clean pass,
// positive counts failures plus infrastructure trouble observed on
// the stream (reboots, errors).
func (r *Results) ExitCode() int {
	return r.ItemsFailed + r.Reboots + r.Errors
}

// StartCase opens a new in-flight test case. If one is already open
// it is dropped with a warning, not recorded: on some platforms the
// PASS/FAIL line of the previous case can be lost, and treating that
// as an error would fail runs that actually completed.
func (r *Results) StartCase(name string, now time.Time) {
	if r.Current != nil {
		r.Warnings = append(r.Warnings,
			"test "+name+" started while "+r.Current.Name+" was still running")
	}
	r.Current = &TestCase{Name: name, Start: now}
}

// EndCase closes the in-flight case with the given status. When no
// case is open (the Running line was lost) a case covering zero time
// is synthesized so the report still carries the outcome.
func (r *Results) EndCase(name, status, message string, now time.Time) {
	c := r.Current
	if c == nil || c.Name != name {
		if c != nil {
			r.Warnings = append(r.Warnings,
				"result for "+name+" arrived while "+c.Name+" was running")
		}
		c = &TestCase{Name: name, Start: now}
	}
	r.Current = nil
	c.Status = status
	c.Message = message
	c.End = now
	r.Cases = append(r.Cases, *c)
}

// AddError records an infrastructure-level failure (timeout,
// transport death) as an error outcome.
func (r *Results) AddError(message string, now time.Time) {
	r.Errors++
	r.Cases = append(r.Cases, TestCase{
		Name:    "monitor",
		Status:  StatusError,
		Message: message,
		Start:   now,
		End:     now,
	})
}

// AddReboot records an unexpected target reset.
func (r *Results) AddReboot() {
	r.Reboots++
}

// FinishRun records the target's aggregate line and finalizes the
// run.
func (r *Results) FinishRun(run, failed, ignored int) {
	r.ItemsRun = run
	r.ItemsFailed = failed
	r.ItemsIgnored = ignored
	r.Finished = true
}
