// Package monitor watches the line-oriented output of a running
// target (over serial, RTT, telnet or a subprocess pipe) and turns it
// into structured pass/fail/error outcomes via a table of regex
// rules. Two timers bound every run: a guard timer caps the whole
// run and an inactivity timer fires when the target goes quiet.
package monitor

import (
	"context"
	"fmt"
	"io"
	"time"

	"github.com/wepogo/hilbot"
	"github.com/wepogo/hilbot/log"
)

// rebootLinger is how long monitoring continues after a crash marker,
// so the trailing diagnostic output (register dumps, backtraces)
// still makes it into the captured log.
const rebootLinger = 5 * time.Second

// A Monitor classifies one target's output stream.
type Monitor struct {
	Rules      *Rules
	Guard      time.Duration // wall-clock ceiling on the whole run
	Inactivity time.Duration // max quiet time between lines
	Out        io.Writer     // optional copy of every line received
	SuiteName  string        // test suite name for the XML report
	ReportPath string        // optional JUnit XML output
	Linger     time.Duration // post-crash capture window; 0 means rebootLinger
	Flag       *hilbot.RunFlag // optional cooperative abort
}

// Run consumes src until the run finishes, a timer fires, the
// transport fails, or the run flag is cleared. It always closes src,
// always writes the XML report when configured, and returns the
// results plus the monitor exit code (failures + reboots + errors).
func (m *Monitor) Run(ctx context.Context, src LineSource) (*Results, int) {
	rules := m.Rules
	if rules == nil {
		rules = DefaultRules()
	}

	results := new(Results)

	lines := make(chan string, 64)
	readErr := make(chan error, 1)
	done := make(chan struct{})
	defer close(done)
	go readLoop(src, lines, readErr, done)

	guard := time.NewTimer(m.Guard)
	defer guard.Stop()
	inactive := time.NewTimer(m.Inactivity)
	defer inactive.Stop()

	lingerDur := m.Linger
	if lingerDur == 0 {
		lingerDur = rebootLinger
	}

	var linger <-chan time.Time
	var flagDone <-chan struct{}
	if m.Flag != nil {
		flagDone = m.Flag.Done()
	}

loop:
	for {
		select {
		case line := <-lines:
			if !inactive.Stop() {
				select {
				case <-inactive.C:
				default:
				}
			}
			inactive.Reset(m.Inactivity)

			m.echo(line)
			now := time.Now()
			if results.Current != nil {
				results.Current.Output += line + "\n"
			}
			switch rules.Apply(line, results, now) {
			case ActionFinish:
				break loop
			case ActionReboot:
				if linger == nil {
					linger = time.After(lingerDur)
				}
			}
			for _, w := range results.Warnings {
				log.Printkv(ctx, "warning", w)
			}
			results.Warnings = results.Warnings[:0]

		case err := <-readErr:
			now := time.Now()
			if err == io.EOF {
				if !results.Finished {
					results.AddError("output ended before the test run completed", now)
				}
			} else {
				results.AddError(err.Error(), now)
				log.Error(ctx, err, "monitor transport")
			}
			break loop

		case <-guard.C:
			results.AddError(
				fmt.Sprintf("guard timer expired after %v", m.Guard), time.Now())
			log.Printkv(ctx, "at", "monitor", "guard-expired", m.Guard)
			break loop

		case <-inactive.C:
			results.AddError(
				fmt.Sprintf("no output for %v", m.Inactivity), time.Now())
			log.Printkv(ctx, "at", "monitor", "inactive-for", m.Inactivity)
			break loop

		case <-linger:
			// crash marker seen earlier; trailing diagnostics
			// have had their chance
			results.AddError("target rebooted during the test run", time.Now())
			break loop

		case <-flagDone:
			log.Printkv(ctx, "at", "monitor", "message", "aborted by run flag")
			break loop
		}
	}

	results.Finished = true
	src.Close() // force-terminates a subprocess source; stops readLoop

	if m.ReportPath != "" {
		err := WriteReport(m.ReportPath, m.SuiteName, results)
		if err != nil {
			log.Error(ctx, err, "writing test report")
		}
	}
	return results, results.ExitCode()
}

// readLoop runs on its own goroutine: the transport primitives block
// (or poll), and the monitor loop must stay free to watch its timers.
func readLoop(src LineSource, lines chan<- string, readErr chan<- error, done <-chan struct{}) {
	for {
		line, ok, err := src.ReadLine()
		if err != nil {
			readErr <- err
			return
		}
		if !ok {
			time.Sleep(pollDelay)
			continue
		}
		select {
		case lines <- line:
		case <-done:
			return
		}
	}
}

func (m *Monitor) echo(line string) {
	if m.Out != nil {
		io.WriteString(m.Out, line+"\n")
	}
}
