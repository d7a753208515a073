package monitor

import (
	"regexp"
	"strconv"
	"time"
)

// An Action tells the monitor loop what a matched line implies beyond
// the Results mutation the handler already performed.
type Action int

const (
	ActionNone   Action = iota
	ActionReboot        // start the delayed-finish timer
	ActionFinish        // the run is complete
)

// A Handler inspects the submatches of its rule's pattern and mutates
// r accordingly. It returns the action the monitor should take.
type Handler func(m []string, r *Results, now time.Time) Action

// A Rule pairs a compiled pattern with its handler.
type Rule struct {
	Pattern *regexp.Regexp
	Handle  Handler
}

// Rules is an ordered rule table. Every rule is tested against every
// line; all matching handlers fire, in table order. Platform runners
// register extra rules (UART redirection announcements, RF switch
// commands) with Add before monitoring starts.
type Rules struct {
	rules []Rule
}

// Add appends a rule. It must not be called once monitoring has
// started.
func (rs *Rules) Add(pattern string, h Handler) error {
	re, err := regexp.Compile(pattern)
	if err != nil {
		return err
	}
	rs.rules = append(rs.rules, Rule{Pattern: re, Handle: h})
	return nil
}

// Apply runs line through the table, returning the strongest action
// any handler requested (finish wins over reboot wins over none).
func (rs *Rules) Apply(line string, r *Results, now time.Time) Action {
	action := ActionNone
	for _, rule := range rs.rules {
		m := rule.Pattern.FindStringSubmatch(line)
		if m == nil {
			continue
		}
		if a := rule.Handle(m, r, now); a > action {
			action = a
		}
	}
	return action
}

// Line patterns from the Unity test runner on the target.
var (
	runningRe = `Running ([A-Za-z0-9_]+)\.\.\.`
	passRe    = `([^:\s]+):([0-9]+):([A-Za-z0-9_]+):PASS`
	failRe    = `([^:\s]+):([0-9]+):([A-Za-z0-9_]+):FAIL:? ?(.*)`
	finishRe  = `([0-9]+) Tests ([0-9]+) Failures ([0-9]+) Ignored`
)

// Crash signatures vary by MCU vendor; any of them means the target
// rebooted underneath the test run.
var crashRes = []string{
	`Guru Meditation Error`, // Espressif
	`Fatal exception`,       // Espressif, pre-IDF4
	`HARD FAULT`,            // Nordic nRF5 SDK
	`ASSERTION FAIL`,        // Zephyr
	`wdt reset`,             // watchdog fired
}

// DefaultRules returns the built-in rule table.
func DefaultRules() *Rules {
	rs := new(Rules)

	rs.Add(runningRe, func(m []string, r *Results, now time.Time) Action {
		r.StartCase(m[1], now)
		return ActionNone
	})
	rs.Add(passRe, func(m []string, r *Results, now time.Time) Action {
		r.EndCase(m[3], StatusPass, "", now)
		return ActionNone
	})
	rs.Add(failRe, func(m []string, r *Results, now time.Time) Action {
		r.EndCase(m[3], StatusFail, m[4], now)
		return ActionNone
	})
	rs.Add(finishRe, func(m []string, r *Results, now time.Time) Action {
		run, _ := strconv.Atoi(m[1])
		failed, _ := strconv.Atoi(m[2])
		ignored, _ := strconv.Atoi(m[3])
		r.FinishRun(run, failed, ignored)
		return ActionFinish
	})
	for _, pat := range crashRes {
		rs.Add(pat, func(m []string, r *Results, now time.Time) Action {
			r.AddReboot()
			return ActionReboot
		})
	}
	return rs
}
