package agent

import (
	"context"
	"fmt"
	"os"
	"path/filepath"
	"sync"
	"time"

	"golang.org/x/xerrors"

	"github.com/wepogo/hilbot"
	"github.com/wepogo/hilbot/log"
	"github.com/wepogo/hilbot/trace"
)

// pollInterval paces the session loop; outstandingEvery says how many
// polls pass between "still waiting on" log lines.
const (
	pollInterval     = time.Second
	outstandingEvery = 30
)

// A Session is one run of a set of instances. Its Flag is the single
// cooperative abort token shared by every worker and monitor in the
// run.
type Session struct {
	Name      string
	Instances []hilbot.Instance
	Filter    string
	Flag      *hilbot.RunFlag
	OutDir    string
	Started   time.Time

	mu     sync.Mutex
	active map[string]bool
	acc    hilbot.Accumulator
	result int
	ended  bool

	done chan struct{}

	sumMu   sync.Mutex
	summary *os.File
}

// Done reports whether the session has completed, and its result if
// so.
func (s *Session) Done() (bool, int) {
	s.mu.Lock()
	defer s.mu.Unlock()
	return s.ended, s.result
}

func (s *Session) running() []hilbot.Instance {
	s.mu.Lock()
	defer s.mu.Unlock()
	var out []hilbot.Instance
	for k := range s.active {
		in, err := hilbot.ParseInstance(k)
		if err == nil {
			out = append(out, in)
		}
	}
	hilbot.SortInstances(out)
	return out
}

// Printf appends a line to the session summary file. Workers on
// several goroutines share it.
func (s *Session) Printf(format string, args ...interface{}) {
	s.sumMu.Lock()
	defer s.sumMu.Unlock()
	if s.summary != nil {
		fmt.Fprintf(s.summary, format+"\n", args...)
	}
}

// SessionRun validates req, creates a session and returns once its
// workers are launched. If the agent context is not yet started it is
// started here and stopped again when the session completes.
func (a *Agent) SessionRun(ctx context.Context, req hilbot.SessionRunReq) (*Session, error) {
	if len(req.Instances) == 0 {
		return nil, xerrors.New("no instances to run")
	}

	autoStarted, err := a.start()
	if err != nil {
		return nil, err
	}

	instances := append([]hilbot.Instance(nil), req.Instances...)
	for _, in := range instances {
		if _, ok := a.cfg.DB.Lookup(in); !ok {
			return nil, xerrors.Errorf("instance %v not in database", in)
		}
	}
	hilbot.SortInstances(instances)
	instances = hilbot.DedupeInstances(instances)

	a.mu.Lock()
	name := a.newSessionName()
	a.mu.Unlock()

	outDir := filepath.Join(a.cfg.RootDir, name)
	if req.Clean {
		if err := os.RemoveAll(outDir); err != nil {
			return nil, err
		}
	}
	if err := os.MkdirAll(outDir, 0700); err != nil {
		return nil, err
	}
	summary, err := os.Create(filepath.Join(outDir, "summary.log"))
	if err != nil {
		return nil, err
	}

	s := &Session{
		Name:      name,
		Instances: instances,
		Filter:    req.Filter,
		Flag:      hilbot.NewRunFlag(),
		OutDir:    outDir,
		Started:   time.Now(),
		active:    make(map[string]bool),
		done:      make(chan struct{}),
		summary:   summary,
	}
	for _, in := range instances {
		s.active[in.String()] = true
	}

	a.mu.Lock()
	a.sessions[name] = s
	a.mu.Unlock()

	log.Printkv(ctx, "at", "session-run", "session", name,
		"caller", req.Caller, "instances", len(instances), "filter", req.Filter)
	s.Printf("session %s: %d instance(s), filter %q, caller %q",
		name, len(instances), req.Filter, req.Caller)

	span, ctx := trace.StartSpan(ctx, "session.run", name)

	results := make(chan int, len(instances))
	for _, in := range instances {
		in := in
		go func() {
			results <- a.runInstance(ctx, s, in, req)
		}()
	}
	go func() {
		a.superviseSession(ctx, s, req, results, autoStarted)
		span.Finish()
	}()
	return s, nil
}

// superviseSession collects worker results, applies the abort-on-fail
// policy and tears the session down when the last worker reports.
func (a *Agent) superviseSession(ctx context.Context, s *Session, req hilbot.SessionRunReq, results <-chan int, autoStarted bool) {
	pending := len(s.Instances)
	ticks := 0
	for pending > 0 {
		select {
		case code := <-results:
			pending--
			s.mu.Lock()
			s.acc.Add(code)
			s.mu.Unlock()
			if code != 0 && req.AbortOnFail {
				log.Printkv(ctx, "at", "session-abort-on-fail", "session", s.Name, "code", code)
				s.Flag.Clear()
			}
		case <-time.After(pollInterval):
			ticks++
			if ticks%outstandingEvery == 0 {
				log.Printkv(ctx, "at", "session-waiting", "session", s.Name,
					"outstanding", joinInstances(s.running()))
			}
		}
	}

	s.mu.Lock()
	s.result = s.acc.Result()
	s.ended = true
	result := s.result
	s.mu.Unlock()

	elapsed := time.Since(s.Started).Round(time.Second)
	s.Printf("session %s: result %d after %v", s.Name, result, elapsed)
	s.sumMu.Lock()
	s.summary.Close()
	s.summary = nil
	s.sumMu.Unlock()

	a.mu.Lock()
	delete(a.sessions, s.Name)
	a.rememberResult(s.Name, result)
	a.mu.Unlock()
	close(s.done)

	log.Printkv(ctx, "at", "session-done", "session", s.Name,
		"result", result, "elapsed", elapsed)

	if autoStarted {
		a.Stop()
	}
}

// runInstance is one worker: it waits for a pool slot, resolves the
// instance's locks and work dir, and hands off to the pipeline
// runner. A panicking runner is contained here and reported as an
// infrastructure failure.
func (a *Agent) runInstance(ctx context.Context, s *Session, in hilbot.Instance, req hilbot.SessionRunReq) (code int) {
	key := in.String()
	defer func() {
		if r := recover(); r != nil {
			log.Printkv(ctx, "at", "session-worker-panic", "instance", key, "panic", r)
			s.Printf("instance %s: PANIC %v", key, r)
			code = -1
		}
		s.mu.Lock()
		delete(s.active, key)
		s.mu.Unlock()
	}()

	if err := a.sem.Acquire(ctx, 1); err != nil {
		s.Printf("instance %s: pool acquire: %v", key, err)
		return -1
	}
	defer a.sem.Release(1)

	if s.Flag.Cleared() {
		s.Printf("instance %s: skipped, run aborted", key)
		return 0
	}

	row, _ := a.cfg.DB.Lookup(in)

	logPath := filepath.Join(s.OutDir, key+".log")
	out, err := os.Create(logPath)
	if err != nil {
		s.Printf("instance %s: %v", key, err)
		return -1
	}
	defer out.Close()

	guard := time.Duration(req.GuardSec) * time.Second
	if guard == 0 {
		guard = a.cfg.DB.DurationFor(in)
	}
	inactive := time.Duration(req.InactiveSec) * time.Second
	if inactive == 0 {
		inactive = 5 * time.Minute
	}

	job := Job{
		Instance:     in,
		Platform:     row.Platform,
		Defines:      a.cfg.DB.DefinesFor(in),
		Filter:       s.Filter,
		WorkDir:      filepath.Join(s.OutDir, "work-"+key),
		RepoDir:      a.cfg.RepoDir,
		Connection:   a.connectionFor(in),
		ConnLock:     a.connLock(a.connectionFor(in)),
		PlatformLock: a.platformLock(row.Platform),
		Misc:         a.misc,
		Guard:        guard,
		Inactivity:   inactive,
		Flag:         s.Flag,
		Out:          out,
		ReportPath:   filepath.Join(s.OutDir, key+".xml"),
		SuiteName:    "instance " + key,
	}
	if req.Clean {
		os.RemoveAll(job.WorkDir)
	}
	if err := os.MkdirAll(job.WorkDir, 0700); err != nil {
		s.Printf("instance %s: %v", key, err)
		return -1
	}

	runner := a.cfg.Runner
	if runner == nil {
		runner = ExecRunner(a.cfg.PipelineCmd)
	}

	// the instance span rides into the pipeline as $SPAN
	span, ctx := trace.StartSpan(ctx, "instance.run", key)
	defer span.Finish()

	start := time.Now()
	s.Printf("instance %s: starting (%s)", key, row.Description)
	code = runner(ctx, job)
	s.Printf("instance %s: result %d after %v", key, code, time.Since(start).Round(time.Second))
	return code
}

// Abort clears a running session's flag. Aborting an unknown or
// already-finished session is not an error.
func (a *Agent) Abort(session string) {
	a.mu.Lock()
	s := a.sessions[session]
	a.mu.Unlock()
	if s != nil {
		s.Flag.Clear()
	}
}

// SessionStatus reports whether a session has completed and its
// result, plus the instances still executing.
func (a *Agent) SessionStatus(session string) (done bool, result int, running []hilbot.Instance, err error) {
	a.mu.Lock()
	s := a.sessions[session]
	res, finished := 0, false
	if a.finished != nil {
		res, finished = a.finished[session]
	}
	a.mu.Unlock()

	if s != nil {
		done, result = s.Done()
		return done, result, s.running(), nil
	}
	if finished {
		return true, res, nil, nil
	}
	return false, 0, nil, xerrors.Errorf("unknown session %q", session)
}

// ResultPath returns the directory holding a session's logs and
// reports.
func (a *Agent) ResultPath(session string) string {
	return filepath.Join(a.cfg.RootDir, session)
}

func joinInstances(ins []hilbot.Instance) string {
	s := ""
	for i, in := range ins {
		if i > 0 {
			s += " "
		}
		s += in.String()
	}
	return s
}
