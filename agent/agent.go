// Package agent runs test sessions on one machine with boards
// attached. It owns the locks that serialize access to shared
// hardware and tooling, a bounded worker pool for instance
// pipelines, and the RPC surface a controller drives it with.
package agent

/*

Theory of Operation

The agent process runs on a host with debuggers and target boards
attached. A controller (or the `hilbot session` command, locally):

* locks the agent so no other controller grabs it
* optionally moves its working copy to the revision under test
* starts a session naming the instances to run
* polls session status until the session completes
* collects the result path and asks for an archive upload

Each instance in a session runs on its own worker drawn from a
bounded pool. The build/flash/monitor pipeline for an instance is an
external collaborator: a per-platform command the worker invokes
under the instance's connection lock and platform lock, monitored for
pass/fail markers by the monitor package.

*/

import (
	"context"
	"strconv"
	"sync"

	"golang.org/x/sync/semaphore"
	"golang.org/x/xerrors"

	"github.com/wepogo/hilbot"
	"github.com/wepogo/hilbot/instancedb"
	"github.com/wepogo/hilbot/log"
)

// Names of the misc locks: machine-global resources that are not
// per-platform or per-board.
const (
	LockSystem   = "system"                // system-wide install steps
	LockJLink    = "jlink"                // the JLink tool set is single-instance
	LockSTM32F4s = "stm32f4-download-list" // pending STM32F4 downloads
)

// Config carries everything an Agent needs; zero values get
// reasonable defaults in New.
type Config struct {
	Name    string
	Host    string
	RootDir string // session work dirs live under here
	RepoDir string // working copy used by check-out
	RepoURL string

	DB          *instancedb.DB
	Workers     int    // instance pipelines running at once
	Runner      Runner // nil means ExecRunner with PipelineCmd
	PipelineCmd string

	// Connections maps instance ids to physical connection slot
	// names. Instances absent from the map get a slot of their
	// own (no board sharing).
	Connections map[string]string

	S3Region string
	S3Bucket string
}

// An Agent is the process-wide orchestrator context. All bookkeeping
// (session table, lock tables, started flag) is guarded by mu; mu is
// never held while an instance pipeline runs.
type Agent struct {
	cfg Config

	mu            sync.Mutex
	started       bool
	sessions      map[string]*Session
	finished      map[string]int // results of completed sessions
	finishedOrder []string       // completion order, for pruning
	platformLocks map[string]*sync.Mutex
	connLocks     map[string]*sync.Mutex
	misc          map[string]*sync.Mutex
	lockedBy      string // remote advisory lock holder
	nextSession   int

	sem *semaphore.Weighted
}

// New returns an unstarted Agent.
func New(cfg Config) *Agent {
	if cfg.Workers <= 0 {
		cfg.Workers = 4
	}
	return &Agent{cfg: cfg}
}

// Start brings the agent context up. It is idempotent: starting a
// running agent succeeds and does nothing.
func (a *Agent) Start() error {
	_, err := a.start()
	return err
}

// start reports whether this call performed the stopped-to-started
// transition. Session auto-start relies on it: of two concurrent
// session-run calls on an unstarted agent, only one owns the deferred
// stop.
func (a *Agent) start() (bool, error) {
	a.mu.Lock()
	defer a.mu.Unlock()
	if a.started {
		return false, nil
	}
	a.sessions = make(map[string]*Session)
	a.finished = make(map[string]int)
	a.finishedOrder = nil
	a.platformLocks = make(map[string]*sync.Mutex)
	a.connLocks = make(map[string]*sync.Mutex)
	a.misc = map[string]*sync.Mutex{
		LockSystem:   new(sync.Mutex),
		LockJLink:    new(sync.Mutex),
		LockSTM32F4s: new(sync.Mutex),
	}
	a.sem = semaphore.NewWeighted(int64(a.cfg.Workers))
	a.started = true
	log.Printkv(context.Background(), "at", "agent-start", "name", a.cfg.Name, "workers", a.cfg.Workers)
	return true, nil
}

// Stop aborts every session and tears the context down. The agent
// can be started again afterwards.
func (a *Agent) Stop() error {
	a.mu.Lock()
	if !a.started {
		a.mu.Unlock()
		return nil
	}
	sessions := make([]*Session, 0, len(a.sessions))
	for _, s := range a.sessions {
		sessions = append(sessions, s)
	}
	a.mu.Unlock()

	// clear flags outside the context lock; workers need it to
	// finish winding down
	for _, s := range sessions {
		s.Flag.Clear()
		<-s.done
	}

	a.mu.Lock()
	defer a.mu.Unlock()
	a.started = false
	a.sessions = nil
	log.Printkv(context.Background(), "at", "agent-stop", "name", a.cfg.Name)
	return nil
}

// Restart is Stop then Start.
func (a *Agent) Restart() error {
	if err := a.Stop(); err != nil {
		return err
	}
	return a.Start()
}

// Lock takes the advisory remote lock for caller.
func (a *Agent) Lock(caller string) (ok bool, holder string) {
	a.mu.Lock()
	defer a.mu.Unlock()
	if a.lockedBy != "" && a.lockedBy != caller {
		return false, a.lockedBy
	}
	a.lockedBy = caller
	return true, caller
}

// Unlock releases the advisory lock if caller holds it.
func (a *Agent) Unlock(caller string) error {
	a.mu.Lock()
	defer a.mu.Unlock()
	if a.lockedBy != caller {
		return xerrors.Errorf("locked by %q, not %q", a.lockedBy, caller)
	}
	a.lockedBy = ""
	return nil
}

// Activated returns the instances this agent is equipped to run:
// every instance in its database that has a connection slot, plus
// the checker instances (which need no hardware).
func (a *Agent) Activated() []hilbot.Instance {
	var out []hilbot.Instance
	for _, in := range a.cfg.DB.All() {
		row, _ := a.cfg.DB.Lookup(in)
		if row.Platform == "" || a.cfg.Connections[in.String()] != "" {
			out = append(out, in)
		}
	}
	return out
}

// Running returns the instances currently executing across all
// sessions.
func (a *Agent) Running() []hilbot.Instance {
	a.mu.Lock()
	defer a.mu.Unlock()
	var out []hilbot.Instance
	for _, s := range a.sessions {
		out = append(out, s.running()...)
	}
	hilbot.SortInstances(out)
	return out
}

// platformLock returns the lock for a platform, creating it the
// first time the platform is seen. The lock lives for the rest of
// the agent context: some vendor toolchains cannot tolerate two
// concurrent invocations even from unrelated sessions.
func (a *Agent) platformLock(platform string) *sync.Mutex {
	a.mu.Lock()
	defer a.mu.Unlock()
	l, ok := a.platformLocks[platform]
	if !ok {
		l = new(sync.Mutex)
		a.platformLocks[platform] = l
	}
	return l
}

// connLock returns the lock for a physical connection slot,
// creating it on first use.
func (a *Agent) connLock(slot string) *sync.Mutex {
	a.mu.Lock()
	defer a.mu.Unlock()
	l, ok := a.connLocks[slot]
	if !ok {
		l = new(sync.Mutex)
		a.connLocks[slot] = l
	}
	return l
}

// connectionFor resolves an instance's connection slot name.
func (a *Agent) connectionFor(in hilbot.Instance) string {
	if slot := a.cfg.Connections[in.String()]; slot != "" {
		return slot
	}
	return in.String()
}

func (a *Agent) newSessionName() string {
	a.nextSession++
	return "session-" + strconv.Itoa(a.nextSession)
}

// finishedCap bounds the completed-session results kept for status
// queries; an agent runs for months between restarts.
const finishedCap = 100

// rememberResult records a completed session's result, dropping the
// oldest entries past finishedCap. Caller holds mu.
func (a *Agent) rememberResult(session string, result int) {
	if a.finished == nil {
		return
	}
	a.finished[session] = result
	a.finishedOrder = append(a.finishedOrder, session)
	for len(a.finishedOrder) > finishedCap {
		delete(a.finished, a.finishedOrder[0])
		a.finishedOrder = a.finishedOrder[1:]
	}
}
