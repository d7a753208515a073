package controller

import (
	"context"
	"sort"
	"time"

	"golang.org/x/xerrors"

	"github.com/wepogo/hilbot"
	"github.com/wepogo/hilbot/instancedb"
	"github.com/wepogo/hilbot/log"
	"github.com/wepogo/hilbot/trace"
)

const (
	waitPoll        = time.Second
	waitReportEvery = 30 // poll ticks between outstanding logs
	statusErrLimit  = 5  // consecutive status failures before an agent is written off
)

// A Controller runs one fleet-wide test run at a time.
type Controller struct {
	Caller  string
	DB      *instancedb.DB
	Agents  []string // agent addresses, "host:port"
	RepoURL string

	Filter      string
	Clean       bool
	AbortOnFail bool
	Timeout     time.Duration // whole-run ceiling, 0 for none
	Archive     bool          // ask agents to upload artifacts
	S3Region    string
	S3Bucket    string // run summaries go here when Archive is set
	Store       *Store // optional result store
}

// Run drives the whole fleet through one test run of instances at
// revision ref and returns the combined result code.
func (c *Controller) Run(ctx context.Context, instances []hilbot.Instance, ref string) (int, error) {
	span, ctx := trace.StartSpan(ctx, "controller.run", ref)
	defer span.Finish()

	agents := Discover(ctx, c.Agents)
	if len(agents) == 0 {
		return -1, xerrors.New("no agents reachable")
	}

	agents, err := AgentsLockAndUpdate(ctx, agents, c.Caller, c.RepoURL, ref)
	if err != nil {
		return -1, err
	}

	agents, err = Allocate(ctx, c.DB, c.Caller, instances, agents)
	if err != nil {
		return -1, err
	}

	if err := c.Start(ctx, agents); err != nil {
		return -1, err
	}

	results := c.Wait(ctx, agents)
	codes := make([]int, 0, len(results))
	for _, res := range results {
		codes = append(codes, res.Result)
	}
	code := hilbot.Combine(codes)

	if c.Archive && c.S3Bucket != "" {
		url, err := c.uploadSummary(ref, code, results)
		if err != nil {
			log.Error(ctx, err, "uploading run summary")
		} else {
			log.Printkv(ctx, "at", "run-summary", "url", url)
		}
	}
	if c.Store != nil {
		if err := c.Store.SaveRun(ctx, ref, code, results); err != nil {
			log.Error(ctx, err, "saving run results")
		}
	}
	log.Printkv(ctx, "at", "run-done", "ref", ref, "result", code, "agents", len(results))
	return code, nil
}

// Start kicks sessions off on every allocated agent, biggest
// workload first so the long pole starts as early as possible. Any
// failure to start aborts the agents already running and unlocks
// everything.
func (c *Controller) Start(ctx context.Context, agents []*RemoteAgent) error {
	sort.SliceStable(agents, func(i, j int) bool {
		return agents[i].load(c.DB) > agents[j].load(c.DB)
	})

	var started []*RemoteAgent
	for _, r := range agents {
		var resp hilbot.SessionRunResp
		err := r.call("/session-run", hilbot.SessionRunReq{
			Caller:      c.Caller,
			Instances:   r.Allocated,
			Filter:      c.Filter,
			Clean:       c.Clean,
			AbortOnFail: c.AbortOnFail,
		}, &resp)
		if err != nil {
			for _, s := range started {
				s.call("/session-abort", hilbot.SessionAbortReq{
					Session: s.Session, Caller: c.Caller}, nil)
			}
			for _, s := range agents {
				s.unlock(ctx, c.Caller)
			}
			return xerrors.Errorf("starting session on %s: %w", r.Name, err)
		}
		r.Session = resp.Session
		r.StartedAt = time.Now()

		var path hilbot.ResultPathResp
		if err := r.call("/result-path", hilbot.ResultPathReq{Session: resp.Session}, &path); err == nil {
			r.ResultPath = path.Path
		}
		started = append(started, r)
		log.Printkv(ctx, "at", "session-start", "agent", r.Name,
			"session", resp.Session, "instances", len(r.Allocated))
	}
	return nil
}

// Wait polls every started agent until its session completes, times
// out, or becomes unreachable. Locks are released early once an
// agent's instances are demonstrably running; their whole purpose
// was to stop two controllers racing for the same idle agent.
func (c *Controller) Wait(ctx context.Context, agents []*RemoteAgent) []hilbot.SessionResult {
	type state struct {
		done     bool
		unlocked bool
		errs     int
	}
	states := make(map[*RemoteAgent]*state, len(agents))
	for _, r := range agents {
		states[r] = new(state)
	}

	abortOthers := func(failed *RemoteAgent) {
		for _, r := range agents {
			if r == failed || states[r].done {
				continue
			}
			r.call("/session-abort", hilbot.SessionAbortReq{
				Session: r.Session, Caller: c.Caller}, nil)
		}
	}

	start := time.Now()
	ticks := 0
	for {
		remaining := 0
		for _, r := range agents {
			st := states[r]
			if st.done {
				continue
			}

			var status hilbot.SessionStatusResp
			err := r.call("/session-status", hilbot.SessionStatusReq{Session: r.Session}, &status)
			if err != nil {
				st.errs++
				if st.errs >= statusErrLimit {
					log.Error(ctx, err, "agent "+r.Name+" unreachable, writing it off")
					r.Err = err
					r.Result = -1
					st.done = true
					r.unlock(ctx, c.Caller)
				} else {
					remaining++
				}
				continue
			}
			st.errs = 0

			if !st.unlocked && (len(status.Running) > 0 || status.Done) {
				st.unlocked = true
				r.unlock(ctx, c.Caller)
			}

			if status.Done {
				r.Result = status.Result
				st.done = true
				log.Printkv(ctx, "at", "agent-done", "agent", r.Name,
					"result", status.Result,
					"elapsed", time.Since(r.StartedAt).Round(time.Second))
				if status.Result != 0 && c.AbortOnFail {
					abortOthers(r)
				}
				continue
			}
			remaining++
		}

		if remaining == 0 {
			break
		}
		if c.Timeout > 0 && time.Since(start) > c.Timeout {
			log.Printkv(ctx, "at", "run-timeout", "after", c.Timeout)
			for _, r := range agents {
				st := states[r]
				if st.done {
					continue
				}
				r.call("/session-abort", hilbot.SessionAbortReq{
					Session: r.Session, Caller: c.Caller}, nil)
				r.Err = xerrors.New("timed out")
				r.Result = -1
				st.done = true
				r.unlock(ctx, c.Caller)
			}
			break
		}

		ticks++
		if ticks%waitReportEvery == 0 {
			for _, r := range agents {
				if !states[r].done {
					log.Printkv(ctx, "at", "run-waiting", "agent", r.Name,
						"session", r.Session,
						"elapsed", time.Since(r.StartedAt).Round(time.Second))
				}
			}
		}
		time.Sleep(waitPoll)
	}

	var results []hilbot.SessionResult
	for _, r := range agents {
		if c.Archive && r.Err == nil {
			var resp hilbot.ArchiveResp
			err := r.call("/archive", hilbot.ArchiveReq{Session: r.Session}, &resp)
			if err != nil {
				log.Error(ctx, err, "archiving "+r.Name)
			} else {
				r.ArtifactURLs = resp.URLs
			}
		}
		r.unlock(ctx, c.Caller) // no-op when already released
		results = append(results, hilbot.SessionResult{
			Agent:     r.Name,
			Session:   r.Session,
			Instances: r.Allocated,
			Result:    r.Result,
			Elapsed:   time.Since(r.StartedAt),
			URLs:      r.ArtifactURLs,
		})
	}
	return results
}
