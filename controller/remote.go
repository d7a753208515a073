// Package controller drives a fleet of agents through one test run:
// discover, lock, update, allocate, start, wait, aggregate.
package controller

import (
	"bytes"
	"context"
	"encoding/json"
	"net"
	"net/http"
	"net/url"
	"sync"
	"time"

	"golang.org/x/sync/errgroup"
	"golang.org/x/xerrors"

	"github.com/wepogo/hilbot"
	"github.com/wepogo/hilbot/instancedb"
	"github.com/wepogo/hilbot/log"
)

const (
	probeTimeout = 2 * time.Second
	rpcTimeout   = 30 * time.Second
)

// httpClient is used for all agent RPC so that we amortize the setup
// costs.
var httpClient = http.Client{
	Timeout: rpcTimeout,
	Transport: &http.Transport{
		DialContext: (&net.Dialer{
			Timeout:   probeTimeout,
			KeepAlive: 30 * time.Second,
		}).DialContext,
		MaxIdleConns:    100,
		IdleConnTimeout: 90 * time.Second,
	},
}

type statusError int

func (e statusError) Error() string {
	return http.StatusText(int(e))
}

// A RemoteAgent is the controller's record of one discovered agent.
// It is created by Discover and closed (dropped from the run) the
// moment the agent becomes unusable.
type RemoteAgent struct {
	URL  string
	Name string
	Host string

	Branch    string
	Hash      string
	Activated []hilbot.Instance
	Running   []hilbot.Instance

	mu           sync.Mutex
	Locked       bool
	Allocated    []hilbot.Instance
	Session      string
	ResultPath   string
	StartedAt    time.Time
	Result       int
	Err          error
	ArtifactURLs []string
}

func (r *RemoteAgent) call(path string, in, out interface{}) error {
	reqBody := new(bytes.Buffer)
	json.NewEncoder(reqBody).Encode(in)
	resp, err := httpClient.Post(
		r.URL+path,
		"application/json; charset=utf-8",
		reqBody,
	)
	if err != nil {
		return err
	}
	defer resp.Body.Close()
	if resp.StatusCode/100 != 2 {
		return statusError(resp.StatusCode)
	}
	if out != nil {
		return json.NewDecoder(resp.Body).Decode(out)
	}
	return nil
}

// Capable reports whether the agent declared capability for in.
func (r *RemoteAgent) Capable(in hilbot.Instance) bool {
	return hilbot.ContainsInstance(r.Activated, in)
}

// load estimates how busy the agent is: the summed expected duration
// of everything running on it plus everything this controller has
// allocated to it.
func (r *RemoteAgent) load(db *instancedb.DB) time.Duration {
	var d time.Duration
	for _, in := range r.Running {
		d += db.DurationFor(in)
	}
	for _, in := range r.Allocated {
		d += db.DurationFor(in)
	}
	return d
}

func (r *RemoteAgent) unlock(ctx context.Context, caller string) {
	r.mu.Lock()
	locked := r.Locked
	r.Locked = false
	r.mu.Unlock()
	if !locked {
		return
	}
	err := r.call("/unlock", hilbot.UnlockReq{Caller: caller}, nil)
	if err != nil {
		log.Error(ctx, err, "unlocking "+r.Name)
	}
}

// Discover probes addrs for live agents. Each addr is "host:port";
// unreachable ones are skipped quietly, reachable ones are asked for
// their identity and capability list.
func Discover(ctx context.Context, addrs []string) []*RemoteAgent {
	var (
		mu     sync.Mutex
		agents []*RemoteAgent
	)
	var g errgroup.Group
	for _, addr := range addrs {
		addr := addr
		g.Go(func() error {
			conn, err := net.DialTimeout("tcp", hostPort(addr), probeTimeout)
			if err != nil {
				log.Printkv(ctx, "at", "discover-skip", "addr", addr, "error", err)
				return nil
			}
			conn.Close()

			r := &RemoteAgent{URL: baseURL(addr)}
			var info hilbot.InfoResp
			if err := r.call("/info", struct{}{}, &info); err != nil {
				log.Printkv(ctx, "at", "discover-skip", "addr", addr, "error", err)
				return nil
			}
			r.Name = info.Name
			r.Host = info.Host
			r.Branch = info.Branch
			r.Hash = info.Hash
			r.Activated = info.Activated
			r.Running = info.Running

			mu.Lock()
			agents = append(agents, r)
			mu.Unlock()
			log.Printkv(ctx, "at", "discover", "agent", r.Name,
				"activated", len(r.Activated), "running", len(r.Running))
			return nil
		})
	}
	g.Wait()
	return agents
}

func hostPort(addr string) string {
	if u, err := url.Parse(addr); err == nil && u.Host != "" {
		return u.Host
	}
	return addr
}

func baseURL(addr string) string {
	if u, err := url.Parse(addr); err == nil && u.Scheme != "" {
		return addr
	}
	return "http://" + addr
}

// AgentsLockAndUpdate locks every agent and brings it to ref if it
// isn't there already. Agents that refuse the lock, are busy while
// needing an update, or fail the update are dropped (and unlocked
// where we hold the lock). Agent RPC is I/O bound, so the work runs
// in parallel.
func AgentsLockAndUpdate(ctx context.Context, agents []*RemoteAgent, caller, repoURL, ref string) ([]*RemoteAgent, error) {
	var (
		mu   sync.Mutex
		kept []*RemoteAgent
	)
	var g errgroup.Group
	for _, r := range agents {
		r := r
		g.Go(func() error {
			var lock hilbot.LockResp
			err := r.call("/lock", hilbot.LockReq{Caller: caller}, &lock)
			if err != nil || !lock.OK {
				log.Printkv(ctx, "at", "lock-skip", "agent", r.Name,
					"holder", lock.Holder, "error", err)
				return nil
			}
			r.Locked = true

			needsUpdate := ref != "" && r.Hash != ref && r.Branch != ref
			if needsUpdate && len(r.Running) > 0 {
				// never yank code out from under a running session
				log.Printkv(ctx, "at", "update-skip-busy", "agent", r.Name)
				r.unlock(ctx, caller)
				return nil
			}
			if needsUpdate {
				err := r.call("/check-out", hilbot.CheckOutReq{
					URL:    repoURL,
					Ref:    ref,
					Caller: caller,
				}, nil)
				if err != nil {
					log.Printkv(ctx, "at", "update-failed", "agent", r.Name, "error", err)
					r.unlock(ctx, caller)
					return nil
				}
			}

			mu.Lock()
			kept = append(kept, r)
			mu.Unlock()
			return nil
		})
	}
	g.Wait()
	if len(kept) == 0 {
		return nil, xerrors.New("no agents could be locked")
	}
	return kept, nil
}
