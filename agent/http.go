package agent

import (
	"context"
	"io"
	"net/http"
	"os"
	"strconv"
	"strings"
	"time"

	_ "github.com/heroku/x/hmetrics/onload"
	"gopkg.in/DataDog/dd-trace-go.v1/ddtrace/tracer"

	"github.com/wepogo/hilbot"
	"github.com/wepogo/hilbot/httpjson"
	"github.com/wepogo/hilbot/instancedb"
	"github.com/wepogo/hilbot/log"
)

func or(v, d string) string {
	if v == "" {
		v = d
	}
	return v
}

// ConfigFromEnv assembles an agent Config from the environment.
func ConfigFromEnv() (Config, error) {
	db, err := instancedb.Load(or(os.Getenv("HIL_DATABASE"), "DATABASE.md"))
	if err != nil {
		return Config{}, err
	}
	workers, _ := strconv.Atoi(os.Getenv("HIL_WORKERS"))
	hostname, _ := os.Hostname()
	return Config{
		Name:        or(os.Getenv("HIL_AGENT_NAME"), hostname),
		Host:        hostname,
		RootDir:     or(os.Getenv("HIL_ROOT_DIR"), os.Getenv("HOME")+"/hilbot"),
		RepoDir:     or(os.Getenv("HIL_REPO_DIR"), os.Getenv("HOME")+"/hilbot/repo"),
		RepoURL:     os.Getenv("HIL_REPO_URL"),
		DB:          db,
		Workers:     workers,
		PipelineCmd: os.Getenv("HIL_PIPELINE"),
		Connections: parseConnections(os.Getenv("HIL_CONNECTIONS")),
		S3Region:    os.Getenv("S3_REGION"),
		S3Bucket:    os.Getenv("S3_BUCKET"),
	}, nil
}

// Main runs the agent service: it loads config from the environment,
// starts the agent context and serves the RPC surface until killed.
func Main() {
	ctx := context.Background()
	tracer.Start(tracer.WithServiceName("hilbot-agent"))

	cfg, err := ConfigFromEnv()
	if err != nil {
		log.Fatalkv(ctx, "variable", "HIL_DATABASE", log.KeyError, err)
	}

	a := New(cfg)
	if err := a.Start(); err != nil {
		log.Fatalkv(ctx, log.KeyError, err)
	}

	listenAddr := or(os.Getenv("LISTEN"), ":1994")
	log.Printkv(ctx, "at", "agent-listen", "addr", listenAddr, "name", cfg.Name)
	err = http.ListenAndServe(listenAddr, a.Handler())
	log.Fatalkv(ctx, log.KeyError, err)
}

// parseConnections reads "instance=slot instance=slot ..." pairs.
func parseConnections(s string) map[string]string {
	m := make(map[string]string)
	for _, field := range strings.Fields(s) {
		i := strings.IndexByte(field, '=')
		if i > 0 {
			m[field[:i]] = field[i+1:]
		}
	}
	return m
}

// Handler returns the agent's RPC surface.
func (a *Agent) Handler() http.Handler {
	mux := new(http.ServeMux)
	mux.Handle("/lock", jsonHandler(a.lock))
	mux.Handle("/unlock", jsonHandler(a.unlock))
	mux.Handle("/info", jsonHandler(a.info))
	mux.Handle("/session-run", jsonHandler(a.sessionRun))
	mux.Handle("/session-status", jsonHandler(a.sessionStatus))
	mux.Handle("/session-abort", jsonHandler(a.sessionAbort))
	mux.Handle("/check-out", jsonHandler(a.checkOut))
	mux.Handle("/result-path", jsonHandler(a.resultPath))
	mux.Handle("/archive", jsonHandler(a.archive))
	mux.Handle("/restart", jsonHandler(a.restart))
	mux.Handle("/printer-start", jsonHandler(a.printerStart))
	mux.Handle("/printer-stop", jsonHandler(a.printerStop))
	mux.HandleFunc("/printer-output", a.printerOutput)
	mux.HandleFunc("/live/", a.live)
	return mux
}

func jsonHandler(f interface{}) http.Handler {
	h, err := httpjson.Handler(f, errFunc)
	if err != nil {
		panic(err)
	}
	return h
}

func errFunc(ctx context.Context, w http.ResponseWriter, err error) {
	log.Error(ctx, err, "responding http status 500")
	http.Error(w, err.Error(), 500)
}

func (a *Agent) lock(ctx context.Context, req hilbot.LockReq) hilbot.LockResp {
	ok, holder := a.Lock(req.Caller)
	return hilbot.LockResp{OK: ok, Holder: holder}
}

func (a *Agent) unlock(ctx context.Context, req hilbot.UnlockReq) error {
	return a.Unlock(req.Caller)
}

func (a *Agent) info(ctx context.Context) (hilbot.InfoResp, error) {
	return hilbot.InfoResp{
		Name:      a.cfg.Name,
		Host:      a.cfg.Host,
		Branch:    a.Branch(ctx),
		Hash:      a.Hash(ctx),
		Activated: a.Activated(),
		Running:   a.Running(),
	}, nil
}

func (a *Agent) sessionRun(ctx context.Context, req hilbot.SessionRunReq) (hilbot.SessionRunResp, error) {
	// detach from the request context: the session outlives it
	s, err := a.SessionRun(context.Background(), req)
	if err != nil {
		return hilbot.SessionRunResp{}, err
	}
	return hilbot.SessionRunResp{Session: s.Name}, nil
}

func (a *Agent) sessionStatus(ctx context.Context, req hilbot.SessionStatusReq) (hilbot.SessionStatusResp, error) {
	done, result, running, err := a.SessionStatus(req.Session)
	if err != nil {
		return hilbot.SessionStatusResp{}, err
	}
	return hilbot.SessionStatusResp{Done: done, Result: result, Running: running}, nil
}

func (a *Agent) sessionAbort(ctx context.Context, req hilbot.SessionAbortReq) error {
	a.Abort(req.Session)
	return nil
}

func (a *Agent) checkOut(ctx context.Context, req hilbot.CheckOutReq) error {
	log.Printkv(ctx, "at", "check-out", "ref", req.Ref, "caller", req.Caller)
	return a.CheckOut(ctx, req.URL, req.Ref)
}

func (a *Agent) resultPath(ctx context.Context, req hilbot.ResultPathReq) hilbot.ResultPathResp {
	return hilbot.ResultPathResp{Path: a.ResultPath(req.Session)}
}

func (a *Agent) archive(ctx context.Context, req hilbot.ArchiveReq) (hilbot.ArchiveResp, error) {
	urls, err := a.Archive(req.Session)
	if err != nil {
		return hilbot.ArchiveResp{}, err
	}
	return hilbot.ArchiveResp{URLs: urls}, nil
}

func (a *Agent) restart(ctx context.Context) error {
	return a.Restart()
}

// live streams a session's summary log, following it tail -f style
// until the session completes.
func (a *Agent) live(w http.ResponseWriter, req *http.Request) {
	session := req.URL.Path[len("/live/"):]
	f, err := os.Open(a.ResultPath(session) + "/summary.log")
	if err != nil {
		http.Error(w, "not found", 404)
		return
	}
	defer f.Close()

	w.Header().Set("Content-Type", "text/plain; charset=utf-8")
	flush := func() {}
	if fl, ok := w.(http.Flusher); ok {
		flush = fl.Flush
	}
	io.Copy(hilbot.FlushWriter(w, flush), &follower{agent: a, session: session, f: f})
}

// A follower acts like 'tail -f'. It reads from f to the end, then
// waits for more data to be appended, and reads that too. It returns
// EOF once the session is no longer running (while f is at the end).
type follower struct {
	agent   *Agent
	session string
	f       *os.File
}

func (f *follower) Read(p []byte) (int, error) {
	for {
		running := f.isRunning()
		n, err := f.f.Read(p)
		if err != nil && err != io.EOF {
			return n, err
		}
		if n == 0 && err == io.EOF && !running {
			return n, io.EOF
		}
		if n == 0 {
			time.Sleep(100 * time.Millisecond)
			continue // nothing happened, try again
		}
		return n, nil
	}
}

func (f *follower) isRunning() bool {
	f.agent.mu.Lock()
	defer f.agent.mu.Unlock()
	_, ok := f.agent.sessions[f.session]
	return ok
}
