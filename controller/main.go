package controller

import (
	"context"
	"crypto/sha256"
	"net/http"
	"os"
	"strings"
	"time"

	_ "github.com/heroku/x/hmetrics/onload"
	"github.com/kr/githubauth"
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

// Main runs the controller service: the status UI plus a /run RPC
// that kicks off a fleet-wide test run.
func Main() {
	ctx := context.Background()
	tracer.Start(tracer.WithServiceName("hilbot-controller"))

	db, err := instancedb.Load(or(os.Getenv("HIL_DATABASE"), "DATABASE.md"))
	if err != nil {
		log.Fatalkv(ctx, "variable", "HIL_DATABASE", log.KeyError, err)
	}

	c := &Controller{
		Caller:   or(os.Getenv("HIL_CONTROLLER_NAME"), "controller"),
		DB:       db,
		Agents:   strings.Fields(os.Getenv("HIL_AGENTS")),
		RepoURL:  os.Getenv("HIL_REPO_URL"),
		Archive:  os.Getenv("S3_BUCKET") != "",
		S3Region: os.Getenv("S3_REGION"),
		S3Bucket: os.Getenv("S3_BUCKET"),
	}
	if len(c.Agents) == 0 {
		log.Fatalkv(ctx, "variable", "HIL_AGENTS", "error", "no agent addresses configured")
	}
	if dbURL := os.Getenv("DATABASE_URL"); dbURL != "" {
		c.Store, err = OpenStore(dbURL)
		if err != nil {
			log.Fatalkv(ctx, log.KeyError, err)
		}
	}

	listenAddr := or(os.Getenv("LISTEN"), ":1994")
	log.Printkv(ctx, "at", "controller-listen", "addr", listenAddr, "agents", len(c.Agents))
	err = http.ListenAndServe(listenAddr, c.Handler())
	log.Fatalkv(ctx, log.KeyError, err)
}

// Handler returns the controller's HTTP surface: the run RPC plus
// the browser UI (behind GitHub auth when configured).
func (c *Controller) Handler() http.Handler {
	// browser-accessible URLs need github auth
	authMux := new(http.ServeMux)
	authMux.Handle("/guide.txt", static("guide.txt", guide))
	authMux.HandleFunc("/run/", c.runDetail)
	authMux.HandleFunc("/live/", c.live)
	authMux.HandleFunc("/", c.index)

	mux := new(http.ServeMux)
	mux.Handle("/run", jsonHandler(c.runRPC))
	mux.Handle("/static/a.css", static("a.css", css))
	mux.Handle("/static/a.js", static("a.js", js))
	mux.Handle("/", githubauthHandler(authMux))
	return mux
}

// RunReq asks the controller for one fleet run.
type RunReq struct {
	Instances   []hilbot.Instance
	Ref         string
	Filter      string
	Clean       bool
	AbortOnFail bool
	TimeoutSec  int
}

type RunResp struct {
	Result int
}

func (c *Controller) runRPC(ctx context.Context, req RunReq) (RunResp, error) {
	run := *c // copy so per-run settings don't leak between runs
	run.Filter = req.Filter
	run.Clean = req.Clean
	run.AbortOnFail = req.AbortOnFail
	run.Timeout = time.Duration(req.TimeoutSec) * time.Second

	// detach from the request context: the run outlives it
	code, err := run.Run(context.Background(), req.Instances, req.Ref)
	if err != nil {
		return RunResp{}, err
	}
	return RunResp{Result: code}, nil
}

func githubauthHandler(h http.Handler) http.Handler {
	org := os.Getenv("GITHUB_ORG")
	if org == "" {
		// no auth configured; useful on closed networks and in tests
		return h
	}
	var keys []*[32]byte
	for _, s := range strings.Split(os.Getenv("SECURE_KEY"), ",") {
		k := sha256.Sum256([]byte(s))
		keys = append(keys, &k)
	}
	return &githubauth.Handler{
		RequireOrg:   org,
		MaxAge:       28 * 24 * time.Hour,
		Keys:         keys,
		ClientID:     os.Getenv("CLIENT_ID"),
		ClientSecret: os.Getenv("CLIENT_SECRET"),
		Handler:      h,
	}
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
