package agent

import (
	"bytes"
	"context"
	"encoding/json"
	"net/http"
	"net/http/httptest"
	"reflect"
	"testing"
	"time"

	"github.com/wepogo/hilbot"
)

func postJSON(t *testing.T, url string, in, out interface{}) {
	t.Helper()
	body := new(bytes.Buffer)
	json.NewEncoder(body).Encode(in)
	resp, err := http.Post(url, "application/json; charset=utf-8", body)
	if err != nil {
		t.Fatal(err)
	}
	defer resp.Body.Close()
	if resp.StatusCode != 200 {
		t.Fatalf("POST %s: status %d", url, resp.StatusCode)
	}
	if out != nil {
		if err := json.NewDecoder(resp.Body).Decode(out); err != nil {
			t.Fatal(err)
		}
	}
}

func TestRPCSurface(t *testing.T) {
	runner := func(ctx context.Context, job Job) int { return 0 }
	a, cleanup := testAgent(t, Config{Name: "agent-1", Runner: runner})
	defer cleanup()

	srv := httptest.NewServer(a.Handler())
	defer srv.Close()

	var lock hilbot.LockResp
	postJSON(t, srv.URL+"/lock", hilbot.LockReq{Caller: "ctl"}, &lock)
	if !lock.OK {
		t.Fatal("lock refused")
	}

	var info hilbot.InfoResp
	postJSON(t, srv.URL+"/info", struct{}{}, &info)
	if info.Name != "agent-1" {
		t.Fatalf("info.Name = %q", info.Name)
	}
	if len(info.Activated) == 0 {
		t.Fatal("no activated instances")
	}

	var run hilbot.SessionRunResp
	postJSON(t, srv.URL+"/session-run", hilbot.SessionRunReq{
		Caller:    "ctl",
		Instances: instances("10"),
	}, &run)
	if run.Session == "" {
		t.Fatal("no session name")
	}

	deadline := time.Now().Add(10 * time.Second)
	var status hilbot.SessionStatusResp
	for !status.Done {
		if time.Now().After(deadline) {
			t.Fatal("session never finished")
		}
		postJSON(t, srv.URL+"/session-status",
			hilbot.SessionStatusReq{Session: run.Session}, &status)
		time.Sleep(10 * time.Millisecond)
	}
	if status.Result != 0 {
		t.Fatalf("result = %d, want 0", status.Result)
	}

	var path hilbot.ResultPathResp
	postJSON(t, srv.URL+"/result-path",
		hilbot.ResultPathReq{Session: run.Session}, &path)
	if path.Path != a.ResultPath(run.Session) {
		t.Fatalf("path = %q", path.Path)
	}

	postJSON(t, srv.URL+"/unlock", hilbot.UnlockReq{Caller: "ctl"}, nil)
}

func TestParseConnections(t *testing.T) {
	got := parseConnections("10=board-a 10.1=board-a 11=nrf-1")
	want := map[string]string{"10": "board-a", "10.1": "board-a", "11": "nrf-1"}
	if !reflect.DeepEqual(got, want) {
		t.Fatalf("got %v, want %v", got, want)
	}
	if got := parseConnections(""); len(got) != 0 {
		t.Fatalf("empty input gave %v", got)
	}
}
