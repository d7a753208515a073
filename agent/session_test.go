package agent

import (
	"context"
	"fmt"
	"io/ioutil"
	"os"
	"strings"
	"sync/atomic"
	"testing"
	"time"

	"github.com/wepogo/hilbot"
	"github.com/wepogo/hilbot/instancedb"
)

const testTable = `
1: description="doxygen"
10: platform=esp32 mcu=esp32 board=esp32-a description="esp32 base"
10.1: platform=esp32 mcu=esp32 board=esp32-a description="esp32 shared board"
11: platform=nrf5sdk mcu=nrf52840 board=nrf-a description="nrf"
`

func testDB(t *testing.T) *instancedb.DB {
	t.Helper()
	db, err := instancedb.Parse(strings.NewReader(testTable))
	if err != nil {
		t.Fatal(err)
	}
	return db
}

func testAgent(t *testing.T, cfg Config) (*Agent, func()) {
	t.Helper()
	dir, err := ioutil.TempDir("", "agent")
	if err != nil {
		t.Fatal(err)
	}
	cfg.RootDir = dir
	if cfg.DB == nil {
		cfg.DB = testDB(t)
	}
	a := New(cfg)
	if err := a.Start(); err != nil {
		t.Fatal(err)
	}
	return a, func() {
		a.Stop()
		os.RemoveAll(dir)
	}
}

func instances(strs ...string) []hilbot.Instance {
	var out []hilbot.Instance
	for _, s := range strs {
		in, err := hilbot.ParseInstance(s)
		if err != nil {
			panic(err)
		}
		out = append(out, in)
	}
	return out
}

func wait(t *testing.T, s *Session) int {
	t.Helper()
	select {
	case <-s.done:
	case <-time.After(10 * time.Second):
		t.Fatal("session did not finish")
	}
	_, result := s.Done()
	return result
}

func TestSessionResult(t *testing.T) {
	codes := map[string]int{"1": 0, "10": 2, "11": 0}
	runner := func(ctx context.Context, job Job) int {
		return codes[job.Instance.String()]
	}
	a, cleanup := testAgent(t, Config{Name: "t", Runner: runner, Workers: 3})
	defer cleanup()

	s, err := a.SessionRun(context.Background(), hilbot.SessionRunReq{
		Caller:    "test",
		Instances: instances("1", "10", "11"),
	})
	if err != nil {
		t.Fatal(err)
	}
	if got := wait(t, s); got != 2 {
		t.Fatalf("result = %d, want 2", got)
	}
}

func TestSessionResultInfraWins(t *testing.T) {
	codes := map[string]int{"1": -1, "10": 3, "11": -2}
	runner := func(ctx context.Context, job Job) int {
		return codes[job.Instance.String()]
	}
	a, cleanup := testAgent(t, Config{Name: "t", Runner: runner, Workers: 3})
	defer cleanup()

	s, err := a.SessionRun(context.Background(), hilbot.SessionRunReq{
		Instances: instances("1", "10", "11"),
	})
	if err != nil {
		t.Fatal(err)
	}
	// any negative code poisons the whole session; positives drop out
	if got := wait(t, s); got != -3 {
		t.Fatalf("result = %d, want -3", got)
	}
}

func TestSessionUnknownInstance(t *testing.T) {
	a, cleanup := testAgent(t, Config{Name: "t", Runner: func(context.Context, Job) int { return 0 }})
	defer cleanup()

	_, err := a.SessionRun(context.Background(), hilbot.SessionRunReq{
		Instances: instances("99"),
	})
	if err == nil {
		t.Fatal("want error for unknown instance")
	}
}

// Instances that share a physical connection must never hold the
// board at the same time, even with free workers in the pool.
func TestConnLockNoOverlap(t *testing.T) {
	var inside, overlaps int32
	runner := func(ctx context.Context, job Job) int {
		job.ConnLock.Lock()
		defer job.ConnLock.Unlock()
		if atomic.AddInt32(&inside, 1) > 1 {
			atomic.AddInt32(&overlaps, 1)
		}
		time.Sleep(50 * time.Millisecond)
		atomic.AddInt32(&inside, -1)
		return 0
	}
	a, cleanup := testAgent(t, Config{
		Name:    "t",
		Runner:  runner,
		Workers: 4,
		Connections: map[string]string{
			"10":   "board-a",
			"10.1": "board-a",
		},
	})
	defer cleanup()

	s, err := a.SessionRun(context.Background(), hilbot.SessionRunReq{
		Instances: instances("10", "10.1"),
	})
	if err != nil {
		t.Fatal(err)
	}
	wait(t, s)
	if overlaps != 0 {
		t.Fatalf("%d overlapping runs on one connection", overlaps)
	}
}

func TestAbortOnFail(t *testing.T) {
	block := make(chan struct{})
	runner := func(ctx context.Context, job Job) int {
		if job.Instance.String() == "10" {
			return 5 // fails immediately
		}
		// waits until aborted or released
		select {
		case <-job.Flag.Done():
		case <-block:
		}
		return 0
	}
	a, cleanup := testAgent(t, Config{Name: "t", Runner: runner, Workers: 2})
	defer cleanup()

	s, err := a.SessionRun(context.Background(), hilbot.SessionRunReq{
		Instances:   instances("10", "11"),
		AbortOnFail: true,
	})
	if err != nil {
		t.Fatal(err)
	}
	// if abort-on-fail doesn't clear the flag, wait times out
	if got := wait(t, s); got != 5 {
		t.Fatalf("result = %d, want 5", got)
	}
	close(block)
}

func TestSessionAbort(t *testing.T) {
	runner := func(ctx context.Context, job Job) int {
		<-job.Flag.Done()
		return 0
	}
	a, cleanup := testAgent(t, Config{Name: "t", Runner: runner})
	defer cleanup()

	s, err := a.SessionRun(context.Background(), hilbot.SessionRunReq{
		Instances: instances("10"),
	})
	if err != nil {
		t.Fatal(err)
	}
	a.Abort(s.Name)
	wait(t, s)

	done, result, _, err := a.SessionStatus(s.Name)
	if err != nil || !done || result != 0 {
		t.Fatalf("status after abort: done=%v result=%d err=%v", done, result, err)
	}
}

func TestSessionStatusUnknown(t *testing.T) {
	a, cleanup := testAgent(t, Config{Name: "t", Runner: func(context.Context, Job) int { return 0 }})
	defer cleanup()

	_, _, _, err := a.SessionStatus("session-404")
	if err == nil {
		t.Fatal("want error for unknown session")
	}
}

func TestStartIdempotent(t *testing.T) {
	a, cleanup := testAgent(t, Config{Name: "t", Runner: func(context.Context, Job) int { return 0 }})
	defer cleanup()

	if err := a.Start(); err != nil {
		t.Fatal(err)
	}
	if err := a.Restart(); err != nil {
		t.Fatal(err)
	}
}

func TestAdvisoryLock(t *testing.T) {
	a, cleanup := testAgent(t, Config{Name: "t", Runner: func(context.Context, Job) int { return 0 }})
	defer cleanup()

	if ok, _ := a.Lock("alice"); !ok {
		t.Fatal("first lock refused")
	}
	if ok, _ := a.Lock("alice"); !ok {
		t.Fatal("relock by holder refused")
	}
	if ok, holder := a.Lock("bob"); ok || holder != "alice" {
		t.Fatalf("lock by bob: ok=%v holder=%q", ok, holder)
	}
	if err := a.Unlock("bob"); err == nil {
		t.Fatal("unlock by non-holder succeeded")
	}
	if err := a.Unlock("alice"); err != nil {
		t.Fatal(err)
	}
	if ok, _ := a.Lock("bob"); !ok {
		t.Fatal("lock after unlock refused")
	}
}

// Two sessions auto-starting an idle agent: only the call that
// performed the start owns the deferred stop, so the first session to
// finish must not tear down the agent under the other.
func TestConcurrentAutoStart(t *testing.T) {
	release := make(chan struct{})
	runner := func(ctx context.Context, job Job) int {
		if job.Instance.String() == "10" {
			select {
			case <-release:
			case <-job.Flag.Done():
				return -1 // aborted by the other session's teardown
			}
		}
		return 0
	}

	dir, err := ioutil.TempDir("", "agent")
	if err != nil {
		t.Fatal(err)
	}
	defer os.RemoveAll(dir)
	a := New(Config{Name: "t", RootDir: dir, DB: testDB(t), Runner: runner, Workers: 2})

	slow, err := a.SessionRun(context.Background(), hilbot.SessionRunReq{
		Instances: instances("10"),
	})
	if err != nil {
		t.Fatal(err)
	}
	fast, err := a.SessionRun(context.Background(), hilbot.SessionRunReq{
		Instances: instances("1"),
	})
	if err != nil {
		t.Fatal(err)
	}

	if got := wait(t, fast); got != 0 {
		t.Fatalf("fast session result = %d, want 0", got)
	}
	close(release)
	if got := wait(t, slow); got != 0 {
		t.Fatalf("slow session result = %d, want 0", got)
	}
}

func TestFinishedResultsPruned(t *testing.T) {
	a, cleanup := testAgent(t, Config{Name: "t", Runner: func(context.Context, Job) int { return 0 }})
	defer cleanup()

	a.mu.Lock()
	for i := 0; i < finishedCap+10; i++ {
		a.rememberResult(a.newSessionName(), i)
	}
	a.mu.Unlock()

	a.mu.Lock()
	defer a.mu.Unlock()
	if len(a.finished) != finishedCap {
		t.Fatalf("len(finished) = %d, want %d", len(a.finished), finishedCap)
	}
	if _, ok := a.finished["session-1"]; ok {
		t.Error("oldest result survived pruning")
	}
	newest := fmt.Sprintf("session-%d", finishedCap+10)
	if r, ok := a.finished[newest]; !ok || r != finishedCap+9 {
		t.Errorf("newest result = %d, %v, want %d, true", r, ok, finishedCap+9)
	}
}

func TestSummaryWritten(t *testing.T) {
	runner := func(ctx context.Context, job Job) int { return 0 }
	a, cleanup := testAgent(t, Config{Name: "t", Runner: runner})
	defer cleanup()

	s, err := a.SessionRun(context.Background(), hilbot.SessionRunReq{
		Caller:    "test",
		Instances: instances("10"),
	})
	if err != nil {
		t.Fatal(err)
	}
	wait(t, s)

	b, err := ioutil.ReadFile(a.ResultPath(s.Name) + "/summary.log")
	if err != nil {
		t.Fatal(err)
	}
	for _, want := range []string{"instance 10: starting", "instance 10: result 0", "result 0 after"} {
		if !strings.Contains(string(b), want) {
			t.Errorf("summary missing %q:\n%s", want, b)
		}
	}
}
