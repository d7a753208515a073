package agent

import (
	"context"
	"fmt"
	"io"
	"os"
	"os/exec"
	"strings"
	"sync"
	"syscall"
	"time"

	"github.com/wepogo/hilbot"
	"github.com/wepogo/hilbot/monitor"
	"github.com/wepogo/hilbot/trace"
)

// A Job is everything one instance pipeline needs: identity, work
// area, the locks guarding its board and toolchain, timer settings
// and the output sinks.
type Job struct {
	Instance hilbot.Instance
	Platform string
	Defines  []string
	Filter   string

	WorkDir    string
	RepoDir    string
	Connection string

	// ConnLock serializes access to the physical board; PlatformLock
	// serializes the platform's toolchain. Misc holds the named
	// machine-global locks.
	ConnLock     *sync.Mutex
	PlatformLock *sync.Mutex
	Misc         map[string]*sync.Mutex

	Guard      time.Duration
	Inactivity time.Duration
	Flag       *hilbot.RunFlag

	Out        io.Writer // full captured output
	ReportPath string
	SuiteName  string
}

// A Runner executes one instance pipeline and returns its code:
// zero for success, negative for infrastructure failure, positive
// for the number of failed test items.
type Runner func(ctx context.Context, job Job) int

// jlinkPlatforms name the platforms whose download tooling goes
// through the JLink stack. The stack tolerates one invocation per
// machine, so their pipelines serialize on the jlink misc lock even
// across platforms.
var jlinkPlatforms = map[string]bool{
	"nrf5sdk": true,
	"zephyr":  true,
}

// lockTooling acquires the job's locks in the fixed order: jlink
// (when the platform's tooling needs it), then platform, then
// connection. It returns the matching unlock.
func (job Job) lockTooling() (unlock func()) {
	var locks []*sync.Mutex
	if jlinkPlatforms[job.Platform] && job.Misc[LockJLink] != nil {
		locks = append(locks, job.Misc[LockJLink])
	}
	if job.PlatformLock != nil {
		locks = append(locks, job.PlatformLock)
	}
	if job.ConnLock != nil {
		locks = append(locks, job.ConnLock)
	}
	for _, l := range locks {
		l.Lock()
	}
	return func() {
		for i := len(locks) - 1; i >= 0; i-- {
			locks[i].Unlock()
		}
	}
}

// ExecRunner returns the default Runner: it invokes pipelineCmd as a
// subprocess (shell syntax, its own process group) and classifies
// the subprocess output with the monitor. The whole invocation runs
// under the job's locks (jlink where applicable, platform,
// connection); the per-platform script is responsible for build,
// download and starting the test binary on the target.
func ExecRunner(pipelineCmd string) Runner {
	return func(ctx context.Context, job Job) int {
		if pipelineCmd == "" {
			fmt.Fprintln(job.Out, "no pipeline command configured")
			return -1
		}

		unlock := job.lockTooling()
		defer unlock()

		if job.Flag != nil && job.Flag.Cleared() {
			return 0
		}

		cmd := exec.CommandContext(ctx, "/bin/bash", "-eo", "pipefail", "-c",
			pipelineCmd+" "+job.Instance.String())
		cmd.Dir = job.RepoDir
		cmd.SysProcAttr = &syscall.SysProcAttr{Setpgid: true}
		cmd.Env = append(os.Environ(),
			"U_WORK_DIR="+job.WorkDir,
			"U_CONNECTION="+job.Connection,
			"U_FILTER="+job.Filter,
			"U_DEFINES="+strings.Join(job.Defines, ";"),
		)
		cmd.Env = append(cmd.Env, trace.EnvironmentFor(ctx)...)

		pr, pw, err := os.Pipe()
		if err != nil {
			fmt.Fprintln(job.Out, "pipe:", err)
			return -1
		}
		cmd.Stdout = pw
		cmd.Stderr = pw

		fmt.Fprintln(job.Out, "cd", cmd.Dir)
		fmt.Fprintln(job.Out, strings.Join(cmd.Args, " "))
		if err := cmd.Start(); err != nil {
			pw.Close()
			pr.Close()
			fmt.Fprintln(job.Out, "start:", err)
			return -1
		}
		pw.Close() // child holds the write end now

		m := &monitor.Monitor{
			Guard:      job.Guard,
			Inactivity: job.Inactivity,
			Out:        job.Out,
			SuiteName:  job.SuiteName,
			ReportPath: job.ReportPath,
			Flag:       job.Flag,
		}
		src := monitor.NewPipeSource(cmd, pr, '\n')
		results, code := m.Run(ctx, src)

		// kill entire process group
		if cmd.Process != nil {
			syscall.Kill(-cmd.Process.Pid, syscall.SIGKILL)
		}

		if results.Errors > 0 && results.ItemsRun == 0 {
			// nothing usable came back; count it against the
			// infrastructure, not the tests
			if code > 0 {
				code = -code
			} else if code == 0 {
				code = -1
			}
		}
		return code
	}
}
