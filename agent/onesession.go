package agent

import (
	"context"
	"fmt"
	"os"
	"time"

	"github.com/wepogo/hilbot"
)

// OneSession is like Main, but runs a single session on this machine
// and exits, without serving RPC. It requires the same environment
// as Main. args is the instance list with an optional trailing
// test-name filter word.
func OneSession(args []string) {
	cfg, err := ConfigFromEnv()
	if err != nil {
		fmt.Fprintln(os.Stderr, err)
		os.Exit(2)
	}

	var (
		instances []hilbot.Instance
		filter    string
	)
	for _, arg := range args {
		if arg[0] >= '0' && arg[0] <= '9' {
			in, err := hilbot.ParseInstance(arg)
			if err != nil {
				fmt.Fprintln(os.Stderr, err)
				os.Exit(2)
			}
			instances = append(instances, in)
			continue
		}
		if filter != "" {
			fmt.Fprintln(os.Stderr, "at most one filter word is allowed")
			os.Exit(2)
		}
		filter = arg
	}

	a := New(cfg)
	s, err := a.SessionRun(context.Background(), hilbot.SessionRunReq{
		Caller:    "one-session",
		Instances: instances,
		Filter:    filter,
		Clean:     true,
	})
	if err != nil {
		fmt.Fprintln(os.Stderr, err)
		os.Exit(2)
	}

	go func() {
		// mirror the summary to stdout as it is written
		f, err := os.Open(s.OutDir + "/summary.log")
		if err != nil {
			return
		}
		defer f.Close()
		buf := make([]byte, 4096)
		for {
			n, _ := f.Read(buf)
			if n > 0 {
				os.Stdout.Write(buf[:n])
			} else {
				if done, _ := s.Done(); done {
					return
				}
				time.Sleep(100 * time.Millisecond)
			}
		}
	}()

	<-s.done
	_, result := s.Done()
	fmt.Println("result", result, "output in", s.OutDir)
	if result != 0 {
		os.Exit(1)
	}
}
