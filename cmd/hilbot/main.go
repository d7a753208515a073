package main

import (
	"fmt"
	"os"
	"os/exec"
	"strings"

	"github.com/wepogo/hilbot/agent"
	"github.com/wepogo/hilbot/controller"
	"github.com/wepogo/hilbot/instancedb"
	"github.com/wepogo/hilbot/selection"
)

func main() {
	if len(os.Args) < 2 {
		usage()
	}
	if n, fixed := needArgs[os.Args[1]]; fixed && len(os.Args) != n {
		usage()
	}
	switch os.Args[1] {
	case "controller":
		controller.Main()
	case "agent":
		agent.Main()
	case "session":
		if len(os.Args) < 3 {
			usage()
		}
		agent.OneSession(os.Args[2:])
	case "select":
		sel(os.Args[2])
	default:
		usage()
	}
}

// sel prints the instances (and filter, if any) a change needs,
// judged from the files changed since baseline and the head commit
// message.
func sel(baseline string) {
	db, err := instancedb.Load(envOr("HIL_DATABASE", "DATABASE.md"))
	if err != nil {
		fmt.Fprintln(os.Stderr, err)
		os.Exit(2)
	}

	diff, err := gitOutput("diff", "--name-only", baseline+"...HEAD")
	if err != nil {
		fmt.Fprintln(os.Stderr, "git diff:", err)
		os.Exit(2)
	}
	msg, err := gitOutput("log", "-1", "--format=%B")
	if err != nil {
		fmt.Fprintln(os.Stderr, "git log:", err)
		os.Exit(2)
	}

	var paths []string
	for _, p := range strings.Split(strings.TrimSpace(diff), "\n") {
		if p != "" {
			paths = append(paths, p)
		}
	}

	instances, filter := selection.FromChange(db, paths, msg)
	var names []string
	for _, in := range instances {
		names = append(names, in.String())
	}
	fmt.Println(strings.Join(names, " "))
	if filter != "" {
		fmt.Println("filter:", filter)
	}
}

func gitOutput(args ...string) (string, error) {
	out, err := exec.Command("git", args...).Output()
	return string(out), err
}

func envOr(key, d string) string {
	if v := os.Getenv(key); v != "" {
		return v
	}
	return d
}

func usage() {
	fmt.Fprint(os.Stderr, usageString)
	os.Exit(2)
}

const usageString = `usage:
  hilbot controller
  hilbot agent
  hilbot session [instance...] [filter]
  hilbot select [baseline]

For session, each instance is a dot-joined id like 6.1 and the
optional trailing word restricts the run to test names starting
with it. For select, baseline is the git ref to diff against.

Example:
  $ hilbot session 6.1 7 exampleMqtt
`

var needArgs = map[string]int{"controller": 2, "agent": 2, "select": 3}
