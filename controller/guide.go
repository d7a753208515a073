package controller

const guide = `
Hardware Test Orchestration Guide

hilbot runs the firmware test suite on real hardware. A
fleet of agent machines, each with debuggers and target
boards attached, is driven by a controller that decides
which test instances a change needs, spreads them across
the fleet, and combines the outcomes into one result.


Instances

An instance is a numbered test configuration, written as
dot-joined integers: instance 10 is a platform group,
instance 10.1 a variation of it (different module or
toolchain). Instances 1 through 6 are checkers (doxygen,
astyle, pylint and friends) that need no hardware and run
on every change. The full table lives in DATABASE.md in
the firmware repository.

You normally do not pick instances by hand: the selection
engine maps the files a change touches to the instances
that could be affected. When it cannot tell, it runs
everything. To override it, put a line like

    test: 6.1 7 instanceExample

in the commit message. The trailing word restricts the
run to test names starting with that string. "test: *"
forces everything, "test: none" runs nothing.


Results

Each instance produces a code: 0 is success, a positive
number counts failed test cases, a negative number means
the infrastructure itself failed (build broke, board
died, agent unreachable). One negative result poisons
the whole run: the combined result is then the sum of
the negative codes only, so a genuine infrastructure
problem is never mistaken for a handful of test
failures.


Reading this page

The index lists the agents currently reachable and the
recent runs. Each run page shows the per-agent session
results with links to the archived logs and XML reports.
While a session is running, its live output is available
under /live/<agent>/<session>.


Aborting

A run aborts cooperatively: agents clear the session's
run flag and every instance winds down at its next
checkpoint. A compile already in flight runs to
completion; the monitor's guard timer bounds the damage.
`
