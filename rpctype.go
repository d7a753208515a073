package hilbot

import "time"

// Request and response types for the controller/agent RPC surface.
// The transport is JSON over HTTP (see package httpjson); every type
// here appears on the wire.

// LockReq asks an agent for its advisory exclusive lock. The lock
// only prevents two controllers from double-booking one agent before
// work begins; it is released as soon as the agent's instances have
// demonstrably started running.
type LockReq struct {
	Caller string
}

type LockResp struct {
	OK     bool
	Holder string // present when OK is false
}

type UnlockReq struct {
	Caller string
}

// InfoResp describes an agent: identity, code revision, the
// instances it is equipped to run and the ones running right now.
type InfoResp struct {
	Name      string
	Host      string
	Branch    string
	Hash      string
	Activated []Instance
	Running   []Instance
}

// SessionRunReq starts a batch of instances on an agent. The reply
// carries a session name; the controller polls SessionStatus with it.
type SessionRunReq struct {
	Caller      string
	Instances   []Instance
	Filter      string
	Clean       bool // wipe per-instance work dirs first
	AbortOnFail bool
	GuardSec    int // per-instance monitor guard timer
	InactiveSec int // per-instance monitor inactivity timer
}

type SessionRunResp struct {
	Session string
}

type SessionStatusReq struct {
	Session string
}

type SessionStatusResp struct {
	Done    bool
	Result  int // 0 / negative / positive convention
	Running []Instance
}

type SessionAbortReq struct {
	Session string
	Caller  string
}

// CheckOutReq moves the agent's working copy to a revision.
type CheckOutReq struct {
	URL    string
	Ref    string // branch name or commit hash
	Caller string
}

type ResultPathReq struct {
	Session string
}

type ResultPathResp struct {
	Path string
}

// ArchiveReq uploads a session's output and report files to the
// artifact archive. The reply lists the resulting URLs.
type ArchiveReq struct {
	Session string
}

type ArchiveResp struct {
	URLs []string
}

// SessionResult is the controller's record of one agent's finished
// session, kept for the summary file and the result store.
type SessionResult struct {
	Agent     string
	Session   string
	Instances []Instance
	Result    int
	Elapsed   time.Duration
	URLs      []string
}
