package log

import (
	"bytes"
	"context"
	"strings"
	"testing"
)

func TestPrintkv(t *testing.T) {
	old := Writer()
	var buf bytes.Buffer
	SetOutput(&buf)
	defer SetOutput(old)

	ctx := context.Background()
	Printkv(ctx, "at", "boot", "count", 3, "msg", "two words")
	line := buf.String()

	for _, want := range []string{"at=boot", "count=3", `msg="two words"`, "t="} {
		if !strings.Contains(line, want) {
			t.Errorf("log line %q missing %q", line, want)
		}
	}
}

func TestPrefix(t *testing.T) {
	old := Writer()
	var buf bytes.Buffer
	SetOutput(&buf)
	defer SetOutput(old)

	ctx := AddPrefixkv(context.Background(), "session", "s1", "instance", "6.1")
	Printf(ctx, "hello")
	line := buf.String()

	for _, want := range []string{"session=s1", "instance=6.1", "message=hello"} {
		if !strings.Contains(line, want) {
			t.Errorf("log line %q missing %q", line, want)
		}
	}
}

func TestOddParams(t *testing.T) {
	old := Writer()
	var buf bytes.Buffer
	SetOutput(&buf)
	defer SetOutput(old)

	Printkv(context.Background(), "only-key")
	if !strings.Contains(buf.String(), "log-error") {
		t.Errorf("odd params not flagged: %q", buf.String())
	}
}
