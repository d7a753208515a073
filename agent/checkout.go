package agent

import (
	"context"
	"io"
	"io/ioutil"
	"os"
	"os/exec"
	"strings"
	"syscall"
	"time"

	"golang.org/x/xerrors"

	"github.com/wepogo/hilbot/log"
)

// CheckOut moves the agent's working copy to ref, cloning url first
// if there is no working copy yet. Local modifications and build
// droppings are discarded.
func (a *Agent) CheckOut(ctx context.Context, url, ref string) error {
	dir := a.cfg.RepoDir
	if url == "" {
		url = a.cfg.RepoURL
	}

	if _, err := os.Stat(dir); os.IsNotExist(err) {
		err := command(ctx, os.Stdout, "git", "clone", url, dir).Run()
		if err != nil {
			return xerrors.Errorf("clone %s: %w", url, err)
		}
	}

	if !objectExists(ctx, dir, ref) {
		err := runIn(ctx, dir, command(ctx, os.Stdout, "git", "fetch", "--all"))
		if err != nil {
			// Sometimes this fails, and trying again usually works.
			time.Sleep(2 * time.Second)
			err = runIn(ctx, dir, command(ctx, os.Stdout, "git", "fetch", "--all"))
		}
		if err != nil {
			return xerrors.Errorf("fetch: %w", err)
		}
	}

	err := runIn(ctx, dir, command(ctx, os.Stdout, "git", "clean", "-xdf"))
	if err != nil {
		return err
	}
	err = runIn(ctx, dir, command(ctx, os.Stdout, "git", "reset", "--hard", ref))
	if err != nil {
		return xerrors.Errorf("reset to %s: %w", ref, err)
	}
	log.Printkv(ctx, "at", "check-out", "ref", ref)
	return nil
}

// Branch reports the working copy's current branch name.
func (a *Agent) Branch(ctx context.Context) string {
	return gitQuery(ctx, a.cfg.RepoDir, "rev-parse", "--abbrev-ref", "HEAD")
}

// Hash reports the working copy's current commit hash.
func (a *Agent) Hash(ctx context.Context) string {
	return gitQuery(ctx, a.cfg.RepoDir, "rev-parse", "HEAD")
}

func gitQuery(ctx context.Context, dir string, args ...string) string {
	c := exec.CommandContext(ctx, "git", args...)
	c.Dir = dir
	out, err := c.Output()
	if err != nil {
		return ""
	}
	return strings.TrimSpace(string(out))
}

// objectExists returns whether ref definitely resolves in the local
// clone. It returns false if it doesn't, or if there was an error.
func objectExists(ctx context.Context, dir, ref string) bool {
	err := runIn(ctx, dir, command(ctx, ioutil.Discard, "git", "cat-file", "-e", ref+"^{commit}"))
	return err == nil
}

func runIn(ctx context.Context, dir string, c *exec.Cmd) error {
	c.Dir = dir
	return c.Run()
}

func command(ctx context.Context, w io.Writer, name string, arg ...string) *exec.Cmd {
	c := exec.CommandContext(ctx, name, arg...)
	c.SysProcAttr = &syscall.SysProcAttr{Setpgid: true}
	c.Stdout = w
	c.Stderr = w
	return c
}
