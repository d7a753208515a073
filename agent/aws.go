// +build aws

package agent

import (
	"context"
	"fmt"
	"io/ioutil"
	"os"
	"os/user"

	"github.com/wepogo/hilbot/config/aws"
	"github.com/wepogo/hilbot/log"
)

// On a fleet machine the only local configuration is the EC2 stack
// tag; everything else comes from the parameter store. Parameters are
// copied into the environment here so ConfigFromEnv sees them.
func init() {
	ctx := context.Background()

	store, _, stack, err := aws.Store()
	if err != nil {
		log.Fatalkv(ctx, "at", "parameter-store", log.KeyError, err)
	}
	store.PathPrefix = fmt.Sprintf("/%s/hilbot-agent/env/", stack)

	for _, name := range []string{
		"HIL_DATABASE", "HIL_AGENT_NAME", "HIL_ROOT_DIR", "HIL_REPO_DIR",
		"HIL_REPO_URL", "HIL_PIPELINE", "HIL_CONNECTIONS", "HIL_WORKERS",
		"S3_REGION", "S3_BUCKET",
	} {
		if v := store.GetString(name, ""); v != "" {
			os.Setenv(name, v)
		}
	}

	if host, err := aws.LocalHostname(); err == nil && os.Getenv("HIL_AGENT_NAME") == "" {
		os.Setenv("HIL_AGENT_NAME", host)
	}

	creds := store.GetString("GIT_CREDENTIALS", "")
	if creds == "" {
		return
	}
	usr, err := user.Current()
	if err != nil {
		log.Fatalkv(ctx, "at", "current-user", log.KeyError, err)
	}
	gitfile := usr.HomeDir + "/.git-credentials"
	if err := ioutil.WriteFile(gitfile, []byte(creds+"\n"), 0700); err != nil {
		log.Fatalkv(ctx, "at", "write-git-credentials", log.KeyError, err)
	}
	err = command(ctx, os.Stdout, "git", "config", "--global",
		"credential.helper", fmt.Sprintf("store --file %v", gitfile)).Run()
	if err != nil {
		log.Fatalkv(ctx, "at", "git-config", log.KeyError, err)
	}
}
