package controller

import (
	"bytes"
	"fmt"
	"strings"
	"time"

	"github.com/aws/aws-sdk-go/aws"
	"github.com/aws/aws-sdk-go/aws/session"
	s3pkg "github.com/aws/aws-sdk-go/service/s3"

	"github.com/wepogo/hilbot"
)

var textPlainUTF8 = "text/plain; charset=utf-8"

// summaryText renders the cross-agent view of one run: the combined
// result, one line per agent session, and the artifact URLs each
// agent uploaded.
func summaryText(ref string, code int, results []hilbot.SessionResult) []byte {
	buf := new(bytes.Buffer)
	fmt.Fprintf(buf, "run ref %q result %d\n", ref, code)
	for _, r := range results {
		names := make([]string, 0, len(r.Instances))
		for _, in := range r.Instances {
			names = append(names, in.String())
		}
		fmt.Fprintf(buf, "agent %s session %s instances %s result %d elapsed %v\n",
			r.Agent, r.Session, strings.Join(names, " "), r.Result,
			r.Elapsed.Round(time.Second))
		for _, u := range r.URLs {
			fmt.Fprintf(buf, "  %s\n", u)
		}
	}
	return buf.Bytes()
}

// uploadSummary puts the run summary next to the per-agent archives
// and returns its public URL.
func (c *Controller) uploadSummary(ref string, code int, results []hilbot.SessionResult) (string, error) {
	svc := s3pkg.New(session.Must(session.NewSession(
		aws.NewConfig().WithRegion(c.S3Region),
	)))
	key := "hilbot/runs/" + time.Now().UTC().Format("20060102-150405") + ".txt"
	_, err := svc.PutObject(&s3pkg.PutObjectInput{
		ACL:         aws.String("public-read"),
		Bucket:      &c.S3Bucket,
		Key:         &key,
		Body:        bytes.NewReader(summaryText(ref, code, results)),
		ContentType: &textPlainUTF8,
	})
	if err != nil {
		return "", err
	}
	return "https://" + c.S3Bucket + ".s3.amazonaws.com/" + key, nil
}
