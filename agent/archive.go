package agent

import (
	"io/ioutil"
	"os"
	"path/filepath"
	"sort"

	"github.com/aws/aws-sdk-go/aws"
	"github.com/aws/aws-sdk-go/aws/session"
	s3pkg "github.com/aws/aws-sdk-go/service/s3"
	"golang.org/x/xerrors"
)

var textPlainUTF8 = "text/plain; charset=utf-8"

// Archive uploads every file in a session's result directory to S3
// and returns their public URLs, sorted by name.
func (a *Agent) Archive(sessionName string) ([]string, error) {
	if a.cfg.S3Bucket == "" {
		return nil, xerrors.New("S3_BUCKET is unset")
	}
	dir := a.ResultPath(sessionName)
	entries, err := ioutil.ReadDir(dir)
	if err != nil {
		return nil, err
	}

	svc := s3pkg.New(session.Must(session.NewSession(
		aws.NewConfig().WithRegion(a.cfg.S3Region),
	)))

	var urls []string
	for _, e := range entries {
		if e.IsDir() {
			continue
		}
		f, err := os.Open(filepath.Join(dir, e.Name()))
		if err != nil {
			return urls, err
		}
		key := "hilbot/" + a.cfg.Name + "/" + sessionName + "/" + e.Name()
		_, err = svc.PutObject(&s3pkg.PutObjectInput{
			ACL:         aws.String("public-read"),
			Bucket:      &a.cfg.S3Bucket,
			Key:         &key,
			Body:        f,
			ContentType: &textPlainUTF8,
		})
		f.Close()
		if err != nil {
			return urls, xerrors.Errorf("upload %s: %w", e.Name(), err)
		}
		urls = append(urls, "https://"+a.cfg.S3Bucket+".s3.amazonaws.com/"+key)
	}
	sort.Strings(urls)
	return urls, nil
}
