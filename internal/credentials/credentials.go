// Package credentials loads benchmark keyfiles and stages them from
// remote object storage to a private local path before a run.
package credentials

import (
	"context"
	"encoding/json"
	"fmt"
	"io"
	"os"
	"path/filepath"
	"strings"

	"github.com/aws/aws-sdk-go-v2/aws"
	"github.com/aws/aws-sdk-go-v2/service/s3"

	"pkt.systems/pslog"
)

// Keyfile is the parsed service credential used to reach the target
// database: a static key pair plus optional endpoint and region
// overrides for the store client built from it.
type Keyfile struct {
	AccessKeyID     string `json:"access_key_id"`
	SecretAccessKey string `json:"secret_access_key"`
	SessionToken    string `json:"session_token"`
	Endpoint        string `json:"endpoint"`
	Region          string `json:"region"`
}

// Load parses the keyfile at path. The key pair is mandatory; the
// endpoint and region override the run configuration when present.
func Load(path string) (*Keyfile, error) {
	payload, err := os.ReadFile(path)
	if err != nil {
		return nil, fmt.Errorf("credentials: read keyfile: %w", err)
	}
	var kf Keyfile
	if err := json.Unmarshal(payload, &kf); err != nil {
		return nil, fmt.Errorf("credentials: parse keyfile %s: %w", path, err)
	}
	if kf.AccessKeyID == "" {
		return nil, fmt.Errorf("credentials: keyfile %s has no access_key_id", path)
	}
	if kf.SecretAccessKey == "" {
		return nil, fmt.Errorf("credentials: keyfile %s has no secret_access_key", path)
	}
	return &kf, nil
}

// Fetcher retrieves a remote object. The AWS SDK client satisfies it
// through S3Fetcher; tests supply their own.
type Fetcher interface {
	Fetch(ctx context.Context, bucket, key string) (io.ReadCloser, error)
}

// S3Fetcher fetches objects with the AWS SDK.
type S3Fetcher struct {
	Client *s3.Client
}

// Fetch downloads bucket/key.
func (f S3Fetcher) Fetch(ctx context.Context, bucket, key string) (io.ReadCloser, error) {
	resp, err := f.Client.GetObject(ctx, &s3.GetObjectInput{
		Bucket: aws.String(bucket),
		Key:    aws.String(key),
	})
	if err != nil {
		return nil, fmt.Errorf("credentials: get s3://%s/%s: %w", bucket, key, err)
	}
	return resp.Body, nil
}

// Stager copies keyfiles into place. Remote sources need a Fetcher;
// local paths work without one.
type Stager struct {
	Fetcher Fetcher
	Logger  pslog.Logger
}

func (s Stager) logger() pslog.Logger {
	if s.Logger == nil {
		return pslog.NoopLogger()
	}
	return s.Logger
}

// Stage copies the keyfile at src, either a local path or an
// s3://bucket/key URL, to dst with owner-only permissions.
func (s Stager) Stage(ctx context.Context, src, dst string) error {
	var (
		reader io.ReadCloser
		err    error
	)
	if bucket, key, ok := splitObjectURL(src); ok {
		if s.Fetcher == nil {
			return fmt.Errorf("credentials: no fetcher configured for %s", src)
		}
		reader, err = s.Fetcher.Fetch(ctx, bucket, key)
		if err != nil {
			return err
		}
	} else {
		reader, err = os.Open(src)
		if err != nil {
			return fmt.Errorf("credentials: open keyfile: %w", err)
		}
	}
	defer reader.Close()

	if err := os.MkdirAll(filepath.Dir(dst), 0o700); err != nil {
		return fmt.Errorf("credentials: create keyfile dir: %w", err)
	}
	out, err := os.OpenFile(dst, os.O_WRONLY|os.O_CREATE|os.O_TRUNC, 0o600)
	if err != nil {
		return fmt.Errorf("credentials: create staged keyfile: %w", err)
	}
	if _, err := io.Copy(out, reader); err != nil {
		out.Close()
		return fmt.Errorf("credentials: stage keyfile: %w", err)
	}
	if err := out.Close(); err != nil {
		return fmt.Errorf("credentials: close staged keyfile: %w", err)
	}
	s.logger().Info("credentials.staged", "src", src, "dst", dst)
	return nil
}

func splitObjectURL(src string) (bucket, key string, ok bool) {
	rest, found := strings.CutPrefix(src, "s3://")
	if !found {
		return "", "", false
	}
	bucket, key, found = strings.Cut(rest, "/")
	if !found || bucket == "" || key == "" {
		return "", "", false
	}
	return bucket, key, true
}
