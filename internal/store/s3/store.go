// Package s3 implements store.Client backed by S3-compatible object
// storage via the MinIO client. Collections map to key prefixes and
// records are JSON objects.
package s3

import (
	"bytes"
	"context"
	"encoding/json"
	"errors"
	"fmt"
	"io"
	"net"
	"net/http"
	"strings"
	"syscall"
	"time"

	minio "github.com/minio/minio-go/v7"
	"github.com/minio/minio-go/v7/pkg/credentials"

	"pkt.systems/dsbench/internal/store"
	"pkt.systems/pslog"
)

// Config controls the behaviour of the S3 storage backend.
type Config struct {
	Endpoint       string
	Region         string
	Bucket         string
	Prefix         string
	Insecure       bool
	ForcePathStyle bool
	CustomCreds    *credentials.Credentials
	Transport      http.RoundTripper
	Logger         pslog.Logger
}

// Store implements store.Client backed by S3-compatible object storage.
type Store struct {
	client *minio.Client
	cfg    Config
	logger pslog.Logger
}

// New constructs a Store using the provided configuration.
func New(cfg Config) (*Store, error) {
	if cfg.Bucket == "" {
		return nil, fmt.Errorf("s3: bucket is required")
	}
	endpoint := cfg.Endpoint
	if endpoint == "" {
		if cfg.Region != "" {
			endpoint = fmt.Sprintf("s3.%s.amazonaws.com", cfg.Region)
		} else {
			endpoint = "s3.amazonaws.com"
		}
	}
	// The MinIO client wants host[:port]; tolerate URL endpoints and
	// let an http scheme imply an insecure connection.
	if scheme, host, found := strings.Cut(endpoint, "://"); found {
		endpoint = host
		if scheme == "http" {
			cfg.Insecure = true
		}
	}
	if cfg.Transport == nil {
		cfg.Transport = defaultTransport()
	}
	creds := cfg.CustomCreds
	if creds == nil {
		creds = credentials.NewChainCredentials([]credentials.Provider{
			&credentials.EnvAWS{},
			&credentials.EnvMinio{},
			&credentials.FileAWSCredentials{},
			&credentials.IAM{},
		})
	}
	options := &minio.Options{
		Creds:     creds,
		Secure:    !cfg.Insecure,
		Region:    cfg.Region,
		Transport: cfg.Transport,
	}
	if cfg.ForcePathStyle {
		options.BucketLookup = minio.BucketLookupPath
	}
	client, err := minio.New(endpoint, options)
	if err != nil {
		return nil, fmt.Errorf("s3: create client: %w", err)
	}
	cfg.Prefix = strings.Trim(cfg.Prefix, "/")
	logger := cfg.Logger
	if logger == nil {
		logger = pslog.NoopLogger()
	}
	return &Store{client: client, cfg: cfg, logger: logger}, nil
}

func defaultTransport() http.RoundTripper {
	base, ok := http.DefaultTransport.(*http.Transport)
	if !ok {
		return http.DefaultTransport
	}
	clone := base.Clone()
	if clone.MaxIdleConns == 0 {
		clone.MaxIdleConns = 256
	}
	if clone.MaxIdleConnsPerHost == 0 {
		clone.MaxIdleConnsPerHost = 64
	}
	if clone.IdleConnTimeout == 0 {
		clone.IdleConnTimeout = 90 * time.Second
	}
	return clone
}

// Close satisfies store.Client and is a no-op for the S3 client.
func (s *Store) Close() error { return nil }

func (s *Store) collectionRoot(collection string) string {
	root := strings.Trim(collection, "/")
	if s.cfg.Prefix != "" {
		root = s.cfg.Prefix + "/" + root
	}
	return root + "/"
}

func (s *Store) objectKey(collection, key string) string {
	return s.collectionRoot(collection) + key
}

// ListKeys enumerates one ascending page of record keys within the
// collection prefix.
func (s *Store) ListKeys(ctx context.Context, collection string, opts store.ListKeysOptions) (*store.KeysPage, error) {
	start := time.Now()
	root := s.collectionRoot(collection)
	listOpts := minio.ListObjectsOptions{
		Prefix:    root,
		Recursive: true,
	}
	if opts.StartAfter != "" {
		listOpts.StartAfter = root + opts.StartAfter
	}
	if opts.Limit > 0 {
		listOpts.MaxKeys = opts.Limit + 1
	}
	ctx, cancel := context.WithCancel(ctx)
	defer cancel()
	page := &store.KeysPage{}
	exceeded := false
	for object := range s.client.ListObjects(ctx, s.cfg.Bucket, listOpts) {
		if object.Err != nil {
			return nil, s.wrapError(object.Err, "s3: list keys")
		}
		logicalKey := strings.TrimPrefix(object.Key, root)
		if logicalKey == object.Key {
			continue
		}
		if opts.Limit > 0 && len(page.Keys) >= opts.Limit {
			exceeded = true
			break
		}
		page.Keys = append(page.Keys, logicalKey)
	}
	if exceeded {
		page.Truncated = true
		page.NextStartAfter = page.Keys[len(page.Keys)-1]
	}
	s.logger.Debug("s3.list_keys",
		"collection", collection,
		"count", len(page.Keys),
		"truncated", page.Truncated,
		"elapsed", time.Since(start),
	)
	return page, nil
}

// DeleteMulti removes the supplied keys through the batch removal API.
// Keys that do not exist are not an error.
func (s *Store) DeleteMulti(ctx context.Context, collection string, keys []string) error {
	if len(keys) == 0 {
		return nil
	}
	objectsCh := make(chan minio.ObjectInfo, len(keys))
	for _, key := range keys {
		objectsCh <- minio.ObjectInfo{Key: s.objectKey(collection, key)}
	}
	close(objectsCh)
	var errs []error
	for rErr := range s.client.RemoveObjects(ctx, s.cfg.Bucket, objectsCh, minio.RemoveObjectsOptions{}) {
		if rErr.Err == nil {
			continue
		}
		werr := s.wrapError(rErr.Err, fmt.Sprintf("s3: remove %s", rErr.ObjectName))
		if errors.Is(werr, store.ErrNotFound) {
			continue
		}
		errs = append(errs, werr)
	}
	return errors.Join(errs...)
}

// PutRecord uploads the record fields as a JSON object.
func (s *Store) PutRecord(ctx context.Context, collection, key string, fields store.Fields) error {
	payload, err := json.Marshal(fields)
	if err != nil {
		return fmt.Errorf("s3: encode record: %w", err)
	}
	opts := minio.PutObjectOptions{ContentType: "application/json"}
	_, err = s.client.PutObject(ctx, s.cfg.Bucket, s.objectKey(collection, key), bytes.NewReader(payload), int64(len(payload)), opts)
	if err != nil {
		return s.wrapError(err, "s3: put record")
	}
	return nil
}

// GetRecord downloads and decodes the record under collection/key.
func (s *Store) GetRecord(ctx context.Context, collection, key string) (store.Fields, error) {
	obj, err := s.client.GetObject(ctx, s.cfg.Bucket, s.objectKey(collection, key), minio.GetObjectOptions{})
	if err != nil {
		return nil, s.wrapError(err, "s3: get record")
	}
	defer obj.Close()
	payload, err := io.ReadAll(obj)
	if err != nil {
		return nil, s.wrapError(err, "s3: read record")
	}
	var fields store.Fields
	if err := json.Unmarshal(payload, &fields); err != nil {
		return nil, fmt.Errorf("s3: decode record: %w", err)
	}
	return fields, nil
}

func (s *Store) wrapError(err error, msg string) error {
	if err == nil {
		return nil
	}
	resp := minio.ToErrorResponse(err)
	if resp.Code == "NoSuchKey" || resp.StatusCode == http.StatusNotFound {
		return store.ErrNotFound
	}
	wrapped := fmt.Errorf("%s: %w", msg, err)
	if isRetryable(err) {
		return store.NewTransientError(wrapped)
	}
	return wrapped
}

func isRetryable(err error) bool {
	if err == nil {
		return false
	}
	if errors.Is(err, context.DeadlineExceeded) {
		return true
	}
	if isNetworkConnectionError(err) {
		return true
	}
	var netErr net.Error
	if errors.As(err, &netErr) {
		if netErr.Timeout() {
			return true
		}
		var dnsErr *net.DNSError
		if errors.As(err, &dnsErr) && dnsErr.IsTemporary {
			return true
		}
	}
	resp := minio.ToErrorResponse(err)
	if resp.StatusCode >= http.StatusInternalServerError {
		return true
	}
	switch resp.StatusCode {
	case http.StatusTooManyRequests, http.StatusRequestTimeout:
		return true
	}
	return false
}

func isNetworkConnectionError(err error) bool {
	if err == nil {
		return false
	}
	if errors.Is(err, net.ErrClosed) || errors.Is(err, io.ErrUnexpectedEOF) || errors.Is(err, io.EOF) {
		return true
	}
	if errors.Is(err, syscall.ECONNRESET) || errors.Is(err, syscall.ECONNABORTED) || errors.Is(err, syscall.EPIPE) ||
		errors.Is(err, syscall.ECONNREFUSED) || errors.Is(err, syscall.EHOSTUNREACH) || errors.Is(err, syscall.ENETUNREACH) {
		return true
	}
	var opErr *net.OpError
	if errors.As(err, &opErr) {
		return isNetworkConnectionError(opErr.Err)
	}
	return false
}
