// Package aws implements store.Client backed by AWS S3 using the
// official SDK. Collections map to key prefixes and records are JSON
// objects; batch deletion uses the DeleteObjects API.
package aws

import (
	"bytes"
	"context"
	"crypto/tls"
	"encoding/json"
	"errors"
	"fmt"
	"io"
	"net"
	"net/http"
	"strings"
	"syscall"
	"time"

	"github.com/aws/aws-sdk-go-v2/aws"
	awshttp "github.com/aws/aws-sdk-go-v2/aws/transport/http"
	awsconfig "github.com/aws/aws-sdk-go-v2/config"
	awscreds "github.com/aws/aws-sdk-go-v2/credentials"
	"github.com/aws/aws-sdk-go-v2/service/s3"
	"github.com/aws/aws-sdk-go-v2/service/s3/types"
	smithy "github.com/aws/smithy-go"

	"pkt.systems/dsbench/internal/store"
	"pkt.systems/pslog"
)

// Config controls the behaviour of the AWS S3 storage backend. With
// empty AccessKey the SDK default provider chain supplies credentials.
type Config struct {
	Endpoint     string
	Region       string
	Bucket       string
	Prefix       string
	Insecure     bool
	AccessKey    string
	SecretKey    string
	SessionToken string
	Logger       pslog.Logger
}

// Store implements store.Client backed by AWS S3.
type Store struct {
	client *s3.Client
	cfg    Config
	logger pslog.Logger
}

// New constructs a Store using the provided configuration.
func New(cfg Config) (*Store, error) {
	if cfg.Bucket == "" {
		return nil, fmt.Errorf("aws: bucket is required")
	}
	if cfg.Region == "" {
		return nil, fmt.Errorf("aws: region is required")
	}
	cfg.Endpoint = strings.TrimSpace(cfg.Endpoint)
	cfg.Prefix = strings.Trim(cfg.Prefix, "/")

	httpClient := &http.Client{Transport: defaultTransport(cfg.Insecure)}
	loadOpts := []func(*awsconfig.LoadOptions) error{
		awsconfig.WithRegion(cfg.Region),
		awsconfig.WithHTTPClient(httpClient),
	}
	if cfg.AccessKey != "" {
		loadOpts = append(loadOpts, awsconfig.WithCredentialsProvider(
			awscreds.NewStaticCredentialsProvider(cfg.AccessKey, cfg.SecretKey, cfg.SessionToken)))
	}
	awsCfg, err := awsconfig.LoadDefaultConfig(context.Background(), loadOpts...)
	if err != nil {
		return nil, fmt.Errorf("aws: load config: %w", err)
	}

	client := s3.NewFromConfig(awsCfg, func(o *s3.Options) {
		if cfg.Endpoint != "" {
			endpoint := cfg.Endpoint
			if !strings.Contains(endpoint, "://") {
				scheme := "https"
				if cfg.Insecure {
					scheme = "http"
				}
				endpoint = scheme + "://" + endpoint
			}
			o.BaseEndpoint = aws.String(endpoint)
			o.UsePathStyle = true
		}
	})
	logger := cfg.Logger
	if logger == nil {
		logger = pslog.NoopLogger()
	}
	return &Store{client: client, cfg: cfg, logger: logger}, nil
}

func defaultTransport(insecure bool) http.RoundTripper {
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
	if insecure {
		if clone.TLSClientConfig == nil {
			clone.TLSClientConfig = &tls.Config{}
		}
		clone.TLSClientConfig.InsecureSkipVerify = true
	}
	return clone
}

// Close satisfies store.Client and is a no-op for the SDK client.
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
// collection prefix using ListObjectsV2 and its StartAfter cursor.
func (s *Store) ListKeys(ctx context.Context, collection string, opts store.ListKeysOptions) (*store.KeysPage, error) {
	start := time.Now()
	root := s.collectionRoot(collection)
	input := &s3.ListObjectsV2Input{
		Bucket: aws.String(s.cfg.Bucket),
		Prefix: aws.String(root),
	}
	if opts.StartAfter != "" {
		input.StartAfter = aws.String(root + opts.StartAfter)
	}
	if opts.Limit > 0 {
		input.MaxKeys = aws.Int32(int32(opts.Limit + 1))
	}
	page := &store.KeysPage{}
	exceeded := false
	for {
		resp, err := s.client.ListObjectsV2(ctx, input)
		if err != nil {
			return nil, wrapError(err, "aws: list keys")
		}
		for _, object := range resp.Contents {
			key := aws.ToString(object.Key)
			logicalKey := strings.TrimPrefix(key, root)
			if logicalKey == key {
				continue
			}
			if opts.Limit > 0 && len(page.Keys) >= opts.Limit {
				exceeded = true
				break
			}
			page.Keys = append(page.Keys, logicalKey)
		}
		if exceeded || !aws.ToBool(resp.IsTruncated) {
			break
		}
		if opts.Limit > 0 && len(page.Keys) >= opts.Limit {
			exceeded = true
			break
		}
		input.ContinuationToken = resp.NextContinuationToken
		input.StartAfter = nil
	}
	if exceeded {
		page.Truncated = true
		page.NextStartAfter = page.Keys[len(page.Keys)-1]
	}
	s.logger.Debug("aws.list_keys",
		"collection", collection,
		"count", len(page.Keys),
		"truncated", page.Truncated,
		"elapsed", time.Since(start),
	)
	return page, nil
}

// DeleteMulti removes the supplied keys in one DeleteObjects call.
// Per-key failures are joined into a single error; missing keys are
// not failures.
func (s *Store) DeleteMulti(ctx context.Context, collection string, keys []string) error {
	if len(keys) == 0 {
		return nil
	}
	objects := make([]types.ObjectIdentifier, 0, len(keys))
	for _, key := range keys {
		objects = append(objects, types.ObjectIdentifier{Key: aws.String(s.objectKey(collection, key))})
	}
	resp, err := s.client.DeleteObjects(ctx, &s3.DeleteObjectsInput{
		Bucket: aws.String(s.cfg.Bucket),
		Delete: &types.Delete{
			Objects: objects,
			Quiet:   aws.Bool(true),
		},
	})
	if err != nil {
		return wrapError(err, "aws: delete objects")
	}
	var errs []error
	for _, failure := range resp.Errors {
		code := aws.ToString(failure.Code)
		if code == "NoSuchKey" {
			continue
		}
		errs = append(errs, fmt.Errorf("aws: delete %s: %s: %s",
			aws.ToString(failure.Key), code, aws.ToString(failure.Message)))
	}
	return errors.Join(errs...)
}

// PutRecord uploads the record fields as a JSON object.
func (s *Store) PutRecord(ctx context.Context, collection, key string, fields store.Fields) error {
	payload, err := json.Marshal(fields)
	if err != nil {
		return fmt.Errorf("aws: encode record: %w", err)
	}
	_, err = s.client.PutObject(ctx, &s3.PutObjectInput{
		Bucket:      aws.String(s.cfg.Bucket),
		Key:         aws.String(s.objectKey(collection, key)),
		Body:        bytes.NewReader(payload),
		ContentType: aws.String("application/json"),
	})
	if err != nil {
		return wrapError(err, "aws: put record")
	}
	return nil
}

// GetRecord downloads and decodes the record under collection/key.
func (s *Store) GetRecord(ctx context.Context, collection, key string) (store.Fields, error) {
	resp, err := s.client.GetObject(ctx, &s3.GetObjectInput{
		Bucket: aws.String(s.cfg.Bucket),
		Key:    aws.String(s.objectKey(collection, key)),
	})
	if err != nil {
		if isNotFound(err) {
			return nil, store.ErrNotFound
		}
		return nil, wrapError(err, "aws: get record")
	}
	defer resp.Body.Close()
	payload, err := io.ReadAll(resp.Body)
	if err != nil {
		return nil, fmt.Errorf("aws: read record: %w", err)
	}
	var fields store.Fields
	if err := json.Unmarshal(payload, &fields); err != nil {
		return nil, fmt.Errorf("aws: decode record: %w", err)
	}
	return fields, nil
}

func isNotFound(err error) bool {
	if err == nil {
		return false
	}
	var apiErr smithy.APIError
	if errors.As(err, &apiErr) {
		switch apiErr.ErrorCode() {
		case "NoSuchKey", "NotFound", "NoSuchBucket":
			return true
		}
	}
	var respErr *awshttp.ResponseError
	if errors.As(err, &respErr) {
		return respErr.HTTPStatusCode() == http.StatusNotFound
	}
	return false
}

func wrapError(err error, msg string) error {
	if err == nil {
		return nil
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
	if status, ok := httpStatusCode(err); ok {
		if status >= http.StatusInternalServerError {
			return true
		}
		switch status {
		case http.StatusTooManyRequests, http.StatusRequestTimeout:
			return true
		}
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

func httpStatusCode(err error) (int, bool) {
	if err == nil {
		return 0, false
	}
	var statusErr interface{ HTTPStatusCode() int }
	if errors.As(err, &statusErr) {
		return statusErr.HTTPStatusCode(), true
	}
	return 0, false
}
