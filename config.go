package dsbench

import (
	"fmt"
	"strings"
	"time"
)

const (
	// BackendMem selects the in-memory store (tests and local dev).
	BackendMem = "mem"
	// BackendS3 selects the generic S3-compatible store (MinIO client).
	BackendS3 = "s3"
	// BackendAWS selects the AWS-native S3 store.
	BackendAWS = "aws"
)

const (
	// DefaultCollection is the collection YCSB writes its records to.
	DefaultCollection = "usertable"
	// DefaultReadPageSize caps how many keys one cleanup page fetches.
	DefaultReadPageSize = 20000
	// DefaultDeleteChunkSize caps how many keys one delete call carries.
	DefaultDeleteChunkSize = 500
	// DefaultCleanupWorkers sizes the cleanup deletion worker pool.
	DefaultCleanupWorkers = 20
	// DefaultThrottleEvery pauses the pagination loop after this many pages.
	DefaultThrottleEvery = 10
	// DefaultThrottlePause is how long the pagination loop pauses.
	DefaultThrottlePause = 10 * time.Second
	// DefaultPrivateKeyfile is where remote keyfiles are staged locally.
	DefaultPrivateKeyfile = "/tmp/dsbench-key.json"
	// DefaultRecordCount is the YCSB record count when not configured.
	DefaultRecordCount = 1000
	// DefaultOperationCount is the YCSB operation count when not configured.
	DefaultOperationCount = 1000
	// DefaultThreads is the YCSB client thread count when not configured.
	DefaultThreads = 1
)

// Config carries every knob the driver needs. It is passed explicitly
// into each component; there is no ambient process-wide state.
type Config struct {
	// Backend selects the store implementation: mem, s3, or aws.
	Backend string
	// Endpoint overrides the store endpoint (host[:port] or URL).
	Endpoint string
	// Region is the store region (required for the aws backend).
	Region string
	// Bucket is the bucket holding benchmark collections (s3/aws).
	Bucket string
	// Insecure disables TLS verification towards the store endpoint.
	Insecure bool
	// ForcePathStyle forces path-style bucket addressing (s3 backend).
	ForcePathStyle bool
	// AccessKey, SecretKey and SessionToken are static store
	// credentials. When empty the backend's default provider chain is
	// used; a staged keyfile overrides them for the client built from
	// it.
	AccessKey    string
	SecretKey    string
	SessionToken string

	// Collections are the collections YCSB loads and cleanup deletes.
	Collections []string

	// Keyfile locates the benchmark credentials: a local path or an
	// s3://bucket/key URL fetched to PrivateKeyfile before use.
	Keyfile string
	// DeletionKeyfile locates the cleanup credentials. When empty the
	// precondition check and the cleanup phase are skipped with a
	// warning, matching the driver's historical behaviour.
	DeletionKeyfile string
	// PrivateKeyfile is the local staging path for remote keyfiles.
	PrivateKeyfile string

	// ReadPageSize caps keys per cleanup page read.
	ReadPageSize int
	// DeleteChunkSize caps keys per delete call.
	DeleteChunkSize int
	// CleanupWorkers sizes the shared deletion worker pool.
	CleanupWorkers int
	// ThrottleEvery pauses pagination after every Nth page (0 disables).
	ThrottleEvery int
	// ThrottlePause is the pagination pause duration.
	ThrottlePause time.Duration
	// MaxBufferedPages bounds pages read but not yet deleted. 0
	// selects the default of twice the worker count; negative keeps
	// the historical unbounded read-ahead.
	MaxBufferedPages int

	// RecordCount, OperationCount, Threads and Target feed the YCSB
	// core workload properties.
	RecordCount    int
	OperationCount int
	Threads        int
	Target         int
	// WorkloadProps are extra YCSB properties merged last, e.g.
	// readproportion or requestdistribution overrides.
	WorkloadProps map[string]string

	// SamplePath appends emitted samples as JSON lines when set.
	SamplePath string
}

// Validate applies defaults and rejects inconsistent settings.
func (c *Config) Validate() error {
	c.Backend = strings.ToLower(strings.TrimSpace(c.Backend))
	if c.Backend == "" {
		c.Backend = BackendMem
	}
	switch c.Backend {
	case BackendMem:
	case BackendS3, BackendAWS:
		if strings.TrimSpace(c.Bucket) == "" {
			return fmt.Errorf("dsbench: %s backend requires a bucket", c.Backend)
		}
		if c.Backend == BackendAWS && strings.TrimSpace(c.Region) == "" {
			return fmt.Errorf("dsbench: aws backend requires a region")
		}
	default:
		return fmt.Errorf("dsbench: unsupported backend %q (expected mem, s3, or aws)", c.Backend)
	}
	if len(c.Collections) == 0 {
		c.Collections = []string{DefaultCollection}
	}
	for i, collection := range c.Collections {
		trimmed := strings.Trim(strings.TrimSpace(collection), "/")
		if trimmed == "" {
			return fmt.Errorf("dsbench: collection %d is empty", i)
		}
		c.Collections[i] = trimmed
	}
	if c.PrivateKeyfile == "" {
		c.PrivateKeyfile = DefaultPrivateKeyfile
	}
	if c.ReadPageSize == 0 {
		c.ReadPageSize = DefaultReadPageSize
	}
	if c.ReadPageSize < 0 {
		return fmt.Errorf("dsbench: read page size must be > 0")
	}
	if c.DeleteChunkSize == 0 {
		c.DeleteChunkSize = DefaultDeleteChunkSize
	}
	if c.DeleteChunkSize < 0 {
		return fmt.Errorf("dsbench: delete chunk size must be > 0")
	}
	if c.CleanupWorkers == 0 {
		c.CleanupWorkers = DefaultCleanupWorkers
	}
	if c.CleanupWorkers < 0 {
		return fmt.Errorf("dsbench: cleanup workers must be > 0")
	}
	if c.ThrottleEvery == 0 {
		c.ThrottleEvery = DefaultThrottleEvery
	}
	if c.ThrottleEvery < 0 {
		c.ThrottleEvery = 0
	}
	if c.ThrottlePause == 0 {
		c.ThrottlePause = DefaultThrottlePause
	}
	if c.ThrottlePause < 0 {
		return fmt.Errorf("dsbench: throttle pause must be >= 0")
	}
	if c.MaxBufferedPages == 0 {
		c.MaxBufferedPages = 2 * c.CleanupWorkers
	}
	if c.MaxBufferedPages < 0 {
		c.MaxBufferedPages = 0
	}
	if c.RecordCount == 0 {
		c.RecordCount = DefaultRecordCount
	}
	if c.RecordCount < 0 {
		return fmt.Errorf("dsbench: record count must be > 0")
	}
	if c.OperationCount == 0 {
		c.OperationCount = DefaultOperationCount
	}
	if c.OperationCount < 0 {
		return fmt.Errorf("dsbench: operation count must be > 0")
	}
	if c.Threads == 0 {
		c.Threads = DefaultThreads
	}
	if c.Threads < 0 {
		return fmt.Errorf("dsbench: threads must be > 0")
	}
	if c.Target < 0 {
		return fmt.Errorf("dsbench: target must be >= 0")
	}
	return nil
}
