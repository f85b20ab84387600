// Package dsbench drives YCSB benchmarks against S3-compatible
// key-value object stores. A run stages store credentials, verifies
// the target collections are empty, executes a YCSB load/run cycle
// in-process, emits performance samples, and bulk-deletes the data it
// created through a bounded-concurrency paginated deletion engine.
package dsbench
