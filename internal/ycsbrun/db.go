// Package ycsbrun drives YCSB core workloads in-process against a
// store.Client.
package ycsbrun

import (
	"context"
	"errors"
	"fmt"
	"strings"

	"github.com/magiconair/properties"
	"github.com/pingcap/go-ycsb/pkg/ycsb"

	"pkt.systems/dsbench/internal/store"
	"pkt.systems/dsbench/internal/store/aws"
	"pkt.systems/dsbench/internal/store/memory"
	"pkt.systems/dsbench/internal/store/s3"
)

const (
	propBackend        = "dsbench.backend"
	propEndpoint       = "dsbench.endpoint"
	propRegion         = "dsbench.region"
	propBucket         = "dsbench.bucket"
	propPrefix         = "dsbench.prefix"
	propInsecure       = "dsbench.insecure"
	propForcePathStyle = "dsbench.force_path_style"
)

func init() {
	ycsb.RegisterDBCreator("dsbench", storeCreator{})
}

type storeCreator struct{}

// Create builds a backend from dsbench.* properties for standalone
// YCSB invocations. In-process runs use NewDB with a shared client
// instead.
func (storeCreator) Create(p *properties.Properties) (ycsb.DB, error) {
	backend := strings.ToLower(p.GetString(propBackend, "mem"))
	switch backend {
	case "mem":
		return NewDB(memory.New()), nil
	case "s3":
		client, err := s3.New(s3.Config{
			Endpoint:       p.GetString(propEndpoint, ""),
			Region:         p.GetString(propRegion, ""),
			Bucket:         p.GetString(propBucket, ""),
			Prefix:         p.GetString(propPrefix, ""),
			Insecure:       p.GetBool(propInsecure, false),
			ForcePathStyle: p.GetBool(propForcePathStyle, false),
		})
		if err != nil {
			return nil, err
		}
		return NewDB(client), nil
	case "aws":
		client, err := aws.New(aws.Config{
			Endpoint: p.GetString(propEndpoint, ""),
			Region:   p.GetString(propRegion, ""),
			Bucket:   p.GetString(propBucket, ""),
			Prefix:   p.GetString(propPrefix, ""),
			Insecure: p.GetBool(propInsecure, false),
		})
		if err != nil {
			return nil, err
		}
		return NewDB(client), nil
	default:
		return nil, fmt.Errorf("ycsbrun: unknown backend %q", backend)
	}
}

type storeDB struct {
	client store.Client
}

// NewDB adapts a store.Client to the YCSB DB interface.
func NewDB(client store.Client) ycsb.DB {
	return &storeDB{client: client}
}

func (db *storeDB) Close() error { return db.client.Close() }

func (db *storeDB) InitThread(ctx context.Context, _ int, _ int) context.Context {
	return ctx
}

func (db *storeDB) CleanupThread(_ context.Context) {}

func (db *storeDB) Read(ctx context.Context, table string, key string, fields []string) (map[string][]byte, error) {
	record, err := db.client.GetRecord(ctx, table, key)
	if err != nil {
		if errors.Is(err, store.ErrNotFound) {
			return nil, fmt.Errorf("ycsbrun: %s/%s not found", table, key)
		}
		return nil, err
	}
	return selectFields(record, fields), nil
}

func (db *storeDB) Scan(ctx context.Context, table string, startKey string, count int, fields []string) ([]map[string][]byte, error) {
	results := make([]map[string][]byte, 0, count)
	// The list cursor is exclusive; include the start record itself
	// when it exists.
	if record, err := db.client.GetRecord(ctx, table, startKey); err == nil {
		results = append(results, selectFields(record, fields))
	} else if !errors.Is(err, store.ErrNotFound) {
		return nil, err
	}
	cursor := startKey
	for len(results) < count {
		page, err := db.client.ListKeys(ctx, table, store.ListKeysOptions{
			StartAfter: cursor,
			Limit:      count - len(results),
		})
		if err != nil {
			return nil, err
		}
		for _, key := range page.Keys {
			record, err := db.client.GetRecord(ctx, table, key)
			if err != nil {
				if errors.Is(err, store.ErrNotFound) {
					continue
				}
				return nil, err
			}
			results = append(results, selectFields(record, fields))
			if len(results) >= count {
				break
			}
		}
		if !page.Truncated {
			break
		}
		cursor = page.NextStartAfter
	}
	return results, nil
}

func (db *storeDB) Insert(ctx context.Context, table string, key string, values map[string][]byte) error {
	return db.client.PutRecord(ctx, table, key, store.Fields(values))
}

func (db *storeDB) Update(ctx context.Context, table string, key string, values map[string][]byte) error {
	record, err := db.client.GetRecord(ctx, table, key)
	if err != nil {
		if errors.Is(err, store.ErrNotFound) {
			record = store.Fields{}
		} else {
			return err
		}
	}
	for field, value := range values {
		record[field] = append([]byte(nil), value...)
	}
	return db.client.PutRecord(ctx, table, key, record)
}

func (db *storeDB) Delete(ctx context.Context, table string, key string) error {
	return db.client.DeleteMulti(ctx, table, []string{key})
}

func selectFields(record store.Fields, fields []string) map[string][]byte {
	if len(fields) == 0 {
		return record
	}
	out := make(map[string][]byte, len(fields))
	for _, field := range fields {
		if value, ok := record[field]; ok {
			out[field] = value
		}
	}
	return out
}
