package dsbench

import (
	"context"
	"errors"
	"fmt"

	"pkt.systems/dsbench/internal/store"
)

// ErrNonEmptyDatabase indicates the target still holds records from an
// earlier run. Loading on top of them would skew results and leak
// storage, so the run refuses to start.
var ErrNonEmptyDatabase = errors.New("dsbench: target database is not empty")

// CheckEmpty probes each collection with a single-key listing and
// fails with ErrNonEmptyDatabase on the first key found.
func CheckEmpty(ctx context.Context, client store.Client, collections []string) error {
	for _, collection := range collections {
		page, err := client.ListKeys(ctx, collection, store.ListKeysOptions{Limit: 1})
		if err != nil {
			return fmt.Errorf("dsbench: precheck %s: %w", collection, err)
		}
		if len(page.Keys) > 0 {
			return fmt.Errorf("%w: collection %s holds %s", ErrNonEmptyDatabase, collection, page.Keys[0])
		}
	}
	return nil
}
