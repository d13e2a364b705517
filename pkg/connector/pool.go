// Copyright 2024-2026 Aiku AI

package connector

import (
	"errors"
	"fmt"
	"sync/atomic"

	"golang.org/x/sync/errgroup"
)

// forEachLimited runs fn over items with at most limit calls in flight.
// Workers pull the next index from a shared counter, so a slow item never
// holds up the ones behind it. A failing or panicking item does not stop its
// siblings; all item errors are joined into the result.
func forEachLimited[T any](items []T, limit int, fn func(index int, item T) error) error {
	if len(items) == 0 {
		return nil
	}
	limit = max(1, min(limit, len(items)))

	errs := make([]error, len(items))
	var next atomic.Int64
	var eg errgroup.Group
	for j := 0; j < limit; j++ {
		eg.Go(func() error {
			for {
				i := int(next.Add(1) - 1)
				if i >= len(items) {
					return nil
				}
				errs[i] = runItem(i, items[i], fn)
			}
		})
	}
	_ = eg.Wait()
	return errors.Join(errs...)
}

func runItem[T any](index int, item T, fn func(int, T) error) (err error) {
	defer func() {
		if r := recover(); r != nil {
			err = fmt.Errorf("item %d panicked: %v", index, r)
		}
	}()
	return fn(index, item)
}
