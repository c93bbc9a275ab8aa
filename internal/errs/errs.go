// Copyright 2026 The Foldiff Authors
// SPDX-License-Identifier: Apache-2.0

// Package errs provides the mutex-guarded append-only error aggregator
// used by applyengine's worker pool: each worker pushes its own failures
// and keeps going rather than
// aborting its siblings, and the pool's caller collapses the list into one
// error once every worker has joined.
package errs

import (
	"fmt"
	"sync"
)

// Sink collects errors from concurrent workers. The zero value is ready
// to use.
type Sink struct {
	mu   sync.Mutex
	errs []error
}

// Push records err if non-nil. Safe for concurrent use.
func (s *Sink) Push(err error) {
	if err == nil {
		return
	}
	s.mu.Lock()
	s.errs = append(s.errs, err)
	s.mu.Unlock()
}

// Len reports how many errors have been pushed so far.
func (s *Sink) Len() int {
	s.mu.Lock()
	defer s.mu.Unlock()
	return len(s.errs)
}

// Join collapses the sink into a single error: nil if empty, the one
// recorded error unadorned if there's exactly one, or a "Failed with
// multiple errors:" listing if there's more than one, per spec §7.
func (s *Sink) Join() error {
	s.mu.Lock()
	defer s.mu.Unlock()

	switch len(s.errs) {
	case 0:
		return nil
	case 1:
		return s.errs[0]
	default:
		msg := "Failed with multiple errors:"
		for _, e := range s.errs {
			msg += "\n  - " + e.Error()
		}
		return fmt.Errorf("%s", msg)
	}
}
