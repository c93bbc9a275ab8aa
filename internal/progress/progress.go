// Copyright 2026 The Foldiff Authors
// SPDX-License-Identifier: Apache-2.0

// Package progress defines the abstract progress-reporting contract the
// core engines applyengine and verify accept (diffbuild.Build takes no
// reporter; its caller reports around it). No UI concerns live
// here or in the engines; a front-end supplies a concrete implementation
// (see cmd/foldiff/progressui for the one this repository ships).
package progress

// Reporter is a single task's progress sink: a spinner, or one bar among
// several in a multi-bar display.
type Reporter interface {
	// Incr advances the reporter's count by n.
	Incr(n int)
	// Tick marks one unit of activity without advancing a known count,
	// for tasks whose total size is unknown up front (a spinner).
	Tick()
	// Done marks the task complete and leaves its final state visible.
	Done()
	// DoneClear marks the task complete and removes it from display.
	DoneClear()
	// Suspend pauses any redrawing for the duration of fn, so the caller
	// may safely print a line to the same output stream.
	Suspend(fn func())
}

// ReporterSized is a Reporter that additionally knows its total size, for
// rendering as a bounded progress bar instead of a spinner.
type ReporterSized interface {
	Reporter
	// SetLen updates the reporter's known total.
	SetLen(n int)
	// Len returns the reporter's current known total.
	Len() int
}

// MultiWrapper composes several Reporters into one display and exposes a
// shared suspend operation (useful when no single Reporter is in hand).
type MultiWrapper interface {
	// NewReporter adds an unsized (spinner-style) task to the display.
	NewReporter(msg string) Reporter
	// NewReporterSized adds a sized (bar-style) task to the display.
	NewReporterSized(msg string, length int) ReporterSized
	// Suspend pauses the whole display for the duration of fn.
	Suspend(fn func())
}

// Noop is a MultiWrapper whose reporters discard everything; useful for
// library callers and tests that don't want a UI.
type Noop struct{}

// NewNoop returns a MultiWrapper that does nothing.
func NewNoop() Noop { return Noop{} }

func (Noop) NewReporter(string) Reporter                    { return noopReporter{} }
func (Noop) NewReporterSized(string, int) ReporterSized      { return noopReporter{} }
func (Noop) Suspend(fn func())                                { fn() }

type noopReporter struct{}

func (noopReporter) Incr(int)        {}
func (noopReporter) Tick()           {}
func (noopReporter) Done()           {}
func (noopReporter) DoneClear()      {}
func (noopReporter) Suspend(fn func()) { fn() }
func (noopReporter) SetLen(int)      {}
func (noopReporter) Len() int        { return 0 }
