// Package poller announces newly finished matches of linked players.
//
// Each cycle lists groups with match posts enabled, expands them into
// (group, link) bindings and lets a fixed number of workers claim bindings
// through a shared cursor. Per binding the engine compares the newest match
// id with the stored marker:
//
//   - no marker: store the id as a baseline, post nothing
//   - same id: nothing to do
//   - new id: build a summary, post it if the destination limiter admits,
//     and advance the marker either way
//
// Every failure is contained to its binding. A cycle requested while one
// is running returns immediately.
package poller
