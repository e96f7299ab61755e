// Package poller implements the availability cycle for one booking room.
//
// Each cycle resolves the bookable window, refreshes the pending participant
// snapshot, checks every candidate date through a bounded worker pool and
// then aggregates the results in ascending date order. Matching slots are
// handed to a [Claimer] synchronously.
//
// The main components are:
//
//   - [Poller]: runs cycles until its context is cancelled
//   - [Config]: per-session parameters, validated by [New]
//   - [CycleReport]: what a single cycle did
package poller
