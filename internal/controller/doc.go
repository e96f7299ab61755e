// Package controller manages the lifecycle of the availability monitor:
// idle, running and stopping, with start, stop and restart commands that can
// arrive concurrently from the control API.
package controller
