// Package server provides the HTTP control API of the reservation monitor.
//
// Besides lifecycle commands and participant management, it streams monitor
// events to browsers over Server-Sent Events and serves Prometheus metrics.
// Lifecycle conflicts map to 409, validation failures to 400 and unknown
// participants to 404.
package server
