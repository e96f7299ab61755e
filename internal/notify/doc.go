// Package notify delivers monitor events to people and other systems.
//
// A [Dispatcher] subscribes to the event channel and hands every event to
// each configured [Notifier]. A failing or slow notifier only loses its own
// delivery; it never blocks the monitor, which publishes without waiting.
package notify
