// Package events provides the bounded broadcast channel that decouples the
// monitor from its observers.
//
// Producers call [Channel.Publish], which never blocks. Each subscriber
// receives every event in publish order through its own bounded queue. Under
// overflow, urgent events (claim outcomes and errors) are retained in favour
// of normal ones.
package events
