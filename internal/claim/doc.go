// Package claim implements the reservation attempt for a detected slot.
//
// A [Pipeline] runs session, challenge, solve, submit and classify steps with
// bounded retries. Response interpretation is pluggable through [Classifier]
// functions, composed with [FirstMatch] the same way for every target site.
package claim
