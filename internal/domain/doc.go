// Package domain holds the value types shared by the monitor and the
// collaborator interfaces it consumes.
//
// The main components are:
//
//   - [TimeSlot]: a bookable (date, room, time) unit observed on the source
//   - [Participant]: a waiting individual eligible for a slot
//   - [SourceWindow]: the valid date range and disabled dates of the source
//   - [Reservation]: the record written when a claim succeeds
//
// The interfaces in ports.go describe everything the core needs from the
// outside world. Implementations live in the source, solver and store
// packages.
package domain
