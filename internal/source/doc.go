// Package source talks to the reservation site over plain HTTP.
//
// A [Site] is bound to one room and hands out the three adapters the monitor
// needs: [WindowResolver] for the datepicker bounds, [SlotService] for the
// free hours of a date and [Booker] for sessions, captcha images and form
// submission. Parsing is kept in pure functions ([ParseWindow],
// [ParseSlots]) so that a change in the site's markup stays local.
package source
