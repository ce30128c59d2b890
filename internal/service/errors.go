// Package service implements the admission and lifecycle engine: the
// capacity ledger and its dual-view writer, the catalog aggregator, the
// locked-room countdown gate and the audience join writer.
package service

import "errors"

var (
	// ErrNotUpcoming is returned by registration when the room has
	// already opened.
	ErrNotUpcoming = errors.New("room is not upcoming")
	// ErrRoomEnded is returned when the room's window has closed.
	ErrRoomEnded = errors.New("room has ended")
	// ErrStillLocked is returned when an authoritative recheck still
	// resolves the room as upcoming.
	ErrStillLocked = errors.New("room is still locked")
	// ErrNotRegistered is returned by Cancel when the user holds no
	// active registration.
	ErrNotRegistered = errors.New("no active registration")
)
