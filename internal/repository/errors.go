// Package repository provides typed access to the documents the admission
// engine keeps in the store, together with the sentinel errors that let
// handlers tell a missing document apart from a backend failure.
package repository

import "errors"

// ErrRoomNotFound is returned when no room document exists for an id.
// Handlers translate it into an HTTP 404 response.
var ErrRoomNotFound = errors.New("room not found")

// ErrRsvpNotFound is returned when a user has never registered for a
// room.  Callers usually treat it as "no active registration".
var ErrRsvpNotFound = errors.New("rsvp not found")
