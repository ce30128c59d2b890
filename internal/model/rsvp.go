package model

// RsvpStatus is the state of a viewer's pre-registration for a room.
type RsvpStatus string

const (
	RsvpRegistered RsvpStatus = "REGISTERED"
	RsvpWaitlisted RsvpStatus = "WAITLISTED"
	RsvpCancelled  RsvpStatus = "CANCELLED"
)

// Active reports whether the status holds a seat or a waitlist slot.
func (s RsvpStatus) Active() bool { return s == RsvpRegistered || s == RsvpWaitlisted }

// Outcome is the result of an admission attempt.  It extends the two
// active statuses with REFUSED, returned when registration is closed.
type Outcome string

const (
	OutcomeRegistered Outcome = "REGISTERED"
	OutcomeWaitlisted Outcome = "WAITLISTED"
	OutcomeRefused    Outcome = "REFUSED"
)

// Status maps an admitted outcome onto the record status it produces.
// REFUSED has no record and maps to the empty status.
func (o Outcome) Status() RsvpStatus {
	switch o {
	case OutcomeRegistered:
		return RsvpRegistered
	case OutcomeWaitlisted:
		return RsvpWaitlisted
	}
	return ""
}

// DefaultCapacity is applied when a room's rsvp configuration has no
// capacity recorded.
const DefaultCapacity uint32 = 100

// RsvpConfig holds a room's admission counters.  It is the only mutable
// state shared between concurrent registrants and is written solely
// through the capacity ledger's transaction.
//
// Fields:
//  Open          – whether registration is accepted at all.
//  Capacity      – seat cap; zero disables the cap.
//  BookedCount   – number of REGISTERED records.
//  WaitlistCount – number of WAITLISTED records.
type RsvpConfig struct {
	Open          bool   `json:"open"`
	Capacity      uint32 `json:"capacity"`
	BookedCount   uint32 `json:"bookedCount"`
	WaitlistCount uint32 `json:"waitlistCount"`
}

// DefaultRsvpConfig is the configuration assumed for a room that has
// never been configured.
func DefaultRsvpConfig() RsvpConfig {
	return RsvpConfig{Open: true, Capacity: DefaultCapacity}
}

// Full reports whether every seat is booked.  A zero capacity is never full.
func (c RsvpConfig) Full() bool { return c.Capacity > 0 && c.BookedCount >= c.Capacity }

// RsvpRecord is the room-side projection of a registration, stored at
// rsvps/{roomId}/{userId}.
type RsvpRecord struct {
	Status    RsvpStatus `json:"status"`
	CreatedAt uint64     `json:"createdAt"`
}

// UserRsvpRecord is the user-side projection of the same registration,
// stored at userRsvps/{userId}/{roomId}.  It carries the room window so
// a viewer's list can be rendered without reading every room.
type UserRsvpRecord struct {
	Status    RsvpStatus `json:"status"`
	RoomID    string     `json:"roomId"`
	StartMs   uint64     `json:"startMs"`
	EndMs     uint64     `json:"endMs"`
	UpdatedAt uint64     `json:"updatedAt"`
}
