// Package queue defines the domain events the admission engine publishes
// and the RabbitMQ publisher and consumer that carry them.
package queue

// Event is any payload that can be published.  Type doubles as the
// envelope discriminator consumers switch on.
type Event interface {
	Type() string
}

// Envelope wraps every event on the wire.
type Envelope struct {
	Type       string `json:"type"`
	OccurredAt string `json:"occurred_at"`
	Payload    any    `json:"payload"`
}

// RsvpCommitted is published after a registration outcome has been
// recorded in both projections.
type RsvpCommitted struct {
	RoomID        string `json:"room_id"`
	UserID        string `json:"user_id"`
	Status        string `json:"status"`
	BookedCount   uint32 `json:"booked_count"`
	WaitlistCount uint32 `json:"waitlist_count"`
	Capacity      uint32 `json:"capacity"`
}

func (RsvpCommitted) Type() string { return "rsvp.committed" }

// RsvpCancelled is published after a registration is cancelled.
type RsvpCancelled struct {
	RoomID         string `json:"room_id"`
	UserID         string `json:"user_id"`
	PreviousStatus string `json:"previous_status"`
}

func (RsvpCancelled) Type() string { return "rsvp.cancelled" }

// AudienceJoined is published on every successful join.
type AudienceJoined struct {
	RoomID     string `json:"room_id"`
	UserID     string `json:"user_id"`
	SessionKey string `json:"session_key"`
	FirstSeen  uint64 `json:"first_seen"`
	Returning  bool   `json:"returning"`
}

func (AudienceJoined) Type() string { return "audience.joined" }

// LedgerDrift is published when the ledger committed a counter change but
// the matching projections could not be written.
type LedgerDrift struct {
	RoomID  string `json:"room_id"`
	UserID  string `json:"user_id"`
	Outcome string `json:"outcome"`
	Reason  string `json:"reason"`
}

func (LedgerDrift) Type() string { return "ledger.drift" }
