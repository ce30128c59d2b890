package model

// Profile is the identity resolved by the session collaborator before
// any admission logic runs.
type Profile struct {
	UserID      string `json:"userId" validate:"required"`
	DisplayName string `json:"displayName"`
	Phone       string `json:"phone,omitempty"`
	Email       string `json:"email,omitempty"`
}

// AudienceIndexEntry records that a user has entered a room.  FirstSeen
// is written once on the first join and preserved by every later join;
// LastSeen and LastSessionKey move forward on each join.
type AudienceIndexEntry struct {
	UserID         string `json:"userId"`
	Username       string `json:"username"`
	FirstSeen      uint64 `json:"firstSeen"`
	LastSeen       uint64 `json:"lastSeen"`
	LastSessionKey string `json:"lastSessionKey"`
}

// JoinRecord is the session-scoped record written on every join, stored
// at joins/{roomId}/{sessionKey}.
type JoinRecord struct {
	SessionKey string `json:"sessionKey"`
	UserID     string `json:"userId"`
	Username   string `json:"username"`
	Phone      string `json:"phone,omitempty"`
	Email      string `json:"email,omitempty"`
	JoinedAt   uint64 `json:"joinedAt"`
}

// LastRoom remembers the room a user most recently entered.  The catalog
// sorts it first among the user's own rooms.
type LastRoom struct {
	RoomID    string `json:"roomId"`
	UpdatedAt uint64 `json:"updatedAt"`
}
