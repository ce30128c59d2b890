package repository

import "strings"

// Document layout inside the store.  Each collection lives under its own
// top-level segment so that a prefix subscription on one never sees
// writes to another.
//
//  rooms/{roomId}                   model.Room
//  rsvpConfig/{roomId}              model.RsvpConfig (ledger only)
//  rsvps/{roomId}/{userId}          model.RsvpRecord
//  userRsvps/{userId}/{roomId}      model.UserRsvpRecord
//  audience/{roomId}/{userId}       model.AudienceIndexEntry
//  joins/{roomId}/{sessionKey}      model.JoinRecord
//  lastRoom/{userId}                model.LastRoom
const (
	RoomsPrefix = "rooms/"
)

func RoomPath(roomID string) string { return RoomsPrefix + roomID }

func RsvpConfigPath(roomID string) string { return "rsvpConfig/" + roomID }

func RsvpPath(roomID, userID string) string { return "rsvps/" + roomID + "/" + userID }

func UserRsvpsPrefix(userID string) string { return "userRsvps/" + userID + "/" }

func UserRsvpPath(userID, roomID string) string { return UserRsvpsPrefix(userID) + roomID }

func AudiencePath(roomID, userID string) string { return "audience/" + roomID + "/" + userID }

func JoinPath(roomID, sessionKey string) string { return "joins/" + roomID + "/" + sessionKey }

func LastRoomPath(userID string) string { return "lastRoom/" + userID }

// ValidID reports whether id can be used as a single path segment.
func ValidID(id string) bool {
	return id != "" && len(id) <= 128 && !strings.ContainsAny(id, "/*?[]\\%")
}

// lastSegment returns the part of path after the final slash.
func lastSegment(path string) string {
	if i := strings.LastIndexByte(path, '/'); i >= 0 {
		return path[i+1:]
	}
	return path
}
