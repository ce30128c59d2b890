// Package lifecycle derives a room's temporal state from its scheduled
// window, the operator's live flag and the current time.  Nothing here is
// persisted; the state is recomputed on every read so it can never go
// stale because someone forgot to flip a flag.
package lifecycle

import (
	"time"

	"github.com/iliyamo/liveroom-admission/internal/model"
)

// State is the derived lifecycle phase of a room.
type State string

const (
	Upcoming State = "UPCOMING"
	Current  State = "CURRENT"
	Ended    State = "ENDED"
)

// Resolve maps (window, live flag, now) onto a State.  Rules are applied
// in order and the first match wins:
//
//  1. a scheduled start still ahead          -> UPCOMING
//  2. a scheduled end reached                -> ENDED
//  3. the live flag is set                   -> CURRENT
//  4. inside a started, unfinished window    -> CURRENT
//  5. anything else (no schedule, not live)  -> UPCOMING
//
// The live flag never revives an ended window.  It is what opens a room
// that has no schedule at all.
func Resolve(w model.Window, live bool, nowMs uint64) State {
	switch {
	case w.BeforeStart(nowMs):
		return Upcoming
	case w.AtOrAfterEnd(nowMs):
		return Ended
	case live:
		return Current
	case w.HasStart() && nowMs >= w.StartMs && (!w.HasEnd() || nowMs < w.EndMs):
		return Current
	default:
		return Upcoming
	}
}

// ResolveRoom resolves a room at the given instant.
func ResolveRoom(r model.Room, now time.Time) State {
	ms := now.UnixMilli()
	if ms < 0 {
		ms = 0
	}
	return Resolve(r.Window, r.LiveFlag, uint64(ms))
}

// Rank totally orders states for sorting: CURRENT, then UPCOMING, then
// ENDED.  Unknown values sort after ENDED.
func Rank(s State) int {
	switch s {
	case Current:
		return 0
	case Upcoming:
		return 1
	case Ended:
		return 2
	}
	return 3
}
