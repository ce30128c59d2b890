package model

// Room is a time-boxed live-shopping session that viewers watch and bid
// in.  Its lifecycle (upcoming, current, ended) is never stored: it is
// derived from Window and LiveFlag every time it is read.
//
// Fields:
//  ID       – opaque room identifier (the last segment of rooms/{id}).
//  Title    – display title shown in the catalog.
//  HostID   – operator who owns the room.
//  LiveFlag – operator override signalling the stream is broadcasting.
//  Window   – scheduled start and end in Unix milliseconds.
type Room struct {
	ID       string `json:"id"`
	Title    string `json:"title,omitempty"`
	HostID   string `json:"hostId,omitempty"`
	LiveFlag bool   `json:"liveFlag"`
	Window   Window `json:"window"`
}

// Window is a scheduled time range in Unix milliseconds.  A zero bound
// means unset: no start means "not scheduled", no end means open-ended.
type Window struct {
	StartMs uint64 `json:"startMs"`
	EndMs   uint64 `json:"endMs"`
}

// HasStart reports whether a start time is scheduled.
func (w Window) HasStart() bool { return w.StartMs != 0 }

// HasEnd reports whether an end time is scheduled.
func (w Window) HasEnd() bool { return w.EndMs != 0 }

// BeforeStart reports whether now falls before a scheduled start.
func (w Window) BeforeStart(nowMs uint64) bool { return w.HasStart() && nowMs < w.StartMs }

// AtOrAfterEnd reports whether a scheduled end has been reached.
func (w Window) AtOrAfterEnd(nowMs uint64) bool { return w.HasEnd() && nowMs >= w.EndMs }

// UntilStartMs returns the milliseconds left before the scheduled start,
// or zero when no start is set or it has already passed.
func (w Window) UntilStartMs(nowMs uint64) uint64 {
	if !w.BeforeStart(nowMs) {
		return 0
	}
	return w.StartMs - nowMs
}
