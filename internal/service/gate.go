package service

import (
	"context"
	"errors"
	"time"

	"github.com/rs/zerolog"

	"github.com/iliyamo/liveroom-admission/internal/clock"
	"github.com/iliyamo/liveroom-admission/internal/lifecycle"
	"github.com/iliyamo/liveroom-admission/internal/logging"
	"github.com/iliyamo/liveroom-admission/internal/model"
)

// GateState is the phase of a Countdown Gate.
type GateState string

const (
	GateClosed      GateState = "CLOSED"
	GateWaiting     GateState = "WAITING"
	GateReconciling GateState = "RECONCILING"
	GateUnlocked    GateState = "UNLOCKED"
)

// GateEventKind names an observable gate transition.
type GateEventKind string

const (
	EventArmed       GateEventKind = "armed"
	EventTick        GateEventKind = "tick"
	EventExpired     GateEventKind = "expired"
	EventUnlocked    GateEventKind = "unlocked"
	EventStillLocked GateEventKind = "stillLocked"
)

// GateEvent is emitted on every gate transition.  Err is set on
// stillLocked and carries ErrStillLocked, ErrRoomEnded or the recheck
// failure.
type GateEvent struct {
	Kind        GateEventKind   `json:"kind"`
	RoomID      string          `json:"roomId"`
	RemainingMs uint64          `json:"remainingMs"`
	State       lifecycle.State `json:"state,omitempty"`
	Err         error           `json:"-"`
	Message     string          `json:"message,omitempty"`
}

// RoomFetcher reads the authoritative copy of a room.
type RoomFetcher interface {
	GetByID(ctx context.Context, roomID string) (model.Room, error)
}

// GateConfig tunes a Gate.
type GateConfig struct {
	// Tick is the countdown resolution.
	Tick time.Duration
	// RecheckTimeout bounds the authoritative read on expiry.  A timeout
	// counts as still locked.
	RecheckTimeout time.Duration
	// RecheckBackoff is the wait between failed rechecks.
	RecheckBackoff time.Duration
}

func (c GateConfig) withDefaults() GateConfig {
	if c.Tick <= 0 {
		c.Tick = time.Second
	}
	if c.RecheckTimeout <= 0 {
		c.RecheckTimeout = 5 * time.Second
	}
	if c.RecheckBackoff <= 0 {
		c.RecheckBackoff = 5 * time.Second
	}
	return c
}

// Gate holds a viewer outside an upcoming room until the store confirms
// it is current.  The local countdown only decides when to ask; the
// decision itself always comes from a fresh read.
//
//	CLOSED -> Arm -> WAITING -> expired -> RECONCILING
//	RECONCILING -> unlocked    -> UNLOCKED
//	RECONCILING -> stillLocked -> WAITING (after backoff)
//
// A Gate is not safe for concurrent use.
type Gate struct {
	fetch RoomFetcher
	clk   clock.Clock
	cfg   GateConfig
	log   zerolog.Logger

	state     GateState
	room      model.Room
	recheckAt uint64
}

// NewGate returns a closed gate.
func NewGate(fetch RoomFetcher, clk clock.Clock, cfg GateConfig, log zerolog.Logger) *Gate {
	return &Gate{
		fetch: fetch,
		clk:   clk,
		cfg:   cfg.withDefaults(),
		log:   log.With().Str(logging.FieldComponent, "gate").Logger(),
		state: GateClosed,
	}
}

// State returns the current phase.
func (g *Gate) State() GateState { return g.state }

// Room returns the last known copy of the armed room.
func (g *Gate) Room() model.Room { return g.room }

// Arm starts the countdown for room.  A room that is already current
// unlocks immediately; an ended room is rejected with ErrRoomEnded.
func (g *Gate) Arm(room model.Room) (GateEvent, error) {
	now := clock.NowMs(g.clk)
	switch lifecycle.ResolveRoom(room, g.clk.Now()) {
	case lifecycle.Ended:
		return GateEvent{}, ErrRoomEnded
	case lifecycle.Current:
		g.room, g.state = room, GateUnlocked
		return GateEvent{Kind: EventUnlocked, RoomID: room.ID, State: lifecycle.Current}, nil
	}
	g.room, g.state, g.recheckAt = room, GateWaiting, 0
	return GateEvent{Kind: EventArmed, RoomID: room.ID, RemainingMs: room.Window.UntilStartMs(now), State: lifecycle.Upcoming}, nil
}

// Step advances the gate by one scheduler tick.  While waiting it emits
// a tick; once the countdown has run out it emits expired and
// reconciles against the store.
func (g *Gate) Step(ctx context.Context) []GateEvent {
	if g.state != GateWaiting {
		return nil
	}
	now := clock.NowMs(g.clk)
	remaining := g.room.Window.UntilStartMs(now)
	if remaining > 0 || now < g.recheckAt {
		return []GateEvent{{Kind: EventTick, RoomID: g.room.ID, RemainingMs: remaining, State: lifecycle.Upcoming}}
	}

	g.state = GateReconciling
	events := []GateEvent{{Kind: EventExpired, RoomID: g.room.ID}}
	return append(events, g.reconcile(ctx))
}

func (g *Gate) reconcile(ctx context.Context) GateEvent {
	ctx, cancel := context.WithTimeout(ctx, g.cfg.RecheckTimeout)
	defer cancel()

	room, err := g.fetch.GetByID(ctx, g.room.ID)
	if err != nil {
		g.log.Debug().Err(err).Str(logging.FieldRoomID, g.room.ID).Msg("gate recheck failed")
		return g.stillLocked(lifecycle.Upcoming, err)
	}
	g.room = room

	switch st := lifecycle.ResolveRoom(room, g.clk.Now()); st {
	case lifecycle.Current:
		g.state = GateUnlocked
		return GateEvent{Kind: EventUnlocked, RoomID: room.ID, State: st}
	case lifecycle.Ended:
		g.state = GateClosed
		return GateEvent{Kind: EventStillLocked, RoomID: room.ID, State: st, Err: ErrRoomEnded, Message: ErrRoomEnded.Error()}
	default:
		return g.stillLocked(st, ErrStillLocked)
	}
}

func (g *Gate) stillLocked(st lifecycle.State, err error) GateEvent {
	now := clock.NowMs(g.clk)
	g.state = GateWaiting
	g.recheckAt = now + uint64(g.cfg.RecheckBackoff.Milliseconds())
	if !errors.Is(err, ErrStillLocked) {
		err = errors.Join(ErrStillLocked, err)
	}
	return GateEvent{
		Kind:        EventStillLocked,
		RoomID:      g.room.ID,
		RemainingMs: g.room.Window.UntilStartMs(now),
		State:       st,
		Err:         err,
		Message:     ErrStillLocked.Error(),
	}
}

// Run arms the gate for room and drives it until it unlocks (nil), the
// room ends (ErrRoomEnded) or ctx is done.  Every event is passed to
// emit from the calling goroutine.
func (g *Gate) Run(ctx context.Context, room model.Room, emit func(GateEvent)) error {
	ev, err := g.Arm(room)
	if err != nil {
		return err
	}
	emit(ev)
	if g.state == GateUnlocked {
		return nil
	}

	ticker := g.clk.NewTicker(g.cfg.Tick)
	defer ticker.Stop()
	for {
		select {
		case <-ctx.Done():
			return ctx.Err()
		case <-ticker.C:
		}
		for _, ev := range g.Step(ctx) {
			emit(ev)
		}
		switch g.state {
		case GateUnlocked:
			return nil
		case GateClosed:
			return ErrRoomEnded
		}
	}
}

// GateStatus is the server's view of a room's countdown, used by clients
// to re-anchor their local timers.
type GateStatus struct {
	RoomID      string          `json:"roomId"`
	State       lifecycle.State `json:"state"`
	ServerNowMs uint64          `json:"serverNowMs"`
	RemainingMs uint64          `json:"remainingMs"`
}

// StatusOf resolves room at the clock's current time.
func StatusOf(room model.Room, clk clock.Clock) GateStatus {
	now := clock.NowMs(clk)
	return GateStatus{
		RoomID:      room.ID,
		State:       lifecycle.Resolve(room.Window, room.LiveFlag, now),
		ServerNowMs: now,
		RemainingMs: room.Window.UntilStartMs(now),
	}
}
