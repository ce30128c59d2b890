package service

import (
	"cmp"
	"context"
	"slices"
	"sync"
	"time"

	"github.com/rs/zerolog"
	"github.com/samber/lo"

	"github.com/iliyamo/liveroom-admission/internal/clock"
	"github.com/iliyamo/liveroom-admission/internal/lifecycle"
	"github.com/iliyamo/liveroom-admission/internal/logging"
	"github.com/iliyamo/liveroom-admission/internal/model"
	"github.com/iliyamo/liveroom-admission/internal/repository"
	"github.com/iliyamo/liveroom-admission/internal/store"
)

// RoomView is a room with its resolved state and the caller's
// registration, if any.
type RoomView struct {
	model.Room
	State      lifecycle.State  `json:"state"`
	RsvpStatus model.RsvpStatus `json:"rsvpStatus,omitempty"`
}

// Buckets partitions the non-ended rooms for one viewer.  A room appears
// in at most one bucket.
type Buckets struct {
	Yours       []RoomView `json:"yours"`
	Upcoming    []RoomView `json:"upcoming"`
	Current     []RoomView `json:"current"`
	ServerNowMs uint64     `json:"serverNowMs"`
}

// GetBuckets splits rooms into the viewer's own rooms (active
// registration), upcoming rooms and current rooms.  Ended rooms are
// dropped.  Each bucket is ordered by state rank, then start time with
// unscheduled rooms last, then id; lastRoomID, when it is one of the
// viewer's rooms, is moved to the front of Yours.
func GetBuckets(rooms []model.Room, rsvps map[string]model.UserRsvpRecord, lastRoomID string, now time.Time) Buckets {
	nowMs := uint64(max(now.UnixMilli(), 0))

	views := lo.FilterMap(rooms, func(r model.Room, _ int) (RoomView, bool) {
		st := lifecycle.Resolve(r.Window, r.LiveFlag, nowMs)
		if st == lifecycle.Ended {
			return RoomView{}, false
		}
		v := RoomView{Room: r, State: st}
		if rec, ok := rsvps[r.ID]; ok && rec.Status.Active() {
			v.RsvpStatus = rec.Status
		}
		return v, true
	})

	out := Buckets{
		Yours: lo.Filter(views, func(v RoomView, _ int) bool { return v.RsvpStatus != "" }),
		Upcoming: lo.Filter(views, func(v RoomView, _ int) bool {
			return v.RsvpStatus == "" && v.State == lifecycle.Upcoming
		}),
		Current: lo.Filter(views, func(v RoomView, _ int) bool {
			return v.RsvpStatus == "" && v.State == lifecycle.Current
		}),
		ServerNowMs: nowMs,
	}

	slices.SortFunc(out.Yours, func(a, b RoomView) int {
		if a.ID == lastRoomID && b.ID != lastRoomID {
			return -1
		}
		if b.ID == lastRoomID && a.ID != lastRoomID {
			return 1
		}
		return compareViews(a, b)
	})
	slices.SortFunc(out.Upcoming, compareViews)
	slices.SortFunc(out.Current, compareViews)
	return out
}

func compareViews(a, b RoomView) int {
	if c := cmp.Compare(lifecycle.Rank(a.State), lifecycle.Rank(b.State)); c != 0 {
		return c
	}
	switch {
	case a.Window.HasStart() && !b.Window.HasStart():
		return -1
	case !a.Window.HasStart() && b.Window.HasStart():
		return 1
	}
	if c := cmp.Compare(a.Window.StartMs, b.Window.StartMs); c != 0 {
		return c
	}
	return cmp.Compare(a.ID, b.ID)
}

// Aggregator keeps a viewer's Buckets current.  It recomputes on room
// writes, on writes to the viewer's registrations and on every tick,
// since lifecycle states move with the clock alone.
type Aggregator struct {
	rooms    *repository.RoomRepo
	rsvps    *repository.RsvpRepo
	audience *repository.AudienceRepo
	clk      clock.Clock
	tick     time.Duration
	log      zerolog.Logger
}

// NewAggregator returns an Aggregator recomputing at least every tick.
func NewAggregator(rooms *repository.RoomRepo, rsvps *repository.RsvpRepo, audience *repository.AudienceRepo, clk clock.Clock, tick time.Duration, log zerolog.Logger) *Aggregator {
	if tick <= 0 {
		tick = 15 * time.Second
	}
	return &Aggregator{
		rooms:    rooms,
		rsvps:    rsvps,
		audience: audience,
		clk:      clk,
		tick:     tick,
		log:      log.With().Str(logging.FieldComponent, "catalog").Logger(),
	}
}

// Snapshot computes userID's buckets once.
func (a *Aggregator) Snapshot(ctx context.Context, userID string) (Buckets, error) {
	s, err := a.load(ctx, userID)
	if err != nil {
		return Buckets{}, err
	}
	return s.buckets(a.clk.Now()), nil
}

// Watch delivers userID's buckets to onUpdate now and after every change
// until the returned handle is called or ctx ends.  onUpdate is always
// invoked from a single goroutine.
func (a *Aggregator) Watch(ctx context.Context, userID string, onUpdate func(Buckets)) (store.Unsubscribe, error) {
	state, err := a.load(ctx, userID)
	if err != nil {
		return nil, err
	}

	ctx, cancel := context.WithCancel(ctx)
	dirty := make(chan struct{}, 1)
	mark := func() {
		select {
		case dirty <- struct{}{}:
		default:
		}
	}

	unsubRooms, err := a.rooms.Subscribe(ctx, func(r model.Room) {
		state.putRoom(r)
		mark()
	})
	if err != nil {
		cancel()
		return nil, err
	}
	unsubRsvps, err := a.rsvps.SubscribeUser(ctx, userID, func(rec model.UserRsvpRecord) {
		state.putRsvp(rec)
		mark()
	})
	if err != nil {
		unsubRooms()
		cancel()
		return nil, err
	}

	ticker := a.clk.NewTicker(a.tick)
	done := make(chan struct{})
	go func() {
		defer close(done)
		defer ticker.Stop()
		onUpdate(state.buckets(a.clk.Now()))
		for {
			select {
			case <-ctx.Done():
				return
			case <-dirty:
			case <-ticker.C:
				// Subscriptions may miss writes made while they were
				// registering, so each tick also resyncs.
				if fresh, err := a.load(ctx, userID); err == nil {
					state.replace(fresh)
				} else if ctx.Err() == nil {
					a.log.Warn().Err(err).Str(logging.FieldUserID, userID).Msg("catalog resync failed")
				}
			}
			onUpdate(state.buckets(a.clk.Now()))
		}
	}()

	var once sync.Once
	return func() {
		once.Do(func() {
			cancel()
			unsubRooms()
			unsubRsvps()
			<-done
		})
	}, nil
}

// load reads everything a viewer's catalog needs.  An unreadable
// registration set or last room degrades to empty.
func (a *Aggregator) load(ctx context.Context, userID string) (*catalogState, error) {
	rooms, err := a.rooms.List(ctx)
	if err != nil {
		return nil, err
	}
	rsvps, err := a.rsvps.ListByUser(ctx, userID)
	if store.IsPermissionDenied(err) {
		a.log.Debug().Err(err).Str(logging.FieldUserID, userID).Msg("registrations unreadable, treating as none")
		rsvps, err = map[string]model.UserRsvpRecord{}, nil
	}
	if err != nil {
		return nil, err
	}
	last, err := a.audience.GetLastRoom(ctx, userID)
	if err != nil {
		a.log.Debug().Err(err).Str(logging.FieldUserID, userID).Msg("last room unreadable")
		last = ""
	}
	return &catalogState{
		rooms:    lo.SliceToMap(rooms, func(r model.Room) (string, model.Room) { return r.ID, r }),
		rsvps:    rsvps,
		lastRoom: last,
	}, nil
}

type catalogState struct {
	mu       sync.Mutex
	rooms    map[string]model.Room
	rsvps    map[string]model.UserRsvpRecord
	lastRoom string
}

func (s *catalogState) putRoom(r model.Room) {
	s.mu.Lock()
	s.rooms[r.ID] = r
	s.mu.Unlock()
}

func (s *catalogState) putRsvp(rec model.UserRsvpRecord) {
	s.mu.Lock()
	s.rsvps[rec.RoomID] = rec
	s.mu.Unlock()
}

func (s *catalogState) replace(fresh *catalogState) {
	s.mu.Lock()
	s.rooms, s.rsvps, s.lastRoom = fresh.rooms, fresh.rsvps, fresh.lastRoom
	s.mu.Unlock()
}

func (s *catalogState) buckets(now time.Time) Buckets {
	s.mu.Lock()
	defer s.mu.Unlock()
	rooms := lo.Values(s.rooms)
	return GetBuckets(rooms, s.rsvps, s.lastRoom, now)
}
