package service

import (
	"context"
	"errors"
	"sync"
	"time"

	"github.com/rs/zerolog"
	"golang.org/x/sync/singleflight"

	"github.com/iliyamo/liveroom-admission/internal/clock"
	"github.com/iliyamo/liveroom-admission/internal/lifecycle"
	"github.com/iliyamo/liveroom-admission/internal/logging"
	"github.com/iliyamo/liveroom-admission/internal/model"
	"github.com/iliyamo/liveroom-admission/internal/queue"
	"github.com/iliyamo/liveroom-admission/internal/repository"
	"github.com/iliyamo/liveroom-admission/internal/store"
)

// publishTimeout bounds a best-effort event publication.
const publishTimeout = 5 * time.Second

// RegisterResult is what a registration attempt produced.
//
// Replayed is set when an existing active registration was returned
// without touching the ledger.  Drift is set when the ledger committed
// but the two rsvp records could not be written.
type RegisterResult struct {
	Outcome  model.Outcome    `json:"status"`
	Config   model.RsvpConfig `json:"rsvpConfig"`
	Replayed bool             `json:"replayed"`
	Drift    bool             `json:"-"`
}

// Admission runs registrations and cancellations: an idempotent
// short-circuit, the ledger transaction, then the dual-view write.
type Admission struct {
	rooms  *repository.RoomRepo
	rsvps  *repository.RsvpRepo
	ledger *Ledger
	pub    queue.Publisher
	clk    clock.Clock
	log    zerolog.Logger

	// flight collapses concurrent identical calls; pairs serializes
	// registration and cancellation of the same user and room.
	flight singleflight.Group
	pairs  keyedMutex
}

// NewAdmission wires an Admission.  A nil publisher disables events.
func NewAdmission(rooms *repository.RoomRepo, rsvps *repository.RsvpRepo, ledger *Ledger, pub queue.Publisher, clk clock.Clock, log zerolog.Logger) *Admission {
	if pub == nil {
		pub = queue.NopPublisher{}
	}
	return &Admission{
		rooms:  rooms,
		rsvps:  rsvps,
		ledger: ledger,
		pub:    pub,
		clk:    clk,
		log:    log.With().Str(logging.FieldComponent, "admission").Logger(),
	}
}

// Ledger exposes the capacity ledger for operator configuration.
func (a *Admission) Ledger() *Ledger { return a.ledger }

// RegisterRoom loads roomID, checks that it has not opened yet and
// registers userID.  It returns repository.ErrRoomNotFound,
// ErrNotUpcoming or ErrRoomEnded when the precondition fails.
func (a *Admission) RegisterRoom(ctx context.Context, roomID, userID string) (RegisterResult, error) {
	room, err := a.rooms.GetByID(ctx, roomID)
	if err != nil {
		return RegisterResult{}, err
	}
	switch lifecycle.ResolveRoom(room, a.clk.Now()) {
	case lifecycle.Ended:
		return RegisterResult{}, ErrRoomEnded
	case lifecycle.Current:
		return RegisterResult{}, ErrNotUpcoming
	}
	return a.Register(ctx, room, userID)
}

// Register admits userID to room.  The caller has already established
// that the room is upcoming.  Concurrent calls for the same pair share a
// single execution and its result, and never overlap a Cancel of the
// same pair.
func (a *Admission) Register(ctx context.Context, room model.Room, userID string) (RegisterResult, error) {
	key := pairKey(room.ID, userID)
	v, err, _ := a.flight.Do("register|"+key, func() (any, error) {
		defer a.pairs.lock(key)()
		return a.register(ctx, room, userID)
	})
	if err != nil {
		return RegisterResult{}, err
	}
	return v.(RegisterResult), nil
}

func (a *Admission) register(ctx context.Context, room model.Room, userID string) (RegisterResult, error) {
	log := a.log.With().Str(logging.FieldRoomID, room.ID).Str(logging.FieldUserID, userID).Logger()

	rec, err := a.rsvps.GetRoomRecord(ctx, room.ID, userID)
	switch {
	case err == nil && rec.Status.Active():
		cfg, cerr := a.ledger.Get(ctx, room.ID)
		if cerr != nil {
			log.Debug().Err(cerr).Msg("ledger read for replayed registration failed")
		}
		return RegisterResult{Outcome: model.Outcome(rec.Status), Config: cfg, Replayed: true}, nil
	case err == nil, errors.Is(err, repository.ErrRsvpNotFound):
	case store.IsPermissionDenied(err):
		log.Debug().Err(err).Msg("existing registration unreadable, continuing with ledger")
	default:
		return RegisterResult{}, err
	}

	outcome, cfg, err := a.ledger.Reserve(ctx, room.ID)
	if err != nil {
		return RegisterResult{}, err
	}
	if outcome == model.OutcomeRefused {
		log.Info().Str(logging.FieldOutcome, string(outcome)).Msg("registration refused")
		return RegisterResult{Outcome: outcome, Config: cfg}, nil
	}

	res := RegisterResult{Outcome: outcome, Config: cfg}
	if err := a.writeRecords(ctx, room, userID, outcome.Status()); err != nil {
		// The counter moved but no record exists.  Accepted drift: a
		// retry finds no record and takes another seat.
		res.Drift = true
		log.Warn().Err(err).Str(logging.FieldOutcome, string(outcome)).
			Uint32("booked", cfg.BookedCount).Uint32("waitlist", cfg.WaitlistCount).
			Msg("ledger committed but rsvp records were not written")
		a.emit(ctx, queue.LedgerDrift{RoomID: room.ID, UserID: userID, Outcome: string(outcome), Reason: err.Error()})
		return res, nil
	}

	log.Info().Str(logging.FieldOutcome, string(outcome)).Msg("registration committed")
	a.emit(ctx, queue.RsvpCommitted{
		RoomID:        room.ID,
		UserID:        userID,
		Status:        string(outcome),
		BookedCount:   cfg.BookedCount,
		WaitlistCount: cfg.WaitlistCount,
		Capacity:      cfg.Capacity,
	})
	return res, nil
}

// Cancel withdraws userID's active registration for room, returning the
// status it held.  The freed seat is not handed to the waitlist.
func (a *Admission) Cancel(ctx context.Context, room model.Room, userID string) (model.RsvpStatus, error) {
	key := pairKey(room.ID, userID)
	v, err, _ := a.flight.Do("cancel|"+key, func() (any, error) {
		defer a.pairs.lock(key)()
		return a.cancel(ctx, room, userID)
	})
	if err != nil {
		return "", err
	}
	return v.(model.RsvpStatus), nil
}

func (a *Admission) cancel(ctx context.Context, room model.Room, userID string) (model.RsvpStatus, error) {
	rec, err := a.rsvps.GetRoomRecord(ctx, room.ID, userID)
	if errors.Is(err, repository.ErrRsvpNotFound) {
		return "", ErrNotRegistered
	}
	if err != nil {
		return "", err
	}
	if !rec.Status.Active() {
		return "", ErrNotRegistered
	}

	if _, err := a.ledger.Release(ctx, room.ID, rec.Status); err != nil {
		return "", err
	}
	if err := a.writeRecords(ctx, room, userID, model.RsvpCancelled); err != nil {
		a.log.Warn().Err(err).Str(logging.FieldRoomID, room.ID).Str(logging.FieldUserID, userID).
			Msg("ledger released but rsvp records still show an active registration")
		a.emit(ctx, queue.LedgerDrift{RoomID: room.ID, UserID: userID, Outcome: string(model.RsvpCancelled), Reason: err.Error()})
		return rec.Status, nil
	}
	a.emit(ctx, queue.RsvpCancelled{RoomID: room.ID, UserID: userID, PreviousStatus: string(rec.Status)})
	return rec.Status, nil
}

// writeRecords stores the room-side and user-side projections together.
func (a *Admission) writeRecords(ctx context.Context, room model.Room, userID string, status model.RsvpStatus) error {
	now := clock.NowMs(a.clk)
	return a.rsvps.WriteBoth(ctx, room.ID, userID,
		model.RsvpRecord{Status: status, CreatedAt: now},
		model.UserRsvpRecord{
			Status:    status,
			RoomID:    room.ID,
			StartMs:   room.Window.StartMs,
			EndMs:     room.Window.EndMs,
			UpdatedAt: now,
		})
}

// emit publishes ev in the background.  Failures are logged by the
// publisher and otherwise ignored.
func (a *Admission) emit(ctx context.Context, ev queue.Event) {
	emit(ctx, a.pub, a.log, ev)
}

func emit(ctx context.Context, pub queue.Publisher, log zerolog.Logger, ev queue.Event) {
	ctx = context.WithoutCancel(ctx)
	go func() {
		ctx, cancel := context.WithTimeout(ctx, publishTimeout)
		defer cancel()
		if err := pub.Publish(ctx, ev); err != nil {
			log.Debug().Err(err).Str("event", ev.Type()).Msg("event dropped")
		}
	}()
}

func pairKey(roomID, userID string) string { return roomID + "|" + userID }

// keyedMutex hands out one mutex per key.  Entries are dropped once no
// goroutine holds or waits on them.
type keyedMutex struct {
	mu    sync.Mutex
	locks map[string]*refMutex
}

type refMutex struct {
	sync.Mutex
	refs int
}

// lock blocks until key is free and returns the matching unlock.
func (k *keyedMutex) lock(key string) (unlock func()) {
	k.mu.Lock()
	if k.locks == nil {
		k.locks = make(map[string]*refMutex)
	}
	m, ok := k.locks[key]
	if !ok {
		m = &refMutex{}
		k.locks[key] = m
	}
	m.refs++
	k.mu.Unlock()

	m.Lock()
	return func() {
		m.Unlock()
		k.mu.Lock()
		if m.refs--; m.refs == 0 {
			delete(k.locks, key)
		}
		k.mu.Unlock()
	}
}
