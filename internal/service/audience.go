package service

import (
	"context"

	"github.com/google/uuid"
	"github.com/rs/zerolog"

	"github.com/iliyamo/liveroom-admission/internal/clock"
	"github.com/iliyamo/liveroom-admission/internal/lifecycle"
	"github.com/iliyamo/liveroom-admission/internal/logging"
	"github.com/iliyamo/liveroom-admission/internal/model"
	"github.com/iliyamo/liveroom-admission/internal/queue"
	"github.com/iliyamo/liveroom-admission/internal/repository"
	"github.com/iliyamo/liveroom-admission/internal/store"
)

// JoinResult is returned by a successful join.
type JoinResult struct {
	SessionKey string                   `json:"sessionKey"`
	Entry      model.AudienceIndexEntry `json:"audience"`
	Returning  bool                     `json:"returning"`
}

// Joiner records viewers entering a room.  Repeated joins by the same
// viewer are safe: each gets a new session record while the audience
// index keeps the original firstSeen.
type Joiner struct {
	rooms    *repository.RoomRepo
	audience *repository.AudienceRepo
	pub      queue.Publisher
	clk      clock.Clock
	log      zerolog.Logger
	newKey   func() string
}

// NewJoiner wires a Joiner.  A nil publisher disables events.
func NewJoiner(rooms *repository.RoomRepo, audience *repository.AudienceRepo, pub queue.Publisher, clk clock.Clock, log zerolog.Logger) *Joiner {
	if pub == nil {
		pub = queue.NopPublisher{}
	}
	return &Joiner{
		rooms:    rooms,
		audience: audience,
		pub:      pub,
		clk:      clk,
		log:      log.With().Str(logging.FieldComponent, "audience").Logger(),
		newKey:   uuid.NewString,
	}
}

// Enter re-reads roomID and joins only when the authoritative copy
// resolves as current.  Upcoming rooms yield ErrStillLocked and ended
// rooms ErrRoomEnded.
func (j *Joiner) Enter(ctx context.Context, roomID string, profile model.Profile) (JoinResult, error) {
	room, err := j.rooms.GetByID(ctx, roomID)
	if err != nil {
		return JoinResult{}, err
	}
	switch lifecycle.ResolveRoom(room, j.clk.Now()) {
	case lifecycle.Upcoming:
		return JoinResult{}, ErrStillLocked
	case lifecycle.Ended:
		return JoinResult{}, ErrRoomEnded
	}
	return j.Join(ctx, roomID, profile)
}

// Join writes a session-scoped join record and upserts the viewer's
// audience index entry.  A denied index write still returns the session
// key; the viewer is in the room either way.
func (j *Joiner) Join(ctx context.Context, roomID string, profile model.Profile) (JoinResult, error) {
	now := clock.NowMs(j.clk)
	key := j.newKey()
	log := j.log.With().Str(logging.FieldRoomID, roomID).Str(logging.FieldUserID, profile.UserID).
		Str(logging.FieldSession, key).Logger()

	if err := j.audience.WriteJoin(ctx, roomID, model.JoinRecord{
		SessionKey: key,
		UserID:     profile.UserID,
		Username:   profile.DisplayName,
		Phone:      profile.Phone,
		Email:      profile.Email,
		JoinedAt:   now,
	}); err != nil {
		return JoinResult{}, err
	}

	res := JoinResult{SessionKey: key}
	entry, err := j.audience.UpsertEntry(ctx, roomID, profile.UserID, func(cur *model.AudienceIndexEntry) model.AudienceIndexEntry {
		first := now
		res.Returning = cur != nil
		if cur != nil && cur.FirstSeen != 0 {
			first = cur.FirstSeen
		}
		return model.AudienceIndexEntry{
			UserID:         profile.UserID,
			Username:       profile.DisplayName,
			FirstSeen:      first,
			LastSeen:       now,
			LastSessionKey: key,
		}
	})
	switch {
	case err == nil:
		res.Entry = entry
	case store.IsPermissionDenied(err):
		log.Debug().Err(err).Msg("audience index not writable, skipping")
	default:
		return JoinResult{}, err
	}

	if err := j.audience.SetLastRoom(ctx, profile.UserID, model.LastRoom{RoomID: roomID, UpdatedAt: now}); err != nil {
		log.Warn().Err(err).Msg("remember last room failed")
	}

	log.Info().Bool("returning", res.Returning).Msg("audience joined")
	emit(ctx, j.pub, j.log, queue.AudienceJoined{
		RoomID:     roomID,
		UserID:     profile.UserID,
		SessionKey: key,
		FirstSeen:  res.Entry.FirstSeen,
		Returning:  res.Returning,
	})
	return res, nil
}
