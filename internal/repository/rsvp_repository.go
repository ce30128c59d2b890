package repository

import (
	"context"
	"encoding/json"
	"errors"
	"fmt"

	"github.com/iliyamo/liveroom-admission/internal/model"
	"github.com/iliyamo/liveroom-admission/internal/store"
)

// RsvpRepo provides access to the two projections of a registration: the
// room-side record under rsvps/ and the user-side record under
// userRsvps/.  The projections are only ever written together.
type RsvpRepo struct {
	st store.Store
}

// NewRsvpRepo returns a new RsvpRepo bound to st.
func NewRsvpRepo(st store.Store) *RsvpRepo { return &RsvpRepo{st: st} }

// GetRoomRecord returns the room-side record for (roomID, userID) or
// ErrRsvpNotFound.
func (r *RsvpRepo) GetRoomRecord(ctx context.Context, roomID, userID string) (model.RsvpRecord, error) {
	raw, err := r.st.Read(ctx, RsvpPath(roomID, userID))
	if errors.Is(err, store.ErrNotFound) {
		return model.RsvpRecord{}, ErrRsvpNotFound
	}
	if err != nil {
		return model.RsvpRecord{}, err
	}
	var rec model.RsvpRecord
	if err := json.Unmarshal(raw, &rec); err != nil {
		return model.RsvpRecord{}, fmt.Errorf("decode rsvp %s/%s: %w", roomID, userID, err)
	}
	return rec, nil
}

// ListByUser returns the user-side records of userID keyed by room id.
func (r *RsvpRepo) ListByUser(ctx context.Context, userID string) (map[string]model.UserRsvpRecord, error) {
	docs, err := r.st.List(ctx, UserRsvpsPrefix(userID))
	if err != nil {
		return nil, err
	}
	out := make(map[string]model.UserRsvpRecord, len(docs))
	for path, raw := range docs {
		var rec model.UserRsvpRecord
		if err := json.Unmarshal(raw, &rec); err != nil {
			continue
		}
		if rec.RoomID == "" {
			rec.RoomID = lastSegment(path)
		}
		out[rec.RoomID] = rec
	}
	return out, nil
}

// WriteBoth stores both projections in one atomic multi-key write: either
// both documents change or neither does.
func (r *RsvpRepo) WriteBoth(ctx context.Context, roomID, userID string, roomSide model.RsvpRecord, userSide model.UserRsvpRecord) error {
	a, err := json.Marshal(roomSide)
	if err != nil {
		return fmt.Errorf("encode rsvp: %w", err)
	}
	b, err := json.Marshal(userSide)
	if err != nil {
		return fmt.Errorf("encode user rsvp: %w", err)
	}
	return r.st.AtomicMultiWrite(ctx, map[string][]byte{
		RsvpPath(roomID, userID):     a,
		UserRsvpPath(userID, roomID): b,
	})
}

// SubscribeUser reports every change to userID's user-side records.
func (r *RsvpRepo) SubscribeUser(ctx context.Context, userID string, onChange func(model.UserRsvpRecord)) (store.Unsubscribe, error) {
	return r.st.Subscribe(ctx, UserRsvpsPrefix(userID), func(c store.Change) {
		var rec model.UserRsvpRecord
		if err := json.Unmarshal(c.Value, &rec); err != nil {
			return
		}
		if rec.RoomID == "" {
			rec.RoomID = lastSegment(c.Path)
		}
		onChange(rec)
	})
}
