package repository

import (
	"context"
	"encoding/json"
	"errors"
	"fmt"
	"sort"

	"github.com/iliyamo/liveroom-admission/internal/model"
	"github.com/iliyamo/liveroom-admission/internal/store"
)

// RoomRepo reads and writes room documents.  It never touches a room's
// rsvp counters; those belong to the capacity ledger.
type RoomRepo struct {
	st store.Store
}

// NewRoomRepo returns a RoomRepo bound to st.
func NewRoomRepo(st store.Store) *RoomRepo { return &RoomRepo{st: st} }

// GetByID loads a room.  It returns ErrRoomNotFound when the document is
// absent and passes store errors through otherwise.
func (r *RoomRepo) GetByID(ctx context.Context, roomID string) (model.Room, error) {
	raw, err := r.st.Read(ctx, RoomPath(roomID))
	if errors.Is(err, store.ErrNotFound) {
		return model.Room{}, ErrRoomNotFound
	}
	if err != nil {
		return model.Room{}, err
	}
	return decodeRoom(roomID, raw)
}

// List returns every room ordered by id.  Documents that fail to decode
// are skipped rather than failing the whole catalog.
func (r *RoomRepo) List(ctx context.Context) ([]model.Room, error) {
	docs, err := r.st.List(ctx, RoomsPrefix)
	if err != nil {
		return nil, err
	}
	rooms := make([]model.Room, 0, len(docs))
	for path, raw := range docs {
		room, err := decodeRoom(lastSegment(path), raw)
		if err != nil {
			continue
		}
		rooms = append(rooms, room)
	}
	sort.Slice(rooms, func(i, j int) bool { return rooms[i].ID < rooms[j].ID })
	return rooms, nil
}

// Save writes the full room document.
func (r *RoomRepo) Save(ctx context.Context, room model.Room) error {
	raw, err := json.Marshal(room)
	if err != nil {
		return fmt.Errorf("encode room: %w", err)
	}
	return r.st.AtomicMultiWrite(ctx, map[string][]byte{RoomPath(room.ID): raw})
}

// SetLive flips the operator live flag with a read-modify-write so a
// concurrent schedule edit is not lost.
func (r *RoomRepo) SetLive(ctx context.Context, roomID string, live bool) (model.Room, error) {
	var out model.Room
	res, err := r.st.TransactionalUpdate(ctx, RoomPath(roomID), func(cur []byte) ([]byte, error) {
		if cur == nil {
			return nil, store.ErrAborted
		}
		room, err := decodeRoom(roomID, cur)
		if err != nil {
			return nil, err
		}
		room.LiveFlag = live
		out = room
		return json.Marshal(room)
	})
	if err != nil {
		return model.Room{}, err
	}
	if !res.Committed {
		return model.Room{}, ErrRoomNotFound
	}
	return out, nil
}

// Subscribe reports every committed room write.  The returned handle must
// be called on teardown.
func (r *RoomRepo) Subscribe(ctx context.Context, onChange func(model.Room)) (store.Unsubscribe, error) {
	return r.st.Subscribe(ctx, RoomsPrefix, func(c store.Change) {
		room, err := decodeRoom(lastSegment(c.Path), c.Value)
		if err != nil {
			return
		}
		onChange(room)
	})
}

func decodeRoom(roomID string, raw []byte) (model.Room, error) {
	var room model.Room
	if err := json.Unmarshal(raw, &room); err != nil {
		return model.Room{}, fmt.Errorf("decode room %s: %w", roomID, err)
	}
	room.ID = roomID
	return room, nil
}

// rsvpConfigDoc mirrors model.RsvpConfig with optional fields so that
// fields never written can be told apart from explicit zeroes.
type rsvpConfigDoc struct {
	Open          *bool   `json:"open"`
	Capacity      *uint32 `json:"capacity"`
	BookedCount   *uint32 `json:"bookedCount"`
	WaitlistCount *uint32 `json:"waitlistCount"`
}

// DecodeRsvpConfig decodes a stored configuration, filling each missing
// field from defaults.  A nil raw document yields defaults unchanged.
func DecodeRsvpConfig(raw []byte, defaults model.RsvpConfig) (model.RsvpConfig, error) {
	cfg := defaults
	if raw == nil {
		return cfg, nil
	}
	var doc rsvpConfigDoc
	if err := json.Unmarshal(raw, &doc); err != nil {
		return model.RsvpConfig{}, fmt.Errorf("decode rsvp config: %w", err)
	}
	if doc.Open != nil {
		cfg.Open = *doc.Open
	}
	if doc.Capacity != nil {
		cfg.Capacity = *doc.Capacity
	}
	if doc.BookedCount != nil {
		cfg.BookedCount = *doc.BookedCount
	}
	if doc.WaitlistCount != nil {
		cfg.WaitlistCount = *doc.WaitlistCount
	}
	return cfg, nil
}
