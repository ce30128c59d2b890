package repository

import (
	"context"
	"encoding/json"
	"errors"
	"fmt"

	"github.com/iliyamo/liveroom-admission/internal/model"
	"github.com/iliyamo/liveroom-admission/internal/store"
)

// AudienceRepo persists join records, the per-room audience index and
// each user's last visited room.
type AudienceRepo struct {
	st store.Store
}

// NewAudienceRepo returns a new AudienceRepo bound to st.
func NewAudienceRepo(st store.Store) *AudienceRepo { return &AudienceRepo{st: st} }

// WriteJoin stores a session-scoped join record.
func (r *AudienceRepo) WriteJoin(ctx context.Context, roomID string, rec model.JoinRecord) error {
	raw, err := json.Marshal(rec)
	if err != nil {
		return fmt.Errorf("encode join: %w", err)
	}
	return r.st.AtomicMultiWrite(ctx, map[string][]byte{JoinPath(roomID, rec.SessionKey): raw})
}

// UpsertEntry applies merge to the user's audience index entry inside a
// transaction.  merge receives nil when no entry exists yet.
func (r *AudienceRepo) UpsertEntry(ctx context.Context, roomID, userID string, merge func(*model.AudienceIndexEntry) model.AudienceIndexEntry) (model.AudienceIndexEntry, error) {
	var out model.AudienceIndexEntry
	_, err := r.st.TransactionalUpdate(ctx, AudiencePath(roomID, userID), func(cur []byte) ([]byte, error) {
		var existing *model.AudienceIndexEntry
		if cur != nil {
			var e model.AudienceIndexEntry
			if err := json.Unmarshal(cur, &e); err != nil {
				return nil, fmt.Errorf("decode audience entry: %w", err)
			}
			existing = &e
		}
		out = merge(existing)
		return json.Marshal(out)
	})
	if err != nil {
		return model.AudienceIndexEntry{}, err
	}
	return out, nil
}

// GetEntry returns the audience index entry of userID in roomID.
func (r *AudienceRepo) GetEntry(ctx context.Context, roomID, userID string) (model.AudienceIndexEntry, error) {
	raw, err := r.st.Read(ctx, AudiencePath(roomID, userID))
	if err != nil {
		return model.AudienceIndexEntry{}, err
	}
	var e model.AudienceIndexEntry
	if err := json.Unmarshal(raw, &e); err != nil {
		return model.AudienceIndexEntry{}, fmt.Errorf("decode audience entry: %w", err)
	}
	return e, nil
}

// SetLastRoom remembers the room userID most recently entered.
func (r *AudienceRepo) SetLastRoom(ctx context.Context, userID string, last model.LastRoom) error {
	raw, err := json.Marshal(last)
	if err != nil {
		return fmt.Errorf("encode last room: %w", err)
	}
	return r.st.AtomicMultiWrite(ctx, map[string][]byte{LastRoomPath(userID): raw})
}

// GetLastRoom returns the remembered room id, or "" when there is none.
func (r *AudienceRepo) GetLastRoom(ctx context.Context, userID string) (string, error) {
	raw, err := r.st.Read(ctx, LastRoomPath(userID))
	if errors.Is(err, store.ErrNotFound) {
		return "", nil
	}
	if err != nil {
		return "", err
	}
	var last model.LastRoom
	if err := json.Unmarshal(raw, &last); err != nil {
		return "", fmt.Errorf("decode last room: %w", err)
	}
	return last.RoomID, nil
}
