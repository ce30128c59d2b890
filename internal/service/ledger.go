package service

import (
	"context"
	"encoding/json"
	"errors"
	"fmt"

	"github.com/iliyamo/liveroom-admission/internal/model"
	"github.com/iliyamo/liveroom-admission/internal/repository"
	"github.com/iliyamo/liveroom-admission/internal/store"
)

// Ledger owns every write to a room's rsvp counters.  All mutations are
// read-modify-write transactions on the rsvpConfig document which the
// store retries on conflict.
type Ledger struct {
	st       store.Store
	defaults model.RsvpConfig
}

// NewLedger returns a ledger over st.  Rooms that were never configured
// start open with defaultCapacity seats; zero leaves them uncapped.
func NewLedger(st store.Store, defaultCapacity uint32) *Ledger {
	d := model.DefaultRsvpConfig()
	d.Capacity = defaultCapacity
	return &Ledger{st: st, defaults: d}
}

// Defaults returns the configuration assumed for unconfigured rooms.
func (l *Ledger) Defaults() model.RsvpConfig { return l.defaults }

// Get reads the current counters of roomID.
func (l *Ledger) Get(ctx context.Context, roomID string) (model.RsvpConfig, error) {
	raw, err := l.st.Read(ctx, repository.RsvpConfigPath(roomID))
	if err != nil && !errors.Is(err, store.ErrNotFound) {
		return model.RsvpConfig{}, err
	}
	return repository.DecodeRsvpConfig(raw, l.defaults)
}

// Reserve takes a seat if one is free and a waitlist slot otherwise.  A
// closed room aborts the transaction and yields OutcomeRefused with the
// counters untouched.  The returned config is the committed value.
func (l *Ledger) Reserve(ctx context.Context, roomID string) (model.Outcome, model.RsvpConfig, error) {
	var (
		outcome model.Outcome
		cfg     model.RsvpConfig
	)
	res, err := l.update(ctx, roomID, func(c *model.RsvpConfig) error {
		cfg = *c
		if !c.Open {
			return store.ErrAborted
		}
		if c.Full() {
			c.WaitlistCount++
			outcome = model.OutcomeWaitlisted
		} else {
			c.BookedCount++
			outcome = model.OutcomeRegistered
		}
		cfg = *c
		return nil
	})
	if err != nil {
		return "", model.RsvpConfig{}, err
	}
	if !res.Committed {
		return model.OutcomeRefused, cfg, nil
	}
	return outcome, cfg, nil
}

// Release gives back the seat or waitlist slot held under status.
// Counters never go below zero.
func (l *Ledger) Release(ctx context.Context, roomID string, status model.RsvpStatus) (model.RsvpConfig, error) {
	var cfg model.RsvpConfig
	_, err := l.update(ctx, roomID, func(c *model.RsvpConfig) error {
		switch status {
		case model.RsvpRegistered:
			if c.BookedCount > 0 {
				c.BookedCount--
			}
		case model.RsvpWaitlisted:
			if c.WaitlistCount > 0 {
				c.WaitlistCount--
			}
		default:
			return fmt.Errorf("release: status %q holds nothing", status)
		}
		cfg = *c
		return nil
	})
	if err != nil {
		return model.RsvpConfig{}, err
	}
	return cfg, nil
}

// Configure changes the open flag and/or the capacity.  Nil arguments
// leave the field unchanged.  Counters are never touched.
func (l *Ledger) Configure(ctx context.Context, roomID string, open *bool, capacity *uint32) (model.RsvpConfig, error) {
	var cfg model.RsvpConfig
	_, err := l.update(ctx, roomID, func(c *model.RsvpConfig) error {
		if open != nil {
			c.Open = *open
		}
		if capacity != nil {
			c.Capacity = *capacity
		}
		cfg = *c
		return nil
	})
	if err != nil {
		return model.RsvpConfig{}, err
	}
	return cfg, nil
}

func (l *Ledger) update(ctx context.Context, roomID string, mutate func(*model.RsvpConfig) error) (store.TxResult, error) {
	return l.st.TransactionalUpdate(ctx, repository.RsvpConfigPath(roomID), func(cur []byte) ([]byte, error) {
		cfg, err := repository.DecodeRsvpConfig(cur, l.defaults)
		if err != nil {
			return nil, err
		}
		if err := mutate(&cfg); err != nil {
			return nil, err
		}
		return json.Marshal(cfg)
	})
}
