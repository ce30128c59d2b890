package service

import (
	"bytes"
	"context"
	"errors"
	"sync"
	"testing"
	"time"

	"github.com/rs/zerolog"
	"github.com/stretchr/testify/require"

	"github.com/iliyamo/liveroom-admission/internal/clock"
	"github.com/iliyamo/liveroom-admission/internal/model"
	"github.com/iliyamo/liveroom-admission/internal/queue"
	"github.com/iliyamo/liveroom-admission/internal/repository"
	"github.com/iliyamo/liveroom-admission/internal/store"
)

// t0 is an arbitrary fixed instant all fake clocks start from.
const t0 = int64(1_700_000_000_000)

type recordingPublisher struct {
	mu     sync.Mutex
	events []queue.Event
}

func (p *recordingPublisher) Publish(_ context.Context, ev queue.Event) error {
	p.mu.Lock()
	defer p.mu.Unlock()
	p.events = append(p.events, ev)
	return nil
}

func (p *recordingPublisher) types() []string {
	p.mu.Lock()
	defer p.mu.Unlock()
	out := make([]string, 0, len(p.events))
	for _, ev := range p.events {
		out = append(out, ev.Type())
	}
	return out
}

// failingWrites makes every multi-key write fail while the rest of the
// store works normally.
type failingWrites struct {
	store.Store
	err error
}

func (f failingWrites) AtomicMultiWrite(context.Context, map[string][]byte) error { return f.err }

type testEnv struct {
	st        store.Store
	clk       *clock.FakeClock
	pub       *recordingPublisher
	rooms     *repository.RoomRepo
	rsvps     *repository.RsvpRepo
	audience  *repository.AudienceRepo
	ledger    *Ledger
	admission *Admission
	joiner    *Joiner
}

func newEnv(t *testing.T) *testEnv {
	t.Helper()
	st, err := store.OpenBadger("", zerolog.Nop())
	require.NoError(t, err)
	t.Cleanup(func() { _ = st.Close() })
	return newEnvOn(t, st)
}

func newEnvOn(t *testing.T, st store.Store) *testEnv {
	t.Helper()
	e := &testEnv{
		st:       st,
		clk:      clock.FakeAtMs(t0),
		pub:      &recordingPublisher{},
		rooms:    repository.NewRoomRepo(st),
		rsvps:    repository.NewRsvpRepo(st),
		audience: repository.NewAudienceRepo(st),
	}
	e.ledger = NewLedger(st, model.DefaultCapacity)
	e.admission = NewAdmission(e.rooms, e.rsvps, e.ledger, e.pub, e.clk, zerolog.Nop())
	e.joiner = NewJoiner(e.rooms, e.audience, e.pub, e.clk, zerolog.Nop())
	return e
}

// upcomingRoom saves a room starting one hour after t0.
func (e *testEnv) upcomingRoom(t *testing.T, id string) model.Room {
	t.Helper()
	r := model.Room{ID: id, Title: id, Window: model.Window{StartMs: uint64(t0) + 3_600_000, EndMs: uint64(t0) + 7_200_000}}
	require.NoError(t, e.rooms.Save(context.Background(), r))
	return r
}

func (e *testEnv) currentRoom(t *testing.T, id string) model.Room {
	t.Helper()
	r := model.Room{ID: id, Title: id, Window: model.Window{StartMs: uint64(t0) - 60_000, EndMs: uint64(t0) + 3_600_000}}
	require.NoError(t, e.rooms.Save(context.Background(), r))
	return r
}

func (e *testEnv) endedRoom(t *testing.T, id string) model.Room {
	t.Helper()
	r := model.Room{ID: id, Title: id, LiveFlag: true, Window: model.Window{StartMs: uint64(t0) - 7_200_000, EndMs: uint64(t0) - 3_600_000}}
	require.NoError(t, e.rooms.Save(context.Background(), r))
	return r
}

func (e *testEnv) setCapacity(t *testing.T, roomID string, capacity uint32) {
	t.Helper()
	_, err := e.ledger.Configure(context.Background(), roomID, nil, &capacity)
	require.NoError(t, err)
}

func (e *testEnv) config(t *testing.T, roomID string) model.RsvpConfig {
	t.Helper()
	cfg, err := e.ledger.Get(context.Background(), roomID)
	require.NoError(t, err)
	return cfg
}

var errWriteFailed = errors.New("write failed")

func waitFor(t *testing.T, cond func() bool) {
	t.Helper()
	require.Eventually(t, cond, 2*time.Second, 10*time.Millisecond)
}

func testLogger() zerolog.Logger { return zerolog.Nop() }

// syncBuffer is a bytes.Buffer safe for the background publish goroutines.
type syncBuffer struct {
	mu  sync.Mutex
	buf bytes.Buffer
}

func (b *syncBuffer) Write(p []byte) (int, error) {
	b.mu.Lock()
	defer b.mu.Unlock()
	return b.buf.Write(p)
}

func (b *syncBuffer) String() string {
	b.mu.Lock()
	defer b.mu.Unlock()
	return b.buf.String()
}
