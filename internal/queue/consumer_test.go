package queue

import (
	"encoding/json"
	"os"
	"path/filepath"
	"testing"

	"github.com/rs/zerolog"
	"github.com/stretchr/testify/require"
)

func envelope(t *testing.T, ev Event) []byte {
	t.Helper()
	b, err := json.Marshal(Envelope{Type: ev.Type(), OccurredAt: "2026-10-19T10:00:00Z", Payload: ev})
	require.NoError(t, err)
	return b
}

func TestFormatLine_RsvpCommitted(t *testing.T) {
	line, err := FormatLine(envelope(t, RsvpCommitted{
		RoomID: "r1", UserID: "u1", Status: "WAITLISTED", BookedCount: 10, Capacity: 10, WaitlistCount: 2,
	}))
	require.NoError(t, err)
	require.Equal(t, "[2026-10-19T10:00:00Z] RSVP WAITLISTED | room_id=r1 | user_id=u1 | booked=10/10 | waitlist=2\n", line)
}

func TestFormatLine_Drift(t *testing.T) {
	line, err := FormatLine(envelope(t, LedgerDrift{RoomID: "r1", UserID: "u1", Outcome: "REGISTERED", Reason: "write failed"}))
	require.NoError(t, err)
	require.Contains(t, line, `DRIFT | room_id=r1 | user_id=u1 | outcome=REGISTERED | reason="write failed"`)
}

func TestFormatLine_RejectsUnknownAndMalformed(t *testing.T) {
	_, err := FormatLine([]byte(`{"type":"other","payload":{}}`))
	require.Error(t, err)
	_, err = FormatLine([]byte(`not json`))
	require.Error(t, err)
}

func TestConsumer_HandleMessageAppends(t *testing.T) {
	path := filepath.Join(t.TempDir(), "logs", "rsvp.log")
	c := NewConsumer("amqp://unused", path, zerolog.Nop())

	require.NoError(t, c.handleMessage(envelope(t, AudienceJoined{RoomID: "r1", UserID: "u1", SessionKey: "s1"})))
	require.NoError(t, c.handleMessage(envelope(t, RsvpCancelled{RoomID: "r1", UserID: "u1", PreviousStatus: "REGISTERED"})))

	data, err := os.ReadFile(path)
	require.NoError(t, err)
	require.Contains(t, string(data), "JOIN | room_id=r1 | user_id=u1 | session=s1 | returning=false")
	require.Contains(t, string(data), "RSVP CANCELLED | room_id=r1 | user_id=u1 | was=REGISTERED")
}
