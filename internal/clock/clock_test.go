package clock

import (
	"testing"
	"time"

	"github.com/stretchr/testify/require"
)

func TestFakeClock_AdvanceFiresTicker(t *testing.T) {
	c := FakeAtMs(1_000)
	tk := c.NewTicker(100 * time.Millisecond)
	defer tk.Stop()

	c.Advance(50 * time.Millisecond)
	select {
	case <-tk.C:
		t.Fatal("ticker fired early")
	default:
	}

	c.Advance(50 * time.Millisecond)
	select {
	case got := <-tk.C:
		require.Equal(t, int64(1_100), got.UnixMilli())
	default:
		t.Fatal("ticker did not fire")
	}
	require.Equal(t, uint64(1_100), NowMs(c))
}

func TestFakeClock_StoppedTickerIsSilent(t *testing.T) {
	c := FakeAtMs(0)
	tk := c.NewTicker(time.Second)
	tk.Stop()
	c.Advance(5 * time.Second)
	select {
	case <-tk.C:
		t.Fatal("stopped ticker fired")
	default:
	}
}

func TestNowMs_ClampsNegative(t *testing.T) {
	c := Fake(time.UnixMilli(-5))
	require.Equal(t, uint64(0), NowMs(c))
}

func TestFakeClock_TickersCountsRunning(t *testing.T) {
	c := FakeAtMs(0)
	require.Zero(t, c.Tickers())
	a := c.NewTicker(time.Second)
	c.NewTicker(time.Minute)
	require.Equal(t, 2, c.Tickers())
	a.Stop()
	require.Equal(t, 1, c.Tickers())
}
