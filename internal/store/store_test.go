package store

import (
	"context"
	"errors"
	"fmt"
	"strconv"
	"sync"
	"sync/atomic"
	"testing"
	"time"

	"github.com/stretchr/testify/require"
)

// exerciseStore runs the behaviour every backend must share.  Paths are
// namespaced with ns so integration runs against shared servers do not
// collide.
func exerciseStore(t *testing.T, s Store, ns string) {
	ctx := context.Background()

	t.Run("read absent", func(t *testing.T) {
		_, err := s.Read(ctx, ns+"missing/doc")
		require.ErrorIs(t, err, ErrNotFound)
	})

	t.Run("concurrent increments all commit", func(t *testing.T) {
		path := ns + "counters/c1"
		const writers = 40
		var wg sync.WaitGroup
		errs := make(chan error, writers)
		for i := 0; i < writers; i++ {
			wg.Add(1)
			go func() {
				defer wg.Done()
				_, err := s.TransactionalUpdate(ctx, path, func(cur []byte) ([]byte, error) {
					n := 0
					if cur != nil {
						v, err := strconv.Atoi(string(cur))
						if err != nil {
							return nil, err
						}
						n = v
					}
					return []byte(strconv.Itoa(n + 1)), nil
				})
				errs <- err
			}()
		}
		wg.Wait()
		close(errs)
		for err := range errs {
			require.NoError(t, err)
		}
		got, err := s.Read(ctx, path)
		require.NoError(t, err)
		require.Equal(t, strconv.Itoa(writers), string(got))
	})

	t.Run("abort leaves document untouched", func(t *testing.T) {
		path := ns + "counters/aborted"
		require.NoError(t, s.AtomicMultiWrite(ctx, map[string][]byte{path: []byte("7")}))
		res, err := s.TransactionalUpdate(ctx, path, func(cur []byte) ([]byte, error) {
			return nil, ErrAborted
		})
		require.NoError(t, err)
		require.False(t, res.Committed)
		require.Equal(t, "7", string(res.Value))
		got, err := s.Read(ctx, path)
		require.NoError(t, err)
		require.Equal(t, "7", string(got))
	})

	t.Run("update func error is returned as is", func(t *testing.T) {
		boom := errors.New("boom")
		_, err := s.TransactionalUpdate(ctx, ns+"counters/boom", func([]byte) ([]byte, error) {
			return nil, boom
		})
		require.ErrorIs(t, err, boom)
		_, err = s.Read(ctx, ns+"counters/boom")
		require.ErrorIs(t, err, ErrNotFound)
	})

	t.Run("multi write and list by prefix", func(t *testing.T) {
		require.NoError(t, s.AtomicMultiWrite(ctx, map[string][]byte{
			ns + "list/a":    []byte(`{"n":1}`),
			ns + "list/b":    []byte(`{"n":2}`),
			ns + "listing/c": []byte(`{"n":3}`),
		}))
		docs, err := s.List(ctx, ns+"list/")
		require.NoError(t, err)
		require.Len(t, docs, 2)
		require.JSONEq(t, `{"n":1}`, string(docs[ns+"list/a"]))
		require.JSONEq(t, `{"n":2}`, string(docs[ns+"list/b"]))
	})

	t.Run("subscribe observes writes under prefix", func(t *testing.T) {
		var seen atomic.Int32
		unsub, err := s.Subscribe(ctx, ns+"watched/", func(c Change) {
			if c.Path == ns+"watched/x" {
				seen.Add(1)
			}
		})
		require.NoError(t, err)
		defer unsub()

		i := 0
		require.Eventually(t, func() bool {
			i++
			_ = s.AtomicMultiWrite(ctx, map[string][]byte{ns + "watched/x": []byte(fmt.Sprint(i))})
			return seen.Load() > 0
		}, 5*time.Second, 50*time.Millisecond)

		unsub()
		unsub()
	})
}
