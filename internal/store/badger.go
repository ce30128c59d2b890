package store

import (
	"context"
	"errors"
	"fmt"
	"sync"

	"github.com/dgraph-io/badger/v4"
	"github.com/dgraph-io/badger/v4/pb"
	"github.com/rs/zerolog"
)

// BadgerStore keeps documents in an embedded Badger database.  Badger's
// optimistic transactions report concurrent writers with ErrConflict,
// which is what TransactionalUpdate retries on.
type BadgerStore struct {
	db   *badger.DB
	log  zerolog.Logger
	owns bool
}

// OpenBadger opens (or creates) a Badger database at path.  An empty
// path opens an in-memory database, which is what tests and single-node
// demos use.
func OpenBadger(path string, log zerolog.Logger) (*BadgerStore, error) {
	opts := badger.DefaultOptions(path).WithLogger(nil)
	if path == "" {
		opts = opts.WithInMemory(true)
	}
	db, err := badger.Open(opts)
	if err != nil {
		return nil, fmt.Errorf("open badger: %w", err)
	}
	return &BadgerStore{db: db, log: log, owns: true}, nil
}

// NewBadgerStore wraps an already opened database.  Close leaves the
// database open; its owner closes it.
func NewBadgerStore(db *badger.DB, log zerolog.Logger) *BadgerStore {
	return &BadgerStore{db: db, log: log}
}

func (s *BadgerStore) Read(ctx context.Context, path string) ([]byte, error) {
	if err := ctx.Err(); err != nil {
		return nil, unavailable(err)
	}
	var out []byte
	err := s.db.View(func(txn *badger.Txn) error {
		v, err := badgerGet(txn, path)
		out = v
		return err
	})
	if err != nil {
		return nil, s.classify(err)
	}
	if out == nil {
		return nil, ErrNotFound
	}
	return out, nil
}

func (s *BadgerStore) List(ctx context.Context, prefix string) (map[string][]byte, error) {
	if err := ctx.Err(); err != nil {
		return nil, unavailable(err)
	}
	docs := make(map[string][]byte)
	err := s.db.View(func(txn *badger.Txn) error {
		p := []byte(prefix)
		it := txn.NewIterator(badger.DefaultIteratorOptions)
		defer it.Close()
		for it.Seek(p); it.ValidForPrefix(p); it.Next() {
			item := it.Item()
			v, err := item.ValueCopy(nil)
			if err != nil {
				return err
			}
			docs[string(item.KeyCopy(nil))] = v
		}
		return nil
	})
	if err != nil {
		return nil, s.classify(err)
	}
	return docs, nil
}

func (s *BadgerStore) TransactionalUpdate(ctx context.Context, path string, fn UpdateFunc) (TxResult, error) {
	for {
		if err := ctx.Err(); err != nil {
			return TxResult{}, unavailable(err)
		}
		var (
			res   TxResult
			fnErr error
		)
		err := s.db.Update(func(txn *badger.Txn) error {
			current, err := badgerGet(txn, path)
			if err != nil {
				return err
			}
			next, err := fn(current)
			if errors.Is(err, ErrAborted) {
				res = TxResult{Value: current}
				return nil
			}
			if err != nil {
				fnErr = err
				return err
			}
			if err := txn.Set([]byte(path), next); err != nil {
				return err
			}
			res = TxResult{Committed: true, Value: next}
			return nil
		})
		if errors.Is(err, badger.ErrConflict) {
			continue
		}
		if fnErr != nil {
			return TxResult{}, fnErr
		}
		if err != nil {
			return TxResult{}, s.classify(err)
		}
		return res, nil
	}
}

func (s *BadgerStore) AtomicMultiWrite(ctx context.Context, writes map[string][]byte) error {
	if err := ctx.Err(); err != nil {
		return unavailable(err)
	}
	err := s.db.Update(func(txn *badger.Txn) error {
		for path, v := range writes {
			if err := txn.Set([]byte(path), v); err != nil {
				return err
			}
		}
		return nil
	})
	if err != nil {
		return s.classify(err)
	}
	return nil
}

// Subscribe streams committed writes under prefix.  Registration happens
// on a background goroutine, so writes racing with the call itself may
// not be observed; subscribers that need a consistent view List first
// and resync periodically.
func (s *BadgerStore) Subscribe(ctx context.Context, prefix string, onChange func(Change)) (Unsubscribe, error) {
	subCtx, cancel := context.WithCancel(ctx)
	done := make(chan struct{})
	go func() {
		defer close(done)
		err := s.db.Subscribe(subCtx, func(kvs *badger.KVList) error {
			for _, kv := range kvs.Kv {
				onChange(Change{Path: string(kv.Key), Value: kv.Value})
			}
			return nil
		}, []pb.Match{{Prefix: []byte(prefix)}})
		if err != nil && !errors.Is(err, context.Canceled) {
			s.log.Warn().Err(err).Str("prefix", prefix).Msg("badger subscription ended")
		}
	}()
	var once sync.Once
	return func() {
		once.Do(func() {
			cancel()
			<-done
		})
	}, nil
}

func (s *BadgerStore) Close() error {
	if !s.owns {
		return nil
	}
	return s.db.Close()
}

func (s *BadgerStore) classify(err error) error {
	if errors.Is(err, badger.ErrDBClosed) || errors.Is(err, context.DeadlineExceeded) || errors.Is(err, context.Canceled) {
		return unavailable(err)
	}
	return err
}

// badgerGet returns a copy of the value at path, or nil when absent.
func badgerGet(txn *badger.Txn, path string) ([]byte, error) {
	item, err := txn.Get([]byte(path))
	if errors.Is(err, badger.ErrKeyNotFound) {
		return nil, nil
	}
	if err != nil {
		return nil, err
	}
	return item.ValueCopy(nil)
}
