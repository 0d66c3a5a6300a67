package queue

import (
	"context"
	"encoding/binary"
	"errors"
	"fmt"
	"log/slog"
	"sync"
	"time"

	badger "github.com/dgraph-io/badger/v4"
)

// BadgerOptions configures the embedded queue backend.
type BadgerOptions struct {
	// Dir is the directory for BadgerDB data files. Required for on-disk
	// mode.
	Dir string

	// InMemory runs BadgerDB without disk persistence. Useful for testing
	// against a real storage engine.
	InMemory bool

	// PollInterval is how often a blocked Get re-checks for new messages.
	// Default 25ms.
	PollInterval time.Duration

	// Logger receives badger's warnings and errors. Default slog.Default().
	Logger *slog.Logger
}

// Badger is an embedded Queue for single-node deployments. Messages are
// stored under per-client keys ordered by a monotonic sequence, so FIFO order
// survives restarts along with the data files.
type Badger struct {
	db   *badger.DB
	poll time.Duration

	// mu serializes writers so sequence allocation never conflicts.
	mu sync.Mutex
}

// NewBadger opens the embedded queue backend.
func NewBadger(opts BadgerOptions) (*Badger, error) {
	if !opts.InMemory && opts.Dir == "" {
		return nil, errors.New("queue: BadgerOptions.Dir is required for on-disk mode")
	}
	if opts.PollInterval <= 0 {
		opts.PollInterval = 25 * time.Millisecond
	}
	log := opts.Logger
	if log == nil {
		log = slog.Default()
	}
	dbOpts := badger.DefaultOptions(opts.Dir).
		WithInMemory(opts.InMemory).
		WithLogger(badgerLogger{log: log})
	db, err := badger.Open(dbOpts)
	if err != nil {
		return nil, fmt.Errorf("queue: open badger: %w", err)
	}
	return &Badger{db: db, poll: opts.PollInterval}, nil
}

func badgerItemPrefix(clientID string) []byte {
	return []byte("q/" + clientID + "/")
}

func badgerItemKey(clientID string, seq uint64) []byte {
	prefix := badgerItemPrefix(clientID)
	key := make([]byte, len(prefix)+8)
	copy(key, prefix)
	binary.BigEndian.PutUint64(key[len(prefix):], seq)
	return key
}

func badgerSeqKey(clientID string) []byte {
	return []byte("qs/" + clientID)
}

// Put implements Queue.
func (q *Badger) Put(ctx context.Context, clientID string, msg *Message) error {
	data, err := msg.Encode()
	if err != nil {
		return err
	}
	q.mu.Lock()
	defer q.mu.Unlock()
	err = q.db.Update(func(txn *badger.Txn) error {
		seq := uint64(1)
		item, err := txn.Get(badgerSeqKey(clientID))
		switch {
		case err == nil:
			if err := item.Value(func(val []byte) error {
				if len(val) == 8 {
					seq = binary.BigEndian.Uint64(val) + 1
				}
				return nil
			}); err != nil {
				return err
			}
		case errors.Is(err, badger.ErrKeyNotFound):
		default:
			return err
		}
		var enc [8]byte
		binary.BigEndian.PutUint64(enc[:], seq)
		if err := txn.Set(badgerSeqKey(clientID), enc[:]); err != nil {
			return err
		}
		return txn.Set(badgerItemKey(clientID, seq), data)
	})
	if err != nil {
		return fmt.Errorf("%w: put: %v", ErrUnavailable, err)
	}
	return nil
}

// Get implements Queue. It polls the store until a message arrives, the
// timeout elapses (nil, nil), or ctx is cancelled.
func (q *Badger) Get(ctx context.Context, clientID string, timeout time.Duration) (*Message, error) {
	deadline := time.Now().Add(timeout)
	for {
		msg, err := q.pop(clientID)
		if err != nil || msg != nil {
			return msg, err
		}
		remaining := time.Until(deadline)
		if remaining <= 0 {
			return nil, nil
		}
		wait := q.poll
		if wait > remaining {
			wait = remaining
		}
		select {
		case <-ctx.Done():
			return nil, ctx.Err()
		case <-time.After(wait):
		}
	}
}

// pop removes and returns the oldest message, or (nil, nil) when the queue
// is empty.
func (q *Badger) pop(clientID string) (*Message, error) {
	q.mu.Lock()
	defer q.mu.Unlock()
	var data []byte
	err := q.db.Update(func(txn *badger.Txn) error {
		prefix := badgerItemPrefix(clientID)
		iterOpts := badger.DefaultIteratorOptions
		iterOpts.Prefix = prefix
		iterOpts.PrefetchValues = false

		it := txn.NewIterator(iterOpts)
		it.Rewind()
		if !it.ValidForPrefix(prefix) {
			it.Close()
			return nil
		}
		item := it.Item()
		key := item.KeyCopy(nil)
		val, err := item.ValueCopy(nil)
		it.Close()
		if err != nil {
			return err
		}
		data = val
		return txn.Delete(key)
	})
	if err != nil {
		return nil, fmt.Errorf("%w: pop: %v", ErrUnavailable, err)
	}
	if data == nil {
		return nil, nil
	}
	return DecodeMessage(data)
}

// Len implements Queue.
func (q *Badger) Len(ctx context.Context, clientID string) (int64, error) {
	var n int64
	err := q.db.View(func(txn *badger.Txn) error {
		prefix := badgerItemPrefix(clientID)
		iterOpts := badger.DefaultIteratorOptions
		iterOpts.Prefix = prefix
		iterOpts.PrefetchValues = false

		it := txn.NewIterator(iterOpts)
		defer it.Close()
		for it.Rewind(); it.ValidForPrefix(prefix); it.Next() {
			n++
		}
		return nil
	})
	if err != nil {
		return 0, fmt.Errorf("%w: len: %v", ErrUnavailable, err)
	}
	return n, nil
}

// Clear implements Queue. The per-client sequence counter is retained so
// later messages keep sorting after anything already consumed.
func (q *Badger) Clear(ctx context.Context, clientID string) error {
	q.mu.Lock()
	defer q.mu.Unlock()

	var keys [][]byte
	err := q.db.View(func(txn *badger.Txn) error {
		prefix := badgerItemPrefix(clientID)
		iterOpts := badger.DefaultIteratorOptions
		iterOpts.Prefix = prefix
		iterOpts.PrefetchValues = false

		it := txn.NewIterator(iterOpts)
		defer it.Close()
		for it.Rewind(); it.ValidForPrefix(prefix); it.Next() {
			keys = append(keys, it.Item().KeyCopy(nil))
		}
		return nil
	})
	if err != nil {
		return fmt.Errorf("%w: clear: %v", ErrUnavailable, err)
	}
	if len(keys) == 0 {
		return nil
	}

	wb := q.db.NewWriteBatch()
	defer wb.Cancel()
	for _, key := range keys {
		if err := wb.Delete(key); err != nil {
			return fmt.Errorf("%w: clear: %v", ErrUnavailable, err)
		}
	}
	if err := wb.Flush(); err != nil {
		return fmt.Errorf("%w: clear: %v", ErrUnavailable, err)
	}
	return nil
}

// Close implements Queue.
func (q *Badger) Close() error {
	return q.db.Close()
}

// badgerLogger bridges badger output to slog, dropping info and debug noise.
type badgerLogger struct {
	log *slog.Logger
}

func (l badgerLogger) Errorf(f string, v ...interface{}) {
	l.log.Error(fmt.Sprintf("badger: "+f, v...))
}

func (l badgerLogger) Warningf(f string, v ...interface{}) {
	l.log.Warn(fmt.Sprintf("badger: "+f, v...))
}

func (l badgerLogger) Infof(string, ...interface{})  {}
func (l badgerLogger) Debugf(string, ...interface{}) {}
