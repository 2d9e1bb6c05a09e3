package scratch

import (
	"encoding/binary"
	"errors"
	"fmt"
	"os"

	"github.com/dgraph-io/badger/v4"
	"github.com/pierrec/lz4/v4"

	"github.com/banshee-data/canopy.report/internal/monitoring"
)

// BadgerStore keeps blobs in a badger database. Values are framed with a
// one-byte codec tag and the raw length, and lz4 block compressed when that
// makes them smaller.
type BadgerStore struct {
	db *badger.DB
}

const (
	codecRaw byte = iota
	codecLZ4
)

const frameHeader = 5

// NewBadgerStore opens a database at dir, or an in-memory one.
func NewBadgerStore(dir string, inMemory bool) (*BadgerStore, error) {
	var opts badger.Options
	if inMemory {
		opts = badger.DefaultOptions("").WithInMemory(true)
	} else {
		if dir == "" {
			return nil, errors.New("scratch directory is required for persistent badger store")
		}
		if err := os.MkdirAll(dir, 0o750); err != nil {
			return nil, fmt.Errorf("create scratch directory %s: %w", dir, err)
		}
		opts = badger.DefaultOptions(dir)
	}
	opts = opts.WithSyncWrites(false).
		WithNumVersionsToKeep(1).
		WithLogger(monitoring.Leveled{Component: "scratch"}).
		WithLoggingLevel(badger.WARNING)

	db, err := badger.Open(opts)
	if err != nil {
		return nil, fmt.Errorf("open badger scratch store: %w", err)
	}
	return &BadgerStore{db: db}, nil
}

func encodeFrame(blob []byte) []byte {
	buf := make([]byte, frameHeader+lz4.CompressBlockBound(len(blob)))
	binary.LittleEndian.PutUint32(buf[1:frameHeader], uint32(len(blob)))
	n, err := lz4.CompressBlock(blob, buf[frameHeader:], nil)
	if err != nil || n == 0 || n >= len(blob) {
		buf[0] = codecRaw
		return append(buf[:frameHeader], blob...)
	}
	buf[0] = codecLZ4
	return buf[:frameHeader+n]
}

func decodeFrame(frame []byte) ([]byte, error) {
	if len(frame) < frameHeader {
		return nil, fmt.Errorf("scratch frame too short (%d bytes)", len(frame))
	}
	size := int(binary.LittleEndian.Uint32(frame[1:frameHeader]))
	body := frame[frameHeader:]
	switch frame[0] {
	case codecRaw:
		if len(body) != size {
			return nil, fmt.Errorf("scratch frame holds %d bytes, header says %d", len(body), size)
		}
		return body, nil
	case codecLZ4:
		out := make([]byte, size)
		n, err := lz4.UncompressBlock(body, out)
		if err != nil {
			return nil, fmt.Errorf("lz4 decompress scratch frame: %w", err)
		}
		if n != size {
			return nil, fmt.Errorf("scratch frame decompressed to %d bytes, want %d", n, size)
		}
		return out, nil
	}
	return nil, fmt.Errorf("unknown scratch frame codec %d", frame[0])
}

func (s *BadgerStore) Put(key string, blob []byte) error {
	frame := encodeFrame(blob)
	if err := s.db.Update(func(txn *badger.Txn) error {
		return txn.Set([]byte(key), frame)
	}); err != nil {
		return fmt.Errorf("put scratch %s: %w", key, err)
	}
	return nil
}

func (s *BadgerStore) Get(key string) ([]byte, error) {
	var frame []byte
	err := s.db.View(func(txn *badger.Txn) error {
		item, err := txn.Get([]byte(key))
		if err != nil {
			return err
		}
		frame, err = item.ValueCopy(nil)
		return err
	})
	if errors.Is(err, badger.ErrKeyNotFound) {
		return nil, fmt.Errorf("%s: %w", key, ErrNotFound)
	}
	if err != nil {
		return nil, fmt.Errorf("get scratch %s: %w", key, err)
	}
	return decodeFrame(frame)
}

func (s *BadgerStore) Delete(key string) error {
	if err := s.db.Update(func(txn *badger.Txn) error {
		return txn.Delete([]byte(key))
	}); err != nil {
		return fmt.Errorf("delete scratch %s: %w", key, err)
	}
	return nil
}

func (s *BadgerStore) Close() error { return s.db.Close() }
