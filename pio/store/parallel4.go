//go:build !nonetcdf4
// +build !nonetcdf4

package store

import (
	"bytes"
	"encoding/binary"
	"encoding/gob"
	"fmt"
	"os"

	"github.com/dgraph-io/badger/v2"
	"github.com/dgraph-io/badger/v2/options"
	"github.com/go-sif/piotest"
	"github.com/pkg/errors"
)

func init() {
	Register(int(piotest.IOTypeNetCDF4P), parallel4Backend{})
}

var headerKey = []byte("h")

// parallel4Backend stores each shard in its own key-value database, one key per element
type parallel4Backend struct{}

func (parallel4Backend) Name() string {
	return "parallel4"
}

func (parallel4Backend) Parallel() bool {
	return true
}

func (parallel4Backend) Create(path string, shard int, h *Header) (Store, error) {
	if err := os.MkdirAll(path, 0755); err != nil {
		return nil, err
	}
	dir := shardDir(path, shard)
	if err := removeAll(dir); err != nil {
		return nil, err
	}
	s, err := openKVStore(dir, true)
	if err != nil {
		return nil, err
	}
	if shard == 0 {
		if err = s.WriteHeader(h); err != nil {
			s.Close()
			return nil, err
		}
	}
	return s, nil
}

func (parallel4Backend) Open(path string, shard int, write bool) (Store, error) {
	dir := shardDir(path, shard)
	if _, err := os.Stat(dir); err != nil {
		return nil, err
	}
	return openKVStore(dir, write)
}

func (parallel4Backend) Remove(path string) error {
	return removeAll(path)
}

type kvStore struct {
	db    *badger.DB
	dir   string
	write bool
}

func openKVStore(dir string, write bool) (*kvStore, error) {
	opts := badger.DefaultOptions(dir).
		WithSyncWrites(false).
		WithTruncate(true).
		WithLogger(nil).
		WithNumMemtables(2).
		WithMaxTableSize(4 << 20).
		WithValueLogFileSize(16 << 20).
		WithCompression(options.None).
		WithBlockCacheSize(0)
	db, err := badger.Open(opts)
	if err != nil {
		return nil, errors.WithMessagef(err, "could not open database in %s", dir)
	}
	return &kvStore{db: db, dir: dir, write: write}, nil
}

// elementDBKey is 'v' followed by the big-endian variable, record and index
func elementDBKey(varid int, rec int, idx int64) []byte {
	key := make([]byte, 17)
	key[0] = 'v'
	binary.BigEndian.PutUint32(key[1:], uint32(varid))
	binary.BigEndian.PutUint32(key[5:], uint32(rec))
	binary.BigEndian.PutUint64(key[9:], uint64(idx))
	return key
}

func (s *kvStore) WriteHeader(h *Header) error {
	if !s.write {
		return fmt.Errorf("%s is open read-only", s.dir)
	}
	var buf bytes.Buffer
	if err := gob.NewEncoder(&buf).Encode(h); err != nil {
		return err
	}
	return s.db.Update(func(txn *badger.Txn) error {
		return txn.Set(headerKey, buf.Bytes())
	})
}

func (s *kvStore) ReadHeader() (*Header, error) {
	var valCopy []byte
	err := s.db.View(func(txn *badger.Txn) error {
		item, err := txn.Get(headerKey)
		if err != nil {
			return err
		}
		valCopy, err = item.ValueCopy(nil)
		return err
	})
	if err == badger.ErrKeyNotFound {
		return nil, fmt.Errorf("shard has no header")
	}
	if err != nil {
		return nil, err
	}
	h := &Header{}
	if err = gob.NewDecoder(bytes.NewReader(valCopy)).Decode(h); err != nil {
		return nil, errors.WithMessage(err, "corrupt header")
	}
	return h, nil
}

func (s *kvStore) Put(varid int, rec int, idx []int64, data []byte, elemSize int) error {
	if !s.write {
		return fmt.Errorf("%s is open read-only", s.dir)
	}
	if len(data) != len(idx)*elemSize {
		return fmt.Errorf("%d bytes cannot hold %d elements of size %d", len(data), len(idx), elemSize)
	}
	wb := s.db.NewWriteBatch()
	defer wb.Cancel()
	for i, gidx := range idx {
		if err := wb.Set(elementDBKey(varid, rec, gidx), data[i*elemSize:(i+1)*elemSize]); err != nil {
			return err
		}
	}
	return wb.Flush()
}

func (s *kvStore) Get(varid int, rec int, idx []int64, elemSize int, fill []byte) ([]byte, error) {
	res := make([]byte, 0, len(idx)*elemSize)
	err := s.db.View(func(txn *badger.Txn) error {
		for _, gidx := range idx {
			item, err := txn.Get(elementDBKey(varid, rec, gidx))
			if err == badger.ErrKeyNotFound {
				res = append(res, fill...)
				continue
			}
			if err != nil {
				return err
			}
			v, err := item.ValueCopy(nil)
			if err != nil {
				return err
			}
			if len(v) != elemSize {
				return fmt.Errorf("element %d of variable %d has %d bytes, expected %d", gidx, varid, len(v), elemSize)
			}
			res = append(res, v...)
		}
		return nil
	})
	return res, err
}

func (s *kvStore) Sync() error {
	if !s.write {
		return nil
	}
	return s.db.Sync()
}

func (s *kvStore) Close() error {
	return s.db.Close()
}
