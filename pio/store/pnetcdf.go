//go:build !nopnetcdf
// +build !nopnetcdf

package store

import (
	"bytes"
	"encoding/gob"
	"fmt"
	"os"
	"path/filepath"

	"github.com/go-sif/piotest"
	"github.com/pkg/errors"
	"github.com/tidwall/wal"
)

func init() {
	Register(int(piotest.IOTypePNetCDF), pnetcdfBackend{})
}

// pnetcdfBackend stores each shard as an append-only log of header and value records.
// Opening a shard replays its log into memory.
type pnetcdfBackend struct{}

// logEntry is one record of a shard's log. Exactly one of Header or Idx is set.
type logEntry struct {
	Header *Header
	Var    int
	Rec    int
	Idx    []int64
	Data   []byte
	Size   int
}

func shardDir(path string, shard int) string {
	return filepath.Join(path, fmt.Sprintf("shard-%04d", shard))
}

func (pnetcdfBackend) Name() string {
	return "pnetcdf"
}

func (pnetcdfBackend) Parallel() bool {
	return true
}

func (pnetcdfBackend) Create(path string, shard int, h *Header) (Store, error) {
	if err := os.MkdirAll(path, 0755); err != nil {
		return nil, err
	}
	dir := shardDir(path, shard)
	if err := removeAll(dir); err != nil {
		return nil, err
	}
	s, err := openLogStore(dir, true)
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

func (pnetcdfBackend) Open(path string, shard int, write bool) (Store, error) {
	dir := shardDir(path, shard)
	if _, err := os.Stat(dir); err != nil {
		return nil, err
	}
	return openLogStore(dir, write)
}

func (pnetcdfBackend) Remove(path string) error {
	return removeAll(path)
}

type logStore struct {
	log       *wal.Log
	dir       string
	nextIndex uint64
	snap      *snapshot
	write     bool
}

func openLogStore(dir string, write bool) (*logStore, error) {
	log, err := wal.Open(dir, &wal.Options{
		NoSync: true,
	})
	if err != nil {
		return nil, errors.WithMessagef(err, "could not open log in %s", dir)
	}
	s := &logStore{log: log, dir: dir, snap: newSnapshot(), write: write, nextIndex: 1}
	if err = s.replay(); err != nil {
		log.Close()
		return nil, err
	}
	return s, nil
}

// replay applies every logged entry to the in-memory snapshot, in order
func (s *logStore) replay() error {
	firstIndex, err := s.log.FirstIndex()
	if err != nil {
		return errors.WithMessage(err, "could not read first index")
	}
	lastIndex, err := s.log.LastIndex()
	if err != nil {
		return errors.WithMessage(err, "could not read last index")
	}
	if lastIndex == 0 {
		return nil
	}
	for i := firstIndex; i <= lastIndex; i++ {
		data, err := s.log.Read(i)
		if err != nil {
			return errors.WithMessagef(err, "could not read index %d", i)
		}
		var entry logEntry
		if err = gob.NewDecoder(bytes.NewReader(data)).Decode(&entry); err != nil {
			return errors.WithMessagef(err, "corrupt entry at index %d", i)
		}
		if entry.Header != nil {
			s.snap.setHeader(entry.Header)
			continue
		}
		if err = s.snap.put(entry.Var, entry.Rec, entry.Idx, entry.Data, entry.Size); err != nil {
			return errors.WithMessagef(err, "corrupt entry at index %d", i)
		}
	}
	s.nextIndex = lastIndex + 1
	return nil
}

func (s *logStore) append(entry *logEntry) error {
	if !s.write {
		return fmt.Errorf("%s is open read-only", s.dir)
	}
	var buf bytes.Buffer
	if err := gob.NewEncoder(&buf).Encode(entry); err != nil {
		return err
	}
	if err := s.log.Write(s.nextIndex, buf.Bytes()); err != nil {
		return errors.WithMessagef(err, "could not write index %d", s.nextIndex)
	}
	s.nextIndex++
	return nil
}

func (s *logStore) WriteHeader(h *Header) error {
	if err := s.append(&logEntry{Header: h}); err != nil {
		return err
	}
	s.snap.setHeader(h)
	return nil
}

func (s *logStore) ReadHeader() (*Header, error) {
	return s.snap.getHeader()
}

func (s *logStore) Put(varid int, rec int, idx []int64, data []byte, elemSize int) error {
	if len(idx) == 0 {
		return nil
	}
	if err := s.append(&logEntry{Var: varid, Rec: rec, Idx: idx, Data: data, Size: elemSize}); err != nil {
		return err
	}
	return s.snap.put(varid, rec, idx, data, elemSize)
}

func (s *logStore) Get(varid int, rec int, idx []int64, elemSize int, fill []byte) ([]byte, error) {
	return s.snap.get(varid, rec, idx, elemSize, fill), nil
}

func (s *logStore) Sync() error {
	if !s.write {
		return nil
	}
	return s.log.Sync()
}

func (s *logStore) Close() error {
	if err := s.Sync(); err != nil {
		s.log.Close()
		return err
	}
	return s.log.Close()
}
