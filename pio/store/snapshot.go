package store

import (
	"bytes"
	"encoding/gob"
	"fmt"
	"sync"
)

// elementKey addresses one element of one record of a variable
type elementKey struct {
	Var int
	Rec int
	Idx int64
}

// snapshot is an in-memory image of a shard, shared by the flavors which
// rewrite or replay their whole shard rather than updating it in place
type snapshot struct {
	lock   sync.RWMutex
	header *Header
	values map[elementKey][]byte
	dirty  bool
}

// snapshotImage is the serialized form of a snapshot
type snapshotImage struct {
	Keys   []elementKey
	Values [][]byte
}

func newSnapshot() *snapshot {
	return &snapshot{values: make(map[elementKey][]byte)}
}

func (s *snapshot) setHeader(h *Header) {
	s.lock.Lock()
	defer s.lock.Unlock()
	s.header = h.Clone()
	s.dirty = true
}

func (s *snapshot) getHeader() (*Header, error) {
	s.lock.RLock()
	defer s.lock.RUnlock()
	if s.header == nil {
		return nil, fmt.Errorf("shard has no header")
	}
	return s.header.Clone(), nil
}

func (s *snapshot) put(varid int, rec int, idx []int64, data []byte, elemSize int) error {
	if len(data) != len(idx)*elemSize {
		return fmt.Errorf("%d bytes cannot hold %d elements of size %d", len(data), len(idx), elemSize)
	}
	s.lock.Lock()
	defer s.lock.Unlock()
	for i, gidx := range idx {
		s.values[elementKey{Var: varid, Rec: rec, Idx: gidx}] = append([]byte(nil), data[i*elemSize:(i+1)*elemSize]...)
	}
	s.dirty = true
	return nil
}

func (s *snapshot) get(varid int, rec int, idx []int64, elemSize int, fill []byte) []byte {
	s.lock.RLock()
	defer s.lock.RUnlock()
	res := make([]byte, 0, len(idx)*elemSize)
	for _, gidx := range idx {
		if v, ok := s.values[elementKey{Var: varid, Rec: rec, Idx: gidx}]; ok && len(v) == elemSize {
			res = append(res, v...)
		} else {
			res = append(res, fill...)
		}
	}
	return res
}

// encodeValues serializes every stored element
func (s *snapshot) encodeValues() ([]byte, error) {
	s.lock.RLock()
	defer s.lock.RUnlock()
	img := snapshotImage{
		Keys:   make([]elementKey, 0, len(s.values)),
		Values: make([][]byte, 0, len(s.values)),
	}
	for k, v := range s.values {
		img.Keys = append(img.Keys, k)
		img.Values = append(img.Values, v)
	}
	var buf bytes.Buffer
	if err := gob.NewEncoder(&buf).Encode(&img); err != nil {
		return nil, err
	}
	return buf.Bytes(), nil
}

// decodeValues replaces every stored element with those in data
func (s *snapshot) decodeValues(data []byte) error {
	var img snapshotImage
	if err := gob.NewDecoder(bytes.NewReader(data)).Decode(&img); err != nil {
		return err
	}
	if len(img.Keys) != len(img.Values) {
		return fmt.Errorf("corrupt value table: %d keys for %d values", len(img.Keys), len(img.Values))
	}
	s.lock.Lock()
	defer s.lock.Unlock()
	s.values = make(map[elementKey][]byte, len(img.Keys))
	for i, k := range img.Keys {
		s.values[k] = img.Values[i]
	}
	return nil
}
