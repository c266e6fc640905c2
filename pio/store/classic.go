//go:build !noclassic
// +build !noclassic

package store

import (
	"bytes"
	"encoding/binary"
	"encoding/json"
	"fmt"
	"io/ioutil"
	"os"

	"github.com/cespare/xxhash/v2"
	"github.com/go-sif/piotest"
	"github.com/tidwall/gjson"
)

var (
	classicMagic   = []byte("CDF\x01")
	classicMagic64 = []byte("CDF\x02")
)

func init() {
	Register(int(piotest.IOTypeNetCDF), classicBackend{})
}

// classicBackend stores a file as one flat image: magic, JSON header, value table, checksum
type classicBackend struct{}

func (classicBackend) Name() string {
	return "classic"
}

func (classicBackend) Parallel() bool {
	return false
}

func (b classicBackend) Create(path string, shard int, h *Header) (Store, error) {
	if shard != 0 {
		return nil, fmt.Errorf("%s files have a single shard, not %d", b.Name(), shard)
	}
	if err := removeAll(path); err != nil {
		return nil, err
	}
	s := &classicStore{path: path, snap: newSnapshot(), write: true}
	s.snap.setHeader(h)
	if err := s.flush(); err != nil {
		return nil, err
	}
	return s, nil
}

func (b classicBackend) Open(path string, shard int, write bool) (Store, error) {
	if shard != 0 {
		return nil, fmt.Errorf("%s files have a single shard, not %d", b.Name(), shard)
	}
	data, err := ioutil.ReadFile(path)
	if err != nil {
		return nil, err
	}
	s := &classicStore{path: path, snap: newSnapshot(), write: write}
	if err = s.load(data); err != nil {
		return nil, fmt.Errorf("%s is not a classic file: %v", path, err)
	}
	return s, nil
}

func (classicBackend) Remove(path string) error {
	return removeAll(path)
}

type classicStore struct {
	path  string
	snap  *snapshot
	write bool
}

func (s *classicStore) WriteHeader(h *Header) error {
	s.snap.setHeader(h)
	return nil
}

func (s *classicStore) ReadHeader() (*Header, error) {
	return s.snap.getHeader()
}

func (s *classicStore) Put(varid int, rec int, idx []int64, data []byte, elemSize int) error {
	if !s.write {
		return fmt.Errorf("%s is open read-only", s.path)
	}
	return s.snap.put(varid, rec, idx, data, elemSize)
}

func (s *classicStore) Get(varid int, rec int, idx []int64, elemSize int, fill []byte) ([]byte, error) {
	return s.snap.get(varid, rec, idx, elemSize, fill), nil
}

func (s *classicStore) Sync() error {
	if !s.write {
		return nil
	}
	return s.flush()
}

func (s *classicStore) Close() error {
	return s.Sync()
}

// flush rewrites the whole image, replacing the previous one atomically
func (s *classicStore) flush() error {
	h, err := s.snap.getHeader()
	if err != nil {
		return err
	}
	hdr, err := json.Marshal(h)
	if err != nil {
		return err
	}
	values, err := s.snap.encodeValues()
	if err != nil {
		return err
	}
	var buf bytes.Buffer
	if h.Mode&Mode64BitOffset != 0 {
		buf.Write(classicMagic64)
	} else {
		buf.Write(classicMagic)
	}
	var n [4]byte
	binary.LittleEndian.PutUint32(n[:], uint32(len(hdr)))
	buf.Write(n[:])
	buf.Write(hdr)
	buf.Write(values)
	var sum [8]byte
	binary.LittleEndian.PutUint64(sum[:], xxhash.Sum64(buf.Bytes()))
	buf.Write(sum[:])

	tmp := s.path + ".tmp"
	if err = ioutil.WriteFile(tmp, buf.Bytes(), 0644); err != nil {
		return err
	}
	return os.Rename(tmp, s.path)
}

func (s *classicStore) load(data []byte) error {
	if len(data) < len(classicMagic)+4+8 {
		return fmt.Errorf("truncated")
	}
	if !bytes.Equal(data[:4], classicMagic) && !bytes.Equal(data[:4], classicMagic64) {
		return fmt.Errorf("bad magic number %q", data[:4])
	}
	body, sum := data[:len(data)-8], binary.LittleEndian.Uint64(data[len(data)-8:])
	if xxhash.Sum64(body) != sum {
		return fmt.Errorf("checksum mismatch")
	}
	hdrLen := int(binary.LittleEndian.Uint32(body[4:8]))
	if 8+hdrLen > len(body) {
		return fmt.Errorf("header length %d exceeds file", hdrLen)
	}
	hdr := body[8 : 8+hdrLen]
	// reject foreign images before paying for a full decode
	if format := gjson.GetBytes(hdr, "Format"); !format.Exists() || format.Int() != int64(piotest.IOTypeNetCDF) {
		return fmt.Errorf("header format %s is not classic", format.Raw)
	}
	h := &Header{}
	if err := json.Unmarshal(hdr, h); err != nil {
		return err
	}
	s.snap.setHeader(h)
	return s.snap.decodeValues(body[8+hdrLen:])
}
