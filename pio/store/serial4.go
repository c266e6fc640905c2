//go:build !nonetcdf4
// +build !nonetcdf4

package store

import (
	"bytes"
	"encoding/binary"
	"encoding/gob"
	"fmt"
	"io/ioutil"
	"os"

	"github.com/cespare/xxhash/v2"
	"github.com/go-sif/piotest"
	"github.com/pierrec/lz4"
)

var serial4Magic = []byte("\x89HDF\r\n\x1a\n")

func init() {
	Register(int(piotest.IOTypeNetCDF4C), serial4Backend{})
}

// serial4Backend stores a file as one lz4-compressed image written by a single I/O task
type serial4Backend struct{}

// serial4Image is the uncompressed content of a serial4 file
type serial4Image struct {
	Header *Header
	Values []byte
}

func (serial4Backend) Name() string {
	return "serial4"
}

func (serial4Backend) Parallel() bool {
	return false
}

func (b serial4Backend) Create(path string, shard int, h *Header) (Store, error) {
	if shard != 0 {
		return nil, fmt.Errorf("%s files have a single shard, not %d", b.Name(), shard)
	}
	if err := removeAll(path); err != nil {
		return nil, err
	}
	s := &serial4Store{path: path, snap: newSnapshot(), write: true}
	s.snap.setHeader(h)
	if err := s.flush(); err != nil {
		return nil, err
	}
	return s, nil
}

func (b serial4Backend) Open(path string, shard int, write bool) (Store, error) {
	if shard != 0 {
		return nil, fmt.Errorf("%s files have a single shard, not %d", b.Name(), shard)
	}
	data, err := ioutil.ReadFile(path)
	if err != nil {
		return nil, err
	}
	s := &serial4Store{path: path, snap: newSnapshot(), write: write}
	if err = s.load(data); err != nil {
		return nil, fmt.Errorf("%s is not a serial4 file: %v", path, err)
	}
	return s, nil
}

func (serial4Backend) Remove(path string) error {
	return removeAll(path)
}

type serial4Store struct {
	path  string
	snap  *snapshot
	write bool
}

func (s *serial4Store) WriteHeader(h *Header) error {
	s.snap.setHeader(h)
	return nil
}

func (s *serial4Store) ReadHeader() (*Header, error) {
	return s.snap.getHeader()
}

func (s *serial4Store) Put(varid int, rec int, idx []int64, data []byte, elemSize int) error {
	if !s.write {
		return fmt.Errorf("%s is open read-only", s.path)
	}
	return s.snap.put(varid, rec, idx, data, elemSize)
}

func (s *serial4Store) Get(varid int, rec int, idx []int64, elemSize int, fill []byte) ([]byte, error) {
	return s.snap.get(varid, rec, idx, elemSize, fill), nil
}

func (s *serial4Store) Sync() error {
	if !s.write {
		return nil
	}
	return s.flush()
}

func (s *serial4Store) Close() error {
	return s.Sync()
}

func (s *serial4Store) flush() error {
	h, err := s.snap.getHeader()
	if err != nil {
		return err
	}
	values, err := s.snap.encodeValues()
	if err != nil {
		return err
	}
	var plain bytes.Buffer
	if err = gob.NewEncoder(&plain).Encode(&serial4Image{Header: h, Values: values}); err != nil {
		return err
	}
	var compressed bytes.Buffer
	compressor := lz4.NewWriter(&compressed)
	if _, err = compressor.Write(plain.Bytes()); err != nil {
		return err
	}
	if err = compressor.Close(); err != nil {
		return err
	}
	var out bytes.Buffer
	out.Write(serial4Magic)
	var sum [8]byte
	binary.LittleEndian.PutUint64(sum[:], xxhash.Sum64(compressed.Bytes()))
	out.Write(sum[:])
	out.Write(compressed.Bytes())

	tmp := s.path + ".tmp"
	if err = ioutil.WriteFile(tmp, out.Bytes(), 0644); err != nil {
		return err
	}
	return os.Rename(tmp, s.path)
}

func (s *serial4Store) load(data []byte) error {
	if len(data) < len(serial4Magic)+8 || !bytes.Equal(data[:len(serial4Magic)], serial4Magic) {
		return fmt.Errorf("bad signature")
	}
	sum := binary.LittleEndian.Uint64(data[len(serial4Magic):])
	compressed := data[len(serial4Magic)+8:]
	if xxhash.Sum64(compressed) != sum {
		return fmt.Errorf("checksum mismatch")
	}
	var plain bytes.Buffer
	if _, err := plain.ReadFrom(lz4.NewReader(bytes.NewReader(compressed))); err != nil {
		return fmt.Errorf("unable to decompress: %v", err)
	}
	var img serial4Image
	if err := gob.NewDecoder(&plain).Decode(&img); err != nil {
		return err
	}
	if img.Header == nil {
		return fmt.Errorf("missing header")
	}
	s.snap.setHeader(img.Header)
	return s.snap.decodeValues(img.Values)
}
