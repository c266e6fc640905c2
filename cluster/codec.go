package cluster

import (
	"bytes"
	"encoding/gob"
	"fmt"
	"net"
	"strconv"

	"github.com/go-sif/piotest/comm"
	"github.com/klauspost/compress/zstd"
)

// envelopes at least this large are compressed before going on the wire
const compressThreshold = 4096

// leading byte of an encoded envelope
const (
	envelopePlain byte = iota
	envelopeZstd
)

var (
	compressor, _   = zstd.NewWriter(nil, zstd.WithEncoderLevel(zstd.SpeedFastest))
	decompressor, _ = zstd.NewReader(nil)
)

// peerDescriptor describes one rank of a cluster world
type peerDescriptor struct {
	ID   string
	Rank int
	Addr string
}

func encodeGob(v interface{}) ([]byte, error) {
	var buf bytes.Buffer
	if err := gob.NewEncoder(&buf).Encode(v); err != nil {
		return nil, err
	}
	return buf.Bytes(), nil
}

func decodeGob(data []byte, v interface{}) error {
	return gob.NewDecoder(bytes.NewReader(data)).Decode(v)
}

func encodeEnvelope(env *comm.Envelope) ([]byte, error) {
	data, err := encodeGob(env)
	if err != nil {
		return nil, err
	}
	if len(data) < compressThreshold {
		return append([]byte{envelopePlain}, data...), nil
	}
	return compressor.EncodeAll(data, []byte{envelopeZstd}), nil
}

func decodeEnvelope(data []byte) (*comm.Envelope, error) {
	if len(data) == 0 {
		return nil, fmt.Errorf("malformed envelope: empty message")
	}
	payload := data[1:]
	switch data[0] {
	case envelopePlain:
	case envelopeZstd:
		var err error
		if payload, err = decompressor.DecodeAll(payload, nil); err != nil {
			return nil, fmt.Errorf("malformed envelope: %v", err)
		}
	default:
		return nil, fmt.Errorf("malformed envelope: unknown encoding %d", data[0])
	}
	env := &comm.Envelope{}
	if err := decodeGob(payload, env); err != nil {
		return nil, fmt.Errorf("malformed envelope: %v", err)
	}
	return env, nil
}

// splitHostPort parses "host:port"
func splitHostPort(addr string) (string, int, error) {
	host, portStr, err := net.SplitHostPort(addr)
	if err != nil {
		return "", 0, err
	}
	port, err := strconv.Atoi(portStr)
	if err != nil {
		return "", 0, fmt.Errorf("failed parsing port number: %v", err)
	}
	return host, port, nil
}
