package comm

import (
	"context"
	"encoding/binary"
	"fmt"
	"sort"

	"github.com/go-sif/piotest"
	"github.com/pkg/errors"
)

// Tags below zero are reserved for collectives
const (
	tagBarrier = -1 - iota
	tagBcast
	tagGather
	tagReduce
	tagSplit
)

// WorldContext is the context ID of the communicator spanning a whole world
const WorldContext = "world"

// communicator is a group of world ranks sharing a context ID
type communicator struct {
	id        string
	rank      int
	members   []int // world rank of each member, indexed by rank in this communicator
	transport Transport
	mailbox   *Mailbox
	splits    int // number of Splits issued so far, identical on every member
}

// NewWorldComm creates the communicator spanning all size ranks of a world, as seen by rank.
// Messages for rank must be deposited into mailbox by the transport.
func NewWorldComm(rank int, size int, transport Transport, mailbox *Mailbox) piotest.Comm {
	members := make([]int, size)
	for i := range members {
		members[i] = i
	}
	return &communicator{
		id:        WorldContext,
		rank:      rank,
		members:   members,
		transport: transport,
		mailbox:   mailbox,
	}
}

// Rank returns the rank of the caller within this communicator
func (c *communicator) Rank() int {
	return c.rank
}

// Size returns the number of ranks in this communicator
func (c *communicator) Size() int {
	return len(c.members)
}

// Send delivers data to dest without waiting for a matching Recv
func (c *communicator) Send(ctx context.Context, dest int, tag int, data []byte) error {
	if tag < 0 {
		return fmt.Errorf("tag %d is reserved", tag)
	}
	return c.send(ctx, dest, tag, data)
}

func (c *communicator) send(ctx context.Context, dest int, tag int, data []byte) error {
	if dest < 0 || dest >= len(c.members) {
		return fmt.Errorf("rank %d is outside communicator %s of size %d", dest, c.id, len(c.members))
	}
	env := &Envelope{
		Context: c.id,
		Src:     c.rank,
		Tag:     tag,
		Data:    append([]byte(nil), data...),
	}
	if err := c.transport.Deliver(ctx, c.members[dest], env); err != nil {
		return errors.WithMessagef(err, "could not deliver to rank %d of %s", dest, c.id)
	}
	return nil
}

// Recv blocks until a message from src (or piotest.AnySource) with tag arrives
func (c *communicator) Recv(ctx context.Context, src int, tag int) (int, []byte, error) {
	if tag < 0 {
		return 0, nil, fmt.Errorf("tag %d is reserved", tag)
	}
	return c.recv(ctx, src, tag)
}

func (c *communicator) recv(ctx context.Context, src int, tag int) (int, []byte, error) {
	if src >= len(c.members) {
		return 0, nil, fmt.Errorf("rank %d is outside communicator %s of size %d", src, c.id, len(c.members))
	}
	env, err := c.mailbox.Take(ctx, c.id, src, tag)
	if err != nil {
		return 0, nil, err
	}
	return env.Src, env.Data, nil
}

// Barrier blocks until all ranks have entered it
func (c *communicator) Barrier(ctx context.Context) error {
	if _, err := c.gather(ctx, 0, nil, tagBarrier); err != nil {
		return err
	}
	_, err := c.bcast(ctx, 0, nil, tagBarrier)
	return err
}

// Bcast distributes root's data to every rank
func (c *communicator) Bcast(ctx context.Context, root int, data []byte) ([]byte, error) {
	return c.bcast(ctx, root, data, tagBcast)
}

func (c *communicator) bcast(ctx context.Context, root int, data []byte, tag int) ([]byte, error) {
	if c.rank == root {
		for r := range c.members {
			if r == root {
				continue
			}
			if err := c.send(ctx, r, tag, data); err != nil {
				return nil, err
			}
		}
		return data, nil
	}
	_, data, err := c.recv(ctx, root, tag)
	return data, err
}

// Gather collects every rank's data at root, ordered by rank
func (c *communicator) Gather(ctx context.Context, root int, data []byte) ([][]byte, error) {
	return c.gather(ctx, root, data, tagGather)
}

func (c *communicator) gather(ctx context.Context, root int, data []byte, tag int) ([][]byte, error) {
	if c.rank != root {
		return nil, c.send(ctx, root, tag, data)
	}
	res := make([][]byte, len(c.members))
	for r := range c.members {
		if r == root {
			res[r] = data
			continue
		}
		_, buf, err := c.recv(ctx, r, tag)
		if err != nil {
			return nil, err
		}
		res[r] = buf
	}
	return res, nil
}

// allgather collects every rank's data on every rank
func (c *communicator) allgather(ctx context.Context, data []byte, tag int) ([][]byte, error) {
	parts, err := c.gather(ctx, 0, data, tag)
	if err != nil {
		return nil, err
	}
	var packed []byte
	if c.rank == 0 {
		packed = packParts(parts)
	}
	packed, err = c.bcast(ctx, 0, packed, tag)
	if err != nil {
		return nil, err
	}
	return unpackParts(packed)
}

// AllreduceInt combines one integer per rank and returns the result to all ranks
func (c *communicator) AllreduceInt(ctx context.Context, value int, op piotest.ReduceOp) (int, error) {
	parts, err := c.gather(ctx, 0, EncodeInts(value), tagReduce)
	if err != nil {
		return 0, err
	}
	var res []byte
	if c.rank == 0 {
		values := make([]int, len(parts))
		for i, p := range parts {
			vs, err := DecodeInts(p)
			if err != nil || len(vs) != 1 {
				return 0, fmt.Errorf("malformed reduction contribution from rank %d", i)
			}
			values[i] = vs[0]
		}
		res = EncodeInts(Reduce(values, op))
	}
	res, err = c.bcast(ctx, 0, res, tagReduce)
	if err != nil {
		return 0, err
	}
	vs, err := DecodeInts(res)
	if err != nil || len(vs) != 1 {
		return 0, fmt.Errorf("malformed reduction result")
	}
	return vs[0], nil
}

// Reduce combines values according to op
func Reduce(values []int, op piotest.ReduceOp) int {
	if len(values) == 0 {
		return 0
	}
	res := values[0]
	for _, v := range values[1:] {
		switch op {
		case piotest.ReduceMin:
			if v < res {
				res = v
			}
		case piotest.ReduceMax:
			if v > res {
				res = v
			}
		case piotest.ReduceSum:
			res += v
		case piotest.ReduceFirstNonZero:
			if res == 0 {
				res = v
			}
		}
	}
	return res
}

type splitEntry struct {
	rank  int
	color int
	key   int
}

// Split partitions this communicator by color, ordering members by key then rank
func (c *communicator) Split(ctx context.Context, color int, key int) (piotest.Comm, error) {
	seq := c.splits
	c.splits++
	parts, err := c.allgather(ctx, EncodeInts(color, key), tagSplit)
	if err != nil {
		return nil, err
	}
	if color == piotest.Undefined {
		return nil, nil
	}
	group := make([]splitEntry, 0, len(parts))
	for r, p := range parts {
		vs, err := DecodeInts(p)
		if err != nil || len(vs) != 2 {
			return nil, fmt.Errorf("malformed split contribution from rank %d", r)
		}
		if vs[0] == color {
			group = append(group, splitEntry{rank: r, color: vs[0], key: vs[1]})
		}
	}
	sort.SliceStable(group, func(i, j int) bool {
		if group[i].key != group[j].key {
			return group[i].key < group[j].key
		}
		return group[i].rank < group[j].rank
	})
	res := &communicator{
		id:        fmt.Sprintf("%s/%d:%d", c.id, seq, color),
		members:   make([]int, len(group)),
		transport: c.transport,
		mailbox:   c.mailbox,
	}
	for i, e := range group {
		res.members[i] = c.members[e.rank]
		if e.rank == c.rank {
			res.rank = i
		}
	}
	return res, nil
}

// EncodeInts packs integers into a byte slice
func EncodeInts(values ...int) []byte {
	buf := make([]byte, 8*len(values))
	for i, v := range values {
		binary.LittleEndian.PutUint64(buf[8*i:], uint64(int64(v)))
	}
	return buf
}

// DecodeInts unpacks integers packed by EncodeInts
func DecodeInts(buf []byte) ([]int, error) {
	if len(buf)%8 != 0 {
		return nil, fmt.Errorf("buffer of %d bytes does not hold whole integers", len(buf))
	}
	res := make([]int, len(buf)/8)
	for i := range res {
		res[i] = int(int64(binary.LittleEndian.Uint64(buf[8*i:])))
	}
	return res, nil
}

func packParts(parts [][]byte) []byte {
	size := 8
	for _, p := range parts {
		size += 8 + len(p)
	}
	buf := make([]byte, 0, size)
	buf = binary.LittleEndian.AppendUint64(buf, uint64(len(parts)))
	for _, p := range parts {
		buf = binary.LittleEndian.AppendUint64(buf, uint64(len(p)))
		buf = append(buf, p...)
	}
	return buf
}

func unpackParts(buf []byte) ([][]byte, error) {
	if len(buf) < 8 {
		return nil, fmt.Errorf("truncated part list")
	}
	n := binary.LittleEndian.Uint64(buf)
	buf = buf[8:]
	parts := make([][]byte, 0, n)
	for i := uint64(0); i < n; i++ {
		if len(buf) < 8 {
			return nil, fmt.Errorf("truncated part list")
		}
		l := binary.LittleEndian.Uint64(buf)
		buf = buf[8:]
		if uint64(len(buf)) < l {
			return nil, fmt.Errorf("truncated part list")
		}
		parts = append(parts, buf[:l])
		buf = buf[l:]
	}
	return parts, nil
}
