package piotest

import "context"

const (
	// AnySource may be passed to Comm.Recv to accept a message from any rank
	AnySource = -1
	// Undefined may be passed to Comm.Split as a color to opt out of the new communicator
	Undefined = -32766
)

// ReduceOp is a reduction applied by Comm.AllreduceInt
type ReduceOp int

const (
	// ReduceMin keeps the smallest contribution
	ReduceMin ReduceOp = iota
	// ReduceMax keeps the largest contribution
	ReduceMax
	// ReduceSum adds all contributions
	ReduceSum
	// ReduceFirstNonZero keeps the contribution of the lowest rank which is not zero
	ReduceFirstNonZero
)

// Comm is an ordered group of ranks which exchange messages. Every collective
// method must be called by all ranks of the Comm, in the same order.
type Comm interface {
	// Rank returns the rank of the caller within this Comm
	Rank() int
	// Size returns the number of ranks in this Comm
	Size() int
	// Send delivers data to dest. Send never waits for a matching Recv.
	Send(ctx context.Context, dest int, tag int, data []byte) error
	// Recv blocks until a message from src (or AnySource) with tag arrives, returning its source
	Recv(ctx context.Context, src int, tag int) (int, []byte, error)
	// Barrier blocks until all ranks have entered it
	Barrier(ctx context.Context) error
	// Bcast distributes root's data to every rank
	Bcast(ctx context.Context, root int, data []byte) ([]byte, error)
	// Gather collects every rank's data at root, ordered by rank. Non-root ranks receive nil.
	Gather(ctx context.Context, root int, data []byte) ([][]byte, error)
	// AllreduceInt combines one integer per rank and returns the result to all ranks
	AllreduceInt(ctx context.Context, value int, op ReduceOp) (int, error)
	// Split partitions this Comm by color, ordering by key then rank. Returns nil for color Undefined.
	Split(ctx context.Context, color int, key int) (Comm, error)
}
