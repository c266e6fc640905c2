package comm

import (
	"context"
	"fmt"

	"github.com/go-sif/piotest"
	"golang.org/x/sync/errgroup"
)

// localTransport delivers envelopes between goroutines of one process
type localTransport struct {
	mailboxes []*Mailbox
}

// Deliver deposits env into the mailbox of dest
func (t *localTransport) Deliver(ctx context.Context, dest int, env *Envelope) error {
	if dest < 0 || dest >= len(t.mailboxes) {
		return fmt.Errorf("world rank %d does not exist", dest)
	}
	if err := ctx.Err(); err != nil {
		return err
	}
	return t.mailboxes[dest].Deposit(env)
}

// LocalWorld is a world of ranks which are goroutines of the current process
type LocalWorld struct {
	comms     []piotest.Comm
	mailboxes []*Mailbox
}

// NewLocalWorld creates a world of size in-process ranks
func NewLocalWorld(size int) *LocalWorld {
	w := &LocalWorld{
		comms:     make([]piotest.Comm, size),
		mailboxes: make([]*Mailbox, size),
	}
	for i := range w.mailboxes {
		w.mailboxes[i] = NewMailbox()
	}
	transport := &localTransport{mailboxes: w.mailboxes}
	for i := range w.comms {
		w.comms[i] = NewWorldComm(i, size, transport, w.mailboxes[i])
	}
	return w
}

// Size returns the number of ranks in this world
func (w *LocalWorld) Size() int {
	return len(w.comms)
}

// Comm returns the world communicator as seen by rank
func (w *LocalWorld) Comm(rank int) piotest.Comm {
	return w.comms[rank]
}

// Pending returns the number of delivered but unreceived messages across all ranks
func (w *LocalWorld) Pending() int {
	total := 0
	for _, m := range w.mailboxes {
		total += m.Len()
	}
	return total
}

// Close releases every rank blocked in a receive
func (w *LocalWorld) Close() {
	for _, m := range w.mailboxes {
		m.Close()
	}
}

// Run executes fn once per rank, each in its own goroutine, and waits for all of them.
// The first error cancels the context passed to the other ranks and is returned.
func (w *LocalWorld) Run(ctx context.Context, fn func(ctx context.Context, c piotest.Comm) error) error {
	g, gctx := errgroup.WithContext(ctx)
	for i := range w.comms {
		c := w.comms[i]
		g.Go(func() error {
			return fn(gctx, c)
		})
	}
	return g.Wait()
}
