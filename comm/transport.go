package comm

import "context"

// Transport moves envelopes between the ranks of a world, identified by world rank.
// Deliveries from one sender to one destination must arrive in the order they were made.
type Transport interface {
	Deliver(ctx context.Context, dest int, env *Envelope) error
}
