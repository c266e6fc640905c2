package util

import (
	"context"
	"fmt"

	"github.com/go-sif/piotest"
)

// RankFunc is the body of one rank of a world
type RankFunc func(ctx context.Context, c piotest.Comm) error

// SafeRankFunc wraps a RankFunc such that panics are recovered and nice error messages are constructed
func SafeRankFunc(fn RankFunc) RankFunc {
	return func(ctx context.Context, c piotest.Comm) (err error) {
		defer func() {
			if r := recover(); r != nil {
				if anErr, ok := r.(error); ok {
					err = fmt.Errorf("Rank %d panic: %w\n%s", c.Rank(), anErr, GetTrace())
				} else {
					err = fmt.Errorf("Rank %d panic: %v\n%s", c.Rank(), r, GetTrace())
				}
			}
		}()
		return fn(ctx, c)
	}
}
