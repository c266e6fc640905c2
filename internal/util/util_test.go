package util

import (
	"context"
	"fmt"
	"strings"
	"sync"
	"testing"

	"github.com/go-sif/piotest"
	"github.com/go-sif/piotest/comm"
	multierror "github.com/hashicorp/go-multierror"
	"github.com/stretchr/testify/require"
	"go.uber.org/goleak"
)

func TestWaitAndFetchError(t *testing.T) {
	defer goleak.VerifyNone(t)
	var wg sync.WaitGroup
	errors := CreateAsyncErrorChannel()
	for i := 0; i < 5; i++ {
		wg.Add(1)
		go func(i int) {
			defer wg.Done()
			if i%2 == 1 {
				errors <- fmt.Errorf("worker %d failed", i)
			}
		}(i)
	}
	err := WaitAndFetchError(&wg, errors)
	require.NotNil(t, err)
	require.Contains(t, err.Error(), "failed")

	var none sync.WaitGroup
	require.Nil(t, WaitAndFetchError(&none, CreateAsyncErrorChannel()))
}

func TestSafeRankFunc(t *testing.T) {
	world := comm.NewLocalWorld(2)
	defer world.Close()
	err := world.Run(context.Background(), SafeRankFunc(func(ctx context.Context, c piotest.Comm) error {
		if c.Rank() == 1 {
			panic("boom")
		}
		return nil
	}))
	require.NotNil(t, err)
	require.True(t, strings.HasPrefix(err.Error(), "Rank 1 panic: boom"))
}

func TestFormatMultiError(t *testing.T) {
	require.Equal(t, "", FormatMultiError(nil))
	err := multierror.Append(fmt.Errorf("first"), fmt.Errorf("second"))
	require.Equal(t, "first\nsecond\n", FormatMultiError(err))
	require.Equal(t, "only\n", FormatMultiError(fmt.Errorf("only")))
}
