package infra

import (
	"context"
	"testing"
	"time"

	"github.com/jonboulle/clockwork"
	"github.com/stretchr/testify/require"
)

func TestGate_SpacesCallsByInterval(t *testing.T) {
	clock := clockwork.NewFakeClock()
	g := NewGate(time.Second, WithGateClock(clock))

	release, err := g.Acquire(context.Background())
	require.NoError(t, err)
	release()

	got := make(chan error, 1)
	go func() {
		rel, err := g.Acquire(context.Background())
		if err == nil {
			rel()
		}
		got <- err
	}()

	ctx, cancel := context.WithTimeout(context.Background(), time.Second)
	defer cancel()
	require.NoError(t, clock.BlockUntilContext(ctx, 1))
	select {
	case <-got:
		t.Fatal("second acquire must wait for the interval")
	default:
	}

	clock.Advance(time.Second)
	select {
	case err := <-got:
		require.NoError(t, err)
	case <-time.After(time.Second):
		t.Fatal("second acquire did not complete after the interval")
	}
}

func TestGate_SingleSlot(t *testing.T) {
	g := NewGate(0)

	release, err := g.Acquire(context.Background())
	require.NoError(t, err)

	ctx, cancel := context.WithTimeout(context.Background(), 20*time.Millisecond)
	defer cancel()
	_, err = g.Acquire(ctx)
	require.ErrorIs(t, err, context.DeadlineExceeded)

	release()
	release2, err := g.Acquire(context.Background())
	require.NoError(t, err)
	release2()
}

func TestGate_CancelWhileWaitingReturnsToken(t *testing.T) {
	clock := clockwork.NewFakeClock()
	g := NewGate(time.Second, WithGateClock(clock))

	release, err := g.Acquire(context.Background())
	require.NoError(t, err)
	release()

	ctx, cancel := context.WithCancel(context.Background())
	got := make(chan error, 1)
	go func() {
		_, err := g.Acquire(ctx)
		got <- err
	}()
	bctx, bcancel := context.WithTimeout(context.Background(), time.Second)
	defer bcancel()
	require.NoError(t, clock.BlockUntilContext(bctx, 1))
	cancel()
	require.ErrorIs(t, <-got, context.Canceled)

	// o slot foi devolvido: uma nova espera volta a depender só do intervalo
	clock.Advance(time.Second)
	release, err = g.Acquire(context.Background())
	require.NoError(t, err)
	release()
}
