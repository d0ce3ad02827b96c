package proxy

import (
	"context"
	"errors"
	"io"
	"net"
	"sync"

	"golang.org/x/sync/errgroup"
)

// RelayStats counts the bytes a Relay moved in each direction.
type RelayStats struct {
	ClientToTarget int64
	TargetToClient int64
}

// Relay copies bytes between client and target until either direction hits
// EOF or an error, or ctx is canceled. It then closes both connections and
// returns once both copies have stopped.
//
// Half-close is not propagated: a peer that shuts down its write side ends
// the whole tunnel, and any reply still in flight from the other side is
// dropped.
//
// Errors caused by Relay closing the connections itself are not reported.
func Relay(ctx context.Context, client, target net.Conn) (RelayStats, error) {
	var closeOnce sync.Once
	closeBoth := func() {
		closeOnce.Do(func() {
			_ = client.Close()
			_ = target.Close()
		})
	}
	defer closeBoth()

	stop := context.AfterFunc(ctx, closeBoth)
	defer stop()

	var stats RelayStats
	var g errgroup.Group

	g.Go(func() error {
		defer closeBoth()
		n, err := io.Copy(target, client)
		stats.ClientToTarget = n
		return relayErr(err)
	})

	g.Go(func() error {
		defer closeBoth()
		n, err := io.Copy(client, target)
		stats.TargetToClient = n
		return relayErr(err)
	})

	return stats, g.Wait()
}

func relayErr(err error) error {
	if err == nil || errors.Is(err, net.ErrClosed) || errors.Is(err, io.ErrClosedPipe) {
		return nil
	}
	return err
}
