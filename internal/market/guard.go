package market

import (
	"context"
	"errors"
	"fmt"
	"time"

	"github.com/alanyoungcy/nftmarket/internal/domain"
)

type heldKey struct{}

// heldAssets returns the assets locked further up the current call chain.
func heldAssets(ctx context.Context) map[domain.AssetID]struct{} {
	held, _ := ctx.Value(heldKey{}).(map[domain.AssetID]struct{})
	return held
}

// guard serializes mutating operations per asset and rejects re-entry. A call
// that re-enters the marketplace for an asset it is already operating on,
// e.g. from inside a refund or transfer callback, fails with a StateError
// before any precondition is read.
type guard struct {
	locks domain.LockManager
	ttl   time.Duration
	wait  time.Duration
	retry time.Duration
}

func lockKey(id domain.AssetID) string {
	return "market:asset:" + id.String()
}

// enter acquires the asset's lock. The returned context carries the
// re-entry marker and must be passed to every outbound effect.
func (g *guard) enter(ctx context.Context, op string, id domain.AssetID) (context.Context, func(), error) {
	held := heldAssets(ctx)
	if _, ok := held[id]; ok {
		return nil, nil, domain.Reject(op, domain.ErrState, "reentrant call on asset %s", id)
	}

	deadline := time.Now().Add(g.wait)
	for {
		unlock, err := g.locks.Acquire(ctx, lockKey(id), g.ttl)
		if err == nil {
			next := make(map[domain.AssetID]struct{}, len(held)+1)
			for k := range held {
				next[k] = struct{}{}
			}
			next[id] = struct{}{}
			return context.WithValue(ctx, heldKey{}, next), unlock, nil
		}
		if !errors.Is(err, domain.ErrLockHeld) {
			return nil, nil, fmt.Errorf("market: %s: lock asset %s: %w", op, id, err)
		}
		if !time.Now().Before(deadline) {
			return nil, nil, domain.Reject(op, domain.ErrState, "asset %s is busy", id)
		}

		timer := time.NewTimer(g.retry)
		select {
		case <-ctx.Done():
			timer.Stop()
			return nil, nil, fmt.Errorf("market: %s: lock asset %s: %w", op, id, ctx.Err())
		case <-timer.C:
		}
	}
}
