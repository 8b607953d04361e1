package consensus

import (
	"context"
	"fmt"
	"sync/atomic"

	"github.com/btcsuite/btcd/wire"
	"golang.org/x/sync/errgroup"

	"rubin.dev/ctv/crypto"
)

// ScriptCheck is one transaction's worth of script verification.
type ScriptCheck struct {
	Tx       *wire.MsgTx
	PrevOuts []*wire.TxOut
}

// CheckQueue verifies script checks on a bounded number of goroutines. Each
// job builds its own TxContext, so no template cache crosses goroutines.
type CheckQueue struct {
	p       crypto.Provider
	workers int
}

func NewCheckQueue(p crypto.Provider, workers int) *CheckQueue {
	if p == nil {
		p = crypto.StdProvider{}
	}
	if workers < 1 {
		workers = 1
	}
	return &CheckQueue{p: p, workers: workers}
}

func (q *CheckQueue) Workers() int { return q.workers }

// Verify runs every check under flags and reports the failure of the lowest
// failing index. Once a check fails, checks with a higher index that have not
// started are skipped.
func (q *CheckQueue) Verify(ctx context.Context, checks []ScriptCheck, flags ScriptFlags) error {
	g, gctx := errgroup.WithContext(ctx)
	g.SetLimit(q.workers)

	errs := make([]error, len(checks))
	var lowest atomic.Int64
	lowest.Store(int64(len(checks)))

	for i := range checks {
		g.Go(func() error {
			if err := gctx.Err(); err != nil {
				return err
			}
			if int64(i) > lowest.Load() {
				return nil
			}
			c := checks[i]
			tc := NewTxContext(q.p, c.Tx, c.PrevOuts)
			for in := range c.Tx.TxIn {
				err := VerifyInputScript(tc, uint32(in), flags) // #nosec G115 -- input count is bounded by block size.
				if err == nil {
					continue
				}
				errs[i] = fmt.Errorf("tx %s input %d: %w", c.Tx.TxHash(), in, err)
				for {
					cur := lowest.Load()
					if int64(i) >= cur || lowest.CompareAndSwap(cur, int64(i)) {
						break
					}
				}
				return nil
			}
			return nil
		})
	}
	if err := g.Wait(); err != nil {
		return err
	}
	for _, err := range errs {
		if err != nil {
			return err
		}
	}
	return nil
}
