package issuance

import (
	"context"
	"fmt"
	"runtime"
	"sync"

	"github.com/rs/zerolog/log"
	"golang.org/x/sync/errgroup"
)

type batchItem struct {
	bundle  *IssueBundle[Signed]
	sighash [32]byte
}

// BatchValidator validates signed issue bundles in parallel. Each bundle is checked
// on its own against the same global state, so bundles that only conflict with
// each other all pass; ordering them is the ledger's job.
type BatchValidator struct {
	lookup AssetLookup
	mu     sync.Mutex
	items  []batchItem
}

// NewBatchValidator returns an empty validator reading asset state from lookup.
// A nil lookup stands for an empty global state.
func NewBatchValidator(lookup AssetLookup) *BatchValidator {
	if lookup == nil {
		lookup = NoAssets
	}
	return &BatchValidator{lookup: lookup}
}

// Add queues a bundle for validation against the sighash of its transaction.
func (v *BatchValidator) Add(b *IssueBundle[Signed], sighash [32]byte) {
	v.mu.Lock()
	defer v.mu.Unlock()
	v.items = append(v.items, batchItem{bundle: b, sighash: sighash})
}

// Validate reports whether every queued bundle is valid.
func (v *BatchValidator) Validate(ctx context.Context) bool {
	items := v.snapshot()
	g, ctx := errgroup.WithContext(ctx)
	g.SetLimit(runtime.GOMAXPROCS(0))
	for i := range items {
		g.Go(func() error {
			if err := ctx.Err(); err != nil {
				return err
			}
			_, err := VerifyIssueBundle(items[i].bundle, items[i].sighash, v.lookup)
			return err
		})
	}
	err := g.Wait()
	if err != nil {
		log.Debug().Err(err).Int("bundles", len(items)).Msg("issue batch rejected")
	}
	return err == nil
}

// ValidateAll returns one error slot per queued bundle, nil for the valid ones.
func (v *BatchValidator) ValidateAll(ctx context.Context) []error {
	items := v.snapshot()
	errs := make([]error, len(items))
	var g errgroup.Group
	g.SetLimit(runtime.GOMAXPROCS(0))
	for i := range items {
		g.Go(func() error {
			if err := ctx.Err(); err != nil {
				errs[i] = err
				return nil
			}
			if _, err := VerifyIssueBundle(items[i].bundle, items[i].sighash, v.lookup); err != nil {
				errs[i] = fmt.Errorf("issue bundle %d: %w", i, err)
			}
			return nil
		})
	}
	_ = g.Wait()
	return errs
}

func (v *BatchValidator) snapshot() []batchItem {
	v.mu.Lock()
	defer v.mu.Unlock()
	return append([]batchItem(nil), v.items...)
}
