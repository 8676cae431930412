package bundle

import (
	"context"
	"fmt"
	"runtime"
	"sync"

	"github.com/rs/zerolog/log"
	"golang.org/x/sync/errgroup"

	"zsapool/internal/circuit"
)

type batchItem struct {
	bundle  *AuthorizedBundle
	sighash [32]byte
}

// BatchValidator collects authorized bundles and validates their proofs and
// signatures together.
type BatchValidator struct {
	vk    *circuit.VerifyingKey
	mu    sync.Mutex
	items []batchItem
}

// NewBatchValidator returns an empty validator for proofs under vk. A nil vk
// checks signatures only.
func NewBatchValidator(vk *circuit.VerifyingKey) *BatchValidator {
	return &BatchValidator{vk: vk}
}

// Add queues a bundle for validation against the sighash of its transaction.
func (v *BatchValidator) Add(b *AuthorizedBundle, sighash [32]byte) {
	v.mu.Lock()
	defer v.mu.Unlock()
	v.items = append(v.items, batchItem{bundle: b, sighash: sighash})
}

// Len returns the number of queued bundles.
func (v *BatchValidator) Len() int {
	v.mu.Lock()
	defer v.mu.Unlock()
	return len(v.items)
}

// Validate reports whether every queued bundle is valid. It stops at the first
// failure. An empty batch is valid.
func (v *BatchValidator) Validate(ctx context.Context) bool {
	items := v.snapshot()
	g, ctx := errgroup.WithContext(ctx)
	g.SetLimit(runtime.GOMAXPROCS(0))
	for i := range items {
		g.Go(func() error {
			if err := ctx.Err(); err != nil {
				return err
			}
			return v.check(items[i])
		})
	}
	err := g.Wait()
	if err != nil {
		log.Debug().Err(err).Int("bundles", len(items)).Msg("bundle batch rejected")
	}
	return err == nil
}

// ValidateAll validates every queued bundle and returns one error slot per bundle,
// nil for the valid ones.
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
			if err := v.check(items[i]); err != nil {
				errs[i] = fmt.Errorf("bundle %d: %w", i, err)
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

func (v *BatchValidator) check(it batchItem) error {
	if err := VerifySignatures(it.bundle, it.sighash); err != nil {
		return err
	}
	if v.vk == nil {
		return nil
	}
	return VerifyProof(it.bundle, v.vk)
}
