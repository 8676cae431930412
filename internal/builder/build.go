// build.go - Padding, shuffling and assembly of an unauthorized bundle.

package builder

import (
	"fmt"
	"io"
	mrand "math/rand/v2"

	"github.com/rs/zerolog/log"

	"zsapool/internal/asset"
	"zsapool/internal/bundle"
	"zsapool/internal/circuit"
	"zsapool/internal/noteenc"
	"zsapool/internal/reddsa"
	"zsapool/internal/tree"
	"zsapool/internal/value"
)

// BundleMetadata maps requested spends and outputs to the action that carries them
// after padding and shuffling.
type BundleMetadata struct {
	spendIndices  []int
	outputIndices []int
}

// EmptyMetadata describes a bundle that holds only padding.
func EmptyMetadata() *BundleMetadata { return &BundleMetadata{} }

// SpendActionIndex returns the action index of the n-th requested spend.
func (m *BundleMetadata) SpendActionIndex(n int) (int, bool) {
	if n < 0 || n >= len(m.spendIndices) {
		return 0, false
	}
	return m.spendIndices[n], true
}

// OutputActionIndex returns the action index of the n-th requested output.
func (m *BundleMetadata) OutputActionIndex(n int) (int, bool) {
	if n < 0 || n >= len(m.outputIndices) {
		return 0, false
	}
	return m.outputIndices[n], true
}

// indexed tags a candidate with its request index, -1 for padding.
type indexed[T any] struct {
	v   T
	idx int
}

type partition struct {
	asset   asset.Base
	spends  []indexed[SpendInfo]
	outputs []indexed[OutputInfo]
}

// partitionByAsset groups spends and outputs by asset in order of first appearance,
// spends before outputs. Without any spend or output it returns a single native
// partition holding one dummy spend.
func partitionByAsset(spends []SpendInfo, outputs []OutputInfo, rng io.Reader) ([]*partition, error) {
	var parts []*partition
	find := func(a asset.Base) *partition {
		for _, p := range parts {
			if p.asset.Equal(a) {
				return p
			}
		}
		p := &partition{asset: a}
		parts = append(parts, p)
		return p
	}
	for i, s := range spends {
		p := find(s.note.Asset())
		p.spends = append(p.spends, indexed[SpendInfo]{s, i})
	}
	for i, o := range outputs {
		p := find(o.asset)
		p.outputs = append(p.outputs, indexed[OutputInfo]{o, i})
	}
	if len(parts) == 0 {
		dummy, err := DummySpend(asset.Native(), rng)
		if err != nil {
			return nil, err
		}
		parts = append(parts, &partition{asset: asset.Native(), spends: []indexed[SpendInfo]{{dummy, -1}}})
	}
	return parts, nil
}

// padSpend returns a dummy spend for the native asset or when no real spend of the
// asset exists, and a split of first otherwise.
func padSpend(first *SpendInfo, a asset.Base, rng io.Reader) (SpendInfo, error) {
	if a.IsNative() || first == nil {
		return DummySpend(a, rng)
	}
	return first.splitSpend(rng)
}

// pad fills p up to n spends and n outputs.
func (p *partition) pad(n int, rng io.Reader) error {
	var first *SpendInfo
	if len(p.spends) > 0 {
		first = &p.spends[0].v
	}
	for len(p.spends) < n {
		s, err := padSpend(first, p.asset, rng)
		if err != nil {
			return err
		}
		p.spends = append(p.spends, indexed[SpendInfo]{s, -1})
	}
	for len(p.outputs) < n {
		o, err := DummyOutput(rng, p.asset)
		if err != nil {
			return err
		}
		p.outputs = append(p.outputs, indexed[OutputInfo]{o, -1})
	}
	return nil
}

// newShuffler seeds a ChaCha8 generator from rng so permutations stay reproducible
// under a deterministic rng.
func newShuffler(rng io.Reader) (*mrand.Rand, error) {
	var seed [32]byte
	if _, err := io.ReadFull(rng, seed[:]); err != nil {
		return nil, fmt.Errorf("sample shuffle seed: %w", err)
	}
	return mrand.New(mrand.NewChaCha8(seed)), nil
}

func shuffle[T any](r *mrand.Rand, xs []T) {
	r.Shuffle(len(xs), func(i, j int) { xs[i], xs[j] = xs[j], xs[i] })
}

// Bundle builds an unauthorized bundle of type t from the given candidates.
func Bundle(rng io.Reader, anchor tree.Anchor, t BundleType, spends []SpendInfo, outputs []OutputInfo, burn []bundle.BurnItem) (*bundle.UnprovenBundle, *BundleMetadata, error) {
	flags := t.flags
	if !flags.SpendsEnabled() && len(spends) > 0 {
		return nil, nil, ErrSpendsDisabled
	}
	for _, s := range spends {
		if !s.hasMatchingAnchor(anchor) {
			return nil, nil, ErrAnchorMismatch
		}
	}
	if !flags.OutputsEnabled() && len(outputs) > 0 {
		return nil, nil, ErrOutputsDisabled
	}
	if !flags.ZSAEnabled() {
		for _, s := range spends {
			if !s.note.Asset().IsNative() {
				return nil, nil, ErrZSADisabled
			}
		}
		for _, o := range outputs {
			if !o.asset.IsNative() {
				return nil, nil, ErrZSADisabled
			}
		}
		if len(burn) > 0 {
			return nil, nil, ErrZSADisabled
		}
	}
	if err := bundle.ValidateBundleBurn(burn); err != nil {
		return nil, nil, err
	}

	parts, err := partitionByAsset(spends, outputs, rng)
	if err != nil {
		return nil, nil, err
	}
	shuffler, err := newShuffler(rng)
	if err != nil {
		return nil, nil, err
	}

	meta := &BundleMetadata{
		spendIndices:  make([]int, len(spends)),
		outputIndices: make([]int, len(outputs)),
	}
	var pre []actionInfo
	for i, p := range parts {
		n := max(len(p.spends), len(p.outputs))
		if i == 0 && n < MinActions {
			n = MinActions
		}
		log.Debug().
			Str("asset", p.asset.String()).
			Int("spends", len(p.spends)).
			Int("outputs", len(p.outputs)).
			Int("actions", n).
			Msg("padding asset partition")
		if err := p.pad(n, rng); err != nil {
			return nil, nil, err
		}
		shuffle(shuffler, p.spends)
		shuffle(shuffler, p.outputs)

		for j := range n {
			s, o := p.spends[j], p.outputs[j]
			if s.idx >= 0 {
				meta.spendIndices[s.idx] = len(pre)
			}
			if o.idx >= 0 {
				meta.outputIndices[o.idx] = len(pre)
			}
			rcv, err := value.RandomTrapdoor(rng)
			if err != nil {
				return nil, nil, err
			}
			pre = append(pre, actionInfo{spend: s.v, output: o.v, rcv: rcv})
		}
	}

	var (
		balance value.ValueSum
		rcvs    = make([]value.Trapdoor, len(pre))
	)
	for i, a := range pre {
		rcvs[i] = a.rcv
		if !a.spend.note.Asset().IsNative() {
			continue
		}
		v, err := a.valueSum()
		if err != nil {
			return nil, nil, fmt.Errorf("%w: %v", ErrValueSum, err)
		}
		if balance, err = balance.Add(v); err != nil {
			return nil, nil, fmt.Errorf("%w: %v", ErrValueSum, err)
		}
	}
	if err := checkAssetBalance(pre, burn); err != nil {
		return nil, nil, err
	}
	bsk, err := value.SumTrapdoors(rcvs).IntoBindingSigningKey()
	if err != nil {
		return nil, nil, err
	}

	domain := noteenc.ForFlags(flags.ZSAEnabled())
	actions := make([]bundle.Action[bundle.SigningMetadata], len(pre))
	circuits := make([]circuit.Circuit, len(pre))
	for i, a := range pre {
		if actions[i], circuits[i], err = a.build(domain, rng); err != nil {
			return nil, nil, fmt.Errorf("action %d: %w", i, err)
		}
	}

	b, err := bundle.FromParts(actions, flags, balance, append([]bundle.BurnItem(nil), burn...), anchor,
		bundle.NewInProgress(bundle.NewUnproven(circuits), bundle.NewUnauthorized(bsk)))
	if err != nil {
		return nil, nil, err
	}
	checkBindingKey(b, bsk)

	log.Debug().
		Int("actions", len(actions)).
		Int("partitions", len(parts)).
		Int64("value_balance", int64(balance)).
		Msg("bundle built")
	return b, meta, nil
}

// checkAssetBalance requires the net value of every custom asset to equal its burn.
func checkAssetBalance(pre []actionInfo, burn []bundle.BurnItem) error {
	net := make(map[[32]byte]value.ValueSum)
	for _, a := range pre {
		if a.output.asset.IsNative() {
			continue
		}
		v, err := a.valueSum()
		if err != nil {
			return fmt.Errorf("%w: %v", ErrValueSum, err)
		}
		key := a.output.asset.Bytes()
		if net[key], err = net[key].Add(v); err != nil {
			return fmt.Errorf("%w: %v", ErrValueSum, err)
		}
	}
	for _, item := range burn {
		amount, err := item.Amount.Sum()
		if err != nil {
			return fmt.Errorf("%w: %v", ErrValueSum, err)
		}
		key := item.Asset.Bytes()
		if net[key], err = net[key].Sub(amount); err != nil {
			return fmt.Errorf("%w: %v", ErrValueSum, err)
		}
	}
	for key, v := range net {
		if v != 0 {
			a, _ := asset.FromBytes(key[:])
			return fmt.Errorf("%w: %s is off by %d", ErrAssetImbalance, a, v)
		}
	}
	return nil
}

// checkBindingKey panics when the binding key derived from the public data of b
// differs from the one derived from its trapdoors. That can only happen through a
// bug in commitment arithmetic or a broken rng.
func checkBindingKey(b *bundle.UnprovenBundle, bsk reddsa.SigningKey) {
	bvk, err := b.BindingValidatingKey()
	if err != nil {
		panic(fmt.Sprintf("builder: binding validating key: %v", err))
	}
	if !bsk.VerificationKey().Equal(bvk) {
		panic("builder: binding signing key does not match the bundle's binding validating key")
	}
}
