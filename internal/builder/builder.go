// Package builder assembles unauthorized bundles from spends, outputs and burns.
//
// Spends and outputs are grouped by asset, padded with dummy and split notes so
// every action pairs one spend with one output of the same asset, shuffled within
// their group and paired into actions. The result has no proof and no signatures;
// those are added through the phases of package bundle.
package builder

import (
	"errors"
	"fmt"
	"io"

	"zsapool/internal/asset"
	"zsapool/internal/bundle"
	"zsapool/internal/keys"
	"zsapool/internal/note"
	"zsapool/internal/noteenc"
	"zsapool/internal/tree"
	"zsapool/internal/value"
)

// MinActions is the smallest number of actions in a transactional bundle.
const MinActions = 2

var (
	ErrSpendsDisabled  = errors.New("builder: spends are disabled for this bundle type")
	ErrOutputsDisabled = errors.New("builder: outputs are disabled for this bundle type")
	ErrAnchorMismatch  = errors.New("builder: merkle path root does not match the bundle anchor")
	ErrFvkMismatch     = errors.New("builder: full viewing key does not control the note")
	ErrZSADisabled     = errors.New("builder: custom assets are disabled for this bundle type")
	ErrValueSum        = errors.New("builder: value sum overflow")
	ErrAssetImbalance  = errors.New("builder: custom asset spends, outputs and burns do not balance")
)

// BundleType selects the flags of the bundle and how many actions it needs.
type BundleType struct {
	flags          bundle.Flags
	bundleRequired bool
	coinbase       bool
}

var (
	// DefaultVanilla enables spends and outputs of the native asset.
	DefaultVanilla = Transactional(bundle.EnabledWithoutZSA, false)
	// DefaultZSA also enables custom assets.
	DefaultZSA = Transactional(bundle.EnabledWithZSA, false)
	// Disabled permits no spends and no outputs.
	Disabled = Transactional(bundle.NewFlags(false, false, false), false)
	// Coinbase bundles create outputs only.
	Coinbase = BundleType{flags: bundle.SpendsDisabled, coinbase: true}
)

// Transactional returns a bundle type padded to MinActions. With bundleRequired a
// bundle is produced even without spends or outputs.
func Transactional(flags bundle.Flags, bundleRequired bool) BundleType {
	return BundleType{flags: flags, bundleRequired: bundleRequired}
}

// Flags returns the bundle flags.
func (t BundleType) Flags() bundle.Flags { return t.flags }

// IsCoinbase reports whether t is the coinbase type.
func (t BundleType) IsCoinbase() bool { return t.coinbase }

// NumActions returns how many actions a bundle of this type has for the given
// number of requested spends and outputs.
func (t BundleType) NumActions(numSpends, numOutputs int) (int, error) {
	requested := max(numSpends, numOutputs)
	if t.coinbase {
		if numSpends > 0 {
			return 0, ErrSpendsDisabled
		}
		return numOutputs, nil
	}
	if !t.flags.SpendsEnabled() && numSpends > 0 {
		return 0, ErrSpendsDisabled
	}
	if !t.flags.OutputsEnabled() && numOutputs > 0 {
		return 0, ErrOutputsDisabled
	}
	if t.bundleRequired || requested > 0 {
		return max(requested, MinActions), nil
	}
	return 0, nil
}

// Builder accumulates the contents of a bundle.
type Builder struct {
	spends     []SpendInfo
	outputs    []OutputInfo
	burn       []bundle.BurnItem
	bundleType BundleType
	anchor     tree.Anchor
}

// New returns an empty builder for bundles of type t spending from anchor.
func New(t BundleType, anchor tree.Anchor) *Builder {
	return &Builder{bundleType: t, anchor: anchor}
}

// AddSpend adds a note to spend. path must lead to the builder's anchor unless the
// note has zero value.
func (b *Builder) AddSpend(fvk keys.FullViewingKey, n note.Note, path tree.MerklePath) error {
	flags := b.bundleType.flags
	if !flags.SpendsEnabled() {
		return ErrSpendsDisabled
	}
	if !flags.ZSAEnabled() && !n.Asset().IsNative() {
		return ErrZSADisabled
	}
	spend, err := NewSpendInfo(fvk, n, path)
	if err != nil {
		return err
	}
	if !spend.hasMatchingAnchor(b.anchor) {
		return ErrAnchorMismatch
	}
	b.spends = append(b.spends, spend)
	return nil
}

// AddOutput adds a note to create. A nil ovk makes the output unrecoverable by the
// sender, a nil memo sends the empty memo.
func (b *Builder) AddOutput(ovk *keys.OutgoingViewingKey, recipient keys.Address, v value.NoteValue, a asset.Base, memo *noteenc.Memo) error {
	flags := b.bundleType.flags
	if !flags.OutputsEnabled() {
		return ErrOutputsDisabled
	}
	if !flags.ZSAEnabled() && !a.IsNative() {
		return ErrZSADisabled
	}
	b.outputs = append(b.outputs, NewOutputInfo(ovk, recipient, v, a, memo))
	return nil
}

// AddBurn burns v units of a custom asset. Burns of the same asset accumulate.
func (b *Builder) AddBurn(a asset.Base, v value.NoteValue) error {
	if a.IsNative() {
		return bundle.ErrBurnNativeAsset
	}
	if v == value.Zero {
		return bundle.ErrBurnNonPositiveAmount
	}
	for i := range b.burn {
		if b.burn[i].Asset.Equal(a) {
			sum, ok := b.burn[i].Amount.Add(v)
			if !ok {
				return fmt.Errorf("%w: burn of %s", ErrValueSum, a)
			}
			b.burn[i].Amount = sum
			return nil
		}
	}
	b.burn = append(b.burn, bundle.BurnItem{Asset: a, Amount: v})
	return nil
}

func (b *Builder) Spends() []SpendInfo   { return b.spends }
func (b *Builder) Outputs() []OutputInfo { return b.outputs }

// ValueBalance is the value of all spends minus the value of all outputs, over
// every asset.
func (b *Builder) ValueBalance() (value.ValueSum, error) {
	var total value.ValueSum
	add := func(v value.NoteValue, neg bool) error {
		s, err := v.Sum()
		if err != nil {
			return err
		}
		if neg {
			total, err = total.Sub(s)
		} else {
			total, err = total.Add(s)
		}
		return err
	}
	for _, s := range b.spends {
		if err := add(s.note.Value(), false); err != nil {
			return 0, fmt.Errorf("%w: %v", ErrValueSum, err)
		}
	}
	for _, o := range b.outputs {
		if err := add(o.value, true); err != nil {
			return 0, fmt.Errorf("%w: %v", ErrValueSum, err)
		}
	}
	return total, nil
}

// Build pads, shuffles and builds the bundle.
func (b *Builder) Build(rng io.Reader) (*bundle.UnprovenBundle, *BundleMetadata, error) {
	return Bundle(rng, b.anchor, b.bundleType, b.spends, b.outputs, b.burn)
}
