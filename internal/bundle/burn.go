package bundle

import (
	"errors"
	"fmt"

	"zsapool/internal/asset"
	"zsapool/internal/value"
)

var (
	// ErrBurnDuplicateAsset is returned when an asset appears twice in a burn list.
	ErrBurnDuplicateAsset = errors.New("bundle: duplicate asset in burn list")
	// ErrBurnNativeAsset is returned when the native asset is burned.
	ErrBurnNativeAsset = errors.New("bundle: cannot burn the native asset")
	// ErrBurnNonPositiveAmount is returned for a zero burn amount.
	ErrBurnNonPositiveAmount = errors.New("bundle: burn amount must be positive")
)

var nativeAsset = asset.Native()

// BurnItem removes Amount units of Asset from circulation.
type BurnItem struct {
	Asset  asset.Base
	Amount value.NoteValue
}

// ValidateBundleBurn checks that every burned asset is a custom asset, appears once
// and has a positive amount.
func ValidateBundleBurn(burn []BurnItem) error {
	seen := make(map[[32]byte]struct{}, len(burn))
	for _, item := range burn {
		if item.Asset.IsNative() {
			return ErrBurnNativeAsset
		}
		if item.Amount == 0 {
			return fmt.Errorf("%w: %s", ErrBurnNonPositiveAmount, item.Asset)
		}
		key := item.Asset.Bytes()
		if _, dup := seen[key]; dup {
			return fmt.Errorf("%w: %s", ErrBurnDuplicateAsset, item.Asset)
		}
		seen[key] = struct{}{}
	}
	return nil
}
