package bundle

import "fmt"

const (
	flagSpendsEnabled  = 0b0000_0001
	flagOutputsEnabled = 0b0000_0010
	flagZSAEnabled     = 0b0000_0100
	flagsExpectedUnset = ^byte(flagSpendsEnabled | flagOutputsEnabled | flagZSAEnabled)
)

// Flags control which parts of the actions of a bundle are active.
type Flags struct {
	spends  bool
	outputs bool
	zsa     bool
}

var (
	// EnabledWithZSA enables spends, outputs and custom assets.
	EnabledWithZSA = NewFlags(true, true, true)
	// EnabledWithoutZSA enables spends and outputs of the native asset only.
	EnabledWithoutZSA = NewFlags(true, true, false)
	// SpendsDisabled is used by coinbase bundles.
	SpendsDisabled = NewFlags(false, true, false)
	// OutputsDisabled permits spends only.
	OutputsDisabled = NewFlags(true, false, false)
)

// NewFlags builds a flag set.
func NewFlags(spends, outputs, zsa bool) Flags {
	return Flags{spends: spends, outputs: outputs, zsa: zsa}
}

// FlagsFromByte parses the wire byte. Reserved bits must be zero.
func FlagsFromByte(b byte) (Flags, bool) {
	if b&flagsExpectedUnset != 0 {
		return Flags{}, false
	}
	return NewFlags(b&flagSpendsEnabled != 0, b&flagOutputsEnabled != 0, b&flagZSAEnabled != 0), true
}

// Byte encodes the flags.
func (f Flags) Byte() byte {
	var b byte
	if f.spends {
		b |= flagSpendsEnabled
	}
	if f.outputs {
		b |= flagOutputsEnabled
	}
	if f.zsa {
		b |= flagZSAEnabled
	}
	return b
}

// SpendsEnabled reports whether actions may spend non-zero notes.
func (f Flags) SpendsEnabled() bool { return f.spends }

// OutputsEnabled reports whether actions may create non-zero notes.
func (f Flags) OutputsEnabled() bool { return f.outputs }

// ZSAEnabled reports whether actions may carry custom assets.
func (f Flags) ZSAEnabled() bool { return f.zsa }

func (f Flags) String() string {
	return fmt.Sprintf("spends=%t outputs=%t zsa=%t", f.spends, f.outputs, f.zsa)
}
