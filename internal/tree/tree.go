// Package tree provides the Merkle witness boundary of the pool: anchors, fixed
// depth authentication paths, and an in-memory note commitment tree used by tests
// and the demo. The tree is never persisted.
package tree

import (
	"errors"
	"fmt"
	"io"

	"github.com/consensys/gnark-crypto/ecc/bls12-377/fr"

	"zsapool/internal/note"
	"zsapool/internal/primitives"
)

// Depth is the height of the note commitment tree.
const Depth = 32

var (
	// ErrTreeFull is returned when appending past 2^Depth leaves.
	ErrTreeFull = errors.New("tree: full")
	// ErrUnknownPosition is returned for witnesses of leaves not in the tree.
	ErrUnknownPosition = errors.New("tree: unknown position")

	// UncommittedLeaf fills empty leaf slots.
	UncommittedLeaf = primitives.BaseFromUint64(2)

	emptyRoots = func() [Depth + 1]fr.Element {
		var roots [Depth + 1]fr.Element
		roots[0] = UncommittedLeaf
		for i := 1; i <= Depth; i++ {
			roots[i] = Combine(roots[i-1], roots[i-1])
		}
		return roots
	}()
)

// Combine hashes two sibling nodes.
func Combine(left, right fr.Element) fr.Element {
	return primitives.MiMC(left, right)
}

// Anchor is a tree root that spends are proven against.
type Anchor struct {
	e fr.Element
}

// EmptyAnchor is the root of the empty tree.
func EmptyAnchor() Anchor { return Anchor{e: emptyRoots[Depth]} }

// AnchorFromElement wraps a root.
func AnchorFromElement(e fr.Element) Anchor { return Anchor{e: e} }

// AnchorFromBytes decodes a canonical anchor.
func AnchorFromBytes(b []byte) (Anchor, error) {
	e, err := primitives.BaseFromBytes(b)
	if err != nil {
		return Anchor{}, fmt.Errorf("anchor: %w", err)
	}
	return Anchor{e: e}, nil
}

func (a Anchor) Element() fr.Element { return a.e }
func (a Anchor) Bytes() [32]byte     { return a.e.Bytes() }

func (a Anchor) String() string {
	b := a.Bytes()
	return fmt.Sprintf("%x", b[:])
}

// MerklePath authenticates a leaf position against a root.
type MerklePath struct {
	position uint32
	authPath [Depth]fr.Element
}

// NewMerklePath assembles a path from its parts.
func NewMerklePath(position uint32, authPath [Depth]fr.Element) MerklePath {
	return MerklePath{position: position, authPath: authPath}
}

// DummyPath returns a random path, used for zero-value dummy spends whose root is
// never checked.
func DummyPath(rng io.Reader) (MerklePath, error) {
	var p MerklePath
	var pos [4]byte
	if _, err := io.ReadFull(rng, pos[:]); err != nil {
		return MerklePath{}, fmt.Errorf("sample path: %w", err)
	}
	p.position = uint32(pos[0]) | uint32(pos[1])<<8 | uint32(pos[2])<<16 | uint32(pos[3])<<24
	for i := range p.authPath {
		var wide [64]byte
		if _, err := io.ReadFull(rng, wide[:]); err != nil {
			return MerklePath{}, fmt.Errorf("sample path: %w", err)
		}
		p.authPath[i] = primitives.ToBase(wide)
	}
	return p, nil
}

func (p MerklePath) Position() uint32             { return p.position }
func (p MerklePath) AuthPath() [Depth]fr.Element { return p.authPath }

// Root recomputes the root reached from cmx at this path's position.
func (p MerklePath) Root(cmx note.ExtractedCommitment) Anchor {
	node := cmx.Element()
	for i := 0; i < Depth; i++ {
		if (p.position>>uint(i))&1 == 0 {
			node = Combine(node, p.authPath[i])
		} else {
			node = Combine(p.authPath[i], node)
		}
	}
	return Anchor{e: node}
}

// CommitmentTree is an append-only in-memory note commitment tree.
type CommitmentTree struct {
	leaves []fr.Element
}

// NewCommitmentTree returns an empty tree.
func NewCommitmentTree() *CommitmentTree {
	return &CommitmentTree{}
}

// Append adds cmx and returns its position.
func (t *CommitmentTree) Append(cmx note.ExtractedCommitment) (uint32, error) {
	if uint64(len(t.leaves)) >= 1<<Depth {
		return 0, ErrTreeFull
	}
	t.leaves = append(t.leaves, cmx.Element())
	return uint32(len(t.leaves) - 1), nil
}

// Clone returns an independent copy of t.
func (t *CommitmentTree) Clone() *CommitmentTree {
	return &CommitmentTree{leaves: append([]fr.Element(nil), t.leaves...)}
}

// Size returns the number of leaves.
func (t *CommitmentTree) Size() int { return len(t.leaves) }

// Root returns the current anchor.
func (t *CommitmentTree) Root() Anchor {
	level := t.leaves
	for d := 0; d < Depth; d++ {
		level = nextLevel(level, d)
	}
	if len(level) == 0 {
		return EmptyAnchor()
	}
	return Anchor{e: level[0]}
}

// Witness returns the authentication path of the leaf at pos.
func (t *CommitmentTree) Witness(pos uint32) (MerklePath, error) {
	if uint64(pos) >= uint64(len(t.leaves)) {
		return MerklePath{}, fmt.Errorf("%w: %d", ErrUnknownPosition, pos)
	}
	path := MerklePath{position: pos}
	level := t.leaves
	idx := uint64(pos)
	for d := 0; d < Depth; d++ {
		sib := idx ^ 1
		if sib < uint64(len(level)) {
			path.authPath[d] = level[sib]
		} else {
			path.authPath[d] = emptyRoots[d]
		}
		level = nextLevel(level, d)
		idx >>= 1
	}
	return path, nil
}

func nextLevel(level []fr.Element, depth int) []fr.Element {
	next := make([]fr.Element, 0, (len(level)+1)/2)
	for i := 0; i < len(level); i += 2 {
		right := emptyRoots[depth]
		if i+1 < len(level) {
			right = level[i+1]
		}
		next = append(next, Combine(level[i], right))
	}
	return next
}
