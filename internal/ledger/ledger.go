// ledger.go - Persistent, append-only global ledger of the shielded pool.
//
// The Ledger records every revealed nullifier, every note commitment in tree order,
// every anchor the tree has had, and the supply state of every custom asset. It is
// stored in a single bbolt file. Apply operations are serialized; reads may run
// concurrently.

package ledger

import (
	"encoding/binary"
	"encoding/json"
	"errors"
	"fmt"
	"sync"
	"time"

	"github.com/rs/zerolog/log"
	bolt "go.etcd.io/bbolt"

	"zsapool/internal/asset"
	"zsapool/internal/issuance"
	"zsapool/internal/note"
	"zsapool/internal/tree"
)

var (
	bucketNullifiers      = []byte("nullifiers")
	bucketCommitments     = []byte("commitments")
	bucketCommitmentIndex = []byte("commitment_index")
	bucketAnchors         = []byte("anchors")
	bucketAssets          = []byte("assets")
)

var (
	// ErrDoubleSpend is returned when a bundle reveals a nullifier already in the
	// ledger or reveals the same nullifier twice.
	ErrDoubleSpend = errors.New("ledger: double-spend detected: nullifier already in ledger")
	// ErrUnknownAnchor is returned for bundles built against a root the tree never had.
	ErrUnknownAnchor = errors.New("ledger: unknown anchor")
	// ErrUnknownAsset is returned when a bundle burns an asset that was never issued.
	ErrUnknownAsset = errors.New("ledger: burn of unknown asset")
	// ErrInsufficientSupply is returned when a burn exceeds the issued supply.
	ErrInsufficientSupply = errors.New("ledger: burn exceeds asset supply")
	// ErrCorrupt is returned when stored data cannot be decoded.
	ErrCorrupt = errors.New("ledger: corrupt entry")
)

// Ledger is the canonical public state. All participants read from and append to it.
type Ledger struct {
	db   *bolt.DB
	mu   sync.RWMutex
	tree *tree.CommitmentTree
}

// Open opens or creates the ledger at path and rebuilds the commitment tree.
func Open(path string) (*Ledger, error) {
	if path == "" {
		return nil, fmt.Errorf("ledger: path required")
	}
	db, err := bolt.Open(path, 0o600, &bolt.Options{Timeout: time.Second})
	if err != nil {
		return nil, fmt.Errorf("open bbolt: %w", err)
	}
	l := &Ledger{db: db, tree: tree.NewCommitmentTree()}

	err = db.Update(func(tx *bolt.Tx) error {
		for _, b := range [][]byte{bucketNullifiers, bucketCommitments, bucketCommitmentIndex, bucketAnchors, bucketAssets} {
			if _, err := tx.CreateBucketIfNotExists(b); err != nil {
				return fmt.Errorf("create bucket %s: %w", b, err)
			}
		}
		empty := tree.EmptyAnchor().Bytes()
		return tx.Bucket(bucketAnchors).Put(empty[:], []byte{1})
	})
	if err == nil {
		err = l.loadTree()
	}
	if err != nil {
		_ = db.Close()
		return nil, err
	}
	log.Debug().Str("path", path).Int("commitments", l.tree.Size()).Msg("ledger opened")
	return l, nil
}

func (l *Ledger) loadTree() error {
	return l.db.View(func(tx *bolt.Tx) error {
		return tx.Bucket(bucketCommitments).ForEach(func(_, v []byte) error {
			cmx, err := note.ExtractedCommitmentFromBytes(v)
			if err != nil {
				return fmt.Errorf("%w: commitment: %v", ErrCorrupt, err)
			}
			_, err = l.tree.Append(cmx)
			return err
		})
	})
}

// Close closes the database.
func (l *Ledger) Close() error {
	if l == nil || l.db == nil {
		return nil
	}
	return l.db.Close()
}

// HasNullifier reports whether nf was revealed by an applied bundle.
func (l *Ledger) HasNullifier(nf note.Nullifier) (bool, error) {
	key := nf.Bytes()
	return l.has(bucketNullifiers, key[:])
}

// HasCommitment reports whether cmx is in the commitment tree.
func (l *Ledger) HasCommitment(cmx note.ExtractedCommitment) (bool, error) {
	key := cmx.Bytes()
	return l.has(bucketCommitmentIndex, key[:])
}

// IsKnownAnchor reports whether a is a current or past root of the tree.
func (l *Ledger) IsKnownAnchor(a tree.Anchor) (bool, error) {
	key := a.Bytes()
	return l.has(bucketAnchors, key[:])
}

func (l *Ledger) has(bucket, key []byte) (bool, error) {
	var found bool
	err := l.db.View(func(tx *bolt.Tx) error {
		found = tx.Bucket(bucket).Get(key) != nil
		return nil
	})
	return found, err
}

// Anchor returns the current root of the commitment tree.
func (l *Ledger) Anchor() tree.Anchor {
	l.mu.RLock()
	defer l.mu.RUnlock()
	return l.tree.Root()
}

// Position returns the tree position of cmx.
func (l *Ledger) Position(cmx note.ExtractedCommitment) (uint32, bool, error) {
	key := cmx.Bytes()
	var (
		pos   uint32
		found bool
	)
	err := l.db.View(func(tx *bolt.Tx) error {
		v := tx.Bucket(bucketCommitmentIndex).Get(key[:])
		if v == nil {
			return nil
		}
		if len(v) != 4 {
			return fmt.Errorf("%w: position of %s", ErrCorrupt, cmx)
		}
		pos, found = binary.BigEndian.Uint32(v), true
		return nil
	})
	return pos, found, err
}

// Witness returns the authentication path of the leaf at pos against the current
// anchor.
func (l *Ledger) Witness(pos uint32) (tree.MerklePath, error) {
	l.mu.RLock()
	defer l.mu.RUnlock()
	return l.tree.Witness(pos)
}

// Commitments lists every note commitment in tree order.
func (l *Ledger) Commitments() ([]note.ExtractedCommitment, error) {
	var out []note.ExtractedCommitment
	err := l.db.View(func(tx *bolt.Tx) error {
		return tx.Bucket(bucketCommitments).ForEach(func(_, v []byte) error {
			cmx, err := note.ExtractedCommitmentFromBytes(v)
			if err != nil {
				return fmt.Errorf("%w: commitment: %v", ErrCorrupt, err)
			}
			out = append(out, cmx)
			return nil
		})
	})
	return out, err
}

// AssetRecord returns the supply state of a custom asset.
func (l *Ledger) AssetRecord(a asset.Base) (issuance.AssetRecord, bool, error) {
	var (
		rec   issuance.AssetRecord
		found bool
	)
	err := l.db.View(func(tx *bolt.Tx) error {
		var err error
		rec, found, err = getAsset(tx, a)
		return err
	})
	return rec, found, err
}

// Assets returns the supply state of every issued asset.
func (l *Ledger) Assets() (map[asset.Base]issuance.AssetRecord, error) {
	out := make(map[asset.Base]issuance.AssetRecord)
	err := l.db.View(func(tx *bolt.Tx) error {
		return tx.Bucket(bucketAssets).ForEach(func(k, v []byte) error {
			a, err := asset.FromBytes(k)
			if err != nil {
				return fmt.Errorf("%w: asset key: %v", ErrCorrupt, err)
			}
			var rec issuance.AssetRecord
			if err := json.Unmarshal(v, &rec); err != nil {
				return fmt.Errorf("%w: asset %s: %v", ErrCorrupt, a, err)
			}
			out[a] = rec
			return nil
		})
	})
	return out, err
}

func getAsset(tx *bolt.Tx, a asset.Base) (issuance.AssetRecord, bool, error) {
	key := a.Bytes()
	v := tx.Bucket(bucketAssets).Get(key[:])
	if v == nil {
		return issuance.AssetRecord{}, false, nil
	}
	var rec issuance.AssetRecord
	if err := json.Unmarshal(v, &rec); err != nil {
		return issuance.AssetRecord{}, false, fmt.Errorf("%w: asset %s: %v", ErrCorrupt, a, err)
	}
	return rec, true, nil
}

func putAsset(tx *bolt.Tx, a asset.Base, rec issuance.AssetRecord) error {
	raw, err := json.Marshal(rec)
	if err != nil {
		return err
	}
	key := a.Bytes()
	return tx.Bucket(bucketAssets).Put(key[:], raw)
}

// appendCommitments writes cmxs after the current leaves and records the new root.
// The in-memory tree is updated by the caller once the transaction commits.
func (l *Ledger) appendCommitments(tx *bolt.Tx, cmxs []note.ExtractedCommitment) (*tree.CommitmentTree, error) {
	next := l.tree.Clone()
	entries, index := tx.Bucket(bucketCommitments), tx.Bucket(bucketCommitmentIndex)
	for _, cmx := range cmxs {
		pos, err := next.Append(cmx)
		if err != nil {
			return nil, err
		}
		var key [4]byte
		binary.BigEndian.PutUint32(key[:], pos)
		leaf := cmx.Bytes()
		if err := entries.Put(key[:], leaf[:]); err != nil {
			return nil, err
		}
		if err := index.Put(leaf[:], key[:]); err != nil {
			return nil, err
		}
	}
	root := next.Root().Bytes()
	if err := tx.Bucket(bucketAnchors).Put(root[:], []byte{1}); err != nil {
		return nil, err
	}
	return next, nil
}
