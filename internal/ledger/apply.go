package ledger

import (
	"fmt"

	"github.com/rs/zerolog/log"
	bolt "go.etcd.io/bbolt"

	"zsapool/internal/asset"
	"zsapool/internal/bundle"
	"zsapool/internal/circuit"
	"zsapool/internal/issuance"
	"zsapool/internal/note"
	"zsapool/internal/tree"
)

// ApplyBundle verifies an authorized bundle and appends its effects: nullifiers are
// recorded, output commitments appended and burned amounts debited from supply.
// A nil vk skips proof verification.
func (l *Ledger) ApplyBundle(b *bundle.AuthorizedBundle, sighash [32]byte, vk *circuit.VerifyingKey) error {
	if err := bundle.VerifySignatures(b, sighash); err != nil {
		return fmt.Errorf("ledger: bundle rejected: %w", err)
	}
	if vk != nil {
		if err := bundle.VerifyProof(b, vk); err != nil {
			return fmt.Errorf("ledger: bundle rejected: %w", err)
		}
	}

	l.mu.Lock()
	defer l.mu.Unlock()
	var next *tree.CommitmentTree
	err := l.db.Update(func(tx *bolt.Tx) error {
		anchor := b.Anchor().Bytes()
		if tx.Bucket(bucketAnchors).Get(anchor[:]) == nil {
			return fmt.Errorf("%w: %s", ErrUnknownAnchor, b.Anchor())
		}

		nullifiers := tx.Bucket(bucketNullifiers)
		seen := make(map[[32]byte]bool, len(b.Actions()))
		for _, nf := range b.Nullifiers() {
			key := nf.Bytes()
			if seen[key] || nullifiers.Get(key[:]) != nil {
				return fmt.Errorf("%w: %s", ErrDoubleSpend, nf)
			}
			seen[key] = true
			if err := nullifiers.Put(key[:], []byte{1}); err != nil {
				return err
			}
		}

		for _, item := range b.Burn() {
			if err := debit(tx, item); err != nil {
				return err
			}
		}

		cmxs := make([]note.ExtractedCommitment, len(b.Actions()))
		for i, a := range b.Actions() {
			cmxs[i] = a.Cmx()
		}
		var err error
		next, err = l.appendCommitments(tx, cmxs)
		return err
	})
	if err != nil {
		return err
	}
	l.tree = next
	log.Debug().Int("actions", len(b.Actions())).Int("burns", len(b.Burn())).Int("commitments", next.Size()).Msg("bundle applied")
	return nil
}

func debit(tx *bolt.Tx, item bundle.BurnItem) error {
	a := item.Asset
	rec, found, err := getAsset(tx, a)
	if err != nil {
		return err
	}
	if !found {
		return fmt.Errorf("%w: %s", ErrUnknownAsset, a)
	}
	if rec.Amount < item.Amount {
		return fmt.Errorf("%w: burning %d of %d units of %s", ErrInsufficientSupply, item.Amount, rec.Amount, a)
	}
	rec.Amount -= item.Amount
	return putAsset(tx, a, rec)
}

// ApplyIssueBundle verifies a signed issue bundle against the stored asset state,
// merges the resulting records and appends the issued notes to the tree. It returns
// the new records of the assets the bundle touched.
func (l *Ledger) ApplyIssueBundle(b *issuance.IssueBundle[issuance.Signed], sighash [32]byte) (map[asset.Base]issuance.AssetRecord, error) {
	l.mu.Lock()
	defer l.mu.Unlock()
	var (
		records map[asset.Base]issuance.AssetRecord
		next    *tree.CommitmentTree
	)
	err := l.db.Update(func(tx *bolt.Tx) error {
		var lookupErr error
		lookup := func(a asset.Base) (issuance.AssetRecord, bool) {
			rec, found, err := getAsset(tx, a)
			if err != nil && lookupErr == nil {
				lookupErr = err
			}
			return rec, found
		}
		var err error
		records, err = issuance.VerifyIssueBundle(b, sighash, lookup)
		if lookupErr != nil {
			return lookupErr
		}
		if err != nil {
			return err
		}
		for a, rec := range records {
			if err := putAsset(tx, a, rec); err != nil {
				return err
			}
		}

		notes := b.Notes()
		cmxs := make([]note.ExtractedCommitment, len(notes))
		for i, n := range notes {
			cmxs[i] = n.Commitment().Extract()
		}
		next, err = l.appendCommitments(tx, cmxs)
		return err
	})
	if err != nil {
		return nil, err
	}
	l.tree = next
	log.Debug().Int("assets", len(records)).Int("commitments", next.Size()).Msg("issue bundle applied")
	return records, nil
}
