package issuance

import (
	"encoding/json"
	"fmt"

	"github.com/rs/zerolog/log"

	"zsapool/internal/asset"
	"zsapool/internal/note"
	"zsapool/internal/value"
)

// AssetRecord is the global state of one custom asset.
type AssetRecord struct {
	Amount      value.NoteValue
	IsFinalized bool
	// ReferenceNote is the reference note of the first issuance. It is nil only in
	// the partial record returned for a single action.
	ReferenceNote *note.Note
}

type assetRecordJSON struct {
	Amount        uint64 `json:"amount"`
	IsFinalized   bool   `json:"is_finalized"`
	ReferenceNote []byte `json:"reference_note,omitempty"`
}

func (r AssetRecord) MarshalJSON() ([]byte, error) {
	out := assetRecordJSON{Amount: uint64(r.Amount), IsFinalized: r.IsFinalized}
	if r.ReferenceNote != nil {
		b, err := r.ReferenceNote.MarshalBinary()
		if err != nil {
			return nil, err
		}
		out.ReferenceNote = b
	}
	return json.Marshal(out)
}

func (r *AssetRecord) UnmarshalJSON(data []byte) error {
	var in assetRecordJSON
	if err := json.Unmarshal(data, &in); err != nil {
		return err
	}
	*r = AssetRecord{Amount: value.NoteValue(in.Amount), IsFinalized: in.IsFinalized}
	if in.ReferenceNote != nil {
		var n note.Note
		if err := n.UnmarshalBinary(in.ReferenceNote); err != nil {
			return fmt.Errorf("reference note: %w", err)
		}
		r.ReferenceNote = &n
	}
	return nil
}

// AssetLookup returns the recorded state of an asset, if any.
type AssetLookup func(asset.Base) (AssetRecord, bool)

// NoAssets is the lookup of an empty global state.
func NoAssets(asset.Base) (AssetRecord, bool) { return AssetRecord{}, false }

// VerifyIssueBundle checks the issuer signature and the supply rules of every action
// against the state returned by lookup. It returns the new state of every asset the
// bundle touches; the caller merges it into the global state.
func VerifyIssueBundle(b *IssueBundle[Signed], sighash [32]byte, lookup AssetLookup) (map[asset.Base]AssetRecord, error) {
	if lookup == nil {
		lookup = NoAssets
	}
	if err := b.ik.Verify(sighash, b.auth.sig); err != nil {
		return nil, fmt.Errorf("%w: %v", ErrIssueBundleInvalidSignature, err)
	}

	verified := make(map[asset.Base]AssetRecord, len(b.actions))
	for i, action := range b.actions {
		if !asset.IsDescValidSize(action.assetDesc) {
			return nil, ErrWrongAssetDescSize
		}
		issued, add, err := action.verifySupply(b.ik)
		if err != nil {
			return nil, fmt.Errorf("action %d: %w", i, err)
		}

		old, found := verified[issued]
		if !found {
			old, found = lookup(issued)
		}
		next, err := mergeSupply(issued, old, found, add)
		if err != nil {
			return nil, fmt.Errorf("action %d: %w", i, err)
		}
		verified[issued] = next
	}
	log.Debug().Int("actions", len(b.actions)).Int("assets", len(verified)).Msg("issue bundle verified")
	return verified, nil
}

// mergeSupply applies the supply an action adds to the previous state of its asset.
func mergeSupply(a asset.Base, old AssetRecord, found bool, add AssetRecord) (AssetRecord, error) {
	if !found {
		if add.ReferenceNote == nil {
			return AssetRecord{}, ErrMissingReferenceNoteOnFirstIssuance
		}
		return add, nil
	}
	if old.IsFinalized {
		return AssetRecord{}, &PreviouslyFinalizedError{Asset: a}
	}
	amount, ok := old.Amount.Add(add.Amount)
	if !ok {
		return AssetRecord{}, ErrValueOverflow
	}
	ref := old.ReferenceNote
	if ref == nil {
		ref = add.ReferenceNote
	}
	if ref == nil {
		return AssetRecord{}, ErrMissingReferenceNoteOnFirstIssuance
	}
	return AssetRecord{Amount: amount, IsFinalized: add.IsFinalized, ReferenceNote: ref}, nil
}
